// Package archive is the file-backed cold store: one compressed segment per
// batch, named after the batch sequence so replays are detectable by name
// alone.
package archive

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/sink"
)

// Segment header magic. Bump the trailing digit on format changes.
var magicHeader = []byte("LOGLENS1")

const segmentExt = ".seg"

// Store writes each batch to seg_{seq}_{minTs}_{maxTs}.seg under dir.
// Single writer; appends are low-frequency so one mutex is enough.
type Store struct {
	dir     string
	mu      sync.Mutex
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Store{dir: dir, encoder: enc, decoder: dec}, nil
}

// Append writes the batch as one segment. A batch whose sequence is already
// on disk is a replay; it succeeds without writing anything.
func (s *Store) Append(_ context.Context, b sink.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(b.Events) == 0 {
		return nil
	}
	if existing, err := s.segmentForSeq(b.Seq); err != nil {
		return err
	} else if existing != "" {
		return nil
	}

	minTs := b.Events[0].Timestamp.UnixNano()
	maxTs := minTs
	for _, ev := range b.Events[1:] {
		ts := ev.Timestamp.UnixNano()
		if ts < minTs {
			minTs = ts
		}
		if ts > maxTs {
			maxTs = ts
		}
	}

	// Payload: [Len uint32][JSON bytes] per event, then zstd-compressed.
	raw := new(bytes.Buffer)
	for _, ev := range b.Events {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if err := binary.Write(raw, binary.LittleEndian, uint32(len(data))); err != nil {
			return err
		}
		raw.Write(data)
	}
	compressed := s.encoder.EncodeAll(raw.Bytes(), make([]byte, 0, raw.Len()))

	name := fmt.Sprintf("seg_%d_%d_%d%s", b.Seq, minTs, maxTs, segmentExt)
	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", sink.ErrSinkUnavailable, err)
	}
	if err := s.writeSegment(f, compressed, uint32(len(b.Events)), minTs, maxTs); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	// Rename last so a crash never leaves a half-written segment visible.
	return os.Rename(tmp, path)
}

func (s *Store) writeSegment(f *os.File, compressed []byte, rowCount uint32, minTs, maxTs int64) error {
	if _, err := f.Write(magicHeader); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, uint32(len(compressed))); err != nil {
		return err
	}
	if _, err := f.Write(compressed); err != nil {
		return err
	}
	// Footer: RowCount (4) + MinTs (8) + MaxTs (8)
	if err := binary.Write(f, binary.LittleEndian, rowCount); err != nil {
		return err
	}
	if err := binary.Write(f, binary.LittleEndian, minTs); err != nil {
		return err
	}
	return binary.Write(f, binary.LittleEndian, maxTs)
}

// LastSeq scans segment filenames for the highest sequence already stored.
func (s *Store) LastSeq(_ context.Context) (uint64, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", sink.ErrSinkUnavailable, err)
	}
	var last uint64
	for _, e := range entries {
		seq, ok := parseSeq(e.Name())
		if ok && seq > last {
			last = seq
		}
	}
	return last, nil
}

// ReadSegment decodes one segment back into events. The pipeline never calls
// this; it exists for offline inspection and the package tests.
func (s *Store) ReadSegment(seq uint64) ([]model.LogEvent, error) {
	s.mu.Lock()
	name, err := s.segmentForSeq(seq)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("segment %d not found", seq)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return nil, err
	}
	if len(data) < len(magicHeader)+4 || !bytes.Equal(data[:len(magicHeader)], magicHeader) {
		return nil, fmt.Errorf("segment %d: invalid header", seq)
	}
	body := data[len(magicHeader):]
	size := binary.LittleEndian.Uint32(body[:4])
	if len(body) < int(4+size) {
		return nil, fmt.Errorf("segment %d: truncated", seq)
	}
	raw, err := s.decoder.DecodeAll(body[4:4+size], nil)
	if err != nil {
		return nil, fmt.Errorf("segment %d: decompress: %w", seq, err)
	}

	var events []model.LogEvent
	for off := 0; off < len(raw); {
		if off+4 > len(raw) {
			return nil, fmt.Errorf("segment %d: truncated row length", seq)
		}
		n := int(binary.LittleEndian.Uint32(raw[off : off+4]))
		off += 4
		if off+n > len(raw) {
			return nil, fmt.Errorf("segment %d: truncated row", seq)
		}
		var ev model.LogEvent
		if err := json.Unmarshal(raw[off:off+n], &ev); err != nil {
			return nil, fmt.Errorf("segment %d: decode row: %w", seq, err)
		}
		events = append(events, ev)
		off += n
	}
	return events, nil
}

func (s *Store) segmentForSeq(seq uint64) (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", sink.ErrSinkUnavailable, err)
	}
	for _, e := range entries {
		if got, ok := parseSeq(e.Name()); ok && got == seq {
			return e.Name(), nil
		}
	}
	return "", nil
}

// parseSeq extracts the sequence from seg_{seq}_{minTs}_{maxTs}.seg.
func parseSeq(filename string) (uint64, bool) {
	if !strings.HasSuffix(filename, segmentExt) {
		return 0, false
	}
	base := strings.TrimSuffix(filename, segmentExt)
	parts := strings.Split(base, "_")
	if len(parts) != 4 || parts[0] != "seg" {
		return 0, false
	}
	seq, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}
