// Package pipeline implements the dual-sink delivery core: every accepted
// event ends up in both the hot and cold store, or in the dead-letter log,
// without one sink's trouble blocking the other or unrelated services.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/sink"
)

var (
	// ErrQueueFull is the backpressure signal: the in-flight set stayed
	// saturated past the bounded enqueue wait. Callers slow down or shed.
	ErrQueueFull = errors.New("ingestion queue full")
	// ErrClosed is returned by Submit once Drain has begun.
	ErrClosed = errors.New("pipeline closed")

	errDrainForced = errors.New("drain grace period expired")
)

// Options tunes the pipeline. Zero values fall back to defaults the same way
// the rest of the codebase treats worker options.
type Options struct {
	QueueCapacity  int
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	AttemptTimeout time.Duration
	SubmitWait     time.Duration
	BatchSize      int
	BatchInterval  time.Duration
	Logger         *slog.Logger
}

func (o *Options) normalize() {
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = 1024
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 100 * time.Millisecond
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = 10 * time.Second
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 2 * time.Second
	}
	if o.SubmitWait <= 0 {
		o.SubmitWait = 25 * time.Millisecond
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 64
	}
	if o.BatchInterval <= 0 {
		o.BatchInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

type laneItem struct {
	ev model.LogEvent
	t  *tracked
}

// lane is the ordered delivery path for one service. The FIFO preserves
// submission order and is unbounded on purpose: admission is bounded
// globally at Submit, and a push must never block, so a lane parked in
// retry backoff cannot stall submission or delivery for any other service.
type lane struct {
	service string
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []laneItem
	closed  bool
}

func newLane(service string) *lane {
	l := &lane{service: service}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *lane) push(item laneItem) {
	l.mu.Lock()
	l.queue = append(l.queue, item)
	l.mu.Unlock()
	l.cond.Signal()
}

// next blocks until an item is available, or returns false once the lane is
// closed and drained.
func (l *lane) next() (laneItem, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for len(l.queue) == 0 && !l.closed {
		l.cond.Wait()
	}
	if len(l.queue) == 0 {
		return laneItem{}, false
	}
	item := l.queue[0]
	l.queue = l.queue[1:]
	return item, true
}

func (l *lane) close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.cond.Signal()
}

type counters struct {
	accepted      int64
	invalid       int64
	queueFull     int64
	hotCommitted  int64
	hotFailed     int64
	coldCommitted int64
	coldFailed    int64
}

// Stats is a point-in-time snapshot of pipeline counters for the admin
// surface.
type Stats struct {
	Accepted      int64   `json:"accepted"`
	Invalid       int64   `json:"invalid"`
	QueueFull     int64   `json:"queue_full"`
	HotCommitted  int64   `json:"hot_committed"`
	HotFailed     int64   `json:"hot_failed"`
	ColdCommitted int64   `json:"cold_committed"`
	ColdFailed    int64   `json:"cold_failed"`
	DeadLettered  int64   `json:"dead_lettered"`
	InFlight      int64   `json:"in_flight"`
	IngestRate    float64 `json:"ingest_rate"`
}

type Pipeline struct {
	opts   Options
	hot    sink.HotStore
	cold   sink.ColdStore
	dlq    *DeadLetterLog
	logger *slog.Logger

	lanesMu sync.Mutex
	lanes   map[string]*lane
	laneWG  sync.WaitGroup
	batcher *batcher

	closedMu sync.RWMutex
	closed   atomic.Bool
	forced   chan struct{}
	drained  chan struct{}
	stats    counters
	inFlight int64

	rateCounter int64
	rateMu      sync.RWMutex
	currentRate float64
	stopRate    chan struct{}
}

func New(hot sink.HotStore, cold sink.ColdStore, dlq *DeadLetterLog, opts Options) *Pipeline {
	opts.normalize()
	p := &Pipeline{
		opts:     opts,
		hot:      hot,
		cold:     cold,
		dlq:      dlq,
		logger:   opts.Logger,
		lanes:    make(map[string]*lane),
		forced:   make(chan struct{}),
		drained:  make(chan struct{}),
		stopRate: make(chan struct{}),
	}
	p.batcher = newBatcher(p)
	return p
}

// Start launches the cold batcher and the rate ticker. Lanes spin up on
// demand as services appear.
func (p *Pipeline) Start() {
	go p.batcher.run()
	go p.rateLoop(time.Second)
}

// Submit validates one event and hands it to its service lane. It blocks at
// most the configured enqueue wait for in-flight capacity; a saturated
// pipeline turns into ErrQueueFull, never into waiting on store I/O.
func (p *Pipeline) Submit(ev model.LogEvent) error {
	if err := ev.Validate(); err != nil {
		atomic.AddInt64(&p.stats.invalid, 1)
		return err
	}

	// The read lock keeps Drain from closing the lanes mid-submit.
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.reserve() {
		atomic.AddInt64(&p.stats.queueFull, 1)
		return ErrQueueFull
	}

	p.laneFor(ev.Service).push(laneItem{ev: ev, t: p.newTracked(ev.ID)})
	atomic.AddInt64(&p.stats.accepted, 1)
	atomic.AddInt64(&p.rateCounter, 1)
	return nil
}

// reserve claims one slot in the bounded in-flight set, waiting at most the
// enqueue wait for a finished delivery to release one. This bound is what
// makes every downstream hand-off (lane push, batcher send) non-blocking.
func (p *Pipeline) reserve() bool {
	deadline := time.Now().Add(p.opts.SubmitWait)
	for {
		cur := atomic.LoadInt64(&p.inFlight)
		if cur < int64(p.opts.QueueCapacity) {
			if atomic.CompareAndSwapInt64(&p.inFlight, cur, cur+1) {
				return true
			}
			continue
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// laneFor returns the service's lane, creating it on demand. An unknown
// service is just a new lane; there is no fixed registry to violate.
func (p *Pipeline) laneFor(service string) *lane {
	p.lanesMu.Lock()
	defer p.lanesMu.Unlock()
	if l, ok := p.lanes[service]; ok {
		return l
	}
	l := newLane(service)
	p.lanes[service] = l
	p.laneWG.Add(1)
	go p.runLane(l)
	return l
}

func (p *Pipeline) runLane(l *lane) {
	defer p.laneWG.Done()
	for {
		item, ok := l.next()
		if !ok {
			return
		}
		// Cold goes to the batcher first so archival never waits behind
		// hot-store retries for the same event. The send cannot block: the
		// batcher channel holds QueueCapacity items and at most that many
		// events are in flight at all.
		p.batcher.in <- coldItem{ev: item.ev, t: item.t}
		p.deliverHot(l, item)
	}
}

// deliverHot drives the hot half of the delivery state machine for one
// event: bounded attempts, backoff with jitter between them, dead-letter on
// exhaustion. Sequential within the lane, so same-service commits observe
// submission order.
func (p *Pipeline) deliverHot(l *lane, item laneItem) {
	var lastErr error
	attempts := 0
	forced := false
	for attempt := 1; attempt <= p.opts.MaxRetries; attempt++ {
		attempts = attempt
		ctx, cancel := context.WithTimeout(context.Background(), p.opts.AttemptTimeout)
		err := p.hot.Upsert(ctx, item.ev)
		cancel()
		if err == nil {
			item.t.hotDone(model.StatusCommitted, attempt)
			atomic.AddInt64(&p.stats.hotCommitted, 1)
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: upsert %s", sink.ErrSinkTimeout, item.ev.ID)
		}
		lastErr = err
		if !sink.Retryable(err) {
			// Not a sink outage: nothing a retry would fix. Dead-letter,
			// never halt the lane.
			break
		}
		item.t.hotRetrying(attempt)
		p.logger.Warn("hot upsert failed, retry scheduled",
			"operation", "hot_upsert",
			"service", l.service,
			"event_id", item.ev.ID,
			"attempt", attempt,
			"error", err)
		if attempt == p.opts.MaxRetries {
			break
		}
		select {
		case <-time.After(backoffDelay(attempt, p.opts.BackoffBase, p.opts.BackoffCap)):
		case <-p.forced:
			forced = true
		}
		if forced {
			break
		}
	}
	if forced {
		lastErr = fmt.Errorf("%w (last: %v)", errDrainForced, lastErr)
	}

	p.logger.Error("hot delivery exhausted, dead-lettering",
		"operation", "hot_upsert",
		"service", l.service,
		"event_id", item.ev.ID,
		"attempts", attempts,
		"error", lastErr)
	_ = p.dlq.Append(item.ev.ID, model.SinkHot, lastErr, attempts)
	item.t.hotDone(model.StatusFailed, attempts)
	atomic.AddInt64(&p.stats.hotFailed, 1)
}

// Drain stops intake, flushes every pending delivery and returns how many
// events were moved to dead-letter while draining. When ctx expires first,
// remaining retries are abandoned and their events dead-lettered.
func (p *Pipeline) Drain(ctx context.Context) (int64, error) {
	p.closedMu.Lock()
	if !p.closed.CompareAndSwap(false, true) {
		p.closedMu.Unlock()
		return 0, ErrClosed
	}
	p.closedMu.Unlock()

	before := p.dlq.Count()
	close(p.stopRate)
	go p.shutdown()

	select {
	case <-p.drained:
	case <-ctx.Done():
		close(p.forced)
		<-p.drained
	}
	return p.dlq.Count() - before, nil
}

// shutdown closes the lanes, waits for them to finish feeding the batcher,
// then lets the batcher flush its backlog and stop.
func (p *Pipeline) shutdown() {
	p.lanesMu.Lock()
	for _, l := range p.lanes {
		l.close()
	}
	p.lanesMu.Unlock()
	p.laneWG.Wait()
	close(p.batcher.in)
	<-p.batcher.done
	close(p.drained)
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	p.rateMu.RLock()
	rate := p.currentRate
	p.rateMu.RUnlock()
	return Stats{
		Accepted:      atomic.LoadInt64(&p.stats.accepted),
		Invalid:       atomic.LoadInt64(&p.stats.invalid),
		QueueFull:     atomic.LoadInt64(&p.stats.queueFull),
		HotCommitted:  atomic.LoadInt64(&p.stats.hotCommitted),
		HotFailed:     atomic.LoadInt64(&p.stats.hotFailed),
		ColdCommitted: atomic.LoadInt64(&p.stats.coldCommitted),
		ColdFailed:    atomic.LoadInt64(&p.stats.coldFailed),
		DeadLettered:  p.dlq.Count(),
		InFlight:      atomic.LoadInt64(&p.inFlight),
		IngestRate:    rate,
	}
}

// DeadLetters exposes the newest dead-letter entries for inspection.
func (p *Pipeline) DeadLetters(limit int) []model.DeadLetterEntry {
	return p.dlq.Recent(limit)
}

func (p *Pipeline) rateLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			count := atomic.SwapInt64(&p.rateCounter, 0)
			p.rateMu.Lock()
			p.currentRate = float64(count) / interval.Seconds()
			p.rateMu.Unlock()
		case <-p.stopRate:
			return
		}
	}
}
