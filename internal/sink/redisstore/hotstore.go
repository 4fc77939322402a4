// Package redisstore is the Redis hot store adapter: the event body lives in
// a hash keyed by id, and a per-service sorted set scored by timestamp gives
// the window range reads.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/loglens/loglens/internal/model"
	"github.com/loglens/loglens/internal/sink"
)

const (
	eventKeyPrefix = "loglens:event:"
	indexKeyPrefix = "loglens:svc:"
	servicesKey    = "loglens:services"
)

func Connect(_ context.Context, redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

type HotStore struct {
	client *redis.Client
}

func NewHotStore(client *redis.Client) *HotStore {
	return &HotStore{client: client}
}

// Upsert writes the event body and its index entries in one pipeline round
// trip. SET on the same id with the same immutable body and ZADD on the same
// member are both idempotent, so redelivery changes nothing.
func (s *HotStore) Upsert(ctx context.Context, ev model.LogEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	// The score is an approximate index (float64 rounds nanoseconds);
	// QueryWindow compensates by widening the range and re-filtering.
	score := float64(ev.Timestamp.UTC().UnixNano())

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, eventKeyPrefix+ev.ID, body, 0)
	pipe.ZAdd(ctx, indexKeyPrefix+ev.Service, redis.Z{Score: score, Member: ev.ID})
	pipe.SAdd(ctx, servicesKey, ev.Service)
	if _, err := pipe.Exec(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// QueryWindow reads ids from the service indexes with score in [start, end)
// and resolves the bodies with one MGET per service.
func (s *HotStore) QueryWindow(ctx context.Context, service string, start, end time.Time) ([]model.LogEvent, error) {
	services := []string{service}
	if service == "" {
		var err error
		services, err = s.client.SMembers(ctx, servicesKey).Result()
		if err != nil {
			return nil, classify(err)
		}
	}

	// ZSET scores are float64s, and nanosecond timestamps exceed their
	// 53-bit mantissa: near the current epoch scores round to ~256ns steps,
	// which can push a boundary event's score to the wrong side of the
	// window. Widen the score range to absorb the rounding and enforce the
	// exact half-open bounds on the decoded timestamps instead.
	minScore, maxScore := windowScores(start, end)

	var out []model.LogEvent
	for _, svc := range services {
		ids, err := s.client.ZRangeByScore(ctx, indexKeyPrefix+svc, &redis.ZRangeBy{
			Min: minScore,
			Max: maxScore,
		}).Result()
		if err != nil {
			return nil, classify(err)
		}
		if len(ids) == 0 {
			continue
		}
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = eventKeyPrefix + id
		}
		bodies, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, classify(err)
		}
		for _, raw := range bodies {
			str, ok := raw.(string)
			if !ok {
				continue
			}
			var ev model.LogEvent
			if err := json.Unmarshal([]byte(str), &ev); err != nil {
				return nil, fmt.Errorf("decode event body: %w", err)
			}
			if !inWindow(ev, start, end) {
				continue
			}
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// windowScores pads [start, end) by a millisecond on each side, far more
// than the float64 rounding error of a nanosecond score.
func windowScores(start, end time.Time) (string, string) {
	minNs := start.UTC().Add(-time.Millisecond).UnixNano()
	maxNs := end.UTC().Add(time.Millisecond).UnixNano()
	return fmt.Sprintf("%d", minNs), fmt.Sprintf("%d", maxNs)
}

// inWindow is the exact half-open membership test, [start, end).
func inWindow(ev model.LogEvent, start, end time.Time) bool {
	return !ev.Timestamp.Before(start) && ev.Timestamp.Before(end)
}

func classify(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", sink.ErrSinkTimeout, err)
	default:
		return fmt.Errorf("%w: %v", sink.ErrSinkUnavailable, err)
	}
}
