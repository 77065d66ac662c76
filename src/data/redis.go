package data

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// LifecycleStream is the Redis stream lifecycle events are appended to.
const LifecycleStream = "govtally.lifecycle"

const defaultStreamMaxLen = 10000

// Lifecycle event types.
const (
	EventProposalDiscovered = "proposal.discovered"
	EventThreadRetired      = "thread.retired"
	EventVoteDecided        = "vote.decided"
)

// Event is one lifecycle notification.
type Event struct {
	Type       string
	ProposalID uint32
	ThreadID   string
	At         time.Time
	Fields     map[string]string
}

// NewRedis opens a client for a redis:// URL.
func NewRedis(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	return redis.NewClient(opt), nil
}

// RedisPublisher appends events to a capped stream.
type RedisPublisher struct {
	rdb    *redis.Client
	stream string
	maxLen int64
}

// NewRedisPublisher publishes to stream, or LifecycleStream when empty.
func NewRedisPublisher(rdb *redis.Client, stream string) *RedisPublisher {
	if stream == "" {
		stream = LifecycleStream
	}
	return &RedisPublisher{rdb: rdb, stream: stream, maxLen: defaultStreamMaxLen}
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	values := map[string]interface{}{
		"type": e.Type,
		"at":   e.At.UTC().Format(time.RFC3339),
	}
	if e.ProposalID != 0 || e.Type == EventProposalDiscovered {
		values["proposal_id"] = strconv.FormatUint(uint64(e.ProposalID), 10)
	}
	if e.ThreadID != "" {
		values["thread_id"] = e.ThreadID
	}
	for k, v := range e.Fields {
		if _, reserved := values[k]; !reserved {
			values[k] = v
		}
	}

	_, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: values,
	}).Result()
	if err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	return nil
}

// Ping checks the server is reachable.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
