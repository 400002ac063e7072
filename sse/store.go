package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// StoredEvent is one buffered, numbered event.
type StoredEvent struct {
	Seq     int             `json:"seq"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Buffer retains every non-heartbeat event since a stream started,
// indexed by seq, until the stream terminates or idle-expires. It is the
// pluggable backend behind the in-memory default: a Redis-backed
// implementation lets the buffer survive a single request handler's
// process, matching §5's "pluggable backend behind an in-memory default"
// requirement.
type Buffer interface {
	// Append adds an event and returns its assigned seq.
	Append(ctx context.Context, streamID, eventType string, payload interface{}) (int, error)
	// Since returns every buffered event with seq > afterSeq, in order.
	// ok is false when streamID is unknown (never created, or torn down).
	Since(ctx context.Context, streamID string, afterSeq int) (events []StoredEvent, ok bool, err error)
	// MarkTerminal records that the stream ended, so future Since calls
	// can report the stream is no longer open for live-follow.
	MarkTerminal(ctx context.Context, streamID string) error
	// Terminal reports whether the stream reached a terminal event.
	Terminal(ctx context.Context, streamID string) (bool, error)
	// Touch refreshes the stream's idle-expiry deadline.
	Touch(ctx context.Context, streamID string) error
	// Close tears the stream's buffer down; subsequent calls behave as
	// if the stream never existed.
	Close(ctx context.Context, streamID string) error
}

// ErrUnknownStream is returned by operations against a stream id the
// buffer has no record of (never created, expired, or closed).
type ErrUnknownStream struct{ StreamID string }

func (e *ErrUnknownStream) Error() string {
	return fmt.Sprintf("sse: unknown stream %q", e.StreamID)
}

type memoryStreamRecord struct {
	events     []StoredEvent
	terminal   bool
	lastActive time.Time
}

// MemoryBuffer is the default in-memory Buffer, a single-writer struct
// guarded by a mutex with a background cleanup goroutine evicting idle
// streams, the same TTL-map-plus-ticker shape used by the nonce store.
type MemoryBuffer struct {
	mu      sync.Mutex
	streams map[string]*memoryStreamRecord
	idle    time.Duration
	stopC   chan struct{}
	once    sync.Once
}

// NewMemoryBuffer builds a MemoryBuffer evicting streams idle for idle.
// idle <= 0 selects IdleExpiry.
func NewMemoryBuffer(idle time.Duration) *MemoryBuffer {
	if idle <= 0 {
		idle = IdleExpiry
	}
	b := &MemoryBuffer{
		streams: make(map[string]*memoryStreamRecord),
		idle:    idle,
		stopC:   make(chan struct{}),
	}
	go b.cleanupRoutine()
	return b
}

func (b *MemoryBuffer) record(streamID string, create bool) *memoryStreamRecord {
	rec, ok := b.streams[streamID]
	if !ok {
		if !create {
			return nil
		}
		rec = &memoryStreamRecord{lastActive: time.Now()}
		b.streams[streamID] = rec
	}
	return rec
}

func (b *MemoryBuffer) Append(_ context.Context, streamID, eventType string, payload interface{}) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("sse: marshal event payload: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.record(streamID, true)
	seq := len(rec.events)
	rec.events = append(rec.events, StoredEvent{Seq: seq, Type: eventType, Payload: raw})
	rec.lastActive = time.Now()
	return seq, nil
}

func (b *MemoryBuffer) Since(_ context.Context, streamID string, afterSeq int) ([]StoredEvent, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.record(streamID, false)
	if rec == nil {
		return nil, false, nil
	}
	rec.lastActive = time.Now()

	var out []StoredEvent
	for _, ev := range rec.events {
		if ev.Seq > afterSeq {
			out = append(out, ev)
		}
	}
	return out, true, nil
}

func (b *MemoryBuffer) MarkTerminal(_ context.Context, streamID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.record(streamID, true)
	rec.terminal = true
	return nil
}

func (b *MemoryBuffer) Terminal(_ context.Context, streamID string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.record(streamID, false)
	if rec == nil {
		return false, &ErrUnknownStream{StreamID: streamID}
	}
	return rec.terminal, nil
}

func (b *MemoryBuffer) Touch(_ context.Context, streamID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec := b.record(streamID, false)
	if rec == nil {
		return &ErrUnknownStream{StreamID: streamID}
	}
	rec.lastActive = time.Now()
	return nil
}

func (b *MemoryBuffer) Close(_ context.Context, streamID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.streams, streamID)
	return nil
}

// Stop releases the cleanup goroutine.
func (b *MemoryBuffer) Stop() {
	b.once.Do(func() { close(b.stopC) })
}

func (b *MemoryBuffer) cleanupRoutine() {
	ticker := time.NewTicker(b.idle)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.evictIdle()
		case <-b.stopC:
			return
		}
	}
}

func (b *MemoryBuffer) evictIdle() {
	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, rec := range b.streams {
		if now.Sub(rec.lastActive) > b.idle {
			delete(b.streams, id)
		}
	}
}

// RedisBuffer is a Buffer backed by Redis, for deployments running more
// than one API process where an in-memory buffer would strand resumers
// on the wrong instance. Each stream's events are an ordered Redis list
// whose TTL is the idle expiry, refreshed on every Append/Since/Touch;
// terminal state is a separate key that MarkTerminal sets with the same
// TTL and nothing refreshes. Grounded on the teacher's
// RedisSessionManager's ParseURL/Ping/pipeline idiom.
type RedisBuffer struct {
	client *redis.Client
	idle   time.Duration
}

// NewRedisBuffer connects to redisURL and verifies reachability with a
// bounded Ping, mirroring RedisSessionManager.NewRedisSessionManager.
func NewRedisBuffer(redisURL string, idle time.Duration) (*RedisBuffer, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("sse: invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("sse: redis connect: %w", err)
	}

	if idle <= 0 {
		idle = IdleExpiry
	}
	return &RedisBuffer{client: client, idle: idle}, nil
}

func (b *RedisBuffer) eventsKey(streamID string) string   { return "sse:events:" + streamID }
func (b *RedisBuffer) terminalKey(streamID string) string { return "sse:terminal:" + streamID }

func (b *RedisBuffer) Append(ctx context.Context, streamID, eventType string, payload interface{}) (int, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("sse: marshal event payload: %w", err)
	}

	key := b.eventsKey(streamID)
	pipe := b.client.Pipeline()
	lenCmd := pipe.LLen(ctx, key)
	stored := StoredEvent{Type: eventType, Payload: raw}
	encoded, err := json.Marshal(stored)
	if err != nil {
		return 0, fmt.Errorf("sse: marshal stored event: %w", err)
	}
	pipe.RPush(ctx, key, encoded)
	pipe.Expire(ctx, key, b.idle)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("sse: append event: %w", err)
	}
	return int(lenCmd.Val()), nil
}

func (b *RedisBuffer) Since(ctx context.Context, streamID string, afterSeq int) ([]StoredEvent, bool, error) {
	key := b.eventsKey(streamID)
	exists, err := b.client.Exists(ctx, key).Result()
	if err != nil {
		return nil, false, fmt.Errorf("sse: check stream existence: %w", err)
	}
	if exists == 0 {
		return nil, false, nil
	}

	raws, err := b.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("sse: read events: %w", err)
	}
	b.client.Expire(ctx, key, b.idle)

	var out []StoredEvent
	for i, raw := range raws {
		if i <= afterSeq {
			continue
		}
		var ev StoredEvent
		if err := json.Unmarshal([]byte(raw), &ev); err != nil {
			return nil, false, fmt.Errorf("sse: decode event %d: %w", i, err)
		}
		ev.Seq = i
		out = append(out, ev)
	}
	return out, true, nil
}

func (b *RedisBuffer) MarkTerminal(ctx context.Context, streamID string) error {
	return b.client.Set(ctx, b.terminalKey(streamID), "1", b.idle).Err()
}

func (b *RedisBuffer) Terminal(ctx context.Context, streamID string) (bool, error) {
	exists, err := b.client.Exists(ctx, b.eventsKey(streamID)).Result()
	if err != nil {
		return false, fmt.Errorf("sse: check stream existence: %w", err)
	}
	if exists == 0 {
		return false, &ErrUnknownStream{StreamID: streamID}
	}
	n, err := b.client.Exists(ctx, b.terminalKey(streamID)).Result()
	if err != nil {
		return false, fmt.Errorf("sse: check terminal marker: %w", err)
	}
	return n > 0, nil
}

func (b *RedisBuffer) Touch(ctx context.Context, streamID string) error {
	return b.client.Expire(ctx, b.eventsKey(streamID), b.idle).Err()
}

func (b *RedisBuffer) Close(ctx context.Context, streamID string) error {
	pipe := b.client.Pipeline()
	pipe.Del(ctx, b.eventsKey(streamID))
	pipe.Del(ctx, b.terminalKey(streamID))
	_, err := pipe.Exec(ctx)
	return err
}
