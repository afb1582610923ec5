// Package tally keeps live per-course, per-day counters of recorded scans.
// The API publishes an Event for every recorded scan; a consumer applies
// events to a Counter that the live endpoint reads.
package tally

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Proged2021/Time-card-app-V2/internal/model"
	"github.com/Proged2021/Time-card-app-V2/internal/queue"
)

// EventType tags recorded-scan messages on the queue.
const EventType = "attendance.recorded"

// Retention bounds how long a day's counters are kept.
const Retention = 48 * time.Hour

// Event is the payload published after a scan is recorded.
type Event struct {
	RecordID       string               `json:"record_id"`
	CourseID       string               `json:"course_id"`
	SubjectID      string               `json:"subject_id"`
	Date           string               `json:"date"`
	Classification model.Classification `json:"classification"`
	ScanTime       time.Time            `json:"scan_time"`
}

// Message wraps ev for the queue.
func (ev Event) Message() (queue.Message, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return queue.Message{}, fmt.Errorf("encode tally event: %w", err)
	}
	return queue.Message{Type: EventType, Body: body}, nil
}

// Decode parses a queue message published by Event.Message.
func Decode(msg queue.Message) (Event, error) {
	if msg.Type != EventType {
		return Event{}, fmt.Errorf("unexpected message type %q", msg.Type)
	}
	var ev Event
	if err := json.Unmarshal(msg.Body, &ev); err != nil {
		return Event{}, fmt.Errorf("decode tally event: %w", err)
	}
	if ev.CourseID == "" || ev.Date == "" || !ev.Classification.Valid() {
		return Event{}, errors.New("decode tally event: missing fields")
	}
	return ev, nil
}

// Counts is a day's live totals for one course.
type Counts struct {
	OnTime int `json:"on_time"`
	Late   int `json:"late"`
}

// Counter stores live totals.
type Counter interface {
	Add(ctx context.Context, courseID, date string, c model.Classification) error
	Get(ctx context.Context, courseID, date string) (Counts, error)
}

// Key is the Redis hash holding a course's counters for date.
func Key(courseID, date string) string {
	return "attendance:tally:" + courseID + ":" + date
}

// RedisCounter keeps counters in Redis hashes with fields on_time and late.
type RedisCounter struct {
	client *redis.Client
}

// NewRedisCounter wraps client.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client}
}

func (r *RedisCounter) Add(ctx context.Context, courseID, date string, c model.Classification) error {
	key := Key(courseID, date)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, key, string(c), 1)
		p.Expire(ctx, key, Retention)
		return nil
	})
	return err
}

func (r *RedisCounter) Get(ctx context.Context, courseID, date string) (Counts, error) {
	vals, err := r.client.HGetAll(ctx, Key(courseID, date)).Result()
	if err != nil {
		return Counts{}, err
	}
	var out Counts
	out.OnTime, _ = strconv.Atoi(vals[string(model.OnTime)])
	out.Late, _ = strconv.Atoi(vals[string(model.Late)])
	return out, nil
}

// MemoryCounter is the in-process Counter used with the memory queue.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]Counts
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]Counts)}
}

func (m *MemoryCounter) Add(ctx context.Context, courseID, date string, c model.Classification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key(courseID, date)
	cur := m.counts[key]
	switch c {
	case model.OnTime:
		cur.OnTime++
	case model.Late:
		cur.Late++
	default:
		return fmt.Errorf("cannot tally %q", c)
	}
	m.counts[key] = cur
	return nil
}

func (m *MemoryCounter) Get(ctx context.Context, courseID, date string) (Counts, error) {
	if err := ctx.Err(); err != nil {
		return Counts{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[Key(courseID, date)], nil
}
