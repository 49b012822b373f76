// Package events publishes establishment domain events on the redis bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	EstablishmentInserted        = "EVENT_ESTABLISHMENT_INSERTED"
	EstablishmentUpdated         = "EVENT_ESTABLISHMENT_UPDATED"
	EstablishmentDeleted         = "EVENT_ESTABLISHMENT_DELETED"
	EstablishmentUpdateSuggested = "EVENT_ESTABLISHMENT_UPDATE_SUGGESTED"
)

// Event is the payload published on the channel named by Type.
type Event struct {
	Type       string    `json:"type"`
	Siret      string    `json:"siret"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Publisher sends events. Callers treat failures as non-fatal.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// ─── Redis ──────────────────────────────────────────────────────────────────

// RedisPublisher publishes events on redis pub/sub.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher returns a RedisPublisher using rdb.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish sends the JSON event on the channel named by its type.
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event.Type, err)
	}
	if err := p.rdb.Publish(ctx, event.Type, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// ─── In memory ──────────────────────────────────────────────────────────────

// Recorder keeps published events, for tests and the IN_MEMORY mode.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Publish records event.
func (r *Recorder) Publish(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns the recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types lists the recorded event types, in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}
