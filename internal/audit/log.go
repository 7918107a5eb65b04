// Package audit is the append-only activity trail. Entries are never
// updated or deleted; they are the sole record of what happened when.
package audit

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/example/retail-backoffice/internal/events"
	"github.com/google/uuid"
)

const (
	EntityRMA  = "rma"
	EntitySale = "sale"
)

// Entry records a single state transition or purchase attempt.
type Entry struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	FromState  string    `json:"from_state,omitempty"`
	ToState    string    `json:"to_state"`
	Actor      string    `json:"actor"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Log appends and reads activity entries.
type Log interface {
	Append(ctx context.Context, e Entry) (*Entry, error)
	Entries(ctx context.Context, entityID string) ([]Entry, error)
}

// MemoryLog stores entries in memory and optionally publishes each appended
// entry to the event stream for external observers. Publication is
// fire-and-forget: a broker failure never fails the append.
type MemoryLog struct {
	mu        sync.RWMutex
	entries   map[string][]Entry // entityID -> entries in append order
	publisher events.Publisher
}

func NewMemoryLog(publisher events.Publisher) *MemoryLog {
	return &MemoryLog{
		entries:   make(map[string][]Entry),
		publisher: publisher,
	}
}

func (l *MemoryLog) Append(ctx context.Context, e Entry) (*Entry, error) {
	e.ID = uuid.New().String()
	e.CreatedAt = time.Now()

	l.mu.Lock()
	l.entries[e.EntityID] = append(l.entries[e.EntityID], e)
	l.mu.Unlock()

	if l.publisher != nil {
		if err := l.publisher.Publish(ctx, e.EntityID, e); err != nil {
			log.Printf("[Audit] Failed to publish entry %s: %v", e.ID, err)
		}
	}

	return &e, nil
}

func (l *MemoryLog) Entries(_ context.Context, entityID string) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	src := l.entries[entityID]
	out := make([]Entry, len(src))
	copy(out, src)
	return out, nil
}
