package eventlog

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryLog is an in-process Log backed by a map of per-intent slices,
// grounded on the single-owner mutex-guarded map pattern used throughout
// this codebase's other managers.
type MemoryLog struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]Event
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{events: make(map[uuid.UUID][]Event)}
}

// Append records ev under its IntentID.
func (l *MemoryLog) Append(ctx context.Context, ev Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[ev.IntentID] = append(l.events[ev.IntentID], ev)
	return nil
}

// Replay returns a copy of the events recorded for intentID, in append
// order.
func (l *MemoryLog) Replay(ctx context.Context, intentID uuid.UUID) ([]Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := l.events[intentID]
	out := make([]Event, len(events))
	copy(out, events)
	return out, nil
}

// Close is a no-op for MemoryLog.
func (l *MemoryLog) Close() error { return nil }
