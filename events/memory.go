package events

import (
	"context"
	"sync"
)

// MemoryBroadcaster records events in memory. Used in tests and as a
// fallback when no Kafka brokers are configured.
type MemoryBroadcaster struct {
	mu           sync.Mutex
	ProgressSeen []ProgressEvent
	CompleteSeen []CompleteEvent
}

// NewMemoryBroadcaster creates an empty in-memory broadcaster.
func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{}
}

// Progress records a progress event.
func (b *MemoryBroadcaster) Progress(_ context.Context, event ProgressEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ProgressSeen = append(b.ProgressSeen, event)
	return nil
}

// Complete records a completion event.
func (b *MemoryBroadcaster) Complete(_ context.Context, event CompleteEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CompleteSeen = append(b.CompleteSeen, event)
	return nil
}

// Events returns copies of the recorded events.
func (b *MemoryBroadcaster) Events() ([]ProgressEvent, []CompleteEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	progress := make([]ProgressEvent, len(b.ProgressSeen))
	copy(progress, b.ProgressSeen)
	complete := make([]CompleteEvent, len(b.CompleteSeen))
	copy(complete, b.CompleteSeen)
	return progress, complete
}
