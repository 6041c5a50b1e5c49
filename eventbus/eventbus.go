// Package eventbus fans a Job's lifecycle events out to subscribers — the
// observability package, an SSE stream in httpbinding, or a test probe.
// It is adapted from the in-process publish/subscribe bus used elsewhere in
// this codebase, narrowed to the single message type jobfsm emits.
package eventbus

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/erasmus-project/esrp/protocol"
)

// Logger is the structured logging seam for Bus, kept separate from any
// business-object logger so the package has no dependency beyond protocol.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
}

type stdLogger struct{}

func (stdLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, keysAndValues)
}

func (stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, keysAndValues)
}

type noopLogger struct{}

func (noopLogger) Debug(msg string, keysAndValues ...any) {}
func (noopLogger) Warn(msg string, keysAndValues ...any)  {}

// NoopLogger returns a Logger that discards everything.
func NoopLogger() Logger { return noopLogger{} }

// Handler processes a single JobEvent. A non-nil return is logged but never
// stops delivery to other subscribers.
type Handler func(ctx context.Context, event protocol.JobEvent) error

type subscriberEntry struct {
	id      string
	handler Handler
}

// Bus is an in-memory, concurrency-safe fan-out of job events, scoped per
// job ID so a caller can subscribe to one job's lifecycle without
// receiving every other job's events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]subscriberEntry // jobID -> entries
	nextSubID   uint64
	logger      Logger
}

// New constructs an empty Bus with the standard logger.
func New() *Bus {
	return NewWithLogger(stdLogger{})
}

// NewWithLogger constructs an empty Bus using logger for diagnostics.
func NewWithLogger(logger Logger) *Bus {
	if logger == nil {
		logger = stdLogger{}
	}
	return &Bus{
		subscribers: make(map[string][]subscriberEntry),
		logger:      logger,
	}
}

// Subscribe registers handler to receive every event published for jobID.
// The returned func unsubscribes; it is idempotent and safe to call more
// than once.
func (b *Bus) Subscribe(jobID string, handler Handler) func() {
	subID := fmt.Sprintf("sub_%d", atomic.AddUint64(&b.nextSubID, 1))

	b.mu.Lock()
	b.subscribers[jobID] = append(b.subscribers[jobID], subscriberEntry{id: subID, handler: handler})
	b.mu.Unlock()

	b.logger.Debug("subscribed", "job_id", jobID, "sub_id", subID)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		entries := b.subscribers[jobID]
		for i, entry := range entries {
			if entry.id == subID {
				b.subscribers[jobID] = append(entries[:i:i], entries[i+1:]...)
				b.logger.Debug("unsubscribed", "job_id", jobID, "sub_id", subID)
				return
			}
		}
	}
}

// Publish delivers event to every subscriber of event.JobID concurrently,
// waiting for all of them before returning. A handler error is logged and
// does not prevent delivery to the remaining subscribers.
func (b *Bus) Publish(ctx context.Context, event protocol.JobEvent) {
	b.mu.RLock()
	entries := b.subscribers[event.JobID]
	entriesCopy := make([]subscriberEntry, len(entries))
	copy(entriesCopy, entries)
	b.mu.RUnlock()

	if len(entriesCopy) == 0 {
		b.logger.Debug("no_subscribers_for_job", "job_id", event.JobID, "event_type", event.EventType)
		return
	}

	var wg sync.WaitGroup
	for _, entry := range entriesCopy {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			if err := h(ctx, event.Clone()); err != nil {
				b.logger.Warn("subscriber_failed", "job_id", event.JobID, "event_type", event.EventType, "error", err.Error())
			}
		}(entry.handler)
	}
	wg.Wait()
}

// SubscriberCount reports how many handlers are currently subscribed to
// jobID. Intended for tests and diagnostics.
func (b *Bus) SubscriberCount(jobID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[jobID])
}

// Clear drops every subscription for jobID, e.g. once a job reaches a
// terminal state and no further events will ever be published for it.
func (b *Bus) Clear(jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, jobID)
}
