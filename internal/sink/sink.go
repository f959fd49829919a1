// Package sink implements the spec §4.10 Result Sink Interface: the
// single contract the scheduler writes classified results to. Concrete
// sinks (SQLite streaming writer, format renderers) are external
// collaborators per spec §1; this package provides the interface, an
// in-memory reference implementation, and the bounded/backpressured
// adapter the scheduler uses so a slow sink cannot stall the hot path.
package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/doublegate/prort-ip/internal/eventbus"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// Sink is implemented by every result consumer: in-memory buffers, the
// SQLite writer, and output-format renderers (spec §4.10).
type Sink interface {
	Record(ctx context.Context, result scanning.ScanResult) error
	Close() error
}

// Memory is a reference Sink that retains every result in process
// memory, useful for tests and small scans.
type Memory struct {
	mu      sync.Mutex
	results []scanning.ScanResult
}

// NewMemory constructs an empty in-memory sink.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(_ context.Context, result scanning.ScanResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, result)
	return nil
}

func (m *Memory) Close() error { return nil }

// Results returns a snapshot of every result recorded so far.
func (m *Memory) Results() []scanning.ScanResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]scanning.ScanResult, len(m.results))
	copy(out, m.results)
	return out
}

// DropPolicy controls what the Buffered adapter does when its channel is
// full and config permits dropping (spec §4.10 "drop oldest buffered
// results only if explicitly permitted by config").
type DropPolicy int

const (
	// Block makes the scheduler wait for the sink to catch up. This is
	// the default: it never silently loses a result.
	Block DropPolicy = iota
	// DropOldestOnHighWatermark discards the oldest buffered result to
	// admit a new one once the channel is full. Must be explicitly
	// selected; it trades completeness for liveness.
	DropOldestOnHighWatermark
)

// Buffered wraps a Sink with a bounded channel between the scheduler
// (producer) and the sink's own consumption goroutine, so scheduler
// dispatch is never held up by a persistently slow sink beyond the
// configured watermark (spec §4.10).
type Buffered struct {
	inner    Sink
	ch       chan scanning.ScanResult
	bus      *eventbus.Bus
	policy   DropPolicy
	done     chan struct{}
	closeErr chan error
	mu       sync.Mutex
	dropped  int64
}

// NewBuffered starts a consumer goroutine draining into inner. capacity
// is the watermark: a high watermark is hit when the channel is full.
// bus, if non-nil, receives a KindDiagnostic WarningIssued event each
// time DropOldestOnHighWatermark drops a result; under Block no event is
// published.
func NewBuffered(inner Sink, capacity int, policy DropPolicy, bus *eventbus.Bus) *Buffered {
	if capacity <= 0 {
		capacity = 1000
	}
	b := &Buffered{
		inner:    inner,
		ch:       make(chan scanning.ScanResult, capacity),
		bus:      bus,
		policy:   policy,
		done:     make(chan struct{}),
		closeErr: make(chan error, 1),
	}
	go b.run()
	return b
}

func (b *Buffered) run() {
	defer close(b.done)
	var firstErr error
	for result := range b.ch {
		if err := b.inner.Record(context.Background(), result); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := b.inner.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	b.closeErr <- firstErr
}

// Record enqueues result. Under Block, this blocks until the consumer
// has room (or ctx is canceled). Under DropOldestOnHighWatermark, a full
// channel causes the oldest queued result to be evicted to make room,
// and a KindDiagnostic WarningIssued event is published on bus.
func (b *Buffered) Record(ctx context.Context, result scanning.ScanResult) error {
	if b.policy == Block {
		select {
		case b.ch <- result:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case b.ch <- result:
		return nil
	default:
	}

	b.mu.Lock()
	b.dropped++
	b.mu.Unlock()
	if b.bus != nil {
		b.bus.Publish(eventbus.Event{
			Kind:    eventbus.KindDiagnostic,
			Payload: fmt.Sprintf("sink high watermark reached, dropping oldest buffered result (total dropped: %d)", b.dropped),
		})
	}
	select {
	case <-b.ch:
	default:
	}
	select {
	case b.ch <- result:
	default:
	}
	return nil
}

// Dropped reports how many results DropOldestOnHighWatermark has evicted.
func (b *Buffered) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops accepting new results, waits for the consumer to drain the
// channel and close the inner sink, and returns the first error either
// side observed.
func (b *Buffered) Close() error {
	close(b.ch)
	<-b.done
	return <-b.closeErr
}
