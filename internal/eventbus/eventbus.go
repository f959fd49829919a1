// Package eventbus decouples scan producers (state machines, discovery,
// the scheduler) from consumers (progress aggregator, the CLI scan
// command) with filtered, buffered
// subscriptions, modeled on the hub/broadcast-channel pattern the API
// layer uses for its WebSocket handlers.
package eventbus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the categories of ScanEvent (spec §4.4/§3).
type Kind int

const (
	KindScanStarted Kind = iota
	KindScanCompleted
	KindScanFailed
	KindHostDiscovered
	KindPortStateChanged
	KindServiceDetected
	KindOSFingerprinted
	KindProgress
	KindDiagnostic
)

// Event is the tagged-variant envelope every producer publishes. Payload
// carries the kind-specific data (a ScanResult, a progress snapshot, a
// diagnostic string, ...); consumers type-assert on it.
type Event struct {
	ID        uuid.UUID
	ScanID    uuid.UUID
	Kind      Kind
	Timestamp time.Time
	Payload   any
}

// Filter selects which events a subscription receives.
type Filter struct {
	ScanID    uuid.UUID // zero value means "any scan"
	Kinds     map[Kind]bool // nil/empty means "any kind"
	Predicate func(Event) bool // optional, applied after ScanID/Kinds
}

func (f Filter) matches(e Event) bool {
	if f.ScanID != uuid.Nil && f.ScanID != e.ScanID {
		return false
	}
	if len(f.Kinds) > 0 && !f.Kinds[e.Kind] {
		return false
	}
	if f.Predicate != nil && !f.Predicate(e) {
		return false
	}
	return true
}

// DropPolicy controls what a subscriber's queue does when full.
type DropPolicy int

const (
	// DropOldest discards the oldest queued event to make room, matching
	// spec §4.4's "bounded with an oldest-drop policy" option.
	DropOldest DropPolicy = iota
	// Unbounded never drops. Its channel has the same queueSize as any
	// other subscription; when it is full, Publish blocks until the
	// subscriber receives.
	Unbounded
)

const defaultQueueSize = 256
const defaultHistorySize = 1000

// Subscription is a live receiver returned by Bus.Subscribe.
type Subscription struct {
	ch     chan Event
	bus    *Bus
	id     uint64
	filter Filter
}

// Events returns the channel to range over for delivered events.
func (s *Subscription) Events() <-chan Event { return s.ch }

// Close unregisters the subscription and releases its queue.
func (s *Subscription) Close() {
	s.bus.unsubscribe(s.id)
}

type subscriber struct {
	filter     Filter
	ch         chan Event
	policy     DropPolicy
	mu         sync.Mutex
	ring       []Event // not used: DropOldest evicts from ch directly
}

// Bus is the multi-producer/multi-subscriber event bus from spec §4.4.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]*subscriber
	nextID      uint64

	histMu     sync.Mutex
	history    []Event
	historyCap int
}

// New constructs a Bus with the given ring buffer history capacity. A
// historyCap of 0 uses the spec default of 1000.
func New(historyCap int) *Bus {
	if historyCap <= 0 {
		historyCap = defaultHistorySize
	}
	return &Bus{
		subscribers: make(map[uint64]*subscriber),
		historyCap:  historyCap,
		history:     make([]Event, 0, historyCap),
	}
}

// Publish delivers e to every matching subscriber's own buffered channel.
// A full DropOldest channel (the default) drops its oldest queued event,
// so Publish does not wait on it; a full Unbounded channel makes Publish
// block until that subscriber receives.
func (b *Bus) Publish(e Event) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.recordHistory(e)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers {
		if !sub.filter.matches(e) {
			continue
		}
		deliver(sub, e)
	}
}

func deliver(sub *subscriber, e Event) {
	select {
	case sub.ch <- e:
		return
	default:
	}
	if sub.policy == Unbounded {
		// The channel holds queueSize events like any other; this send
		// blocks until the unbounded subscriber receives.
		sub.ch <- e
		return
	}
	// DropOldest: make room by draining one event, then retry once.
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- e:
	default:
	}
}

func (b *Bus) recordHistory(e Event) {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	if len(b.history) >= b.historyCap {
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, e)
}

// Subscribe registers a new receiver matching filter. queueSize of 0 uses
// the package default; policy controls overflow behavior.
func (b *Bus) Subscribe(filter Filter, queueSize int, policy DropPolicy) *Subscription {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	sub := &subscriber{filter: filter, ch: make(chan Event, queueSize), policy: policy}
	b.subscribers[id] = sub
	b.mu.Unlock()

	return &Subscription{ch: sub.ch, bus: b, id: id, filter: filter}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	if sub, ok := b.subscribers[id]; ok {
		close(sub.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

// History returns up to limit of the most recent events matching filter,
// oldest first. limit <= 0 returns all matches currently retained.
func (b *Bus) History(filter Filter, limit int) []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()

	matches := make([]Event, 0, len(b.history))
	for _, e := range b.history {
		if filter.matches(e) {
			matches = append(matches, e)
		}
	}
	if limit > 0 && len(matches) > limit {
		matches = matches[len(matches)-limit:]
	}
	return matches
}

// Replay streams history events with a timestamp in [from, to] to fn in
// timestamp order, stopping early if fn returns false.
func (b *Bus) Replay(from, to time.Time, fn func(Event) bool) {
	b.histMu.Lock()
	snapshot := append([]Event(nil), b.history...)
	b.histMu.Unlock()

	for _, e := range snapshot {
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		if !fn(e) {
			return
		}
	}
}
