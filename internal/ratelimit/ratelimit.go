// Package ratelimit implements the scheduler's probe-emission throttle: a
// global token bucket paired with per-target buckets, timing templates
// T0..T5, adaptive batch-size convergence, and optional ICMP-error-driven
// per-target backoff.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// Template names the timing presets from spec §4.3. Higher templates scan
// faster and tolerate more loss; T0 < T1 < ... < T5 always holds.
type Template int

const (
	TemplateParanoid   Template = iota // T0
	TemplateSneaky                     // T1
	TemplatePolite                     // T2
	TemplateNormal                     // T3
	TemplateAggressive                 // T4
	TemplateInsane                     // T5
)

// Settings is the concrete rate/parallelism/timeout triple a Template maps
// to.
type Settings struct {
	MaxRate     float64 // packets/sec
	Parallelism int
	ProbeTimeout time.Duration
}

var templateTable = map[Template]Settings{
	TemplateParanoid:   {MaxRate: 100, Parallelism: 1, ProbeTimeout: 5 * time.Minute},
	TemplateSneaky:     {MaxRate: 500, Parallelism: 1, ProbeTimeout: 15 * time.Second},
	TemplatePolite:     {MaxRate: 2_000, Parallelism: 10, ProbeTimeout: time.Second},
	TemplateNormal:     {MaxRate: 10_000, Parallelism: 100, ProbeTimeout: time.Second},
	TemplateAggressive: {MaxRate: 50_000, Parallelism: 1_000, ProbeTimeout: 500 * time.Millisecond},
	TemplateInsane:     {MaxRate: 100_000, Parallelism: 10_000, ProbeTimeout: 300 * time.Millisecond},
}

// LookupTemplate returns the concrete settings for t, or the T3 default if
// t is out of range.
func LookupTemplate(t Template) Settings {
	if s, ok := templateTable[t]; ok {
		return s
	}
	return templateTable[TemplateNormal]
}

const (
	minBatch = 1.0
	maxBatch = 10000.0
)

var backoffLadder = []time.Duration{0, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}

// bucket is a single token bucket refilled continuously at rate tokens/sec,
// capped at capacity.
type bucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	last     time.Time
}

func newBucket(rate, capacity float64) *bucket {
	return &bucket{tokens: capacity, capacity: capacity, rate: rate, last: time.Now()}
}

func (b *bucket) refill() {
	now := time.Now()
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
}

func (b *bucket) setRate(rate, capacity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	b.rate = rate
	b.capacity = capacity
	if b.tokens > capacity {
		b.tokens = capacity
	}
}

// tryTake attempts to remove n tokens without blocking, reporting whether
// it succeeded.
func (b *bucket) tryTake(n float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refill()
	if b.tokens >= n {
		b.tokens -= n
		return true
	}
	return false
}

// Limiter is the two-tier adaptive limiter from spec §4.3: a global bucket
// shared by all probes, and a per-target bucket refilled at
// max_rate/active_target_count, capped at PerHostCeiling.
type Limiter struct {
	mu             sync.Mutex
	maxRate        float64
	perHostCeiling float64
	global         *bucket
	perTarget      map[string]*bucket
	activeTargets  int

	batchMu  sync.Mutex
	batch    float64
	observed float64

	backoffMu sync.Mutex
	backoff   map[string]backoffState
}

type backoffState struct {
	strikes int
	until   time.Time
}

// New constructs a Limiter for the given timing template and an initial
// estimate of how many distinct targets will be scanned concurrently.
func New(t Template, perHostCeiling float64, activeTargets int) *Limiter {
	if activeTargets < 1 {
		activeTargets = 1
	}
	s := LookupTemplate(t)
	l := &Limiter{
		maxRate:        s.MaxRate,
		perHostCeiling: perHostCeiling,
		global:         newBucket(s.MaxRate, s.MaxRate),
		perTarget:      make(map[string]*bucket),
		activeTargets:  activeTargets,
		batch:          1.0,
		backoff:        make(map[string]backoffState),
	}
	return l
}

func (l *Limiter) targetBucket(target string) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.perTarget[target]; ok {
		return b
	}
	rate := l.maxRate / float64(l.activeTargets)
	if l.perHostCeiling > 0 && rate > l.perHostCeiling {
		rate = l.perHostCeiling
	}
	b := newBucket(rate, rate)
	l.perTarget[target] = b
	return b
}

// SetActiveTargets updates the denominator used to compute per-target
// bucket refill rates (spec §4.3: "max_rate / active_target_count").
// Existing per-target buckets are re-rated immediately.
func (l *Limiter) SetActiveTargets(n int) {
	if n < 1 {
		n = 1
	}
	l.mu.Lock()
	l.activeTargets = n
	rate := l.maxRate / float64(n)
	if l.perHostCeiling > 0 && rate > l.perHostCeiling {
		rate = l.perHostCeiling
	}
	for _, b := range l.perTarget {
		b.setRate(rate, rate)
	}
	l.mu.Unlock()
}

// Acquire blocks until one token is available from both the global and the
// per-target bucket for target, ctx is canceled, or the target's ICMP
// backoff window elapses. It is the per-probe hot path described in spec
// §4.3.
func (l *Limiter) Acquire(ctx context.Context, target string) error {
	return l.AcquireN(ctx, target, 1)
}

// AcquireN is the batch-acquisition hot path: it takes n tokens from both
// buckets in one call instead of n calls to Acquire.
func (l *Limiter) AcquireN(ctx context.Context, target string, n int) error {
	if err := l.waitBackoff(ctx, target); err != nil {
		return err
	}

	tb := l.targetBucket(target)
	tokens := float64(n)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for {
		if l.global.tryTake(tokens) {
			if tb.tryTake(tokens) {
				return nil
			}
			// Global token spent but target bucket empty; there is no
			// atomic two-bucket take, so the spent global token is lost
			// capacity for this tick rather than risk double-counting.
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Limiter) waitBackoff(ctx context.Context, target string) error {
	for {
		l.backoffMu.Lock()
		state, ok := l.backoff[target]
		l.backoffMu.Unlock()
		if !ok || time.Now().After(state.until) {
			return nil
		}
		wait := time.Until(state.until)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			return nil
		}
	}
}

// ReportICMPError records a correlated ICMP Type 3 Code 13 (v4) / Type 1
// Code 1 (v6) unreachable for target and applies the next step of the
// exponential backoff ladder {0, 2s, 4s, 8s, 16s} from spec §4.3.
func (l *Limiter) ReportICMPError(target string) {
	l.backoffMu.Lock()
	defer l.backoffMu.Unlock()
	state := l.backoff[target]
	state.strikes++
	idx := state.strikes
	if idx >= len(backoffLadder) {
		idx = len(backoffLadder) - 1
	}
	state.until = time.Now().Add(backoffLadder[idx])
	l.backoff[target] = state
}

// ResetBackoff clears a target's backoff state, e.g. after a successful
// response is observed.
func (l *Limiter) ResetBackoff(target string) {
	l.backoffMu.Lock()
	delete(l.backoff, target)
	l.backoffMu.Unlock()
}

// ObserveThroughput feeds the adaptive convergence formula from spec §4.3:
// batch ← clamp(batch × sqrt(target/obs), 1, 10000). Call once per refill
// window with the window's observed packets/sec.
func (l *Limiter) ObserveThroughput(obs float64) float64 {
	l.batchMu.Lock()
	defer l.batchMu.Unlock()
	if obs <= 0 {
		obs = 1
	}
	l.observed = obs
	factor := math.Sqrt(l.maxRate / obs)
	next := l.batch * factor
	if next < minBatch {
		next = minBatch
	}
	if next > maxBatch {
		next = maxBatch
	}
	l.batch = next
	return l.batch
}

// BatchSize returns the current adaptive emission batch size.
func (l *Limiter) BatchSize() int {
	l.batchMu.Lock()
	defer l.batchMu.Unlock()
	return int(math.Round(l.batch))
}

// GlobalTokens reports the token count currently available in the shared
// global bucket, for the engine gauge the metrics subsystem samples.
func (l *Limiter) GlobalTokens() float64 {
	l.global.mu.Lock()
	defer l.global.mu.Unlock()
	l.global.refill()
	return l.global.tokens
}
