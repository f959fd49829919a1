// Package progress implements the spec §4.9 progress aggregator and state
// manager: it subscribes to the event bus, maintains aggregated per-scan
// counters, computes an EWMA-smoothed packets/sec rate and ETA, and
// atomically checkpoints scan state for resume. It couples to the rest of
// the engine only through internal/eventbus, per spec §9's "no direct
// scanner-to-aggregator reference" design note.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doublegate/prort-ip/internal/eventbus"
	"github.com/doublegate/prort-ip/internal/scanning"
)

// Stage is one step of the scan lifecycle shown to progress consumers
// (spec §4.9).
type Stage int

const (
	StageResolving Stage = iota
	StageDiscovering
	StageScanning
	StageDetecting
	StageFinalizing
)

func (s Stage) String() string {
	switch s {
	case StageResolving:
		return "resolving"
	case StageDiscovering:
		return "discovering"
	case StageScanning:
		return "scanning"
	case StageDetecting:
		return "detecting"
	case StageFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// ewmaAlpha is the smoothing factor from spec §4.9 ("α ≈ 0.2–0.3").
const ewmaAlpha = 0.25

// emitEveryProgress and emitEveryInterval are the ProgressUpdate cadence
// thresholds from spec §4.9: "every 5% progress or 30 seconds, whichever
// is sooner".
const emitEveryProgress = 0.05
const emitEveryInterval = 30 * time.Second

// checkpointEveryProgress and checkpointEveryInterval are the
// checkpointing cadence from spec §4.9.
const checkpointEveryProgress = 0.10
const checkpointEveryInterval = 60 * time.Second

// Snapshot is the aggregated state reported in a ProgressUpdate event
// payload and persisted in a Checkpoint.
type Snapshot struct {
	ScanID          uuid.UUID `json:"scan_id"`
	Stage           Stage     `json:"stage"`
	Completed       int64     `json:"completed"`
	Total           int64     `json:"total"`
	DiscoveredHosts int64     `json:"discovered_hosts"`
	OpenPorts       int64     `json:"open_ports"`
	Services        int64     `json:"services"`
	PacketsPerSec   float64   `json:"packets_per_sec"`
	EWMARate        float64   `json:"ewma_rate"`
	BandwidthBytes  float64   `json:"bandwidth_bytes_per_sec"`
	Errors          int64     `json:"errors"`
	ETA             time.Duration `json:"eta_ns"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Checkpoint is the persisted ScanState from spec §3: enough to resume a
// scan that was interrupted mid-run. CompletedKeys records every
// (target,port,protocol) tuple already classified so a resume can skip
// them without re-emitting duplicate terminal results (spec §8
// "checkpoint idempotence").
type Checkpoint struct {
	ScanID         uuid.UUID         `json:"scan_id"`
	Status         string            `json:"status"` // running|paused|completed|failed
	StartedAt      time.Time         `json:"started_at"`
	LastCheckpoint time.Time         `json:"last_checkpoint"`
	IteratorCursor string            `json:"iterator_cursor"`
	CompletedKeys  map[string]bool   `json:"completed_keys"`
	Snapshot       Snapshot          `json:"snapshot"`
}

func resultKey(r scanning.ScanResult) string {
	return fmt.Sprintf("%s|%d|%s", r.Target.String(), r.Port, r.Protocol.String())
}

// Aggregator subscribes to a Bus for one scan_id and maintains Snapshot,
// emitting ProgressUpdate events and periodic checkpoints. Construct one
// per running scan.
type Aggregator struct {
	bus    *eventbus.Bus
	scanID uuid.UUID
	total  int64
	stateDir string

	mu            sync.Mutex
	snap          Snapshot
	lastEmit      time.Time
	lastEmitPct   float64
	lastCheckpoint time.Time
	lastCheckpointPct float64
	lastRateSample time.Time
	lastSent       uint64
	completedKeys  map[string]bool
	startedAt      time.Time
}

// New constructs an Aggregator for scanID, expecting total probes to
// complete. stateDir is where checkpoints are written (spec §6
// PRTIP_STATE_DIR); an empty stateDir disables checkpointing.
func New(bus *eventbus.Bus, scanID uuid.UUID, total int64, stateDir string) *Aggregator {
	now := time.Now()
	return &Aggregator{
		bus:            bus,
		scanID:         scanID,
		total:          total,
		stateDir:       stateDir,
		snap:           Snapshot{ScanID: scanID, Total: total, Stage: StageScanning, UpdatedAt: now},
		lastEmit:       now,
		lastCheckpoint: now,
		lastRateSample: now,
		completedKeys:  make(map[string]bool),
		startedAt:      now,
	}
}

// SetStage advances the lifecycle stage (spec §4.9).
func (a *Aggregator) SetStage(s Stage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snap.Stage = s
}

// Run subscribes to the bus and drives aggregation until ctx is canceled
// or the subscription is closed.
func (a *Aggregator) Run(ctx context.Context) {
	sub := a.bus.Subscribe(eventbus.Filter{ScanID: a.scanID}, 0, eventbus.DropOldest)
	defer sub.Close()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			a.handle(e)
		case <-ticker.C:
			a.maybeEmitAndCheckpoint()
		}
	}
}

func (a *Aggregator) handle(e eventbus.Event) {
	a.mu.Lock()
	switch e.Kind {
	case eventbus.KindHostDiscovered:
		a.snap.DiscoveredHosts++
	case eventbus.KindPortStateChanged:
		a.snap.Completed++
		if r, ok := e.Payload.(scanning.ScanResult); ok {
			a.completedKeys[resultKey(r)] = true
			if r.State == scanning.StateOpen {
				a.snap.OpenPorts++
			}
		}
	case eventbus.KindServiceDetected:
		a.snap.Services++
	case eventbus.KindDiagnostic:
		a.snap.Errors++
	case eventbus.KindScanCompleted, eventbus.KindScanFailed:
		a.snap.Stage = StageFinalizing
	}
	a.mu.Unlock()
	a.maybeEmitAndCheckpoint()
}

func (a *Aggregator) maybeEmitAndCheckpoint() {
	a.mu.Lock()
	now := time.Now()
	elapsed := now.Sub(a.lastRateSample).Seconds()
	if elapsed >= 1 {
		instant := float64(a.snap.Completed-int64(a.lastSent)) / elapsed
		if a.snap.EWMARate == 0 {
			a.snap.EWMARate = instant
		} else {
			a.snap.EWMARate = ewmaAlpha*instant + (1-ewmaAlpha)*a.snap.EWMARate
		}
		a.snap.PacketsPerSec = instant
		a.lastSent = uint64(a.snap.Completed)
		a.lastRateSample = now
	}
	if a.snap.EWMARate > 0 && a.total > a.snap.Completed {
		remaining := float64(a.total - a.snap.Completed)
		a.snap.ETA = time.Duration(remaining/a.snap.EWMARate) * time.Second
	} else {
		a.snap.ETA = 0
	}
	a.snap.UpdatedAt = now

	pct := 0.0
	if a.total > 0 {
		pct = float64(a.snap.Completed) / float64(a.total)
	}

	emit := pct-a.lastEmitPct >= emitEveryProgress || now.Sub(a.lastEmit) >= emitEveryInterval
	checkpoint := pct-a.lastCheckpointPct >= checkpointEveryProgress || now.Sub(a.lastCheckpoint) >= checkpointEveryInterval
	snapCopy := a.snap
	if emit {
		a.lastEmit = now
		a.lastEmitPct = pct
	}
	if checkpoint && a.stateDir != "" {
		a.lastCheckpoint = now
		a.lastCheckpointPct = pct
	}
	completedCopy := make(map[string]bool, len(a.completedKeys))
	for k := range a.completedKeys {
		completedCopy[k] = true
	}
	startedAt := a.startedAt
	a.mu.Unlock()

	if emit {
		a.bus.Publish(eventbus.Event{ScanID: a.scanID, Kind: eventbus.KindProgress, Payload: snapCopy})
	}
	if checkpoint && a.stateDir != "" {
		status := "running"
		if snapCopy.Stage == StageFinalizing {
			status = "completed"
		}
		cp := Checkpoint{
			ScanID:         a.scanID,
			Status:         status,
			StartedAt:      startedAt,
			LastCheckpoint: now,
			CompletedKeys:  completedCopy,
			Snapshot:       snapCopy,
		}
		if err := WriteCheckpoint(a.stateDir, cp); err != nil {
			a.bus.Publish(eventbus.Event{
				ScanID: a.scanID, Kind: eventbus.KindDiagnostic,
				Payload: fmt.Sprintf("checkpoint write failed: %v", err),
			})
		}
	}
}

// Snapshot returns a copy of the current aggregated state.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap
}

// checkpointPath returns <stateDir>/<scanID>.json (spec §6).
func checkpointPath(stateDir string, scanID uuid.UUID) string {
	return filepath.Join(stateDir, scanID.String()+".json")
}

// WriteCheckpoint atomically persists cp: write to a temp file in the
// same directory, fsync, then rename over the final path (spec §3 "write
// to temp file, fsync, rename").
func WriteCheckpoint(stateDir string, cp Checkpoint) error {
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	final := checkpointPath(stateDir, cp.ScanID)
	tmp := final + ".tmp"

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open temp checkpoint: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync temp checkpoint: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename checkpoint into place: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the latest checkpoint for scanID from stateDir.
func LoadCheckpoint(stateDir string, scanID uuid.UUID) (Checkpoint, error) {
	var cp Checkpoint
	data, err := os.ReadFile(checkpointPath(stateDir, scanID))
	if err != nil {
		return cp, fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &cp); err != nil {
		return cp, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return cp, nil
}

// Completed reports whether (target,port,protocol) is already classified
// per cp, so a resumed scheduler run can skip re-dispatching it (spec §8
// "checkpoint idempotence").
func (cp Checkpoint) Completed(r scanning.ScanResult) bool {
	return cp.CompletedKeys[resultKey(r)]
}
