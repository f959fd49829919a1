// Package plugin implements the capability-gated plugin contract from
// spec §9: "each plugin runs in its own sandboxed VM with explicit
// capability grants, all deny-by-default". The sandboxing VM itself is
// out of scope (spec §1, "Lua plugin VM sandboxing internals"); this
// package owns the registry, capability checks, and lifecycle a host
// embedding a real VM would wire its plugin calls through, plus the
// event-bus-only cross-plugin communication boundary spec §9 requires
// ("cross-plugin state must go through the event bus... not shared
// memory in the VM").
package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/doublegate/prort-ip/internal/errors"
	"github.com/doublegate/prort-ip/internal/eventbus"
)

// Capability is one deny-by-default permission a plugin may be granted.
type Capability string

const (
	CapabilityNetwork    Capability = "network"
	CapabilityFilesystem Capability = "filesystem"
	CapabilitySystem     Capability = "system"
	CapabilityDatabase   Capability = "database"
)

// Grant is the set of capabilities a plugin is allowed to exercise.
// The zero value grants nothing.
type Grant map[Capability]bool

// Allows reports whether cap is present in the grant.
func (g Grant) Allows(cap Capability) bool { return g[cap] }

// Runtime is implemented by the embedding VM (out of scope here): given
// already-authorized capabilities, it executes a plugin's handler for one
// ScanEvent and returns any results it wants folded back into the scan.
type Runtime interface {
	// Invoke runs the named plugin's event handler against e under grant.
	// Implementations must themselves enforce grant; this package only
	// decides whether the call is attempted at all.
	Invoke(ctx context.Context, name string, grant Grant, e eventbus.Event) error
}

// State is a plugin's lifecycle state (spec §3 "Plugin VMs: created
// lazily per plugin, destroyed at scan completion or on sandbox
// violation").
type State int

const (
	StateUnloaded State = iota
	StateActive
	StateDisabled // disabled for the rest of the scan after a violation
)

type registration struct {
	name    string
	grant   Grant
	state   State
	lastErr error
}

// Registry tracks which plugins are loaded for a scan, their capability
// grants, and their lifecycle state. It never shares VM memory across
// plugins: the only cross-plugin channel is the event bus passed to Run.
type Registry struct {
	runtime Runtime
	bus     *eventbus.Bus

	mu      sync.Mutex
	plugins map[string]*registration
}

// New constructs a Registry. runtime is the host's sandboxed VM
// implementation; bus is the shared event bus every plugin call observes
// results through.
func New(runtime Runtime, bus *eventbus.Bus) *Registry {
	return &Registry{runtime: runtime, bus: bus, plugins: make(map[string]*registration)}
}

// Load registers a plugin lazily, deny-by-default until grants are set.
func (r *Registry) Load(name string, grant Grant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[name] = &registration{name: name, grant: grant, state: StateActive}
}

// State reports a loaded plugin's current lifecycle state.
func (r *Registry) State(name string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.plugins[name]
	if !ok {
		return StateUnloaded, false
	}
	return reg.state, true
}

// RequireCapability returns a Plugin error if name is not loaded, is
// disabled, or lacks cap — without invoking the runtime. Callers use this
// to fail fast before an expensive VM call.
func (r *Registry) RequireCapability(name string, cap Capability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.plugins[name]
	if !ok {
		return errors.NewScanError(errors.CodePluginRuntime, fmt.Sprintf("plugin %q not loaded", name))
	}
	if reg.state == StateDisabled {
		return errors.NewScanError(errors.CodePluginSandbox, fmt.Sprintf("plugin %q disabled after sandbox violation", name))
	}
	if !reg.grant.Allows(cap) {
		return errors.NewScanError(errors.CodePluginSandbox, fmt.Sprintf("plugin %q lacks capability %q", name, cap))
	}
	return nil
}

// Dispatch invokes name's handler for e via the runtime, after verifying
// the plugin is loaded, active, and holds cap. A runtime error disables
// the plugin for the remainder of the scan and emits a WarningIssued
// diagnostic (spec §7 "Plugin — sandbox violation or runtime error.
// Plugin is disabled for the rest of the scan; warning emitted.") rather
// than aborting the scan.
func (r *Registry) Dispatch(ctx context.Context, name string, cap Capability, e eventbus.Event) error {
	if err := r.RequireCapability(name, cap); err != nil {
		return err
	}
	r.mu.Lock()
	reg := r.plugins[name]
	grant := reg.grant
	r.mu.Unlock()

	if err := r.runtime.Invoke(ctx, name, grant, e); err != nil {
		r.mu.Lock()
		reg.state = StateDisabled
		reg.lastErr = err
		r.mu.Unlock()
		if r.bus != nil {
			r.bus.Publish(eventbus.Event{
				ScanID:  e.ScanID,
				Kind:    eventbus.KindDiagnostic,
				Payload: fmt.Sprintf("plugin %q disabled: %v", name, err),
			})
		}
		return errors.WrapScanError(errors.CodePluginRuntime, fmt.Sprintf("plugin %q invocation failed", name), err)
	}
	return nil
}

// Unload destroys a plugin's registration, releasing its grants. The
// embedding VM is responsible for tearing down the actual sandboxed
// process or interpreter state.
func (r *Registry) Unload(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.plugins, name)
}

// UnloadAll destroys every registration, called at scan completion (spec
// §3 plugin VM lifecycle).
func (r *Registry) UnloadAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = make(map[string]*registration)
}
