// Package scheduler implements the bounded-concurrency work dispatcher
// from spec §4.5: it streams the target×port×protocol×scan-type cross
// product from a lazy target iterator without ever materializing it,
// bounds in-flight probes to a fixed worker pool, gates every dispatch on
// the rate limiter, drives each probe through its scan state machine
// (internal/scanning), and publishes every classification to the event
// bus. The scheduler never observes its consumers: control flow out of it
// is push-only through internal/eventbus.
package scheduler

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/doublegate/prort-ip/internal/codec"
	"github.com/doublegate/prort-ip/internal/errors"
	"github.com/doublegate/prort-ip/internal/eventbus"
	"github.com/doublegate/prort-ip/internal/ratelimit"
	"github.com/doublegate/prort-ip/internal/scanning"
	"github.com/doublegate/prort-ip/internal/targets"
	"github.com/doublegate/prort-ip/internal/transport"
)

// ZombieConfig names the third-party host used for an Idle/Zombie scan
// (spec §4.6); it is vetted once per Dispatcher run, not once per probe.
type ZombieConfig struct {
	IP   net.IP
	Port uint16
}

// Config controls one Dispatcher run.
type Config struct {
	ScanID          uuid.UUID
	MaxParallelism  int
	ProbeTimeout    time.Duration
	MaxRetries      int // overrides a strategy's default retry count when > 0
	SequentialPorts bool
	RandomizeHosts  bool
	SourceIP        net.IP
	TTL             uint8
	Evasion         scanning.EvasionConfig
	Zombie          *ZombieConfig
}

const defaultMaxParallelism = 100
const defaultProbeTimeout = time.Second
const defaultTTL = 64

// Diagnostic is the payload of a KindDiagnostic event emitted for retries,
// warnings, and rate-limit events (spec §3 ScanEvent diagnostics branch).
type Diagnostic struct {
	ScanID  uuid.UUID
	Kind    string // "retry-scheduled" | "warning" | "rate-limit-triggered"
	Target  string
	Port    uint16
	Message string
}

// Dispatcher drives one scan: algorithm steps 1-5 of spec §4.5.
type Dispatcher struct {
	cfg       Config
	transport transport.Transport
	limiter   *ratelimit.Limiter
	bus       *eventbus.Bus
	corr      *correlator

	sem chan struct{}

	pauseMu sync.Mutex
	pauseCh chan struct{} // closed while running; replaced (unclosed) while paused

	runMu      sync.Mutex
	cancelFunc context.CancelFunc

	sent, recvd uint64 // atomic counters, exported via Stats for progress/metrics
	idleVetted  bool
}

// New constructs a Dispatcher. tr must already be open and bound; limiter
// and bus are shared across the whole process per spec §9 ("pass as
// explicit dependencies... never module-level singletons").
func New(cfg Config, tr transport.Transport, limiter *ratelimit.Limiter, bus *eventbus.Bus) *Dispatcher {
	if cfg.MaxParallelism <= 0 {
		cfg.MaxParallelism = defaultMaxParallelism
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.TTL == 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.ScanID == uuid.Nil {
		cfg.ScanID = uuid.New()
	}
	d := &Dispatcher{
		cfg:       cfg,
		transport: tr,
		limiter:   limiter,
		bus:       bus,
		corr:      newCorrelator(),
		sem:       make(chan struct{}, cfg.MaxParallelism),
		pauseCh:   make(chan struct{}),
	}
	close(d.pauseCh)
	return d
}

// Pause stops new probe dispatch; in-flight probes run to completion (spec
// §4.5 step 5).
func (d *Dispatcher) Pause() {
	d.pauseMu.Lock()
	defer d.pauseMu.Unlock()
	select {
	case <-d.pauseCh:
		d.pauseCh = make(chan struct{}) // not yet closed: blocks new dispatch
	default:
		// already paused
	}
}

// Resume allows dispatch to continue.
func (d *Dispatcher) Resume() {
	d.pauseMu.Lock()
	defer d.pauseMu.Unlock()
	select {
	case <-d.pauseCh:
		// already running
	default:
		close(d.pauseCh)
	}
}

// Cancel drains pending work immediately; every suspension point in an
// in-flight probe observes ctx.Done() and aborts without emitting further
// events for that probe (spec §4.5 cancellation semantics).
func (d *Dispatcher) Cancel() {
	d.runMu.Lock()
	cancel := d.cancelFunc
	d.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Stats reports the packet counters the progress aggregator and metrics
// subsystem sample (spec §4.9).
func (d *Dispatcher) Stats() (sent, received uint64) {
	return atomic.LoadUint64(&d.sent), atomic.LoadUint64(&d.recvd)
}

// InFlight reports how many probes currently hold a dispatch semaphore
// slot, for the engine gauge the metrics subsystem samples.
func (d *Dispatcher) InFlight() int {
	return len(d.sem)
}

func (d *Dispatcher) waitUnpaused(ctx context.Context) error {
	d.pauseMu.Lock()
	ch := d.pauseCh
	d.pauseMu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// work is one item of the lazy target×port×scan-type cross product.
type work struct {
	target   scanning.Target
	port     uint16
	scanType scanning.ScanType
}

// Run streams work from iter×ports×scanTypes, dispatches each probe under
// bounded concurrency and rate-limiting, and publishes KindScanStarted,
// KindPortStateChanged (one per terminal classification), and
// KindScanCompleted to the bus. It blocks until the iterator is exhausted,
// ctx is canceled, or Cancel is called.
func (d *Dispatcher) Run(ctx context.Context, iter *targets.Iterator, ports []uint16, scanTypes []scanning.ScanType) error {
	ctx, cancel := context.WithCancel(ctx)
	d.runMu.Lock()
	d.cancelFunc = cancel
	d.runMu.Unlock()
	defer cancel()

	if containsIdle(scanTypes) && d.cfg.Zombie != nil {
		if err := d.vetZombie(ctx); err != nil {
			d.publishDiagnostic("warning", "", 0, "zombie unsuitable: "+err.Error())
		}
	}

	d.bus.Publish(eventbus.Event{ScanID: d.cfg.ScanID, Kind: eventbus.KindScanStarted})

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		d.receiveLoop(ctx)
	}()

	workCh := make(chan work, d.cfg.MaxParallelism*2)
	genErr := make(chan error, 1)
	go func() {
		genErr <- d.generate(ctx, iter, ports, scanTypes, workCh)
	}()

	var wg sync.WaitGroup
	for w := range workCh {
		if err := d.waitUnpaused(ctx); err != nil {
			break
		}
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(w work) {
			defer wg.Done()
			defer func() { <-d.sem }()
			d.runProbeWithRetry(ctx, w)
		}(w)
	}
	wg.Wait()
	cancel() // stop the receive loop
	<-recvDone

	err := <-genErr
	kind := eventbus.KindScanCompleted
	if err != nil && ctx.Err() == nil {
		kind = eventbus.KindScanFailed
	}
	d.bus.Publish(eventbus.Event{ScanID: d.cfg.ScanID, Kind: kind})
	return err
}

func containsIdle(scanTypes []scanning.ScanType) bool {
	for _, t := range scanTypes {
		if t == scanning.ScanTypeIdle {
			return true
		}
	}
	return false
}

// generate walks the target iterator, expanding each target into
// len(ports)*len(scanTypes) work items, randomizing per-host port order
// unless SequentialPorts is set (spec §4.5 step 1).
func (d *Dispatcher) generate(ctx context.Context, iter *targets.Iterator, ports []uint16, scanTypes []scanning.ScanType, out chan<- work) error {
	defer close(out)
	active := 0
	for {
		ip, ok, err := iter.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		active++
		d.limiter.SetActiveTargets(active)

		hostPorts := ports
		if !d.cfg.SequentialPorts {
			hostPorts = append([]uint16(nil), ports...)
			rand.Shuffle(len(hostPorts), func(i, j int) { hostPorts[i], hostPorts[j] = hostPorts[j], hostPorts[i] })
		}

		target := scanning.Target{IP: ip}
		for _, p := range hostPorts {
			for _, st := range scanTypes {
				select {
				case out <- work{target: target, port: p, scanType: st}:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
	return nil
}

// runProbeWithRetry drives one (target, port, scanType) through its
// state machine's retry policy, terminating on the first non-retryable
// classification or after the policy's MaxRetries is exhausted (spec
// §4.6 "Retry policy"; §3 invariant: at most one terminal PortState per
// probe).
func (d *Dispatcher) runProbeWithRetry(ctx context.Context, w work) {
	if w.scanType == scanning.ScanTypeIdle {
		d.runIdleProbe(ctx, w)
		return
	}
	if w.scanType == scanning.ScanTypeConnect {
		d.runConnectProbe(ctx, w)
		return
	}

	strategy := scanning.StrategyFor(w.scanType)
	if strategy == nil {
		return
	}
	policy := strategy.RetryPolicy()
	maxRetries := policy.MaxRetries
	if d.cfg.MaxRetries > 0 {
		maxRetries = d.cfg.MaxRetries
	}

	for attempt := 0; ; attempt++ {
		if err := d.limiter.Acquire(ctx, w.target.IP.String()); err != nil {
			return
		}
		result, retryable := d.runOneAttempt(ctx, w, strategy, attempt)
		if ctx.Err() != nil {
			return
		}
		if !retryable || attempt >= maxRetries {
			d.publish(result)
			return
		}
		d.publishDiagnostic("retry-scheduled", w.target.String(), w.port,
			"retrying after "+result.Reason)
		select {
		case <-time.After(policy.Backoff(attempt)):
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) runOneAttempt(ctx context.Context, w work, strategy scanning.ScanStrategy, attempt int) (scanning.ScanResult, bool) {
	srcPort := ephemeralPort()
	key := corrKey(w.target.IP, srcPort)
	ch := d.corr.register(key)
	defer d.corr.cancel(key)

	pkt, err := strategy.BuildProbe(d.cfg.SourceIP, w.target.IP, srcPort, w.port, int(d.cfg.TTL), d.cfg.Evasion)
	if err != nil {
		return d.errorResult(w, attempt, err), false
	}

	start := time.Now()
	if _, err := d.transport.SendBatch(ctx, []transport.Packet{{Dest: w.target.IP, Data: pkt.Data}}); err != nil {
		return d.errorResult(w, attempt, err), false
	}
	atomic.AddUint64(&d.sent, 1)

	var resp *scanning.Response
	timedOut := false
	select {
	case resp = <-ch:
	case <-time.After(d.cfg.ProbeTimeout):
		timedOut = true
	case <-ctx.Done():
		return scanning.ScanResult{}, false
	}

	rtt := time.Since(start)
	state, reason, retryable := strategy.Classify(resp, timedOut)
	if resp != nil && resp.IsICMPError {
		d.limiter.ReportICMPError(w.target.IP.String())
		d.publishDiagnostic("rate-limit-triggered", w.target.String(), w.port, "icmp backoff applied")
	} else {
		d.limiter.ResetBackoff(w.target.IP.String())
	}

	return scanning.ScanResult{
		ScanID:    d.cfg.ScanID,
		Target:    w.target,
		Port:      w.port,
		Protocol:  protocolFor(w.scanType),
		State:     state,
		Reason:    reason,
		RTT:       rtt,
		Timestamp: time.Now(),
	}, retryable
}

func (d *Dispatcher) runConnectProbe(ctx context.Context, w work) {
	if err := d.limiter.Acquire(ctx, w.target.IP.String()); err != nil {
		return
	}
	state, reason, rtt := scanning.ConnectScan(ctx, w.target, w.port, d.cfg.ProbeTimeout)
	d.publish(scanning.ScanResult{
		ScanID:    d.cfg.ScanID,
		Target:    w.target,
		Port:      w.port,
		Protocol:  scanning.ProtocolTCP,
		State:     state,
		Reason:    reason,
		RTT:       rtt,
		Timestamp: time.Now(),
	})
}

func (d *Dispatcher) vetZombie(ctx context.Context) error {
	if d.cfg.Zombie == nil {
		return errors.NewScanError(errors.CodeConfiguration, "idle scan requested without a zombie host")
	}
	scanner := &scanning.IdleScanner{Transport: &idleTransportAdapter{d: d}, Timeout: d.cfg.ProbeTimeout}
	ok, err := scanner.VetZombie(ctx, d.cfg.SourceIP, d.cfg.Zombie.IP, d.cfg.Zombie.Port)
	if err != nil {
		return err
	}
	d.idleVetted = ok
	if !ok {
		return errors.NewScanError(errors.CodeValidation, "zombie IP-ID sequence is not globally incremental")
	}
	return nil
}

func (d *Dispatcher) runIdleProbe(ctx context.Context, w work) {
	if d.cfg.Zombie == nil || !d.idleVetted {
		return
	}
	if err := d.limiter.Acquire(ctx, w.target.IP.String()); err != nil {
		return
	}
	scanner := &scanning.IdleScanner{Transport: &idleTransportAdapter{d: d}, Timeout: d.cfg.ProbeTimeout}
	state, reason, err := scanner.ScanPort(ctx, d.cfg.SourceIP, d.cfg.Zombie.IP, w.target.IP, d.cfg.Zombie.Port, w.port)
	if err != nil {
		d.publish(d.errorResult(w, 0, err))
		return
	}
	d.publish(scanning.ScanResult{
		ScanID:    d.cfg.ScanID,
		Target:    w.target,
		Port:      w.port,
		Protocol:  scanning.ProtocolTCP,
		State:     state,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

func (d *Dispatcher) errorResult(w work, attempt int, err error) scanning.ScanResult {
	return scanning.ScanResult{
		ScanID:    d.cfg.ScanID,
		Target:    w.target,
		Port:      w.port,
		Protocol:  protocolFor(w.scanType),
		State:     scanning.StateUnknown,
		Reason:    err.Error(),
		Timestamp: time.Now(),
	}
}

func (d *Dispatcher) publish(r scanning.ScanResult) {
	d.bus.Publish(eventbus.Event{ScanID: d.cfg.ScanID, Kind: eventbus.KindPortStateChanged, Payload: r})
}

func (d *Dispatcher) publishDiagnostic(kind, target string, port uint16, msg string) {
	d.bus.Publish(eventbus.Event{
		ScanID: d.cfg.ScanID,
		Kind:   eventbus.KindDiagnostic,
		Payload: Diagnostic{
			ScanID: d.cfg.ScanID, Kind: kind, Target: target, Port: port, Message: msg,
		},
	})
}

func protocolFor(t scanning.ScanType) scanning.Protocol {
	if t == scanning.ScanTypeUDP {
		return scanning.ProtocolUDP
	}
	return scanning.ProtocolTCP
}

func ephemeralPort() uint16 {
	return uint16(10000 + rand.Intn(50000))
}

// idleTransportAdapter adapts Dispatcher's transport.Transport to the
// narrow scanning.ZombieTransport interface the idle scan driver needs. It
// must be a pointer: Send registers a correlator entry keyed on the
// datagram's own ephemeral source port, and the following RecvIPID call on
// the same adapter value waits on it. idle.go always calls Send then
// RecvIPID in strict sequence for a given probe, so this single pending
// slot is never overwritten while still in use.
type idleTransportAdapter struct {
	d          *Dispatcher
	pendingKey string
	pendingCh  chan *scanning.Response
}

func (a *idleTransportAdapter) Send(ctx context.Context, dst net.IP, datagram []byte) error {
	if _, tcpSeg, err := codec.ParseIPv4(datagram); err == nil {
		if tcpHdr, _, err2 := codec.ParseTCP(tcpSeg); err2 == nil {
			key := corrKey(dst, tcpHdr.SrcPort)
			a.pendingKey = key
			a.pendingCh = a.d.corr.register(key)
		}
	}
	_, err := a.d.transport.SendBatch(ctx, []transport.Packet{{Dest: dst, Data: datagram}})
	return err
}

func (a *idleTransportAdapter) RecvIPID(ctx context.Context, from net.IP, timeout time.Duration) (uint16, bool, error) {
	defer func() {
		if a.pendingKey != "" {
			a.d.corr.cancel(a.pendingKey)
			a.pendingKey = ""
			a.pendingCh = nil
		}
	}()
	if a.pendingCh == nil {
		return 0, false, nil
	}
	select {
	case resp := <-a.pendingCh:
		if resp == nil {
			return 0, false, nil
		}
		return resp.IPID, true, nil
	case <-time.After(timeout):
		return 0, false, nil
	case <-ctx.Done():
		return 0, false, ctx.Err()
	}
}

// receiveLoop drains the transport and routes parsed responses to waiting
// probes via the correlator. It runs once per Dispatcher.Run, shared by
// every concurrent probe (spec §4.5 "no shared mutable state on the hot
// path beyond the rate limiter and the response correlator").
func (d *Dispatcher) receiveLoop(ctx context.Context) {
	bufs := make([][]byte, 64)
	for i := range bufs {
		bufs[i] = make([]byte, 65536)
	}
	for {
		if ctx.Err() != nil {
			return
		}
		received, err := d.transport.RecvBatch(ctx, bufs, 200*time.Millisecond)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		for _, r := range received {
			atomic.AddUint64(&d.recvd, 1)
			d.handleInbound(r)
		}
	}
}

func (d *Dispatcher) handleInbound(r transport.Received) {
	ipHdr, payload, err := codec.ParseIPv4(r.Data)
	if err != nil {
		return // malformed input is silently discarded per spec §7 "Protocol" errors
	}
	switch ipHdr.Protocol {
	case codec.ProtoTCP:
		d.handleTCP(ipHdr, payload)
	case codec.ProtoUDP:
		d.handleUDP(ipHdr, payload)
	case codec.ProtoICMP:
		d.handleICMP(ipHdr, payload)
	}
}

func (d *Dispatcher) handleTCP(ipHdr *codec.IPv4Header, payload []byte) {
	tcpHdr, _, err := codec.ParseTCP(payload)
	if err != nil {
		return
	}
	key := corrKey(ipHdr.Src, tcpHdr.DstPort)
	d.corr.deliver(key, &scanning.Response{FromTCP: tcpHdr, IPID: ipHdr.ID})
}

func (d *Dispatcher) handleUDP(ipHdr *codec.IPv4Header, payload []byte) {
	udpHdr, _, err := codec.ParseUDP(payload)
	if err != nil {
		return
	}
	key := corrKey(ipHdr.Src, udpHdr.DstPort)
	d.corr.deliver(key, &scanning.Response{FromUDP: udpHdr})
}

// handleICMP routes a correlated ICMP unreachable back to the probe that
// provoked it. The embedded original datagram's destination is the target
// the probe was sent to and its source port is our own ephemeral port, so
// together they reproduce the exact key the probe registered under (spec
// §4.3 ICMP backoff, §4.6 ICMP-driven classification).
func (d *Dispatcher) handleICMP(ipHdr *codec.IPv4Header, payload []byte) {
	icmpHdr, icmpPayload, err := codec.ParseICMP(payload)
	if err != nil {
		return
	}
	if icmpHdr.Type != codec.ICMPv4TypeUnreachable {
		return
	}
	_, _, embeddedDst, embeddedSrcPort, _, err := codec.ExtractEmbeddedIPv4Header(icmpPayload)
	if err != nil {
		return
	}
	resp := &scanning.Response{IsICMPError: true, ICMPType: int(icmpHdr.Type), ICMPCode: int(icmpHdr.Code)}
	d.corr.deliver(corrKey(net.IP(embeddedDst[:]), embeddedSrcPort), resp)
}
