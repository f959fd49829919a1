// Package discovery provides host discovery: ICMP echo, TCP connect probes
// against a common-port set, and OS-cache ARP lookups, run natively over
// golang.org/x/net/icmp rather than shelling out to an external scanner.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/doublegate/prort-ip/internal/db"
)

const (
	// Default discovery configuration values.
	defaultConcurrency    = 50
	defaultTimeoutSeconds = 3
	maxNetworkSizeBits    = 16 // Limit to /16 or smaller networks
	icmpEchoID            = 0xDEAD
)

// Engine handles network discovery operations.
type Engine struct {
	db          *db.DB
	concurrency int
	timeout     time.Duration
}

// Config represents discovery configuration.
type Config struct {
	Network     string        `json:"network"`
	Method      string        `json:"method"`
	DetectOS    bool          `json:"detect_os"`
	Timeout     time.Duration `json:"timeout"`
	Concurrency int           `json:"concurrency"`
}

// Result represents a discovery result for a single host.
type Result struct {
	IPAddress    net.IP
	Status       string
	ResponseTime time.Duration
	OSInfo       *db.OSFingerprint
	Method       string
	Error        error
}

// NewEngine creates a new discovery engine.
func NewEngine(database *db.DB) *Engine {
	return &Engine{
		db:          database,
		concurrency: defaultConcurrency,
		timeout:     defaultTimeoutSeconds * time.Second,
	}
}

// SetConcurrency sets the number of concurrent discovery operations.
func (e *Engine) SetConcurrency(concurrency int) {
	e.concurrency = concurrency
}

// SetTimeout sets the timeout for individual host discovery.
func (e *Engine) SetTimeout(timeout time.Duration) {
	e.timeout = timeout
}

// Discover performs network discovery on the specified network.
func (e *Engine) Discover(ctx context.Context, config *Config) (*db.DiscoveryJob, error) {
	// Parse network
	_, ipnet, err := net.ParseCIDR(config.Network)
	if err != nil {
		return nil, fmt.Errorf("invalid network: %w", err)
	}

	// Create discovery job
	job := &db.DiscoveryJob{
		ID:        uuid.New(),
		Network:   db.NetworkAddr{IPNet: *ipnet},
		Method:    config.Method,
		Status:    db.DiscoveryJobStatusRunning,
		CreatedAt: time.Now(),
	}

	now := time.Now()
	job.StartedAt = &now

	// Save job to database
	if err := e.saveDiscoveryJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save discovery job: %w", err)
	}

	// Start discovery in background
	go e.runDiscovery(context.Background(), job, *config)

	return job, nil
}

// runDiscovery sweeps every host address in job.Network concurrently,
// bounded by e.concurrency, and records each one that answers.
func (e *Engine) runDiscovery(ctx context.Context, job *db.DiscoveryJob, config Config) {
	defer e.finalizeDiscoveryJob(ctx, job)

	concurrency, timeout := e.setupDiscoveryParameters(config)
	method := config.Method
	if method == "" {
		method = db.DiscoveryMethodPing
	}

	hosts, err := hostsInNetwork(job.Network.IPNet)
	if err != nil {
		job.Status = db.DiscoveryJobStatusFailed
		fmt.Printf("Discovery failed: %v\n", err)
		return
	}

	discovered := e.sweepHosts(ctx, hosts, method, config.DetectOS, concurrency, timeout)

	job.HostsResponsive = discovered
	job.HostsDiscovered = discovered
	fmt.Printf("Discovery completed. Found %d hosts.\n", job.HostsDiscovered)
}

// sweepHosts fans discoverHost out over a semaphore-bounded worker set and
// returns the count of hosts that came back up.
func (e *Engine) sweepHosts(
	ctx context.Context, hosts []net.IP, method string, detectOS bool, concurrency int, timeout time.Duration,
) int {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	discovered := 0

	for _, ip := range hosts {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(ip net.IP) {
			defer wg.Done()
			defer func() { <-sem }()

			result := e.discoverHost(ctx, ip, method, detectOS, timeout)
			if result.Status != db.HostStatusUp {
				return
			}
			if err := e.saveDiscoveredHost(context.Background(), &result, uuid.Nil); err != nil {
				log.Printf("failed to save discovered host %s: %v", ip, err)
				return
			}
			mu.Lock()
			discovered++
			mu.Unlock()
		}(ip)
	}
	wg.Wait()
	return discovered
}

// hostsInNetwork expands a CIDR into every address it contains, network and
// broadcast addresses included, capped at maxNetworkSizeBits to bound sweep
// size.
func hostsInNetwork(ipnet net.IPNet) ([]net.IP, error) {
	ones, bits := ipnet.Mask.Size()
	if bits-ones > maxNetworkSizeBits {
		return nil, fmt.Errorf("network too large: /%d exceeds the /%d discovery limit", ones, bits-maxNetworkSizeBits)
	}

	var hosts []net.IP
	for ip := ipnet.IP.Mask(ipnet.Mask); ipnet.Contains(ip); ip = nextIP(ip) {
		dup := make(net.IP, len(ip))
		copy(dup, ip)
		hosts = append(hosts, dup)
	}
	return hosts, nil
}

// nextIP returns the successor address, treating ip as a big-endian counter.
func nextIP(ip net.IP) net.IP {
	next := make(net.IP, len(ip))
	copy(next, ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

// finalizeDiscoveryJob handles the completion and saving of a discovery job.
func (e *Engine) finalizeDiscoveryJob(ctx context.Context, job *db.DiscoveryJob) {
	now := time.Now()
	job.CompletedAt = &now
	if job.Status == db.DiscoveryJobStatusRunning {
		job.Status = db.DiscoveryJobStatusCompleted
	}
	if err := e.saveDiscoveryJob(ctx, job); err != nil {
		fmt.Printf("Error saving discovery job completion: %v\n", err)
	}
}

// setupDiscoveryParameters configures concurrency and timeout values.
func (e *Engine) setupDiscoveryParameters(config Config) (int, time.Duration) {
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = e.concurrency
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}

	return concurrency, timeout
}

// discoverHost discovers a single host.
func (e *Engine) discoverHost(
	ctx context.Context, ip net.IP, method string, detectOS bool, timeout time.Duration,
) Result {
	result := Result{
		IPAddress: ip,
		Method:    method,
		Status:    db.HostStatusDown,
	}

	switch method {
	case db.DiscoveryMethodPing:
		return e.pingHost(ctx, ip, detectOS, timeout)
	case db.DiscoveryMethodARP:
		return e.arpHost(ctx, ip, timeout)
	case db.DiscoveryMethodTCP:
		return e.tcpHost(ctx, ip, timeout)
	default:
		result.Error = fmt.Errorf("unsupported discovery method: %s", method)
		return result
	}
}

// pingHost discovers a host with a single native ICMP echo request, read
// back over a raw socket the same way internal/transport's portable path
// does (golang.org/x/net/icmp + ipv4/ipv6). OS fingerprinting is not
// attempted here: it needs the full 16-probe sequence in internal/detect,
// not a single echo reply.
func (e *Engine) pingHost(ctx context.Context, ip net.IP, _ bool, timeout time.Duration) Result {
	result := Result{
		IPAddress: ip,
		Method:    db.DiscoveryMethodPing,
		Status:    db.HostStatusDown,
	}

	start := time.Now()
	up, err := icmpEcho(ctx, ip, timeout)
	result.ResponseTime = time.Since(start)
	if err != nil {
		result.Error = err
		return result
	}
	if up {
		result.Status = db.HostStatusUp
	}
	return result
}

// icmpEcho sends one ICMP (or ICMPv6) echo request to ip and reports
// whether an echo reply arrived before timeout.
func icmpEcho(ctx context.Context, ip net.IP, timeout time.Duration) (bool, error) {
	isV6 := ip.To4() == nil
	network, listenAddr, proto := "ip4:icmp", "0.0.0.0", 1
	if isV6 {
		network, listenAddr, proto = "ip6:ipv6-icmp", "::", 58
	}

	conn, err := icmp.ListenPacket(network, listenAddr)
	if err != nil {
		return false, fmt.Errorf("discovery: open icmp socket: %w", err)
	}
	defer conn.Close()

	echoType := icmp.Type(ipv4.ICMPTypeEcho)
	replyType := ipv4.ICMPTypeEchoReply
	if isV6 {
		echoType = ipv6.ICMPTypeEchoRequest
	}

	msg := icmp.Message{
		Type: echoType,
		Code: 0,
		Body: &icmp.Echo{
			ID:   icmpEchoID,
			Seq:  1,
			Data: []byte("prortip-discovery"),
		},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return false, fmt.Errorf("discovery: marshal icmp echo: %w", err)
	}

	if _, err := conn.WriteTo(wb, &net.IPAddr{IP: ip}); err != nil {
		return false, fmt.Errorf("discovery: send icmp echo: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, fmt.Errorf("discovery: set read deadline: %w", err)
	}

	rb := make([]byte, 1500)
	for {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		n, peer, err := conn.ReadFrom(rb)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				return false, nil
			}
			return false, fmt.Errorf("discovery: read icmp reply: %w", err)
		}
		if peerAddr, ok := peer.(*net.IPAddr); !ok || !peerAddr.IP.Equal(ip) {
			continue
		}
		reply, err := icmp.ParseMessage(proto, rb[:n])
		if err != nil {
			continue
		}
		if reply.Type == replyType || reply.Type == ipv6.ICMPTypeEchoReply {
			return true, nil
		}
	}
}

// arpHost discovers a host using ARP.
func (e *Engine) arpHost(ctx context.Context, ip net.IP, _ time.Duration) Result {
	result := Result{
		IPAddress: ip,
		Method:    db.DiscoveryMethodARP,
		Status:    db.HostStatusDown,
	}

	start := time.Now()

	// Use system arp command
	cmd := exec.CommandContext(ctx, "arp", "-n", ip.String()) //nolint:gosec // legitimate use of arp with validated IP
	output, err := cmd.Output()

	result.ResponseTime = time.Since(start)

	if err != nil {
		result.Error = err
		return result
	}

	// Check if ARP entry exists and is not incomplete
	if strings.Contains(string(output), ip.String()) && !strings.Contains(string(output), "incomplete") {
		result.Status = db.HostStatusUp
	}

	return result
}

// tcpHost discovers a host using TCP connect.
func (e *Engine) tcpHost(_ context.Context, ip net.IP, timeout time.Duration) Result {
	result := Result{
		IPAddress: ip,
		Method:    db.DiscoveryMethodTCP,
		Status:    db.HostStatusDown,
	}

	// Common ports to try
	ports := []int{80, 443, 22, 23, 21, 25, 53, 135, 139, 445, 3389}

	for _, port := range ports {
		start := time.Now()

		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", ip.String(), port), timeout)
		if err == nil {
			_ = conn.Close()
			result.Status = db.HostStatusUp
			result.ResponseTime = time.Since(start)
			break
		}
	}

	return result
}

// saveDiscoveryJob saves or updates a discovery job in the database.
func (e *Engine) saveDiscoveryJob(ctx context.Context, job *db.DiscoveryJob) error {
	query := `
		INSERT INTO discovery_jobs (
			id, network, method, started_at, completed_at,
			hosts_discovered, hosts_responsive, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			hosts_discovered = EXCLUDED.hosts_discovered,
			hosts_responsive = EXCLUDED.hosts_responsive,
			status = EXCLUDED.status
	`

	_, err := e.db.ExecContext(ctx, query,
		job.ID, job.Network, job.Method, job.StartedAt, job.CompletedAt,
		job.HostsDiscovered, job.HostsResponsive, job.Status, job.CreatedAt)

	return err
}

// saveDiscoveredHost saves or updates a discovered host in the database.
func (e *Engine) saveDiscoveredHost(ctx context.Context, result *Result, _ uuid.UUID) error {
	// Check if host already exists
	var existingHost db.Host
	query := `SELECT id, discovery_count FROM hosts WHERE ip_address = $1`
	err := e.db.QueryRowContext(ctx, query, db.IPAddr{IP: result.IPAddress}).Scan(
		&existingHost.ID, &existingHost.DiscoveryCount)

	now := time.Now()
	responseTimeMS := int(result.ResponseTime.Milliseconds())

	if err != nil {
		return e.createNewHost(ctx, result, now, responseTimeMS)
	}
	return e.updateExistingHost(ctx, &existingHost, result, now, responseTimeMS)
}

// insertHost inserts a new host into the database.
func (e *Engine) insertHost(ctx context.Context, host *db.Host) error {
	query := `
		INSERT INTO hosts (id, ip_address, hostname, mac_address, vendor, os_family, os_name, os_version,
						   os_confidence, os_detected_at, os_method, os_details, discovery_method,
						   response_time_ms, discovery_count, ignore_scanning, first_seen, last_seen, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := e.db.ExecContext(ctx, query,
		host.ID, host.IPAddress, host.Hostname, host.MACAddress, host.Vendor,
		host.OSFamily, host.OSName, host.OSVersion, host.OSConfidence, host.OSDetectedAt,
		host.OSMethod, host.OSDetails, host.DiscoveryMethod, host.ResponseTimeMS,
		host.DiscoveryCount, host.IgnoreScanning, host.FirstSeen, host.LastSeen, host.Status)

	return err
}

// createNewHost creates a new host entry in the database.
func (e *Engine) createNewHost(ctx context.Context, result *Result, now time.Time, responseTimeMS int) error {
	host := db.Host{
		ID:              uuid.New(),
		IPAddress:       db.IPAddr{IP: result.IPAddress},
		Status:          result.Status,
		DiscoveryMethod: &result.Method,
		ResponseTimeMS:  &responseTimeMS,
		DiscoveryCount:  1,
		FirstSeen:       now,
		LastSeen:        now,
	}

	// Set OS information if detected
	if result.OSInfo != nil {
		if err := host.SetOSFingerprint(result.OSInfo); err != nil {
			log.Printf("Failed to set OS fingerprint: %v", err)
		}
	}

	return e.insertHost(ctx, &host)
}

// updateExistingHost updates an existing host entry in the database.
func (e *Engine) updateExistingHost(
	ctx context.Context, existingHost *db.Host, result *Result, now time.Time, responseTimeMS int,
) error {
	updateQuery := `
		UPDATE hosts SET
			status = $2,
			last_seen = $3,
			discovery_method = $4,
			response_time_ms = $5,
			discovery_count = discovery_count + 1
	`
	args := []interface{}{existingHost.ID, result.Status, now, result.Method, responseTimeMS}

	// Add OS information if detected
	if result.OSInfo != nil {
		updateQuery += `, os_family = $6, os_name = $7, os_version = $8, os_confidence = $9, ` +
			`os_detected_at = $10, os_method = $11, os_details = $12`

		var detailsJSON []byte
		if result.OSInfo.Details != nil {
			detailsJSON, _ = json.Marshal(result.OSInfo.Details)
		}

		args = append(args, result.OSInfo.Family, result.OSInfo.Name, result.OSInfo.Version,
			result.OSInfo.Confidence, now, result.OSInfo.Method, detailsJSON)
	}

	updateQuery += ` WHERE id = $1`
	_, err := e.db.ExecContext(ctx, updateQuery, args...)
	return err
}
