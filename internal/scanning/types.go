// Package scanning implements the per-target scan state machines (TCP
// Connect, SYN, ACK, FIN/NULL/Xmas, UDP, Idle/Zombie) and the data model
// they share, built on internal/codec and internal/transport.
package scanning

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// ScanError represents error types for scan operations, kept from the
// teacher's original shape: an operation label plus an optional
// host/port and wrapped cause.
type ScanError struct {
	Op   string
	Err  error
	Host string
	Port uint16
}

func (e *ScanError) Error() string {
	if e.Host != "" && e.Port > 0 {
		return fmt.Sprintf("%s failed for %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
	}
	if e.Host != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.Host, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *ScanError) Unwrap() error { return e.Err }

// Protocol is the transport-layer protocol a Probe targets.
type Protocol int

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
)

func (p Protocol) String() string {
	if p == ProtocolUDP {
		return "udp"
	}
	return "tcp"
}

// ScanType selects which state machine drives a Probe (spec §4.6).
type ScanType int

const (
	ScanTypeConnect ScanType = iota
	ScanTypeSYN
	ScanTypeACK
	ScanTypeFIN
	ScanTypeNULL
	ScanTypeXmas
	ScanTypeUDP
	ScanTypeIdle
)

func (s ScanType) String() string {
	switch s {
	case ScanTypeConnect:
		return "connect"
	case ScanTypeSYN:
		return "syn"
	case ScanTypeACK:
		return "ack"
	case ScanTypeFIN:
		return "fin"
	case ScanTypeNULL:
		return "null"
	case ScanTypeXmas:
		return "xmas"
	case ScanTypeUDP:
		return "udp"
	case ScanTypeIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// Target is a single scan destination: an IP (v4 or v6) plus an optional
// zone index for link-local IPv6 addresses (spec §3).
type Target struct {
	IP   net.IP
	Zone string
}

func (t Target) String() string {
	if t.Zone != "" {
		return t.IP.String() + "%" + t.Zone
	}
	return t.IP.String()
}

// Probe is (Target, Port, Protocol, ScanType, attempt#); probes are unique
// by (Target, Port, Protocol, attempt).
type Probe struct {
	Target   Target
	Port     uint16
	Protocol Protocol
	ScanType ScanType
	Attempt  int
}

// PortState is the tagged variant of classification outcomes (spec §3).
type PortState int

const (
	StateUnknown PortState = iota
	StateOpen
	StateClosed
	StateFiltered
	StateUnfiltered
	StateOpenFiltered
	StateClosedFiltered
)

func (s PortState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFiltered:
		return "filtered"
	case StateUnfiltered:
		return "unfiltered"
	case StateOpenFiltered:
		return "open|filtered"
	case StateClosedFiltered:
		return "closed|filtered"
	default:
		return "unknown"
	}
}

// Service is the outcome of version detection, attached to a ScanResult
// when detection succeeds (spec §3, §4.8).
type Service struct {
	Name       string
	Product    string
	Version    string
	Info       string
	Confidence int // 0..100
	CPE        string
}

// OsFingerprint captures the attributes the 16-probe OS detection sequence
// extracts (spec §3, §4.8), compared against a signature database by
// weighted similarity.
type OsFingerprint struct {
	ISNGCD        uint32
	ISNRate       float64
	SPScore       int
	TCPOptionOrder []string
	IPIDClass     string
	TCPWindowSizes []uint16
	ECNSupport    bool
	ICMPResponses []string
	BestMatch     string
	Confidence    int
	CPE           string
}

// Certificate is a structurally-parsed X.509v3 certificate (spec §3);
// only chain linkage is validated, never trust/CRL/OCSP.
type Certificate struct {
	Subject            string
	Issuer             string
	SANs               []string
	NotBefore, NotAfter time.Time
	SerialNumber       string
	SignatureAlgorithm string
	PublicKeyAlgorithm string
	PublicKeyBits      int
	SelfSigned         bool
}

// ScanResult is the immutable, terminal classification of one Probe (spec
// §3): a given (scan_id, Target, Port, Protocol) emits at most one of
// these after all retries.
type ScanResult struct {
	ScanID    uuid.UUID
	Target    Target
	Port      uint16
	Protocol  Protocol
	State     PortState
	Reason    string
	Service   *Service
	Banner    string
	TLSCert   *Certificate
	OSGuess   *OsFingerprint
	RTT       time.Duration
	Timestamp time.Time
}

// EvasionConfig groups the evasion-related knobs from spec §3/§6.
type EvasionConfig struct {
	FragmentMTU int // 0 disables fragmentation
	Decoys      []net.IP
	BadChecksum bool
	TTL         int
	SourcePort  uint16
	SourceAddr  net.IP
	Interface   string
}

// ProtocolPreference controls IPv4/IPv6 target admission (spec §6
// "--ipv6-only"/"--ipv4-only"/"--prefer-ipv6"/"--prefer-ipv4").
type ProtocolPreference int

const (
	ProtocolAny ProtocolPreference = iota
	ProtocolPreferIPv4
	ProtocolPreferIPv6
	ProtocolOnlyIPv4
	ProtocolOnlyIPv6
)

// DetectionLevels groups the service/OS detection knobs (spec §3).
type DetectionLevels struct {
	VersionIntensity int // 0..9
	OSDetect         bool
}

// ScanConfig is the enumerated configuration the scheduler and scanners
// consume (spec §3).
type ScanConfig struct {
	ScanTypes       []ScanType
	Targets         []string
	Ports           string
	Timing          TimingTemplate
	Timeout         time.Duration
	MaxRetries      int
	Evasion         EvasionConfig
	ProtocolPref    ProtocolPreference
	Detection       DetectionLevels
	Sinks           []string
	Plugins         []string
}

// TimingTemplate selects one of T0..T5 (spec §4.3).
type TimingTemplate int

const (
	TimingParanoid TimingTemplate = iota
	TimingSneaky
	TimingPolite
	TimingNormal
	TimingAggressive
	TimingInsane
)

// Validate checks the scan configuration for the conditions spec §6/§8
// calls out explicitly: at least one target, a non-empty port
// specification, and no mismatched IPv6-only/IPv4-only target list.
func (c *ScanConfig) Validate() error {
	if len(c.Targets) == 0 {
		return &ScanError{Op: "validate config", Err: fmt.Errorf("no targets specified")}
	}
	if c.Ports == "" {
		return &ScanError{Op: "validate config", Err: fmt.Errorf("no ports specified")}
	}
	if err := validatePortSpec(c.Ports); err != nil {
		return err
	}
	return c.validateProtocolPreference()
}

// validateProtocolPreference resolves the open question of how
// "--ipv6-only" / "-Pn" / mixed-family target files interact: a strict
// family preference combined with any target of the other family is a
// configuration error rather than a silent per-target skip, so the
// operator sees the mismatch before the scan starts.
func (c *ScanConfig) validateProtocolPreference() error {
	if c.ProtocolPref != ProtocolOnlyIPv4 && c.ProtocolPref != ProtocolOnlyIPv6 {
		return nil
	}
	for _, t := range c.Targets {
		ip := net.ParseIP(t)
		if ip == nil {
			continue // hostnames and CIDRs are skipped; their expanded addresses are not checked against the preference
		}
		isV4 := ip.To4() != nil
		if c.ProtocolPref == ProtocolOnlyIPv4 && !isV4 {
			return &ScanError{Op: "validate config", Err: fmt.Errorf("target %s is IPv6 but --ipv4-only was set", t)}
		}
		if c.ProtocolPref == ProtocolOnlyIPv6 && isV4 {
			return &ScanError{Op: "validate config", Err: fmt.Errorf("target %s is IPv4 but --ipv6-only was set", t)}
		}
	}
	return nil
}

// ScanStatus is the lifecycle state of a ScanState (spec §3).
type ScanStatus int

const (
	StatusRunning ScanStatus = iota
	StatusPaused
	StatusCompleted
	StatusFailed
)

// ScanState is the periodically-persisted resumable scan state (spec §3,
// §4.9). Checkpoints are atomic: write to a temp file, fsync, rename.
type ScanState struct {
	ScanID           uuid.UUID
	Config           ScanConfig
	StartedAt        time.Time
	LastCheckpoint   time.Time
	Status           ScanStatus
	CompletedTargets map[string]bool
	PendingPosition  int
	PartialResults   []ScanResult
}
