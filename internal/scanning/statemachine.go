package scanning

import (
	"net"
	"time"

	"github.com/doublegate/prort-ip/internal/codec"
)

// ProbePacket is what a ScanStrategy hands back to the caller to send: the
// wire bytes plus the 5-tuple the correlator should key on for the
// eventual response.
type ProbePacket struct {
	SrcPort uint16
	DstPort uint16
	Data    []byte // full IP datagram, ready for Transport.SendBatch
}

// Response is a parsed inbound packet relevant to a probe: a TCP/UDP
// reply, or an ICMP error quoting the probe's own headers.
type Response struct {
	FromTCP     *codec.TCPHeader
	FromUDP     *codec.UDPHeader
	ICMPType    int
	ICMPCode    int
	IsICMPError bool
	RTT         time.Duration
	// IPID is the responder's IPv4 identification field, the idle scan's
	// side channel (spec §4.6); zero for scan types that don't use it.
	IPID uint16
}

// RetryPolicy is the per-scan-type retry/backoff contract (spec §4.6).
type RetryPolicy struct {
	MaxRetries int
	Backoff    func(attempt int) time.Duration
}

func exponentialBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 0; i < attempt; i++ {
			d *= 2
		}
		return d
	}
}

// ScanStrategy is the per-scan-type contract from spec §4.6: build the
// probe for an attempt, and classify whatever came back (or didn't).
type ScanStrategy interface {
	ScanType() ScanType
	RetryPolicy() RetryPolicy

	// BuildProbe crafts the wire bytes for one attempt against target:port.
	BuildProbe(src, dst net.IP, srcPort, dstPort uint16, ttl int, evasion EvasionConfig) (ProbePacket, error)

	// Classify turns a Response (or its absence, on timeout) into a
	// terminal or retryable PortState plus a human-readable reason.
	Classify(resp *Response, timedOut bool) (state PortState, reason string, retryable bool)
}

// StrategyFor returns the ScanStrategy implementing t, or nil if t has no
// packet-level strategy (ScanTypeConnect and ScanTypeIdle are handled by
// their own dedicated drivers instead).
func StrategyFor(t ScanType) ScanStrategy {
	switch t {
	case ScanTypeSYN:
		return synStrategy{}
	case ScanTypeACK:
		return ackStrategy{}
	case ScanTypeFIN:
		return stealthStrategy{flags: codec.TCPFlagFIN}
	case ScanTypeNULL:
		return stealthStrategy{flags: 0}
	case ScanTypeXmas:
		return stealthStrategy{flags: codec.TCPFlagFIN | codec.TCPFlagPSH | codec.TCPFlagURG}
	case ScanTypeUDP:
		return udpStrategy{}
	default:
		return nil
	}
}
