package scanning

import (
	"net"
	"time"

	"github.com/doublegate/prort-ip/internal/codec"
)

// ackStrategy implements TCP ACK scanning (spec §4.6): used to map
// firewall rule sets rather than determine Open/Closed. RST classifies
// Unfiltered (firewall is stateless or permits the segment); no response
// or an ICMP filtered signal classifies Filtered.
type ackStrategy struct{}

func (ackStrategy) ScanType() ScanType { return ScanTypeACK }

func (ackStrategy) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 1, Backoff: exponentialBackoff(200 * time.Millisecond)}
}

func (ackStrategy) BuildProbe(src, dst net.IP, srcPort, dstPort uint16, ttl int, evasion EvasionConfig) (ProbePacket, error) {
	return buildTCPProbe(src, dst, srcPort, dstPort, codec.TCPFlagACK, ttl, evasion)
}

func (ackStrategy) Classify(resp *Response, timedOut bool) (PortState, string, bool) {
	switch {
	case timedOut:
		return StateFiltered, "no-response", false
	case resp.IsICMPError:
		return StateFiltered, icmpReason(resp), false
	case resp.FromTCP != nil && resp.FromTCP.HasFlag(codec.TCPFlagRST):
		return StateUnfiltered, "reset", false
	default:
		return StateFiltered, "unexpected-response", false
	}
}
