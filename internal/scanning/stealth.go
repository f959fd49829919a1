package scanning

import (
	"net"
	"time"

	"github.com/doublegate/prort-ip/internal/codec"
)

// stealthStrategy implements the FIN/NULL/Xmas family (spec §4.6): per
// RFC 793, closed ports answer RST and open ports stay silent, so RST
// classifies Closed; no response classifies OpenFiltered; ICMP
// unreachable classifies Filtered. Windows and many modern stacks violate
// RFC 793 by always sending RST, making OpenFiltered ambiguous on such
// hosts — that ambiguity is inherent to the scan type, not a bug here.
type stealthStrategy struct {
	flags uint8
}

func (s stealthStrategy) ScanType() ScanType {
	switch s.flags {
	case codec.TCPFlagFIN:
		return ScanTypeFIN
	case 0:
		return ScanTypeNULL
	default:
		return ScanTypeXmas
	}
}

func (stealthStrategy) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Backoff: exponentialBackoff(200 * time.Millisecond)}
}

func (s stealthStrategy) BuildProbe(src, dst net.IP, srcPort, dstPort uint16, ttl int, evasion EvasionConfig) (ProbePacket, error) {
	return buildTCPProbe(src, dst, srcPort, dstPort, s.flags, ttl, evasion)
}

func (stealthStrategy) Classify(resp *Response, timedOut bool) (PortState, string, bool) {
	switch {
	case timedOut:
		return StateOpenFiltered, "no-response", false
	case resp.IsICMPError:
		return StateFiltered, icmpReason(resp), false
	case resp.FromTCP != nil && resp.FromTCP.HasFlag(codec.TCPFlagRST):
		return StateClosed, "reset", false
	default:
		return StateOpenFiltered, "unexpected-response", false
	}
}
