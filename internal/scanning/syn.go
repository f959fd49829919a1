package scanning

import (
	"math/rand"
	"net"
	"time"

	"github.com/doublegate/prort-ip/internal/codec"
)

// synStrategy implements TCP SYN (half-open) scanning (spec §4.6): send
// SYN; SYN|ACK classifies Open (caller sends RST to tear down); RST
// classifies Closed; no response after retries classifies Filtered; ICMP
// unreachable classifies Filtered.
type synStrategy struct{}

func (synStrategy) ScanType() ScanType { return ScanTypeSYN }

func (synStrategy) RetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, Backoff: exponentialBackoff(200 * time.Millisecond)}
}

func (synStrategy) BuildProbe(src, dst net.IP, srcPort, dstPort uint16, ttl int, evasion EvasionConfig) (ProbePacket, error) {
	return buildTCPProbe(src, dst, srcPort, dstPort, codec.TCPFlagSYN, ttl, evasion)
}

func (synStrategy) Classify(resp *Response, timedOut bool) (PortState, string, bool) {
	switch {
	case timedOut:
		return StateFiltered, "no-response", false
	case resp.IsICMPError:
		return StateFiltered, icmpReason(resp), false
	case resp.FromTCP != nil && resp.FromTCP.HasFlag(codec.TCPFlagSYN|codec.TCPFlagACK):
		return StateOpen, "syn-ack", false
	case resp.FromTCP != nil && resp.FromTCP.HasFlag(codec.TCPFlagRST):
		return StateClosed, "reset", false
	default:
		return StateFiltered, "unexpected-response", false
	}
}

// buildTCPProbe is the shared SYN/ACK/stealth packet builder: a bare TCP
// segment with the given flag set, wrapped in an IPv4 datagram, with a
// random ISN and a random ephemeral source port chosen by the caller.
func buildTCPProbe(src, dst net.IP, srcPort, dstPort uint16, flags uint8, ttl int, evasion EvasionConfig) (ProbePacket, error) {
	seq := rand.Uint32()
	segment, err := codec.BuildTCP(src, dst, srcPort, dstPort, seq, 0, flags, 65535, nil,
		codec.BuildTCPOptions{BadChecksum: evasion.BadChecksum})
	if err != nil {
		return ProbePacket{}, err
	}

	datagram, err := codec.BuildIPv4(src, dst, codec.ProtoTCP, uint8(ttl), segment, codec.BuildIPv4Options{})
	if err != nil {
		return ProbePacket{}, err
	}
	return ProbePacket{SrcPort: srcPort, DstPort: dstPort, Data: datagram}, nil
}

func icmpReason(resp *Response) string {
	if resp.ICMPType == codec.ICMPv4TypeUnreachable && resp.ICMPCode == codec.ICMPv4CodePortUnreach {
		return "port-unreach"
	}
	return "icmp-unreachable"
}
