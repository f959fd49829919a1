package scanning

import (
	"net"
	"time"

	"github.com/miekg/dns"

	"github.com/doublegate/prort-ip/internal/codec"
)

// udpStrategy implements UDP scanning (spec §4.6): send a protocol-
// specific payload when the target port is known, or zero bytes
// otherwise. A positive UDP response classifies Open; ICMP port-
// unreachable classifies Closed; other ICMP unreachable codes classify
// Filtered; no response classifies OpenFiltered.
type udpStrategy struct{}

func (udpStrategy) ScanType() ScanType { return ScanTypeUDP }

func (udpStrategy) RetryPolicy() RetryPolicy {
	// UDP scans need longer timeouts and more retries: targets commonly
	// rate-limit the ICMP port-unreachable replies that signal Closed.
	return RetryPolicy{MaxRetries: 3, Backoff: exponentialBackoff(time.Second)}
}

func (udpStrategy) BuildProbe(src, dst net.IP, srcPort, dstPort uint16, ttl int, evasion EvasionConfig) (ProbePacket, error) {
	payload := udpPayloadFor(dstPort)
	datagram, err := codec.BuildUDP(src, dst, srcPort, dstPort, payload, evasion.BadChecksum)
	if err != nil {
		return ProbePacket{}, err
	}
	ip, err := codec.BuildIPv4(src, dst, codec.ProtoUDP, uint8(ttl), datagram, codec.BuildIPv4Options{})
	if err != nil {
		return ProbePacket{}, err
	}
	return ProbePacket{SrcPort: srcPort, DstPort: dstPort, Data: ip}, nil
}

func (udpStrategy) Classify(resp *Response, timedOut bool) (PortState, string, bool) {
	switch {
	case timedOut:
		return StateOpenFiltered, "no-response", false
	case resp.IsICMPError && resp.ICMPType == codec.ICMPv4TypeUnreachable && resp.ICMPCode == codec.ICMPv4CodePortUnreach:
		return StateClosed, "port-unreach", false
	case resp.IsICMPError:
		return StateFiltered, "icmp-unreachable", false
	case resp.FromUDP != nil:
		return StateOpen, "udp-response", false
	default:
		return StateOpenFiltered, "no-response", false
	}
}

// udpPayloadFor returns the well-known probe payload for dstPort, or nil
// for zero-byte probes on unrecognized ports (spec §4.6). DNS uses a live
// miekg/dns-encoded query; the others are literal bytes for the
// corresponding well-known request, the same approach nmap's bundled
// payload database uses.
func udpPayloadFor(dstPort uint16) []byte {
	switch dstPort {
	case 53:
		return dnsStatusQuery()
	case 161:
		return snmpGetRequestPublic
	case 123:
		return ntpClientRequest
	case 137:
		return netbiosNameQuery
	case 546, 547:
		return dhcpv6SolicitProbe
	case 5353:
		return mdnsQuery
	default:
		return nil
	}
}

// dnsStatusQuery builds a minimal DNS standard query for the root zone's
// NS records, used purely to elicit a response from an open DNS server.
func dnsStatusQuery() []byte {
	msg := new(dns.Msg)
	msg.SetQuestion(".", dns.TypeNS)
	msg.RecursionDesired = true
	buf, err := msg.Pack()
	if err != nil {
		return nil
	}
	return buf
}

// Literal probe payloads for protocols whose wire format is fixed and
// small enough not to warrant a full client library dependency on the
// probe-construction hot path.
var (
	// SNMP GetRequest, community "public", OID 1.3.6.1.2.1.1.1.0 (sysDescr).
	snmpGetRequestPublic = []byte{
		0x30, 0x29, 0x02, 0x01, 0x00, 0x04, 0x06, 'p', 'u', 'b', 'l', 'i', 'c',
		0xa0, 0x1c, 0x02, 0x04, 0x00, 0x00, 0x00, 0x01, 0x02, 0x01, 0x00, 0x02, 0x01, 0x00,
		0x30, 0x0e, 0x30, 0x0c, 0x06, 0x08, 0x2b, 0x06, 0x01, 0x02, 0x01, 0x01, 0x01, 0x00, 0x05, 0x00,
	}
	// NTP client request, version 3, mode 3 (client).
	ntpClientRequest = append([]byte{0x1b}, make([]byte, 47)...)
	// NetBIOS Name Service query for "*" (wildcard node status request).
	netbiosNameQuery = []byte{
		0x82, 0x28, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x20, 0x43, 0x4b, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41,
		0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41,
		0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x41, 0x00, 0x00,
		0x21, 0x00, 0x01,
	}
	// DHCPv6 Solicit, minimal (transaction-id zeroed, Elapsed Time option only).
	dhcpv6SolicitProbe = []byte{0x01, 0x00, 0x00, 0x00, 0x00, 0x08, 0x00, 0x02, 0x00, 0x00}
	// mDNS query for "_services._dns-sd._udp.local" PTR.
	mdnsQuery = func() []byte {
		msg := new(dns.Msg)
		msg.SetQuestion("_services._dns-sd._udp.local.", dns.TypePTR)
		buf, _ := msg.Pack()
		return buf
	}()
)
