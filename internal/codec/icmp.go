package codec

import (
	"encoding/binary"
	"fmt"
	"net"
)

// ICMPv4 types/codes relevant to the engine (RFC 792).
const (
	ICMPv4TypeEchoReply       = 0
	ICMPv4TypeUnreachable     = 3
	ICMPv4TypeEchoRequest     = 8
	ICMPv4TypeTimeExceeded    = 11
	ICMPv4CodePortUnreach     = 3
	ICMPv4CodeFragNeededDF    = 4
	ICMPv4CodeAdminProhibited = 13 // Type 3 Code 13, ICMP backoff trigger (spec §4.3)
)

// ICMPv6 types/codes relevant to the engine (RFC 4443).
const (
	ICMPv6TypeUnreachable  = 1
	ICMPv6TypeEchoRequest  = 128
	ICMPv6TypeEchoReply    = 129
	ICMPv6CodePortUnreach  = 4
	ICMPv6CodeAdminProhib  = 1 // Type 1 Code 1, ICMPv6 backoff trigger (spec §4.3)
	icmpHeaderLen          = 8
)

// ICMPHeader is the common 8-byte ICMP/ICMPv6 header shape: type, code,
// checksum, and a 4-byte type-specific field (identifier+sequence for
// echo, unused for unreachable/time-exceeded).
type ICMPHeader struct {
	Type     uint8
	Code     uint8
	Checksum uint16
	Rest     uint32 // identifier<<16 | sequence for echo messages
}

// BuildICMPEcho crafts an ICMPv4 or ICMPv6 echo request/reply. A non-nil
// v6PseudoHeader is folded into the checksum (ICMPv6); nil computes the
// plain ICMPv4 checksum. For ICMPv4 there is no pseudo-header, for ICMPv6
// one is mandatory (RFC 4443 §2.3).
func BuildICMPEcho(icmpType, code uint8, id, seq uint16, payload []byte, v6PseudoHeader []byte) []byte {
	buf := make([]byte, icmpHeaderLen+len(payload))
	buf[0] = icmpType
	buf[1] = code
	binary.BigEndian.PutUint16(buf[4:6], id)
	binary.BigEndian.PutUint16(buf[6:8], seq)
	copy(buf[8:], payload)

	var sum uint16
	if v6PseudoHeader != nil {
		sum = checksumCombine(v6PseudoHeader, buf)
	} else {
		sum = checksum(buf)
	}
	binary.BigEndian.PutUint16(buf[2:4], sum)
	return buf
}

// BuildICMPv6EchoPseudoHeader constructs the IPv6 pseudo-header used for
// ICMPv6 checksums (upper-layer protocol 58).
func BuildICMPv6EchoPseudoHeader(src, dst net.IP, upperLen uint32) []byte {
	return pseudoHeaderIPv6(src, dst, upperLen, ProtoICMPv6)
}

// ParseICMP decodes the common ICMP/ICMPv6 header. Bounds-checked against
// adversarial truncation before any field read (spec §4.1/§8).
func ParseICMP(buf []byte) (*ICMPHeader, []byte, error) {
	if len(buf) < icmpHeaderLen {
		return nil, nil, fmt.Errorf("codec: ICMP buffer too short: %d bytes", len(buf))
	}
	h := &ICMPHeader{
		Type:     buf[0],
		Code:     buf[1],
		Checksum: binary.BigEndian.Uint16(buf[2:4]),
		Rest:     binary.BigEndian.Uint32(buf[4:8]),
	}
	return h, buf[icmpHeaderLen:], nil
}

// EchoIdentifier and EchoSequence extract the type-specific fields of an
// echo request/reply header.
func (h *ICMPHeader) EchoIdentifier() uint16 { return uint16(h.Rest >> 16) }
func (h *ICMPHeader) EchoSequence() uint16   { return uint16(h.Rest) }

// ExtractEmbeddedIPv4Header extracts the 5-tuple-bearing IP+transport
// header that an ICMPv4 unreachable/time-exceeded message echoes back, so
// the rate limiter and response correlator can match it to the probe that
// provoked it (spec §4.3 ICMP backoff, §4.6 ICMP-driven classification).
// The embedded header is only ever the minimum 20-byte IPv4 header plus 8
// bytes of the original transport header (RFC 792); this function never
// reads past len(buf).
func ExtractEmbeddedIPv4Header(icmpPayload []byte) (proto uint8, srcIP, dstIP [4]byte, srcPort, dstPort uint16, err error) {
	const minEmbedded = IPv4MinHeaderLen + 8
	if len(icmpPayload) < minEmbedded {
		return 0, srcIP, dstIP, 0, 0, fmt.Errorf("codec: embedded IPv4 header truncated")
	}
	ihl := icmpPayload[0] & 0x0f
	headerLen := int(ihl) * 4
	if headerLen < IPv4MinHeaderLen || headerLen+4 > len(icmpPayload) {
		return 0, srcIP, dstIP, 0, 0, fmt.Errorf("codec: embedded IPv4 header has invalid IHL")
	}
	proto = icmpPayload[9]
	copy(srcIP[:], icmpPayload[12:16])
	copy(dstIP[:], icmpPayload[16:20])
	if headerLen+4 <= len(icmpPayload) {
		srcPort = binary.BigEndian.Uint16(icmpPayload[headerLen : headerLen+2])
		dstPort = binary.BigEndian.Uint16(icmpPayload[headerLen+2 : headerLen+4])
	}
	return proto, srcIP, dstIP, srcPort, dstPort, nil
}
