package codec

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IPv6FixedHeaderLen is the fixed IPv6 header length (RFC 8200 §3); IPv6
// carries no options in the fixed header, only a chain of extension
// headers that follow it.
const IPv6FixedHeaderLen = 40

// Extension header "next header" values that must be walked and skipped
// when parsing, per RFC 8200 §4.
const (
	nhHopByHop  = 0
	nhRouting   = 43
	nhFragment  = 44
	nhDestOpts  = 60
	nhNoNext    = 59
	maxIPv6Exts = 16 // bound the extension-header walk against crafted loops
)

// IPv6Header is the parsed form of the fixed IPv6 header plus whatever
// extension headers were walked to reach the final upper-layer payload.
type IPv6Header struct {
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   uint8 // of the first extension header, or the upper-layer protocol if none
	HopLimit     uint8
	Src          net.IP
	Dst          net.IP

	// FinalNextHeader is the protocol number of the first byte of the
	// returned payload slice, after skipping any extension headers.
	FinalNextHeader uint8
}

// BuildIPv6 crafts an IPv6 datagram (fixed header + payload, no extension
// headers). src/dst must be 16-byte (IPv6) forms.
func BuildIPv6(src, dst net.IP, nextHeader uint8, hopLimit uint8, payload []byte) ([]byte, error) {
	src16 := src.To16()
	dst16 := dst.To16()
	if src16 == nil || dst16 == nil || src.To4() != nil || dst.To4() != nil {
		return nil, fmt.Errorf("codec: BuildIPv6 requires IPv6 addresses")
	}
	if len(payload) > 0xffff {
		return nil, fmt.Errorf("codec: IPv6 payload too large: %d bytes", len(payload))
	}

	buf := make([]byte, IPv6FixedHeaderLen+len(payload))
	buf[0] = 6 << 4 // version 6, traffic class/flow label left zero
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(payload)))
	buf[6] = nextHeader
	buf[7] = hopLimit
	copy(buf[8:24], src16)
	copy(buf[24:40], dst16)
	copy(buf[40:], payload)

	return buf, nil
}

// ParseIPv6 decodes the fixed IPv6 header and walks any extension headers
// per RFC 8200 §4 ("Skip unknown extension headers"), returning the
// upper-layer payload. Every extension header's length is bounds-checked
// before it is skipped. Only Hop-by-Hop, Routing, Destination Options and
// Fragment headers are walked; any other next-header value, including an
// unrecognized extension header type, is returned as FinalNextHeader. The
// walk is capped at maxIPv6Exts to defend against a crafted header chain
// that never terminates.
func ParseIPv6(buf []byte) (*IPv6Header, []byte, error) {
	if len(buf) < IPv6FixedHeaderLen {
		return nil, nil, fmt.Errorf("codec: IPv6 buffer too short: %d bytes", len(buf))
	}
	verTCFL := binary.BigEndian.Uint32(buf[0:4])
	version := verTCFL >> 28
	if version != 6 {
		return nil, nil, fmt.Errorf("codec: not an IPv6 packet (version=%d)", version)
	}

	payloadLen := binary.BigEndian.Uint16(buf[4:6])
	nextHeader := buf[6]

	h := &IPv6Header{
		TrafficClass: uint8((verTCFL >> 20) & 0xff),
		FlowLabel:    verTCFL & 0xfffff,
		PayloadLen:   payloadLen,
		NextHeader:   nextHeader,
		HopLimit:     buf[7],
		Src:          net.IP(append([]byte(nil), buf[8:24]...)),
		Dst:          net.IP(append([]byte(nil), buf[24:40]...)),
	}

	end := IPv6FixedHeaderLen + int(payloadLen)
	if end > len(buf) {
		end = len(buf)
	}
	cursor := IPv6FixedHeaderLen
	nh := nextHeader

	for i := 0; i < maxIPv6Exts; i++ {
		switch nh {
		case nhHopByHop, nhRouting, nhDestOpts:
			if cursor+2 > end {
				return nil, nil, fmt.Errorf("codec: IPv6 extension header truncated")
			}
			extNext := buf[cursor]
			extLenWords := buf[cursor+1]
			extLen := (int(extLenWords) + 1) * 8
			if cursor+extLen > end {
				return nil, nil, fmt.Errorf("codec: IPv6 extension header length exceeds payload")
			}
			cursor += extLen
			nh = extNext
		case nhFragment:
			const fragHdrLen = 8
			if cursor+fragHdrLen > end {
				return nil, nil, fmt.Errorf("codec: IPv6 fragment header truncated")
			}
			extNext := buf[cursor]
			cursor += fragHdrLen
			nh = extNext
		default:
			h.FinalNextHeader = nh
			return h, buf[cursor:end], nil
		}
	}

	return nil, nil, fmt.Errorf("codec: IPv6 extension header chain too long or looping")
}

// pseudoHeaderIPv6 builds the 40-byte IPv6 pseudo-header (RFC 8200 §8.1)
// used for TCP/UDP/ICMPv6 checksums.
func pseudoHeaderIPv6(src, dst net.IP, upperLen uint32, nextHeader uint8) []byte {
	buf := make([]byte, 40)
	copy(buf[0:16], src.To16())
	copy(buf[16:32], dst.To16())
	binary.BigEndian.PutUint32(buf[32:36], upperLen)
	buf[39] = nextHeader
	return buf
}
