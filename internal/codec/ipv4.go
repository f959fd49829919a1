package codec

import (
	"encoding/binary"
	"fmt"
	"net"
)

// IPv4 header layout constants (RFC 791). Options are never emitted by the
// builder; the parser accepts them and skips over them using the IHL field.
const (
	IPv4MinHeaderLen = 20
	IPv4MaxHeaderLen = 60
	ipv4Version      = 4

	// IPv4FlagDF and IPv4FlagMF are the two defined flag bits (bit 0 is
	// reserved and must be zero).
	IPv4FlagDF = 0x2
	IPv4FlagMF = 0x1
)

// Protocol numbers used throughout the codec (IANA assigned, RFC 790).
const (
	ProtoICMP   = 1
	ProtoTCP    = 6
	ProtoUDP    = 17
	ProtoICMPv6 = 58
)

// IPv4Header is the parsed/decoded form of an IPv4 header.
type IPv4Header struct {
	Version    uint8
	IHL        uint8 // header length in 32-bit words
	TOS        uint8
	TotalLen   uint16
	ID         uint16
	Flags      uint8
	FragOffset uint16 // in 8-byte units
	TTL        uint8
	Protocol   uint8
	Checksum   uint16
	Src        net.IP
	Dst        net.IP
	Options    []byte
}

// HeaderLen returns the header length in bytes implied by IHL.
func (h *IPv4Header) HeaderLen() int { return int(h.IHL) * 4 }

// BuildIPv4Options configures optional fields for BuildIPv4.
type BuildIPv4Options struct {
	ID       uint16
	Flags    uint8
	TOS      uint8
	BadChecksum bool // --badsum evasion (spec §6)
}

// BuildIPv4 crafts a complete IPv4 datagram (header + payload) with a
// correctly computed header checksum. src/dst must be 4-byte (IPv4) forms.
func BuildIPv4(src, dst net.IP, proto uint8, ttl uint8, payload []byte, opts BuildIPv4Options) ([]byte, error) {
	src4 := src.To4()
	dst4 := dst.To4()
	if src4 == nil || dst4 == nil {
		return nil, fmt.Errorf("codec: BuildIPv4 requires IPv4 addresses")
	}
	totalLen := IPv4MinHeaderLen + len(payload)
	if totalLen > 0xffff {
		return nil, fmt.Errorf("codec: IPv4 datagram too large: %d bytes", totalLen)
	}

	buf := make([]byte, IPv4MinHeaderLen+len(payload))
	buf[0] = (ipv4Version << 4) | (IPv4MinHeaderLen / 4)
	buf[1] = opts.TOS
	binary.BigEndian.PutUint16(buf[2:4], uint16(totalLen))
	binary.BigEndian.PutUint16(buf[4:6], opts.ID)
	fragField := uint16(opts.Flags&0x7) << 13
	binary.BigEndian.PutUint16(buf[6:8], fragField)
	buf[8] = ttl
	buf[9] = proto
	// checksum at buf[10:12] computed below
	copy(buf[12:16], src4)
	copy(buf[16:20], dst4)
	copy(buf[20:], payload)

	sum := checksum(buf[:IPv4MinHeaderLen])
	if opts.BadChecksum {
		sum = badsum(sum)
	}
	binary.BigEndian.PutUint16(buf[10:12], sum)

	return buf, nil
}

// BuildIPv4Fragments splits payload into IPv4 fragments no larger than mtu
// bytes each. mtu must be at least 68, and the payload room left after the
// 20-byte header (mtu-20) must be a multiple of 8, since fragment offsets
// count 8-byte units; 68 and 1500 both qualify. The first fragment carries
// fragOffset 0; all but the last set MF.
func BuildIPv4Fragments(src, dst net.IP, proto uint8, ttl uint8, payload []byte, mtu int, id uint16) ([][]byte, error) {
	const minIPv4MTU = 68
	if mtu < minIPv4MTU {
		return nil, fmt.Errorf("codec: IPv4 fragment MTU must be >= %d, got %d", minIPv4MTU, mtu)
	}
	if (mtu-IPv4MinHeaderLen)%8 != 0 {
		return nil, fmt.Errorf("codec: IPv4 fragment MTU minus the %d-byte header must be a multiple of 8, got %d", IPv4MinHeaderLen, mtu)
	}

	maxPayloadPerFrag := mtu - IPv4MinHeaderLen
	if maxPayloadPerFrag <= 0 {
		return nil, fmt.Errorf("codec: IPv4 fragment MTU %d too small for header", mtu)
	}
	maxPayloadPerFrag -= maxPayloadPerFrag % 8

	var frags [][]byte
	for off := 0; off < len(payload); off += maxPayloadPerFrag {
		end := off + maxPayloadPerFrag
		more := true
		if end >= len(payload) {
			end = len(payload)
			more = false
		}
		chunk := payload[off:end]

		flags := uint8(0)
		if more {
			flags = IPv4FlagMF
		}
		frag, err := BuildIPv4(src, dst, proto, ttl, chunk, BuildIPv4Options{ID: id, Flags: flags})
		if err != nil {
			return nil, err
		}
		fragOffsetWords := uint16(off / 8)
		fragField := (uint16(flags&0x7) << 13) | (fragOffsetWords & 0x1fff)
		binary.BigEndian.PutUint16(frag[6:8], fragField)
		frags = append(frags, frag)
	}
	return frags, nil
}

// ParseIPv4 decodes an IPv4 header and returns the header plus the slice of
// buf that follows it (not copied). Every length is validated against
// len(buf) before use; ParseIPv4 never panics and never indexes past the
// end of buf, even on adversarial input (spec §8).
func ParseIPv4(buf []byte) (*IPv4Header, []byte, error) {
	if len(buf) < IPv4MinHeaderLen {
		return nil, nil, fmt.Errorf("codec: IPv4 buffer too short: %d bytes", len(buf))
	}

	verIHL := buf[0]
	version := verIHL >> 4
	if version != ipv4Version {
		return nil, nil, fmt.Errorf("codec: not an IPv4 packet (version=%d)", version)
	}
	ihl := verIHL & 0x0f
	headerLen := int(ihl) * 4
	if headerLen < IPv4MinHeaderLen || headerLen > IPv4MaxHeaderLen {
		return nil, nil, fmt.Errorf("codec: invalid IPv4 IHL: %d", ihl)
	}
	if len(buf) < headerLen {
		return nil, nil, fmt.Errorf("codec: IPv4 header truncated: need %d, have %d", headerLen, len(buf))
	}

	totalLen := binary.BigEndian.Uint16(buf[2:4])
	if int(totalLen) > len(buf) {
		return nil, nil, fmt.Errorf("codec: IPv4 total length %d exceeds buffer %d", totalLen, len(buf))
	}

	fragField := binary.BigEndian.Uint16(buf[6:8])

	h := &IPv4Header{
		Version:    version,
		IHL:        ihl,
		TOS:        buf[1],
		TotalLen:   totalLen,
		ID:         binary.BigEndian.Uint16(buf[4:6]),
		Flags:      uint8(fragField >> 13),
		FragOffset: fragField & 0x1fff,
		TTL:        buf[8],
		Protocol:   buf[9],
		Checksum:   binary.BigEndian.Uint16(buf[10:12]),
		Src:        net.IP(append([]byte(nil), buf[12:16]...)),
		Dst:        net.IP(append([]byte(nil), buf[16:20]...)),
	}
	if headerLen > IPv4MinHeaderLen {
		h.Options = append([]byte(nil), buf[IPv4MinHeaderLen:headerLen]...)
	}

	end := int(totalLen)
	if end < headerLen {
		end = headerLen
	}
	if end > len(buf) {
		end = len(buf)
	}

	return h, buf[headerLen:end], nil
}

// VerifyIPv4Checksum reports whether the header checksum in buf (an
// already-built IPv4 header, including the checksum field as transmitted)
// verifies. flipping any single bit in the header makes this return false
// (spec §8 checksum invariant).
func VerifyIPv4Checksum(buf []byte) bool {
	if len(buf) < IPv4MinHeaderLen {
		return false
	}
	ihl := buf[0] & 0x0f
	headerLen := int(ihl) * 4
	if headerLen < IPv4MinHeaderLen || headerLen > len(buf) {
		return false
	}
	return verifyChecksum(buf[:headerLen])
}

// MoreFragments reports whether the MF bit is set.
func (h *IPv4Header) MoreFragments() bool { return h.Flags&IPv4FlagMF != 0 }

// DontFragment reports whether the DF bit is set.
func (h *IPv4Header) DontFragment() bool { return h.Flags&IPv4FlagDF != 0 }
