package codec

import (
	"encoding/binary"
	"fmt"
	"net"
)

// TCP flag bits (RFC 793 §3.1).
const (
	TCPFlagFIN = 0x01
	TCPFlagSYN = 0x02
	TCPFlagRST = 0x04
	TCPFlagPSH = 0x08
	TCPFlagACK = 0x10
	TCPFlagURG = 0x20
	TCPFlagECE = 0x40
	TCPFlagCWR = 0x80
)

// TCPMinHeaderLen is the TCP header length with no options.
const TCPMinHeaderLen = 20

// TCPHeader is the parsed form of a TCP segment header.
type TCPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	DataOff  uint8 // header length in 32-bit words
	Flags    uint8
	Window   uint16
	Checksum uint16
	Urgent   uint16
	Options  []byte
}

// BuildTCPOptions configures optional fields for BuildTCP.
type BuildTCPOptions struct {
	Options     []byte // raw, pre-padded to a multiple of 4 bytes
	BadChecksum bool
}

// BuildTCP crafts a TCP segment (header + payload) with the pseudo-header
// checksum computed over the supplied IP addresses, per RFC 793 §3.1 and
// the IPv4/IPv6 pseudo-header forms of spec §4.1.
func BuildTCP(src, dst net.IP, srcPort, dstPort uint16, seq, ack uint32,
	flags uint8, window uint16, payload []byte, opts BuildTCPOptions,
) ([]byte, error) {
	optLen := len(opts.Options)
	if optLen%4 != 0 {
		return nil, fmt.Errorf("codec: TCP options must be padded to a multiple of 4 bytes")
	}
	headerLen := TCPMinHeaderLen + optLen
	if headerLen > 60 {
		return nil, fmt.Errorf("codec: TCP header too long: %d bytes", headerLen)
	}

	buf := make([]byte, headerLen+len(payload))
	binary.BigEndian.PutUint16(buf[0:2], srcPort)
	binary.BigEndian.PutUint16(buf[2:4], dstPort)
	binary.BigEndian.PutUint32(buf[4:8], seq)
	binary.BigEndian.PutUint32(buf[8:12], ack)
	buf[12] = uint8(headerLen/4) << 4
	buf[13] = flags
	binary.BigEndian.PutUint16(buf[14:16], window)
	// checksum at buf[16:18] filled below
	binary.BigEndian.PutUint16(buf[18:20], 0) // urgent pointer
	copy(buf[20:20+optLen], opts.Options)
	copy(buf[headerLen:], payload)

	sum, err := tcpChecksum(src, dst, buf)
	if err != nil {
		return nil, err
	}
	if opts.BadChecksum {
		sum = badsum(sum)
	}
	binary.BigEndian.PutUint16(buf[16:18], sum)

	return buf, nil
}

// tcpChecksum computes the TCP checksum over a fully-built segment
// (checksum field must still be zero) using the IPv4 or IPv6 pseudo-header
// depending on the address family of src/dst.
func tcpChecksum(src, dst net.IP, segment []byte) (uint16, error) {
	if src4, dst4 := src.To4(), dst.To4(); src4 != nil && dst4 != nil {
		pseudo := make([]byte, 12)
		copy(pseudo[0:4], src4)
		copy(pseudo[4:8], dst4)
		pseudo[9] = ProtoTCP
		binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(segment)))
		return checksumCombine(pseudo, segment), nil
	}
	if src.To16() != nil && dst.To16() != nil {
		pseudo := pseudoHeaderIPv6(src, dst, uint32(len(segment)), ProtoTCP)
		return checksumCombine(pseudo, segment), nil
	}
	return 0, fmt.Errorf("codec: mismatched or invalid address family for TCP checksum")
}

// ParseTCP decodes a TCP header from buf, which must begin at the TCP
// segment (i.e. caller has already stripped the IP header). Bounds are
// checked before any length-derived indexing, so ParseTCP never panics on
// truncated or adversarial input.
func ParseTCP(buf []byte) (*TCPHeader, []byte, error) {
	if len(buf) < TCPMinHeaderLen {
		return nil, nil, fmt.Errorf("codec: TCP buffer too short: %d bytes", len(buf))
	}
	dataOff := buf[12] >> 4
	headerLen := int(dataOff) * 4
	if headerLen < TCPMinHeaderLen || headerLen > 60 {
		return nil, nil, fmt.Errorf("codec: invalid TCP data offset: %d", dataOff)
	}
	if len(buf) < headerLen {
		return nil, nil, fmt.Errorf("codec: TCP header truncated: need %d, have %d", headerLen, len(buf))
	}

	h := &TCPHeader{
		SrcPort:  binary.BigEndian.Uint16(buf[0:2]),
		DstPort:  binary.BigEndian.Uint16(buf[2:4]),
		Seq:      binary.BigEndian.Uint32(buf[4:8]),
		Ack:      binary.BigEndian.Uint32(buf[8:12]),
		DataOff:  dataOff,
		Flags:    buf[13],
		Window:   binary.BigEndian.Uint16(buf[14:16]),
		Checksum: binary.BigEndian.Uint16(buf[16:18]),
		Urgent:   binary.BigEndian.Uint16(buf[18:20]),
	}
	if headerLen > TCPMinHeaderLen {
		h.Options = append([]byte(nil), buf[TCPMinHeaderLen:headerLen]...)
	}

	return h, buf[headerLen:], nil
}

// VerifyTCPChecksum recomputes and checks the checksum of an already-built
// TCP segment (including payload) against the supplied IP addresses.
func VerifyTCPChecksum(src, dst net.IP, segment []byte) bool {
	if len(segment) < TCPMinHeaderLen {
		return false
	}
	sum, err := tcpChecksum(src, dst, segment)
	if err != nil {
		return false
	}
	// tcpChecksum folds the transmitted checksum field into the sum along
	// with everything else; a correct checksum makes the one's-complement
	// total fold to all-ones, so the inverted result is zero.
	return sum == 0
}

// HasFlag reports whether all bits in mask are set in the header's flags.
func (h *TCPHeader) HasFlag(mask uint8) bool { return h.Flags&mask == mask }

// FlagString renders the set TCP flags in nmap-familiar order (e.g. "SA"
// for SYN|ACK), used in log lines and ScanResult.Reason strings.
func (h *TCPHeader) FlagString() string {
	var out []byte
	add := func(mask uint8, c byte) {
		if h.Flags&mask != 0 {
			out = append(out, c)
		}
	}
	add(TCPFlagSYN, 'S')
	add(TCPFlagACK, 'A')
	add(TCPFlagRST, 'R')
	add(TCPFlagFIN, 'F')
	add(TCPFlagPSH, 'P')
	add(TCPFlagURG, 'U')
	add(TCPFlagECE, 'E')
	add(TCPFlagCWR, 'C')
	if len(out) == 0 {
		return ""
	}
	return string(out)
}
