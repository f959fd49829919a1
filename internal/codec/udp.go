package codec

import (
	"encoding/binary"
	"fmt"
	"net"
)

// UDPHeaderLen is the fixed UDP header length (RFC 768).
const UDPHeaderLen = 8

// UDPHeader is the parsed form of a UDP datagram header.
type UDPHeader struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// BuildUDP crafts a UDP datagram. The checksum is mandatory on IPv6 and
// optional (but always computed here) on IPv4, per spec §4.1; pass
// badChecksum to deliberately corrupt it for the --badsum evasion flag.
func BuildUDP(src, dst net.IP, srcPort, dstPort uint16, payload []byte, badChecksum bool) ([]byte, error) {
	length := UDPHeaderLen + len(payload)
	if length > 0xffff {
		return nil, fmt.Errorf("codec: UDP datagram too large: %d bytes", length)
	}

	buf := make([]byte, length)
	binary.BigEndian.PutUint16(buf[0:2], srcPort)
	binary.BigEndian.PutUint16(buf[2:4], dstPort)
	binary.BigEndian.PutUint16(buf[4:6], uint16(length))
	copy(buf[8:], payload)

	sum, err := udpChecksum(src, dst, buf)
	if err != nil {
		return nil, err
	}
	if sum == 0 {
		// RFC 768: an all-zero computed checksum is transmitted as
		// all-ones (0 means "no checksum" on the wire for IPv4).
		sum = 0xffff
	}
	if badChecksum {
		sum = badsum(sum)
	}
	binary.BigEndian.PutUint16(buf[6:8], sum)

	return buf, nil
}

func udpChecksum(src, dst net.IP, datagram []byte) (uint16, error) {
	if src4, dst4 := src.To4(), dst.To4(); src4 != nil && dst4 != nil {
		pseudo := make([]byte, 12)
		copy(pseudo[0:4], src4)
		copy(pseudo[4:8], dst4)
		pseudo[9] = ProtoUDP
		binary.BigEndian.PutUint16(pseudo[10:12], uint16(len(datagram)))
		return checksumCombine(pseudo, datagram), nil
	}
	if src.To16() != nil && dst.To16() != nil {
		pseudo := pseudoHeaderIPv6(src, dst, uint32(len(datagram)), ProtoUDP)
		return checksumCombine(pseudo, datagram), nil
	}
	return 0, fmt.Errorf("codec: mismatched or invalid address family for UDP checksum")
}

// ParseUDP decodes a UDP header from buf.
func ParseUDP(buf []byte) (*UDPHeader, []byte, error) {
	if len(buf) < UDPHeaderLen {
		return nil, nil, fmt.Errorf("codec: UDP buffer too short: %d bytes", len(buf))
	}
	length := binary.BigEndian.Uint16(buf[4:6])
	if int(length) < UDPHeaderLen {
		return nil, nil, fmt.Errorf("codec: UDP length field %d shorter than header", length)
	}
	if int(length) > len(buf) {
		return nil, nil, fmt.Errorf("codec: UDP length %d exceeds buffer %d", length, len(buf))
	}

	h := &UDPHeader{
		SrcPort:  binary.BigEndian.Uint16(buf[0:2]),
		DstPort:  binary.BigEndian.Uint16(buf[2:4]),
		Length:   length,
		Checksum: binary.BigEndian.Uint16(buf[6:8]),
	}
	return h, buf[UDPHeaderLen:length], nil
}
