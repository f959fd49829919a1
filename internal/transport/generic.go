//go:build !linux

package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// genericTransport is the portable fallback for platforms without
// sendmmsg/recvmmsg: one syscall per packet via golang.org/x/net's
// ipv4.RawConn / ipv6.PacketConn, the same primitives used for the
// non-Linux path in the reference UDP tracer this package is modeled on.
type genericTransport struct {
	family Family
	conn   net.PacketConn
	raw4   *ipv4.RawConn
	pc6    *ipv6.PacketConn
}

// Open creates a raw socket for the given config. On non-Linux platforms
// Iface binding and batch sizing are best-effort: BatchSize only bounds
// how many packets RecvBatch drains per call, not a single syscall.
func Open(cfg Config) (Transport, error) {
	if cfg.Family == FamilyIPv6 {
		conn, err := net.ListenPacket("ip6:"+protoName(cfg.Proto), "::")
		if err != nil {
			return nil, ErrPermissionDenied(err)
		}
		return &genericTransport{family: FamilyIPv6, conn: conn, pc6: ipv6.NewPacketConn(conn)}, nil
	}

	conn, err := net.ListenPacket("ip4:"+protoName(cfg.Proto), "0.0.0.0")
	if err != nil {
		return nil, ErrPermissionDenied(err)
	}
	raw, err := ipv4.NewRawConn(conn)
	if err != nil {
		conn.Close()
		return nil, ErrPermissionDenied(err)
	}
	return &genericTransport{family: FamilyIPv4, conn: conn, raw4: raw}, nil
}

func protoName(proto int) string {
	switch proto {
	case 1:
		return "icmp"
	case 58:
		return "ipv6-icmp"
	default:
		return "ip"
	}
}

func (t *genericTransport) SendBatch(ctx context.Context, pkts []Packet) (int, error) {
	sent := 0
	for _, p := range pkts {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		var err error
		if t.family == FamilyIPv6 {
			_, err = t.conn.WriteTo(p.Data, &net.IPAddr{IP: p.Dest})
		} else {
			hdr, iperr := ipv4.ParseHeader(p.Data)
			if iperr != nil {
				_, err = t.conn.WriteTo(p.Data, &net.IPAddr{IP: p.Dest})
			} else {
				err = t.raw4.WriteTo(hdr, p.Data[hdr.Len:], nil)
			}
		}
		if err != nil {
			return sent, fmt.Errorf("transport: write: %w", err)
		}
		sent++
	}
	return sent, nil
}

func (t *genericTransport) RecvBatch(ctx context.Context, bufs [][]byte, timeout time.Duration) ([]Received, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("transport: set deadline: %w", err)
	}

	out := make([]Received, 0, len(bufs))
	for _, buf := range bufs {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			if nerr, ok := err.(net.Error); ok && nerr.Timeout() {
				break
			}
			return out, fmt.Errorf("transport: read: %w", err)
		}
		ip := addrToIP(addr)
		out = append(out, Received{From: ip, Data: buf[:n], At: time.Now()})
	}
	return out, nil
}

func addrToIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.IPAddr:
		return a.IP
	default:
		return nil
	}
}

func (t *genericTransport) Close() error {
	return t.conn.Close()
}
