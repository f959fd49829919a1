//go:build linux

package transport

import (
	"context"
	"fmt"
	"net"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/doublegate/prort-ip/internal/errors"
)

// ptrFromSockaddr gives sendmmsg/recvmmsg a raw pointer to a fixed
// RawSockaddrInet4 for the msghdr's name field. The unix package does not
// expose a typed Mmsghdr.Name setter, so this cast is the only way to wire
// a per-message destination/source address into the batch syscalls.
func ptrFromSockaddr(addr *unix.RawSockaddrInet4) unsafe.Pointer {
	return unsafe.Pointer(addr)
}

// linuxTransport sends and receives raw IP packets using sendmmsg(2)/
// recvmmsg(2), batching up to Config.BatchSize datagrams per syscall as
// described in spec §4.2.
type linuxTransport struct {
	fd        int
	family    Family
	batchSize int
}

// Open creates a raw socket for the given config and binds it to Iface if
// set. Callers must invoke (Transport).Close when done.
func Open(cfg Config) (Transport, error) {
	domain := unix.AF_INET
	if cfg.Family == FamilyIPv6 {
		domain = unix.AF_INET6
	}

	fd, err := unix.Socket(domain, unix.SOCK_RAW, cfg.Proto)
	if err != nil {
		return nil, ErrPermissionDenied(err)
	}

	if cfg.Family == FamilyIPv4 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_HDRINCL, 1); err != nil {
			unix.Close(fd)
			return nil, ErrPermissionDenied(err)
		}
	}

	if cfg.Iface != "" {
		if err := unix.BindToDevice(fd, cfg.Iface); err != nil {
			unix.Close(fd)
			return nil, errors.WrapScanError(errors.CodeConfiguration,
				fmt.Sprintf("cannot bind raw socket to interface %s", cfg.Iface), err)
		}
	}

	return &linuxTransport{fd: fd, family: cfg.Family, batchSize: cfg.clampedBatchSize()}, nil
}

// SendBatch sends pkts using sendmmsg, chunked at the configured batch
// size. sendmmsg short-writes (fewer messages sent than requested) are not
// treated as an error; the caller sees the true count via sent.
func (t *linuxTransport) SendBatch(ctx context.Context, pkts []Packet) (int, error) {
	total := 0
	for start := 0; start < len(pkts); start += t.batchSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := start + t.batchSize
		if end > len(pkts) {
			end = len(pkts)
		}
		n, err := t.sendChunk(pkts[start:end])
		total += n
		if err != nil {
			return total, err
		}
		if n < end-start {
			return total, nil
		}
	}
	return total, nil
}

func (t *linuxTransport) sendChunk(pkts []Packet) (int, error) {
	msgs := make([]unix.Mmsghdr, len(pkts))
	iovecs := make([]unix.Iovec, len(pkts))
	sockaddrs := make([]unix.RawSockaddrInet4, len(pkts))

	for i, p := range pkts {
		iovecs[i] = unix.Iovec{Base: &p.Data[0]}
		iovecs[i].SetLen(len(p.Data))

		addr := &sockaddrs[i]
		addr.Family = unix.AF_INET
		ip4 := p.Dest.To4()
		copy(addr.Addr[:], ip4)

		msgs[i].Hdr.Name = (*byte)(ptrFromSockaddr(addr))
		msgs[i].Hdr.Namelen = uint32(unix.SizeofSockaddrInet4)
		msgs[i].Hdr.Iov = &iovecs[i]
		msgs[i].Hdr.SetIovlen(1)
	}

	n, err := unix.SendmmsgWithFlags(t.fd, msgs, 0)
	if err != nil {
		return n, fmt.Errorf("transport: sendmmsg: %w", err)
	}
	return n, nil
}

// RecvBatch blocks for up to timeout waiting for datagrams, using
// recvmmsg so many responses arriving in the same scheduling window are
// drained in a single syscall.
func (t *linuxTransport) RecvBatch(ctx context.Context, bufs [][]byte, timeout time.Duration) ([]Received, error) {
	if err := unix.SetsockoptTimeval(t.fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, durationToTimeval(timeout)); err != nil {
		return nil, fmt.Errorf("transport: set recv timeout: %w", err)
	}

	n := len(bufs)
	if n > t.batchSize {
		n = t.batchSize
	}
	msgs := make([]unix.Mmsghdr, n)
	iovecs := make([]unix.Iovec, n)
	sockaddrs := make([]unix.RawSockaddrInet4, n)

	for i := 0; i < n; i++ {
		if len(bufs[i]) == 0 {
			continue
		}
		iovecs[i] = unix.Iovec{Base: &bufs[i][0]}
		iovecs[i].SetLen(len(bufs[i]))
		msgs[i].Hdr.Name = (*byte)(ptrFromSockaddr(&sockaddrs[i]))
		msgs[i].Hdr.Namelen = uint32(unix.SizeofSockaddrInet4)
		msgs[i].Hdr.Iov = &iovecs[i]
		msgs[i].Hdr.SetIovlen(1)
	}

	count, err := unix.RecvmmsgWithFlags(t.fd, msgs, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return nil, nil
		}
		return nil, fmt.Errorf("transport: recvmmsg: %w", err)
	}

	out := make([]Received, 0, count)
	now := time.Now()
	for i := 0; i < count; i++ {
		ip := net.IPv4(sockaddrs[i].Addr[0], sockaddrs[i].Addr[1], sockaddrs[i].Addr[2], sockaddrs[i].Addr[3])
		out = append(out, Received{
			From: ip,
			Data: bufs[i][:msgs[i].Len],
			At:   now,
		})
	}
	return out, nil
}

func (t *linuxTransport) Close() error {
	return unix.Close(t.fd)
}

func durationToTimeval(d time.Duration) *unix.Timeval {
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return &tv
}
