// Package transport sends and receives raw IP packets with the best
// available throughput for the host platform: batched sendmmsg/recvmmsg on
// Linux (internal/transport/linux_batch.go), a portable per-packet
// fallback everywhere else (internal/transport/generic.go). It also owns
// the privilege-drop sequence described in spec §4.2: open raw sockets and
// bind interfaces during init, then drop to the minimum required
// capability (or an unprivileged UID) before the scan loop starts.
package transport

import (
	"context"
	"net"
	"time"

	"github.com/doublegate/prort-ip/internal/errors"
)

// Packet is a single outbound datagram: the fully-built wire bytes plus the
// destination the raw socket should address it to.
type Packet struct {
	Dest net.IP
	Data []byte
}

// Received is a single inbound datagram as read off the wire, stamped with
// a monotonic receive time for RTT computation.
type Received struct {
	From net.IP
	Data []byte
	At   time.Time
}

// Transport is the raw send/receive abstraction every scan state machine
// and the discovery engine send packets through. Implementations batch
// where the platform allows it (spec §4.2).
type Transport interface {
	// SendBatch transmits pkts, returning the number successfully handed
	// to the kernel before the first error (if any).
	SendBatch(ctx context.Context, pkts []Packet) (sent int, err error)

	// RecvBatch blocks until at least one datagram arrives, ctx is
	// canceled, or timeout elapses, filling as many entries of bufs as
	// are available. It returns the number of datagrams filled.
	RecvBatch(ctx context.Context, bufs [][]byte, timeout time.Duration) ([]Received, error)

	// Close releases the underlying sockets.
	Close() error
}

// Family selects the IP version a Transport instance serves.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// Config controls how Open constructs a Transport.
type Config struct {
	Family Family
	// Proto is the IP protocol number the raw socket should be opened
	// for (codec.ProtoTCP, codec.ProtoUDP, codec.ProtoICMP, ...).
	Proto int
	// Iface, if set, binds the socket to a specific interface.
	Iface string
	// BatchSize controls the sendmmsg/recvmmsg batch size on platforms
	// that support it (clamped to [32, 1024] per spec §4.2).
	BatchSize int
}

const (
	minBatchSize     = 32
	maxBatchSize     = 1024
	defaultBatchSize = 256
)

func (c Config) clampedBatchSize() int {
	switch {
	case c.BatchSize <= 0:
		return defaultBatchSize
	case c.BatchSize < minBatchSize:
		return minBatchSize
	case c.BatchSize > maxBatchSize:
		return maxBatchSize
	default:
		return c.BatchSize
	}
}

// ErrPermissionDenied wraps the platform error returned when a raw socket
// cannot be opened, with the remediation hint from spec §4.2.
func ErrPermissionDenied(err error) error {
	return errors.WrapScanError(errors.CodePermission,
		"cannot open raw socket; elevate privileges or grant CAP_NET_RAW, "+
			"or fall back to a Connect scan", err)
}
