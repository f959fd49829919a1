package scanning

import (
	"context"
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"
)

// ConnectScan performs a full TCP three-way handshake via the OS network
// stack (spec §4.6): Open if the connection is established, Closed on
// RST (ECONNREFUSED), Filtered on timeout. It requires no privileges and
// is the universal fallback when raw sockets are unavailable.
func ConnectScan(ctx context.Context, target Target, port uint16, timeout time.Duration) (PortState, string, time.Duration) {
	dialer := net.Dialer{Timeout: timeout}
	addr := net.JoinHostPort(target.IP.String(), strconv.Itoa(int(port)))

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	rtt := time.Since(start)
	if err == nil {
		conn.Close()
		return StateOpen, "connected", rtt
	}

	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return StateFiltered, "timeout", rtt
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return StateClosed, "reset", rtt
	}
	return StateFiltered, "dial-error", rtt
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
