//go:build linux

package transport

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/doublegate/prort-ip/internal/logging"
)

// DropPrivileges implements the raw-socket lifecycle from spec §4.2: open
// every raw socket and bind every interface first, then give up root. It
// must be called exactly once, after all Transport instances for a scan
// are open and before the scheduler starts dispatching probes.
//
// targetUID/targetGID of 0 mean "no change" (already unprivileged, or the
// caller intentionally wants to keep capabilities — e.g. running under an
// existing CAP_NET_RAW file capability rather than setuid-root).
func DropPrivileges(targetUID, targetGID int) error {
	if targetGID != 0 {
		if err := unix.Setgid(targetGID); err != nil {
			return fmt.Errorf("transport: setgid(%d): %w", targetGID, err)
		}
	}
	if targetUID != 0 {
		if err := unix.Setuid(targetUID); err != nil {
			return fmt.Errorf("transport: setuid(%d): %w", targetUID, err)
		}
	}

	logging.Info("dropped privileges after opening raw sockets",
		"target_uid", targetUID, "target_gid", targetGID)
	return nil
}

// HasCapNetRaw reports whether the calling thread holds CAP_NET_RAW,
// independent of effective UID (a non-root process can still open raw
// sockets under a file capability). It is used to decide whether SYN/ACK/
// FIN-style scans are available or the scheduler must fall back to a
// Connect scan.
func HasCapNetRaw() bool {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_RAW, unix.IPPROTO_RAW)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}
