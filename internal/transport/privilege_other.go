//go:build !linux

package transport

import "github.com/doublegate/prort-ip/internal/logging"

// DropPrivileges is a no-op placeholder on non-Linux builds: setuid/setgid
// sequencing is platform-specific and out of scope beyond the reference
// Linux path. Callers on these platforms are expected to run the raw-scan
// types under an already-restricted account.
func DropPrivileges(targetUID, targetGID int) error {
	logging.Info("privilege drop is a no-op on this platform",
		"target_uid", targetUID, "target_gid", targetGID)
	return nil
}

// HasCapNetRaw always reports false outside Linux; callers should treat
// raw-socket scan types as unavailable and fall back to a Connect scan.
func HasCapNetRaw() bool {
	return false
}
