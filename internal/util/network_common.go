package util

import (
	"fmt"
	"path/filepath"
	"syscall"
)

// NetworkInfo describes whether a path sits on a network-mounted volume.
// The merge pool uses it to throttle concurrent writers onto a share.
type NetworkInfo struct {
	IsNetwork bool
	Protocol  string // nfs, cifs, smbfs, ... ; empty for local volumes
	MountPath string // mount point owning the path, when known
}

// DetectNetworkFilesystem classifies the volume holding path. Detection is
// platform-specific: statfs magic numbers plus /proc/mounts on Linux, the
// statfs fstypename on macOS, and "assume local" elsewhere.
func DetectNetworkFilesystem(path string) (*NetworkInfo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", path, err)
	}

	var st syscall.Statfs_t
	if err := syscall.Statfs(abs, &st); err != nil {
		return nil, fmt.Errorf("statfs %s: %w", abs, err)
	}

	return detectPlatformNetwork(abs, &st)
}

// IsNetworkPath reports whether path is network-backed, treating detection
// failures as "local".
func IsNetworkPath(path string) bool {
	info, err := DetectNetworkFilesystem(path)
	return err == nil && info.IsNetwork
}
