//go:build darwin
// +build darwin

package util

import (
	"strings"
	"syscall"
)

// networkFSTypes are the statfs fstypename values that indicate a
// network-backed volume on macOS.
var networkFSTypes = []string{"nfs", "smbfs", "afpfs", "cifs", "webdav"}

// detectPlatformNetwork classifies a macOS path straight from the statfs
// result: Fstypename carries the mounted filesystem's name and Mntonname
// its mount point.
func detectPlatformNetwork(path string, st *syscall.Statfs_t) (*NetworkInfo, error) {
	name := strings.ToLower(cString(st.Fstypename[:]))
	for _, proto := range networkFSTypes {
		if strings.Contains(name, proto) {
			return &NetworkInfo{
				IsNetwork: true,
				Protocol:  name,
				MountPath: cString(st.Mntonname[:]),
			}, nil
		}
	}
	return &NetworkInfo{}, nil
}

// cString converts a NUL-terminated int8 field from a syscall struct into a
// Go string.
func cString(arr []int8) string {
	buf := make([]byte, 0, len(arr))
	for _, c := range arr {
		if c == 0 {
			break
		}
		buf = append(buf, byte(c))
	}
	return string(buf)
}
