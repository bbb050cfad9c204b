//go:build linux
// +build linux

package util

import (
	"bufio"
	"io"
	"os"
	"strings"
	"syscall"
)

// Statfs magic numbers for network filesystems, from linux/magic.h.
const (
	nfsSuperMagic = 0x6969
	cifsMagic     = 0xff534d42
	smbSuperMagic = 0x517b
	smb2Magic     = 0xfe534d42
	smbfsOldMagic = 0x01021994
)

var networkMagic = map[uint32]string{
	nfsSuperMagic: "nfs",
	cifsMagic:     "cifs",
	smbSuperMagic: "smb",
	smb2Magic:     "smb2",
	smbfsOldMagic: "smbfs",
}

// networkFSName maps a /proc/mounts fstype to a canonical network protocol
// name, or "" when the type is a local filesystem.
func networkFSName(fsType string) string {
	folded := strings.ToLower(fsType)
	for _, name := range []string{"nfs", "cifs", "smbfs", "smb", "fuse.sshfs", "fuse.rclone"} {
		if strings.Contains(folded, name) {
			return folded
		}
	}
	return ""
}

// detectPlatformNetwork classifies a Linux path: the statfs magic number
// answers "is it network-backed", and /proc/mounts supplies the owning mount
// point. The mount governing a path is the longest mount-point prefix of it,
// so a local bind under a network share (or vice versa) resolves to the
// innermost mount.
func detectPlatformNetwork(path string, st *syscall.Statfs_t) (*NetworkInfo, error) {
	info := &NetworkInfo{}
	if proto, ok := networkMagic[uint32(st.Type)]; ok {
		info.IsNetwork = true
		info.Protocol = proto
	}

	mounts, err := parseProcMounts()
	if err != nil {
		return info, nil
	}

	bestMount, bestType := "", ""
	for mountPoint, fsType := range mounts {
		if !mountOwns(mountPoint, path) || len(mountPoint) < len(bestMount) {
			continue
		}
		bestMount, bestType = mountPoint, fsType
	}
	if bestMount != "" {
		if name := networkFSName(bestType); name != "" {
			info.IsNetwork = true
			info.Protocol = name
			info.MountPath = bestMount
		}
	}
	return info, nil
}

// mountOwns reports whether mountPoint is path itself or a proper ancestor,
// matching on path-segment boundaries so /mnt/na never claims /mnt/nas/x.
func mountOwns(mountPoint, path string) bool {
	if mountPoint == "/" || mountPoint == path {
		return true
	}
	return strings.HasPrefix(path, mountPoint+"/")
}

// parseProcMounts reads /proc/mounts into mount point -> filesystem type.
func parseProcMounts() (map[string]string, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseMounts(f)
}

// parseMounts parses mount-table lines of the form
// "device mountpoint fstype options dump pass", decoding the octal escapes
// /proc/mounts uses for whitespace in mount points.
func parseMounts(r io.Reader) (map[string]string, error) {
	mounts := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		mounts[unescapeMountPath(fields[1])] = fields[2]
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return mounts, nil
}

// unescapeMountPath decodes the \040-style octal escapes the kernel writes
// for spaces, tabs, newlines, and backslashes in mount points.
func unescapeMountPath(p string) string {
	if !strings.Contains(p, `\`) {
		return p
	}
	var b strings.Builder
	b.Grow(len(p))
	for i := 0; i < len(p); i++ {
		if p[i] == '\\' && i+3 < len(p) &&
			isOctal(p[i+1]) && isOctal(p[i+2]) && isOctal(p[i+3]) {
			b.WriteByte((p[i+1]-'0')<<6 | (p[i+2]-'0')<<3 | (p[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(p[i])
	}
	return b.String()
}

func isOctal(c byte) bool { return c >= '0' && c <= '7' }
