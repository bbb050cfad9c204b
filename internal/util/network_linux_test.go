//go:build linux
// +build linux

package util

import (
	"strings"
	"testing"
)

func TestParseMounts(t *testing.T) {
	table := `rootfs / rootfs rw 0 0
/dev/sda1 / ext4 rw,relatime 0 0
//nas/discs /mnt/nas\040share cifs rw,vers=3.0 0 0
tmpfs /tmp tmpfs rw 0 0
malformed-line
`
	mounts, err := parseMounts(strings.NewReader(table))
	if err != nil {
		t.Fatalf("parseMounts: %v", err)
	}
	if mounts["/"] != "ext4" {
		t.Errorf("expected / to be ext4 (last entry wins), got %q", mounts["/"])
	}
	if mounts["/mnt/nas share"] != "cifs" {
		t.Errorf("expected the octal-escaped mount point to decode, got %v", mounts)
	}
	if _, ok := mounts["malformed-line"]; ok {
		t.Error("malformed lines should be skipped")
	}
}

func TestParseProcMountsHasRoot(t *testing.T) {
	mounts, err := parseProcMounts()
	if err != nil {
		t.Fatalf("parseProcMounts: %v", err)
	}
	if _, ok := mounts["/"]; !ok {
		t.Error("expected the root filesystem in /proc/mounts")
	}
}

func TestNetworkFSName(t *testing.T) {
	if networkFSName("ext4") != "" {
		t.Error("ext4 is not a network filesystem")
	}
	if networkFSName("cifs") == "" || networkFSName("NFS4") == "" {
		t.Error("cifs and nfs4 are network filesystems")
	}
}

func TestMountOwns(t *testing.T) {
	if !mountOwns("/", "/mnt/nas/discs") {
		t.Error("/ owns everything")
	}
	if !mountOwns("/mnt/nas", "/mnt/nas/discs") {
		t.Error("/mnt/nas owns /mnt/nas/discs")
	}
	if mountOwns("/mnt/na", "/mnt/nas/discs") {
		t.Error("/mnt/na must not claim /mnt/nas/discs")
	}
}
