package util

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDetectFilesystemCaseSensitivityAgreesWithVolume(t *testing.T) {
	dir := t.TempDir()

	caseSensitive, err := DetectFilesystemCaseSensitivity(dir)
	if err != nil {
		t.Fatalf("DetectFilesystemCaseSensitivity: %v", err)
	}

	// Cross-check the probe against a direct experiment on the same volume.
	marker := filepath.Join(dir, "Check.txt")
	if err := os.WriteFile(marker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, statErr := os.Stat(filepath.Join(dir, "check.txt"))
	volumeIsSensitive := statErr != nil
	if caseSensitive != volumeIsSensitive {
		t.Errorf("probe said caseSensitive=%v but the volume behaves as caseSensitive=%v",
			caseSensitive, volumeIsSensitive)
	}
}

func TestDetectFilesystemCaseSensitivityCleansUpProbe(t *testing.T) {
	dir := t.TempDir()
	if _, err := DetectFilesystemCaseSensitivity(dir); err != nil {
		t.Fatalf("DetectFilesystemCaseSensitivity: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, caseProbeDir)); err == nil {
		t.Error("probe directory should be removed after detection")
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in            string
		caseSensitive bool
		want          string
	}{
		{"/Discs/Base/.", true, "/Discs/Base"},
		{"/Discs/Base/.", false, "/discs/base"},
		{"/Discs//Base/../Base", true, "/Discs/Base"},
		{"/DISCS/base", false, "/discs/base"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in, tt.caseSensitive); got != tt.want {
			t.Errorf("NormalizePath(%q, %v) = %q, want %q", tt.in, tt.caseSensitive, got, tt.want)
		}
	}
}

func TestPathsEqual(t *testing.T) {
	if !PathsEqual("/Discs/Base", "/Discs/Base/", true) {
		t.Error("identical paths (modulo trailing slash) should compare equal")
	}
	if PathsEqual("/Discs/Base", "/discs/base", true) {
		t.Error("case-differing paths are distinct on a case-sensitive volume")
	}
	if !PathsEqual("/Discs/Base", "/discs/base", false) {
		t.Error("case-differing paths are the same entry on a case-insensitive volume")
	}
}
