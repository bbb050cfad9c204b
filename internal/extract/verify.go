package extract

import (
	"os"
	"path/filepath"
)

// VerificationResult is the structured outcome of VerifyDiscExtraction.
type VerificationResult struct {
	OK       bool
	Warnings []string
	Errors   []string
	Counts   map[string]int
	Samples  []string
}

// VerifyDiscExtraction performs a cheap post-harvest sanity check: does the
// disc's Export/ root exist, does it have a config.xml, and does it have at
// least one numeric song directory (its contents are not inspected).
func VerifyDiscExtraction(discRoot string) (*VerificationResult, error) {
	res := &VerificationResult{Counts: map[string]int{}}

	exportRoot := filepath.Join(discRoot, usrdirRel, "FileSystem", "Export")
	if _, err := os.Stat(exportRoot); err != nil {
		res.Errors = append(res.Errors, "Export/ root not found at "+exportRoot)
		return res, nil
	}

	if _, err := os.Stat(filepath.Join(exportRoot, "config.xml")); err != nil {
		res.Errors = append(res.Errors, "config.xml missing from harvested Export/")
	}

	entries, err := os.ReadDir(exportRoot)
	if err != nil {
		res.Errors = append(res.Errors, "cannot list Export/ root: "+err.Error())
		return res, nil
	}

	songDirs := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, ok := parseSongDirName(e.Name()); ok {
			songDirs++
			if len(res.Samples) < 5 {
				res.Samples = append(res.Samples, e.Name())
			}
		}
	}
	res.Counts["song_dirs"] = songDirs
	if songDirs == 0 {
		res.Warnings = append(res.Warnings, "no numeric song directories found under Export/")
	}

	if _, err := os.Stat(filepath.Join(exportRoot, "textures")); err != nil {
		res.Warnings = append(res.Warnings, "textures/ directory absent")
	}

	res.OK = len(res.Errors) == 0
	return res, nil
}

// parseSongDirName reports whether name looks like a numeric song-id
// directory (every rune a decimal digit, non-empty).
func parseSongDirName(name string) (int, bool) {
	if name == "" {
		return 0, false
	}
	for _, r := range name {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n := 0
	for _, r := range name {
		n = n*10 + int(r-'0')
	}
	return n, true
}
