// Package cleanup implements C12: discovering leftover packed-disc
// extraction artifacts (Pack*.pkd archives and their *.pkd_out/ extraction
// trees) and either moving them to a reversible trash location or deleting
// them outright.
//
// Grounded on the teacher's internal/execute/executor.go move/rename
// helpers, generalized here from "replace one file with its winner" to
// "relocate a whole artifact subtree into a timestamped trash bucket."
// Filesystem mutation runs through an injected afero.Fs, matching C10, so
// this component is exercised against afero.NewMemMapFs() in tests.
package cleanup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ncruces/go-strftime"
	"github.com/spf13/afero"

	"github.com/AltEvolutions/spcdb/internal/xerrors"
)

// prunedHugeDirNames are subtrees skipped while walking for pkd_out/
// artifacts, since they are either known-huge (extracted song media) or
// irrelevant to artifact discovery.
var prunedHugeDirNames = map[string]bool{
	"export":     true,
	"filesystem": true,
	"textures":   true,
}

// Stats summarizes one CleanupExtractionArtifacts run.
type Stats struct {
	PKDFilesFound    int
	PKDOutDirsFound  int
	MovedToTrash     int
	Deleted          int
	TrashDestination string
}

// Options configures CleanupExtractionArtifacts.
type Options struct {
	DiscRoot           string
	IncludePKDFiles    bool
	IncludePKDOutDirs  bool
	DeleteInstead      bool
	TrashRootDir       string // defaults to <discs_parent>/_trash
	Fs                 afero.Fs
	DryRun             bool
}

func (o *Options) fs() afero.Fs {
	if o.Fs != nil {
		return o.Fs
	}
	return afero.NewOsFs()
}

// CleanupExtractionArtifacts enumerates Pack*.pkd files and Pack*.pkd_out/
// directories under opts.DiscRoot and relocates or deletes them per opts.
func CleanupExtractionArtifacts(opts Options) (*Stats, error) {
	fsys := opts.fs()
	stats := &Stats{}

	var pkdFiles []string
	var pkdOutDirs []string

	if opts.IncludePKDFiles {
		found, err := findPKDFilesAnywhere(fsys, opts.DiscRoot)
		if err != nil {
			return nil, xerrors.Cleanup("CLEANUP_ENUMERATE_FAILED", "Check that the disc root is readable.", err)
		}
		pkdFiles = found
		stats.PKDFilesFound = len(found)
	}
	if opts.IncludePKDOutDirs {
		found, err := findPKDOutDirs(fsys, opts.DiscRoot)
		if err != nil {
			return nil, xerrors.Cleanup("CLEANUP_ENUMERATE_FAILED", "Check that the disc root is readable.", err)
		}
		pkdOutDirs = found
		stats.PKDOutDirsFound = len(found)
	}

	if opts.DryRun {
		return stats, nil
	}

	artifacts := append(append([]string{}, pkdFiles...), pkdOutDirs...)
	if len(artifacts) == 0 {
		return stats, nil
	}

	if opts.DeleteInstead {
		for _, a := range artifacts {
			if err := fsys.RemoveAll(a); err != nil {
				return stats, xerrors.Cleanup("CLEANUP_DELETE_FAILED", "Check permissions on the artifact path.", err)
			}
			stats.Deleted++
		}
		return stats, nil
	}

	trashRoot := opts.TrashRootDir
	if trashRoot == "" {
		trashRoot = filepath.Join(filepath.Dir(opts.DiscRoot), "_trash")
	}
	discName := filepath.Base(opts.DiscRoot)
	batchDir := filepath.Join(trashRoot, strftime.Format("%Y%m%d-%H%M%S", time.Now()), discName)
	stats.TrashDestination = batchDir

	for _, a := range artifacts {
		rel, err := filepath.Rel(opts.DiscRoot, a)
		if err != nil {
			rel = filepath.Base(a)
		}
		dest := uniqueDest(fsys, filepath.Join(batchDir, rel))
		if err := fsys.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return stats, xerrors.Cleanup("CLEANUP_TRASH_MKDIR_FAILED", "Check permissions on the trash destination.", err)
		}
		if err := moveArtifact(fsys, a, dest); err != nil {
			return stats, xerrors.Cleanup("CLEANUP_MOVE_FAILED", "Check that source and trash destination are writable.", err)
		}
		stats.MovedToTrash++
	}
	return stats, nil
}

// uniqueDest appends _2, _3, ... to dest's base name until no collision
// exists at that path.
func uniqueDest(fsys afero.Fs, dest string) string {
	if exists, _ := afero.Exists(fsys, dest); !exists {
		return dest
	}
	dir := filepath.Dir(dest)
	ext := filepath.Ext(dest)
	base := strings.TrimSuffix(filepath.Base(dest), ext)
	for i := 2; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%d%s", base, i, ext))
		if exists, _ := afero.Exists(fsys, candidate); !exists {
			return candidate
		}
	}
}

// moveArtifact renames src to dest, falling back to copy+delete when rename
// fails (e.g. a cross-device move on the real OS filesystem).
func moveArtifact(fsys afero.Fs, src, dest string) error {
	if err := fsys.Rename(src, dest); err == nil {
		return nil
	}
	if err := copyTree(fsys, src, dest); err != nil {
		return err
	}
	return fsys.RemoveAll(src)
}

func copyTree(fsys afero.Fs, src, dest string) error {
	info, err := fsys.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFileFs(fsys, src, dest)
	}
	return afero.Walk(fsys, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		target := filepath.Join(dest, rel)
		if info.IsDir() {
			return fsys.MkdirAll(target, 0o755)
		}
		return copyFileFs(fsys, path, target)
	})
}

func copyFileFs(fsys afero.Fs, src, dest string) error {
	if err := fsys.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	in, err := fsys.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := fsys.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}

// findPKDFilesAnywhere looks for Pack*.pkd first under USRDIR, then falls
// back to scanning the whole disc root, case-insensitive, per §4.10.
func findPKDFilesAnywhere(fsys afero.Fs, discRoot string) ([]string, error) {
	usrdir := filepath.Join(discRoot, "PS3_GAME", "USRDIR")
	if found, err := findPKDFilesIn(fsys, usrdir); err == nil && len(found) > 0 {
		return found, nil
	}
	var out []string
	err := afero.Walk(fsys, discRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			return nil
		}
		name := strings.ToLower(info.Name())
		if strings.HasPrefix(name, "pack") && strings.HasSuffix(name, ".pkd") {
			out = append(out, path)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}

func findPKDFilesIn(fsys afero.Fs, dir string) ([]string, error) {
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := strings.ToLower(e.Name())
		if strings.HasPrefix(name, "pack") && strings.HasSuffix(name, ".pkd") {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}

// findPKDOutDirs walks discRoot for Pack*.pkd_out/ directories anywhere,
// pruning known-huge/irrelevant subtrees once one is found (never descending
// into an already-matched artifact or into export/filesystem/textures
// trees).
func findPKDOutDirs(fsys afero.Fs, discRoot string) ([]string, error) {
	var out []string
	err := afero.Walk(fsys, discRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		name := strings.ToLower(info.Name())
		if prunedHugeDirNames[name] {
			return filepath.SkipDir
		}
		if strings.HasPrefix(name, "pack") && strings.HasSuffix(name, ".pkd_out") {
			out = append(out, path)
			return filepath.SkipDir
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}
