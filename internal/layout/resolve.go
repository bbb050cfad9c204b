// Package layout implements C3: mapping a user-provided path to a canonical
// Export/ root, tolerating several real-world layout variants and emitting
// advisory warnings instead of failing on casing deviations.
package layout

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/AltEvolutions/spcdb/internal/xerrors"
)

// Kind classifies how a ResolvedInput's export root relates to the disc.
type Kind string

const (
	KindFullDisc   Kind = "full_disc"
	KindExportOnly Kind = "export_only"
	KindWrapper    Kind = "wrapper"
	KindPacked     Kind = "packed"
)

// ResolvedInput is the outcome of resolving a user-supplied path.
type ResolvedInput struct {
	Original     string
	ResolvedRoot string
	ExportRoot   string
	Kind         Kind
	Warnings     []string
}

const maxWrapperDepth = 4

var prunedDirNames = map[string]bool{
	"_trash":      true,
	".git":        true,
	"__pycache__": true,
}

// exportSuffixVariants are the case variants of PS3_GAME/USRDIR/FileSystem/Export
// tried when walking a full-disc root, in preference order.
var exportSuffixVariants = []string{
	filepath.Join("PS3_GAME", "USRDIR", "FileSystem", "Export"),
	filepath.Join("PS3_GAME", "USRDIR", "filesystem", "Export"),
	filepath.Join("PS3_GAME", "USRDIR", "FileSystem", "export"),
	filepath.Join("PS3_GAME", "USRDIR", "filesystem", "export"),
}

// Resolve maps inputPath onto a canonical export root, per §4.1.
func Resolve(inputPath string) (*ResolvedInput, error) {
	abs, err := filepath.Abs(inputPath)
	if err != nil {
		return nil, xerrors.Resolve("RESOLVE_EXPORT_ROOT", "Check that the path exists.", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, xerrors.Resolve("RESOLVE_EXPORT_ROOT", "Check that the path exists and is readable.", err)
	}
	if !info.IsDir() {
		return nil, xerrors.Resolvef("RESOLVE_EXPORT_ROOT", "Point at a disc folder, not a file.",
			"%s is not a directory", abs)
	}

	ri := &ResolvedInput{Original: inputPath, ResolvedRoot: abs}

	// (c) an Export/ folder directly.
	if isExportRoot(abs) {
		ri.ExportRoot = abs
		ri.Kind = KindExportOnly
		return ri, nil
	}

	// (a) a full extracted disc.
	for _, suffix := range exportSuffixVariants {
		candidate := filepath.Join(abs, suffix)
		if dirExists(candidate) {
			ri.ExportRoot = candidate
			ri.Kind = KindFullDisc
			if !strings.Contains(suffix, "FileSystem") {
				ri.Warnings = append(ri.Warnings, "layout casing deviation: expected 'FileSystem', found lowercase variant")
			}
			return ri, nil
		}
	}

	// (d) a still-packed disc: only .pkd files under USRDIR, no Export yet.
	if usrdir := findUSRDIR(abs, maxWrapperDepth); usrdir != "" {
		if hasPKDFiles(usrdir) {
			ri.ExportRoot = filepath.Join(usrdir, "FileSystem", "Export")
			ri.Kind = KindPacked
			return ri, nil
		}
	}

	// (b) a wrapper directory containing a disc up to 4 levels deep.
	if found := findExportWithinDepth(abs, maxWrapperDepth); found != "" {
		ri.ExportRoot = found
		ri.Kind = KindWrapper
		ri.Warnings = append(ri.Warnings, "resolved via wrapper search: export root was not at the expected top level")
		return ri, nil
	}

	return nil, xerrors.Resolvef("RESOLVE_EXPORT_ROOT",
		"Point at a full disc root, an Export/ folder, or a wrapper directory containing one.",
		"no plausible Export/ root found under %s", abs)
}

// Close releases any resources owned by ri. ResolvedInput never owns a temp
// directory in this implementation (no input source requires materializing
// one before resolution completes), but the method is kept so callers can
// treat every ResolvedInput uniformly and `defer ri.Close()` unconditionally.
func (ri *ResolvedInput) Close() error { return nil }

func isExportRoot(dir string) bool {
	base := filepath.Base(dir)
	if !strings.EqualFold(base, "Export") {
		return false
	}
	return dirExists(dir)
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func findUSRDIR(root string, depth int) string {
	var found string
	walkBounded(root, depth, func(path string, isDir bool) bool {
		if isDir && strings.EqualFold(filepath.Base(path), "USRDIR") {
			found = path
			return false
		}
		return true
	})
	return found
}

func hasPKDFiles(usrdir string) bool {
	entries, err := os.ReadDir(usrdir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(strings.ToLower(e.Name()), "pack") && strings.HasSuffix(strings.ToLower(e.Name()), ".pkd") {
			return true
		}
	}
	return false
}

func findExportWithinDepth(root string, depth int) string {
	var found string
	walkBounded(root, depth, func(path string, isDir bool) bool {
		if isDir && strings.EqualFold(filepath.Base(path), "Export") {
			found = path
			return false
		}
		return true
	})
	return found
}

// walkBounded walks root to the given depth (root counts as depth 0),
// pruning directories in prunedDirNames, invoking visit(path, isDir) for
// every entry; visit returns false to stop the walk early.
func walkBounded(root string, depth int, visit func(path string, isDir bool) bool) {
	type item struct {
		path  string
		level int
	}
	stack := []item{{root, 0}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		entries, err := os.ReadDir(cur.path)
		if err != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() && prunedDirNames[strings.ToLower(name)] {
				continue
			}
			full := filepath.Join(cur.path, name)
			if !visit(full, e.IsDir()) {
				return
			}
			if e.IsDir() && cur.level < depth {
				stack = append(stack, item{full, cur.level + 1})
			}
		}
	}
}
