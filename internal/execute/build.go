package execute

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ncruces/go-strftime"
	"github.com/spf13/afero"

	"github.com/AltEvolutions/spcdb/internal/buildplan"
	"github.com/AltEvolutions/spcdb/internal/catalog"
	"github.com/AltEvolutions/spcdb/internal/discindex"
	"github.com/AltEvolutions/spcdb/internal/layout"
	"github.com/AltEvolutions/spcdb/internal/progress"
	"github.com/AltEvolutions/spcdb/internal/util"
	"github.com/AltEvolutions/spcdb/internal/xerrors"
)

// copyRootFor decides what tree the base copy phase reproduces: the full
// disc root for a full (or wrapper-resolved) disc, or just the export tree
// for an export-only base. It returns that source root plus the export
// root's path relative to it, so the same layout can be reproduced inside
// the temp and output directories. For an export-only base the relative
// path is ".".
func copyRootFor(ri *layout.ResolvedInput) (srcRoot, relExport string, err error) {
	switch ri.Kind {
	case layout.KindFullDisc:
		srcRoot = ri.ResolvedRoot
	case layout.KindWrapper:
		// The disc root is the ancestor holding PS3_GAME; when the wrapper
		// found an Export/ outside that convention, copy the export tree only.
		srcRoot = discRootAbove(ri.ExportRoot)
		if srcRoot == "" {
			srcRoot = ri.ExportRoot
		}
	default:
		srcRoot = ri.ExportRoot
	}

	relExport, err = filepath.Rel(srcRoot, ri.ExportRoot)
	if err != nil || strings.HasPrefix(relExport, "..") {
		return "", "", xerrors.Fatal("RESOLVE_EXPORT_ROOT", "The export root is expected inside the resolved disc root.",
			fmt.Errorf("export root %s is not under copy root %s", ri.ExportRoot, srcRoot))
	}
	return srcRoot, relExport, nil
}

// discRootAbove walks up from an export root looking for the directory whose
// PS3_GAME/USRDIR chain contains it, returning "" when the layout does not
// follow the convention.
func discRootAbove(exportRoot string) string {
	dir := exportRoot
	for i := 0; i < 4; i++ {
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		if strings.EqualFold(filepath.Base(parent), "PS3_GAME") {
			return filepath.Dir(parent)
		}
		dir = parent
	}
	return ""
}

// runFullBuild implements the default (non-fast-update) path: copy the base
// disc (full tree for a full disc, export tree only for an export-only base)
// into a fresh temp directory, prune it to the selected set, merge in donor
// song folders, rewrite the catalog indexes, then atomically replace OutDir
// with the finished temp directory.
func runFullBuild(
	opts *Options,
	fsys afero.Fs,
	sink progress.Sink,
	cancel *progress.CancelToken,
	baseRI *layout.ResolvedInput,
	baseIdx *discindex.DiscIndex,
	sources []*resolvedSource,
	plan buildplan.BuildPlan,
	rowsByID map[int]catalog.SongAgg,
	targetVersion int,
	baseSignature string,
	start time.Time,
) (*Result, error) {
	srcRoot, relExport, err := copyRootFor(baseRI)
	if err != nil {
		return nil, err
	}

	tempDir := opts.OutDir + ".building-" + uuid.NewString()[:8]
	tempExport := filepath.Join(tempDir, relExport)

	progress.Phase(sink, "copy_base", "Copying base disc to the build temp directory")
	if err := copyOSDirToFs(fsys, srcRoot, tempDir); err != nil {
		_ = fsys.RemoveAll(tempDir)
		return nil, xerrors.Fatal("COPY_BASE_FAILED", "Check free space and permissions on the output volume.", err)
	}
	if err := cancel.RaiseIfCancelled(); err != nil {
		cleanupTemp(fsys, tempDir, opts.KeepTempOnCancel)
		return nil, err
	}

	progress.Phase(sink, "prune", "Pruning to the selected song set")
	keep := make(map[int]bool, len(opts.SelectedSongIDs))
	for _, id := range opts.SelectedSongIDs {
		keep[id] = true
	}
	prunedN, err := pruneSongFolders(fsys, tempExport, keep)
	if err != nil {
		cleanupTemp(fsys, tempDir, opts.KeepTempOnCancel)
		return nil, xerrors.Fatal("PRUNE_FAILED", "Check permissions on the build temp directory.", err)
	}
	progress.Log(sink, progress.LevelInfo, "prune", "removed %d song folder(s) not in the selection", prunedN)

	if err := cancel.RaiseIfCancelled(); err != nil {
		cleanupTemp(fsys, tempDir, opts.KeepTempOnCancel)
		return nil, err
	}

	progress.Phase(sink, "merge", "Merging donor song folders")
	if err := mergeSongFolders(fsys, tempExport, sources, plan, cancel, sink); err != nil {
		cleanupTemp(fsys, tempDir, opts.KeepTempOnCancel)
		return nil, err
	}

	if err := cancel.RaiseIfCancelled(); err != nil {
		cleanupTemp(fsys, tempDir, opts.KeepTempOnCancel)
		return nil, err
	}

	progress.Phase(sink, "rewrite", "Rewriting songs, acts, and covers indexes")
	if err := rewriteIndexes(fsys, tempExport, targetVersion, opts.SelectedSongIDs, plan, baseIdx.SongsXML, baseIdx.ActsXML, sources); err != nil {
		cleanupTemp(fsys, tempDir, opts.KeepTempOnCancel)
		return nil, err
	}
	if err := rewriteCoversAndTextures(fsys, tempExport, opts.SelectedSongIDs, plan, baseRI.ExportRoot, sources); err != nil {
		cleanupTemp(fsys, tempDir, opts.KeepTempOnCancel)
		return nil, err
	}
	if err := retargetBankArtifacts(fsys, tempExport, baseIdx.ChosenBank, targetVersion); err != nil {
		cleanupTemp(fsys, tempDir, opts.KeepTempOnCancel)
		return nil, err
	}

	dedupe := computeDedupeStats(plan, rowsByID)

	progress.Phase(sink, "finalize", "Replacing the output directory")
	if err := finalizeOutput(fsys, tempDir, opts.OutDir, opts.AllowOverwriteOutput, opts.KeepBackupOfExistingOutput); err != nil {
		return nil, err
	}

	outExport := filepath.Join(opts.OutDir, relExport)
	songDiff, err := computeSongDiff(fsys, outExport, opts.SelectedSongIDs, plan, rowsByID)
	if err != nil {
		return nil, err
	}

	result := &Result{OutDir: opts.OutDir, Plan: plan, Dedupe: dedupe, SongDiff: songDiff,
		ElapsedSec: time.Since(start).Seconds()}
	if err := writeSidecars(fsys, opts, result, baseSignature); err != nil {
		return nil, err
	}
	progress.Log(sink, progress.LevelSuccess, "finalize", "build complete: %s", opts.OutDir)
	return result, nil
}

// runFastUpdate mutates an existing, previously built OutDir in place:
// prunes anything no longer selected, merges in any newly needed song
// folders, and rewrites the indexes, skipping the full base-copy phase. It
// refuses to run when the existing output's recorded base signature (from
// its own prior build report) does not match the current base, since the
// overlay is only sound against the same base content the output was built
// from.
func runFastUpdate(
	opts *Options,
	fsys afero.Fs,
	sink progress.Sink,
	cancel *progress.CancelToken,
	baseRI *layout.ResolvedInput,
	baseIdx *discindex.DiscIndex,
	sources []*resolvedSource,
	plan buildplan.BuildPlan,
	rowsByID map[int]catalog.SongAgg,
	targetVersion int,
	baseSignature string,
	start time.Time,
) (*Result, error) {
	if ok, _ := afero.DirExists(fsys, opts.OutDir); !ok {
		progress.Log(sink, progress.LevelWarn, "copy_base", "fast-update requested but %s does not exist yet; falling back to a full build", opts.OutDir)
		return runFullBuild(opts, fsys, sink, cancel, baseRI, baseIdx, sources, plan, rowsByID, targetVersion, baseSignature, start)
	}

	if err := checkFastUpdateSignature(fsys, opts.OutDir, baseSignature); err != nil {
		return nil, err
	}

	_, relExport, err := copyRootFor(baseRI)
	if err != nil {
		return nil, err
	}
	outExport := filepath.Join(opts.OutDir, relExport)

	if opts.KeepBackupOfExistingOutput {
		if err := backupIndexFiles(fsys, outExport, opts.OutDir, targetVersion); err != nil {
			return nil, err
		}
	}

	progress.Phase(sink, "prune", "Pruning to the selected song set (fast update)")
	keep := make(map[int]bool, len(opts.SelectedSongIDs))
	for _, id := range opts.SelectedSongIDs {
		keep[id] = true
	}
	prunedN, err := pruneSongFolders(fsys, outExport, keep)
	if err != nil {
		return nil, xerrors.Fatal("PRUNE_FAILED", "Check permissions on the existing output directory.", err)
	}
	progress.Log(sink, progress.LevelInfo, "prune", "removed %d song folder(s) not in the selection", prunedN)

	if err := cancel.RaiseIfCancelled(); err != nil {
		return nil, err
	}

	progress.Phase(sink, "merge", "Merging newly needed donor song folders")
	if err := mergeSongFolders(fsys, outExport, sources, plan, cancel, sink); err != nil {
		return nil, err
	}
	// Songs won by base but not yet present (first time a base-only id joins
	// the selection after a prior fast update) need copying in too.
	for id, label := range plan.Winners {
		if label != catalog.BaseLabel {
			continue
		}
		destDir := filepath.Join(outExport, fmt.Sprint(id))
		if exists, _ := afero.DirExists(fsys, destDir); exists {
			continue
		}
		srcDir := filepath.Join(baseRI.ExportRoot, fmt.Sprint(id))
		if err := copyOSDirToFs(fsys, srcDir, destDir); err != nil {
			return nil, xerrors.Fatal("MERGE_SONG_FAILED", "Check the base disc's song folder for permission or corruption issues.", err)
		}
	}

	if err := cancel.RaiseIfCancelled(); err != nil {
		return nil, err
	}

	progress.Phase(sink, "rewrite", "Rewriting songs, acts, and covers indexes")
	if err := rewriteIndexes(fsys, outExport, targetVersion, opts.SelectedSongIDs, plan, baseIdx.SongsXML, baseIdx.ActsXML, sources); err != nil {
		return nil, err
	}
	if err := rewriteCoversAndTextures(fsys, outExport, opts.SelectedSongIDs, plan, baseRI.ExportRoot, sources); err != nil {
		return nil, err
	}
	if err := retargetBankArtifacts(fsys, outExport, baseIdx.ChosenBank, targetVersion); err != nil {
		return nil, err
	}

	dedupe := computeDedupeStats(plan, rowsByID)
	songDiff, err := computeSongDiff(fsys, outExport, opts.SelectedSongIDs, plan, rowsByID)
	if err != nil {
		return nil, err
	}
	result := &Result{OutDir: opts.OutDir, Plan: plan, Dedupe: dedupe, SongDiff: songDiff,
		ElapsedSec: time.Since(start).Seconds()}
	if err := writeSidecars(fsys, opts, result, baseSignature); err != nil {
		return nil, err
	}
	progress.Log(sink, progress.LevelSuccess, "finalize", "fast update complete: %s", opts.OutDir)
	return result, nil
}

// checkFastUpdateSignature reads the prior build report next to outDir and
// compares its recorded base signature with the current base's.
func checkFastUpdateSignature(fsys afero.Fs, outDir, baseSignature string) error {
	reportPath := outDir + "_build_report.json"
	buf, err := afero.ReadFile(fsys, reportPath)
	if err != nil {
		return xerrors.Fatal("FAST_UPDATE_NO_REPORT", "Run a full build first; fast update needs the prior build report to verify compatibility.", err)
	}
	var rep buildReport
	if err := json.Unmarshal(buf, &rep); err != nil {
		return xerrors.Fatal("FAST_UPDATE_NO_REPORT", "The prior build report is unreadable; run a full build.", err)
	}
	if rep.BaseSignature == "" || rep.BaseSignature != baseSignature {
		return xerrors.Fatal("FAST_UPDATE_SIGNATURE_MISMATCH", "The base disc changed since the output was built; run a full build instead.",
			fmt.Errorf("recorded base signature %q does not match current %q", rep.BaseSignature, baseSignature))
	}
	return nil
}

// backupIndexFiles copies the catalog index files a fast update is about to
// rewrite into a timestamped sibling directory of outDir.
func backupIndexFiles(fsys afero.Fs, outExport, outDir string, bank int) error {
	backupDir := outDir + ".backup." + strftime.Format("%Y%m%d-%H%M%S", time.Now())
	names := []string{
		fmt.Sprintf("songs_%d_0.xml", bank),
		fmt.Sprintf("acts_%d_0.xml", bank),
		"covers.xml",
		"config.xml",
	}
	for _, name := range names {
		src := filepath.Join(outExport, name)
		info, err := fsys.Stat(src)
		if err != nil || info.IsDir() {
			continue
		}
		if err := copyFsFile(fsys, src, filepath.Join(backupDir, name), info); err != nil {
			return xerrors.Fatal("BACKUP_FAILED", "Check permissions next to the output directory.", err)
		}
	}
	return nil
}

// finalizeOutput replaces outDir with tempDir, optionally timestamp-backing
// up any pre-existing outDir first. Rename is attempted first; if the two
// directories are on different filesystems (or the backend otherwise rejects
// a bare rename) it falls back to a recursive copy-then-remove.
func finalizeOutput(fsys afero.Fs, tempDir, outDir string, allowOverwrite, keepBackup bool) error {
	exists, err := afero.DirExists(fsys, outDir)
	if err != nil {
		return xerrors.Fatal("FINALIZE_STAT_FAILED", "Check permissions on the output directory's parent.", err)
	}
	if exists {
		if !allowOverwrite {
			return xerrors.Fatal("OUTPUT_EXISTS", "Pass --overwrite, or choose a different --out path.",
				fmt.Errorf("%s already exists", outDir))
		}
		if keepBackup {
			backupDir := outDir + ".backup." + strftime.Format("%Y%m%d-%H%M%S", time.Now())
			if err := fsys.Rename(outDir, backupDir); err != nil {
				return xerrors.Fatal("BACKUP_FAILED", "Check permissions on the output directory's parent.", err)
			}
		} else {
			if err := fsys.RemoveAll(outDir); err != nil {
				return xerrors.Fatal("FINALIZE_REMOVE_FAILED", "Check permissions on the existing output directory.", err)
			}
		}
	}

	renameErr := util.Retry(util.DefaultRetryConfig(), func() error {
		return fsys.Rename(tempDir, outDir)
	}, fmt.Sprintf("finalize rename %s -> %s", tempDir, outDir))
	if renameErr != nil {
		if copyErr := copyFsDirToFs(fsys, tempDir, outDir); copyErr != nil {
			return xerrors.Fatal("FINALIZE_RENAME_FAILED", "Check that the temp and output directories are on the same volume, or have write access to both.", copyErr)
		}
		_ = fsys.RemoveAll(tempDir)
	}
	return nil
}

func cleanupTemp(fsys afero.Fs, tempDir string, keep bool) {
	if keep {
		return
	}
	_ = fsys.RemoveAll(tempDir)
}

// RenderPreflightSummary formats a BuildPlan as the human-readable preflight
// summary sidecar written next to the output disc.
func RenderPreflightSummary(plan buildplan.BuildPlan, selected []int, songSourcesByID map[int]map[string]bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Preflight summary for %d selected song(s)\n", len(selected))
	fmt.Fprintln(&b, strings.Repeat("-", 40))

	labels := make([]string, 0, len(plan.PlannedCounts))
	for label := range plan.PlannedCounts {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	for _, label := range labels {
		fmt.Fprintf(&b, "%-24s planned=%-5d override=%-5d implicit=%-5d\n",
			label, plan.PlannedCounts[label], plan.OverrideCounts[label], plan.ImplicitCounts[label])
	}

	if len(plan.MissingInAllSources) > 0 {
		fmt.Fprintf(&b, "\nMISSING in every source (%d): %v\n", len(plan.MissingInAllSources), plan.MissingInAllSources)
	}
	if len(plan.MismatchedPreferredSource) > 0 {
		fmt.Fprintf(&b, "MISMATCHED preferred source (%d): %v\n", len(plan.MismatchedPreferredSource), plan.MismatchedPreferredSource)
	}
	if len(plan.UnusedNeededDonors) > 0 {
		fmt.Fprintf(&b, "UNUSED needed donors: %v\n", plan.UnusedNeededDonors)
	}
	return b.String()
}
