package execute

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/AltEvolutions/spcdb/internal/buildplan"
	"github.com/AltEvolutions/spcdb/internal/progress"
	"github.com/AltEvolutions/spcdb/internal/xerrors"
)

// writeDisc lays out a minimal full disc whose PS3_GAME/USRDIR/FileSystem/Export
// holds config.xml, songs_1_0.xml, acts_1_0.xml, and one folder per song id
// with a melody_1.xml, under a fresh OS temp directory, returning the disc root.
func writeDisc(t *testing.T, productCode string, bank int, songs map[int]string) string {
	t.Helper()
	root := t.TempDir()
	export := filepath.Join(root, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	if err := os.MkdirAll(export, 0o755); err != nil {
		t.Fatalf("mkdir export: %v", err)
	}

	config := `<?xml version="1.0"?>
<CONFIG xmlns="http://www.singstargame.com">
  <PRODUCT_CODE>` + productCode + `</PRODUCT_CODE>
  <PRODUCT_DESC>Test Disc</PRODUCT_DESC>
  <VERSION version="` + itoa(bank) + `"/>
</CONFIG>`
	mustWrite(t, filepath.Join(export, "config.xml"), config)

	var songsXML, actsXML string
	songsXML += `<?xml version="1.0"?><SONGS>`
	actsXML += `<?xml version="1.0"?><ACTS>`
	for id, title := range songs {
		songsXML += `<SONG><ID>` + itoa(id) + `</ID><TITLE>` + title + `</TITLE><PERFORMED_BY>` + itoa(id) + `</PERFORMED_BY></SONG>`
		actsXML += `<ACT><ID>` + itoa(id) + `</ID><NAME>Artist ` + itoa(id) + `</NAME></ACT>`

		songDir := filepath.Join(export, itoa(id))
		if err := os.MkdirAll(songDir, 0o755); err != nil {
			t.Fatalf("mkdir song dir: %v", err)
		}
		mustWrite(t, filepath.Join(songDir, "melody_1.xml"),
			`<MELODY Tempo="120" Resolution="4"><SENTENCE><NOTE MidiNote="60" Duration="1" Delay="0" Lyric="la"/></SENTENCE></MELODY>`)
	}
	songsXML += `</SONGS>`
	actsXML += `</ACTS>`
	mustWrite(t, filepath.Join(export, "songs_"+itoa(bank)+"_0.xml"), songsXML)
	mustWrite(t, filepath.Join(export, "acts_"+itoa(bank)+"_0.xml"), actsXML)

	return root
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestRunBuildSubset_FullBuildBaseOnly(t *testing.T) {
	base := writeDisc(t, "BASE01", 1, map[int]string{1: "Song One", 2: "Song Two"})

	fsys := afero.NewMemMapFs()
	outDir := "/out/MergedDisc"

	result, err := RunBuildSubset(Options{
		BasePath:        base,
		OutDir:          outDir,
		SelectedSongIDs: []int{1, 2},
		Fs:              fsys,
	})
	if err != nil {
		t.Fatalf("RunBuildSubset failed: %v", err)
	}
	if result == nil {
		t.Fatal("expected a non-nil result")
	}

	exportRoot := filepath.Join(outDir, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	if exists, _ := afero.Exists(fsys, filepath.Join(exportRoot, "songs_1_0.xml")); !exists {
		t.Fatal("expected rewritten songs_1_0.xml in output")
	}
	for _, id := range []string{"1", "2"} {
		if exists, _ := afero.DirExists(fsys, filepath.Join(exportRoot, id)); !exists {
			t.Errorf("expected song dir %s to survive in output", id)
		}
	}

	for _, sidecar := range []string{
		outDir + "_preflight_summary.txt",
		outDir + "_build_report.json",
		outDir + "_build_report.txt",
		outDir + "_transfer_notes.txt",
		outDir + "_expected_songs.csv",
		outDir + "_built_songs.csv",
		outDir + "_song_diff.csv",
	} {
		if exists, _ := afero.Exists(fsys, sidecar); !exists {
			t.Errorf("expected sidecar %s to be written", sidecar)
		}
	}

	buf, err := afero.ReadFile(fsys, outDir+"_build_report.json")
	if err != nil {
		t.Fatalf("read build report: %v", err)
	}
	var rep struct {
		Tool          string `json:"tool"`
		BaseSignature string `json:"base_signature"`
	}
	if err := json.Unmarshal(buf, &rep); err != nil {
		t.Fatalf("unmarshal build report: %v", err)
	}
	if rep.Tool != "SPCDB" {
		t.Errorf("build report tool = %q, want SPCDB", rep.Tool)
	}
	if rep.BaseSignature == "" {
		t.Error("build report should record the base signature")
	}
}

func TestRunBuildSubset_BlocksOnPreflightErrors(t *testing.T) {
	base := writeDisc(t, "BASE01", 1, map[int]string{1: "Song One"})
	// Removing the songs XML makes the base fail preflight validation.
	export := filepath.Join(base, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	if err := os.Remove(filepath.Join(export, "songs_1_0.xml")); err != nil {
		t.Fatalf("remove songs xml: %v", err)
	}

	fsys := afero.NewMemMapFs()
	outDir := "/out/Blocked"

	var reportText string
	_, err := RunBuildSubset(Options{
		BasePath:          base,
		OutDir:            outDir,
		SelectedSongIDs:   []int{1},
		PreflightValidate: true,
		BlockOnErrors:     true,
		Fs:                fsys,
		PreflightReportCB: func(text string) { reportText = text },
	})
	if err == nil {
		t.Fatal("expected a BuildBlocked error")
	}
	var xe *xerrors.Error
	if !errors.As(err, &xe) || xe.Kind != xerrors.KindBlocked {
		t.Fatalf("expected kind %s, got %v", xerrors.KindBlocked, err)
	}
	if reportText == "" {
		t.Error("expected the preflight report to be published to the callback")
	}
	if exists, _ := afero.DirExists(fsys, outDir); exists {
		t.Error("no output directory should exist after a blocked build")
	}
}

func TestRunBuildSubset_PreCancelledTokenShortCircuits(t *testing.T) {
	base := writeDisc(t, "BASE01", 1, map[int]string{1: "Song One"})
	fsys := afero.NewMemMapFs()
	outDir := "/out/Cancelled"

	token := progress.NewCancelToken()
	token.Cancel()

	_, err := RunBuildSubset(Options{
		BasePath:        base,
		OutDir:          outDir,
		SelectedSongIDs: []int{1},
		Fs:              fsys,
		Cancel:          token,
	})
	if !xerrors.IsCancelled(err) {
		t.Fatalf("expected a cancellation error, got %v", err)
	}
	if exists, _ := afero.DirExists(fsys, outDir); exists {
		t.Error("no output directory should be created for a cancelled build")
	}
}

func TestRunBuildSubset_FastUpdateRefusesOnBaseChange(t *testing.T) {
	base := writeDisc(t, "BASE01", 1, map[int]string{1: "Song One", 2: "Song Two"})
	fsys := afero.NewMemMapFs()
	outDir := "/out/FastUpdate"

	if _, err := RunBuildSubset(Options{
		BasePath:        base,
		OutDir:          outDir,
		SelectedSongIDs: []int{1, 2},
		Fs:              fsys,
	}); err != nil {
		t.Fatalf("initial build failed: %v", err)
	}

	// Edit the base's songs XML so its index signature no longer matches the
	// one recorded in the output's build report.
	export := filepath.Join(base, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	songsPath := filepath.Join(export, "songs_1_0.xml")
	buf, err := os.ReadFile(songsPath)
	if err != nil {
		t.Fatalf("read songs xml: %v", err)
	}
	mustWrite(t, songsPath, string(buf)+"<!-- edited -->")

	_, err = RunBuildSubset(Options{
		BasePath:                 base,
		OutDir:                   outDir,
		SelectedSongIDs:          []int{1},
		FastUpdateExistingOutput: true,
		Fs:                       fsys,
	})
	if err == nil {
		t.Fatal("expected fast update to refuse a changed base")
	}
	var xe *xerrors.Error
	if !errors.As(err, &xe) || xe.Code != "FAST_UPDATE_SIGNATURE_MISMATCH" {
		t.Fatalf("expected FAST_UPDATE_SIGNATURE_MISMATCH, got %v", err)
	}
}

func TestRunBuildSubset_FastUpdateAppliesSelectionChange(t *testing.T) {
	base := writeDisc(t, "BASE01", 1, map[int]string{1: "Song One", 2: "Song Two"})
	fsys := afero.NewMemMapFs()
	outDir := "/out/FastUpdate2"

	if _, err := RunBuildSubset(Options{
		BasePath:        base,
		OutDir:          outDir,
		SelectedSongIDs: []int{1, 2},
		Fs:              fsys,
	}); err != nil {
		t.Fatalf("initial build failed: %v", err)
	}

	if _, err := RunBuildSubset(Options{
		BasePath:                 base,
		OutDir:                   outDir,
		SelectedSongIDs:          []int{1},
		FastUpdateExistingOutput: true,
		Fs:                       fsys,
	}); err != nil {
		t.Fatalf("fast update failed: %v", err)
	}

	exportRoot := filepath.Join(outDir, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	if exists, _ := afero.DirExists(fsys, filepath.Join(exportRoot, "1")); !exists {
		t.Error("expected song 1 to remain after fast update")
	}
	if exists, _ := afero.DirExists(fsys, filepath.Join(exportRoot, "2")); exists {
		t.Error("expected song 2 to be pruned by the fast update")
	}
}

func TestRunBuildSubset_PruneUnselectedSong(t *testing.T) {
	base := writeDisc(t, "BASE01", 1, map[int]string{1: "Song One", 2: "Song Two", 3: "Song Three"})

	fsys := afero.NewMemMapFs()
	outDir := "/out/Pruned"

	_, err := RunBuildSubset(Options{
		BasePath:        base,
		OutDir:          outDir,
		SelectedSongIDs: []int{1},
		Fs:              fsys,
	})
	if err != nil {
		t.Fatalf("RunBuildSubset failed: %v", err)
	}

	exportRoot := filepath.Join(outDir, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	if exists, _ := afero.DirExists(fsys, filepath.Join(exportRoot, "1")); !exists {
		t.Error("expected selected song 1 to remain")
	}
	for _, id := range []string{"2", "3"} {
		if exists, _ := afero.DirExists(fsys, filepath.Join(exportRoot, id)); exists {
			t.Errorf("expected unselected song %s to be pruned", id)
		}
	}
}

func TestRunBuildSubset_DonorOverlay(t *testing.T) {
	base := writeDisc(t, "BASE01", 1, map[int]string{1: "Base Song"})
	donor := writeDisc(t, "DONOR1", 1, map[int]string{2: "Donor Song"})

	fsys := afero.NewMemMapFs()
	outDir := "/out/WithDonor"

	result, err := RunBuildSubset(Options{
		BasePath:        base,
		Sources:         map[string]string{"DonorA": donor},
		DonorOrder:      []string{"DonorA"},
		OutDir:          outDir,
		SelectedSongIDs: []int{1, 2},
		Fs:              fsys,
	})
	if err != nil {
		t.Fatalf("RunBuildSubset failed: %v", err)
	}
	if result.Plan.PlannedCounts["DonorA"] == 0 {
		t.Errorf("expected DonorA to win at least one song, got counts=%v", result.Plan.PlannedCounts)
	}

	exportRoot := filepath.Join(outDir, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	if exists, _ := afero.DirExists(fsys, filepath.Join(exportRoot, "2")); !exists {
		t.Error("expected donor song 2 to be merged into output")
	}
}

func TestRunBuildSubset_EmptySelectionFailsFast(t *testing.T) {
	base := writeDisc(t, "BASE01", 1, map[int]string{1: "Song One"})
	fsys := afero.NewMemMapFs()

	_, err := RunBuildSubset(Options{
		BasePath:        base,
		OutDir:          "/out/Empty",
		SelectedSongIDs: nil,
		Fs:              fsys,
	})
	if err == nil {
		t.Fatal("expected an error for an empty selection")
	}
	if exists, _ := afero.DirExists(fsys, "/out/Empty"); exists {
		t.Error("no output directory should be created for a fast-failed build")
	}
}

func TestFormatPreflightSummary_ReportsOverrideAndUnusedDonor(t *testing.T) {
	plan := buildplan.FormatPreflightSummary(
		[]int{1, 2, 3},
		[]string{"DonorA", "DonorB"},
		map[int]string{1: "DonorA"},
		map[int]map[string]bool{
			1: {"Base": true, "DonorA": true},
			2: {"Base": true},
			3: {"DonorA": true},
		},
		[]string{"DonorA"},
	)
	if plan.OverrideCounts["DonorA"] == 0 {
		t.Error("expected an override count for DonorA")
	}
	if plan.ImplicitCounts["DonorA"] == 0 {
		t.Error("expected an implicit count for DonorA (song 3 has no base source)")
	}
	if len(plan.UnusedNeededDonors) != 1 || plan.UnusedNeededDonors[0] != "DonorB" {
		t.Errorf("expected DonorB to be flagged unused, got %v", plan.UnusedNeededDonors)
	}
}
