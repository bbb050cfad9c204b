package execute

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestParseCoverRowsBytes(t *testing.T) {
	buf := []byte(`<?xml version="1.0"?>
<TEXTURE_PAGES xmlns="http://www.singstargame.com">
  <TPAGE_BIT NAME="cover_101" TEXTURE="page_3" X="0" Y="0"/>
  <TPAGE_BIT NAME="cover_102" TEXTURE="page_3"/>
  <TPAGE_BIT NAME="backdrop" TEXTURE="page_9"/>
</TEXTURE_PAGES>`)

	rows, rootOpen, rootName, err := parseCoverRowsBytes(buf)
	if err != nil {
		t.Fatalf("parseCoverRowsBytes: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 cover rows, got %d", len(rows))
	}
	if rows[0].songID != 101 || rows[0].page != 3 {
		t.Errorf("row 0 = (%d, %d), want (101, 3)", rows[0].songID, rows[0].page)
	}
	if !strings.Contains(string(rows[0].raw), `NAME="cover_101"`) {
		t.Errorf("row raw should preserve source attributes, got %q", rows[0].raw)
	}
	if rootName != "TEXTURE_PAGES" || !strings.Contains(rootOpen, "singstargame") {
		t.Errorf("unexpected root: %q / %q", rootOpen, rootName)
	}
}

func TestBuildRewritesCoversToSelectedRows(t *testing.T) {
	base := writeDisc(t, "BASE01", 1, map[int]string{1: "One", 2: "Two"})
	export := filepath.Join(base, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	mustWrite(t, filepath.Join(export, "covers.xml"), `<?xml version="1.0"?>
<TEXTURE_PAGES>
  <TPAGE_BIT NAME="cover_1" TEXTURE="page_1"/>
  <TPAGE_BIT NAME="cover_2" TEXTURE="page_2"/>
</TEXTURE_PAGES>`)
	if err := os.MkdirAll(filepath.Join(export, "textures"), 0o755); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(export, "textures", "page_1.png"), "p1")
	mustWrite(t, filepath.Join(export, "textures", "page_2.png"), "p2")

	fsys := afero.NewMemMapFs()
	outDir := "/out/Covers"
	if _, err := RunBuildSubset(Options{
		BasePath:        base,
		OutDir:          outDir,
		SelectedSongIDs: []int{1},
		Fs:              fsys,
	}); err != nil {
		t.Fatalf("RunBuildSubset failed: %v", err)
	}

	outExport := filepath.Join(outDir, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	buf, err := afero.ReadFile(fsys, filepath.Join(outExport, "covers.xml"))
	if err != nil {
		t.Fatalf("read rewritten covers.xml: %v", err)
	}
	if !strings.Contains(string(buf), `cover_1`) {
		t.Error("covers.xml should keep the selected song's row")
	}
	if strings.Contains(string(buf), `cover_2`) {
		t.Error("covers.xml should drop unselected songs' rows")
	}
}

func TestRetargetBankArtifacts(t *testing.T) {
	fsys := afero.NewMemMapFs()
	export := "/disc/Export"
	files := map[string]string{
		"melodies_1_0.chc": "binary",
		"songs_1_0.xml":    "<SONGS/>",
		"acts_1_0.xml":     "<ACTS/>",
		"songs_2_0.xml":    "<SONGS/>",
		"acts_2_0.xml":     "<ACTS/>",
		"config.xml":       `<CONFIG><VERSION version="1"/></CONFIG>`,
	}
	for name, content := range files {
		if err := afero.WriteFile(fsys, filepath.Join(export, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := retargetBankArtifacts(fsys, export, 1, 2); err != nil {
		t.Fatalf("retargetBankArtifacts: %v", err)
	}

	if exists, _ := afero.Exists(fsys, filepath.Join(export, "melodies_2_0.chc")); !exists {
		t.Error("melodies chc should be renamed to the target bank")
	}
	if exists, _ := afero.Exists(fsys, filepath.Join(export, "songs_1_0.xml")); exists {
		t.Error("old bank's songs xml should be removed")
	}
	if exists, _ := afero.Exists(fsys, filepath.Join(export, "songs_2_0.xml")); !exists {
		t.Error("target bank's songs xml should survive")
	}
	buf, _ := afero.ReadFile(fsys, filepath.Join(export, "config.xml"))
	if !strings.Contains(string(buf), `version="2"`) {
		t.Errorf("config.xml should reference the target bank, got %s", buf)
	}

	if err := retargetBankArtifacts(fsys, export, 2, 2); err != nil {
		t.Fatalf("same-bank retarget should be a no-op: %v", err)
	}
}
