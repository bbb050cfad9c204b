package execute

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"

	"github.com/AltEvolutions/spcdb/internal/buildplan"
	"github.com/AltEvolutions/spcdb/internal/catalog"
)

func writeBuiltOutput(t *testing.T, fsys afero.Fs, export, songsXML string) {
	t.Helper()
	if err := fsys.MkdirAll(filepath.Join(export, "1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := afero.WriteFile(fsys, filepath.Join(export, "songs_1_0.xml"), []byte(songsXML), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestComputeSongDiffFlagsMetaMismatch(t *testing.T) {
	fsys := afero.NewMemMapFs()
	export := "/out/Export"
	writeBuiltOutput(t, fsys, export,
		`<?xml version="1.0"?><SONGS><SONG ID="1"><TITLE>Wrong Title</TITLE></SONG></SONGS>`)

	plan := buildplan.BuildPlan{Winners: map[int]string{1: catalog.BaseLabel}}
	rowsByID := map[int]catalog.SongAgg{
		1: {SongID: 1, Title: "Right Title", Artist: "Someone", Sources: []string{catalog.BaseLabel}},
	}

	rows, err := computeSongDiff(fsys, export, []int{1}, plan, rowsByID)
	if err != nil {
		t.Fatalf("computeSongDiff: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != DiffMetaMismatch {
		t.Fatalf("expected a META_MISMATCH row, got %+v", rows)
	}
}

func TestComputeSongDiffNormalizedMatchIsOK(t *testing.T) {
	fsys := afero.NewMemMapFs()
	export := "/out/Export"
	// Casing and surrounding whitespace differences are not a mismatch.
	writeBuiltOutput(t, fsys, export,
		`<?xml version="1.0"?><SONGS><SONG ID="1"><TITLE>  right title </TITLE></SONG></SONGS>`)

	plan := buildplan.BuildPlan{Winners: map[int]string{1: catalog.BaseLabel}}
	rowsByID := map[int]catalog.SongAgg{
		1: {SongID: 1, Title: "Right Title", Sources: []string{catalog.BaseLabel}},
	}

	rows, err := computeSongDiff(fsys, export, []int{1}, plan, rowsByID)
	if err != nil {
		t.Fatalf("computeSongDiff: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != DiffOK {
		t.Fatalf("expected an OK row for a normalized match, got %+v", rows)
	}
}
