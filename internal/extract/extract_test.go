package extract

import (
	"os"
	"path/filepath"
	"testing"
)

func makeDiscRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	usrdir := filepath.Join(root, "PS3_GAME", "USRDIR")
	if err := os.MkdirAll(usrdir, 0o755); err != nil {
		t.Fatalf("mkdir usrdir: %v", err)
	}
	return root
}

func writePKD(t *testing.T, usrdir, name string) string {
	t.Helper()
	path := filepath.Join(usrdir, name)
	if err := os.WriteFile(path, []byte("fake pkd contents"), 0o644); err != nil {
		t.Fatalf("write pkd: %v", err)
	}
	return path
}

func TestFindPKDFiles(t *testing.T) {
	root := makeDiscRoot(t)
	usrdir := filepath.Join(root, "PS3_GAME", "USRDIR")
	writePKD(t, usrdir, "Pack1.pkd")
	writePKD(t, usrdir, "pack2.PKD")
	if err := os.WriteFile(filepath.Join(usrdir, "notapkd.bin"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := findPKDFiles(usrdir)
	if err != nil {
		t.Fatalf("findPKDFiles: %v", err)
	}
	if len(found) != 2 {
		t.Fatalf("expected 2 pkd files, got %d: %v", len(found), found)
	}
}

func TestPkdOutStatus_CompleteVsIncomplete(t *testing.T) {
	root := t.TempDir()

	complete := filepath.Join(root, "Pack1.pkd_out")
	if err := os.MkdirAll(filepath.Join(complete, "filesystem", "export"), 0o755); err != nil {
		t.Fatal(err)
	}
	ok, exists := pkdOutStatus(complete)
	if !exists || !ok {
		t.Errorf("expected complete=true exists=true, got complete=%v exists=%v", ok, exists)
	}

	incomplete := filepath.Join(root, "Pack2.pkd_out")
	if err := os.MkdirAll(incomplete, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(incomplete, "partial.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	ok, exists = pkdOutStatus(incomplete)
	if !exists || ok {
		t.Errorf("expected complete=false exists=true, got complete=%v exists=%v", ok, exists)
	}

	missing := filepath.Join(root, "Pack3.pkd_out")
	ok, exists = pkdOutStatus(missing)
	if exists || ok {
		t.Errorf("expected complete=false exists=false for missing dir, got complete=%v exists=%v", ok, exists)
	}
}

func TestStripANSIAndControl(t *testing.T) {
	input := "\x1b[32mOK\x1b[0m: done\t\x01\x02"
	got := stripANSIAndControl(input)
	want := "OK: done\t"
	if got != want {
		t.Errorf("stripANSIAndControl(%q) = %q, want %q", input, got, want)
	}
}

func TestHarvest_CopiesExportTreeAndWarnsWithoutConfig(t *testing.T) {
	root := makeDiscRoot(t)
	usrdir := filepath.Join(root, "PS3_GAME", "USRDIR")
	pkd := writePKD(t, usrdir, "Pack1.pkd")

	exportSrc := filepath.Join(pkd+"_out", "filesystem", "export")
	if err := os.MkdirAll(exportSrc, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(exportSrc, "config.xml"), []byte("<CONFIG/>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(exportSrc, "songs_1_0.xml"), []byte("<SONGS/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	n, err := harvest(root, []string{pkd}, nil)
	if err != nil {
		t.Fatalf("harvest failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 harvested files, got %d", n)
	}

	dest := filepath.Join(root, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	if _, err := os.Stat(filepath.Join(dest, "config.xml")); err != nil {
		t.Errorf("expected config.xml at harvested destination: %v", err)
	}
}

func TestExtractDiscPKDs_MovesAsideIncompleteOutput(t *testing.T) {
	root := makeDiscRoot(t)
	usrdir := filepath.Join(root, "PS3_GAME", "USRDIR")
	pkd := writePKD(t, usrdir, "Pack1.pkd")

	incomplete := pkd + "_out"
	if err := os.MkdirAll(incomplete, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(incomplete, "partial.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Use a fake extractor: /bin/true-ish, here the test binary "sh -c" is
	// unavailable via exec path assumptions, so exercise only the
	// move-aside step by checking it happens before the (failing) exec
	// call, which is expected to error since no real extractor is wired.
	stats := &Stats{}
	_ = ExtractDiscPKDs("/nonexistent/extractor-binary", root, nil, nil, false, stats)

	if stats.PKDOutMovedAside != 1 {
		t.Errorf("expected 1 pkd_out moved aside, got %d", stats.PKDOutMovedAside)
	}
	if _, err := os.Stat(incomplete); !os.IsNotExist(err) {
		t.Errorf("expected original incomplete dir to be gone after move-aside")
	}
}

func TestVerifyDiscExtraction_ReportsMissingExportRoot(t *testing.T) {
	root := t.TempDir()
	res, err := VerifyDiscExtraction(root)
	if err != nil {
		t.Fatalf("VerifyDiscExtraction: %v", err)
	}
	if res.OK {
		t.Error("expected OK=false when Export/ root is missing")
	}
	if len(res.Errors) == 0 {
		t.Error("expected at least one error")
	}
}

func TestVerifyDiscExtraction_OKWithSongDirsAndConfig(t *testing.T) {
	root := t.TempDir()
	export := filepath.Join(root, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	if err := os.MkdirAll(filepath.Join(export, "1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(export, "textures"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(export, "config.xml"), []byte("<CONFIG/>"), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := VerifyDiscExtraction(root)
	if err != nil {
		t.Fatalf("VerifyDiscExtraction: %v", err)
	}
	if !res.OK {
		t.Errorf("expected OK=true, got errors=%v warnings=%v", res.Errors, res.Warnings)
	}
	if res.Counts["song_dirs"] != 1 {
		t.Errorf("expected 1 song dir counted, got %d", res.Counts["song_dirs"])
	}
}
