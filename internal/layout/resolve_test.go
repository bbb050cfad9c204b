package layout

import (
	"os"
	"path/filepath"
	"testing"
)

func mkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", path, err)
	}
}

func TestResolveExportFolderDirectly(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "Export")
	mkdirAll(t, export)

	ri, err := Resolve(export)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ri.Kind != KindExportOnly {
		t.Fatalf("expected export_only, got %s", ri.Kind)
	}
	if ri.ExportRoot != export {
		t.Fatalf("expected export root %s, got %s", export, ri.ExportRoot)
	}
}

func TestResolveFullDisc(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	mkdirAll(t, export)

	ri, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ri.Kind != KindFullDisc {
		t.Fatalf("expected full_disc, got %s", ri.Kind)
	}
	if len(ri.Warnings) != 0 {
		t.Fatalf("expected no warnings for canonical casing, got %v", ri.Warnings)
	}
}

func TestResolveFullDiscCasingWarning(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "PS3_GAME", "USRDIR", "filesystem", "Export")
	mkdirAll(t, export)

	ri, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ri.Kind != KindFullDisc {
		t.Fatalf("expected full_disc, got %s", ri.Kind)
	}
	if len(ri.Warnings) == 0 {
		t.Fatalf("expected a casing warning")
	}
}

func TestResolveWrapperDirectory(t *testing.T) {
	dir := t.TempDir()
	export := filepath.Join(dir, "extra_level", "disc_root", "Export")
	mkdirAll(t, export)

	ri, err := Resolve(dir)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ri.Kind != KindWrapper {
		t.Fatalf("expected wrapper, got %s", ri.Kind)
	}
}

func TestResolveFailsWithNoExportRoot(t *testing.T) {
	dir := t.TempDir()
	mkdirAll(t, filepath.Join(dir, "unrelated"))

	if _, err := Resolve(dir); err == nil {
		t.Fatalf("expected resolution failure")
	}
}

func TestResolvePrunesTrashDirectories(t *testing.T) {
	dir := t.TempDir()
	mkdirAll(t, filepath.Join(dir, "_trash", "Export"))

	if _, err := Resolve(dir); err == nil {
		t.Fatalf("expected resolution failure when the only Export/ lives under _trash")
	}
}
