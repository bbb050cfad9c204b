package hashutil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestFileSHA1Deterministic(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "a.bin", []byte("hello world"))

	h1, err := FileSHA1(p)
	if err != nil {
		t.Fatalf("FileSHA1: %v", err)
	}
	h2, err := FileSHA1(p)
	if err != nil {
		t.Fatalf("FileSHA1: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected deterministic hash, got %s vs %s", h1, h2)
	}
	if len(h1) != 40 {
		t.Fatalf("expected 40 hex chars, got %d", len(h1))
	}
}

func TestLooksLikeValidMP4TooSmall(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "tiny.mp4", []byte("ftypmoov"))

	ok, err := LooksLikeValidMP4(p)
	if err != nil {
		t.Fatalf("LooksLikeValidMP4: %v", err)
	}
	if ok {
		t.Fatalf("expected invalid for file under 1024 bytes")
	}
}

func TestLooksLikeValidMP4HeadAndTail(t *testing.T) {
	dir := t.TempDir()

	padding := make([]byte, 2048)
	for i := range padding {
		padding[i] = 'x'
	}

	data := append([]byte("....ftyp"), padding...)
	data = append(data, []byte("mdat")...)
	data = append(data, padding...)

	p := writeFile(t, dir, "valid.mp4", data)

	ok, err := LooksLikeValidMP4(p)
	if err != nil {
		t.Fatalf("LooksLikeValidMP4: %v", err)
	}
	if !ok {
		t.Fatalf("expected valid MP4 sanity result")
	}
}

func TestLooksLikeValidMP4NoFtyp(t *testing.T) {
	dir := t.TempDir()
	data := make([]byte, 4096)
	for i := range data {
		data[i] = 'z'
	}
	p := writeFile(t, dir, "notmp4.bin", data)

	ok, err := LooksLikeValidMP4(p)
	if err != nil {
		t.Fatalf("LooksLikeValidMP4: %v", err)
	}
	if ok {
		t.Fatalf("expected invalid without ftyp marker")
	}
}
