package conflict

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AltEvolutions/spcdb/internal/catalog"
)

func writeMelody(t *testing.T, exportRoot string, songID int, noteMidi int) {
	t.Helper()
	dir := filepath.Join(exportRoot, itoaTest(songID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := `<MELODY Tempo="120" Resolution="4"><SENTENCE><NOTE MidiNote="` + itoaTest(noteMidi) + `" Duration="1" Delay="0" Lyric="la"/></SENTENCE></MELODY>`
	if err := os.WriteFile(filepath.Join(dir, "melody_1.xml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func itoaTest(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestComputeSongIDConflicts_DetectsDifferingMelody(t *testing.T) {
	baseRoot := t.TempDir()
	donorRoot := t.TempDir()
	writeMelody(t, baseRoot, 1, 60)
	writeMelody(t, donorRoot, 1, 61)

	rows := []catalog.SongAgg{
		{SongID: 1, Title: "Song", PreferredSource: catalog.BaseLabel, Sources: []string{catalog.BaseLabel, "DonorA"}},
	}
	exportRoots := map[string]string{catalog.BaseLabel: baseRoot, "DonorA": donorRoot}

	candidates := ComputeSongIDConflicts(rows, exportRoots)
	occurs, ok := candidates[1]
	if !ok {
		t.Fatalf("expected song 1 to be a conflict candidate")
	}
	if len(occurs) != 2 {
		t.Fatalf("expected 2 occurrences, got %d", len(occurs))
	}
	if occurs[0].Melody1SHA1 == occurs[1].Melody1SHA1 {
		t.Error("expected differing melody content to produce differing SHA-1s")
	}
	if occurs[0].Melody1FP == occurs[1].Melody1FP {
		t.Error("expected differing MIDI notes to produce differing fingerprints")
	}
}

func TestComputeSongIDConflicts_IdenticalMelodyNotACandidate(t *testing.T) {
	baseRoot := t.TempDir()
	donorRoot := t.TempDir()
	writeMelody(t, baseRoot, 2, 60)
	writeMelody(t, donorRoot, 2, 60)

	rows := []catalog.SongAgg{
		{SongID: 2, Title: "Song", PreferredSource: catalog.BaseLabel, Sources: []string{catalog.BaseLabel, "DonorA"}},
	}
	exportRoots := map[string]string{catalog.BaseLabel: baseRoot, "DonorA": donorRoot}

	candidates := ComputeSongIDConflicts(rows, exportRoots)
	if _, ok := candidates[2]; ok {
		t.Fatalf("expected byte-identical melody files across sources not to be a conflict candidate")
	}
}
