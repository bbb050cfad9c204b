package discindex

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfigXML = `<?xml version="1.0"?>
<CONFIG xmlns="http://www.singstargame.com">
  <PRODUCT_CODE>BLES00000</PRODUCT_CODE>
  <VERSION version="1"/>
</CONFIG>`

const testSongsXML = `<?xml version="1.0"?>
<SONGS>
  <SONG ID="1"><TITLE>One</TITLE><PERFORMANCE_NAME>Artist One</PERFORMANCE_NAME></SONG>
</SONGS>`

const testActsXML = `<?xml version="1.0"?>
<ACTS></ACTS>`

func writeDiscFixture(t *testing.T) (discRoot, exportRoot string) {
	t.Helper()
	dir := t.TempDir()
	export := filepath.Join(dir, "PS3_GAME", "USRDIR", "FileSystem", "Export")
	if err := os.MkdirAll(export, 0o755); err != nil {
		t.Fatal(err)
	}
	must := func(name, content string) {
		if err := os.WriteFile(filepath.Join(export, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	must("config.xml", testConfigXML)
	must("songs_1_0.xml", testSongsXML)
	must("acts_1_0.xml", testActsXML)
	return dir, export
}

func TestIndexDiscParsesSongs(t *testing.T) {
	discRoot, _ := writeDiscFixture(t)

	idx, songs, err := IndexDisc(nil, discRoot)
	if err != nil {
		t.Fatalf("IndexDisc: %v", err)
	}
	if idx.ChosenBank > idx.MaxBank {
		t.Fatalf("chosen bank %d exceeds max bank %d", idx.ChosenBank, idx.MaxBank)
	}
	if idx.SongCount != 1 {
		t.Fatalf("expected 1 song, got %d", idx.SongCount)
	}
	song, ok := songs[1]
	if !ok || song.Title != "One" || song.Artist != "Artist One" {
		t.Fatalf("unexpected song record: %+v ok=%v", song, ok)
	}
}

func TestCacheRoundTripsWhenNothingChanged(t *testing.T) {
	discRoot, _ := writeDiscFixture(t)
	cacheDir := t.TempDir()

	cache, err := OpenCacheStore(cacheDir)
	if err != nil {
		t.Fatalf("OpenCacheStore: %v", err)
	}

	idx1, songs1, err := IndexDisc(cache, discRoot)
	if err != nil {
		t.Fatalf("IndexDisc (cold): %v", err)
	}

	idx2, songs2, err := IndexDisc(cache, discRoot)
	if err != nil {
		t.Fatalf("IndexDisc (warm): %v", err)
	}

	if idx1.SongCount != idx2.SongCount || idx1.ChosenBank != idx2.ChosenBank {
		t.Fatalf("cache round-trip mismatch: %+v vs %+v", idx1, idx2)
	}
	if len(songs1) != len(songs2) {
		t.Fatalf("song map size mismatch: %d vs %d", len(songs1), len(songs2))
	}
}

func TestCacheInvalidatesOnContentEdit(t *testing.T) {
	discRoot, exportRoot := writeDiscFixture(t)
	cacheDir := t.TempDir()

	cache, err := OpenCacheStore(cacheDir)
	if err != nil {
		t.Fatalf("OpenCacheStore: %v", err)
	}

	if _, _, err := IndexDisc(cache, discRoot); err != nil {
		t.Fatalf("IndexDisc (cold): %v", err)
	}

	status := cache.GetStatus(discRoot, exportRoot, filepath.Join(exportRoot, "songs_1_0.xml"), filepath.Join(exportRoot, "acts_1_0.xml"))
	if status.Stale {
		t.Fatalf("expected fresh cache entry right after indexing, got stale: %s", status.Reason)
	}

	// Ensure the mtime actually advances on filesystems with coarse mtime
	// resolution before appending to config.xml.
	time.Sleep(10 * time.Millisecond)
	cfgPath := filepath.Join(exportRoot, "config.xml")
	data, _ := os.ReadFile(cfgPath)
	if err := os.WriteFile(cfgPath, append(data, []byte("<!-- edited -->")...), 0o644); err != nil {
		t.Fatal(err)
	}
	now := time.Now().Add(time.Second)
	_ = os.Chtimes(cfgPath, now, now)

	status = cache.GetStatus(discRoot, exportRoot, filepath.Join(exportRoot, "songs_1_0.xml"), filepath.Join(exportRoot, "acts_1_0.xml"))
	if !status.Stale {
		t.Fatalf("expected stale cache entry after editing config.xml")
	}
}
