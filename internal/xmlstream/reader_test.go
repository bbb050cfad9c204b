package xmlstream

import (
	"strings"
	"testing"
)

const sampleSongsXML = `<?xml version="1.0"?>
<SONGS xmlns="http://www.singstargame.com">
  <SONG ID="1">
    <TITLE>First Song</TITLE>
    <PERFORMANCE_NAME>Explicit Artist</PERFORMANCE_NAME>
  </SONG>
  <SONG song_id="2">
    <SONG_NAME>Second Song</SONG_NAME>
    <PERFORMED_BY ID="7"/>
  </SONG>
</SONGS>`

func TestReaderStreamsSongsCaseInsensitively(t *testing.T) {
	r := NewReader(strings.NewReader(sampleSongsXML))

	var ids []string
	err := r.ForEach([]string{"SONG"}, func(el Element) error {
		id, ok := el.Text("ID", "SONG_ID", "id", "song_id")
		if !ok {
			t.Fatalf("expected an id on every SONG element")
		}
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(ids) != 2 || ids[0] != "1" || ids[1] != "2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}

func TestElementTitlePreferenceOrder(t *testing.T) {
	r := NewReader(strings.NewReader(sampleSongsXML))

	first, err := r.Next("SONG")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	title, ok := first.Text("TITLE", "SONG_NAME", "NAME")
	if !ok || title != "First Song" {
		t.Fatalf("expected 'First Song', got %q ok=%v", title, ok)
	}

	second, err := r.Next("SONG")
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	title2, ok := second.Text("TITLE", "SONG_NAME", "NAME")
	if !ok || title2 != "Second Song" {
		t.Fatalf("expected 'Second Song', got %q ok=%v", title2, ok)
	}
	if _, ok := second.Child("PERFORMED_BY"); !ok {
		t.Fatalf("expected a PERFORMED_BY child on the second song")
	}
}
