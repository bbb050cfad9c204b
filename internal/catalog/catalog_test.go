package catalog

import (
	"testing"

	"github.com/AltEvolutions/spcdb/internal/discindex"
)

func TestBuildSongCatalogBaseFirstWinsOwnership(t *testing.T) {
	sources := []Source{
		{
			Label:  BaseLabel,
			IsBase: true,
			Songs: map[int]discindex.SongMeta{
				1: {SongID: 1, Title: "Base One", Artist: "Base Artist"},
			},
		},
		{
			Label: "DonorA",
			Songs: map[int]discindex.SongMeta{
				1: {SongID: 1, Title: "Donor One", Artist: "Donor Artist"},
				2: {SongID: 2, Title: "Donor Two", Artist: "Donor Artist 2"},
			},
		},
	}

	rows, labelToIDs := BuildSongCatalog(sources)

	if len(rows) != 2 {
		t.Fatalf("expected 2 catalog rows, got %d", len(rows))
	}
	if rows[0].SongID != 1 || rows[0].PreferredSource != BaseLabel || rows[0].Title != "Base One" {
		t.Fatalf("expected base to win song 1 and keep its title, got %+v", rows[0])
	}
	if len(rows[0].Sources) != 2 {
		t.Fatalf("expected song 1 to have 2 sources, got %v", rows[0].Sources)
	}
	if rows[1].SongID != 2 || rows[1].PreferredSource != "DonorA" {
		t.Fatalf("expected DonorA to own song 2 exclusively, got %+v", rows[1])
	}

	if !labelToIDs[BaseLabel][1] {
		t.Fatalf("expected Base to own song 1")
	}
	if !labelToIDs["DonorA"][2] {
		t.Fatalf("expected DonorA to own song 2")
	}
}

func TestApplyOverridesPrunesStaleLabels(t *testing.T) {
	rows := []SongAgg{
		{SongID: 1, PreferredSource: BaseLabel, Sources: []string{BaseLabel, "DonorA"}},
		{SongID: 2, PreferredSource: "DonorA", Sources: []string{"DonorA"}},
	}

	applied, pruned := ApplyOverrides(rows, map[int]string{
		1: "DonorA",    // valid: DonorA is in song 1's sources
		2: "DonorB",    // invalid: DonorB never had song 2
		3: "DonorA",    // invalid: song 3 doesn't exist
	})

	if applied[1] != "DonorA" {
		t.Fatalf("expected override on song 1 to apply, got %v", applied)
	}
	if rows[0].PreferredSource != "DonorA" {
		t.Fatalf("expected song 1's preferred source to become DonorA, got %s", rows[0].PreferredSource)
	}
	if _, ok := pruned[2]; !ok {
		t.Fatalf("expected override on song 2 to be pruned")
	}
	if _, ok := pruned[3]; !ok {
		t.Fatalf("expected override on nonexistent song 3 to be pruned")
	}
	if len(applied) != 1 {
		t.Fatalf("expected exactly 1 applied override, got %d", len(applied))
	}
}
