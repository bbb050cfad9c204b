package conflict

import "testing"

func TestFindConflictCandidatesRequiresTwoSourcesAndSHA1Mismatch(t *testing.T) {
	bySongID := map[int][]Occur{
		1: {
			{SongID: 1, SourceLabel: "Base", Melody1SHA1: "aaa"},
			{SongID: 1, SourceLabel: "DonorA", Melody1SHA1: "bbb"},
		},
		2: {
			{SongID: 2, SourceLabel: "Base", Melody1SHA1: "same"},
			{SongID: 2, SourceLabel: "DonorA", Melody1SHA1: "same"},
		},
		3: {
			{SongID: 3, SourceLabel: "Base", Melody1SHA1: "only"},
		},
		4: {
			{SongID: 4, SourceLabel: "Base", Melody1SHA1: ""},
			{SongID: 4, SourceLabel: "DonorA", Melody1SHA1: ""},
		},
	}

	candidates := FindConflictCandidates(bySongID)

	if _, ok := candidates[1]; !ok {
		t.Fatalf("expected song 1 (SHA-1 mismatch) to be a candidate")
	}
	if _, ok := candidates[2]; ok {
		t.Fatalf("song 2 has identical SHA-1s, should not be a candidate")
	}
	if _, ok := candidates[3]; ok {
		t.Fatalf("song 3 has only one source, should not be a candidate")
	}
	if _, ok := candidates[4]; ok {
		t.Fatalf("song 4 has matching 'missing' sentinels on both sides, should not be a candidate")
	}
}

func TestFindConflictCandidatesMissingOnOneSideIsAConflict(t *testing.T) {
	bySongID := map[int][]Occur{
		5: {
			{SongID: 5, SourceLabel: "Base", Melody1SHA1: "aaa"},
			{SongID: 5, SourceLabel: "DonorA", Melody1SHA1: ""},
		},
	}
	candidates := FindConflictCandidates(bySongID)
	if _, ok := candidates[5]; !ok {
		t.Fatalf("expected missing-on-one-side to count as a SHA-1 mismatch")
	}
}

func TestClassifyIdenticalPrefersBase(t *testing.T) {
	occurs := []Occur{
		{SongID: 1, SourceLabel: "DonorA", Title: "Song", Artist: "Artist", Melody1FP: "fp1", SourceOrder: 0},
		{SongID: 1, SourceLabel: "Base", Title: "Song", Artist: "Artist", Melody1FP: "fp1", IsBase: true, SourceOrder: -1},
	}
	c := Classify(occurs)
	if c.Class != ClassIdentical {
		t.Fatalf("expected identical, got %s", c.Class)
	}
	if c.Recommendation != "Base" {
		t.Fatalf("expected Base to be recommended, got %s", c.Recommendation)
	}
}

func TestClassifyEffectiveOnMaterialDiff(t *testing.T) {
	occurs := []Occur{
		{SongID: 1, SourceLabel: "Base", Title: "Song", Artist: "Artist", Melody1FP: "fp1", IsBase: true,
			MediaSignals: MediaSignals{VideoBytes: 0}},
		{SongID: 1, SourceLabel: "DonorA", Title: "Song", Artist: "Artist", Melody1FP: "fp1",
			MediaSignals: MediaSignals{VideoBytes: 1000}},
	}
	c := Classify(occurs)
	if c.Class != ClassEffective {
		t.Fatalf("expected effective, got %s", c.Class)
	}
	if c.Recommendation != "DonorA" {
		t.Fatalf("expected DonorA (sole video source) to be recommended, got %s", c.Recommendation)
	}
}

func TestClassifyDifferentWhenFingerprintsDiffer(t *testing.T) {
	occurs := []Occur{
		{SongID: 1, SourceLabel: "Base", Melody1FP: "fp1", IsBase: true},
		{SongID: 1, SourceLabel: "DonorA", Melody1FP: "fp2"},
	}
	c := Classify(occurs)
	if c.Class != ClassDifferent {
		t.Fatalf("expected different, got %s", c.Class)
	}
	if c.Recommendation != "" {
		t.Fatalf("expected no recommendation for a truly different conflict, got %s", c.Recommendation)
	}
}

func TestBestQualityLabelPrefersHigherResolutionThenBaseOnTie(t *testing.T) {
	occurs := []Occur{
		{SourceLabel: "DonorA", MediaSignals: MediaSignals{VideoWidth: 640, VideoHeight: 480}},
		{SourceLabel: "DonorB", MediaSignals: MediaSignals{VideoWidth: 1920, VideoHeight: 1080}},
	}
	if got := BestQualityLabel(occurs); got != "DonorB" {
		t.Fatalf("expected DonorB (higher resolution), got %s", got)
	}

	tied := []Occur{
		{SourceLabel: "DonorA", IsBase: false, SourceOrder: 1, MediaSignals: MediaSignals{VideoWidth: 640, VideoHeight: 480}},
		{SourceLabel: "Base", IsBase: true, SourceOrder: -1, MediaSignals: MediaSignals{VideoWidth: 640, VideoHeight: 480}},
	}
	if got := BestQualityLabel(tied); got != "Base" {
		t.Fatalf("expected Base to win an exact tie, got %s", got)
	}
}
