// Package conflict implements C8: detecting song-id collisions across
// sources and classifying them as identical, effectively identical, or
// truly different.
//
// Text comparison follows the NFC-normalization step of the teacher's
// internal/meta/normalize.go (normalizeArtistLocal); the final auto-pick
// scoring follows the lexicographic-tuple-then-tie-break shape of
// internal/score/scorer.go's CalculateQualityScore + selectWinner, re-keyed
// from codec/bit-depth/sample-rate signals to pixel/kbps/fps/byte-size
// signals.
package conflict

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Occur is a per-source occurrence of a song, used for conflict analysis.
type Occur struct {
	SongID       int
	Title        string
	Artist       string
	SourceLabel  string
	Melody1SHA1  string // empty means the file is absent
	Melody1FP    string // semantic fingerprint; empty means unavailable
	IsBase       bool
	SourceOrder  int // position in the donor order, base = -1
	MediaSignals MediaSignals
}

// MediaSignals holds the optional, best-effort media probe values used in
// material-diff comparison and auto-pick-best-quality scoring.
type MediaSignals struct {
	DurationMs    int
	ReleaseYear   int
	HasMelody     bool
	TotalBytes    int64
	AudioBytes    int64
	VideoBytes    int64
	NoteCount     int
	PitchMin      int
	PitchMax      int
	MelodySpanMs  int
	VideoWidth    int
	VideoHeight   int
	VideoKbps     int
	FPSMilli      int // frames per second * 1000, to keep it an integer
	AudioChannels int
	SampleRate    int
}

// Class is the classification outcome for a conflicted song id.
type Class string

const (
	ClassIdentical Class = "identical"
	ClassEffective Class = "effective"
	ClassDifferent Class = "different"
)

// durationToleranceMs and spanToleranceMs are the tolerances named in §4.6.
const (
	durationToleranceMs = 250
	spanToleranceMs     = 250
)

// FindConflictCandidates filters songID -> occurrences down to ids that
// appear in >=2 sources with not-all-equal raw melody SHA-1s (a missing
// file counts as its own distinct value).
func FindConflictCandidates(bySongID map[int][]Occur) map[int][]Occur {
	out := make(map[int][]Occur)
	for id, occurs := range bySongID {
		if len(occurs) < 2 {
			continue
		}
		if allSHA1Equal(occurs) {
			continue
		}
		out[id] = occurs
	}
	return out
}

func allSHA1Equal(occurs []Occur) bool {
	first := sha1Key(occurs[0])
	for _, o := range occurs[1:] {
		if sha1Key(o) != first {
			return false
		}
	}
	return true
}

// sha1Key treats a missing melody file as a distinct sentinel value so that
// "present with hash X" never compares equal to "absent".
func sha1Key(o Occur) string {
	if o.Melody1SHA1 == "" {
		return "\x00missing"
	}
	return o.Melody1SHA1
}

// Classification is the result of classifying one conflicted song id.
type Classification struct {
	SongID         int
	Class          Class
	MaterialDiffs  []string
	Recommendation string // source label, or "" if none
}

// Classify classifies a candidate's occurrences.
func Classify(occurs []Occur) Classification {
	c := Classification{SongID: occurs[0].SongID}

	if allFingerprintsEqual(occurs) {
		diffs := materialDiffs(occurs)
		if len(diffs) == 0 {
			c.Class = ClassIdentical
			c.Recommendation = recommendIdentical(occurs)
		} else {
			c.Class = ClassEffective
			c.MaterialDiffs = diffs
			c.Recommendation = recommendEffective(occurs)
		}
		return c
	}

	c.Class = ClassDifferent
	return c
}

func allFingerprintsEqual(occurs []Occur) bool {
	for _, o := range occurs {
		if o.Melody1FP == "" {
			return false
		}
	}
	first := occurs[0].Melody1FP
	for _, o := range occurs[1:] {
		if o.Melody1FP != first {
			return false
		}
	}
	return true
}

// materialDiffs returns a human-readable list of pairwise differences found
// among occurs, considering only the fields named in §4.6.
func materialDiffs(occurs []Occur) []string {
	var diffs []string
	base := occurs[0]
	for _, o := range occurs[1:] {
		if NormalizeText(o.Title) != NormalizeText(base.Title) {
			diffs = append(diffs, "title")
		}
		if NormalizeText(o.Artist) != NormalizeText(base.Artist) {
			diffs = append(diffs, "artist")
		}
		if abs(o.MediaSignals.DurationMs-base.MediaSignals.DurationMs) > durationToleranceMs {
			diffs = append(diffs, "duration")
		}
		if o.MediaSignals.ReleaseYear != base.MediaSignals.ReleaseYear {
			diffs = append(diffs, "release_year")
		}
		if o.MediaSignals.HasMelody != base.MediaSignals.HasMelody {
			diffs = append(diffs, "melody_presence")
		}
		if o.MediaSignals.TotalBytes != base.MediaSignals.TotalBytes {
			diffs = append(diffs, "total_size")
		}
		if o.MediaSignals.AudioBytes != base.MediaSignals.AudioBytes {
			diffs = append(diffs, "audio_size")
		}
		if o.MediaSignals.VideoBytes != base.MediaSignals.VideoBytes {
			diffs = append(diffs, "video_size")
		}
		if o.MediaSignals.NoteCount != base.MediaSignals.NoteCount {
			diffs = append(diffs, "note_count")
		}
		if o.MediaSignals.PitchMin != base.MediaSignals.PitchMin || o.MediaSignals.PitchMax != base.MediaSignals.PitchMax {
			diffs = append(diffs, "pitch_range")
		}
		if abs(o.MediaSignals.MelodySpanMs-base.MediaSignals.MelodySpanMs) > spanToleranceMs {
			diffs = append(diffs, "melody_span")
		}
	}
	return dedupe(diffs)
}

// NormalizeText NFC-normalizes, trims, and casefolds a title/artist string
// for comparison; the build verification sidecars use the same folding when
// diffing expected against built metadata.
func NormalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(norm.NFC.String(s)))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// recommendIdentical prefers the base, else the first source in order.
func recommendIdentical(occurs []Occur) string {
	for _, o := range occurs {
		if o.IsBase {
			return o.SourceLabel
		}
	}
	return firstInOrder(occurs).SourceLabel
}

// recommendEffective implements the safe-recommendation rules for the
// "effective" class: exactly one source with video/audio wins outright;
// otherwise resolution-area or video-size dominance; otherwise no
// recommendation.
func recommendEffective(occurs []Occur) string {
	withVideo := filterHas(occurs, func(o Occur) bool { return o.MediaSignals.VideoBytes > 0 })
	withAudio := filterHas(occurs, func(o Occur) bool { return o.MediaSignals.AudioBytes > 0 })
	if len(withVideo) == 1 {
		return withVideo[0].SourceLabel
	}
	if len(withAudio) == 1 {
		return withAudio[0].SourceLabel
	}

	if len(occurs) == 2 {
		a, b := occurs[0], occurs[1]
		areaA := int64(a.MediaSignals.VideoWidth) * int64(a.MediaSignals.VideoHeight)
		areaB := int64(b.MediaSignals.VideoWidth) * int64(b.MediaSignals.VideoHeight)
		if areaA > 0 && areaB > 0 {
			if float64(areaA) >= float64(areaB)*1.5 {
				return a.SourceLabel
			}
			if float64(areaB) >= float64(areaA)*1.5 {
				return b.SourceLabel
			}
		}
		if a.MediaSignals.VideoBytes > 0 && b.MediaSignals.VideoBytes > 0 {
			if float64(a.MediaSignals.VideoBytes) >= float64(b.MediaSignals.VideoBytes)*1.8 {
				return a.SourceLabel
			}
			if float64(b.MediaSignals.VideoBytes) >= float64(a.MediaSignals.VideoBytes)*1.8 {
				return b.SourceLabel
			}
		}
	}

	return ""
}

func filterHas(occurs []Occur, pred func(Occur) bool) []Occur {
	var out []Occur
	for _, o := range occurs {
		if pred(o) {
			out = append(out, o)
		}
	}
	return out
}

func firstInOrder(occurs []Occur) Occur {
	best := occurs[0]
	for _, o := range occurs[1:] {
		if o.SourceOrder < best.SourceOrder {
			best = o
		}
	}
	return best
}

// BestQualityLabel implements auto-pick-best-quality: a lexicographic tuple
// (pixel_count, video_kbps, fps_milli, video_bytes, total_bytes, is_base,
// -position_in_source_order), highest tuple wins, mirroring scorer.go's
// selectWinner tie-breaker chain.
func BestQualityLabel(occurs []Occur) string {
	if len(occurs) == 0 {
		return ""
	}
	winner := occurs[0]
	for _, o := range occurs[1:] {
		if qualityTupleLess(winner, o) {
			winner = o
		}
	}
	return winner.SourceLabel
}

// qualityTupleLess reports whether a's quality tuple sorts before b's (so b
// wins the comparison).
func qualityTupleLess(a, b Occur) bool {
	pa := int64(a.MediaSignals.VideoWidth) * int64(a.MediaSignals.VideoHeight)
	pb := int64(b.MediaSignals.VideoWidth) * int64(b.MediaSignals.VideoHeight)
	if pa != pb {
		return pa < pb
	}
	if a.MediaSignals.VideoKbps != b.MediaSignals.VideoKbps {
		return a.MediaSignals.VideoKbps < b.MediaSignals.VideoKbps
	}
	if a.MediaSignals.FPSMilli != b.MediaSignals.FPSMilli {
		return a.MediaSignals.FPSMilli < b.MediaSignals.FPSMilli
	}
	if a.MediaSignals.VideoBytes != b.MediaSignals.VideoBytes {
		return a.MediaSignals.VideoBytes < b.MediaSignals.VideoBytes
	}
	if a.MediaSignals.TotalBytes != b.MediaSignals.TotalBytes {
		return a.MediaSignals.TotalBytes < b.MediaSignals.TotalBytes
	}
	if a.IsBase != b.IsBase {
		return !a.IsBase // base (true) beats non-base (false)
	}
	// Lower source order (earlier in donor order) wins ties; expressed as
	// "-position_in_source_order" in the spec, so a higher (later) order
	// loses.
	return a.SourceOrder > b.SourceOrder
}
