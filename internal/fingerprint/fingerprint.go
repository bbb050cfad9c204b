// Package fingerprint implements C6: a stable semantic hash of a song's
// melody, independent of whitespace, attribute order, and XML namespace
// prefixes.
//
// The dedicated original implementation of this algorithm was not present in
// the retrieved reference corpus (see DESIGN.md), so the tuple-serialization
// below follows the specification's own description verbatim rather than
// reverse-engineered source. FingerprintVersion exists so a future
// correction can invalidate previously cached fingerprints explicitly
// instead of silently drifting.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"os"
	"strconv"
	"strings"

	"github.com/AltEvolutions/spcdb/internal/xmlstream"
)

// FingerprintVersion is bumped whenever the event-tuple serialization format
// changes in a way that would change previously computed fingerprints.
const FingerprintVersion = 1

// resolutionUnits maps a MELODY@Resolution spelling to its note-unit value.
// Unknown spellings fall back to demisemiquaver's 0.125, per the spec.
var resolutionUnits = map[string]float64{
	"semibreve":           4,
	"minim":               2,
	"crotchet":            1,
	"quaver":              0.5,
	"semiquaver":          0.25,
	"demisemiquaver":      0.125,
	"hemidemisemiquaver":  0.0625,
}

const unknownResolutionUnit = 0.125

// smallDelayMsThreshold is the quirk preserved exactly from the original:
// nested MARKER Delay values at or below this are treated as a millisecond
// offset rather than note-units.
const smallDelayMsThreshold = 100000

func unitFor(resolution string) float64 {
	if u, ok := resolutionUnits[strings.ToLower(strings.TrimSpace(resolution))]; ok {
		return u
	}
	return unknownResolutionUnit
}

// FingerprintFile computes the melody fingerprint of the melody_1.xml file
// at path. A missing file is reported as an error; callers treat a missing
// melody as "no fingerprint available" per §4.6, not as fp("").
func FingerprintFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Fingerprint(f)
}

// Fingerprint computes the melody fingerprint from an already-open reader.
func Fingerprint(r interface{ Read([]byte) (int, error) }) (string, error) {
	hash, _, err := walkMelody(r)
	return hash, err
}

// MelodyStats are the melody-derived material-diff signals named in §4.6
// that don't require an external media prober: note count, the pitch
// range, and the melody's total span. These come straight out of the same
// event walk the fingerprint uses, so a conflict occurrence gets them for
// the cost of one parse rather than a second pass over melody_1.xml.
type MelodyStats struct {
	NoteCount int
	PitchMin  int
	PitchMax  int
	SpanMs    int
}

// Stats computes MelodyStats from an already-open reader.
func Stats(r interface{ Read([]byte) (int, error) }) (MelodyStats, error) {
	_, stats, err := walkMelody(r)
	return stats, err
}

// StatsFile computes MelodyStats for the melody_1.xml file at path.
func StatsFile(path string) (MelodyStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return MelodyStats{}, err
	}
	defer f.Close()
	return Stats(f)
}

// walkMelody parses a melody_1.xml document once, producing both the
// canonical event-tuple fingerprint and the lightweight MelodyStats derived
// from the same note events.
func walkMelody(r interface{ Read([]byte) (int, error) }) (string, MelodyStats, error) {
	reader := xmlstream.NewReader(readerAdapter{r})
	melody, err := reader.Next("MELODY")
	if err != nil {
		return "", MelodyStats{}, err
	}

	unit := unitFor(firstAttr(melody, "Resolution", "resolution"))
	tempo := parseFloatAttr(melody, "Tempo", "tempo")
	msPerUnit := 0.0
	if tempo > 0 {
		msPerUnit = 60000.0 / tempo
	}

	var stats MelodyStats
	haveRange := false

	var b strings.Builder
	for _, sentence := range melody.ChildrenNamed("SENTENCE") {
		var pos float64
		for _, child := range sentence.Children {
			delay := parseFloatAttr(child, "Delay", "delay")

			if strings.EqualFold(child.LocalName(), "NOTE") {
				pos += delay * unit
				duration := parseFloatAttr(child, "Duration", "duration") * unit
				midiStr := firstAttr(child, "MidiNote", "midinote", "midi_note")
				lyric := strings.TrimSpace(firstAttr(child, "Lyric", "lyric"))
				writeTuple(&b, "NOTE", fmtFloat(pos), fmtFloat(duration), midiStr, lyric)

				stats.NoteCount++
				if midi, err := strconv.Atoi(strings.TrimSpace(midiStr)); err == nil {
					if !haveRange {
						stats.PitchMin, stats.PitchMax = midi, midi
						haveRange = true
					} else {
						if midi < stats.PitchMin {
							stats.PitchMin = midi
						}
						if midi > stats.PitchMax {
							stats.PitchMax = midi
						}
					}
				}
				if msPerUnit > 0 {
					endMs := int((pos + duration) * msPerUnit)
					if endMs > stats.SpanMs {
						stats.SpanMs = endMs
					}
				}

				for _, marker := range child.Children {
					if strings.EqualFold(marker.LocalName(), "NOTE") {
						continue
					}
					markerDelay := parseFloatAttr(marker, "Delay", "delay")
					var markerPos float64
					if markerDelay <= smallDelayMsThreshold {
						markerPos = pos + markerDelay/1000.0
					} else {
						markerPos = pos + markerDelay*unit
					}
					writeTuple(&b, "MARKER", marker.LocalName(), fmtFloat(markerPos))
				}
				continue
			}

			// Non-NOTE marker at sentence level.
			pos += delay * unit
			writeTuple(&b, "MARKER", child.LocalName(), fmtFloat(pos))
		}
	}

	h := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(h[:]), stats, nil
}

const fieldSep = "\x1f"
const eventSep = "\x1e"

func writeTuple(b *strings.Builder, fields ...string) {
	b.WriteString(strings.Join(fields, fieldSep))
	b.WriteString(eventSep)
}

func fmtFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func firstAttr(el xmlstream.Element, candidates ...string) string {
	if v, ok := el.Attr(candidates...); ok {
		return v
	}
	return ""
}

func parseFloatAttr(el xmlstream.Element, candidates ...string) float64 {
	v := firstAttr(el, candidates...)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0
	}
	return f
}

// readerAdapter lets Fingerprint accept the narrow Read-only interface
// without importing io in the exported signature, since melody files are
// always read from a concrete os.File or bytes.Reader by callers.
type readerAdapter struct {
	r interface{ Read([]byte) (int, error) }
}

func (a readerAdapter) Read(p []byte) (int, error) { return a.r.Read(p) }
