package conflict

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/AltEvolutions/spcdb/internal/catalog"
	"github.com/AltEvolutions/spcdb/internal/fingerprint"
	"github.com/AltEvolutions/spcdb/internal/hashutil"
	"github.com/AltEvolutions/spcdb/internal/mediaprobe"
)

// mediaFileCandidates are the filenames (case variants) §6 names for a
// song's audio/video assets.
var mediaFileCandidates = map[string][]string{
	"audio": {"preview.mp4", "preview.m4v", "preview.MP4"},
	"video": {"video.mp4", "video.m4v", "video.MP4"},
}

// ComputeSongIDConflicts builds one Occur per (song, source) pair present in
// catalogRows, reads each source's melody_1.xml for the raw SHA-1 and
// semantic fingerprint when present, and returns the candidate set per §4.6:
// ids appearing in >=2 sources whose raw SHA-1s are not all equal.
//
// exportRootsByLabel maps every source label (including catalog.BaseLabel)
// to that source's resolved Export/ root.
func ComputeSongIDConflicts(catalogRows []catalog.SongAgg, exportRootsByLabel map[string]string) map[int][]Occur {
	bySongID := make(map[int][]Occur, len(catalogRows))
	for _, row := range catalogRows {
		orderByLabel := make(map[string]int, len(row.Sources))
		for i, label := range row.Sources {
			orderByLabel[label] = i
		}

		var occurs []Occur
		for _, label := range row.Sources {
			root, ok := exportRootsByLabel[label]
			if !ok {
				continue
			}
			occur := Occur{
				SongID:      row.SongID,
				Title:       row.Title,
				Artist:      row.Artist,
				SourceLabel: label,
				IsBase:      label == catalog.BaseLabel,
				SourceOrder: orderByLabel[label],
			}
			if label == catalog.BaseLabel {
				occur.SourceOrder = -1
			}

			songDir := filepath.Join(root, strconv.Itoa(row.SongID))
			melodyPath := filepath.Join(songDir, "melody_1.xml")
			if _, err := os.Stat(melodyPath); err == nil {
				if sha1, err := hashutil.FileSHA1(melodyPath); err == nil {
					occur.Melody1SHA1 = sha1
				}
				if fp, err := fingerprint.FingerprintFile(melodyPath); err == nil {
					occur.Melody1FP = fp
					occur.MediaSignals.HasMelody = true
				}
				if stats, err := fingerprint.StatsFile(melodyPath); err == nil {
					occur.MediaSignals.NoteCount = stats.NoteCount
					occur.MediaSignals.PitchMin = stats.PitchMin
					occur.MediaSignals.PitchMax = stats.PitchMax
					occur.MediaSignals.MelodySpanMs = stats.SpanMs
				}
			}
			populateMediaSignals(&occur.MediaSignals, songDir)
			occurs = append(occurs, occur)
		}
		if len(occurs) > 0 {
			bySongID[row.SongID] = occurs
		}
	}
	return FindConflictCandidates(bySongID)
}

// populateMediaSignals fills in the file-size and (when ffprobe is on PATH)
// video/audio stream signals used by material-diff comparison and
// auto-pick-best-quality scoring. Missing files or a missing ffprobe binary
// simply leave the corresponding fields at zero rather than failing the
// whole conflict scan; per §4.6 these probe-derived signals are optional.
func populateMediaSignals(ms *MediaSignals, songDir string) {
	var total int64
	if entries, err := os.ReadDir(songDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if info, err := e.Info(); err == nil {
				total += info.Size()
			}
		}
	}
	ms.TotalBytes = total

	audioPath, ok := findFirstExisting(songDir, mediaFileCandidates["audio"])
	if ok {
		if info, err := os.Stat(audioPath); err == nil {
			ms.AudioBytes = info.Size()
		}
	}
	videoPath, ok := findFirstExisting(songDir, mediaFileCandidates["video"])
	if ok {
		if info, err := os.Stat(videoPath); err == nil {
			ms.VideoBytes = info.Size()
		}
		if info, ok := mediaprobe.Probe(videoPath); ok {
			ms.VideoWidth = info.VideoWidth
			ms.VideoHeight = info.VideoHeight
			ms.VideoKbps = info.VideoKbps
			ms.FPSMilli = info.FPSMilli
			ms.AudioChannels = info.AudioChannels
			ms.SampleRate = info.SampleRate
			ms.DurationMs = info.DurationMs
		}
	}
}

func findFirstExisting(dir string, names []string) (string, bool) {
	for _, name := range names {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, true
		}
	}
	return "", false
}
