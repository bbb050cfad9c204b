package execute

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ncruces/go-strftime"
	"github.com/spf13/afero"

	"github.com/AltEvolutions/spcdb/internal/buildplan"
	"github.com/AltEvolutions/spcdb/internal/catalog"
	"github.com/AltEvolutions/spcdb/internal/conflict"
	"github.com/AltEvolutions/spcdb/internal/xerrors"
	"github.com/AltEvolutions/spcdb/internal/xmlstream"
)

// DedupeStats summarizes where the final song set's files came from: how many
// songs were served straight from the base copy versus pulled in from a
// donor, broken down by override vs implicit-donor-win.
type DedupeStats struct {
	TotalSelected   int            `json:"total_selected"`
	FromBase        int            `json:"from_base"`
	FromDonor       map[string]int `json:"from_donor"`
	OverrideApplied int            `json:"override_applied"`
	ImplicitDonor   int            `json:"implicit_donor"`
}

// SongDiffStatus classifies one row of the expected-vs-built verification CSV.
type SongDiffStatus string

const (
	DiffOK              SongDiffStatus = "OK"
	DiffMissingInOutput SongDiffStatus = "MISSING_IN_OUTPUT"
	DiffExtraInOutput   SongDiffStatus = "EXTRA_IN_OUTPUT"
	DiffMetaMismatch    SongDiffStatus = "META_MISMATCH"
)

// SongDiffRow is one line of the verification CSVs: the song id, its catalog
// metadata, the winner label it was planned from, and the resulting status.
type SongDiffRow struct {
	SongID           int
	Title            string
	Artist           string
	ChosenSource     string
	AvailableSources []string
	Status           SongDiffStatus
}

func computeDedupeStats(plan buildplan.BuildPlan, rowsByID map[int]catalog.SongAgg) DedupeStats {
	stats := DedupeStats{FromDonor: make(map[string]int)}
	for id, label := range plan.Winners {
		stats.TotalSelected++
		if label == catalog.BaseLabel {
			stats.FromBase++
		} else {
			stats.FromDonor[label]++
		}
		if plan.OverrideCounts[label] > 0 {
			if row, ok := rowsByID[id]; ok && row.PreferredSource == label && label != catalog.BaseLabel {
				stats.OverrideApplied++
			}
		}
	}
	for _, n := range plan.ImplicitCounts {
		stats.ImplicitDonor += n
	}
	return stats
}

// computeSongDiff re-derives the built song set straight from the output
// export root's numeric folder entries (rather than trusting the plan), then
// parses the rewritten songs/acts index pair back out of the output to catch
// metadata drift: a song present in both sets but whose normalized title or
// artist no longer matches the catalog's expectation is a META_MISMATCH.
func computeSongDiff(fsys afero.Fs, outExportRoot string, selected []int, plan buildplan.BuildPlan, rowsByID map[int]catalog.SongAgg) ([]SongDiffRow, error) {
	entries, err := afero.ReadDir(fsys, outExportRoot)
	if err != nil {
		return nil, xerrors.Fatal("VERIFY_READ_OUTPUT_FAILED", "Check that the output directory is readable.", err)
	}
	built := make(map[int]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if id, err := strconv.Atoi(e.Name()); err == nil {
			built[id] = true
		}
	}
	builtMeta := builtSongMeta(fsys, outExportRoot)

	selectedSet := make(map[int]bool, len(selected))
	for _, id := range selected {
		selectedSet[id] = true
	}

	var rows []SongDiffRow
	ids := append([]int(nil), selected...)
	sort.Ints(ids)
	for _, id := range ids {
		row := diffRowFor(id, plan, rowsByID)
		switch {
		case !built[id]:
			row.Status = DiffMissingInOutput
		case metaMismatches(rowsByID[id], builtMeta[id]):
			row.Status = DiffMetaMismatch
		default:
			row.Status = DiffOK
		}
		rows = append(rows, row)
	}

	var extras []int
	for id := range built {
		if !selectedSet[id] {
			extras = append(extras, id)
		}
	}
	sort.Ints(extras)
	for _, id := range extras {
		row := diffRowFor(id, plan, rowsByID)
		row.Status = DiffExtraInOutput
		rows = append(rows, row)
	}

	return rows, nil
}

func diffRowFor(id int, plan buildplan.BuildPlan, rowsByID map[int]catalog.SongAgg) SongDiffRow {
	row := SongDiffRow{SongID: id, ChosenSource: plan.Winners[id]}
	if agg, ok := rowsByID[id]; ok {
		row.Title = agg.Title
		row.Artist = agg.Artist
		row.AvailableSources = agg.Sources
	}
	return row
}

// builtMetaEntry is the (title, artist) pair read back from the output's
// rewritten songs/acts index pair.
type builtMetaEntry struct {
	title  string
	artist string
	found  bool
}

var builtSongsXMLRe = regexp.MustCompile(`(?i)^songs_(\d+)_0\.xml$`)

// builtSongMeta streams the output tree's highest-bank songs/acts XML pair
// off fsys, returning id -> (title, artist) with the same key probing the
// disc indexer uses, so the comparison sees the output exactly the way a
// later index of it would.
func builtSongMeta(fsys afero.Fs, outExportRoot string) map[int]builtMetaEntry {
	meta := make(map[int]builtMetaEntry)

	entries, err := afero.ReadDir(fsys, outExportRoot)
	if err != nil {
		return meta
	}
	bank, found := -1, ""
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if m := builtSongsXMLRe.FindStringSubmatch(e.Name()); m != nil {
			if n, convErr := strconv.Atoi(m[1]); convErr == nil && n > bank {
				bank, found = n, e.Name()
			}
		}
	}
	if found == "" {
		return meta
	}

	actMap := make(map[int]string)
	if actsBuf, err := afero.ReadFile(fsys, filepath.Join(outExportRoot, fmt.Sprintf("acts_%d_0.xml", bank))); err == nil {
		r := xmlstream.NewReader(bytes.NewReader(actsBuf))
		_ = r.ForEach([]string{"ACT"}, func(el xmlstream.Element) error {
			idStr, ok := el.Text("ID", "ACT_ID", "id")
			if !ok {
				return nil
			}
			if id, convErr := strconv.Atoi(strings.TrimSpace(idStr)); convErr == nil {
				name, _ := el.Text("NAME", "NAME_KEY")
				actMap[id] = name
			}
			return nil
		})
	}

	songsBuf, err := afero.ReadFile(fsys, filepath.Join(outExportRoot, found))
	if err != nil {
		return meta
	}
	r := xmlstream.NewReader(bytes.NewReader(songsBuf))
	_ = r.ForEach([]string{"SONG"}, func(el xmlstream.Element) error {
		idStr, ok := el.Text("ID", "SONG_ID", "id", "song_id")
		if !ok {
			return nil
		}
		id, convErr := strconv.Atoi(strings.TrimSpace(idStr))
		if convErr != nil {
			return nil
		}
		entry := builtMetaEntry{found: true}
		entry.title, _ = el.Text("TITLE", "SONG_NAME", "NAME", "TITLE_KEY", "SONG_NAME_KEY", "NAME_KEY")
		if v, ok := el.Text("PERFORMANCE_NAME"); ok {
			entry.artist = v
		} else if actID, ok := el.Text("PERFORMED_BY"); ok {
			if n, convErr := strconv.Atoi(strings.TrimSpace(actID)); convErr == nil {
				entry.artist = actMap[n]
			}
		}
		meta[id] = entry
		return nil
	})
	return meta
}

// metaMismatches reports whether the built output's metadata for a song
// diverges from the catalog's expectation. Empty values on either side are
// not treated as a divergence: donor-only songs legitimately omit fields the
// catalog filled from another source.
func metaMismatches(expected catalog.SongAgg, built builtMetaEntry) bool {
	if !built.found {
		return false
	}
	if expected.Title != "" && built.title != "" &&
		conflict.NormalizeText(expected.Title) != conflict.NormalizeText(built.title) {
		return true
	}
	if expected.Artist != "" && built.artist != "" &&
		conflict.NormalizeText(expected.Artist) != conflict.NormalizeText(built.artist) {
		return true
	}
	return false
}

// buildReport is the JSON shape written alongside every build.
type buildReport struct {
	Tool                 string              `json:"tool"`
	Version              string              `json:"version"`
	Timestamp            string              `json:"timestamp"`
	ElapsedSec           float64             `json:"elapsed_sec"`
	BasePath             string              `json:"base_path"`
	BaseSignature        string              `json:"base_signature,omitempty"`
	Sources              []string            `json:"sources"`
	OutputDir            string              `json:"output_dir"`
	SelectedSongIDsCount int                 `json:"selected_song_ids_count"`
	PreflightPlan        buildplan.BuildPlan `json:"preflight_plan"`
	Dedupe               DedupeStats         `json:"dedupe"`
	SongDiff             songDiffSummary     `json:"song_diff"`
}

type songDiffSummary struct {
	OK              int `json:"ok"`
	MissingInOutput int `json:"missing_in_output"`
	ExtraInOutput   int `json:"extra_in_output"`
	MetaMismatch    int `json:"meta_mismatch"`
}

func summarizeDiff(rows []SongDiffRow) songDiffSummary {
	var s songDiffSummary
	for _, r := range rows {
		switch r.Status {
		case DiffOK:
			s.OK++
		case DiffMissingInOutput:
			s.MissingInOutput++
		case DiffExtraInOutput:
			s.ExtraInOutput++
		case DiffMetaMismatch:
			s.MetaMismatch++
		}
	}
	return s
}

// writeSidecars writes every report file next to the output disc folder, all
// named <out_dir>_<suffix> so they sort together with the disc they describe:
// the build report (JSON + text), the three verification CSVs, and the
// transfer notes.
func writeSidecars(fsys afero.Fs, opts *Options, result *Result, baseSignature string) error {
	outDir := result.OutDir

	donorLabels := make([]string, 0, len(opts.Sources))
	for label := range opts.Sources {
		donorLabels = append(donorLabels, label)
	}
	sort.Strings(donorLabels)

	rep := buildReport{
		Tool:                 ToolName,
		Version:              ReportVersion,
		Timestamp:            strftime.Format("%Y-%m-%dT%H:%M:%S", time.Now().UTC()),
		ElapsedSec:           result.ElapsedSec,
		BasePath:             opts.BasePath,
		BaseSignature:        baseSignature,
		Sources:              donorLabels,
		OutputDir:            outDir,
		SelectedSongIDsCount: len(opts.SelectedSongIDs),
		PreflightPlan:        result.Plan,
		Dedupe:               result.Dedupe,
		SongDiff:             summarizeDiff(result.SongDiff),
	}
	jsonBytes, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return xerrors.Fatal("WRITE_REPORT_FAILED", "", err)
	}
	result.ReportJSONPath = outDir + "_build_report.json"
	if err := afero.WriteFile(fsys, result.ReportJSONPath, jsonBytes, 0o644); err != nil {
		return xerrors.Fatal("WRITE_REPORT_FAILED", "Check permissions next to the output directory.", err)
	}

	var txt strings.Builder
	fmt.Fprintf(&txt, "%s build report\n", ToolName)
	fmt.Fprintf(&txt, "output:      %s\n", outDir)
	fmt.Fprintf(&txt, "base:        %s\n", opts.BasePath)
	fmt.Fprintf(&txt, "elapsed:     %.1fs\n", result.ElapsedSec)
	fmt.Fprintf(&txt, "selected:    %d songs\n", result.Dedupe.TotalSelected)
	fmt.Fprintf(&txt, "from base:   %d\n", result.Dedupe.FromBase)
	for _, label := range donorLabels {
		if n := result.Dedupe.FromDonor[label]; n > 0 {
			fmt.Fprintf(&txt, "from %-14s %d\n", label+":", n)
		}
	}
	fmt.Fprintf(&txt, "overrides applied: %d\n", result.Dedupe.OverrideApplied)
	fmt.Fprintf(&txt, "implicit donor wins: %d\n", result.Dedupe.ImplicitDonor)
	diff := summarizeDiff(result.SongDiff)
	fmt.Fprintf(&txt, "song diff: ok=%d missing=%d extra=%d mismatch=%d\n",
		diff.OK, diff.MissingInOutput, diff.ExtraInOutput, diff.MetaMismatch)
	result.ReportTextPath = outDir + "_build_report.txt"
	if err := afero.WriteFile(fsys, result.ReportTextPath, []byte(txt.String()), 0o644); err != nil {
		return xerrors.Fatal("WRITE_REPORT_FAILED", "Check permissions next to the output directory.", err)
	}

	if err := writeSongCSVs(fsys, outDir, result.SongDiff); err != nil {
		return err
	}

	return writeTransferNotes(fsys, outDir, donorLabels, result)
}

var songCSVHeader = []string{"song_id", "title", "artist", "chosen_source", "available_sources"}

func csvRecord(r SongDiffRow, withStatus bool) []string {
	rec := []string{
		strconv.Itoa(r.SongID),
		r.Title,
		r.Artist,
		r.ChosenSource,
		strings.Join(r.AvailableSources, ";"),
	}
	if withStatus {
		rec = append(rec, string(r.Status))
	}
	return rec
}

// writeSongCSVs writes the expected set (every selected song), the built set
// (every song actually present in the output), and the full diff with a
// status column.
func writeSongCSVs(fsys afero.Fs, outDir string, rows []SongDiffRow) error {
	var expected, built [][]string
	for _, r := range rows {
		rec := csvRecord(r, false)
		switch r.Status {
		case DiffOK:
			expected = append(expected, rec)
			built = append(built, rec)
		case DiffMissingInOutput:
			expected = append(expected, rec)
		case DiffExtraInOutput:
			built = append(built, rec)
		default:
			expected = append(expected, rec)
			built = append(built, rec)
		}
	}

	if err := writeCSV(fsys, outDir+"_expected_songs.csv", songCSVHeader, expected); err != nil {
		return err
	}
	if err := writeCSV(fsys, outDir+"_built_songs.csv", songCSVHeader, built); err != nil {
		return err
	}

	diffHeader := append(append([]string(nil), songCSVHeader...), "status")
	var diffRecords [][]string
	for _, r := range rows {
		diffRecords = append(diffRecords, csvRecord(r, true))
	}
	return writeCSV(fsys, outDir+"_song_diff.csv", diffHeader, diffRecords)
}

func writeCSV(fsys afero.Fs, path string, header []string, records [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for _, rec := range records {
		_ = w.Write(rec)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return xerrors.Fatal("WRITE_REPORT_FAILED", "", err)
	}
	if err := afero.WriteFile(fsys, path, buf.Bytes(), 0o644); err != nil {
		return xerrors.Fatal("WRITE_REPORT_FAILED", "Check permissions next to the output directory.", err)
	}
	return nil
}

// writeTransferNotes writes the operator checklist summarizing what moved
// during the build, using go-humanize to render byte counts the way an
// operator reads them instead of raw integers.
func writeTransferNotes(fsys afero.Fs, outDir string, donorLabels []string, result *Result) error {
	var notes strings.Builder
	fmt.Fprintf(&notes, "Transfer notes for %s\n", outDir)
	fmt.Fprintf(&notes, "songs copied from base: %d\n", result.Dedupe.FromBase)
	for _, label := range donorLabels {
		if n := result.Dedupe.FromDonor[label]; n > 0 {
			fmt.Fprintf(&notes, "songs merged from %s: %d\n", label, n)
		}
	}
	fmt.Fprintf(&notes, "elapsed: %.1fs\n", result.ElapsedSec)
	fmt.Fprintf(&notes, "output size: %s\n", humanize.Bytes(uint64(directorySize(fsys, outDir))))
	fmt.Fprintln(&notes)
	fmt.Fprintln(&notes, "Before transferring to the console:")
	fmt.Fprintln(&notes, "  1. Review the song diff CSV for MISSING_IN_OUTPUT rows.")
	fmt.Fprintln(&notes, "  2. Spot-check a few merged songs' previews in the output tree.")
	fmt.Fprintln(&notes, "  3. Keep the backup directory until the output is confirmed working.")

	return afero.WriteFile(fsys, outDir+"_transfer_notes.txt", []byte(notes.String()), 0o644)
}

func directorySize(fsys afero.Fs, dir string) int64 {
	var total int64
	entries, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return 0
	}
	for _, e := range entries {
		if e.IsDir() {
			total += directorySize(fsys, filepath.Join(dir, e.Name()))
		} else {
			total += e.Size()
		}
	}
	return total
}
