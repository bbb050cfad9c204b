package inspect

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/AltEvolutions/spcdb/internal/hashutil"
	"github.com/AltEvolutions/spcdb/internal/layout"
	"github.com/AltEvolutions/spcdb/internal/xmlstream"
)

// Severity is the rollup level for a ReportItem or a whole ValidationResult.
type Severity string

const (
	SeverityOK    Severity = "OK"
	SeverityWarn  Severity = "WARN"
	SeverityFail  Severity = "FAIL"
)

// ReportItem is one validator finding, with a stable code and a concrete
// operator-facing fix suggestion.
type ReportItem struct {
	Code     string
	Severity Severity
	Message  string
	Fix      string
}

// Code constants, matching the table in the component design.
const (
	CodeResolveExportRoot    = "RESOLVE_EXPORT_ROOT"
	CodeExportMissing        = "EXPORT_MISSING"
	CodeNoSongsXML           = "NO_SONGS_XML"
	CodeMissingMediaFiles    = "MISSING_MEDIA_FILES"
	CodeInspectFailed        = "INSPECT_FAILED"
	CodeCasing               = "CASING"
	CodeNoTextures           = "NO_TEXTURES"
	CodeNoConfig             = "NO_CONFIG"
	CodeMissingConfigXML     = "MISSING_CONFIG_XML"
	CodeMissingReferenced    = "MISSING_REFERENCED_FILES"
	CodeMissingCoverPages    = "MISSING_COVER_PAGES"
	CodeValidateException    = "VALIDATE_EXCEPTION"
)

// ValidationResult is the per-disc validator output.
type ValidationResult struct {
	Label      string
	InputPath  string
	ExportRoot string
	Severity   Severity
	Items      []ReportItem
	SongCount  int
	ProductDesc string
}

// Summary renders the fixed-shape one-liner the spec calls for.
func (r ValidationResult) Summary() string {
	var errs, warns int
	for _, it := range r.Items {
		switch it.Severity {
		case SeverityFail:
			errs++
		case SeverityWarn:
			warns++
		}
	}
	return fmt.Sprintf("%s: %s (%d songs, %dE/%dW)", r.Label, r.Severity, r.SongCount, errs, warns)
}

// ValidateOne runs the full §4.2 validation pass against an already-resolved
// input.
func ValidateOne(label string, ri *layout.ResolvedInput) (ValidationResult, error) {
	result := ValidationResult{Label: label, InputPath: ri.Original, ExportRoot: ri.ExportRoot}

	for _, w := range ri.Warnings {
		result.Items = append(result.Items, ReportItem{Code: CodeCasing, Severity: SeverityWarn, Message: w, Fix: "No action required; this is advisory."})
	}

	if ri.ExportRoot == "" {
		result.Items = append(result.Items, ReportItem{
			Code: CodeResolveExportRoot, Severity: SeverityFail,
			Message: "could not resolve an export root", Fix: "Point at a valid disc folder.",
		})
		result.Severity = rollup(result.Items)
		return result, nil
	}

	if fi, err := os.Stat(ri.ExportRoot); err != nil || !fi.IsDir() {
		result.Items = append(result.Items, ReportItem{
			Code: CodeExportMissing, Severity: SeverityFail,
			Message: fmt.Sprintf("export root %s does not exist", ri.ExportRoot),
			Fix:     "Re-extract or re-point this source.",
		})
		result.Severity = rollup(result.Items)
		return result, nil
	}

	cfg, cfgErr := ParseConfig(ri.ExportRoot)
	switch {
	case os.IsNotExist(cfgErr):
		result.Items = append(result.Items, ReportItem{
			Code: CodeNoConfig, Severity: SeverityWarn,
			Message: "config.xml absent (XML-only donor)",
			Fix:     "Expected for song-only donors; otherwise re-extract the source.",
		})
		cfg = &Config{}
	case cfgErr != nil:
		result.Items = append(result.Items, ReportItem{
			Code: CodeInspectFailed, Severity: SeverityFail,
			Message: fmt.Sprintf("config.xml parse failed: %v", cfgErr),
			Fix:     "Check the export for a corrupt or truncated config.xml.",
		})
	default:
		result.ProductDesc = cfg.ProductDesc
	}

	bank, songsXML, actsXML, ok := BestBank(ri.ExportRoot, cfg.Banks)
	if !ok {
		// Some donors carry banked catalog files without a config.xml banks
		// list; scan the directory directly for the highest bank present.
		bank, songsXML, actsXML, ok = scanForBanks(ri.ExportRoot)
	}
	if !ok {
		result.Items = append(result.Items, ReportItem{
			Code: CodeNoSongsXML, Severity: SeverityFail,
			Message: "no songs_*_0.xml found at export root",
			Fix:     "Verify the disc was extracted completely.",
		})
		result.Severity = rollup(result.Items)
		return result, nil
	}
	_ = bank

	if _, err := os.Stat(filepath.Join(ri.ExportRoot, "textures")); err != nil {
		result.Items = append(result.Items, ReportItem{
			Code: CodeNoTextures, Severity: SeverityWarn,
			Message: "textures/ absent", Fix: "Cover art will be unavailable for this source.",
		})
	}

	songCount, songIDs, err := countSongs(songsXML)
	if err != nil {
		result.Items = append(result.Items, ReportItem{
			Code: CodeInspectFailed, Severity: SeverityFail,
			Message: fmt.Sprintf("failed to parse %s: %v", songsXML, err),
			Fix:     "Check the songs XML for truncation or corruption.",
		})
		result.Severity = rollup(result.Items)
		return result, nil
	}
	result.SongCount = songCount
	_ = actsXML

	if missing := scanMissingMedia(ri.ExportRoot, songIDs); len(missing) > 0 {
		result.Items = append(result.Items, ReportItem{
			Code: CodeMissingMediaFiles, Severity: SeverityFail,
			Message: fmt.Sprintf("%d song(s) missing preview/video or failed the MP4 sanity check", len(missing)),
			Fix:     "Re-extract the affected songs or exclude them from the build.",
		})
	}

	if missing := scanMissingReferenced(ri.ExportRoot, songIDs); len(missing) > 0 {
		result.Items = append(result.Items, ReportItem{
			Code: CodeMissingReferenced, Severity: SeverityWarn,
			Message: fmt.Sprintf("%d song(s) reference a folder or melody_1.xml that is not present", len(missing)),
			Fix:     "Re-extract the affected songs, or expect them to lose conflict detection.",
		})
	}

	if missing := scanMissingCoverPages(ri.ExportRoot); len(missing) > 0 {
		result.Items = append(result.Items, ReportItem{
			Code: CodeMissingCoverPages, Severity: SeverityWarn,
			Message: fmt.Sprintf("%d cover(s) reference a texture page that is not present", len(missing)),
			Fix:     "Re-extract textures/ or drop the affected covers.",
		})
	}

	result.Severity = rollup(result.Items)
	return result, nil
}

func rollup(items []ReportItem) Severity {
	sawWarn := false
	for _, it := range items {
		if it.Severity == SeverityFail {
			return SeverityFail
		}
		if it.Severity == SeverityWarn {
			sawWarn = true
		}
	}
	if sawWarn {
		return SeverityWarn
	}
	return SeverityOK
}

func scanForBanks(exportRoot string) (bank int, songsXML, actsXML string, ok bool) {
	entries, err := os.ReadDir(exportRoot)
	if err != nil {
		return 0, "", "", false
	}
	re := regexp.MustCompile(`(?i)^songs_(\d+)_0\.xml$`)
	best := -1
	for _, e := range entries {
		m := re.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		if n > best {
			best = n
		}
	}
	if best < 0 {
		return 0, "", "", false
	}
	songs := findBankFile(exportRoot, "songs", best)
	acts := findBankFile(exportRoot, "acts", best)
	if songs == "" || acts == "" {
		return 0, "", "", false
	}
	return best, songs, acts, true
}

func countSongs(songsXML string) (int, []int, error) {
	f, err := os.Open(songsXML)
	if err != nil {
		return 0, nil, err
	}
	defer f.Close()

	r := xmlstream.NewReader(f)
	var ids []int
	err = r.ForEach([]string{"SONG"}, func(el xmlstream.Element) error {
		if v, ok := el.Text("ID", "SONG_ID"); ok {
			if n, convErr := strconv.Atoi(strings.TrimSpace(v)); convErr == nil {
				ids = append(ids, n)
			}
		}
		return nil
	})
	if err != nil {
		return 0, nil, err
	}
	return len(ids), ids, nil
}

// scanMissingMedia flags a song when either of its media assets is missing
// or fails the MP4 probe; a valid preview does not excuse a broken video, or
// vice versa.
func scanMissingMedia(exportRoot string, songIDs []int) []int {
	var missing []int
	for _, id := range songIDs {
		dir := filepath.Join(exportRoot, strconv.Itoa(id))
		hasPreview := mediaLooksValid(dir, "preview")
		hasVideo := mediaLooksValid(dir, "video")
		if !hasPreview || !hasVideo {
			missing = append(missing, id)
		}
	}
	return missing
}

// scanMissingReferenced reports song ids whose referenced per-song assets are
// absent: the song folder the index entry points at, or the melody_1.xml
// inside it.
func scanMissingReferenced(exportRoot string, songIDs []int) []int {
	var missing []int
	for _, id := range songIDs {
		dir := filepath.Join(exportRoot, strconv.Itoa(id))
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			missing = append(missing, id)
			continue
		}
		if !fileExistsFold(dir, "melody_1.xml") {
			missing = append(missing, id)
		}
	}
	return missing
}

func fileExistsFold(dir, name string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(e.Name(), name) {
			return true
		}
	}
	return false
}

func mediaLooksValid(songDir, stem string) bool {
	entries, err := os.ReadDir(songDir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		lower := strings.ToLower(e.Name())
		if lower == stem+".mp4" || lower == stem+".m4v" {
			ok, err := hashutil.LooksLikeValidMP4(filepath.Join(songDir, e.Name()))
			if err == nil && ok {
				return true
			}
		}
	}
	return false
}

var coverRefRe = regexp.MustCompile(`(?i)TPAGE_BIT[^>]*NAME="cover_(\d+)"[^>]*TEXTURE="page_(\d+)"`)

func scanMissingCoverPages(exportRoot string) []int {
	data, err := os.ReadFile(filepath.Join(exportRoot, "covers.xml"))
	if err != nil {
		return nil
	}
	var missing []int
	for _, m := range coverRefRe.FindAllStringSubmatch(string(data), -1) {
		page, _ := strconv.Atoi(m[2])
		if !textureExists(exportRoot, page) {
			missing = append(missing, page)
		}
	}
	return missing
}

func textureExists(exportRoot string, page int) bool {
	dir := filepath.Join(exportRoot, "textures")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	want := fmt.Sprintf("page_%d.", page)
	for _, e := range entries {
		if strings.HasPrefix(strings.ToLower(e.Name()), strings.ToLower(want)) {
			return true
		}
	}
	return false
}
