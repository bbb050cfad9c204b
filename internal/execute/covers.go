package execute

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/AltEvolutions/spcdb/internal/buildplan"
	"github.com/AltEvolutions/spcdb/internal/catalog"
	"github.com/AltEvolutions/spcdb/internal/xerrors"
)

// coverRow is one TPAGE_BIT element from a covers.xml: the song id its NAME
// references, the texture page its TEXTURE references, and the element's raw
// bytes so the rebuilt file preserves the source's own attributes.
type coverRow struct {
	songID int
	page   int
	raw    []byte
}

var (
	coverNameRe = regexp.MustCompile(`(?i)^cover_(\d+)$`)
	texturePgRe = regexp.MustCompile(`(?i)^page_(\d+)$`)
)

// parseCoverRows streams a covers.xml, returning every TPAGE_BIT row whose
// NAME matches cover_<id> and TEXTURE matches page_<n>, plus the root
// element's open tag for rebuilding.
func parseCoverRows(path string) (rows []coverRow, rootOpenTag, rootName string, err error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, "", "", err
	}
	return parseCoverRowsBytes(buf)
}

func parseCoverRowsBytes(buf []byte) (rows []coverRow, rootOpenTag, rootName string, err error) {
	dec := xml.NewDecoder(bytes.NewReader(buf))
	depth := 0
	var startOffset int64
	var pending coverRow
	inRow := false
	rowDepth := 0

	for {
		offsetBefore := dec.InputOffset()
		tok, tokErr := dec.Token()
		if tokErr == io.EOF {
			break
		}
		if tokErr != nil {
			return rows, rootOpenTag, rootName, tokErr
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 && rootOpenTag == "" {
				rootName = t.Name.Local
				rootOpenTag = string(buf[offsetBefore:dec.InputOffset()])
			}
			if !inRow && strings.EqualFold(t.Name.Local, "TPAGE_BIT") {
				var name, texture string
				for _, a := range t.Attr {
					switch {
					case strings.EqualFold(a.Name.Local, "NAME"):
						name = a.Value
					case strings.EqualFold(a.Name.Local, "TEXTURE"):
						texture = a.Value
					}
				}
				nm := coverNameRe.FindStringSubmatch(name)
				tm := texturePgRe.FindStringSubmatch(texture)
				if nm != nil && tm != nil {
					id, _ := strconv.Atoi(nm[1])
					page, _ := strconv.Atoi(tm[1])
					pending = coverRow{songID: id, page: page}
					inRow = true
					rowDepth = depth
					startOffset = offsetBefore
				}
			}
		case xml.EndElement:
			if inRow && depth == rowDepth {
				pending.raw = append([]byte(nil), buf[startOffset:dec.InputOffset()]...)
				rows = append(rows, pending)
				inRow = false
			}
			depth--
		}
	}
	return rows, rootOpenTag, rootName, nil
}

// rewriteCoversAndTextures rebuilds the output's covers.xml with only the
// rows for selected songs, each taken from its winning source, and copies in
// the texture pages those kept rows reference. The dest tree already carries
// the base's covers and textures from the base-copy phase; donor-won songs
// get their row and page overlaid, and unreferenced rows are dropped.
func rewriteCoversAndTextures(
	fsys afero.Fs,
	destExportRoot string,
	selected []int,
	plan buildplan.BuildPlan,
	baseExportRoot string,
	sources []*resolvedSource,
) error {
	rowsByLabel := make(map[string]map[int]coverRow)
	rootOpen, rootLocal := "", ""

	loadRows := func(label, exportRoot string) {
		rows, open, local, err := parseCoverRows(filepath.Join(exportRoot, "covers.xml"))
		if err != nil {
			return
		}
		m := make(map[int]coverRow, len(rows))
		for _, r := range rows {
			m[r.songID] = r
		}
		rowsByLabel[label] = m
		if label == catalog.BaseLabel || rootOpen == "" {
			rootOpen, rootLocal = open, local
		}
	}
	loadRows(catalog.BaseLabel, baseExportRoot)
	for _, s := range sources {
		loadRows(s.label, s.ri.ExportRoot)
	}
	if len(rowsByLabel) == 0 {
		// No source carries a covers.xml; nothing to rewrite.
		return nil
	}

	exportRootByLabel := map[string]string{catalog.BaseLabel: baseExportRoot}
	for _, s := range sources {
		exportRootByLabel[s.label] = s.ri.ExportRoot
	}

	var body bytes.Buffer
	type pageRef struct {
		page  int
		label string
	}
	var refs []pageRef
	for _, id := range sortedInts(selected) {
		winner := plan.Winners[id]
		row, label, ok := coverRowFor(id, winner, rowsByLabel)
		if !ok {
			continue
		}
		body.Write(row.raw)
		body.WriteByte('\n')
		refs = append(refs, pageRef{page: row.page, label: label})
	}

	doc := wrapFragments(rootOpen, rootLocal, body.Bytes())
	if err := afero.WriteFile(fsys, filepath.Join(destExportRoot, "covers.xml"), doc, 0o644); err != nil {
		return xerrors.Fatal("WRITE_COVERS_XML", "Check that the build's temp directory is writable.", err)
	}

	copied := make(map[int]bool)
	for _, ref := range refs {
		if copied[ref.page] {
			continue
		}
		copied[ref.page] = true
		if err := copyTexturePage(fsys, destExportRoot, exportRootByLabel[ref.label], ref.page); err != nil {
			return err
		}
	}
	return nil
}

// coverRowFor picks the cover row for one song: the winning source's row
// when it has one, else the base's, else any source's (deterministic only in
// that base is tried first; a song with covers only in one donor gets that
// donor's row).
func coverRowFor(id int, winner string, rowsByLabel map[string]map[int]coverRow) (coverRow, string, bool) {
	if m, ok := rowsByLabel[winner]; ok {
		if row, ok := m[id]; ok {
			return row, winner, true
		}
	}
	if m, ok := rowsByLabel[catalog.BaseLabel]; ok {
		if row, ok := m[id]; ok {
			return row, catalog.BaseLabel, true
		}
	}
	for label, m := range rowsByLabel {
		if row, ok := m[id]; ok {
			return row, label, true
		}
	}
	return coverRow{}, "", false
}

var textureExts = []string{".jpg", ".png", ".gtf", ".dds", ".bmp"}

// copyTexturePage copies textures/page_<n>.<ext> (case-insensitive, any
// known extension) from srcExportRoot into the dest textures directory,
// skipping silently when the source has no matching file or already provided
// it via the base copy.
func copyTexturePage(fsys afero.Fs, destExportRoot, srcExportRoot string, page int) error {
	if srcExportRoot == "" {
		return nil
	}
	srcTexDir := filepath.Join(srcExportRoot, "textures")
	entries, err := os.ReadDir(srcTexDir)
	if err != nil {
		return nil
	}
	want := fmt.Sprintf("page_%d", page)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		lower := strings.ToLower(e.Name())
		ext := filepath.Ext(lower)
		if strings.TrimSuffix(lower, ext) != want || !containsString(textureExts, ext) {
			continue
		}
		dest := filepath.Join(destExportRoot, "textures", lower)
		if exists, _ := afero.Exists(fsys, dest); exists {
			return nil
		}
		if err := copyOSFileToFs(fsys, filepath.Join(srcTexDir, e.Name()), dest); err != nil {
			return xerrors.Fatal("MERGE_TEXTURE_FAILED", "Check the source's textures directory for permission issues.", err)
		}
		return nil
	}
	return nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

func sortedInts(in []int) []int {
	out := append([]int(nil), in...)
	sort.Ints(out)
	return out
}

var melodiesCHCRe = regexp.MustCompile(`(?i)^melodies_(\d+)(.*)\.chc$`)

// retargetBankArtifacts reflects a target-bank change onto the opaque
// melodies_*.chc files and config.xml's VERSION list. A no-op when the
// target bank equals the source bank.
func retargetBankArtifacts(fsys afero.Fs, destExportRoot string, sourceBank, targetBank int) error {
	if targetBank == sourceBank {
		return nil
	}

	entries, err := afero.ReadDir(fsys, destExportRoot)
	if err != nil {
		return xerrors.Fatal("RETARGET_BANK_FAILED", "Check that the build's temp directory is readable.", err)
	}
	staleIndexRe := regexp.MustCompile(fmt.Sprintf(`(?i)^(songs|acts)_%d_0\.xml$`, sourceBank))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if staleIndexRe.MatchString(e.Name()) {
			// The rewrite phase produced the target bank's catalog pair; the
			// copied base's old-bank pair must not shadow it.
			if err := fsys.Remove(filepath.Join(destExportRoot, e.Name())); err != nil {
				return xerrors.Fatal("RETARGET_BANK_FAILED", "Check permissions on the build's temp directory.", err)
			}
			continue
		}
		m := melodiesCHCRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		bank, _ := strconv.Atoi(m[1])
		if bank != sourceBank {
			continue
		}
		newName := fmt.Sprintf("melodies_%d%s.chc", targetBank, m[2])
		oldPath := filepath.Join(destExportRoot, e.Name())
		newPath := filepath.Join(destExportRoot, newName)
		if err := fsys.Rename(oldPath, newPath); err != nil {
			return xerrors.Fatal("RETARGET_BANK_FAILED", "Check permissions on the build's temp directory.", err)
		}
	}

	return rewriteConfigVersion(fsys, destExportRoot, targetBank)
}

var versionAttrRe = regexp.MustCompile(`(?i)(<VERSION\b[^>]*\bversion=")(\d+)(")`)

// rewriteConfigVersion rewrites every VERSION@version attribute in the
// output's config.xml to the target bank. The output carries exactly one
// bank's catalog files after the rewrite phase, so every remaining VERSION
// entry points at it.
func rewriteConfigVersion(fsys afero.Fs, destExportRoot string, targetBank int) error {
	path := filepath.Join(destExportRoot, "config.xml")
	buf, err := afero.ReadFile(fsys, path)
	if err != nil {
		// XML-only donors have no config.xml; nothing to retarget.
		return nil
	}
	out := versionAttrRe.ReplaceAll(buf, []byte(fmt.Sprintf("${1}%d${3}", targetBank)))
	if bytes.Equal(out, buf) {
		return nil
	}
	if err := afero.WriteFile(fsys, path, out, 0o644); err != nil {
		return xerrors.Fatal("RETARGET_BANK_FAILED", "Check permissions on the build's temp directory.", err)
	}
	return nil
}
