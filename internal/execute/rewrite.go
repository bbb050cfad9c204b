package execute

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"github.com/AltEvolutions/spcdb/internal/buildplan"
	"github.com/AltEvolutions/spcdb/internal/catalog"
	"github.com/AltEvolutions/spcdb/internal/xerrors"
)

// songFragment is one SONG element's raw outer XML, plus the act id it
// references, extracted straight from the source bytes rather than
// re-marshaled, so untouched attributes and child ordering survive the
// rebuild unchanged.
type songFragment struct {
	raw          []byte
	performedBy  int
	hasPerformed bool
}

// discFragments holds the raw song/act fragments extracted from one source's
// songs/acts XML pair, plus the root element's own open tag (so the rebuilt
// file can reuse the source's own wrapper element and its attributes).
type discFragments struct {
	rootOpenTag string
	rootName    string
	songs       map[int]songFragment
	acts        map[int][]byte
}

// extractFragments streams songsXMLPath/actsXMLPath once each, slicing out
// the raw bytes of every SONG/ACT element by tracking decoder.InputOffset()
// across Token() calls, the same offset-tracking idea xmlstream.Reader uses
// internally to stay namespace-agnostic without a full DOM load.
func extractFragments(songsXMLPath, actsXMLPath string) (*discFragments, error) {
	songsBuf, err := os.ReadFile(songsXMLPath)
	if err != nil {
		return nil, xerrors.Parse("NO_SONGS_XML", "Check that the songs XML file is present and readable.", err)
	}
	df := &discFragments{songs: make(map[int]songFragment)}

	df.rootOpenTag, df.rootName, err = sliceElements(songsBuf, []string{"SONG"}, func(name string, raw []byte) {
		id, okID := firstMatchingInt(raw, []string{"ID", "SONG_ID", "id", "song_id"})
		if !okID {
			return
		}
		performedBy, okPerf := firstMatchingInt(raw, []string{"PERFORMED_BY"})
		df.songs[id] = songFragment{raw: raw, performedBy: performedBy, hasPerformed: okPerf}
	})
	if err != nil {
		return nil, xerrors.Parse("NO_SONGS_XML", "Check that the songs XML file is well-formed.", err)
	}

	df.acts = make(map[int][]byte)
	if actsXMLPath != "" {
		actsBuf, err := os.ReadFile(actsXMLPath)
		if err == nil {
			_, _, _ = sliceElements(actsBuf, []string{"ACT"}, func(name string, raw []byte) {
				id, ok := firstMatchingInt(raw, []string{"ID", "ACT_ID", "id"})
				if !ok {
					return
				}
				df.acts[id] = raw
			})
		}
	}

	return df, nil
}

// sliceElements walks buf token by token, and for every start element whose
// local name matches one of names, calls fn with the exact raw bytes of that
// element (start tag through matching end tag). It also returns the open tag
// and local name of the outermost element, so callers can rebuild a file
// using the same wrapper.
func sliceElements(buf []byte, names []string, fn func(name string, raw []byte)) (rootOpenTag, rootName string, err error) {
	dec := xml.NewDecoder(bytes.NewReader(buf))
	depth := 0
	var startOffset int64
	inTarget := false
	targetDepth := 0

	for {
		offsetBefore := dec.InputOffset()
		tok, tokErr := dec.Token()
		if tokErr == io.EOF {
			break
		}
		if tokErr != nil {
			return rootOpenTag, rootName, tokErr
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 && rootOpenTag == "" {
				rootName = t.Name.Local
				rootOpenTag = string(buf[offsetBefore:dec.InputOffset()])
			}
			if !inTarget && matchesAnyLocal(t.Name.Local, names) {
				inTarget = true
				targetDepth = depth
				startOffset = offsetBefore
			}
		case xml.EndElement:
			if inTarget && depth == targetDepth {
				raw := buf[startOffset:dec.InputOffset()]
				fn(t.Name.Local, append([]byte(nil), raw...))
				inTarget = false
			}
			depth--
		}
	}
	return rootOpenTag, rootName, nil
}

func matchesAnyLocal(local string, candidates []string) bool {
	for _, c := range candidates {
		if strings.EqualFold(local, c) {
			return true
		}
	}
	return false
}

// firstMatchingInt extracts the first integer among candidates from a raw
// element's bytes, taken from a matching attribute on any element or from
// the text of a matching immediate child element, reusing a throwaway decoder rather
// than a second full parse pass.
func firstMatchingInt(raw []byte, candidates []string) (int, bool) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	depth := 0
	var current string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 && matchesAnyLocal(t.Name.Local, candidates) {
				current = t.Name.Local
			} else {
				current = ""
			}
			for _, a := range t.Attr {
				if matchesAnyLocal(a.Name.Local, candidates) {
					if n, err := strconv.Atoi(strings.TrimSpace(a.Value)); err == nil {
						return n, true
					}
				}
			}
		case xml.CharData:
			if current != "" {
				if n, err := strconv.Atoi(strings.TrimSpace(string(t))); err == nil {
					return n, true
				}
			}
		case xml.EndElement:
			depth--
			current = ""
		}
	}
	return 0, false
}

// rewriteIndexes rebuilds songs_<bank>_0.xml and acts_<bank>_0.xml for the
// final selected song set, pulling each song's (and its referenced act's)
// raw XML fragment straight from its winning source, per §4.8's "rewrite
// indexes" step.
func rewriteIndexes(
	fsys afero.Fs,
	destExportRoot string,
	bank int,
	selected []int,
	plan buildplan.BuildPlan,
	baseSongsXML, baseActsXML string,
	sources []*resolvedSource,
) error {
	fragsByLabel := make(map[string]*discFragments)

	baseFrags, err := extractFragments(baseSongsXML, baseActsXML)
	if err != nil {
		return err
	}
	fragsByLabel[catalog.BaseLabel] = baseFrags

	for _, s := range sources {
		if s.idx == nil || s.idx.SongsXML == "" {
			continue
		}
		frags, err := extractFragments(s.idx.SongsXML, s.idx.ActsXML)
		if err != nil {
			continue
		}
		fragsByLabel[s.label] = frags
	}

	ids := append([]int(nil), selected...)
	sort.Ints(ids)

	var songsOut bytes.Buffer
	actsOut := make(map[int][]byte)
	var skipped []int

	for _, id := range ids {
		label, ok := plan.Winners[id]
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		frags, ok := fragsByLabel[label]
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		song, ok := frags.songs[id]
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		songsOut.Write(song.raw)
		songsOut.WriteByte('\n')
		if song.hasPerformed {
			if act, ok := frags.acts[song.performedBy]; ok {
				actsOut[song.performedBy] = act
			}
		}
	}

	songsDoc := wrapFragments(baseFrags.rootOpenTag, baseFrags.rootName, songsOut.Bytes())
	songsName := fmt.Sprintf("songs_%d_0.xml", bank)
	if err := afero.WriteFile(fsys, filepath.Join(destExportRoot, songsName), songsDoc, 0o644); err != nil {
		return xerrors.Fatal("WRITE_SONGS_XML", "Check that the build's temp directory is writable.", err)
	}

	var actIDs []int
	for id := range actsOut {
		actIDs = append(actIDs, id)
	}
	sort.Ints(actIDs)
	var actsBuf bytes.Buffer
	for _, id := range actIDs {
		actsBuf.Write(actsOut[id])
		actsBuf.WriteByte('\n')
	}

	actsRootOpen, actsRootName := baseFrags.rootOpenTag, baseFrags.rootName
	if baseActsXML != "" {
		if buf, err := os.ReadFile(baseActsXML); err == nil {
			if tag, name, err := sliceElements(buf, nil, func(string, []byte) {}); err == nil && tag != "" {
				actsRootOpen, actsRootName = tag, name
			}
		}
	}
	actsDoc := wrapFragments(actsRootOpen, actsRootName, actsBuf.Bytes())
	actsName := fmt.Sprintf("acts_%d_0.xml", bank)
	if err := afero.WriteFile(fsys, filepath.Join(destExportRoot, actsName), actsDoc, 0o644); err != nil {
		return xerrors.Fatal("WRITE_ACTS_XML", "Check that the build's temp directory is writable.", err)
	}

	if len(skipped) > 0 {
		return xerrors.Fatal("REWRITE_MISSING_FRAGMENT", "These song ids were selected but no winning source's XML carried a matching <SONG> element; re-run preflight.",
			fmt.Errorf("%d song ids could not be rewritten: %v", len(skipped), skipped))
	}
	return nil
}

// wrapFragments assembles a minimal well-formed XML document reusing the
// source's own root open tag, with the given inner fragment bytes as body.
func wrapFragments(rootOpenTag, rootName string, body []byte) []byte {
	var out bytes.Buffer
	out.WriteString(xml.Header)
	if rootOpenTag == "" {
		rootOpenTag = "<" + rootName + ">"
		if rootName == "" {
			rootOpenTag = "<ROOT>"
			rootName = "ROOT"
		}
	}
	out.WriteString(rootOpenTag)
	out.WriteByte('\n')
	out.Write(body)
	out.WriteString("</")
	out.WriteString(rootName)
	out.WriteString(">\n")
	return out.Bytes()
}
