// Package discindex implements C5: building a DiscIndex from a resolved
// disc input, with a persistent JSON cache keyed by input path and
// validated by a content signature.
package discindex

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AltEvolutions/spcdb/internal/inspect"
	"github.com/AltEvolutions/spcdb/internal/layout"
	"github.com/AltEvolutions/spcdb/internal/xerrors"
	"github.com/AltEvolutions/spcdb/internal/xmlstream"
)

// DiscIndex is the immutable snapshot of a disc's metadata described in the
// data model.
type DiscIndex struct {
	InputPath   string
	ExportRoot  string
	ProductCode string
	ProductDesc string
	MaxBank     int
	ChosenBank  int
	SongsXML    string
	ActsXML     string
	SongCount   int
	Warnings    []string
}

// SongMeta is a per-disc song record.
type SongMeta struct {
	SongID uint32
	Title  string
	Artist string
}

// IndexDisc resolves, inspects, and parses inputPath into a DiscIndex and its
// song map, consulting cache (when non-nil) first.
func IndexDisc(cache *CacheStore, inputPath string) (*DiscIndex, map[int]SongMeta, error) {
	ri, err := layout.Resolve(inputPath)
	if err != nil {
		return nil, nil, err
	}
	defer ri.Close()

	if cache != nil {
		if idx, songs, ok := cache.lookup(inputPath, ri.ExportRoot); ok {
			return idx, songs, nil
		}
	}

	idx, songs, err := buildFresh(ri)
	if err != nil {
		return nil, nil, err
	}

	if cache != nil {
		// Cache writes are best-effort: a failure here must never fail the
		// calling operation, only leave the cache cold for next time.
		_ = cache.save(inputPath, idx, songs)
	}

	return idx, songs, nil
}

func buildFresh(ri *layout.ResolvedInput) (*DiscIndex, map[int]SongMeta, error) {
	idx := &DiscIndex{
		InputPath:  ri.Original,
		ExportRoot: ri.ExportRoot,
		Warnings:   append([]string(nil), ri.Warnings...),
	}

	cfg, err := inspect.ParseConfig(ri.ExportRoot)
	if err == nil {
		idx.ProductCode = cfg.ProductCode
		idx.ProductDesc = cfg.ProductDesc
		if len(cfg.Banks) > 0 {
			idx.MaxBank = cfg.Banks[len(cfg.Banks)-1]
		}
	}

	var banks []int
	if cfg != nil {
		banks = cfg.Banks
	}
	bank, songsXML, actsXML, ok := inspect.BestBank(ri.ExportRoot, banks)
	if !ok {
		// No config-declared banks (or no config at all): still a valid
		// export-only / XML-only donor as long as at least one banked pair
		// can be found directly on disk.
		var found []int
		if entries, dirErr := os.ReadDir(ri.ExportRoot); dirErr == nil {
			for _, e := range entries {
				name := strings.ToLower(e.Name())
				if !e.IsDir() && strings.HasPrefix(name, "songs_") && strings.HasSuffix(name, "_0.xml") {
					if n, convErr := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "songs_"), "_0.xml")); convErr == nil {
						found = append(found, n)
					}
				}
			}
		}
		bank, songsXML, actsXML, ok = inspect.BestBank(ri.ExportRoot, found)
		if !ok {
			return idx, nil, nil
		}
	}
	if bank > idx.MaxBank {
		idx.MaxBank = bank
	}
	idx.ChosenBank = bank
	idx.SongsXML = songsXML
	idx.ActsXML = actsXML

	songs, err := parseSongs(songsXML, actsXML)
	if err != nil {
		return nil, nil, xerrors.Parse("NO_SONGS_XML", "Check songs XML for truncation.", err)
	}
	idx.SongCount = len(songs)

	return idx, songs, nil
}

// parseSongs streams songsXML, resolving each SONG's id/title/artist per the
// attribute/child probing and act-map fallback rules in §4.3.
func parseSongs(songsXMLPath, actsXMLPath string) (map[int]SongMeta, error) {
	actMap, err := loadActMap(actsXMLPath)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(songsXMLPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	songs := make(map[int]SongMeta)
	r := xmlstream.NewReader(f)
	err = r.ForEach([]string{"SONG"}, func(el xmlstream.Element) error {
		idStr, ok := el.Text("ID", "SONG_ID", "id", "song_id")
		if !ok {
			return nil
		}
		id, convErr := strconv.Atoi(strings.TrimSpace(idStr))
		if convErr != nil {
			return nil
		}

		title, _ := el.Text("TITLE", "SONG_NAME", "NAME", "TITLE_KEY", "SONG_NAME_KEY", "NAME_KEY")

		var artist string
		if v, ok := el.Text("PERFORMANCE_NAME"); ok {
			artist = v
		} else if actID, ok := el.Text("PERFORMED_BY"); ok {
			if n, convErr := strconv.Atoi(strings.TrimSpace(actID)); convErr == nil {
				artist = actMap[n]
			}
		}

		songs[id] = SongMeta{SongID: uint32(id), Title: title, Artist: artist}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return songs, nil
}

func loadActMap(actsXMLPath string) (map[int]string, error) {
	actMap := make(map[int]string)
	if actsXMLPath == "" {
		return actMap, nil
	}
	f, err := os.Open(actsXMLPath)
	if err != nil {
		if os.IsNotExist(err) {
			return actMap, nil
		}
		return nil, err
	}
	defer f.Close()

	r := xmlstream.NewReader(f)
	err = r.ForEach([]string{"ACT"}, func(el xmlstream.Element) error {
		idStr, ok := el.Text("ID", "ACT_ID", "id")
		if !ok {
			return nil
		}
		id, convErr := strconv.Atoi(strings.TrimSpace(idStr))
		if convErr != nil {
			return nil
		}
		name, _ := el.Text("NAME", "NAME_KEY")
		actMap[id] = name
		return nil
	})
	return actMap, err
}

// ExportRootJoin is a small helper kept alongside the package so callers
// building additional paths (textures/, <song_id>/...) off an index do not
// need to reach into filepath directly for the common case.
func ExportRootJoin(idx *DiscIndex, parts ...string) string {
	return filepath.Join(append([]string{idx.ExportRoot}, parts...)...)
}
