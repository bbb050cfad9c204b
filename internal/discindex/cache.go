package discindex

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const cacheSchema = 1

// CacheStore is the process-wide index cache directory described in §6 and
// §9: the only engine-owned persistent mutable state, opened explicitly with
// OpenCacheStore rather than held as an implicit singleton. It keeps no open
// handles between calls, so there is no Close.
type CacheStore struct {
	dir string
}

// OpenCacheStore opens (creating if necessary) the index cache directory
// <app_state_dir>/_index_cache.
func OpenCacheStore(appStateDir string) (*CacheStore, error) {
	dir := filepath.Join(appStateDir, "_index_cache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &CacheStore{dir: dir}, nil
}

type cachePayload struct {
	Schema    int               `json:"schema"`
	Version   int               `json:"version"`
	Signature string            `json:"signature"`
	SavedUTC  string            `json:"saved_utc"`
	DiscIndex cachedDiscIndex   `json:"disc_index"`
	Songs     [][3]string       `json:"songs,omitempty"`
}

type cachedDiscIndex struct {
	InputPath   string   `json:"input_path"`
	ExportRoot  string   `json:"export_root"`
	ProductCode string   `json:"product_code,omitempty"`
	ProductDesc string   `json:"product_desc,omitempty"`
	MaxBank     int      `json:"max_bank"`
	ChosenBank  int       `json:"chosen_bank"`
	SongsXML    string   `json:"songs_xml,omitempty"`
	ActsXML     string   `json:"acts_xml,omitempty"`
	SongCount   int      `json:"song_count"`
	Warnings    []string `json:"warnings,omitempty"`
}

func normalizeInputPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	return strings.ToLower(filepath.Clean(abs))
}

func cacheKey(inputPath string) string {
	h := sha1.Sum([]byte(normalizeInputPath(inputPath)))
	return hex.EncodeToString(h[:])
}

func (c *CacheStore) pathFor(inputPath string) string {
	return filepath.Join(c.dir, cacheKey(inputPath)+".json")
}

// lookup returns a cached DiscIndex+songs iff the stored schema matches and
// the stored signature matches the freshly computed signature for
// exportRoot. Any read/parse/stat failure is treated as a cache miss, never
// as an error surfaced to the caller (CacheError is non-fatal per §7).
func (c *CacheStore) lookup(inputPath, exportRoot string) (*DiscIndex, map[int]SongMeta, bool) {
	data, err := os.ReadFile(c.pathFor(inputPath))
	if err != nil {
		return nil, nil, false
	}
	var payload cachePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, nil, false
	}
	if payload.Schema != cacheSchema {
		return nil, nil, false
	}

	idx := &DiscIndex{
		InputPath:   payload.DiscIndex.InputPath,
		ExportRoot:  payload.DiscIndex.ExportRoot,
		ProductCode: payload.DiscIndex.ProductCode,
		ProductDesc: payload.DiscIndex.ProductDesc,
		MaxBank:     payload.DiscIndex.MaxBank,
		ChosenBank:  payload.DiscIndex.ChosenBank,
		SongsXML:    payload.DiscIndex.SongsXML,
		ActsXML:     payload.DiscIndex.ActsXML,
		SongCount:   payload.DiscIndex.SongCount,
		Warnings:    payload.DiscIndex.Warnings,
	}

	sig, err := ComputeSignature(exportRoot, idx.SongsXML, idx.ActsXML)
	if err != nil || sig != payload.Signature {
		return nil, nil, false
	}

	var songs map[int]SongMeta
	if payload.Songs != nil {
		songs = make(map[int]SongMeta, len(payload.Songs))
		for _, row := range payload.Songs {
			id := 0
			fmt.Sscanf(row[0], "%d", &id)
			songs[id] = SongMeta{SongID: uint32(id), Title: row[1], Artist: row[2]}
		}
	}
	return idx, songs, true
}

func (c *CacheStore) save(inputPath string, idx *DiscIndex, songs map[int]SongMeta) error {
	sig, err := ComputeSignature(idx.ExportRoot, idx.SongsXML, idx.ActsXML)
	if err != nil {
		return err
	}

	payload := cachePayload{
		Schema:    cacheSchema,
		Version:   1,
		Signature: sig,
		SavedUTC:  time.Now().UTC().Format(time.RFC3339),
		DiscIndex: cachedDiscIndex{
			InputPath:   idx.InputPath,
			ExportRoot:  idx.ExportRoot,
			ProductCode: idx.ProductCode,
			ProductDesc: idx.ProductDesc,
			MaxBank:     idx.MaxBank,
			ChosenBank:  idx.ChosenBank,
			SongsXML:    idx.SongsXML,
			ActsXML:     idx.ActsXML,
			SongCount:   idx.SongCount,
			Warnings:    idx.Warnings,
		},
	}
	if songs != nil {
		payload.Songs = make([][3]string, 0, len(songs))
		for id, s := range songs {
			payload.Songs = append(payload.Songs, [3]string{fmt.Sprintf("%d", id), s.Title, s.Artist})
		}
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}

	// Atomic write: temp file then rename, so readers never observe a
	// partially written cache entry.
	tmp := c.pathFor(inputPath) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, c.pathFor(inputPath))
}

// statTuple is (name, mtime_ns, size); a missing file has Missing set and
// contributes a "missing" marker instead, so presence flips also invalidate.
type statTuple struct {
	Name    string
	MtimeNs int64
	Size    int64
	Missing bool
}

func statOf(path string) statTuple {
	fi, err := os.Stat(path)
	if err != nil {
		return statTuple{Name: filepath.Base(path), Missing: true}
	}
	return statTuple{Name: filepath.Base(path), MtimeNs: fi.ModTime().UnixNano(), Size: fi.Size()}
}

// ComputeSignature computes the IndexSignature over the export root
// directory itself, config.xml, and the chosen bank's songs/acts XMLs.
func ComputeSignature(exportRoot, songsXML, actsXML string) (string, error) {
	tuples := []statTuple{
		statOf(exportRoot),
		statOf(filepath.Join(exportRoot, "config.xml")),
	}
	if songsXML != "" {
		tuples = append(tuples, statOf(songsXML))
	} else {
		tuples = append(tuples, statTuple{Name: "songs", Missing: true})
	}
	if actsXML != "" {
		tuples = append(tuples, statOf(actsXML))
	} else {
		tuples = append(tuples, statTuple{Name: "acts", Missing: true})
	}

	var b strings.Builder
	for _, t := range tuples {
		if t.Missing {
			fmt.Fprintf(&b, "%s|missing|\n", t.Name)
			continue
		}
		fmt.Fprintf(&b, "%s|%d|%d\n", t.Name, t.MtimeNs, t.Size)
	}

	h := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(h[:]), nil
}

// Status describes the freshness of a cache entry for get_index_cache_status.
type Status struct {
	Present bool
	Stale   bool
	Reason  string
}

// GetStatus reports the cache status for inputPath against exportRoot, used
// by CLI diagnostics and tests.
func (c *CacheStore) GetStatus(inputPath, exportRoot, songsXML, actsXML string) Status {
	data, err := os.ReadFile(c.pathFor(inputPath))
	if err != nil {
		return Status{Present: false, Stale: true, Reason: "no cache entry"}
	}
	var payload cachePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return Status{Present: true, Stale: true, Reason: "corrupt cache entry"}
	}
	if payload.Schema != cacheSchema {
		return Status{Present: true, Stale: true, Reason: "schema mismatch"}
	}
	sig, err := ComputeSignature(exportRoot, songsXML, actsXML)
	if err != nil || sig != payload.Signature {
		return Status{Present: true, Stale: true, Reason: "signature mismatch"}
	}
	return Status{Present: true, Stale: false}
}
