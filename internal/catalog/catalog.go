// Package catalog implements C7: merging per-disc song maps into a single
// global catalog with ownership tracking.
//
// The merge itself follows the progressive merge-into-map shape of the
// teacher's cluster.Cluster (there: duplicate clusters keyed by a fuzzy
// ClusterKey; here: catalog rows keyed by the disc's own song_id), trading
// the teacher's approximate-match clustering for exact-identifier
// aggregation with an ownership set per row.
package catalog

import (
	"sort"

	"github.com/AltEvolutions/spcdb/internal/discindex"
)

// BaseLabel is the reserved source label for the base disc.
const BaseLabel = "Base"

// SongAgg is one merged catalog row. PreferredSource is always a member of
// Sources.
type SongAgg struct {
	SongID          int
	Title           string
	Artist          string
	PreferredSource string
	Sources         []string
}

// Source pairs a disc's label with its index and whether it is the base.
type Source struct {
	Label   string
	Index   *discindex.DiscIndex
	Songs   map[int]discindex.SongMeta
	IsBase  bool
}

// BuildSongCatalog merges an ordered, base-first list of sources into a
// sorted catalog plus a label -> owned song-id set map.
func BuildSongCatalog(sources []Source) ([]SongAgg, map[string]map[int]bool) {
	rows := make(map[int]*SongAgg)
	labelToIDs := make(map[string]map[int]bool)

	for _, src := range sources {
		if _, ok := labelToIDs[src.Label]; !ok {
			labelToIDs[src.Label] = make(map[int]bool)
		}

		// Deterministic iteration over this source's songs, since Go map
		// order is not stable and callers may depend on ties resolving the
		// same way on every run.
		ids := make([]int, 0, len(src.Songs))
		for id := range src.Songs {
			ids = append(ids, id)
		}
		sort.Ints(ids)

		for _, id := range ids {
			meta := src.Songs[id]
			labelToIDs[src.Label][id] = true

			row, exists := rows[id]
			if !exists {
				row = &SongAgg{
					SongID:          id,
					Title:           meta.Title,
					Artist:          meta.Artist,
					PreferredSource: src.Label,
					Sources:         []string{src.Label},
				}
				rows[id] = row
				continue
			}

			row.Sources = append(row.Sources, src.Label)
			if src.IsBase {
				row.PreferredSource = BaseLabel
				if meta.Title != "" {
					row.Title = meta.Title
				}
				if meta.Artist != "" {
					row.Artist = meta.Artist
				}
			}
		}
	}

	out := make([]SongAgg, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SongID < out[j].SongID })

	return out, labelToIDs
}

// ApplyOverrides applies a session-scoped song_id -> label winner override
// onto catalog, dropping (and reporting) any override whose label is not
// actually among that song's sources.
func ApplyOverrides(rows []SongAgg, overrides map[int]string) (applied map[int]string, pruned map[int]string) {
	applied = make(map[int]string)
	pruned = make(map[int]string)

	bySongID := make(map[int]*SongAgg, len(rows))
	for i := range rows {
		bySongID[rows[i].SongID] = &rows[i]
	}

	for id, label := range overrides {
		row, ok := bySongID[id]
		if !ok {
			pruned[id] = label
			continue
		}
		if !contains(row.Sources, label) {
			pruned[id] = label
			continue
		}
		row.PreferredSource = label
		applied[id] = label
	}

	return applied, pruned
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
