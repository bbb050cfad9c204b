// Package buildplan implements C9's build-plan half: computing the winner
// label for each selected song and rolling that up into per-label counts,
// overrides, and diagnostics.
//
// Structurally grounded on the teacher's internal/plan/planner.go: a
// pre-loaded in-memory pass over clustered work that resolves one winner
// per group and accumulates roll-up counters, here re-keyed from
// file-collision planning (one winning file per destination path) to
// song-winner planning (one winning source label per song id).
package buildplan

import (
	"sort"

	"github.com/AltEvolutions/spcdb/internal/catalog"
)

// BuildPlan is the derived winner assignment for a selected set of songs,
// per §3's data model.
type BuildPlan struct {
	PlannedCounts             map[string]int `json:"planned_counts"`
	OverrideCounts            map[string]int `json:"override_counts"`
	ImplicitCounts            map[string]int `json:"implicit_counts"`
	MissingInAllSources       []int          `json:"missing_in_all_sources"`
	MismatchedPreferredSource []int          `json:"mismatched_preferred_source"`
	UnusedNeededDonors        []string       `json:"unused_needed_donors"`
	Winners                   map[int]string `json:"-"` // song_id -> planned winner label
}

// FormatPreflightSummary computes the BuildPlan for a build.
//
//   - selected: the song ids chosen for the output disc.
//   - neededDonors: labels the operator explicitly asked to pull from.
//   - preferredSourceByID: explicit per-song preferred source, when set by
//     an override; absent entries mean "no explicit preference".
//   - songSourcesByID: song_id -> set of labels that actually carry it.
//   - donorOrder: donor labels in priority order (excluding "Base").
func FormatPreflightSummary(
	selected []int,
	neededDonors []string,
	preferredSourceByID map[int]string,
	songSourcesByID map[int]map[string]bool,
	donorOrder []string,
) BuildPlan {
	plan := BuildPlan{
		PlannedCounts:  make(map[string]int),
		OverrideCounts: make(map[string]int),
		ImplicitCounts: make(map[string]int),
		Winners:        make(map[int]string),
	}

	usedLabels := make(map[string]bool)

	ids := append([]int(nil), selected...)
	sort.Ints(ids)

	for _, id := range ids {
		sources := songSourcesByID[id]
		preferred, hasPreferred := preferredSourceByID[id]

		if hasPreferred && !sources[preferred] {
			plan.MismatchedPreferredSource = append(plan.MismatchedPreferredSource, id)
		}

		planned, ok := resolveWinner(preferred, hasPreferred, sources, donorOrder)
		if !ok {
			plan.MissingInAllSources = append(plan.MissingInAllSources, id)
			continue
		}

		plan.Winners[id] = planned
		plan.PlannedCounts[planned]++
		usedLabels[planned] = true

		isOverride := planned != catalog.BaseLabel && hasPreferred && sources[catalog.BaseLabel]
		isImplicit := planned != catalog.BaseLabel && !hasPreferred

		if isOverride {
			plan.OverrideCounts[planned]++
		}
		if isImplicit {
			plan.ImplicitCounts[planned]++
		}
	}

	for _, donor := range neededDonors {
		if !usedLabels[donor] {
			plan.UnusedNeededDonors = append(plan.UnusedNeededDonors, donor)
		}
	}

	return plan
}

// resolveWinner implements the winner resolution order from §4.7: explicit
// preferred (if valid) -> Base (if present) -> first donor-order label
// present -> any non-base source -> missing.
func resolveWinner(preferred string, hasPreferred bool, sources map[string]bool, donorOrder []string) (string, bool) {
	if hasPreferred && sources[preferred] {
		return preferred, true
	}
	if sources[catalog.BaseLabel] {
		return catalog.BaseLabel, true
	}
	for _, label := range donorOrder {
		if sources[label] {
			return label, true
		}
	}

	// Any remaining source not named in donor_order: iterate in sorted
	// order so the fallback winner is deterministic across runs.
	remaining := make([]string, 0, len(sources))
	for label, present := range sources {
		if present {
			remaining = append(remaining, label)
		}
	}
	if len(remaining) == 0 {
		return "", false
	}
	sort.Strings(remaining)
	return remaining[0], true
}
