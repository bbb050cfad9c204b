package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltEvolutions/spcdb/internal/buildplan"
	"github.com/AltEvolutions/spcdb/internal/catalog"
	"github.com/AltEvolutions/spcdb/internal/discindex"
)

var (
	planSongs   []string
	planDonors  []string
	planPreferFlags []string
)

var planCmd = &cobra.Command{
	Use:   "plan <label=path>...",
	Short: "Compute and print a build plan without writing anything",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringSliceVar(&planSongs, "song", nil, "song id to select (repeatable); defaults to every song in the catalog")
	planCmd.Flags().StringSliceVar(&planDonors, "needed-donor", nil, "donor label the operator expects to be used (repeatable)")
	planCmd.Flags().StringSliceVar(&planPreferFlags, "prefer", nil, "song_id=label override (repeatable)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	sources, err := parseLabeledPaths(args)
	if err != nil {
		return err
	}

	cache, _ := discindex.OpenCacheStore(cacheDirFromViperOrDefault(viper.GetString("state_dir")))

	var catSources []catalog.Source
	var donorOrder []string
	for i, s := range sources {
		idx, songs, err := discindex.IndexDisc(cache, s.Path)
		if err != nil {
			return fmt.Errorf("indexing %s: %w", s.Label, err)
		}
		label := s.Label
		if i == 0 {
			label = catalog.BaseLabel
		} else {
			donorOrder = append(donorOrder, label)
		}
		catSources = append(catSources, catalog.Source{Label: label, Index: idx, Songs: songs, IsBase: i == 0})
	}

	rows, labelToIDs := catalog.BuildSongCatalog(catSources)

	songSourcesByID := make(map[int]map[string]bool, len(rows))
	for _, row := range rows {
		set := make(map[string]bool, len(row.Sources))
		for _, l := range row.Sources {
			set[l] = true
		}
		songSourcesByID[row.SongID] = set
	}
	_ = labelToIDs

	selected, err := resolveSelectedSongs(planSongs, rows)
	if err != nil {
		return err
	}

	preferred, err := parsePreferFlags(planPreferFlags)
	if err != nil {
		return err
	}

	plan := buildplan.FormatPreflightSummary(selected, planDonors, preferred, songSourcesByID, donorOrder)

	fmt.Printf("plan: %d song(s) selected\n", len(selected))
	for label, n := range plan.PlannedCounts {
		fmt.Printf("  %s: %d planned (override=%d implicit=%d)\n", label, n, plan.OverrideCounts[label], plan.ImplicitCounts[label])
	}
	if len(plan.MissingInAllSources) > 0 {
		fmt.Printf("  missing in all sources: %v\n", plan.MissingInAllSources)
	}
	if len(plan.MismatchedPreferredSource) > 0 {
		fmt.Printf("  mismatched preferred source: %v\n", plan.MismatchedPreferredSource)
	}
	if len(plan.UnusedNeededDonors) > 0 {
		fmt.Printf("  unused needed donors: %v\n", plan.UnusedNeededDonors)
	}
	return nil
}

func resolveSelectedSongs(flagValues []string, rows []catalog.SongAgg) ([]int, error) {
	if len(flagValues) == 0 {
		all := make([]int, 0, len(rows))
		for _, r := range rows {
			all = append(all, r.SongID)
		}
		return all, nil
	}
	out := make([]int, 0, len(flagValues))
	for _, v := range flagValues {
		id, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("invalid --song value %q: %w", v, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func parsePreferFlags(flagValues []string) (map[int]string, error) {
	out := make(map[int]string, len(flagValues))
	for _, v := range flagValues {
		idStr, label, ok := strings.Cut(v, "=")
		if !ok || label == "" {
			return nil, fmt.Errorf("invalid --prefer value %q, expected song_id=label", v)
		}
		id, err := strconv.Atoi(strings.TrimSpace(idStr))
		if err != nil {
			return nil, fmt.Errorf("invalid --prefer song id %q: %w", idStr, err)
		}
		out[id] = label
	}
	return out, nil
}
