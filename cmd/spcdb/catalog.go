package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltEvolutions/spcdb/internal/catalog"
	"github.com/AltEvolutions/spcdb/internal/conflict"
	"github.com/AltEvolutions/spcdb/internal/discindex"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog <label=path>...",
	Short: "Build the merged song catalog across one base and zero or more donor discs",
	Long: `catalog indexes every given source (the first argument is treated as
the base disc, the rest as donors) and prints the merged song catalog
alongside a same-song-id conflict summary.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCatalog,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	sources, err := parseLabeledPaths(args)
	if err != nil {
		return err
	}

	cache, err := discindex.OpenCacheStore(cacheDirFromViperOrDefault(viper.GetString("state_dir")))
	if err != nil {
		cache = nil
	}

	inputs := make([]discindex.LabeledInput, 0, len(sources))
	for i, s := range sources {
		label := s.Label
		if i == 0 {
			label = catalog.BaseLabel
		}
		inputs = append(inputs, discindex.LabeledInput{Label: label, Path: s.Path})
	}

	var catSources []catalog.Source
	exportRootsByLabel := make(map[string]string)
	for i, r := range discindex.IndexMany(cache, inputs) {
		if r.Err != nil {
			return fmt.Errorf("indexing %s: %w", r.Label, r.Err)
		}
		catSources = append(catSources, catalog.Source{
			Label:  r.Label,
			Index:  r.Index,
			Songs:  r.Songs,
			IsBase: i == 0,
		})
		exportRootsByLabel[r.Label] = r.Index.ExportRoot
	}

	rows, labelToIDs := catalog.BuildSongCatalog(catSources)
	fmt.Printf("catalog: %d song(s) across %d source(s)\n", len(rows), len(catSources))
	for label, ids := range labelToIDs {
		fmt.Printf("  %s: %d song(s)\n", label, len(ids))
	}

	candidates := conflict.ComputeSongIDConflicts(rows, exportRootsByLabel)
	if len(candidates) == 0 {
		fmt.Println("no same-song-id conflicts found")
		return nil
	}

	fmt.Printf("%d song id(s) with conflicting content:\n", len(candidates))
	for id, occurs := range candidates {
		cl := conflict.Classify(occurs)
		fmt.Printf("  song %d: %s", id, cl.Class)
		if cl.Recommendation != "" {
			fmt.Printf(" (recommend %s)", cl.Recommendation)
		}
		if len(cl.MaterialDiffs) > 0 {
			fmt.Printf(" diffs=%v", cl.MaterialDiffs)
		}
		fmt.Println()
	}
	return nil
}
