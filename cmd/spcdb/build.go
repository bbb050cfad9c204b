package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltEvolutions/spcdb/internal/discindex"
	"github.com/AltEvolutions/spcdb/internal/execute"
	"github.com/AltEvolutions/spcdb/internal/progress"
)

var (
	buildOut            string
	buildSongs          []string
	buildDonors         []string
	buildPreferFlags    []string
	buildPreflight      bool
	buildBlockOnErrors  bool
	buildAllowOverwrite bool
	buildKeepBackup     bool
	buildFastUpdate     bool
)

var buildCmd = &cobra.Command{
	Use:   "build <label=path>...",
	Short: "Build a merged output disc from a base disc and zero or more donors",
	Long: `build resolves the winner for every selected song, copies the base disc
into --out, overlays donor assets for donor-won songs, rewrites the song and
act indexes, and atomically replaces any prior output directory.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runBuild,
}

func init() {
	buildCmd.Flags().StringVar(&buildOut, "out", "", "output directory (required)")
	buildCmd.Flags().StringSliceVar(&buildSongs, "song", nil, "song id to include (repeatable); defaults to every catalog song")
	buildCmd.Flags().StringSliceVar(&buildDonors, "needed-donor", nil, "donor label the operator expects to be used (repeatable)")
	buildCmd.Flags().StringSliceVar(&buildPreferFlags, "prefer", nil, "song_id=label winner override (repeatable)")
	buildCmd.Flags().BoolVar(&buildPreflight, "preflight", true, "run preflight validation before mutating anything")
	buildCmd.Flags().BoolVar(&buildBlockOnErrors, "block-on-errors", true, "abort the build if preflight validation finds a FAIL-severity item")
	buildCmd.Flags().BoolVar(&buildAllowOverwrite, "allow-overwrite", false, "allow replacing an existing --out directory")
	buildCmd.Flags().BoolVar(&buildKeepBackup, "keep-backup", true, "keep the replaced --out directory as a timestamped .backup.<ts> sibling of the new one")
	buildCmd.Flags().BoolVar(&buildFastUpdate, "fast-update", false, "apply an incremental update to an existing --out instead of a full rebuild")
	buildCmd.MarkFlagRequired("out")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	sources, err := parseLabeledPaths(args)
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("at least a base disc is required")
	}

	donorPaths := make(map[string]string)
	var donorOrder []string
	for _, s := range sources[1:] {
		donorPaths[s.Label] = s.Path
		donorOrder = append(donorOrder, s.Label)
	}

	preferred, err := parsePreferFlags(buildPreferFlags)
	if err != nil {
		return err
	}

	var selected []int
	for _, v := range buildSongs {
		id, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid --song value %q: %w", v, err)
		}
		selected = append(selected, id)
	}

	cache, _ := discindex.OpenCacheStore(cacheDirFromViperOrDefault(viper.GetString("state_dir")))

	if len(selected) == 0 {
		idx, songs, err := discindex.IndexDisc(cache, sources[0].Path)
		if err != nil {
			return fmt.Errorf("indexing base disc: %w", err)
		}
		_ = idx
		for id := range songs {
			selected = append(selected, id)
		}
	}

	sink := newCLISink(viperQuiet())
	defer sink.finish()
	cancel := progress.NewCancelToken()

	result, err := execute.RunBuildSubset(execute.Options{
		BasePath:                   sources[0].Path,
		Sources:                    donorPaths,
		DonorOrder:                 donorOrder,
		OutDir:                     buildOut,
		SelectedSongIDs:            selected,
		NeededDonors:               buildDonors,
		PreferredSourceBySongID:    preferred,
		PreflightValidate:          buildPreflight,
		BlockOnErrors:              buildBlockOnErrors,
		AllowOverwriteOutput:       buildAllowOverwrite,
		KeepBackupOfExistingOutput: buildKeepBackup,
		FastUpdateExistingOutput:   buildFastUpdate,
		Cache:                      cache,
		Sink:                       sink,
		Cancel:                     cancel,
		PreflightReportCB: func(report string) {
			fmt.Print(report)
		},
	})
	if err != nil {
		return err
	}

	fmt.Printf("build complete: %s\n", result.OutDir)
	fmt.Printf("  elapsed: %.1fs\n", result.ElapsedSec)
	for label, n := range result.Plan.PlannedCounts {
		fmt.Printf("  %s: %d song(s)\n", label, n)
	}
	fmt.Printf("  report: %s\n", result.ReportTextPath)
	return nil
}
