package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltEvolutions/spcdb/internal/extract"
	"github.com/AltEvolutions/spcdb/internal/progress"
)

var (
	extractExe              string
	extractAllowMidCancel bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <disc_root>",
	Short: "Run the packed-disc extractor over every archive under a disc's USRDIR",
	Args:  cobra.ExactArgs(1),
	RunE:  runExtract,
}

func init() {
	extractCmd.Flags().StringVar(&extractExe, "extractor", "", "path to the external extractor executable (required)")
	extractCmd.Flags().BoolVar(&extractAllowMidCancel, "allow-mid-disc-cancel", false, "allow cancellation to terminate an in-flight extractor process")
	extractCmd.MarkFlagRequired("extractor")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	exe := extractExe
	if exe == "" {
		exe = viper.GetString("extractor_exe")
	}

	sink := newCLISink(viperQuiet())
	defer sink.finish()
	cancel := progress.NewCancelToken()

	stats := &extract.Stats{}
	if err := extract.ExtractDiscPKDs(exe, args[0], sink, cancel, extractAllowMidCancel, stats); err != nil {
		return err
	}

	fmt.Printf("extract complete: %d found, %d extracted, %d skipped, %d moved aside, %d files harvested\n",
		stats.PKDsFound, stats.PKDsExtracted, stats.PKDsSkipped, stats.PKDOutMovedAside, stats.FilesHarvested)
	return nil
}
