package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AltEvolutions/spcdb/internal/inspect"
	"github.com/AltEvolutions/spcdb/internal/progress"
	"github.com/AltEvolutions/spcdb/internal/xerrors"
)

var validateCmd = &cobra.Command{
	Use:   "validate <label=path>...",
	Short: "Validate one or more discs and report per-disc findings",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	discs, err := parseLabeledPaths(args)
	if err != nil {
		return err
	}

	sink := newCLISink(viperQuiet())
	defer sink.finish()
	cancel := progress.NewCancelToken()

	results, report, err := inspect.ValidateDiscs(discs, sink, cancel)
	if err != nil {
		return err
	}
	fmt.Print(report)

	worstFail := false
	for _, r := range results {
		if r.Severity == inspect.SeverityFail {
			worstFail = true
		}
	}
	if worstFail {
		return xerrors.Validation("VALIDATE_FAIL", "one or more discs failed validation", "Review the FAIL-severity items above before building.")
	}
	return nil
}
