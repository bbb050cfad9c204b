package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AltEvolutions/spcdb/internal/extract"
	"github.com/AltEvolutions/spcdb/internal/xerrors"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <disc_root>",
	Short: "Sanity-check a disc's harvested Export/ tree after extraction",
	Args:  cobra.ExactArgs(1),
	RunE:  runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	result, err := extract.VerifyDiscExtraction(args[0])
	if err != nil {
		return err
	}

	for _, w := range result.Warnings {
		fmt.Printf("WARN: %s\n", w)
	}
	for _, e := range result.Errors {
		fmt.Printf("FAIL: %s\n", e)
	}
	fmt.Printf("song_dirs: %d\n", result.Counts["song_dirs"])
	if len(result.Samples) > 0 {
		fmt.Printf("samples: %v\n", result.Samples)
	}

	if !result.OK {
		return xerrors.Validation("EXTRACTION_VERIFY_FAILED", "extraction verification found error-level issues", "Re-run extract, or check the disc root path.")
	}
	fmt.Println("OK")
	return nil
}
