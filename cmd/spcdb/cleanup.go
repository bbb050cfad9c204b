package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AltEvolutions/spcdb/internal/cleanup"
)

var (
	cleanupPKDFiles   bool
	cleanupPKDOutDirs bool
	cleanupDelete     bool
	cleanupTrashDir   string
	cleanupDryRun     bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup <disc_root>",
	Short: "Remove leftover packed-disc extraction artifacts from a disc root",
	Args:  cobra.ExactArgs(1),
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupPKDFiles, "pkd-files", true, "include Pack*.pkd archives")
	cleanupCmd.Flags().BoolVar(&cleanupPKDOutDirs, "pkd-out-dirs", true, "include Pack*.pkd_out/ extraction trees")
	cleanupCmd.Flags().BoolVar(&cleanupDelete, "delete", false, "delete artifacts instead of moving them to trash")
	cleanupCmd.Flags().StringVar(&cleanupTrashDir, "trash-dir", "", "trash destination directory (default: <disc_root's parent>/_trash)")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "report what would be moved or deleted without touching the filesystem")
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) error {
	stats, err := cleanup.CleanupExtractionArtifacts(cleanup.Options{
		DiscRoot:          args[0],
		IncludePKDFiles:   cleanupPKDFiles,
		IncludePKDOutDirs: cleanupPKDOutDirs,
		DeleteInstead:     cleanupDelete,
		TrashRootDir:      cleanupTrashDir,
		DryRun:            cleanupDryRun,
	})
	if err != nil {
		return err
	}

	fmt.Printf("cleanup: %d pkd file(s), %d pkd_out dir(s) found\n", stats.PKDFilesFound, stats.PKDOutDirsFound)
	if cleanupDelete {
		fmt.Printf("  deleted: %d\n", stats.Deleted)
	} else {
		fmt.Printf("  moved to trash: %d (%s)\n", stats.MovedToTrash, stats.TrashDestination)
	}
	if cleanupDryRun {
		fmt.Println("  (dry run: nothing was actually touched)")
	}
	return nil
}
