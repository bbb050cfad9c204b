package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltEvolutions/spcdb/internal/discindex"
	"github.com/AltEvolutions/spcdb/internal/xlog"
)

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a single disc and print its DiscIndex summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cache, err := discindex.OpenCacheStore(cacheDirFromViperOrDefault(viper.GetString("state_dir")))
	if err != nil {
		xlog.Warnf("cache unavailable, indexing without it: %v", err)
		cache = nil
	}

	idx, songs, err := discindex.IndexDisc(cache, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("input_path:   %s\n", idx.InputPath)
	fmt.Printf("export_root:  %s\n", idx.ExportRoot)
	fmt.Printf("product_code: %s\n", idx.ProductCode)
	fmt.Printf("product_desc: %s\n", idx.ProductDesc)
	fmt.Printf("max_bank:     %d\n", idx.MaxBank)
	fmt.Printf("chosen_bank:  %d\n", idx.ChosenBank)
	fmt.Printf("song_count:   %d\n", idx.SongCount)
	for _, w := range idx.Warnings {
		xlog.Warnf("%s", w)
	}
	if viper.GetBool("verbose") {
		for id, s := range songs {
			fmt.Printf("  %d: %q by %q\n", id, s.Title, s.Artist)
		}
	}
	return nil
}
