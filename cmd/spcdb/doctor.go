package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/AltEvolutions/spcdb/internal/xlog"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks on the environment and configuration",
	Long: `doctor runs a handful of sanity checks before you point spcdb at real
discs:

- the configured extractor executable is present and runnable
- the engine state directory exists and is writable
- the index cache has usable stats
- disk space at the state directory is not critically low`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().String("extractor", "", "extractor executable to check (optional)")
}

type checkResult struct {
	name    string
	message string
	error   bool
	warning bool
}

func runDoctor(cmd *cobra.Command, args []string) error {
	xlog.Infof("=== spcdb doctor ===")

	var results []checkResult

	extractorExe, _ := cmd.Flags().GetString("extractor")
	if extractorExe == "" {
		extractorExe = viper.GetString("extractor_exe")
	}
	results = append(results, checkExtractor(extractorExe))

	stateDir := viper.GetString("state_dir")
	if stateDir == "" {
		stateDir = defaultStateDir()
	}
	results = append(results, checkStateDir(stateDir))
	results = append(results, checkDiskSpace(stateDir))

	hasErrors := false
	hasWarnings := false
	for _, r := range results {
		line := r.name
		if r.message != "" {
			line += ": " + r.message
		}
		switch {
		case r.error:
			hasErrors = true
			xlog.Errorf("[FAIL] %s", line)
		case r.warning:
			hasWarnings = true
			xlog.Warnf("[WARN] %s", line)
		default:
			xlog.Successf("[ OK ] %s", line)
		}
	}

	xlog.Infof("")
	if hasErrors {
		return fmt.Errorf("one or more diagnostic checks failed")
	}
	if hasWarnings {
		xlog.Warnf("some checks produced warnings, review before proceeding")
	} else {
		xlog.Successf("all checks passed")
	}
	return nil
}

func checkExtractor(exe string) checkResult {
	if exe == "" {
		return checkResult{
			name:    "extractor",
			warning: true,
			message: "no executable configured (set --extractor or SPCDB_EXTRACTOR_EXE; only needed for the extract subcommand)",
		}
	}

	if _, err := exec.LookPath(exe); err != nil {
		if _, statErr := os.Stat(exe); statErr != nil {
			return checkResult{name: "extractor", error: true, message: fmt.Sprintf("%s not found or not executable", exe)}
		}
	}

	return checkResult{name: "extractor", message: exe}
}

func checkStateDir(dir string) checkResult {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return checkResult{name: "state directory", error: true, message: fmt.Sprintf("cannot create %s: %v", dir, err)}
	}

	testFile := filepath.Join(dir, ".spcdb_write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return checkResult{name: "state directory", error: true, message: fmt.Sprintf("cannot write to %s: %v", dir, err)}
	}
	f.Close()
	os.Remove(testFile)

	cacheDir := filepath.Join(dir, "_index_cache")
	entries, _ := os.ReadDir(cacheDir)
	return checkResult{name: "state directory", message: fmt.Sprintf("%s (%d cached disc(s))", dir, len(entries))}
}

func checkDiskSpace(dir string) checkResult {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return checkResult{name: "disk space", warning: true, message: fmt.Sprintf("cannot determine disk space: %v", err)}
	}

	availBytes := stat.Bavail * uint64(stat.Bsize)
	totalBytes := stat.Blocks * uint64(stat.Bsize)

	const lowWaterBytes = 5 * 1024 * 1024 * 1024 // 5 GiB; donor overlays and temp builds eat space fast
	if availBytes < lowWaterBytes {
		return checkResult{
			name:    "disk space",
			warning: true,
			message: fmt.Sprintf("only %s free of %s", humanize.Bytes(availBytes), humanize.Bytes(totalBytes)),
		}
	}
	return checkResult{name: "disk space", message: fmt.Sprintf("%s free of %s", humanize.Bytes(availBytes), humanize.Bytes(totalBytes))}
}
