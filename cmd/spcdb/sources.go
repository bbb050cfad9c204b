package main

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/AltEvolutions/spcdb/internal/inspect"
)

// viperQuiet is a small indirection so subcommands don't each import viper
// just to read the shared --quiet flag.
func viperQuiet() bool {
	return viper.GetBool("quiet")
}

// parseLabeledPaths parses "label=path" CLI arguments into LabeledPath
// pairs, in the order given.
func parseLabeledPaths(args []string) ([]inspect.LabeledPath, error) {
	out := make([]inspect.LabeledPath, 0, len(args))
	for _, arg := range args {
		label, path, ok := strings.Cut(arg, "=")
		if !ok || label == "" || path == "" {
			return nil, fmt.Errorf("invalid source %q, expected label=path", arg)
		}
		out = append(out, inspect.LabeledPath{Label: label, Path: path})
	}
	return out, nil
}

func cacheDirFromViperOrDefault(stateDir string) string {
	if stateDir != "" {
		return stateDir
	}
	return defaultStateDir()
}
