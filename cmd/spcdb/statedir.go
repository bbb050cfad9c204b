package main

import (
	"os"
	"path/filepath"
)

// defaultStateDir returns the process-wide engine state directory used when
// --state-dir is not given: an OS-conventional user-state location, per
// §6's "<app_state_dir>/_index_cache/...".
func defaultStateDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "spcdb")
	}
	return filepath.Join(".", ".spcdb-state")
}
