package util

import (
	"github.com/AltEvolutions/spcdb/internal/xlog"
)

// NASConfig is the I/O profile a copy-heavy operation runs with. The zero
// profile suits local disks; the share profile trades concurrency for
// per-stream throughput, since a NAS serving a disc tree degrades faster
// from parallel writers than from larger sequential transfers.
type NASConfig struct {
	Concurrency   int
	BufferSize    int
	RetryAttempts int
	TimeoutSec    int
	IsNASMode     bool
	DetectedInfo  *NetworkInfo
}

const (
	localBufferSize = 128 * 1024
	shareBufferSize = 256 * 1024

	shareMaxWorkers    = 4
	shareRetryAttempts = 3
	shareTimeoutSec    = 30
	localTimeoutSec    = 10
)

// AutoTuneForPath builds the I/O profile for an operation touching srcPath
// and/or destPath (either may be empty). An explicit override pins the mode;
// otherwise the profile follows network-mount detection on whichever path is
// network-backed first.
func AutoTuneForPath(srcPath, destPath string, override *bool, baseConcurrency int) (*NASConfig, error) {
	cfg := &NASConfig{
		Concurrency: baseConcurrency,
		BufferSize:  localBufferSize,
		TimeoutSec:  localTimeoutSec,
	}

	if override != nil {
		if *override {
			applyShareProfile(cfg)
		}
		xlog.Debugf("I/O profile pinned by override: nas=%v", cfg.IsNASMode)
		return cfg, nil
	}

	for _, p := range []string{srcPath, destPath} {
		if p == "" {
			continue
		}
		info, err := DetectNetworkFilesystem(p)
		if err != nil {
			xlog.Debugf("network detection failed for %s: %v", p, err)
			continue
		}
		if info.IsNetwork {
			cfg.DetectedInfo = info
			applyShareProfile(cfg)
			xlog.Infof("network share detected (%s at %s): capping copy workers at %d",
				info.Protocol, info.MountPath, cfg.Concurrency)
			break
		}
	}
	return cfg, nil
}

func applyShareProfile(cfg *NASConfig) {
	cfg.IsNASMode = true
	if cfg.Concurrency > shareMaxWorkers || cfg.Concurrency == 0 {
		cfg.Concurrency = shareMaxWorkers
	}
	cfg.BufferSize = shareBufferSize
	cfg.RetryAttempts = shareRetryAttempts
	cfg.TimeoutSec = shareTimeoutSec
}
