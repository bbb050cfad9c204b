package util

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/AltEvolutions/spcdb/internal/xlog"
)

// RetryConfig bounds a transient-error retry loop: how many attempts, and
// the doubling backoff window between them.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
}

// DefaultRetryConfig suits local and removable media: a couple of quick
// retries, since anything a local disk doesn't recover from in milliseconds
// it won't recover from at all.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 100 * time.Millisecond,
		MaxWait:     5 * time.Second,
	}
}

// NASRetryConfig widens the backoff window for network shares, where a
// transient stall can outlast the local defaults.
func NASRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: 200 * time.Millisecond,
		MaxWait:     10 * time.Second,
	}
}

// retryableErrnos are the syscall errors a network-mounted disc read can hit
// transiently. EIO is included: on a share it is as often a dropped session
// as real media damage, and one retry distinguishes the two.
var retryableErrnos = []syscall.Errno{
	syscall.EAGAIN,
	syscall.ETIMEDOUT,
	syscall.ECONNRESET,
	syscall.ECONNABORTED,
	syscall.ECONNREFUSED,
	syscall.ENETDOWN,
	syscall.ENETUNREACH,
	syscall.EHOSTDOWN,
	syscall.EHOSTUNREACH,
	syscall.EIO,
}

// retryableFragments matches error text from layers that wrap the errno
// beyond errors.As reach (fuse clients, smb user-space stacks).
var retryableFragments = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"connection aborted",
	"broken pipe",
	"no route to host",
	"network is unreachable",
	"network is down",
	"host is down",
	"temporary failure",
	"resource temporarily unavailable",
	"i/o error",
	"too many open files",
}

// IsRetryableError reports whether err looks transient enough that retrying
// the same filesystem operation could succeed.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		err = pathErr.Err
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		err = linkErr.Err
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		for _, candidate := range retryableErrnos {
			if errno == candidate {
				return true
			}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

// RetryWithBackoff runs operation up to cfg.MaxAttempts times, doubling the
// wait between attempts up to cfg.MaxWait. Non-retryable errors fail
// immediately; exhausting the attempts wraps the last error.
func RetryWithBackoff[T any](cfg *RetryConfig, operation func() (T, error), name string) (T, error) {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var zero T
	wait := cfg.InitialWait
	for attempt := 1; ; attempt++ {
		result, err := operation()
		if err == nil {
			if attempt > 1 {
				xlog.Debugf("%s succeeded on attempt %d/%d", name, attempt, cfg.MaxAttempts)
			}
			return result, nil
		}
		if !IsRetryableError(err) {
			return result, err
		}
		if attempt >= cfg.MaxAttempts {
			xlog.Warnf("%s still failing after %d attempts: %v", name, cfg.MaxAttempts, err)
			return zero, fmt.Errorf("max retries exceeded (%d attempts): %w", cfg.MaxAttempts, err)
		}

		xlog.Debugf("%s failed (attempt %d/%d), retrying in %v: %v", name, attempt, cfg.MaxAttempts, wait, err)
		time.Sleep(wait)
		if wait *= 2; wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}
}

// Retry is RetryWithBackoff for operations without a return value.
func Retry(cfg *RetryConfig, operation func() error, name string) error {
	_, err := RetryWithBackoff(cfg, func() (struct{}, error) {
		return struct{}{}, operation()
	}, name)
	return err
}

// RetryableOpen opens a file for reading with the retry loop, for sources
// read off removable or network-mounted drives.
func RetryableOpen(path string, cfg *RetryConfig) (*os.File, error) {
	return RetryWithBackoff(cfg, func() (*os.File, error) {
		return os.Open(path)
	}, fmt.Sprintf("open %s", path))
}
