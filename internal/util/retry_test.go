package util

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"
)

func quickRetryConfig() *RetryConfig {
	return &RetryConfig{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"EAGAIN", syscall.EAGAIN, true},
		{"ETIMEDOUT", syscall.ETIMEDOUT, true},
		{"ECONNRESET wrapped in PathError", &os.PathError{Op: "read", Path: "/mnt/nas/x", Err: syscall.ECONNRESET}, true},
		{"EIO wrapped in LinkError", &os.LinkError{Op: "rename", Old: "a", New: "b", Err: syscall.EIO}, true},
		{"ENOENT", syscall.ENOENT, false},
		{"EACCES", syscall.EACCES, false},
		{"text-only timeout", errors.New("smb: operation timed out"), true},
		{"text-only broken pipe", errors.New("write: broken pipe"), true},
		{"plain failure", errors.New("no such song folder"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryWithBackoffImmediateSuccess(t *testing.T) {
	calls := 0
	got, err := RetryWithBackoff(quickRetryConfig(), func() (int, error) {
		calls++
		return 42, nil
	}, "immediate")
	if err != nil || got != 42 {
		t.Fatalf("got (%d, %v), want (42, nil)", got, err)
	}
	if calls != 1 {
		t.Errorf("expected exactly one attempt, got %d", calls)
	}
}

func TestRetryWithBackoffRecoversFromTransientError(t *testing.T) {
	calls := 0
	got, err := RetryWithBackoff(quickRetryConfig(), func() (string, error) {
		calls++
		if calls < 3 {
			return "", syscall.ECONNRESET
		}
		return "recovered", nil
	}, "transient")
	if err != nil || got != "recovered" {
		t.Fatalf("got (%q, %v), want (recovered, nil)", got, err)
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryWithBackoffExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(quickRetryConfig(), func() (int, error) {
		calls++
		return 0, syscall.ETIMEDOUT
	}, "exhausted")
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if !errors.Is(err, syscall.ETIMEDOUT) {
		t.Errorf("final error should wrap the last failure, got %v", err)
	}
}

func TestRetryWithBackoffStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := RetryWithBackoff(quickRetryConfig(), func() (int, error) {
		calls++
		return 0, os.ErrNotExist
	}, "fatal")
	if err == nil {
		t.Fatal("expected the non-retryable error")
	}
	if calls != 1 {
		t.Errorf("a non-retryable error must fail on the first attempt, got %d", calls)
	}
}

func TestRetryNoReturnValue(t *testing.T) {
	calls := 0
	err := Retry(quickRetryConfig(), func() error {
		calls++
		if calls == 1 {
			return fmt.Errorf("read: connection reset by peer")
		}
		return nil
	}, "void")
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryableOpenMissingFileFailsFast(t *testing.T) {
	start := time.Now()
	if _, err := RetryableOpen("/no/such/melody_1.xml", quickRetryConfig()); err == nil {
		t.Fatal("expected an error for a missing file")
	}
	// ENOENT is not retryable, so no backoff waits should have happened.
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("open of a missing file should fail without retrying, took %v", elapsed)
	}
}

func TestDefaultAndNASRetryConfigs(t *testing.T) {
	def, nas := DefaultRetryConfig(), NASRetryConfig()
	if def.MaxAttempts < 1 || nas.MaxAttempts < 1 {
		t.Fatal("both configs must allow at least one attempt")
	}
	if nas.MaxWait <= def.MaxWait {
		t.Error("the NAS profile should allow a wider backoff window than the default")
	}
}
