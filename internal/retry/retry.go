// Package retry executes operations with exponential backoff and jitter.
// Only recognized transient failures are retried; everything else
// propagates immediately.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"
)

type Config struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	OverallTimeout time.Duration
}

// SubmissionConfig is the strict preset for exam submissions: more
// attempts and a generous overall deadline.
func SubmissionConfig() Config {
	return Config{
		MaxAttempts:    5,
		InitialDelay:   500 * time.Millisecond,
		MaxDelay:       10 * time.Second,
		Multiplier:     2,
		OverallTimeout: 45 * time.Second,
	}
}

// AutosaveConfig is the best-effort preset for periodic auto-save pings:
// give up fast, the next tick retries anyway.
func AutosaveConfig() Config {
	return Config{
		MaxAttempts:    2,
		InitialDelay:   250 * time.Millisecond,
		MaxDelay:       1 * time.Second,
		Multiplier:     2,
		OverallTimeout: 5 * time.Second,
	}
}

// Do runs op, retrying transient failures per cfg. It returns the last
// error once attempts or the overall deadline are exhausted.
func Do(ctx context.Context, cfg Config, op func(context.Context) error) error {
	if cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.OverallTimeout)
		defer cancel()
	}

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		last = op(ctx)
		if last == nil {
			return nil
		}
		if !IsTransient(last) {
			return last
		}
		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry deadline after %d attempt(s): %w", attempt, last)
		case <-time.After(Delay(cfg, attempt)):
		}
	}
	return fmt.Errorf("exhausted %d attempt(s): %w", cfg.MaxAttempts, last)
}

// Delay computes the wait before the attempt following `attempt` (1-based):
// min(maxDelay, initial*multiplier^(attempt-1)) plus up to 30% jitter.
func Delay(cfg Config, attempt int) time.Duration {
	d := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1)))
	if d > cfg.MaxDelay {
		d = cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d)/3 + 1))
	return d + jitter
}

var transientMarkers = []string{
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"unexpected eof",
	"no such host",
	"network is unreachable",
	"rate limit",
	"too many requests",
	"too many connections",
	"temporarily unavailable",
	"service unavailable",
	"database is locked",
}

// IsTransient reports whether err matches a known transient-failure
// signature worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
