// Package lmutil shells out to the FLEXnet command-line tools.
package lmutil

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/flexwatch/flexwatch/internal/clock"
	"github.com/flexwatch/flexwatch/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ErrToolUnavailable is returned when the external tool is missing or
// could not be started at all.
var ErrToolUnavailable = errors.New("license tool unavailable")

// Raw is one raw status capture.
type Raw struct {
	Text string
	At   time.Time
}

// Source produces raw license-status text. A non-nil error means the
// invocation itself failed (missing binary, non-zero exit, timeout); the
// caller degrades it to a parse-failed snapshot.
type Source interface {
	Fetch(ctx context.Context) (Raw, error)
}

// EntitlementSource produces the raw CLM query-features output used for the
// EID cache.
type EntitlementSource interface {
	FetchEntitlements(ctx context.Context) (string, error)
}

// Runner invokes lmutil and CLMCommandLine with per-call timeouts.
type Runner struct {
	lmutilPath string
	clmPath    string
	target     string
	timeout    time.Duration
	clock      clock.Clock
	log        *zap.Logger
}

// Module provides the exec-backed source implementations.
var Module = fx.Provide(
	NewRunner,
	func(r *Runner) Source { return r },
	func(r *Runner) EntitlementSource { return r },
)

// NewRunner builds a Runner from configuration. When no explicit CLM path is
// configured, CLMCommandLine is looked for next to lmutil, matching the
// vendor's install layout.
func NewRunner(cfg config.Config, clk clock.Clock, log *zap.Logger) *Runner {
	clmPath := cfg.CLMPath
	if clmPath == "" {
		clmPath = filepath.Join(filepath.Dir(cfg.LmutilPath), "CLMCommandLine.exe")
	}
	return &Runner{
		lmutilPath: cfg.LmutilPath,
		clmPath:    clmPath,
		target:     fmt.Sprintf("%s@%s", cfg.LicensePort, cfg.LicenseHost),
		timeout:    cfg.StatTimeout,
		clock:      clk,
		log:        log.Named("lmutil"),
	}
}

// Fetch runs `lmutil lmstat -a -c port@host` and returns its combined output.
func (r *Runner) Fetch(ctx context.Context) (Raw, error) {
	at := r.clock.Now()
	out, err := r.run(ctx, r.lmutilPath, "lmstat", "-a", "-c", r.target)
	if err != nil {
		r.log.Warn("lmstat invocation failed", zap.Error(err))
		return Raw{At: at}, err
	}
	return Raw{Text: out, At: at}, nil
}

// FetchEntitlements runs `CLMCommandLine query-features`.
func (r *Runner) FetchEntitlements(ctx context.Context) (string, error) {
	out, err := r.run(ctx, r.clmPath, "query-features")
	if err != nil {
		r.log.Debug("clm query-features failed", zap.Error(err))
		return "", err
	}
	return out, nil
}

func (r *Runner) run(ctx context.Context, bin string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = filepath.Dir(bin)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrToolUnavailable, bin)
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%s timed out: %w", filepath.Base(bin), ctx.Err())
		}
		// Non-zero exits still carry diagnostic text worth surfacing.
		return "", fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, string(out))
	}
	return string(out), nil
}
