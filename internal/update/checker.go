// Package update polls the release feed for newer versions.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/flexwatch/flexwatch/internal/config"
	"github.com/flexwatch/flexwatch/internal/monitor"
)

const defaultAPIBase = "https://api.github.com"

// Module provides the checker and starts its background loop when update
// notifications are configured.
var Module = fx.Options(
	fx.Provide(NewChecker),
	fx.Invoke(Register),
)

// Register starts the periodic check loop.
func Register(lc fx.Lifecycle, cfg config.Config, c *Checker) {
	if !cfg.Notify.Enabled || !cfg.Notify.Update || cfg.UpdateRepo == "" {
		return
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go c.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}

// Checker queries the GitHub releases API and forwards discovered versions
// to the monitor, which owns the update dedup state.
type Checker struct {
	cfg     config.Config
	client  *http.Client
	monitor *monitor.Monitor
	log     *zap.Logger
	apiBase string
}

// NewChecker builds the checker.
func NewChecker(cfg config.Config, m *monitor.Monitor, log *zap.Logger) *Checker {
	return &Checker{
		cfg:     cfg,
		client:  &http.Client{Timeout: 15 * time.Second},
		monitor: m,
		log:     log.Named("update"),
		apiBase: defaultAPIBase,
	}
}

type release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// CheckOnce fetches the latest release and notifies when it differs from
// the running version. Network failures are logged, never fatal.
func (c *Checker) CheckOnce(ctx context.Context) error {
	url := fmt.Sprintf("%s/repos/%s/releases/latest", c.apiBase, c.cfg.UpdateRepo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build release request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("release feed returned %d", resp.StatusCode)
	}

	var rel release
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return fmt.Errorf("decode release: %w", err)
	}

	version := strings.TrimLeft(strings.TrimSpace(rel.TagName), "vV")
	if version == "" {
		return nil
	}

	c.monitor.NotifyUpdate(ctx, version, rel.HTMLURL)
	return nil
}

// RunForever checks on the configured interval until ctx is canceled.
func (c *Checker) RunForever(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.UpdateCheckInterval)
	defer ticker.Stop()

	for {
		if err := c.CheckOnce(ctx); err != nil {
			c.log.Warn("update check failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
