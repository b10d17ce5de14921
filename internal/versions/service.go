// Package versions maintains the per-feature license-version counts shown on
// the "license versions" surface. It parses the raw status text independently
// of the main snapshot and caches the result for its own 24h window.
package versions

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flexwatch/flexwatch/internal/clock"
	"github.com/flexwatch/flexwatch/internal/lmutil"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TTL is the validity window of the version counts, independent of the main
// snapshot cadence.
const TTL = 24 * time.Hour

var (
	reFeatureHeader = regexp.MustCompile(`(?i)Users of\s+(.+?):\s*\(Total of\s+\d+`)
	reVersionToken  = regexp.MustCompile(`\(v([0-9A-Za-z.\-]+)\)`)
)

// Key identifies one (feature, version) pair.
type Key struct {
	Feature string
	Version string
}

// Counts maps (feature, versionString) onto the number of seats observed at
// that version.
type Counts map[Key]int

// Parse tallies version tokens under each feature block.
func Parse(raw string) Counts {
	counts := Counts{}
	current := ""
	for _, line := range strings.Split(raw, "\n") {
		if m := reFeatureHeader.FindStringSubmatch(line); m != nil {
			current = strings.TrimSpace(m[1])
			continue
		}
		if current == "" {
			continue
		}
		if m := reVersionToken.FindStringSubmatch(line); m != nil {
			counts[Key{Feature: current, Version: m[1]}]++
		}
	}
	return counts
}

type cached struct {
	counts   Counts
	loadedAt time.Time
}

// Service serves version counts with single-flight refresh and atomic swap.
type Service struct {
	source lmutil.Source
	clock  clock.Clock
	log    *zap.Logger

	refreshMu sync.Mutex
	current   atomic.Value // holds cached
}

// Module provides the version-count service.
var Module = fx.Provide(NewService)

func NewService(source lmutil.Source, clk clock.Clock, log *zap.Logger) *Service {
	s := &Service{
		source: source,
		clock:  clk,
		log:    log.Named("versions"),
	}
	s.current.Store(cached{counts: Counts{}})
	return s
}

// Get returns the counts, refreshing when empty or past TTL.
func (s *Service) Get(ctx context.Context) Counts {
	c := s.current.Load().(cached)
	if len(c.counts) == 0 || s.clock.Now().Sub(c.loadedAt) > TTL {
		_ = s.Refresh(ctx)
		c = s.current.Load().(cached)
	}
	return c.counts
}

// Refresh re-fetches and re-parses the version counts.
func (s *Service) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	raw, err := s.source.Fetch(ctx)
	if err != nil {
		s.log.Warn("version count refresh failed", zap.Error(err))
		return err
	}
	counts := Parse(raw.Text)
	s.current.Store(cached{counts: counts, loadedAt: s.clock.Now()})
	s.log.Info("license version counts refreshed", zap.Int("pairs", len(counts)))
	return nil
}
