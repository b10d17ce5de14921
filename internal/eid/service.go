package eid

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flexwatch/flexwatch/internal/clock"
	"github.com/flexwatch/flexwatch/internal/lmutil"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// TTL is the validity window of a loaded mapping.
const TTL = 24 * time.Hour

// Availability of the CLM tool: unknown until first refresh, then sticky
// until a refresh flips it.
type Availability int

const (
	AvailabilityUnknown Availability = iota
	AvailabilityOK
	AvailabilityFailed
)

type cached struct {
	mapping   Mapping
	loadedAt  time.Time
	available Availability
}

// Service serves the EID mapping with lazy 24h refresh. Refreshes are
// single-flight; readers always see a complete mapping because the cached
// value is swapped whole, never mutated.
type Service struct {
	source lmutil.EntitlementSource
	clock  clock.Clock
	log    *zap.Logger

	refreshMu sync.Mutex
	current   atomic.Value // holds cached
}

// Module provides the EID service.
var Module = fx.Provide(NewService)

func NewService(source lmutil.EntitlementSource, clk clock.Clock, log *zap.Logger) *Service {
	s := &Service{
		source: source,
		clock:  clk,
		log:    log.Named("eid"),
	}
	s.current.Store(cached{mapping: Mapping{}})
	return s
}

// Get returns the mapping, lazily refreshing when empty or past TTL.
// A failed refresh leaves the previous (possibly stale) mapping in place.
func (s *Service) Get(ctx context.Context) Mapping {
	c := s.current.Load().(cached)
	if len(c.mapping) == 0 || s.clock.Now().Sub(c.loadedAt) > TTL {
		_ = s.Refresh(ctx)
		c = s.current.Load().(cached)
	}
	return c.mapping
}

// Available reports the last observed state of the CLM tool.
func (s *Service) Available() Availability {
	return s.current.Load().(cached).available
}

// Refresh re-runs the CLM query and swaps in the new mapping. Concurrent
// callers serialize; each runs its own query after the previous completes.
func (s *Service) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	raw, err := s.source.FetchEntitlements(ctx)
	if err != nil {
		prev := s.current.Load().(cached)
		s.current.Store(cached{
			mapping:   prev.mapping,
			loadedAt:  prev.loadedAt,
			available: AvailabilityFailed,
		})
		s.log.Warn("entitlement query failed, eid data will be hidden", zap.Error(err))
		return err
	}

	mapping := Parse(raw)
	s.current.Store(cached{
		mapping:   mapping,
		loadedAt:  s.clock.Now(),
		available: AvailabilityOK,
	})
	s.log.Info("eid cache refreshed", zap.Int("features", len(mapping)))
	return nil
}
