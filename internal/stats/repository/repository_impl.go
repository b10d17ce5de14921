// Package repository persists change-only feature usage history.
package repository

import (
	"context"
	"sync"

	"github.com/flexwatch/flexwatch/internal/clock"
	statsdomain "github.com/flexwatch/flexwatch/internal/stats/domain"
	statusdomain "github.com/flexwatch/flexwatch/internal/status/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type seatState struct {
	used  int
	total int
}

// Store appends usage rows when counts change and serves time-series reads.
// The last-stored state is tracked in memory for the process lifetime; after
// a restart the first poll re-records every feature once.
type Store struct {
	db    *gorm.DB
	clock clock.Clock
	log   *zap.Logger

	mu   sync.Mutex
	last map[string]seatState
}

// Module provides the store and runs the schema migration.
var Module = fx.Options(
	fx.Provide(NewStore),
	fx.Invoke(Migrate),
)

func NewStore(db *gorm.DB, clk clock.Clock, log *zap.Logger) *Store {
	return &Store{
		db:    db,
		clock: clk,
		log:   log.Named("stats"),
		last:  map[string]seatState{},
	}
}

// Migrate creates or additively extends the feature_usage table.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&statsdomain.FeatureUsage{})
}

// Record appends one row per feature whose (used, total) changed since the
// last stored row and returns the appended count. Features for which hidden
// returns true are not recorded. Parse-failed snapshots are ignored; absence
// of data is not a usage change.
func (s *Store) Record(ctx context.Context, snap *statusdomain.Snapshot, hidden func(name string) bool) (int, error) {
	if snap == nil || snap.ParseFailed {
		return 0, nil
	}

	timestamp := snap.PolledAt.Unix()
	var rows []statsdomain.FeatureUsage

	s.mu.Lock()
	for name, f := range snap.Features {
		if hidden != nil && hidden(name) {
			continue
		}
		state := seatState{used: f.Used, total: f.Total}
		if prev, ok := s.last[name]; ok && prev == state {
			continue
		}
		s.last[name] = state
		rows = append(rows, statsdomain.FeatureUsage{
			Timestamp:   timestamp,
			FeatureName: name,
			Used:        f.Used,
			Available:   f.Total,
		})
	}
	s.mu.Unlock()

	if len(rows) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		s.log.Error("failed to store feature stats", zap.Error(err))
		return 0, err
	}
	s.log.Debug("usage changes recorded", zap.Int("rows", len(rows)))
	return len(rows), nil
}

// Query returns rows for one feature (or all features when feature is empty)
// within the trailing window, ascending by time. The read is stateless and
// restartable.
func (s *Store) Query(ctx context.Context, feature string, sinceHours int) (map[string][]statsdomain.Row, error) {
	cutoff := s.clock.Now().Unix() - int64(sinceHours)*3600

	q := s.db.WithContext(ctx).
		Model(&statsdomain.FeatureUsage{}).
		Where("timestamp >= ?", cutoff).
		Order("feature_name, timestamp ASC")
	if feature != "" {
		q = q.Where("feature_name = ?", feature)
	}

	var records []statsdomain.FeatureUsage
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}

	out := map[string][]statsdomain.Row{}
	for _, r := range records {
		out[r.FeatureName] = append(out[r.FeatureName], statsdomain.Row{
			Timestamp: r.Timestamp,
			Used:      r.Used,
			Available: r.Available,
		})
	}
	return out, nil
}
