package repository

import (
	"context"
	"testing"
	"time"

	"github.com/flexwatch/flexwatch/internal/clock"
	statusdomain "github.com/flexwatch/flexwatch/internal/status/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return NewStore(db, clk, zap.NewNop())
}

func snapshotAt(at time.Time, used, total int) *statusdomain.Snapshot {
	return &statusdomain.Snapshot{
		Features: map[string]*statusdomain.Feature{
			"CAD_CORE": {Name: "CAD_CORE", Used: used, Total: total},
		},
		PolledAt: at,
	}
}

func TestRecordOnlyOnChange(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	store := newTestStore(t, clk)
	ctx := context.Background()

	at := clk.Now()
	appended, err := store.Record(ctx, snapshotAt(at, 3, 5), nil)
	require.NoError(t, err)
	require.Equal(t, 1, appended)
	// Identical polls: no new rows.
	for i := 0; i < 4; i++ {
		at = at.Add(5 * time.Minute)
		appended, err = store.Record(ctx, snapshotAt(at, 3, 5), nil)
		require.NoError(t, err)
		require.Zero(t, appended)
	}
	at = at.Add(5 * time.Minute)
	appended, err = store.Record(ctx, snapshotAt(at, 4, 5), nil)
	require.NoError(t, err)
	require.Equal(t, 1, appended)

	rows, err := store.Query(ctx, "CAD_CORE", 24)
	require.NoError(t, err)
	require.Len(t, rows["CAD_CORE"], 2)
	assert.Equal(t, 3, rows["CAD_CORE"][0].Used)
	assert.Equal(t, 4, rows["CAD_CORE"][1].Used)
	assert.Less(t, rows["CAD_CORE"][0].Timestamp, rows["CAD_CORE"][1].Timestamp)
}

func TestRecordSkipsHiddenAndParseFailed(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	store := newTestStore(t, clk)
	ctx := context.Background()

	appended, err := store.Record(ctx, snapshotAt(clk.Now(), 3, 5), func(string) bool { return true })
	require.NoError(t, err)
	require.Zero(t, appended)

	appended, err = store.Record(ctx, statusdomain.Empty(clk.Now()), nil)
	require.NoError(t, err)
	require.Zero(t, appended)

	rows, err := store.Query(ctx, "", 24)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestQueryWindowAndAllFeatures(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2026, time.March, 2, 12, 0, 0, 0, time.UTC))
	store := newTestStore(t, clk)
	ctx := context.Background()

	old := &statusdomain.Snapshot{
		Features: map[string]*statusdomain.Feature{
			"CAD_CORE": {Name: "CAD_CORE", Used: 1, Total: 5},
			"SIM_PRO":  {Name: "SIM_PRO", Used: 2, Total: 2},
		},
		PolledAt: clk.Now().Add(-48 * time.Hour),
	}
	_, err := store.Record(ctx, old, nil)
	require.NoError(t, err)

	recent := &statusdomain.Snapshot{
		Features: map[string]*statusdomain.Feature{
			"CAD_CORE": {Name: "CAD_CORE", Used: 2, Total: 5},
			"SIM_PRO":  {Name: "SIM_PRO", Used: 1, Total: 2},
		},
		PolledAt: clk.Now().Add(-time.Hour),
	}
	_, err = store.Record(ctx, recent, nil)
	require.NoError(t, err)

	rows, err := store.Query(ctx, "", 24)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Len(t, rows["CAD_CORE"], 1)
	assert.Len(t, rows["SIM_PRO"], 1)
	assert.Equal(t, 2, rows["CAD_CORE"][0].Used)
}
