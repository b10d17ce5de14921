package status

import (
	"testing"
	"time"

	"github.com/flexwatch/flexwatch/internal/status/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleOutput = `lmutil - Copyright (c) 1989-2021 Flexera.
License server status: 27008@localhost
    License file(s) on localhost: C:\licenses\server.lic:

Users of CAD_CORE:  (Total of 5 licenses issued;  Total of 3 licenses in use)

  "CAD_CORE" v2024.1, vendor: lmgrd, expiry: 01-jan-2027
    alice ws-alice (v2024.1) (27008/1201 101), start Fri 11/17 08:30
    bob ws-bob (v2024.1) (12.0.3) (27008/1201 102), start 11/17 09:00
    bob ws-bob (v2024.1) (27008/1201 103), start 11/17 09:05
    this line is complete garbage
Users of CAD_MAINT:  (Total of 5 licenses issued;  Total of 1 license in use)
    alice ws-alice (v2024.1) (27008/1201 104), start Nov 17 2025 10:00
Users of SIM_PRO:  (Total of 2 licenses issued;  Total of 3 licenses in use)
    carol ws-carol (v1.9) (27008/1201 105), start not-a-date
`

func newTestParser() *Parser {
	return NewParser("maint", zap.NewNop())
}

func TestParseSampleOutput(t *testing.T) {
	pollTime := time.Date(2025, time.November, 18, 12, 0, 0, 0, time.Local)
	snap := newTestParser().Parse(sampleOutput, pollTime)

	require.False(t, snap.ParseFailed)
	require.Len(t, snap.Features, 3)
	assert.Equal(t, 1, snap.LinesSkipped)

	core := snap.Feature("CAD_CORE")
	require.NotNil(t, core)
	assert.Equal(t, 5, core.Total)
	assert.Equal(t, 3, core.Used)
	assert.Equal(t, "01-jan-2027", core.Expiry)
	assert.False(t, core.IsMaintenanceVariant)
	assert.False(t, core.Anomalous)
	require.Len(t, core.Checkouts, 3)

	// bob@ws-bob holds the feature twice.
	var bobCount int
	for _, c := range core.Checkouts {
		if c.User == "bob" && c.Host == "ws-bob" {
			bobCount++
		}
	}
	assert.Equal(t, 2, bobCount)

	maint := snap.Feature("CAD_MAINT")
	require.NotNil(t, maint)
	assert.True(t, maint.IsMaintenanceVariant)

	sim := snap.Feature("SIM_PRO")
	require.NotNil(t, sim)
	assert.True(t, sim.Anomalous, "used > total must be flagged, not clamped")
	assert.Equal(t, 3, sim.Used)
	assert.Equal(t, 2, sim.Total)
}

func TestParseVersionTriState(t *testing.T) {
	pollTime := time.Date(2025, time.November, 18, 12, 0, 0, 0, time.Local)
	snap := newTestParser().Parse(sampleOutput, pollTime)

	core := snap.Feature("CAD_CORE")
	require.NotNil(t, core)

	alice := core.Checkouts[0]
	assert.Equal(t, "2024.1", alice.FeatureVersion)
	assert.Equal(t, domain.VersionUnknown, alice.AppVersion)

	bob := core.Checkouts[1]
	assert.Equal(t, "2024.1", bob.FeatureVersion)
	assert.Equal(t, "12.0.3", bob.AppVersion)
}

func TestParseStartFormats(t *testing.T) {
	now := time.Date(2025, time.November, 18, 12, 0, 0, 0, time.Local)

	t.Run("weekday short form resolves in current year", func(t *testing.T) {
		got := parseStart("Fri 11/17 08:30", now)
		require.NotNil(t, got)
		assert.Equal(t, time.Date(2025, time.November, 17, 8, 30, 0, 0, time.Local), *got)
	})

	t.Run("future short date rolls back a year", func(t *testing.T) {
		got := parseStart("12/24 09:00", now)
		require.NotNil(t, got)
		assert.Equal(t, 2024, got.Year())
	})

	t.Run("explicit year layout", func(t *testing.T) {
		got := parseStart("Nov 17 2025 10:00", now)
		require.NotNil(t, got)
		assert.Equal(t, time.Date(2025, time.November, 17, 10, 0, 0, 0, time.Local), *got)
	})

	t.Run("unparsable yields nil", func(t *testing.T) {
		assert.Nil(t, parseStart("not-a-date", now))
		assert.Nil(t, parseStart("", now))
	})
}

func TestParseGarbageInput(t *testing.T) {
	pollTime := time.Now()

	for _, raw := range []string{"", "total garbage\nnothing here", "Cannot connect to license server system. (-15,570)"} {
		snap := newTestParser().Parse(raw, pollTime)
		assert.True(t, snap.ParseFailed)
		assert.Empty(t, snap.Features)
	}
}

func TestOutputLooksHealthy(t *testing.T) {
	assert.True(t, OutputLooksHealthy(sampleOutput))
	assert.False(t, OutputLooksHealthy("lmutil: Cannot connect to license server system. (-15,570)"))
	assert.False(t, OutputLooksHealthy("Error getting status: no such host is known"))
}
