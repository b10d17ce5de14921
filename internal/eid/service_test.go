package eid

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flexwatch/flexwatch/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const clmOutput = `Available features:
  - 00112-15895-00040-08571-EEC92 (Floating):
    - M3D_CLWRX.ArcGIS 0/1
    - CAD_CORE 2/5
  - 00113-22222-00040-08571-ABCDE (Floating):
    - CAD_CORE 1/2
`

type fakeEntitlementSource struct {
	out   string
	err   error
	calls int
}

func (f *fakeEntitlementSource) FetchEntitlements(context.Context) (string, error) {
	f.calls++
	return f.out, f.err
}

func TestParse(t *testing.T) {
	mapping := Parse(clmOutput)

	require.Len(t, mapping, 2)
	assert.Equal(t, []string{"00112-15895-00040-08571-EEC92"}, mapping["M3D_CLWRX.ArcGIS"])
	assert.Equal(t, []string{
		"00112-15895-00040-08571-EEC92",
		"00113-22222-00040-08571-ABCDE",
	}, mapping["CAD_CORE"])

	assert.Empty(t, Parse(""))
	assert.Empty(t, Parse("no eids here\n- not a header"))
}

func TestGetRefreshesLazilyOnTTL(t *testing.T) {
	src := &fakeEntitlementSource{out: clmOutput}
	clk := clock.NewFakeClock(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(src, clk, zap.NewNop())

	mapping := svc.Get(context.Background())
	assert.Len(t, mapping, 2)
	assert.Equal(t, 1, src.calls)
	assert.Equal(t, AvailabilityOK, svc.Available())

	// Within TTL: served from cache.
	clk.Advance(23 * time.Hour)
	_ = svc.Get(context.Background())
	assert.Equal(t, 1, src.calls)

	// Past TTL: refreshed.
	clk.Advance(2 * time.Hour)
	_ = svc.Get(context.Background())
	assert.Equal(t, 2, src.calls)
}

func TestRefreshFailureKeepsPreviousMapping(t *testing.T) {
	src := &fakeEntitlementSource{out: clmOutput}
	clk := clock.NewFakeClock(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(src, clk, zap.NewNop())

	require.NoError(t, svc.Refresh(context.Background()))

	src.err = errors.New("clm not found")
	assert.Error(t, svc.Refresh(context.Background()))
	assert.Equal(t, AvailabilityFailed, svc.Available())

	// Stale data stays readable.
	c := svc.current.Load().(cached)
	assert.Len(t, c.mapping, 2)
}
