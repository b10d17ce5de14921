package versions

import (
	"context"
	"testing"
	"time"

	"github.com/flexwatch/flexwatch/internal/clock"
	"github.com/flexwatch/flexwatch/internal/lmutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const raw = `Users of CAD_CORE:  (Total of 5 licenses issued;  Total of 3 licenses in use)
    alice ws-alice (v2024.1) (27008/1201 101), start Fri 11/17 08:30
    bob ws-bob (v2024.1) (27008/1201 102), start 11/17 09:00
    carol ws-carol (v2023.2) (27008/1201 103), start 11/17 09:05
Users of SIM_PRO:  (Total of 2 licenses issued;  Total of 1 license in use)
    dave ws-dave (v1.9) (27008/1201 104), start 11/17 09:10
`

func TestParseVersionCounts(t *testing.T) {
	counts := Parse(raw)

	assert.Equal(t, 2, counts[Key{Feature: "CAD_CORE", Version: "2024.1"}])
	assert.Equal(t, 1, counts[Key{Feature: "CAD_CORE", Version: "2023.2"}])
	assert.Equal(t, 1, counts[Key{Feature: "SIM_PRO", Version: "1.9"}])
	assert.Len(t, counts, 3)
}

type fakeSource struct {
	text  string
	calls int
}

func (f *fakeSource) Fetch(context.Context) (lmutil.Raw, error) {
	f.calls++
	return lmutil.Raw{Text: f.text, At: time.Now()}, nil
}

func TestGetHonorsTTL(t *testing.T) {
	src := &fakeSource{text: raw}
	clk := clock.NewFakeClock(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	svc := NewService(src, clk, zap.NewNop())

	_ = svc.Get(context.Background())
	assert.Equal(t, 1, src.calls)

	clk.Advance(TTL - time.Hour)
	_ = svc.Get(context.Background())
	assert.Equal(t, 1, src.calls)

	clk.Advance(2 * time.Hour)
	_ = svc.Get(context.Background())
	assert.Equal(t, 2, src.calls)
}
