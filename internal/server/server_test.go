package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/flexwatch/flexwatch/internal/clock"
	"github.com/flexwatch/flexwatch/internal/config"
	"github.com/flexwatch/flexwatch/internal/daemon"
	"github.com/flexwatch/flexwatch/internal/eid"
	"github.com/flexwatch/flexwatch/internal/groups"
	"github.com/flexwatch/flexwatch/internal/lmutil"
	"github.com/flexwatch/flexwatch/internal/monitor"
	"github.com/flexwatch/flexwatch/internal/notify"
	statsdomain "github.com/flexwatch/flexwatch/internal/stats/domain"
	"github.com/flexwatch/flexwatch/internal/stats/repository"
	"github.com/flexwatch/flexwatch/internal/versions"
)

const statusOutput = `Flexible License Manager status on Fri 8/29/2026 10:30

Users of CAD_CORE:  (Total of 5 licenses issued;  Total of 2 licenses in use)
Users of CAD_CORE_maint:  (Total of 5 licenses issued;  Total of 1 license in use)
`

type fakeTool struct {
	mu   sync.Mutex
	text string
}

func (f *fakeTool) Fetch(context.Context) (lmutil.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lmutil.Raw{Text: f.text, At: time.Now()}, nil
}

func (f *fakeTool) FetchEntitlements(context.Context) (string, error) {
	return "", nil
}

type fakeProber struct{}

func (fakeProber) Probe(context.Context) daemon.Status {
	return daemon.Status{ServiceUp: true, PortOpen: true}
}

func newTestServer(t *testing.T) (*Server, *repository.Store, *clock.FakeClock) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.Config{
		AppVersion:        "1.5.0",
		WebPort:           8080,
		MaintenanceMarker: "maint",
		HideMaintenance:   true,
		RefreshInterval:   5 * time.Minute,
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, repository.Migrate(db))
	store := repository.NewStore(db, clk, log)

	holder, err := groups.NewHolder(cfg, log)
	require.NoError(t, err)

	tool := &fakeTool{text: statusOutput}
	mon := monitor.New(monitor.Params{
		Config: cfg,
		Source: tool,
		Prober: fakeProber{},
		Engine: notify.NewEngine(notify.Params{Config: cfg, Node: node, Clock: clk, Logger: log}),
		Sink:   notify.NewSink(cfg, log),
		Store:  store,
		Groups: holder,
		Clock:  clk,
		Logger: log,
	})

	server := NewServer(ServerParams{
		Gin:      registerGin(),
		Cfg:      cfg,
		Monitor:  mon,
		Groups:   holder,
		EIDs:     eid.NewService(tool, clk, log),
		Versions: versions.NewService(tool, clk, log),
		Store:    store,
		Logger:   log,
	})
	return server, store, clk
}

func doRequest(server *Server, method, target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	server.Engine().ServeHTTP(w, req)
	return w
}

func TestStatusBeforeFirstPoll(t *testing.T) {
	server, _, _ := newTestServer(t)
	w := doRequest(server, http.MethodGet, "/status")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRefreshThenStatusHidesMaintenanceVariants(t *testing.T) {
	server, _, _ := newTestServer(t)

	w := doRequest(server, http.MethodPost, "/refresh")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(server, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		ParseFailed bool `json:"parseFailed"`
		Features    []struct {
			Name  string `json:"name"`
			Group string `json:"group"`
			Used  int    `json:"used"`
			Total int    `json:"total"`
		} `json:"features"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.False(t, body.ParseFailed)
	require.Len(t, body.Features, 1)
	assert.Equal(t, "CAD_CORE", body.Features[0].Name)
	assert.Equal(t, "other", body.Features[0].Group)
	assert.Equal(t, 2, body.Features[0].Used)
	assert.Equal(t, 5, body.Features[0].Total)
}

func TestHealthz(t *testing.T) {
	server, _, _ := newTestServer(t)
	w := doRequest(server, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestStatsRejectsBadHours(t *testing.T) {
	server, _, _ := newTestServer(t)
	w := doRequest(server, http.MethodGet, "/api/stats?hours=zero")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsServesRecordedHistory(t *testing.T) {
	server, _, clk := newTestServer(t)

	w := doRequest(server, http.MethodPost, "/refresh")
	require.Equal(t, http.StatusOK, w.Code)
	clk.Advance(time.Hour)

	w = doRequest(server, http.MethodGet, "/api/stats?feature=CAD_CORE&hours=24")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Stats map[string][]struct {
			T         int64 `json:"t"`
			Used      int   `json:"used"`
			Available int   `json:"available"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Stats["CAD_CORE"], 1)
	assert.Equal(t, 2, body.Stats["CAD_CORE"][0].Used)
}

func TestBackfillSteps(t *testing.T) {
	series := []statsdomain.Row{
		{Timestamp: 1000, Used: 2, Available: 5},
		{Timestamp: 5000, Used: 4, Available: 5},
		{Timestamp: 5100, Used: 3, Available: 5},
	}

	points := backfillSteps(series, 300)
	require.Len(t, points, 4)
	// A hold point carries the old value until just before the change.
	assert.Equal(t, int64(4700), points[1].Timestamp)
	assert.Equal(t, 2, points[1].Used)
	assert.Equal(t, int64(5000), points[2].Timestamp)
	assert.Equal(t, 4, points[2].Used)
	// Changes closer together than one interval get no hold point.
	assert.Equal(t, int64(5100), points[3].Timestamp)
}
