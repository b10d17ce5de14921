// Package server exposes the monitor over HTTP. It is thin plumbing: all
// decisions live in the monitor, engine and stores.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/flexwatch/flexwatch/internal/config"
	"github.com/flexwatch/flexwatch/internal/eid"
	"github.com/flexwatch/flexwatch/internal/groups"
	"github.com/flexwatch/flexwatch/internal/monitor"
	statsdomain "github.com/flexwatch/flexwatch/internal/stats/domain"
	"github.com/flexwatch/flexwatch/internal/stats/repository"
	"github.com/flexwatch/flexwatch/internal/versions"
)

// Module wires the gin engine, the route handlers and the HTTP lifecycle.
var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func registerGin() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.WebPort),
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			log.Info("http server listening", zap.String("addr", srv.Addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// Server holds the route handlers.
type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	monitor  *monitor.Monitor
	groups   *groups.Holder
	eids     *eid.Service
	versions *versions.Service
	store    *repository.Store
	log      *zap.Logger
}

// ServerParams collects the route handler dependencies.
type ServerParams struct {
	fx.In

	Gin      *gin.Engine
	Cfg      config.Config
	Monitor  *monitor.Monitor
	Groups   *groups.Holder
	EIDs     *eid.Service
	Versions *versions.Service
	Store    *repository.Store
	Logger   *zap.Logger
}

// NewServer registers all routes.
func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:   p.Gin,
		cfg:      p.Cfg,
		monitor:  p.Monitor,
		groups:   p.Groups,
		eids:     p.EIDs,
		versions: p.Versions,
		store:    p.Store,
		log:      p.Logger.Named("server"),
	}

	s.engine.GET("/status", s.GetStatus)
	s.engine.POST("/refresh", s.PostRefresh)
	s.engine.POST("/refresh-eid", s.PostRefreshEID)
	s.engine.GET("/api/stats", s.GetStats)
	s.engine.GET("/api/versions", s.GetVersions)

	return s
}

// Engine returns the underlying gin engine.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

type checkoutView struct {
	User           string     `json:"user"`
	Host           string     `json:"host"`
	FeatureVersion string     `json:"featureVersion"`
	AppVersion     string     `json:"appVersion"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
}

type featureView struct {
	Name      string         `json:"name"`
	Group     string         `json:"group"`
	Total     int            `json:"total"`
	Used      int            `json:"used"`
	Expiry    string         `json:"expiry,omitempty"`
	Anomalous bool           `json:"anomalous,omitempty"`
	SoldOut   bool           `json:"soldOut"`
	Checkouts []checkoutView `json:"checkouts"`
}

// GetStatus serves the latest snapshot with hidden features filtered out
// and group assignments applied.
func (s *Server) GetStatus(c *gin.Context) {
	snap := s.monitor.Current()
	if snap == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no snapshot yet"})
		return
	}

	classifier := s.groups.Classifier()
	var features []featureView
	for _, f := range snap.Features {
		if s.monitor.Hidden(f.Name) {
			continue
		}
		view := featureView{
			Name:      f.Name,
			Group:     classifier.Classify(f.Name),
			Total:     f.Total,
			Used:      f.Used,
			Expiry:    f.Expiry,
			Anomalous: f.Anomalous,
			SoldOut:   f.SoldOut(),
			Checkouts: make([]checkoutView, 0, len(f.Checkouts)),
		}
		for _, co := range f.Checkouts {
			view.Checkouts = append(view.Checkouts, checkoutView{
				User:           co.User,
				Host:           co.Host,
				FeatureVersion: co.FeatureVersion,
				AppVersion:     co.AppVersion,
				StartedAt:      co.StartedAt,
			})
		}
		features = append(features, view)
	}
	sort.Slice(features, func(i, j int) bool { return features[i].Name < features[j].Name })

	c.JSON(http.StatusOK, gin.H{
		"polledAt":     snap.PolledAt,
		"parseFailed":  snap.ParseFailed,
		"linesSkipped": snap.LinesSkipped,
		"features":     features,
		"eids":         s.eids.Get(c.Request.Context()),
	})
}

// PostRefresh runs one poll cycle synchronously.
func (s *Server) PostRefresh(c *gin.Context) {
	if err := s.monitor.RunOnce(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// PostRefreshEID forces an entitlement cache refresh.
func (s *Server) PostRefreshEID(c *gin.Context) {
	if err := s.eids.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"eids": s.eids.Get(c.Request.Context())})
}

type statsPoint struct {
	Timestamp int64 `json:"t"`
	Used      int   `json:"used"`
	Available int   `json:"available"`
}

// GetStats serves change-only usage history. Because rows exist only at
// change points, a synthetic point one poll interval before each change
// carries the previous value forward so charts render steps, not ramps.
func (s *Server) GetStats(c *gin.Context) {
	feature := c.Query("feature")
	hours := 24
	if raw := c.Query("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be a positive integer"})
			return
		}
		hours = parsed
	}

	rows, err := s.store.Query(c.Request.Context(), feature, hours)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	step := int64(s.cfg.RefreshInterval / time.Second)
	out := map[string][]statsPoint{}
	for name, series := range rows {
		out[name] = backfillSteps(series, step)
	}
	c.JSON(http.StatusOK, gin.H{"stats": out, "sinceHours": hours})
}

func backfillSteps(series []statsdomain.Row, step int64) []statsPoint {
	points := make([]statsPoint, 0, len(series)*2)
	for i, row := range series {
		if i > 0 {
			prev := series[i-1]
			if step > 0 && row.Timestamp-prev.Timestamp > step {
				points = append(points, statsPoint{
					Timestamp: row.Timestamp - step,
					Used:      prev.Used,
					Available: prev.Available,
				})
			}
		}
		points = append(points, statsPoint{
			Timestamp: row.Timestamp,
			Used:      row.Used,
			Available: row.Available,
		})
	}
	return points
}

type versionView struct {
	Feature string `json:"feature"`
	Version string `json:"version"`
	Count   int    `json:"count"`
}

// GetVersions serves the per-feature license version counts.
func (s *Server) GetVersions(c *gin.Context) {
	counts := s.versions.Get(c.Request.Context())

	views := make([]versionView, 0, len(counts))
	for key, count := range counts {
		views = append(views, versionView{Feature: key.Feature, Version: key.Version, Count: count})
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].Feature != views[j].Feature {
			return views[i].Feature < views[j].Feature
		}
		return views[i].Version < views[j].Version
	})

	c.JSON(http.StatusOK, gin.H{"versions": views})
}
