// Package monitor runs the poll-parse-notify-persist cycle.
package monitor

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/flexwatch/flexwatch/internal/clock"
	"github.com/flexwatch/flexwatch/internal/config"
	"github.com/flexwatch/flexwatch/internal/daemon"
	"github.com/flexwatch/flexwatch/internal/groups"
	"github.com/flexwatch/flexwatch/internal/lmutil"
	"github.com/flexwatch/flexwatch/internal/notify"
	notifydomain "github.com/flexwatch/flexwatch/internal/notify/domain"
	obsmetrics "github.com/flexwatch/flexwatch/internal/observability/metrics"
	"github.com/flexwatch/flexwatch/internal/stats/repository"
	"github.com/flexwatch/flexwatch/internal/status"
	statusdomain "github.com/flexwatch/flexwatch/internal/status/domain"
)

// Module provides the monitor and starts the background poll loop.
var Module = fx.Options(
	fx.Provide(New),
	fx.Invoke(Register),
)

// Register starts the poll loop when the application starts.
func Register(lc fx.Lifecycle, m *Monitor) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go m.RunForever(ctx)

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

// Params collects the monitor dependencies.
type Params struct {
	fx.In

	Config config.Config
	Source lmutil.Source
	Prober daemon.Prober
	Engine *notify.Engine
	Sink   notify.Sink
	Store  *repository.Store
	Groups *groups.Holder
	Clock  clock.Clock
	Logger *zap.Logger
}

// Monitor owns the previous snapshot and the dedup state. One mutex keeps
// the periodic loop and on-demand refreshes from interleaving cycles, so
// snapshots are always compared in poll order.
type Monitor struct {
	cfg      config.Config
	source   lmutil.Source
	parser   *status.Parser
	prober   daemon.Prober
	engine   *notify.Engine
	sink     notify.Sink
	store    *repository.Store
	groups   *groups.Holder
	clk      clock.Clock
	log      *zap.Logger
	hideList []string

	mu    sync.Mutex
	prev  *statusdomain.Snapshot
	state *notifydomain.DedupState
}

// New builds the monitor.
func New(p Params) *Monitor {
	hide := make([]string, 0, len(p.Config.HideList))
	for _, entry := range p.Config.HideList {
		hide = append(hide, strings.ToLower(entry))
	}
	return &Monitor{
		cfg:      p.Config,
		source:   p.Source,
		parser:   status.NewParser(p.Config.MaintenanceMarker, p.Logger),
		prober:   p.Prober,
		engine:   p.Engine,
		sink:     p.Sink,
		store:    p.Store,
		groups:   p.Groups,
		clk:      p.Clock,
		log:      p.Logger.Named("monitor"),
		hideList: hide,
		state:    notifydomain.NewDedupState(),
	}
}

// RunOnce executes one full cycle. A concurrent caller blocks until the
// in-flight cycle completes and then runs its own.
func (m *Monitor) RunOnce(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	start := m.clk.Now()
	met := obsmetrics.Monitor()

	snap := m.poll(ctx)
	probe := m.prober.Probe(ctx)

	met.AddLinesSkipped(snap.LinesSkipped)
	met.SetDaemonUp(probe.Up() && !snap.ParseFailed && status.OutputLooksHealthy(snap.RawText))
	if !snap.ParseFailed {
		met.SetFeaturesObserved(len(snap.Features))
	}

	events := m.engine.Evaluate(notify.Input{
		Previous:   m.prev,
		Current:    snap,
		Daemon:     &probe,
		Classifier: m.groups.Classifier(),
	}, m.state)
	m.deliver(ctx, events)

	rows, err := m.store.Record(ctx, snap, m.isHidden)
	if err != nil {
		met.IncPollError(obsmetrics.PollErrorTypeStore)
	}
	met.AddStatsRows(rows)

	m.prev = snap
	met.IncPollCycle()
	met.ObservePollDuration(m.clk.Now().Sub(start))
	return err
}

// RunForever polls on the configured interval until ctx is canceled.
func (m *Monitor) RunForever(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		if err := m.RunOnce(ctx); err != nil {
			m.log.Warn("poll cycle failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// NotifyUpdate decides and delivers an update alert for a discovered
// remote version, sharing the cycle lock so dedup state stays consistent.
func (m *Monitor) NotifyUpdate(ctx context.Context, version, link string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	event, fired := m.engine.UpdateAvailable(version, link, m.state)
	if !fired {
		return
	}
	m.deliver(ctx, []notifydomain.AlertEvent{event})
}

// Current returns the most recent snapshot, or nil before the first cycle.
func (m *Monitor) Current() *statusdomain.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prev
}

// Hidden reports whether a feature is excluded from display and stats.
func (m *Monitor) Hidden(name string) bool {
	return m.isHidden(name)
}

func (m *Monitor) poll(ctx context.Context) *statusdomain.Snapshot {
	raw, err := m.source.Fetch(ctx)
	if err != nil {
		m.log.Warn("status fetch failed", zap.Error(err))
		obsmetrics.Monitor().IncPollError(obsmetrics.PollErrorTypeSource)
		return statusdomain.Empty(m.clk.Now())
	}

	snap := m.parser.Parse(raw.Text, raw.At)
	if snap.ParseFailed {
		obsmetrics.Monitor().IncPollError(obsmetrics.PollErrorTypeParse)
	}
	return snap
}

// deliver sends decided events best-effort. Dedup state was already
// updated when the events were decided; a failed send is logged and never
// retried.
func (m *Monitor) deliver(ctx context.Context, events []notifydomain.AlertEvent) {
	met := obsmetrics.Monitor()
	for _, event := range events {
		met.IncAlertFired(string(event.Kind))
		if err := m.sink.Send(ctx, event); err != nil {
			met.IncAlertDeliveryFailure(string(event.Kind))
			m.log.Warn("alert delivery failed",
				zap.String("kind", string(event.Kind)),
				zap.String("key", event.Key),
				zap.Error(err),
			)
		}
	}
}

// Hide-list entries match as case-insensitive substrings.
func (m *Monitor) isHidden(name string) bool {
	lower := strings.ToLower(name)
	for _, entry := range m.hideList {
		if strings.Contains(lower, entry) {
			return true
		}
	}
	if m.cfg.HideMaintenance && m.cfg.MaintenanceMarker != "" &&
		strings.Contains(lower, m.cfg.MaintenanceMarker) {
		return true
	}
	return false
}
