// Package notify decides which alerts fire for a poll cycle and delivers
// them to the configured sink.
package notify

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/flexwatch/flexwatch/internal/clock"
	"github.com/flexwatch/flexwatch/internal/config"
	"github.com/flexwatch/flexwatch/internal/daemon"
	"github.com/flexwatch/flexwatch/internal/groups"
	"github.com/flexwatch/flexwatch/internal/notify/domain"
	"github.com/flexwatch/flexwatch/internal/status"
	statusdomain "github.com/flexwatch/flexwatch/internal/status/domain"
)

// Module provides the engine and the webhook sink.
var Module = fx.Options(
	fx.Provide(NewEngine),
	fx.Provide(NewSink),
)

// Params collects the engine dependencies.
type Params struct {
	fx.In

	Config config.Config
	Node   *snowflake.Node
	Clock  clock.Clock
	Logger *zap.Logger
}

// Engine evaluates successive snapshots against dedup state and emits
// alert events. It holds no mutable state of its own; all dedup state is
// passed in so tests can inject a fresh one.
type Engine struct {
	cfg  config.Config
	node *snowflake.Node
	clk  clock.Clock
	log  *zap.Logger
}

// NewEngine builds the notification engine.
func NewEngine(p Params) *Engine {
	return &Engine{
		cfg:  p.Config,
		node: p.Node,
		clk:  p.Clock,
		log:  p.Logger.Named("notify"),
	}
}

// Input is one cycle's view handed to Evaluate.
type Input struct {
	Previous   *statusdomain.Snapshot
	Current    *statusdomain.Snapshot
	Daemon     *daemon.Status
	Classifier *groups.Classifier
}

// Evaluate runs every enabled checker against the current snapshot and
// returns the events that fired. Dedup state is updated as events are
// decided; the caller delivers them afterwards, and delivery failures do
// not undo the decision.
func (e *Engine) Evaluate(in Input, state *domain.DedupState) []domain.AlertEvent {
	if !e.cfg.Notify.Enabled || in.Current == nil || state == nil {
		return nil
	}

	var events []domain.AlertEvent
	// A failed poll carries no usage data. Running the usage checkers on it
	// would clear edge-triggered state and re-alert unchanged holders once
	// the server is reachable again; only the daemon check may read it.
	if !in.Current.ParseFailed {
		events = append(events, e.checkDuplicates(in.Current, state)...)
		events = append(events, e.checkInconsistent(in.Current, in.Classifier, state)...)
		events = append(events, e.checkExtendedUsage(in.Current, state)...)
		events = append(events, e.checkSoldOut(in.Current, state)...)
	}
	events = append(events, e.checkDaemon(in.Current, in.Daemon, state)...)
	return events
}

// UpdateAvailable decides an update alert for a discovered remote version.
// The running version and already-alerted versions never fire.
func (e *Engine) UpdateAvailable(version, link string, state *domain.DedupState) (domain.AlertEvent, bool) {
	if !e.cfg.Notify.Enabled || !e.cfg.Notify.Update || state == nil {
		return domain.AlertEvent{}, false
	}
	version = strings.TrimSpace(version)
	if version == "" || version == strings.TrimSpace(e.cfg.AppVersion) {
		return domain.AlertEvent{}, false
	}
	if !state.MarkUpdate(version) {
		return domain.AlertEvent{}, false
	}
	return e.newEvent(
		domain.AlertKindUpdate,
		version,
		"Update available",
		fmt.Sprintf("Version %s is available, currently running %s.", version, e.cfg.AppVersion),
		link,
	), true
}

func (e *Engine) checkDuplicates(curr *statusdomain.Snapshot, state *domain.DedupState) []domain.AlertEvent {
	if !e.cfg.Notify.Duplicate {
		return nil
	}

	var events []domain.AlertEvent
	for _, f := range sortedFeatures(curr) {
		if f.IsMaintenanceVariant {
			continue
		}
		counts := map[statusdomain.CheckoutKey]int{}
		for _, co := range f.Checkouts {
			counts[co.Key(f.Name)]++
		}
		emitted := map[statusdomain.CheckoutKey]struct{}{}
		for _, co := range f.Checkouts {
			key := co.Key(f.Name)
			if counts[key] < 2 {
				continue
			}
			if _, done := emitted[key]; done {
				continue
			}
			emitted[key] = struct{}{}
			if !state.MarkDuplicate(key) {
				continue
			}
			events = append(events, e.newEvent(
				domain.AlertKindDuplicate,
				fmt.Sprintf("%s/%s@%s", f.Name, co.User, co.Host),
				"Duplicate checkout",
				fmt.Sprintf("%s holds %d checkouts of %s from %s.", co.User, counts[key], f.Name, co.Host),
				"",
			))
		}
	}
	return events
}

func (e *Engine) checkInconsistent(curr *statusdomain.Snapshot, classifier *groups.Classifier, state *domain.DedupState) []domain.AlertEvent {
	if !e.cfg.Notify.Maintcheck || classifier == nil {
		return nil
	}

	variants := map[string]*statusdomain.Feature{}
	for _, f := range curr.Features {
		if f.IsMaintenanceVariant {
			variants[stripMarker(f.Name, e.cfg.MaintenanceMarker)] = f
		}
	}

	var events []domain.AlertEvent
	for _, std := range sortedFeatures(curr) {
		if std.IsMaintenanceVariant {
			continue
		}
		if !classifier.CheckMaintenance(std.Name) {
			continue
		}
		maint, ok := variants[stripMarker(std.Name, e.cfg.MaintenanceMarker)]
		if !ok {
			continue
		}

		stdPairs, stdSet := checkoutPairs(std)
		maintPairs, maintSet := checkoutPairs(maint)

		for _, pair := range stdPairs {
			if _, has := maintSet[pair]; has {
				continue
			}
			key := domain.InconsistentKey{
				CheckoutKey: statusdomain.CheckoutKey{Feature: std.Name, User: pair.User, Host: pair.Host},
				StatusKind:  domain.InconsistencyMissingMaintenance,
			}
			if !state.MarkInconsistent(key) {
				continue
			}
			events = append(events, e.newEvent(
				domain.AlertKindInconsistent,
				fmt.Sprintf("%s/%s@%s", std.Name, pair.User, pair.Host),
				"Maintenance license missing",
				fmt.Sprintf("%s on %s uses %s without the matching %s seat.", pair.User, pair.Host, std.Name, maint.Name),
				"",
			))
		}
		for _, pair := range maintPairs {
			if _, has := stdSet[pair]; has {
				continue
			}
			key := domain.InconsistentKey{
				CheckoutKey: statusdomain.CheckoutKey{Feature: std.Name, User: pair.User, Host: pair.Host},
				StatusKind:  domain.InconsistencyMissingStandard,
			}
			if !state.MarkInconsistent(key) {
				continue
			}
			events = append(events, e.newEvent(
				domain.AlertKindInconsistent,
				fmt.Sprintf("%s/%s@%s", std.Name, pair.User, pair.Host),
				"Standard license missing",
				fmt.Sprintf("%s on %s holds %s without the matching %s seat.", pair.User, pair.Host, maint.Name, std.Name),
				"",
			))
		}
	}
	return events
}

func (e *Engine) checkExtendedUsage(curr *statusdomain.Snapshot, state *domain.DedupState) []domain.AlertEvent {
	if !e.cfg.Notify.Extratime {
		return nil
	}

	threshold := time.Duration(e.cfg.Notify.ExtratimeHours) * time.Hour
	excluded := exclusionFilter(e.cfg.Notify.ExtratimeExclusion)
	now := e.clk.Now()

	over := map[domain.PairKey][]string{}
	for _, f := range sortedFeatures(curr) {
		if f.IsMaintenanceVariant || excluded(f.Name) {
			continue
		}
		listed := map[domain.PairKey]struct{}{}
		for _, co := range f.Checkouts {
			if co.StartedAt == nil || now.Sub(*co.StartedAt) < threshold {
				continue
			}
			pair := domain.PairKey{User: co.User, Host: co.Host}
			if _, done := listed[pair]; done {
				continue
			}
			listed[pair] = struct{}{}
			over[pair] = append(over[pair], f.Name)
		}
	}

	// A pair with no over-threshold feature left re-arms for its next crossing.
	for _, pair := range state.ExtendedUsagePairs() {
		if _, still := over[pair]; !still {
			state.ClearExtendedUsage(pair)
		}
	}

	var events []domain.AlertEvent
	for _, pair := range sortedPairs(over) {
		features := over[pair]
		fresh := state.ExtendedUsageNew(pair, features)
		if len(fresh) == 0 {
			continue
		}
		state.MarkExtendedUsage(pair, features)
		events = append(events, e.newEvent(
			domain.AlertKindExtendedUsage,
			fmt.Sprintf("%s@%s", pair.User, pair.Host),
			"Extended license usage",
			fmt.Sprintf("%s on %s has held %s for over %d hours.",
				pair.User, pair.Host, strings.Join(features, ", "), e.cfg.Notify.ExtratimeHours),
			"",
		))
	}
	return events
}

func (e *Engine) checkSoldOut(curr *statusdomain.Snapshot, state *domain.DedupState) []domain.AlertEvent {
	if !e.cfg.Notify.Soldout {
		return nil
	}

	excluded := exclusionFilter(e.cfg.Notify.SoldoutExclusion)
	var events []domain.AlertEvent
	for _, f := range sortedFeatures(curr) {
		if f.IsMaintenanceVariant || excluded(f.Name) {
			continue
		}
		soldOut := f.SoldOut()
		prev, known := state.SoldOut(f.Name)
		state.SetSoldOut(f.Name, soldOut)

		// First observation only alerts when the feature is already gone;
		// afterwards both edges fire.
		if known && soldOut == prev {
			continue
		}
		if !known && !soldOut {
			continue
		}
		if soldOut {
			events = append(events, e.newEvent(
				domain.AlertKindSoldOut,
				f.Name,
				"Feature sold out",
				fmt.Sprintf("%s has no free seats (%d of %d in use).", f.Name, f.Used, f.Total),
				"",
			))
		} else {
			events = append(events, e.newEvent(
				domain.AlertKindSoldOut,
				f.Name,
				"Feature available again",
				fmt.Sprintf("%s has free seats again (%d of %d in use).", f.Name, f.Used, f.Total),
				"",
			))
		}
	}
	return events
}

func (e *Engine) checkDaemon(curr *statusdomain.Snapshot, probe *daemon.Status, state *domain.DedupState) []domain.AlertEvent {
	if !e.cfg.Notify.Daemon || probe == nil {
		return nil
	}

	// lmstat can exit zero and still report a connection failure; that
	// output overrules otherwise-healthy probes.
	up := probe.Up()
	if curr != nil && (curr.ParseFailed || !status.OutputLooksHealthy(curr.RawText)) {
		up = false
	}
	prev, known := state.DaemonUp()
	state.SetDaemonUp(up)

	if known && up == prev {
		return nil
	}
	if !known && up {
		return nil
	}
	if up {
		return []domain.AlertEvent{e.newEvent(
			domain.AlertKindDaemon,
			"daemon",
			"License daemon recovered",
			fmt.Sprintf("%s is reachable again on port %s.", e.cfg.ServiceName, e.cfg.LicensePort),
			"",
		)}
	}
	return []domain.AlertEvent{e.newEvent(
		domain.AlertKindDaemon,
		"daemon",
		"License daemon down",
		fmt.Sprintf("%s is not reachable (service up: %t, port open: %t).",
			e.cfg.ServiceName, probe.ServiceUp, probe.PortOpen),
		"",
	)}
}

func (e *Engine) newEvent(kind domain.AlertKind, key, title, body, link string) domain.AlertEvent {
	return domain.AlertEvent{
		ID:    e.node.Generate(),
		Kind:  kind,
		Key:   key,
		Title: title,
		Body:  body,
		Link:  link,
		At:    e.clk.Now(),
	}
}

func sortedFeatures(snap *statusdomain.Snapshot) []*statusdomain.Feature {
	features := make([]*statusdomain.Feature, 0, len(snap.Features))
	for _, f := range snap.Features {
		features = append(features, f)
	}
	sort.Slice(features, func(i, j int) bool { return features[i].Name < features[j].Name })
	return features
}

func checkoutPairs(f *statusdomain.Feature) ([]domain.PairKey, map[domain.PairKey]struct{}) {
	set := map[domain.PairKey]struct{}{}
	var pairs []domain.PairKey
	for _, co := range f.Checkouts {
		pair := domain.PairKey{User: co.User, Host: co.Host}
		if _, ok := set[pair]; ok {
			continue
		}
		set[pair] = struct{}{}
		pairs = append(pairs, pair)
	}
	return pairs, set
}

func sortedPairs(over map[domain.PairKey][]string) []domain.PairKey {
	pairs := make([]domain.PairKey, 0, len(over))
	for pair := range over {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].User != pairs[j].User {
			return pairs[i].User < pairs[j].User
		}
		return pairs[i].Host < pairs[j].Host
	})
	return pairs
}

// exclusionFilter matches configured exclusion entries case-insensitively.
func exclusionFilter(list []string) func(name string) bool {
	set := make(map[string]struct{}, len(list))
	for _, item := range list {
		set[strings.ToLower(item)] = struct{}{}
	}
	return func(name string) bool {
		_, skip := set[strings.ToLower(name)]
		return skip
	}
}

func stripMarker(name, marker string) string {
	lower := strings.ToLower(name)
	if marker != "" {
		lower = strings.ReplaceAll(lower, marker, "")
	}
	return strings.Trim(lower, "_-. ")
}
