// Package domain holds alert events and the per-kind dedup state.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	statusdomain "github.com/flexwatch/flexwatch/internal/status/domain"
)

// AlertKind names one of the alert categories the engine can emit.
type AlertKind string

const (
	AlertKindUpdate        AlertKind = "update"
	AlertKindDuplicate     AlertKind = "duplicate"
	AlertKindInconsistent  AlertKind = "maintcheck"
	AlertKindExtendedUsage AlertKind = "extratime"
	AlertKindSoldOut       AlertKind = "soldout"
	AlertKindDaemon        AlertKind = "daemon"
)

// Inconsistency status kinds for the maintenance cross-check.
const (
	InconsistencyMissingMaintenance = "missing_maintenance"
	InconsistencyMissingStandard    = "missing_standard"
)

// AlertEvent is one decided notification. Delivery is best-effort; the
// decision itself is recorded in DedupState regardless of delivery.
type AlertEvent struct {
	ID    snowflake.ID
	Kind  AlertKind
	Key   string
	Title string
	Body  string
	Link  string
	At    time.Time
}

// PairKey identifies a user/host pair for extended-usage dedup.
type PairKey struct {
	User string
	Host string
}

// InconsistentKey is the dedup identity for maintenance inconsistency alerts.
type InconsistentKey struct {
	statusdomain.CheckoutKey
	StatusKind string
}

// DedupState is process-lifetime mutable state, one sub-state per alert
// kind. It is owned by the monitor and handed to the engine under the
// single-in-flight cycle lock, never shared across goroutines. All state
// resets on process restart.
type DedupState struct {
	seenDuplicates   map[statusdomain.CheckoutKey]struct{}
	seenInconsistent map[InconsistentKey]struct{}
	extendedUsage    map[PairKey]map[string]struct{}
	soldOut          map[string]bool
	daemonUp         *bool
	seenUpdates      map[string]struct{}
}

// NewDedupState returns empty dedup state.
func NewDedupState() *DedupState {
	return &DedupState{
		seenDuplicates:   map[statusdomain.CheckoutKey]struct{}{},
		seenInconsistent: map[InconsistentKey]struct{}{},
		extendedUsage:    map[PairKey]map[string]struct{}{},
		soldOut:          map[string]bool{},
		seenUpdates:      map[string]struct{}{},
	}
}

// MarkDuplicate records the key and reports whether it was newly seen.
func (s *DedupState) MarkDuplicate(key statusdomain.CheckoutKey) bool {
	if _, ok := s.seenDuplicates[key]; ok {
		return false
	}
	s.seenDuplicates[key] = struct{}{}
	return true
}

// MarkInconsistent records the key and reports whether it was newly seen.
func (s *DedupState) MarkInconsistent(key InconsistentKey) bool {
	if _, ok := s.seenInconsistent[key]; ok {
		return false
	}
	s.seenInconsistent[key] = struct{}{}
	return true
}

// ExtendedUsageNew reports the features in over that the pair has not been
// alerted for during its current continuous over-threshold period.
func (s *DedupState) ExtendedUsageNew(pair PairKey, over []string) []string {
	reported := s.extendedUsage[pair]
	var fresh []string
	for _, name := range over {
		if _, ok := reported[name]; !ok {
			fresh = append(fresh, name)
		}
	}
	return fresh
}

// MarkExtendedUsage adds the features to the pair's reported set.
func (s *DedupState) MarkExtendedUsage(pair PairKey, over []string) {
	reported := s.extendedUsage[pair]
	if reported == nil {
		reported = map[string]struct{}{}
		s.extendedUsage[pair] = reported
	}
	for _, name := range over {
		reported[name] = struct{}{}
	}
}

// ClearExtendedUsage forgets the pair so the next crossing re-alerts.
func (s *DedupState) ClearExtendedUsage(pair PairKey) {
	delete(s.extendedUsage, pair)
}

// ExtendedUsagePairs returns the pairs currently holding reported features.
func (s *DedupState) ExtendedUsagePairs() []PairKey {
	pairs := make([]PairKey, 0, len(s.extendedUsage))
	for pair := range s.extendedUsage {
		pairs = append(pairs, pair)
	}
	return pairs
}

// SoldOut returns the last recorded sold-out state for the feature and
// whether the feature has been observed before.
func (s *DedupState) SoldOut(feature string) (soldOut, known bool) {
	soldOut, known = s.soldOut[feature]
	return soldOut, known
}

// SetSoldOut records the feature's current sold-out state.
func (s *DedupState) SetSoldOut(feature string, soldOut bool) {
	s.soldOut[feature] = soldOut
}

// DaemonUp returns the last recorded daemon state and whether one exists.
func (s *DedupState) DaemonUp() (up, known bool) {
	if s.daemonUp == nil {
		return false, false
	}
	return *s.daemonUp, true
}

// SetDaemonUp records the daemon state.
func (s *DedupState) SetDaemonUp(up bool) {
	s.daemonUp = &up
}

// MarkUpdate records the version and reports whether it was newly seen.
func (s *DedupState) MarkUpdate(version string) bool {
	if _, ok := s.seenUpdates[version]; ok {
		return false
	}
	s.seenUpdates[version] = struct{}{}
	return true
}
