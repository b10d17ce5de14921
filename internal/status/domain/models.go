// Package domain contains the parsed view of one license-server poll.
package domain

import "time"

// VersionUnknown marks a checkout whose version token could not be extracted.
// Downstream display and alerting branch on it, so it is never the empty string.
const VersionUnknown = "unknown"

// Checkout is one user/host's active use of a feature.
type Checkout struct {
	User           string
	Host           string
	FeatureVersion string
	AppVersion     string
	// StartedAt is nil when the start field did not match any known format.
	// Such checkouts are silently excluded from extended-usage evaluation.
	StartedAt *time.Time
}

// Key identifies a checkout for dedup purposes.
func (c Checkout) Key(feature string) CheckoutKey {
	return CheckoutKey{Feature: feature, User: c.User, Host: c.Host}
}

// CheckoutKey is the (feature, user, host) identity used by the alert checkers.
type CheckoutKey struct {
	Feature string
	User    string
	Host    string
}

// Feature is a licensed capability with total/used seat counts.
type Feature struct {
	Name                 string
	Total                int
	Used                 int
	Expiry               string
	IsMaintenanceVariant bool
	// Anomalous is set when used > total. Counts are passed through
	// unclamped; the upstream tool occasionally reports transient
	// inconsistent numbers.
	Anomalous bool
	Checkouts []Checkout
}

// SoldOut reports whether the feature has zero free seats.
func (f Feature) SoldOut() bool {
	return f.Total > 0 && f.Used >= f.Total
}

// Snapshot is one poll cycle's fully parsed view of features and checkouts.
// It is treated as an immutable value once built.
type Snapshot struct {
	Features map[string]*Feature
	RawText  string
	PolledAt time.Time
	// LinesSkipped counts lines that matched no parsing rule while a
	// feature block was open. Surfaced for diagnostics only.
	LinesSkipped int
	// ParseFailed marks an entirely unusable input (empty/garbage text or
	// tool invocation failure). The daemon-down checker treats it as a
	// strong signal.
	ParseFailed bool
}

// Empty returns a parse-failed snapshot for the given poll time.
func Empty(at time.Time) *Snapshot {
	return &Snapshot{
		Features:    map[string]*Feature{},
		PolledAt:    at,
		ParseFailed: true,
	}
}

// Feature returns the named feature, or nil.
func (s *Snapshot) Feature(name string) *Feature {
	if s == nil {
		return nil
	}
	return s.Features[name]
}
