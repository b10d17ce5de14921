// Package domain defines the configured feature-group model.
package domain

// OtherGroupID is the synthetic bucket for features no rule matches.
const OtherGroupID = "other"

// Group is a configured display/alert bucket for raw feature names.
// Membership rules are listed under Features as either exact names or
// wildcard patterns (see groups.CompileRule).
type Group struct {
	ID    string `mapstructure:"id"`
	Title string `mapstructure:"title"`
	// Features holds the membership rules in match order.
	Features []string `mapstructure:"features"`
	// CheckMaintenance gates the maintenance-inconsistency checker for
	// every feature classified into this group.
	CheckMaintenance bool `mapstructure:"checkMaintenance"`
	// ReleaseDates maps version strings onto release dates for the
	// version colorization on the excluded UI surface.
	ReleaseDates map[string]string `mapstructure:"releaseDates"`
}

// Config is the full feature-group configuration file content.
type Config struct {
	Groups     []Group `mapstructure:"groups"`
	OtherTitle string  `mapstructure:"otherTitle"`
}
