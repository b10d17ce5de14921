package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName    string
	AppVersion string
	WebPort    int

	// License manager tooling
	LmutilPath  string
	CLMPath     string
	LicensePort string
	LicenseHost string
	ServiceName string
	// ServiceQueryCmd is the command invoked with the service name appended
	// to read the service-control state, e.g. ["sc", "query"].
	ServiceQueryCmd []string
	StatTimeout     time.Duration
	ProbeTimeout    time.Duration

	RefreshInterval   time.Duration
	MaintenanceMarker string
	HideMaintenance   bool
	HideList          []string

	GroupsFile string

	Notify NotifyConfig

	UpdateRepo          string
	UpdateCheckInterval time.Duration

	DBType     string
	DBPath     string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

// NotifyConfig carries the per-alert-kind toggles, thresholds and exclusion lists.
type NotifyConfig struct {
	Enabled        bool
	WebhookURL     string
	WebhookTimeout time.Duration

	Update     bool
	Duplicate  bool
	Maintcheck bool

	Extratime          bool
	ExtratimeHours     int
	ExtratimeExclusion []string

	Soldout          bool
	SoldoutExclusion []string

	Daemon bool
}

// Module provides the configuration to the fx graph.
var Module = fx.Provide(Load)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:    getenv("APP_SERVICE", "flexwatch"),
		AppVersion: getenv("APP_VERSION", "1.5.0"),
		WebPort:    int(getenvInt64("WEB_PORT", 8080)),

		LmutilPath:      getenv("LMUTIL_PATH", "lmutil"),
		CLMPath:         getenv("CLM_PATH", ""),
		LicensePort:     getenv("LICENSE_PORT", "27008"),
		LicenseHost:     getenv("LICENSE_HOST", "localhost"),
		ServiceName:     getenv("LICENSE_SERVICE_NAME", "FLEXnet License Server"),
		ServiceQueryCmd: strings.Fields(getenv("SERVICE_QUERY_CMD", "sc query")),
		StatTimeout:     getenvDuration("LMSTAT_TIMEOUT", 30*time.Second),
		ProbeTimeout:    getenvDuration("PROBE_TIMEOUT", 2*time.Second),

		RefreshInterval:   getenvDuration("REFRESH_INTERVAL", 5*time.Minute),
		MaintenanceMarker: strings.ToLower(getenv("MAINTENANCE_MARKER", "maint")),
		HideMaintenance:   getenvBool("HIDE_MAINTENANCE", true),
		HideList:          splitList(getenv("HIDE_LIST", "")),

		GroupsFile: getenv("FEATURE_GROUPS_FILE", ""),

		Notify: NotifyConfig{
			Enabled:        getenvBool("NOTIFY_ENABLED", false),
			WebhookURL:     strings.Trim(strings.TrimSpace(getenv("NOTIFY_WEBHOOK", "")), `"'`),
			WebhookTimeout: getenvDuration("NOTIFY_WEBHOOK_TIMEOUT", 15*time.Second),

			Update:     getenvBool("NOTIFY_UPDATE", false),
			Duplicate:  getenvBool("NOTIFY_DUPLICATE", false),
			Maintcheck: getenvBool("NOTIFY_MAINTCHECK", false),

			Extratime:          getenvBool("NOTIFY_EXTRATIME", false),
			ExtratimeHours:     int(getenvInt64("EXTRATIME_HOURS", 72)),
			ExtratimeExclusion: splitList(getenv("EXTRATIME_EXCLUSION", "")),

			Soldout:          getenvBool("NOTIFY_SOLDOUT", false),
			SoldoutExclusion: splitList(getenv("SOLDOUT_EXCLUSION", "")),

			Daemon: getenvBool("NOTIFY_DAEMON", false),
		},

		UpdateRepo:          getenv("UPDATE_REPO", "flexwatch/flexwatch"),
		UpdateCheckInterval: getenvDuration("UPDATE_CHECK_INTERVAL", 24*time.Hour),

		DBType:     getenv("DATABASE_TYPE", "sqlite"),
		DBPath:     getenv("DATABASE_PATH", "license_stats.db"),
		DBHost:     getenv("DATABASE_HOST", "localhost"),
		DBPort:     getenv("DATABASE_PORT", "5432"),
		DBName:     getenv("DATABASE_NAME", "flexwatch"),
		DBUser:     getenv("DATABASE_USER", "flexwatch"),
		DBPassword: getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:  getenv("DATABASE_SSLMODE", "disable"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
