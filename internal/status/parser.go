// Package status turns raw lmstat output into a structured Snapshot.
package status

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flexwatch/flexwatch/internal/status/domain"
	"go.uber.org/zap"
)

var (
	reFeature = regexp.MustCompile(`(?i)Users of\s+(.+?):\s*\(Total of\s+(\d+).*?Total of\s+(\d+)\s+licenses? in use`)
	reExpiry  = regexp.MustCompile(`(?i)expiry:\s*([0-9A-Za-z\-\s]+)`)
	reNamed   = regexp.MustCompile(`^"([^"]+)"`)
	reUser    = regexp.MustCompile(`(?i)^\s*(\S+)\s+(\S+).*?\((?:v)?([0-9A-Za-z.\-]+)\).*?start\s+(.+)`)

	// License-side feature version: "(v2024.1)". Client-side application
	// version: a bare dotted number in parens, "(12.0.3)". The two are
	// extracted independently; either may be absent.
	reFeatVersion = regexp.MustCompile(`\(v([0-9A-Za-z.\-]+)\)`)
	reAppVersion  = regexp.MustCompile(`\(([0-9]+(?:\.[0-9A-Za-z\-]+)+)\)`)
)

// Failure strings lmutil emits when it cannot reach the server. Their
// presence downgrades the daemon hint even when the command exited zero.
var failureMarkers = []string{
	"cannot connect to license server system",
	"error getting status",
	"no such host is known",
	"connection refused",
	"(-15",
}

// Parser converts raw lmstat text into snapshots. It never fails: malformed
// lines are skipped and counted, and only a fully unusable input yields a
// parse-failed snapshot.
type Parser struct {
	marker string
	log    *zap.Logger
}

// NewParser returns a parser tagging features whose name contains marker as
// maintenance variants.
func NewParser(marker string, log *zap.Logger) *Parser {
	if marker == "" {
		marker = "maint"
	}
	return &Parser{
		marker: strings.ToLower(marker),
		log:    log.Named("status.parser"),
	}
}

// Parse builds a Snapshot from raw lmstat output taken at pollTime.
func (p *Parser) Parse(raw string, pollTime time.Time) *domain.Snapshot {
	snap := &domain.Snapshot{
		Features: map[string]*domain.Feature{},
		RawText:  raw,
		PolledAt: pollTime,
	}

	var current *domain.Feature
	for _, line := range strings.Split(raw, "\n") {
		if m := reFeature.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			total, _ := strconv.Atoi(m[2])
			used, _ := strconv.Atoi(m[3])
			f := p.newFeature(name, total, used)
			snap.Features[name] = f
			current = f
			continue
		}

		if m := reNamed.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			f, ok := snap.Features[name]
			if !ok {
				f = p.newFeature(name, 0, 0)
				snap.Features[name] = f
			}
			current = f
			continue
		}

		if current == nil {
			continue
		}

		if m := reExpiry.FindStringSubmatch(line); m != nil {
			current.Expiry = strings.TrimSpace(m[1])
			continue
		}

		if m := reUser.FindStringSubmatch(line); m != nil {
			current.Checkouts = append(current.Checkouts, domain.Checkout{
				User:           strings.TrimSpace(m[1]),
				Host:           strings.TrimSpace(m[2]),
				FeatureVersion: extractVersion(reFeatVersion, line),
				AppVersion:     extractVersion(reAppVersion, line),
				StartedAt:      parseStart(strings.TrimSpace(m[4]), pollTime),
			})
			continue
		}

		// Indented content under an open feature block that matched no
		// rule. Blank separators are not counted.
		if strings.TrimSpace(line) != "" && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")) {
			snap.LinesSkipped++
		}
	}

	if snap.LinesSkipped > 0 {
		p.log.Info("skipped unparsable lines", zap.Int("count", snap.LinesSkipped))
	}
	if len(snap.Features) == 0 {
		snap.ParseFailed = true
	}
	return snap
}

func (p *Parser) newFeature(name string, total, used int) *domain.Feature {
	f := &domain.Feature{
		Name:                 name,
		Total:                total,
		Used:                 used,
		IsMaintenanceVariant: strings.Contains(strings.ToLower(name), p.marker),
	}
	if used > total {
		f.Anomalous = true
		p.log.Warn("feature reports more seats used than total",
			zap.String("feature", name),
			zap.Int("used", used),
			zap.Int("total", total),
		)
	}
	return f
}

func extractVersion(re *regexp.Regexp, line string) string {
	if m := re.FindStringSubmatch(line); m != nil {
		return m[1]
	}
	return domain.VersionUnknown
}

// OutputLooksHealthy reports whether lmstat output lacks the known
// connection-failure markers. Used as the daemon-up hint.
func OutputLooksHealthy(text string) bool {
	t := strings.ToLower(text)
	for _, marker := range failureMarkers {
		if strings.Contains(t, marker) {
			return false
		}
	}
	return true
}
