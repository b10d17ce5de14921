// Package eid maintains the entitlement-to-feature mapping cache.
package eid

import (
	"regexp"
	"strings"
)

var (
	// "- 00112-15895-00040-08571-EEC92 (Floating):"
	reEID = regexp.MustCompile(`(?i)^\s*-\s*([0-9A-F]{5}-[0-9A-F]{5}-[0-9A-F]{5}-[0-9A-F]{5}-[0-9A-F]{5})\s+\(`)
	// "- M3D_CLWRX.ArcGIS 0/1"
	reFeatureLine = regexp.MustCompile(`^\s*-\s+([A-Za-z0-9_.]+)\s+\d+/\d+`)
)

// Mapping associates feature names with the EIDs entitling them.
type Mapping map[string][]string

// Parse extracts the feature -> EID mapping from CLM query-features output.
// Feature lines attach to the most recent EID header.
func Parse(raw string) Mapping {
	mapping := Mapping{}
	if raw == "" {
		return mapping
	}

	seen := map[string]map[string]bool{}
	currentEID := ""
	for _, line := range strings.Split(raw, "\n") {
		if m := reEID.FindStringSubmatch(line); m != nil {
			currentEID = strings.ToUpper(m[1])
			continue
		}
		if currentEID == "" {
			continue
		}
		if m := reFeatureLine.FindStringSubmatch(line); m != nil {
			feature := m[1]
			if seen[feature] == nil {
				seen[feature] = map[string]bool{}
			}
			if !seen[feature][currentEID] {
				seen[feature][currentEID] = true
				mapping[feature] = append(mapping[feature], currentEID)
			}
		}
	}
	return mapping
}
