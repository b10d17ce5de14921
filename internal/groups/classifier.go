// Package groups classifies raw feature names into configured groups.
package groups

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flexwatch/flexwatch/internal/groups/domain"
)

type ruleKind int

const (
	ruleExact ruleKind = iota
	ruleWildcard
)

// Rule is one membership rule: either an exact feature name or a wildcard
// pattern. The only wildcard is `*`, matching any run of characters; matching
// is case-sensitive. This is the whole supported glob syntax.
type Rule struct {
	kind    ruleKind
	raw     string
	exact   string
	pattern *regexp.Regexp
}

// CompileRule builds a Rule from a configured membership entry.
func CompileRule(raw string) (Rule, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Rule{}, fmt.Errorf("empty feature rule")
	}
	if !strings.Contains(raw, "*") {
		return Rule{kind: ruleExact, raw: raw, exact: raw}, nil
	}
	parts := strings.Split(raw, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	re, err := regexp.Compile("^" + strings.Join(parts, ".*") + "$")
	if err != nil {
		return Rule{}, fmt.Errorf("compile rule %q: %w", raw, err)
	}
	return Rule{kind: ruleWildcard, raw: raw, pattern: re}, nil
}

// Matches reports whether the rule covers the feature name.
func (r Rule) Matches(name string) bool {
	if r.kind == ruleExact {
		return r.exact == name
	}
	return r.pattern.MatchString(name)
}

type wildcardRule struct {
	rule    Rule
	groupID string
}

// Classifier resolves feature names to group IDs. Exact rules win over
// wildcard rules; wildcard rules are tried in configured order.
type Classifier struct {
	exact            map[string]string
	wildcards        []wildcardRule
	checkMaintenance map[string]bool
	groups           []domain.Group
}

// NewClassifier compiles the configured groups into a classifier.
func NewClassifier(cfg domain.Config) (*Classifier, error) {
	c := &Classifier{
		exact:            map[string]string{},
		checkMaintenance: map[string]bool{},
		groups:           cfg.Groups,
	}
	seen := map[string]bool{}
	for _, g := range cfg.Groups {
		id := strings.TrimSpace(g.ID)
		if id == "" {
			return nil, fmt.Errorf("group with empty id")
		}
		if id == domain.OtherGroupID {
			return nil, fmt.Errorf("group id %q is reserved", domain.OtherGroupID)
		}
		if seen[id] {
			return nil, fmt.Errorf("duplicate group id %q", id)
		}
		seen[id] = true
		c.checkMaintenance[id] = g.CheckMaintenance

		for _, raw := range g.Features {
			rule, err := CompileRule(raw)
			if err != nil {
				return nil, err
			}
			if rule.kind == ruleExact {
				if _, dup := c.exact[rule.exact]; !dup {
					c.exact[rule.exact] = id
				}
				continue
			}
			c.wildcards = append(c.wildcards, wildcardRule{rule: rule, groupID: id})
		}
	}
	return c, nil
}

// Classify returns the group ID for a feature name, or "other".
func (c *Classifier) Classify(name string) string {
	if id, ok := c.exact[name]; ok {
		return id
	}
	for _, w := range c.wildcards {
		if w.rule.Matches(name) {
			return w.groupID
		}
	}
	return domain.OtherGroupID
}

// CheckMaintenance reports whether the feature's group opts into the
// maintenance-inconsistency checker. A feature inherits the policy from its
// group; the "other" bucket never checks.
func (c *Classifier) CheckMaintenance(featureName string) bool {
	return c.checkMaintenance[c.Classify(featureName)]
}

// Groups returns the configured group definitions in order.
func (c *Classifier) Groups() []domain.Group {
	return c.groups
}
