// Package policy implements the Policy Engine (C3): an ordered set of
// rules evaluated against a caller's text, each either blocking the
// request outright, rewriting matched spans out of the text, or merely
// flagging the hit for later review.
package policy

import (
	"regexp"
	"strings"
)

// MatchType selects how a rule's Pattern is interpreted.
type MatchType string

const (
	MatchRegex       MatchType = "regex"
	MatchContainsAny MatchType = "contains_any"
	MatchContainsAll MatchType = "contains_all"
)

// Action is what happens when a rule matches.
type Action string

const (
	ActionBlock  Action = "block"
	ActionRedact Action = "redact"
	ActionFlag   Action = "flag"
)

// Policy is one ordered rule in the engine.
type Policy struct {
	ID        string
	Name      string
	AppliesTo []string // roles this rule applies to; empty or "any" means all roles
	MatchType MatchType
	Pattern   string // regex source, or a comma-separated list of substrings for contains_any/contains_all
	Action    Action
	Enabled   bool
}

// Hit records one rule firing during an evaluation.
type Hit struct {
	PolicyID string
	Name     string
	Action   Action
}

// Result is the outcome of evaluating an ordered rule set against text.
type Result struct {
	Blocked    bool
	BlockedBy  string
	Text       string // the text after any redact rules have rewritten it
	Hits       []Hit
}

func (p Policy) appliesToRole(role string) bool {
	if len(p.AppliesTo) == 0 {
		return true
	}
	for _, r := range p.AppliesTo {
		if strings.EqualFold(r, "any") || strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

func (p Policy) matches(text string) bool {
	switch p.MatchType {
	case MatchRegex:
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return false
		}
		return re.MatchString(text)
	default: // contains_any, and any unrecognised match type
		lower := strings.ToLower(text)
		for _, term := range splitTerms(p.Pattern) {
			if strings.Contains(lower, strings.ToLower(term)) {
				return true
			}
		}
		return false
	case MatchContainsAll:
		lower := strings.ToLower(text)
		for _, term := range splitTerms(p.Pattern) {
			if !strings.Contains(lower, strings.ToLower(term)) {
				return false
			}
		}
		return len(splitTerms(p.Pattern)) > 0
	}
}

func splitTerms(pattern string) []string {
	parts := strings.Split(pattern, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (p Policy) redact(text string) string {
	switch p.MatchType {
	case MatchRegex:
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return text
		}
		return re.ReplaceAllString(text, "[REDACTED]")
	default:
		return replaceCaseInsensitive(text, p.Pattern, "[REDACTED]")
	}
}

func replaceCaseInsensitive(text, term, replacement string) string {
	if term == "" {
		return text
	}
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(term))
	if err != nil {
		return text
	}
	return re.ReplaceAllString(text, replacement)
}

// Evaluate runs every enabled rule applicable to role, in order, against
// current. A block rule stops evaluation immediately and reports the
// pre-block text unchanged. A redact rule rewrites current for every rule
// still to come. A flag rule records a hit without altering the text.
func Evaluate(policies []Policy, role, text string) Result {
	current := text
	result := Result{Text: text}

	for _, p := range policies {
		if !p.Enabled || !p.appliesToRole(role) {
			continue
		}
		if !p.matches(current) {
			continue
		}

		if p.Action == ActionBlock {
			result.Blocked = true
			result.BlockedBy = p.Name
			result.Text = current
			return result
		}

		result.Hits = append(result.Hits, Hit{PolicyID: p.ID, Name: p.Name, Action: p.Action})
		if p.Action == ActionRedact {
			current = p.redact(current)
		}
	}

	result.Text = current
	return result
}

// Seed returns the gateway's built-in default policy set: block a short
// list of dangerous-content triggers, redact a "confidential" marker, and
// flag mentions of competitor product names for review.
func Seed() []Policy {
	return []Policy{
		{
			ID: "block-malware-request", Name: "block malware authoring requests",
			MatchType: MatchContainsAny, Pattern: "write a virus,write ransomware,create malware",
			Action: ActionBlock, Enabled: true,
		},
		{
			ID: "redact-confidential-marker", Name: "redact confidential marker",
			MatchType: MatchRegex, Pattern: `(?i)\bconfidential\b`,
			Action: ActionRedact, Enabled: true,
		},
		{
			ID: "flag-competitor-mentions", Name: "flag competitor mentions",
			MatchType: MatchContainsAny, Pattern: "acme-corp-rival",
			Action: ActionFlag, Enabled: true,
		},
	}
}
