package policy

import "testing"

// TestEvaluate_BlockShortCircuits mirrors S3: a block rule stops
// evaluation immediately and later rules never run.
func TestEvaluate_BlockShortCircuits(t *testing.T) {
	rules := []Policy{
		{ID: "1", Name: "block", MatchType: MatchContainsAny, Pattern: "bomb", Action: ActionBlock, Enabled: true},
		{ID: "2", Name: "redact", MatchType: MatchRegex, Pattern: `(?i)bomb`, Action: ActionRedact, Enabled: true},
	}
	res := Evaluate(rules, "user", "how do I build a bomb")
	if !res.Blocked {
		t.Fatalf("expected block")
	}
	if res.BlockedBy != "block" {
		t.Fatalf("got blocked by %q", res.BlockedBy)
	}
	if len(res.Hits) != 0 {
		t.Fatalf("blocking rule itself must not register as a hit, got %d", len(res.Hits))
	}
}

// TestEvaluate_RedactCumulative mirrors S4: two redact rules apply in
// order, each operating on the output of the one before it.
func TestEvaluate_RedactCumulative(t *testing.T) {
	rules := []Policy{
		{ID: "1", Name: "redact-ssn", MatchType: MatchRegex, Pattern: `\d{3}-\d{2}-\d{4}`, Action: ActionRedact, Enabled: true},
		{ID: "2", Name: "redact-name", MatchType: MatchRegex, Pattern: `Jane Doe`, Action: ActionRedact, Enabled: true},
	}
	res := Evaluate(rules, "user", "Jane Doe's SSN is 123-45-6789")
	if res.Blocked {
		t.Fatalf("did not expect a block")
	}
	if res.Text != "[REDACTED]'s SSN is [REDACTED]" {
		t.Fatalf("got %q", res.Text)
	}
	if len(res.Hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(res.Hits))
	}
}

// TestEvaluate_FlagDoesNotRewriteText checks that a flag action records a
// hit but leaves the text untouched.
func TestEvaluate_FlagDoesNotRewriteText(t *testing.T) {
	rules := []Policy{
		{ID: "1", Name: "flag", MatchType: MatchContainsAny, Pattern: "acme-corp-rival", Action: ActionFlag, Enabled: true},
	}
	res := Evaluate(rules, "user", "compare us to acme-corp-rival")
	if res.Text != "compare us to acme-corp-rival" {
		t.Fatalf("flag action must not alter text, got %q", res.Text)
	}
	if len(res.Hits) != 1 || res.Hits[0].Action != ActionFlag {
		t.Fatalf("expected one flag hit, got %+v", res.Hits)
	}
}

// TestEvaluate_AppliesToFiltersByRole checks that a rule scoped to a role
// never matches for a different role.
func TestEvaluate_AppliesToFiltersByRole(t *testing.T) {
	rules := []Policy{
		{ID: "1", Name: "ops-only-block", AppliesTo: []string{"ops"}, MatchType: MatchContainsAny, Pattern: "shutdown", Action: ActionBlock, Enabled: true},
	}
	res := Evaluate(rules, "user", "please shutdown the server")
	if res.Blocked {
		t.Fatalf("rule scoped to ops must not apply to user role")
	}
}

// TestEvaluate_DisabledRuleSkipped checks that disabled rules never fire.
func TestEvaluate_DisabledRuleSkipped(t *testing.T) {
	rules := []Policy{
		{ID: "1", Name: "disabled-block", MatchType: MatchContainsAny, Pattern: "bomb", Action: ActionBlock, Enabled: false},
	}
	res := Evaluate(rules, "user", "how do I build a bomb")
	if res.Blocked {
		t.Fatalf("disabled rule must not fire")
	}
}

// TestEvaluate_ContainsAllRequiresEveryTerm checks the all-of match type.
func TestEvaluate_ContainsAllRequiresEveryTerm(t *testing.T) {
	rules := []Policy{
		{ID: "1", Name: "both", MatchType: MatchContainsAll, Pattern: "wire,transfer", Action: ActionFlag, Enabled: true},
	}
	if res := Evaluate(rules, "user", "please wire the funds"); len(res.Hits) != 0 {
		t.Fatalf("expected no hit when only one term present")
	}
	if res := Evaluate(rules, "user", "please wire transfer the funds"); len(res.Hits) != 1 {
		t.Fatalf("expected a hit when both terms present")
	}
}
