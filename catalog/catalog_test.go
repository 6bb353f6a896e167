package catalog

import "testing"

// TestResolve_AliasWeightedSingleTarget checks that an alias with one
// 100-weight target always resolves to that target (S1's "gpt-4.1").
func TestResolve_AliasWeightedSingleTarget(t *testing.T) {
	c := Seed()
	routed, ok := c.Resolve("gpt-4.1", []string{"gpt-4.1"})
	if !ok {
		t.Fatalf("expected resolution")
	}
	if routed.ResolvedModel != "gpt-4-turbo-preview" {
		t.Fatalf("got resolved model %q", routed.ResolvedModel)
	}
	if routed.Provider != "openai" {
		t.Fatalf("got provider %q", routed.Provider)
	}
}

// TestResolve_FallbackChainFiltersByAllowlist mirrors S2: the primary's
// fallback chain is admitted only where the allowlist permits it.
func TestResolve_FallbackChainFiltersByAllowlist(t *testing.T) {
	c := Seed()
	routed, ok := c.Resolve("gpt-4.1", []string{"gpt-4.1", "gpt-4o-mini"})
	if !ok {
		t.Fatalf("expected resolution")
	}
	if len(routed.FallbackChain) != 1 || routed.FallbackChain[0] != "gpt-4o-mini" {
		t.Fatalf("got fallback chain %v", routed.FallbackChain)
	}
}

// TestResolve_ZeroWeightAliasTreatedAsDirectID covers the boundary case:
// a zero-weight alias rule yields no target, so the label is resolved as
// if it were a direct catalog id.
func TestResolve_ZeroWeightAliasTreatedAsDirectID(t *testing.T) {
	c := Seed()
	c.SetAlias("dead-alias", []AliasTarget{{Model: "gpt-4o-mini", Weight: 0}})
	// "dead-alias" itself is not a catalog id, so direct-id fallback fails
	// to find a model and resolution fails outright — the important
	// behavior under test is that the alias step does NOT pick a target.
	_, ok := c.Resolve("dead-alias", []string{"dead-alias"})
	if ok {
		t.Fatalf("expected no resolution for zero-weight alias treated as unknown direct id")
	}
}

// TestResolve_UnknownFallbackIDSilentlyDropped checks that a fallback
// chain entry with no catalog backing is skipped rather than erroring.
func TestResolve_UnknownFallbackIDSilentlyDropped(t *testing.T) {
	c := New()
	c.UpsertModel(Entry{ID: "primary", Provider: "openai"})
	c.SetFallbacks("primary", []string{"ghost-model"})
	routed, ok := c.Resolve("primary", []string{"primary", "ghost-model"})
	if !ok {
		t.Fatalf("expected resolution")
	}
	if len(routed.FallbackChain) != 0 {
		t.Fatalf("expected ghost-model to be dropped, got %v", routed.FallbackChain)
	}
}

// TestResolve_HealthOrdering verifies the ascending (ok, latency) sort:
// a healthy candidate is chosen over an unhealthy one even when listed
// later in the fallback chain.
func TestResolve_HealthOrdering(t *testing.T) {
	c := New()
	c.UpsertModel(Entry{ID: "primary", Provider: "openai"})
	c.UpsertModel(Entry{ID: "backup", Provider: "openai"})
	c.SetFallbacks("primary", []string{"backup"})
	c.RecordHealth("primary", false, 5)
	c.RecordHealth("backup", true, 500)

	routed, ok := c.Resolve("primary", []string{"primary", "backup"})
	if !ok {
		t.Fatalf("expected resolution")
	}
	if routed.ResolvedModel != "backup" {
		t.Fatalf("expected healthy backup to win, got %q", routed.ResolvedModel)
	}
}

// TestUpsertModel_Idempotent checks the round-trip law: upserting the
// same id twice leaves the catalog indistinguishable from a single upsert.
func TestUpsertModel_Idempotent(t *testing.T) {
	c := New()
	e := Entry{ID: "m", Provider: "openai", PromptPricePer1k: 1, CompletionPricePer1k: 2}
	c.UpsertModel(e)
	c.UpsertModel(e)
	models := c.ListModels()
	if len(models) != 1 {
		t.Fatalf("expected one model, got %d", len(models))
	}
}

// TestRecordHealth_CountersAccumulate checks that successes/failures
// accumulate additively while last_ok/last_latency_ms are last-writer-wins.
func TestRecordHealth_CountersAccumulate(t *testing.T) {
	c := New()
	c.UpsertModel(Entry{ID: "m"})
	c.RecordHealth("m", true, 10)
	c.RecordHealth("m", false, 20)
	snap := c.HealthSnapshot()
	if len(snap) != 1 {
		t.Fatalf("expected one health entry, got %d", len(snap))
	}
	h := snap[0]
	if h.LastOK {
		t.Fatalf("expected last_ok=false after the second write")
	}
	if h.Successes != 1 || h.Failures != 1 {
		t.Fatalf("expected 1 success and 1 failure, got %d/%d", h.Successes, h.Failures)
	}
}
