package gatewayconfig

import (
	"testing"

	"github.com/ractogw/gateway/access"
)

func TestCatalogSeed_ApplyPopulatesCatalog(t *testing.T) {
	path := writeTempFile(t, "catalog.yaml", `
models:
  - id: my-model
    provider: openai
    prompt_price_per_1k: 0.1
    completion_price_per_1k: 0.2
aliases:
  fast:
    - model: my-model
      weight: 100
fallbacks:
  my-model: []
`)
	seed, err := LoadCatalogSeed(path)
	if err != nil {
		t.Fatalf("LoadCatalogSeed() error: %v", err)
	}

	cat, _, err := BuildCatalogAndAccounts(Config{CatalogSeedFile: path})
	if err != nil {
		t.Fatalf("BuildCatalogAndAccounts() error: %v", err)
	}
	_ = seed

	entry, ok := cat.Entry("my-model")
	if !ok {
		t.Fatal("expected seeded model to be present in the catalog")
	}
	if entry.Provider != "openai" {
		t.Errorf("Provider = %q, want openai", entry.Provider)
	}

	routed, ok := cat.Resolve("fast", []string{"my-model"})
	if !ok || routed.ResolvedModel != "my-model" {
		t.Errorf("Resolve(fast) = %+v, %v; want my-model, true", routed, ok)
	}
}

func TestAccountsSeed_RoundTripsFields(t *testing.T) {
	path := writeTempFile(t, "accounts.yaml", `
accounts:
  - id: acct-1
    email: a@example.com
    allowed_models: ["my-model"]
    status: suspended
    req_per_day: 10
`)
	seed, err := LoadAccountsSeed(path)
	if err != nil {
		t.Fatalf("LoadAccountsSeed() error: %v", err)
	}
	accounts := seed.Accounts()
	if len(accounts) != 1 {
		t.Fatalf("expected 1 account, got %d", len(accounts))
	}
	got := accounts[0]
	if got.ID != "acct-1" || got.Status != access.StatusSuspended {
		t.Errorf("account = %+v, unexpected", got)
	}
	if got.ReqPerDay == nil || *got.ReqPerDay != 10 {
		t.Errorf("ReqPerDay = %v, want 10", got.ReqPerDay)
	}
}

func TestBuildCatalogAndAccounts_FallsBackToBuiltinSeed(t *testing.T) {
	cat, accounts, err := BuildCatalogAndAccounts(Config{})
	if err != nil {
		t.Fatalf("BuildCatalogAndAccounts() error: %v", err)
	}
	if _, ok := cat.Entry("gpt-4-turbo-preview"); !ok {
		t.Error("expected the built-in catalog seed when no seed file is configured")
	}
	found := false
	for _, a := range accounts {
		if a.ID == "demo-user" {
			found = true
		}
	}
	if !found {
		t.Error("expected the built-in account seed when no seed file is configured")
	}
}
