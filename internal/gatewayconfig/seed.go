package gatewayconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ractogw/gateway/access"
	"github.com/ractogw/gateway/catalog"
)

// CatalogSeed is the YAML shape for an operator-supplied starter catalog,
// replacing catalog.Seed()'s built-in demo data. This supplements the
// distilled specification's hardcoded seed with the original Rust
// implementation's intent that Catalog::seed()/seeded_accounts() are
// starting points an operator can override, not permanent fixtures.
type CatalogSeed struct {
	Models []CatalogModel `yaml:"models"`
	// Aliases maps a request label to its weighted resolution targets.
	Aliases map[string][]catalog.AliasTarget `yaml:"aliases"`
	// Fallbacks maps a canonical model id to its ordered fallback chain.
	Fallbacks map[string][]string `yaml:"fallbacks"`
}

// CatalogModel is one catalog.Entry in YAML form.
type CatalogModel struct {
	ID                   string  `yaml:"id"`
	Provider             string  `yaml:"provider"`
	PromptPricePer1k     float64 `yaml:"prompt_price_per_1k"`
	CompletionPricePer1k float64 `yaml:"completion_price_per_1k"`
}

// LoadCatalogSeed reads and parses a catalog seed file.
func LoadCatalogSeed(path string) (*CatalogSeed, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading catalog seed file: %w", err)
	}
	var seed CatalogSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing catalog seed file: %w", err)
	}
	return &seed, nil
}

// Apply populates an empty catalog.Catalog with this seed's models,
// aliases, and fallback chains.
func (s CatalogSeed) Apply(cat *catalog.Catalog) {
	for _, m := range s.Models {
		cat.UpsertModel(catalog.Entry{
			ID:                   m.ID,
			Provider:             m.Provider,
			PromptPricePer1k:     m.PromptPricePer1k,
			CompletionPricePer1k: m.CompletionPricePer1k,
		})
	}
	for label, targets := range s.Aliases {
		cat.SetAlias(label, targets)
	}
	for id, chain := range s.Fallbacks {
		cat.SetFallbacks(id, chain)
	}
}

// AccountsSeed is the YAML shape for an operator-supplied account list,
// replacing access.Seed()'s three built-in demo accounts.
type AccountsSeed struct {
	Accounts []AccountEntry `yaml:"accounts"`
}

// AccountEntry is one access.Account in YAML form.
type AccountEntry struct {
	ID              string            `yaml:"id"`
	Email           string            `yaml:"email"`
	DisplayName     string            `yaml:"display_name"`
	AllowedModels   []string          `yaml:"allowed_models"`
	Status          string            `yaml:"status"`
	DefaultModel    string            `yaml:"default_model"`
	MaxCostCents    *uint32           `yaml:"max_cost_cents,omitempty"`
	GuardrailPrompt string            `yaml:"guardrail_prompt,omitempty"`
	ReqPerDay       *uint32           `yaml:"req_per_day,omitempty"`
	TokensPerDay    *uint32           `yaml:"tokens_per_day,omitempty"`
	PriceCaps       []AccountPriceCap `yaml:"price_caps,omitempty"`
}

// AccountPriceCap is one access.PriceCap in YAML form.
type AccountPriceCap struct {
	Model    string `yaml:"model"`
	MaxCents uint32 `yaml:"max_cents"`
}

// LoadAccountsSeed reads and parses an accounts seed file.
func LoadAccountsSeed(path string) (*AccountsSeed, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("reading accounts seed file: %w", err)
	}
	var seed AccountsSeed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing accounts seed file: %w", err)
	}
	return &seed, nil
}

// Accounts converts this seed into access.Account values. An unrecognized
// or empty status defaults to active.
func (s AccountsSeed) Accounts() []access.Account {
	out := make([]access.Account, 0, len(s.Accounts))
	for _, a := range s.Accounts {
		status := access.StatusActive
		if a.Status == string(access.StatusSuspended) {
			status = access.StatusSuspended
		}
		caps := make([]access.PriceCap, 0, len(a.PriceCaps))
		for _, c := range a.PriceCaps {
			caps = append(caps, access.PriceCap{Model: c.Model, MaxCents: c.MaxCents})
		}
		out = append(out, access.Account{
			ID:              a.ID,
			Email:           a.Email,
			DisplayName:     a.DisplayName,
			AllowedModels:   a.AllowedModels,
			Status:          status,
			DefaultModel:    a.DefaultModel,
			MaxCostCents:    a.MaxCostCents,
			GuardrailPrompt: a.GuardrailPrompt,
			ReqPerDay:       a.ReqPerDay,
			TokensPerDay:    a.TokensPerDay,
			PriceCaps:       caps,
		})
	}
	return out
}

// BuildCatalogAndAccounts resolves the configured seed sources (falling
// back to the gateway's built-in demo data when a seed file isn't given)
// into a ready-to-use catalog and account list.
func BuildCatalogAndAccounts(cfg Config) (*catalog.Catalog, []access.Account, error) {
	var cat *catalog.Catalog
	if cfg.CatalogSeedFile != "" {
		seed, err := LoadCatalogSeed(cfg.CatalogSeedFile)
		if err != nil {
			return nil, nil, err
		}
		cat = catalog.New()
		seed.Apply(cat)
	} else {
		cat = catalog.Seed()
	}

	var accounts []access.Account
	if cfg.AccountsSeedFile != "" {
		seed, err := LoadAccountsSeed(cfg.AccountsSeedFile)
		if err != nil {
			return nil, nil, err
		}
		accounts = seed.Accounts()
	} else {
		accounts = access.Seed()
	}

	return cat, accounts, nil
}
