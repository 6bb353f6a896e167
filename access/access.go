// Package access implements per-account state and the routing-plan build
// step (C2): which models an account may use, its cost ceilings, its
// guardrail prompt, and its daily quotas. It resolves labels by delegating
// to a catalog.Catalog.
package access

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ractogw/gateway/catalog"
	"github.com/ractogw/gateway/dispatcherr"
)

// Status is an account's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// PriceCap ceilings a candidate's estimate for one specific model.
type PriceCap struct {
	Model    string
	MaxCents uint32
}

// Account is a caller's access profile.
type Account struct {
	ID              string
	Email           string
	DisplayName     string
	AllowedModels   []string
	Status          Status
	DefaultModel    string
	MaxCostCents    *uint32
	GuardrailPrompt string
	ReqPerDay       *uint32
	TokensPerDay    *uint32
	PriceCaps       []PriceCap
}

// Control is the process-wide account store plus the catalog it resolves
// labels against.
type Control struct {
	mu       sync.RWMutex
	accounts map[string]Account
	catalog  *catalog.Catalog
}

// New returns an access Control backed by the given catalog, seeded with
// the given accounts.
func New(cat *catalog.Catalog, seed []Account) *Control {
	accounts := make(map[string]Account, len(seed))
	for _, a := range seed {
		accounts[a.ID] = a
	}
	return &Control{accounts: accounts, catalog: cat}
}

// Seed returns the gateway's three built-in demo accounts: an active
// "demo-user", an active "ops-team", and a suspended "guest" — matching
// the scenarios in SPEC_FULL.md §8.
func Seed() []Account {
	u32 := func(v uint32) *uint32 { return &v }
	return []Account{
		{
			ID: "demo-user", Email: "demo@local", DisplayName: "Demo User",
			AllowedModels:   []string{"gpt-4.1", "gpt-4o-mini", "claude-3.5-sonnet"},
			Status:          StatusActive,
			DefaultModel:    "gpt-latest",
			MaxCostCents:    u32(10),
			GuardrailPrompt: "You are a helpful assistant. Refuse to return secrets, credentials, or unsafe code. Keep responses concise.",
			ReqPerDay:       u32(500),
			TokensPerDay:    u32(500000),
			PriceCaps: []PriceCap{
				{Model: "gpt-4.1", MaxCents: 50},
				{Model: "claude-3.5-sonnet", MaxCents: 30},
			},
		},
		{
			ID: "ops-team", Email: "ops@internal", DisplayName: "Ops Team",
			AllowedModels:   []string{"gpt-4.1", "claude-3.5-sonnet", "claude-3-haiku"},
			Status:          StatusActive,
			DefaultModel:    "ops-fast",
			GuardrailPrompt: "You assist the ops team. Be precise, avoid hallucinations, and flag risky actions.",
			ReqPerDay:       u32(2000),
			TokensPerDay:    u32(2000000),
		},
		{
			ID: "guest", Email: "guest@example.com", DisplayName: "Guest",
			AllowedModels:   []string{"gpt-4o-mini"},
			Status:          StatusSuspended,
			DefaultModel:    "gpt-4o-mini",
			MaxCostCents:    u32(2),
			GuardrailPrompt: "Do not answer with sensitive data. Keep replies short and safe for guests.",
			ReqPerDay:       u32(50),
			TokensPerDay:    u32(50000),
			PriceCaps: []PriceCap{
				{Model: "gpt-4o-mini", MaxCents: 5},
			},
		},
	}
}

// Account returns a copy of the account record for the given id, if known.
// A nil/empty id (anonymous caller) always returns not-found.
func (c *Control) Account(id string) (Account, bool) {
	if id == "" {
		return Account{}, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.accounts[id]
	return a, ok
}

// GuardrailFor returns the caller's guardrail prompt, if any.
func (c *Control) GuardrailFor(id string) (string, bool) {
	a, ok := c.Account(id)
	if !ok || a.GuardrailPrompt == "" {
		return "", false
	}
	return a.GuardrailPrompt, true
}

// List returns a copy of every known account.
func (c *Control) List() []Account {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Account, 0, len(c.accounts))
	for _, a := range c.accounts {
		out = append(out, a)
	}
	return out
}

// RoutingPlan implements §4.2: resolve the primary candidate, check
// account-level admission (suspended, cost ceiling), then append the
// primary's fallback chain as non-cascading plan entries.
func (c *Control) RoutingPlan(userID, requestedLabel string) ([]catalog.Routed, error) {
	account, hasAccount := c.Account(userID)

	allowlist := c.catalog.AllLabels()
	if hasAccount {
		allowlist = account.AllowedModels
	}

	primary, ok := c.catalog.Resolve(requestedLabel, allowlist)
	if !ok {
		return nil, dispatcherr.BadRequest(fmt.Sprintf("model '%s' not allowed or not available", requestedLabel))
	}

	if hasAccount {
		if account.Status != StatusActive {
			return nil, dispatcherr.BadRequest("account suspended")
		}
		if account.MaxCostCents != nil && primary.EstimateCents > float64(*account.MaxCostCents) {
			return nil, dispatcherr.BadRequest("requested model exceeds account cost limit")
		}
	}

	plan := []catalog.Routed{primary}
	for _, id := range primary.FallbackChain {
		entry, ok := c.catalog.Entry(id)
		if !ok {
			continue
		}
		plan = append(plan, catalog.Routed{
			RequestLabel:  requestedLabel,
			ResolvedModel: entry.ID,
			Provider:      entry.Provider,
			EstimateCents: entry.EstimateCents(),
			FallbackChain: nil,
		})
	}
	return plan, nil
}

// RecordHealth delegates to the underlying catalog.
func (c *Control) RecordHealth(id string, ok bool, latencyMs int64) {
	c.catalog.RecordHealth(id, ok, latencyMs)
}

// HealthSnapshot delegates to the underlying catalog.
func (c *Control) HealthSnapshot() []catalog.HealthEntry {
	return c.catalog.HealthSnapshot()
}

// PriceCapFor returns the price cap entry matching a model, case
// insensitively, if the account has one.
func (a Account) PriceCapFor(model string) (PriceCap, bool) {
	for _, cap := range a.PriceCaps {
		if strings.EqualFold(cap.Model, model) {
			return cap, true
		}
	}
	return PriceCap{}, false
}
