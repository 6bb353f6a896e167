// Package catalog holds the in-memory model catalog: canonical model
// entries, weighted aliases, fallback chains, and per-model health stats.
// It is the gateway's leaf component — everything else (access control,
// dispatch) resolves labels through it but it depends on nothing else.
package catalog

import (
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry is a single upstream model known to the catalog.
type Entry struct {
	ID                   string
	Provider             string
	PromptPricePer1k     float64
	CompletionPricePer1k float64
}

// EstimateCents is the admission-check estimate: the sum of the per-1k
// prompt and completion rates. It is deliberately coarse — it exists only
// to gate requests against account and model cost ceilings, not to predict
// an actual bill. See dispatch/cost.go for the adapter rate table used for
// the cost reported back to callers.
func (e Entry) EstimateCents() float64 {
	return e.PromptPricePer1k + e.CompletionPricePer1k
}

// AliasTarget is one weighted option an alias label may resolve to.
type AliasTarget struct {
	Model  string
	Weight uint32
}

// Routed is a model selected for a single request, with the remaining
// admitted candidates recorded as its fallback chain.
type Routed struct {
	RequestLabel  string
	ResolvedModel string
	Provider      string
	EstimateCents float64
	FallbackChain []string
}

type healthStat struct {
	lastOK        bool
	lastLatencyMs *int64
	updatedAt     time.Time
	successes     uint64
	failures      uint64
}

// score is the ordering key from the spec: healthy-and-fast sorts first,
// unknown latency sorts last.
func (h healthStat) score() (int, int64) {
	okScore := 1
	if h.lastOK {
		okScore = 0
	}
	latency := int64(math.MaxInt64)
	if h.lastLatencyMs != nil {
		latency = *h.lastLatencyMs
	}
	return okScore, latency
}

type alias struct {
	targets []AliasTarget
}

// pick performs the weighted roll described in §4.1 step 1: a uniform roll
// over [0, total), walked cumulatively across targets in declared order.
// A total weight of zero is a deliberately inert rule.
func (a alias) pick(rng *rand.Rand) (string, bool) {
	var total uint32
	for _, t := range a.targets {
		total += t.Weight
	}
	if total == 0 {
		return "", false
	}
	roll := uint32(rng.Int63n(int64(total)))
	for _, t := range a.targets {
		if roll < t.Weight {
			return t.Model, true
		}
		roll -= t.Weight
	}
	return "", false
}

// Catalog is the process-wide mutable model registry. All reads take a
// read lock, all mutations take a write lock; lock regions never suspend.
type Catalog struct {
	mu        sync.RWMutex
	models    map[string]Entry
	aliases   map[string]alias
	fallbacks map[string][]string
	health    map[string]healthStat

	rngMu sync.Mutex
	rng   *rand.Rand
}

// New returns an empty catalog. Use Seed for the gateway's built-in
// starter data, or UpsertModel/SetAlias/SetFallbacks to build one up.
func New() *Catalog {
	return &Catalog{
		models:    make(map[string]Entry),
		aliases:   make(map[string]alias),
		fallbacks: make(map[string][]string),
		health:    make(map[string]healthStat),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Seed returns a catalog pre-populated with the gateway's default demo
// models, aliases, and fallback chains.
func Seed() *Catalog {
	c := New()
	c.UpsertModel(Entry{Provider: "openai", ID: "gpt-4-turbo-preview", PromptPricePer1k: 0.5, CompletionPricePer1k: 4.0})
	c.UpsertModel(Entry{Provider: "openai", ID: "gpt-4o-mini", PromptPricePer1k: 0.015, CompletionPricePer1k: 0.06})
	c.UpsertModel(Entry{Provider: "anthropic", ID: "claude-3-5-sonnet-20240620", PromptPricePer1k: 0.3, CompletionPricePer1k: 3.5})
	c.UpsertModel(Entry{Provider: "anthropic", ID: "claude-3-haiku-20240307", PromptPricePer1k: 0.08, CompletionPricePer1k: 3.0})

	c.SetAlias("gpt-4.1", []AliasTarget{{Model: "gpt-4-turbo-preview", Weight: 100}})
	c.SetAlias("gpt-latest", []AliasTarget{{Model: "gpt-4-turbo-preview", Weight: 100}})
	c.SetAlias("cheap", []AliasTarget{{Model: "gpt-4o-mini", Weight: 100}})
	c.SetAlias("ops-fast", []AliasTarget{{Model: "claude-3-haiku-20240307", Weight: 100}})

	c.SetFallbacks("gpt-4-turbo-preview", []string{"gpt-4o-mini", "claude-3-5-sonnet-20240620"})
	c.SetFallbacks("claude-3-5-sonnet-20240620", []string{"claude-3-haiku-20240307", "gpt-4o-mini"})
	return c
}

// Resolve implements §4.1's five-step resolution algorithm.
func (c *Catalog) Resolve(requestedLabel string, allowlist []string) (Routed, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	target := requestedLabel
	if rule, ok := c.aliases[strings.ToLower(requestedLabel)]; ok {
		c.rngMu.Lock()
		picked, ok := rule.pick(c.rng)
		c.rngMu.Unlock()
		if ok {
			target = picked
		}
	}

	allowLower := make(map[string]bool, len(allowlist))
	for _, m := range allowlist {
		allowLower[strings.ToLower(m)] = true
	}

	var candidates []Entry
	if allowLower[strings.ToLower(target)] || allowLower[strings.ToLower(requestedLabel)] {
		if entry, ok := c.models[target]; ok {
			candidates = append(candidates, entry)
		}
	}

	chain := make([]string, 0, len(c.fallbacks[target]))
	for _, m := range c.fallbacks[target] {
		if allowLower[strings.ToLower(m)] {
			chain = append(chain, m)
		}
	}
	for _, fb := range chain {
		if entry, ok := c.models[fb]; ok {
			candidates = append(candidates, entry)
		}
	}

	if len(candidates) == 0 {
		return Routed{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		hi := c.health[candidates[i].ID]
		hj := c.health[candidates[j].ID]
		oi, li := hi.score()
		oj, lj := hj.score()
		if oi != oj {
			return oi < oj
		}
		return li < lj
	})

	selected := candidates[0]
	remaining := make([]string, 0, len(candidates)-1)
	for _, e := range candidates[1:] {
		if e.ID != selected.ID {
			remaining = append(remaining, e.ID)
		}
	}

	return Routed{
		RequestLabel:  requestedLabel,
		ResolvedModel: selected.ID,
		Provider:      selected.Provider,
		EstimateCents: selected.EstimateCents(),
		FallbackChain: remaining,
	}, true
}

// AllLabels returns the union of catalog ids and alias labels.
func (c *Catalog) AllLabels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	labels := make([]string, 0, len(c.models)+len(c.aliases))
	for id := range c.models {
		labels = append(labels, id)
	}
	for a := range c.aliases {
		labels = append(labels, a)
	}
	sort.Strings(labels)
	return labels
}

// UpsertModel inserts or replaces a catalog entry, initializing a default
// health stat if one is not already present.
func (c *Catalog) UpsertModel(entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.health[entry.ID]; !ok {
		c.health[entry.ID] = healthStat{}
	}
	c.models[entry.ID] = entry
}

// SetAlias replaces the weighted target list for a label.
func (c *Catalog) SetAlias(label string, targets []AliasTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aliases[strings.ToLower(label)] = alias{targets: targets}
}

// SetFallbacks replaces the fallback chain for a canonical model id.
func (c *Catalog) SetFallbacks(id string, chain []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fallbacks[id] = chain
}

// Entry returns the catalog entry for a canonical id, if any.
func (c *Catalog) Entry(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.models[id]
	return e, ok
}

// ListModels returns all catalog entries in no particular order.
func (c *Catalog) ListModels() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.models))
	for _, e := range c.models {
		out = append(out, e)
	}
	return out
}

// HealthEntry is a point-in-time snapshot of one model's health stat.
type HealthEntry struct {
	Model         string
	Provider      string
	LastOK        bool
	LastLatencyMs *int64
	Successes     uint64
	Failures      uint64
	UpdatedAt     time.Time
}

// RecordHealth records the outcome of an upstream attempt, creating a
// health stat on first write. Last-writer-wins for last_ok/last_latency_ms/
// updated_at; successes/failures accumulate additively.
func (c *Catalog) RecordHealth(id string, ok bool, latencyMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.health[id]
	h.lastOK = ok
	h.lastLatencyMs = &latencyMs
	h.updatedAt = time.Now()
	if ok {
		h.successes++
	} else {
		h.failures++
	}
	c.health[id] = h
}

// HealthSnapshot returns the current health stat for every model with a
// known catalog entry.
func (c *Catalog) HealthSnapshot() []HealthEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]HealthEntry, 0, len(c.health))
	for model, stat := range c.health {
		entry, ok := c.models[model]
		if !ok {
			continue
		}
		out = append(out, HealthEntry{
			Model:         model,
			Provider:      entry.Provider,
			LastOK:        stat.lastOK,
			LastLatencyMs: stat.lastLatencyMs,
			Successes:     stat.successes,
			Failures:      stat.failures,
			UpdatedAt:     stat.updatedAt,
		})
	}
	return out
}
