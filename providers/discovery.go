package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ractogw/gateway/internal/circuitbreaker"
	"github.com/ractogw/gateway/internal/logging"
	"github.com/ractogw/gateway/internal/metrics"
)

// openAIModelList mirrors the OpenAI /v1/models response schema.
type openAIModelList struct {
	Object string `json:"object"`
	Data   []struct {
		ID      string `json:"id"`
		Object  string `json:"object"`
		Created int64  `json:"created"`
		OwnedBy string `json:"owned_by"`
	} `json:"data"`
}

// discoverOpenAICompatibleModels fetches a live model list from any provider
// that exposes an OpenAI-compatible GET /v1/models (or similar) endpoint.
func discoverOpenAICompatibleModels(ctx context.Context, client *http.Client, url, apiKey, providerName string) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create discovery request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read discovery response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery request returned %d: %s", resp.StatusCode, string(body))
	}

	var list openAIModelList
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse model list: %w", err)
	}

	models := make([]ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		ownedBy := m.OwnedBy
		if ownedBy == "" {
			ownedBy = providerName
		}
		models = append(models, ModelInfo{
			ID:      m.ID,
			Object:  "model",
			Created: m.Created,
			OwnedBy: ownedBy,
		})
	}
	return models, nil
}

// ProviderHealthMonitor periodically probes every provider in a Registry
// and tracks its reachability behind one circuit breaker per provider. It
// is independent of the dispatch engine's own per-model health stats
// (catalog.HealthEntry) — this is an ops/admin signal over the full,
// extended provider set, not an input to the retry-with-fallback loop.
type ProviderHealthMonitor struct {
	registry *Registry

	mu       sync.RWMutex
	breakers map[string]*circuitbreaker.CircuitBreaker
}

// NewProviderHealthMonitor returns a monitor with one breaker per provider
// currently in the registry, using the given failure/success thresholds
// and open timeout (see circuitbreaker.New for the zero-value defaults).
func NewProviderHealthMonitor(registry *Registry, failureThreshold, successThreshold int, openTimeout time.Duration) *ProviderHealthMonitor {
	m := &ProviderHealthMonitor{registry: registry, breakers: make(map[string]*circuitbreaker.CircuitBreaker)}
	for _, name := range registry.List() {
		m.breakers[name] = circuitbreaker.New(failureThreshold, successThreshold, openTimeout)
	}
	return m
}

// probe exercises a provider's DiscoverModels if it implements
// DiscoveryProvider (a genuine outbound call); providers without live
// discovery are treated as healthy, since there is no cheap no-op
// endpoint common to every provider's wire format.
func probe(ctx context.Context, p Provider) error {
	dp, ok := p.(DiscoveryProvider)
	if !ok {
		return nil
	}
	_, err := dp.DiscoverModels(ctx)
	return err
}

// Run probes every registered provider once per interval until ctx is
// cancelled. Intended to be started in its own goroutine by cmd/ractogw.
func (m *ProviderHealthMonitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.probeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *ProviderHealthMonitor) probeAll(ctx context.Context) {
	m.mu.RLock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	log := logging.FromContext(ctx)
	for _, name := range names {
		provider, ok := m.registry.Get(name)
		if !ok {
			continue
		}
		cb := m.breakerFor(name)
		if !cb.Allow() {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateGauge(cb.State()))
			continue
		}
		if err := probe(ctx, provider); err != nil {
			cb.RecordFailure()
			log.Warn("provider health probe failed", "provider", name, "error", err)
		} else {
			cb.RecordSuccess()
		}
		metrics.CircuitBreakerState.WithLabelValues(name).Set(stateGauge(cb.State()))
	}
}

func (m *ProviderHealthMonitor) breakerFor(name string) *circuitbreaker.CircuitBreaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

func stateGauge(s circuitbreaker.State) float64 {
	switch s {
	case circuitbreaker.StateOpen:
		return 1
	case circuitbreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}

// Snapshot reports the current circuit-breaker state per provider, for an
// admin/ops health endpoint.
func (m *ProviderHealthMonitor) Snapshot() map[string]circuitbreaker.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]circuitbreaker.State, len(m.breakers))
	for name, cb := range m.breakers {
		out[name] = cb.State()
	}
	return out
}
