package providers

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyProvider struct {
	name string
	fail bool
}

func (p *flakyProvider) Name() string                                          { return p.name }
func (p *flakyProvider) Complete(ctx context.Context, req Request) (*Response, error) { return nil, nil }
func (p *flakyProvider) SupportedModels() []string                             { return nil }
func (p *flakyProvider) SupportsModel(model string) bool                       { return false }
func (p *flakyProvider) Models() []ModelInfo                                   { return nil }
func (p *flakyProvider) DiscoverModels(ctx context.Context) ([]ModelInfo, error) {
	if p.fail {
		return nil, errors.New("discovery unreachable")
	}
	return []ModelInfo{{ID: "probe-ok"}}, nil
}

func TestProviderHealthMonitor_OpensBreakerAfterRepeatedFailures(t *testing.T) {
	reg := NewRegistry()
	flaky := &flakyProvider{name: "flaky", fail: true}
	reg.Register(flaky)

	mon := NewProviderHealthMonitor(reg, 2, 1, time.Minute)
	ctx := context.Background()
	mon.probeAll(ctx)
	mon.probeAll(ctx)

	snap := mon.Snapshot()
	if snap["flaky"] != 1 {
		t.Fatalf("expected breaker to be open after 2 consecutive failures, got state %v", snap["flaky"])
	}
}

func TestProviderHealthMonitor_StaysClosedOnSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&flakyProvider{name: "healthy", fail: false})

	mon := NewProviderHealthMonitor(reg, 2, 1, time.Minute)
	mon.probeAll(context.Background())

	snap := mon.Snapshot()
	if snap["healthy"] != 0 {
		t.Fatalf("expected breaker to stay closed, got state %v", snap["healthy"])
	}
}

func TestProviderHealthMonitor_NonDiscoveryProviderTreatedAsHealthy(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&openAICompatNoDiscovery{name: "no-discovery"})

	mon := NewProviderHealthMonitor(reg, 2, 1, time.Minute)
	mon.probeAll(context.Background())

	snap := mon.Snapshot()
	if snap["no-discovery"] != 0 {
		t.Fatalf("expected a provider with no discovery support to be treated as healthy, got %v", snap["no-discovery"])
	}
}

type openAICompatNoDiscovery struct{ name string }

func (p *openAICompatNoDiscovery) Name() string                                          { return p.name }
func (p *openAICompatNoDiscovery) Complete(ctx context.Context, req Request) (*Response, error) { return nil, nil }
func (p *openAICompatNoDiscovery) SupportedModels() []string                             { return nil }
func (p *openAICompatNoDiscovery) SupportsModel(model string) bool                       { return false }
func (p *openAICompatNoDiscovery) Models() []ModelInfo                                   { return nil }
