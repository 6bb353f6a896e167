package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/ractogw/gateway/access"
	"github.com/ractogw/gateway/auth"
	"github.com/ractogw/gateway/catalog"
	"github.com/ractogw/gateway/dispatch"
	"github.com/ractogw/gateway/providers"
	"github.com/ractogw/gateway/storage"
	"github.com/ractogw/gateway/upstream"
)

type fakeProvider struct {
	name   string
	models []string
}

func (f *fakeProvider) Name() string              { return f.name }
func (f *fakeProvider) SupportedModels() []string { return f.models }
func (f *fakeProvider) SupportsModel(m string) bool {
	for _, mm := range f.models {
		if mm == m {
			return true
		}
	}
	return false
}
func (f *fakeProvider) Models() []providers.ModelInfo {
	out := make([]providers.ModelInfo, len(f.models))
	for i, m := range f.models {
		out[i] = providers.ModelInfo{ID: m, Object: "model", OwnedBy: f.name}
	}
	return out
}
func (f *fakeProvider) Complete(_ context.Context, _ providers.Request) (*providers.Response, error) {
	return nil, nil
}

type mockUpstream struct{ name string }

func (m *mockUpstream) Name() string { return m.name }
func (m *mockUpstream) Chat(_ context.Context, _ upstream.Request) (*upstream.Response, error) {
	return &upstream.Response{Text: "hi", Usage: upstream.Usage{PromptTokens: 1, CompletionTokens: 1}}, nil
}
func (m *mockUpstream) ChatStream(_ context.Context, _ upstream.Request, onChunk func(upstream.Chunk) error) error {
	return onChunk(upstream.Chunk{Text: "hi", Done: true})
}

func newTestRouter(t *testing.T) (http.Handler, string) {
	t.Helper()
	ctx := context.Background()

	cat := catalog.Seed()
	ac := access.New(cat, access.Seed())

	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "gw.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.SeedPolicies(ctx, nil); err != nil {
		t.Fatalf("SeedPolicies() error: %v", err)
	}

	engine := dispatch.New(ac, store, map[string]upstream.Provider{
		"openai": &mockUpstream{name: "openai"},
	})

	registry := providers.NewRegistry()
	registry.Register(&fakeProvider{name: "openai", models: []string{"gpt-4-turbo-preview"}})

	authStore := auth.NewMemStore()
	tok, err := authStore.Issue("demo-user", "test", nil)
	if err != nil {
		t.Fatalf("Issue() error: %v", err)
	}

	monitor := providers.NewProviderHealthMonitor(registry, 5, 1, 0)
	r := newRouter(engine, registry, authStore, monitor, nil)
	return r, tok.Secret
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestModelsEndpoint_NoAuthRequired(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["data"]; !ok {
		t.Error("models response missing data field")
	}
}

func TestChatEndpoint_RequiresAuth(t *testing.T) {
	r, _ := newTestRouter(t)
	body, _ := json.Marshal(dispatch.ChatRequest{
		Provider:   "openai",
		ModelLabel: "gpt-4.1",
		Messages:   []dispatch.Message{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestChatEndpoint_DispatchesWithValidToken(t *testing.T) {
	r, secret := newTestRouter(t)
	body, _ := json.Marshal(dispatch.ChatRequest{
		Provider:   "openai",
		ModelLabel: "gpt-4.1",
		Messages:   []dispatch.Message{{Role: "user", Content: "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+secret)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", w.Code, w.Body.String())
	}
	var result dispatch.Result
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Message.Content != "hi" {
		t.Errorf("Content = %q, want %q", result.Message.Content, "hi")
	}
}

func TestAdminProvidersHealthEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/admin/providers/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
