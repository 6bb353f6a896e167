package dispatch

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ractogw/gateway/access"
	"github.com/ractogw/gateway/catalog"
	"github.com/ractogw/gateway/dispatcherr"
	"github.com/ractogw/gateway/policy"
	"github.com/ractogw/gateway/storage"
	"github.com/ractogw/gateway/upstream"
)

// mockResult is one queued response for a given model on a mockProvider.
type mockResult struct {
	resp *upstream.Response
	err  error
}

// mockProvider is a locally-defined test double for upstream.Provider: it
// replays a per-model queue of canned results in order, so a test can
// script a primary model failing before a fallback succeeds.
type mockProvider struct {
	name string

	mu    sync.Mutex
	queue map[string][]mockResult
}

func newMockProvider(name string) *mockProvider {
	return &mockProvider{name: name, queue: make(map[string][]mockResult)}
}

func (m *mockProvider) enqueue(model string, r mockResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue[model] = append(m.queue[model], r)
}

func (m *mockProvider) Name() string { return m.name }

func (m *mockProvider) Chat(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.queue[req.Model]
	if len(q) == 0 {
		return nil, &upstream.Error{Kind: upstream.ErrProvider, Message: "no queued mock response for " + req.Model}
	}
	next := q[0]
	m.queue[req.Model] = q[1:]
	return next.resp, next.err
}

func (m *mockProvider) ChatStream(ctx context.Context, req upstream.Request, onChunk func(upstream.Chunk) error) error {
	resp, err := m.Chat(ctx, req)
	if err != nil {
		return err
	}
	return onChunk(upstream.Chunk{Text: resp.Text, Done: true})
}

// testHarness bundles a fresh catalog/access/storage/engine stack matching
// the built-in demo seed data, backed by an on-disk SQLite store per test.
type testHarness struct {
	engine   *Engine
	openai   *mockProvider
	storage  *storage.Store
	access   *access.Control
}

func newTestHarness(t *testing.T) *testHarness {
	return newTestHarnessWithAccounts(t, access.Seed())
}

func newTestHarnessWithAccounts(t *testing.T, accounts []access.Account) *testHarness {
	t.Helper()
	ctx := context.Background()

	cat := catalog.Seed()
	ac := access.New(cat, accounts)

	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.SeedPolicies(ctx, nil); err != nil {
		t.Fatalf("SeedPolicies() error: %v", err)
	}

	openai := newMockProvider("openai")
	anthropic := newMockProvider("anthropic")
	engine := New(ac, store, map[string]upstream.Provider{
		"openai":    openai,
		"anthropic": anthropic,
	})

	return &testHarness{engine: engine, openai: openai, storage: store, access: ac}
}

// TestDispatch_S1_AliasToCanonical exercises scenario S1: an alias resolves
// to its sole weighted target, the upstream call succeeds on the first
// attempt, and the trace reports no fallback.
func TestDispatch_S1_AliasToCanonical(t *testing.T) {
	h := newTestHarness(t)
	h.openai.enqueue("gpt-4-turbo-preview", mockResult{
		resp: &upstream.Response{Text: "hi", Usage: upstream.Usage{PromptTokens: 3, CompletionTokens: 1}},
	})

	res, err := h.engine.Dispatch(context.Background(), "demo-user", ChatRequest{
		Provider:   "openai",
		ModelLabel: "gpt-4.1",
		Messages:   []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.Message.Model != "gpt-4-turbo-preview" {
		t.Errorf("Model = %q, want gpt-4-turbo-preview", res.Message.Model)
	}
	if res.Routing.SelectedModel != "gpt-4-turbo-preview" {
		t.Errorf("SelectedModel = %q", res.Routing.SelectedModel)
	}
	if res.Routing.UsedFallback {
		t.Errorf("UsedFallback = true, want false")
	}
	if got := strings.Join(res.Routing.Attempts, ","); got != "gpt-4-turbo-preview#1" {
		t.Errorf("Attempts = %v", res.Routing.Attempts)
	}
}

// TestDispatch_S2_FallbackOnUpstreamFailure exercises scenario S2: the
// primary model fails twice (retryable upstream errors) and the engine
// falls back to the next candidate in the plan, which succeeds.
func TestDispatch_S2_FallbackOnUpstreamFailure(t *testing.T) {
	h := newTestHarness(t)
	upstreamErr := &upstream.Error{Kind: upstream.ErrUpstreamStatus, Message: "service unavailable", Status: 503}
	h.openai.enqueue("gpt-4-turbo-preview", mockResult{err: upstreamErr})
	h.openai.enqueue("gpt-4-turbo-preview", mockResult{err: upstreamErr})
	h.openai.enqueue("gpt-4o-mini", mockResult{
		resp: &upstream.Response{Text: "fallback reply", Usage: upstream.Usage{PromptTokens: 2, CompletionTokens: 2}},
	})

	res, err := h.engine.Dispatch(context.Background(), "demo-user", ChatRequest{
		Provider:   "openai",
		ModelLabel: "gpt-4.1",
		Messages:   []Message{{Role: "user", Content: "hello"}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	wantAttempts := "gpt-4-turbo-preview#1,gpt-4-turbo-preview#2,gpt-4o-mini#1"
	if got := strings.Join(res.Routing.Attempts, ","); got != wantAttempts {
		t.Errorf("Attempts = %q, want %q", got, wantAttempts)
	}
	if !res.Routing.UsedFallback {
		t.Errorf("UsedFallback = false, want true")
	}
	if res.Routing.SelectedModel != "gpt-4o-mini" {
		t.Errorf("SelectedModel = %q, want gpt-4o-mini", res.Routing.SelectedModel)
	}

	health := h.access.HealthSnapshot()
	foundPrimaryFailure := false
	for _, stat := range health {
		if stat.Model == "gpt-4-turbo-preview" && stat.Failures == 2 {
			foundPrimaryFailure = true
		}
	}
	if !foundPrimaryFailure {
		t.Errorf("expected two recorded failures for the primary model, got %+v", health)
	}
}

// TestDispatch_S3_BlockingPolicy exercises scenario S3: a blocking policy
// rejects the request before any upstream call, and no rows are persisted.
func TestDispatch_S3_BlockingPolicy(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	if err := h.storage.SeedPolicies(ctx, []policy.Policy{{
		ID: "block-secret", Name: "block secret", MatchType: policy.MatchContainsAny,
		Pattern: "secret", Action: policy.ActionBlock, AppliesTo: []string{"user"}, Enabled: true,
	}}); err != nil {
		t.Fatalf("SeedPolicies() error: %v", err)
	}

	_, err := h.engine.Dispatch(ctx, "demo-user", ChatRequest{
		Provider: "openai", ModelLabel: "gpt-4.1",
		Messages: []Message{{Role: "user", Content: "tell me a secret"}},
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "Blocked by policy") {
		t.Errorf("error = %v, want it to mention Blocked by policy", err)
	}

	var count int
	if err := h.storage.DB().QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count); err != nil {
		t.Fatalf("counting messages: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no persisted rows, got %d messages", count)
	}
}

// TestDispatch_S4_RedactingPolicyAndPII exercises scenario S4: a redacting
// policy runs first, then the PII pass, leaving both a rewritten persisted
// message and one policy hit row.
func TestDispatch_S4_RedactingPolicyAndPII(t *testing.T) {
	h := newTestHarness(t)
	ctx := context.Background()
	if err := h.storage.SeedPolicies(ctx, []policy.Policy{{
		ID: "redact-password", Name: "redact password", MatchType: policy.MatchRegex,
		Pattern: `\bpassword\b`, Action: policy.ActionRedact, Enabled: true,
	}}); err != nil {
		t.Fatalf("SeedPolicies() error: %v", err)
	}
	h.openai.enqueue("gpt-4-turbo-preview", mockResult{
		resp: &upstream.Response{Text: "ok", Usage: upstream.Usage{PromptTokens: 1, CompletionTokens: 1}},
	})

	res, err := h.engine.Dispatch(ctx, "demo-user", ChatRequest{
		Provider: "openai", ModelLabel: "gpt-4.1",
		Messages: []Message{{Role: "user", Content: "my password is hunter2 and email a@b.co"}},
	})
	if err != nil {
		t.Fatalf("Dispatch() error: %v", err)
	}
	if res.ConversationID == "" {
		t.Fatal("expected a conversation id")
	}

	var content string
	row := h.storage.DB().QueryRow(`SELECT content FROM messages WHERE role = 'user' AND conversation_id = ?`, res.ConversationID)
	if err := row.Scan(&content); err != nil {
		t.Fatalf("reading persisted user message: %v", err)
	}
	want := "my [REDACTED] is hunter2 and email [REDACTED]"
	if content != want {
		t.Errorf("persisted content = %q, want %q", content, want)
	}

	var hitCount int
	if err := h.storage.DB().QueryRow(`SELECT COUNT(*) FROM policy_hits`).Scan(&hitCount); err != nil {
		t.Fatalf("counting policy hits: %v", err)
	}
	if hitCount != 1 {
		t.Errorf("policy_hits count = %d, want 1", hitCount)
	}
}

// TestDispatch_S5_SuspendedAccount exercises scenario S5: a suspended
// account is rejected during routing-plan admission, before any upstream
// call or persistence.
func TestDispatch_S5_SuspendedAccount(t *testing.T) {
	h := newTestHarness(t)
	_, err := h.engine.Dispatch(context.Background(), "guest", ChatRequest{
		Provider: "openai", ModelLabel: "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(err.Error(), "account suspended") {
		t.Errorf("error = %v, want it to mention account suspended", err)
	}
}

// TestDispatch_S6_QuotaExhausted exercises scenario S6: an active account
// whose daily request quota is already exhausted is rejected by the quota
// enforcer before any upstream call. Uses a dedicated account (rather than
// the built-in suspended "guest") so the suspension check in RoutingPlan
// never masks the quota rejection under test.
func TestDispatch_S6_QuotaExhausted(t *testing.T) {
	u32 := func(v uint32) *uint32 { return &v }
	quotaLimited := access.Account{
		ID: "quota-limited", Status: access.StatusActive,
		AllowedModels: []string{"gpt-4o-mini"},
		ReqPerDay:     u32(50),
	}
	h := newTestHarnessWithAccounts(t, []access.Account{quotaLimited})
	ctx := context.Background()
	if err := h.storage.EnsureConversation(ctx, "pre-existing", "", quotaLimited.ID); err != nil {
		t.Fatalf("EnsureConversation() error: %v", err)
	}
	for i := 0; i < 50; i++ {
		if _, err := h.storage.InsertMessage(ctx, storage.Message{
			ConversationID: "pre-existing", Role: "user", Content: "x", UserID: quotaLimited.ID,
		}); err != nil {
			t.Fatalf("InsertMessage() error: %v", err)
		}
	}

	_, err := h.engine.Dispatch(ctx, quotaLimited.ID, ChatRequest{
		Provider: "openai", ModelLabel: "gpt-4o-mini",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if de, ok := dispatcherr.As(err); !ok || de.Message != "account request limit reached for today" {
		t.Errorf("error = %v, want %q", err, "account request limit reached for today")
	}
}
