package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewReplicate(t *testing.T) {
	p, err := NewReplicate("test-token", "", nil)
	if err != nil {
		t.Fatalf("NewReplicate() error: %v", err)
	}
	if p.Name() != "replicate" {
		t.Errorf("Name() = %q, want replicate", p.Name())
	}
}

func TestReplicateProvider_SupportedModels_Defaults(t *testing.T) {
	p, _ := NewReplicate("test-token", "", nil)
	models := p.SupportedModels()
	if len(models) == 0 {
		t.Error("SupportedModels() returned empty")
	}
	found := false
	for _, m := range models {
		if strings.Contains(m, "llama") {
			found = true
		}
	}
	if !found {
		t.Error("no llama model found in default supported models")
	}
}

func TestReplicateProvider_SupportedModels_Custom(t *testing.T) {
	textModels := []string{"owner/text-model"}
	p, _ := NewReplicate("test-token", "", textModels)
	models := p.SupportedModels()
	if len(models) != 1 {
		t.Fatalf("SupportedModels() returned %d, want 1", len(models))
	}
}

func TestReplicateProvider_SupportsModel(t *testing.T) {
	p, _ := NewReplicate("test-token", "", []string{"meta/meta-llama-3.1-8b-instruct"})
	if !p.SupportsModel("meta/meta-llama-3.1-8b-instruct") {
		t.Error("expected meta-llama model to be supported")
	}
	if p.SupportsModel("unknown/model") {
		t.Error("unknown model should not be supported")
	}
}

func TestReplicateProvider_SupportsModel_WithVersion(t *testing.T) {
	p, _ := NewReplicate("test-token", "", []string{"meta/model:abc123"})
	if !p.SupportsModel("meta/model") {
		t.Error("expected meta/model (without version) to match meta/model:abc123")
	}
}

func TestModelBaseName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"owner/name", "owner/name"},
		{"owner/name:abc123", "owner/name"},
		{"owner/name:sha256deadbeef", "owner/name"},
	}
	for _, tc := range tests {
		if got := modelBaseName(tc.path); got != tc.want {
			t.Errorf("modelBaseName(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

func TestReplicateProvider_Complete_NoVersion_UsesModelPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		pred := replicatePrediction{ID: "pred-nover", Status: "succeeded", Output: "ok"}
		data, _ := json.Marshal(pred)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	p, _ := NewReplicate("test-token", srv.URL, []string{"meta/llama"})
	_, err := p.Complete(context.Background(), Request{
		Model:    "meta/llama",
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if gotPath != "/models/meta/llama/predictions" {
		t.Errorf("request path = %q, want /models/meta/llama/predictions", gotPath)
	}
}

func TestReplicateProvider_Models(t *testing.T) {
	p, _ := NewReplicate("test-token", "", nil)
	models := p.Models()
	for _, m := range models {
		if m.OwnedBy != "replicate" {
			t.Errorf("ModelInfo.OwnedBy = %q, want replicate", m.OwnedBy)
		}
	}
}

func TestReplicateProvider_Complete_MockHTTP(t *testing.T) {
	// Mock Replicate: first POST creates the prediction, returns succeeded immediately.
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		callCount++
		pred := replicatePrediction{
			ID:     "pred-123",
			Status: "succeeded",
			Output: []interface{}{"Hello", " world"},
		}
		data, _ := json.Marshal(pred)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	p, _ := NewReplicate("test-token", srv.URL, []string{"meta/meta-llama-3.1-8b-instruct"})
	resp, err := p.Complete(context.Background(), Request{
		Model:    "meta/meta-llama-3.1-8b-instruct",
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() error: %v", err)
	}
	if resp.ID != "pred-123" {
		t.Errorf("Response.ID = %q, want pred-123", resp.ID)
	}
	if len(resp.Choices) == 0 {
		t.Fatal("expected at least one choice")
	}
	if resp.Choices[0].Message.Content != "Hello world" {
		t.Errorf("content = %q, want 'Hello world'", resp.Choices[0].Message.Content)
	}
}

func TestReplicateProvider_Complete_PollingBehavior(t *testing.T) {
	// First call: prediction is "processing", second call (poll): "succeeded"
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		callCount++
		w.Header().Set("Content-Type", "application/json")
		var pred replicatePrediction
		if callCount == 1 {
			// Initial submission: 201 Created with processing status.
			pred = replicatePrediction{ID: "pred-poll", Status: "processing"}
			w.WriteHeader(http.StatusCreated)
		} else {
			// Poll request: 200 OK with succeeded status.
			pred = replicatePrediction{ID: "pred-poll", Status: "succeeded", Output: "text result"}
			w.WriteHeader(http.StatusOK)
		}
		data, _ := json.Marshal(pred)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	p, _ := NewReplicate("test-token", srv.URL, []string{"test/model"})
	resp, err := p.Complete(context.Background(), Request{
		Model:    "test/model",
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	if err != nil {
		t.Fatalf("Complete() polling error: %v", err)
	}
	if callCount < 2 {
		t.Errorf("expected at least 2 calls (submit + poll), got %d", callCount)
	}
	if resp.Choices[0].Message.Content != "text result" {
		t.Errorf("polled content = %q, want 'text result'", resp.Choices[0].Message.Content)
	}
}

// ── Poll loop error handling ───────────────────────────────────────────────────

func TestReplicateProvider_Poll_NonOKStatus(t *testing.T) {
	// First call: submit — returns processing. Second call: poll — returns 429.
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		callCount++
		if callCount == 1 {
			pred := replicatePrediction{ID: "pred-poll-err", Status: "processing"}
			data, _ := json.Marshal(pred)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write(data)
			return
		}
		// Poll response: non-200 error.
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"rate limited"}`))
	}))
	defer srv.Close()

	p, _ := NewReplicate("test-token", srv.URL, []string{"test/model"})
	_, err := p.Complete(context.Background(), Request{
		Model:    "test/model",
		Messages: []Message{{Role: "user", Content: "Hi"}},
	})
	if err == nil {
		t.Fatal("expected error from non-200 poll response, got nil")
	}
	if !strings.Contains(err.Error(), "429") {
		t.Errorf("error should mention HTTP status 429; got: %v", err)
	}
}
