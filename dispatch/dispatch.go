// Package dispatch implements the Dispatch Engine (C6) and its streaming
// counterpart (C7): the pipeline that turns a validated chat request into
// an upstream completion, threading it through guardrail injection, quota
// enforcement, the policy engine, and PII redaction before persisting and
// executing it with retries and fallbacks.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ractogw/gateway/access"
	"github.com/ractogw/gateway/catalog"
	"github.com/ractogw/gateway/dispatcherr"
	"github.com/ractogw/gateway/internal/logging"
	"github.com/ractogw/gateway/internal/metrics"
	"github.com/ractogw/gateway/pii"
	"github.com/ractogw/gateway/policy"
	"github.com/ractogw/gateway/quota"
	"github.com/ractogw/gateway/storage"
	"github.com/ractogw/gateway/upstream"
)

// Message is one chat turn in a request, as seen at the dispatch boundary.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the validated request the engine consumes.
type ChatRequest struct {
	ConversationID string    `json:"conversation_id,omitempty"`
	Provider       string    `json:"provider"`
	ModelLabel     string    `json:"model"`
	Messages       []Message `json:"messages"`
	MaxTokens      int       `json:"max_tokens,omitempty"`
	Temperature    float64   `json:"temperature,omitempty"`
}

// Trace is the routing record attached to every response.
type Trace struct {
	SelectedModel string   `json:"selected_model"`
	Provider      string   `json:"provider"`
	Attempts      []string `json:"attempts"`
	UsedFallback  bool     `json:"used_fallback"`
}

// ResponseMessage is the upstream completion, enriched with accounting.
type ResponseMessage struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Content      string  `json:"content"`
	TokensInput  int     `json:"tokens_input,omitempty"`
	TokensOutput int     `json:"tokens_output,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
}

// Result is the non-streaming response to a dispatched request.
type Result struct {
	ConversationID string          `json:"conversation_id"`
	Message        ResponseMessage `json:"message"`
	Routing        Trace           `json:"routing"`
}

// Store is the narrow persistence surface the engine needs. *storage.Store
// satisfies it, along with quota.Source, structurally.
type Store interface {
	EnsureConversation(ctx context.Context, id, title, userID string) error
	InsertMessage(ctx context.Context, msg storage.Message) (string, error)
	RecordPolicyHits(ctx context.Context, hits []storage.PolicyHit) error
	ListPolicies(ctx context.Context) ([]policy.Policy, error)
	UsageSince(ctx context.Context, accountID string, since time.Time) (quota.Usage, error)
}

// Engine wires the routing plan builder, the persistence layer, and the
// set of reachable upstream providers into the request pipeline.
type Engine struct {
	Access    *access.Control
	Storage   Store
	Providers map[string]upstream.Provider
}

// New returns an Engine. providers is keyed by lowercase provider tag
// ("openai", "anthropic").
func New(ac *access.Control, store Store, providers map[string]upstream.Provider) *Engine {
	return &Engine{Access: ac, Storage: store, Providers: providers}
}

func toUpstreamMessages(msgs []Message) []upstream.Message {
	out := make([]upstream.Message, len(msgs))
	for i, m := range msgs {
		out[i] = upstream.Message{Role: upstream.Role(m.Role), Content: m.Content}
	}
	return out
}

// prepared is the output of the shared pipeline steps common to both the
// non-streaming and streaming entry points (§4.6 steps 1-9): a routing
// plan, the guardrail-injected and policy/PII-rewritten message list, and
// the id of the already-persisted user message.
type prepared struct {
	conversationID string
	plan           []catalog.Routed
	messages       []upstream.Message
	userMessageID  string
}

// prepareAndPersist runs identification through persistence of the user
// turn and its policy hits. It is the shared prefix of Dispatch and Stream.
func (e *Engine) prepareAndPersist(ctx context.Context, accountID string, req ChatRequest) (*prepared, error) {
	if len(req.Messages) == 0 {
		return nil, dispatcherr.BadRequest("messages must not be empty")
	}
	log := logging.FromContext(ctx)

	plan, err := e.Access.RoutingPlan(accountID, req.ModelLabel)
	if err != nil {
		return nil, err
	}
	account, hasAccount := e.Access.Account(accountID)

	messages := toUpstreamMessages(req.Messages)
	if hasAccount && account.GuardrailPrompt != "" {
		messages = append([]upstream.Message{
			{Role: upstream.RoleSystem, Content: account.GuardrailPrompt},
		}, messages...)
	}

	if err := quota.Enforce(ctx, account, plan[0], e.Storage); err != nil {
		return nil, err
	}

	policies, err := e.Storage.ListPolicies(ctx)
	if err != nil {
		return nil, dispatcherr.Internal("loading policies", err)
	}

	lastIdx := len(messages) - 1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == upstream.RoleUser {
			lastIdx = i
			break
		}
	}
	evalResult := policy.Evaluate(policies, "user", messages[lastIdx].Content)
	if evalResult.Blocked {
		return nil, dispatcherr.BadRequest(fmt.Sprintf("Blocked by policy: %s", evalResult.BlockedBy))
	}
	messages[lastIdx].Content = evalResult.Text

	redacted, _ := pii.Redact(messages[lastIdx].Content)
	messages[lastIdx].Content = redacted

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}
	if err := e.Storage.EnsureConversation(ctx, conversationID, "", accountID); err != nil {
		return nil, dispatcherr.Internal("ensure conversation", err)
	}

	userMsgID, err := e.Storage.InsertMessage(ctx, storage.Message{
		ConversationID: conversationID,
		Role:           "user",
		Content:        messages[lastIdx].Content,
		Model:          req.ModelLabel,
		UserID:         accountID,
	})
	if err != nil {
		return nil, dispatcherr.Internal("persist user message", err)
	}

	if len(evalResult.Hits) > 0 {
		hits := make([]storage.PolicyHit, 0, len(evalResult.Hits))
		for _, h := range evalResult.Hits {
			hits = append(hits, storage.PolicyHit{
				MessageID: userMsgID, PolicyID: h.PolicyID, PolicyName: h.Name, Action: string(h.Action),
			})
			metrics.PolicyHits.WithLabelValues(string(h.Action)).Inc()
		}
		if err := e.Storage.RecordPolicyHits(ctx, hits); err != nil {
			log.Warn("failed to persist policy hits", "error", err, "message_id", userMsgID)
		}
	}

	return &prepared{conversationID: conversationID, plan: plan, messages: messages, userMessageID: userMsgID}, nil
}

// Dispatch runs the full non-streaming pipeline (§4.6).
func (e *Engine) Dispatch(ctx context.Context, accountID string, req ChatRequest) (*Result, error) {
	p, err := e.prepareAndPersist(ctx, accountID, req)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)

	resp, trace, err := e.execute(ctx, p.plan, p.messages, req.MaxTokens, req.Temperature)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Provider, req.ModelLabel, "error").Inc()
		return nil, err
	}

	tin, tout := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	cost := estimateCost(trace.Provider, trace.SelectedModel, tin, tout)

	if _, err := e.Storage.InsertMessage(ctx, storage.Message{
		ConversationID: p.conversationID,
		Role:           "assistant",
		Content:        resp.Text,
		Provider:       trace.Provider,
		Model:          trace.SelectedModel,
		TokensInput:    &tin,
		TokensOutput:   &tout,
		UserID:         accountID,
	}); err != nil {
		log.Warn("failed to persist assistant message", "error", err, "conversation_id", p.conversationID)
	}

	metrics.RequestsTotal.WithLabelValues(trace.Provider, trace.SelectedModel, "success").Inc()
	metrics.TokensInput.WithLabelValues(trace.Provider, trace.SelectedModel).Add(float64(tin))
	metrics.TokensOutput.WithLabelValues(trace.Provider, trace.SelectedModel).Add(float64(tout))

	return &Result{
		ConversationID: p.conversationID,
		Message: ResponseMessage{
			Provider: trace.Provider, Model: trace.SelectedModel, Content: resp.Text,
			TokensInput: tin, TokensOutput: tout, Cost: cost,
		},
		Routing: trace,
	}, nil
}

// clampMaxTokens enforces the upper bound: zero means "caller did not set
// one" and is left alone so the provider adapter falls back to its own
// default, matching the original's Option<u32>-only-clamps-if-Some rule.
// A negative value is treated as unset and becomes zero.
func clampMaxTokens(v int) int {
	if v < 0 {
		return 0
	}
	if v > 8192 {
		return 8192
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// classifyUpstreamError maps a Provider-reported error onto the core's
// classified error kinds, per §7's realization of the §4.7 retry table.
func classifyUpstreamError(err error) *dispatcherr.Error {
	if e, ok := err.(*upstream.Error); ok {
		switch e.Kind {
		case upstream.ErrMissingAPIKey:
			return dispatcherr.Configuration(e.Message)
		case upstream.ErrInvalidRequest:
			return dispatcherr.BadRequest(e.Message)
		default: // ErrUpstreamStatus, ErrTransport, ErrProvider
			return dispatcherr.Upstream(e.Message, e)
		}
	}
	return dispatcherr.Internal("upstream call failed", err)
}

// execute implements §4.7: up to two attempts per candidate, retrying the
// same candidate once before falling back to the next, clamping max_tokens
// and temperature on every attempt.
func (e *Engine) execute(ctx context.Context, plan []catalog.Routed, messages []upstream.Message, maxTokens int, temperature float64) (*upstream.Response, Trace, error) {
	maxTokens = clampMaxTokens(maxTokens)
	temperature = clampFloat(temperature, 0.0, 2.0)

	trace := Trace{}
	var lastErr *dispatcherr.Error

	for i, candidate := range plan {
		provider, ok := e.Providers[strings.ToLower(candidate.Provider)]
		if !ok {
			return nil, Trace{}, dispatcherr.BadRequest(fmt.Sprintf("unknown provider %q", candidate.Provider))
		}

		for retry := 0; retry < 2; retry++ {
			label := fmt.Sprintf("%s#%d", candidate.ResolvedModel, retry+1)
			trace.Attempts = append(trace.Attempts, label)

			req := upstream.Request{
				Model:       candidate.ResolvedModel,
				Messages:    messages,
				MaxTokens:   maxTokens,
				Temperature: temperature,
			}

			start := time.Now()
			resp, err := provider.Chat(ctx, req)
			latencyMs := time.Since(start).Milliseconds()

			if err == nil {
				e.Access.RecordHealth(candidate.ResolvedModel, true, latencyMs)
				trace.SelectedModel = candidate.ResolvedModel
				trace.Provider = candidate.Provider
				trace.UsedFallback = trace.UsedFallback || i > 0 || retry > 0
				return resp, trace, nil
			}

			e.Access.RecordHealth(candidate.ResolvedModel, false, latencyMs)
			classified := classifyUpstreamError(err)
			if !classified.Retryable() {
				return nil, Trace{}, classified
			}
			lastErr = classified

			if retry == 0 {
				continue
			}
			if i+1 < len(plan) {
				trace.UsedFallback = true
				break
			}
			return nil, Trace{}, classified
		}
	}

	if lastErr != nil {
		return nil, Trace{}, dispatcherr.Internal("no available model after routing attempts", lastErr)
	}
	return nil, Trace{}, dispatcherr.Internal("no available model after routing attempts", nil)
}

// Event is one message on a streaming response's event sink: either the
// opening keep-alive comment, an unnamed data chunk, or the terminal
// "done" event carrying the JSON completion meta.
type Event struct {
	Comment string
	Name    string
	Data    string
}

func chunkUTF8(text string, size int) []string {
	b := []byte(text)
	if len(b) == 0 {
		return nil
	}
	out := make([]string, 0, (len(b)+size-1)/size)
	for i := 0; i < len(b); i += size {
		end := i + size
		if end > len(b) {
			end = len(b)
		}
		out = append(out, strings.ToValidUTF8(string(b[i:end]), "�"))
	}
	return out
}

// doneMeta is the JSON payload carried by the terminal "done" event.
type doneMeta struct {
	TokensInput  int     `json:"tokens_input"`
	TokensOutput int     `json:"tokens_output"`
	Cost         float64 `json:"cost"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	Routing      Trace   `json:"routing"`
}

// Stream runs the pipeline through user-message persistence synchronously
// (§4.6 steps 1-9, so any bad-request/quota/policy failure is returned
// directly rather than as a stream event), then executes the fallback
// loop off-thread and emits chunked data events followed by a "done"
// event (§4.8). The channel is closed when the stream ends or ctx is
// cancelled; a cancelled context aborts without emitting further events.
func (e *Engine) Stream(ctx context.Context, accountID string, req ChatRequest) (<-chan Event, error) {
	p, err := e.prepareAndPersist(ctx, accountID, req)
	if err != nil {
		return nil, err
	}
	log := logging.FromContext(ctx)

	events := make(chan Event, 8)
	go func() {
		defer close(events)

		select {
		case events <- Event{Comment: "start"}:
		case <-ctx.Done():
			return
		}

		resp, trace, err := e.execute(ctx, p.plan, p.messages, req.MaxTokens, req.Temperature)
		if err != nil {
			metrics.RequestsTotal.WithLabelValues(req.Provider, req.ModelLabel, "error").Inc()
			select {
			case events <- Event{Data: fmt.Sprintf("Error: %s", err.Error())}:
			case <-ctx.Done():
			}
			return
		}

		for _, chunk := range chunkUTF8(resp.Text, 64) {
			select {
			case events <- Event{Data: chunk}:
			case <-ctx.Done():
				return
			}
		}

		tin, tout := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
		cost := estimateCost(trace.Provider, trace.SelectedModel, tin, tout)

		if _, err := e.Storage.InsertMessage(ctx, storage.Message{
			ConversationID: p.conversationID,
			Role:           "assistant",
			Content:        resp.Text,
			Provider:       trace.Provider,
			Model:          trace.SelectedModel,
			TokensInput:    &tin,
			TokensOutput:   &tout,
			UserID:         accountID,
		}); err != nil {
			log.Warn("failed to persist assistant message", "error", err, "conversation_id", p.conversationID)
		}

		metrics.RequestsTotal.WithLabelValues(trace.Provider, trace.SelectedModel, "success").Inc()
		metrics.TokensInput.WithLabelValues(trace.Provider, trace.SelectedModel).Add(float64(tin))
		metrics.TokensOutput.WithLabelValues(trace.Provider, trace.SelectedModel).Add(float64(tout))

		meta, _ := json.Marshal(doneMeta{
			TokensInput: tin, TokensOutput: tout, Cost: cost,
			Provider: trace.Provider, Model: trace.SelectedModel, Routing: trace,
		})
		select {
		case events <- Event{Name: "done", Data: string(meta)}:
		case <-ctx.Done():
		}
	}()

	return events, nil
}
