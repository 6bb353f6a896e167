package providers

import (
	"context"

	"github.com/ractogw/gateway/upstream"
)

// Chat and ChatStream adapt OpenAIProvider and AnthropicProvider to the
// narrow upstream.Provider contract the dispatch engine depends on,
// translating between upstream's minimal Request/Response and the wide,
// OpenAI-compatible Request/Response these providers otherwise speak.
// Only these two providers are wired to upstream.Provider: dispatch only
// ever resolves candidates tagged "openai" or "anthropic".

func toProviderRequest(req upstream.Request) Request {
	msgs := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, Message{Role: string(m.Role), Content: m.Content})
	}
	out := Request{Model: req.Model, Messages: msgs}
	if req.MaxTokens > 0 {
		maxTokens := req.MaxTokens
		out.MaxTokens = &maxTokens
	}
	if req.Temperature != 0 {
		temp := req.Temperature
		out.Temperature = &temp
	}
	return out
}

func toUpstreamResponse(resp *Response) *upstream.Response {
	var text string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
	}
	return &upstream.Response{
		Text: text,
		Usage: upstream.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
	}
}

// Chat implements upstream.Provider for OpenAIProvider.
func (p *OpenAIProvider) Chat(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
	resp, err := p.Complete(ctx, toProviderRequest(req))
	if err != nil {
		return nil, &upstream.Error{Kind: upstream.ErrProvider, Message: "openai completion failed", Cause: err}
	}
	return toUpstreamResponse(resp), nil
}

// ChatStream implements upstream.Provider for OpenAIProvider.
func (p *OpenAIProvider) ChatStream(ctx context.Context, req upstream.Request, onChunk func(upstream.Chunk) error) error {
	ch, err := p.CompleteStream(ctx, toProviderRequest(req))
	if err != nil {
		return &upstream.Error{Kind: upstream.ErrProvider, Message: "openai stream failed", Cause: err}
	}
	return drainStream(ch, onChunk)
}

// Chat implements upstream.Provider for AnthropicProvider.
func (p *AnthropicProvider) Chat(ctx context.Context, req upstream.Request) (*upstream.Response, error) {
	resp, err := p.Complete(ctx, toProviderRequest(req))
	if err != nil {
		return nil, &upstream.Error{Kind: upstream.ErrProvider, Message: "anthropic completion failed", Cause: err}
	}
	return toUpstreamResponse(resp), nil
}

// ChatStream implements upstream.Provider for AnthropicProvider.
func (p *AnthropicProvider) ChatStream(ctx context.Context, req upstream.Request, onChunk func(upstream.Chunk) error) error {
	ch, err := p.CompleteStream(ctx, toProviderRequest(req))
	if err != nil {
		return &upstream.Error{Kind: upstream.ErrProvider, Message: "anthropic stream failed", Cause: err}
	}
	return drainStream(ch, onChunk)
}

// drainStream forwards a providers.StreamChunk channel to the upstream
// onChunk callback, marking whichever chunk carries a finish reason as Done.
// FinalUsage is never set.
func drainStream(ch <-chan StreamChunk, onChunk func(upstream.Chunk) error) error {
	for sc := range ch {
		if sc.Error != nil {
			return &upstream.Error{Kind: upstream.ErrTransport, Message: "stream read failed", Cause: sc.Error}
		}
		for _, choice := range sc.Choices {
			out := upstream.Chunk{Text: choice.Delta.Content}
			if choice.FinishReason != "" {
				// Neither provider's StreamChunk carries token usage, so
				// the terminal chunk is forwarded without FinalUsage.
				out.Done = true
			}
			if err := onChunk(out); err != nil {
				return err
			}
		}
	}
	return nil
}
