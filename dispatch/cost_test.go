package dispatch

import "testing"

// TestEstimateCost_OpenAI41 checks the gpt-4.1 tier rate.
func TestEstimateCost_OpenAI41(t *testing.T) {
	got := estimateCost("openai", "gpt-4.1-preview", 1000, 1000)
	want := 1000*5e-6 + 1000*1.5e-5
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// TestEstimateCost_OpenAIFallsBackByModelName checks the plain "4" tier
// only matches when "4.1" is absent, and the catch-all tier otherwise.
func TestEstimateCost_OpenAIFallsBackByModelName(t *testing.T) {
	if got, want := estimateCost("openai", "gpt-4-turbo-preview", 1, 1), 1e-5+3e-5; got != want {
		t.Fatalf("gpt-4 tier: got %v, want %v", got, want)
	}
	if got, want := estimateCost("openai", "gpt-3.5-turbo", 1, 1), 1e-6+3e-6; got != want {
		t.Fatalf("catch-all tier: got %v, want %v", got, want)
	}
}

// TestEstimateCost_AnthropicTiers checks sonnet/haiku/other Anthropic rates.
func TestEstimateCost_AnthropicTiers(t *testing.T) {
	cases := []struct {
		model string
		rate  rate
	}{
		{"claude-3-5-sonnet-20240620", rate{3e-6, 1.5e-5}},
		{"claude-3-haiku-20240307", rate{1e-6, 3e-6}},
		{"claude-2", rate{4e-6, 1.6e-5}},
	}
	for _, c := range cases {
		got := estimateCost("anthropic", c.model, 10, 20)
		want := 10*c.rate.input + 20*c.rate.output
		if got != want {
			t.Errorf("%s: got %v, want %v", c.model, got, want)
		}
	}
}

// TestEstimateCost_UnknownProviderIsZero checks the defensive zero rate for
// a provider tag the table doesn't recognize (unreachable via dispatch's own
// provider-tag validation, but estimateCost itself must not panic).
func TestEstimateCost_UnknownProviderIsZero(t *testing.T) {
	if got := estimateCost("made-up", "whatever", 100, 100); got != 0 {
		t.Fatalf("got %v, want 0", got)
	}
}
