package dispatch

import "strings"

// rate is a per-token dollar rate pair for one adapter tier.
type rate struct {
	input  float64
	output float64
}

// rateFor returns the per-token cost rate for a provider/model pair,
// grounded on the original adapter's hardcoded cost table. It is the
// sole source of truth for the cost reported back to callers; the
// catalog's per-1k-cent prices are a separate, coarser admission
// estimate and are never used here.
func rateFor(provider, model string) rate {
	m := strings.ToLower(model)
	switch strings.ToLower(provider) {
	case "openai":
		switch {
		case strings.Contains(m, "4.1"):
			return rate{5e-6, 1.5e-5}
		case strings.Contains(m, "4"):
			return rate{1e-5, 3e-5}
		default:
			return rate{1e-6, 3e-6}
		}
	case "anthropic":
		switch {
		case strings.Contains(m, "sonnet"):
			return rate{3e-6, 1.5e-5}
		case strings.Contains(m, "haiku"):
			return rate{1e-6, 3e-6}
		default:
			return rate{4e-6, 1.6e-5}
		}
	default:
		return rate{0, 0}
	}
}

// estimateCost computes the auditing-only dollar cost of one completion.
func estimateCost(provider, model string, tokensInput, tokensOutput int) float64 {
	r := rateFor(provider, model)
	return float64(tokensInput)*r.input + float64(tokensOutput)*r.output
}
