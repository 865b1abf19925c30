package llm

import (
	"math"
	"strings"

	"github.com/zaggy/mcc/pkg/models"
)

// ModelPricing is the per-token price sheet for one model, expressed in
// MicroUSD per million tokens so cost computation stays integer-exact.
type ModelPricing struct {
	// InputPerMTok is the price per million prompt tokens.
	InputPerMTok models.MicroUSD
	// OutputPerMTok is the price per million completion tokens.
	OutputPerMTok models.MicroUSD
	// CachedInputPerMTok is the price per million cache-read prompt tokens.
	CachedInputPerMTok models.MicroUSD
}

// Cost computes the exact charge for a billed token count.
func (p ModelPricing) Cost(tokensIn, tokensOut int64, cached bool) models.MicroUSD {
	in := p.InputPerMTok
	if cached && p.CachedInputPerMTok > 0 {
		in = p.CachedInputPerMTok
	}
	return in.MulTokens(tokensIn) + p.OutputPerMTok.MulTokens(tokensOut)
}

// usd is a readable constructor for the pricing table: dollars per million
// tokens in micros. Rounded, since 0.30 * 1e6 is not exact in float64.
func usd(dollars float64) models.MicroUSD {
	return models.MicroUSD(math.Round(dollars * 1_000_000))
}

// DefaultPricing maps model name prefixes to prices. Keys are prefixes so
// dated model identifiers and Bedrock inference profiles resolve to the
// same family.
var DefaultPricing = map[string]ModelPricing{
	"claude-opus-4":     {InputPerMTok: usd(15), OutputPerMTok: usd(75), CachedInputPerMTok: usd(1.50)},
	"claude-sonnet-4":   {InputPerMTok: usd(3), OutputPerMTok: usd(15), CachedInputPerMTok: usd(0.30)},
	"claude-3-7-sonnet": {InputPerMTok: usd(3), OutputPerMTok: usd(15), CachedInputPerMTok: usd(0.30)},
	"claude-haiku-4":    {InputPerMTok: usd(1), OutputPerMTok: usd(5), CachedInputPerMTok: usd(0.10)},
	"claude-3-5-haiku":  {InputPerMTok: usd(0.80), OutputPerMTok: usd(4), CachedInputPerMTok: usd(0.08)},
}

// fallbackPricing is used for unrecognized models. It matches the most
// expensive family so estimation errs toward over-reserving.
var fallbackPricing = ModelPricing{InputPerMTok: usd(15), OutputPerMTok: usd(75)}

// PricingFor resolves the price sheet for a model identifier.
func PricingFor(model string) ModelPricing {
	// Strip Bedrock inference profile wrapping: us.anthropic.<model>-v1:0
	name := model
	if idx := strings.Index(name, "anthropic."); idx >= 0 {
		name = name[idx+len("anthropic."):]
	}
	for prefix, p := range DefaultPricing {
		if strings.HasPrefix(name, prefix) {
			return p
		}
	}
	return fallbackPricing
}

// Estimate projects the cost of a call before it is made, from the known
// prompt size and the completion cap. Estimates deliberately assume the
// full completion budget is consumed; admission treats the estimate as a
// ceiling, and the settled record carries the true cost.
func Estimate(model string, promptTokens, maxTokens int64) models.MicroUSD {
	p := PricingFor(model)
	return p.InputPerMTok.MulTokens(promptTokens) + p.OutputPerMTok.MulTokens(maxTokens)
}

// EstimatePromptTokens approximates the token count of request text. The
// four-characters-per-token heuristic overcounts for code-heavy prompts,
// which is the safe direction for admission.
func EstimatePromptTokens(req Request) int64 {
	chars := len(req.System)
	for _, t := range req.Messages {
		chars += len(t.Content)
	}
	return int64(chars)/4 + 1
}
