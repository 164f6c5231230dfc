package usage

import "modelrelay/internal/core"

// Price is the list cost per million tokens in USD.
type Price struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// priceTable holds static list prices per model id. Models absent from
// the table cost zero; accounting must never fail a request over a
// missing price.
var priceTable = map[string]Price{
	"gemini-2.5-pro":                    {InputPerMTok: 1.25, OutputPerMTok: 10.00},
	"gemini-2.5-flash":                  {InputPerMTok: 0.30, OutputPerMTok: 2.50},
	"gemini-2.5-flash-lite":             {InputPerMTok: 0.10, OutputPerMTok: 0.40},
	"gemini-2.0-flash":                  {InputPerMTok: 0.10, OutputPerMTok: 0.40},
	"gemini-2.0-flash-lite":             {InputPerMTok: 0.075, OutputPerMTok: 0.30},
	"anthropic/claude-sonnet-4":         {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"openai/gpt-4o":                     {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"meta-llama/llama-3.3-70b-instruct": {InputPerMTok: 0.12, OutputPerMTok: 0.30},
	"deepseek/deepseek-r1":              {InputPerMTok: 0.55, OutputPerMTok: 2.19},
}

const tokensPerPriceUnit = 1_000_000

// Cost returns the USD cost of one call. Unknown models cost zero.
func Cost(model string, u core.Usage) float64 {
	p, ok := priceTable[model]
	if !ok {
		return 0
	}
	return float64(u.PromptTokens)*p.InputPerMTok/tokensPerPriceUnit +
		float64(u.CompletionTokens)*p.OutputPerMTok/tokensPerPriceUnit
}

// PriceFor returns the list price for a model and whether one is known.
func PriceFor(model string) (Price, bool) {
	p, ok := priceTable[model]
	return p, ok
}
