package scoring

// Model names with published token prices.
const (
	ModelGPT4oMini   = "gpt-4o-mini"
	ModelGPT41Mini   = "gpt-4.1-mini"
	tokensPerMillion = 1_000_000.0
)

// TokenPrice is the USD price per million tokens.
type TokenPrice struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Cost returns the USD cost of a call with the given token counts.
func (p TokenPrice) Cost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)*p.InputPerMillion/tokensPerMillion +
		float64(outputTokens)*p.OutputPerMillion/tokensPerMillion
}

// TokenPrices maps model names to their prices.
type TokenPrices map[string]TokenPrice

// DefaultTokenPrices returns the built-in price table.
func DefaultTokenPrices() TokenPrices {
	return TokenPrices{
		ModelGPT4oMini: {InputPerMillion: 0.150, OutputPerMillion: 0.600},
		ModelGPT41Mini: {InputPerMillion: 0.400, OutputPerMillion: 1.600},
	}
}

// Lookup returns the price for name, falling back to gpt-4o-mini.
func (t TokenPrices) Lookup(name string) TokenPrice {
	if p, ok := t[name]; ok {
		return p
	}
	return DefaultTokenPrices()[ModelGPT4oMini]
}

// Cost prices a call made with model name.
func (t TokenPrices) Cost(name string, inputTokens, outputTokens int) float64 {
	return t.Lookup(name).Cost(inputTokens, outputTokens)
}
