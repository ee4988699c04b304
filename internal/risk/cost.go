package risk

import "github.com/agent-racer/observatory/internal/model"

// ModelPrice is the per-million-token price for one model's four token
// buckets (spec.md §4.8: "linear function of model-specific prices over
// four token buckets").
type ModelPrice struct {
	InputPerMTok          float64
	OutputPerMTok         float64
	CacheReadPerMTok      float64
	CacheCreationPerMTok  float64
}

// PriceTable maps a model-name prefix to its price. Lookup is by longest
// matching prefix; an unmatched model falls back to DefaultPrice.
type PriceTable map[string]ModelPrice

// DefaultPrice is used when no configured prefix matches a turn's model.
var DefaultPrice = ModelPrice{
	InputPerMTok:         3.00,
	OutputPerMTok:        15.00,
	CacheReadPerMTok:     0.30,
	CacheCreationPerMTok: 3.75,
}

// DefaultPriceTable is grounded on the publicly listed prices for the
// model families the teacher's Models map already names (sonnet/opus/haiku,
// gpt/o-series); operators can override any of it via config.
var DefaultPriceTable = PriceTable{
	"claude-opus":   {InputPerMTok: 15.00, OutputPerMTok: 75.00, CacheReadPerMTok: 1.50, CacheCreationPerMTok: 18.75},
	"claude-sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00, CacheReadPerMTok: 0.30, CacheCreationPerMTok: 3.75},
	"claude-haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4.00, CacheReadPerMTok: 0.08, CacheCreationPerMTok: 1.00},
	"gpt-4o":        {InputPerMTok: 2.50, OutputPerMTok: 10.00, CacheReadPerMTok: 1.25, CacheCreationPerMTok: 2.50},
	"gpt-4":         {InputPerMTok: 30.00, OutputPerMTok: 60.00, CacheReadPerMTok: 15.00, CacheCreationPerMTok: 30.00},
	"o1":            {InputPerMTok: 15.00, OutputPerMTok: 60.00, CacheReadPerMTok: 7.50, CacheCreationPerMTok: 15.00},
}

// cost computes a session's total cost and per-model breakdown by summing
// a linear per-turn cost over the four token buckets.
func cost(turnList []model.TurnNode, prices PriceTable) (float64, []model.ModelCostBreakdown) {
	if prices == nil {
		prices = DefaultPriceTable
	}

	type accum struct {
		cost      float64
		tokens    int
		turnCount int
	}
	byModel := make(map[string]*accum)
	var total float64

	for _, t := range turnList {
		price, ok := matchesPrefix(t.Model, prices)
		if !ok {
			price = DefaultPrice
		}
		turnCost := turnCost(t.TokenUsage, price)
		total += turnCost

		key := t.Model
		if key == "" {
			key = "unknown"
		}
		a, ok := byModel[key]
		if !ok {
			a = &accum{}
			byModel[key] = a
		}
		a.cost += turnCost
		a.tokens += t.TokenUsage.Total()
		a.turnCount++
	}

	var breakdown []model.ModelCostBreakdown
	for modelName, a := range byModel {
		breakdown = append(breakdown, model.ModelCostBreakdown{
			Model: modelName, CostUSD: a.cost, Tokens: a.tokens, TurnCount: a.turnCount,
		})
	}
	return total, breakdown
}

func turnCost(u model.TokenUsage, price ModelPrice) float64 {
	const perMillion = 1_000_000.0
	return float64(u.InputTokens)/perMillion*price.InputPerMTok +
		float64(u.OutputTokens)/perMillion*price.OutputPerMTok +
		float64(u.CacheReadInputTokens)/perMillion*price.CacheReadPerMTok +
		float64(u.CacheCreationInputTokens)/perMillion*price.CacheCreationPerMTok
}
