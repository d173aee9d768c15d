package engine

import (
	"github.com/shopspring/decimal"
)

var dec100 = decimal.NewFromInt(100)

// Evaluation is the proximity fragment of a Status.
type Evaluation struct {
	NearestLevel   *decimal.Decimal
	DistancePct    *decimal.Decimal
	Near           bool
	PriceChangePct *decimal.Decimal
}

// EvaluateLevels selects the level with the smallest percentage distance to
// the price and reports whether it is within the near band. Distance is
// relative to price, not to the level, so a fixed dollar gap weighs the same
// on cheap and expensive stocks. Equidistant levels resolve to the lower one.
// Pure; no I/O.
func EvaluateLevels(price decimal.Decimal, openPrice *decimal.Decimal, levels []decimal.Decimal, nearThresholdPct decimal.Decimal) Evaluation {
	eval := Evaluation{}

	if openPrice != nil && openPrice.Sign() > 0 {
		change := price.Sub(*openPrice).Div(*openPrice).Mul(dec100)
		eval.PriceChangePct = &change
	}

	if price.Sign() <= 0 || len(levels) == 0 {
		return eval
	}

	var nearest decimal.Decimal
	var best decimal.Decimal
	found := false
	for _, level := range levels {
		dist := price.Sub(level).Abs().Div(price).Mul(dec100)
		if !found || dist.LessThan(best) || (dist.Equal(best) && level.LessThan(nearest)) {
			nearest = level
			best = dist
			found = true
		}
	}

	eval.NearestLevel = &nearest
	eval.DistancePct = &best
	eval.Near = best.LessThanOrEqual(nearThresholdPct)
	return eval
}
