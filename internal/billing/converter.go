package billing

import (
	"github.com/shopspring/decimal"
)

// DefaultTokenMultiplier is the markup applied to raw model tokens when
// computing the user-facing chargeable amount.
const DefaultTokenMultiplier = 1.5

// Converter turns raw token counts (estimated or actual) into chargeable
// token amounts. The same converter is applied to the pre-flight estimate
// and to the post-call usage figure; the two results may legitimately differ.
type Converter struct {
	multiplier decimal.Decimal
}

func NewConverter(multiplier float64) *Converter {
	if multiplier <= 0 {
		multiplier = DefaultTokenMultiplier
	}
	return &Converter{multiplier: decimal.NewFromFloat(multiplier)}
}

// ChargeableTokens returns ceil(tokens * multiplier).
func (c *Converter) ChargeableTokens(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	return int(decimal.NewFromInt(int64(tokens)).Mul(c.multiplier).Ceil().IntPart())
}
