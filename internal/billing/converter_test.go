package billing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChargeableTokens(t *testing.T) {
	c := NewConverter(1.5)

	tests := []struct {
		tokens int
		want   int
	}{
		{0, 0},
		{-5, 0},
		{100, 150},
		{101, 152}, // ceiling of 151.5
		{1, 2},     // ceiling of 1.5
		{2, 3},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, c.ChargeableTokens(tt.tokens), "ChargeableTokens(%d)", tt.tokens)
	}
}

func TestNewConverterFallsBackToDefault(t *testing.T) {
	c := NewConverter(0)
	require.Equal(t, 150, c.ChargeableTokens(100))
}

func TestChargeableTokensCustomMultiplier(t *testing.T) {
	c := NewConverter(2)
	require.Equal(t, 14, c.ChargeableTokens(7))
}
