package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestPercentRoundsHalfUp(t *testing.T) {
	tests := []struct {
		amount string
		pct    string
		want   string
	}{
		{"100000", "2", "2000"},
		{"12.25", "2", "0.25"},  // 0.245 -> 0.25
		{"12.75", "2", "0.26"},  // 0.255 -> 0.26
		{"100000", "20", "20000"},
		{"333.33", "20", "66.67"}, // 66.666 -> 66.67
	}

	for _, tt := range tests {
		got := Percent(decimal.RequireFromString(tt.amount), decimal.RequireFromString(tt.pct))
		assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "%s%% of %s = %s", tt.pct, tt.amount, got)
	}
}

func TestMinAndIsPositive(t *testing.T) {
	assert.True(t, Min(New(5), New(3)).Equal(New(3)))
	assert.True(t, Min(New(2), New(3)).Equal(New(2)))
	assert.False(t, IsPositive(Zero))
	assert.True(t, IsPositive(New(1)))
}
