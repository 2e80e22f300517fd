package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeoskin/backend/internal/models"
)

func TestApplyRate(t *testing.T) {
	cases := []struct {
		name  string
		gross int64
		rate  string
		want  int64
	}{
		{"hundred euros at 15%", 10000, "0.15", 1500},
		{"half cent rounds up", 1, "0.5", 1},
		{"below half rounds down", 333, "0.15", 50}, // 49.95 -> 50
		{"exact half", 1005, "0.1", 101},            // 100.5 -> 101
		{"just under half", 1004, "0.1", 100},       // 100.4 -> 100
		{"zero rate", 9999, "0", 0},
		{"full rate", 1234, "1", 1234},
		{"zero gross", 0, "0.2", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ApplyRate(tc.gross, decimal.RequireFromString(tc.rate))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestApplyRate_NeverExceedsOneMinorUnit(t *testing.T) {
	rate := decimal.RequireFromString("0.175")
	for gross := int64(0); gross < 2000; gross++ {
		got, err := ApplyRate(gross, rate)
		require.NoError(t, err)
		exact := decimal.NewFromInt(gross).Mul(rate)
		diff := decimal.NewFromInt(got).Sub(exact).Abs()
		require.True(t, diff.LessThanOrEqual(decimal.RequireFromString("0.5")), "gross %d got %d exact %s", gross, got, exact)
	}
}

func TestApplyRate_Rejects(t *testing.T) {
	_, err := ApplyRate(-1, decimal.RequireFromString("0.1"))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = ApplyRate(100, decimal.RequireFromString("1.01"))
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = ApplyRate(100, decimal.RequireFromString("-0.01"))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestParseRate(t *testing.T) {
	r, err := ParseRate(" 0.20 ")
	require.NoError(t, err)
	assert.True(t, r.Equal(decimal.RequireFromString("0.2")))

	_, err = ParseRate("abc")
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestFormatCents(t *testing.T) {
	assert.Equal(t, "€15.00", FormatCents(1500, "EUR"))
	assert.Equal(t, "-€40.00", FormatCents(-4000, "eur"))
	assert.Equal(t, "$0.05", FormatCents(5, "USD"))
	assert.Equal(t, "12.34 SEK", FormatCents(1234, "SEK"))
}

func TestRatio(t *testing.T) {
	assert.True(t, Ratio(1, 3, 4).Equal(decimal.RequireFromString("0.3333")))
	assert.True(t, Ratio(5, 0, 4).IsZero())
}
