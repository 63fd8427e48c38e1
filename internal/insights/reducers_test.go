package insights

import (
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func money(v string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(v))
}

func rating(v float64) pgtype.Float8 {
	return pgtype.Float8{Float64: v, Valid: true}
}

func TestSumPaxTreatsNullAsZero(t *testing.T) {
	bookings := []Booking{
		{AdultPax: pax(2), ChildPax: pax(1)},
		{AdultPax: pax(1), InfantPax: pax(1)},
		{},
	}
	assert.Equal(t, 5, SumPax(bookings))
	assert.Equal(t, 0, SumPax(nil))
}

func TestSumLedgerCountsEarningsOnly(t *testing.T) {
	entries := []LedgerEntry{
		{Amount: money("150000.50"), TransactionType: TransactionTypeEarning},
		{Amount: money("99999"), TransactionType: "withdrawal"},
		{Amount: decimal.NullDecimal{}, TransactionType: TransactionTypeEarning},
		{Amount: money("49999.50"), TransactionType: TransactionTypeEarning},
	}
	assert.True(t, decimal.RequireFromString("200000").Equal(SumLedger(entries)))
	assert.True(t, SumLedger(nil).IsZero())
}

func TestSumDeductionsIsUnconditional(t *testing.T) {
	entries := []DeductionEntry{{Amount: money("10000")}, {Amount: money("2500.25")}, {}}
	assert.Equal(t, "12500.25", SumDeductions(entries).String())
}

func TestSumsNeverGoNegative(t *testing.T) {
	entries := []DeductionEntry{{Amount: money("-500")}, {Amount: money("100")}}
	assert.True(t, SumDeductions(entries).IsZero())
}

func TestAverageRating(t *testing.T) {
	cases := []struct {
		name      string
		reviews   []Review
		wantAvg   float64
		wantCount int
	}{
		{"none", nil, 0, 0},
		{"only unrated", []Review{{}, {GuideRating: rating(0)}}, 0, 0},
		{"single", []Review{{GuideRating: rating(4)}}, 4.0, 1},
		{"rounds half away from zero", []Review{{GuideRating: rating(4)}, {GuideRating: rating(4)}, {GuideRating: rating(4.5)}, {GuideRating: rating(4.5)}}, 4.3, 4},
		{"thirds", []Review{{GuideRating: rating(5)}, {GuideRating: rating(4)}, {GuideRating: rating(4)}}, 4.3, 3},
		{"ignores nulls", []Review{{GuideRating: rating(5)}, {}, {GuideRating: rating(3)}}, 4.0, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			avg, count := AverageRating(tc.reviews)
			assert.Equal(t, tc.wantAvg, avg)
			assert.Equal(t, tc.wantCount, count)
			assert.GreaterOrEqual(t, avg, 0.0)
			assert.LessOrEqual(t, avg, 5.0)
		})
	}
}
