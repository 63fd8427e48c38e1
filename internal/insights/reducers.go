package insights

import (
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

var maxRating = decimal.NewFromInt(5)

// SumPax totals adult, child and infant passengers. NULL counts add nothing.
func SumPax(bookings []Booking) int {
	total := 0
	for _, b := range bookings {
		total += paxOf(b.AdultPax) + paxOf(b.ChildPax) + paxOf(b.InfantPax)
	}
	if total < 0 {
		return 0
	}
	return total
}

func paxOf(v pgtype.Int4) int {
	if !v.Valid {
		return 0
	}
	return int(v.Int32)
}

// SumLedger totals the amounts of earning entries only.
func SumLedger(entries []LedgerEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		if e.TransactionType != TransactionTypeEarning {
			continue
		}
		total = total.Add(amountOf(e.Amount))
	}
	return nonNegative(total)
}

// SumDeductions totals every deduction amount.
func SumDeductions(entries []DeductionEntry) decimal.Decimal {
	total := decimal.Zero
	for _, e := range entries {
		total = total.Add(amountOf(e.Amount))
	}
	return nonNegative(total)
}

// SumFees totals the fee of each assignment.
func SumFees(assignments []Assignment) decimal.Decimal {
	total := decimal.Zero
	for _, a := range assignments {
		total = total.Add(amountOf(a.FeeAmount))
	}
	return nonNegative(total)
}

// AverageRating returns the mean of positive guide ratings rounded half away from
// zero to one decimal, together with the number of ratings counted.
func AverageRating(reviews []Review) (float64, int) {
	sum := decimal.Zero
	count := 0
	for _, r := range reviews {
		if !r.GuideRating.Valid || r.GuideRating.Float64 <= 0 {
			continue
		}
		sum = sum.Add(decimal.NewFromFloat(r.GuideRating.Float64))
		count++
	}
	if count == 0 {
		return 0, 0
	}
	avg := sum.Div(decimal.NewFromInt(int64(count))).Round(1)
	if avg.GreaterThan(maxRating) {
		avg = maxRating
	}
	return avg.InexactFloat64(), count
}

func amountOf(v decimal.NullDecimal) decimal.Decimal {
	if !v.Valid {
		return decimal.Zero
	}
	return v.Decimal
}

// nonNegative floors a total at zero; reversals never push a published total below it.
func nonNegative(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
