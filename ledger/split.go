package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SPLIT RULES - Turn an amount and raw shares into per-member amounts owed
// =============================================================================
//
// All allocation happens in integer minor units (cents, or yen for JPY) so
// the result always sums exactly to the amount. Leftover units from
// rounding are handed out one at a time in a deterministic order.

var hundred = decimal.NewFromInt(100)

// Split computes SplitDetails for an expense.
//
//	equal:      shares is ignored
//	percentage: shares are percentages, each > 0, summing to exactly 100
//	manual:     shares are amounts, each >= 0, summing to exactly amount
func Split(mode SplitMode, amount decimal.Decimal, between []MemberID, shares map[MemberID]decimal.Decimal, currency Currency) (map[MemberID]decimal.Decimal, error) {
	if !amount.IsPositive() {
		return nil, invalid("amount", "must be positive, got %s", amount)
	}
	if len(between) == 0 {
		return nil, invalid("splitBetween", "at least one member is required")
	}
	seen := make(map[MemberID]bool, len(between))
	for _, id := range between {
		if id == "" {
			return nil, invalid("splitBetween", "member id is empty")
		}
		if seen[id] {
			return nil, invalid("splitBetween", "member %s listed twice", id)
		}
		seen[id] = true
	}
	if mode != SplitEqual {
		for id := range shares {
			if !seen[id] {
				return nil, invalid("splitDetails", "member %s is not in splitBetween", id)
			}
		}
	}

	switch mode {
	case SplitEqual:
		return splitEqual(amount, between, allocationPlaces(amount, currency)), nil
	case SplitPercentage:
		return splitPercentage(amount, between, shares, allocationPlaces(amount, currency))
	case SplitManual:
		return splitManual(amount, between, shares, currency)
	default:
		return nil, invalid("splitMode", "unknown mode %q", mode)
	}
}

// PayerShares divides amount equally among payers, remainder units to the
// earliest payers. Payer credit ignores the split mode.
func PayerShares(amount decimal.Decimal, payers []MemberID, places int32) map[MemberID]decimal.Decimal {
	if len(payers) == 0 {
		return map[MemberID]decimal.Decimal{}
	}
	if p := -amount.Exponent(); p > places {
		places = p
	}
	return splitEqual(amount, payers, places)
}

// allocationPlaces is the currency precision, widened when a legacy amount
// carries more places than its currency.
func allocationPlaces(amount decimal.Decimal, c Currency) int32 {
	places := c.Places()
	if p := -amount.Exponent(); p > places {
		places = p
	}
	return places
}

func toUnits(d decimal.Decimal, places int32) int64 {
	return d.Shift(places).Truncate(0).IntPart()
}

func fromUnits(units int64, places int32) decimal.Decimal {
	return decimal.New(units, -places)
}

func splitEqual(amount decimal.Decimal, members []MemberID, places int32) map[MemberID]decimal.Decimal {
	total := toUnits(amount, places)
	n := int64(len(members))
	base, rem := total/n, total%n

	out := make(map[MemberID]decimal.Decimal, len(members))
	for i, id := range members {
		units := base
		if int64(i) < rem {
			units++
		}
		out[id] = fromUnits(units, places)
	}
	return out
}

func splitPercentage(amount decimal.Decimal, between []MemberID, shares map[MemberID]decimal.Decimal, places int32) (map[MemberID]decimal.Decimal, error) {
	sum := decimal.Zero
	for _, id := range between {
		pct, ok := shares[id]
		if !ok {
			return nil, invalid("splitDetails", "missing percentage for member %s", id)
		}
		if !pct.IsPositive() {
			return nil, invalid("splitDetails", "percentage for member %s must be positive", id)
		}
		sum = sum.Add(pct)
	}
	if !sum.Equal(hundred) {
		return nil, invalid("splitDetails", "percentages sum to %s, want 100", sum)
	}

	total := toUnits(amount, places)
	type part struct {
		idx   int
		units int64
		frac  decimal.Decimal
	}
	parts := make([]part, len(between))
	assigned := int64(0)
	for i, id := range between {
		exact := decimal.NewFromInt(total).Mul(shares[id]).Div(hundred)
		floor := exact.Floor()
		parts[i] = part{idx: i, units: floor.IntPart(), frac: exact.Sub(floor)}
		assigned += parts[i].units
	}

	order := make([]part, len(parts))
	copy(order, parts)
	sort.SliceStable(order, func(a, b int) bool {
		return order[a].frac.GreaterThan(order[b].frac)
	})
	for left := total - assigned; left > 0; left-- {
		parts[order[0].idx].units++
		order = append(order[1:], order[0])
	}

	out := make(map[MemberID]decimal.Decimal, len(between))
	for i, id := range between {
		out[id] = fromUnits(parts[i].units, places)
	}
	return out, nil
}

func splitManual(amount decimal.Decimal, between []MemberID, shares map[MemberID]decimal.Decimal, currency Currency) (map[MemberID]decimal.Decimal, error) {
	out := make(map[MemberID]decimal.Decimal, len(between))
	sum := decimal.Zero
	for _, id := range between {
		v, ok := shares[id]
		if !ok {
			return nil, invalid("splitDetails", "missing amount for member %s", id)
		}
		if v.IsNegative() {
			return nil, invalid("splitDetails", "amount for member %s is negative", id)
		}
		if !FitsCurrency(v, currency) {
			return nil, invalid("splitDetails", "amount for member %s has more than %d decimal places", id, currency.Places())
		}
		out[id] = v
		sum = sum.Add(v)
	}
	if !sum.Equal(amount) {
		return nil, invalid("splitDetails", "amounts sum to %s, want %s", sum, amount)
	}
	return out, nil
}

// SumShares adds up a SplitDetails map.
func SumShares(details map[MemberID]decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range details {
		sum = sum.Add(v)
	}
	return sum
}
