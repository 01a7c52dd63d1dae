package ledger_test

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/ledger"
)

var abc = []ledger.MemberID{"a", "b", "c"}

// =============================================================================
// EQUAL SPLIT
// =============================================================================

func TestSplit_Equal_RemainderGoesToEarliestMembers(t *testing.T) {
	// GIVEN: 100.00 USD split three ways
	// WHEN: Splitting equally
	// THEN: The extra cent goes to the first member and the sum is exact

	details, err := ledger.Split(ledger.SplitEqual, dec("100.00"), abc, nil, ledger.USD)
	require.NoError(t, err)

	assertDecimal(t, "33.34", details["a"])
	assertDecimal(t, "33.33", details["b"])
	assertDecimal(t, "33.33", details["c"])
	assertDecimal(t, "100", ledger.SumShares(details))
}

func TestSplit_Equal_JPYHasNoMinorUnits(t *testing.T) {
	details, err := ledger.Split(ledger.SplitEqual, dec("10000"), abc, nil, ledger.JPY)
	require.NoError(t, err)

	assertDecimal(t, "3334", details["a"])
	assertDecimal(t, "3333", details["b"])
	assertDecimal(t, "3333", details["c"])
}

func TestSplit_Equal_IgnoresShares(t *testing.T) {
	details, err := ledger.Split(ledger.SplitEqual, dec("10"), []ledger.MemberID{"a", "b"},
		map[ledger.MemberID]decimal.Decimal{"zz": dec("99")}, ledger.USD)
	require.NoError(t, err)
	assert.Len(t, details, 2)
}

// =============================================================================
// PERCENTAGE SPLIT
// =============================================================================

func TestSplit_Percentage_Exact(t *testing.T) {
	details, err := ledger.Split(ledger.SplitPercentage, dec("90.00"), abc, map[ledger.MemberID]decimal.Decimal{
		"a": dec("50"), "b": dec("25"), "c": dec("25"),
	}, ledger.EUR)
	require.NoError(t, err)

	assertDecimal(t, "45", details["a"])
	assertDecimal(t, "22.50", details["b"])
	assertDecimal(t, "22.50", details["c"])
}

func TestSplit_Percentage_LeftoverToLargestRemainder(t *testing.T) {
	// GIVEN: 10.00 split 33.33 / 33.33 / 33.34 percent
	// WHEN: Exact shares are 3.333, 3.333, 3.334
	// THEN: Floors leave one cent, which goes to the largest fraction (c)

	details, err := ledger.Split(ledger.SplitPercentage, dec("10.00"), abc, map[ledger.MemberID]decimal.Decimal{
		"a": dec("33.33"), "b": dec("33.33"), "c": dec("33.34"),
	}, ledger.USD)
	require.NoError(t, err)

	assertDecimal(t, "3.33", details["a"])
	assertDecimal(t, "3.33", details["b"])
	assertDecimal(t, "3.34", details["c"])
	assertDecimal(t, "10", ledger.SumShares(details))
}

func TestSplit_Percentage_MustSumTo100(t *testing.T) {
	_, err := ledger.Split(ledger.SplitPercentage, dec("10"), abc, map[ledger.MemberID]decimal.Decimal{
		"a": dec("50"), "b": dec("25"), "c": dec("20"),
	}, ledger.USD)

	require.Error(t, err)
	assert.True(t, ledger.IsClientError(err))
}

func TestSplit_Percentage_MissingMemberRejected(t *testing.T) {
	_, err := ledger.Split(ledger.SplitPercentage, dec("10"), abc, map[ledger.MemberID]decimal.Decimal{
		"a": dec("50"), "b": dec("50"),
	}, ledger.USD)

	var verr *ledger.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "splitDetails", verr.Field)
}

// =============================================================================
// MANUAL SPLIT
// =============================================================================

func TestSplit_Manual_MustSumToAmount(t *testing.T) {
	// GIVEN: Shares of 40 + 50 for an amount of 100
	// THEN: Rejected, split integrity would be broken

	_, err := ledger.Split(ledger.SplitManual, dec("100"), []ledger.MemberID{"a", "b"}, map[ledger.MemberID]decimal.Decimal{
		"a": dec("40"), "b": dec("50"),
	}, ledger.USD)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	details, err := ledger.Split(ledger.SplitManual, dec("100"), []ledger.MemberID{"a", "b"}, map[ledger.MemberID]decimal.Decimal{
		"a": dec("40"), "b": dec("60"),
	}, ledger.USD)
	require.NoError(t, err)
	assertDecimal(t, "60", details["b"])
}

func TestSplit_Manual_ZeroShareAllowed_NegativeRejected(t *testing.T) {
	_, err := ledger.Split(ledger.SplitManual, dec("10"), []ledger.MemberID{"a", "b"}, map[ledger.MemberID]decimal.Decimal{
		"a": dec("10"), "b": dec("0"),
	}, ledger.USD)
	assert.NoError(t, err)

	_, err = ledger.Split(ledger.SplitManual, dec("10"), []ledger.MemberID{"a", "b"}, map[ledger.MemberID]decimal.Decimal{
		"a": dec("11"), "b": dec("-1"),
	}, ledger.USD)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestSplit_Manual_TooManyDecimalPlaces(t *testing.T) {
	_, err := ledger.Split(ledger.SplitManual, dec("10"), []ledger.MemberID{"a", "b"}, map[ledger.MemberID]decimal.Decimal{
		"a": dec("5.005"), "b": dec("4.995"),
	}, ledger.USD)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

// =============================================================================
// COMMON CHECKS
// =============================================================================

func TestSplit_RejectsBadMembership(t *testing.T) {
	tests := []struct {
		name    string
		mode    ledger.SplitMode
		between []ledger.MemberID
		shares  map[ledger.MemberID]decimal.Decimal
	}{
		{"empty", ledger.SplitEqual, nil, nil},
		{"duplicate", ledger.SplitEqual, []ledger.MemberID{"a", "a"}, nil},
		{"share outside splitBetween", ledger.SplitManual, []ledger.MemberID{"a"},
			map[ledger.MemberID]decimal.Decimal{"a": dec("5"), "x": dec("5")}},
		{"unknown mode", ledger.SplitMode("weighted"), []ledger.MemberID{"a"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ledger.Split(tt.mode, dec("10"), tt.between, tt.shares, ledger.USD)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestSplit_NonPositiveAmountRejected(t *testing.T) {
	_, err := ledger.Split(ledger.SplitEqual, dec("0"), abc, nil, ledger.USD)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = ledger.Split(ledger.SplitEqual, dec("-5"), abc, nil, ledger.USD)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestPayerShares_EqualWithRemainder(t *testing.T) {
	shares := ledger.PayerShares(dec("100.01"), []ledger.MemberID{"a", "b"}, 2)

	assertDecimal(t, "50.01", shares["a"])
	assertDecimal(t, "50.00", shares["b"])
}

func TestSplit_AlwaysSumsToAmount(t *testing.T) {
	// GIVEN: Random amounts and member counts
	// THEN: Equal and percentage splits always sum exactly to the amount

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		n := 1 + rng.Intn(7)
		between := make([]ledger.MemberID, n)
		shares := make(map[ledger.MemberID]decimal.Decimal, n)
		remaining := int64(10000)
		for j := range between {
			between[j] = ledger.MemberID(string(rune('a' + j)))
			pct := int64(1)
			if j == n-1 {
				pct = remaining
			} else if remaining-int64(n-j-1) > 1 {
				pct = 1 + rng.Int63n(remaining-int64(n-j-1))
			}
			remaining -= pct
			shares[between[j]] = decimal.New(pct, -2)
		}
		amount := decimal.New(1+rng.Int63n(1_000_000), -2)

		equal, err := ledger.Split(ledger.SplitEqual, amount, between, nil, ledger.USD)
		require.NoError(t, err)
		assert.True(t, amount.Equal(ledger.SumShares(equal)), "equal split of %s", amount)

		pct, err := ledger.Split(ledger.SplitPercentage, amount, between, shares, ledger.USD)
		require.NoError(t, err)
		assert.True(t, amount.Equal(ledger.SumShares(pct)), "percentage split of %s", amount)
	}
}
