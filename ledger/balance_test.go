package ledger_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func stateWithGroup(currency ledger.Currency, members ...ledger.MemberID) ledger.State {
	s := ledger.NewState()
	for _, id := range members {
		s.Members = append(s.Members, ledger.Member{ID: id, Name: string(id)})
	}
	s.Groups = append(s.Groups, ledger.Group{
		ID:       "g",
		Name:     "G",
		Type:     ledger.GroupOthers,
		Currency: currency,
		Members:  append([]ledger.MemberID{}, members...),
	})
	return s
}

func addExpense(t *testing.T, s *ledger.State, amount string, paidBy []ledger.MemberID, mode ledger.SplitMode, between []ledger.MemberID, shares map[ledger.MemberID]decimal.Decimal) {
	t.Helper()
	group, ok := s.Group("g")
	require.True(t, ok)
	details, err := ledger.Split(mode, dec(amount), between, shares, group.Currency)
	require.NoError(t, err)
	s.Expenses = append(s.Expenses, ledger.Expense{
		ID:           ledger.ExpenseID(fmt.Sprintf("e%d", len(s.Expenses)+1)),
		GroupID:      "g",
		Description:  "expense",
		Amount:       dec(amount),
		PaidBy:       paidBy,
		SplitBetween: between,
		SplitMode:    mode,
		SplitDetails: details,
	})
}

func addSettlement(s *ledger.State, from, to ledger.MemberID, amount string) {
	s.Settlements = append(s.Settlements, ledger.Settlement{
		ID:           ledger.SettlementID(fmt.Sprintf("s%d", len(s.Settlements)+1)),
		GroupID:      "g",
		FromMemberID: from,
		ToMemberID:   to,
		Amount:       dec(amount),
	})
}

func assertBalancesEqual(t *testing.T, want, got map[ledger.MemberID]ledger.Balance) {
	t.Helper()
	require.Len(t, got, len(want))
	for id, w := range want {
		g, ok := got[id]
		require.True(t, ok, "missing balance for %s", id)
		assert.True(t, w.Owes.Equal(g.Owes), "%s owes: want %s, got %s", id, w.Owes, g.Owes)
		assert.True(t, w.Owed.Equal(g.Owed), "%s owed: want %s, got %s", id, w.Owed, g.Owed)
		assert.True(t, w.Net.Equal(g.Net), "%s net: want %s, got %s", id, w.Net, g.Net)
	}
}

// =============================================================================
// BALANCES
// =============================================================================

func TestComputeBalances_SingleExpense(t *testing.T) {
	// GIVEN: A pays 100, split equally with B
	// WHEN: Computing balances
	// THEN: A is owed 50 net, B owes 50 net

	s := stateWithGroup(ledger.USD, "a", "b")
	addExpense(t, &s, "100", []ledger.MemberID{"a"}, ledger.SplitEqual, []ledger.MemberID{"a", "b"}, nil)

	balances, ok := ledger.ComputeBalances(s, "g")
	require.True(t, ok)

	assertDecimal(t, "100", balances["a"].Owed)
	assertDecimal(t, "50", balances["a"].Owes)
	assertDecimal(t, "50", balances["a"].Net)
	assertDecimal(t, "0", balances["b"].Owed)
	assertDecimal(t, "50", balances["b"].Owes)
	assertDecimal(t, "-50", balances["b"].Net)
}

func TestComputeBalances_SettlementClearsDebt(t *testing.T) {
	// GIVEN: A pays 100 split with B, then B settles 50 to A
	// THEN: Both nets are zero; B owes nothing, A's credit drops to 50

	s := stateWithGroup(ledger.USD, "a", "b")
	addExpense(t, &s, "100", []ledger.MemberID{"a"}, ledger.SplitEqual, []ledger.MemberID{"a", "b"}, nil)
	addSettlement(&s, "b", "a", "50")

	balances, ok := ledger.ComputeBalances(s, "g")
	require.True(t, ok)

	assertDecimal(t, "0", balances["a"].Net)
	assertDecimal(t, "0", balances["b"].Net)
	assertDecimal(t, "50", balances["a"].Owed)
	assertDecimal(t, "0", balances["b"].Owes)
}

func TestComputeBalances_UnknownGroup(t *testing.T) {
	_, ok := ledger.ComputeBalances(ledger.NewState(), "nope")
	assert.False(t, ok)
}

func TestComputeBalances_MembersWithoutActivityAreZero(t *testing.T) {
	s := stateWithGroup(ledger.EUR, "a", "b", "c")
	addExpense(t, &s, "10", []ledger.MemberID{"a"}, ledger.SplitEqual, []ledger.MemberID{"a", "b"}, nil)

	balances, ok := ledger.ComputeBalances(s, "g")
	require.True(t, ok)

	require.Contains(t, balances, ledger.MemberID("c"))
	assert.True(t, balances["c"].Net.IsZero())
}

func TestComputeBalances_MultiplePayersCreditedEqually(t *testing.T) {
	// GIVEN: 45.50 paid jointly by c and a, split three ways
	// THEN: c is credited 22.75, a is credited 22.75

	s := stateWithGroup(ledger.EUR, "a", "b", "c")
	addExpense(t, &s, "45.50", []ledger.MemberID{"c", "a"}, ledger.SplitEqual, []ledger.MemberID{"a", "b", "c"}, nil)

	balances, _ := ledger.ComputeBalances(s, "g")

	assertDecimal(t, "22.75", balances["c"].Owed)
	assertDecimal(t, "22.75", balances["a"].Owed)
	assertDecimal(t, "0", ledger.SumNet(balances))
}

func TestComputeBalances_OutsiderGetsOwnEntry(t *testing.T) {
	// GIVEN: An expense that references an id no longer in group.Members
	// THEN: The id still gets a balance and the nets still sum to zero

	s := stateWithGroup(ledger.USD, "a", "b")
	addExpense(t, &s, "30", []ledger.MemberID{"a"}, ledger.SplitEqual, []ledger.MemberID{"a", "b"}, nil)
	s.Groups[0].Members = []ledger.MemberID{"a"}

	balances, _ := ledger.ComputeBalances(s, "g")

	require.Contains(t, balances, ledger.MemberID("b"))
	assertDecimal(t, "-15", balances["b"].Net)
	assertDecimal(t, "0", ledger.SumNet(balances))
}

func TestComputeBalances_SettlementOnlyTouchesItsMembers(t *testing.T) {
	// GIVEN: A three-way group with debts
	// WHEN: c settles 10 to a
	// THEN: c.Owes and a.Owed drop by 10, b is unchanged

	s := stateWithGroup(ledger.USD, "a", "b", "c")
	addExpense(t, &s, "90", []ledger.MemberID{"a"}, ledger.SplitEqual, []ledger.MemberID{"a", "b", "c"}, nil)
	before, _ := ledger.ComputeBalances(s, "g")

	addSettlement(&s, "c", "a", "10")
	after, _ := ledger.ComputeBalances(s, "g")

	assert.True(t, before["c"].Owes.Sub(dec("10")).Equal(after["c"].Owes))
	assert.True(t, before["a"].Owed.Sub(dec("10")).Equal(after["a"].Owed))
	assert.True(t, before["c"].Net.Add(dec("10")).Equal(after["c"].Net))
	assert.True(t, before["a"].Net.Sub(dec("10")).Equal(after["a"].Net))
	assertBalancesEqual(t,
		map[ledger.MemberID]ledger.Balance{"b": before["b"]},
		map[ledger.MemberID]ledger.Balance{"b": after["b"]})
}

// =============================================================================
// PROPERTIES
// =============================================================================

func randomState(t *testing.T, rng *rand.Rand) ledger.State {
	t.Helper()
	members := []ledger.MemberID{"m1", "m2", "m3", "m4", "m5"}
	s := stateWithGroup(ledger.USD, members...)

	for i := 0; i < 20; i++ {
		between := pick(rng, members)
		payers := pick(rng, members)
		amount := decimal.New(1+rng.Int63n(100_000), -2).String()

		switch rng.Intn(3) {
		case 0:
			addExpense(t, &s, amount, payers, ledger.SplitEqual, between, nil)
		case 1:
			shares := make(map[ledger.MemberID]decimal.Decimal, len(between))
			left := int64(100)
			for j, id := range between {
				pct := left
				if j < len(between)-1 {
					pct = 1 + rng.Int63n(left-int64(len(between)-j-1))
				}
				left -= pct
				shares[id] = decimal.NewFromInt(pct)
			}
			addExpense(t, &s, amount, payers, ledger.SplitPercentage, between, shares)
		default:
			equal, err := ledger.Split(ledger.SplitEqual, dec(amount), between, nil, ledger.USD)
			require.NoError(t, err)
			addExpense(t, &s, amount, payers, ledger.SplitManual, between, equal)
		}
	}
	for i := 0; i < 5; i++ {
		pair := pick(rng, members)
		if len(pair) < 2 {
			continue
		}
		addSettlement(&s, pair[0], pair[1], decimal.New(1+rng.Int63n(5_000), -2).String())
	}
	return s
}

// pick returns a random non-empty subset in random order.
func pick(rng *rand.Rand, ids []ledger.MemberID) []ledger.MemberID {
	shuffled := append([]ledger.MemberID{}, ids...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	return shuffled[:1+rng.Intn(len(shuffled))]
}

func TestComputeBalances_NetsSumToZero(t *testing.T) {
	// GIVEN: Random groups with every split mode and settlements
	// THEN: The nets of every group sum to exactly zero

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		s := randomState(t, rng)
		balances, ok := ledger.ComputeBalances(s, "g")
		require.True(t, ok)
		assert.True(t, ledger.SumNet(balances).IsZero(), "run %d: sum is %s", i, ledger.SumNet(balances))
	}
}

func TestComputeBalances_OrderIndependent(t *testing.T) {
	// GIVEN: The same expenses and settlements in a different order
	// THEN: Balances are identical

	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 25; i++ {
		s := randomState(t, rng)
		want, _ := ledger.ComputeBalances(s, "g")

		shuffled := s.Clone()
		rng.Shuffle(len(shuffled.Expenses), func(i, j int) {
			shuffled.Expenses[i], shuffled.Expenses[j] = shuffled.Expenses[j], shuffled.Expenses[i]
		})
		rng.Shuffle(len(shuffled.Settlements), func(i, j int) {
			shuffled.Settlements[i], shuffled.Settlements[j] = shuffled.Settlements[j], shuffled.Settlements[i]
		})
		got, _ := ledger.ComputeBalances(shuffled, "g")

		assertBalancesEqual(t, want, got)
	}
}

// =============================================================================
// DEBT SIMPLIFICATION
// =============================================================================

func TestSimplifyDebts_LargestFirst(t *testing.T) {
	// GIVEN: a is owed 50, b owes 30, c owes 20
	// THEN: b pays a 30 and c pays a 20

	balances := map[ledger.MemberID]ledger.Balance{
		"a": {Net: dec("50")},
		"b": {Net: dec("-30")},
		"c": {Net: dec("-20")},
	}

	transfers := ledger.SimplifyDebts(balances, 2)

	require.Len(t, transfers, 2)
	assert.Equal(t, ledger.MemberID("b"), transfers[0].From)
	assert.Equal(t, ledger.MemberID("a"), transfers[0].To)
	assertDecimal(t, "30", transfers[0].Amount)
	assert.Equal(t, ledger.MemberID("c"), transfers[1].From)
	assertDecimal(t, "20", transfers[1].Amount)
}

func TestSimplifyDebts_SettlesEveryRandomGroup(t *testing.T) {
	// GIVEN: Random balances
	// WHEN: Applying the suggested transfers
	// THEN: Every net goes to zero

	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 50; i++ {
		s := randomState(t, rng)
		balances, _ := ledger.ComputeBalances(s, "g")

		net := make(map[ledger.MemberID]decimal.Decimal, len(balances))
		for id, b := range balances {
			net[id] = b.Net
		}
		for _, tr := range ledger.SimplifyDebts(balances, 2) {
			assert.True(t, tr.Amount.IsPositive())
			net[tr.From] = net[tr.From].Add(tr.Amount)
			net[tr.To] = net[tr.To].Sub(tr.Amount)
		}
		for id, v := range net {
			assert.True(t, v.IsZero(), "run %d: %s left with %s", i, id, v)
		}
	}
}

func TestSimplifyDebts_NothingOwed(t *testing.T) {
	balances := map[ledger.MemberID]ledger.Balance{
		"a": {Net: decimal.Zero},
		"b": {Net: dec("0.001")},
	}
	assert.Empty(t, ledger.SimplifyDebts(balances, 2))
}
