package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/logging"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var fixedNow = time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{fmt.Sprintf("want %s, got %s", want, got)}, msgAndArgs...)...)
}

// newTestManager loads a Manager with a fixed clock and ids "<prefix>-1", "<prefix>-2", ...
func newTestManager(t *testing.T, kv ledger.KV, prefix string) *ledger.Manager {
	t.Helper()
	n := 0
	m := ledger.NewManager(kv,
		ledger.WithLogger(logging.Discard()),
		ledger.WithClock(func() time.Time { return fixedNow }),
		ledger.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("%s-%d", prefix, n)
		}),
	)
	require.NoError(t, m.Load(context.Background()))
	return m
}

// seedPair creates members A and B in a USD group.
func seedPair(t *testing.T, m *ledger.Manager) (a, b ledger.MemberID, g ledger.GroupID) {
	t.Helper()
	ctx := context.Background()
	var err error

	a, _, err = m.AddMember(ctx, ledger.MemberFields{Name: "A", Email: "a@example.com"})
	require.NoError(t, err)
	b, _, err = m.AddMember(ctx, ledger.MemberFields{Name: "B"})
	require.NoError(t, err)
	g, _, err = m.AddGroup(ctx, ledger.GroupFields{
		Name:     "G",
		Type:     ledger.GroupTrip,
		Currency: ledger.USD,
		Members:  []ledger.MemberID{a, b},
	})
	require.NoError(t, err)
	return a, b, g
}

func equalExpense(g ledger.GroupID, amount string, payer ledger.MemberID, between ...ledger.MemberID) ledger.ExpenseFields {
	details, err := ledger.Split(ledger.SplitEqual, dec(amount), between, nil, ledger.USD)
	if err != nil {
		panic(err)
	}
	return ledger.ExpenseFields{
		GroupID:      g,
		Description:  "expense",
		Amount:       dec(amount),
		PaidBy:       []ledger.MemberID{payer},
		SplitBetween: between,
		SplitMode:    ledger.SplitEqual,
		SplitDetails: details,
	}
}
