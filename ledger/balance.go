/*
balance.go - Per-member balances within a group

PURPOSE:
  Derives who owes whom from the State. Nothing is cached: balances are
  recomputed from the full list of expenses and settlements each time.

ALGORITHM (ComputeBalances):
  1. Resolve the group. Unknown group returns ok=false.
  2. Seed a zero Balance for each member of the group.
  3. For each expense in the group:
       Owed[payer] += equal share of Amount among PaidBy
       Owes[member] += SplitDetails[member]
  4. For each settlement in the group:
       Owes[from] -= Amount
       Owed[to]   -= Amount
  5. Net = Owed - Owes

  Every step is addition or subtraction per member, so the processing
  order of expenses and settlements does not change the result.

CONSERVATION:
  Payer shares sum exactly to Amount and SplitDetails sums exactly to
  Amount, so the nets of a group always sum to zero. Ids that appear in
  expenses but not in group.Members (older data) get their own entry
  rather than being dropped, so the sum still holds.

SEE ALSO:
  - split.go: how SplitDetails and payer shares are allocated
*/
package ledger

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Balance is one member's position inside a group.
//
//	Owed: gross amount credited (paid on behalf of others)
//	Owes: gross amount debited (consumed)
//	Net:  Owed - Owes. Positive means the member should receive money.
type Balance struct {
	Owes decimal.Decimal `json:"owes"`
	Owed decimal.Decimal `json:"owed"`
	Net  decimal.Decimal `json:"net"`
}

// ComputeBalances returns balances for every member of the group.
// ok is false when the group does not exist.
func ComputeBalances(state State, groupID GroupID) (map[MemberID]Balance, bool) {
	group, ok := state.Group(groupID)
	if !ok {
		return nil, false
	}

	owes := make(map[MemberID]decimal.Decimal, len(group.Members))
	owed := make(map[MemberID]decimal.Decimal, len(group.Members))
	touch := func(id MemberID) {
		if _, ok := owes[id]; !ok {
			owes[id] = decimal.Zero
			owed[id] = decimal.Zero
		}
	}
	for _, id := range group.Members {
		touch(id)
	}

	places := group.Currency.Places()
	for _, e := range state.GroupExpenses(groupID) {
		if len(e.PaidBy) == 0 {
			continue
		}
		for p, share := range PayerShares(e.Amount, e.PaidBy, places) {
			touch(p)
			owed[p] = owed[p].Add(share)
		}
		for m, share := range e.SplitDetails {
			touch(m)
			owes[m] = owes[m].Add(share)
		}
	}

	for _, s := range state.GroupSettlements(groupID) {
		touch(s.FromMemberID)
		touch(s.ToMemberID)
		owes[s.FromMemberID] = owes[s.FromMemberID].Sub(s.Amount)
		owed[s.ToMemberID] = owed[s.ToMemberID].Sub(s.Amount)
	}

	out := make(map[MemberID]Balance, len(owes))
	for id := range owes {
		out[id] = Balance{
			Owes: owes[id],
			Owed: owed[id],
			Net:  owed[id].Sub(owes[id]),
		}
	}
	return out, true
}

// =============================================================================
// DEBT SIMPLIFICATION
// =============================================================================

// Transfer is a suggested payment that moves balances toward zero.
type Transfer struct {
	From   MemberID        `json:"from"`
	To     MemberID        `json:"to"`
	Amount decimal.Decimal `json:"amount"`
}

// SimplifyDebts matches debtors to creditors greedily, largest first.
// Amounts below one minor unit are ignored. Ties are ordered by member id
// so the output is stable.
func SimplifyDebts(balances map[MemberID]Balance, places int32) []Transfer {
	type position struct {
		id     MemberID
		amount decimal.Decimal
	}
	unit := decimal.New(1, -places)

	var debtors, creditors []position
	for id, b := range balances {
		switch {
		case b.Net.GreaterThanOrEqual(unit):
			creditors = append(creditors, position{id, b.Net})
		case b.Net.Neg().GreaterThanOrEqual(unit):
			debtors = append(debtors, position{id, b.Net.Neg()})
		}
	}
	byAmount := func(ps []position) {
		sort.Slice(ps, func(i, j int) bool {
			if !ps[i].amount.Equal(ps[j].amount) {
				return ps[i].amount.GreaterThan(ps[j].amount)
			}
			return ps[i].id < ps[j].id
		})
	}
	byAmount(debtors)
	byAmount(creditors)

	var transfers []Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := decimal.Min(debtors[i].amount, creditors[j].amount)
		if amount.GreaterThanOrEqual(unit) {
			transfers = append(transfers, Transfer{
				From:   debtors[i].id,
				To:     creditors[j].id,
				Amount: amount,
			})
		}
		debtors[i].amount = debtors[i].amount.Sub(amount)
		creditors[j].amount = creditors[j].amount.Sub(amount)
		if debtors[i].amount.LessThan(unit) {
			i++
		}
		if creditors[j].amount.LessThan(unit) {
			j++
		}
	}
	return transfers
}

// SumNet adds the nets of all balances. Zero for any consistent group.
func SumNet(balances map[MemberID]Balance) decimal.Decimal {
	sum := decimal.Zero
	for _, b := range balances {
		sum = sum.Add(b.Net)
	}
	return sum
}
