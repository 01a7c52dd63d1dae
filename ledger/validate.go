package ledger

import (
	"net/mail"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// VALIDATION - Invariants checked against the next State before it is saved
// =============================================================================
//
// Every check runs on the candidate State the mutation produced. If any
// check fails the mutation is dropped and nothing is persisted.

func validateMember(m Member) error {
	if strings.TrimSpace(m.Name) == "" {
		return invalid("name", "is required")
	}
	if m.Email != "" {
		if _, err := mail.ParseAddress(m.Email); err != nil {
			return invalid("email", "%q is not an email address", m.Email)
		}
	}
	return nil
}

// ValidateGroup checks a group against the members that exist in state.
func ValidateGroup(state State, g Group) error {
	if strings.TrimSpace(g.Name) == "" {
		return invalid("name", "is required")
	}
	if !g.Currency.Valid() {
		return invalid("currency", "unsupported currency %q (supported: %s)", g.Currency, currencyList())
	}
	seen := make(map[MemberID]bool, len(g.Members))
	for _, id := range g.Members {
		if seen[id] {
			return invalid("members", "member %s listed twice", id)
		}
		seen[id] = true
		if _, ok := state.Member(id); !ok {
			return invalid("members", "unknown member %s", id)
		}
	}
	return nil
}

// ValidateExpense checks an expense against its group.
func ValidateExpense(state State, e Expense) error {
	group, ok := state.Group(e.GroupID)
	if !ok {
		return invalid("groupId", "unknown group %s", e.GroupID)
	}
	if strings.TrimSpace(e.Description) == "" {
		return invalid("description", "is required")
	}
	if err := validateAmount("amount", e.Amount, group.Currency); err != nil {
		return err
	}
	if !e.SplitMode.Valid() {
		return invalid("splitMode", "unknown mode %q", e.SplitMode)
	}
	if len(e.PaidBy) == 0 {
		return invalid("paidBy", "at least one payer is required")
	}
	if err := checkMembers("paidBy", group, e.PaidBy); err != nil {
		return err
	}
	if len(e.SplitBetween) == 0 {
		return invalid("splitBetween", "at least one member is required")
	}
	if err := checkMembers("splitBetween", group, e.SplitBetween); err != nil {
		return err
	}
	for id, share := range e.SplitDetails {
		if !contains(e.SplitBetween, id) {
			return invalid("splitDetails", "member %s is not in splitBetween", id)
		}
		if share.IsNegative() {
			return invalid("splitDetails", "amount for member %s is negative", id)
		}
	}
	if sum := SumShares(e.SplitDetails); !sum.Equal(e.Amount) {
		return invalid("splitDetails", "shares sum to %s, want %s", sum, e.Amount)
	}
	return nil
}

// ValidateSettlement checks a settlement against the balances of its group
// as they stand without it. A settlement may not move more than the payer
// owes or more than the payee is owed.
func ValidateSettlement(state State, s Settlement) error {
	group, ok := state.Group(s.GroupID)
	if !ok {
		return invalid("groupId", "unknown group %s", s.GroupID)
	}
	if s.FromMemberID == s.ToMemberID {
		return invalid("toMemberId", "cannot settle with yourself")
	}
	if err := checkMembers("fromMemberId", group, []MemberID{s.FromMemberID}); err != nil {
		return err
	}
	if err := checkMembers("toMemberId", group, []MemberID{s.ToMemberID}); err != nil {
		return err
	}
	if err := validateAmount("amount", s.Amount, group.Currency); err != nil {
		return err
	}

	without := state
	without.Settlements = make([]Settlement, 0, len(state.Settlements))
	for _, existing := range state.Settlements {
		if existing.ID != s.ID {
			without.Settlements = append(without.Settlements, existing)
		}
	}
	balances, _ := ComputeBalances(without, s.GroupID)
	if debt := balances[s.FromMemberID].Net.Neg(); s.Amount.GreaterThan(debt) {
		return invalid("amount", "%s exceeds what %s owes (%s)", s.Amount, s.FromMemberID, nonNegative(debt))
	}
	if credit := balances[s.ToMemberID].Net; s.Amount.GreaterThan(credit) {
		return invalid("amount", "%s exceeds what %s is owed (%s)", s.Amount, s.ToMemberID, nonNegative(credit))
	}
	return nil
}

// Check verifies whole-state invariants: unique ids per entity kind and
// split integrity of every expense.
func (s State) Check() error {
	members := make(map[MemberID]bool, len(s.Members))
	for _, m := range s.Members {
		if members[m.ID] {
			return invalid("members", "duplicate id %s", m.ID)
		}
		members[m.ID] = true
	}
	groups := make(map[GroupID]bool, len(s.Groups))
	for _, g := range s.Groups {
		if groups[g.ID] {
			return invalid("groups", "duplicate id %s", g.ID)
		}
		groups[g.ID] = true
	}
	expenses := make(map[ExpenseID]bool, len(s.Expenses))
	for _, e := range s.Expenses {
		if expenses[e.ID] {
			return invalid("expenses", "duplicate id %s", e.ID)
		}
		expenses[e.ID] = true
		if sum := SumShares(e.SplitDetails); !sum.Equal(e.Amount) {
			return invalid("splitDetails", "expense %s shares sum to %s, want %s", e.ID, sum, e.Amount)
		}
	}
	settlements := make(map[SettlementID]bool, len(s.Settlements))
	for _, st := range s.Settlements {
		if settlements[st.ID] {
			return invalid("settlements", "duplicate id %s", st.ID)
		}
		settlements[st.ID] = true
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func validateAmount(field string, amount decimal.Decimal, c Currency) error {
	if !amount.IsPositive() {
		return invalid(field, "must be positive, got %s", amount)
	}
	if !FitsCurrency(amount, c) {
		return invalid(field, "%s has more than %d decimal places for %s", amount, c.Places(), c)
	}
	return nil
}

func checkMembers(field string, g Group, ids []MemberID) error {
	seen := make(map[MemberID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return invalid(field, "member %s listed twice", id)
		}
		seen[id] = true
		if !g.HasMember(id) {
			return invalid(field, "member %s is not in group %s", id, g.ID)
		}
	}
	return nil
}

func contains(ids []MemberID, id MemberID) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

func nonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}
