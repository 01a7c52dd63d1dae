package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// STATE - The ledger aggregate (unit of persistence)
// =============================================================================

// State is the whole ledger. It is read and written as one value.
//
// Revision increases by one on every successful save and is used for
// compare-and-swap against the persisted copy.
type State struct {
	Members     []Member     `json:"members"`
	Groups      []Group      `json:"groups"`
	Expenses    []Expense    `json:"expenses"`
	Settlements []Settlement `json:"settlements"`
	Version     string       `json:"version"`
	Revision    int64        `json:"revision"`
}

// NewState returns the empty default at the current schema version.
func NewState() State {
	return State{
		Members:     []Member{},
		Groups:      []Group{},
		Expenses:    []Expense{},
		Settlements: []Settlement{},
		Version:     CurrentVersion,
	}
}

// Clone returns a deep copy. Mutations always work on a clone so the
// canonical state is untouched until the save succeeds.
func (s State) Clone() State {
	out := State{
		Members:     make([]Member, len(s.Members)),
		Groups:      make([]Group, len(s.Groups)),
		Expenses:    make([]Expense, len(s.Expenses)),
		Settlements: make([]Settlement, len(s.Settlements)),
		Version:     s.Version,
		Revision:    s.Revision,
	}
	copy(out.Members, s.Members)
	copy(out.Settlements, s.Settlements)
	for i, g := range s.Groups {
		g.Members = append([]MemberID(nil), g.Members...)
		out.Groups[i] = g
	}
	for i, e := range s.Expenses {
		out.Expenses[i] = cloneExpense(e)
	}
	return out
}

func cloneExpense(e Expense) Expense {
	e.PaidBy = append([]MemberID(nil), e.PaidBy...)
	e.SplitBetween = append([]MemberID(nil), e.SplitBetween...)
	details := make(map[MemberID]decimal.Decimal, len(e.SplitDetails))
	for k, v := range e.SplitDetails {
		details[k] = v
	}
	e.SplitDetails = details
	return e
}

// normalize replaces nil slices so the JSON shape is stable ("[]" not "null").
func (s *State) normalize() {
	if s.Members == nil {
		s.Members = []Member{}
	}
	if s.Groups == nil {
		s.Groups = []Group{}
	}
	if s.Expenses == nil {
		s.Expenses = []Expense{}
	}
	if s.Settlements == nil {
		s.Settlements = []Settlement{}
	}
	for i := range s.Groups {
		if s.Groups[i].Members == nil {
			s.Groups[i].Members = []MemberID{}
		}
	}
	for i := range s.Expenses {
		if s.Expenses[i].SplitDetails == nil {
			s.Expenses[i].SplitDetails = map[MemberID]decimal.Decimal{}
		}
	}
}

// =============================================================================
// LOOKUPS
// =============================================================================

func (s State) Member(id MemberID) (Member, bool) {
	for _, m := range s.Members {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

func (s State) Group(id GroupID) (Group, bool) {
	for _, g := range s.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

func (s State) Expense(id ExpenseID) (Expense, bool) {
	for _, e := range s.Expenses {
		if e.ID == id {
			return e, true
		}
	}
	return Expense{}, false
}

func (s State) Settlement(id SettlementID) (Settlement, bool) {
	for _, st := range s.Settlements {
		if st.ID == id {
			return st, true
		}
	}
	return Settlement{}, false
}

// GroupExpenses returns the expenses recorded against a group, in stored order.
func (s State) GroupExpenses(id GroupID) []Expense {
	var out []Expense
	for _, e := range s.Expenses {
		if e.GroupID == id {
			out = append(out, e)
		}
	}
	return out
}

// GroupSettlements returns the settlements recorded against a group, in stored order.
func (s State) GroupSettlements(id GroupID) []Settlement {
	var out []Settlement
	for _, st := range s.Settlements {
		if st.GroupID == id {
			out = append(out, st)
		}
	}
	return out
}

// HasActivity reports whether the member appears in any expense or
// settlement. If groupID is non-empty only that group is considered.
func (s State) HasActivity(member MemberID, groupID GroupID) bool {
	for _, e := range s.Expenses {
		if groupID != "" && e.GroupID != groupID {
			continue
		}
		if e.Involves(member) {
			return true
		}
	}
	for _, st := range s.Settlements {
		if groupID != "" && st.GroupID != groupID {
			continue
		}
		if st.Involves(member) {
			return true
		}
	}
	return false
}

// TotalSpent sums the expense amounts of a group.
func (s State) TotalSpent(id GroupID) decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.GroupExpenses(id) {
		total = total.Add(e.Amount)
	}
	return total
}
