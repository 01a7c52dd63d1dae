/*
Package ledger provides the shared-expense accounting engine.

PURPOSE:
  Tracks members, groups, expenses and settlements, and derives who owes
  whom inside a group. The whole ledger is one aggregate (State) that is
  loaded, mutated and persisted as a single value.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: decimal.Decimal amounts scoped by a group Currency
  - Member / Group / Expense / Settlement: the ledger entities
  - SplitMode: how an expense's amount is divided among the members who owe it
  - Typed identifiers so member ids and group ids cannot be mixed up

DESIGN PRINCIPLES:
  1. Precision: money is decimal.Decimal, never float64
  2. Conservation: credits always equal debits inside a group
  3. Whole-aggregate persistence: every mutation writes the full State
  4. Validate before persist: an invalid State is never written

USAGE:
  m := ledger.NewManager(kv)
  if err := m.Load(ctx); err != nil { ... }
  id, _, err := m.AddMember(ctx, ledger.MemberFields{Name: "Ana"})

SEE ALSO:
  - state.go: the State aggregate
  - balance.go: balance computation
  - manager.go: load / save / mutations
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type MemberID string
type GroupID string
type ExpenseID string
type SettlementID string

// =============================================================================
// CURRENCY - Fixed set, each with its minor-unit precision
// =============================================================================

type Currency string

const (
	USD Currency = "USD"
	EUR Currency = "EUR"
	GBP Currency = "GBP"
	INR Currency = "INR"
	JPY Currency = "JPY"
	CAD Currency = "CAD"
	AUD Currency = "AUD"
)

var currencyPlaces = map[Currency]int32{
	USD: 2,
	EUR: 2,
	GBP: 2,
	INR: 2,
	JPY: 0,
	CAD: 2,
	AUD: 2,
}

// Currencies lists the supported currencies in display order.
func Currencies() []Currency {
	return []Currency{USD, EUR, GBP, INR, JPY, CAD, AUD}
}

func currencyList() string {
	names := make([]string, 0, len(currencyPlaces))
	for _, c := range Currencies() {
		names = append(names, string(c))
	}
	return strings.Join(names, ", ")
}

func (c Currency) Valid() bool {
	_, ok := currencyPlaces[c]
	return ok
}

// Places returns the number of minor-unit decimal places (2 for cents).
// Unknown currencies fall back to 2.
func (c Currency) Places() int32 {
	if p, ok := currencyPlaces[c]; ok {
		return p
	}
	return 2
}

// FitsCurrency reports whether amount has no more decimal places than c allows.
func FitsCurrency(amount decimal.Decimal, c Currency) bool {
	return amount.Equal(amount.Truncate(c.Places()))
}

// =============================================================================
// GROUP TYPE
// =============================================================================

// GroupType is one of the well-known kinds or any free-form label.
type GroupType string

const (
	GroupTrip     GroupType = "Trip"
	GroupFamily   GroupType = "Family"
	GroupBusiness GroupType = "Business"
	GroupOthers   GroupType = "Others"
)

// =============================================================================
// SPLIT MODE
// =============================================================================

type SplitMode string

const (
	SplitEqual      SplitMode = "equal"
	SplitPercentage SplitMode = "percentage"
	SplitManual     SplitMode = "manual"
)

func (m SplitMode) Valid() bool {
	switch m {
	case SplitEqual, SplitPercentage, SplitManual:
		return true
	}
	return false
}

// ParseSplitMode accepts any casing ("Equal", "PERCENTAGE").
func ParseSplitMode(s string) (SplitMode, bool) {
	m := SplitMode(strings.ToLower(strings.TrimSpace(s)))
	return m, m.Valid()
}

// =============================================================================
// ENTITIES
// =============================================================================

type Member struct {
	ID        MemberID  `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Group struct {
	ID        GroupID    `json:"id"`
	Name      string     `json:"name"`
	Type      GroupType  `json:"type"`
	Currency  Currency   `json:"currency"`
	Members   []MemberID `json:"members"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// HasMember reports whether id is part of the group's membership.
func (g Group) HasMember(id MemberID) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Expense is a payment made by one or more members on behalf of others.
//
// PaidBy is always credited in equal parts. SplitDetails holds what each
// member owes and must sum exactly to Amount.
type Expense struct {
	ID           ExpenseID                    `json:"id"`
	GroupID      GroupID                      `json:"groupId"`
	Description  string                       `json:"description"`
	Amount       decimal.Decimal              `json:"amount"`
	PaidBy       []MemberID                   `json:"paidBy"`
	SplitBetween []MemberID                   `json:"splitBetween"`
	SplitMode    SplitMode                    `json:"splitMode"`
	SplitDetails map[MemberID]decimal.Decimal `json:"splitDetails"`
	Date         time.Time                    `json:"date"`
	Notes        string                       `json:"notes,omitempty"`
	CreatedAt    time.Time                    `json:"createdAt"`
	UpdatedAt    time.Time                    `json:"updatedAt"`
}

// Involves reports whether the member pays, owes, or is split into the expense.
func (e Expense) Involves(id MemberID) bool {
	for _, p := range e.PaidBy {
		if p == id {
			return true
		}
	}
	for _, m := range e.SplitBetween {
		if m == id {
			return true
		}
	}
	_, ok := e.SplitDetails[id]
	return ok
}

// Settlement is a direct transfer that reduces FromMemberID's debt and
// ToMemberID's credit.
type Settlement struct {
	ID           SettlementID    `json:"id"`
	GroupID      GroupID         `json:"groupId"`
	FromMemberID MemberID        `json:"fromMemberId"`
	ToMemberID   MemberID        `json:"toMemberId"`
	Amount       decimal.Decimal `json:"amount"`
	Date         time.Time       `json:"date"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

func (s Settlement) Involves(id MemberID) bool {
	return s.FromMemberID == id || s.ToMemberID == id
}
