/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Entities in responses
  are the ledger types themselves (they already carry camelCase tags); the
  DTOs here cover request bodies and derived views such as balances.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Members:     MemberRequest
  Groups:      GroupRequest, GroupBalancesResponse, BalanceDTO, TransferDTO
  Expenses:    ExpenseRequest
  Settlements: SettlementRequest
  Scenarios:   ScenarioDTO, LoadScenarioRequest

DATES:
  Request dates accept "2006-01-02" or RFC 3339. Empty means now.

MONEY:
  Amounts are decimal strings ("12.50"). Plain JSON numbers are accepted
  on input as well.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/ledger"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

type MemberRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type GroupRequest struct {
	Name     string            `json:"name"`
	Type     ledger.GroupType  `json:"type"`
	Currency ledger.Currency   `json:"currency"`
	Members  []ledger.MemberID `json:"members"`
}

// ExpenseRequest carries raw shares: percentages for "percentage",
// amounts for "manual", omitted for "equal".
type ExpenseRequest struct {
	GroupID      ledger.GroupID                      `json:"groupId"`
	Description  string                              `json:"description"`
	Amount       decimal.Decimal                     `json:"amount"`
	PaidBy       []ledger.MemberID                   `json:"paidBy"`
	SplitBetween []ledger.MemberID                   `json:"splitBetween"`
	SplitMode    string                              `json:"splitMode"`
	Shares       map[ledger.MemberID]decimal.Decimal `json:"shares,omitempty"`
	Date         string                              `json:"date,omitempty"`
	Notes        string                              `json:"notes,omitempty"`
}

type SettlementRequest struct {
	GroupID      ledger.GroupID  `json:"groupId"`
	FromMemberID ledger.MemberID `json:"fromMemberId"`
	ToMemberID   ledger.MemberID `json:"toMemberId"`
	Amount       decimal.Decimal `json:"amount"`
	Date         string          `json:"date,omitempty"`
	Notes        string          `json:"notes,omitempty"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenarioId"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// BalanceDTO is one member's position in a group.
type BalanceDTO struct {
	MemberID ledger.MemberID `json:"memberId"`
	Name     string          `json:"name"`
	Owes     decimal.Decimal `json:"owes"`
	Owed     decimal.Decimal `json:"owed"`
	Net      decimal.Decimal `json:"net"`
}

type GroupBalancesResponse struct {
	GroupID    ledger.GroupID  `json:"groupId"`
	Currency   ledger.Currency `json:"currency"`
	TotalSpent decimal.Decimal `json:"totalSpent"`
	Balances   []BalanceDTO    `json:"balances"`
}

// TransferDTO is a suggested payment to settle up.
type TransferDTO struct {
	From     ledger.MemberID `json:"from"`
	FromName string          `json:"fromName"`
	To       ledger.MemberID `json:"to"`
	ToName   string          `json:"toName"`
	Amount   decimal.Decimal `json:"amount"`
}

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	Field     string `json:"field,omitempty"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, &ledger.ValidationError{Field: "date", Reason: fmt.Sprintf("%q is not a date", s)}
	}
	return t, nil
}

func memberName(state ledger.State, id ledger.MemberID) string {
	if m, ok := state.Member(id); ok {
		return m.Name
	}
	return string(id)
}
