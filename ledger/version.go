/*
version.go - Schema versions and the migration pipeline

PURPOSE:
  The stored blob carries a version tag. On load, anything older than
  CurrentVersion is passed through registered migrations, one transition
  at a time, until it reaches CurrentVersion. A version with no registered
  transition fails the load.

VERSIONS:
  "1.0.0" (LegacyVersion): the browser-era layout. Amounts are JSON
           numbers, there is no revision, split modes may be capitalised,
           group type/currency and splitBetween may be missing. A blob
           without any version tag is treated as this version.
  "2"     (CurrentVersion): decimal strings, revision counter, validated
           splits.

ADDING A VERSION:
  1. Bump CurrentVersion
  2. Register migrations[previous] = migration{to: new, apply: fn}
  3. fn receives the raw blob at `previous` and returns it at `new`

SEE ALSO:
  - manager.go: Load persists a migrated state immediately
*/
package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	CurrentVersion = "2"
	LegacyVersion  = "1.0.0"
)

type migration struct {
	to    string
	apply func(raw []byte) ([]byte, error)
}

var migrations = map[string]migration{
	LegacyVersion: {to: "2", apply: migrateV1toV2},
}

// header is the part of the blob needed before the full decode.
type header struct {
	Version  string `json:"version"`
	Revision int64  `json:"revision"`
}

func readHeader(raw []byte) (header, error) {
	var h header
	if err := json.Unmarshal(raw, &h); err != nil {
		return header{}, err
	}
	if h.Version == "" {
		h.Version = LegacyVersion
	}
	return h, nil
}

// DecodeState turns a stored blob into a State at CurrentVersion.
// migrated reports whether any migration ran.
//
// Errors wrap ErrCorruptState when the blob is not a ledger, or are a
// *VersionError when the version has no migration path.
func DecodeState(raw []byte) (state State, migrated bool, err error) {
	h, err := readHeader(raw)
	if err != nil {
		return State{}, false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}

	version := h.Version
	for version != CurrentVersion {
		m, ok := migrations[version]
		if !ok {
			return State{}, false, &VersionError{Found: h.Version, Current: CurrentVersion}
		}
		if raw, err = m.apply(raw); err != nil {
			return State{}, false, fmt.Errorf("%w: migrating from %s: %v", ErrCorruptState, version, err)
		}
		version = m.to
		migrated = true
	}

	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, false, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	state.Version = CurrentVersion
	state.normalize()
	return state, migrated, nil
}

// EncodeState is the stored form of a State.
func EncodeState(s State) ([]byte, error) {
	s.normalize()
	return json.Marshal(s)
}

// =============================================================================
// V1 -> V2
// =============================================================================

// legacyTime accepts the date shapes the old layout produced: RFC 3339,
// a bare date, or epoch milliseconds.
type legacyTime struct {
	time.Time
}

func (t *legacyTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" || string(b) == `""` {
		return nil
	}
	if b[0] != '"' {
		var ms int64
		if err := json.Unmarshal(b, &ms); err != nil {
			return err
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised date %q", s)
}

type legacyState struct {
	Members     []legacyMember     `json:"members"`
	Groups      []legacyGroup      `json:"groups"`
	Expenses    []legacyExpense    `json:"expenses"`
	Settlements []legacySettlement `json:"settlements"`
}

type legacyMember struct {
	ID        MemberID   `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	AvatarURL string     `json:"avatarUrl"`
	CreatedAt legacyTime `json:"createdAt"`
	UpdatedAt legacyTime `json:"updatedAt"`
}

type legacyGroup struct {
	ID        GroupID    `json:"id"`
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Currency  string     `json:"currency"`
	Members   []MemberID `json:"members"`
	CreatedAt legacyTime `json:"createdAt"`
	UpdatedAt legacyTime `json:"updatedAt"`
}

type legacyExpense struct {
	ID           ExpenseID                    `json:"id"`
	GroupID      GroupID                      `json:"groupId"`
	Description  string                       `json:"description"`
	Amount       decimal.Decimal              `json:"amount"`
	PaidBy       []MemberID                   `json:"paidBy"`
	SplitBetween []MemberID                   `json:"splitBetween"`
	SplitMode    string                       `json:"splitMode"`
	SplitDetails map[MemberID]decimal.Decimal `json:"splitDetails"`
	Date         legacyTime                   `json:"date"`
	Notes        string                       `json:"notes"`
	CreatedAt    legacyTime                   `json:"createdAt"`
	UpdatedAt    legacyTime                   `json:"updatedAt"`
}

type legacySettlement struct {
	ID           SettlementID    `json:"id"`
	GroupID      GroupID         `json:"groupId"`
	FromMemberID MemberID        `json:"fromMemberId"`
	ToMemberID   MemberID        `json:"toMemberId"`
	Amount       decimal.Decimal `json:"amount"`
	Date         legacyTime      `json:"date"`
	Notes        string          `json:"notes"`
	CreatedAt    legacyTime      `json:"createdAt"`
}

func migrateV1toV2(raw []byte) ([]byte, error) {
	var old legacyState
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, err
	}

	next := NewState()
	currencyOf := make(map[GroupID]Currency, len(old.Groups))

	for _, m := range old.Members {
		next.Members = append(next.Members, Member{
			ID:        m.ID,
			Name:      m.Name,
			Email:     m.Email,
			AvatarURL: m.AvatarURL,
			CreatedAt: m.CreatedAt.Time,
			UpdatedAt: orTime(m.UpdatedAt.Time, m.CreatedAt.Time),
		})
	}

	for _, g := range old.Groups {
		c := Currency(strings.ToUpper(strings.TrimSpace(g.Currency)))
		if !c.Valid() {
			c = USD
		}
		currencyOf[g.ID] = c
		typ := GroupType(strings.TrimSpace(g.Type))
		if typ == "" {
			typ = GroupOthers
		}
		next.Groups = append(next.Groups, Group{
			ID:        g.ID,
			Name:      g.Name,
			Type:      typ,
			Currency:  c,
			Members:   append([]MemberID{}, g.Members...),
			CreatedAt: g.CreatedAt.Time,
			UpdatedAt: orTime(g.UpdatedAt.Time, g.CreatedAt.Time),
		})
	}

	for _, e := range old.Expenses {
		c, ok := currencyOf[e.GroupID]
		if !ok {
			c = USD
		}
		exp, keep := migrateLegacyExpense(e, c)
		if keep {
			next.Expenses = append(next.Expenses, exp)
		}
	}

	for _, s := range old.Settlements {
		c, ok := currencyOf[s.GroupID]
		if !ok {
			c = USD
		}
		next.Settlements = append(next.Settlements, Settlement{
			ID:           s.ID,
			GroupID:      s.GroupID,
			FromMemberID: s.FromMemberID,
			ToMemberID:   s.ToMemberID,
			Amount:       s.Amount.Round(c.Places()),
			Date:         orTime(s.Date.Time, s.CreatedAt.Time),
			Notes:        s.Notes,
			CreatedAt:    s.CreatedAt.Time,
		})
	}

	next.Version = "2"
	return json.Marshal(next)
}

// migrateLegacyExpense rounds amounts to the currency and repairs the split
// so it sums exactly to the amount. Expenses with nobody to pay or owe are
// dropped since they cannot affect any balance.
func migrateLegacyExpense(e legacyExpense, c Currency) (Expense, bool) {
	places := c.Places()
	amount := e.Amount.Round(places)

	mode, ok := ParseSplitMode(e.SplitMode)
	if !ok {
		mode = SplitManual
	}

	between := append([]MemberID{}, e.SplitBetween...)
	if len(between) == 0 {
		for id := range e.SplitDetails {
			between = append(between, id)
		}
		sort.Slice(between, func(i, j int) bool { return between[i] < between[j] })
	}
	if len(between) == 0 {
		between = append(between, e.PaidBy...)
	}
	if len(between) == 0 {
		return Expense{}, false
	}

	details := make(map[MemberID]decimal.Decimal, len(e.SplitDetails))
	for id, v := range e.SplitDetails {
		details[id] = v.Round(places)
	}
	if len(details) == 0 && amount.IsPositive() {
		details = splitEqual(amount, between, places)
	}
	if residual := amount.Sub(SumShares(details)); !residual.IsZero() {
		first := between[0]
		details[first] = details[first].Add(residual)
	}

	return Expense{
		ID:           e.ID,
		GroupID:      e.GroupID,
		Description:  e.Description,
		Amount:       amount,
		PaidBy:       append([]MemberID{}, e.PaidBy...),
		SplitBetween: between,
		SplitMode:    mode,
		SplitDetails: details,
		Date:         orTime(e.Date.Time, e.CreatedAt.Time),
		Notes:        e.Notes,
		CreatedAt:    e.CreatedAt.Time,
		UpdatedAt:    orTime(e.UpdatedAt.Time, e.CreatedAt.Time),
	}, true
}

func orTime(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t
}
