/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built ledgers for demos and for exercising the UI. Each
	scenario creates members, a group, expenses in every split mode, and
	settlements, all through the Tracker so they pass the same validation
	as user input.

AVAILABLE SCENARIOS:

	weekend-trip:  EUR trip, three members, all split modes, two payers on one expense
	household:     GBP household, manual rent split, partial settlement
	office-lunch:  JPY lunch with a remainder that doesn't divide evenly
	empty:         Nothing at all

HOW SCENARIOS WORK:
 1. Reset the ledger (empty state, revision kept)
 2. Create members
 3. Create the group
 4. Add expenses, then settlements

USAGE VIA API:

	POST /api/scenarios/load
	{"scenarioId": "weekend-trip"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(s *seeder)
 3. Add it to the 'loaders' map

NOTE:

	Scenarios reset the ledger. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: writeLedgerError
  - tracker/tracker.go: operations used by the loaders
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/tracker"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "weekend-trip",
		Name:        "Weekend Trip",
		Description: "Three friends in EUR: equal, percentage and multi-payer expenses plus a settlement",
	},
	{
		ID:          "household",
		Name:        "Household",
		Description: "Two flatmates in GBP: manual rent split, shared groceries, partial settlement",
	},
	{
		ID:          "office-lunch",
		Name:        "Office Lunch",
		Description: "JPY lunch that doesn't divide evenly among three",
	},
	{
		ID:          "empty",
		Name:        "Empty",
		Description: "Start from an empty ledger",
	},
}

var loaders = map[string]func(s *seeder){
	"weekend-trip": loadWeekendTripScenario,
	"household":    loadHouseholdScenario,
	"office-lunch": loadOfficeLunchScenario,
	"empty":        func(*seeder) {},
}

// ListScenarios returns all available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the ledger and loads a demo scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		h.writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "loaded",
		"scenario": req.ScenarioID,
		"state":    h.Tracker.State(),
	})
}

// ResetLedger empties the ledger.
// POST /api/scenarios/reset
func (h *Handler) ResetLedger(w http.ResponseWriter, r *http.Request) {
	if err := h.Tracker.Reset(r.Context()); err != nil {
		h.writeLedgerError(w, err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// LoadScenarioByID resets the ledger and seeds it. Unknown ids leave the
// ledger untouched.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	load, ok := loaders[id]
	if !ok {
		return fmt.Errorf("scenario %q: %w", id, ledger.ErrNotFound)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Tracker.Reset(ctx); err != nil {
		return err
	}
	h.currentScenario = ""

	s := &seeder{ctx: ctx, t: h.Tracker}
	load(s)
	if s.err != nil {
		return fmt.Errorf("scenario %s: %w", id, s.err)
	}

	h.currentScenario = id
	h.log.Info("scenario loaded", "scenario", id)
	return nil
}

// =============================================================================
// SEEDER - Sticky-error helper so loaders read as a script
// =============================================================================

type seeder struct {
	ctx context.Context
	t   *tracker.Tracker
	err error
}

func (s *seeder) member(name, email string) ledger.MemberID {
	if s.err != nil {
		return ""
	}
	var id ledger.MemberID
	id, s.err = s.t.AddMember(s.ctx, tracker.MemberInput{Name: name, Email: email})
	return id
}

func (s *seeder) group(name string, typ ledger.GroupType, c ledger.Currency, members ...ledger.MemberID) ledger.GroupID {
	if s.err != nil {
		return ""
	}
	var id ledger.GroupID
	id, s.err = s.t.AddGroup(s.ctx, tracker.GroupInput{Name: name, Type: typ, Currency: c, Members: members})
	return id
}

func (s *seeder) expense(in tracker.ExpenseInput) {
	if s.err != nil {
		return
	}
	_, s.err = s.t.AddExpense(s.ctx, in)
}

func (s *seeder) settle(in tracker.SettlementInput) {
	if s.err != nil {
		return
	}
	_, s.err = s.t.AddSettlement(s.ctx, in)
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func ids(members ...ledger.MemberID) []ledger.MemberID {
	return members
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// loadWeekendTripScenario nets to Ana +122.58, Ben -7.67, Chloe -114.91
// once Ben's settlement of 40.00 is applied.
func loadWeekendTripScenario(s *seeder) {
	ana := s.member("Ana", "ana@example.com")
	ben := s.member("Ben", "ben@example.com")
	chloe := s.member("Chloe", "chloe@example.com")
	trip := s.group("Lisbon Weekend", ledger.GroupTrip, ledger.EUR, ana, ben, chloe)

	s.expense(tracker.ExpenseInput{
		GroupID:      trip,
		Description:  "Hotel",
		Amount:       decimal.RequireFromString("300.00"),
		PaidBy:       ids(ana),
		SplitBetween: ids(ana, ben, chloe),
		SplitMode:    ledger.SplitEqual,
		Date:         day(2025, time.May, 16),
	})
	s.expense(tracker.ExpenseInput{
		GroupID:      trip,
		Description:  "Dinner",
		Amount:       decimal.RequireFromString("90.00"),
		PaidBy:       ids(ben),
		SplitBetween: ids(ana, ben, chloe),
		SplitMode:    ledger.SplitPercentage,
		Shares: map[ledger.MemberID]decimal.Decimal{
			ana:   decimal.NewFromInt(50),
			ben:   decimal.NewFromInt(25),
			chloe: decimal.NewFromInt(25),
		},
		Date:  day(2025, time.May, 16),
		Notes: "Ana had the tasting menu",
	})
	s.expense(tracker.ExpenseInput{
		GroupID:      trip,
		Description:  "Fuel",
		Amount:       decimal.RequireFromString("45.50"),
		PaidBy:       ids(chloe, ana),
		SplitBetween: ids(ana, ben, chloe),
		SplitMode:    ledger.SplitEqual,
		Date:         day(2025, time.May, 18),
	})
	s.settle(tracker.SettlementInput{
		GroupID:      trip,
		FromMemberID: ben,
		ToMemberID:   ana,
		Amount:       decimal.RequireFromString("40.00"),
		Date:         day(2025, time.May, 20),
	})
}

func loadHouseholdScenario(s *seeder) {
	dana := s.member("Dana", "dana@example.com")
	eli := s.member("Eli", "eli@example.com")
	flat := s.group("Flat 4B", ledger.GroupFamily, ledger.GBP, dana, eli)

	s.expense(tracker.ExpenseInput{
		GroupID:      flat,
		Description:  "Rent",
		Amount:       decimal.RequireFromString("1200.00"),
		PaidBy:       ids(dana),
		SplitBetween: ids(dana, eli),
		SplitMode:    ledger.SplitManual,
		Shares: map[ledger.MemberID]decimal.Decimal{
			dana: decimal.RequireFromString("700.00"),
			eli:  decimal.RequireFromString("500.00"),
		},
		Date:  day(2025, time.March, 1),
		Notes: "Dana has the bigger room",
	})
	s.expense(tracker.ExpenseInput{
		GroupID:      flat,
		Description:  "Groceries",
		Amount:       decimal.RequireFromString("84.30"),
		PaidBy:       ids(eli),
		SplitBetween: ids(dana, eli),
		SplitMode:    ledger.SplitEqual,
		Date:         day(2025, time.March, 3),
	})
	s.settle(tracker.SettlementInput{
		GroupID:      flat,
		FromMemberID: eli,
		ToMemberID:   dana,
		Amount:       decimal.RequireFromString("400.00"),
		Date:         day(2025, time.March, 5),
	})
}

func loadOfficeLunchScenario(s *seeder) {
	fumi := s.member("Fumi", "fumi@example.com")
	goro := s.member("Goro", "")
	hana := s.member("Hana", "hana@example.com")
	team := s.group("Team Lunches", ledger.GroupBusiness, ledger.JPY, fumi, goro, hana)

	s.expense(tracker.ExpenseInput{
		GroupID:      team,
		Description:  "Ramen",
		Amount:       decimal.NewFromInt(10000),
		PaidBy:       ids(fumi),
		SplitBetween: ids(fumi, goro, hana),
		SplitMode:    ledger.SplitEqual,
		Date:         day(2025, time.June, 12),
	})
}
