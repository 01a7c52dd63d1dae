/*
Package tracker is the operation surface consumers call.

PURPOSE:
  Wraps the ledger Manager and the balance engine behind one handle.
  Every mutation validates its input, runs through the Manager, and on
  success publishes the new State to subscribers. Balance queries read the
  cached State and never touch storage.

LIFECYCLE:
  t, err := tracker.Open(ctx, kv)   // loads (and migrates) the ledger once
  unsubscribe := t.Subscribe(func(s ledger.State) { ... })
  id, err := t.AddMember(ctx, tracker.MemberInput{Name: "Ana"})
  balances, err := t.GetGroupBalance(groupID)

  There is no package-level instance. Open one Tracker at startup and pass
  it to whatever needs it.

CONFLICTS:
  When another process saved first a mutation fails with
  ledger.ErrConflict. Call Refresh and retry the operation.

SEE ALSO:
  - ledger/manager.go: persistence and invariants
  - ledger/balance.go: ComputeBalances, SimplifyDebts
*/
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/expense-ledger/ledger"
)

// Recorder observes every mutation. api.Metrics implements it.
type Recorder interface {
	ObserveMutation(op string, d time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveMutation(string, time.Duration, error) {}

type config struct {
	log         *slog.Logger
	rec         Recorder
	managerOpts []ledger.Option
}

type Option func(*config)

func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.log = l }
}

func WithRecorder(r Recorder) Option {
	return func(c *config) { c.rec = r }
}

// WithManagerOptions passes options (clock, id generator) to the Manager.
func WithManagerOptions(opts ...ledger.Option) Option {
	return func(c *config) { c.managerOpts = append(c.managerOpts, opts...) }
}

// Tracker is the ledger facade.
type Tracker struct {
	mgr *ledger.Manager
	log *slog.Logger
	rec Recorder

	subMu  sync.RWMutex
	subs   map[int]func(ledger.State)
	nextID int
}

// Open loads the ledger from kv and returns a ready Tracker.
func Open(ctx context.Context, kv ledger.KV, opts ...Option) (*Tracker, error) {
	cfg := config{log: slog.Default(), rec: nopRecorder{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	mgrOpts := append([]ledger.Option{ledger.WithLogger(cfg.log)}, cfg.managerOpts...)
	mgr := ledger.NewManager(kv, mgrOpts...)
	if err := mgr.Load(ctx); err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}

	return &Tracker{
		mgr:  mgr,
		log:  cfg.log,
		rec:  cfg.rec,
		subs: make(map[int]func(ledger.State)),
	}, nil
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

// Subscribe registers fn to receive the State after every successful
// mutation. The returned func removes the subscription.
func (t *Tracker) Subscribe(fn func(ledger.State)) func() {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	id := t.nextID
	t.nextID++
	t.subs[id] = fn
	return func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		delete(t.subs, id)
	}
}

func (t *Tracker) publish(state ledger.State) {
	t.subMu.RLock()
	fns := make([]func(ledger.State), 0, len(t.subs))
	for _, fn := range t.subs {
		fns = append(fns, fn)
	}
	t.subMu.RUnlock()

	for _, fn := range fns {
		fn(state.Clone())
	}
}

// run times a mutation, records it, and publishes on success.
func (t *Tracker) run(op string, fn func() (ledger.State, error)) (ledger.State, error) {
	start := time.Now()
	state, err := fn()
	t.rec.ObserveMutation(op, time.Since(start), err)

	if err != nil {
		switch {
		case ledger.IsClientError(err), ledger.IsNotFound(err):
			t.log.Debug("ledger operation rejected", "op", op, "err", err)
		case errors.Is(err, ledger.ErrConflict):
			t.log.Warn("ledger operation conflicted", "op", op, "err", err)
		default:
			t.log.Error("ledger operation failed", "op", op, "err", err)
		}
		return ledger.State{}, err
	}

	t.publish(state)
	return state, nil
}

// =============================================================================
// STATE
// =============================================================================

// State returns a copy of the cached ledger.
func (t *Tracker) State() ledger.State {
	return t.mgr.Snapshot()
}

// Ping reports whether storage is reachable.
func (t *Tracker) Ping(ctx context.Context) error {
	return t.mgr.Ping(ctx)
}

// Refresh reloads from storage and publishes the result.
func (t *Tracker) Refresh(ctx context.Context) error {
	if err := t.mgr.Reload(ctx); err != nil {
		return err
	}
	t.publish(t.mgr.Snapshot())
	return nil
}

// RefreshIfStale reloads only when another writer has saved since the
// last load. It reports whether a reload happened.
func (t *Tracker) RefreshIfStale(ctx context.Context) (bool, error) {
	stored, err := t.mgr.StoredRevision(ctx)
	if err != nil {
		return false, err
	}
	if stored == t.mgr.Snapshot().Revision {
		return false, nil
	}
	t.log.Info("ledger changed in storage, reloading", "stored_revision", stored)
	return true, t.Refresh(ctx)
}

// Reset empties the ledger.
func (t *Tracker) Reset(ctx context.Context) error {
	_, err := t.run("reset", func() (ledger.State, error) {
		return t.mgr.Reset(ctx)
	})
	return err
}

// =============================================================================
// MEMBERS
// =============================================================================

type MemberInput struct {
	Name      string
	Email     string
	AvatarURL string
}

func (in MemberInput) fields() ledger.MemberFields {
	return ledger.MemberFields{Name: in.Name, Email: in.Email, AvatarURL: in.AvatarURL}
}

func (t *Tracker) AddMember(ctx context.Context, in MemberInput) (ledger.MemberID, error) {
	var id ledger.MemberID
	_, err := t.run("add_member", func() (state ledger.State, err error) {
		id, state, err = t.mgr.AddMember(ctx, in.fields())
		return state, err
	})
	return id, err
}

func (t *Tracker) UpdateMember(ctx context.Context, id ledger.MemberID, in MemberInput) (ledger.State, error) {
	if err := requireID("id", string(id)); err != nil {
		return ledger.State{}, err
	}
	return t.run("update_member", func() (ledger.State, error) {
		return t.mgr.UpdateMember(ctx, id, in.fields())
	})
}

func (t *Tracker) DeleteMember(ctx context.Context, id ledger.MemberID) (ledger.State, error) {
	if err := requireID("id", string(id)); err != nil {
		return ledger.State{}, err
	}
	return t.run("delete_member", func() (ledger.State, error) {
		return t.mgr.DeleteMember(ctx, id)
	})
}

// =============================================================================
// GROUPS
// =============================================================================

type GroupInput struct {
	Name     string
	Type     ledger.GroupType
	Currency ledger.Currency
	Members  []ledger.MemberID
}

func (in GroupInput) fields() ledger.GroupFields {
	return ledger.GroupFields{Name: in.Name, Type: in.Type, Currency: in.Currency, Members: in.Members}
}

func (t *Tracker) AddGroup(ctx context.Context, in GroupInput) (ledger.GroupID, error) {
	var id ledger.GroupID
	_, err := t.run("add_group", func() (state ledger.State, err error) {
		id, state, err = t.mgr.AddGroup(ctx, in.fields())
		return state, err
	})
	return id, err
}

func (t *Tracker) UpdateGroup(ctx context.Context, id ledger.GroupID, in GroupInput) (ledger.State, error) {
	if err := requireID("id", string(id)); err != nil {
		return ledger.State{}, err
	}
	return t.run("update_group", func() (ledger.State, error) {
		return t.mgr.UpdateGroup(ctx, id, in.fields())
	})
}

// DeleteGroup also removes the group's expenses and settlements.
func (t *Tracker) DeleteGroup(ctx context.Context, id ledger.GroupID) (ledger.State, error) {
	if err := requireID("id", string(id)); err != nil {
		return ledger.State{}, err
	}
	return t.run("delete_group", func() (ledger.State, error) {
		return t.mgr.DeleteGroup(ctx, id)
	})
}

// =============================================================================
// EXPENSES
// =============================================================================

// ExpenseInput carries raw shares: percentages for SplitPercentage,
// amounts for SplitManual, nothing for SplitEqual.
type ExpenseInput struct {
	GroupID      ledger.GroupID
	Description  string
	Amount       decimal.Decimal
	PaidBy       []ledger.MemberID
	SplitBetween []ledger.MemberID
	SplitMode    ledger.SplitMode
	Shares       map[ledger.MemberID]decimal.Decimal
	Date         time.Time
	Notes        string
}

// expenseFields resolves the group currency and computes SplitDetails.
func (t *Tracker) expenseFields(in ExpenseInput) (ledger.ExpenseFields, error) {
	group, ok := t.mgr.Snapshot().Group(in.GroupID)
	if !ok {
		return ledger.ExpenseFields{}, &ledger.ValidationError{Field: "groupId", Reason: fmt.Sprintf("unknown group %s", in.GroupID)}
	}
	mode := in.SplitMode
	if mode == "" {
		mode = ledger.SplitEqual
	}
	details, err := ledger.Split(mode, in.Amount, in.SplitBetween, in.Shares, group.Currency)
	if err != nil {
		return ledger.ExpenseFields{}, err
	}
	return ledger.ExpenseFields{
		GroupID:      in.GroupID,
		Description:  in.Description,
		Amount:       in.Amount,
		PaidBy:       in.PaidBy,
		SplitBetween: in.SplitBetween,
		SplitMode:    mode,
		SplitDetails: details,
		Date:         in.Date,
		Notes:        in.Notes,
	}, nil
}

func (t *Tracker) AddExpense(ctx context.Context, in ExpenseInput) (ledger.ExpenseID, error) {
	var id ledger.ExpenseID
	_, err := t.run("add_expense", func() (ledger.State, error) {
		f, err := t.expenseFields(in)
		if err != nil {
			return ledger.State{}, err
		}
		var state ledger.State
		id, state, err = t.mgr.AddExpense(ctx, f)
		return state, err
	})
	return id, err
}

func (t *Tracker) UpdateExpense(ctx context.Context, id ledger.ExpenseID, in ExpenseInput) (ledger.State, error) {
	if err := requireID("id", string(id)); err != nil {
		return ledger.State{}, err
	}
	return t.run("update_expense", func() (ledger.State, error) {
		f, err := t.expenseFields(in)
		if err != nil {
			return ledger.State{}, err
		}
		return t.mgr.UpdateExpense(ctx, id, f)
	})
}

func (t *Tracker) DeleteExpense(ctx context.Context, id ledger.ExpenseID) (ledger.State, error) {
	if err := requireID("id", string(id)); err != nil {
		return ledger.State{}, err
	}
	return t.run("delete_expense", func() (ledger.State, error) {
		return t.mgr.DeleteExpense(ctx, id)
	})
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

type SettlementInput struct {
	GroupID      ledger.GroupID
	FromMemberID ledger.MemberID
	ToMemberID   ledger.MemberID
	Amount       decimal.Decimal
	Date         time.Time
	Notes        string
}

func (t *Tracker) AddSettlement(ctx context.Context, in SettlementInput) (ledger.SettlementID, error) {
	var id ledger.SettlementID
	_, err := t.run("add_settlement", func() (state ledger.State, err error) {
		id, state, err = t.mgr.AddSettlement(ctx, ledger.SettlementFields{
			GroupID:      in.GroupID,
			FromMemberID: in.FromMemberID,
			ToMemberID:   in.ToMemberID,
			Amount:       in.Amount,
			Date:         in.Date,
			Notes:        in.Notes,
		})
		return state, err
	})
	return id, err
}

func (t *Tracker) DeleteSettlement(ctx context.Context, id ledger.SettlementID) (ledger.State, error) {
	if err := requireID("id", string(id)); err != nil {
		return ledger.State{}, err
	}
	return t.run("delete_settlement", func() (ledger.State, error) {
		return t.mgr.DeleteSettlement(ctx, id)
	})
}

// =============================================================================
// BALANCES
// =============================================================================

// GetGroupBalance computes balances from the cached State. It can be
// stale relative to another process until Refresh is called.
func (t *Tracker) GetGroupBalance(groupID ledger.GroupID) (map[ledger.MemberID]ledger.Balance, error) {
	balances, ok := ledger.ComputeBalances(t.mgr.Snapshot(), groupID)
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, ledger.ErrNotFound)
	}
	return balances, nil
}

// SuggestSettlements returns transfers that would zero the group.
func (t *Tracker) SuggestSettlements(groupID ledger.GroupID) ([]ledger.Transfer, error) {
	state := t.mgr.Snapshot()
	group, ok := state.Group(groupID)
	if !ok {
		return nil, fmt.Errorf("group %s: %w", groupID, ledger.ErrNotFound)
	}
	balances, _ := ledger.ComputeBalances(state, groupID)
	return ledger.SimplifyDebts(balances, group.Currency.Places()), nil
}

// MemberBalance is one row of a GroupSummary.
type MemberBalance struct {
	MemberID ledger.MemberID
	Name     string
	ledger.Balance
}

type Summary struct {
	Group      ledger.Group
	TotalSpent decimal.Decimal
	Balances   []MemberBalance
}

// GroupSummary returns total spend and per-member rows sorted by name.
// Ids with no member record fall back to the id as the name.
func (t *Tracker) GroupSummary(groupID ledger.GroupID) (Summary, error) {
	state := t.mgr.Snapshot()
	group, ok := state.Group(groupID)
	if !ok {
		return Summary{}, fmt.Errorf("group %s: %w", groupID, ledger.ErrNotFound)
	}
	balances, _ := ledger.ComputeBalances(state, groupID)

	rows := make([]MemberBalance, 0, len(balances))
	for id, b := range balances {
		name := string(id)
		if m, ok := state.Member(id); ok {
			name = m.Name
		}
		rows = append(rows, MemberBalance{MemberID: id, Name: name, Balance: b})
	}
	sort.Slice(rows, func(i, j int) bool {
		a, b := strings.ToLower(rows[i].Name), strings.ToLower(rows[j].Name)
		if a != b {
			return a < b
		}
		return rows[i].MemberID < rows[j].MemberID
	})

	return Summary{Group: group, TotalSpent: state.TotalSpent(groupID), Balances: rows}, nil
}

func requireID(field, id string) error {
	if strings.TrimSpace(id) == "" {
		return &ledger.ValidationError{Field: field, Reason: "is required"}
	}
	return nil
}
