/*
manager.go - Storage Manager: load, migrate, mutate and persist the ledger

PURPOSE:
  The Manager is the only owner of the canonical State. It loads the blob
  on start, runs migrations, and applies every mutation as one
  read-modify-write of the whole aggregate.

MUTATION PROTOCOL:
  1. Lock (one mutation at a time within the process)
  2. Clone the current State and apply the change to the clone
  3. Validate the touched entity, then State.Check the whole clone
  4. Persist with compare-and-swap on Revision
  5. Only on success replace the in-memory State

  A failure at any step leaves both memory and storage untouched.

COMPARE-AND-SWAP:
  Each save reads the stored revision and compares it with the revision
  this Manager last loaded or saved. A mismatch means another writer got
  there first: the save fails with *ConflictError and writes nothing.
  Call Reload and retry. With a TxKV the read and the write run inside
  one WithTx so the check cannot race.

LOAD RECOVERY:
  - Key absent:             empty State at CurrentVersion
  - Blob not decodable:     empty State at the header's revision, logged at WARN
  - Older version:          migrated, then persisted immediately
  - Unknown version:        *VersionError, load fails

SEE ALSO:
  - version.go: migrations
  - validate.go: per-entity checks
  - store.go: KV / TxKV
*/
package ledger

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	// Collection and StateKey locate the ledger blob in the KV store.
	Collection = "moneyTracker"
	StateKey   = "state"
)

// Manager loads, mutates and persists the ledger State.
type Manager struct {
	kv    KV
	log   *slog.Logger
	now   func() time.Time
	newID func() string

	mu    sync.Mutex
	state State
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock overrides time.Now for CreatedAt/UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator overrides uuid.NewString for new entity ids.
func WithIDGenerator(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a Manager over kv. Call Load before anything else.
func NewManager(kv KV, opts ...Option) *Manager {
	m := &Manager{
		kv:    kv,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
		state: NewState(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the ledger from storage, replacing the in-memory State.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, ok, err := m.kv.Get(ctx, Collection, StateKey)
	if err != nil {
		m.log.Error("ledger load failed", "err", err)
		return &StorageError{Op: "get", Err: err}
	}
	if !ok {
		m.state = NewState()
		m.log.Info("no stored ledger, starting empty")
		return nil
	}

	state, migrated, err := DecodeState(raw)
	if err != nil {
		var verr *VersionError
		if errors.As(err, &verr) {
			m.log.Error("ledger version has no migration path", "found", verr.Found, "current", verr.Current)
			return err
		}
		m.log.Warn("stored ledger unreadable, starting empty", "err", err)
		m.state = NewState()
		// Keep the stored revision so the next save replaces the blob.
		if h, herr := readHeader(raw); herr == nil {
			m.state.Revision = h.Revision
		}
		return nil
	}

	if migrated {
		from := state.Revision
		saved, err := m.persist(ctx, state, from)
		if err != nil {
			return err
		}
		m.log.Info("ledger migrated", "version", CurrentVersion, "revision", saved.Revision)
		state = saved
	}

	m.state = state
	m.log.Debug("ledger loaded",
		"revision", state.Revision,
		"members", len(state.Members),
		"groups", len(state.Groups),
		"expenses", len(state.Expenses),
		"settlements", len(state.Settlements),
	)
	return nil
}

// Reload re-reads storage. Use it after a *ConflictError.
func (m *Manager) Reload(ctx context.Context) error {
	return m.Load(ctx)
}

// StoredRevision reads the revision currently in storage without loading
// the ledger. Absent blobs and blobs without a readable header report 0.
func (m *Manager) StoredRevision(ctx context.Context) (int64, error) {
	raw, ok, err := m.kv.Get(ctx, Collection, StateKey)
	if err != nil {
		return 0, &StorageError{Op: "get", Err: err}
	}
	if !ok {
		return 0, nil
	}
	h, err := readHeader(raw)
	if err != nil {
		return 0, nil
	}
	return h.Revision, nil
}

// Ping checks storage when the KV supports it. Stores without a
// connection always report healthy.
func (m *Manager) Ping(ctx context.Context) error {
	p, ok := m.kv.(Pinger)
	if !ok {
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		return &StorageError{Op: "ping", Err: err}
	}
	return nil
}

// Snapshot returns a deep copy of the current State.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// Save writes state as the new ledger, stamping Version and Revision.
// The stored revision must still be the one this Manager last saw.
func (m *Manager) Save(ctx context.Context, state State) (State, error) {
	return m.mutate(ctx, "save", func(next *State) error {
		revision := next.Revision
		*next = state.Clone()
		next.Revision = revision
		return nil
	})
}

// Reset replaces the ledger with an empty one.
func (m *Manager) Reset(ctx context.Context) (State, error) {
	return m.mutate(ctx, "reset", func(next *State) error {
		revision := next.Revision
		*next = NewState()
		next.Revision = revision
		return nil
	})
}

func (m *Manager) mutate(ctx context.Context, op string, fn func(next *State) error) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state.Clone()
	if err := fn(&next); err != nil {
		return State{}, err
	}
	if err := next.Check(); err != nil {
		return State{}, err
	}

	saved, err := m.persist(ctx, next, m.state.Revision)
	if err != nil {
		return State{}, err
	}
	m.state = saved
	m.log.Debug("ledger saved", "op", op, "revision", saved.Revision)
	return saved.Clone(), nil
}

// persist writes next if the stored revision equals expected.
func (m *Manager) persist(ctx context.Context, next State, expected int64) (State, error) {
	next.Version = CurrentVersion
	next.Revision = expected + 1
	blob, err := EncodeState(next)
	if err != nil {
		return State{}, &StorageError{Op: "encode", Err: err}
	}

	write := func(kv KV) error {
		raw, ok, err := kv.Get(ctx, Collection, StateKey)
		if err != nil {
			return &StorageError{Op: "get", Err: err}
		}
		var actual int64
		if ok {
			// A blob without a readable header counts as revision 0, matching Load.
			if h, err := readHeader(raw); err == nil {
				actual = h.Revision
			}
		}
		if actual != expected {
			return &ConflictError{Expected: expected, Actual: actual}
		}
		if err := kv.Set(ctx, Collection, StateKey, blob); err != nil {
			return &StorageError{Op: "set", Err: err}
		}
		return nil
	}

	if tx, ok := m.kv.(TxKV); ok {
		err = tx.WithTx(ctx, write)
	} else {
		err = write(m.kv)
	}
	if err != nil {
		var conflict *ConflictError
		switch {
		case errors.As(err, &conflict):
			m.log.Warn("ledger save conflict", "expected", conflict.Expected, "actual", conflict.Actual)
		case errors.Is(err, ErrStorage):
			m.log.Error("ledger save failed", "err", err)
		default:
			m.log.Error("ledger save failed", "err", err)
			err = &StorageError{Op: "commit", Err: err}
		}
		return State{}, err
	}
	return next, nil
}

// =============================================================================
// MEMBERS
// =============================================================================

type MemberFields struct {
	Name      string
	Email     string
	AvatarURL string
}

func (m *Manager) AddMember(ctx context.Context, f MemberFields) (MemberID, State, error) {
	id := MemberID(m.newID())
	state, err := m.mutate(ctx, "add_member", func(next *State) error {
		now := m.now()
		member := Member{
			ID:        id,
			Name:      strings.TrimSpace(f.Name),
			Email:     strings.TrimSpace(f.Email),
			AvatarURL: f.AvatarURL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if member.AvatarURL == "" {
			member.AvatarURL = GravatarURL(member.Email)
		}
		if err := validateMember(member); err != nil {
			return err
		}
		next.Members = append(next.Members, member)
		return nil
	})
	if err != nil {
		return "", State{}, err
	}
	return id, state, nil
}

// UpdateMember replaces name and email. The avatar follows the email unless
// one is given explicitly.
func (m *Manager) UpdateMember(ctx context.Context, id MemberID, f MemberFields) (State, error) {
	return m.mutate(ctx, "update_member", func(next *State) error {
		i := indexOf(next.Members, func(x Member) bool { return x.ID == id })
		if i < 0 {
			return notFound("member", id)
		}
		member := next.Members[i]
		email := strings.TrimSpace(f.Email)
		switch {
		case f.AvatarURL != "":
			member.AvatarURL = f.AvatarURL
		case email != member.Email:
			member.AvatarURL = GravatarURL(email)
		}
		member.Name = strings.TrimSpace(f.Name)
		member.Email = email
		member.UpdatedAt = m.now()
		if err := validateMember(member); err != nil {
			return err
		}
		next.Members[i] = member
		return nil
	})
}

// DeleteMember removes a member with no expense or settlement activity and
// drops them from every group.
func (m *Manager) DeleteMember(ctx context.Context, id MemberID) (State, error) {
	return m.mutate(ctx, "delete_member", func(next *State) error {
		i := indexOf(next.Members, func(x Member) bool { return x.ID == id })
		if i < 0 {
			return notFound("member", id)
		}
		if next.HasActivity(id, "") {
			return invalid("member", "%s still has expenses or settlements", id)
		}
		next.Members = append(next.Members[:i], next.Members[i+1:]...)

		now := m.now()
		for g := range next.Groups {
			group := &next.Groups[g]
			if !group.HasMember(id) {
				continue
			}
			group.Members = removeID(group.Members, id)
			group.UpdatedAt = now
		}
		return nil
	})
}

// =============================================================================
// GROUPS
// =============================================================================

type GroupFields struct {
	Name     string
	Type     GroupType
	Currency Currency
	Members  []MemberID
}

func (f GroupFields) apply(g *Group) {
	g.Name = strings.TrimSpace(f.Name)
	g.Type = GroupType(strings.TrimSpace(string(f.Type)))
	if g.Type == "" {
		g.Type = GroupOthers
	}
	g.Currency = Currency(strings.ToUpper(strings.TrimSpace(string(f.Currency))))
	if g.Currency == "" {
		g.Currency = USD
	}
	g.Members = append([]MemberID{}, f.Members...)
}

func (m *Manager) AddGroup(ctx context.Context, f GroupFields) (GroupID, State, error) {
	id := GroupID(m.newID())
	state, err := m.mutate(ctx, "add_group", func(next *State) error {
		now := m.now()
		group := Group{ID: id, CreatedAt: now, UpdatedAt: now}
		f.apply(&group)
		if err := ValidateGroup(*next, group); err != nil {
			return err
		}
		next.Groups = append(next.Groups, group)
		return nil
	})
	if err != nil {
		return "", State{}, err
	}
	return id, state, nil
}

// UpdateGroup replaces the group's fields. Members with activity in the
// group cannot be removed, and the currency is fixed once the group has
// any expense or settlement.
func (m *Manager) UpdateGroup(ctx context.Context, id GroupID, f GroupFields) (State, error) {
	return m.mutate(ctx, "update_group", func(next *State) error {
		i := indexOf(next.Groups, func(x Group) bool { return x.ID == id })
		if i < 0 {
			return notFound("group", id)
		}
		prev := next.Groups[i]
		group := prev
		f.apply(&group)
		group.UpdatedAt = m.now()

		for _, member := range prev.Members {
			if !group.HasMember(member) && next.HasActivity(member, id) {
				return invalid("members", "member %s has activity in this group and cannot be removed", member)
			}
		}
		active := len(next.GroupExpenses(id)) > 0 || len(next.GroupSettlements(id)) > 0
		if group.Currency != prev.Currency && active {
			return invalid("currency", "cannot change currency of a group with expenses or settlements")
		}
		if err := ValidateGroup(*next, group); err != nil {
			return err
		}
		next.Groups[i] = group
		return nil
	})
}

// DeleteGroup removes the group and every expense and settlement in it.
func (m *Manager) DeleteGroup(ctx context.Context, id GroupID) (State, error) {
	return m.mutate(ctx, "delete_group", func(next *State) error {
		i := indexOf(next.Groups, func(x Group) bool { return x.ID == id })
		if i < 0 {
			return notFound("group", id)
		}
		next.Groups = append(next.Groups[:i], next.Groups[i+1:]...)
		next.Expenses = filter(next.Expenses, func(e Expense) bool { return e.GroupID != id })
		next.Settlements = filter(next.Settlements, func(s Settlement) bool { return s.GroupID != id })
		return nil
	})
}

// =============================================================================
// EXPENSES
// =============================================================================

type ExpenseFields struct {
	GroupID      GroupID
	Description  string
	Amount       decimal.Decimal
	PaidBy       []MemberID
	SplitBetween []MemberID
	SplitMode    SplitMode
	SplitDetails map[MemberID]decimal.Decimal
	Date         time.Time
	Notes        string
}

func (f ExpenseFields) apply(e *Expense, now time.Time) {
	e.GroupID = f.GroupID
	e.Description = strings.TrimSpace(f.Description)
	e.Amount = f.Amount
	e.PaidBy = append([]MemberID{}, f.PaidBy...)
	e.SplitBetween = append([]MemberID{}, f.SplitBetween...)
	e.SplitMode = f.SplitMode
	e.SplitDetails = make(map[MemberID]decimal.Decimal, len(f.SplitDetails))
	for k, v := range f.SplitDetails {
		e.SplitDetails[k] = v
	}
	e.Date = f.Date
	if e.Date.IsZero() {
		e.Date = now
	}
	e.Notes = strings.TrimSpace(f.Notes)
	e.UpdatedAt = now
}

func (m *Manager) AddExpense(ctx context.Context, f ExpenseFields) (ExpenseID, State, error) {
	id := ExpenseID(m.newID())
	state, err := m.mutate(ctx, "add_expense", func(next *State) error {
		now := m.now()
		expense := Expense{ID: id, CreatedAt: now}
		f.apply(&expense, now)
		if err := ValidateExpense(*next, expense); err != nil {
			return err
		}
		next.Expenses = append(next.Expenses, expense)
		return nil
	})
	if err != nil {
		return "", State{}, err
	}
	return id, state, nil
}

func (m *Manager) UpdateExpense(ctx context.Context, id ExpenseID, f ExpenseFields) (State, error) {
	return m.mutate(ctx, "update_expense", func(next *State) error {
		i := indexOf(next.Expenses, func(x Expense) bool { return x.ID == id })
		if i < 0 {
			return notFound("expense", id)
		}
		expense := next.Expenses[i]
		f.apply(&expense, m.now())
		if err := ValidateExpense(*next, expense); err != nil {
			return err
		}
		next.Expenses[i] = expense
		return nil
	})
}

func (m *Manager) DeleteExpense(ctx context.Context, id ExpenseID) (State, error) {
	return m.mutate(ctx, "delete_expense", func(next *State) error {
		i := indexOf(next.Expenses, func(x Expense) bool { return x.ID == id })
		if i < 0 {
			return notFound("expense", id)
		}
		next.Expenses = append(next.Expenses[:i], next.Expenses[i+1:]...)
		return nil
	})
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

type SettlementFields struct {
	GroupID      GroupID
	FromMemberID MemberID
	ToMemberID   MemberID
	Amount       decimal.Decimal
	Date         time.Time
	Notes        string
}

func (m *Manager) AddSettlement(ctx context.Context, f SettlementFields) (SettlementID, State, error) {
	id := SettlementID(m.newID())
	state, err := m.mutate(ctx, "add_settlement", func(next *State) error {
		now := m.now()
		settlement := Settlement{
			ID:           id,
			GroupID:      f.GroupID,
			FromMemberID: f.FromMemberID,
			ToMemberID:   f.ToMemberID,
			Amount:       f.Amount,
			Date:         f.Date,
			Notes:        strings.TrimSpace(f.Notes),
			CreatedAt:    now,
		}
		if settlement.Date.IsZero() {
			settlement.Date = now
		}
		if err := ValidateSettlement(*next, settlement); err != nil {
			return err
		}
		next.Settlements = append(next.Settlements, settlement)
		return nil
	})
	if err != nil {
		return "", State{}, err
	}
	return id, state, nil
}

func (m *Manager) DeleteSettlement(ctx context.Context, id SettlementID) (State, error) {
	return m.mutate(ctx, "delete_settlement", func(next *State) error {
		i := indexOf(next.Settlements, func(x Settlement) bool { return x.ID == id })
		if i < 0 {
			return notFound("settlement", id)
		}
		next.Settlements = append(next.Settlements[:i], next.Settlements[i+1:]...)
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// GravatarURL derives an identicon avatar from an email. Empty email gives "".
func GravatarURL(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := md5.Sum([]byte(email))
	return "https://www.gravatar.com/avatar/" + hex.EncodeToString(sum[:]) + "?d=identicon"
}

func indexOf[T any](items []T, match func(T) bool) int {
	for i, item := range items {
		if match(item) {
			return i
		}
	}
	return -1
}

func filter[T any](items []T, keep func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if keep(item) {
			out = append(out, item)
		}
	}
	return out
}

func removeID(ids []MemberID, id MemberID) []MemberID {
	out := make([]MemberID, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}
