package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/ledger/store"
)

// legacyBlob is the browser-era layout: numeric amounts, no revision,
// capitalised modes, missing group type/currency and splitBetween.
const legacyBlob = `{
	"version": "1.0.0",
	"members": [
		{"id": "a", "name": "Ana", "email": "ana@example.com", "createdAt": "2024-01-15T10:00:00.000Z"},
		{"id": "b", "name": "Ben", "createdAt": 1705312800000}
	],
	"groups": [
		{"id": "g", "name": "Trip", "members": ["a", "b"], "createdAt": "2024-01-15"}
	],
	"expenses": [
		{
			"id": "e1", "groupId": "g", "description": "Taxi", "amount": 10.005,
			"paidBy": ["a"], "splitMode": "Equal",
			"splitDetails": {"a": 5.0025, "b": 5.0025},
			"date": "2024-01-16T09:30:00"
		},
		{
			"id": "e2", "groupId": "g", "description": "Snacks", "amount": 7,
			"paidBy": ["b"], "splitBetween": ["a", "b"], "splitMode": "Custom",
			"splitDetails": {}
		},
		{
			"id": "e3", "groupId": "g", "description": "Ghost", "amount": 3,
			"paidBy": [], "splitDetails": {}
		}
	],
	"settlements": [
		{"id": "s1", "groupId": "g", "fromMemberId": "b", "toMemberId": "a", "amount": 1.5, "date": "2024-01-17"}
	]
}`

// =============================================================================
// DECODE / MIGRATE
// =============================================================================

func TestDecodeState_MigratesLegacyLayout(t *testing.T) {
	// GIVEN: A 1.0.0 blob
	// WHEN: Decoding it
	// THEN: It comes back at the current version with repaired splits

	state, migrated, err := ledger.DecodeState([]byte(legacyBlob))
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Equal(t, ledger.CurrentVersion, state.Version)

	group, ok := state.Group("g")
	require.True(t, ok)
	assert.Equal(t, ledger.USD, group.Currency)
	assert.Equal(t, ledger.GroupOthers, group.Type)

	ben, _ := state.Member("b")
	assert.Equal(t, time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC), ben.CreatedAt)

	taxi, ok := state.Expense("e1")
	require.True(t, ok)
	assertDecimal(t, "10.01", taxi.Amount)
	assert.Equal(t, ledger.SplitEqual, taxi.SplitMode)
	assert.Equal(t, []ledger.MemberID{"a", "b"}, taxi.SplitBetween)
	assert.True(t, taxi.Amount.Equal(ledger.SumShares(taxi.SplitDetails)))
	assert.Equal(t, time.Date(2024, time.January, 16, 9, 30, 0, 0, time.UTC), taxi.Date)

	snacks, ok := state.Expense("e2")
	require.True(t, ok)
	assert.Equal(t, ledger.SplitManual, snacks.SplitMode)
	assertDecimal(t, "3.50", snacks.SplitDetails["a"])
	assertDecimal(t, "3.50", snacks.SplitDetails["b"])

	_, ok = state.Expense("e3")
	assert.False(t, ok, "expense with nobody involved is dropped")

	require.Len(t, state.Settlements, 1)
	assertDecimal(t, "1.50", state.Settlements[0].Amount)

	require.NoError(t, state.Check())
	balances, _ := ledger.ComputeBalances(state, "g")
	assert.True(t, ledger.SumNet(balances).IsZero())
}

func TestDecodeState_MissingVersionIsLegacy(t *testing.T) {
	state, migrated, err := ledger.DecodeState([]byte(`{"members":[{"id":"a","name":"Ana"}]}`))
	require.NoError(t, err)
	assert.True(t, migrated)
	assert.Len(t, state.Members, 1)
}

func TestDecodeState_CurrentVersionNotMigrated(t *testing.T) {
	raw, err := ledger.EncodeState(ledger.NewState())
	require.NoError(t, err)

	state, migrated, err := ledger.DecodeState(raw)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.NotNil(t, state.Expenses)
}

func TestDecodeState_UnknownVersion(t *testing.T) {
	_, _, err := ledger.DecodeState([]byte(`{"version":"99","members":[]}`))

	var verr *ledger.VersionError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "99", verr.Found)
	assert.ErrorIs(t, err, ledger.ErrUnsupportedVersion)
}

func TestDecodeState_Garbage(t *testing.T) {
	_, _, err := ledger.DecodeState([]byte(`not json`))
	assert.ErrorIs(t, err, ledger.ErrCorruptState)
}

// =============================================================================
// LOAD RECOVERY
// =============================================================================

func TestManager_Load_MigratesAndPersists(t *testing.T) {
	// GIVEN: A legacy blob in storage
	// WHEN: Loading
	// THEN: The migrated ledger is written back at the current version

	ctx := context.Background()
	kv := store.NewTxMemory()
	require.NoError(t, kv.Set(ctx, ledger.Collection, ledger.StateKey, []byte(legacyBlob)))

	m := newTestManager(t, kv, "m")

	assert.Equal(t, int64(1), m.Snapshot().Revision)
	raw, ok, err := kv.Get(ctx, ledger.Collection, ledger.StateKey)
	require.NoError(t, err)
	require.True(t, ok)
	stored, migrated, err := ledger.DecodeState(raw)
	require.NoError(t, err)
	assert.False(t, migrated)
	assert.Len(t, stored.Expenses, 2)
}

func TestManager_Load_CorruptBlobStartsEmpty(t *testing.T) {
	// GIVEN: A blob that isn't a ledger
	// WHEN: Loading, then adding a member
	// THEN: Load succeeds with an empty ledger and the write replaces the blob

	ctx := context.Background()
	kv := store.NewTxMemory()
	require.NoError(t, kv.Set(ctx, ledger.Collection, ledger.StateKey, []byte(`{{{`)))

	m := newTestManager(t, kv, "m")
	assert.Empty(t, m.Snapshot().Members)

	_, state, err := m.AddMember(ctx, ledger.MemberFields{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Revision)
}

func TestManager_Load_CorruptBodyKeepsStoredRevision(t *testing.T) {
	// GIVEN: A blob whose header reads fine but whose body does not decode
	// WHEN: Loading, then writing twice around a reload
	// THEN: The ledger starts empty at the stored revision and keeps accepting writes

	ctx := context.Background()
	kv := store.NewTxMemory()
	blob := `{"version":"2","revision":5,"members":"oops"}`
	require.NoError(t, kv.Set(ctx, ledger.Collection, ledger.StateKey, []byte(blob)))

	m := newTestManager(t, kv, "m")
	assert.Empty(t, m.Snapshot().Members)
	assert.Equal(t, int64(5), m.Snapshot().Revision)

	stored, err := m.StoredRevision(ctx)
	require.NoError(t, err)
	assert.Equal(t, m.Snapshot().Revision, stored)

	_, state, err := m.AddMember(ctx, ledger.MemberFields{Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, int64(6), state.Revision)

	require.NoError(t, m.Reload(ctx))
	assert.Len(t, m.Snapshot().Members, 1)

	_, state, err = m.AddMember(ctx, ledger.MemberFields{Name: "B"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), state.Revision)
	assert.Len(t, state.Members, 2)
}

func TestManager_Load_UnknownVersionFails(t *testing.T) {
	ctx := context.Background()
	kv := store.NewTxMemory()
	require.NoError(t, kv.Set(ctx, ledger.Collection, ledger.StateKey, []byte(`{"version":"7"}`)))

	m := ledger.NewManager(kv)
	err := m.Load(ctx)

	assert.ErrorIs(t, err, ledger.ErrUnsupportedVersion)
}
