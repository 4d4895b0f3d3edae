package treegive

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeBackends runs a subtest against both store implementations.
func storeBackends(t *testing.T, fn func(t *testing.T, kv ClientStore)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})

	t.Run("sqlite", func(t *testing.T) {
		s, err := OpenSQLiteStore(filepath.Join(t.TempDir(), "store.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func TestClientStoreBasics(t *testing.T) {
	storeBackends(t, func(t *testing.T, kv ClientStore) {
		_, ok, err := kv.Get("missing")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, kv.Set("k", "v1"))
		v, ok, err := kv.Get("k")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "v1", v)

		require.NoError(t, kv.Set("k", "v2"))
		v, _, err = kv.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v2", v)

		require.NoError(t, kv.Remove("k"))
		_, ok, err = kv.Get("k")
		require.NoError(t, err)
		assert.False(t, ok)

		// Removing an absent key is not an error.
		require.NoError(t, kv.Remove("k"))
	})
}

func TestPendingDonationRoundTrip(t *testing.T) {
	storeBackends(t, func(t *testing.T, kv ClientStore) {
		store := NewStateStore(kv)

		saved := PendingDonation{
			Draft: Draft{
				LocationID: "loc_x",
				TreeCount:  7,
				Amount:     6993,
				DonorInfo:  DonorInfo{FullName: "Jane", Email: "jane@example.com", SubscribeUpdates: true},
			},
			Step: StepComplete,
		}
		require.NoError(t, store.SavePending(saved))

		got, ok, err := store.LoadPending()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, saved, got, "every field survives the round trip")
	})
}

func TestLoadPendingDropsCorruptEntry(t *testing.T) {
	kv := NewMemoryStore()
	require.NoError(t, kv.Set("pendingDonation", "{not json"))

	store := NewStateStore(kv)

	_, ok, err := store.LoadPending()
	require.NoError(t, err)
	assert.False(t, ok)

	// The corrupt value is gone so the next checkout starts clean.
	_, present, err := kv.Get("pendingDonation")
	require.NoError(t, err)
	assert.False(t, present)
}

func TestCommitSubmission(t *testing.T) {
	store := NewStateStore(NewMemoryStore())
	require.NoError(t, store.SavePending(PendingDonation{Draft: Draft{TreeCount: 2}, Step: StepComplete}))

	require.NoError(t, store.CommitSubmission("don_1"))

	_, ok, err := store.LoadPending()
	require.NoError(t, err)
	assert.False(t, ok, "the pending draft gives way to the resumption id")

	id, ok, err := store.LastDonationID()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "don_1", id)
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")

	s, err := OpenSQLiteStore(path)
	require.NoError(t, err)
	store := NewStateStore(s)
	require.NoError(t, store.SetAuthToken("tok_durable"))
	require.NoError(t, store.CommitSubmission("don_1"))
	require.NoError(t, s.Close())

	s, err = OpenSQLiteStore(path)
	require.NoError(t, err)
	defer s.Close()
	store = NewStateStore(s)

	token, ok, err := store.AuthToken()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tok_durable", token)

	id, ok, err := store.LastDonationID()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "don_1", id)
}

func TestDonationSummaries(t *testing.T) {
	store := NewStateStore(NewMemoryStore())

	summaries, err := store.DonationSummaries()
	require.NoError(t, err)
	assert.Empty(t, summaries)

	first := DonationSummary{
		ID:     "don_1",
		Date:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Trees:  2,
		Amount: 1998,
		Status: "awaiting_payment",
	}
	require.NoError(t, store.AppendDonationSummary(first))
	require.NoError(t, store.AppendDonationSummary(DonationSummary{ID: "don_2", Trees: 1, Amount: 999}))

	summaries, err = store.DonationSummaries()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, first, summaries[0])
	assert.Equal(t, "don_2", summaries[1].ID)
}

func TestGuestIdentityLifecycle(t *testing.T) {
	store := NewStateStore(NewMemoryStore())

	_, ok, err := store.GuestUserID()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetGuestUserID("guest_1"))
	require.NoError(t, store.SetGuestUserID("guest_2"))

	id, ok, err := store.GuestUserID()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "guest_2", id, "last write wins")

	require.NoError(t, store.ClearGuestUserID())
	_, ok, err = store.GuestUserID()
	require.NoError(t, err)
	assert.False(t, ok)
}
