package treegive

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Store keys. These are the only durability mechanism the checkout core
// relies on across full page reloads and provider redirect round trips.
const (
	keyPendingDonation = "pendingDonation"
	keyLastDonationID  = "lastDonationId"
	keyGuestUserID     = "guestUserId"
	keyUserDonations   = "userDonations"
	keyAuthToken       = "authToken"
)

// ClientStore is durable key/value storage scoped to the client. It is
// injected so the state machine can be tested against an in-memory fake.
type ClientStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// MemoryStore is an in-process ClientStore used by tests and as a fallback
// when no durable path is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemoryStore) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

// PendingDonation is the serialized checkout draft plus its step marker,
// written before any navigation that tears down in-memory state.
type PendingDonation struct {
	Draft Draft  `json:"draft"`
	Step  string `json:"step"`
}

// StepComplete marks a pending donation persisted at the payment step; on
// restore the checkout jumps straight back there.
const StepComplete = "complete"

// StateStore wraps a ClientStore with the typed accessors the checkout core
// uses.
type StateStore struct {
	kv ClientStore
}

// NewStateStore wraps kv.
func NewStateStore(kv ClientStore) *StateStore {
	return &StateStore{kv: kv}
}

// SavePending persists the draft with its step marker.
func (s *StateStore) SavePending(p PendingDonation) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal pending donation: %w", err)
	}
	return s.kv.Set(keyPendingDonation, string(data))
}

// LoadPending restores a persisted draft. ok is false when none exists or
// the stored value cannot be decoded; a corrupt entry is dropped so a fresh
// checkout can start.
func (s *StateStore) LoadPending() (PendingDonation, bool, error) {
	raw, ok, err := s.kv.Get(keyPendingDonation)
	if err != nil || !ok {
		return PendingDonation{}, false, err
	}

	var p PendingDonation
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		_ = s.kv.Remove(keyPendingDonation)
		return PendingDonation{}, false, nil
	}
	return p, true, nil
}

// ClearPending removes any persisted draft.
func (s *StateStore) ClearPending() error {
	return s.kv.Remove(keyPendingDonation)
}

// LastDonationID returns the most recent donation id submitted for payment.
func (s *StateStore) LastDonationID() (string, bool, error) {
	return s.kv.Get(keyLastDonationID)
}

// ClearLastDonationID forgets the remembered donation id.
func (s *StateStore) ClearLastDonationID() error {
	return s.kv.Remove(keyLastDonationID)
}

// CommitSubmission records the outcome of a successful payment initiation:
// the pending draft is no longer needed once the server record exists, and
// the donation id becomes the resumption reference. The two writes are
// adjacent with no suspension point between them.
func (s *StateStore) CommitSubmission(donationID string) error {
	if err := s.kv.Remove(keyPendingDonation); err != nil {
		return err
	}
	return s.kv.Set(keyLastDonationID, donationID)
}

// GuestUserID returns the guest identity token from an earlier guest
// donation, if any. Concurrent guest donations overwrite it last-write-wins.
func (s *StateStore) GuestUserID() (string, bool, error) {
	return s.kv.Get(keyGuestUserID)
}

// SetGuestUserID remembers the guest identity token for later claiming.
func (s *StateStore) SetGuestUserID(id string) error {
	return s.kv.Set(keyGuestUserID, id)
}

// ClearGuestUserID forgets the guest identity token, called once a
// registration has claimed it.
func (s *StateStore) ClearGuestUserID() error {
	return s.kv.Remove(keyGuestUserID)
}

// AuthToken returns the stored bearer token.
func (s *StateStore) AuthToken() (string, bool, error) {
	return s.kv.Get(keyAuthToken)
}

// SetAuthToken stores the bearer token.
func (s *StateStore) SetAuthToken(token string) error {
	return s.kv.Set(keyAuthToken, token)
}

// ClearAuthToken removes the stored bearer token.
func (s *StateStore) ClearAuthToken() error {
	return s.kv.Remove(keyAuthToken)
}

// AppendDonationSummary adds a local record of a submitted donation to the
// history list the cabinet renders.
func (s *StateStore) AppendDonationSummary(rec DonationSummary) error {
	summaries, err := s.DonationSummaries()
	if err != nil {
		return err
	}
	summaries = append(summaries, rec)

	data, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("failed to marshal donation summaries: %w", err)
	}
	return s.kv.Set(keyUserDonations, string(data))
}

// DonationSummaries returns the locally recorded donation history.
func (s *StateStore) DonationSummaries() ([]DonationSummary, error) {
	raw, ok, err := s.kv.Get(keyUserDonations)
	if err != nil || !ok {
		return nil, err
	}

	var summaries []DonationSummary
	if err := json.Unmarshal([]byte(raw), &summaries); err != nil {
		return nil, nil
	}
	return summaries, nil
}
