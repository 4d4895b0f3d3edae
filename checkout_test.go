package treegive

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient is an in-memory Client; unset behaviors fail the call.
type fakeClient struct {
	locations    []Location
	locationsErr error

	createFn      func(Draft) (Donation, error)
	createGuestFn func(Draft) (Donation, error)
	paymentFn     func(id string, guest bool) (PaymentSession, error)
	statusFn      func(id string) (StatusInfo, error)
	loginFn       func(email, password string) (string, error)
	registerFn    func(Registration) error
	meFn          func() (User, error)

	mu           sync.Mutex
	createCalls  int
	guestCalls   int
	paymentCalls int
	statusCalls  int

	token         string
	registrations []Registration
}

func (f *fakeClient) counts() (create, guest, payment, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls, f.guestCalls, f.paymentCalls, f.statusCalls
}

func (f *fakeClient) ListLocations(context.Context) ([]Location, error) {
	return f.locations, f.locationsErr
}

func (f *fakeClient) CreateDonation(_ context.Context, d Draft) (Donation, error) {
	f.mu.Lock()
	f.createCalls++
	f.mu.Unlock()
	if f.createFn == nil {
		return Donation{}, errors.New("unexpected CreateDonation call")
	}
	return f.createFn(d)
}

func (f *fakeClient) CreateGuestDonation(_ context.Context, d Draft) (Donation, error) {
	f.mu.Lock()
	f.guestCalls++
	f.mu.Unlock()
	if f.createGuestFn == nil {
		return Donation{}, errors.New("unexpected CreateGuestDonation call")
	}
	return f.createGuestFn(d)
}

func (f *fakeClient) InitiatePayment(_ context.Context, id string, guest bool) (PaymentSession, error) {
	f.mu.Lock()
	f.paymentCalls++
	f.mu.Unlock()
	if f.paymentFn == nil {
		return PaymentSession{}, errors.New("unexpected InitiatePayment call")
	}
	return f.paymentFn(id, guest)
}

func (f *fakeClient) DonationStatus(_ context.Context, id string) (StatusInfo, error) {
	f.mu.Lock()
	f.statusCalls++
	f.mu.Unlock()
	if f.statusFn == nil {
		return StatusInfo{}, errors.New("unexpected DonationStatus call")
	}
	return f.statusFn(id)
}

func (f *fakeClient) Login(_ context.Context, email, password string) (string, error) {
	if f.loginFn == nil {
		return "", errors.New("unexpected Login call")
	}
	return f.loginFn(email, password)
}

func (f *fakeClient) Logout(context.Context) error {
	f.token = ""
	return nil
}

func (f *fakeClient) Register(_ context.Context, reg Registration) error {
	f.registrations = append(f.registrations, reg)
	if f.registerFn == nil {
		return nil
	}
	return f.registerFn(reg)
}

func (f *fakeClient) Me(context.Context) (User, error) {
	if f.meFn == nil {
		return User{}, errors.New("unexpected Me call")
	}
	return f.meFn()
}

func (f *fakeClient) MyDonations(context.Context) ([]DonationHistoryItem, error) {
	return nil, nil
}

func (f *fakeClient) MyCertificates(context.Context) ([]Certificate, error) {
	return nil, nil
}

func (f *fakeClient) SetToken(token string) { f.token = token }
func (f *fakeClient) ClearToken()           { f.token = "" }

// fakeNav records full-page navigations.
type fakeNav struct {
	targets []string
}

func (n *fakeNav) Navigate(url string) {
	n.targets = append(n.targets, url)
}

func (n *fakeNav) last() string {
	if len(n.targets) == 0 {
		return ""
	}
	return n.targets[len(n.targets)-1]
}

// staticSession is a UserSource fixed at construction.
type staticSession struct {
	user  User
	authn bool
}

func (s staticSession) CurrentUser() (User, bool) {
	return s.user, s.authn
}

func newTestCheckout(t *testing.T, api *fakeClient, authn bool) (*Checkout, *StateStore, *fakeNav) {
	t.Helper()
	store := NewStateStore(NewMemoryStore())
	nav := &fakeNav{}
	session := staticSession{authn: authn}
	if authn {
		session.user = User{ID: "user_1", Email: "jane@example.com"}
	}
	c := NewCheckout(DefaultConfig(), api, store, session, nav, slog.Default())
	return c, store, nav
}

func TestInitializeFresh(t *testing.T) {
	api := &fakeClient{locations: []Location{
		{ID: "loc_nursery_001", Status: "active"},
		{ID: "loc_karaganda_001", Status: "active"},
	}}
	c, _, _ := newTestCheckout(t, api, false)

	require.NoError(t, c.Initialize(context.Background()))

	assert.Equal(t, StateSelecting, c.State())
	assert.Contains(t, []string{"loc_nursery_001", "loc_karaganda_001"}, c.Draft().LocationID)
	assert.Equal(t, 1, c.Draft().TreeCount)
	assert.Equal(t, int64(999), c.Draft().Amount)
	assert.Equal(t, AnonymousDonor, c.Draft().DonorInfo)
}

func TestInitializeLocationFallback(t *testing.T) {
	api := &fakeClient{locationsErr: TransientError{Err: errors.New("connection refused")}}
	c, _, _ := newTestCheckout(t, api, false)

	require.NoError(t, c.Initialize(context.Background()))

	assert.Equal(t, "loc_nursery_001", c.Draft().LocationID)
}

func TestInitializeShortCircuitsCompletedDonation(t *testing.T) {
	api := &fakeClient{
		statusFn: func(id string) (StatusInfo, error) {
			assert.Equal(t, "don_1", id)
			return StatusInfo{Status: StatusCompleted, Amount: 4995, TreeCount: 5}, nil
		},
	}
	c, store, _ := newTestCheckout(t, api, false)
	require.NoError(t, store.CommitSubmission("don_1"))

	require.NoError(t, c.Initialize(context.Background()))

	assert.Equal(t, StateSuccess, c.State())
	// Re-entering checkout never re-charges: no creation or payment calls.
	assert.Zero(t, api.createCalls)
	assert.Zero(t, api.guestCalls)
	assert.Zero(t, api.paymentCalls)
}

func TestInitializeRestoresPendingDraft(t *testing.T) {
	api := &fakeClient{}
	c, store, _ := newTestCheckout(t, api, false)

	saved := Draft{
		LocationID: "loc_x",
		TreeCount:  3,
		Amount:     2997,
		DonorInfo:  DonorInfo{FullName: "Jane", Email: "jane@example.com", SubscribeUpdates: true},
	}
	require.NoError(t, store.SavePending(PendingDonation{Draft: saved, Step: StepComplete}))

	require.NoError(t, c.Initialize(context.Background()))

	// Lands on the payment step with the draft intact, field for field.
	assert.Equal(t, StateAwaitingPayment, c.State())
	assert.Equal(t, saved, c.Draft())
}

func TestUpdateDraftRecomputesAmount(t *testing.T) {
	api := &fakeClient{locationsErr: errors.New("down")}
	c, _, _ := newTestCheckout(t, api, false)
	require.NoError(t, c.Initialize(context.Background()))

	for _, count := range []int{1, 2, 5, 999, 1000} {
		n := count
		draft := c.UpdateDraft(DraftUpdate{TreeCount: &n})
		assert.Equal(t, int64(count)*999, draft.Amount, "treeCount=%d", count)
	}
}

func TestUpdateDraftClampsTreeCount(t *testing.T) {
	api := &fakeClient{locationsErr: errors.New("down")}
	c, _, _ := newTestCheckout(t, api, false)
	require.NoError(t, c.Initialize(context.Background()))

	zero := 0
	draft := c.UpdateDraft(DraftUpdate{TreeCount: &zero})
	assert.Equal(t, 1, draft.TreeCount)
	assert.Equal(t, int64(999), draft.Amount)

	huge := 5000
	draft = c.UpdateDraft(DraftUpdate{TreeCount: &huge})
	assert.Equal(t, 1000, draft.TreeCount)
	assert.Equal(t, int64(999000), draft.Amount)
}

func TestRetreatFromFirstStepExitsToHome(t *testing.T) {
	api := &fakeClient{locationsErr: errors.New("down")}
	c, _, nav := newTestCheckout(t, api, false)
	require.NoError(t, c.Initialize(context.Background()))

	c.Advance()
	assert.Equal(t, StateAwaitingPayment, c.State())

	c.Retreat()
	assert.Equal(t, StateSelecting, c.State())
	assert.Empty(t, nav.targets)

	c.Retreat()
	assert.Equal(t, "/", nav.last())
}

func TestSubmitGuestSuccess(t *testing.T) {
	api := &fakeClient{
		locationsErr: errors.New("down"),
		createGuestFn: func(d Draft) (Donation, error) {
			assert.Equal(t, 5, d.TreeCount)
			assert.Equal(t, int64(4995), d.Amount)
			return Donation{ID: "D1", UserID: "G1", IsGuest: true}, nil
		},
		paymentFn: func(id string, guest bool) (PaymentSession, error) {
			assert.Equal(t, "D1", id)
			assert.True(t, guest)
			return PaymentSession{Success: true, CheckoutURL: "https://pay/session", OrderID: "O1"}, nil
		},
	}
	c, store, nav := newTestCheckout(t, api, false)
	require.NoError(t, c.Initialize(context.Background()))

	five := 5
	c.UpdateDraft(DraftUpdate{TreeCount: &five})
	require.NoError(t, c.SubmitForPayment(context.Background()))

	lastID, ok, err := store.LastDonationID()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "D1", lastID)

	guestID, ok, err := store.GuestUserID()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "G1", guestID)

	_, pendingExists, err := store.LoadPending()
	require.NoError(t, err)
	assert.False(t, pendingExists)

	assert.Equal(t, "https://pay/session", nav.last())
	assert.Equal(t, StateAwaitingPayment, c.State())
	assert.Zero(t, api.createCalls, "guest submission must not touch the authenticated endpoint")
}

func TestSubmitAuthenticatedUsesAuthenticatedEndpoint(t *testing.T) {
	api := &fakeClient{
		locationsErr: errors.New("down"),
		createFn: func(d Draft) (Donation, error) {
			return Donation{ID: "don_9"}, nil
		},
		paymentFn: func(id string, guest bool) (PaymentSession, error) {
			assert.False(t, guest)
			return PaymentSession{Success: true, CheckoutURL: "https://pay/x"}, nil
		},
	}
	c, store, _ := newTestCheckout(t, api, true)
	require.NoError(t, c.Initialize(context.Background()))

	require.NoError(t, c.SubmitForPayment(context.Background()))

	assert.Equal(t, 1, api.createCalls)
	assert.Zero(t, api.guestCalls)

	// Authenticated submissions never leave a guest identity behind.
	_, hasGuest, err := store.GuestUserID()
	require.NoError(t, err)
	assert.False(t, hasGuest)
}

func TestSubmitPaymentInitiationFailure(t *testing.T) {
	api := &fakeClient{
		locationsErr: errors.New("down"),
		createGuestFn: func(d Draft) (Donation, error) {
			return Donation{ID: "D2", UserID: "G2"}, nil
		},
		paymentFn: func(id string, guest bool) (PaymentSession, error) {
			return PaymentSession{Success: false, Message: "gateway disabled"}, nil
		},
	}
	c, store, nav := newTestCheckout(t, api, false)
	require.NoError(t, c.Initialize(context.Background()))

	err := c.SubmitForPayment(context.Background())
	require.Error(t, err)

	var cfgErr ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	// No donation id is remembered and the draft stays editable.
	_, hasLast, lerr := store.LastDonationID()
	require.NoError(t, lerr)
	assert.False(t, hasLast)
	assert.Equal(t, StateSelecting, c.State())
	assert.Empty(t, nav.targets)
}

func TestSubmitMissingCheckoutURL(t *testing.T) {
	api := &fakeClient{
		locationsErr: errors.New("down"),
		createGuestFn: func(d Draft) (Donation, error) {
			return Donation{ID: "D3"}, nil
		},
		paymentFn: func(id string, guest bool) (PaymentSession, error) {
			return PaymentSession{Success: true}, nil
		},
	}
	c, store, _ := newTestCheckout(t, api, false)
	require.NoError(t, c.Initialize(context.Background()))

	err := c.SubmitForPayment(context.Background())
	require.Error(t, err)

	var cfgErr ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)

	_, hasLast, lerr := store.LastDonationID()
	require.NoError(t, lerr)
	assert.False(t, hasLast)
}

func TestSubmitCreationFailureLeavesNoState(t *testing.T) {
	api := &fakeClient{
		locationsErr: errors.New("down"),
		createGuestFn: func(d Draft) (Donation, error) {
			return Donation{}, TransientError{Err: errors.New("connection reset")}
		},
	}
	c, store, _ := newTestCheckout(t, api, false)
	require.NoError(t, c.Initialize(context.Background()))

	err := c.SubmitForPayment(context.Background())
	require.Error(t, err)
	assert.True(t, CanRetry(err))

	assert.Zero(t, api.paymentCalls, "payment must not be initiated without a donation id")

	_, hasLast, lerr := store.LastDonationID()
	require.NoError(t, lerr)
	assert.False(t, hasLast)

	_, hasGuest, gerr := store.GuestUserID()
	require.NoError(t, gerr)
	assert.False(t, hasGuest)
}

func TestSubmitValidatesDraft(t *testing.T) {
	api := &fakeClient{}
	c, _, _ := newTestCheckout(t, api, false)
	// No Initialize: the zero draft has no location.

	err := c.SubmitForPayment(context.Background())
	require.Error(t, err)

	var valErr ValidationError
	assert.ErrorAs(t, err, &valErr)
	assert.Zero(t, api.guestCalls)
}

func TestStartFreshDiscardsPersistedState(t *testing.T) {
	api := &fakeClient{locationsErr: errors.New("down")}
	c, store, _ := newTestCheckout(t, api, false)
	require.NoError(t, store.CommitSubmission("don_old"))
	require.NoError(t, store.SavePending(PendingDonation{Draft: Draft{TreeCount: 7}, Step: StepComplete}))

	require.NoError(t, c.StartFresh(context.Background()))

	_, hasLast, err := store.LastDonationID()
	require.NoError(t, err)
	assert.False(t, hasLast)

	_, hasPending, err := store.LoadPending()
	require.NoError(t, err)
	assert.False(t, hasPending)

	assert.Equal(t, StateSelecting, c.State())
	assert.Equal(t, 1, c.Draft().TreeCount)
}
