package treegive

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"
)

// CheckoutState is the position of the checkout flow.
type CheckoutState string

const (
	// StateSelecting is the quantity/location/donor capture step.
	StateSelecting CheckoutState = "selecting"
	// StateAwaitingPayment is the payment step: the server record may
	// already exist and the donor is headed to (or back from) the provider.
	StateAwaitingPayment CheckoutState = "awaiting_payment"
	// StateReconciling means the return flow is determining the true
	// payment outcome from the server.
	StateReconciling CheckoutState = "reconciling"
	// StateSuccess is the paid terminal.
	StateSuccess CheckoutState = "success"
	// StateFailure is the declined/cancelled terminal.
	StateFailure CheckoutState = "failure"
	// StatePending is the still-awaiting-confirmation terminal; the
	// reconciler keeps polling while the flow sits here.
	StatePending CheckoutState = "pending"
)

// String returns the string representation of the state.
func (s CheckoutState) String() string {
	return string(s)
}

// Terminal reports whether the state has no further automatic transition.
func (s CheckoutState) Terminal() bool {
	return s == StateSuccess || s == StateFailure || s == StatePending
}

// Navigator performs a full browser navigation, tearing down in-memory
// state. Injected so the state machine is testable without a browser.
type Navigator interface {
	Navigate(url string)
}

// UserSource reports the current authenticated user, if any. The checkout
// consults it at submission time, never earlier, since the donor may log in
// between steps.
type UserSource interface {
	CurrentUser() (User, bool)
}

// Checkout orchestrates the donation flow: step sequencing, draft
// persistence, payment submission, and the provider handoff.
type Checkout struct {
	cfg     *Config
	api     Client
	store   *StateStore
	session UserSource
	nav     Navigator
	log     *slog.Logger

	state CheckoutState
	draft Draft
}

// NewCheckout wires a checkout flow. logger may be nil.
func NewCheckout(cfg *Config, api Client, store *StateStore, session UserSource, nav Navigator, logger *slog.Logger) *Checkout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkout{
		cfg:     cfg,
		api:     api,
		store:   store,
		session: session,
		nav:     nav,
		log:     logger,
		state:   StateSelecting,
		draft:   NewDraft(cfg.UnitPrice),
	}
}

// State returns the flow's current position.
func (c *Checkout) State() CheckoutState {
	return c.state
}

// Draft returns the donation being assembled.
func (c *Checkout) Draft() Draft {
	return c.draft
}

// Initialize establishes the starting state when the checkout view mounts.
// A remembered donation id whose server status is completed short-circuits
// straight to the success terminal, so re-entering checkout can never
// re-charge. A persisted draft with a step=complete marker resumes at the
// payment step. Otherwise the flow starts fresh, auto-selecting a planting
// site when the draft has none.
func (c *Checkout) Initialize(ctx context.Context) error {
	if lastID, ok, err := c.store.LastDonationID(); err == nil && ok {
		info, statusErr := c.api.DonationStatus(ctx, lastID)
		if statusErr == nil && info.Status.Paid() {
			c.log.Info("returning donor already paid, short-circuiting to success",
				"donation_id", lastID)
			c.state = StateSuccess
			return nil
		}
		if statusErr != nil {
			c.log.Warn("could not check remembered donation, starting over",
				"donation_id", lastID, "error", statusErr)
		}
	}

	if pending, ok, err := c.store.LoadPending(); err == nil && ok && pending.Step == StepComplete {
		c.draft = pending.Draft
		c.state = StateAwaitingPayment
		c.log.Info("restored persisted draft at payment step",
			"tree_count", c.draft.TreeCount, "location", c.draft.LocationID)
		return nil
	}

	c.draft = NewDraft(c.cfg.UnitPrice)
	c.state = StateSelecting
	if c.draft.LocationID == "" {
		c.draft.LocationID = c.pickLocation(ctx)
	}
	return nil
}

// pickLocation selects a random available planting site, falling back to
// the configured default id when the list cannot be fetched or is empty.
func (c *Checkout) pickLocation(ctx context.Context) string {
	locations, err := c.api.ListLocations(ctx)
	if err != nil || len(locations) == 0 {
		c.log.Warn("location list unavailable, using default",
			"default", c.cfg.DefaultLocationID, "error", err)
		return c.cfg.DefaultLocationID
	}

	available := locations[:0]
	for _, loc := range locations {
		if loc.Status == "" || loc.Status == "active" {
			available = append(available, loc)
		}
	}
	if len(available) == 0 {
		return c.cfg.DefaultLocationID
	}
	return available[rand.Intn(len(available))].ID
}

// UpdateDraft merges partial fields into the draft. Amount is recomputed
// whenever the tree count changes, and the count never drops below 1.
func (c *Checkout) UpdateDraft(upd DraftUpdate) Draft {
	if c.state.Terminal() || c.state == StateReconciling {
		return c.draft
	}
	c.draft = c.draft.merge(upd, c.cfg.UnitPrice, c.cfg.MaxTrees)
	return c.draft
}

// Advance moves to the next step.
func (c *Checkout) Advance() {
	if c.state == StateSelecting {
		c.state = StateAwaitingPayment
	}
}

// Retreat moves to the previous step; from the first step it exits checkout
// entirely and navigates home.
func (c *Checkout) Retreat() {
	switch c.state {
	case StateAwaitingPayment:
		c.state = StateSelecting
	case StateSelecting:
		c.nav.Navigate("/")
	}
}

// SaveForReturn persists the draft with the given step marker. It must be
// called before any navigation away from the page (a login detour, the
// provider redirect), since navigation tears down in-memory state.
func (c *Checkout) SaveForReturn(step string) error {
	return c.store.SavePending(PendingDonation{Draft: c.draft, Step: step})
}

// StartFresh discards persisted checkout state and resets the draft,
// beginning a new donation.
func (c *Checkout) StartFresh(ctx context.Context) error {
	if err := c.store.ClearPending(); err != nil {
		return err
	}
	if err := c.store.ClearLastDonationID(); err != nil {
		return err
	}
	c.draft = NewDraft(c.cfg.UnitPrice)
	c.state = StateSelecting
	if c.draft.LocationID == "" {
		c.draft.LocationID = c.pickLocation(ctx)
	}
	return nil
}

// SubmitForPayment creates the donation record and hands the donor to the
// payment provider. The creation call and the payment-initiation call are
// sequential and never parallelized: initiation needs the id creation
// returns. On failure at any point, no donation id is remembered and the
// draft stays editable; guest identity, once issued by the backend, is kept
// so a later registration can still claim the record.
func (c *Checkout) SubmitForPayment(ctx context.Context) error {
	if c.state != StateSelecting && c.state != StateAwaitingPayment {
		return fmt.Errorf("cannot submit from state %s", c.state)
	}

	if err := c.draft.validate(); err != nil {
		return err
	}

	_, authenticated := c.session.CurrentUser()

	var (
		donation Donation
		err      error
	)
	if authenticated {
		donation, err = c.api.CreateDonation(ctx, c.draft)
	} else {
		donation, err = c.api.CreateGuestDonation(ctx, c.draft)
	}
	if err != nil {
		c.log.Error("donation creation failed", "error", err)
		return fmt.Errorf("creating donation: %w", err)
	}

	if !authenticated && donation.UserID != "" {
		if err := c.store.SetGuestUserID(donation.UserID); err != nil {
			return fmt.Errorf("persisting guest identity: %w", err)
		}
	}

	session, err := c.api.InitiatePayment(ctx, donation.ID, !authenticated)
	if err != nil {
		c.log.Error("payment initiation failed", "donation_id", donation.ID, "error", err)
		return fmt.Errorf("initiating payment: %w", err)
	}
	if !session.Success {
		return ConfigurationError{Detail: session.Message}
	}
	if session.CheckoutURL == "" {
		return ConfigurationError{Detail: "payment session carried no checkout URL"}
	}

	// Adjacent writes, no suspension point between them: the server record
	// now exists, so the pending draft gives way to the resumption id.
	if err := c.store.CommitSubmission(donation.ID); err != nil {
		return fmt.Errorf("recording submission: %w", err)
	}
	if err := c.store.AppendDonationSummary(DonationSummary{
		ID:       donation.ID,
		Date:     time.Now(),
		Location: c.draft.LocationID,
		Trees:    c.draft.TreeCount,
		Amount:   c.draft.Amount,
		Status:   StatusAwaitingPayment.String(),
		Email:    c.draft.DonorInfo.Email,
	}); err != nil {
		c.log.Warn("could not record local donation summary", "error", err)
	}

	c.state = StateAwaitingPayment
	c.log.Info("handing off to payment provider",
		"donation_id", donation.ID, "order_id", session.OrderID, "guest", !authenticated)
	c.nav.Navigate(session.CheckoutURL)
	return nil
}
