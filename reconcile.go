package treegive

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Outcome is the reconciler's classification of a payment round trip.
type Outcome struct {
	DonationID string
	State      CheckoutState
	Info       StatusInfo

	// OfferSignup is set on guest successes: the success view shows an
	// account-creation upsell pre-filled with the donation email.
	OfferSignup bool
}

// Reconciler determines the true payment outcome from the server after the
// donor returns from the payment provider.
type Reconciler struct {
	api      Client
	store    *StateStore
	interval time.Duration
	log      *slog.Logger
}

// NewReconciler builds a reconciler polling at cfg.PollInterval. logger may
// be nil.
func NewReconciler(cfg *Config, api Client, store *StateStore, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		api:      api,
		store:    store,
		interval: cfg.PollInterval,
		log:      logger,
	}
}

// ResolveReference picks the donation id for reconciliation: the return
// URL's query parameter is authoritative, the remembered lastDonationId is
// the fallback, and with neither the view is a dead reference.
func (r *Reconciler) ResolveReference(queryID string) (string, error) {
	if queryID != "" {
		return queryID, nil
	}
	if lastID, ok, err := r.store.LastDonationID(); err == nil && ok && lastID != "" {
		return lastID, nil
	}
	return "", ErrMissingReference
}

// Reconcile reads the donation's server status and classifies it. Re-running
// it against a completed donation re-renders the same success outcome; it
// never creates anything.
func (r *Reconciler) Reconcile(ctx context.Context, donationID string) (Outcome, error) {
	info, err := r.api.DonationStatus(ctx, donationID)
	if err != nil {
		return Outcome{}, fmt.Errorf("checking donation %s: %w", donationID, err)
	}
	return r.classify(donationID, info)
}

func (r *Reconciler) classify(donationID string, info StatusInfo) (Outcome, error) {
	out := Outcome{DonationID: donationID, Info: info}

	switch info.Status {
	case StatusCompleted:
		out.State = StateSuccess
		out.OfferSignup = info.IsGuest
		// The draft is spent once the donation is terminal.
		if err := r.store.ClearPending(); err != nil {
			r.log.Warn("could not clear pending draft", "error", err)
		}
	case StatusAwaitingPayment, StatusProcessing:
		out.State = StatePending
	case StatusCancelled, StatusFailed:
		// The donation record is left alone; retry means returning to
		// checkout, never replaying the payment automatically.
		out.State = StateFailure
	default:
		return Outcome{}, fmt.Errorf("unknown donation status %q", info.Status)
	}

	return out, nil
}

// PollHandle is a cancellable polling task. Cancel is safe to call more
// than once and after the poll has already finished; a cancelled poll makes
// no further status calls.
type PollHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the poll.
func (h *PollHandle) Cancel() {
	h.cancel()
}

// Done is closed once the polling goroutine has fully stopped.
func (h *PollHandle) Done() <-chan struct{} {
	return h.done
}

// Poll re-reads the donation status on a fixed interval until it leaves
// awaiting_payment, then delivers the classified outcome to onChange and
// stops. Individual poll failures are swallowed and retried on the next
// tick. The returned handle must be cancelled when the viewing component is
// torn down; after cancellation onChange is never invoked.
func (r *Reconciler) Poll(ctx context.Context, donationID string, onChange func(Outcome)) *PollHandle {
	ctx, cancel := context.WithCancel(ctx)
	handle := &PollHandle{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(handle.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			info, err := r.api.DonationStatus(ctx, donationID)
			if err != nil {
				r.log.Debug("poll failed, will retry", "donation_id", donationID, "error", err)
				continue
			}
			if info.Status == StatusAwaitingPayment {
				continue
			}

			out, err := r.classify(donationID, info)
			if err != nil {
				r.log.Warn("unclassifiable status during poll",
					"donation_id", donationID, "status", info.Status)
				continue
			}

			// Deliver only if not cancelled in the meantime; a timer that
			// fires after teardown must be a no-op.
			select {
			case <-ctx.Done():
			default:
				onChange(out)
			}
			return
		}
	}()

	return handle
}
