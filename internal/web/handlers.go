package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ormanly/treegive"
)

// checkoutView is the flow snapshot returned by most checkout endpoints.
type checkoutView struct {
	State    string         `json:"state"`
	Draft    treegive.Draft `json:"draft"`
	Redirect string         `json:"redirect,omitempty"`
}

// errorBody is the uniform failure response. Actions always offers at least
// one forward path; no terminal error state is a dead end.
type errorBody struct {
	Error     string   `json:"error"`
	Kind      string   `json:"kind"`
	Retryable bool     `json:"retryable"`
	Actions   []string `json:"actions"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the core's failure taxonomy onto HTTP responses.
func writeError(w http.ResponseWriter, err error) {
	var (
		valErr  treegive.ValidationError
		cfgErr  treegive.ConfigurationError
		authErr treegive.AuthError
	)

	switch {
	case errors.As(err, &valErr):
		writeJSON(w, http.StatusBadRequest, errorBody{
			Error: valErr.Error(), Kind: "validation", Retryable: true,
			Actions: []string{"fix_input"},
		})
	case errors.As(err, &cfgErr):
		// Provider misconfiguration: actionable but not a declined payment.
		writeJSON(w, http.StatusBadGateway, errorBody{
			Error: "payments are temporarily unavailable, please try again later",
			Kind:  "provider_configuration", Retryable: false,
			Actions: []string{"return_home", "return_to_checkout"},
		})
	case errors.As(err, &authErr):
		status := http.StatusUnauthorized
		kind := "credentials_invalid"
		switch authErr.Kind {
		case treegive.AuthFailureNoAccount:
			status, kind = http.StatusNotFound, "account_not_found"
		case treegive.AuthFailureUnreachable:
			status, kind = http.StatusBadGateway, "server_unreachable"
		}
		writeJSON(w, status, errorBody{
			Error: authErr.Error(), Kind: kind, Retryable: authErr.CanRetry(),
			Actions: []string{"retry_login", "register"},
		})
	case errors.Is(err, treegive.ErrMissingReference):
		writeJSON(w, http.StatusNotFound, errorBody{
			Error: "donation reference not found", Kind: "missing_reference", Retryable: false,
			Actions: []string{"return_to_checkout"},
		})
	case treegive.CanRetry(err):
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error: "could not reach the donation service", Kind: "transient", Retryable: true,
			Actions: []string{"retry"},
		})
	default:
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error: err.Error(), Kind: "internal", Retryable: false,
			Actions: []string{"return_home"},
		})
	}
}

func (h *Handler) view() checkoutView {
	return checkoutView{
		State:    h.checkout.State().String(),
		Draft:    h.checkout.Draft(),
		Redirect: h.redirector.Take(),
	}
}

// InitializeCheckout handles POST /checkout.
func (h *Handler) InitializeCheckout(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.Initialize(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view())
}

// StartFresh handles POST /checkout/fresh, discarding persisted state and
// beginning a new donation.
func (h *Handler) StartFresh(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.StartFresh(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view())
}

// draftUpdateRequest is the JSON body for PATCH /checkout/draft.
type draftUpdateRequest struct {
	LocationID *string             `json:"location_id"`
	TreeCount  *int                `json:"tree_count"`
	DonorInfo  *treegive.DonorInfo `json:"donor_info"`
}

// UpdateDraft handles PATCH /checkout/draft.
func (h *Handler) UpdateDraft(w http.ResponseWriter, r *http.Request) {
	var req draftUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, treegive.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	h.checkout.UpdateDraft(treegive.DraftUpdate{
		LocationID: req.LocationID,
		TreeCount:  req.TreeCount,
		DonorInfo:  req.DonorInfo,
	})
	writeJSON(w, http.StatusOK, h.view())
}

// Advance handles POST /checkout/advance.
func (h *Handler) Advance(w http.ResponseWriter, r *http.Request) {
	h.checkout.Advance()
	writeJSON(w, http.StatusOK, h.view())
}

// Retreat handles POST /checkout/retreat.
func (h *Handler) Retreat(w http.ResponseWriter, r *http.Request) {
	h.checkout.Retreat()
	writeJSON(w, http.StatusOK, h.view())
}

// Submit handles POST /checkout/submit: it runs the create-then-initiate
// sequence and answers with the provider redirect.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.SubmitForPayment(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view())
}

// outcomeView is the reconciliation response.
type outcomeView struct {
	DonationID  string              `json:"donation_id"`
	State       string              `json:"state"`
	Status      treegive.StatusInfo `json:"status"`
	OfferSignup bool                `json:"offer_signup"`
	Polling     bool                `json:"polling"`
}

// PaymentReturn handles GET /payment/return?donation_id=..., classifying
// the round-trip outcome. While the donation is still awaiting payment a
// background poll keeps the stored outcome fresh; it stops as soon as a
// terminal status is seen.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	id, err := h.reconciler.ResolveReference(r.URL.Query().Get("donation_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	out, err := h.reconciler.Reconcile(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	h.mu.Lock()
	h.lastOutcome = &out
	h.pollGen++
	gen := h.pollGen
	if h.poll != nil {
		h.poll.Cancel()
		h.poll = nil
	}
	polling := out.State == treegive.StatePending
	if polling {
		// The poll outlives this request; Close cancels it on shutdown.
		h.poll = h.reconciler.Poll(context.Background(), id, func(final treegive.Outcome) {
			h.deliverOutcome(gen, final)
		})
	}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, outcomeView{
		DonationID:  out.DonationID,
		State:       out.State.String(),
		Status:      out.Info,
		OfferSignup: out.OfferSignup,
		Polling:     polling,
	})
}

// deliverOutcome records a poll result. gen identifies the poll that
// produced it: a poll may pass its cancellation check and then block on the
// mutex while a newer return replaces it, so a delivery from a superseded
// generation is discarded rather than overwriting the newer outcome.
func (h *Handler) deliverOutcome(gen uint64, out treegive.Outcome) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if gen != h.pollGen {
		return
	}
	h.lastOutcome = &out
	if h.poll != nil {
		h.poll.Cancel()
		h.poll = nil
	}
}

// PaymentOutcome handles GET /payment/outcome, returning the most recent
// reconciliation result, refreshed in the background while a poll runs.
func (h *Handler) PaymentOutcome(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	out := h.lastOutcome
	polling := h.poll != nil
	h.mu.Unlock()

	if out == nil {
		writeError(w, treegive.ErrMissingReference)
		return
	}
	writeJSON(w, http.StatusOK, outcomeView{
		DonationID:  out.DonationID,
		State:       out.State.String(),
		Status:      out.Info,
		OfferSignup: out.OfferSignup,
		Polling:     polling,
	})
}

// loginRequest is the JSON body for POST /login.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Return   string `json:"return"`
	Step     string `json:"step"`
}

// Login handles POST /login and reports where the client should land next:
// checkout resumption takes precedence over role-based routing.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, treegive.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}

	if err := h.session.Login(r.Context(), req.Email, req.Password); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"redirect": h.session.RouteAfterLogin(req.Return, req.Step),
	})
}

// registerRequest is the JSON body for POST /register.
type registerRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone"`
}

// Register handles POST /register. Any guest identity token from an
// earlier guest donation is attached by the session gate and cleared once
// the account exists.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, treegive.ValidationError{Field: "body", Reason: "invalid JSON"})
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, treegive.ValidationError{Field: "email/password", Reason: "required"})
		return
	}

	err := h.session.Register(r.Context(), treegive.Registration{
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
		Phone:    req.Phone,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"message": "registered"})
}

// cabinetView is the donor cabinet response. LocalHistory is always
// present so the list renders before (or without) a backend round trip.
type cabinetView struct {
	User         *treegive.User                 `json:"user,omitempty"`
	Donations    []treegive.DonationHistoryItem `json:"donations,omitempty"`
	Certificates []treegive.Certificate         `json:"certificates,omitempty"`
	LocalHistory []treegive.DonationSummary     `json:"local_history"`
}

// Cabinet handles GET /cabinet. Guests see only the locally recorded
// donation history; an authenticated user additionally gets the backend's
// donation list and planting certificates.
func (h *Handler) Cabinet(w http.ResponseWriter, r *http.Request) {
	local, err := h.store.DonationSummaries()
	if err != nil {
		writeError(w, err)
		return
	}

	view := cabinetView{LocalHistory: local}

	if user, ok := h.session.CurrentUser(); ok {
		view.User = &user

		donations, err := h.api.MyDonations(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		certificates, err := h.api.MyCertificates(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		view.Donations = donations
		view.Certificates = certificates
	}

	writeJSON(w, http.StatusOK, view)
}

// Logout handles POST /logout as a user-initiated event.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.session.Logout(r.Context(), treegive.UserInitiated)
	writeJSON(w, http.StatusOK, map[string]string{"redirect": h.redirector.Take()})
}
