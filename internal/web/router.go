// Package web exposes the checkout core over HTTP for the browser client.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ormanly/treegive"
)

// Handler holds the wired checkout core behind the HTTP surface.
type Handler struct {
	checkout   *treegive.Checkout
	session    *treegive.Session
	reconciler *treegive.Reconciler
	redirector *Redirector
	api        treegive.Client
	store      *treegive.StateStore
	log        *slog.Logger

	mu          sync.Mutex
	poll        *treegive.PollHandle
	pollGen     uint64
	lastOutcome *treegive.Outcome
}

// NewHandler wires the core components together.
func NewHandler(cfg *treegive.Config, api treegive.Client, store *treegive.StateStore, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	redirector := &Redirector{}
	session := treegive.NewSession(api, store, redirector, logger)
	checkout := treegive.NewCheckout(cfg, api, store, session, redirector, logger)
	reconciler := treegive.NewReconciler(cfg, api, store, logger)

	return &Handler{
		checkout:   checkout,
		session:    session,
		reconciler: reconciler,
		redirector: redirector,
		api:        api,
		store:      store,
		log:        logger,
	}
}

// Router builds the chi router with the common middleware stack.
func (h *Handler) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(h.requestLog)
	r.Use(chimw.Timeout(30 * time.Second))

	h.Routes(r)
	return r
}

// Routes mounts the checkout flow endpoints.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/checkout", h.InitializeCheckout)
	r.Post("/checkout/fresh", h.StartFresh)
	r.Patch("/checkout/draft", h.UpdateDraft)
	r.Post("/checkout/advance", h.Advance)
	r.Post("/checkout/retreat", h.Retreat)
	r.Post("/checkout/submit", h.Submit)

	r.Get("/payment/return", h.PaymentReturn)
	r.Get("/payment/outcome", h.PaymentOutcome)

	r.Get("/cabinet", h.Cabinet)

	r.Post("/login", h.Login)
	r.Post("/register", h.Register)
	r.Post("/logout", h.Logout)
}

func (h *Handler) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start).String(),
		)
	})
}

// RestoreSession revalidates any stored auth token on startup.
func (h *Handler) RestoreSession(ctx context.Context) error {
	return h.session.Restore(ctx)
}

// Close cancels any in-flight status poll. Bumping the generation drops a
// delivery that may already be past its cancellation check.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pollGen++
	if h.poll != nil {
		h.poll.Cancel()
		h.poll = nil
	}
}
