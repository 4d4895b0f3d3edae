package treegive

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// AuthState tracks the identity gate.
type AuthState string

const (
	// AuthAnonymous means no session exists.
	AuthAnonymous AuthState = "anonymous"
	// AuthAuthenticating means a login attempt is in flight.
	AuthAuthenticating AuthState = "authenticating"
	// AuthAuthenticated means a profile was loaded for a valid token.
	AuthAuthenticated AuthState = "authenticated"
	// AuthFailed means the last attempt failed. It is not terminal: the
	// user may retry or switch to registration.
	AuthFailed AuthState = "auth_failed"
)

// LogoutCause tags who asked for a logout. Only intentional user actions
// reach the backend; system-initiated logouts (an invalid token discovered
// during restore) just drop local credentials.
type LogoutCause int

const (
	// UserInitiated is an explicit logout click.
	UserInitiated LogoutCause = iota
	// SystemInitiated is a forced credential drop after the backend
	// rejected the stored token.
	SystemInitiated
)

// Session is the identity gate: it owns the auth state machine, decides
// guest-vs-authenticated at submission time, and reconciles a deferred
// checkout across a login or registration detour.
type Session struct {
	api   Client
	store *StateStore
	nav   Navigator
	log   *slog.Logger

	state AuthState
	user  User
}

// NewSession builds an anonymous session. logger may be nil.
func NewSession(api Client, store *StateStore, nav Navigator, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		api:   api,
		store: store,
		nav:   nav,
		log:   logger,
		state: AuthAnonymous,
	}
}

// State returns the identity gate's position.
func (s *Session) State() AuthState {
	return s.state
}

// CurrentUser implements UserSource. The checkout consults it at the moment
// of submission, never a cached copy from earlier in the flow.
func (s *Session) CurrentUser() (User, bool) {
	if s.state != AuthAuthenticated {
		return User{}, false
	}
	return s.user, true
}

// Restore revalidates a stored token on startup. A token the backend
// rejects triggers a system-initiated logout; the user is never bounced by
// a transient backend failure.
func (s *Session) Restore(ctx context.Context) error {
	token, ok, err := s.store.AuthToken()
	if err != nil || !ok || token == "" {
		return err
	}

	s.api.SetToken(token)
	user, err := s.api.Me(ctx)
	if err != nil {
		if CanRetry(err) {
			// Backend unreachable: keep the token, stay logged out for now.
			s.api.ClearToken()
			return nil
		}
		s.log.Info("stored token rejected, dropping credentials")
		s.api.ClearToken()
		if err := s.store.ClearAuthToken(); err != nil {
			s.log.Warn("could not clear stored token", "error", err)
		}
		return nil
	}

	s.user = user
	s.state = AuthAuthenticated
	return nil
}

// Login runs the Anonymous → Authenticating → {Authenticated, AuthFailed}
// transition. The returned error distinguishes a missing account, wrong
// credentials, and an unreachable server where the backend signal allows.
func (s *Session) Login(ctx context.Context, email, password string) error {
	s.state = AuthAuthenticating

	token, err := s.api.Login(ctx, email, password)
	if err != nil {
		s.state = AuthFailed
		return err
	}

	user, err := s.api.Me(ctx)
	if err != nil {
		s.state = AuthFailed
		s.api.ClearToken()
		return fmt.Errorf("fetching profile after login: %w", err)
	}

	if err := s.store.SetAuthToken(token); err != nil {
		s.log.Warn("could not persist auth token", "error", err)
	}
	s.user = user
	s.state = AuthAuthenticated
	s.log.Info("login succeeded", "user_id", user.ID, "role", user.Role)
	return nil
}

// Register creates an account. A guest identity token left by an earlier
// guest donation is attached so that donation becomes the new account's,
// and is cleared only once the registration succeeded.
func (s *Session) Register(ctx context.Context, reg Registration) error {
	if guestID, ok, err := s.store.GuestUserID(); err == nil && ok {
		reg.GuestUserID = guestID
	}

	if err := s.api.Register(ctx, reg); err != nil {
		return err
	}

	if err := s.store.ClearGuestUserID(); err != nil {
		s.log.Warn("could not clear guest identity", "error", err)
	}
	return nil
}

// DeferToLogin persists the in-progress draft and redirects to the login
// page with a return marker, instead of discarding the donor's work. The
// persist happens before the navigation; navigation tears down memory.
func (s *Session) DeferToLogin(c *Checkout) error {
	if err := c.SaveForReturn(StepComplete); err != nil {
		return fmt.Errorf("persisting draft before login redirect: %w", err)
	}
	q := url.Values{}
	q.Set("return", "/donate")
	q.Set("step", StepComplete)
	s.nav.Navigate("/login?" + q.Encode())
	return nil
}

// RouteAfterLogin decides where a fresh login lands. A pending donation
// with a checkout-completion marker takes precedence over role routing;
// otherwise administrators go to the admin surface and everyone else to the
// donor cabinet.
func (s *Session) RouteAfterLogin(returnPath, stepMarker string) string {
	if returnPath == "/donate" {
		if pending, ok, err := s.store.LoadPending(); err == nil && ok &&
			(stepMarker == StepComplete || pending.Step == StepComplete) {
			return "/donate?step=" + StepComplete
		}
		return "/donate"
	}
	if s.user.IsAdmin() {
		return "/admin"
	}
	return "/cabinet"
}

// Logout ends the session. Only a user-initiated logout calls the backend;
// both causes drop local credentials, and a repeated trigger on an already
// anonymous session is a no-op rather than a second logout.
func (s *Session) Logout(ctx context.Context, cause LogoutCause) {
	if s.state == AuthAnonymous {
		return
	}

	if cause == UserInitiated {
		if err := s.api.Logout(ctx); err != nil {
			s.log.Warn("backend logout failed, clearing local session anyway", "error", err)
		}
	} else {
		s.api.ClearToken()
	}

	if err := s.store.ClearAuthToken(); err != nil {
		s.log.Warn("could not clear stored token", "error", err)
	}
	s.user = User{}
	s.state = AuthAnonymous

	if cause == UserInitiated {
		s.nav.Navigate("/")
	}
}
