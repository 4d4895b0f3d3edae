package treegive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// Client is the gateway to the donation backend. It covers every endpoint
// the checkout flow consumes: locations, donation creation (authenticated
// and guest), payment initiation, status reads, auth, and the cabinet views.
type Client interface {
	// ListLocations retrieves the planting sites currently open for
	// donations.
	ListLocations(context.Context) ([]Location, error)

	// CreateDonation creates a donation record for the authenticated user.
	CreateDonation(context.Context, Draft) (Donation, error)

	// CreateGuestDonation creates a donation record without a session. The
	// returned UserID is the guest identity placeholder a later
	// registration can claim.
	CreateGuestDonation(context.Context, Draft) (Donation, error)

	// InitiatePayment asks the backend for a provider checkout session for
	// the donation. guest selects the guest-donations endpoint.
	InitiatePayment(ctx context.Context, donationID string, guest bool) (PaymentSession, error)

	// DonationStatus reads the server-owned status of a donation.
	DonationStatus(ctx context.Context, donationID string) (StatusInfo, error)

	// Login authenticates with Basic credentials and returns a bearer
	// token. Failures are classified as AuthError where the backend signal
	// allows it.
	Login(ctx context.Context, email, password string) (string, error)

	// Logout tells the backend to end the session. The call is best
	// effort; the local token is cleared regardless.
	Logout(context.Context) error

	// Register creates an account. A guest identity token, when present,
	// associates the guest's prior donations with the new account.
	Register(context.Context, Registration) error

	// Me retrieves the authenticated user's profile.
	Me(context.Context) (User, error)

	// MyDonations retrieves the authenticated user's donation history.
	MyDonations(context.Context) ([]DonationHistoryItem, error)

	// MyCertificates retrieves the authenticated user's planting
	// certificates.
	MyCertificates(context.Context) ([]Certificate, error)

	// SetToken installs the bearer token used on authenticated calls.
	SetToken(string)

	// ClearToken removes the bearer token.
	ClearToken()
}

// Registration is the payload for account creation.
type Registration struct {
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Phone       string `json:"phone"`
	GuestUserID string `json:"guest_user_id,omitempty"`
}

// DonationHistoryItem is one entry in a user's donation history.
type DonationHistoryItem struct {
	ID                   string         `json:"id"`
	LocationID           string         `json:"location_id"`
	LocationName         string         `json:"location_name"`
	TreeCount            int            `json:"tree_count"`
	Amount               int64          `json:"amount"`
	Status               DonationStatus `json:"status"`
	CreatedAt            string         `json:"created_at"`
	CertificateAvailable bool           `json:"certificate_available"`
	CertificateURL       string         `json:"certificate_url"`
}

type clientOption struct {
	baseURL    string
	token      string
	httpClient *http.Client
	doRetry    bool
	debug      bool
}

type gatewayClient struct {
	opts   clientOption
	client *http.Client
}

// ClientOption defines a function type for configuring client options.
type ClientOption func(*clientOption)

// WithBaseURL sets the backend root URL.
func WithBaseURL(url string) ClientOption {
	return func(opt *clientOption) {
		opt.baseURL = url
	}
}

// WithToken installs an initial bearer token, e.g. one restored from the
// client store.
func WithToken(token string) ClientOption {
	return func(opt *clientOption) {
		opt.token = token
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(opt *clientOption) {
		opt.httpClient = c
	}
}

// WithRetry enables backoff retries on safe reads when the backend signals
// a retry-later condition.
func WithRetry() ClientOption {
	return func(opt *clientOption) {
		opt.doRetry = true
	}
}

// NewClient creates a gateway client for the donation backend.
func NewClient(options ...ClientOption) (Client, error) {
	clientOptions := clientOption{
		baseURL: "http://127.0.0.1:5000",
	}

	for _, option := range options {
		option(&clientOptions)
	}

	if clientOptions.baseURL == "" {
		return nil, errors.New("missing base URL!")
	}

	httpClient := clientOptions.httpClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &gatewayClient{
		opts:   clientOptions,
		client: httpClient,
	}, nil
}

type retryableError struct {
	Err      error
	canRetry bool
}

func (e retryableError) Error() string {
	return e.Err.Error()
}

func (e retryableError) Unwrap() error {
	return e.Err
}

func (e retryableError) CanRetry() bool {
	return e.canRetry
}

// apiError is a non-2xx response from the backend.
type apiError struct {
	StatusCode int
	Message    string
}

func (e apiError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("HTTP error: %d", e.StatusCode)
}

func (e apiError) CanRetry() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

func (c *gatewayClient) SetToken(token string) {
	c.opts.token = token
}

func (c *gatewayClient) ClearToken() {
	c.opts.token = ""
}

type requestHeaders map[string]string

func (c *gatewayClient) makeRequest(ctx context.Context, method, endpoint string, body any, extra requestHeaders) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.opts.token)
	}
	for k, v := range extra {
		req.Header.Set(k, v)
	}

	if c.opts.debug {
		fmt.Println("Issuing request", fmt.Sprintf("%s %s %s", req.Method, req.URL.RequestURI(), req.Proto))
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, TransientError{Err: fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransientError{Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	if "retry later" == strings.ToLower(strings.TrimSpace(string(respBody))) {
		return nil, retryableError{Err: errors.New("backend asked to retry later"), canRetry: true}
	}

	if resp.StatusCode >= 400 {
		var errBody struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(respBody, &errBody)
		return nil, apiError{StatusCode: resp.StatusCode, Message: errBody.Message}
	}

	return respBody, nil
}

func (c *gatewayClient) ListLocations(ctx context.Context) ([]Location, error) {
	data, err := c.makeRequest(ctx, http.MethodGet, "/api/locations", nil, nil)

	if err != nil && c.opts.doRetry && CanRetry(err) {
		operation := func() ([]byte, error) {
			return c.makeRequest(ctx, http.MethodGet, "/api/locations", nil, nil)
		}
		data, err = backoff.Retry(ctx, operation, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	}
	if err != nil {
		return nil, err
	}

	var locations []Location
	if err := json.Unmarshal(data, &locations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal locations: %w", err)
	}

	return locations, nil
}

func (c *gatewayClient) CreateDonation(ctx context.Context, draft Draft) (Donation, error) {
	headers := requestHeaders{"Idempotency-Key": uuid.NewString()}

	data, err := c.makeRequest(ctx, http.MethodPost, "/api/donations", draft, headers)
	if err != nil {
		return Donation{}, err
	}

	var donation Donation
	if err := json.Unmarshal(data, &donation); err != nil {
		return Donation{}, fmt.Errorf("failed to unmarshal donation: %w", err)
	}

	return donation, nil
}

func (c *gatewayClient) CreateGuestDonation(ctx context.Context, draft Draft) (Donation, error) {
	headers := requestHeaders{"Idempotency-Key": uuid.NewString()}

	data, err := c.makeRequest(ctx, http.MethodPost, "/api/guest-donations", draft, headers)
	if err != nil {
		return Donation{}, err
	}

	var donation Donation
	if err := json.Unmarshal(data, &donation); err != nil {
		return Donation{}, fmt.Errorf("failed to unmarshal guest donation: %w", err)
	}
	donation.IsGuest = true

	return donation, nil
}

func (c *gatewayClient) InitiatePayment(ctx context.Context, donationID string, guest bool) (PaymentSession, error) {
	collection := "donations"
	if guest {
		collection = "guest-donations"
	}
	endpoint := fmt.Sprintf("/api/%s/%s/payment", collection, url.PathEscape(donationID))
	headers := requestHeaders{"Idempotency-Key": uuid.NewString()}

	data, err := c.makeRequest(ctx, http.MethodPost, endpoint, struct{}{}, headers)
	if err != nil {
		return PaymentSession{}, err
	}

	var session PaymentSession
	if err := json.Unmarshal(data, &session); err != nil {
		return PaymentSession{}, fmt.Errorf("failed to unmarshal payment session: %w", err)
	}

	return session, nil
}

func (c *gatewayClient) DonationStatus(ctx context.Context, donationID string) (StatusInfo, error) {
	endpoint := fmt.Sprintf("/api/donations/%s/status", url.PathEscape(donationID))

	data, err := c.makeRequest(ctx, http.MethodGet, endpoint, nil, nil)

	if err != nil && c.opts.doRetry && CanRetry(err) {
		operation := func() ([]byte, error) {
			return c.makeRequest(ctx, http.MethodGet, endpoint, nil, nil)
		}
		data, err = backoff.Retry(ctx, operation, backoff.WithBackOff(backoff.NewExponentialBackOff()))
	}
	if err != nil {
		return StatusInfo{}, err
	}

	var info StatusInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return StatusInfo{}, fmt.Errorf("failed to unmarshal donation status: %w", err)
	}

	return info, nil
}

func (c *gatewayClient) Login(ctx context.Context, email, password string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.baseURL+"/api/auth/login", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(email, password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", AuthError{Kind: AuthFailureUnreachable, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", AuthError{Kind: AuthFailureUnreachable, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", AuthError{Kind: AuthFailureNoAccount}
	case resp.StatusCode == http.StatusUnauthorized:
		return "", AuthError{Kind: AuthFailureBadCredentials}
	case resp.StatusCode >= 400:
		return "", AuthError{Kind: AuthFailureUnknown, Err: apiError{StatusCode: resp.StatusCode}}
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(respBody, &body); err != nil {
		return "", fmt.Errorf("failed to unmarshal login response: %w", err)
	}
	if body.Token == "" {
		return "", AuthError{Kind: AuthFailureUnknown, Err: errors.New("login response carried no token")}
	}

	c.opts.token = body.Token
	return body.Token, nil
}

func (c *gatewayClient) Logout(ctx context.Context) error {
	_, err := c.makeRequest(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.ClearToken()
	return err
}

func (c *gatewayClient) Register(ctx context.Context, reg Registration) error {
	_, err := c.makeRequest(ctx, http.MethodPost, "/api/auth/register", reg, nil)
	return err
}

func (c *gatewayClient) Me(ctx context.Context) (User, error) {
	data, err := c.makeRequest(ctx, http.MethodGet, "/api/users/me", nil, nil)
	if err != nil {
		return User{}, err
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return User{}, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return user, nil
}

func (c *gatewayClient) MyDonations(ctx context.Context) ([]DonationHistoryItem, error) {
	data, err := c.makeRequest(ctx, http.MethodGet, "/api/users/me/donations", nil, nil)
	if err != nil {
		return nil, err
	}

	var items []DonationHistoryItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to unmarshal donation history: %w", err)
	}

	return items, nil
}

func (c *gatewayClient) MyCertificates(ctx context.Context) ([]Certificate, error) {
	data, err := c.makeRequest(ctx, http.MethodGet, "/api/users/me/certificates", nil, nil)
	if err != nil {
		return nil, err
	}

	var certs []Certificate
	if err := json.Unmarshal(data, &certs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal certificates: %w", err)
	}

	return certs, nil
}
