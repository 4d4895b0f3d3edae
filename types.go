package treegive

import "time"

// DonationStatus is the server-owned lifecycle state of a donation.
// The server is the sole writer; the client only ever reads it.
type DonationStatus string

const (
	// StatusAwaitingPayment indicates the donation exists but the provider
	// has not confirmed payment yet.
	StatusAwaitingPayment DonationStatus = "awaiting_payment"
	// StatusProcessing indicates the provider confirmed payment and the
	// backend is finalizing the donation.
	StatusProcessing DonationStatus = "processing"
	// StatusCompleted indicates the donation is paid and finalized.
	StatusCompleted DonationStatus = "completed"
	// StatusCancelled indicates the donor abandoned the provider checkout.
	StatusCancelled DonationStatus = "cancelled"
	// StatusFailed indicates the provider declined or errored the payment.
	StatusFailed DonationStatus = "failed"
)

// String returns the string representation of the status.
func (s DonationStatus) String() string {
	return string(s)
}

// Terminal reports whether no further automatic transition is expected.
func (s DonationStatus) Terminal() bool {
	return s != StatusAwaitingPayment && s != StatusProcessing
}

// Paid reports whether the donation may be treated as paid. Presence of a
// provider redirect alone is never proof of payment.
func (s DonationStatus) Paid() bool {
	return s == StatusCompleted
}

// Location represents a planting site offered for donations.
type Location struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Region      string  `json:"region"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Status      string  `json:"status"`
	TreesTarget int     `json:"trees_target"`
	TreesFunded int     `json:"trees_funded"`
}

// DonorInfo carries the contact details attached to a donation.
type DonorInfo struct {
	FullName         string `json:"full_name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	CompanyName      string `json:"company_name"`
	Message          string `json:"message"`
	SubscribeUpdates bool   `json:"subscribe_updates"`
}

// Donation is the server-assigned donation record reference returned by the
// creation endpoints. UserID is the guest identity placeholder when the
// donation was created without an authenticated session.
type Donation struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	IsGuest   bool   `json:"is_guest"`
	CreatedAt string `json:"created_at"`
}

// StatusInfo is the reconciliation view of a donation as reported by the
// status endpoint.
type StatusInfo struct {
	Status               DonationStatus `json:"status"`
	Amount               int64          `json:"amount"`
	TreeCount            int            `json:"tree_count"`
	CertificateAvailable bool           `json:"certificate_available"`
	CertificateURL       string         `json:"certificate_url"`
	IsGuest              bool           `json:"is_guest"`
	Email                string         `json:"email"`
}

// PaymentSession is the provider handoff returned by payment initiation.
// Success with an empty CheckoutURL is an integration misconfiguration, not
// a declined payment.
type PaymentSession struct {
	Success     bool   `json:"success"`
	CheckoutURL string `json:"checkout_url"`
	OrderID     string `json:"order_id"`
	Message     string `json:"message"`
}

// User is the authenticated profile record.
type User struct {
	ID          string `json:"id"`
	FullName    string `json:"full_name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	CompanyName string `json:"company_name"`
	Role        string `json:"role"`
	CreatedAt   string `json:"created_at"`
	LastLogin   string `json:"last_login"`
}

// IsAdmin reports whether the user should be routed to the admin surface.
func (u User) IsAdmin() bool {
	return u.Role == "admin"
}

// Certificate is a planting certificate available to an account.
type Certificate struct {
	ID         string `json:"id"`
	DonationID string `json:"donation_id"`
	URL        string `json:"url"`
	IssuedAt   string `json:"issued_at"`
}

// DonationSummary is the local record of a submitted donation kept in the
// client store so the cabinet history renders without a round trip.
type DonationSummary struct {
	ID        string    `json:"id"`
	Date      time.Time `json:"date"`
	Location  string    `json:"location"`
	Trees     int       `json:"trees"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Email     string    `json:"email"`
}
