package treegive

// Draft is the client-side, not-yet-submitted representation of a donation.
// Amount is always derived from TreeCount; it is never edited independently.
type Draft struct {
	LocationID string    `json:"location_id"`
	TreeCount  int       `json:"tree_count"`
	Amount     int64     `json:"amount"`
	DonorInfo  DonorInfo `json:"donor_info"`
}

// AnonymousDonor is the placeholder used when the flow skips explicit donor
// entry.
var AnonymousDonor = DonorInfo{
	FullName: "Анонимный пользователь",
	Email:    "anonymous@example.com",
}

// DraftUpdate is a partial mutation merged into a Draft. Nil fields are
// left untouched.
type DraftUpdate struct {
	LocationID *string
	TreeCount  *int
	DonorInfo  *DonorInfo
}

// NewDraft returns a fresh draft with one tree, anonymous donor defaults,
// and the amount derived at unitPrice.
func NewDraft(unitPrice int64) Draft {
	return Draft{
		TreeCount: 1,
		Amount:    unitPrice,
		DonorInfo: AnonymousDonor,
	}
}

// merge applies upd, clamping TreeCount to [1, maxTrees] and recomputing
// Amount in the same transition whenever TreeCount changes. Last write wins;
// draft mutations are serialized through this single function.
func (d Draft) merge(upd DraftUpdate, unitPrice int64, maxTrees int) Draft {
	if upd.LocationID != nil {
		d.LocationID = *upd.LocationID
	}
	if upd.DonorInfo != nil {
		d.DonorInfo = *upd.DonorInfo
	}
	if upd.TreeCount != nil {
		count := *upd.TreeCount
		if count < 1 {
			count = 1
		}
		if count > maxTrees {
			count = maxTrees
		}
		d.TreeCount = count
	}
	d.Amount = int64(d.TreeCount) * unitPrice
	return d
}

// validate reports the first problem that should block submission.
func (d Draft) validate() error {
	if d.LocationID == "" {
		return ValidationError{Field: "location", Reason: "no planting site selected"}
	}
	if d.TreeCount < 1 {
		return ValidationError{Field: "tree_count", Reason: "must be at least 1"}
	}
	if d.DonorInfo.Email == "" {
		return ValidationError{Field: "email", Reason: "required"}
	}
	return nil
}
