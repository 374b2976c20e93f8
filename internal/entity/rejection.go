package entity

import "fmt"

// RejectReason names why an item or page was dropped.
type RejectReason string

const (
	RejectNavigation        RejectReason = "navigation"
	RejectSellerInfoMissing RejectReason = "seller_info_missing"
	RejectSnapshot          RejectReason = "snapshot"
	RejectBrowser           RejectReason = "browser"
	RejectListingFetch      RejectReason = "listing_fetch"
	RejectSeedFetch         RejectReason = "seed_fetch"
	RejectRobots            RejectReason = "robots"
	RejectPersistence       RejectReason = "persistence"
)

// Rejection is the explicit "drop this item" result. Only seed fetch failures
// are fatal to a run.
type Rejection struct {
	URL    string
	Reason RejectReason
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err == nil {
		return fmt.Sprintf("%s: %s", r.Reason, r.URL)
	}
	return fmt.Sprintf("%s: %s: %v", r.Reason, r.URL, r.Err)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Fatal reports whether the rejection must abort the whole run.
func (r *Rejection) Fatal() bool {
	return r.Reason == RejectSeedFetch
}

// Reject builds a Rejection.
func Reject(url string, reason RejectReason, err error) *Rejection {
	return &Rejection{URL: url, Reason: reason, Err: err}
}
