package entity

import "time"

// RejectionRecord is the stored history of a URL the crawl had to drop.
type RejectionRecord struct {
	ID         int64        `json:"id"`
	URL        string       `json:"url"`
	Reason     RejectReason `json:"reason"`
	Error      string       `json:"error,omitempty"`
	Attempts   int          `json:"attempts"`
	LastSeenAt time.Time    `json:"last_seen_at"`
}
