package response

import (
	"github.com/user/autoria-crawler/internal/entity"
)

// MessageResponse acknowledges a control action.
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// RunResponse reports the crawl process state.
type RunResponse struct {
	Message string     `json:"message,omitempty"`
	Run     entity.Run `json:"run"`
}

// LogsResponse lists run log files.
type LogsResponse struct {
	Logs []string `json:"logs"`
}

// ItemsResponse carries a page of listings.
type ItemsResponse struct {
	Count int               `json:"count"`
	Items []*entity.Listing `json:"items"`
}

// RejectionsResponse carries recently dropped URLs.
type RejectionsResponse struct {
	Count      int                       `json:"count"`
	Rejections []*entity.RejectionRecord `json:"rejections"`
}

// HealthResponse reports dependency health by name.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
