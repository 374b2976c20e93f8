package entity

import (
	"time"

	"github.com/google/uuid"
)

// RunState is the lifecycle state of the crawl child process.
type RunState string

const (
	RunIdle    RunState = "idle"
	RunRunning RunState = "running"
	RunStopped RunState = "stopped"
	RunFailed  RunState = "failed"
)

// Run describes the latest crawl process started by the supervisor.
type Run struct {
	ID         uuid.UUID  `json:"id"`
	State      RunState   `json:"state"`
	PID        int        `json:"pid,omitempty"`
	LogFile    string     `json:"log_file,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Err        string     `json:"error,omitempty"`
}

// Summary counts what a crawl run did.
type Summary struct {
	ListingPages int64 `json:"listing_pages"`
	Candidates   int64 `json:"candidates"`
	Skipped      int64 `json:"skipped"`
	Dispatched   int64 `json:"dispatched"`
	Persisted    int64 `json:"persisted"`
	Rejected     int64 `json:"rejected"`
}
