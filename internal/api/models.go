package api

import "time"

// ScanRequest triggers one scan cycle for a contract/event pair, overriding
// the process-wide config's contract selection for this one job.
type ScanRequest struct {
	ContractAddress string `json:"contract_address"`
	Event           string `json:"event"`
	StartBlock      uint64 `json:"start_block,omitempty"`
	EndBlock        uint64 `json:"end_block,omitempty"`
}

// ScanResponse is returned immediately after a job is accepted.
type ScanResponse struct {
	JobID string `json:"job_id"`
}

// JobStatus represents the runtime state of a launched scan job.
type JobStatus struct {
	JobID         string     `json:"job_id"`
	Status        string     `json:"status"` // queued | running | finished | error | cancelled
	Error         string     `json:"error,omitempty"`
	EventsWritten int        `json:"events_written"`
	CursorHeight  uint64     `json:"cursor_height"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}
