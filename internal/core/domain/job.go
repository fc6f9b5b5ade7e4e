package domain

import "time"

// JobRecord is the audit entry written for every print attempt.
type JobRecord struct {
	JobID       string        `json:"job_id"`
	Address     string        `json:"address"`
	Format      Format        `json:"format"`
	Success     bool          `json:"success"`
	Code        ErrorCode     `json:"code,omitempty"`
	Attempts    int           `json:"attempts"`
	Elapsed     time.Duration `json:"elapsed"`
	Corrections []string      `json:"corrections,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}
