package model

import "time"

// ActionRecord is one persisted advance call. Fingerprints are stored
// as digests only; subject lines never reach the database in the clear.
type ActionRecord struct {
	ActionID     string
	RequestedAt  time.Time
	CompletedAt  *time.Time
	Outcome      string
	Attempts     int
	FallbackUsed bool
	BeforeDigest string
	AfterDigest  string
	DurationMs   int64
	ErrorCode    *string
}

// RestartRecord is one watchdog-initiated stream server restart.
type RestartRecord struct {
	RestartID   string
	ObservedAt  time.Time
	ProbeError  string
	PreviousPID *int64
	NewPID      *int64
}
