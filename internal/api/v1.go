package api

import "time"

// SchemaVersion is stamped into every response envelope.
const SchemaVersion = "v1"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
	Service       string    `json:"service"`
	Uptime        string    `json:"uptime"`
}

type StatusResponse struct {
	SchemaVersion string            `json:"schema_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Service       string            `json:"service"`
	Status        string            `json:"status"`
	FPS           int               `json:"fps,omitempty"`
	Quality       int               `json:"quality,omitempty"`
	Endpoints     map[string]string `json:"endpoints"`
}

type AdvanceResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	OK            bool      `json:"ok"`
	Outcome       string    `json:"outcome"`
	Attempts      int       `json:"attempts"`
	FallbackUsed  bool      `json:"fallback_used"`
}

type ActionItem struct {
	ActionID     string  `json:"action_id"`
	RequestedAt  string  `json:"requested_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	Outcome      string  `json:"outcome"`
	Attempts     int     `json:"attempts"`
	FallbackUsed bool    `json:"fallback_used"`
	BeforeDigest string  `json:"before_digest,omitempty"`
	AfterDigest  string  `json:"after_digest,omitempty"`
	DurationMs   int64   `json:"duration_ms"`
	ErrorCode    *string `json:"error_code,omitempty"`
}

type ActionsEnvelope struct {
	SchemaVersion string       `json:"schema_version"`
	GeneratedAt   time.Time    `json:"generated_at"`
	Actions       []ActionItem `json:"actions"`
}

type RestartItem struct {
	RestartID   string `json:"restart_id"`
	ObservedAt  string `json:"observed_at"`
	ProbeError  string `json:"probe_error,omitempty"`
	PreviousPID *int64 `json:"previous_pid,omitempty"`
	NewPID      *int64 `json:"new_pid,omitempty"`
}

type RestartsEnvelope struct {
	SchemaVersion string        `json:"schema_version"`
	GeneratedAt   time.Time     `json:"generated_at"`
	Restarts      []RestartItem `json:"restarts"`
}

type ArmRequest struct {
	TTLSeconds int `json:"ttl_seconds,omitempty"`
}

type ArmResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Token         string    `json:"token"`
	ExpiresAt     string    `json:"expires_at"`
}

type GuardStatusResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Armed         bool      `json:"armed"`
	ExpiresAt     *string   `json:"expires_at,omitempty"`
	Killed        bool      `json:"killed"`
	WindowActions int       `json:"window_actions"`
}

type ClickRequest struct {
	X int `json:"x"`
	Y int `json:"y"`
}

type TypeRequest struct {
	Text string `json:"text"`
}

type AckResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	OK            bool      `json:"ok"`
	Detail        string    `json:"detail,omitempty"`
}
