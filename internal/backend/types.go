package backend

import "time"

// UnlimitedBalance is the sentinel balance the backend returns for
// unlimited/admin accounts. The local cache is never updated from it.
const UnlimitedBalance = -1

// CreditBalance is the metered credit state owned by the backend.
// Invariant: Used = Total - Available.
type CreditBalance struct {
	Available int       `json:"available"`
	Total     int       `json:"total"`
	Used      int       `json:"used"`
	ResetAt   time.Time `json:"reset_at"`
}

// CreditStatus is the full entitlement snapshot for a user.
type CreditStatus struct {
	Balance      CreditBalance `json:"balance"`
	Plan         string        `json:"plan"`
	Features     []string      `json:"features"`
	MaxBulkItems int           `json:"max_bulk_items"`
}

// HasFeature reports whether the plan includes the named capability.
func (s *CreditStatus) HasFeature(name string) bool {
	for _, f := range s.Features {
		if f == name {
			return true
		}
	}
	return false
}

// ConsumeRequest debits credits for an operation.
type ConsumeRequest struct {
	// RequestID makes the debit idempotent across retries and queue
	// replays.
	RequestID string `json:"request_id"`

	// OperationType names what the credits pay for (e.g. "generate").
	OperationType string `json:"operation_type"`

	// ItemCount is the number of credits to debit.
	ItemCount int `json:"item_count"`

	// ReviewID ties the debit to the review being answered, when known.
	ReviewID string `json:"review_id,omitempty"`
}

// ConsumeResponse is the ledger's answer to a debit.
type ConsumeResponse struct {
	Success   bool   `json:"success"`
	Remaining int    `json:"remaining"`
	Error     string `json:"error,omitempty"`
}

// JobRequest asks the backend to run one generation job.
type JobRequest struct {
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
	ReviewID     string `json:"review_id"`
	Rating       int    `json:"rating"`

	// BusinessID is the optional contextual identifier resolved from
	// the page; generation proceeds without it.
	BusinessID string `json:"business_id,omitempty"`
}

// JobResponse is returned by the job-creation endpoint. The backend
// debits credits atomically with job creation; NewCreditBalance carries
// the post-debit available balance (or UnlimitedBalance).
type JobResponse struct {
	Success          bool   `json:"success"`
	JobID            string `json:"job_id"`
	NewCreditBalance int    `json:"new_credit_balance"`
	Error            string `json:"error,omitempty"`
}

// DirectResponse is returned by the synchronous legacy generation
// endpoint.
type DirectResponse struct {
	Text      string `json:"text"`
	Remaining int    `json:"remaining"`
}

// Backend error codes that need dedicated handling on the client.
const (
	ErrCodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	ErrCodeTrialAlreadyUsed    = "TRIAL_ALREADY_USED"
)

// APIError is the JSON error envelope the backend uses for non-2xx
// responses.
type APIError struct {
	Code       string `json:"error"`
	Message    string `json:"message,omitempty"`
	StatusCode int    `json:"-"`
}
