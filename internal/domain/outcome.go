package domain

// OutcomeCode classifies the result of a transfer execution. Every
// execution resolves to exactly one code; nothing escapes the engine
// as an untyped failure.
type OutcomeCode string

const (
	// OutcomeCompleted covers both real transfers and the accepted
	// no-op cases (self-transfer, replayed transaction ID).
	OutcomeCompleted OutcomeCode = "completed"

	// OutcomeUnknownDestination means the destination subscriber has
	// no account. Accounts are never created implicitly.
	OutcomeUnknownDestination OutcomeCode = "unknown_destination"

	// OutcomeUnknownSource means the caller resolved to a subscriber
	// that was never provisioned an account.
	OutcomeUnknownSource OutcomeCode = "unknown_source"

	// OutcomeInvalidAmount means the amount was missing, malformed,
	// zero or negative.
	OutcomeInvalidAmount OutcomeCode = "invalid_amount"

	// OutcomeInsufficientFunds means the source balance was below the
	// requested amount. Both balances are untouched.
	OutcomeInsufficientFunds OutcomeCode = "insufficient_funds"

	// OutcomeTransient means the transfer could not acquire the
	// accounts or persist the journal entry in time. The caller may
	// retry; this is never conflated with a business rejection.
	OutcomeTransient OutcomeCode = "transient"
)

// Outcome is the typed result of one transfer execution.
type Outcome struct {
	TransactionID string      `json:"transaction_id"`
	Code          OutcomeCode `json:"code"`
	// NoOp marks an accepted execution that intentionally changed no
	// balances (self-transfer or duplicate transaction ID).
	NoOp   bool   `json:"no_op,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Accepted reports whether the caller should observe success.
func (o Outcome) Accepted() bool { return o.Code == OutcomeCompleted }

// Retryable reports whether the failure is transient rather than a
// definitive rejection.
func (o Outcome) Retryable() bool { return o.Code == OutcomeTransient }
