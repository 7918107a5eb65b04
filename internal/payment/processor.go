// Package payment wraps the external payment dependency with error
// classification and a resilient gateway.
package payment

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDeclined is a business-level decline. Never retried; the caller
	// picks another method.
	ErrDeclined = errors.New("payment declined")
	// ErrTransient marks a failure worth retrying (5xx, connection reset).
	ErrTransient = errors.New("transient payment failure")
	// ErrTimeout marks a call that exceeded its deadline.
	ErrTimeout = errors.New("payment timed out")
	// ErrUnavailable is surfaced when the circuit is open or retries are
	// exhausted. Distinct from ErrDeclined so callers do not confuse a
	// down dependency with a legitimate decline.
	ErrUnavailable = errors.New("payment service unavailable")
)

// Charge describes a single payment attempt.
type Charge struct {
	CustomerID  string `json:"customer_id"`
	Method      string `json:"method"`
	AmountCents int    `json:"amount_cents"`
	Reference   string `json:"reference,omitempty"`
}

// Receipt is returned by the processor on success.
type Receipt struct {
	TransactionID string    `json:"transaction_id"`
	AmountCents   int       `json:"amount_cents"`
	ChargedAt     time.Time `json:"charged_at"`
}

// Processor is the external payment dependency. Implementations may block
// on network I/O; callers bound them with a context deadline.
type Processor interface {
	Charge(ctx context.Context, c Charge) (*Receipt, error)
}

// Retryable reports whether a charge failure is worth another attempt.
// Declines are final; transient faults and timeouts are not.
func Retryable(err error) bool {
	return errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, context.DeadlineExceeded)
}
