package payment

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/example/retail-backoffice/internal/resilience"
)

// Gateway composes the circuit breaker with a bounded retry policy and a
// per-call timeout around the payment processor. A hung dependency can
// never hold an inventory reservation past the timeout, and a fully down
// dependency stops being retried as soon as the circuit opens.
type Gateway struct {
	processor Processor
	breaker   *resilience.CircuitBreaker
	attempts  int
	backoff   time.Duration
	timeout   time.Duration
}

func NewGateway(processor Processor, breaker *resilience.CircuitBreaker, attempts int, backoff, timeout time.Duration) *Gateway {
	if attempts < 1 {
		attempts = 1
	}
	return &Gateway{
		processor: processor,
		breaker:   breaker,
		attempts:  attempts,
		backoff:   backoff,
		timeout:   timeout,
	}
}

// Charge attempts the payment at most g.attempts times, retrying only
// transient/timeout classifications. Declines return ErrDeclined
// immediately; an open circuit or exhausted retries return ErrUnavailable.
func (g *Gateway) Charge(ctx context.Context, c Charge) (*Receipt, error) {
	var receipt *Receipt
	var lastErr error

	for attempt := 1; attempt <= g.attempts; attempt++ {
		err := g.breaker.Call(func() error {
			callCtx, cancel := context.WithTimeout(ctx, g.timeout)
			defer cancel()

			r, err := g.processor.Charge(callCtx, c)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("%w: %v", ErrTimeout, err)
				}
				return err
			}
			receipt = r
			return nil
		})
		if err == nil {
			return receipt, nil
		}
		lastErr = err

		if errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: circuit open", ErrUnavailable)
		}
		if !Retryable(err) {
			if errors.Is(err, ErrDeclined) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		if attempt < g.attempts {
			log.Printf("[Payment] Attempt %d/%d failed (%v), backing off %s", attempt, g.attempts, err, g.backoff)
			select {
			case <-time.After(g.backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}
	}

	return nil, fmt.Errorf("%w: retries exhausted: %v", ErrUnavailable, lastErr)
}
