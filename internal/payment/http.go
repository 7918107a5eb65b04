package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// HTTPProcessor charges through an external payment provider's REST API.
// Provider responses map onto the package's error taxonomy: 402 is a
// decline, 5xx and transport errors are transient, everything else
// unexpected is terminal.
type HTTPProcessor struct {
	client  *http.Client
	baseURL string
}

func NewHTTPProcessor(baseURL string) *HTTPProcessor {
	return &HTTPProcessor{
		client:  &http.Client{},
		baseURL: baseURL,
	}
}

type chargeRequest struct {
	CustomerID  string `json:"customer_id"`
	Method      string `json:"method"`
	AmountCents int    `json:"amount_cents"`
	Reference   string `json:"reference"`
}

type chargeResponse struct {
	TransactionID string `json:"transaction_id"`
}

func (p *HTTPProcessor) Charge(ctx context.Context, c Charge) (*Receipt, error) {
	body, err := json.Marshal(chargeRequest{
		CustomerID:  c.CustomerID,
		Method:      c.Method,
		AmountCents: c.AmountCents,
		Reference:   c.Reference,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	// Reference doubles as the provider-side idempotency key so a retried
	// charge is not taken twice.
	req.Header.Set("Idempotency-Key", c.Reference)

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var out chargeResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, fmt.Errorf("%w: malformed provider response: %v", ErrTransient, err)
		}
		return &Receipt{
			TransactionID: out.TransactionID,
			AmountCents:   c.AmountCents,
			ChargedAt:     time.Now(),
		}, nil
	case resp.StatusCode == http.StatusPaymentRequired:
		return nil, ErrDeclined
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: provider returned %d", ErrTransient, resp.StatusCode)
	default:
		return nil, fmt.Errorf("provider returned unexpected status %d", resp.StatusCode)
	}
}
