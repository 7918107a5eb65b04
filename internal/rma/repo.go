package rma

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/retail-backoffice/internal/audit"
	"github.com/google/uuid"
)

var (
	ErrRMANotFound       = errors.New("rma request not found")
	ErrIllegalTransition = errors.New("illegal workflow transition")
	ErrInvalidRequest    = errors.New("invalid request")
)

// Item is one returned product line. Created atomically with the request,
// immutable afterward.
type Item struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

// Inspection records the outcome of the warehouse inspection. Resalable
// drives whether a REPLACEMENT restores the returned quantity.
type Inspection struct {
	Result      InspectionResult `json:"result"`
	Resalable   bool             `json:"resalable"`
	Notes       string           `json:"notes,omitempty"`
	InspectedBy string           `json:"inspected_by"`
	InspectedAt time.Time        `json:"inspected_at"`
}

// Request is a return merchandise authorization. Mutated only through
// validated transitions; immutable once COMPLETED or CANCELLED.
type Request struct {
	ID          string      `json:"id"`
	Number      string      `json:"number,omitempty"` // issued at approval
	SaleID      string      `json:"sale_id"`
	UserID      string      `json:"user_id"`
	Status      Status      `json:"status"`
	Disposition Disposition `json:"disposition,omitempty"`
	Reason      string      `json:"reason"`
	Evidence    string      `json:"evidence,omitempty"`
	Items       []Item      `json:"items"`
	Inspection  *Inspection `json:"inspection,omitempty"`

	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"tracking_number,omitempty"`

	RefundAmountCents int `json:"refund_amount_cents,omitempty"`

	// PendingRestore is set while a repair deduction awaits its restoring
	// adjustment; it guarantees the restore happens exactly once.
	PendingRestore bool `json:"pending_restore"`
	// EffectsApplied is set once the disposition's inventory effect has
	// run, making Complete idempotent.
	EffectsApplied bool `json:"effects_applied"`

	StageTimes map[Status]time.Time `json:"stage_times"`
	CreatedAt  time.Time            `json:"created_at"`
	UpdatedAt  time.Time            `json:"updated_at"`
	ClosedAt   time.Time            `json:"closed_at,omitzero"`
}

// Repository persists RMA requests. Create and Update commit the request
// and its audit entry as one atomic step: a request mutation without its
// audit row, or the reverse, must never become visible.
type Repository interface {
	Create(ctx context.Context, r *Request, entry audit.Entry) error
	Get(ctx context.Context, id string) (*Request, error)
	Update(ctx context.Context, r *Request, entry audit.Entry) error
	ListBySale(ctx context.Context, saleID string) ([]*Request, error)
	ListByUser(ctx context.Context, userID string) ([]*Request, error)
	// NextNumber issues the next human-readable RMA number for the day,
	// e.g. RMA-20260115-0007.
	NextNumber(ctx context.Context, day time.Time) (string, error)
}

// MemoryRepository is an in-memory Repository for tests and single-node
// setups. It appends audit entries to the given log and undoes the request
// write when the append fails.
type MemoryRepository struct {
	audit audit.Log

	mu       sync.RWMutex
	requests map[string]*Request
	counters map[string]int // day key -> issued numbers
}

func NewMemoryRepository(auditLog audit.Log) *MemoryRepository {
	return &MemoryRepository{
		audit:    auditLog,
		requests: make(map[string]*Request),
		counters: make(map[string]int),
	}
}

func (r *MemoryRepository) Create(ctx context.Context, req *Request, entry audit.Entry) error {
	r.mu.Lock()
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	r.requests[req.ID] = cloneRequest(req)
	r.mu.Unlock()

	entry.EntityID = req.ID
	if _, err := r.audit.Append(ctx, entry); err != nil {
		r.mu.Lock()
		delete(r.requests, req.ID)
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	req, ok := r.requests[id]
	if !ok {
		return nil, ErrRMANotFound
	}
	return cloneRequest(req), nil
}

func (r *MemoryRepository) Update(ctx context.Context, req *Request, entry audit.Entry) error {
	r.mu.Lock()
	prev, ok := r.requests[req.ID]
	if !ok {
		r.mu.Unlock()
		return ErrRMANotFound
	}
	req.UpdatedAt = time.Now()
	r.requests[req.ID] = cloneRequest(req)
	r.mu.Unlock()

	if _, err := r.audit.Append(ctx, entry); err != nil {
		r.mu.Lock()
		r.requests[req.ID] = prev
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *MemoryRepository) ListBySale(_ context.Context, saleID string) ([]*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Request
	for _, req := range r.requests {
		if req.SaleID == saleID {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

func (r *MemoryRepository) ListByUser(_ context.Context, userID string) ([]*Request, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Request
	for _, req := range r.requests {
		if req.UserID == userID {
			out = append(out, cloneRequest(req))
		}
	}
	return out, nil
}

func (r *MemoryRepository) NextNumber(_ context.Context, day time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := day.Format("20060102")
	r.counters[key]++
	return fmt.Sprintf("RMA-%s-%04d", key, r.counters[key]), nil
}

func cloneRequest(req *Request) *Request {
	cp := *req
	cp.Items = make([]Item, len(req.Items))
	copy(cp.Items, req.Items)
	if req.Inspection != nil {
		insp := *req.Inspection
		cp.Inspection = &insp
	}
	cp.StageTimes = make(map[Status]time.Time, len(req.StageTimes))
	for k, v := range req.StageTimes {
		cp.StageTimes[k] = v
	}
	return &cp
}
