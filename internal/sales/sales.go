// Package sales keeps the sale records that flash-sale purchases create
// and RMA requests reference.
package sales

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	StatusCompleted = "COMPLETED"
	StatusRefunded  = "REFUNDED"
)

var ErrSaleNotFound = errors.New("sale not found")

type SaleItem struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	PriceCents  int    `json:"price_cents"` // unit price at purchase time
	ReturnedQty int    `json:"returned_qty"`
}

type Sale struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Items      []SaleItem `json:"items"`
	TotalCents int        `json:"total_cents"`
	Status     string     `json:"status"`
	PayMethod  string     `json:"pay_method,omitempty"`
	PaymentRef string     `json:"payment_ref,omitempty"`
	SaleTime   time.Time  `json:"sale_time"`
}

// Item returns the sale item for a product, or nil if the sale does not
// contain it.
func (s *Sale) Item(productID string) *SaleItem {
	for i := range s.Items {
		if s.Items[i].ProductID == productID {
			return &s.Items[i]
		}
	}
	return nil
}

// Store gives read/write access to sales.
type Store interface {
	Get(ctx context.Context, id string) (*Sale, error)
	Put(ctx context.Context, s *Sale) error
}

// NewSale builds a completed sale with generated identifiers.
func NewSale(userID string, items []SaleItem, payMethod, paymentRef string) *Sale {
	total := 0
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.New().String()
		}
		total += items[i].PriceCents * items[i].Quantity
	}
	return &Sale{
		ID:         uuid.New().String(),
		Items:      items,
		UserID:     userID,
		TotalCents: total,
		Status:     StatusCompleted,
		PayMethod:  payMethod,
		PaymentRef: paymentRef,
		SaleTime:   time.Now(),
	}
}

// MemoryStore is an in-memory Store used by tests and single-node setups.
type MemoryStore struct {
	mu    sync.RWMutex
	sales map[string]*Sale
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sales: make(map[string]*Sale)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil, ErrSaleNotFound
	}
	cp := *sale
	cp.Items = make([]SaleItem, len(sale.Items))
	copy(cp.Items, sale.Items)
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, sale *Sale) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sale
	cp.Items = make([]SaleItem, len(sale.Items))
	copy(cp.Items, sale.Items)
	s.sales[sale.ID] = &cp
	return nil
}
