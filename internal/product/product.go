package product

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrProductInactive = errors.New("product is not active")
)

// Product is a catalog entry. Prices are integer minor-currency units.
// Products are never deleted, only deactivated.
type Product struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	PriceCents      int       `json:"price_cents"`
	Stock           int       `json:"stock"`
	Active          bool      `json:"active"`
	FlashPriceCents int       `json:"flash_price_cents,omitempty"`
	FlashActive     bool      `json:"flash_active"`
	FlashStart      time.Time `json:"flash_start,omitzero"`
	FlashEnd        time.Time `json:"flash_end,omitzero"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FlashWindowOpen reports whether the flash sale applies at the given instant.
func (p *Product) FlashWindowOpen(now time.Time) bool {
	if !p.FlashActive {
		return false
	}
	if now.Before(p.FlashStart) {
		return false
	}
	if !p.FlashEnd.IsZero() && now.After(p.FlashEnd) {
		return false
	}
	return true
}

// New builds an active product with a generated identifier.
func New(name string, priceCents, stock int) *Product {
	now := time.Now()
	return &Product{
		ID:         uuid.New().String(),
		Name:       name,
		PriceCents: priceCents,
		Stock:      stock,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Store gives read/write access to products.
type Store interface {
	Get(ctx context.Context, id string) (*Product, error)
	Put(ctx context.Context, p *Product) error
	List(ctx context.Context) ([]*Product, error)
}

// MemoryStore is an in-memory Store used by tests and single-node setups.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[string]*Product
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{products: make(map[string]*Product)}
}

// Create registers a new active product and returns it.
func (s *MemoryStore) Create(ctx context.Context, name string, priceCents, stock int) (*Product, error) {
	p := New(name, priceCents, stock)
	if err := s.Put(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) Put(_ context.Context, p *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.UpdatedAt = time.Now()
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Product, 0, len(s.products))
	for _, p := range s.products {
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

// Deactivate hides a product from sale without removing it.
func (s *MemoryStore) Deactivate(ctx context.Context, id string) error {
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	p.Active = false
	return s.Put(ctx, p)
}
