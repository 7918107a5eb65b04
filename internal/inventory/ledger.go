// Package inventory is the single point of truth for stock mutation.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/example/retail-backoffice/internal/product"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Ledger adjusts product stock atomically. Stock never goes negative: any
// adjustment that would drive it below zero fails the enclosing operation.
type Ledger interface {
	// Reserve decrements stock under a check-then-write guard and returns
	// the post-decrement stock. Fails with ErrInsufficientStock when the
	// current stock is below quantity.
	Reserve(ctx context.Context, productID string, quantity int) (int, error)

	// Restore increments stock. Fails only for unknown products.
	Restore(ctx context.Context, productID string, quantity int) error

	// Stock returns the current stock level.
	Stock(ctx context.Context, productID string) (int, error)
}

// MemoryLedger serializes adjustments per product with a dedicated lock,
// so concurrent reserves against the same product can never both succeed
// past the available stock.
type MemoryLedger struct {
	store product.Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewMemoryLedger(store product.Store) *MemoryLedger {
	return &MemoryLedger{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

func (l *MemoryLedger) lockFor(productID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[productID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[productID] = lock
	}
	return lock
}

func (l *MemoryLedger) Reserve(ctx context.Context, productID string, quantity int) (int, error) {
	if quantity <= 0 {
		return 0, ErrInvalidQuantity
	}

	lock := l.lockFor(productID)
	lock.Lock()
	defer lock.Unlock()

	p, err := l.store.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	if p.Stock < quantity {
		return 0, fmt.Errorf("%w: product %s has %d, want %d", ErrInsufficientStock, productID, p.Stock, quantity)
	}

	p.Stock -= quantity
	if err := l.store.Put(ctx, p); err != nil {
		return 0, err
	}
	return p.Stock, nil
}

func (l *MemoryLedger) Restore(ctx context.Context, productID string, quantity int) error {
	if quantity <= 0 {
		return ErrInvalidQuantity
	}

	lock := l.lockFor(productID)
	lock.Lock()
	defer lock.Unlock()

	p, err := l.store.Get(ctx, productID)
	if err != nil {
		return err
	}
	p.Stock += quantity
	return l.store.Put(ctx, p)
}

func (l *MemoryLedger) Stock(ctx context.Context, productID string) (int, error) {
	p, err := l.store.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return p.Stock, nil
}
