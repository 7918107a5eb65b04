// Package flashsale coordinates high-contention purchases: per-customer
// rate limiting, atomic stock reservation, a resilient charge call, and
// compensation when any later step fails.
package flashsale

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/example/retail-backoffice/internal/audit"
	"github.com/example/retail-backoffice/internal/inventory"
	"github.com/example/retail-backoffice/internal/payment"
	"github.com/example/retail-backoffice/internal/product"
	"github.com/example/retail-backoffice/internal/resilience"
	"github.com/example/retail-backoffice/internal/sales"
)

var (
	ErrRateLimited     = errors.New("too many purchase attempts")
	ErrInvalidSale     = errors.New("invalid flash sale definition")
	ErrInvalidPurchase = errors.New("invalid purchase request")
)

// Controller runs the purchase pipeline and manages flash sale windows.
type Controller struct {
	products product.Store
	ledger   inventory.Ledger
	sales    sales.Store
	gateway  *payment.Gateway
	limiter  *resilience.RateLimiter
	auditLog audit.Log
	now      func() time.Time
}

func NewController(products product.Store, ledger inventory.Ledger, salesStore sales.Store, gateway *payment.Gateway, limiter *resilience.RateLimiter, auditLog audit.Log) *Controller {
	return &Controller{
		products: products,
		ledger:   ledger,
		sales:    salesStore,
		gateway:  gateway,
		limiter:  limiter,
		auditLog: auditLog,
		now:      time.Now,
	}
}

// EffectivePrice is the unit price a purchase pays right now: the flash
// price inside an open window, the regular price otherwise.
func (c *Controller) EffectivePrice(p *product.Product) int {
	if p.FlashWindowOpen(c.now()) {
		return p.FlashPriceCents
	}
	return p.PriceCents
}

// Purchase runs the full pipeline: rate limit, reserve, charge, commit.
// Stock reserved before a failed charge is always restored, so a payment
// failure never leaks inventory.
func (c *Controller) Purchase(ctx context.Context, userID, productID string, quantity int, payMethod string) (*sales.Sale, error) {
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", ErrInvalidPurchase)
	}

	if !c.limiter.IsAllowed(userID) {
		c.recordAttempt(ctx, userID, productID, "REJECTED", "rate limit exceeded")
		return nil, ErrRateLimited
	}

	p, err := c.products.Get(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !p.Active {
		return nil, product.ErrProductInactive
	}
	unitPrice := c.EffectivePrice(p)

	if _, err := c.ledger.Reserve(ctx, productID, quantity); err != nil {
		c.recordAttempt(ctx, userID, productID, "REJECTED", "insufficient stock")
		return nil, err
	}

	reference := uuid.New().String()
	receipt, err := c.gateway.Charge(ctx, payment.Charge{
		CustomerID:  userID,
		Method:      payMethod,
		AmountCents: unitPrice * quantity,
		Reference:   reference,
	})
	if err != nil {
		c.restore(ctx, productID, quantity)
		c.recordAttempt(ctx, userID, productID, "FAILED", "payment: "+err.Error())
		return nil, err
	}

	sale := sales.NewSale(userID, []sales.SaleItem{{
		ProductID:  productID,
		Quantity:   quantity,
		PriceCents: unitPrice,
	}}, payMethod, receipt.TransactionID)
	if err := c.sales.Put(ctx, sale); err != nil {
		c.restore(ctx, productID, quantity)
		c.recordAttempt(ctx, userID, productID, "FAILED", "sale persistence: "+err.Error())
		return nil, err
	}

	c.recordAttempt(ctx, userID, sale.ID, "COMPLETED",
		fmt.Sprintf("purchased %d x %s for %d cents", quantity, productID, sale.TotalCents))
	return sale, nil
}

// ScheduleSale opens a flash sale window on a product. A zero end time
// leaves the window open until EndSale.
func (c *Controller) ScheduleSale(ctx context.Context, productID string, priceCents int, start, end time.Time) error {
	if priceCents <= 0 {
		return fmt.Errorf("%w: flash price must be positive", ErrInvalidSale)
	}
	if !end.IsZero() && !end.After(start) {
		return fmt.Errorf("%w: window end must be after start", ErrInvalidSale)
	}

	p, err := c.products.Get(ctx, productID)
	if err != nil {
		return err
	}
	if priceCents >= p.PriceCents {
		return fmt.Errorf("%w: flash price %d is not below regular price %d", ErrInvalidSale, priceCents, p.PriceCents)
	}

	p.FlashPriceCents = priceCents
	p.FlashActive = true
	p.FlashStart = start
	p.FlashEnd = end
	return c.products.Put(ctx, p)
}

// EndSale closes a product's flash sale window immediately.
func (c *Controller) EndSale(ctx context.Context, productID string) error {
	p, err := c.products.Get(ctx, productID)
	if err != nil {
		return err
	}
	p.FlashActive = false
	return c.products.Put(ctx, p)
}

func (c *Controller) restore(ctx context.Context, productID string, quantity int) {
	if err := c.ledger.Restore(ctx, productID, quantity); err != nil {
		log.Printf("[FlashSale] Failed to restore %d unit(s) of %s: %v", quantity, productID, err)
	}
}

func (c *Controller) recordAttempt(ctx context.Context, userID, entityID, outcome, note string) {
	_, err := c.auditLog.Append(ctx, audit.Entry{
		EntityType: audit.EntitySale,
		EntityID:   entityID,
		ToState:    outcome,
		Actor:      userID,
		Note:       note,
	})
	if err != nil {
		log.Printf("[FlashSale] Failed to append audit entry: %v", err)
	}
}
