// Package rma owns the return-merchandise-authorization workflow: a strict
// state machine whose dispositions carry inventory and finance consequences
// that must run exactly once.
package rma

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/example/retail-backoffice/internal/audit"
	"github.com/example/retail-backoffice/internal/inventory"
	"github.com/example/retail-backoffice/internal/sales"
)

// ItemInput is one requested return line on submission.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason,omitempty"`
}

// StatusChange is handed to the notification collaborator on every
// transition. Delivery is fire-and-forget.
type StatusChange struct {
	CustomerID  string      `json:"customer_id"`
	RMAID       string      `json:"rma_id"`
	RMANumber   string      `json:"rma_number,omitempty"`
	OldStatus   Status      `json:"old_status,omitempty"`
	NewStatus   Status      `json:"new_status"`
	Disposition Disposition `json:"disposition,omitempty"`
}

type Notifier interface {
	NotifyStatusChange(ctx context.Context, change StatusChange) error
}

// Engine enforces the return lifecycle and executes the consequences of
// each disposition.
type Engine struct {
	repo     Repository
	sales    sales.Store
	ledger   inventory.Ledger
	notifier Notifier

	eligibility time.Duration
	now         func() time.Time
}

func NewEngine(repo Repository, salesStore sales.Store, ledger inventory.Ledger, notifier Notifier, eligibility time.Duration) *Engine {
	return &Engine{
		repo:        repo,
		sales:       salesStore,
		ledger:      ledger,
		notifier:    notifier,
		eligibility: eligibility,
		now:         time.Now,
	}
}

// Submit validates a customer's return request against the originating
// sale and creates it in SUBMITTED.
func (e *Engine) Submit(ctx context.Context, userID, saleID string, items []ItemInput, reason, evidence string) (*Request, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrInvalidRequest)
	}

	sale, err := e.sales.Get(ctx, saleID)
	if err != nil || sale.UserID != userID {
		return nil, fmt.Errorf("%w: sale not found or does not belong to customer", ErrInvalidRequest)
	}
	if sale.Status != sales.StatusCompleted {
		return nil, fmt.Errorf("%w: cannot return a sale with status %s", ErrInvalidRequest, sale.Status)
	}

	now := e.now()
	if sale.SaleTime.After(now) || now.Sub(sale.SaleTime) > e.eligibility {
		return nil, fmt.Errorf("%w: sale is outside the return eligibility window", ErrInvalidRequest)
	}

	existing, err := e.repo.ListBySale(ctx, saleID)
	if err != nil {
		return nil, err
	}
	for _, prior := range existing {
		if !prior.Status.Terminal() {
			return nil, fmt.Errorf("%w: an active RMA already exists for this sale", ErrInvalidRequest)
		}
	}

	reqItems := make([]Item, 0, len(items))
	for _, in := range items {
		if in.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item quantity must be positive", ErrInvalidRequest)
		}
		saleItem := sale.Item(in.ProductID)
		if saleItem == nil {
			return nil, fmt.Errorf("%w: product %s is not part of the sale", ErrInvalidRequest, in.ProductID)
		}
		returnable := saleItem.Quantity - saleItem.ReturnedQty
		if returnable == 0 {
			return nil, fmt.Errorf("%w: product %s was already fully returned", ErrInvalidRequest, in.ProductID)
		}
		if in.Quantity > returnable {
			return nil, fmt.Errorf("%w: quantity %d exceeds returnable %d for product %s", ErrInvalidRequest, in.Quantity, returnable, in.ProductID)
		}
		reqItems = append(reqItems, Item{
			ID:        saleItem.ID,
			ProductID: in.ProductID,
			Quantity:  in.Quantity,
			Reason:    in.Reason,
		})
	}

	req := &Request{
		SaleID:     saleID,
		UserID:     userID,
		Status:     StatusSubmitted,
		Reason:     reason,
		Evidence:   evidence,
		Items:      reqItems,
		StageTimes: map[Status]time.Time{StatusSubmitted: now},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.repo.Create(ctx, req, auditEntry(req, "", StatusSubmitted, userID, "RMA request submitted by customer")); err != nil {
		return nil, err
	}

	e.notify(ctx, req, "", StatusSubmitted)
	return req, nil
}

// Transition moves a request to a permitted successor state. Side-effect
// free beyond state, timestamp and audit entry, except: entering
// DISPOSITION requires a recorded disposition, and entering PROCESSING
// applies a repair's temporary stock deduction.
func (e *Engine) Transition(ctx context.Context, id string, target Status, actor string) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, target)
	}

	switch target {
	case StatusCompleted:
		return e.Complete(ctx, id, actor)
	case StatusCancelled:
		return e.Cancel(ctx, id, actor, "")
	}

	req, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !req.Status.CanTransitionTo(target) {
		return illegalTransition(req.Status, target)
	}

	note := ""
	switch target {
	case StatusDisposition:
		if req.Disposition == "" {
			return fmt.Errorf("%w: a disposition value is required to enter DISPOSITION", ErrInvalidRequest)
		}
	case StatusApproved:
		if req.Number == "" {
			number, err := e.repo.NextNumber(ctx, e.now())
			if err != nil {
				return err
			}
			req.Number = number
			note = "RMA number issued: " + number
		}
	case StatusProcessing:
		n, err := e.beginProcessing(ctx, req)
		if err != nil {
			return err
		}
		note = n
	}

	if err := e.apply(ctx, req, target, actor, note); err != nil {
		if target == StatusProcessing && req.PendingRestore {
			e.compensateDeductions(ctx, req.Items)
		}
		return err
	}
	return nil
}

// beginProcessing applies the disposition's processing-time inventory
// effect. Today that is only REPAIR's temporary deduction, tracked by the
// pending-restoration flag.
func (e *Engine) beginProcessing(ctx context.Context, req *Request) (string, error) {
	if req.Disposition == "" {
		return "", fmt.Errorf("%w: a disposition value is required to enter PROCESSING", ErrInvalidRequest)
	}

	var deducted []Item
	for _, item := range req.Items {
		eff := req.Disposition.ProcessingEffect(item.Quantity)
		if eff.Deduct == 0 {
			continue
		}
		if _, err := e.ledger.Reserve(ctx, item.ProductID, eff.Deduct); err != nil {
			e.compensateDeductions(ctx, deducted)
			return "", err
		}
		deducted = append(deducted, item)
	}
	if len(deducted) == 0 {
		return "", nil
	}
	req.PendingRestore = true
	return "Stock deducted while items are under repair", nil
}

func (e *Engine) compensateDeductions(ctx context.Context, deducted []Item) {
	for _, item := range deducted {
		if err := e.ledger.Restore(ctx, item.ProductID, item.Quantity); err != nil {
			log.Printf("[RMA] Failed to compensate deduction for product %s: %v", item.ProductID, err)
		}
	}
}

// SetShippingInfo records the customer's return shipment and moves the
// request to SHIPPING.
func (e *Engine) SetShippingInfo(ctx context.Context, id, carrier, trackingNumber, actor string) error {
	req, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != StatusShipping && !req.Status.CanTransitionTo(StatusShipping) {
		return illegalTransition(req.Status, StatusShipping)
	}

	req.Carrier = carrier
	req.TrackingNumber = trackingNumber
	note := fmt.Sprintf("Tracking: %s %s", carrier, trackingNumber)

	if req.Status == StatusShipping {
		// Carrier correction after the fact; no state change.
		return e.repo.Update(ctx, req, auditEntry(req, StatusShipping, StatusShipping, actor, note))
	}
	return e.apply(ctx, req, StatusShipping, actor, note)
}

// CompleteInspection records the inspection outcome and moves the request
// to INSPECTED. The resalable flag decides whether a later REPLACEMENT
// restores the returned quantity.
func (e *Engine) CompleteInspection(ctx context.Context, id string, result InspectionResult, resalable bool, notes, actor string) error {
	if !result.Valid() {
		return fmt.Errorf("%w: invalid inspection result %q", ErrInvalidRequest, result)
	}

	req, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !req.Status.CanTransitionTo(StatusInspected) {
		return illegalTransition(req.Status, StatusInspected)
	}

	req.Inspection = &Inspection{
		Result:      result,
		Resalable:   resalable,
		Notes:       notes,
		InspectedBy: actor,
		InspectedAt: e.now(),
	}
	return e.apply(ctx, req, StatusInspected, actor, fmt.Sprintf("Inspection result: %s (resalable=%t)", result, resalable))
}

// SetDisposition records the decision for an inspected return and moves it
// to DISPOSITION. Selection only records intent; the inventory effect runs
// at completion.
func (e *Engine) SetDisposition(ctx context.Context, id string, d Disposition, actor string, amountCents int) error {
	if !d.Valid() {
		return invalidDisposition(d)
	}

	req, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !req.Status.CanTransitionTo(StatusDisposition) {
		return illegalTransition(req.Status, StatusDisposition)
	}

	req.Disposition = d
	if amountCents > 0 {
		req.RefundAmountCents = amountCents
	}
	return e.apply(ctx, req, StatusDisposition, actor, "Disposition: "+string(d))
}

// Complete executes the recorded disposition's inventory effect exactly
// once and closes the request. Re-invocation on an already-completed
// request is a no-op so retried external calls stay harmless.
func (e *Engine) Complete(ctx context.Context, id, actor string) error {
	req, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status == StatusCompleted {
		return nil
	}
	if !req.Status.CanTransitionTo(StatusCompleted) {
		return illegalTransition(req.Status, StatusCompleted)
	}
	if req.Disposition == "" {
		return fmt.Errorf("%w: no disposition recorded", ErrInvalidRequest)
	}

	note := "RMA completed"
	undo := func() {}
	if !req.EffectsApplied {
		n, u, err := e.applyCompletionEffects(ctx, req)
		if err != nil {
			return err
		}
		req.EffectsApplied = true
		req.PendingRestore = false
		note = n
		undo = u
	}

	if err := e.apply(ctx, req, StatusCompleted, actor, note); err != nil {
		undo()
		return err
	}
	return nil
}

// applyCompletionEffects runs the disposition's inventory delta for every
// item, compensating partial work on failure so the caller observes
// all-or-nothing behavior. The returned undo function reverses the whole
// batch if a later step fails.
func (e *Engine) applyCompletionEffects(ctx context.Context, req *Request) (string, func(), error) {
	resalable := req.Inspection != nil && req.Inspection.Resalable

	type adjustment struct {
		productID string
		restored  int
		deducted  int
	}
	var done []adjustment

	undo := func() {
		for i := len(done) - 1; i >= 0; i-- {
			a := done[i]
			if a.deducted > 0 {
				if err := e.ledger.Restore(ctx, a.productID, a.deducted); err != nil {
					log.Printf("[RMA] Failed to undo deduction for product %s: %v", a.productID, err)
				}
			}
			if a.restored > 0 {
				if _, err := e.ledger.Reserve(ctx, a.productID, a.restored); err != nil {
					log.Printf("[RMA] Failed to undo restore for product %s: %v", a.productID, err)
				}
			}
		}
	}

	totalRestored, totalDeducted := 0, 0
	for _, item := range req.Items {
		eff := req.Disposition.CompletionEffect(item.Quantity, resalable, req.PendingRestore)
		if eff.Deduct > 0 {
			if _, err := e.ledger.Reserve(ctx, item.ProductID, eff.Deduct); err != nil {
				undo()
				return "", nil, err
			}
			done = append(done, adjustment{productID: item.ProductID, deducted: eff.Deduct})
			totalDeducted += eff.Deduct
		}
		if eff.Restore > 0 {
			if err := e.ledger.Restore(ctx, item.ProductID, eff.Restore); err != nil {
				undo()
				return "", nil, err
			}
			done = append(done, adjustment{productID: item.ProductID, restored: eff.Restore})
			totalRestored += eff.Restore
		}
	}

	if err := e.settleSale(ctx, req); err != nil {
		undo()
		return "", nil, err
	}

	note := fmt.Sprintf("Disposition %s executed: %d unit(s) restored, %d unit(s) deducted",
		req.Disposition, totalRestored, totalDeducted)
	return note, undo, nil
}

// settleSale updates the originating sale's returned quantities, marks it
// refunded where applicable, fills in the default refund amount, and
// creates the replacement sale for REPLACEMENT dispositions.
func (e *Engine) settleSale(ctx context.Context, req *Request) error {
	sale, err := e.sales.Get(ctx, req.SaleID)
	if err != nil {
		return err
	}

	if req.Disposition != DispositionReject {
		for _, item := range req.Items {
			if saleItem := sale.Item(item.ProductID); saleItem != nil {
				saleItem.ReturnedQty += item.Quantity
			}
		}
	}

	switch req.Disposition {
	case DispositionRefund, DispositionStoreCredit:
		if req.RefundAmountCents == 0 {
			for _, item := range req.Items {
				if saleItem := sale.Item(item.ProductID); saleItem != nil {
					req.RefundAmountCents += saleItem.PriceCents * item.Quantity
				}
			}
		}
		if req.Disposition == DispositionRefund {
			sale.Status = sales.StatusRefunded
		}
	case DispositionReplacement:
		items := make([]sales.SaleItem, 0, len(req.Items))
		for _, item := range req.Items {
			items = append(items, sales.SaleItem{
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
			})
		}
		replacement := sales.NewSale(req.UserID, items, "REPLACEMENT", req.ID)
		if err := e.sales.Put(ctx, replacement); err != nil {
			return err
		}
	}

	return e.sales.Put(ctx, sale)
}

// Cancel moves a non-terminal request to CANCELLED, paying back any
// outstanding repair deduction first.
func (e *Engine) Cancel(ctx context.Context, id, actor, reason string) error {
	req, err := e.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status.Terminal() {
		return illegalTransition(req.Status, StatusCancelled)
	}

	note := "RMA cancelled"
	if reason != "" {
		note += ": " + reason
	}

	restored := false
	if req.PendingRestore {
		for _, item := range req.Items {
			if err := e.ledger.Restore(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
		req.PendingRestore = false
		restored = true
		note += " (repair deduction restored)"
	}

	if err := e.apply(ctx, req, StatusCancelled, actor, note); err != nil {
		if restored {
			// The stored request still carries the pending flag; take the
			// stock back so a retried cancel cannot restore twice.
			for _, item := range req.Items {
				if _, rerr := e.ledger.Reserve(ctx, item.ProductID, item.Quantity); rerr != nil {
					log.Printf("[RMA] Failed to re-deduct after cancel rollback for product %s: %v", item.ProductID, rerr)
				}
			}
		}
		return err
	}
	return nil
}

// Get returns a request by id.
func (e *Engine) Get(ctx context.Context, id string) (*Request, error) {
	return e.repo.Get(ctx, id)
}

// ListByUser returns a customer's requests for polling-based status views.
func (e *Engine) ListByUser(ctx context.Context, userID string) ([]*Request, error) {
	return e.repo.ListByUser(ctx, userID)
}

// apply commits the state change together with its audit entry, then fires
// the notification. Repositories persist both atomically; a failed commit
// leaves neither behind.
func (e *Engine) apply(ctx context.Context, req *Request, target Status, actor, note string) error {
	from := req.Status
	now := e.now()

	req.Status = target
	if req.StageTimes == nil {
		req.StageTimes = make(map[Status]time.Time)
	}
	req.StageTimes[target] = now
	if target.Terminal() {
		req.ClosedAt = now
	}

	if err := e.repo.Update(ctx, req, auditEntry(req, from, target, actor, note)); err != nil {
		return err
	}

	e.notify(ctx, req, from, target)
	return nil
}

// notify tells the customer about the transition. Fire-and-forget; a
// delivery failure never fails the workflow operation.
func (e *Engine) notify(ctx context.Context, req *Request, from, to Status) {
	if e.notifier == nil {
		return
	}
	change := StatusChange{
		CustomerID:  req.UserID,
		RMAID:       req.ID,
		RMANumber:   req.Number,
		OldStatus:   from,
		NewStatus:   to,
		Disposition: req.Disposition,
	}
	if err := e.notifier.NotifyStatusChange(ctx, change); err != nil {
		log.Printf("[RMA] Notification failed for %s (%s -> %s): %v", req.ID, from, to, err)
	}
}

func auditEntry(req *Request, from, to Status, actor, note string) audit.Entry {
	return audit.Entry{
		EntityType: audit.EntityRMA,
		EntityID:   req.ID,
		FromState:  string(from),
		ToState:    string(to),
		Actor:      actor,
		Note:       note,
	}
}
