package rma

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/retail-backoffice/internal/audit"
	"github.com/example/retail-backoffice/internal/inventory"
	"github.com/example/retail-backoffice/internal/product"
	"github.com/example/retail-backoffice/internal/sales"
)

type recordingNotifier struct {
	changes []StatusChange
}

func (n *recordingNotifier) NotifyStatusChange(_ context.Context, change StatusChange) error {
	n.changes = append(n.changes, change)
	return nil
}

type testEnv struct {
	engine   *Engine
	products *product.MemoryStore
	sales    *sales.MemoryStore
	ledger   *inventory.MemoryLedger
	audit    *audit.MemoryLog
	notifier *recordingNotifier
	prod     *product.Product
	sale     *sales.Sale
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	products := product.NewMemoryStore()
	prod, err := products.Create(ctx, "Mechanical Keyboard", 12900, 10)
	require.NoError(t, err)

	salesStore := sales.NewMemoryStore()
	sale := sales.NewSale("user-1", []sales.SaleItem{
		{ProductID: prod.ID, Quantity: 3, PriceCents: 12900},
	}, "CREDIT_CARD", "txn-001")
	require.NoError(t, salesStore.Put(ctx, sale))

	ledger := inventory.NewMemoryLedger(products)
	auditLog := audit.NewMemoryLog(nil)
	notifier := &recordingNotifier{}

	return &testEnv{
		engine:   NewEngine(NewMemoryRepository(auditLog), salesStore, ledger, notifier, 30*24*time.Hour),
		products: products,
		sales:    salesStore,
		ledger:   ledger,
		audit:    auditLog,
		notifier: notifier,
		prod:     prod,
		sale:     sale,
	}
}

func (env *testEnv) submit(t *testing.T, quantity int) *Request {
	t.Helper()
	req, err := env.engine.Submit(context.Background(), "user-1", env.sale.ID,
		[]ItemInput{{ProductID: env.prod.ID, Quantity: quantity, Reason: "screen flickers"}},
		"arrived defective", "photo.jpg")
	require.NoError(t, err)
	return req
}

// advanceToDisposition walks a submitted request through the physical
// return flow up to and including the disposition decision.
func (env *testEnv) advanceToDisposition(t *testing.T, id string, d Disposition) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, env.engine.Transition(ctx, id, StatusApproved, "admin-1"))
	require.NoError(t, env.engine.SetShippingInfo(ctx, id, "UPS", "1Z999", "user-1"))
	require.NoError(t, env.engine.Transition(ctx, id, StatusReceived, "warehouse-1"))
	require.NoError(t, env.engine.Transition(ctx, id, StatusInspecting, "warehouse-1"))
	require.NoError(t, env.engine.CompleteInspection(ctx, id, InspectionDefective, false, "cracked board", "inspector-1"))
	require.NoError(t, env.engine.SetDisposition(ctx, id, d, "admin-1", 0))
}

func (env *testEnv) stock(t *testing.T) int {
	t.Helper()
	stock, err := env.ledger.Stock(context.Background(), env.prod.ID)
	require.NoError(t, err)
	return stock
}

func TestSubmitCreatesRequest(t *testing.T) {
	env := newTestEnv(t)
	req := env.submit(t, 2)

	assert.NotEmpty(t, req.ID)
	assert.Empty(t, req.Number)
	assert.Equal(t, StatusSubmitted, req.Status)
	assert.Equal(t, env.sale.ID, req.SaleID)
	require.Len(t, req.Items, 1)
	assert.Equal(t, 2, req.Items[0].Quantity)

	entries, err := env.audit.Entries(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(StatusSubmitted), entries[0].ToState)
	assert.Equal(t, "user-1", entries[0].Actor)

	require.Len(t, env.notifier.changes, 1)
	assert.Equal(t, StatusSubmitted, env.notifier.changes[0].NewStatus)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		submit func(env *testEnv) error
	}{
		{"unknown sale", func(env *testEnv) error {
			_, err := env.engine.Submit(context.Background(), "user-1", "no-such-sale",
				[]ItemInput{{ProductID: env.prod.ID, Quantity: 1}}, "", "")
			return err
		}},
		{"sale belongs to another customer", func(env *testEnv) error {
			_, err := env.engine.Submit(context.Background(), "user-2", env.sale.ID,
				[]ItemInput{{ProductID: env.prod.ID, Quantity: 1}}, "", "")
			return err
		}},
		{"no items", func(env *testEnv) error {
			_, err := env.engine.Submit(context.Background(), "user-1", env.sale.ID, nil, "", "")
			return err
		}},
		{"zero quantity", func(env *testEnv) error {
			_, err := env.engine.Submit(context.Background(), "user-1", env.sale.ID,
				[]ItemInput{{ProductID: env.prod.ID, Quantity: 0}}, "", "")
			return err
		}},
		{"product not part of sale", func(env *testEnv) error {
			_, err := env.engine.Submit(context.Background(), "user-1", env.sale.ID,
				[]ItemInput{{ProductID: "other-product", Quantity: 1}}, "", "")
			return err
		}},
		{"quantity exceeds purchased", func(env *testEnv) error {
			_, err := env.engine.Submit(context.Background(), "user-1", env.sale.ID,
				[]ItemInput{{ProductID: env.prod.ID, Quantity: 4}}, "", "")
			return err
		}},
		{"refunded sale", func(env *testEnv) error {
			sale, _ := env.sales.Get(context.Background(), env.sale.ID)
			sale.Status = sales.StatusRefunded
			require.NoError(t, env.sales.Put(context.Background(), sale))
			_, err := env.engine.Submit(context.Background(), "user-1", env.sale.ID,
				[]ItemInput{{ProductID: env.prod.ID, Quantity: 1}}, "", "")
			return err
		}},
		{"outside eligibility window", func(env *testEnv) error {
			sale, _ := env.sales.Get(context.Background(), env.sale.ID)
			sale.SaleTime = time.Now().Add(-31 * 24 * time.Hour)
			require.NoError(t, env.sales.Put(context.Background(), sale))
			_, err := env.engine.Submit(context.Background(), "user-1", env.sale.ID,
				[]ItemInput{{ProductID: env.prod.ID, Quantity: 1}}, "", "")
			return err
		}},
		{"active rma already open for sale", func(env *testEnv) error {
			env.submit(t, 1)
			_, err := env.engine.Submit(context.Background(), "user-1", env.sale.ID,
				[]ItemInput{{ProductID: env.prod.ID, Quantity: 1}}, "", "")
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.submit(newTestEnv(t))
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
}

func TestSubmitAllowedAfterPriorRMAClosed(t *testing.T) {
	env := newTestEnv(t)
	first := env.submit(t, 1)
	require.NoError(t, env.engine.Cancel(context.Background(), first.ID, "user-1", "changed my mind"))

	second, err := env.engine.Submit(context.Background(), "user-1", env.sale.ID,
		[]ItemInput{{ProductID: env.prod.ID, Quantity: 1}}, "still broken", "")
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, second.Status)
}

func TestRefundFullLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 2)

	env.advanceToDisposition(t, req.ID, DispositionRefund)
	require.NoError(t, env.engine.Complete(ctx, req.ID, "admin-1"))

	got, err := env.engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.EffectsApplied)
	assert.False(t, got.ClosedAt.IsZero())
	assert.Regexp(t, `^RMA-\d{8}-\d{4}$`, got.Number)
	assert.Equal(t, 2*12900, got.RefundAmountCents)

	// Two units back on the shelf.
	assert.Equal(t, 12, env.stock(t))

	sale, err := env.sales.Get(ctx, env.sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.StatusRefunded, sale.Status)
	assert.Equal(t, 2, sale.Item(env.prod.ID).ReturnedQty)

	// SUBMITTED, APPROVED, SHIPPING, RECEIVED, INSPECTING, INSPECTED,
	// DISPOSITION, COMPLETED.
	entries, err := env.audit.Entries(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 8)
}

func TestCompleteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 2)
	env.advanceToDisposition(t, req.ID, DispositionRefund)
	require.NoError(t, env.engine.Complete(ctx, req.ID, "admin-1"))

	entriesBefore, err := env.audit.Entries(ctx, req.ID)
	require.NoError(t, err)

	require.NoError(t, env.engine.Complete(ctx, req.ID, "admin-1"))

	assert.Equal(t, 12, env.stock(t), "second completion must not touch stock")
	entriesAfter, err := env.audit.Entries(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, entriesAfter, len(entriesBefore), "second completion must not add audit entries")
}

func TestStoreCreditRestoresStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 1)
	env.advanceToDisposition(t, req.ID, DispositionStoreCredit)
	require.NoError(t, env.engine.Complete(ctx, req.ID, "admin-1"))

	assert.Equal(t, 11, env.stock(t))
	got, _ := env.engine.Get(ctx, req.ID)
	assert.Equal(t, 12900, got.RefundAmountCents)

	sale, err := env.sales.Get(ctx, env.sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sales.StatusCompleted, sale.Status, "store credit must not mark the sale refunded")
}

func TestReplacementNotResalable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 2)
	env.advanceToDisposition(t, req.ID, DispositionReplacement)
	require.NoError(t, env.engine.Complete(ctx, req.ID, "admin-1"))

	// Two replacement units leave stock; the damaged returns do not come
	// back.
	assert.Equal(t, 8, env.stock(t))
}

func TestReplacementResalable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 2)

	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusApproved, "admin-1"))
	require.NoError(t, env.engine.SetShippingInfo(ctx, req.ID, "UPS", "1Z999", "user-1"))
	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusReceived, "warehouse-1"))
	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusInspecting, "warehouse-1"))
	require.NoError(t, env.engine.CompleteInspection(ctx, req.ID, InspectionAsDescribed, true, "unopened box", "inspector-1"))
	require.NoError(t, env.engine.SetDisposition(ctx, req.ID, DispositionReplacement, "admin-1", 0))
	require.NoError(t, env.engine.Complete(ctx, req.ID, "admin-1"))

	// Deduction and restore cancel out for resalable returns.
	assert.Equal(t, 10, env.stock(t))
}

func TestReplacementFailsWhenStockExhausted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 2)
	env.advanceToDisposition(t, req.ID, DispositionReplacement)

	// Drain the shelf so the replacement shipment cannot be fulfilled.
	_, err := env.ledger.Reserve(ctx, env.prod.ID, 10)
	require.NoError(t, err)

	err = env.engine.Complete(ctx, req.ID, "admin-1")
	assert.ErrorIs(t, err, inventory.ErrInsufficientStock)

	got, _ := env.engine.Get(ctx, req.ID)
	assert.Equal(t, StatusDisposition, got.Status, "failed completion must not change state")
	assert.False(t, got.EffectsApplied)
	assert.Equal(t, 0, env.stock(t), "failed completion must leave stock untouched")
}

func TestRepairDeductsDuringProcessingAndRestoresOnCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 2)
	env.advanceToDisposition(t, req.ID, DispositionRepair)

	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusProcessing, "admin-1"))
	assert.Equal(t, 8, env.stock(t), "repair takes units out of stock while in the shop")

	got, _ := env.engine.Get(ctx, req.ID)
	assert.True(t, got.PendingRestore)

	require.NoError(t, env.engine.Complete(ctx, req.ID, "admin-1"))
	assert.Equal(t, 10, env.stock(t), "repaired units go back on the shelf")

	got, _ = env.engine.Get(ctx, req.ID)
	assert.False(t, got.PendingRestore)
	assert.True(t, got.EffectsApplied)
}

func TestRepairCompletedWithoutProcessingMovesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 2)
	env.advanceToDisposition(t, req.ID, DispositionRepair)

	require.NoError(t, env.engine.Complete(ctx, req.ID, "admin-1"))
	assert.Equal(t, 10, env.stock(t))
}

func TestCancelDuringRepairRestoresDeduction(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 2)
	env.advanceToDisposition(t, req.ID, DispositionRepair)
	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusProcessing, "admin-1"))
	require.Equal(t, 8, env.stock(t))

	require.NoError(t, env.engine.Cancel(ctx, req.ID, "admin-1", "customer withdrew"))
	assert.Equal(t, 10, env.stock(t))

	got, _ := env.engine.Get(ctx, req.ID)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.False(t, got.PendingRestore)
}

func TestRejectDispositionMovesNoStock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 2)
	env.advanceToDisposition(t, req.ID, DispositionReject)
	require.NoError(t, env.engine.Complete(ctx, req.ID, "admin-1"))

	assert.Equal(t, 10, env.stock(t))
	sale, err := env.sales.Get(ctx, env.sale.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sale.Item(env.prod.ID).ReturnedQty, "rejected return must not count as returned")
}

func TestIllegalTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 1)

	err := env.engine.Transition(ctx, req.ID, StatusReceived, "admin-1")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	err = env.engine.Complete(ctx, req.ID, "admin-1")
	assert.ErrorIs(t, err, ErrIllegalTransition)

	err = env.engine.Transition(ctx, req.ID, Status("SHIPPED"), "admin-1")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDispositionRequiredToEnterDispositionState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 1)

	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusApproved, "admin-1"))
	require.NoError(t, env.engine.SetShippingInfo(ctx, req.ID, "UPS", "1Z999", "user-1"))
	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusReceived, "warehouse-1"))
	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusInspecting, "warehouse-1"))
	require.NoError(t, env.engine.CompleteInspection(ctx, req.ID, InspectionMisuse, false, "", "inspector-1"))

	err := env.engine.Transition(ctx, req.ID, StatusDisposition, "admin-1")
	assert.ErrorIs(t, err, ErrInvalidRequest)

	err = env.engine.SetDisposition(ctx, req.ID, Disposition("EXCHANGE"), "admin-1", 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCancelTerminalRequestFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 1)
	require.NoError(t, env.engine.Cancel(ctx, req.ID, "user-1", ""))

	err := env.engine.Cancel(ctx, req.ID, "user-1", "")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestApprovalIssuesNumberOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 1)

	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusValidating, "admin-1"))
	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusApproved, "admin-1"))

	got, err := env.engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Regexp(t, `^RMA-\d{8}-0001$`, got.Number)
}

func TestRejectedRequestIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 1)

	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusRejected, "admin-1"))

	got, err := env.engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, got.Status)
	assert.False(t, got.ClosedAt.IsZero())

	err = env.engine.Transition(ctx, req.ID, StatusApproved, "admin-1")
	assert.ErrorIs(t, err, ErrIllegalTransition)
}

func TestNotificationsFireOnEveryTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := env.submit(t, 1)
	require.NoError(t, env.engine.Transition(ctx, req.ID, StatusApproved, "admin-1"))

	require.Len(t, env.notifier.changes, 2)
	last := env.notifier.changes[1]
	assert.Equal(t, "user-1", last.CustomerID)
	assert.Equal(t, StatusSubmitted, last.OldStatus)
	assert.Equal(t, StatusApproved, last.NewStatus)
	assert.NotEmpty(t, last.RMANumber)
}

// flakyAuditLog fails appends on demand.
type flakyAuditLog struct {
	*audit.MemoryLog
	fail bool
}

func (l *flakyAuditLog) Append(ctx context.Context, e audit.Entry) (*audit.Entry, error) {
	if l.fail {
		return nil, errors.New("audit store down")
	}
	return l.MemoryLog.Append(ctx, e)
}

func TestTransitionRollsBackWhenAuditCannotCommit(t *testing.T) {
	ctx := context.Background()

	products := product.NewMemoryStore()
	prod, err := products.Create(ctx, "Mechanical Keyboard", 12900, 10)
	require.NoError(t, err)
	salesStore := sales.NewMemoryStore()
	sale := sales.NewSale("user-1", []sales.SaleItem{
		{ProductID: prod.ID, Quantity: 3, PriceCents: 12900},
	}, "CREDIT_CARD", "txn-001")
	require.NoError(t, salesStore.Put(ctx, sale))

	auditLog := &flakyAuditLog{MemoryLog: audit.NewMemoryLog(nil)}
	engine := NewEngine(NewMemoryRepository(auditLog), salesStore,
		inventory.NewMemoryLedger(products), nil, 30*24*time.Hour)

	req, err := engine.Submit(ctx, "user-1", sale.ID,
		[]ItemInput{{ProductID: prod.ID, Quantity: 2}}, "arrived defective", "")
	require.NoError(t, err)

	auditLog.fail = true
	err = engine.Transition(ctx, req.ID, StatusApproved, "admin-1")
	require.Error(t, err)

	// The state change must not outlive its audit entry.
	got, err := engine.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, got.Status)
	assert.Empty(t, got.Number)

	entries, err := auditLog.Entries(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1) // only the submission

	// Once the trail is healthy again the transition goes through.
	auditLog.fail = false
	require.NoError(t, engine.Transition(ctx, req.ID, StatusApproved, "admin-1"))
	entries, err = auditLog.Entries(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSubmitRollsBackWhenAuditCannotCommit(t *testing.T) {
	ctx := context.Background()

	products := product.NewMemoryStore()
	prod, err := products.Create(ctx, "Mechanical Keyboard", 12900, 10)
	require.NoError(t, err)
	salesStore := sales.NewMemoryStore()
	sale := sales.NewSale("user-1", []sales.SaleItem{
		{ProductID: prod.ID, Quantity: 3, PriceCents: 12900},
	}, "CREDIT_CARD", "txn-001")
	require.NoError(t, salesStore.Put(ctx, sale))

	auditLog := &flakyAuditLog{MemoryLog: audit.NewMemoryLog(nil), fail: true}
	engine := NewEngine(NewMemoryRepository(auditLog), salesStore,
		inventory.NewMemoryLedger(products), nil, 30*24*time.Hour)

	req, err := engine.Submit(ctx, "user-1", sale.ID,
		[]ItemInput{{ProductID: prod.ID, Quantity: 2}}, "arrived defective", "")
	require.Error(t, err)
	assert.Nil(t, req)

	// Nothing was created, so resubmission is not blocked by an active RMA.
	auditLog.fail = false
	_, err = engine.Submit(ctx, "user-1", sale.ID,
		[]ItemInput{{ProductID: prod.ID, Quantity: 2}}, "arrived defective", "")
	require.NoError(t, err)
}
