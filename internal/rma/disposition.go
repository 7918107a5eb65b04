package rma

import "fmt"

// Disposition is the final business decision on an inspected return.
type Disposition string

const (
	DispositionRefund      Disposition = "REFUND"
	DispositionReplacement Disposition = "REPLACEMENT"
	DispositionRepair      Disposition = "REPAIR"
	DispositionStoreCredit Disposition = "STORE_CREDIT"
	DispositionReject      Disposition = "REJECT"
)

// InspectionResult classifies the returned item's condition.
type InspectionResult string

const (
	InspectionDefective   InspectionResult = "DEFECTIVE"
	InspectionMisuse      InspectionResult = "MISUSE"
	InspectionNormalWear  InspectionResult = "NORMAL_WEAR"
	InspectionAsDescribed InspectionResult = "AS_DESCRIBED"
)

func (r InspectionResult) Valid() bool {
	switch r {
	case InspectionDefective, InspectionMisuse, InspectionNormalWear, InspectionAsDescribed:
		return true
	}
	return false
}

// StockEffect is the inventory delta a disposition applies for one
// returned item. Restore and Deduct are both non-negative quantities.
type StockEffect struct {
	Restore int
	Deduct  int
}

type effectFn func(quantity int, resalable, pendingRestore bool) StockEffect

// completionEffects maps each disposition to the pure function describing
// its inventory delta at completion time:
//   - REFUND, STORE_CREDIT: the returned quantity goes back on the shelf.
//   - REPLACEMENT: a fresh shipment leaves stock; the returned quantity is
//     restored only when inspection marked it resalable.
//   - REPAIR: the temporary deduction taken when processing began is paid
//     back, guarded by the pending-restoration flag.
//   - REJECT: the customer keeps the item, no inventory movement.
var completionEffects = map[Disposition]effectFn{
	DispositionRefund: func(qty int, _, _ bool) StockEffect {
		return StockEffect{Restore: qty}
	},
	DispositionStoreCredit: func(qty int, _, _ bool) StockEffect {
		return StockEffect{Restore: qty}
	},
	DispositionReplacement: func(qty int, resalable, _ bool) StockEffect {
		e := StockEffect{Deduct: qty}
		if resalable {
			e.Restore = qty
		}
		return e
	},
	DispositionRepair: func(qty int, _, pendingRestore bool) StockEffect {
		if pendingRestore {
			return StockEffect{Restore: qty}
		}
		return StockEffect{}
	},
	DispositionReject: func(int, bool, bool) StockEffect {
		return StockEffect{}
	},
}

// processingEffects holds the inventory delta applied when a disposition
// enters PROCESSING. Only REPAIR has one: the returned quantity is
// temporarily deducted to mark it unavailable while under repair.
var processingEffects = map[Disposition]effectFn{
	DispositionRepair: func(qty int, _, _ bool) StockEffect {
		return StockEffect{Deduct: qty}
	},
}

// CompletionEffect returns the inventory delta the disposition applies for
// a single item at completion.
func (d Disposition) CompletionEffect(quantity int, resalable, pendingRestore bool) StockEffect {
	fn, ok := completionEffects[d]
	if !ok {
		return StockEffect{}
	}
	return fn(quantity, resalable, pendingRestore)
}

// ProcessingEffect returns the inventory delta applied when processing
// begins, or the zero effect for dispositions without one.
func (d Disposition) ProcessingEffect(quantity int) StockEffect {
	fn, ok := processingEffects[d]
	if !ok {
		return StockEffect{}
	}
	return fn(quantity, false, false)
}

func (d Disposition) Valid() bool {
	_, ok := completionEffects[d]
	return ok
}

func invalidDisposition(d Disposition) error {
	return fmt.Errorf("%w: invalid disposition %q", ErrInvalidRequest, d)
}
