package extraction

import (
	"fmt"
	"math"
)

// ReviewTolerance is the permitted gap, in currency units, between the sum of
// extracted items and the stated subtotal. OCR rounding can be off by a cent
// or two; anything larger needs a human look before the items are committed.
const ReviewTolerance = 0.02

// Reconciliation is the outcome of checking extracted items against the
// stated subtotal.
type Reconciliation struct {
	ItemsSum    float64
	Subtotal    *float64
	NeedsReview bool
	Reason      string
}

// ErrNoItems is returned when an extraction produced no items at all; that is
// treated as a failure regardless of provider-level success.
var ErrNoItems = fmt.Errorf("no items found in receipt")

// CheckReconciliation decides whether extracted receipt data can be committed
// automatically or must be surfaced for human confirmation first.
func CheckReconciliation(data *ReceiptData) (*Reconciliation, error) {
	if data == nil || len(data.Items) == 0 {
		return nil, ErrNoItems
	}

	rec := &Reconciliation{
		ItemsSum: data.ItemsSum(),
		Subtotal: data.Subtotal,
	}

	if data.Subtotal != nil {
		diff := math.Abs(rec.ItemsSum - *data.Subtotal)
		if diff > ReviewTolerance {
			rec.NeedsReview = true
			rec.Reason = fmt.Sprintf(
				"items sum to $%.2f but subtotal is $%.2f",
				rec.ItemsSum, *data.Subtotal,
			)
		}
	}

	return rec, nil
}
