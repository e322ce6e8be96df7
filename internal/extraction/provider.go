package extraction

import "context"

// ReceiptItem is a single purchased item read off a receipt.
type ReceiptItem struct {
	Name  string  `json:"name"`
	Price float64 `json:"price"`
}

// ReceiptData is the structured result of one extraction. Subtotal and Total
// are nil when the receipt didn't state them; Subtotal is synthesized from
// the item prices whenever items were found, Total never is.
type ReceiptData struct {
	Items    []ReceiptItem `json:"items"`
	Subtotal *float64      `json:"subtotal"`
	Total    *float64      `json:"total"`
	Raw      string        `json:"raw,omitempty"` // raw recognized text, diagnostic only
}

// ItemsSum returns the sum of all item prices.
func (r *ReceiptData) ItemsSum() float64 {
	var sum float64
	for _, item := range r.Items {
		sum += item.Price
	}
	return sum
}

// fillSubtotal sets Subtotal to the item sum when the receipt didn't state one.
func (r *ReceiptData) fillSubtotal() {
	if r.Subtotal == nil && len(r.Items) > 0 {
		sum := r.ItemsSum()
		r.Subtotal = &sum
	}
}

// Provider turns a receipt image into structured receipt data. Implementations
// must not retain the image buffer after ExtractReceipt returns; the returned
// ReceiptData is owned by the caller.
type Provider interface {
	// Name identifies the provider in logs and error messages.
	Name() string

	// ExtractReceipt analyzes a receipt image and returns its line items,
	// subtotal and total. contentType is the MIME type of the image data.
	ExtractReceipt(ctx context.Context, image []byte, contentType string) (*ReceiptData, error)

	// Close releases any resources held by the provider.
	Close() error
}
