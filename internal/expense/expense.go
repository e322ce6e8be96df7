package expense

import "time"

// EveryoneMarker in a line item's assignment list means the item is shared by
// all participants.
const EveryoneMarker = "everyone"

// Expense is one shared bill, addressed by its share code. Title and Total
// stay nil until someone fills them in.
type Expense struct {
	Code        string    `json:"code"`
	Title       *string   `json:"title"`
	Total       *float64  `json:"total"`
	ReceiptFile string    `json:"receipt_file,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Participant is one person splitting the bill. Order 0 is the payer.
type Participant struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// LineItem is one purchased item on the bill. AssignedTo holds participant
// IDs, or the everyone marker, or is empty while unassigned.
type LineItem struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Price      float64  `json:"price"`
	Order      int      `json:"order"`
	AssignedTo []string `json:"assigned_to"`
}
