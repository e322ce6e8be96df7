package expense

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jspencer/billsplit/internal/extraction"
)

const maxShareCodeAttempts = 10

// IDGenerator generates unique IDs for participants and line items.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates IDs using UnixNano timestamp
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles expense operations and drives receipt extraction.
type Service struct {
	db          DB
	provider    extraction.Provider
	storage     Storage
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source.
func NewService(db DB, provider extraction.Provider, storage Storage) *Service {
	return &Service{
		db:          db,
		provider:    provider,
		storage:     storage,
		idGenerator: &defaultIDGenerator{},
		timeSource:  &defaultTimeSource{},
	}
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing.
func NewServiceWithDeps(db DB, provider extraction.Provider, storage Storage, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		provider:    provider,
		storage:     storage,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// CreateExpense creates a new expense under a fresh share code, retrying on
// the rare collision.
func (s *Service) CreateExpense() (*Expense, error) {
	for attempt := 0; attempt < maxShareCodeAttempts; attempt++ {
		code, err := generateShareCode()
		if err != nil {
			return nil, err
		}
		if _, err := s.db.GetExpense(code); err == nil {
			continue // taken
		}

		now := s.timeSource.Now()
		expense := &Expense{
			Code:      code,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.db.SaveExpense(expense); err != nil {
			return nil, fmt.Errorf("saving expense: %w", err)
		}
		return expense, nil
	}
	return nil, fmt.Errorf("failed to generate unique share code")
}

// GetExpense retrieves an expense by share code.
func (s *Service) GetExpense(code string) (*Expense, error) {
	if !ValidShareCode(code) {
		return nil, fmt.Errorf("%w: invalid share code %q", ErrExpenseNotFound, code)
	}
	expense, err := s.db.GetExpense(code)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return expense, nil
}

// UpdateExpenseTitle sets or clears an expense's title.
func (s *Service) UpdateExpenseTitle(code string, title *string) error {
	return s.updateExpense(code, func(e *Expense) { e.Title = title })
}

// UpdateExpenseTotal sets or clears an expense's charged total. The pipeline
// never synthesizes a total, so this is how an unknown one gets filled in.
func (s *Service) UpdateExpenseTotal(code string, total *float64) error {
	return s.updateExpense(code, func(e *Expense) { e.Total = total })
}

func (s *Service) updateExpense(code string, mutate func(*Expense)) error {
	expense, err := s.GetExpense(code)
	if err != nil {
		return err
	}
	mutate(expense)
	expense.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveExpense(expense); err != nil {
		return fmt.Errorf("saving expense: %w", err)
	}
	return nil
}

// Participants returns an expense's participants in order, payer first.
func (s *Service) Participants(code string) ([]*Participant, error) {
	if _, err := s.GetExpense(code); err != nil {
		return nil, err
	}
	participants, err := s.db.ListParticipants(code)
	if err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	return participants, nil
}

// AddParticipant appends a participant to an expense.
func (s *Service) AddParticipant(code, name string) (*Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("participant name is required")
	}

	existing, err := s.Participants(code)
	if err != nil {
		return nil, err
	}

	participant := &Participant{
		ID:    s.idGenerator.Generate(),
		Name:  name,
		Order: len(existing),
	}
	if err := s.db.SaveParticipant(code, participant); err != nil {
		return nil, fmt.Errorf("saving participant: %w", err)
	}
	return participant, nil
}

// RenameParticipant changes a participant's display name.
func (s *Service) RenameParticipant(code, participantID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("participant name is required")
	}

	participants, err := s.Participants(code)
	if err != nil {
		return err
	}
	for _, participant := range participants {
		if participant.ID == participantID {
			participant.Name = name
			return s.db.SaveParticipant(code, participant)
		}
	}
	return fmt.Errorf("participant not found: %s", participantID)
}

// RemoveParticipant deletes a participant and scrubs them from any line item
// assignments so shares stay computable.
func (s *Service) RemoveParticipant(code, participantID string) error {
	if err := s.db.DeleteParticipant(code, participantID); err != nil {
		return fmt.Errorf("deleting participant: %w", err)
	}

	items, err := s.db.ListLineItems(code)
	if err != nil {
		return fmt.Errorf("listing line items: %w", err)
	}
	for _, item := range items {
		filtered := item.AssignedTo[:0]
		for _, id := range item.AssignedTo {
			if id != participantID {
				filtered = append(filtered, id)
			}
		}
		if len(filtered) != len(item.AssignedTo) {
			item.AssignedTo = filtered
			if err := s.db.SaveLineItem(code, item); err != nil {
				return fmt.Errorf("updating line item assignment: %w", err)
			}
		}
	}
	return nil
}

// LineItems returns an expense's line items in order.
func (s *Service) LineItems(code string) ([]*LineItem, error) {
	if _, err := s.GetExpense(code); err != nil {
		return nil, err
	}
	items, err := s.db.ListLineItems(code)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	return items, nil
}

// AddLineItem appends a manually entered line item to an expense.
func (s *Service) AddLineItem(code, name string, price float64) (*LineItem, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("line item name is required")
	}
	if price <= 0 {
		return nil, fmt.Errorf("line item price must be positive")
	}

	existing, err := s.LineItems(code)
	if err != nil {
		return nil, err
	}

	item := &LineItem{
		ID:         s.idGenerator.Generate(),
		Name:       name,
		Price:      price,
		Order:      nextOrder(existing),
		AssignedTo: []string{},
	}
	if err := s.db.SaveLineItem(code, item); err != nil {
		return nil, fmt.Errorf("saving line item: %w", err)
	}
	return item, nil
}

// UpdateLineItem replaces a line item's name and price.
func (s *Service) UpdateLineItem(code, itemID, name string, price float64) (*LineItem, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("line item name is required")
	}
	if price <= 0 {
		return nil, fmt.Errorf("line item price must be positive")
	}

	item, err := s.db.GetLineItem(code, itemID)
	if err != nil {
		return nil, fmt.Errorf("getting line item: %w", err)
	}
	item.Name = name
	item.Price = price
	if err := s.db.SaveLineItem(code, item); err != nil {
		return nil, fmt.Errorf("saving line item: %w", err)
	}
	return item, nil
}

// AssignLineItem sets who shares a line item: participant IDs, the everyone
// marker, or nothing.
func (s *Service) AssignLineItem(code, itemID string, assignedTo []string) (*LineItem, error) {
	if assignedTo == nil {
		assignedTo = []string{}
	}

	participants, err := s.Participants(code)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(participants))
	for _, participant := range participants {
		known[participant.ID] = true
	}
	for _, id := range assignedTo {
		if id != EveryoneMarker && !known[id] {
			return nil, fmt.Errorf("unknown participant: %s", id)
		}
	}

	item, err := s.db.GetLineItem(code, itemID)
	if err != nil {
		return nil, fmt.Errorf("getting line item: %w", err)
	}
	item.AssignedTo = assignedTo
	if err := s.db.SaveLineItem(code, item); err != nil {
		return nil, fmt.Errorf("saving line item: %w", err)
	}
	return item, nil
}

// RemoveLineItems deletes the given line items from an expense.
func (s *Service) RemoveLineItems(code string, itemIDs []string) error {
	if err := s.db.DeleteLineItems(code, itemIDs); err != nil {
		return fmt.Errorf("deleting line items: %w", err)
	}
	return nil
}

// Shares computes what each participant owes, payer first.
func (s *Service) Shares(code string) ([]*ParticipantShare, error) {
	participants, err := s.Participants(code)
	if err != nil {
		return nil, err
	}
	items, err := s.db.ListLineItems(code)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	return ComputeShares(items, participants), nil
}

// ImportResult is the outcome of running a receipt image through the
// extraction pipeline for an expense. When the extracted items disagree with
// the stated subtotal beyond tolerance, NeedsReview is set and nothing is
// committed; the caller confirms with CommitItems or discards.
type ImportResult struct {
	Receipt     *extraction.ReceiptData `json:"receipt"`
	NeedsReview bool                    `json:"needs_review"`
	Reason      string                  `json:"reason,omitempty"`
	Added       []*LineItem             `json:"added,omitempty"`
}

// ImportReceipt stores the uploaded image, extracts structured receipt data
// from it, and either commits the items as line items or flags the result
// for human review.
func (s *Service) ImportReceipt(ctx context.Context, code, filename string, data []byte, contentType string) (*ImportResult, error) {
	if _, err := s.GetExpense(code); err != nil {
		return nil, err
	}

	cleanFilename := sanitizeFilename(filename)
	savedPath, err := s.storage.Save(code, fmt.Sprintf("%s_%s", s.idGenerator.Generate(), cleanFilename), data)
	if err != nil {
		return nil, fmt.Errorf("saving receipt image: %w", err)
	}

	receipt, err := s.provider.ExtractReceipt(ctx, data, contentType)
	if err != nil {
		slog.Error("Failed to extract receipt",
			"expense", code,
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("extracting receipt: %w", err)
	}

	reconciliation, err := extraction.CheckReconciliation(receipt)
	if err != nil {
		// Zero extracted items counts as a failed extraction.
		s.storage.Delete(savedPath)
		return nil, err
	}

	if err := s.updateExpense(code, func(e *Expense) { e.ReceiptFile = savedPath }); err != nil {
		return nil, err
	}

	if reconciliation.NeedsReview {
		slog.Info("Receipt needs review before commit",
			"expense", code,
			"items", len(receipt.Items),
			"reason", reconciliation.Reason,
		)
		return &ImportResult{
			Receipt:     receipt,
			NeedsReview: true,
			Reason:      reconciliation.Reason,
		}, nil
	}

	added, err := s.CommitItems(code, receipt.Items)
	if err != nil {
		return nil, err
	}
	return &ImportResult{Receipt: receipt, Added: added}, nil
}

// CommitItems persists extracted receipt items as line items with sequential
// order numbers, unassigned.
func (s *Service) CommitItems(code string, items []extraction.ReceiptItem) ([]*LineItem, error) {
	if len(items) == 0 {
		return nil, extraction.ErrNoItems
	}

	existing, err := s.LineItems(code)
	if err != nil {
		return nil, err
	}
	order := nextOrder(existing)

	added := make([]*LineItem, 0, len(items))
	for i, item := range items {
		lineItem := &LineItem{
			ID:         s.idGenerator.Generate(),
			Name:       item.Name,
			Price:      item.Price,
			Order:      order + i,
			AssignedTo: []string{},
		}
		if err := s.db.SaveLineItem(code, lineItem); err != nil {
			return nil, fmt.Errorf("saving line item: %w", err)
		}
		added = append(added, lineItem)
	}
	return added, nil
}

// ExtractReceipt runs the extraction pipeline without touching any expense,
// for callers that want the raw structured data.
func (s *Service) ExtractReceipt(ctx context.Context, data []byte, contentType string) (*extraction.ReceiptData, error) {
	return s.provider.ExtractReceipt(ctx, data, contentType)
}

// GetReceiptImage retrieves the stored receipt image for an expense.
func (s *Service) GetReceiptImage(code string) ([]byte, error) {
	expense, err := s.GetExpense(code)
	if err != nil {
		return nil, err
	}
	if expense.ReceiptFile == "" {
		return nil, fmt.Errorf("expense %s has no receipt image", code)
	}
	data, err := s.storage.Get(expense.ReceiptFile)
	if err != nil {
		return nil, fmt.Errorf("getting receipt image: %w", err)
	}
	return data, nil
}

func nextOrder(items []*LineItem) int {
	next := 0
	for _, item := range items {
		if item.Order >= next {
			next = item.Order + 1
		}
	}
	return next
}

// sanitizeFilename cleans up a filename by removing special characters and
// truncating length; phone cameras produce long, messy names.
func sanitizeFilename(filename string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)

	reg := regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	base = reg.ReplaceAllString(base, "")

	reg = regexp.MustCompile(`\s+`)
	base = reg.ReplaceAllString(base, " ")

	base = strings.TrimSpace(base)

	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}

	if base == "" {
		base = "receipt"
	}

	return base + ext
}
