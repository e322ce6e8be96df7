package expense

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	expenseBucketName     = "expenses"
	participantBucketName = "participants"
	lineItemBucketName    = "lineitems"
)

// ErrExpenseNotFound is returned when no expense exists for a share code.
var ErrExpenseNotFound = fmt.Errorf("expense not found")

// DB defines the interface for expense persistence.
type DB interface {
	// SaveExpense stores an expense under its share code.
	SaveExpense(expense *Expense) error

	// GetExpense retrieves an expense by share code.
	GetExpense(code string) (*Expense, error)

	// SaveParticipant stores a participant of an expense.
	SaveParticipant(code string, participant *Participant) error

	// ListParticipants returns an expense's participants sorted by order.
	ListParticipants(code string) ([]*Participant, error)

	// DeleteParticipant removes a participant from an expense.
	DeleteParticipant(code, participantID string) error

	// SaveLineItem stores a line item of an expense.
	SaveLineItem(code string, item *LineItem) error

	// GetLineItem retrieves a single line item of an expense.
	GetLineItem(code, itemID string) (*LineItem, error)

	// ListLineItems returns an expense's line items sorted by order.
	ListLineItems(code string) ([]*LineItem, error)

	// DeleteLineItems removes the given line items from an expense.
	DeleteLineItems(code string, itemIDs []string) error

	// Close closes the database connection.
	Close() error
}

// BoltDB implements the DB interface using BoltDB. Participants and line
// items live in their own buckets, keyed by "<code>/<id>" so one expense's
// records form a contiguous range.
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database at path.
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{expenseBucketName, participantBucketName, lineItemBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func scopedKey(code, id string) []byte {
	return []byte(code + "/" + id)
}

func scopedPrefix(code string) []byte {
	return []byte(code + "/")
}

// SaveExpense stores an expense under its share code.
func (b *BoltDB) SaveExpense(expense *Expense) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data, err := json.Marshal(expense)
		if err != nil {
			return fmt.Errorf("marshaling expense: %w", err)
		}
		return bucket.Put([]byte(expense.Code), data)
	})
}

// GetExpense retrieves an expense by share code.
func (b *BoltDB) GetExpense(code string) (*Expense, error) {
	var expense *Expense
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(expenseBucketName))
		data := bucket.Get([]byte(code))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrExpenseNotFound, code)
		}
		return json.Unmarshal(data, &expense)
	})
	if err != nil {
		return nil, err
	}
	return expense, nil
}

// SaveParticipant stores a participant of an expense.
func (b *BoltDB) SaveParticipant(code string, participant *Participant) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(participantBucketName))
		data, err := json.Marshal(participant)
		if err != nil {
			return fmt.Errorf("marshaling participant: %w", err)
		}
		return bucket.Put(scopedKey(code, participant.ID), data)
	})
}

// ListParticipants returns an expense's participants sorted by order.
func (b *BoltDB) ListParticipants(code string) ([]*Participant, error) {
	participants := make([]*Participant, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(participantBucketName)).Cursor()
		prefix := scopedPrefix(code)
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var participant Participant
			if err := json.Unmarshal(v, &participant); err != nil {
				return fmt.Errorf("unmarshaling participant: %w", err)
			}
			participants = append(participants, &participant)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].Order < participants[j].Order
	})
	return participants, nil
}

// DeleteParticipant removes a participant from an expense.
func (b *BoltDB) DeleteParticipant(code, participantID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(participantBucketName)).Delete(scopedKey(code, participantID))
	})
}

// SaveLineItem stores a line item of an expense.
func (b *BoltDB) SaveLineItem(code string, item *LineItem) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(lineItemBucketName))
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshaling line item: %w", err)
		}
		return bucket.Put(scopedKey(code, item.ID), data)
	})
}

// GetLineItem retrieves a single line item of an expense.
func (b *BoltDB) GetLineItem(code, itemID string) (*LineItem, error) {
	var item *LineItem
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(lineItemBucketName)).Get(scopedKey(code, itemID))
		if data == nil {
			return fmt.Errorf("line item not found: %s", itemID)
		}
		return json.Unmarshal(data, &item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListLineItems returns an expense's line items sorted by order.
func (b *BoltDB) ListLineItems(code string) ([]*LineItem, error) {
	items := make([]*LineItem, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		cursor := tx.Bucket([]byte(lineItemBucketName)).Cursor()
		prefix := scopedPrefix(code)
		for k, v := cursor.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = cursor.Next() {
			var item LineItem
			if err := json.Unmarshal(v, &item); err != nil {
				return fmt.Errorf("unmarshaling line item: %w", err)
			}
			items = append(items, &item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Order < items[j].Order
	})
	return items, nil
}

// DeleteLineItems removes the given line items from an expense in one
// transaction.
func (b *BoltDB) DeleteLineItems(code string, itemIDs []string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(lineItemBucketName))
		for _, id := range itemIDs {
			if err := bucket.Delete(scopedKey(code, id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the database connection.
func (b *BoltDB) Close() error {
	return b.db.Close()
}
