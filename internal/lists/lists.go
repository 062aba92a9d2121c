// Package lists implements the shopping list service: owner-scoped CRUD,
// list entries, and the checkout transition that feeds the event pipeline.
package lists

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cartmesh/cartmesh/internal/auth"
	"github.com/cartmesh/cartmesh/internal/messaging"
	"github.com/cartmesh/cartmesh/internal/store"
)

const collection = "lists"

// Collections returns the store collections this service owns.
func Collections() []string { return []string{collection} }

// List lifecycle. A list starts open and is frozen by checkout.
const (
	StatusOpen      = "open"
	StatusCompleted = "completed"
)

var (
	// ErrNotOwner is returned when the caller is not the list's owner.
	ErrNotOwner = errors.New("list belongs to another user")

	// ErrListCompleted rejects entry changes and checkout on a list that
	// has already been checked out.
	ErrListCompleted = errors.New("list is already completed")

	// ErrDuplicateEntry rejects adding an item that is already on the list.
	ErrDuplicateEntry = errors.New("item is already on the list")

	// ErrEntryNotFound is returned when a list has no entry for the item.
	ErrEntryNotFound = errors.New("entry not found")
)

// ValidationError describes a rejected request field.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Entry is one line of a shopping list. ItemID references the shared
// catalog and is unique within a list.
type Entry struct {
	ItemID         string  `json:"itemId"`
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	Unit           string  `json:"unit"`
	EstimatedPrice float64 `json:"estimatedPrice"`
	Purchased      bool    `json:"purchased"`
}

// ShoppingList is the stored record.
type ShoppingList struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Name        string     `json:"name"`
	Status      string     `json:"status"`
	Entries     []Entry    `json:"entries"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// EntryInput is the add-entry request payload. A zero quantity defaults
// to one.
type EntryInput struct {
	ItemID         string  `json:"itemId"`
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	Unit           string  `json:"unit"`
	EstimatedPrice float64 `json:"estimatedPrice"`
}

// EntryUpdate is the partial-update payload for one entry. Nil fields are
// left unchanged, which lets clients toggle purchased without resending
// the whole entry.
type EntryUpdate struct {
	Name           *string  `json:"name"`
	Quantity       *int     `json:"quantity"`
	Unit           *string  `json:"unit"`
	EstimatedPrice *float64 `json:"estimatedPrice"`
	Purchased      *bool    `json:"purchased"`
}

// Stats is the aggregate payload served to the dashboard.
type Stats struct {
	TotalLists     int `json:"totalLists"`
	CompletedLists int `json:"completedLists"`
}

// Service implements shopping list operations.
type Service struct {
	store     *store.Store
	tokens    *auth.Tokens
	publisher *messaging.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates the list service over an opened store.
func NewService(st *store.Store, tokens *auth.Tokens, publisher *messaging.Publisher, logger *slog.Logger) *Service {
	return &Service{store: st, tokens: tokens, publisher: publisher, logger: logger, now: time.Now}
}

// Create starts a new open list owned by userID.
func (s *Service) Create(userID, name string) (ShoppingList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ShoppingList{}, validationErrorf("name is required")
	}

	now := s.now().UTC()
	l := ShoppingList{
		ID:        store.NewID(),
		UserID:    userID,
		Name:      name,
		Status:    StatusOpen,
		Entries:   []Entry{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Put(collection, l.ID, l); err != nil {
		return ShoppingList{}, err
	}

	s.logger.Info("list created", "list_id", l.ID, "user_id", userID)
	return l, nil
}

// Get returns one list if userID owns it.
func (s *Service) Get(userID, id string) (ShoppingList, error) {
	return s.owned(userID, id)
}

// ListForUser returns every list owned by userID, newest first.
func (s *Service) ListForUser(userID string) ([]ShoppingList, error) {
	raws, err := s.store.Find(collection, func(raw []byte) bool {
		var probe struct {
			UserID string `json:"userId"`
		}
		return json.Unmarshal(raw, &probe) == nil && probe.UserID == userID
	})
	if err != nil {
		return nil, err
	}

	out := make([]ShoppingList, 0, len(raws))
	for _, raw := range raws {
		var l ShoppingList
		if err := json.Unmarshal(raw, &l); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Rename changes a list's name. Completed lists may still be renamed.
func (s *Service) Rename(userID, id, name string) (ShoppingList, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ShoppingList{}, validationErrorf("name is required")
	}

	l, err := s.owned(userID, id)
	if err != nil {
		return ShoppingList{}, err
	}

	l.Name = name
	l.UpdatedAt = s.now().UTC()
	if err := s.store.Put(collection, id, l); err != nil {
		return ShoppingList{}, err
	}
	return l, nil
}

// Delete removes a list.
func (s *Service) Delete(userID, id string) error {
	if _, err := s.owned(userID, id); err != nil {
		return err
	}
	return s.store.Delete(collection, id)
}

// AddEntry appends an item to an open list. The item must not already be
// on the list; quantity changes go through UpdateEntry.
func (s *Service) AddEntry(userID, listID string, in EntryInput) (ShoppingList, error) {
	if err := in.validate(); err != nil {
		return ShoppingList{}, err
	}

	l, err := s.openOwned(userID, listID)
	if err != nil {
		return ShoppingList{}, err
	}

	for _, e := range l.Entries {
		if e.ItemID == in.ItemID {
			return ShoppingList{}, ErrDuplicateEntry
		}
	}

	qty := in.Quantity
	if qty == 0 {
		qty = 1
	}
	l.Entries = append(l.Entries, Entry{
		ItemID:         in.ItemID,
		Name:           strings.TrimSpace(in.Name),
		Quantity:       qty,
		Unit:           strings.TrimSpace(in.Unit),
		EstimatedPrice: in.EstimatedPrice,
	})
	l.UpdatedAt = s.now().UTC()

	if err := s.store.Put(collection, listID, l); err != nil {
		return ShoppingList{}, err
	}
	return l, nil
}

// UpdateEntry applies a partial update to one entry of an open list.
func (s *Service) UpdateEntry(userID, listID, itemID string, in EntryUpdate) (ShoppingList, error) {
	if err := in.validate(); err != nil {
		return ShoppingList{}, err
	}

	l, err := s.openOwned(userID, listID)
	if err != nil {
		return ShoppingList{}, err
	}

	idx := -1
	for i, e := range l.Entries {
		if e.ItemID == itemID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ShoppingList{}, ErrEntryNotFound
	}

	e := &l.Entries[idx]
	if in.Name != nil {
		e.Name = strings.TrimSpace(*in.Name)
	}
	if in.Quantity != nil {
		e.Quantity = *in.Quantity
	}
	if in.Unit != nil {
		e.Unit = strings.TrimSpace(*in.Unit)
	}
	if in.EstimatedPrice != nil {
		e.EstimatedPrice = *in.EstimatedPrice
	}
	if in.Purchased != nil {
		e.Purchased = *in.Purchased
	}
	l.UpdatedAt = s.now().UTC()

	if err := s.store.Put(collection, listID, l); err != nil {
		return ShoppingList{}, err
	}
	return l, nil
}

// RemoveEntry deletes one entry from an open list.
func (s *Service) RemoveEntry(userID, listID, itemID string) (ShoppingList, error) {
	l, err := s.openOwned(userID, listID)
	if err != nil {
		return ShoppingList{}, err
	}

	kept := l.Entries[:0]
	found := false
	for _, e := range l.Entries {
		if e.ItemID == itemID {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return ShoppingList{}, ErrEntryNotFound
	}

	l.Entries = kept
	l.UpdatedAt = s.now().UTC()

	if err := s.store.Put(collection, listID, l); err != nil {
		return ShoppingList{}, err
	}
	return l, nil
}

// Checkout transitions an open list to completed and persists it. The
// caller publishes the checkout event after the client response is sent.
func (s *Service) Checkout(userID, listID string) (ShoppingList, error) {
	l, err := s.openOwned(userID, listID)
	if err != nil {
		return ShoppingList{}, err
	}

	now := s.now().UTC()
	l.Status = StatusCompleted
	l.UpdatedAt = now
	l.CompletedAt = &now

	if err := s.store.Put(collection, listID, l); err != nil {
		return ShoppingList{}, err
	}

	s.logger.Info("list checked out",
		"list_id", l.ID,
		"user_id", l.UserID,
		"entries", len(l.Entries),
	)
	return l, nil
}

// Stats returns the dashboard aggregates.
func (s *Service) Stats() (Stats, error) {
	raws, err := s.store.All(collection)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalLists: len(raws)}
	for _, raw := range raws {
		var probe struct {
			Status string `json:"status"`
		}
		if json.Unmarshal(raw, &probe) == nil && probe.Status == StatusCompleted {
			stats.CompletedLists++
		}
	}
	return stats, nil
}

// announceCheckout publishes the checkout event from a detached goroutine.
// It runs strictly after the 202 response and can only log its failures.
func (s *Service) announceCheckout(l ShoppingList) {
	items := make([]messaging.CheckoutItem, len(l.Entries))
	for i, e := range l.Entries {
		items[i] = messaging.CheckoutItem{
			ItemID:         e.ItemID,
			Name:           e.Name,
			Quantity:       e.Quantity,
			Unit:           e.Unit,
			EstimatedPrice: e.EstimatedPrice,
			Purchased:      e.Purchased,
		}
	}

	evt := messaging.CheckoutCompletedEvent{
		EventID:   messaging.NewEventID(),
		ListID:    l.ID,
		UserID:    l.UserID,
		Items:     items,
		Summary:   messaging.Summarize(items),
		EmittedAt: s.now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, messaging.KeyCheckoutCompleted, evt); err != nil {
			s.logger.Warn("checkout event publish failed",
				"list_id", l.ID,
				"event_id", evt.EventID,
				"error", err,
			)
		}
	}()
}

// owned loads a list and checks ownership.
func (s *Service) owned(userID, id string) (ShoppingList, error) {
	var l ShoppingList
	if err := s.store.Get(collection, id, &l); err != nil {
		return ShoppingList{}, err
	}
	if l.UserID != userID {
		return ShoppingList{}, ErrNotOwner
	}
	return l, nil
}

// openOwned loads an owned list and rejects it if checkout already froze it.
func (s *Service) openOwned(userID, id string) (ShoppingList, error) {
	l, err := s.owned(userID, id)
	if err != nil {
		return ShoppingList{}, err
	}
	if l.Status != StatusOpen {
		return ShoppingList{}, ErrListCompleted
	}
	return l, nil
}

func (in EntryInput) validate() error {
	if strings.TrimSpace(in.ItemID) == "" {
		return validationErrorf("itemId is required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return validationErrorf("name is required")
	}
	if in.Quantity < 0 {
		return validationErrorf("quantity must not be negative")
	}
	if in.EstimatedPrice < 0 {
		return validationErrorf("estimatedPrice must not be negative")
	}
	return nil
}

func (in EntryUpdate) validate() error {
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		return validationErrorf("name must not be empty")
	}
	if in.Quantity != nil && *in.Quantity < 1 {
		return validationErrorf("quantity must be at least 1")
	}
	if in.EstimatedPrice != nil && *in.EstimatedPrice < 0 {
		return validationErrorf("estimatedPrice must not be negative")
	}
	return nil
}
