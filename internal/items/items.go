// Package items implements the shared item catalog service. Catalog changes
// are announced on the event exchange after the HTTP response is sent.
package items

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/cartmesh/cartmesh/internal/auth"
	"github.com/cartmesh/cartmesh/internal/messaging"
	"github.com/cartmesh/cartmesh/internal/store"
)

const collection = "items"

// Collections returns the store collections this service owns.
func Collections() []string { return []string{collection} }

// ValidationError describes a rejected request field.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// Item is a catalog entry shared by every shopping list.
type Item struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Category     string    `json:"category"`
	Unit         string    `json:"unit"`
	DefaultPrice float64   `json:"defaultPrice"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// ItemInput is the create/update request payload.
type ItemInput struct {
	Name         string  `json:"name"`
	Category     string  `json:"category"`
	Unit         string  `json:"unit"`
	DefaultPrice float64 `json:"defaultPrice"`
}

// Stats is the aggregate payload served to the dashboard.
type Stats struct {
	TotalItems int `json:"totalItems"`
	Categories int `json:"categories"`
}

// Service implements catalog operations.
type Service struct {
	store     *store.Store
	tokens    *auth.Tokens
	publisher *messaging.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates the catalog service over an opened store.
func NewService(st *store.Store, tokens *auth.Tokens, publisher *messaging.Publisher, logger *slog.Logger) *Service {
	return &Service{store: st, tokens: tokens, publisher: publisher, logger: logger, now: time.Now}
}

// Create adds a catalog entry.
func (s *Service) Create(in ItemInput) (Item, error) {
	if err := in.validate(); err != nil {
		return Item{}, err
	}

	now := s.now().UTC()
	it := Item{
		ID:           store.NewID(),
		Name:         strings.TrimSpace(in.Name),
		Category:     strings.TrimSpace(in.Category),
		Unit:         strings.TrimSpace(in.Unit),
		DefaultPrice: in.DefaultPrice,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Put(collection, it.ID, it); err != nil {
		return Item{}, err
	}

	s.logger.Info("item created", "item_id", it.ID, "name", it.Name)
	return it, nil
}

// Get returns one catalog entry, or store.ErrNotFound.
func (s *Service) Get(id string) (Item, error) {
	var it Item
	if err := s.store.Get(collection, id, &it); err != nil {
		return Item{}, err
	}
	return it, nil
}

// Update replaces a catalog entry's fields.
func (s *Service) Update(id string, in ItemInput) (Item, error) {
	if err := in.validate(); err != nil {
		return Item{}, err
	}

	var it Item
	if err := s.store.Get(collection, id, &it); err != nil {
		return Item{}, err
	}

	it.Name = strings.TrimSpace(in.Name)
	it.Category = strings.TrimSpace(in.Category)
	it.Unit = strings.TrimSpace(in.Unit)
	it.DefaultPrice = in.DefaultPrice
	it.UpdatedAt = s.now().UTC()

	if err := s.store.Put(collection, id, it); err != nil {
		return Item{}, err
	}

	s.logger.Info("item updated", "item_id", it.ID)
	return it, nil
}

// Delete removes a catalog entry, or returns store.ErrNotFound.
func (s *Service) Delete(id string) error {
	return s.store.Delete(collection, id)
}

// List returns the whole catalog sorted by name.
func (s *Service) List() ([]Item, error) {
	raws, err := s.store.All(collection)
	if err != nil {
		return nil, err
	}
	return decodeSorted(raws)
}

// Search returns entries whose name or category contains the query,
// case-insensitively.
func (s *Service) Search(query string) ([]Item, error) {
	raws, err := s.store.Search(collection, query, "name", "category")
	if err != nil {
		return nil, err
	}
	return decodeSorted(raws)
}

// Stats returns the dashboard aggregates.
func (s *Service) Stats() (Stats, error) {
	items, err := s.List()
	if err != nil {
		return Stats{}, err
	}

	categories := make(map[string]bool)
	for _, it := range items {
		if it.Category != "" {
			categories[strings.ToLower(it.Category)] = true
		}
	}
	return Stats{TotalItems: len(items), Categories: len(categories)}, nil
}

// announce publishes a catalog event from a detached goroutine so broker
// latency never touches the request path.
func (s *Service) announce(routingKey string, it Item) {
	evt := messaging.ItemEvent{
		EventID:   messaging.NewEventID(),
		ItemID:    it.ID,
		Name:      it.Name,
		Category:  it.Category,
		EmittedAt: s.now().UTC(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.publisher.Publish(ctx, routingKey, evt); err != nil {
			s.logger.Warn("item event publish failed",
				"routing_key", routingKey,
				"item_id", it.ID,
				"error", err,
			)
		}
	}()
}

func (in ItemInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return validationErrorf("name is required")
	}
	if in.DefaultPrice < 0 {
		return validationErrorf("defaultPrice must not be negative")
	}
	return nil
}

func decodeSorted(raws []json.RawMessage) ([]Item, error) {
	items := make([]Item, 0, len(raws))
	for _, raw := range raws {
		var it Item
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})
	return items, nil
}
