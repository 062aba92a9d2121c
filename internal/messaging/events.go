// Package messaging implements the shopping event pipeline: domain event
// types, a fire-and-forget publisher, and the consumer loop workers run on.
package messaging

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Exchange is the durable topic exchange every event flows through.
const Exchange = "shopping_events"

// Routing keys follow <entity>.<action>[.<status>].
const (
	KeyCheckoutCompleted = "list.checkout.completed"
	KeyItemCreated       = "item.created"
	KeyItemUpdated       = "item.updated"
)

// PatternCheckout is the binding pattern checkout consumers subscribe with.
const PatternCheckout = "list.checkout.#"

// NewEventID returns a fresh event identifier.
func NewEventID() string {
	return uuid.NewString()
}

// CheckoutItem is one line of the list snapshot embedded in a checkout
// event. It is a copy taken at emission time, not a reference.
type CheckoutItem struct {
	ItemID         string  `json:"itemId"`
	Name           string  `json:"name"`
	Quantity       int     `json:"quantity"`
	Unit           string  `json:"unit"`
	EstimatedPrice float64 `json:"estimatedPrice"`
	Purchased      bool    `json:"purchased"`
}

// CheckoutSummary carries the totals precomputed at emission time.
type CheckoutSummary struct {
	TotalItems     int     `json:"totalItems"`
	PurchasedItems int     `json:"purchasedItems"`
	EstimatedTotal float64 `json:"estimatedTotal"`
}

// Summarize computes the snapshot totals: entry counts and the sum of
// estimatedPrice × quantity, rounded to cents.
func Summarize(items []CheckoutItem) CheckoutSummary {
	s := CheckoutSummary{TotalItems: len(items)}
	total := 0.0
	for _, it := range items {
		total += it.EstimatedPrice * float64(it.Quantity)
		if it.Purchased {
			s.PurchasedItems++
		}
	}
	s.EstimatedTotal = math.Round(total*100) / 100
	return s
}

// CheckoutCompletedEvent is published after a list's checkout transition has
// been persisted and the client response sent.
type CheckoutCompletedEvent struct {
	EventID   string          `json:"eventId"`
	ListID    string          `json:"listId"`
	UserID    string          `json:"userId"`
	Items     []CheckoutItem  `json:"items"`
	Summary   CheckoutSummary `json:"summary"`
	EmittedAt time.Time       `json:"emittedAt"`
}

// ItemEvent is published when a catalog item is created or updated.
type ItemEvent struct {
	EventID   string    `json:"eventId"`
	ItemID    string    `json:"itemId"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	EmittedAt time.Time `json:"emittedAt"`
}
