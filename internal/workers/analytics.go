// Package workers contains the checkout event consumers. Each worker role
// owns a durable queue bound to the shopping_events exchange, so roles see
// every event while processes within a role compete for deliveries.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cartmesh/cartmesh/internal/messaging"
	"github.com/cartmesh/cartmesh/internal/store"
)

const (
	ledgerCollection    = "checkout_ledger"
	aggregateCollection = "aggregates"

	// aggregateKey addresses the single running-totals document.
	aggregateKey = "totals"
)

// AnalyticsCollections returns the store collections the analytics worker owns.
func AnalyticsCollections() []string {
	return []string{ledgerCollection, aggregateCollection}
}

// LedgerRecord is the per-event processing record. Keying the ledger by
// event ID makes redelivered events detectable: the broker promises
// at-least-once, the ledger makes the side effects at-most-once.
type LedgerRecord struct {
	EventID        string    `json:"eventId"`
	ListID         string    `json:"listId"`
	UserID         string    `json:"userId"`
	TotalItems     int       `json:"totalItems"`
	PurchasedItems int       `json:"purchasedItems"`
	EstimatedTotal float64   `json:"estimatedTotal"`
	Mismatch       bool      `json:"mismatch"`
	ProcessedAt    time.Time `json:"processedAt"`
}

// CheckoutAggregates are the running totals across every checkout processed
// by this worker's store.
type CheckoutAggregates struct {
	Checkouts      int       `json:"checkouts"`
	TotalItems     int       `json:"totalItems"`
	PurchasedItems int       `json:"purchasedItems"`
	EstimatedTotal float64   `json:"estimatedTotal"`
	Mismatches     int       `json:"mismatches"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Analytics recomputes checkout totals from the item snapshot, cross-checks
// them against the summary embedded at emission time, and keeps a running
// aggregate.
type Analytics struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewAnalytics creates the analytics worker over its own opened store.
func NewAnalytics(st *store.Store, logger *slog.Logger) *Analytics {
	return &Analytics{store: st, logger: logger, now: time.Now}
}

// Handle processes one checkout event body. Returning an error discards the
// delivery; returning nil acknowledges it, including for duplicates that
// were already processed.
func (a *Analytics) Handle(ctx context.Context, body []byte) error {
	var evt messaging.CheckoutCompletedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return fmt.Errorf("%w: decode checkout event: %v", messaging.ErrProcessing, err)
	}
	if evt.EventID == "" {
		return fmt.Errorf("%w: checkout event has no eventId", messaging.ErrProcessing)
	}

	seen, err := a.store.Has(ledgerCollection, evt.EventID)
	if err != nil {
		return err
	}
	if seen {
		a.logger.Info("duplicate checkout event skipped", "event_id", evt.EventID)
		return nil
	}

	recomputed := messaging.Summarize(evt.Items)
	mismatch := recomputed.TotalItems != evt.Summary.TotalItems ||
		recomputed.PurchasedItems != evt.Summary.PurchasedItems ||
		math.Abs(recomputed.EstimatedTotal-evt.Summary.EstimatedTotal) >= 0.005
	if mismatch {
		a.logger.Warn("checkout summary mismatch",
			"event_id", evt.EventID,
			"list_id", evt.ListID,
			"embedded_total", evt.Summary.EstimatedTotal,
			"recomputed_total", recomputed.EstimatedTotal,
		)
	}

	rec := LedgerRecord{
		EventID:        evt.EventID,
		ListID:         evt.ListID,
		UserID:         evt.UserID,
		TotalItems:     recomputed.TotalItems,
		PurchasedItems: recomputed.PurchasedItems,
		EstimatedTotal: recomputed.EstimatedTotal,
		Mismatch:       mismatch,
		ProcessedAt:    a.now().UTC(),
	}
	if err := a.store.Put(ledgerCollection, evt.EventID, rec); err != nil {
		return err
	}

	if err := a.accumulate(rec); err != nil {
		return err
	}

	a.logger.Info("checkout processed",
		"event_id", evt.EventID,
		"list_id", evt.ListID,
		"items", recomputed.TotalItems,
		"estimated_total", recomputed.EstimatedTotal,
	)
	return nil
}

// Aggregates returns the current running totals.
func (a *Analytics) Aggregates() (CheckoutAggregates, error) {
	var agg CheckoutAggregates
	err := a.store.Get(aggregateCollection, aggregateKey, &agg)
	if errors.Is(err, store.ErrNotFound) {
		return CheckoutAggregates{}, nil
	}
	return agg, err
}

func (a *Analytics) accumulate(rec LedgerRecord) error {
	agg, err := a.Aggregates()
	if err != nil {
		return err
	}

	agg.Checkouts++
	agg.TotalItems += rec.TotalItems
	agg.PurchasedItems += rec.PurchasedItems
	agg.EstimatedTotal = math.Round((agg.EstimatedTotal+rec.EstimatedTotal)*100) / 100
	if rec.Mismatch {
		agg.Mismatches++
	}
	agg.UpdatedAt = a.now().UTC()

	return a.store.Put(aggregateCollection, aggregateKey, agg)
}
