package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"frame-commerce-api/internal/models"
)

// EventType represents the type of event.
type EventType string

const (
	// EventPurchaseRecorded is emitted after a new purchase is written to the ledger.
	EventPurchaseRecorded EventType = "purchase.recorded"
	// EventReferralCredited is emitted when a purchase is added to a referrer's set.
	EventReferralCredited EventType = "referral.credited"
)

// Event represents an event in the system.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// PurchaseRecordedData contains data for purchase recorded events.
type PurchaseRecordedData struct {
	Purchase models.PurchaseRecord `json:"purchase"`
}

// ReferralCreditedData contains data for referral credited events.
type ReferralCreditedData struct {
	ReferrerFID int64  `json:"referrerFid"`
	PurchaseID  string `json:"purchaseId"`
	ProductID   string `json:"productId"`
}

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Publisher is what services depend on to emit events.
type Publisher interface {
	PublishPurchaseRecorded(ctx context.Context, purchase models.PurchaseRecord)
}

// Manager manages event handlers and event publishing.
type Manager struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	enabled  bool
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// NewManager creates a new event manager.
func NewManager(enabled bool, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		handlers: make(map[EventType][]Handler),
		enabled:  enabled,
		logger:   logger,
	}
}

// Subscribe subscribes a handler to a specific event type.
func (m *Manager) Subscribe(eventType EventType, handler Handler) {
	if !m.enabled {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.handlers[eventType] = append(m.handlers[eventType], handler)
}

// Publish publishes an event to all subscribed handlers. Handlers run on their
// own goroutines and are detached from the request's cancellation.
func (m *Manager) Publish(ctx context.Context, eventType EventType, data interface{}) {
	m.mu.RLock()
	enabled := m.enabled
	handlers := m.handlers[eventType]
	m.mu.RUnlock()

	if !enabled || len(handlers) == 0 {
		return
	}

	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	hctx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		m.wg.Add(1)
		go func(h Handler) {
			defer m.wg.Done()
			if err := h(hctx, event); err != nil {
				m.logger.Warn("event handler failed",
					zap.String("event_id", event.ID),
					zap.String("event_type", string(event.Type)),
					zap.Error(err),
				)
			}
		}(handler)
	}
}

// PublishPurchaseRecorded publishes a purchase recorded event and, for
// referred purchases, a referral credited event.
func (m *Manager) PublishPurchaseRecorded(ctx context.Context, purchase models.PurchaseRecord) {
	m.Publish(ctx, EventPurchaseRecorded, PurchaseRecordedData{Purchase: purchase})

	if purchase.ReferrerFID != nil {
		m.Publish(ctx, EventReferralCredited, ReferralCreditedData{
			ReferrerFID: *purchase.ReferrerFID,
			PurchaseID:  purchase.ID,
			ProductID:   purchase.ProductID,
		})
	}
}

// Wait blocks until in-flight handlers have returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Shutdown stops accepting events and waits for running handlers.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.enabled = false
	m.handlers = make(map[EventType][]Handler)
	m.mu.Unlock()

	m.wg.Wait()
}
