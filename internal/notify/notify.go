// Package notify resolves subscribed recipients for an accepted alert and
// fans out push deliveries, isolating per-recipient failure.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/thebeacon-app/beacon-alerts/internal/models"
	"github.com/thebeacon-app/beacon-alerts/internal/store"
)

// Subscription pairs a recipient identity with a location filter and a
// delivery endpoint. Owned by the user-profile subsystem; consumed
// read-only here.
type Subscription struct {
	RecipientID string
	City        string // empty means any city in State
	State       string
	Endpoint    string
}

// Registry is the read-only subscription lookup owned by the user-profile
// subsystem.
type Registry interface {
	SubscriptionsForArea(ctx context.Context, city, state string) ([]Subscription, error)
}

// Payload is the push message body handed to the transport.
type Payload struct {
	AlertID   string           `json:"alertId"`
	Type      models.AlertType `json:"type"`
	Severity  models.Severity  `json:"severity"`
	Title     string           `json:"title"`
	Body      string           `json:"body"`
	Areas     []models.Area    `json:"areas"`
	IssuedAt  time.Time        `json:"issuedAt"`
	Escalated bool             `json:"escalated"`
}

// Transport delivers a single push notification. It is a black box owned
// by the notification-transport subsystem.
type Transport interface {
	Send(ctx context.Context, endpoint string, payload Payload) error
}

type DeliveryFailure struct {
	RecipientID string `json:"recipientId"`
	Error       string `json:"error"`
}

// DeliveryReport is the awaited result of one fan-out batch.
type DeliveryReport struct {
	AlertID    string            `json:"alertId"`
	Recipients int               `json:"recipients"`
	Delivered  int               `json:"delivered"`
	Failures   []DeliveryFailure `json:"failures,omitempty"`
}

// Dispatcher fans out one notification batch per triggering event (insert
// or escalation). Deliveries run on a fixed worker pool; a failed
// recipient is recorded and skipped, never retried within the batch.
type Dispatcher struct {
	registry Registry
	store    store.AlertStore
	pool     *deliveryPool
}

func NewDispatcher(registry Registry, alerts store.AlertStore, transport Transport, workers, bufferSize int, deliveryTimeout time.Duration) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		store:    alerts,
		pool:     newDeliveryPool(workers, bufferSize, transport, deliveryTimeout),
	}
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	d.pool.start()
}

// Stop drains queued deliveries and stops the workers. Callers must not
// invoke Notify after Stop.
func (d *Dispatcher) Stop() {
	d.pool.stop()
}

// Notify resolves recipients for the alert's affected areas, delivers to
// each, waits for the whole batch, and bumps the alert's notifications
// counter by the number of successful deliveries.
func (d *Dispatcher) Notify(ctx context.Context, alert *models.Alert, escalated bool) (*DeliveryReport, error) {
	subs, err := d.resolve(ctx, alert)
	if err != nil {
		return nil, err
	}

	payload := Payload{
		AlertID:   alert.ID,
		Type:      alert.Type,
		Severity:  alert.Severity,
		Title:     alert.Title,
		Body:      alert.Description,
		Areas:     alert.AffectedAreas,
		IssuedAt:  alert.IssuedAt,
		Escalated: escalated,
	}

	report := &DeliveryReport{AlertID: alert.ID, Recipients: len(subs)}
	if len(subs) > 0 {
		var mu sync.Mutex
		var wg sync.WaitGroup
		wg.Add(len(subs))
		for _, sub := range subs {
			d.pool.submit(deliveryJob{
				ctx:     ctx,
				sub:     sub,
				payload: payload,
				done: func(sub Subscription, err error) {
					mu.Lock()
					if err != nil {
						report.Failures = append(report.Failures, DeliveryFailure{
							RecipientID: sub.RecipientID,
							Error:       err.Error(),
						})
					} else {
						report.Delivered++
					}
					mu.Unlock()
					wg.Done()
				},
			})
		}
		wg.Wait()
	}

	// One counter bump per triggering event, by successes only.
	if report.Delivered > 0 {
		if err := d.store.IncrementNotificationsSent(ctx, alert.ID, int64(report.Delivered)); err != nil {
			slog.Error("increment notifications sent", "alert_id", alert.ID, "error", err)
		}
	}

	slog.Info("notification batch complete",
		"alert_id", alert.ID,
		"recipients", report.Recipients,
		"delivered", report.Delivered,
		"failed", len(report.Failures))

	return report, nil
}

// resolve collects subscriptions across all affected areas, deduplicating
// recipients so one alert produces at most one delivery per recipient.
func (d *Dispatcher) resolve(ctx context.Context, alert *models.Alert) ([]Subscription, error) {
	seen := make(map[string]bool)
	var subs []Subscription
	for _, area := range alert.AffectedAreas {
		matched, err := d.registry.SubscriptionsForArea(ctx, area.City, area.State)
		if err != nil {
			return nil, err
		}
		for _, sub := range matched {
			if seen[sub.RecipientID] {
				continue
			}
			seen[sub.RecipientID] = true
			subs = append(subs, sub)
		}
	}
	return subs, nil
}
