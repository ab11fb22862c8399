// Package worker provides async alert dispatch for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/opensource-retail/harrier/internal/domain"
)

// Dispatcher consumes alert events from the EventBus and forwards them to
// a notification sink. The HTTP API never blocks on notification delivery;
// alerts flow through the bus and are handled here.
type Dispatcher struct {
	bus    domain.EventBus
	notify Notifier

	subscriptions []domain.Subscription
	dispatched    atomic.Int64
	dropped       atomic.Int64
	mu            sync.Mutex
	ctx           context.Context
	cancel        context.CancelFunc
}

// Notifier delivers one alert notification. Implementations may post to a
// webhook, push to a queue, or just log.
type Notifier interface {
	Notify(ctx context.Context, n *AlertNotification) error
}

// AlertNotification is the payload carried on the alert topic.
type AlertNotification struct {
	AlertID   string  `json:"alert_id"`
	UserID    int64   `json:"user_id"`
	RiskScore float64 `json:"risk_score"`
	Reason    string  `json:"reason"`
}

// LogNotifier writes notifications to the structured log. It is the
// default sink for both tiers.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(ctx context.Context, n *AlertNotification) error {
	slog.Info("alert notification",
		"alert_id", n.AlertID,
		"user_id", n.UserID,
		"risk_score", n.RiskScore,
		"reason", n.Reason,
	)
	return nil
}

// NewDispatcher creates an alert dispatcher. A nil notifier defaults to
// LogNotifier.
func NewDispatcher(bus domain.EventBus, notify Notifier) *Dispatcher {
	if notify == nil {
		notify = LogNotifier{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		bus:    bus,
		notify: notify,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start subscribes to the alert topic.
func (d *Dispatcher) Start() error {
	sub, err := d.bus.Subscribe(d.ctx, domain.TopicAlertCreated, d.handleMessage)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.subscriptions = append(d.subscriptions, sub)
	d.mu.Unlock()

	slog.Info("alert dispatcher started", "topic", domain.TopicAlertCreated)
	return nil
}

// handleMessage handles one alert event from the bus.
func (d *Dispatcher) handleMessage(ctx context.Context, msg *domain.Message) error {
	var n AlertNotification
	if err := json.Unmarshal(msg.Payload, &n); err != nil {
		d.dropped.Add(1)
		slog.Error("failed to parse alert message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := d.notify.Notify(ctx, &n); err != nil {
		d.dropped.Add(1)
		slog.Error("failed to deliver alert notification",
			"alert_id", n.AlertID,
			"error", err,
		)
		return err
	}

	d.dispatched.Add(1)
	return nil
}

// Stop gracefully stops the dispatcher.
func (d *Dispatcher) Stop() error {
	d.cancel()

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, sub := range d.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	d.subscriptions = nil

	slog.Info("alert dispatcher stopped")
	return nil
}

// Stats returns dispatcher statistics.
type Stats struct {
	SubscriptionCount int   `json:"subscriptionCount"`
	Dispatched        int64 `json:"dispatched"`
	Dropped           int64 `json:"dropped"`
}

// GetStats returns current dispatcher statistics.
func (d *Dispatcher) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		SubscriptionCount: len(d.subscriptions),
		Dispatched:        d.dispatched.Load(),
		Dropped:           d.dropped.Load(),
	}
}
