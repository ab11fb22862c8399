// Package alerting raises fraud alerts for users whose composite risk
// crosses the configured threshold.
package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-retail/harrier/internal/domain"
	"github.com/opensource-retail/harrier/internal/repository"
)

// Store is the alert persistence surface the policy needs.
type Store interface {
	GetActiveAlert(ctx context.Context, userID int64) (*domain.FraudAlert, error)
	InsertAlert(ctx context.Context, alert *domain.FraudAlert) error
}

// Policy decides whether a scored user gets an alert. A user with an
// Active alert is never alerted again until that alert is resolved.
type Policy struct {
	store     Store
	bus       domain.EventBus
	threshold float64
	Now       func() time.Time
}

// NewPolicy creates an alert policy. The bus is optional.
func NewPolicy(store Store, bus domain.EventBus, threshold float64) *Policy {
	return &Policy{
		store:     store,
		bus:       bus,
		threshold: threshold,
		Now:       time.Now,
	}
}

// Evaluate raises an alert for the score if it exceeds the threshold and
// the user has no Active alert. It returns the created alert, or nil when
// no alert was raised.
func (p *Policy) Evaluate(ctx context.Context, score *domain.BehaviorScore) (*domain.FraudAlert, error) {
	if score.OverallRiskScore <= p.threshold {
		return nil, nil
	}

	existing, err := p.store.GetActiveAlert(ctx, score.UserID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check active alerts for user %d: %w", score.UserID, err)
	}
	if existing != nil {
		slog.Debug("alert suppressed, active alert exists",
			"user_id", score.UserID,
			"alert_id", existing.AlertID,
		)
		return nil, nil
	}

	alert := &domain.FraudAlert{
		AlertID:       uuid.NewString(),
		UserID:        score.UserID,
		Date:          p.Now().UTC(),
		RiskScore:     score.OverallRiskScore,
		PrimaryReason: score.Reasoning,
		Status:        domain.AlertActive,
	}

	if err := p.store.InsertAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to insert alert for user %d: %w", score.UserID, err)
	}

	slog.Info("fraud alert raised",
		"alert_id", alert.AlertID,
		"user_id", alert.UserID,
		"risk_score", alert.RiskScore,
		"reason", alert.PrimaryReason,
	)

	if p.bus != nil {
		payload, _ := json.Marshal(map[string]any{
			"alert_id":   alert.AlertID,
			"user_id":    alert.UserID,
			"risk_score": alert.RiskScore,
			"reason":     alert.PrimaryReason,
		})
		if err := p.bus.Publish(ctx, domain.TopicAlertCreated, payload); err != nil {
			slog.Warn("failed to publish alert event", "alert_id", alert.AlertID, "error", err)
		}
	}

	return alert, nil
}
