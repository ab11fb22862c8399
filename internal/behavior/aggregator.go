// Package behavior computes per-user behavioral feature vectors over the
// trailing analysis window.
package behavior

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-retail/harrier/internal/domain"
)

// Store is the read surface the aggregator needs. domain.Repository
// satisfies it; tests supply an in-memory fake.
type Store interface {
	TransactionsByUserSince(ctx context.Context, userID int64, since time.Time) ([]*domain.Transaction, error)
	ReturnsByUserSince(ctx context.Context, userID int64, since time.Time) ([]*domain.Return, error)
	CountItemsByTransactions(ctx context.Context, txnIDs []string) (int64, error)
	GetItem(ctx context.Context, itemID string) (*domain.Item, error)
}

// riskyCategories are the return categories that feed the category risk
// signal (high-resale, high-abuse segments).
var riskyCategories = map[string]bool{
	"Electronics": true,
	"Clothing":    true,
}

// Aggregator derives a feature vector per user from windowed transactions
// and returns.
type Aggregator struct {
	store Store
	cfg   domain.AnalysisConfig
}

// NewAggregator creates a feature aggregator.
func NewAggregator(store Store, cfg domain.AnalysisConfig) *Aggregator {
	return &Aggregator{store: store, cfg: cfg}
}

// Compute builds the feature vector for one user, windowed back from now.
// Referential gaps (a return pointing at an unknown transaction or item)
// degrade the affected metric instead of failing the computation.
func (a *Aggregator) Compute(ctx context.Context, userID int64, now time.Time) (*domain.FeatureVector, error) {
	since := now.AddDate(0, 0, -a.cfg.WindowDays)

	txns, err := a.store.TransactionsByUserSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions for user %d: %w", userID, err)
	}

	txnIDs := make([]string, len(txns))
	txnByID := make(map[string]*domain.Transaction, len(txns))
	totalSpent := 0.0
	for i, t := range txns {
		txnIDs[i] = t.TransactionID
		txnByID[t.TransactionID] = t
		totalSpent += t.TotalAmount
	}

	itemsBought, err := a.store.CountItemsByTransactions(ctx, txnIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to count items for user %d: %w", userID, err)
	}

	returns, err := a.store.ReturnsByUserSince(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load returns for user %d: %w", userID, err)
	}

	fv := &domain.FeatureVector{
		UserID:     userID,
		TxnCount:   len(txns),
		EngineUsed: domain.EngineBehavioral,
	}
	// Cold start: too little history for behavioral signals.
	if len(txns) <= 1 {
		fv.EngineUsed = domain.EngineFirstOrder
	}

	if itemsBought > 0 {
		fv.ReturnRate90d = float64(len(returns)) / float64(itemsBought)
	}

	totalDays := 0
	totalRefund := 0.0
	riskyCount := 0

	for _, ret := range returns {
		totalRefund += ret.RefundAmount

		if txn, ok := txnByID[ret.TransactionID]; ok {
			diffDays := int(ret.ReturnDate.Sub(txn.Date).Hours() / 24)
			totalDays += diffDays
			if diffDays <= a.cfg.FastReturnDays {
				fv.FastReturnCount++
			}
		}

		if ret.RefundAmount > a.cfg.HighValueRefund {
			fv.HighValueReturnCount++
		}

		if item, err := a.store.GetItem(ctx, ret.ItemID); err == nil && item != nil {
			if riskyCategories[item.Category] {
				riskyCount++
			}
		}
	}

	if len(returns) > 0 {
		fv.AvgReturnTimeDays = float64(totalDays) / float64(len(returns))
	}
	if totalSpent > 0 {
		fv.RefundValueRatio = totalRefund / totalSpent
	}

	denom := len(returns)
	if denom < 1 {
		denom = 1
	}
	fv.CategoryRiskScore = min(float64(riskyCount)/float64(denom), 1.0) * 100

	fv.PaymentRiskScore = a.paymentRisk(txns)

	return fv, nil
}

// paymentRisk scores payment and shipping signals across the windowed
// transactions: 30 for any cash-on-delivery order plus 20 per high-risk
// shipping address, capped at 100.
func (a *Aggregator) paymentRisk(txns []*domain.Transaction) float64 {
	score := 0.0

	for _, t := range txns {
		if t.PaymentMethod == domain.PaymentCOD {
			score += 30.0
			break
		}
	}

	for _, t := range txns {
		if t.ShippingAddressRisk == domain.ShippingRiskHigh {
			score += 20.0
		}
	}

	return min(score, 100.0)
}
