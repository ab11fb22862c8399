package behavior

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/opensource-retail/harrier/internal/domain"
)

type fakeStore struct {
	txns    []*domain.Transaction
	returns []*domain.Return
	items   map[string]*domain.Item
}

func (s *fakeStore) TransactionsByUserSince(_ context.Context, userID int64, since time.Time) ([]*domain.Transaction, error) {
	var out []*domain.Transaction
	for _, t := range s.txns {
		if t.UserID == userID && !t.Date.Before(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *fakeStore) ReturnsByUserSince(_ context.Context, userID int64, since time.Time) ([]*domain.Return, error) {
	var out []*domain.Return
	for _, r := range s.returns {
		if r.UserID == userID && !r.ReturnDate.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) CountItemsByTransactions(_ context.Context, txnIDs []string) (int64, error) {
	want := make(map[string]bool, len(txnIDs))
	for _, id := range txnIDs {
		want[id] = true
	}
	var n int64
	for _, it := range s.items {
		if want[it.TransactionID] {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) GetItem(_ context.Context, itemID string) (*domain.Item, error) {
	if it, ok := s.items[itemID]; ok {
		return it, nil
	}
	return nil, nil
}

var aggNow = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func txn(id string, userID int64, daysAgo int, amount float64) *domain.Transaction {
	return &domain.Transaction{
		TransactionID: id,
		UserID:        userID,
		Date:          aggNow.AddDate(0, 0, -daysAgo),
		TotalAmount:   amount,
		PaymentMethod: "Credit Card",
	}
}

func ret(txnID string, userID int64, itemID string, daysAgo int, refund float64) *domain.Return {
	return &domain.Return{
		ReturnID:      "RET-" + itemID,
		TransactionID: txnID,
		UserID:        userID,
		ItemID:        itemID,
		ReturnDate:    aggNow.AddDate(0, 0, -daysAgo),
		RefundAmount:  refund,
	}
}

func item(id, txnID, category string) *domain.Item {
	return &domain.Item{ItemID: id, TransactionID: txnID, Category: category}
}

func TestComputeSerialReturner(t *testing.T) {
	store := &fakeStore{
		txns: []*domain.Transaction{
			txn("T-1", 1, 30, 100),
			txn("T-2", 1, 20, 200),
			txn("T-3", 1, 10, 300),
		},
		returns: []*domain.Return{
			ret("T-1", 1, "I-1", 29, 100), // returned after 1 day
			ret("T-2", 1, "I-2", 19, 200), // returned after 1 day
			ret("T-3", 1, "I-3", 2, 300),  // returned after 8 days
		},
		items: map[string]*domain.Item{
			"I-1": item("I-1", "T-1", "Books"),
			"I-2": item("I-2", "T-2", "Books"),
			"I-3": item("I-3", "T-3", "Books"),
		},
	}

	fv, err := NewAggregator(store, domain.DefaultAnalysisConfig()).Compute(context.Background(), 1, aggNow)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if fv.EngineUsed != domain.EngineBehavioral {
		t.Errorf("expected behavioral engine, got %s", fv.EngineUsed)
	}
	if fv.TxnCount != 3 {
		t.Errorf("expected 3 transactions, got %d", fv.TxnCount)
	}
	if fv.ReturnRate90d != 1.0 {
		t.Errorf("expected return rate 1.0, got %v", fv.ReturnRate90d)
	}
	if fv.FastReturnCount != 2 {
		t.Errorf("expected 2 fast returns, got %d", fv.FastReturnCount)
	}
	if math.Abs(fv.AvgReturnTimeDays-10.0/3.0) > 1e-9 {
		t.Errorf("expected avg return time 10/3 days, got %v", fv.AvgReturnTimeDays)
	}
	if fv.RefundValueRatio != 1.0 {
		t.Errorf("expected refund ratio 1.0, got %v", fv.RefundValueRatio)
	}
}

func TestComputeColdStartUsesFirstOrderEngine(t *testing.T) {
	store := &fakeStore{
		txns: []*domain.Transaction{txn("T-1", 2, 5, 2000)},
		returns: []*domain.Return{
			ret("T-1", 2, "I-1", 4, 2000),
		},
		items: map[string]*domain.Item{
			"I-1": item("I-1", "T-1", "Electronics"),
		},
	}

	fv, err := NewAggregator(store, domain.DefaultAnalysisConfig()).Compute(context.Background(), 2, aggNow)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if fv.EngineUsed != domain.EngineFirstOrder {
		t.Errorf("expected first-order engine for single transaction, got %s", fv.EngineUsed)
	}
	if fv.HighValueReturnCount != 1 {
		t.Errorf("expected 1 high-value return, got %d", fv.HighValueReturnCount)
	}
	if fv.CategoryRiskScore != 100 {
		t.Errorf("expected category risk 100, got %v", fv.CategoryRiskScore)
	}
}

func TestComputeNoHistory(t *testing.T) {
	store := &fakeStore{items: map[string]*domain.Item{}}

	fv, err := NewAggregator(store, domain.DefaultAnalysisConfig()).Compute(context.Background(), 3, aggNow)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if fv.EngineUsed != domain.EngineFirstOrder {
		t.Errorf("expected first-order engine, got %s", fv.EngineUsed)
	}
	if fv.ReturnRate90d != 0 || fv.RefundValueRatio != 0 || fv.AvgReturnTimeDays != 0 {
		t.Errorf("expected zeroed rates for empty history: %+v", fv)
	}
}

func TestComputeWindowExcludesOldActivity(t *testing.T) {
	store := &fakeStore{
		txns: []*domain.Transaction{
			txn("T-OLD", 4, 120, 500),
			txn("T-1", 4, 10, 100),
			txn("T-2", 4, 5, 100),
		},
		returns: []*domain.Return{
			ret("T-OLD", 4, "I-OLD", 118, 500),
		},
		items: map[string]*domain.Item{
			"I-OLD": item("I-OLD", "T-OLD", "Electronics"),
			"I-1":   item("I-1", "T-1", "Books"),
			"I-2":   item("I-2", "T-2", "Books"),
		},
	}

	fv, err := NewAggregator(store, domain.DefaultAnalysisConfig()).Compute(context.Background(), 4, aggNow)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if fv.TxnCount != 2 {
		t.Errorf("transactions outside the window must be excluded, got %d", fv.TxnCount)
	}
	if fv.ReturnRate90d != 0 {
		t.Errorf("returns outside the window must be excluded, got rate %v", fv.ReturnRate90d)
	}
}

func TestComputeOrphanReturnDegrades(t *testing.T) {
	store := &fakeStore{
		txns: []*domain.Transaction{
			txn("T-1", 5, 10, 100),
			txn("T-2", 5, 8, 100),
		},
		returns: []*domain.Return{
			// Points at a transaction not in the window: no fast-return or
			// avg-days contribution, refund still counts.
			ret("T-MISSING", 5, "I-9", 7, 900),
		},
		items: map[string]*domain.Item{
			"I-1": item("I-1", "T-1", "Books"),
			"I-2": item("I-2", "T-2", "Books"),
		},
	}

	fv, err := NewAggregator(store, domain.DefaultAnalysisConfig()).Compute(context.Background(), 5, aggNow)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}

	if fv.FastReturnCount != 0 {
		t.Errorf("orphan return must not count as fast, got %d", fv.FastReturnCount)
	}
	if fv.HighValueReturnCount != 1 {
		t.Errorf("refund amount still counts for high-value, got %d", fv.HighValueReturnCount)
	}
	if fv.RefundValueRatio != 4.5 {
		t.Errorf("expected refund ratio 4.5, got %v", fv.RefundValueRatio)
	}
}

func TestPaymentRisk(t *testing.T) {
	cod := &domain.Transaction{PaymentMethod: domain.PaymentCOD}
	highRisk := &domain.Transaction{PaymentMethod: "Credit Card", ShippingAddressRisk: domain.ShippingRiskHigh}
	plain := &domain.Transaction{PaymentMethod: "Credit Card", ShippingAddressRisk: domain.ShippingRiskLow}

	agg := NewAggregator(&fakeStore{}, domain.DefaultAnalysisConfig())

	tests := []struct {
		name string
		txns []*domain.Transaction
		want float64
	}{
		{"empty", nil, 0},
		{"plain", []*domain.Transaction{plain}, 0},
		{"cod once", []*domain.Transaction{cod, cod}, 30},
		{"high risk shipping", []*domain.Transaction{highRisk, highRisk}, 40},
		{"combined", []*domain.Transaction{cod, highRisk}, 50},
		{"capped", []*domain.Transaction{cod, highRisk, highRisk, highRisk, highRisk}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := agg.paymentRisk(tt.txns); got != tt.want {
				t.Errorf("paymentRisk = %v, want %v", got, tt.want)
			}
		})
	}
}
