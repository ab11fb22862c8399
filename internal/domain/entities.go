package domain

import "time"

// User is the canonical deduplicated shopper record derived from ingested rows.
type User struct {
	UserID     int64  `json:"userId"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	AccountAge int    `json:"accountAge"`
}

// Shipping address risk levels.
const (
	ShippingRiskLow    = "Low"
	ShippingRiskMedium = "Medium"
	ShippingRiskHigh   = "High"
)

// PaymentCOD is the cash-on-delivery payment method marker.
const PaymentCOD = "COD"

// Transaction is a canonical order. TotalAmount accumulates across all
// ingested rows sharing the same transaction id.
type Transaction struct {
	TransactionID       string    `json:"transactionId"`
	UserID              int64     `json:"userId"`
	Date                time.Time `json:"date"`
	TotalAmount         float64   `json:"totalAmount"`
	PaymentMethod       string    `json:"paymentMethod"`
	IPAddress           string    `json:"ipAddress"`
	DeviceFingerprint   string    `json:"deviceFingerprint"`
	ShippingAddressRisk string    `json:"shippingAddressRisk"`
}

// Item is a canonical line item. One record per distinct item id; the
// first-seen row wins.
type Item struct {
	ItemID        string  `json:"itemId"`
	TransactionID string  `json:"transactionId"`
	Name          string  `json:"name"`
	Price         float64 `json:"price"`
	Category      string  `json:"category"`
}

// Return is a canonical return event, keyed by item id. At most one return
// per item is retained; later return rows for the same item are dropped.
type Return struct {
	ReturnID       string    `json:"returnId"`
	TransactionID  string    `json:"transactionId"`
	UserID         int64     `json:"userId"`
	ItemID         string    `json:"itemId"`
	ReturnDate     time.Time `json:"returnDate"`
	Reason         string    `json:"reason"`
	ReasonCategory string    `json:"reasonCategory"`
	RefundAmount   float64   `json:"refundAmount"`
	ItemCondition  string    `json:"itemCondition"`
}

// Scoring engine identifiers. Engine selection is a pure function of the
// user's in-window transaction count.
const (
	EngineBehavioral = "Engine 1: Behavioral"
	EngineFirstOrder = "Engine 2: First-Order"
)

// FeatureVector holds the per-user behavioral features computed over the
// trailing analysis window. Recomputed on every run, never persisted on its
// own.
type FeatureVector struct {
	UserID               int64   `json:"userId"`
	ReturnRate90d        float64 `json:"returnRate90d"`
	AvgReturnTimeDays    float64 `json:"avgReturnTimeDays"`
	FastReturnCount      int     `json:"fastReturnCount"`
	HighValueReturnCount int     `json:"highValueReturnCount"`
	RefundValueRatio     float64 `json:"refundValueRatio"`
	CategoryRiskScore    float64 `json:"categoryRiskScore"`
	PaymentRiskScore     float64 `json:"paymentRiskScore"`
	EngineUsed           string  `json:"engineUsed"`
	TxnCount             int     `json:"txnCount"`
}

// BehaviorScore is the current scored record for a user, overwritten on each
// analysis run. AnomalyScore is batch-relative: it is only meaningful within
// the cohort it was computed from.
type BehaviorScore struct {
	FeatureVector
	AnomalyScore     float64 `json:"anomalyScore"`
	OverallRiskScore float64 `json:"overallRiskScore"`
	Reasoning        string  `json:"reasoning"`
}

// Fraud alert statuses. Status transitions are handled outside the core
// pipeline; the pipeline only ever inserts Active alerts.
const (
	AlertActive        = "Active"
	AlertInvestigating = "Investigating"
	AlertResolved      = "Resolved"
)

// FraudAlert is an append-only alert record. At most one Active alert per
// user exists at any time.
type FraudAlert struct {
	AlertID       string    `json:"alertId"`
	UserID        int64     `json:"userId"`
	Date          time.Time `json:"date"`
	RiskScore     float64   `json:"riskScore"`
	PrimaryReason string    `json:"primaryReason"`
	Status        string    `json:"status"`
}

// Dataset is the full set of canonical collections produced by one ingest.
// ReplaceDataset swaps it in atomically.
type Dataset struct {
	Users        []*User
	Transactions []*Transaction
	Items        []*Item
	Returns      []*Return
}

// IngestStats summarizes one completed ingest.
type IngestStats struct {
	Users        int `json:"newUsers"`
	Transactions int `json:"newTransactions"`
	Items        int `json:"newItems"`
	Returns      int `json:"newReturns"`
}
