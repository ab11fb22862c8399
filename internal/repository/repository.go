// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-retail/harrier/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceDataset wipes the entire store and writes the new canonical entity
// set in one transaction. Derived scores and alerts are wiped too: they were
// computed from the previous dataset and are meaningless against the new one.
func (r *SQLRepository) ReplaceDataset(ctx context.Context, ds *domain.Dataset) error {
	if ds == nil {
		return fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"returns", "items", "transactions", "behavior_scores", "fraud_alerts", "users"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	insertUser := r.rebind(`
		INSERT INTO users (user_id, name, email, account_age)
		VALUES (?, ?, ?, ?)
	`)
	for _, u := range ds.Users {
		if _, err := tx.ExecContext(ctx, insertUser, u.UserID, u.Name, u.Email, u.AccountAge); err != nil {
			return fmt.Errorf("failed to insert user %d: %w", u.UserID, err)
		}
	}

	insertTxn := r.rebind(`
		INSERT INTO transactions (
			transaction_id, user_id, date, total_amount,
			payment_method, ip_address, device_fingerprint, shipping_address_risk
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, t := range ds.Transactions {
		if _, err := tx.ExecContext(ctx, insertTxn,
			t.TransactionID, t.UserID, t.Date, t.TotalAmount,
			t.PaymentMethod, t.IPAddress, t.DeviceFingerprint, t.ShippingAddressRisk,
		); err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", t.TransactionID, err)
		}
	}

	insertItem := r.rebind(`
		INSERT INTO items (item_id, transaction_id, name, price, category)
		VALUES (?, ?, ?, ?, ?)
	`)
	for _, it := range ds.Items {
		if _, err := tx.ExecContext(ctx, insertItem, it.ItemID, it.TransactionID, it.Name, it.Price, it.Category); err != nil {
			return fmt.Errorf("failed to insert item %s: %w", it.ItemID, err)
		}
	}

	insertReturn := r.rebind(`
		INSERT INTO returns (
			return_id, transaction_id, user_id, item_id, return_date,
			reason, reason_category, refund_amount, item_condition
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	for _, ret := range ds.Returns {
		if _, err := tx.ExecContext(ctx, insertReturn,
			ret.ReturnID, ret.TransactionID, ret.UserID, ret.ItemID, ret.ReturnDate,
			ret.Reason, ret.ReasonCategory, ret.RefundAmount, ret.ItemCondition,
		); err != nil {
			return fmt.Errorf("failed to insert return %s: %w", ret.ReturnID, err)
		}
	}

	return tx.Commit()
}

// ListUsers retrieves users ordered by id with skip/limit paging.
func (r *SQLRepository) ListUsers(ctx context.Context, skip, limit int) ([]*domain.User, error) {
	query := `
		SELECT user_id, name, email, account_age
		FROM users
		ORDER BY user_id
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.UserID, &u.Name, &u.Email, &u.AccountAge); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}

	return users, rows.Err()
}

// GetUser retrieves a user by id.
func (r *SQLRepository) GetUser(ctx context.Context, userID int64) (*domain.User, error) {
	query := `
		SELECT user_id, name, email, account_age
		FROM users
		WHERE user_id = ?
	`

	var u domain.User
	err := r.db.QueryRowContext(ctx, r.rebind(query), userID).Scan(
		&u.UserID, &u.Name, &u.Email, &u.AccountAge,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &u, nil
}

// AllUserIDs retrieves every known user id. Analysis runs iterate this set.
func (r *SQLRepository) AllUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT user_id FROM users ORDER BY user_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// ListTransactions retrieves transactions sorted by date descending.
func (r *SQLRepository) ListTransactions(ctx context.Context, skip, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT transaction_id, user_id, date, total_amount,
			   payment_method, ip_address, device_fingerprint, shipping_address_risk
		FROM transactions
		ORDER BY date DESC
		LIMIT ? OFFSET ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit, skip)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

// TransactionsByUserSince retrieves a user's transactions dated at or after since.
func (r *SQLRepository) TransactionsByUserSince(ctx context.Context, userID int64, since time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT transaction_id, user_id, date, total_amount,
			   payment_method, ip_address, device_fingerprint, shipping_address_risk
		FROM transactions
		WHERE user_id = ? AND date >= ?
		ORDER BY date DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]*domain.Transaction, error) {
	var txns []*domain.Transaction
	for rows.Next() {
		var t domain.Transaction
		if err := rows.Scan(
			&t.TransactionID, &t.UserID, &t.Date, &t.TotalAmount,
			&t.PaymentMethod, &t.IPAddress, &t.DeviceFingerprint, &t.ShippingAddressRisk,
		); err != nil {
			return nil, err
		}
		txns = append(txns, &t)
	}
	return txns, rows.Err()
}

// CountTransactions returns the total number of materialized transactions.
func (r *SQLRepository) CountTransactions(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions").Scan(&count)
	return count, err
}

// SumTransactionAmounts returns the gross monetary volume across all transactions.
func (r *SQLRepository) SumTransactionAmounts(ctx context.Context) (float64, error) {
	var total float64
	err := r.db.QueryRowContext(ctx, "SELECT COALESCE(SUM(total_amount), 0) FROM transactions").Scan(&total)
	return total, err
}

// GetItem retrieves an item by id.
func (r *SQLRepository) GetItem(ctx context.Context, itemID string) (*domain.Item, error) {
	query := `
		SELECT item_id, transaction_id, name, price, category
		FROM items
		WHERE item_id = ?
	`

	var it domain.Item
	err := r.db.QueryRowContext(ctx, r.rebind(query), itemID).Scan(
		&it.ItemID, &it.TransactionID, &it.Name, &it.Price, &it.Category,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &it, nil
}

// CountItemsByTransactions counts items belonging to any of the given transactions.
func (r *SQLRepository) CountItemsByTransactions(ctx context.Context, txnIDs []string) (int64, error) {
	if len(txnIDs) == 0 {
		return 0, nil
	}

	args := make([]any, len(txnIDs))
	for i, id := range txnIDs {
		args[i] = id
	}

	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM items WHERE transaction_id IN (%s)",
		placeholders(len(txnIDs)),
	)

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&count)
	return count, err
}

// ReturnsByUserSince retrieves a user's returns dated at or after since.
func (r *SQLRepository) ReturnsByUserSince(ctx context.Context, userID int64, since time.Time) ([]*domain.Return, error) {
	query := `
		SELECT return_id, transaction_id, user_id, item_id, return_date,
			   reason, reason_category, refund_amount, item_condition
		FROM returns
		WHERE user_id = ? AND return_date >= ?
		ORDER BY return_date DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rets []*domain.Return
	for rows.Next() {
		var ret domain.Return
		if err := rows.Scan(
			&ret.ReturnID, &ret.TransactionID, &ret.UserID, &ret.ItemID, &ret.ReturnDate,
			&ret.Reason, &ret.ReasonCategory, &ret.RefundAmount, &ret.ItemCondition,
		); err != nil {
			return nil, err
		}
		rets = append(rets, &ret)
	}

	return rets, rows.Err()
}

// UpsertBehaviorScore stores the current score for a user, replacing any
// record from a previous run.
func (r *SQLRepository) UpsertBehaviorScore(ctx context.Context, score *domain.BehaviorScore) error {
	if score == nil {
		return fmt.Errorf("%w: score is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO behavior_scores (
			user_id, return_rate_90d, avg_return_time_days, fast_return_count,
			high_value_return_count, refund_value_ratio, category_risk_score,
			payment_risk_score, engine_used, txn_count,
			anomaly_score, overall_risk_score, reasoning
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			return_rate_90d = excluded.return_rate_90d,
			avg_return_time_days = excluded.avg_return_time_days,
			fast_return_count = excluded.fast_return_count,
			high_value_return_count = excluded.high_value_return_count,
			refund_value_ratio = excluded.refund_value_ratio,
			category_risk_score = excluded.category_risk_score,
			payment_risk_score = excluded.payment_risk_score,
			engine_used = excluded.engine_used,
			txn_count = excluded.txn_count,
			anomaly_score = excluded.anomaly_score,
			overall_risk_score = excluded.overall_risk_score,
			reasoning = excluded.reasoning
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		score.UserID, score.ReturnRate90d, score.AvgReturnTimeDays, score.FastReturnCount,
		score.HighValueReturnCount, score.RefundValueRatio, score.CategoryRiskScore,
		score.PaymentRiskScore, score.EngineUsed, score.TxnCount,
		score.AnomalyScore, score.OverallRiskScore, score.Reasoning,
	)
	return err
}

// GetBehaviorScore retrieves the current score for a user.
func (r *SQLRepository) GetBehaviorScore(ctx context.Context, userID int64) (*domain.BehaviorScore, error) {
	query := behaviorScoreSelect + " WHERE user_id = ?"

	row := r.db.QueryRowContext(ctx, r.rebind(query), userID)
	score, err := scanBehaviorScore(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return score, err
}

// ListBehaviorScores retrieves scores sorted by overall risk descending.
func (r *SQLRepository) ListBehaviorScores(ctx context.Context, limit int) ([]*domain.BehaviorScore, error) {
	query := behaviorScoreSelect + " ORDER BY overall_risk_score DESC LIMIT ?"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scores []*domain.BehaviorScore
	for rows.Next() {
		score, err := scanBehaviorScore(rows)
		if err != nil {
			return nil, err
		}
		scores = append(scores, score)
	}

	return scores, rows.Err()
}

// HighRiskUserIDs returns ids of users scoring at or above minScore.
func (r *SQLRepository) HighRiskUserIDs(ctx context.Context, minScore float64) ([]int64, error) {
	query := "SELECT user_id FROM behavior_scores WHERE overall_risk_score >= ?"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), minScore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	return ids, rows.Err()
}

// SumRefundsByUserSet sums refund amounts over returns whose user is inside
// (include=true) or outside (include=false) the given id set.
func (r *SQLRepository) SumRefundsByUserSet(ctx context.Context, userIDs []int64, include bool) (float64, int64, error) {
	if len(userIDs) == 0 {
		if include {
			return 0, 0, nil
		}
		var total float64
		var count int64
		err := r.db.QueryRowContext(ctx,
			"SELECT COALESCE(SUM(refund_amount), 0), COUNT(*) FROM returns",
		).Scan(&total, &count)
		return total, count, err
	}

	op := "IN"
	if !include {
		op = "NOT IN"
	}

	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}

	query := fmt.Sprintf(
		"SELECT COALESCE(SUM(refund_amount), 0), COUNT(*) FROM returns WHERE user_id %s (%s)",
		op, placeholders(len(userIDs)),
	)

	var total float64
	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(&total, &count)
	return total, count, err
}

// InsertAlert appends a new fraud alert. Alerts are never updated in place.
func (r *SQLRepository) InsertAlert(ctx context.Context, alert *domain.FraudAlert) error {
	if alert == nil {
		return fmt.Errorf("%w: alert is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO fraud_alerts (alert_id, user_id, date, risk_score, primary_reason, status)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		alert.AlertID, alert.UserID, alert.Date, alert.RiskScore, alert.PrimaryReason, alert.Status,
	)
	return err
}

// GetActiveAlert retrieves the Active alert for a user, if one exists.
func (r *SQLRepository) GetActiveAlert(ctx context.Context, userID int64) (*domain.FraudAlert, error) {
	query := alertSelect + " WHERE user_id = ? AND status = ? LIMIT 1"

	row := r.db.QueryRowContext(ctx, r.rebind(query), userID, domain.AlertActive)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return alert, err
}

// AlertsByUser retrieves all alerts for a user, newest first.
func (r *SQLRepository) AlertsByUser(ctx context.Context, userID int64) ([]*domain.FraudAlert, error) {
	query := alertSelect + " WHERE user_id = ? ORDER BY date DESC"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// ListAlerts retrieves alerts sorted by date descending.
func (r *SQLRepository) ListAlerts(ctx context.Context, limit int) ([]*domain.FraudAlert, error) {
	query := alertSelect + " ORDER BY date DESC LIMIT ?"

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAlerts(rows)
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

const behaviorScoreSelect = `
	SELECT user_id, return_rate_90d, avg_return_time_days, fast_return_count,
		   high_value_return_count, refund_value_ratio, category_risk_score,
		   payment_risk_score, engine_used, txn_count,
		   anomaly_score, overall_risk_score, reasoning
	FROM behavior_scores`

const alertSelect = `
	SELECT alert_id, user_id, date, risk_score, primary_reason, status
	FROM fraud_alerts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBehaviorScore(row rowScanner) (*domain.BehaviorScore, error) {
	var s domain.BehaviorScore
	err := row.Scan(
		&s.UserID, &s.ReturnRate90d, &s.AvgReturnTimeDays, &s.FastReturnCount,
		&s.HighValueReturnCount, &s.RefundValueRatio, &s.CategoryRiskScore,
		&s.PaymentRiskScore, &s.EngineUsed, &s.TxnCount,
		&s.AnomalyScore, &s.OverallRiskScore, &s.Reasoning,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanAlert(row rowScanner) (*domain.FraudAlert, error) {
	var a domain.FraudAlert
	err := row.Scan(&a.AlertID, &a.UserID, &a.Date, &a.RiskScore, &a.PrimaryReason, &a.Status)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAlerts(rows *sql.Rows) ([]*domain.FraudAlert, error) {
	var alerts []*domain.FraudAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// placeholders returns "?, ?, ..." with n entries.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
