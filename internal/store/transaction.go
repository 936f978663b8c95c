package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
)

// TransactionType distinguishes an accrual from a redemption, from the
// system-driven expiry write, and from a manual ledger correction. A
// referral payout is an EARN transaction with IsReferralBonus set, not a
// type of its own.
type TransactionType string

const (
	TransactionEarn        TransactionType = "earn"
	TransactionSpend       TransactionType = "spend"
	TransactionExpire      TransactionType = "expire"
	TransactionAdminAdjust TransactionType = "admin_adjust"
)

// Transaction is one immutable ledger entry. OrderID carries the
// storefront's own order identifier and is unique per (project, order,
// type), which is what makes the accrual check below at-most-once. BonusID
// attributes a SPEND or EXPIRE row to the specific lot it touched; Metadata
// carries caller-supplied context (e.g. an order id, a promo code);
// UserLevel and AppliedPercent stamp the level and rate in effect at the
// time of the transaction for auditability.
type Transaction struct {
	ID              uuid.UUID         `db:"id"`
	ProjectID       uuid.UUID         `db:"project_id"`
	UserID          uuid.UUID         `db:"user_id"`
	BonusID         *uuid.UUID        `db:"bonus_id"`
	Type            TransactionType   `db:"type"`
	Amount          decimal.Decimal   `db:"amount"`
	OrderID         *string           `db:"order_id"`
	Note            string            `db:"note"`
	Metadata        map[string]string `db:"metadata"`
	UserLevel       *string           `db:"user_level"`
	AppliedPercent  *decimal.Decimal  `db:"applied_percent"`
	IsReferralBonus bool              `db:"is_referral_bonus"`
	CreatedAt       time.Time         `db:"created_at"`
}

type TransactionRepository struct {
	pool *pgxpool.Pool
}

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func transactionColumns() []string {
	return []string{
		"id", "project_id", "user_id", "bonus_id", "type", "amount", "order_id", "note",
		"metadata", "user_level", "applied_percent", "is_referral_bonus", "created_at",
	}
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var t Transaction
	var metadata []byte
	err := row.Scan(&t.ID, &t.ProjectID, &t.UserID, &t.BonusID, &t.Type, &t.Amount, &t.OrderID, &t.Note,
		&metadata, &t.UserLevel, &t.AppliedPercent, &t.IsReferralBonus, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, fmt.Errorf("decode transaction metadata: %w", err)
	}
	return &t, nil
}

func scanTransactionFromRows(rows pgx.Rows) (*Transaction, error) {
	var t Transaction
	var metadata []byte
	err := rows.Scan(&t.ID, &t.ProjectID, &t.UserID, &t.BonusID, &t.Type, &t.Amount, &t.OrderID, &t.Note,
		&metadata, &t.UserLevel, &t.AppliedPercent, &t.IsReferralBonus, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	if t.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, fmt.Errorf("decode transaction metadata: %w", err)
	}
	return &t, nil
}

func unmarshalMetadata(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, nil
	}
	return m, nil
}

// Create inserts a ledger row inside tx. Callers rely on the unique index on
// (project_id, order_id, type) (see db/migrations) to make a repeated earn
// insert for the same order fail with a unique-violation error rather than
// record a double accrual.
func (r *TransactionRepository) Create(ctx context.Context, tx pgx.Tx, t *Transaction) (*Transaction, error) {
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode transaction metadata: %w", err)
	}

	query := `
		INSERT INTO bonus_transaction (id, project_id, user_id, bonus_id, type, amount, order_id, note, metadata, user_level, applied_percent, is_referral_bonus)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12)
		RETURNING ` + joinColumns(transactionColumns())

	row := tx.QueryRow(ctx, query, t.ID, t.ProjectID, t.UserID, t.BonusID, t.Type, t.Amount, t.OrderID, t.Note,
		metadataJSON, t.UserLevel, t.AppliedPercent, t.IsReferralBonus)
	result, err := scanTransaction(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}
	return result, nil
}

// FindByOrderID answers whether this order has already produced a
// transaction of this type for this project. A nil result with no error
// means "not yet processed."
func (r *TransactionRepository) FindByOrderID(ctx context.Context, projectID uuid.UUID, orderID string, txType TransactionType) (*Transaction, error) {
	sql, args, err := sq.Select(transactionColumns()...).
		From("bonus_transaction").
		Where(sq.Eq{"project_id": projectID, "order_id": orderID, "type": txType}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	t, err := scanTransaction(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query transaction by order id: %w", err)
	}
	return t, nil
}

// ListByUser returns a user's ledger history, most recent first, for the
// /history bot command.
func (r *TransactionRepository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]Transaction, error) {
	sql, args, err := sq.Select(transactionColumns()...).
		From("bonus_transaction").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions by user: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		t, err := scanTransactionFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over transaction rows: %w", err)
	}
	return txs, nil
}
