package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
)

// BonusType classifies why a bonus lot was awarded, the same vocabulary the
// generic award operation accepts.
type BonusType string

const (
	BonusTypePurchase BonusType = "purchase"
	BonusTypeBirthday BonusType = "birthday"
	BonusTypeManual   BonusType = "manual"
	BonusTypeReferral BonusType = "referral"
	BonusTypePromo    BonusType = "promo"
)

// BonusLot is one accrual event's remaining balance. Bonuses are consumed
// soonest-expiring lot first, so every spend walks lots ordered by ExpiresAt/CreatedAt
// rather than touching a single running total.
type BonusLot struct {
	ID                  uuid.UUID       `db:"id"`
	UserID              uuid.UUID       `db:"user_id"`
	ProjectID           uuid.UUID       `db:"project_id"`
	Type                BonusType       `db:"type"`
	Description         string          `db:"description"`
	OriginalAmount      decimal.Decimal `db:"original_amount"`
	RemainingAmount      decimal.Decimal `db:"remaining_amount"`
	SourceTransactionID uuid.UUID       `db:"source_transaction_id"`
	ExpiresAt           *time.Time      `db:"expires_at"`
	CreatedAt           time.Time       `db:"created_at"`
}

type BonusLotRepository struct {
	pool *pgxpool.Pool
}

func NewBonusLotRepository(pool *pgxpool.Pool) *BonusLotRepository {
	return &BonusLotRepository{pool: pool}
}

func bonusLotColumns() []string {
	return []string{
		"id", "user_id", "project_id", "type", "description", "original_amount", "remaining_amount",
		"source_transaction_id", "expires_at", "created_at",
	}
}

func scanBonusLot(row pgx.Row) (*BonusLot, error) {
	var l BonusLot
	err := row.Scan(
		&l.ID, &l.UserID, &l.ProjectID, &l.Type, &l.Description, &l.OriginalAmount, &l.RemainingAmount,
		&l.SourceTransactionID, &l.ExpiresAt, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanBonusLotFromRows(rows pgx.Rows) (*BonusLot, error) {
	var l BonusLot
	err := rows.Scan(
		&l.ID, &l.UserID, &l.ProjectID, &l.Type, &l.Description, &l.OriginalAmount, &l.RemainingAmount,
		&l.SourceTransactionID, &l.ExpiresAt, &l.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Create persists a freshly-awarded lot inside the caller's transaction. Use
// WithinTx to obtain the pgx.Tx it runs against.
func (r *BonusLotRepository) Create(ctx context.Context, tx pgx.Tx, l *BonusLot) (*BonusLot, error) {
	query := `
		INSERT INTO bonus_lot (id, user_id, project_id, type, description, original_amount, remaining_amount, source_transaction_id, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + joinColumns(bonusLotColumns())

	row := tx.QueryRow(ctx, query, l.ID, l.UserID, l.ProjectID, l.Type, l.Description, l.OriginalAmount,
		l.RemainingAmount, l.SourceTransactionID, l.ExpiresAt)
	result, err := scanBonusLot(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create bonus lot: %w", err)
	}
	return result, nil
}

// FindConsumableLotsForUpdate returns every lot with a positive remaining
// balance for userID, oldest-expiring first, locking each row FOR UPDATE so
// two concurrent spends against the same user can't both consume the same
// bonus cents.
func (r *BonusLotRepository) FindConsumableLotsForUpdate(ctx context.Context, tx pgx.Tx, userID uuid.UUID, asOf time.Time) ([]BonusLot, error) {
	sql, args, err := sq.Select(bonusLotColumns()...).
		From("bonus_lot").
		Where(sq.And{
			sq.Eq{"user_id": userID},
			sq.Gt{"remaining_amount": decimal.Zero},
			sq.Or{
				sq.Eq{"expires_at": nil},
				sq.Gt{"expires_at": asOf},
			},
		}).
		OrderBy("expires_at ASC NULLS LAST", "created_at ASC").
		Suffix("FOR UPDATE").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query consumable lots: %w", err)
	}
	defer rows.Close()

	var lots []BonusLot
	for rows.Next() {
		l, err := scanBonusLotFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bonus lot row: %w", err)
		}
		lots = append(lots, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bonus lot rows: %w", err)
	}
	return lots, nil
}

// FindExpiring returns every still-positive lot whose ExpiresAt has already
// passed asOf, the input to the Ledger Engine's expiry sweep.
func (r *BonusLotRepository) FindExpiring(ctx context.Context, asOf time.Time, limit int) ([]BonusLot, error) {
	sql, args, err := sq.Select(bonusLotColumns()...).
		From("bonus_lot").
		Where(sq.And{
			sq.Gt{"remaining_amount": decimal.Zero},
			sq.NotEq{"expires_at": nil},
			sq.LtOrEq{"expires_at": asOf},
		}).
		OrderBy("expires_at ASC").
		Limit(uint64(limit)).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring lots: %w", err)
	}
	defer rows.Close()

	var lots []BonusLot
	for rows.Next() {
		l, err := scanBonusLotFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bonus lot row: %w", err)
		}
		lots = append(lots, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bonus lot rows: %w", err)
	}
	return lots, nil
}

// SetRemaining updates a single lot's remaining balance within tx — called
// once per lot touched by a spend or an expiry sweep.
func (r *BonusLotRepository) SetRemaining(ctx context.Context, tx pgx.Tx, id uuid.UUID, remaining decimal.Decimal) error {
	sql, args, err := sq.Update("bonus_lot").
		Set("remaining_amount", remaining).
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to update bonus lot remaining amount: %w", err)
	}
	return nil
}

// SumBalance returns the sum of remaining, unexpired lots for userID — the
// Ledger Engine's getBalance query.
func (r *BonusLotRepository) SumBalance(ctx context.Context, userID uuid.UUID, asOf time.Time) (decimal.Decimal, error) {
	sql, args, err := sq.Select("COALESCE(SUM(remaining_amount), 0)").
		From("bonus_lot").
		Where(sq.And{
			sq.Eq{"user_id": userID},
			sq.Or{
				sq.Eq{"expires_at": nil},
				sq.Gt{"expires_at": asOf},
			},
		}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to build select query: %w", err)
	}

	var total decimal.Decimal
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("failed to query bonus balance: %w", err)
	}
	return total, nil
}
