package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
)

// ReferralProgram is a project's referral payout policy: the referrer earns
// PayoutPercent of every purchase the referred user makes, for ever or
// capped at MaxPayouts purchases.
type ReferralProgram struct {
	ID            uuid.UUID       `db:"id"`
	ProjectID     uuid.UUID       `db:"project_id"`
	PayoutPercent decimal.Decimal `db:"payout_percent"`
	MaxPayouts    *int            `db:"max_payouts"`
	Active        bool            `db:"active"`
}

type ReferralProgramRepository struct {
	pool *pgxpool.Pool
}

func NewReferralProgramRepository(pool *pgxpool.Pool) *ReferralProgramRepository {
	return &ReferralProgramRepository{pool: pool}
}

func referralProgramColumns() []string {
	return []string{"id", "project_id", "payout_percent", "max_payouts", "active"}
}

func scanReferralProgram(row pgx.Row) (*ReferralProgram, error) {
	var p ReferralProgram
	err := row.Scan(&p.ID, &p.ProjectID, &p.PayoutPercent, &p.MaxPayouts, &p.Active)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ReferralProgramRepository) FindByProject(ctx context.Context, projectID uuid.UUID) (*ReferralProgram, error) {
	sql, args, err := sq.Select(referralProgramColumns()...).
		From("referral_program").
		Where(sq.Eq{"project_id": projectID, "active": true}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	p, err := scanReferralProgram(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query referral program: %w", err)
	}
	return p, nil
}

// CountPayoutsForPair counts how many referral-type transactions a
// referrer has already received for a given referred user, so
// referral.Engine.ResolvePayout can stop at MaxPayouts.
func (r *ReferralProgramRepository) CountPayoutsForPair(ctx context.Context, referrerID, referredID uuid.UUID) (int, error) {
	sql, args, err := sq.Select("COUNT(*)").
		From("bonus_transaction bt").
		Join("referral_payout rp ON rp.transaction_id = bt.id").
		Where(sq.Eq{"rp.referrer_id": referrerID, "rp.referred_id": referredID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build select query: %w", err)
	}

	var count int
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count referral payouts: %w", err)
	}
	return count, nil
}

// RecordPayout links a referral-type transaction to the (referrer,
// referred) pair it was paid for, inside the caller's transaction.
func (r *ReferralProgramRepository) RecordPayout(ctx context.Context, tx pgx.Tx, transactionID, referrerID, referredID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO referral_payout (transaction_id, referrer_id, referred_id)
		VALUES ($1, $2, $3)`, transactionID, referrerID, referredID)
	if err != nil {
		return fmt.Errorf("failed to record referral payout: %w", err)
	}
	return nil
}
