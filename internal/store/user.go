package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
)

// User is a storefront customer within one project. TelegramID, Email and
// Phone are all optional identity anchors: a user may be known by any
// subset of them, and every lookup is scoped to its project, so the same
// Telegram id in two different projects never resolves to the same user.
// TotalPurchases is the cumulative lifetime spend the Level Engine resolves
// a tier bracket against; CurrentLevelName is the name last derived from it,
// cached on the row so a display read never has to recompute it.
type User struct {
	ID               uuid.UUID       `db:"id"`
	ProjectID        uuid.UUID       `db:"project_id"`
	TelegramID       *int64          `db:"telegram_id"`
	Email            *string         `db:"email"`
	Phone            *string         `db:"phone"`
	DisplayName      string          `db:"display_name"`
	ReferralCode     string          `db:"referral_code"`
	ReferredByID     *uuid.UUID      `db:"referred_by_id"`
	TotalPurchases   decimal.Decimal `db:"total_purchases"`
	CurrentLevelName *string         `db:"current_level_name"`
	CreatedAt        time.Time       `db:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"`
}

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func userColumns() []string {
	return []string{
		"id", "project_id", "telegram_id", "email", "phone", "display_name",
		"referral_code", "referred_by_id", "total_purchases", "current_level_name",
		"created_at", "updated_at",
	}
}

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.ProjectID, &u.TelegramID, &u.Email, &u.Phone, &u.DisplayName,
		&u.ReferralCode, &u.ReferredByID, &u.TotalPurchases, &u.CurrentLevelName,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func scanUserFromRows(rows pgx.Rows) (*User, error) {
	var u User
	err := rows.Scan(
		&u.ID, &u.ProjectID, &u.TelegramID, &u.Email, &u.Phone, &u.DisplayName,
		&u.ReferralCode, &u.ReferredByID, &u.TotalPurchases, &u.CurrentLevelName,
		&u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*User, error) {
	return r.findOneBy(ctx, sq.Eq{"id": id})
}

// FindByTelegramID looks up a user by telegram chat id within a single
// project, never globally.
func (r *UserRepository) FindByTelegramID(ctx context.Context, projectID uuid.UUID, telegramID int64) (*User, error) {
	return r.findOneBy(ctx, sq.Eq{"project_id": projectID, "telegram_id": telegramID})
}

func (r *UserRepository) FindByEmail(ctx context.Context, projectID uuid.UUID, email string) (*User, error) {
	return r.findOneBy(ctx, sq.Eq{"project_id": projectID, "email": email})
}

func (r *UserRepository) FindByPhone(ctx context.Context, projectID uuid.UUID, phone string) (*User, error) {
	return r.findOneBy(ctx, sq.Eq{"project_id": projectID, "phone": phone})
}

func (r *UserRepository) FindByReferralCode(ctx context.Context, projectID uuid.UUID, code string) (*User, error) {
	return r.findOneBy(ctx, sq.Eq{"project_id": projectID, "referral_code": code})
}

func (r *UserRepository) findOneBy(ctx context.Context, pred sq.Eq) (*User, error) {
	sql, args, err := sq.Select(userColumns()...).
		From("app_user").
		Where(pred).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	u, err := scanUser(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// ListByProject returns every user belonging to projectID, the recipient
// list cmd/app's broadcast route uses when no user ids are given.
func (r *UserRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]User, error) {
	sql, args, err := sq.Select(userColumns()...).
		From("app_user").
		Where(sq.Eq{"project_id": projectID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users by project: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUserFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over user rows: %w", err)
	}
	return users, nil
}

func (r *UserRepository) Create(ctx context.Context, u *User) (*User, error) {
	query := `
		INSERT INTO app_user (id, project_id, telegram_id, email, phone, display_name, referral_code, referred_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + joinColumns(userColumns())

	row := r.pool.QueryRow(ctx, query, u.ID, u.ProjectID, u.TelegramID, u.Email, u.Phone,
		u.DisplayName, u.ReferralCode, u.ReferredByID)
	result, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return result, nil
}

// CreateOrGetByTelegramID inserts a new user keyed on (project_id,
// telegram_id) or returns the existing row under a conflict, avoiding a
// duplicate-key race between concurrent /start handlers for the same chat.
func (r *UserRepository) CreateOrGetByTelegramID(ctx context.Context, u *User) (*User, error) {
	query := `
		INSERT INTO app_user (id, project_id, telegram_id, email, phone, display_name, referral_code, referred_by_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, telegram_id) WHERE telegram_id IS NOT NULL
		DO UPDATE SET telegram_id = app_user.telegram_id
		RETURNING ` + joinColumns(userColumns())

	row := r.pool.QueryRow(ctx, query, u.ID, u.ProjectID, u.TelegramID, u.Email, u.Phone,
		u.DisplayName, u.ReferralCode, u.ReferredByID)
	result, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("failed to find or create user: %w", err)
	}
	return result, nil
}

func (r *UserRepository) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	sql, args, err := buildUserUpdate(id, updates)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// UpdateFieldsTx is UpdateFields run against tx instead of the pool, for
// callers (the Ledger Engine's AwardPurchase) that need the update to land
// atomically alongside the transaction and bonus lot rows it writes.
func (r *UserRepository) UpdateFieldsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	sql, args, err := buildUserUpdate(id, updates)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func buildUserUpdate(id uuid.UUID, updates map[string]interface{}) (string, []interface{}, error) {
	build := sq.Update("app_user").PlaceholderFormat(sq.Dollar).Where(sq.Eq{"id": id})
	for field, value := range updates {
		build = build.Set(field, value)
	}
	build = build.Set("updated_at", sq.Expr("now()"))

	sql, args, err := build.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("failed to build update query: %w", err)
	}
	return sql, args, nil
}
