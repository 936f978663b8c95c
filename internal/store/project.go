package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/google/uuid"
)

// Project is one tenant: a storefront with its own bot token, webhook
// secret and accrual/expiry policy.
type Project struct {
	ID                     uuid.UUID `db:"id"`
	Name                   string    `db:"name"`
	WebhookSecret          string    `db:"webhook_secret"`
	TelegramBotToken       string    `db:"telegram_bot_token"`
	DefaultEarnPercent     string    `db:"default_earn_percent"`
	DefaultBonusExpiryDays int       `db:"default_bonus_expiry_days"`
	Active                 bool      `db:"active"`
	CreatedAt              time.Time `db:"created_at"`
	UpdatedAt              time.Time `db:"updated_at"`
}

type ProjectRepository struct {
	pool *pgxpool.Pool
}

func NewProjectRepository(pool *pgxpool.Pool) *ProjectRepository {
	return &ProjectRepository{pool: pool}
}

func projectColumns() []string {
	return []string{
		"id", "name", "webhook_secret", "telegram_bot_token",
		"default_earn_percent", "default_bonus_expiry_days", "active",
		"created_at", "updated_at",
	}
}

func scanProject(row pgx.Row) (*Project, error) {
	var p Project
	err := row.Scan(
		&p.ID, &p.Name, &p.WebhookSecret, &p.TelegramBotToken,
		&p.DefaultEarnPercent, &p.DefaultBonusExpiryDays, &p.Active,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func scanProjectFromRows(rows pgx.Rows) (*Project, error) {
	var p Project
	err := rows.Scan(
		&p.ID, &p.Name, &p.WebhookSecret, &p.TelegramBotToken,
		&p.DefaultEarnPercent, &p.DefaultBonusExpiryDays, &p.Active,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *ProjectRepository) FindByID(ctx context.Context, id uuid.UUID) (*Project, error) {
	sql, args, err := sq.Select(projectColumns()...).
		From("project").
		Where(sq.Eq{"id": id}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	p, err := scanProject(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return p, nil
}

// FindByWebhookSecret resolves the tenant for an inbound webhook call — the
// lookup the Webhook Ingress state machine runs first on every request.
func (r *ProjectRepository) FindByWebhookSecret(ctx context.Context, secret string) (*Project, error) {
	sql, args, err := sq.Select(projectColumns()...).
		From("project").
		Where(sq.Eq{"webhook_secret": secret}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	p, err := scanProject(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return p, nil
}

func (r *ProjectRepository) ListActive(ctx context.Context) ([]Project, error) {
	sql, args, err := sq.Select(projectColumns()...).
		From("project").
		Where(sq.Eq{"active": true}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query active projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		p, err := scanProjectFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		projects = append(projects, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over project rows: %w", err)
	}
	return projects, nil
}

func (r *ProjectRepository) Create(ctx context.Context, p *Project) (*Project, error) {
	query := `
		INSERT INTO project (id, name, webhook_secret, telegram_bot_token, default_earn_percent, default_bonus_expiry_days, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + joinColumns(projectColumns())

	row := r.pool.QueryRow(ctx, query, p.ID, p.Name, p.WebhookSecret, p.TelegramBotToken,
		p.DefaultEarnPercent, p.DefaultBonusExpiryDays, p.Active)
	result, err := scanProject(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return result, nil
}

func (r *ProjectRepository) UpdateFields(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}

	build := sq.Update("project").PlaceholderFormat(sq.Dollar).Where(sq.Eq{"id": id})
	for field, value := range updates {
		build = build.Set(field, value)
	}
	build = build.Set("updated_at", sq.Expr("now()"))

	sql, args, err := build.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}
	if _, err := r.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}
