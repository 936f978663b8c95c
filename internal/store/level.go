package store

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"
)

// BonusLevel is one rung of a project's tiered earn-rate ladder: a user
// whose lifetime spend falls in [MinLifetimeSpend, MaxLifetimeSpend) earns
// at EarnPercent. The database has no exclusion constraint against
// overlapping ranges, and Create and ReplaceAll write levels without
// checking for overlap; level.ValidateNoOverlap performs that check when
// called.
type BonusLevel struct {
	ID                uuid.UUID       `db:"id"`
	ProjectID         uuid.UUID       `db:"project_id"`
	Name              string          `db:"name"`
	MinLifetimeSpend  decimal.Decimal `db:"min_lifetime_spend"`
	MaxLifetimeSpend  *decimal.Decimal `db:"max_lifetime_spend"`
	EarnPercent       decimal.Decimal `db:"earn_percent"`
}

type LevelRepository struct {
	pool *pgxpool.Pool
}

func NewLevelRepository(pool *pgxpool.Pool) *LevelRepository {
	return &LevelRepository{pool: pool}
}

func levelColumns() []string {
	return []string{"id", "project_id", "name", "min_lifetime_spend", "max_lifetime_spend", "earn_percent"}
}

func scanLevel(row pgx.Row) (*BonusLevel, error) {
	var l BonusLevel
	err := row.Scan(&l.ID, &l.ProjectID, &l.Name, &l.MinLifetimeSpend, &l.MaxLifetimeSpend, &l.EarnPercent)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func scanLevelFromRows(rows pgx.Rows) (*BonusLevel, error) {
	var l BonusLevel
	err := rows.Scan(&l.ID, &l.ProjectID, &l.Name, &l.MinLifetimeSpend, &l.MaxLifetimeSpend, &l.EarnPercent)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// ListByProject returns every level for projectID ordered by
// MinLifetimeSpend, the shape the Level Engine's bracket scan expects.
func (r *LevelRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]BonusLevel, error) {
	sql, args, err := sq.Select(levelColumns()...).
		From("bonus_level").
		Where(sq.Eq{"project_id": projectID}).
		OrderBy("min_lifetime_spend ASC").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query levels by project: %w", err)
	}
	defer rows.Close()

	var levels []BonusLevel
	for rows.Next() {
		l, err := scanLevelFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan level row: %w", err)
		}
		levels = append(levels, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over level rows: %w", err)
	}
	return levels, nil
}

func (r *LevelRepository) Create(ctx context.Context, l *BonusLevel) (*BonusLevel, error) {
	query := `
		INSERT INTO bonus_level (id, project_id, name, min_lifetime_spend, max_lifetime_spend, earn_percent)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + joinColumns(levelColumns())

	row := r.pool.QueryRow(ctx, query, l.ID, l.ProjectID, l.Name, l.MinLifetimeSpend, l.MaxLifetimeSpend, l.EarnPercent)
	result, err := scanLevel(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create level: %w", err)
	}
	return result, nil
}

func (r *LevelRepository) ReplaceAll(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, levels []BonusLevel) error {
	delSQL, delArgs, err := sq.Delete("bonus_level").
		Where(sq.Eq{"project_id": projectID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	if _, err := tx.Exec(ctx, delSQL, delArgs...); err != nil {
		return fmt.Errorf("failed to clear levels: %w", err)
	}

	for _, l := range levels {
		insSQL := `
			INSERT INTO bonus_level (id, project_id, name, min_lifetime_spend, max_lifetime_spend, earn_percent)
			VALUES ($1, $2, $3, $4, $5, $6)`
		if _, err := tx.Exec(ctx, insSQL, l.ID, projectID, l.Name, l.MinLifetimeSpend, l.MaxLifetimeSpend, l.EarnPercent); err != nil {
			return fmt.Errorf("failed to insert level %s: %w", l.Name, err)
		}
	}
	return nil
}
