package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// BotSettings holds the per-project Telegram bot runtime configuration the
// Bot Supervisor reads when it starts or restarts a worker.
type BotSettings struct {
	ProjectID    uuid.UUID `db:"project_id"`
	BotToken     string    `db:"bot_token"`
	WebhookMode  bool      `db:"webhook_mode"`
	WelcomeText  string    `db:"welcome_text"`
	Enabled      bool      `db:"enabled"`
}

type BotSettingsRepository struct {
	pool *pgxpool.Pool
}

func NewBotSettingsRepository(pool *pgxpool.Pool) *BotSettingsRepository {
	return &BotSettingsRepository{pool: pool}
}

func botSettingsColumns() []string {
	return []string{"project_id", "bot_token", "webhook_mode", "welcome_text", "enabled"}
}

func scanBotSettings(row pgx.Row) (*BotSettings, error) {
	var s BotSettings
	err := row.Scan(&s.ProjectID, &s.BotToken, &s.WebhookMode, &s.WelcomeText, &s.Enabled)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanBotSettingsFromRows(rows pgx.Rows) (*BotSettings, error) {
	var s BotSettings
	err := rows.Scan(&s.ProjectID, &s.BotToken, &s.WebhookMode, &s.WelcomeText, &s.Enabled)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *BotSettingsRepository) FindByProject(ctx context.Context, projectID uuid.UUID) (*BotSettings, error) {
	sql, args, err := sq.Select(botSettingsColumns()...).
		From("bot_settings").
		Where(sq.Eq{"project_id": projectID}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	s, err := scanBotSettings(r.pool.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query bot settings: %w", err)
	}
	return s, nil
}

// ListEnabled returns bot settings for every project the Bot Supervisor
// should start a worker for at boot.
func (r *BotSettingsRepository) ListEnabled(ctx context.Context) ([]BotSettings, error) {
	sql, args, err := sq.Select(botSettingsColumns()...).
		From("bot_settings").
		Where(sq.Eq{"enabled": true}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled bot settings: %w", err)
	}
	defer rows.Close()

	var all []BotSettings
	for rows.Next() {
		s, err := scanBotSettingsFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bot settings row: %w", err)
		}
		all = append(all, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over bot settings rows: %w", err)
	}
	return all, nil
}

func (r *BotSettingsRepository) Upsert(ctx context.Context, s *BotSettings) (*BotSettings, error) {
	query := `
		INSERT INTO bot_settings (project_id, bot_token, webhook_mode, welcome_text, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id) DO UPDATE SET
			bot_token = EXCLUDED.bot_token,
			webhook_mode = EXCLUDED.webhook_mode,
			welcome_text = EXCLUDED.welcome_text,
			enabled = EXCLUDED.enabled
		RETURNING ` + joinColumns(botSettingsColumns())

	row := r.pool.QueryRow(ctx, query, s.ProjectID, s.BotToken, s.WebhookMode, s.WelcomeText, s.Enabled)
	result, err := scanBotSettings(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert bot settings: %w", err)
	}
	return result, nil
}
