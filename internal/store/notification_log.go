package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// NotificationLog records one notification attempt across any channel, for
// the Notification Service's own audit trail. Broadcasts do not write to it.
type NotificationLog struct {
	ID        uuid.UUID `db:"id"`
	ProjectID uuid.UUID `db:"project_id"`
	UserID    uuid.UUID `db:"user_id"`
	Channel   string    `db:"channel"`
	Template  string    `db:"template"`
	Success   bool      `db:"success"`
	Error     *string   `db:"error"`
	CreatedAt time.Time `db:"created_at"`
}

type NotificationLogRepository struct {
	pool *pgxpool.Pool
}

func NewNotificationLogRepository(pool *pgxpool.Pool) *NotificationLogRepository {
	return &NotificationLogRepository{pool: pool}
}

func notificationLogColumns() []string {
	return []string{"id", "project_id", "user_id", "channel", "template", "success", "error", "created_at"}
}

func scanNotificationLog(row pgx.Row) (*NotificationLog, error) {
	var n NotificationLog
	err := row.Scan(&n.ID, &n.ProjectID, &n.UserID, &n.Channel, &n.Template, &n.Success, &n.Error, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *NotificationLogRepository) Create(ctx context.Context, n *NotificationLog) (*NotificationLog, error) {
	query := `
		INSERT INTO notification_log (id, project_id, user_id, channel, template, success, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + joinColumns(notificationLogColumns())

	row := r.pool.QueryRow(ctx, query, n.ID, n.ProjectID, n.UserID, n.Channel, n.Template, n.Success, n.Error)
	result, err := scanNotificationLog(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification log: %w", err)
	}
	return result, nil
}

// CountRecentByUser counts notifications sent to userID since since. Kept
// available for a future per-user rate cap; nothing enforces a limit on it
// yet.
func (r *NotificationLogRepository) CountRecentByUser(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	sql, args, err := sq.Select("COUNT(*)").
		From("notification_log").
		Where(sq.And{sq.Eq{"user_id": userID}, sq.GtOrEq{"created_at": since}}).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build select query: %w", err)
	}

	var count int
	if err := r.pool.QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count recent notifications: %w", err)
	}
	return count, nil
}
