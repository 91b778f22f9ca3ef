package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/coursemart/internal/model"
)

// PostgresWebhookEventRepo はPostgreSQLを使用したWebhookイベントログリポジトリ。
type PostgresWebhookEventRepo struct {
	db *sql.DB
}

// NewPostgresWebhookEventRepo はPostgresWebhookEventRepoを生成する。
func NewPostgresWebhookEventRepo(db *sql.DB) *PostgresWebhookEventRepo {
	return &PostgresWebhookEventRepo{db: db}
}

// Record はイベントの処理結果を記録する。
// 再送されたイベントは最新の処理結果と受信時刻で上書きする。
func (r *PostgresWebhookEventRepo) Record(ctx context.Context, event *model.WebhookEvent) error {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (event_id, event_type, outcome, received_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (event_id) DO UPDATE SET
		   outcome = EXCLUDED.outcome,
		   received_at = EXCLUDED.received_at`,
		event.EventID, event.EventType, event.Outcome, event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record webhook event: %w", err)
	}
	return nil
}

// compile-time interface check
var _ WebhookEventRepository = (*PostgresWebhookEventRepo)(nil)
