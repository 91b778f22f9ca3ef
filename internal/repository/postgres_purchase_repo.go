package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hitoshi/coursemart/internal/model"
)

// ErrReferenceNotFound は購入記録が参照するユーザーまたは講座が存在しない場合のエラー。
var ErrReferenceNotFound = errors.New("referenced user or course does not exist")

// PostgresPurchaseRepo はPostgreSQLを使用した購入記録リポジトリ。
type PostgresPurchaseRepo struct {
	db *sql.DB
}

// NewPostgresPurchaseRepo はPostgresPurchaseRepoを生成する。
func NewPostgresPurchaseRepo(db *sql.DB) *PostgresPurchaseRepo {
	return &PostgresPurchaseRepo{db: db}
}

// RecordPaid は(user, course)の決済完了記録をUPSERTする。
// 同じ組が既に存在する場合はstatusをpaidにし、空のセッションIDと金額のみ補完する。
func (r *PostgresPurchaseRepo) RecordPaid(ctx context.Context, purchase *model.Purchase) error {
	now := time.Now()

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO purchases (user_id, course_id, session_id, amount_minor, currency, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'paid', $6, $6)
		 ON CONFLICT (user_id, course_id) DO UPDATE SET
		   status = 'paid',
		   session_id = CASE WHEN purchases.session_id = '' THEN EXCLUDED.session_id ELSE purchases.session_id END,
		   amount_minor = CASE WHEN purchases.amount_minor = 0 THEN EXCLUDED.amount_minor ELSE purchases.amount_minor END,
		   currency = CASE WHEN purchases.currency = '' THEN EXCLUDED.currency ELSE purchases.currency END,
		   updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at`,
		purchase.UserID, purchase.CourseID, purchase.SessionID,
		purchase.AmountMinor, purchase.Currency, now,
	).Scan(&purchase.ID, &purchase.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) || isInvalidID(err) {
			return fmt.Errorf("failed to record purchase: %w", ErrReferenceNotFound)
		}
		return fmt.Errorf("failed to record purchase: %w", err)
	}

	purchase.Status = model.PurchaseStatusPaid
	purchase.UpdatedAt = now
	return nil
}

// ListIncomplete はpaidの購入記録のうち、users側またはcourses側の集合に
// 反映されていない組を古い順に最大limit件返す。
func (r *PostgresPurchaseRepo) ListIncomplete(ctx context.Context, limit int) ([]model.PurchasePair, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT p.user_id, p.course_id
		 FROM purchases p
		 JOIN users u ON u.id = p.user_id
		 JOIN courses c ON c.id = p.course_id
		 WHERE p.status = 'paid'
		   AND (NOT (p.course_id = ANY(u.purchased_course_ids))
		        OR NOT (p.user_id = ANY(c.student_ids)))
		 ORDER BY p.updated_at ASC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete purchases: %w", err)
	}
	defer rows.Close()

	var pairs []model.PurchasePair
	for rows.Next() {
		var p model.PurchasePair
		if err := rows.Scan(&p.UserID, &p.CourseID); err != nil {
			return nil, fmt.Errorf("failed to scan purchase pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate purchase pairs: %w", err)
	}

	return pairs, nil
}

// compile-time interface check
var _ PurchaseRepository = (*PostgresPurchaseRepo)(nil)
