package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/coursemart/internal/model"
	"github.com/lib/pq"
)

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	user := &model.User{}
	var role string
	var customerID sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, role, stripe_customer_id, purchased_course_ids, created_at, updated_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(
		&user.ID, &user.Email, &user.Name, &role,
		&customerID, pq.Array(&user.PurchasedCourseIDs),
		&user.CreatedAt, &user.UpdatedAt,
	)

	if err == sql.ErrNoRows || isInvalidID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}

	user.Role = model.Role(role)
	if customerID.Valid {
		user.StripeCustomerID = &customerID.String
	}

	return user, nil
}

// SetStripeCustomerIDIfEmpty は顧客IDが未設定の場合のみ設定する。
// WHERE句でNULLを条件にすることで、同時実行時も最初の1件だけが書き込まれる。
func (r *PostgresUserRepo) SetStripeCustomerIDIfEmpty(ctx context.Context, userID, customerID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET stripe_customer_id = $2, updated_at = now()
		 WHERE id = $1 AND stripe_customer_id IS NULL`,
		userID, customerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to set stripe customer ID: %w", err)
	}
	return affectedOne(result)
}

// AddPurchasedCourse は購入済み講座集合にcourseIDを追加する。既に含まれている場合はfalseを返す。
func (r *PostgresUserRepo) AddPurchasedCourse(ctx context.Context, userID, courseID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		 SET purchased_course_ids = array_append(purchased_course_ids, $2::uuid), updated_at = now()
		 WHERE id = $1 AND NOT ($2::uuid = ANY(purchased_course_ids))`,
		userID, courseID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add purchased course: %w", err)
	}
	return affectedOne(result)
}

// affectedOne は更新件数が1件以上かどうかを返す。
func affectedOne(result sql.Result) (bool, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
