package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/coursemart/internal/model"
	"github.com/lib/pq"
)

// PostgresCourseRepo はPostgreSQLを使用した講座リポジトリ。
type PostgresCourseRepo struct {
	db *sql.DB
}

// NewPostgresCourseRepo はPostgresCourseRepoを生成する。
func NewPostgresCourseRepo(db *sql.DB) *PostgresCourseRepo {
	return &PostgresCourseRepo{db: db}
}

// FindByID は指定IDの講座を取得する。見つからない場合はnilを返す。
func (r *PostgresCourseRepo) FindByID(ctx context.Context, id string) (*model.Course, error) {
	course := &model.Course{}

	err := r.db.QueryRowContext(ctx,
		`SELECT id, title, description, price, currency, instructor_id, student_ids, created_at, updated_at
		 FROM courses WHERE id = $1`,
		id,
	).Scan(
		&course.ID, &course.Title, &course.Description,
		&course.Price, &course.Currency, &course.InstructorID,
		pq.Array(&course.StudentIDs),
		&course.CreatedAt, &course.UpdatedAt,
	)

	if err == sql.ErrNoRows || isInvalidID(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find course by ID: %w", err)
	}

	return course, nil
}

// AddStudent は受講者集合にuserIDを追加する。既に含まれている場合はfalseを返す。
func (r *PostgresCourseRepo) AddStudent(ctx context.Context, courseID, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE courses
		 SET student_ids = array_append(student_ids, $2::uuid), updated_at = now()
		 WHERE id = $1 AND NOT ($2::uuid = ANY(student_ids))`,
		courseID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to add student: %w", err)
	}
	return affectedOne(result)
}

// compile-time interface check
var _ CourseRepository = (*PostgresCourseRepo)(nil)
