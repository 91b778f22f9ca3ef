package entitlement

import (
	"context"
	"fmt"

	"github.com/hitoshi/coursemart/internal/model"
)

// Entitled はユーザーが講座の受講権を持つかどうかを返す。
// どちらか一方の集合に反映済みであれば受講権ありとみなす。残りの一方は再送か修復ジョブで揃う。
func (r *Reconciler) Entitled(ctx context.Context, userID, courseID string) (bool, error) {
	course, err := r.courses.FindByID(ctx, courseID)
	if err != nil {
		return false, fmt.Errorf("failed to load course: %w", err)
	}
	if course == nil {
		return false, model.NewCourseNotFoundError(courseID)
	}

	user, err := r.users.FindByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return false, model.NewUserNotFoundError()
	}

	return user.HasPurchased(course.ID) || course.HasStudent(user.ID), nil
}
