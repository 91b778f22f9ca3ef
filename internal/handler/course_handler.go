package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/coursemart/internal/middleware"
)

// AccessChecker は受講権の有無を判定する。
type AccessChecker interface {
	Entitled(ctx context.Context, userID, courseID string) (bool, error)
}

// CourseHandler は講座関連のHTTPハンドラー。
type CourseHandler struct {
	access AccessChecker
}

// NewCourseHandler はCourseHandlerを生成する。
func NewCourseHandler(access AccessChecker) *CourseHandler {
	return &CourseHandler{access: access}
}

// courseAccessResponse は受講権照会のAPIレスポンス。
type courseAccessResponse struct {
	CourseID string `json:"courseId"`
	Entitled bool   `json:"entitled"`
}

// Access はログインユーザーが講座の受講権を持つかを返す。
// 決済完了ページからのポーリングに使う。
// GET /api/courses/{id}/access
func (h *CourseHandler) Access(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	courseID := chi.URLParam(r, "id")

	entitled, err := h.access.Entitled(r.Context(), userID, courseID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.WriteSuccessResponse(w, http.StatusOK, "Course access", courseAccessResponse{
		CourseID: courseID,
		Entitled: entitled,
	})
}
