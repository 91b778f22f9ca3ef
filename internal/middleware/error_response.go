package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/coursemart/internal/model"
)

// ErrorResponseBody は失敗レスポンスのJSON形式。statusは常にfalse。
// クライアントはcodeで分岐し、category/actionをそのまま画面に出せる。
type ErrorResponseBody struct {
	Status   bool   `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// SuccessResponseBody は成功レスポンスのJSON形式。statusは常にtrue。
type SuccessResponseBody struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// internalError はログ以外に詳細を出さない500用のエラー。
var internalError = model.APIError{
	Code:     model.ErrCodeInternal,
	Message:  "内部エラーが発生しました。",
	Category: "system",
	Action:   "しばらく待ってから再度お試しください。",
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteErrorResponse はAPIErrorを失敗レスポンスとして書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	writeJSON(w, statusCode, ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteSuccessResponse はdataを成功レスポンスで包んで書き込む。dataがnilの場合はdataキーを省略する。
func WriteSuccessResponse(w http.ResponseWriter, statusCode int, message string, data any) {
	writeJSON(w, statusCode, SuccessResponseBody{
		Status:  true,
		Message: message,
		Data:    data,
	})
}

// WriteInternalServerError は500 INTERNAL_ERRORを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	apiErr := internalError
	WriteErrorResponse(w, http.StatusInternalServerError, &apiErr)
}
