package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/hitoshi/coursemart/internal/model"
)

var rawBodyContextKey = contextKey("raw_body")

// NewRawBodyMiddleware はリクエストボディを未加工のまま読み取り、コンテキストに保持するミドルウェアを返す。
// 署名検証はボディのバイト列そのものを対象とするため、Webhookルートではこれ以外のボディ処理を挟まない。
// maxBytesを超えるボディには413を返す。
func NewRawBodyMiddleware(maxBytes int64) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBytes))
			if err != nil {
				var maxErr *http.MaxBytesError
				if errors.As(err, &maxErr) {
					WriteErrorResponse(w, http.StatusRequestEntityTooLarge,
						model.NewInvalidRequestError("リクエストボディが大きすぎます。"))
					return
				}
				WriteErrorResponse(w, http.StatusBadRequest,
					model.NewInvalidRequestError("リクエストボディを読み取れませんでした。"))
				return
			}

			// 後続のハンドラーが再度読めるように戻しておく
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), rawBodyContextKey, body)))
		})
	}
}

// RawBodyFromContext はNewRawBodyMiddlewareが保持したボディを返す。
func RawBodyFromContext(ctx context.Context) ([]byte, bool) {
	body, ok := ctx.Value(rawBodyContextKey).([]byte)
	return body, ok
}
