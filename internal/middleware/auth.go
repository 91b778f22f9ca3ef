// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/coursemart/internal/auth"
	"github.com/hitoshi/coursemart/internal/model"
)

// tokenCookieName はログイン時に発行されるアクセストークンのCookie名。
const tokenCookieName = "token"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	roleContextKey   = contextKey("role")
)

// TokenVerifier はアクセストークンの検証に必要なインターフェース。
type TokenVerifier interface {
	Verify(raw string) (auth.Claims, error)
}

// NewAuthMiddleware はAuthorizationヘッダー（Bearer）またはCookieからアクセストークンを読み取り、
// 検証するミドルウェアを返す。
// 認証済みユーザーIDとロールをリクエストコンテキストに注入する。
// 未認証リクエストには401 Unauthorizedを返す。
func NewAuthMiddleware(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := tokenFromRequest(r)
			if raw == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				slog.Warn("access token rejected",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			setRequestUserID(r.Context(), claims.UserID)
			ctx := ContextWithUserID(r.Context(), claims.UserID)
			ctx = ContextWithRole(ctx, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewStudentOnlyMiddleware は受講者ロール以外のリクエストを403で拒否するミドルウェアを返す。
// NewAuthMiddlewareの後に配置する。
func NewStudentOnlyMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := UserIDFromContext(r.Context()); err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			if RoleFromContext(r.Context()) != model.RoleStudent {
				WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError("この操作は受講者のみ実行できます。"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// tokenFromRequest はBearerヘッダーを優先し、なければCookieからトークンを取り出す。
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if cookie, err := r.Cookie(tokenCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// RoleFromContext はリクエストコンテキストからロールを取得する。未設定の場合は空文字を返す。
func RoleFromContext(ctx context.Context) model.Role {
	role, _ := ctx.Value(roleContextKey).(model.Role)
	return role
}

// ContextWithRole はコンテキストにロールを注入する。
func ContextWithRole(ctx context.Context, role model.Role) context.Context {
	return context.WithValue(ctx, roleContextKey, role)
}
