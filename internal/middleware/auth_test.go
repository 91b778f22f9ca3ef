package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/coursemart/internal/auth"
	"github.com/hitoshi/coursemart/internal/model"
)

// --- モック定義 ---

type mockVerifier struct {
	verifyFn func(raw string) (auth.Claims, error)
}

func (m *mockVerifier) Verify(raw string) (auth.Claims, error) {
	if m.verifyFn != nil {
		return m.verifyFn(raw)
	}
	return auth.Claims{}, auth.ErrInvalidToken
}

// tokenVerifier は指定トークンのみを受け付けるモックを返す。
func tokenVerifier(token, userID string, role model.Role) *mockVerifier {
	return &mockVerifier{
		verifyFn: func(raw string) (auth.Claims, error) {
			if raw == token {
				return auth.Claims{UserID: userID, Role: role}, nil
			}
			return auth.Claims{}, auth.ErrInvalidToken
		},
	}
}

// --- テスト ---

func TestAuthMiddleware_BearerToken_InjectsUserIDAndRole(t *testing.T) {
	mw := NewAuthMiddleware(tokenVerifier("good-token", "user-123", model.RoleStudent))

	var gotUserID string
	var gotRole model.Role
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		gotUserID = userID
		gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUserID != "user-123" {
		t.Errorf("userID = %q, want %q", gotUserID, "user-123")
	}
	if gotRole != model.RoleStudent {
		t.Errorf("role = %q, want %q", gotRole, model.RoleStudent)
	}
}

func TestAuthMiddleware_Cookie_InjectsUserID(t *testing.T) {
	mw := NewAuthMiddleware(tokenVerifier("cookie-token", "user-cookie", model.RoleStudent))

	var gotUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "cookie-token"})
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotUserID != "user-cookie" {
		t.Errorf("userID = %q, want %q", gotUserID, "user-cookie")
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		header string
		cookie string
	}{
		{"no credentials", "", ""},
		{"empty bearer", "Bearer ", ""},
		{"basic scheme", "Basic dXNlcjpwYXNz", ""},
		{"unknown token", "Bearer bad-token", ""},
		{"empty cookie", "", ""},
		{"bad cookie", "", "bad-token"},
		// ヘッダーが不正な場合はCookieにフォールバックしない
		{"bad header with good cookie", "Basic xyz", "good-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewAuthMiddleware(tokenVerifier("good-token", "user-1", model.RoleStudent))
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				t.Fatal("handler should not be called")
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: tt.cookie})
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
			}
			assertErrorCode(t, w, model.ErrCodeUnauthorized)
		})
	}
}

func TestAuthMiddleware_VerifierError_Returns401(t *testing.T) {
	mw := NewAuthMiddleware(&mockVerifier{
		verifyFn: func(raw string) (auth.Claims, error) {
			return auth.Claims{}, errors.New("boom")
		},
	})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestStudentOnlyMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		userID   string
		role     model.Role
		wantCode int
	}{
		{"student passes", "user-1", model.RoleStudent, http.StatusOK},
		{"instructor forbidden", "user-2", model.RoleInstructor, http.StatusForbidden},
		{"missing role forbidden", "user-3", "", http.StatusForbidden},
		{"unauthenticated", "", model.RoleStudent, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewStudentOnlyMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
			ctx := req.Context()
			if tt.userID != "" {
				ctx = ContextWithUserID(ctx, tt.userID)
			}
			if tt.role != "" {
				ctx = ContextWithRole(ctx, tt.role)
			}
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req.WithContext(ctx))

			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}
			if tt.wantCode == http.StatusForbidden {
				assertErrorCode(t, w, model.ErrCodeForbidden)
			}
		})
	}
}

func TestUserIDFromContext_Missing_ReturnsError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, err := UserIDFromContext(req.Context()); err == nil {
		t.Error("expected error for missing user ID")
	}
	if role := RoleFromContext(req.Context()); role != "" {
		t.Errorf("role = %q, want empty", role)
	}
}
