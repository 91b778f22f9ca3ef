// Package auth はアクセストークンの検証を提供する。
// トークンの発行はログイン機能側の責務で、ここでは署名と有効期限の検証のみを行う。
package auth

import (
	"errors"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/coursemart/internal/model"
)

// ErrInvalidToken はトークンが検証できない場合のエラー。
var ErrInvalidToken = errors.New("invalid access token")

// Claims は検証済みアクセストークンの内容。
type Claims struct {
	UserID    string
	Role      model.Role
	ExpiresAt time.Time
}

// tokenClaims はログイン時に発行されるトークンのペイロード。
type tokenClaims struct {
	ID   string `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier はHS256で署名されたアクセストークンを検証する。
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier はVerifierを生成する。
func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		now:    time.Now,
	}
}

// Verify はトークンの署名・有効期限を検証し、ユーザーIDとロールを返す。
func (v *Verifier) Verify(raw string) (Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || len(v.secret) == 0 {
		return Claims{}, ErrInvalidToken
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil || token == nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	userID := strings.TrimSpace(claims.ID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return Claims{}, ErrInvalidToken
	}

	return Claims{
		UserID:    userID,
		Role:      model.Role(claims.Role),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
