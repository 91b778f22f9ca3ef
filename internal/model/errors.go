// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, payment, webhook, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidPrice           = "INVALID_PRICE"
	ErrCodeConversionUnavailable  = "CONVERSION_UNAVAILABLE"
	ErrCodeCourseNotFound         = "COURSE_NOT_FOUND"
	ErrCodeUserNotFound           = "USER_NOT_FOUND"
	ErrCodeAlreadyEntitled        = "ALREADY_ENTITLED"
	ErrCodeSignatureInvalid       = "SIGNATURE_INVALID"
	ErrCodeMalformedEvent         = "MALFORMED_EVENT"
	ErrCodeReconciliationNotFound = "RECONCILIATION_NOT_FOUND"
	ErrCodeUpstreamUnavailable    = "UPSTREAM_UNAVAILABLE"
	ErrCodeInvalidRequest         = "INVALID_REQUEST"
	ErrCodeUnauthorized           = "UNAUTHORIZED"
	ErrCodeForbidden              = "FORBIDDEN"
	ErrCodeInternal               = "INTERNAL_ERROR"
)

// IsCode はerrがAPIErrorであり、指定コードを持つかどうかを返す。
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewInvalidPriceError は価格が不正な場合のエラーを生成する。
func NewInvalidPriceError(price string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPrice,
		Message:  fmt.Sprintf("講座価格が不正です: %s", price),
		Category: "validation",
		Action:   "講師に講座価格の設定を確認するよう依頼してください。",
	}
}

// NewConversionUnavailableError は為替レートが取得できない場合のエラーを生成する。
func NewConversionUnavailableError(from, to string) *APIError {
	return &APIError{
		Code:     ErrCodeConversionUnavailable,
		Message:  fmt.Sprintf("為替レートを取得できませんでした: %s -> %s", from, to),
		Category: "payment",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCourseNotFoundError は講座が見つからない場合のエラーを生成する。
func NewCourseNotFoundError(courseID string) *APIError {
	return &APIError{
		Code:     ErrCodeCourseNotFound,
		Message:  fmt.Sprintf("指定された講座が見つかりません: %s", courseID),
		Category: "validation",
		Action:   "講座IDを確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewAlreadyEntitledError は購入済み講座を再度購入しようとした場合のエラーを生成する。
func NewAlreadyEntitledError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyEntitled,
		Message:  "この講座は既に購入済みです。",
		Category: "payment",
		Action:   "マイ講座から受講を開始してください。",
	}
}

// NewSignatureInvalidError はWebhook署名の検証に失敗した場合のエラーを生成する。
func NewSignatureInvalidError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSignatureInvalid,
		Message:  fmt.Sprintf("Webhook署名の検証に失敗しました: %s", reason),
		Category: "webhook",
		Action:   "Webhookシークレットの設定を確認してください。",
	}
}

// NewMalformedEventError はWebhookイベントの内容が不正な場合のエラーを生成する。
func NewMalformedEventError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedEvent,
		Message:  fmt.Sprintf("Webhookイベントの形式が不正です: %s", reason),
		Category: "webhook",
		Action:   "チェックアウトセッションのメタデータを確認してください。",
	}
}

// NewReconciliationNotFoundError は検証済みイベントが参照するユーザーまたは講座が存在しない場合のエラーを生成する。
func NewReconciliationNotFoundError(kind, id string) *APIError {
	return &APIError{
		Code:     ErrCodeReconciliationNotFound,
		Message:  fmt.Sprintf("イベントが参照する%sが存在しません: %s", kind, id),
		Category: "webhook",
		Action:   "決済事業者のダッシュボードで該当決済を確認してください。",
	}
}

// NewUpstreamUnavailableError は外部サービスが一時的に利用できない場合のエラーを生成する。
func NewUpstreamUnavailableError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamUnavailable,
		Message:  fmt.Sprintf("外部サービスに接続できませんでした: %s", service),
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidRequestError はリクエストが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  reason,
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewUnauthorizedError は認証が必要な場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError は権限が不足している場合のエラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
		Action:   "受講者アカウントでログインしてください。",
	}
}
