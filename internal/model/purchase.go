package model

import "time"

// PurchaseStatus は購入記録の状態を表す。
type PurchaseStatus string

const (
	// PurchaseStatusPending は決済未完了。
	PurchaseStatusPending PurchaseStatus = "pending"
	// PurchaseStatusPaid は決済完了。
	PurchaseStatusPaid PurchaseStatus = "paid"
)

// Purchase は(user, course)ごとの決済完了記録を表す。
// 双方向の受講関係の正とし、部分失敗時の修復ジョブの入力となる。
type Purchase struct {
	ID          string
	UserID      string
	CourseID    string
	SessionID   string
	AmountMinor int64
	Currency    string
	Status      PurchaseStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// PurchasePair は修復対象となる(user, course)の組。
type PurchasePair struct {
	UserID   string
	CourseID string
}

// WebhookEvent は検証済みWebhookイベントの処理結果ログ。
type WebhookEvent struct {
	EventID    string
	EventType  string
	Outcome    string
	ReceivedAt time.Time
}
