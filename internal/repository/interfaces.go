// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/coursemart/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// SetStripeCustomerIDIfEmpty は顧客IDが未設定の場合のみ設定する（compare-and-set）。
	// 設定した場合はtrue、既に別の値が設定済みの場合はfalseを返す。
	SetStripeCustomerIDIfEmpty(ctx context.Context, userID, customerID string) (bool, error)

	// AddPurchasedCourse は購入済み講座集合にcourseIDを追加する。
	// 既に含まれている場合は何もせずfalseを返す。単一行の原子的な更新で行う。
	AddPurchasedCourse(ctx context.Context, userID, courseID string) (bool, error)
}

// CourseRepository は講座データの永続化インターフェース。
type CourseRepository interface {
	// FindByID は指定IDの講座を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Course, error)

	// AddStudent は受講者集合にuserIDを追加する。
	// 既に含まれている場合は何もせずfalseを返す。単一行の原子的な更新で行う。
	AddStudent(ctx context.Context, courseID, userID string) (bool, error)
}

// PurchaseRepository は購入記録の永続化インターフェース。
type PurchaseRepository interface {
	// RecordPaid は(user, course)の決済完了記録を冪等にUPSERTする。
	RecordPaid(ctx context.Context, purchase *model.Purchase) error

	// ListIncomplete は決済完了済みにもかかわらず、ユーザー側または講座側の集合に
	// 反映されていない(user, course)の組を最大limit件返す。
	ListIncomplete(ctx context.Context, limit int) ([]model.PurchasePair, error)
}

// WebhookEventRepository はWebhookイベント処理ログの永続化インターフェース。
type WebhookEventRepository interface {
	// Record はイベントの処理結果を記録する。同一イベントIDは最新の結果で上書きする。
	Record(ctx context.Context, event *model.WebhookEvent) error
}
