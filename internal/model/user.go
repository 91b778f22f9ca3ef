// Package model はドメインモデルを定義する。
package model

import "time"

// Role はユーザーの役割を表す。
type Role string

const (
	// RoleStudent は講座を購入する受講者。
	RoleStudent Role = "student"
	// RoleInstructor は講座を作成する講師。
	RoleInstructor Role = "instructor"
)

// User はサービス利用ユーザーを表す。
// PurchasedCourseIDsは購入済み講座IDの集合で、Course.StudentIDsと双方向に対応する。
type User struct {
	ID                 string
	Email              string
	Name               string
	Role               Role
	StripeCustomerID   *string // 決済事業者側の顧客ID。初回チェックアウト時に1度だけ作成される
	PurchasedCourseIDs []string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasPurchased はユーザーが指定講座を購入済みかどうかを返す。
func (u *User) HasPurchased(courseID string) bool {
	return containsID(u.PurchasedCourseIDs, courseID)
}

// CustomerID はキャッシュ済みの顧客IDを返す。未作成の場合は空文字を返す。
func (u *User) CustomerID() string {
	if u.StripeCustomerID == nil {
		return ""
	}
	return *u.StripeCustomerID
}

// containsID はID集合にidが含まれるかを返す。
func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
