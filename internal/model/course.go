package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Course は講師が販売する講座を表す。
// StudentIDsはUser.PurchasedCourseIDsの非正規化ミラー。
type Course struct {
	ID           string
	Title        string
	Description  string
	Price        decimal.Decimal // 基準通貨建ての価格（主単位）
	Currency     string          // 価格の通貨コード（小文字ISO 4217）
	InstructorID string
	StudentIDs   []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasStudent は指定ユーザーが受講者集合に含まれるかを返す。
func (c *Course) HasStudent(userID string) bool {
	return containsID(c.StudentIDs, userID)
}
