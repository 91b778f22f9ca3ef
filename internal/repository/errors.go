package repository

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATEコード
const (
	pqCodeInvalidTextRepresentation = "22P02"
	pqCodeForeignKeyViolation       = "23503"
)

// isInvalidID はUUID形式でないIDがクエリに渡されたことによるエラーかを判定する。
// 外部から渡されたIDは存在しないIDとして扱う。
func isInvalidID(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqCodeInvalidTextRepresentation
	}
	return false
}

// isForeignKeyViolation は参照先の行が存在しないことによるエラーかを判定する。
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqCodeForeignKeyViolation
	}
	return false
}
