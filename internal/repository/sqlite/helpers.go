// 文件路径: internal/repository/sqlite/helpers.go
// 模块说明: 扫描与空值转换的小工具。
package sqlite

import "database/sql"

type rowScanner interface {
	Scan(dest ...any) error
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullableString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullableStringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	value := v.String
	return &value
}
