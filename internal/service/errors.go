// 文件路径: internal/service/errors.go
// 模块说明: 服务层错误分类；面板相关错误直接透传 panel 包的哨兵错误。
package service

import "errors"

var (
	// ErrValidation indicates a request that violates a precondition.
	ErrValidation = errors.New("service: validation failed / 校验失败")
	// ErrPersistence indicates the ledger could not be written.
	ErrPersistence = errors.New("service: persistence failed / 持久化失败")
	// ErrNotFound indicates requested resource does not exist.
	ErrNotFound = errors.New("service: not found / 未找到资源")
)
