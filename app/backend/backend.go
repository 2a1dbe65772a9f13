// Package backend 抽象重命名操作的执行后端
// 执行引擎和回滚引擎只依赖这里的接口，不关心本地文件系统与 115 网盘的差异
package backend

import (
	"context"
	"errors"
)

// 错误分类，执行引擎按 errors.Is 判定失败原因
var (
	// ErrInvalidName 目标名未通过清洗校验
	ErrInvalidName = errors.New("目标文件名非法")
	// ErrNameCollision 目标名已被占用
	ErrNameCollision = errors.New("目标文件名已存在")
	// ErrSourceNotFound 源文件在执行前已消失
	ErrSourceNotFound = errors.New("源文件不存在")
	// ErrPermission 无权限操作
	ErrPermission = errors.New("没有操作权限")
	// ErrRemoteUnauthorized 网盘凭证失效
	ErrRemoteUnauthorized = errors.New("网盘凭证无效或已过期")
	// ErrRemoteRateLimited 网盘接口限流，重试耗尽
	ErrRemoteRateLimited = errors.New("网盘接口限流")
	// ErrRemoteNotFound 网盘文件不存在
	ErrRemoteNotFound = errors.New("网盘文件不存在")
	// ErrRollbackConflict 回滚时原名已被其它文件占用
	ErrRollbackConflict = errors.New("回滚目标名已被占用")
)

// SourceFile 待重命名的源文件描述
type SourceFile struct {
	Identifier string `json:"identifier"` // 本地绝对路径或网盘文件ID
	Name       string `json:"name"`
	IsDir      bool   `json:"is_dir"`
	Size       int64  `json:"size"`
}

// Renamer 重命名原语
type Renamer interface {
	// Rename 将 identifier 指向的文件重命名为 newName（不含路径）
	Rename(ctx context.Context, identifier, newName string) error
}

// Lister 源文件枚举
type Lister interface {
	// List 列出目标目录下的文件；target 是本地目录路径或网盘目录ID
	List(ctx context.Context, target string) ([]SourceFile, error)
}

// Backend 同时支持枚举与重命名的完整后端
type Backend interface {
	Renamer
	Lister
}
