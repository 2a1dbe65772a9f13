package service

import (
	"fmt"
	"sync"

	"rename-fusion/app/backend"
	"rename-fusion/app/config"
	"rename-fusion/app/database"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"
)

// BackendProvider 按批次解析出承载它的重命名后端
type BackendProvider interface {
	ForBatch(batch *model.RenameBatch) (backend.Backend, error)
}

// BackendFactory 按批次来源创建重命名后端
// 同一个网盘存储的后端实例会被复用，保证跨批次共享同一个限速器
type BackendFactory struct {
	logger *logger.Logger
	cfg    config.RenameConfig

	local *backend.LocalBackend

	mu      sync.Mutex
	remotes map[uint]*backend.Remote115Backend
}

// NewBackendFactory 创建后端工厂
func NewBackendFactory(cfg config.RenameConfig, log *logger.Logger) *BackendFactory {
	return &BackendFactory{
		logger:  log,
		cfg:     cfg,
		local:   backend.NewLocalBackend(log),
		remotes: make(map[uint]*backend.Remote115Backend),
	}
}

// ForBatch 返回批次对应的后端实现
func (f *BackendFactory) ForBatch(batch *model.RenameBatch) (backend.Backend, error) {
	switch batch.SourceMode {
	case model.SourceModeLocal:
		return f.local, nil
	case model.SourceModeCloud:
		if batch.CloudStorageID == nil {
			return nil, fmt.Errorf("云端批次缺少网盘存储ID")
		}
		return f.remote(*batch.CloudStorageID)
	default:
		return nil, fmt.Errorf("未知的来源模式: %s", batch.SourceMode)
	}
}

// remote 获取或创建网盘后端，按存储ID缓存
func (f *BackendFactory) remote(storageID uint) (*backend.Remote115Backend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.remotes[storageID]; ok {
		return b, nil
	}

	var storage model.CloudStorage
	if err := database.DB.First(&storage, storageID).Error; err != nil {
		return nil, fmt.Errorf("查询网盘存储失败: %w", err)
	}

	b, err := backend.NewRemote115Backend(&storage, f.cfg, f.logger)
	if err != nil {
		return nil, err
	}
	f.remotes[storageID] = b
	return b, nil
}

// InvalidateRemote 令指定存储的缓存后端失效，凭证更新后调用
func (f *BackendFactory) InvalidateRemote(storageID uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.remotes, storageID)
}
