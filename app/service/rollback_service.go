package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"rename-fusion/app/backend"
	"rename-fusion/app/config"
	"rename-fusion/app/database"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"

	"gorm.io/gorm"
)

// RollbackService 回滚引擎
// 依据条目记录的原始名把已成功的重命名改回去，网盘模式复用同一套限速
type RollbackService struct {
	logger   *logger.Logger
	cfg      config.RenameConfig
	db       *gorm.DB
	backends BackendProvider
}

// NewRollbackService 创建回滚引擎
func NewRollbackService(cfg config.RenameConfig, backends BackendProvider, log *logger.Logger) *RollbackService {
	return &RollbackService{
		logger:   log,
		cfg:      cfg,
		db:       database.DB,
		backends: backends,
	}
}

// Rollback 回滚批次中所有执行成功的条目
// 只有 success 条目会被触碰；已回滚的条目再次回滚时跳过；原始名被占用时
// 该条目记失败（回滚冲突），绝不覆盖现有文件；单条冲突不中断其余回滚
func (s *RollbackService) Rollback(ctx context.Context, batchID string) (*model.ExecutionSummary, error) {
	batch, err := s.loadBatch(batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != model.BatchStatusCompleted && batch.Status != model.BatchStatusRolledBack {
		return nil, fmt.Errorf("批次状态为 %s，不允许回滚", batch.Status)
	}

	var items []model.RenameItem
	if err := s.db.Where("batch_id = ?", batchID).Order("id ASC").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("查询批次条目失败: %w", err)
	}

	be, err := s.backends.ForBatch(batch)
	if err != nil {
		return nil, err
	}

	summary := &model.ExecutionSummary{Total: len(items)}

	for i := range items {
		item := &items[i]

		if err := ctx.Err(); err != nil {
			return summary, err
		}

		switch item.Status {
		case model.ItemStatusSuccess:
		case model.ItemStatusRolledBack:
			summary.Skipped++
			continue
		default:
			// 未执行或失败的条目不属于回滚范围，保持原状
			summary.Skipped++
			continue
		}

		if err := s.rollbackOne(ctx, be, batch, item); err != nil {
			summary.Failed++
			s.logger.Warnf("条目回滚失败: %s, 错误: %v", item.OriginalIdentifier, err)
			if ferr := item.SetStatus(model.ItemStatusFailed, err.Error()); ferr == nil {
				s.db.Model(item).Updates(map[string]interface{}{
					"status":        item.Status,
					"error_message": item.ErrorMessage,
				})
			}
			continue
		}

		if err := item.SetStatus(model.ItemStatusRolledBack, ""); err != nil {
			summary.Failed++
			continue
		}
		if err := s.db.Model(item).Updates(map[string]interface{}{
			"status":        item.Status,
			"error_message": "",
		}).Error; err != nil {
			return summary, fmt.Errorf("更新条目状态失败: %w", err)
		}
		summary.Success++
	}

	if batch.Status != model.BatchStatusRolledBack {
		if err := batch.SetStatus(model.BatchStatusRolledBack); err != nil {
			return summary, err
		}
		if err := s.db.Model(batch).Update("status", batch.Status).Error; err != nil {
			return summary, fmt.Errorf("更新批次状态失败: %w", err)
		}
	}

	s.logger.Infof("批次回滚结束: BatchID=%s, 恢复=%d, 失败=%d, 跳过=%d",
		batchID, summary.Success, summary.Failed, summary.Skipped)
	return summary, nil
}

// rollbackOne 把单个条目改回原始名
// 本地模式下文件当前位于原目录下的新名字，网盘模式下文件ID不变
func (s *RollbackService) rollbackOne(ctx context.Context, be backend.Backend, batch *model.RenameBatch, item *model.RenameItem) error {
	var identifier string
	if batch.SourceMode == model.SourceModeLocal {
		identifier = filepath.Join(filepath.Dir(item.OriginalIdentifier), item.NewName)
	} else {
		identifier = item.OriginalIdentifier
	}

	err := be.Rename(ctx, identifier, item.OriginalName)
	if err == nil {
		return nil
	}
	// 原始名已被别的文件占用，报冲突而不是覆盖
	if errors.Is(err, backend.ErrNameCollision) {
		return fmt.Errorf("%w: %s", backend.ErrRollbackConflict, item.OriginalName)
	}
	return err
}

func (s *RollbackService) loadBatch(batchID string) (*model.RenameBatch, error) {
	var batch model.RenameBatch
	if err := s.db.Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
		return nil, fmt.Errorf("查询批次失败: %w", err)
	}
	return &batch, nil
}
