package service

import (
	"time"

	"rename-fusion/app/config"
	"rename-fusion/app/database"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// taskRetentionDays 终态后台任务的保留天数
const taskRetentionDays = 7

// CleanupService 历史数据清理服务
// 每天凌晨清理一次：过期的终态后台任务，以及超过保留期的已回滚批次。
// 已完成未回滚的批次不清理，它们还承担着回滚凭证的角色
type CleanupService struct {
	logger *logger.Logger
	cfg    config.RenameConfig
	db     *gorm.DB
	cron   *cron.Cron
}

// NewCleanupService 创建清理服务
func NewCleanupService(cfg config.RenameConfig, log *logger.Logger) *CleanupService {
	return &CleanupService{
		logger: log,
		cfg:    cfg,
		db:     database.DB,
		cron:   cron.New(),
	}
}

// Start 启动定时清理
func (s *CleanupService) Start() error {
	if _, err := s.cron.AddFunc("0 3 * * *", s.cleanup); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("历史数据清理服务已启动")
	return nil
}

// Stop 停止定时清理并等待执行中的任务结束
func (s *CleanupService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("历史数据清理服务已停止")
}

// cleanup 执行一轮清理
func (s *CleanupService) cleanup() {
	s.cleanupTasks()
	s.cleanupBatches()
}

// cleanupTasks 删除超过保留期的终态后台任务
func (s *CleanupService) cleanupTasks() {
	cutoff := time.Now().AddDate(0, 0, -taskRetentionDays)

	result := s.db.Where("status IN ? AND completed_at < ?",
		[]model.WorkflowStatus{model.WorkflowStatusCompleted, model.WorkflowStatusFailed, model.WorkflowStatusCancelled},
		cutoff).Delete(&model.WorkflowTask{})
	if result.Error != nil {
		s.logger.Errorf("清理后台任务失败: %v", result.Error)
		return
	}
	if result.RowsAffected > 0 {
		s.logger.Infof("清理了 %d 个过期后台任务", result.RowsAffected)
	}
}

// cleanupBatches 删除超过保留期的已回滚批次及其条目
func (s *CleanupService) cleanupBatches() {
	retention := s.cfg.BatchRetentionDays
	if retention <= 0 {
		retention = 90
	}
	cutoff := time.Now().AddDate(0, 0, -retention)

	var batchIDs []string
	if err := s.db.Model(&model.RenameBatch{}).
		Where("status = ? AND updated_at < ?", model.BatchStatusRolledBack, cutoff).
		Pluck("batch_id", &batchIDs).Error; err != nil {
		s.logger.Errorf("查询过期批次失败: %v", err)
		return
	}
	if len(batchIDs) == 0 {
		return
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("batch_id IN ?", batchIDs).Delete(&model.RenameItem{}).Error; err != nil {
			return err
		}
		return tx.Where("batch_id IN ?", batchIDs).Delete(&model.RenameBatch{}).Error
	})
	if err != nil {
		s.logger.Errorf("清理过期批次失败: %v", err)
		return
	}
	s.logger.Infof("清理了 %d 个过期批次", len(batchIDs))
}
