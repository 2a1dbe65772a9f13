package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"rename-fusion/app/backend"
	"rename-fusion/app/config"
	"rename-fusion/app/database"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"

	"gorm.io/gorm"
)

// Operation 一次重命名操作，由调用方挑选，不必覆盖批次的全部条目
type Operation struct {
	Identifier string `json:"identifier" binding:"required"`
	NewName    string `json:"new_name"`
}

// ProgressFunc 进度回调
type ProgressFunc func(done, total int)

// ExecuteService 执行引擎
// 只依赖后端接口，不感知具体后端类型。本地后端按配置并发执行，
// 网盘后端串行执行（限速由后端自身保证）
type ExecuteService struct {
	logger   *logger.Logger
	cfg      config.RenameConfig
	db       *gorm.DB
	backends BackendProvider
}

// NewExecuteService 创建执行引擎
func NewExecuteService(cfg config.RenameConfig, backends BackendProvider, log *logger.Logger) *ExecuteService {
	return &ExecuteService{
		logger:   log,
		cfg:      cfg,
		db:       database.DB,
		backends: backends,
	}
}

// Execute 执行批次中被选中的操作，返回汇总结果
// 语义要点：
//   - 目标名去空白后与原名相同的条目记 skipped，不调用后端
//   - 已经 success 的条目重复执行记 skipped，不会二次改名
//   - 单条失败只影响该条目，其余操作照常执行
//   - ops 为空时默认执行批次内全部未成功条目
//   - ctx 取消只在条目边界生效，已完成的条目保持不变
func (s *ExecuteService) Execute(ctx context.Context, batchID string, ops []Operation, progress ProgressFunc) (*model.ExecutionSummary, error) {
	batch, err := s.loadBatch(batchID)
	if err != nil {
		return nil, err
	}

	if err := batch.SetStatus(model.BatchStatusExecuting); err != nil {
		return nil, err
	}
	if err := s.db.Model(batch).Update("status", batch.Status).Error; err != nil {
		return nil, fmt.Errorf("更新批次状态失败: %w", err)
	}

	items, err := s.loadItems(batchID)
	if err != nil {
		return nil, err
	}

	if len(ops) == 0 {
		ops = defaultOperations(items)
	}

	summary := &model.ExecutionSummary{Total: len(ops)}

	var execErr error
	if len(ops) > 0 {
		be, berr := s.backends.ForBatch(batch)
		if berr != nil {
			return nil, berr
		}

		if batch.SourceMode == model.SourceModeLocal {
			execErr = s.runPooled(ctx, be, items, ops, summary, progress)
		} else {
			execErr = s.runSerial(ctx, be, items, ops, summary, progress)
		}
	}

	// 取消也收口到 completed，部分执行的批次仍可回滚或续跑
	if err := batch.SetStatus(model.BatchStatusCompleted); err != nil {
		return summary, err
	}
	if err := s.db.Model(batch).Update("status", batch.Status).Error; err != nil {
		return summary, fmt.Errorf("更新批次状态失败: %w", err)
	}

	s.logger.Infof("批次执行结束: BatchID=%s, 总数=%d, 成功=%d, 失败=%d, 跳过=%d",
		batchID, summary.Total, summary.Success, summary.Failed, summary.Skipped)
	return summary, execErr
}

// runSerial 串行执行，网盘模式使用
func (s *ExecuteService) runSerial(ctx context.Context, be backend.Backend, items map[string]*model.RenameItem, ops []Operation, summary *model.ExecutionSummary, progress ProgressFunc) error {
	done := 0
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.applyOutcome(summary, s.executeOne(ctx, be, items[op.Identifier], op))
		done++
		if progress != nil {
			progress(done, len(ops))
		}
	}
	return nil
}

// runPooled 有界并发执行，本地模式使用；同目录操作由后端自身串行化
func (s *ExecuteService) runPooled(ctx context.Context, be backend.Backend, items map[string]*model.RenameItem, ops []Operation, summary *model.ExecutionSummary, progress ProgressFunc) error {
	concurrency := s.cfg.LocalConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	jobs := make(chan Operation)
	var (
		mu   sync.Mutex
		done int
		wg   sync.WaitGroup
	)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for op := range jobs {
				outcome := s.executeOne(ctx, be, items[op.Identifier], op)
				mu.Lock()
				s.applyOutcome(summary, outcome)
				done++
				if progress != nil {
					progress(done, len(ops))
				}
				mu.Unlock()
			}
		}()
	}

	var execErr error
feed:
	for _, op := range ops {
		select {
		case <-ctx.Done():
			execErr = ctx.Err()
			break feed
		case jobs <- op:
		}
	}
	close(jobs)
	wg.Wait()
	return execErr
}

type itemOutcome int

const (
	outcomeSuccess itemOutcome = iota
	outcomeFailed
	outcomeSkipped
)

func (s *ExecuteService) applyOutcome(summary *model.ExecutionSummary, outcome itemOutcome) {
	switch outcome {
	case outcomeSuccess:
		summary.Success++
	case outcomeFailed:
		summary.Failed++
	case outcomeSkipped:
		summary.Skipped++
	}
}

// executeOne 执行单个操作并落库条目状态
func (s *ExecuteService) executeOne(ctx context.Context, be backend.Backend, item *model.RenameItem, op Operation) itemOutcome {
	if item == nil {
		s.logger.Warnf("执行时未找到条目: %s", op.Identifier)
		return outcomeSkipped
	}

	// 已成功的条目不再触碰，执行可以安全重入
	if item.Status == model.ItemStatusSuccess {
		return outcomeSkipped
	}

	newName := strings.TrimSpace(op.NewName)
	if newName == "" {
		newName = strings.TrimSpace(item.NewName)
	}

	// 空目标或与原名相同都视为无操作
	if newName == "" || newName == strings.TrimSpace(item.OriginalName) {
		if err := s.flipStatus(item, model.ItemStatusSkipped, ""); err != nil {
			s.logger.Errorf("标记条目跳过失败: %s, %v", item.OriginalIdentifier, err)
		}
		return outcomeSkipped
	}

	if err := be.Rename(ctx, item.OriginalIdentifier, newName); err != nil {
		s.logger.Warnf("条目重命名失败: %s -> %s, 错误: %v", item.OriginalName, newName, err)
		if ferr := s.flipStatus(item, model.ItemStatusFailed, err.Error()); ferr != nil {
			s.logger.Errorf("标记条目失败状态出错: %s, %v", item.OriginalIdentifier, ferr)
		}
		return outcomeFailed
	}

	// 先落库实际执行的目标名和时间，回滚依赖这份记录
	now := time.Now()
	item.NewName = newName
	item.RenamedAt = &now
	if err := s.flipStatus(item, model.ItemStatusSuccess, ""); err != nil {
		s.logger.Errorf("标记条目成功状态出错: %s, %v", item.OriginalIdentifier, err)
		return outcomeFailed
	}
	return outcomeSuccess
}

// flipStatus 校验状态机并持久化条目
func (s *ExecuteService) flipStatus(item *model.RenameItem, to model.ItemStatus, errMsg string) error {
	if item.Status != to {
		if err := item.SetStatus(to, errMsg); err != nil {
			return err
		}
	}
	return s.db.Model(item).Updates(map[string]interface{}{
		"status":        item.Status,
		"error_message": item.ErrorMessage,
		"new_name":      item.NewName,
		"renamed_at":    item.RenamedAt,
	}).Error
}

// defaultOperations 未显式选择时，执行所有尚未成功的条目，按条目创建顺序
func defaultOperations(items map[string]*model.RenameItem) []Operation {
	picked := make([]*model.RenameItem, 0, len(items))
	for _, item := range items {
		switch item.Status {
		case model.ItemStatusParsed, model.ItemStatusConfirmed, model.ItemStatusFailed:
			picked = append(picked, item)
		}
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].ID < picked[j].ID })

	ops := make([]Operation, 0, len(picked))
	for _, item := range picked {
		ops = append(ops, Operation{Identifier: item.OriginalIdentifier, NewName: item.NewName})
	}
	return ops
}

func (s *ExecuteService) loadBatch(batchID string) (*model.RenameBatch, error) {
	var batch model.RenameBatch
	if err := s.db.Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
		return nil, fmt.Errorf("查询批次失败: %w", err)
	}
	return &batch, nil
}

func (s *ExecuteService) loadItems(batchID string) (map[string]*model.RenameItem, error) {
	var list []model.RenameItem
	if err := s.db.Where("batch_id = ?", batchID).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("查询批次条目失败: %w", err)
	}
	items := make(map[string]*model.RenameItem, len(list))
	for i := range list {
		items[list[i].OriginalIdentifier] = &list[i]
	}
	return items, nil
}
