package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"rename-fusion/app/config"
	"rename-fusion/app/database"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// WorkflowRequest 网盘模式后台任务的提交请求
type WorkflowRequest struct {
	UserID         uint
	TargetFolderID string
	TargetPath     string
	CloudStorageID *uint
	Algorithm      model.Algorithm
	NamingStandard model.NamingStandard
	Options        PreviewOptions
	AutoExecute    bool
}

// itemSnapshot 任务快照里的单个条目
type itemSnapshot struct {
	Identifier        string           `json:"identifier"`
	OriginalName      string           `json:"original_name"`
	NewName           string           `json:"new_name"`
	Status            model.ItemStatus `json:"status"`
	Confidence        float64          `json:"confidence"`
	NeedsConfirmation bool             `json:"needs_confirmation"`
}

// previewSnapshot 预览阶段快照
type previewSnapshot struct {
	BatchID       string         `json:"batch_id"`
	TotalItems    int            `json:"total_items"`
	MatchedItems  int            `json:"matched_items"`
	NeedConfirm   int            `json:"need_confirm"`
	AvgConfidence float64        `json:"avg_confidence"`
	Items         []itemSnapshot `json:"items"`
}

// executeSnapshot 执行阶段快照
type executeSnapshot struct {
	BatchID string                 `json:"batch_id"`
	Summary model.ExecutionSummary `json:"summary"`
	Items   []itemSnapshot         `json:"items"`
}

// WorkflowService 网盘模式的后台任务控制器
// 每个任务由独立协程独占推进，调用方通过写时复制的快照只读轮询；
// 取消是协作式的，只在条目边界生效，已改名的条目不会被自动回滚
type WorkflowService struct {
	logger   *logger.Logger
	cfg      config.RenameConfig
	db       *gorm.DB
	batchSvc *BatchService
	execSvc  *ExecuteService

	mu        sync.RWMutex
	snapshots map[string]model.WorkflowTask
	cancels   map[string]context.CancelFunc
	wg        sync.WaitGroup
}

// NewWorkflowService 创建后台任务控制器
// 进程重启时把残留的未完成任务标记为失败，任务请求不持久化所以无法续跑
func NewWorkflowService(cfg config.RenameConfig, batchSvc *BatchService, execSvc *ExecuteService, log *logger.Logger) *WorkflowService {
	s := &WorkflowService{
		logger:    log,
		cfg:       cfg,
		db:        database.DB,
		batchSvc:  batchSvc,
		execSvc:   execSvc,
		snapshots: make(map[string]model.WorkflowTask),
		cancels:   make(map[string]context.CancelFunc),
	}

	result := s.db.Model(&model.WorkflowTask{}).
		Where("status IN ?", []model.WorkflowStatus{model.WorkflowStatusPending, model.WorkflowStatusRunning}).
		Updates(map[string]interface{}{
			"status":    model.WorkflowStatusFailed,
			"error_msg": "进程重启，任务中断",
		})
	if result.Error != nil {
		log.Errorf("重置残留任务失败: %v", result.Error)
	} else if result.RowsAffected > 0 {
		log.Infof("已将 %d 个残留任务标记为失败", result.RowsAffected)
	}

	return s
}

// Submit 提交一个后台重命名任务，立即返回任务ID
func (s *WorkflowService) Submit(req *WorkflowRequest) (string, error) {
	if req.CloudStorageID == nil {
		return "", fmt.Errorf("后台任务需要指定网盘存储")
	}
	if strings.TrimSpace(req.TargetFolderID) == "" {
		return "", fmt.Errorf("后台任务需要网盘目录ID")
	}

	task := &model.WorkflowTask{
		TaskID: uuid.NewString(),
		UserID: req.UserID,
		Status: model.WorkflowStatusPending,
		Stage:  model.WorkflowStagePreviewing,
	}
	if err := s.db.Create(task).Error; err != nil {
		return "", fmt.Errorf("创建任务记录失败: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.snapshots[task.TaskID] = *task
	s.cancels[task.TaskID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(ctx, task, req)

	s.logger.Infof("后台任务已提交: TaskID=%s, FolderID=%s, 自动执行=%v",
		task.TaskID, req.TargetFolderID, req.AutoExecute)
	return task.TaskID, nil
}

// GetStatus 查询任务快照，可与运行中的任务并发调用
func (s *WorkflowService) GetStatus(taskID string) (*model.WorkflowTask, error) {
	s.mu.RLock()
	snap, ok := s.snapshots[taskID]
	s.mu.RUnlock()
	if ok {
		return &snap, nil
	}

	// 进程重启后内存快照丢失，回落到数据库
	var task model.WorkflowTask
	if err := s.db.Where("task_id = ?", taskID).First(&task).Error; err != nil {
		return nil, fmt.Errorf("查询任务失败: %w", err)
	}
	return &task, nil
}

// Cancel 请求取消任务
// 设置协作取消标志，运行协程在下一个条目边界收到并转为 cancelled
func (s *WorkflowService) Cancel(taskID string) error {
	task, err := s.GetStatus(taskID)
	if err != nil {
		return err
	}
	if task.IsTerminal() {
		return fmt.Errorf("任务已结束: %s", task.Status)
	}

	s.mu.Lock()
	cancel, ok := s.cancels[taskID]
	s.mu.Unlock()

	if !ok {
		// 没有在跑的协程（重启残留），直接落库
		return s.db.Model(&model.WorkflowTask{}).
			Where("task_id = ?", taskID).
			Update("status", model.WorkflowStatusCancelled).Error
	}

	cancel()
	s.logger.Infof("任务取消已请求: TaskID=%s", taskID)
	return nil
}

// Stop 取消所有在跑的任务并等待协程退出，进程关闭时调用
func (s *WorkflowService) Stop() {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// run 任务执行主体，独占写任务状态
func (s *WorkflowService) run(ctx context.Context, task *model.WorkflowTask, req *WorkflowRequest) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.cancels, task.TaskID)
		s.mu.Unlock()
	}()

	if ctx.Err() != nil {
		s.finish(task, model.WorkflowStatusCancelled, "")
		return
	}

	now := time.Now()
	task.StartedAt = &now
	if err := task.SetStatus(model.WorkflowStatusRunning); err != nil {
		s.finish(task, model.WorkflowStatusFailed, err.Error())
		return
	}
	task.Stage = model.WorkflowStagePreviewing
	task.Message = "正在生成预览"
	s.publish(task)

	previewReq := &PreviewRequest{
		UserID:         req.UserID,
		SourceMode:     model.SourceModeCloud,
		TargetPath:     req.TargetPath,
		TargetFolderID: req.TargetFolderID,
		CloudStorageID: req.CloudStorageID,
		Algorithm:      req.Algorithm,
		NamingStandard: req.NamingStandard,
		Options:        req.Options,
		Progress: func(done, total int) {
			s.setProgress(task, done, total)
		},
	}

	batch, err := s.batchSvc.CreatePreview(ctx, previewReq)
	if batch != nil {
		task.BatchID = batch.BatchID
		task.PreviewSnapshot = marshalSnapshot(buildPreviewSnapshot(batch))
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.finish(task, model.WorkflowStatusCancelled, "")
		} else {
			s.finish(task, model.WorkflowStatusFailed, err.Error())
		}
		return
	}

	task.Progress = 100
	task.Message = fmt.Sprintf("预览完成，共 %d 个条目", batch.TotalItems)
	s.publish(task)

	if !req.AutoExecute {
		s.finish(task, model.WorkflowStatusCompleted, "")
		return
	}

	if ctx.Err() != nil {
		s.finish(task, model.WorkflowStatusCancelled, "")
		return
	}

	// 进入执行阶段，进度在新阶段内重新从0开始单调递增
	task.Stage = model.WorkflowStageExecuting
	task.Progress = 0
	task.Message = "正在执行重命名"
	s.publish(task)

	ops := operationsFromBatch(batch)
	summary, execErr := s.execSvc.Execute(ctx, batch.BatchID, ops, func(done, total int) {
		s.setProgress(task, done, total)
	})

	if summary != nil {
		task.ExecuteSnapshot = marshalSnapshot(s.buildExecuteSnapshot(batch.BatchID, summary))
	}

	switch {
	case execErr != nil && errors.Is(execErr, context.Canceled):
		// 已改名的条目保持现状，取消不做自动回滚
		s.finish(task, model.WorkflowStatusCancelled, "")
	case execErr != nil:
		s.finish(task, model.WorkflowStatusFailed, execErr.Error())
	default:
		task.Message = fmt.Sprintf("执行完成: 成功 %d, 失败 %d, 跳过 %d",
			summary.Success, summary.Failed, summary.Skipped)
		s.finish(task, model.WorkflowStatusCompleted, "")
	}
}

// setProgress 单调更新当前阶段进度
func (s *WorkflowService) setProgress(task *model.WorkflowTask, done, total int) {
	if total <= 0 {
		return
	}
	pct := done * 100 / total
	if pct <= task.Progress {
		return
	}
	task.Progress = pct
	s.publish(task)
}

// finish 收口任务到终态并发布最终快照
func (s *WorkflowService) finish(task *model.WorkflowTask, status model.WorkflowStatus, errMsg string) {
	if err := task.SetStatus(status); err != nil {
		s.logger.Errorf("任务状态迁移失败: TaskID=%s, %v", task.TaskID, err)
	}
	if errMsg != "" {
		task.ErrorMsg = errMsg
	}
	switch status {
	case model.WorkflowStatusCancelled:
		task.Message = "任务已取消"
	case model.WorkflowStatusFailed:
		task.Message = "任务失败"
	}
	s.publish(task)
	s.logger.Infof("后台任务结束: TaskID=%s, 状态=%s", task.TaskID, task.Status)
}

// publish 原子发布任务快照：先落库，再整体替换内存副本
func (s *WorkflowService) publish(task *model.WorkflowTask) {
	if err := s.db.Model(&model.WorkflowTask{}).
		Where("task_id = ?", task.TaskID).
		Updates(map[string]interface{}{
			"batch_id":         task.BatchID,
			"status":           task.Status,
			"stage":            task.Stage,
			"progress":         task.Progress,
			"message":          task.Message,
			"preview_snapshot": task.PreviewSnapshot,
			"execute_snapshot": task.ExecuteSnapshot,
			"error_msg":        task.ErrorMsg,
			"started_at":       task.StartedAt,
			"completed_at":     task.CompletedAt,
		}).Error; err != nil {
		s.logger.Errorf("保存任务状态失败: TaskID=%s, %v", task.TaskID, err)
	}

	s.mu.Lock()
	s.snapshots[task.TaskID] = *task
	s.mu.Unlock()
}

// buildExecuteSnapshot 执行后重新读库，快照反映每个条目的最终状态
func (s *WorkflowService) buildExecuteSnapshot(batchID string, summary *model.ExecutionSummary) executeSnapshot {
	snap := executeSnapshot{BatchID: batchID, Summary: *summary}

	var items []model.RenameItem
	if err := s.db.Where("batch_id = ?", batchID).Order("id ASC").Find(&items).Error; err != nil {
		s.logger.Errorf("读取执行快照条目失败: %v", err)
		return snap
	}
	for i := range items {
		snap.Items = append(snap.Items, toItemSnapshot(&items[i]))
	}
	return snap
}

func buildPreviewSnapshot(batch *model.RenameBatch) previewSnapshot {
	snap := previewSnapshot{
		BatchID:       batch.BatchID,
		TotalItems:    batch.TotalItems,
		MatchedItems:  batch.MatchedItems,
		NeedConfirm:   batch.NeedConfirm,
		AvgConfidence: batch.AvgConfidence,
	}
	for i := range batch.Items {
		snap.Items = append(snap.Items, toItemSnapshot(&batch.Items[i]))
	}
	return snap
}

func toItemSnapshot(item *model.RenameItem) itemSnapshot {
	return itemSnapshot{
		Identifier:        item.OriginalIdentifier,
		OriginalName:      item.OriginalName,
		NewName:           item.NewName,
		Status:            item.Status,
		Confidence:        item.OverallConfidence,
		NeedsConfirmation: item.NeedsConfirmation,
	}
}

// operationsFromBatch 只执行目标名与原名不同的条目
func operationsFromBatch(batch *model.RenameBatch) []Operation {
	ops := make([]Operation, 0, len(batch.Items))
	for i := range batch.Items {
		item := &batch.Items[i]
		newName := strings.TrimSpace(item.NewName)
		if newName == "" || newName == strings.TrimSpace(item.OriginalName) {
			continue
		}
		ops = append(ops, Operation{Identifier: item.OriginalIdentifier, NewName: newName})
	}
	return ops
}

func marshalSnapshot(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
