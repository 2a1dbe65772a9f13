package model

import (
	"fmt"
	"time"
)

// WorkflowStatus 后台任务状态
type WorkflowStatus string

const (
	WorkflowStatusPending   WorkflowStatus = "pending"
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusCompleted WorkflowStatus = "completed"
	WorkflowStatusFailed    WorkflowStatus = "failed"
	WorkflowStatusCancelled WorkflowStatus = "cancelled"
)

// WorkflowStage 后台任务阶段
type WorkflowStage string

const (
	WorkflowStagePreviewing WorkflowStage = "previewing"
	WorkflowStageExecuting  WorkflowStage = "executing"
)

// workflowTransitions 任务状态机
var workflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusPending: {WorkflowStatusRunning, WorkflowStatusCancelled},
	WorkflowStatusRunning: {WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled},
}

// WorkflowTask 网盘模式后台重命名任务
// 由任务执行协程独占写入，调用方只读快照轮询；进入终态后不再变化
type WorkflowTask struct {
	ID              uint           `gorm:"primarykey" json:"id"`
	TaskID          string         `gorm:"size:36;uniqueIndex;not null;comment:任务标识" json:"task_id"`
	UserID          uint           `gorm:"not null;index;comment:所属用户ID" json:"user_id"`
	BatchID         string         `gorm:"size:36;index;comment:关联批次" json:"batch_id,omitempty"`
	Status          WorkflowStatus `gorm:"size:20;default:pending;index;comment:任务状态" json:"status"`
	Stage           WorkflowStage  `gorm:"size:20;comment:当前阶段" json:"stage"`
	Progress        int            `gorm:"default:0;comment:当前阶段进度0-100" json:"progress"`
	Message         string         `gorm:"size:500;comment:进度说明" json:"message"`
	PreviewSnapshot string         `gorm:"type:text;comment:最新预览快照(JSON)" json:"-"`
	ExecuteSnapshot string         `gorm:"type:text;comment:最新执行快照(JSON)" json:"-"`
	ErrorMsg        string         `gorm:"type:text;comment:失败原因" json:"error,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	StartedAt       *time.Time     `json:"started_at,omitempty"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
}

// TableName 指定表名
func (WorkflowTask) TableName() string {
	return "workflow_tasks"
}

// IsTerminal 任务是否已进入终态
func (t *WorkflowTask) IsTerminal() bool {
	switch t.Status {
	case WorkflowStatusCompleted, WorkflowStatusFailed, WorkflowStatusCancelled:
		return true
	}
	return false
}

// SetStatus 校验并迁移任务状态
func (t *WorkflowTask) SetStatus(to WorkflowStatus) error {
	if t.Status == to {
		return nil
	}
	for _, next := range workflowTransitions[t.Status] {
		if next == to {
			t.Status = to
			if t.IsTerminal() {
				now := time.Now()
				t.CompletedAt = &now
			}
			return nil
		}
	}
	return fmt.Errorf("任务状态不允许从 %s 迁移到 %s", t.Status, to)
}
