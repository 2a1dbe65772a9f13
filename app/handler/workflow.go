package handler

import (
	"net/http"

	"rename-fusion/app/model"
	"rename-fusion/app/service"

	"github.com/gin-gonic/gin"
)

// WorkflowHandler 网盘模式后台任务接口
type WorkflowHandler struct {
	workflowSvc *service.WorkflowService
}

// NewWorkflowHandler 创建后台任务处理器
func NewWorkflowHandler(workflowSvc *service.WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{workflowSvc: workflowSvc}
}

// SubmitTaskRequest 后台任务提交请求
type SubmitTaskRequest struct {
	TargetFolderID string                  `json:"target_folder_id" binding:"required"`
	TargetPath     string                  `json:"target_path"`
	CloudStorageID *uint                   `json:"cloud_storage_id" binding:"required"`
	Algorithm      model.Algorithm         `json:"algorithm"`
	NamingStandard model.NamingStandard    `json:"naming_standard"`
	Options        *service.PreviewOptions `json:"options"`
	AutoExecute    bool                    `json:"auto_execute"`
}

// SubmitTask 提交后台重命名任务
func (h *WorkflowHandler) SubmitTask(c *gin.Context) {
	var req SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		fail(c, http.StatusUnauthorized, 401, "用户未认证")
		return
	}

	if req.Algorithm == "" {
		req.Algorithm = model.AlgorithmStandard
	}
	if req.NamingStandard == "" {
		req.NamingStandard = model.NamingEmby
	}
	options := service.DefaultPreviewOptions()
	if req.Options != nil {
		options = *req.Options
	}

	taskID, err := h.workflowSvc.Submit(&service.WorkflowRequest{
		UserID:         userID.(uint),
		TargetFolderID: req.TargetFolderID,
		TargetPath:     req.TargetPath,
		CloudStorageID: req.CloudStorageID,
		Algorithm:      req.Algorithm,
		NamingStandard: req.NamingStandard,
		Options:        options,
		AutoExecute:    req.AutoExecute,
	})
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "提交任务失败: "+err.Error())
		return
	}

	success(c, gin.H{"task_id": taskID}, "任务已提交")
}

// GetTask 查询任务状态快照
func (h *WorkflowHandler) GetTask(c *gin.Context) {
	task, err := h.workflowSvc.GetStatus(c.Param("taskId"))
	if err != nil {
		fail(c, http.StatusNotFound, 404, "任务不存在")
		return
	}

	success(c, gin.H{
		"task_id":          task.TaskID,
		"batch_id":         task.BatchID,
		"status":           task.Status,
		"stage":            task.Stage,
		"progress":         task.Progress,
		"message":          task.Message,
		"preview_snapshot": task.PreviewSnapshot,
		"execute_snapshot": task.ExecuteSnapshot,
		"error":            task.ErrorMsg,
		"started_at":       task.StartedAt,
		"completed_at":     task.CompletedAt,
	}, "success")
}

// CancelTask 请求取消任务
func (h *WorkflowHandler) CancelTask(c *gin.Context) {
	if err := h.workflowSvc.Cancel(c.Param("taskId")); err != nil {
		fail(c, http.StatusBadRequest, 400, "取消任务失败: "+err.Error())
		return
	}
	success(c, nil, "取消请求已发出")
}
