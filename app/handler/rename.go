package handler

import (
	"net/http"
	"strconv"

	"rename-fusion/app/model"
	"rename-fusion/app/service"

	"github.com/gin-gonic/gin"
)

// RenameHandler 智能重命名接口
type RenameHandler struct {
	batchSvc    *service.BatchService
	execSvc     *service.ExecuteService
	rollbackSvc *service.RollbackService
}

// NewRenameHandler 创建重命名处理器
func NewRenameHandler(batchSvc *service.BatchService, execSvc *service.ExecuteService, rollbackSvc *service.RollbackService) *RenameHandler {
	return &RenameHandler{
		batchSvc:    batchSvc,
		execSvc:     execSvc,
		rollbackSvc: rollbackSvc,
	}
}

// PreviewRequest 创建预览的请求体
type PreviewRequest struct {
	SourceMode     model.SourceMode        `json:"source_mode" binding:"required"`
	TargetPath     string                  `json:"target_path"`
	TargetFolderID string                  `json:"target_folder_id"`
	CloudStorageID *uint                   `json:"cloud_storage_id"`
	Algorithm      model.Algorithm         `json:"algorithm"`
	NamingStandard model.NamingStandard    `json:"naming_standard"`
	Options        *service.PreviewOptions `json:"options"`
}

// CreatePreview 枚举来源目录并生成预览批次
func (h *RenameHandler) CreatePreview(c *gin.Context) {
	var req PreviewRequest
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

	batch, err := h.batchSvc.CreatePreview(c.Request.Context(), &service.PreviewRequest{
		UserID:         userID.(uint),
		SourceMode:     req.SourceMode,
		TargetPath:     req.TargetPath,
		TargetFolderID: req.TargetFolderID,
		CloudStorageID: req.CloudStorageID,
		Algorithm:      req.Algorithm,
		NamingStandard: req.NamingStandard,
		Options:        options,
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, 500, "生成预览失败: "+err.Error())
		return
	}

	success(c, batch, "预览批次已生成")
}

// ListBatches 分页列出历史批次
func (h *RenameHandler) ListBatches(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		fail(c, http.StatusUnauthorized, 401, "用户未认证")
		return
	}

	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	batches, total, err := h.batchSvc.ListBatches(userID.(uint), offset, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, 500, "查询批次失败: "+err.Error())
		return
	}

	success(c, gin.H{
		"list":  batches,
		"total": total,
	}, "success")
}

// GetBatch 查询单个批次
func (h *RenameHandler) GetBatch(c *gin.Context) {
	batch, err := h.batchSvc.GetBatch(c.Param("batchId"))
	if err != nil {
		fail(c, http.StatusNotFound, 404, "批次不存在")
		return
	}
	success(c, batch, "success")
}

// ListBatchItems 分页列出批次条目，支持状态与待确认筛选
func (h *RenameHandler) ListBatchItems(c *gin.Context) {
	filter := &service.ItemFilter{
		Status:    model.ItemStatus(c.Query("status")),
		MediaType: model.MediaType(c.Query("media_type")),
	}
	filter.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	filter.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))

	if v := c.Query("needs_confirmation"); v != "" {
		needs := v == "true" || v == "1"
		filter.NeedsConfirmation = &needs
	}

	items, total, err := h.batchSvc.ListBatchItems(c.Param("batchId"), filter)
	if err != nil {
		fail(c, http.StatusNotFound, 404, "查询条目失败: "+err.Error())
		return
	}

	success(c, gin.H{
		"list":  items,
		"total": total,
	}, "success")
}

// ConfirmRequest 批量确认请求
type ConfirmRequest struct {
	ItemIDs []uint `json:"item_ids" binding:"required"`
}

// ConfirmItems 确认批次条目
func (h *RenameHandler) ConfirmItems(c *gin.Context) {
	var req ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	if err := h.batchSvc.ConfirmItems(c.Param("batchId"), req.ItemIDs); err != nil {
		fail(c, http.StatusBadRequest, 400, "确认条目失败: "+err.Error())
		return
	}
	success(c, nil, "条目已确认")
}

// EditItem 编辑批次条目
func (h *RenameHandler) EditItem(c *gin.Context) {
	itemID, err := strconv.ParseUint(c.Param("itemId"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "无效的条目ID")
		return
	}

	var patch service.ItemPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	item, err := h.batchSvc.EditItem(c.Param("batchId"), uint(itemID), &patch)
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "编辑条目失败: "+err.Error())
		return
	}
	success(c, item, "条目已更新")
}

// ValidateNameRequest 文件名校验请求
type ValidateNameRequest struct {
	Name string `json:"name" binding:"required"`
}

// ValidateName 校验候选文件名
func (h *RenameHandler) ValidateName(c *gin.Context) {
	var req ValidateNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}
	success(c, h.batchSvc.ValidateName(req.Name), "success")
}

// ExecuteRequest 执行请求；operations 为空时执行全部未成功条目
type ExecuteRequest struct {
	Operations []service.Operation `json:"operations"`
}

// Execute 执行批次重命名
func (h *RenameHandler) Execute(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	summary, err := h.execSvc.Execute(c.Request.Context(), c.Param("batchId"), req.Operations, nil)
	if err != nil {
		fail(c, http.StatusInternalServerError, 500, "执行失败: "+err.Error())
		return
	}
	success(c, summary, "执行完成")
}

// Rollback 回滚批次
func (h *RenameHandler) Rollback(c *gin.Context) {
	summary, err := h.rollbackSvc.Rollback(c.Request.Context(), c.Param("batchId"))
	if err != nil {
		fail(c, http.StatusInternalServerError, 500, "回滚失败: "+err.Error())
		return
	}
	success(c, summary, "回滚完成")
}
