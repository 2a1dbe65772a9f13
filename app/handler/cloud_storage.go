package handler

import (
	"net/http"
	"strconv"

	"rename-fusion/app/database"
	"rename-fusion/app/model"
	"rename-fusion/app/service"

	"github.com/gin-gonic/gin"
)

// CloudStorageHandler 网盘存储处理器
type CloudStorageHandler struct {
	tokenRefresh *service.TokenRefreshService
}

// NewCloudStorageHandler 创建网盘存储处理器
func NewCloudStorageHandler(tokenRefresh *service.TokenRefreshService) *CloudStorageHandler {
	return &CloudStorageHandler{tokenRefresh: tokenRefresh}
}

// CloudStorageRequest 创建/更新存储配置的请求
type CloudStorageRequest struct {
	StorageType      string `json:"storage_type" binding:"required"`
	StorageName      string `json:"storage_name" binding:"required"`
	AppID            string `json:"app_id"`
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	Cookie           string `json:"cookie"`
	AutoRefresh      *bool  `json:"auto_refresh"`
	RefreshBeforeMin int    `json:"refresh_before_min"`
}

// CreateCloudStorage 创建网盘存储配置
func (h *CloudStorageHandler) CreateCloudStorage(c *gin.Context) {
	var req CloudStorageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	if req.StorageType != model.StorageType115Open && req.StorageType != model.StorageType115Web {
		fail(c, http.StatusBadRequest, 400, "不支持的存储类型: "+req.StorageType)
		return
	}

	userID, exists := c.Get("user_id")
	if !exists {
		fail(c, http.StatusUnauthorized, 401, "用户未认证")
		return
	}

	storage := model.CloudStorage{
		UserID:       userID.(uint),
		StorageType:  req.StorageType,
		StorageName:  req.StorageName,
		AppID:        req.AppID,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		Cookie:       req.Cookie,
		Status:       model.StatusActive,
	}
	if req.AutoRefresh != nil {
		storage.AutoRefresh = *req.AutoRefresh
	} else {
		storage.AutoRefresh = true
	}
	if req.RefreshBeforeMin > 0 {
		storage.RefreshBeforeMin = req.RefreshBeforeMin
	}

	if err := database.DB.Create(&storage).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "创建存储配置失败")
		return
	}

	success(c, storage, "创建存储配置成功")
}

// GetCloudStorages 获取网盘存储列表
func (h *CloudStorageHandler) GetCloudStorages(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		fail(c, http.StatusUnauthorized, 401, "用户未认证")
		return
	}

	query := database.DB.Where("user_id = ?", userID.(uint))

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 10
	}
	offset := (page - 1) * pageSize

	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if storageType := c.Query("storage_type"); storageType != "" {
		query = query.Where("storage_type = ?", storageType)
	}

	var total int64
	query.Model(&model.CloudStorage{}).Count(&total)

	var storages []model.CloudStorage
	if err := query.Order("created_at DESC").
		Offset(offset).
		Limit(pageSize).
		Find(&storages).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "获取存储列表失败")
		return
	}

	success(c, gin.H{
		"list":     storages,
		"total":    total,
		"current":  page,
		"pageSize": pageSize,
	}, "获取存储列表成功")
}

// GetCloudStorage 获取单个网盘存储配置
func (h *CloudStorageHandler) GetCloudStorage(c *gin.Context) {
	storage, ok := h.loadOwned(c)
	if !ok {
		return
	}
	success(c, storage, "success")
}

// UpdateCloudStorage 更新网盘存储配置
func (h *CloudStorageHandler) UpdateCloudStorage(c *gin.Context) {
	storage, ok := h.loadOwned(c)
	if !ok {
		return
	}

	var req CloudStorageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, 400, "请求参数错误: "+err.Error())
		return
	}

	storage.StorageName = req.StorageName
	storage.AppID = req.AppID
	if req.AccessToken != "" {
		storage.AccessToken = req.AccessToken
	}
	if req.RefreshToken != "" {
		storage.RefreshToken = req.RefreshToken
	}
	if req.Cookie != "" {
		storage.Cookie = req.Cookie
	}
	if req.AutoRefresh != nil {
		storage.AutoRefresh = *req.AutoRefresh
	}
	if req.RefreshBeforeMin > 0 {
		storage.RefreshBeforeMin = req.RefreshBeforeMin
	}
	storage.ClearError()

	if err := database.DB.Save(storage).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "更新存储配置失败")
		return
	}

	success(c, storage, "更新存储配置成功")
}

// DeleteCloudStorage 删除网盘存储配置
func (h *CloudStorageHandler) DeleteCloudStorage(c *gin.Context) {
	storage, ok := h.loadOwned(c)
	if !ok {
		return
	}

	if err := database.DB.Delete(storage).Error; err != nil {
		fail(c, http.StatusInternalServerError, 500, "删除存储配置失败")
		return
	}

	success(c, nil, "删除存储配置成功")
}

// RefreshStorageToken 手动刷新存储令牌
func (h *CloudStorageHandler) RefreshStorageToken(c *gin.Context) {
	storage, ok := h.loadOwned(c)
	if !ok {
		return
	}

	if err := h.tokenRefresh.ManualRefresh(storage.ID); err != nil {
		fail(c, http.StatusInternalServerError, 500, "刷新令牌失败: "+err.Error())
		return
	}

	success(c, nil, "刷新令牌成功")
}

// loadOwned 加载当前用户的存储配置
func (h *CloudStorageHandler) loadOwned(c *gin.Context) (*model.CloudStorage, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		fail(c, http.StatusBadRequest, 400, "无效的ID")
		return nil, false
	}

	userID, exists := c.Get("user_id")
	if !exists {
		fail(c, http.StatusUnauthorized, 401, "用户未认证")
		return nil, false
	}

	var storage model.CloudStorage
	if err := database.DB.Where("id = ? AND user_id = ?", id, userID.(uint)).
		First(&storage).Error; err != nil {
		fail(c, http.StatusNotFound, 404, "存储配置不存在")
		return nil, false
	}
	return &storage, true
}
