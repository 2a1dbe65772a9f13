package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"rename-fusion/app/database"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"

	sdk115 "github.com/OpenListTeam/115-sdk-go"
)

const (
	// TokenCheckInterval 令牌检查间隔
	TokenCheckInterval = 5 * time.Minute
	// ErrorRetryDelay 刷新失败后的重试延迟
	ErrorRetryDelay = 30 * time.Minute
)

// TokenRefreshService 115 OpenAPI 令牌自动刷新服务
// 令牌刷新后会使后端工厂里缓存的网盘后端失效，下次执行重建
type TokenRefreshService struct {
	logger   *logger.Logger
	backends *BackendFactory
	stopChan chan struct{}
	wg       sync.WaitGroup
	ticker   *time.Ticker
}

// NewTokenRefreshService 创建令牌刷新服务
func NewTokenRefreshService(backends *BackendFactory, log *logger.Logger) *TokenRefreshService {
	return &TokenRefreshService{
		logger:   log,
		backends: backends,
		stopChan: make(chan struct{}),
	}
}

// Start 启动令牌刷新服务
func (s *TokenRefreshService) Start() {
	s.ticker = time.NewTicker(TokenCheckInterval)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("令牌刷新服务已启动")
}

// Stop 停止令牌刷新服务
func (s *TokenRefreshService) Stop() {
	close(s.stopChan)
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.wg.Wait()
	s.logger.Info("令牌刷新服务已停止")
}

func (s *TokenRefreshService) run() {
	defer s.wg.Done()

	// 启动时立即检查一次
	s.checkAndRefreshTokens()

	for {
		select {
		case <-s.ticker.C:
			s.checkAndRefreshTokens()
		case <-s.stopChan:
			return
		}
	}
}

// checkAndRefreshTokens 检查所有启用自动刷新的存储并按需刷新
func (s *TokenRefreshService) checkAndRefreshTokens() {
	var storages []model.CloudStorage

	err := database.DB.Where("auto_refresh = ? AND status = ?", true, model.StatusActive).
		Find(&storages).Error
	if err != nil {
		s.logger.Errorf("查询存储配置失败: %v", err)
		return
	}

	refreshed := 0
	for i := range storages {
		if storages[i].NeedsRefresh() {
			s.refreshStorageToken(&storages[i])
			refreshed++
		}
	}

	if refreshed > 0 {
		s.logger.Infof("本次检查刷新了 %d 个存储配置", refreshed)
	}
}

// refreshStorageToken 刷新单个存储的令牌
func (s *TokenRefreshService) refreshStorageToken(storage *model.CloudStorage) {
	if storage.IsRefreshTokenExpired() {
		s.logger.Warnf("存储[%s]的刷新令牌已过期，需要重新授权", storage.StorageName)
		storage.Status = model.StatusExpired
		storage.ErrorMessage = "刷新令牌已过期，需要重新授权"
		database.DB.Save(storage)
		return
	}

	// 最近刚失败过的先不重试
	if storage.LastErrorAt != nil && time.Since(*storage.LastErrorAt) < ErrorRetryDelay {
		return
	}

	accessToken, refreshToken, expiresIn, err := s.refresh115Token(storage)
	if err != nil {
		s.logger.Errorf("刷新存储[%s]令牌失败: %v", storage.StorageName, err)
		storage.SetError(err)
	} else {
		s.logger.Infof("成功刷新存储[%s]的令牌", storage.StorageName)
		storage.UpdateTokens(accessToken, refreshToken, expiresIn)
		s.backends.InvalidateRemote(storage.ID)
	}

	if err := database.DB.Save(storage).Error; err != nil {
		s.logger.Errorf("保存存储配置失败: %v", err)
	}
}

// refresh115Token 调用 115 OpenAPI 刷新令牌
func (s *TokenRefreshService) refresh115Token(storage *model.CloudStorage) (string, string, int64, error) {
	if storage.StorageType != model.StorageType115Open {
		return "", "", 0, fmt.Errorf("存储类型 %s 不支持令牌刷新", storage.StorageType)
	}
	if storage.RefreshToken == "" {
		return "", "", 0, fmt.Errorf("刷新令牌为空，无法刷新")
	}

	client := sdk115.New(
		sdk115.WithAccessToken(storage.AccessToken),
		sdk115.WithRefreshToken(storage.RefreshToken),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	tokenResp, err := client.RefreshToken(ctx)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", "", 0, fmt.Errorf("刷新令牌请求超时")
		}
		return "", "", 0, fmt.Errorf("调用115刷新令牌API失败: %w", err)
	}
	if tokenResp == nil || tokenResp.AccessToken == "" {
		return "", "", 0, fmt.Errorf("115返回的访问令牌为空")
	}

	refreshToken := tokenResp.RefreshToken
	if refreshToken == "" {
		refreshToken = storage.RefreshToken
	}
	return tokenResp.AccessToken, refreshToken, tokenResp.ExpiresIn, nil
}

// ManualRefresh 手动刷新指定存储的令牌
func (s *TokenRefreshService) ManualRefresh(storageID uint) error {
	var storage model.CloudStorage
	if err := database.DB.First(&storage, storageID).Error; err != nil {
		return err
	}

	s.refreshStorageToken(&storage)
	if storage.Status != model.StatusActive {
		return fmt.Errorf("刷新未成功: %s", storage.ErrorMessage)
	}
	return nil
}
