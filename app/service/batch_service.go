package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"rename-fusion/app/backend"
	"rename-fusion/app/config"
	"rename-fusion/app/database"
	"rename-fusion/app/logger"
	"rename-fusion/app/matcher"
	"rename-fusion/app/model"
	"rename-fusion/app/parser"
	"rename-fusion/app/utils/namegen"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PreviewOptions 预览生成选项
type PreviewOptions struct {
	IncludeResolution         bool   `json:"include_resolution"`
	IncludeSource             bool   `json:"include_source"`
	IncludeCodec              bool   `json:"include_codec"`
	IncludeCatalogID          bool   `json:"include_catalog_id"`
	AutoConfirmHighConfidence bool   `json:"auto_confirm_high_confidence"`
	ForceAssist               bool   `json:"force_assist"`
	VideoOnly                 bool   `json:"video_only"`
	MovieTemplate             string `json:"movie_template"`
	EpisodeTemplate           string `json:"episode_template"`
}

// DefaultPreviewOptions 默认预览选项
func DefaultPreviewOptions() PreviewOptions {
	return PreviewOptions{
		AutoConfirmHighConfidence: true,
		VideoOnly:                 true,
	}
}

// PreviewRequest 创建预览批次的请求
type PreviewRequest struct {
	UserID         uint
	SourceMode     model.SourceMode
	TargetPath     string
	TargetFolderID string
	CloudStorageID *uint
	Algorithm      model.Algorithm
	NamingStandard model.NamingStandard
	Options        PreviewOptions

	// Progress 每处理完一个条目回调一次，供后台任务上报进度
	Progress func(done, total int)
}

// ItemPatch 条目编辑请求，nil 字段表示不修改
type ItemPatch struct {
	NewName      *string          `json:"new_name"`
	CatalogID    *string          `json:"catalog_id"`
	CatalogTitle *string          `json:"catalog_title"`
	CatalogYear  *int             `json:"catalog_year"`
	MediaType    *model.MediaType `json:"media_type"`
}

// ItemFilter 条目列表的筛选条件
type ItemFilter struct {
	Status            model.ItemStatus
	NeedsConfirmation *bool
	MediaType         model.MediaType
	Offset            int
	Limit             int
}

// BatchService 批次管理器
// 只负责状态与视图，绝不直接调用后端的重命名原语（预览的目录枚举除外）
type BatchService struct {
	logger   *logger.Logger
	cfg      config.RenameConfig
	db       *gorm.DB
	pipeline *parser.Pipeline
	matcher  *matcher.Matcher
	backends BackendProvider
}

// NewBatchService 创建批次管理器
func NewBatchService(cfg config.RenameConfig, pipeline *parser.Pipeline, m *matcher.Matcher, backends BackendProvider, log *logger.Logger) *BatchService {
	return &BatchService{
		logger:   log,
		cfg:      cfg,
		db:       database.DB,
		pipeline: pipeline,
		matcher:  m,
		backends: backends,
	}
}

// CreatePreview 枚举来源目录并生成预览批次
// 解析、匹配、起名在有界并发池里按条目执行；单个条目的外部调用失败只降低
// 该条目的置信度，不会让整个批次失败。ctx 取消时保留已生成的部分条目并
// 返回 ctx 的错误，批次停留在 previewing
func (s *BatchService) CreatePreview(ctx context.Context, req *PreviewRequest) (*model.RenameBatch, error) {
	if err := s.validatePreviewRequest(req); err != nil {
		return nil, err
	}

	batch := &model.RenameBatch{
		BatchID:        uuid.NewString(),
		UserID:         req.UserID,
		SourceMode:     req.SourceMode,
		TargetPath:     req.TargetPath,
		TargetFolderID: req.TargetFolderID,
		CloudStorageID: req.CloudStorageID,
		Algorithm:      req.Algorithm,
		NamingStandard: req.NamingStandard,
		Status:         model.BatchStatusPreviewing,
	}

	be, err := s.backends.ForBatch(batch)
	if err != nil {
		return nil, err
	}

	target := req.TargetPath
	if req.SourceMode == model.SourceModeCloud {
		target = req.TargetFolderID
	}
	files, err := be.List(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("枚举来源目录失败: %w", err)
	}

	if req.Options.VideoOnly {
		filtered := files[:0]
		for _, f := range files {
			if parser.IsVideoFile(f.Name) {
				filtered = append(filtered, f)
			}
		}
		files = filtered
	}

	if err := s.db.Create(batch).Error; err != nil {
		return nil, fmt.Errorf("创建批次记录失败: %w", err)
	}

	items, procErr := s.buildItems(ctx, batch, files, req)

	if len(items) > 0 {
		if err := s.db.CreateInBatches(items, 100).Error; err != nil {
			return nil, fmt.Errorf("保存批次条目失败: %w", err)
		}
	}

	s.fillStats(batch, items)

	updates := map[string]interface{}{
		"total_items":    batch.TotalItems,
		"matched_items":  batch.MatchedItems,
		"need_confirm":   batch.NeedConfirm,
		"avg_confidence": batch.AvgConfidence,
	}

	if procErr == nil {
		if err := batch.SetStatus(model.BatchStatusReady); err != nil {
			return nil, err
		}
		updates["status"] = batch.Status
	}

	if err := s.db.Model(batch).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("更新批次状态失败: %w", err)
	}

	batch.Items = derefItems(items)
	if procErr != nil {
		return batch, procErr
	}

	s.logger.Infof("预览批次已生成: BatchID=%s, 条目=%d, 命中=%d, 待确认=%d",
		batch.BatchID, batch.TotalItems, batch.MatchedItems, batch.NeedConfirm)
	return batch, nil
}

// buildItems 有界并发地解析并起名
// 每个工作协程完整处理一个条目（解析、匹配、起名），条目内部结果不会交错；
// 取消只在条目边界生效
func (s *BatchService) buildItems(ctx context.Context, batch *model.RenameBatch, files []backend.SourceFile, req *PreviewRequest) ([]*model.RenameItem, error) {
	total := len(files)
	if total == 0 {
		return nil, nil
	}

	concurrency := s.cfg.ParseConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	jobs := make(chan backend.SourceFile)
	var (
		mu    sync.Mutex
		items []*model.RenameItem
		done  int
		wg    sync.WaitGroup
	)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for file := range jobs {
				item := s.processFile(ctx, batch, file, req)
				mu.Lock()
				items = append(items, item)
				done++
				if req.Progress != nil {
					req.Progress(done, total)
				}
				mu.Unlock()
			}
		}()
	}

	var procErr error
feed:
	for _, file := range files {
		select {
		case <-ctx.Done():
			procErr = ctx.Err()
			break feed
		case jobs <- file:
		}
	}
	close(jobs)
	wg.Wait()

	return items, procErr
}

// processFile 处理单个来源文件：解析、刮削匹配、生成目标名
func (s *BatchService) processFile(ctx context.Context, batch *model.RenameBatch, file backend.SourceFile, req *PreviewRequest) *model.RenameItem {
	info, usedAlgorithm, parseConf := s.pipeline.Parse(ctx, file.Name, req.Algorithm, req.Options.ForceAssist)

	match, matchConf := s.matcher.Match(ctx, info)
	overall := matcher.Combine(parseConf, matchConf, match != nil)

	newName := namegen.Generate(file.Name, info, match, req.NamingStandard, namegen.Options{
		IncludeResolution: req.Options.IncludeResolution,
		IncludeSource:     req.Options.IncludeSource,
		IncludeCodec:      req.Options.IncludeCodec,
		IncludeCatalogID:  req.Options.IncludeCatalogID,
		MovieTemplate:     req.Options.MovieTemplate,
		EpisodeTemplate:   req.Options.EpisodeTemplate,
	})

	item := &model.RenameItem{
		BatchID:            batch.BatchID,
		OriginalName:       file.Name,
		OriginalIdentifier: file.Identifier,
		MediaType:          info.MediaType,
		Title:              info.Title,
		Year:               info.Year,
		Season:             info.Season,
		Episode:            info.Episode,
		Resolution:         info.Resolution,
		SourceTag:          info.SourceTag,
		Codec:              info.Codec,
		OverallConfidence:  overall,
		UsedAlgorithm:      usedAlgorithm,
		NewName:            newName,
		Status:             model.ItemStatusParsed,
	}
	if match != nil {
		item.CatalogID = match.ID
		item.CatalogTitle = match.Title
		item.CatalogYear = match.Year
	}

	if overall < s.cfg.AutoConfirmThreshold {
		item.NeedsConfirmation = true
		item.ConfirmReason = "置信度低于自动确认阈值"
	}
	if !req.Options.AutoConfirmHighConfidence && match == nil {
		item.NeedsConfirmation = true
		item.ConfirmReason = "未命中刮削库"
	}
	return item
}

// fillStats 汇总批次统计
func (s *BatchService) fillStats(batch *model.RenameBatch, items []*model.RenameItem) {
	batch.TotalItems = len(items)
	batch.MatchedItems = 0
	batch.NeedConfirm = 0
	batch.AvgConfidence = 0

	if len(items) == 0 {
		return
	}

	var sum float64
	for _, item := range items {
		if item.IsMatched() {
			batch.MatchedItems++
		}
		if item.NeedsConfirmation {
			batch.NeedConfirm++
		}
		sum += item.OverallConfidence
	}
	batch.AvgConfidence = sum / float64(len(items))
}

// ConfirmItems 确认指定条目，清除待确认标记
// 幂等：已确认的条目重复确认不报错
func (s *BatchService) ConfirmItems(batchID string, itemIDs []uint) error {
	batch, err := s.loadBatch(batchID)
	if err != nil {
		return err
	}
	if batch.Status != model.BatchStatusReady && batch.Status != model.BatchStatusPreviewing {
		return fmt.Errorf("批次状态为 %s，不允许确认条目", batch.Status)
	}
	if len(itemIDs) == 0 {
		return nil
	}

	return s.db.Transaction(func(tx *gorm.DB) error {
		var items []model.RenameItem
		if err := tx.Where("batch_id = ? AND id IN ?", batchID, itemIDs).Find(&items).Error; err != nil {
			return err
		}

		for i := range items {
			item := &items[i]
			if item.Status == model.ItemStatusConfirmed && !item.NeedsConfirmation {
				continue
			}
			if item.Status == model.ItemStatusParsed {
				if err := item.SetStatus(model.ItemStatusConfirmed, ""); err != nil {
					return err
				}
			}
			item.NeedsConfirmation = false
			item.ConfirmReason = ""
			if err := tx.Model(item).Updates(map[string]interface{}{
				"status":             item.Status,
				"needs_confirmation": false,
				"confirm_reason":     "",
			}).Error; err != nil {
				return err
			}
		}

		return s.refreshNeedConfirm(tx, batchID)
	})
}

// EditItem 编辑条目的目标名或刮削信息，编辑视为人工确认
func (s *BatchService) EditItem(batchID string, itemID uint, patch *ItemPatch) (*model.RenameItem, error) {
	batch, err := s.loadBatch(batchID)
	if err != nil {
		return nil, err
	}
	if batch.Status != model.BatchStatusReady && batch.Status != model.BatchStatusPreviewing {
		return nil, fmt.Errorf("批次状态为 %s，不允许编辑条目", batch.Status)
	}

	var item model.RenameItem
	if err := s.db.Where("batch_id = ? AND id = ?", batchID, itemID).First(&item).Error; err != nil {
		return nil, fmt.Errorf("查询条目失败: %w", err)
	}

	if patch.NewName != nil {
		name := namegen.Sanitize(*patch.NewName)
		if name == "" {
			return nil, backend.ErrInvalidName
		}
		item.NewName = name
	}
	if patch.CatalogID != nil {
		item.CatalogID = *patch.CatalogID
	}
	if patch.CatalogTitle != nil {
		item.CatalogTitle = *patch.CatalogTitle
	}
	if patch.CatalogYear != nil {
		item.CatalogYear = *patch.CatalogYear
	}
	if patch.MediaType != nil {
		item.MediaType = *patch.MediaType
	}

	if item.Status == model.ItemStatusParsed {
		if err := item.SetStatus(model.ItemStatusConfirmed, ""); err != nil {
			return nil, err
		}
	}
	item.NeedsConfirmation = false
	item.ConfirmReason = ""

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&item).Updates(map[string]interface{}{
			"new_name":           item.NewName,
			"catalog_id":         item.CatalogID,
			"catalog_title":      item.CatalogTitle,
			"catalog_year":       item.CatalogYear,
			"media_type":         item.MediaType,
			"status":             item.Status,
			"needs_confirmation": false,
			"confirm_reason":     "",
		}).Error; err != nil {
			return err
		}
		return s.refreshNeedConfirm(tx, batchID)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// refreshNeedConfirm 重算批次的待确认条目数
func (s *BatchService) refreshNeedConfirm(tx *gorm.DB, batchID string) error {
	var count int64
	if err := tx.Model(&model.RenameItem{}).
		Where("batch_id = ? AND needs_confirmation = ?", batchID, true).
		Count(&count).Error; err != nil {
		return err
	}
	return tx.Model(&model.RenameBatch{}).
		Where("batch_id = ?", batchID).
		Update("need_confirm", count).Error
}

// GetBatch 查询批次
func (s *BatchService) GetBatch(batchID string) (*model.RenameBatch, error) {
	return s.loadBatch(batchID)
}

// ListBatches 分页列出用户的历史批次，新的在前
func (s *BatchService) ListBatches(userID uint, offset, limit int) ([]model.RenameBatch, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var total int64
	query := s.db.Model(&model.RenameBatch{}).Where("user_id = ?", userID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var batches []model.RenameBatch
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&batches).Error; err != nil {
		return nil, 0, err
	}
	return batches, total, nil
}

// ListBatchItems 分页列出批次条目，支持状态和待确认筛选
func (s *BatchService) ListBatchItems(batchID string, filter *ItemFilter) ([]model.RenameItem, int64, error) {
	if _, err := s.loadBatch(batchID); err != nil {
		return nil, 0, err
	}

	query := s.db.Model(&model.RenameItem{}).Where("batch_id = ?", batchID)
	if filter != nil {
		if filter.Status != "" {
			query = query.Where("status = ?", filter.Status)
		}
		if filter.NeedsConfirmation != nil {
			query = query.Where("needs_confirmation = ?", *filter.NeedsConfirmation)
		}
		if filter.MediaType != "" {
			query = query.Where("media_type = ?", filter.MediaType)
		}
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset, limit := 0, 50
	if filter != nil {
		offset = filter.Offset
		if filter.Limit > 0 && filter.Limit <= 200 {
			limit = filter.Limit
		}
	}

	var items []model.RenameItem
	if err := query.Order("id ASC").Offset(offset).Limit(limit).Find(&items).Error; err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ValidateName 校验候选文件名
func (s *BatchService) ValidateName(name string) namegen.ValidationResult {
	return namegen.Validate(name)
}

func (s *BatchService) loadBatch(batchID string) (*model.RenameBatch, error) {
	var batch model.RenameBatch
	if err := s.db.Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
		return nil, fmt.Errorf("查询批次失败: %w", err)
	}
	return &batch, nil
}

func derefItems(items []*model.RenameItem) []model.RenameItem {
	out := make([]model.RenameItem, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out
}

// 校验不合法的请求尽早报错，避免建出空批次
func (s *BatchService) validatePreviewRequest(req *PreviewRequest) error {
	switch req.SourceMode {
	case model.SourceModeLocal:
		if !filepath.IsAbs(req.TargetPath) {
			return fmt.Errorf("本地模式需要绝对路径: %s", req.TargetPath)
		}
	case model.SourceModeCloud:
		if strings.TrimSpace(req.TargetFolderID) == "" {
			return fmt.Errorf("云端模式需要网盘目录ID")
		}
		if req.CloudStorageID == nil {
			return fmt.Errorf("云端模式需要指定网盘存储")
		}
	default:
		return fmt.Errorf("未知的来源模式: %s", req.SourceMode)
	}

	switch req.Algorithm {
	case model.AlgorithmStandard, model.AlgorithmAIEnhanced, model.AlgorithmAIOnly:
	default:
		return fmt.Errorf("未知的解析算法: %s", req.Algorithm)
	}

	switch req.NamingStandard {
	case model.NamingEmby, model.NamingPlex, model.NamingKodi, model.NamingCustom:
	default:
		return fmt.Errorf("未知的命名标准: %s", req.NamingStandard)
	}
	return nil
}
