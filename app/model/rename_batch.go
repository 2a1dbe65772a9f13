package model

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// SourceMode 批次来源模式
type SourceMode string

const (
	SourceModeLocal SourceMode = "local" // 本地文件系统
	SourceModeCloud SourceMode = "cloud" // 115 网盘
)

// Algorithm 文件名解析算法
type Algorithm string

const (
	AlgorithmStandard   Algorithm = "standard"    // 规则解析
	AlgorithmAIEnhanced Algorithm = "ai_enhanced" // 规则解析 + 低置信度时 AI 辅助
	AlgorithmAIOnly     Algorithm = "ai_only"     // 仅 AI 解析
)

// NamingStandard 命名标准
type NamingStandard string

const (
	NamingEmby   NamingStandard = "emby"
	NamingPlex   NamingStandard = "plex"
	NamingKodi   NamingStandard = "kodi"
	NamingCustom NamingStandard = "custom"
)

// BatchStatus 批次状态
type BatchStatus string

const (
	BatchStatusPreviewing BatchStatus = "previewing"  // 正在生成预览
	BatchStatusReady      BatchStatus = "ready"       // 预览完成，等待确认
	BatchStatusExecuting  BatchStatus = "executing"   // 正在执行
	BatchStatusCompleted  BatchStatus = "completed"   // 执行结束（允许部分失败）
	BatchStatusRolledBack BatchStatus = "rolled_back" // 已回滚
)

// batchTransitions 批次状态机，只允许前进
var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchStatusPreviewing: {BatchStatusReady},
	BatchStatusReady:      {BatchStatusExecuting},
	BatchStatusExecuting:  {BatchStatusCompleted, BatchStatusReady},
	BatchStatusCompleted:  {BatchStatusExecuting, BatchStatusRolledBack},
}

// RenameBatch 重命名批次模型
// 批次创建后 SourceMode/Target/Algorithm/NamingStandard 不可变，只有条目状态和批次状态会变化
type RenameBatch struct {
	ID             uint           `gorm:"primarykey" json:"id"`
	BatchID        string         `gorm:"size:36;uniqueIndex;not null;comment:批次标识" json:"batch_id"`
	UserID         uint           `gorm:"not null;index;comment:所属用户ID" json:"user_id"`
	SourceMode     SourceMode     `gorm:"size:10;not null;comment:来源模式(local,cloud)" json:"source_mode"`
	TargetPath     string         `gorm:"size:500;comment:本地目录绝对路径或网盘目录展示路径" json:"target_path"`
	TargetFolderID string         `gorm:"size:200;comment:网盘目录ID" json:"target_folder_id"`
	CloudStorageID *uint          `gorm:"index;comment:网盘存储ID(cloud模式)" json:"cloud_storage_id"`
	Algorithm      Algorithm      `gorm:"size:20;not null;comment:使用的解析算法" json:"algorithm_used"`
	NamingStandard NamingStandard `gorm:"size:20;not null;comment:命名标准" json:"naming_standard"`
	Status         BatchStatus    `gorm:"size:20;default:previewing;index;comment:批次状态" json:"status"`
	TotalItems     int            `gorm:"default:0;comment:条目总数" json:"total_items"`
	MatchedItems   int            `gorm:"default:0;comment:刮削命中条目数" json:"matched_items"`
	NeedConfirm    int            `gorm:"default:0;comment:待人工确认条目数" json:"need_confirm"`
	AvgConfidence  float64        `gorm:"default:0;comment:平均置信度" json:"avg_confidence"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`

	CloudStorage *CloudStorage `gorm:"foreignKey:CloudStorageID" json:"cloud_storage,omitempty"`
	Items        []RenameItem  `gorm:"foreignKey:BatchID;references:BatchID" json:"items,omitempty"`
}

// TableName 指定表名
func (RenameBatch) TableName() string {
	return "rename_batches"
}

// CanTransition 检查批次状态是否允许迁移
func (b *RenameBatch) CanTransition(to BatchStatus) bool {
	for _, next := range batchTransitions[b.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// SetStatus 校验并迁移批次状态
func (b *RenameBatch) SetStatus(to BatchStatus) error {
	if b.Status == to {
		return nil
	}
	if !b.CanTransition(to) {
		return fmt.Errorf("批次状态不允许从 %s 迁移到 %s", b.Status, to)
	}
	b.Status = to
	return nil
}

// MediaType 媒体类型
type MediaType string

const (
	MediaTypeMovie   MediaType = "movie"
	MediaTypeTV      MediaType = "tv"
	MediaTypeAnime   MediaType = "anime"
	MediaTypeUnknown MediaType = "unknown"
)

// ItemStatus 条目状态
type ItemStatus string

const (
	ItemStatusParsed     ItemStatus = "parsed"      // 已解析，等待确认
	ItemStatusConfirmed  ItemStatus = "confirmed"   // 已确认，等待执行
	ItemStatusSuccess    ItemStatus = "success"     // 重命名成功
	ItemStatusFailed     ItemStatus = "failed"      // 重命名失败
	ItemStatusSkipped    ItemStatus = "skipped"     // 无需操作
	ItemStatusRolledBack ItemStatus = "rolled_back" // 已回滚
)

// itemTransitions 条目状态机，只允许前进
// failed 条目允许重新执行，success 条目在回滚冲突时允许转为 failed
var itemTransitions = map[ItemStatus][]ItemStatus{
	ItemStatusParsed:    {ItemStatusConfirmed, ItemStatusSuccess, ItemStatusFailed, ItemStatusSkipped},
	ItemStatusConfirmed: {ItemStatusSuccess, ItemStatusFailed, ItemStatusSkipped},
	ItemStatusFailed:    {ItemStatusSuccess, ItemStatusFailed, ItemStatusSkipped},
	ItemStatusSuccess:   {ItemStatusRolledBack, ItemStatusFailed},
}

// RenameItem 重命名条目模型
// 条目标识是来源标识（本地绝对路径或网盘文件ID），在条目生命周期内保持不变
type RenameItem struct {
	ID                 uint       `gorm:"primarykey" json:"id"`
	BatchID            string     `gorm:"size:36;not null;index;comment:所属批次" json:"batch_id"`
	OriginalName       string     `gorm:"size:500;not null;comment:原始文件名" json:"original_name"`
	OriginalIdentifier string     `gorm:"size:500;not null;index;comment:来源标识(路径或fid)" json:"original_identifier"`
	MediaType          MediaType  `gorm:"size:10;default:unknown;comment:媒体类型" json:"media_type"`
	Title              string     `gorm:"size:300;comment:解析出的标题" json:"title"`
	Year               int        `gorm:"default:0;comment:解析出的年份" json:"year,omitempty"`
	Season             int        `gorm:"default:0;comment:季号" json:"season,omitempty"`
	Episode            int        `gorm:"default:0;comment:集号" json:"episode,omitempty"`
	Resolution         string     `gorm:"size:20;comment:分辨率" json:"resolution,omitempty"`
	SourceTag          string     `gorm:"size:20;comment:片源标签(WEB-DL等)" json:"source_tag,omitempty"`
	Codec              string     `gorm:"size:20;comment:编码" json:"codec,omitempty"`
	CatalogID          string     `gorm:"size:20;comment:刮削库ID" json:"catalog_id,omitempty"`
	CatalogTitle       string     `gorm:"size:300;comment:刮削库标准标题" json:"catalog_title,omitempty"`
	CatalogYear        int        `gorm:"default:0;comment:刮削库年份" json:"catalog_year,omitempty"`
	OverallConfidence  float64    `gorm:"default:0;comment:综合置信度[0,1]" json:"overall_confidence"`
	UsedAlgorithm      Algorithm  `gorm:"size:20;comment:实际使用的算法" json:"used_algorithm"`
	NewName            string     `gorm:"size:500;comment:重命名目标，空串表示不处理" json:"new_name"`
	NeedsConfirmation  bool       `gorm:"default:false;comment:是否需要人工确认" json:"needs_confirmation"`
	ConfirmReason      string     `gorm:"size:200;comment:需要确认的原因" json:"confirmation_reason,omitempty"`
	Status             ItemStatus `gorm:"size:20;default:parsed;index;comment:条目状态" json:"status"`
	ErrorMessage       string     `gorm:"type:text;comment:失败原因" json:"error_message,omitempty"`
	RenamedAt          *time.Time `gorm:"comment:重命名成功时间" json:"renamed_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (RenameItem) TableName() string {
	return "rename_items"
}

// CanTransition 检查条目状态是否允许迁移
func (i *RenameItem) CanTransition(to ItemStatus) bool {
	for _, next := range itemTransitions[i.Status] {
		if next == to {
			return true
		}
	}
	return false
}

// SetStatus 校验并迁移条目状态；失败时附带失败原因
func (i *RenameItem) SetStatus(to ItemStatus, errMsg string) error {
	if !i.CanTransition(to) {
		return fmt.Errorf("条目[%s]状态不允许从 %s 迁移到 %s", i.OriginalIdentifier, i.Status, to)
	}
	i.Status = to
	if to == ItemStatusFailed {
		i.ErrorMessage = errMsg
	} else {
		i.ErrorMessage = ""
	}
	return nil
}

// IsMatched 是否有可信的刮削匹配
func (i *RenameItem) IsMatched() bool {
	return i.CatalogID != ""
}

// ExecutionSummary 一次执行/回滚的汇总结果
type ExecutionSummary struct {
	Total   int `json:"total"`
	Success int `json:"success"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}
