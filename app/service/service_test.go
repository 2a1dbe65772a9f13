package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"rename-fusion/app/backend"
	"rename-fusion/app/config"
	"rename-fusion/app/database"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// setupTestDB 每个测试用独立的临时库
// 各服务在构造时捕获 database.DB，必须先调用这里再构造服务
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	if err := db.AutoMigrate(
		&model.CloudStorage{},
		&model.RenameBatch{},
		&model.RenameItem{},
		&model.WorkflowTask{},
	); err != nil {
		t.Fatalf("迁移测试数据库失败: %v", err)
	}

	database.DB = db
	return db
}

func testConfig() config.RenameConfig {
	return config.RenameConfig{
		ParseConcurrency:     2,
		LocalConcurrency:     2,
		AssistThreshold:      0.7,
		AutoConfirmThreshold: 0.8,
		AITimeoutSeconds:     1,
		TMDBTimeoutSeconds:   1,
		RemoteMinIntervalMs:  100,
		RemoteRetryLimit:     3,
	}
}

func testServiceLogger() *logger.Logger {
	return logger.New(config.LogConfig{Level: "error"})
}

type renameCall struct {
	Identifier string
	NewName    string
}

// fakeBackend 内存后端，记录所有重命名调用
type fakeBackend struct {
	mu      sync.Mutex
	files   []backend.SourceFile
	listErr error
	failOn  map[string]error
	renames []renameCall

	// onRename 在记录调用之后执行，用于在执行中途触发取消
	onRename func(call int, identifier, newName string)
}

func (f *fakeBackend) List(ctx context.Context, target string) ([]backend.SourceFile, error) {
	return f.files, f.listErr
}

func (f *fakeBackend) Rename(ctx context.Context, identifier, newName string) error {
	f.mu.Lock()
	f.renames = append(f.renames, renameCall{Identifier: identifier, NewName: newName})
	call := len(f.renames)
	hook := f.onRename
	err := f.failOn[identifier]
	f.mu.Unlock()

	if hook != nil {
		hook(call, identifier, newName)
	}
	return err
}

func (f *fakeBackend) calls() []renameCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]renameCall, len(f.renames))
	copy(out, f.renames)
	return out
}

// fakeProvider 固定返回同一个后端
type fakeProvider struct {
	be  backend.Backend
	err error
}

func (p *fakeProvider) ForBatch(batch *model.RenameBatch) (backend.Backend, error) {
	return p.be, p.err
}

// seedBatch 直接落库一个批次及其条目
func seedBatch(t *testing.T, db *gorm.DB, status model.BatchStatus, mode model.SourceMode, items []model.RenameItem) *model.RenameBatch {
	t.Helper()

	batch := &model.RenameBatch{
		BatchID:        uuid.NewString(),
		UserID:         1,
		SourceMode:     mode,
		TargetPath:     "/library",
		Algorithm:      model.AlgorithmStandard,
		NamingStandard: model.NamingEmby,
		Status:         status,
		TotalItems:     len(items),
	}
	if mode == model.SourceModeCloud {
		storageID := uint(1)
		batch.CloudStorageID = &storageID
		batch.TargetFolderID = "folder1"
	}
	if err := db.Create(batch).Error; err != nil {
		t.Fatalf("创建测试批次失败: %v", err)
	}

	for i := range items {
		items[i].BatchID = batch.BatchID
		if items[i].Status == "" {
			items[i].Status = model.ItemStatusParsed
		}
	}
	if len(items) > 0 {
		if err := db.Create(&items).Error; err != nil {
			t.Fatalf("创建测试条目失败: %v", err)
		}
	}
	return batch
}

func loadItemByIdentifier(t *testing.T, db *gorm.DB, batchID, identifier string) *model.RenameItem {
	t.Helper()
	var item model.RenameItem
	if err := db.Where("batch_id = ? AND original_identifier = ?", batchID, identifier).First(&item).Error; err != nil {
		t.Fatalf("查询条目失败: %v", err)
	}
	return &item
}

func loadBatchStatus(t *testing.T, db *gorm.DB, batchID string) model.BatchStatus {
	t.Helper()
	var batch model.RenameBatch
	if err := db.Where("batch_id = ?", batchID).First(&batch).Error; err != nil {
		t.Fatalf("查询批次失败: %v", err)
	}
	return batch.Status
}
