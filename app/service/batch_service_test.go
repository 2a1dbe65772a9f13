package service

import (
	"context"
	"errors"
	"testing"

	"rename-fusion/app/backend"
	"rename-fusion/app/logger"
	"rename-fusion/app/matcher"
	"rename-fusion/app/model"
	"rename-fusion/app/parser"
)

// fakeCatalog 返回预设候选的刮削客户端
type fakeCatalog struct {
	movies []matcher.CatalogMatch
	tvs    []matcher.CatalogMatch
}

func (f *fakeCatalog) SearchMovie(ctx context.Context, title string, year int) ([]matcher.CatalogMatch, error) {
	return f.movies, nil
}

func (f *fakeCatalog) SearchTV(ctx context.Context, title string, year int) ([]matcher.CatalogMatch, error) {
	return f.tvs, nil
}

func newTestBatchService(catalog matcher.CatalogClient, be backend.Backend, log *logger.Logger) *BatchService {
	cfg := testConfig()
	pipeline := parser.NewPipeline(cfg, nil, log)
	m := matcher.NewMatcher(cfg, catalog, log)
	return NewBatchService(cfg, pipeline, m, &fakeProvider{be: be}, log)
}

func localPreviewRequest(opts PreviewOptions) *PreviewRequest {
	return &PreviewRequest{
		UserID:         1,
		SourceMode:     model.SourceModeLocal,
		TargetPath:     "/library",
		Algorithm:      model.AlgorithmStandard,
		NamingStandard: model.NamingEmby,
		Options:        opts,
	}
}

func TestCreatePreview(t *testing.T) {
	db := setupTestDB(t)
	log := testServiceLogger()

	be := &fakeBackend{files: []backend.SourceFile{
		{Identifier: "/library/Naruto.S01E01.1080p.mkv", Name: "Naruto.S01E01.1080p.mkv"},
		{Identifier: "/library/Inception.2010.1080p.BluRay.x264.mkv", Name: "Inception.2010.1080p.BluRay.x264.mkv"},
		{Identifier: "/library/sub.srt", Name: "sub.srt"},
	}}
	catalog := &fakeCatalog{
		movies: []matcher.CatalogMatch{{ID: "27205", Title: "Inception", Year: 2010, MediaType: model.MediaTypeMovie}},
		tvs:    []matcher.CatalogMatch{{ID: "46260", Title: "Naruto", Year: 2002, MediaType: model.MediaTypeTV}},
	}
	svc := newTestBatchService(catalog, be, log)

	batch, err := svc.CreatePreview(context.Background(), localPreviewRequest(DefaultPreviewOptions()))
	if err != nil {
		t.Fatalf("生成预览失败: %v", err)
	}

	if batch.Status != model.BatchStatusReady {
		t.Fatalf("批次应为 ready, 实际 %s", batch.Status)
	}
	// 字幕文件被视频过滤去掉
	if batch.TotalItems != 2 || batch.MatchedItems != 2 {
		t.Fatalf("统计错误: %+v", batch)
	}

	naruto := loadItemByIdentifier(t, db, batch.BatchID, "/library/Naruto.S01E01.1080p.mkv")
	if naruto.NewName != "Naruto - S01E01.mkv" {
		t.Fatalf("目标名错误: %q", naruto.NewName)
	}
	// 综合置信度低于阈值, 需人工确认
	if !naruto.NeedsConfirmation || naruto.ConfirmReason == "" {
		t.Fatalf("低置信度条目应待确认: %+v", naruto)
	}

	inception := loadItemByIdentifier(t, db, batch.BatchID, "/library/Inception.2010.1080p.BluRay.x264.mkv")
	if inception.NewName != "Inception (2010).mkv" {
		t.Fatalf("目标名错误: %q", inception.NewName)
	}
	// 解析与刮削都可信, 自动确认
	if inception.NeedsConfirmation {
		t.Fatalf("高置信度条目不应待确认: %+v", inception)
	}
	if inception.CatalogID != "27205" || inception.OverallConfidence < 0.8 {
		t.Fatalf("刮削信息错误: %+v", inception)
	}

	if batch.NeedConfirm != 1 {
		t.Fatalf("待确认计数错误: %d", batch.NeedConfirm)
	}
}

func TestCreatePreviewUnmatchedRule(t *testing.T) {
	setupTestDB(t)
	log := testServiceLogger()

	// 全要素文件名, 规则解析本身就高于自动确认阈值
	be := &fakeBackend{files: []backend.SourceFile{
		{Identifier: "/library/Dark.S01E02.2019.1080p.WEB-DL.x265.mkv", Name: "Dark.S01E02.2019.1080p.WEB-DL.x265.mkv"},
	}}

	// 刮削库没有候选, 关闭自动确认时未命中条目仍要人工确认
	svc := newTestBatchService(&fakeCatalog{}, be, log)

	opts := DefaultPreviewOptions()
	opts.AutoConfirmHighConfidence = false
	batch, err := svc.CreatePreview(context.Background(), localPreviewRequest(opts))
	if err != nil {
		t.Fatalf("生成预览失败: %v", err)
	}
	if len(batch.Items) != 1 {
		t.Fatalf("条目数量错误: %d", len(batch.Items))
	}
	item := batch.Items[0]
	if !item.NeedsConfirmation || item.ConfirmReason != "未命中刮削库" {
		t.Fatalf("未命中条目应待确认: %+v", item)
	}

	// 默认选项下同样的条目自动确认
	batch, err = svc.CreatePreview(context.Background(), localPreviewRequest(DefaultPreviewOptions()))
	if err != nil {
		t.Fatalf("生成预览失败: %v", err)
	}
	if batch.Items[0].NeedsConfirmation {
		t.Fatalf("高置信度条目不应待确认: %+v", batch.Items[0])
	}
}

func TestConfirmItems(t *testing.T) {
	db := setupTestDB(t)
	batch := seedBatch(t, db, model.BatchStatusReady, model.SourceModeLocal, []model.RenameItem{
		{OriginalName: "a.mkv", OriginalIdentifier: "/library/a.mkv", NewName: "A.mkv", NeedsConfirmation: true, ConfirmReason: "置信度低于自动确认阈值"},
		{OriginalName: "b.mkv", OriginalIdentifier: "/library/b.mkv", NewName: "B.mkv", NeedsConfirmation: true, ConfirmReason: "置信度低于自动确认阈值"},
	})
	db.Model(&model.RenameBatch{}).Where("batch_id = ?", batch.BatchID).Update("need_confirm", 2)

	svc := newTestBatchService(&fakeCatalog{}, &fakeBackend{}, testServiceLogger())

	var items []model.RenameItem
	db.Where("batch_id = ?", batch.BatchID).Find(&items)
	ids := []uint{items[0].ID, items[1].ID}

	if err := svc.ConfirmItems(batch.BatchID, ids); err != nil {
		t.Fatalf("确认失败: %v", err)
	}

	for _, id := range ids {
		var item model.RenameItem
		db.First(&item, id)
		if item.Status != model.ItemStatusConfirmed || item.NeedsConfirmation || item.ConfirmReason != "" {
			t.Fatalf("确认后条目状态错误: %+v", item)
		}
	}

	var fresh model.RenameBatch
	db.Where("batch_id = ?", batch.BatchID).First(&fresh)
	if fresh.NeedConfirm != 0 {
		t.Fatalf("待确认计数应清零, 实际 %d", fresh.NeedConfirm)
	}

	// 重复确认幂等
	if err := svc.ConfirmItems(batch.BatchID, ids); err != nil {
		t.Fatalf("重复确认不应报错: %v", err)
	}
}

func TestEditItem(t *testing.T) {
	db := setupTestDB(t)
	batch := seedBatch(t, db, model.BatchStatusReady, model.SourceModeLocal, []model.RenameItem{
		{OriginalName: "a.mkv", OriginalIdentifier: "/library/a.mkv", NewName: "A.mkv", NeedsConfirmation: true, ConfirmReason: "置信度低于自动确认阈值"},
	})

	svc := newTestBatchService(&fakeCatalog{}, &fakeBackend{}, testServiceLogger())

	var seeded model.RenameItem
	db.Where("batch_id = ?", batch.BatchID).First(&seeded)

	// 非法字符在保存前清洗, 编辑视为人工确认
	name := `My: Show S01E01?.mkv`
	item, err := svc.EditItem(batch.BatchID, seeded.ID, &ItemPatch{NewName: &name})
	if err != nil {
		t.Fatalf("编辑失败: %v", err)
	}
	if item.NewName != "My Show S01E01.mkv" {
		t.Fatalf("目标名未清洗: %q", item.NewName)
	}
	if item.Status != model.ItemStatusConfirmed || item.NeedsConfirmation {
		t.Fatalf("编辑应清除待确认标记: %+v", item)
	}

	// 清洗后为空的名字拒绝保存
	empty := "???"
	if _, err := svc.EditItem(batch.BatchID, seeded.ID, &ItemPatch{NewName: &empty}); !errors.Is(err, backend.ErrInvalidName) {
		t.Fatalf("期望 ErrInvalidName, 实际 %v", err)
	}
}

func TestCreatePreviewValidation(t *testing.T) {
	setupTestDB(t)
	svc := newTestBatchService(&fakeCatalog{}, &fakeBackend{}, testServiceLogger())

	cases := []*PreviewRequest{
		{SourceMode: model.SourceModeLocal, TargetPath: "relative/path", Algorithm: model.AlgorithmStandard, NamingStandard: model.NamingEmby},
		{SourceMode: model.SourceModeCloud, TargetFolderID: "f1", Algorithm: model.AlgorithmStandard, NamingStandard: model.NamingEmby}, // 缺存储ID
		{SourceMode: model.SourceModeLocal, TargetPath: "/library", Algorithm: "magic", NamingStandard: model.NamingEmby},
		{SourceMode: model.SourceModeLocal, TargetPath: "/library", Algorithm: model.AlgorithmStandard, NamingStandard: "weird"},
		{SourceMode: "ftp", TargetPath: "/library", Algorithm: model.AlgorithmStandard, NamingStandard: model.NamingEmby},
	}
	for i, req := range cases {
		if _, err := svc.CreatePreview(context.Background(), req); err == nil {
			t.Errorf("用例 %d 应校验失败", i)
		}
	}
}
