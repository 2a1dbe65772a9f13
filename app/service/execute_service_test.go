package service

import (
	"context"
	"errors"
	"testing"

	"rename-fusion/app/model"
)

func TestExecuteSkipsUnchangedName(t *testing.T) {
	db := setupTestDB(t)
	batch := seedBatch(t, db, model.BatchStatusReady, model.SourceModeLocal, []model.RenameItem{
		{OriginalName: "same.mkv", OriginalIdentifier: "/library/same.mkv", NewName: "same.mkv"},
		{OriginalName: "old.mkv", OriginalIdentifier: "/library/old.mkv", NewName: "new.mkv"},
		{OriginalName: "blank.mkv", OriginalIdentifier: "/library/blank.mkv", NewName: ""},
	})

	be := &fakeBackend{}
	svc := NewExecuteService(testConfig(), &fakeProvider{be: be}, testServiceLogger())

	summary, err := svc.Execute(context.Background(), batch.BatchID, nil, nil)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if summary.Total != 3 || summary.Success != 1 || summary.Skipped != 2 || summary.Failed != 0 {
		t.Fatalf("汇总结果错误: %+v", summary)
	}

	// 无操作条目不触发后端
	calls := be.calls()
	if len(calls) != 1 || calls[0].Identifier != "/library/old.mkv" || calls[0].NewName != "new.mkv" {
		t.Fatalf("后端调用错误: %+v", calls)
	}

	if item := loadItemByIdentifier(t, db, batch.BatchID, "/library/same.mkv"); item.Status != model.ItemStatusSkipped {
		t.Fatalf("同名条目应记 skipped, 实际 %s", item.Status)
	}
	if item := loadItemByIdentifier(t, db, batch.BatchID, "/library/old.mkv"); item.Status != model.ItemStatusSuccess {
		t.Fatalf("改名条目应记 success, 实际 %s", item.Status)
	} else if item.RenamedAt == nil || item.NewName != "new.mkv" {
		t.Fatalf("成功条目应记录目标名和时间: %+v", item)
	}

	if st := loadBatchStatus(t, db, batch.BatchID); st != model.BatchStatusCompleted {
		t.Fatalf("批次应转为 completed, 实际 %s", st)
	}
}

func TestExecuteIdempotentOnSuccessItem(t *testing.T) {
	db := setupTestDB(t)
	batch := seedBatch(t, db, model.BatchStatusCompleted, model.SourceModeLocal, []model.RenameItem{
		{OriginalName: "old.mkv", OriginalIdentifier: "/library/old.mkv", NewName: "new.mkv", Status: model.ItemStatusSuccess},
	})

	be := &fakeBackend{}
	svc := NewExecuteService(testConfig(), &fakeProvider{be: be}, testServiceLogger())

	// completed 批次允许重新执行, 已成功条目不再触碰
	summary, err := svc.Execute(context.Background(), batch.BatchID,
		[]Operation{{Identifier: "/library/old.mkv", NewName: "new.mkv"}}, nil)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	if summary.Skipped != 1 || summary.Success != 0 {
		t.Fatalf("已成功条目重复执行应跳过: %+v", summary)
	}
	if len(be.calls()) != 0 {
		t.Fatalf("不应触发后端调用: %+v", be.calls())
	}
}

func TestExecuteRecordsFailureAndResumes(t *testing.T) {
	db := setupTestDB(t)
	batch := seedBatch(t, db, model.BatchStatusReady, model.SourceModeLocal, []model.RenameItem{
		{OriginalName: "a.mkv", OriginalIdentifier: "/library/a.mkv", NewName: "A.mkv"},
		{OriginalName: "b.mkv", OriginalIdentifier: "/library/b.mkv", NewName: "B.mkv"},
	})

	be := &fakeBackend{failOn: map[string]error{"/library/b.mkv": errors.New("磁盘只读")}}
	svc := NewExecuteService(testConfig(), &fakeProvider{be: be}, testServiceLogger())

	summary, err := svc.Execute(context.Background(), batch.BatchID, nil, nil)
	if err != nil {
		t.Fatalf("执行失败: %v", err)
	}
	// 单条失败不影响其余条目
	if summary.Success != 1 || summary.Failed != 1 {
		t.Fatalf("汇总结果错误: %+v", summary)
	}
	item := loadItemByIdentifier(t, db, batch.BatchID, "/library/b.mkv")
	if item.Status != model.ItemStatusFailed || item.ErrorMessage != "磁盘只读" {
		t.Fatalf("失败条目应记录原因: %+v", item)
	}

	// 修复后重跑, 默认操作集包含 failed 条目, 成功条目保持不动
	be.mu.Lock()
	be.failOn = nil
	be.renames = nil
	be.mu.Unlock()

	summary, err = svc.Execute(context.Background(), batch.BatchID, nil, nil)
	if err != nil {
		t.Fatalf("续跑失败: %v", err)
	}
	if summary.Success != 1 || summary.Skipped != 0 || summary.Failed != 0 {
		t.Fatalf("续跑汇总错误: %+v", summary)
	}
	calls := be.calls()
	if len(calls) != 1 || calls[0].Identifier != "/library/b.mkv" {
		t.Fatalf("续跑只应重试失败条目: %+v", calls)
	}
	if item := loadItemByIdentifier(t, db, batch.BatchID, "/library/b.mkv"); item.Status != model.ItemStatusSuccess || item.ErrorMessage != "" {
		t.Fatalf("重试成功后应清除失败记录: %+v", item)
	}
}

func TestExecuteRejectsPreviewingBatch(t *testing.T) {
	db := setupTestDB(t)
	batch := seedBatch(t, db, model.BatchStatusPreviewing, model.SourceModeLocal, nil)

	svc := NewExecuteService(testConfig(), &fakeProvider{be: &fakeBackend{}}, testServiceLogger())
	if _, err := svc.Execute(context.Background(), batch.BatchID, nil, nil); err == nil {
		t.Fatal("previewing 批次不允许执行")
	}
}

func TestExecuteCancelledContextClosesBatch(t *testing.T) {
	db := setupTestDB(t)
	items := []model.RenameItem{
		{OriginalName: "a.mkv", OriginalIdentifier: "fid-a", NewName: "A.mkv"},
		{OriginalName: "b.mkv", OriginalIdentifier: "fid-b", NewName: "B.mkv"},
		{OriginalName: "c.mkv", OriginalIdentifier: "fid-c", NewName: "C.mkv"},
	}
	batch := seedBatch(t, db, model.BatchStatusReady, model.SourceModeCloud, items)

	ctx, cancel := context.WithCancel(context.Background())
	be := &fakeBackend{onRename: func(call int, identifier, newName string) {
		if call == 1 {
			cancel()
		}
	}}
	svc := NewExecuteService(testConfig(), &fakeProvider{be: be}, testServiceLogger())

	summary, err := svc.Execute(ctx, batch.BatchID, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, 实际 %v", err)
	}
	// 网盘模式串行执行, 取消在下一个条目边界生效
	if summary.Success != 1 || len(be.calls()) != 1 {
		t.Fatalf("取消后不应再处理后续条目: %+v, 调用 %d 次", summary, len(be.calls()))
	}
	// 取消也收口批次, 保留回滚与续跑能力
	if st := loadBatchStatus(t, db, batch.BatchID); st != model.BatchStatusCompleted {
		t.Fatalf("批次应收口到 completed, 实际 %s", st)
	}
}
