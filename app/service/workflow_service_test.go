package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"rename-fusion/app/backend"
	"rename-fusion/app/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func newWorkflowFixture(t *testing.T, db *gorm.DB, be backend.Backend) *WorkflowService {
	t.Helper()
	log := testServiceLogger()
	batchSvc := newTestBatchService(&fakeCatalog{}, be, log)
	execSvc := NewExecuteService(testConfig(), &fakeProvider{be: be}, log)
	return NewWorkflowService(testConfig(), batchSvc, execSvc, log)
}

func cloudFiles(n int) []backend.SourceFile {
	files := make([]backend.SourceFile, 0, n)
	for i := 1; i <= n; i++ {
		files = append(files, backend.SourceFile{
			Identifier: fmt.Sprintf("fid%02d", i),
			Name:       fmt.Sprintf("Show.S01E%02d.1080p.mkv", i),
		})
	}
	return files
}

func cloudWorkflowRequest(autoExecute bool) *WorkflowRequest {
	storageID := uint(1)
	return &WorkflowRequest{
		UserID:         1,
		TargetFolderID: "folder1",
		CloudStorageID: &storageID,
		Algorithm:      model.AlgorithmStandard,
		NamingStandard: model.NamingEmby,
		Options:        DefaultPreviewOptions(),
		AutoExecute:    autoExecute,
	}
}

// waitTerminal 轮询任务快照直到终态
func waitTerminal(t *testing.T, svc *WorkflowService, taskID string) *model.WorkflowTask {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		task, err := svc.GetStatus(taskID)
		if err != nil {
			t.Fatalf("查询任务失败: %v", err)
		}
		if task.IsTerminal() {
			return task
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("任务超时未结束")
	return nil
}

func TestWorkflowAutoExecuteCompletes(t *testing.T) {
	db := setupTestDB(t)
	be := &fakeBackend{files: cloudFiles(10)}
	svc := newWorkflowFixture(t, db, be)
	defer svc.Stop()

	taskID, err := svc.Submit(cloudWorkflowRequest(true))
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	task := waitTerminal(t, svc, taskID)
	if task.Status != model.WorkflowStatusCompleted {
		t.Fatalf("任务应完成, 实际 %s (%s)", task.Status, task.ErrorMsg)
	}
	if task.Stage != model.WorkflowStageExecuting || task.Progress != 100 {
		t.Fatalf("阶段或进度错误: stage=%s, progress=%d", task.Stage, task.Progress)
	}
	if task.BatchID == "" {
		t.Fatal("任务应关联批次")
	}
	if !strings.Contains(task.Message, "成功 10") {
		t.Fatalf("完成消息错误: %q", task.Message)
	}

	var preview previewSnapshot
	if err := json.Unmarshal([]byte(task.PreviewSnapshot), &preview); err != nil {
		t.Fatalf("预览快照不是合法 JSON: %v", err)
	}
	if preview.TotalItems != 10 || len(preview.Items) != 10 {
		t.Fatalf("预览快照内容错误: %+v", preview)
	}

	var exec executeSnapshot
	if err := json.Unmarshal([]byte(task.ExecuteSnapshot), &exec); err != nil {
		t.Fatalf("执行快照不是合法 JSON: %v", err)
	}
	if exec.Summary.Success != 10 {
		t.Fatalf("执行快照汇总错误: %+v", exec.Summary)
	}

	if len(be.calls()) != 10 {
		t.Fatalf("应执行 10 次重命名, 实际 %d 次", len(be.calls()))
	}
}

func TestWorkflowPreviewOnly(t *testing.T) {
	db := setupTestDB(t)
	be := &fakeBackend{files: cloudFiles(3)}
	svc := newWorkflowFixture(t, db, be)
	defer svc.Stop()

	taskID, err := svc.Submit(cloudWorkflowRequest(false))
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}

	task := waitTerminal(t, svc, taskID)
	if task.Status != model.WorkflowStatusCompleted {
		t.Fatalf("任务应完成, 实际 %s", task.Status)
	}
	// 不自动执行时任务止步于预览
	if len(be.calls()) != 0 {
		t.Fatalf("预览任务不应触发重命名: %d 次", len(be.calls()))
	}
	if loadBatchStatus(t, db, task.BatchID) != model.BatchStatusReady {
		t.Fatal("批次应停留在 ready")
	}
}

func TestWorkflowCancelDuringExecute(t *testing.T) {
	db := setupTestDB(t)

	taskIDCh := make(chan string, 1)
	be := &fakeBackend{files: cloudFiles(10)}
	svc := newWorkflowFixture(t, db, be)
	defer svc.Stop()

	// 第 5 次改名内部请求取消, 串行执行在下一个条目边界停下
	be.onRename = func(call int, identifier, newName string) {
		if call == 5 {
			if err := svc.Cancel(<-taskIDCh); err != nil {
				t.Errorf("取消失败: %v", err)
			}
		}
	}

	taskID, err := svc.Submit(cloudWorkflowRequest(true))
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}
	taskIDCh <- taskID

	task := waitTerminal(t, svc, taskID)
	if task.Status != model.WorkflowStatusCancelled {
		t.Fatalf("任务应为 cancelled, 实际 %s", task.Status)
	}

	if len(be.calls()) != 5 {
		t.Fatalf("取消后不应再改名, 实际 %d 次", len(be.calls()))
	}

	// 已改名的条目保持成功, 未处理的保持原状, 没有自动回滚
	var success, untouched int64
	db.Model(&model.RenameItem{}).Where("batch_id = ? AND status = ?", task.BatchID, model.ItemStatusSuccess).Count(&success)
	db.Model(&model.RenameItem{}).Where("batch_id = ? AND status = ?", task.BatchID, model.ItemStatusParsed).Count(&untouched)
	if success != 5 || untouched != 5 {
		t.Fatalf("条目状态分布错误: success=%d, parsed=%d", success, untouched)
	}

	// 批次收口到 completed, 之后仍可手动回滚
	if loadBatchStatus(t, db, task.BatchID) != model.BatchStatusCompleted {
		t.Fatal("批次应收口到 completed")
	}
}

func TestWorkflowSubmitValidation(t *testing.T) {
	db := setupTestDB(t)
	svc := newWorkflowFixture(t, db, &fakeBackend{})
	defer svc.Stop()

	req := cloudWorkflowRequest(false)
	req.CloudStorageID = nil
	if _, err := svc.Submit(req); err == nil {
		t.Fatal("缺少存储ID应拒绝提交")
	}

	req = cloudWorkflowRequest(false)
	req.TargetFolderID = " "
	if _, err := svc.Submit(req); err == nil {
		t.Fatal("缺少目录ID应拒绝提交")
	}
}

func TestWorkflowCancelTerminalTask(t *testing.T) {
	db := setupTestDB(t)
	be := &fakeBackend{files: cloudFiles(1)}
	svc := newWorkflowFixture(t, db, be)
	defer svc.Stop()

	taskID, err := svc.Submit(cloudWorkflowRequest(false))
	if err != nil {
		t.Fatalf("提交任务失败: %v", err)
	}
	waitTerminal(t, svc, taskID)

	if err := svc.Cancel(taskID); err == nil {
		t.Fatal("终态任务不允许取消")
	}
}

func TestWorkflowResetsStaleTasksOnStartup(t *testing.T) {
	db := setupTestDB(t)

	stale := &model.WorkflowTask{
		TaskID: uuid.NewString(),
		UserID: 1,
		Status: model.WorkflowStatusRunning,
		Stage:  model.WorkflowStageExecuting,
	}
	if err := db.Create(stale).Error; err != nil {
		t.Fatal(err)
	}

	svc := newWorkflowFixture(t, db, &fakeBackend{})
	defer svc.Stop()

	task, err := svc.GetStatus(stale.TaskID)
	if err != nil {
		t.Fatalf("查询任务失败: %v", err)
	}
	if task.Status != model.WorkflowStatusFailed {
		t.Fatalf("残留任务应标记失败, 实际 %s", task.Status)
	}
}
