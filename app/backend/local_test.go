package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"rename-fusion/app/config"
	"rename-fusion/app/logger"
)

func testLogger() *logger.Logger {
	return logger.New(config.LogConfig{Level: "error"})
}

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("创建测试文件失败: %v", err)
	}
}

func TestLocalRename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old.mkv")
	writeFile(t, src)

	b := NewLocalBackend(testLogger())
	if err := b.Rename(context.Background(), src, "new.mkv"); err != nil {
		t.Fatalf("重命名失败: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "new.mkv")); err != nil {
		t.Fatalf("目标文件不存在: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Fatal("源文件应当已消失")
	}
}

func TestLocalRenameCollision(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old.mkv")
	writeFile(t, src)
	writeFile(t, filepath.Join(dir, "taken.mkv"))

	b := NewLocalBackend(testLogger())
	err := b.Rename(context.Background(), src, "taken.mkv")
	if !errors.Is(err, ErrNameCollision) {
		t.Fatalf("期望 ErrNameCollision, 实际 %v", err)
	}
	// 源文件不应被动过
	if _, statErr := os.Stat(src); statErr != nil {
		t.Fatalf("源文件不应被改动: %v", statErr)
	}
}

func TestLocalRenameSourceMissing(t *testing.T) {
	dir := t.TempDir()
	b := NewLocalBackend(testLogger())

	err := b.Rename(context.Background(), filepath.Join(dir, "ghost.mkv"), "new.mkv")
	if !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("期望 ErrSourceNotFound, 实际 %v", err)
	}
}

func TestLocalRenameCancelledContext(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "old.mkv")
	writeFile(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewLocalBackend(testLogger())
	if err := b.Rename(ctx, src, "new.mkv"); !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, 实际 %v", err)
	}
}

func TestLocalList(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.mkv"))
	writeFile(t, filepath.Join(dir, "b.srt"))
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	b := NewLocalBackend(testLogger())
	files, err := b.List(context.Background(), dir)
	if err != nil {
		t.Fatalf("枚举失败: %v", err)
	}
	// 子目录不计入
	if len(files) != 2 {
		t.Fatalf("文件数量错误: %d", len(files))
	}
	for _, f := range files {
		if f.Identifier != filepath.Join(dir, f.Name) {
			t.Errorf("标识应为绝对路径: %+v", f)
		}
	}
}

func TestLocalListErrors(t *testing.T) {
	b := NewLocalBackend(testLogger())

	if _, err := b.List(context.Background(), "relative/path"); err == nil {
		t.Fatal("相对路径应报错")
	}

	missing := filepath.Join(t.TempDir(), "nope")
	if _, err := b.List(context.Background(), missing); !errors.Is(err, ErrSourceNotFound) {
		t.Fatalf("期望 ErrSourceNotFound, 实际 %v", err)
	}
}
