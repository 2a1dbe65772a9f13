package backend

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"rename-fusion/app/logger"
)

// LocalBackend 本地文件系统后端
// 同一父目录内的重命名串行执行，避免并发改名时的目标名竞态
type LocalBackend struct {
	logger *logger.Logger

	mu       sync.Mutex
	dirLocks map[string]*sync.Mutex
}

func NewLocalBackend(log *logger.Logger) *LocalBackend {
	return &LocalBackend{
		logger:   log,
		dirLocks: make(map[string]*sync.Mutex),
	}
}

// lockDir 获取父目录级别的互斥锁
func (b *LocalBackend) lockDir(dir string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock, ok := b.dirLocks[dir]
	if !ok {
		lock = &sync.Mutex{}
		b.dirLocks[dir] = lock
	}
	return lock
}

// List 列出目录下的文件（不含子目录）
func (b *LocalBackend) List(ctx context.Context, target string) ([]SourceFile, error) {
	if !filepath.IsAbs(target) {
		return nil, fmt.Errorf("本地目录必须是绝对路径: %s", target)
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, target)
		}
		if os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrPermission, target)
		}
		return nil, fmt.Errorf("读取目录失败: %w", err)
	}

	files := make([]SourceFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, SourceFile{
			Identifier: filepath.Join(target, entry.Name()),
			Name:       entry.Name(),
			Size:       info.Size(),
		})
	}
	return files, nil
}

// Rename 在同一目录内重命名文件
// 目标名已存在时拒绝覆盖
func (b *LocalBackend) Rename(ctx context.Context, identifier, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Dir(identifier)
	newPath := filepath.Join(dir, newName)

	lock := b.lockDir(dir)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Lstat(identifier); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, identifier)
		}
		return fmt.Errorf("检查源文件失败: %w", err)
	}

	if _, err := os.Lstat(newPath); err == nil {
		return fmt.Errorf("%w: %s", ErrNameCollision, newName)
	}

	if err := os.Rename(identifier, newPath); err != nil {
		if os.IsPermission(err) {
			return fmt.Errorf("%w: %s", ErrPermission, identifier)
		}
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrSourceNotFound, identifier)
		}
		return fmt.Errorf("重命名失败: %w", err)
	}
	return nil
}
