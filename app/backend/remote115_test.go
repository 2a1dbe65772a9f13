package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"rename-fusion/app/config"
	"rename-fusion/app/model"

	"golang.org/x/time/rate"
)

func testRemoteBackend(retryLimit int) *Remote115Backend {
	return &Remote115Backend{
		logger:     testLogger(),
		limiter:    rate.NewLimiter(rate.Inf, 1),
		retryLimit: retryLimit,
	}
}

func TestWithRetryExhaustsOnRateLimit(t *testing.T) {
	b := testRemoteBackend(3)

	calls := 0
	err := b.withRetry(context.Background(), func() error {
		calls++
		return fmt.Errorf("%w: fid=abc", ErrRemoteRateLimited)
	})

	// 重试耗尽后停止, 不会无限重试
	if calls != 3 {
		t.Fatalf("期望尝试 3 次, 实际 %d 次", calls)
	}
	if !errors.Is(err, ErrRemoteRateLimited) {
		t.Fatalf("期望 ErrRemoteRateLimited, 实际 %v", err)
	}
}

func TestWithRetryStopsOnOtherError(t *testing.T) {
	b := testRemoteBackend(3)

	calls := 0
	err := b.withRetry(context.Background(), func() error {
		calls++
		return fmt.Errorf("%w: fid=abc", ErrRemoteNotFound)
	})

	// 非限流错误不重试
	if calls != 1 {
		t.Fatalf("期望尝试 1 次, 实际 %d 次", calls)
	}
	if !errors.Is(err, ErrRemoteNotFound) {
		t.Fatalf("期望 ErrRemoteNotFound, 实际 %v", err)
	}
}

func TestWithRetrySucceedsAfterBackoff(t *testing.T) {
	b := testRemoteBackend(3)

	calls := 0
	err := b.withRetry(context.Background(), func() error {
		calls++
		if calls == 1 {
			return fmt.Errorf("%w", ErrRemoteRateLimited)
		}
		return nil
	})

	if err != nil {
		t.Fatalf("退避后重试应成功: %v", err)
	}
	if calls != 2 {
		t.Fatalf("期望尝试 2 次, 实际 %d 次", calls)
	}
}

func TestWithRetryCancelledContext(t *testing.T) {
	b := testRemoteBackend(3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := b.withRetry(ctx, func() error {
		calls++
		return nil
	})

	if calls != 0 {
		t.Fatalf("已取消的上下文不应发起调用, 实际 %d 次", calls)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("期望 context.Canceled, 实际 %v", err)
	}
}

func TestNewRemote115BackendWithoutCredential(t *testing.T) {
	storage := &model.CloudStorage{
		StorageType: model.StorageType115Open,
		Status:      model.StatusActive,
	}
	_, err := NewRemote115Backend(storage, config.RenameConfig{}, testLogger())
	if !errors.Is(err, ErrRemoteUnauthorized) {
		t.Fatalf("无凭证应报 ErrRemoteUnauthorized, 实际 %v", err)
	}
}

func TestRenameRejectsEmptyName(t *testing.T) {
	b := testRemoteBackend(3)
	b.webClient = nil

	// 没有网页端凭证时重命名直接拒绝
	if err := b.Rename(context.Background(), "fid", "new.mkv"); !errors.Is(err, ErrRemoteUnauthorized) {
		t.Fatalf("期望 ErrRemoteUnauthorized, 实际 %v", err)
	}
}
