package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"rename-fusion/app/config"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"

	sdk115 "github.com/OpenListTeam/115-sdk-go"
	driver "github.com/SheltonZhu/115driver/pkg/driver"
	"golang.org/x/time/rate"
)

// remotePageLimit 115 目录分页大小
const remotePageLimit = 1150

// Remote115Backend 115 网盘后端
// 枚举优先走 OpenAPI（访问令牌），重命名走网页版接口（Cookie）。
// 所有调用共享一个限速器，避免触发 115 限流
type Remote115Backend struct {
	logger     *logger.Logger
	storage    *model.CloudStorage
	openClient *sdk115.Client
	webClient  *driver.Pan115Client
	limiter    *rate.Limiter
	retryLimit int
}

// NewRemote115Backend 按存储配置创建 115 后端
// 重命名依赖网页版 Cookie，没有 Cookie 的存储无法执行改名
func NewRemote115Backend(storage *model.CloudStorage, cfg config.RenameConfig, log *logger.Logger) (*Remote115Backend, error) {
	if storage == nil || !storage.IsAvailable() {
		return nil, fmt.Errorf("%w: 云存储不可用", ErrRemoteUnauthorized)
	}

	interval := time.Duration(cfg.RemoteMinIntervalMs) * time.Millisecond
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	retryLimit := cfg.RemoteRetryLimit
	if retryLimit <= 0 {
		retryLimit = 3
	}

	b := &Remote115Backend{
		logger:     log,
		storage:    storage,
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		retryLimit: retryLimit,
	}

	if storage.AccessToken != "" {
		b.openClient = sdk115.New()
		b.openClient.SetAccessToken(storage.AccessToken)
	}

	if cookie := normalizeCookie(storage.Cookie); cookie != "" {
		cred, err := parse115Credential(cookie)
		if err != nil {
			return nil, err
		}
		client := driver.New(driver.UA(driver.UA115Browser))
		client.ImportCredential(cred)
		b.webClient = client
	}

	if b.openClient == nil && b.webClient == nil {
		return nil, fmt.Errorf("%w: 存储既没有访问令牌也没有 Cookie", ErrRemoteUnauthorized)
	}
	return b, nil
}

// List 分页列出网盘目录下的文件
func (b *Remote115Backend) List(ctx context.Context, target string) ([]SourceFile, error) {
	if b.openClient != nil {
		return b.listOpen(ctx, target)
	}
	return b.listWeb(ctx, target)
}

// listOpen 通过 OpenAPI 分页获取目录文件
func (b *Remote115Backend) listOpen(ctx context.Context, cid string) ([]SourceFile, error) {
	req := &sdk115.GetFilesReq{
		CID:     cid,
		ShowDir: true,
		Stdir:   1,
		Limit:   remotePageLimit,
		Offset:  0,
	}

	files := make([]SourceFile, 0)
	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := b.openClient.GetFiles(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("获取115文件列表失败: %w", err)
		}

		for _, file := range resp.Data {
			// Fc == "1" 表示文件，其余是目录
			if file.Fc != "1" {
				continue
			}
			files = append(files, SourceFile{
				Identifier: file.Fid,
				Name:       file.Fn,
			})
		}

		if req.Offset+req.Limit >= resp.Count {
			break
		}
		req.Offset += req.Limit
	}
	return files, nil
}

// listWeb 通过网页版接口分页获取目录文件
func (b *Remote115Backend) listWeb(ctx context.Context, cid string) ([]SourceFile, error) {
	files := make([]SourceFile, 0)
	offset := 0

	for {
		if err := b.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result := driver.FileListResp{}
		req := b.webClient.NewRequest().
			ForceContentType("application/json;charset=UTF-8").
			SetQueryParams(map[string]string{
				"aid":           "1",
				"cid":           cid,
				"offset":        strconv.Itoa(offset),
				"limit":         strconv.Itoa(remotePageLimit),
				"show_dir":      "0",
				"natsort":       "1",
				"count_folders": "1",
				"format":        "json",
			}).
			SetResult(&result)
		resp, err := req.Get(driver.ApiFileList)
		if err = driver.CheckErr(err, &result, resp); err != nil {
			return nil, fmt.Errorf("获取115文件列表失败: %w", err)
		}

		for i := range result.Files {
			file := (&driver.File{}).From(&result.Files[i])
			if file.IsDirectory {
				continue
			}
			files = append(files, SourceFile{
				Identifier: file.FileID,
				Name:       file.Name,
				Size:       file.Size,
			})
		}

		offset += remotePageLimit
		if offset >= int(result.Count) {
			break
		}
	}
	return files, nil
}

// Rename 重命名网盘文件
// 触发限流(429)时退避重试，重试耗尽后报 ErrRemoteRateLimited，绝不无限重试
func (b *Remote115Backend) Rename(ctx context.Context, identifier, newName string) error {
	if b.webClient == nil {
		return fmt.Errorf("%w: 重命名需要配置网页版 Cookie", ErrRemoteUnauthorized)
	}
	if strings.TrimSpace(identifier) == "" || strings.TrimSpace(newName) == "" {
		return ErrInvalidName
	}

	return b.withRetry(ctx, func() error {
		return b.renameOnce(identifier, newName)
	})
}

// withRetry 对限流错误做有界退避重试，其他错误直接返回
func (b *Remote115Backend) withRetry(ctx context.Context, op func() error) error {
	var lastErr error
	for attempt := 1; attempt <= b.retryLimit; attempt++ {
		if err := b.limiter.Wait(ctx); err != nil {
			return err
		}

		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrRemoteRateLimited) {
			return err
		}

		lastErr = err
		b.logger.Warnf("115 接口限流，第 %d/%d 次尝试: %v", attempt, b.retryLimit, err)
		if attempt < b.retryLimit {
			// 线性退避后再试
			if sleepErr := sleepCtx(ctx, time.Duration(attempt)*500*time.Millisecond); sleepErr != nil {
				return sleepErr
			}
		}
	}
	return lastErr
}

// renameOnce 发一次 115 网页版重命名请求
func (b *Remote115Backend) renameOnce(identifier, newName string) error {
	result := driver.BasicResp{}
	req := b.webClient.NewRequest().
		SetFormData(map[string]string{
			fmt.Sprintf("files_new_name[%s]", identifier): newName,
		}).
		ForceContentType("application/json;charset=UTF-8").
		SetResult(&result)
	resp, err := req.Post(driver.ApiFileRename)

	if resp != nil {
		switch resp.StatusCode() {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: fid=%s", ErrRemoteRateLimited, identifier)
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: fid=%s", ErrRemoteUnauthorized, identifier)
		case http.StatusNotFound:
			return fmt.Errorf("%w: fid=%s", ErrRemoteNotFound, identifier)
		}
	}

	if err = driver.CheckErr(err, &result, resp); err != nil {
		return fmt.Errorf("115 重命名失败: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// parse115Credential 从 Cookie 字符串解析 115 凭证
func parse115Credential(cookie string) (*driver.Credential, error) {
	cred := &driver.Credential{}
	if err := cred.FromCookie(cookie); err == nil {
		return cred, nil
	}

	parts := strings.Split(cookie, ";")
	values := make(map[string]string, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pair := strings.SplitN(part, "=", 2)
		if len(pair) != 2 {
			continue
		}
		values[strings.ToUpper(strings.TrimSpace(pair[0]))] = strings.TrimSpace(pair[1])
	}

	cred.UID = values["UID"]
	cred.CID = values["CID"]
	cred.SEID = values["SEID"]
	cred.KID = values["KID"]

	if cred.UID == "" || cred.CID == "" || cred.SEID == "" {
		return nil, fmt.Errorf("%w: 解析 115 Cookie 失败，缺少 UID/CID/SEID", ErrRemoteUnauthorized)
	}

	return cred, nil
}

func normalizeCookie(cookie string) string {
	cookie = strings.TrimSpace(cookie)
	if strings.HasPrefix(strings.ToLower(cookie), "cookie:") {
		return strings.TrimSpace(cookie[len("cookie:"):])
	}
	return cookie
}
