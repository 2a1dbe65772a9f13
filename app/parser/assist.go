package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"rename-fusion/app/config"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"

	"resty.dev/v3"
)

// AssistedParser AI 辅助解析接口
type AssistedParser interface {
	Parse(ctx context.Context, filename string) (ParsedInfo, float64, error)
}

// AIClient 调用 OpenAI 兼容接口解析文件名
type AIClient struct {
	logger *logger.Logger
	cfg    config.AIConfig
	client *resty.Client
}

func NewAIClient(cfg config.AIConfig, log *logger.Logger) *AIClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.API, "/")).
		SetHeader("Authorization", "Bearer "+cfg.Token).
		SetHeader("Content-Type", "application/json")

	return &AIClient{
		logger: log,
		cfg:    cfg,
		client: client,
	}
}

// IsConfigured AI 接口是否已配置
func (c *AIClient) IsConfigured() bool {
	return strings.TrimSpace(c.cfg.API) != "" && strings.TrimSpace(c.cfg.Token) != ""
}

const assistPrompt = `你是媒体文件名解析助手。解析给定文件名，只输出一个 JSON 对象，字段：
media_type(movie/tv/anime/unknown), title, year, season, episode, resolution, source_tag, codec, confidence(0-1)。
无法识别的字段填零值。文件名：`

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type assistResult struct {
	MediaType  string  `json:"media_type"`
	Title      string  `json:"title"`
	Year       int     `json:"year"`
	Season     int     `json:"season"`
	Episode    int     `json:"episode"`
	Resolution string  `json:"resolution"`
	SourceTag  string  `json:"source_tag"`
	Codec      string  `json:"codec"`
	Confidence float64 `json:"confidence"`
}

// Parse 调用 AI 接口解析文件名，超时由调用方通过 ctx 控制
func (c *AIClient) Parse(ctx context.Context, filename string) (ParsedInfo, float64, error) {
	if !c.IsConfigured() {
		return ParsedInfo{}, 0, fmt.Errorf("AI 接口未配置")
	}

	reqBody := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "user", Content: assistPrompt + filename},
		},
	}

	var result chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(reqBody).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return ParsedInfo{}, 0, fmt.Errorf("请求 AI 接口失败: %w", err)
	}
	if resp.IsError() {
		return ParsedInfo{}, 0, fmt.Errorf("AI 接口返回错误: %s", resp.Status())
	}
	if len(result.Choices) == 0 {
		return ParsedInfo{}, 0, fmt.Errorf("AI 接口未返回内容")
	}

	return parseAssistContent(result.Choices[0].Message.Content, filename)
}

// parseAssistContent 解析模型输出中的 JSON（可能被 markdown 代码块包裹）
func parseAssistContent(content, filename string) (ParsedInfo, float64, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return ParsedInfo{}, 0, fmt.Errorf("AI 返回内容不是 JSON: %s", content)
	}

	var result assistResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return ParsedInfo{}, 0, fmt.Errorf("解析 AI 返回 JSON 失败: %w", err)
	}

	info := ParsedInfo{
		MediaType:  model.MediaType(result.MediaType),
		Title:      strings.TrimSpace(result.Title),
		Year:       result.Year,
		Season:     result.Season,
		Episode:    result.Episode,
		Resolution: result.Resolution,
		SourceTag:  result.SourceTag,
		Codec:      result.Codec,
		Extension:  strings.ToLower(strings.TrimPrefix(extOf(filename), ".")),
	}
	switch info.MediaType {
	case model.MediaTypeMovie, model.MediaTypeTV, model.MediaTypeAnime:
	default:
		info.MediaType = model.MediaTypeUnknown
	}

	conf := result.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}
	return info, conf, nil
}

func extOf(filename string) string {
	if idx := strings.LastIndex(filename, "."); idx != -1 {
		return filename[idx:]
	}
	return ""
}

// WithTimeout 返回带超时的子上下文，秒数非法时使用默认 6 秒
func WithTimeout(ctx context.Context, seconds int) (context.Context, context.CancelFunc) {
	if seconds <= 0 {
		seconds = 6
	}
	return context.WithTimeout(ctx, time.Duration(seconds)*time.Second)
}
