package matcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"rename-fusion/app/config"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"

	"github.com/patrickmn/go-cache"
	"resty.dev/v3"
)

// CatalogMatch 刮削库返回的候选记录
type CatalogMatch struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Year      int             `json:"year"`
	MediaType model.MediaType `json:"media_type"`
}

// CatalogClient 元数据刮削客户端接口
type CatalogClient interface {
	SearchMovie(ctx context.Context, title string, year int) ([]CatalogMatch, error)
	SearchTV(ctx context.Context, title string, year int) ([]CatalogMatch, error)
}

// TMDBClient TMDB 刮削客户端
type TMDBClient struct {
	logger *logger.Logger
	cfg    config.TMDBConfig
	client *resty.Client
	cache  *cache.Cache
}

func NewTMDBClient(cfg config.TMDBConfig, log *logger.Logger) *TMDBClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.API, "/")).
		SetHeader("Accept", "application/json")

	return &TMDBClient{
		logger: log,
		cfg:    cfg,
		client: client,
		// 搜索结果缓存 10 分钟，同一批次内重复标题只查一次
		cache: cache.New(10*time.Minute, 30*time.Minute),
	}
}

type tmdbSearchResponse struct {
	Results []struct {
		ID           int    `json:"id"`
		Title        string `json:"title"`
		Name         string `json:"name"`
		ReleaseDate  string `json:"release_date"`
		FirstAirDate string `json:"first_air_date"`
	} `json:"results"`
}

// SearchMovie 按标题（可选年份）搜索电影
func (c *TMDBClient) SearchMovie(ctx context.Context, title string, year int) ([]CatalogMatch, error) {
	return c.search(ctx, "/search/movie", title, year, model.MediaTypeMovie)
}

// SearchTV 按标题（可选年份）搜索剧集
func (c *TMDBClient) SearchTV(ctx context.Context, title string, year int) ([]CatalogMatch, error) {
	return c.search(ctx, "/search/tv", title, year, model.MediaTypeTV)
}

func (c *TMDBClient) search(ctx context.Context, path, title string, year int, mediaType model.MediaType) ([]CatalogMatch, error) {
	cacheKey := fmt.Sprintf("%s|%s|%d", path, strings.ToLower(title), year)
	if cached, found := c.cache.Get(cacheKey); found {
		return cached.([]CatalogMatch), nil
	}

	req := c.client.R().
		SetContext(ctx).
		SetQueryParam("api_key", c.cfg.Key).
		SetQueryParam("query", title).
		SetQueryParam("language", c.cfg.Language)
	if year > 0 {
		if mediaType == model.MediaTypeMovie {
			req.SetQueryParam("year", strconv.Itoa(year))
		} else {
			req.SetQueryParam("first_air_date_year", strconv.Itoa(year))
		}
	}

	var result tmdbSearchResponse
	resp, err := req.SetResult(&result).Get(path)
	if err != nil {
		return nil, fmt.Errorf("请求 TMDB 失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("TMDB 返回错误: %s", resp.Status())
	}

	matches := make([]CatalogMatch, 0, len(result.Results))
	for _, r := range result.Results {
		m := CatalogMatch{
			ID:        strconv.Itoa(r.ID),
			MediaType: mediaType,
		}
		if mediaType == model.MediaTypeMovie {
			m.Title = r.Title
			m.Year = yearOf(r.ReleaseDate)
		} else {
			m.Title = r.Name
			m.Year = yearOf(r.FirstAirDate)
		}
		matches = append(matches, m)
	}

	c.cache.Set(cacheKey, matches, cache.DefaultExpiration)
	return matches, nil
}

func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, _ := strconv.Atoi(date[:4])
	return year
}
