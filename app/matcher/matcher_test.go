package matcher

import (
	"context"
	"errors"
	"math"
	"testing"

	"rename-fusion/app/config"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"
	"rename-fusion/app/parser"
)

// fakeCatalog 返回预设候选的刮削客户端
type fakeCatalog struct {
	movies []CatalogMatch
	tvs    []CatalogMatch
	err    error
	movieQ int
	tvQ    int
}

func (f *fakeCatalog) SearchMovie(ctx context.Context, title string, year int) ([]CatalogMatch, error) {
	f.movieQ++
	return f.movies, f.err
}

func (f *fakeCatalog) SearchTV(ctx context.Context, title string, year int) ([]CatalogMatch, error) {
	f.tvQ++
	return f.tvs, f.err
}

func testMatcher(catalog CatalogClient) *Matcher {
	cfg := config.RenameConfig{TMDBTimeoutSeconds: 1}
	return NewMatcher(cfg, catalog, logger.New(config.LogConfig{Level: "error"}))
}

func TestCombine(t *testing.T) {
	cases := []struct {
		ParseConf float64
		MatchConf float64
		Matched   bool
		Expected  float64
	}{
		{0.8, 0.6, true, 0.7},
		{0.9, 0.9, false, 0.9}, // 无匹配时忽略匹配置信度
		{0.6, 0, true, 0.3},
		{1.5, 1.5, true, 1}, // 越界收敛
		{-0.5, 0, false, 0},
	}
	for _, c := range cases {
		if got := Combine(c.ParseConf, c.MatchConf, c.Matched); math.Abs(got-c.Expected) > 1e-9 {
			t.Errorf("Combine(%.2f, %.2f, %v) = %.2f, 期望 %.2f",
				c.ParseConf, c.MatchConf, c.Matched, got, c.Expected)
		}
	}
}

func TestMatchPicksBestCandidate(t *testing.T) {
	catalog := &fakeCatalog{
		movies: []CatalogMatch{
			{ID: "1", Title: "Inception Documentary", Year: 2015},
			{ID: "2", Title: "Inception", Year: 2010},
		},
	}
	m := testMatcher(catalog)

	info := parser.ParsedInfo{MediaType: model.MediaTypeMovie, Title: "Inception", Year: 2010}
	match, conf := m.Match(context.Background(), info)
	if match == nil || match.ID != "2" {
		t.Fatalf("应选中标题和年份都吻合的候选, 实际 %+v", match)
	}
	// 标题完全一致 0.9 + 年份一致 0.2, 收敛到 1
	if conf != 1 {
		t.Fatalf("匹配置信度期望 1, 实际 %.2f", conf)
	}
}

func TestMatchRoutesByMediaType(t *testing.T) {
	catalog := &fakeCatalog{tvs: []CatalogMatch{{ID: "9", Title: "Naruto"}}}
	m := testMatcher(catalog)

	info := parser.ParsedInfo{MediaType: model.MediaTypeAnime, Title: "Naruto", Season: 1, Episode: 1}
	if match, _ := m.Match(context.Background(), info); match == nil {
		t.Fatal("番剧应查询剧集接口并命中")
	}
	if catalog.tvQ != 1 || catalog.movieQ != 0 {
		t.Fatalf("查询路由错误: tv=%d, movie=%d", catalog.tvQ, catalog.movieQ)
	}
}

func TestMatchNoResult(t *testing.T) {
	m := testMatcher(&fakeCatalog{})
	info := parser.ParsedInfo{MediaType: model.MediaTypeMovie, Title: "Nonexistent"}
	if match, conf := m.Match(context.Background(), info); match != nil || conf != 0 {
		t.Fatalf("无候选时应返回 (nil, 0), 实际 (%+v, %.2f)", match, conf)
	}
}

func TestMatchRejectsWeakCandidate(t *testing.T) {
	// 得分低于下限的候选视为未命中
	catalog := &fakeCatalog{movies: []CatalogMatch{{ID: "1", Title: "完全不相关的片名"}}}
	m := testMatcher(catalog)

	info := parser.ParsedInfo{MediaType: model.MediaTypeMovie, Title: "Inception"}
	if match, _ := m.Match(context.Background(), info); match != nil {
		t.Fatalf("弱候选不应命中: %+v", match)
	}
}

func TestMatchQueryFailure(t *testing.T) {
	// 刮削失败降级为无匹配, 不返回错误
	m := testMatcher(&fakeCatalog{err: errors.New("接口超时")})
	info := parser.ParsedInfo{MediaType: model.MediaTypeMovie, Title: "Inception"}
	if match, conf := m.Match(context.Background(), info); match != nil || conf != 0 {
		t.Fatalf("查询失败应返回 (nil, 0), 实际 (%+v, %.2f)", match, conf)
	}
}

func TestMatchEmptyTitle(t *testing.T) {
	catalog := &fakeCatalog{}
	m := testMatcher(catalog)
	if match, _ := m.Match(context.Background(), parser.ParsedInfo{}); match != nil {
		t.Fatal("空标题不应发起查询")
	}
	if catalog.movieQ != 0 && catalog.tvQ != 0 {
		t.Fatal("空标题不应发起查询")
	}
}
