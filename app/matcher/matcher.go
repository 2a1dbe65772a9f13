package matcher

import (
	"context"
	"strings"
	"time"

	"rename-fusion/app/config"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"
	"rename-fusion/app/parser"
)

// acceptFloor 候选得分低于该值时视为无匹配
const acceptFloor = 0.5

// 综合置信度的权重，解析与刮削各占一半
// 是否应偏向刮削置信度没有定论，作为可调常量保留
const (
	parseWeight = 0.5
	matchWeight = 0.5
)

// Matcher 元数据匹配器：将解析结果与刮削库对账并合成综合置信度
type Matcher struct {
	logger  *logger.Logger
	cfg     config.RenameConfig
	catalog CatalogClient
}

// NewMatcher 创建匹配器；catalog 为 nil 时所有匹配返回无结果
func NewMatcher(cfg config.RenameConfig, catalog CatalogClient, log *logger.Logger) *Matcher {
	return &Matcher{
		logger:  log,
		cfg:     cfg,
		catalog: catalog,
	}
}

// Match 按解析结果查询刮削库，返回最优候选和匹配置信度
// 超时或查询失败返回 (nil, 0)，不会中断批次
func (m *Matcher) Match(ctx context.Context, info parser.ParsedInfo) (*CatalogMatch, float64) {
	if m.catalog == nil || strings.TrimSpace(info.Title) == "" {
		return nil, 0
	}

	timeout := time.Duration(m.cfg.TMDBTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 6 * time.Second
	}
	matchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		candidates []CatalogMatch
		err        error
	)
	switch info.MediaType {
	case model.MediaTypeTV, model.MediaTypeAnime:
		candidates, err = m.catalog.SearchTV(matchCtx, info.Title, info.Year)
	default:
		candidates, err = m.catalog.SearchMovie(matchCtx, info.Title, info.Year)
	}
	if err != nil {
		m.logger.Warnf("刮削查询失败: 标题=%s, 错误: %v", info.Title, err)
		return nil, 0
	}

	best, score := pickBest(info, candidates)
	if best == nil || score < acceptFloor {
		return nil, 0
	}
	return best, score
}

// Combine 合成综合置信度
// 有刮削匹配时取解析与匹配置信度的加权平均，否则只用解析置信度，
// 缺失的匹配不会被当作成功
func Combine(parseConf, matchConf float64, matched bool) float64 {
	if !matched {
		return clamp01(parseConf)
	}
	return clamp01(parseWeight*parseConf + matchWeight*matchConf)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// pickBest 在候选中挑选与解析结果最接近的一条
func pickBest(info parser.ParsedInfo, candidates []CatalogMatch) (*CatalogMatch, float64) {
	var best *CatalogMatch
	bestScore := 0.0

	for i := range candidates {
		score := scoreCandidate(info, &candidates[i])
		if score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	return best, bestScore
}

// scoreCandidate 标题相似度为主，年份一致加分
func scoreCandidate(info parser.ParsedInfo, candidate *CatalogMatch) float64 {
	score := titleSimilarity(info.Title, candidate.Title)

	if info.Year > 0 && candidate.Year > 0 {
		diff := info.Year - candidate.Year
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff == 0:
			score += 0.2
		case diff == 1:
			score += 0.1
		default:
			score -= 0.2
		}
	}
	return clamp01(score)
}

// titleSimilarity 归一化后的标题相似度：完全相等 > 包含 > 词重叠
func titleSimilarity(a, b string) float64 {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 0.9
	}
	if strings.Contains(nb, na) || strings.Contains(na, nb) {
		return 0.7
	}

	wordsA := strings.Fields(na)
	wordsB := strings.Fields(nb)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}
	set := make(map[string]struct{}, len(wordsA))
	for _, w := range wordsA {
		set[w] = struct{}{}
	}
	overlap := 0
	for _, w := range wordsB {
		if _, ok := set[w]; ok {
			overlap++
		}
	}
	longer := len(wordsA)
	if len(wordsB) > longer {
		longer = len(wordsB)
	}
	return 0.8 * float64(overlap) / float64(longer)
}

func normalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		case r > 127:
			// 保留中日韩等非 ASCII 字符
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
