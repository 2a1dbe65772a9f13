// Package namegen 根据解析结果和命名标准生成目标文件名
// 纯函数实现，相同输入永远得到相同输出
package namegen

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"rename-fusion/app/matcher"
	"rename-fusion/app/model"
	"rename-fusion/app/parser"

	"golang.org/x/text/width"
)

// Options 生成选项
type Options struct {
	IncludeResolution bool   `json:"include_resolution"`
	IncludeSource     bool   `json:"include_source"`
	IncludeCodec      bool   `json:"include_codec"`
	IncludeCatalogID  bool   `json:"include_catalog_id"`
	MovieTemplate     string `json:"movie_template"`   // custom 标准的电影模板
	EpisodeTemplate   string `json:"episode_template"` // custom 标准的剧集模板
}

// 各命名标准的默认模板
// 占位符: {title} {year} {season} {episode}，季集补零到两位
var standardTemplates = map[model.NamingStandard]struct {
	movie   string
	episode string
}{
	model.NamingEmby: {movie: "{title} ({year})", episode: "{title} - S{season}E{episode}"},
	model.NamingPlex: {movie: "{title} ({year})", episode: "{title} - s{season}e{episode}"},
	model.NamingKodi: {movie: "{title} ({year})", episode: "{title} S{season}E{episode}"},
}

// Generate 生成目标文件名
// 刮削匹配存在时优先使用刮削库的标准标题和年份；即使置信度为 0 也会生成，
// 以便审核者有内容可编辑。结果永远非空，模板展开为空时退回清洗后的原文件名
func Generate(originalName string, info parser.ParsedInfo, match *matcher.CatalogMatch, standard model.NamingStandard, opts Options) string {
	title := strings.TrimSpace(info.Title)
	year := info.Year
	if match != nil {
		if match.Title != "" {
			title = match.Title
		}
		if match.Year > 0 {
			year = match.Year
		}
	}

	template := selectTemplate(info.MediaType, standard, opts)
	name := expand(template, title, year, info.Season, info.Episode)

	// 可选技术标签
	var tags []string
	if opts.IncludeResolution && info.Resolution != "" {
		tags = append(tags, info.Resolution)
	}
	if opts.IncludeSource && info.SourceTag != "" {
		tags = append(tags, info.SourceTag)
	}
	if opts.IncludeCodec && info.Codec != "" {
		tags = append(tags, info.Codec)
	}
	if len(tags) > 0 {
		name = name + " - " + strings.Join(tags, " ")
	}
	if opts.IncludeCatalogID && match != nil && match.ID != "" {
		name = fmt.Sprintf("%s [tmdbid-%s]", name, match.ID)
	}

	name = Sanitize(name)
	if name == "" {
		// 模板展开为空时退回清洗后的原名，保证结果非空
		base := filepath.Base(originalName)
		name = Sanitize(strings.TrimSuffix(base, filepath.Ext(base)))
		if name == "" {
			name = "unnamed"
		}
	}

	if info.Extension != "" {
		name = name + "." + info.Extension
	}
	return name
}

func selectTemplate(mediaType model.MediaType, standard model.NamingStandard, opts Options) string {
	isEpisode := mediaType == model.MediaTypeTV || mediaType == model.MediaTypeAnime

	if standard == model.NamingCustom {
		if isEpisode && strings.TrimSpace(opts.EpisodeTemplate) != "" {
			return opts.EpisodeTemplate
		}
		if !isEpisode && strings.TrimSpace(opts.MovieTemplate) != "" {
			return opts.MovieTemplate
		}
		standard = model.NamingEmby
	}

	templates, ok := standardTemplates[standard]
	if !ok {
		templates = standardTemplates[model.NamingEmby]
	}
	if isEpisode {
		return templates.episode
	}
	return templates.movie
}

// expand 展开模板占位符，值缺失的占位符连同其修饰符号一并移除
func expand(template, title string, year, season, episode int) string {
	name := template
	name = strings.ReplaceAll(name, "{title}", title)

	if year > 0 {
		name = strings.ReplaceAll(name, "{year}", fmt.Sprintf("%d", year))
	} else {
		name = strings.ReplaceAll(name, "({year})", "")
		name = strings.ReplaceAll(name, "{year}", "")
	}

	if season > 0 || episode > 0 {
		s := season
		if s <= 0 {
			s = 1
		}
		name = strings.ReplaceAll(name, "{season}", fmt.Sprintf("%02d", s))
		name = strings.ReplaceAll(name, "{episode}", fmt.Sprintf("%02d", episode))
	} else {
		name = strings.ReplaceAll(name, "{season}", "")
		name = strings.ReplaceAll(name, "{episode}", "")
	}
	return name
}

var (
	illegalCharRegex = regexp.MustCompile(`[\\/:*?"<>|]`)
	multiSpaceRegex  = regexp.MustCompile(`\s{2,}`)
	multiSepRegex    = regexp.MustCompile(`(\s*-\s*){2,}`)
)

// Sanitize 清洗文件名：全角转半角、去掉路径非法字符、收敛重复分隔符
func Sanitize(name string) string {
	// 网盘上常见全角标点，统一转为半角再过滤
	name = width.Narrow.String(name)
	name = illegalCharRegex.ReplaceAllString(name, "")
	name = multiSepRegex.ReplaceAllString(name, " - ")
	name = multiSpaceRegex.ReplaceAllString(name, " ")
	name = strings.Trim(name, " .-")
	return name
}

// ValidationResult 文件名校验结果
type ValidationResult struct {
	IsValid     bool     `json:"is_valid"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

var ambiguousEpRegex = regexp.MustCompile(`(?i)S\d+E\d+.*S\d+E\d+`)

// Validate 校验候选文件名，返回告警和修改建议
func Validate(name string) ValidationResult {
	result := ValidationResult{
		IsValid:     true,
		Warnings:    []string{},
		Suggestions: []string{},
	}

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		result.IsValid = false
		result.Warnings = append(result.Warnings, "文件名不能为空")
		return result
	}

	if illegalCharRegex.MatchString(trimmed) {
		result.IsValid = false
		result.Warnings = append(result.Warnings, `文件名包含非法字符 \/:*?"<>|`)
		result.Suggestions = append(result.Suggestions, Sanitize(trimmed))
	}

	if len(trimmed) > 255 {
		result.IsValid = false
		result.Warnings = append(result.Warnings, "文件名超过 255 字符")
	}

	if ambiguousEpRegex.MatchString(trimmed) {
		result.Warnings = append(result.Warnings, "文件名中出现多个季集标记，可能引起媒体库识别歧义")
	}

	if strings.HasPrefix(trimmed, ".") {
		result.Warnings = append(result.Warnings, "以点开头的文件在部分系统下会被隐藏")
	}

	return result
}
