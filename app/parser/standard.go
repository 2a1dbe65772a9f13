package parser

import (
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"rename-fusion/app/model"
)

// StandardMaxConfidence 规则解析的置信度上限
// 规则解析无法从语义上验证标题是否正确，置信度不会超过该值
const StandardMaxConfidence = 0.85

// 识别到的要素对应的置信度权重
const (
	weightTitle      = 0.25
	weightEpisode    = 0.30
	weightYear       = 0.15
	weightResolution = 0.10
	weightSource     = 0.08
	weightCodec      = 0.07
)

var (
	groupRegex      = regexp.MustCompile(`^\[(.*?)\]`)
	sxeRegex        = regexp.MustCompile(`(?i)\bS(\d{1,2})\s*E(\d{1,3})\b`)
	seasonTextRegex = regexp.MustCompile(`(?i)\bSeason\s*(\d{1,2})\b`)
	// \b 只认 ASCII，中文标记单独匹配
	cnSeasonRegex  = regexp.MustCompile(`第\s*(\d{1,2})\s*季`)
	dashEpRegex    = regexp.MustCompile(`\s-\s(\d{1,3})(?:v\d)?\b`)
	bracketEpRegex = regexp.MustCompile(`\[(\d{1,3})(?:v\d)?\]`)
	epTextRegex    = regexp.MustCompile(`(?i)\bEP?\s*(\d{1,3})\b`)
	cnEpRegex      = regexp.MustCompile(`第\s*(\d{1,3})\s*(?:集|话|話)`)
	yearRegex       = regexp.MustCompile(`\b(19\d{2}|20\d{2})\b`)
	resolutionRegex = regexp.MustCompile(`(?i)\b(2160p|1080p|720p|480p|4k|1920x1080|1280x720|3840x2160)\b`)
	sourceRegex     = regexp.MustCompile(`(?i)\b(web-?dl|web-?rip|blu-?ray|bd-?rip|dvd-?rip|hdtv|remux|uhd)\b`)
	codecRegex      = regexp.MustCompile(`(?i)\b(x264|x265|h\.?264|h\.?265|hevc|avc|av1|vp9)\b`)
)

// StandardParser 基于有序规则集的文件名解析器
// 纯模式匹配，不发起外部调用
type StandardParser struct{}

func NewStandardParser() *StandardParser {
	return &StandardParser{}
}

// Parse 解析文件名，返回解析结果和置信度
// 置信度由识别到的要素数量决定，识别越多越高，上限 0.85
func (p *StandardParser) Parse(filename string) (ParsedInfo, float64) {
	base := filepath.Base(filename)
	ext := filepath.Ext(base)
	cleanName := strings.TrimSuffix(base, ext)

	info := ParsedInfo{
		MediaType: model.MediaTypeUnknown,
		Extension: strings.ToLower(strings.TrimPrefix(ext, ".")),
	}

	// 发布组标签通常出现在开头的方括号内
	if match := groupRegex.FindStringSubmatch(cleanName); len(match) > 1 {
		info.Group = match[1]
	}

	// 统一分隔符，方便后续按词匹配
	normalized := strings.NewReplacer("_", " ", ".", " ").Replace(cleanName)

	confidence := 0.0

	if match := resolutionRegex.FindStringSubmatch(normalized); len(match) > 1 {
		info.Resolution = strings.ToLower(match[1])
		confidence += weightResolution
	}
	if match := sourceRegex.FindStringSubmatch(normalized); len(match) > 1 {
		info.SourceTag = normalizeSourceTag(match[1])
		confidence += weightSource
	}
	if match := codecRegex.FindStringSubmatch(normalized); len(match) > 1 {
		info.Codec = strings.ToLower(strings.ReplaceAll(match[1], ".", ""))
		confidence += weightCodec
	}

	// 季集识别按优先级依次尝试：SxxEyy > Season 文本 > " - NN" > [NN] > EP 文本
	structureIdx := -1
	if match := sxeRegex.FindStringSubmatchIndex(normalized); match != nil {
		info.Season, _ = strconv.Atoi(normalized[match[2]:match[3]])
		info.Episode, _ = strconv.Atoi(normalized[match[4]:match[5]])
		structureIdx = match[0]
		confidence += weightEpisode
	} else if match := findSeasonText(normalized); match != nil {
		info.Season, _ = strconv.Atoi(normalized[match[2]:match[3]])
		structureIdx = match[0]
		if ep, _ := findEpisodeNumber(normalized[match[1]:]); ep > 0 {
			info.Episode = ep
			confidence += weightEpisode
		}
	} else if ep, idx := findEpisodeNumber(normalized); ep > 0 {
		info.Season = 1
		info.Episode = ep
		structureIdx = idx
		confidence += weightEpisode
	}

	// 年份要避开分辨率数字，且通常出现在标题之后
	if match := yearRegex.FindStringSubmatchIndex(normalized); match != nil {
		year, _ := strconv.Atoi(normalized[match[2]:match[3]])
		info.Year = year
		confidence += weightYear
		if structureIdx == -1 || match[0] < structureIdx {
			structureIdx = match[0]
		}
	}

	// 标题取第一个结构性标记之前的部分
	titlePart := normalized
	if structureIdx > 0 {
		titlePart = normalized[:structureIdx]
	} else if structureIdx == 0 {
		titlePart = ""
	}
	info.Title = cleanTitle(titlePart)
	if info.Title == "" {
		// 实在取不到时退回整个文件名清洗的结果
		info.Title = cleanTitle(normalized)
	}
	if info.Title != "" {
		confidence += weightTitle
	}

	info.MediaType = classifyMediaType(&info)

	if confidence > StandardMaxConfidence {
		confidence = StandardMaxConfidence
	}
	return info, confidence
}

// findSeasonText 匹配 "Season N" 或 "第N季" 文本标记
func findSeasonText(s string) []int {
	if match := seasonTextRegex.FindStringSubmatchIndex(s); match != nil {
		return match
	}
	return cnSeasonRegex.FindStringSubmatchIndex(s)
}

// findEpisodeNumber 在字符串中寻找最可能的集号，返回集号和位置
func findEpisodeNumber(s string) (int, int) {
	for _, re := range []*regexp.Regexp{dashEpRegex, bracketEpRegex, epTextRegex, cnEpRegex} {
		if match := re.FindStringSubmatchIndex(s); match != nil {
			ep, _ := strconv.Atoi(s[match[2]:match[3]])
			if isLikelyEpisodeNumber(ep) {
				return ep, match[0]
			}
		}
	}
	return 0, -1
}

// isLikelyEpisodeNumber 过滤掉年份和分辨率数字
func isLikelyEpisodeNumber(num int) bool {
	if num <= 0 || num > 999 {
		return false
	}
	switch num {
	case 480, 720:
		return false
	}
	return true
}

func classifyMediaType(info *ParsedInfo) model.MediaType {
	if info.HasEpisode() {
		if info.Group != "" {
			// 带发布组方括号前缀的剧集绝大多数是番剧命名习惯
			return model.MediaTypeAnime
		}
		return model.MediaTypeTV
	}
	if info.Season > 0 {
		return model.MediaTypeTV
	}
	if info.Year > 0 {
		return model.MediaTypeMovie
	}
	return model.MediaTypeUnknown
}

var junkTokenRegex = regexp.MustCompile(`(?i)\b(repack|proper|complete|multi|chs|cht|gb|big5|内封|内嵌|简繁|字幕组?)\b`)

// cleanTitle 清洗标题：去掉方括号内容、技术标签和多余分隔符
func cleanTitle(s string) string {
	s = regexp.MustCompile(`\[.*?\]`).ReplaceAllString(s, " ")
	s = junkTokenRegex.ReplaceAllString(s, " ")
	s = strings.NewReplacer("(", " ", ")", " ", "-", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

func normalizeSourceTag(tag string) string {
	tag = strings.ToUpper(strings.ReplaceAll(tag, "-", ""))
	switch tag {
	case "WEBDL":
		return "WEB-DL"
	case "WEBRIP":
		return "WEBRip"
	case "BLURAY":
		return "BluRay"
	case "BDRIP":
		return "BDRip"
	case "DVDRIP":
		return "DVDRip"
	case "HDTV":
		return "HDTV"
	case "REMUX":
		return "Remux"
	case "UHD":
		return "UHD"
	}
	return tag
}
