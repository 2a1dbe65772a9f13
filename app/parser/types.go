package parser

import (
	"path/filepath"
	"strings"

	"rename-fusion/app/model"
)

// ParsedInfo 从文件名解析出的媒体信息
type ParsedInfo struct {
	MediaType  model.MediaType `json:"media_type"`
	Title      string          `json:"title"`
	Year       int             `json:"year,omitempty"`
	Season     int             `json:"season,omitempty"`
	Episode    int             `json:"episode,omitempty"`
	Resolution string          `json:"resolution,omitempty"`
	SourceTag  string          `json:"source_tag,omitempty"`
	Codec      string          `json:"codec,omitempty"`
	Group      string          `json:"group,omitempty"`
	Extension  string          `json:"extension,omitempty"`
}

// HasEpisode 是否解析出了季/集信息
func (p *ParsedInfo) HasEpisode() bool {
	return p.Episode > 0
}

// IsVideoFile 根据扩展名判断是否为视频文件
func IsVideoFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".mp4", ".mkv", ".avi", ".mov", ".flv", ".wmv", ".ts", ".rmvb", ".webm", ".m2ts", ".iso":
		return true
	}
	return false
}
