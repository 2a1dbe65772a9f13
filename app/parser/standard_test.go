package parser

import (
	"testing"

	"rename-fusion/app/model"
)

func TestStandardParse(t *testing.T) {
	cases := []struct {
		Filename   string
		Title      string
		Season     int
		Episode    int
		Year       int
		Resolution string
		MediaType  model.MediaType
		MinConf    float64
	}{
		{
			Filename:   "Naruto.S01E01.1080p.mkv",
			Title:      "Naruto",
			Season:     1,
			Episode:    1,
			Resolution: "1080p",
			MediaType:  model.MediaTypeTV,
			MinConf:    0.6,
		},
		{
			Filename:   "Inception.2010.1080p.BluRay.x264-GROUP.mkv",
			Title:      "Inception",
			Year:       2010,
			Resolution: "1080p",
			MediaType:  model.MediaTypeMovie,
			MinConf:    0.6,
		},
		{
			Filename:   "[SubsPlease] Frieren - 28 (1080p).mkv",
			Title:      "Frieren",
			Season:     1,
			Episode:    28,
			Resolution: "1080p",
			MediaType:  model.MediaTypeAnime,
			MinConf:    0.6,
		},
		{
			Filename:  "家庭录像 第3集.mp4",
			Title:     "家庭录像",
			Season:    1,
			Episode:   3,
			MediaType: model.MediaTypeTV,
			MinConf:   0.5,
		},
		{
			// 什么都识别不出来时只有标题，置信度应当很低
			Filename:  "Some Random Clip.mp4",
			Title:     "Some Random Clip",
			MediaType: model.MediaTypeUnknown,
			MinConf:   0.2,
		},
	}

	p := NewStandardParser()
	for _, c := range cases {
		info, conf := p.Parse(c.Filename)
		if info.Title != c.Title {
			t.Errorf("%s: 标题错误, 期望 %q, 实际 %q", c.Filename, c.Title, info.Title)
		}
		if info.Season != c.Season || info.Episode != c.Episode {
			t.Errorf("%s: 季集错误, 期望 S%dE%d, 实际 S%dE%d", c.Filename, c.Season, c.Episode, info.Season, info.Episode)
		}
		if info.Year != c.Year {
			t.Errorf("%s: 年份错误, 期望 %d, 实际 %d", c.Filename, c.Year, info.Year)
		}
		if info.Resolution != c.Resolution {
			t.Errorf("%s: 分辨率错误, 期望 %q, 实际 %q", c.Filename, c.Resolution, info.Resolution)
		}
		if info.MediaType != c.MediaType {
			t.Errorf("%s: 类型错误, 期望 %s, 实际 %s", c.Filename, c.MediaType, info.MediaType)
		}
		if conf < c.MinConf {
			t.Errorf("%s: 置信度过低, 期望 >= %.2f, 实际 %.2f", c.Filename, c.MinConf, conf)
		}
		if conf > StandardMaxConfidence {
			t.Errorf("%s: 置信度超过上限 %.2f: %.2f", c.Filename, StandardMaxConfidence, conf)
		}
	}
}

func TestStandardParseFullFeature(t *testing.T) {
	p := NewStandardParser()
	info, conf := p.Parse("Dark.S01E02.2019.1080p.WEB-DL.x265.mkv")

	if info.Title != "Dark" || info.Season != 1 || info.Episode != 2 {
		t.Fatalf("解析结果不符: %+v", info)
	}
	if info.Year != 2019 || info.SourceTag != "WEB-DL" || info.Codec != "x265" {
		t.Fatalf("技术要素不符: %+v", info)
	}
	// 所有要素都命中时置信度应达到上限
	if conf != StandardMaxConfidence {
		t.Fatalf("置信度期望 %.2f, 实际 %.2f", StandardMaxConfidence, conf)
	}
}

func TestIsVideoFile(t *testing.T) {
	cases := []struct {
		Name  string
		Video bool
	}{
		{"movie.mkv", true},
		{"movie.MP4", true},
		{"show.ts", true},
		{"subtitle.srt", false},
		{"poster.jpg", false},
		{"noext", false},
	}
	for _, c := range cases {
		if got := IsVideoFile(c.Name); got != c.Video {
			t.Errorf("IsVideoFile(%q) = %v, 期望 %v", c.Name, got, c.Video)
		}
	}
}
