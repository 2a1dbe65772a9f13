package parser

import (
	"context"

	"rename-fusion/app/config"
	"rename-fusion/app/logger"
	"rename-fusion/app/model"
)

// Pipeline 解析管线：按算法选择规则解析与 AI 辅助解析的组合
type Pipeline struct {
	logger   *logger.Logger
	cfg      config.RenameConfig
	standard *StandardParser
	assisted AssistedParser
}

// NewPipeline 创建解析管线；assisted 为 nil 时 AI 相关算法退化为规则解析
func NewPipeline(cfg config.RenameConfig, assisted AssistedParser, log *logger.Logger) *Pipeline {
	return &Pipeline{
		logger:   log,
		cfg:      cfg,
		standard: NewStandardParser(),
		assisted: assisted,
	}
}

// Parse 按指定算法解析文件名
// 返回解析结果、实际使用的算法和置信度。AI 调用超时或出错不会让解析失败，
// 而是回落到规则解析结果
func (p *Pipeline) Parse(ctx context.Context, filename string, algorithm model.Algorithm, forceAssist bool) (ParsedInfo, model.Algorithm, float64) {
	switch algorithm {
	case model.AlgorithmAIOnly:
		return p.parseAIOnly(ctx, filename)
	case model.AlgorithmAIEnhanced:
		return p.parseAIEnhanced(ctx, filename, forceAssist)
	default:
		info, conf := p.standard.Parse(filename)
		return info, model.AlgorithmStandard, conf
	}
}

// parseAIEnhanced 先规则解析，置信度不足或强制辅助时再调 AI，取置信度更高的一方
func (p *Pipeline) parseAIEnhanced(ctx context.Context, filename string, forceAssist bool) (ParsedInfo, model.Algorithm, float64) {
	info, conf := p.standard.Parse(filename)

	if !forceAssist && conf >= p.cfg.AssistThreshold {
		return info, model.AlgorithmStandard, conf
	}
	if p.assisted == nil {
		return info, model.AlgorithmStandard, conf
	}

	aiInfo, aiConf, err := p.parseAssisted(ctx, filename)
	if err != nil {
		// AI 失败不致命，保留规则解析结果和原置信度
		p.logger.Warnf("AI 辅助解析失败，回落到规则解析: %s, 错误: %v", filename, err)
		return info, model.AlgorithmStandard, conf
	}

	if aiConf > conf {
		return aiInfo, model.AlgorithmAIEnhanced, aiConf
	}
	return info, model.AlgorithmStandard, conf
}

// parseAIOnly 只使用 AI 解析；失败时仍回落到规则解析结果
func (p *Pipeline) parseAIOnly(ctx context.Context, filename string) (ParsedInfo, model.Algorithm, float64) {
	if p.assisted != nil {
		if info, conf, err := p.parseAssisted(ctx, filename); err == nil {
			return info, model.AlgorithmAIOnly, conf
		} else {
			p.logger.Warnf("AI 解析失败，回落到规则解析: %s, 错误: %v", filename, err)
		}
	}
	info, conf := p.standard.Parse(filename)
	return info, model.AlgorithmStandard, conf
}

func (p *Pipeline) parseAssisted(ctx context.Context, filename string) (ParsedInfo, float64, error) {
	assistCtx, cancel := WithTimeout(ctx, p.cfg.AITimeoutSeconds)
	defer cancel()
	return p.assisted.Parse(assistCtx, filename)
}
