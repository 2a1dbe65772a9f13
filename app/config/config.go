package config

import (
	"fmt"
	"log"

	"github.com/spf13/viper"
)

type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	Rename RenameConfig `mapstructure:"rename"`
	TMDB   TMDBConfig   `mapstructure:"tmdb"`
	AI     AIConfig     `mapstructure:"ai"`
}

type ServerConfig struct {
	Port     string `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`      // json 或 text
	Output     string `mapstructure:"output"`      // stdout 或 file
	MaxSize    int    `mapstructure:"max_size"`    // 兆字节
	MaxBackups int    `mapstructure:"max_backups"` // 备份数量
	MaxAge     int    `mapstructure:"max_age"`     // 天数
	Compress   bool   `mapstructure:"compress"`    // 是否压缩旧文件
}

type JWTConfig struct {
	Secret     string `mapstructure:"secret"`      // JWT 密钥
	ExpireTime int    `mapstructure:"expire_time"` // 过期时间（小时）
	Issuer     string `mapstructure:"issuer"`      // 签发者
}

// RenameConfig 智能重命名引擎配置
type RenameConfig struct {
	ParseConcurrency     int     `mapstructure:"parse_concurrency"`       // 解析+匹配并发数
	LocalConcurrency     int     `mapstructure:"local_concurrency"`       // 本地执行并发数
	AssistThreshold      float64 `mapstructure:"assist_threshold"`        // 低于该置信度时触发 AI 辅助解析
	AutoConfirmThreshold float64 `mapstructure:"auto_confirm_threshold"`  // 高于该置信度时免人工确认
	AITimeoutSeconds     int     `mapstructure:"ai_timeout_seconds"`      // AI 辅助解析超时
	TMDBTimeoutSeconds   int     `mapstructure:"tmdb_timeout_seconds"`    // 刮削匹配超时
	RemoteMinIntervalMs  int     `mapstructure:"remote_min_interval_ms"`  // 115 接口最小调用间隔
	RemoteRetryLimit     int     `mapstructure:"remote_retry_limit"`      // 115 限流重试上限
	BatchRetentionDays   int     `mapstructure:"batch_retention_days"`    // 历史批次保留天数
}

// TMDBConfig 元数据刮削配置
type TMDBConfig struct {
	API      string `mapstructure:"api"`      // API 地址
	Key      string `mapstructure:"key"`      // API 密钥
	Language string `mapstructure:"language"` // 返回语言
}

// AIConfig AI 辅助解析配置
type AIConfig struct {
	API   string `mapstructure:"api"`   // OpenAI 兼容接口地址
	Token string `mapstructure:"token"` // 鉴权令牌
	Model string `mapstructure:"model"` // 模型名称
}

func Load() *Config {
	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		log.Fatalf("无法解码配置: %v", err)
	}

	// 验证配置
	if err := validateConfig(&config); err != nil {
		log.Fatalf("配置验证失败: %v", err)
	}

	return &config
}

// setDefaults 设置默认配置
func setDefaults() {
	viper.SetDefault("server.port", "5000")

	// 日志默认配置
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	// JWT默认配置
	viper.SetDefault("jwt.secret", "your-secret-key-change-in-production")
	viper.SetDefault("jwt.expire_time", 24) // 24小时
	viper.SetDefault("jwt.issuer", "rename-fusion")

	// 重命名引擎默认配置
	viper.SetDefault("rename.parse_concurrency", 3)
	viper.SetDefault("rename.local_concurrency", 4)
	viper.SetDefault("rename.assist_threshold", 0.7)
	viper.SetDefault("rename.auto_confirm_threshold", 0.8)
	viper.SetDefault("rename.ai_timeout_seconds", 6)
	viper.SetDefault("rename.tmdb_timeout_seconds", 6)
	viper.SetDefault("rename.remote_min_interval_ms", 150)
	viper.SetDefault("rename.remote_retry_limit", 3)
	viper.SetDefault("rename.batch_retention_days", 90)

	// TMDB 默认配置
	viper.SetDefault("tmdb.api", "https://api.themoviedb.org/3")
	viper.SetDefault("tmdb.language", "zh-CN")

	// AI 默认配置
	viper.SetDefault("ai.model", "gpt-4o-mini")
}

// validateConfig 验证配置的有效性
func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		return fmt.Errorf("服务器端口未设置")
	}
	if config.JWT.Secret == "" {
		return fmt.Errorf("JWT密钥未设置")
	}
	if config.Rename.ParseConcurrency <= 0 {
		return fmt.Errorf("解析并发数必须大于 0")
	}
	if config.Rename.AssistThreshold < 0 || config.Rename.AssistThreshold > 1 {
		return fmt.Errorf("AI 辅助阈值必须在 [0,1] 范围内")
	}
	if config.Rename.AutoConfirmThreshold < 0 || config.Rename.AutoConfirmThreshold > 1 {
		return fmt.Errorf("自动确认阈值必须在 [0,1] 范围内")
	}
	return nil
}
