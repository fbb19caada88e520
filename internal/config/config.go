// Package config 负责加载配置：config.toml / 环境变量 / .env，统一校验后交给各组件
package config

import (
	"os"
	"strings"
	"time"

	"github-trending-poster/internal/common"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "TRENDPOST"

// Config 是整个程序的配置
type Config struct {
	Language    string `mapstructure:"language"`
	Since       string `mapstructure:"since"`  // daily | weekly | monthly
	Source      string `mapstructure:"source"` // trending | search
	Concurrency int    `mapstructure:"concurrency"`
	MaxItems    int    `mapstructure:"max_items"` // 0 表示不限
	Schedule    string `mapstructure:"schedule"`

	Timeouts  TimeoutsConfig  `mapstructure:"timeouts"`
	GitHub    GitHubConfig    `mapstructure:"github"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Publisher PublisherConfig `mapstructure:"publisher"`
	Store     StoreConfig     `mapstructure:"store"`
	Denylist  DenylistConfig  `mapstructure:"denylist"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

// TimeoutsConfig 每一次外部调用的超时
type TimeoutsConfig struct {
	Fetch     time.Duration `mapstructure:"fetch"`
	Summarize time.Duration `mapstructure:"summarize"`
	Publish   time.Duration `mapstructure:"publish"`
	Store     time.Duration `mapstructure:"store"`
	Readme    time.Duration `mapstructure:"readme"`
}

type GitHubConfig struct {
	Token       string `mapstructure:"token"`
	TrendingURL string `mapstructure:"trending_url"`
}

type LLMConfig struct {
	Provider        string        `mapstructure:"provider"` // openai | gemini
	APIBase         string        `mapstructure:"api_base"`
	APIKey          string        `mapstructure:"api_key"`
	Model           string        `mapstructure:"model"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	MaxSummaryChars int           `mapstructure:"max_summary_chars"`
	ReadmeChars     int           `mapstructure:"readme_chars"`
	Retry           common.Policy `mapstructure:"retry"`
}

type PublisherConfig struct {
	Platform string        `mapstructure:"platform"` // zsxq | feishu
	Interval time.Duration `mapstructure:"interval"` // 两次发布之间的最小间隔
	Tags     []string      `mapstructure:"tags"`
	Retry    common.Policy `mapstructure:"retry"`
	Zsxq     ZsxqConfig    `mapstructure:"zsxq"`
	Feishu   FeishuConfig  `mapstructure:"feishu"`
}

type ZsxqConfig struct {
	Cookie  string `mapstructure:"cookie"`
	GroupID string `mapstructure:"group_id"`
	BaseURL string `mapstructure:"base_url"`
}

type FeishuConfig struct {
	Webhook string `mapstructure:"webhook"`
}

type StoreConfig struct {
	Driver    string        `mapstructure:"driver"` // sqlite | postgres | redis
	Path      string        `mapstructure:"path"`
	DSN       string        `mapstructure:"dsn"`
	RedisURL  string        `mapstructure:"redis_url"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Retention time.Duration `mapstructure:"retention"` // 0 表示永久保留
}

type DenylistConfig struct {
	Names        []string `mapstructure:"names"`
	Authors      []string `mapstructure:"authors"`
	Descriptions []string `mapstructure:"descriptions"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console | json
}

// envBindings 兼容不带前缀的常用环境变量
var envBindings = map[string][]string{
	"language":                 {"TRENDING_LANGUAGE"},
	"llm.api_base":             {"OPENAI_API_BASE"},
	"llm.api_key":              {"OPENAI_API_KEY"},
	"llm.model":                {"OPENAI_MODEL"},
	"llm.gemini_api_key":       {"GEMINI_API_KEY"},
	"github.token":             {"GITHUB_TOKEN"},
	"publisher.zsxq.cookie":    {"ZSXQ_COOKIE"},
	"publisher.zsxq.group_id":  {"ZSXQ_GROUP_ID"},
	"publisher.feishu.webhook": {"FEISHU_WEBHOOK"},
	"store.dsn":                {"DATABASE_DSN"},
	"store.redis_url":          {"REDIS_URL"},
}

// Load 读取配置：默认值 < 配置文件 < 环境变量
// cfgFile 为空时在当前目录查找 config.toml，找不到也没关系
func Load(cfgFile string) (*Config, error) {
	cfg, err := load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

// LoadDryRun 只校验抓取和摘要需要的部分，给不发布的调试工具用
func LoadDryRun(cfgFile string) (*Config, error) {
	cfg, err := load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.validateCore(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return cfg, nil
}

func load(cfgFile string) (*Config, error) {
	// .env 只是方便本地开发，不存在就跳过
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "loading .env")
	}

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, errors.Wrap(err, "reading config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "unmarshaling config")
	}

	cfg.normalize()
	return &cfg, nil
}

func bindEnv(v *viper.Viper) error {
	for key, names := range envBindings {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		args := append([]string{key, prefixed}, names...)
		if err := v.BindEnv(args...); err != nil {
			return errors.Wrapf(err, "binding env for %s", key)
		}
	}
	return nil
}

// SetDefaults 所有键都要有默认值，AutomaticEnv 才能在 Unmarshal 时生效
func SetDefaults(v *viper.Viper) {
	v.SetDefault("language", "go")
	v.SetDefault("since", "daily")
	v.SetDefault("source", "trending")
	v.SetDefault("concurrency", 3)
	v.SetDefault("max_items", 0)
	v.SetDefault("schedule", "@every 1h")

	v.SetDefault("timeouts.fetch", 30*time.Second)
	v.SetDefault("timeouts.summarize", 60*time.Second)
	v.SetDefault("timeouts.publish", 60*time.Second)
	v.SetDefault("timeouts.store", 5*time.Second)
	v.SetDefault("timeouts.readme", 10*time.Second)

	v.SetDefault("github.token", "")
	v.SetDefault("github.trending_url", "https://github.com/trending")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.api_base", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 800)
	v.SetDefault("llm.max_summary_chars", 600)
	v.SetDefault("llm.readme_chars", 4000)
	v.SetDefault("llm.retry.max_attempts", 3)
	v.SetDefault("llm.retry.initial_delay", 2*time.Second)
	v.SetDefault("llm.retry.max_delay", 60*time.Second)
	v.SetDefault("llm.retry.multiplier", 2.0)
	v.SetDefault("llm.retry.jitter", 0.5)

	v.SetDefault("publisher.platform", "zsxq")
	v.SetDefault("publisher.interval", 10*time.Second)
	v.SetDefault("publisher.tags", []string{"Go", "开源项目", "项目推荐"})
	v.SetDefault("publisher.retry.max_attempts", 3)
	v.SetDefault("publisher.retry.initial_delay", 5*time.Second)
	v.SetDefault("publisher.retry.max_delay", 2*time.Minute)
	v.SetDefault("publisher.retry.multiplier", 2.0)
	v.SetDefault("publisher.retry.jitter", 0.5)
	v.SetDefault("publisher.zsxq.cookie", "")
	v.SetDefault("publisher.zsxq.group_id", "")
	v.SetDefault("publisher.zsxq.base_url", "https://api.zsxq.com")
	v.SetDefault("publisher.feishu.webhook", "")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.path", "trendpost.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.redis_url", "")
	v.SetDefault("store.key_prefix", "trendpost:")
	v.SetDefault("store.retention", time.Duration(0))

	v.SetDefault("denylist.names", []string{})
	v.SetDefault("denylist.authors", []string{})
	v.SetDefault("denylist.descriptions", []string{})

	v.SetDefault("metrics.addr", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

func (c *Config) normalize() {
	c.Language = strings.ToLower(strings.TrimSpace(c.Language))
	c.Since = strings.ToLower(strings.TrimSpace(c.Since))
	c.Source = strings.ToLower(strings.TrimSpace(c.Source))
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	c.LLM.APIBase = strings.TrimRight(c.LLM.APIBase, "/")
	c.Publisher.Platform = strings.ToLower(strings.TrimSpace(c.Publisher.Platform))
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
}

// Validate 校验配置，任何一项不合法都拒绝启动
func (c *Config) Validate() error {
	if err := c.validateCore(); err != nil {
		return err
	}
	if c.Publisher.Retry.MaxAttempts < 1 {
		return errors.New("publisher.retry.max_attempts must be at least 1")
	}

	switch c.Publisher.Platform {
	case "zsxq":
		if c.Publisher.Zsxq.Cookie == "" || c.Publisher.Zsxq.GroupID == "" {
			return errors.New("publisher.zsxq.cookie and publisher.zsxq.group_id are required for platform zsxq")
		}
	case "feishu":
		if c.Publisher.Feishu.Webhook == "" {
			return errors.New("publisher.feishu.webhook (FEISHU_WEBHOOK) is required for platform feishu")
		}
	default:
		return errors.Newf("invalid publisher.platform: %q (must be zsxq or feishu)", c.Publisher.Platform)
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required for driver sqlite")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return errors.New("store.dsn (DATABASE_DSN) is required for driver postgres")
		}
	case "redis":
		if c.Store.RedisURL == "" {
			return errors.New("store.redis_url (REDIS_URL) is required for driver redis")
		}
	default:
		return errors.Newf("invalid store.driver: %q (must be sqlite, postgres or redis)", c.Store.Driver)
	}
	if c.Store.Retention < 0 {
		return errors.New("store.retention must not be negative")
	}
	return nil
}

// validateCore 抓取和摘要相关的校验
func (c *Config) validateCore() error {
	if c.Language == "" {
		return errors.New("language is required")
	}
	switch c.Since {
	case "daily", "weekly", "monthly":
	default:
		return errors.Newf("invalid since: %q (must be daily, weekly or monthly)", c.Since)
	}
	switch c.Source {
	case "trending", "search":
	default:
		return errors.Newf("invalid source: %q (must be trending or search)", c.Source)
	}
	if c.Concurrency < 1 || c.Concurrency > 16 {
		return errors.Newf("concurrency must be between 1 and 16, got %d", c.Concurrency)
	}
	if c.MaxItems < 0 {
		return errors.Newf("max_items must not be negative, got %d", c.MaxItems)
	}

	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			return errors.New("llm.api_key (OPENAI_API_KEY) is required for provider openai")
		}
		if c.LLM.Model == "" {
			return errors.New("llm.model (OPENAI_MODEL) is required")
		}
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			return errors.New("llm.gemini_api_key (GEMINI_API_KEY) is required for provider gemini")
		}
	default:
		return errors.Newf("invalid llm.provider: %q (must be openai or gemini)", c.LLM.Provider)
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return errors.New("llm.retry.max_attempts must be at least 1")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return errors.Newf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		return errors.Newf("invalid log.format: %s (must be console or json)", c.Log.Format)
	}
	return nil
}
