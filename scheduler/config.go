package scheduler

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 JOBKIT_POOL_SIZE 映射到 pool_size.
const EnvPrefix = "JOBKIT"

// Config 调度器配置.
type Config struct {
	// Mode 运行模式: dev 或 prod.
	Mode string `mapstructure:"mode"`

	// PoolSize 工作池最大并发数.
	PoolSize int `mapstructure:"pool_size"`

	// CronWithSeconds Cron 表达式是否包含秒字段.
	CronWithSeconds bool `mapstructure:"cron_with_seconds"`

	// FatalKinds 额外的致命故障类型.
	FatalKinds []string `mapstructure:"fatal_kinds"`

	// RearmAfterFatal 致命故障后是否仍安排下一次调用.
	RearmAfterFatal bool `mapstructure:"rearm_after_fatal"`

	// ShutdownTimeout 关闭时等待任务完成的超时时间.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultConfig 返回默认配置.
func DefaultConfig() *Config {
	return &Config{
		Mode:            ModeProd,
		PoolSize:        16,
		CronWithSeconds: true,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if c.Mode != ModeDev && c.Mode != ModeProd {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, c.Mode)
	}
	if c.PoolSize <= 0 {
		return fmt.Errorf("%w: pool_size must be positive", ErrInvalidConfig)
	}
	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("%w: shutdown_timeout must not be negative", ErrInvalidConfig)
	}
	for _, k := range c.FatalKinds {
		if FaultKind(k) == FaultRecoverable {
			return fmt.Errorf("%w: %s cannot be fatal", ErrInvalidConfig, k)
		}
	}
	return nil
}

// Options 将配置转换为调度器选项.
func (c *Config) Options() []Option {
	kinds := make([]FaultKind, 0, len(c.FatalKinds))
	for _, k := range c.FatalKinds {
		kinds = append(kinds, FaultKind(k))
	}
	return []Option{
		WithMode(c.Mode),
		WithPoolSize(c.PoolSize),
		WithSeconds(c.CronWithSeconds),
		WithFatalKinds(kinds...),
		WithRearmAfterFatal(c.RearmAfterFatal),
		WithShutdownTimeout(c.ShutdownTimeout),
	}
}

// NewFromConfig 根据配置创建调度器，opts 在配置之后应用.
func NewFromConfig(cfg *Config, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return New(append(cfg.Options(), opts...)...)
}

// LoadConfig 从文件加载配置，支持 yaml、json、toml 等格式.
// 环境变量 JOBKIT_* 覆盖文件中的值.
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: config file not found: %s", ErrInvalidConfig, path)
	}
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	return decodeConfig(v)
}

// LoadConfigFromBytes 从字节数组加载配置.
func LoadConfigFromBytes(data []byte, configType string) (*Config, error) {
	v := newViper()
	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	return decodeConfig(v)
}

func newViper() *viper.Viper {
	def := DefaultConfig()
	v := viper.New()
	v.SetDefault("mode", def.Mode)
	v.SetDefault("pool_size", def.PoolSize)
	v.SetDefault("cron_with_seconds", def.CronWithSeconds)
	v.SetDefault("rearm_after_fatal", def.RearmAfterFatal)
	v.SetDefault("shutdown_timeout", def.ShutdownTimeout)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	cfg := new(Config)
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}
