package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultConfigFile init 命令生成配置文件的默认位置
	DefaultConfigFile = "configs/config.yaml"

	// MaxConfigFileSize 配置文件最大大小 (1MB)
	MaxConfigFileSize = 1 * 1024 * 1024

	// EnvPrefix 环境变量前缀, 如 LINUXDO_SESSION_ENGINE
	EnvPrefix = "LINUXDO"
)

//go:embed config_template.yaml
var defaultConfigTemplate string

// 浏览器引擎和纯HTTP引擎的默认浏览上限不同
const (
	defaultBrowserMaxVisits = 100
	defaultHTTPMaxVisits    = 50
)

// Config 应用程序配置
type Config struct {
	Site     models.SiteConfig     `mapstructure:"site"`
	Account  models.AccountConfig  `mapstructure:"account"`
	Session  models.SessionConfig  `mapstructure:"session"`
	Browse   models.BrowseConfig   `mapstructure:"browse"`
	Login    models.LoginConfig    `mapstructure:"login"`
	Reaction models.ReactionConfig `mapstructure:"reaction"`
	Stats    models.StatsConfig    `mapstructure:"stats"`
	Notify   models.NotifyConfig   `mapstructure:"notify"`
	Run      models.RunConfig      `mapstructure:"run"`
	Resource models.ResourceConfig `mapstructure:"resource"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Metrics  MetricsConfig         `mapstructure:"metrics"`
	Headers  models.HeaderMap      `mapstructure:"headers"`

	// source 实际读取的配置文件,未找到时为空
	source string
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// MetricsConfig 运行指标输出
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"` // node-exporter textfile 路径,为空时不写
}

// CLIOverrides 命令行参数, 只有显式指定的值才会覆盖配置
type CLIOverrides struct {
	LogLevel  string
	Engine    string
	MaxVisits int
	Headless  *bool
}

// envBindings 兼容旧版本的环境变量名
var envBindings = map[string][]string{
	"account.username": {"LINUXDO_USERNAME", "USERNAME"},
	"account.password": {"LINUXDO_PASSWORD", "PASSWORD"},
	"notify.token":     {"LINUXDO_PUSHTOKEN", "PUSHTOKEN"},
	"site.home_url":    {"LINUXDO_SITE_HOME_URL"},
}

// LoadConfig 加载配置
// 优先级: 环境变量 > 配置文件 > 默认值, 命令行参数之后通过 MergeCLIFlags 合并
func LoadConfig(configPath string) (*Config, error) {
	loadDotEnv(".env")

	v := viper.New()

	if configPath != "" {
		if err := ValidateFileSize(configPath); err != nil {
			return nil, err
		}
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		v.AddConfigPath("./configs")
		v.AddConfigPath(".")

		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".linuxdo-checkin"))
		}
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, names := range envBindings {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, &models.ConfigError{Key: key, Cause: err}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// 找不到配置文件时只使用默认值和环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, &models.ConfigError{FilePath: configPath, Cause: fmt.Errorf("读取配置文件失败: %w", err)}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, &models.ConfigError{FilePath: v.ConfigFileUsed(), Cause: fmt.Errorf("解析配置文件失败: %w", err)}
	}
	config.source = v.ConfigFileUsed()

	config.applyEngineDefaults()

	if config.Headers == nil {
		config.Headers = models.HeaderMap{}
	}

	return &config, nil
}

// loadDotEnv 读取 .env, 已存在的环境变量不会被覆盖
func loadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		utils.Warnf("读取 %s 失败: %v", path, err)
	}
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	v.SetDefault("site.home_url", "https://linux.do/")

	v.SetDefault("session.engine", string(models.EngineRod))
	v.SetDefault("session.headless", true)
	v.SetDefault("session.timeout", "30s")
	v.SetDefault("session.init_retries", 3)
	v.SetDefault("session.init_retry_delay", "2s")
	v.SetDefault("session.browser_bin", "")

	v.SetDefault("browse.max_visits", 0) // 0 表示按引擎取默认值
	v.SetDefault("browse.reaction_probability", 0.02)
	v.SetDefault("browse.visit_pacing_delay", "3s")
	v.SetDefault("browse.pacing_jitter", "0s")
	v.SetDefault("browse.topic_selector", "#list-area .title")
	v.SetDefault("browse.max_rebuilds", 5)
	v.SetDefault("browse.max_idle_discoveries", 1)

	v.SetDefault("login.path", "/login")
	v.SetDefault("login.token_selector", `meta[name="csrf-token"]`)
	v.SetDefault("login.token_attr", "content")
	v.SetDefault("login.token_field", "authenticity_token")
	v.SetDefault("login.username_field", "username")
	v.SetDefault("login.password_field", "password")
	v.SetDefault("login.username_selector", "#login-account-name")
	v.SetDefault("login.password_selector", "#login-account-password")
	v.SetDefault("login.submit_selector", "#login-button")
	v.SetDefault("login.verify_selector", "")

	v.SetDefault("reaction.selector", ".discourse-reactions-reaction-button")
	v.SetDefault("reaction.path", "/like")

	v.SetDefault("stats.url", "https://connect.linux.do/")
	v.SetDefault("stats.caption", "在过去 100 天内：")

	v.SetDefault("notify.endpoint", "http://www.pushplus.plus/send")
	v.SetDefault("notify.title", "Linux.do 自动签到")
	v.SetDefault("notify.timeout", "15s")

	v.SetDefault("run.max_attempts", 2)
	v.SetDefault("run.retry_delay", "10s")
	v.SetDefault("run.deadline", "0s")

	v.SetDefault("resource.safety_reserve_memory", 512)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("metrics.textfile", "")
}

// applyEngineDefaults 补全与引擎相关的默认值
func (c *Config) applyEngineDefaults() {
	if c.Browse.MaxVisits == 0 {
		if c.Session.Engine == models.EngineHTTP {
			c.Browse.MaxVisits = defaultHTTPMaxVisits
		} else {
			c.Browse.MaxVisits = defaultBrowserMaxVisits
		}
	}
	// 纯HTTP登录成功后停留在登录响应页,没有用户菜单可校验
	if c.Login.VerifySelector == "" && c.Session.Engine.IsBrowser() {
		c.Login.VerifySelector = "#current-user"
	}
}

// Source 返回实际读取的配置文件路径
func (c *Config) Source() string {
	return c.source
}

// MergeCLIFlags 合并命令行参数到配置
func (c *Config) MergeCLIFlags(o CLIOverrides) {
	if o.LogLevel != "" {
		c.Logging.Level = o.LogLevel
	}
	if o.Engine != "" {
		previous := c.Session.Engine
		c.Session.Engine = models.Engine(o.Engine)
		// 引擎改变后重新推导未显式配置的默认值
		if previous.IsBrowser() != c.Session.Engine.IsBrowser() {
			if c.Browse.MaxVisits == defaultBrowserMaxVisits || c.Browse.MaxVisits == defaultHTTPMaxVisits {
				c.Browse.MaxVisits = 0
			}
			if c.Login.VerifySelector == "#current-user" {
				c.Login.VerifySelector = ""
			}
			c.applyEngineDefaults()
		}
	}
	if o.MaxVisits > 0 {
		c.Browse.MaxVisits = o.MaxVisits
	}
	if o.Headless != nil {
		c.Session.Headless = *o.Headless
	}
}

// Validate 在打开任何会话之前检查配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Account.Username) == "" {
		return &models.ConfigError{FilePath: c.source, Key: "account.username", Cause: models.ErrMissingCredentials}
	}
	if c.Account.Password == "" {
		return &models.ConfigError{FilePath: c.source, Key: "account.password", Cause: models.ErrMissingCredentials}
	}
	if err := models.ValidateURL(c.Site.HomeURL); err != nil {
		return &models.ConfigError{FilePath: c.source, Key: "site.home_url", Cause: err}
	}
	if !c.Session.Engine.Valid() {
		return &models.ConfigError{FilePath: c.source, Key: "session.engine", Cause: fmt.Errorf("不支持的引擎 %q (可选: rod, playwright, http)", c.Session.Engine)}
	}
	if c.Session.Timeout <= 0 {
		return &models.ConfigError{FilePath: c.source, Key: "session.timeout", Cause: fmt.Errorf("必须大于0")}
	}
	if c.Session.InitRetries < 1 {
		return &models.ConfigError{FilePath: c.source, Key: "session.init_retries", Cause: fmt.Errorf("至少为1")}
	}
	if err := c.Browse.Validate(); err != nil {
		return &models.ConfigError{FilePath: c.source, Key: "browse", Cause: err}
	}
	if c.Stats.URL != "" {
		if err := models.ValidateURL(c.Stats.URL); err != nil {
			return &models.ConfigError{FilePath: c.source, Key: "stats.url", Cause: err}
		}
	}
	if c.Run.MaxAttempts < 1 {
		return &models.ConfigError{FilePath: c.source, Key: "run.max_attempts", Cause: fmt.Errorf("至少为1")}
	}
	if c.Run.Deadline < 0 {
		return &models.ConfigError{FilePath: c.source, Key: "run.deadline", Cause: fmt.Errorf("不能为负数")}
	}
	return nil
}

// LogConfig 转换为日志初始化参数
func (c *Config) LogConfig() utils.LogConfig {
	return utils.LogConfig{
		Level:      c.Logging.Level,
		LogDir:     c.Logging.LogDir,
		MaxSize:    c.Logging.Rotation.MaxSize,
		MaxBackups: c.Logging.Rotation.MaxBackups,
		MaxAge:     c.Logging.Rotation.MaxAge,
		Compress:   c.Logging.Rotation.Compress,
	}
}

// ValidateFileSize 验证配置文件大小是否在限制内
func ValidateFileSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return &models.ConfigError{FilePath: path, Cause: fmt.Errorf("无法读取配置文件信息: %w", err)}
	}

	if info.Size() > MaxConfigFileSize {
		return &models.ConfigError{
			FilePath: path,
			Cause: fmt.Errorf("配置文件过大: %d 字节 (最大 %d 字节)",
				info.Size(), MaxConfigFileSize),
		}
	}
	return nil
}

// WriteTemplate 生成配置模板, 已存在的文件不会被覆盖
func WriteTemplate(path string) error {
	if path == "" {
		path = DefaultConfigFile
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("配置文件已存在 [%s]", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("无法创建配置目录 [%s]: %w", filepath.Dir(path), err)
	}
	// 模板中可能填入密码
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0600); err != nil {
		return fmt.Errorf("无法生成配置文件 [%s]: %w", path, err)
	}
	return nil
}
