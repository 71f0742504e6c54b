package models

import (
	"fmt"
	"time"
)

// SiteConfig 目标站点
type SiteConfig struct {
	HomeURL string `mapstructure:"home_url" json:"home_url"`
}

// AccountConfig 登录账号
type AccountConfig struct {
	Username string `mapstructure:"username" json:"username"`
	Password string `mapstructure:"password" json:"-"`
}

// SessionConfig 会话资源配置
type SessionConfig struct {
	Engine         Engine        `mapstructure:"engine" json:"engine"`
	Headless       bool          `mapstructure:"headless" json:"headless"`
	Timeout        time.Duration `mapstructure:"timeout" json:"timeout"`                   // 单次导航/查询/提交的超时
	InitRetries    int           `mapstructure:"init_retries" json:"init_retries"`         // 会话初始化最大尝试次数
	InitRetryDelay time.Duration `mapstructure:"init_retry_delay" json:"init_retry_delay"` // 两次尝试之间的固定间隔
	BrowserBin     string        `mapstructure:"browser_bin" json:"browser_bin"`           // 浏览器可执行文件,为空时自动下载
}

// BrowseConfig 浏览循环配置
type BrowseConfig struct {
	MaxVisits           int           `mapstructure:"max_visits" json:"max_visits"`
	ReactionProbability float64       `mapstructure:"reaction_probability" json:"reaction_probability"`
	VisitPacingDelay    time.Duration `mapstructure:"visit_pacing_delay" json:"visit_pacing_delay"`
	PacingJitter        time.Duration `mapstructure:"pacing_jitter" json:"pacing_jitter"`
	TopicSelector       string        `mapstructure:"topic_selector" json:"topic_selector"`
	MaxRebuilds         int           `mapstructure:"max_rebuilds" json:"max_rebuilds"` // 0 表示不限
	MaxIdleDiscoveries  int           `mapstructure:"max_idle_discoveries" json:"max_idle_discoveries"`
}

// Validate 验证浏览配置
func (c *BrowseConfig) Validate() error {
	if c.MaxVisits < 0 {
		return fmt.Errorf("max_visits 不能为负数")
	}
	if c.ReactionProbability < 0 || c.ReactionProbability > 1 {
		return fmt.Errorf("reaction_probability 必须在0-1之间")
	}
	if c.VisitPacingDelay < 0 || c.PacingJitter < 0 {
		return fmt.Errorf("浏览间隔不能为负数")
	}
	if c.TopicSelector == "" {
		return fmt.Errorf("topic_selector 不能为空")
	}
	if c.MaxRebuilds < 0 {
		return fmt.Errorf("max_rebuilds 不能为负数")
	}
	return nil
}

// LoginConfig 登录页面结构
type LoginConfig struct {
	Path             string `mapstructure:"path" json:"path"`
	TokenSelector    string `mapstructure:"token_selector" json:"token_selector"`
	TokenAttr        string `mapstructure:"token_attr" json:"token_attr"`
	TokenField       string `mapstructure:"token_field" json:"token_field"`
	UsernameField    string `mapstructure:"username_field" json:"username_field"`
	PasswordField    string `mapstructure:"password_field" json:"password_field"`
	UsernameSelector string `mapstructure:"username_selector" json:"username_selector"`
	PasswordSelector string `mapstructure:"password_selector" json:"password_selector"`
	SubmitSelector   string `mapstructure:"submit_selector" json:"submit_selector"`
	VerifySelector   string `mapstructure:"verify_selector" json:"verify_selector"`
}

// ReactionConfig 点赞动作
type ReactionConfig struct {
	Selector string `mapstructure:"selector" json:"selector"`
	Path     string `mapstructure:"path" json:"path"`
}

// StatsConfig 统计页
type StatsConfig struct {
	URL     string `mapstructure:"url" json:"url"`
	Caption string `mapstructure:"caption" json:"caption"`
}

// NotifyConfig PushPlus 推送
type NotifyConfig struct {
	Token    string        `mapstructure:"token" json:"-"`
	Endpoint string        `mapstructure:"endpoint" json:"endpoint"`
	Title    string        `mapstructure:"title" json:"title"`
	Timeout  time.Duration `mapstructure:"timeout" json:"timeout"`
}

// RunConfig 整体运行控制
type RunConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" json:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay" json:"retry_delay"`
	Deadline    time.Duration `mapstructure:"deadline" json:"deadline"` // 0 表示不限
}

// ResourceConfig 资源检查配置
type ResourceConfig struct {
	SafetyReserveMemory int `mapstructure:"safety_reserve_memory" json:"safety_reserve_memory"` // MB
}
