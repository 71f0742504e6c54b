package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed 会话已被关闭
	ErrSessionClosed = errors.New("会话已关闭")
	// ErrNoDocument 当前页面尚未加载任何文档
	ErrNoDocument = errors.New("页面尚未加载")
	// ErrMissingCredentials 未配置用户名或密码
	ErrMissingCredentials = errors.New("请设置用户名和密码")
	// ErrInsufficientResources 系统资源不足,无法启动浏览器
	ErrInsufficientResources = errors.New("系统资源不足")
)

// ConfigError 配置错误,在任何网络访问之前返回
type ConfigError struct {
	// FilePath 配置文件路径,来自环境变量时为空
	FilePath string

	// Key 出错的配置项
	Key string

	// Cause 底层错误
	Cause error
}

// Error 实现error接口
func (e *ConfigError) Error() string {
	switch {
	case e.Key != "" && e.FilePath != "":
		return fmt.Sprintf("配置错误 [%s] %s: %v", e.FilePath, e.Key, e.Cause)
	case e.Key != "":
		return fmt.Sprintf("配置错误 %s: %v", e.Key, e.Cause)
	default:
		return fmt.Sprintf("配置文件错误 [%s]: %v", e.FilePath, e.Cause)
	}
}

// Unwrap 支持errors.Unwrap
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ResourceInitError 会话在重试后仍无法建立
type ResourceInitError struct {
	Engine   Engine
	Attempts int
	Cause    error
}

func (e *ResourceInitError) Error() string {
	return fmt.Sprintf("会话初始化失败 (%s, 尝试%d次): %v", e.Engine, e.Attempts, e.Cause)
}

func (e *ResourceInitError) Unwrap() error { return e.Cause }

// AuthError 登录校验失败
type AuthError struct {
	Username string
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("登录失败 [%s]: %s", e.Username, e.Reason)
}

// NavigationError 导航或列表加载失败,视为可恢复的传输故障
type NavigationError struct {
	URL   string
	Cause error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("访问失败 [%s]: %v", e.URL, e.Cause)
}

func (e *NavigationError) Unwrap() error { return e.Cause }

// VisitError 单个主题访问失败,跳过该主题
type VisitError struct {
	Topic TopicReference
	Cause error
}

func (e *VisitError) Error() string {
	return fmt.Sprintf("浏览主题失败 [%s %s]: %v", e.Topic.Key, e.Topic.URL, e.Cause)
}

func (e *VisitError) Unwrap() error { return e.Cause }

// ReactionError 点赞失败,只记录日志
type ReactionError struct {
	Topic TopicReference
	Cause error
}

func (e *ReactionError) Error() string {
	return fmt.Sprintf("点赞失败 [%s]: %v", e.Topic.Key, e.Cause)
}

func (e *ReactionError) Unwrap() error { return e.Cause }

// ReportError 统计页或推送失败,不影响运行结果
type ReportError struct {
	Stage string
	Cause error
}

func (e *ReportError) Error() string {
	return fmt.Sprintf("统计上报失败 [%s]: %v", e.Stage, e.Cause)
}

func (e *ReportError) Unwrap() error { return e.Cause }

// IsFatal 是否为终止本次运行的错误
func IsFatal(err error) bool {
	var cfgErr *ConfigError
	var initErr *ResourceInitError
	var authErr *AuthError
	return errors.As(err, &cfgErr) || errors.As(err, &initErr) || errors.As(err, &authErr)
}
