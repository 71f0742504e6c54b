package utils

import (
	"fmt"
	"net/http"
	"sort"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"golang.org/x/net/http/httpguts"
)

const (
	// MaxHeaderValueLength HTTP头部值最大长度 (8KB)
	MaxHeaderValueLength = 8192
)

var (
	// EngineManagedHeaders 由会话引擎在每个请求上自行设置的头部,不允许自定义
	// Cookie 和 X-CSRF-Token 来自登录后的会话,覆盖会让登录态失效
	EngineManagedHeaders = []string{
		"Host",
		"Content-Length",
		"Transfer-Encoding",
		"Connection",
		"Cookie",
		"Content-Type",
		"X-CSRF-Token",
		"X-Requested-With",
	}

	// BrowserManagedHeaders 浏览器自行协商的头部,浏览器引擎不会下发
	BrowserManagedHeaders = []string{
		"Accept",
		"Accept-Encoding",
	}
)

var (
	engineManaged  = canonicalSet(EngineManagedHeaders)
	browserManaged = canonicalSet(BrowserManagedHeaders)
)

func canonicalSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[http.CanonicalHeaderKey(name)] = true
	}
	return set
}

// IsBrowserManaged 头部是否由浏览器自行协商
func IsBrowserManaged(name string) bool {
	return browserManaged[http.CanonicalHeaderKey(name)]
}

// HeaderValidator 按会话引擎验证自定义头部
type HeaderValidator struct {
	engine         models.Engine
	maxValueLength int
}

// NewHeaderValidator 创建验证器
func NewHeaderValidator(engine models.Engine) *HeaderValidator {
	return &HeaderValidator{
		engine:         engine,
		maxValueLength: MaxHeaderValueLength,
	}
}

// ValidateName 验证头部名称 (RFC 7230 token)
func (hv *HeaderValidator) ValidateName(name string) error {
	if name == "" {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称不能为空",
		}
	}
	if !httpguts.ValidHeaderFieldName(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称包含非法字符",
			Suggestion: "使用字母、数字和连字符 (如 'User-Agent', 'X-Custom-Header')",
		}
	}
	return nil
}

// ValidateValue 验证头部值
// 浏览器通过CDP下发头部,只接受ASCII,两种引擎统一按ASCII处理
func (hv *HeaderValidator) ValidateValue(name, value string) error {
	if len(value) > hv.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), hv.maxValueLength),
			Suggestion: fmt.Sprintf("将值缩短至 %d 字节以内", hv.maxValueLength),
		}
	}
	if !httpguts.ValidHeaderFieldValue(value) {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     "头部值包含控制字符",
			Suggestion: "移除换行和其它控制字符",
		}
	}
	for i := 0; i < len(value); i++ {
		if value[i] >= 0x80 {
			return &models.ValidationError{
				Field:      "value",
				HeaderName: name,
				Reason:     "头部值包含非ASCII字符",
				Suggestion: "对中文等字符先做URL编码",
			}
		}
	}
	return nil
}

// ValidateHeader 验证单个头部
func (hv *HeaderValidator) ValidateHeader(name string, values []string) error {
	if hv.IsForbidden(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "此头部由会话引擎自动管理,不允许自定义",
			Suggestion: fmt.Sprintf("移除 '%s' 头部配置", name),
		}
	}
	if err := hv.ValidateName(name); err != nil {
		return err
	}
	if hv.engine.IsBrowser() && len(values) > 1 {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("浏览器引擎 %s 每个头部只能下发一个值,当前 %d 个", hv.engine, len(values)),
			Suggestion: "合并为一个以逗号分隔的值",
		}
	}
	for _, value := range values {
		if err := hv.ValidateValue(name, value); err != nil {
			return err
		}
	}
	return nil
}

// IsForbidden 头部是否由引擎管理 (不区分大小写)
func (hv *HeaderValidator) IsForbidden(name string) bool {
	return engineManaged[http.CanonicalHeaderKey(name)]
}

// Validate 验证所有头部,返回第一个错误
// 按名称排序,保证多个非法头部时报告稳定
func (hv *HeaderValidator) Validate(headers http.Header) error {
	for _, name := range sortedNames(headers) {
		if err := hv.ValidateHeader(name, headers[name]); err != nil {
			return err
		}
	}
	return nil
}

// Ignored 返回当前引擎不会下发的头部名称
// HTTP引擎下发全部头部,返回空
func (hv *HeaderValidator) Ignored(headers http.Header) []string {
	if !hv.engine.IsBrowser() {
		return nil
	}
	var ignored []string
	for _, name := range sortedNames(headers) {
		if IsBrowserManaged(name) {
			ignored = append(ignored, http.CanonicalHeaderKey(name))
		}
	}
	return ignored
}

func sortedNames(headers http.Header) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
