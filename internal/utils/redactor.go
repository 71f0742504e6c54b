package utils

import (
	"net/http"
	"sort"
	"strings"
)

var (
	// SensitiveKeywords 敏感头部名称关键字 (用于脱敏)
	SensitiveKeywords = []string{
		"authorization",
		"token",
		"key",
		"secret",
		"password",
		"credential",
		"api-key",
		"cookie",
		"csrf",
	}
)

// HeaderRedactor 头部脱敏器
// 负责识别并脱敏敏感HTTP头部
type HeaderRedactor struct {
	sensitiveKeywords []string
}

// NewHeaderRedactor 创建头部脱敏器
func NewHeaderRedactor() *HeaderRedactor {
	return &HeaderRedactor{
		sensitiveKeywords: SensitiveKeywords,
	}
}

// IsSensitiveHeader 检查头部是否为敏感头部
// 根据头部名称关键字判断
func (hr *HeaderRedactor) IsSensitiveHeader(name string) bool {
	nameLower := strings.ToLower(name)
	for _, keyword := range hr.sensitiveKeywords {
		if strings.Contains(nameLower, keyword) {
			return true
		}
	}
	return false
}

// RedactHeaderValue 脱敏单个头部值
// 根据值的格式选择不同的脱敏策略
func (hr *HeaderRedactor) RedactHeaderValue(name, value string) string {
	if !hr.IsSensitiveHeader(name) {
		return value
	}

	// Bearer Token 仅显示前缀
	if strings.HasPrefix(value, "Bearer ") {
		return "Bearer ***"
	}

	// Cookie 可能携带会话凭据,空值同样完全隐藏
	if value == "" || strings.EqualFold(name, "Cookie") {
		return "***"
	}

	return RedactSecret(value)
}

// RedactSecret 脱敏任意密钥类字符串 (密码、推送token)
// 长度足够时保留前4位+后4位,否则完全隐藏
func RedactSecret(value string) string {
	if value == "" {
		return ""
	}
	if len(value) > 8 {
		return value[:4] + "***" + value[len(value)-4:]
	}
	return "***"
}

// Redact 脱敏整个http.Header,返回安全的字符串map (用于日志)
// 返回的map中,敏感头部的值已被脱敏
func (hr *HeaderRedactor) Redact(headers http.Header) map[string]string {
	result := make(map[string]string)
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}

		// 只取第一个值 (大多数头部只有一个值)
		value := values[0]
		if hr.IsSensitiveHeader(name) {
			result[name] = hr.RedactHeaderValue(name, value)
		} else {
			result[name] = value
		}
	}
	return result
}

// RedactToString 脱敏http.Header并返回格式化字符串 (用于日志输出)
// 格式: "Header1: value1, Header2: value2",按名称排序保证输出稳定
func (hr *HeaderRedactor) RedactToString(headers http.Header) string {
	redacted := hr.Redact(headers)
	names := make([]string, 0, len(redacted))
	for name := range redacted {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+": "+redacted[name])
	}
	return strings.Join(parts, ", ")
}
