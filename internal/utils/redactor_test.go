package utils

import (
	"net/http"
	"strings"
	"testing"
)

func TestHeaderRedactor_Redact(t *testing.T) {
	redactor := NewHeaderRedactor()

	t.Run("部分匹配敏感模式", func(t *testing.T) {
		tests := []struct {
			name  string
			value string
		}{
			{"Authorization", "Bearer token123"},
			{"X-Token", "longtoken123456789"},
			{"X-Api-Key", "key12345678"},
			{"X-Secret", "password123456"},
			{"X-CSRF-Token", "csrf-abcdefgh-123"},
			{"Cookie", "_t=session-cookie-value"},
		}

		for _, tt := range tests {
			headers := http.Header{}
			headers.Set(tt.name, tt.value)
			redacted := redactor.Redact(headers)

			if !redactor.IsSensitiveHeader(tt.name) {
				t.Errorf("应该被识别为敏感头部: %s", tt.name)
				continue
			}

			redactedValue, exists := redacted[http.CanonicalHeaderKey(tt.name)]
			if !exists {
				t.Errorf("头部应该存在于脱敏结果中: %s", tt.name)
				continue
			}
			if redactedValue == tt.value || !strings.Contains(redactedValue, "*") {
				t.Errorf("敏感头部应该被脱敏: %s -> %s", tt.value, redactedValue)
			}
		}
	})

	t.Run("Cookie完全隐藏", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("Cookie", "_t=very-long-session-cookie")
		if got := redactor.Redact(headers)["Cookie"]; got != "***" {
			t.Errorf("期望***, 实际%s", got)
		}
	})

	t.Run("非敏感头部不应脱敏", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("User-Agent", "Mozilla/5.0")
		headers.Set("Accept", "*/*")
		redacted := redactor.Redact(headers)
		if redacted["User-Agent"] != "Mozilla/5.0" || redacted["Accept"] != "*/*" {
			t.Errorf("非敏感头部不应被脱敏: %v", redacted)
		}
	})

	t.Run("空值脱敏", func(t *testing.T) {
		headers := http.Header{}
		headers.Set("Authorization", "")
		if got := redactor.Redact(headers)["Authorization"]; got != "***" {
			t.Errorf("空敏感头部应该显示为***, 得到: %s", got)
		}
	})
}

func TestHeaderRedactor_RedactToString(t *testing.T) {
	redactor := NewHeaderRedactor()
	headers := http.Header{}
	headers.Set("X-B", "2")
	headers.Set("X-A", "1")

	if got := redactor.RedactToString(headers); got != "X-A: 1, X-B: 2" {
		t.Errorf("输出应按名称排序, 实际: %s", got)
	}
}

func TestRedactSecret(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  string
	}{
		{"空值保持为空", "", ""},
		{"短密钥完全隐藏", "abc", "***"},
		{"长密钥保留首尾", "0123456789abcdef", "0123***cdef"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactSecret(tt.value); got != tt.want {
				t.Errorf("期望 %q, 实际 %q", tt.want, got)
			}
		})
	}
}
