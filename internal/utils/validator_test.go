package utils

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/google/go-cmp/cmp"
)

func TestHeaderValidator_ValidateHeader(t *testing.T) {
	tests := []struct {
		name    string
		engine  models.Engine
		header  string
		values  []string
		wantErr bool
	}{
		{"普通头部", models.EngineHTTP, "Accept-Language", []string{"zh-CN"}, false},
		{"RFC允许下划线", models.EngineHTTP, "X_Forum_Trace", []string{"1"}, false},
		{"登录Cookie由会话管理", models.EngineHTTP, "Cookie", []string{"_t=abc"}, true},
		{"CSRF由登录流程设置", models.EngineRod, "x-csrf-token", []string{"token"}, true},
		{"Host不允许自定义", models.EngineHTTP, "HOST", []string{"linux.do"}, true},
		{"名称包含空格", models.EngineHTTP, "User Agent", []string{"bot"}, true},
		{"值包含换行", models.EngineHTTP, "X-Note", []string{"a\r\nInjected: 1"}, true},
		{"值包含中文", models.EnginePlaywright, "X-Note", []string{"签到"}, true},
		{"HTTP引擎允许多值", models.EngineHTTP, "Accept-Language", []string{"zh-CN", "en"}, false},
		{"浏览器引擎拒绝多值", models.EngineRod, "Accept-Language", []string{"zh-CN", "en"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewHeaderValidator(tt.engine).ValidateHeader(tt.header, tt.values)
			if (err != nil) != tt.wantErr {
				t.Fatalf("期望错误=%v, 实际错误=%v", tt.wantErr, err)
			}
			if err != nil {
				var validationErr *models.ValidationError
				if !errors.As(err, &validationErr) {
					t.Errorf("期望 ValidationError, 实际 %T", err)
				}
			}
		})
	}
}

func TestHeaderValidator_ValueLength(t *testing.T) {
	validator := NewHeaderValidator(models.EngineHTTP)

	if err := validator.ValidateValue("X-Max", strings.Repeat("a", MaxHeaderValueLength)); err != nil {
		t.Errorf("最大长度值应该被接受, 得到错误: %v", err)
	}
	if err := validator.ValidateValue("X-TooLong", strings.Repeat("a", MaxHeaderValueLength+1)); err == nil {
		t.Error("超长值应该被拒绝")
	}
}

func TestHeaderValidator_Validate(t *testing.T) {
	t.Run("报告排序后的第一个非法头部", func(t *testing.T) {
		headers := http.Header{
			"X-Custom":       []string{"ok"},
			"Cookie":         []string{"_t=abc"},
			"Content-Length": []string{"12"},
		}

		err := NewHeaderValidator(models.EngineHTTP).Validate(headers)
		var validationErr *models.ValidationError
		if !errors.As(err, &validationErr) {
			t.Fatalf("期望 ValidationError, 实际 %v", err)
		}
		if validationErr.HeaderName != "Content-Length" {
			t.Errorf("期望报告 Content-Length, 实际 %s", validationErr.HeaderName)
		}
	})

	t.Run("合法头部", func(t *testing.T) {
		headers := http.Header{
			"User-Agent": []string{"Mozilla/5.0"},
			"Referer":    []string{"https://linux.do/"},
		}
		if err := NewHeaderValidator(models.EngineRod).Validate(headers); err != nil {
			t.Errorf("期望无错误, 实际错误=%v", err)
		}
	})
}

func TestHeaderValidator_Ignored(t *testing.T) {
	headers := http.Header{
		"Accept-Encoding": []string{"br"},
		"Accept":          []string{"*/*"},
		"Referer":         []string{"https://linux.do/"},
	}

	tests := []struct {
		name   string
		engine models.Engine
		want   []string
	}{
		{"HTTP引擎全部下发", models.EngineHTTP, nil},
		{"rod引擎忽略协商头部", models.EngineRod, []string{"Accept", "Accept-Encoding"}},
		{"playwright引擎忽略协商头部", models.EnginePlaywright, []string{"Accept", "Accept-Encoding"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewHeaderValidator(tt.engine).Ignored(headers)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("忽略的头部不符 (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsBrowserManaged(t *testing.T) {
	for _, name := range []string{"Accept", "accept-encoding", "ACCEPT"} {
		if !IsBrowserManaged(name) {
			t.Errorf("%s 应由浏览器协商", name)
		}
	}
	if IsBrowserManaged("Accept-Language") {
		t.Error("Accept-Language 应该下发给浏览器")
	}
}
