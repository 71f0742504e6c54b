package models

import (
	"strings"
	"testing"
)

func TestCliHeaders_Parse(t *testing.T) {
	t.Run("空数组", func(t *testing.T) {
		if _, err := CliHeaders([]string{}).Parse(); err != nil {
			t.Errorf("空数组应该无错误, 得到: %v", err)
		}
	})

	t.Run("nil数组", func(t *testing.T) {
		var cliHeaders CliHeaders
		if _, err := cliHeaders.Parse(); err != nil {
			t.Errorf("nil数组应该无错误, 得到: %v", err)
		}
	})

	t.Run("头部名称和值前后空格", func(t *testing.T) {
		headers, err := CliHeaders([]string{"  User-Agent  :  Mozilla/5.0  "}).Parse()
		if err != nil {
			t.Fatalf("应该自动trim空格, 得到错误: %v", err)
		}
		if val := headers.Get("User-Agent"); val != "Mozilla/5.0" {
			t.Errorf("期望'Mozilla/5.0', 得到: '%s'", val)
		}
	})

	t.Run("值中包含冒号", func(t *testing.T) {
		headers, err := CliHeaders([]string{"Referer: https://linux.do:443/latest"}).Parse()
		if err != nil {
			t.Fatalf("应该允许值中包含冒号, 得到错误: %v", err)
		}
		if val := headers.Get("Referer"); val != "https://linux.do:443/latest" {
			t.Errorf("值中的冒号应该保留, 得到: '%s'", val)
		}
	})

	t.Run("缺少冒号分隔符", func(t *testing.T) {
		_, err := CliHeaders([]string{"User-Agent Mozilla/5.0"}).Parse()
		if err == nil || !strings.Contains(err.Error(), "第1项") {
			t.Errorf("缺少冒号应该报错并指出位置, 得到: %v", err)
		}
	})

	t.Run("只有冒号没有名称", func(t *testing.T) {
		if _, err := CliHeaders([]string{":value"}).Parse(); err == nil {
			t.Error("缺少头部名称应该报错")
		}
	})

	t.Run("只有冒号没有值", func(t *testing.T) {
		headers, err := CliHeaders([]string{"X-Empty:"}).Parse()
		if err != nil {
			t.Fatalf("空值应该被允许, 得到错误: %v", err)
		}
		if val := headers.Get("X-Empty"); val != "" {
			t.Errorf("空值应该为空字符串, 得到: '%s'", val)
		}
	})
}

func TestHeaderMap_ToHTTPHeader(t *testing.T) {
	h := HeaderMap{"accept-language": "zh-CN,zh;q=0.9"}.ToHTTPHeader()
	if h.Get("Accept-Language") != "zh-CN,zh;q=0.9" {
		t.Errorf("头部名称应规范化, 实际: %v", h)
	}
}
