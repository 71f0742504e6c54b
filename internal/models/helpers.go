package models

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ValidateURL 验证URL
func ValidateURL(urlStr string) error {
	parsed, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("无效的URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("URL必须是HTTP或HTTPS协议")
	}
	if parsed.Host == "" {
		return fmt.Errorf("URL必须包含主机名")
	}
	return nil
}

// ResolveURL 基于 base 解析相对地址
func ResolveURL(base, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("链接为空")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("无效的基础URL: %w", err)
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("无效的链接: %w", err)
	}
	return baseURL.ResolveReference(refURL).String(), nil
}

// JoinPath 在URL路径末尾追加一段,如 topic + "/like"
func JoinPath(base, suffix string) string {
	if suffix == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(suffix, "/")
}

// generateID 生成唯一ID
func generateID() string {
	return uuid.New().String()
}
