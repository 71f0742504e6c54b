package utils

import (
	"context"
	"math/rand"
	"time"
	"unicode/utf8"
)

// SleepContext 等待指定时长,上下文取消时提前返回其错误
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Jitter 在 base 基础上加上 [0, spread) 的随机抖动
func Jitter(base, spread time.Duration) time.Duration {
	if spread <= 0 {
		return base
	}
	return base + time.Duration(rand.Int63n(int64(spread)))
}

// Truncate 截断过长文本用于日志输出
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max]) + "..."
}
