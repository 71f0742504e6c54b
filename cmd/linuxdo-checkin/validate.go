package main

import (
	"fmt"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
)

// ValidateFlags 验证命令行标志
// 空值表示沿用配置文件
func ValidateFlags(engine string, maxVisits int) error {
	if engine != "" && !models.Engine(engine).Valid() {
		return &models.ConfigError{
			Key:   "--engine",
			Cause: fmt.Errorf("无效的会话引擎: %s (有效值: rod, playwright, http)", engine),
		}
	}

	if maxVisits < 0 || maxVisits > 1000 {
		return &models.ConfigError{
			Key:   "--max-visits",
			Cause: fmt.Errorf("浏览数量必须在0-1000之间,当前值: %d", maxVisits),
		}
	}

	return nil
}
