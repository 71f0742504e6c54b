package crawlers

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// ResourceMonitor 系统资源检查器
// 职责: 启动浏览器之前确认系统可用内存和CPU负载
type ResourceMonitor struct {
	config ResourceMonitorConfig

	// 便于测试替换的采样函数
	sampleMemory func() (total, available uint64, err error)
	sampleCPU    func() (float64, error)

	mu         sync.Mutex
	lastStatus MemoryStatus
	lastCheck  time.Time
}

// ResourceMonitorConfig 资源检查配置
type ResourceMonitorConfig struct {
	SafetyReserveMemory int64 // 安全保留内存(字节)
	BrowserMemoryUsage  int64 // 单个浏览器实例的估算内存(字节)
	CPULoadThreshold    int   // CPU负载阈值(%),>=200 视为禁用
}

// MemoryStatus 内存状态信息
type MemoryStatus struct {
	TotalMemory     uint64 // 系统总内存(字节)
	AvailableMemory uint64 // 可用内存(字节)
	SafetyReserve   int64  // 安全保留内存(字节)
	MemoryPressure  string // 内存压力等级
}

// NewResourceMonitor 创建资源检查器
func NewResourceMonitor(config ResourceMonitorConfig) *ResourceMonitor {
	if config.BrowserMemoryUsage == 0 {
		config.BrowserMemoryUsage = 300 * 1024 * 1024 // 300MB
	}
	if config.CPULoadThreshold == 0 {
		config.CPULoadThreshold = 95
	}

	return &ResourceMonitor{
		config: config,
		sampleMemory: func() (uint64, uint64, error) {
			vmStat, err := mem.VirtualMemory()
			if err != nil {
				return 0, 0, err
			}
			return vmStat.Total, vmStat.Available, nil
		},
		sampleCPU: func() (float64, error) {
			// 100毫秒采样,避免阻塞过久
			percentages, err := cpu.Percent(100*time.Millisecond, false)
			if err != nil {
				return 0, err
			}
			if len(percentages) == 0 {
				return 0, fmt.Errorf("CPU使用率数据为空")
			}
			return percentages[0], nil
		},
	}
}

// GetMemoryStatus 获取当前内存状态
func (rm *ResourceMonitor) GetMemoryStatus() MemoryStatus {
	total, available, err := rm.sampleMemory()
	if err != nil {
		// 无法获取时不阻止启动
		log.Warn().Err(err).Msg("获取系统内存失败,跳过内存检查")
		return MemoryStatus{MemoryPressure: "unknown"}
	}

	usable := int64(available) - rm.config.SafetyReserveMemory
	usableMB := usable / (1024 * 1024)

	var pressure string
	switch {
	case usable < rm.config.BrowserMemoryUsage:
		pressure = "critical"
	case usableMB < 500:
		pressure = "warning"
	default:
		pressure = "normal"
	}

	status := MemoryStatus{
		TotalMemory:     total,
		AvailableMemory: available,
		SafetyReserve:   rm.config.SafetyReserveMemory,
		MemoryPressure:  pressure,
	}

	rm.mu.Lock()
	rm.lastStatus = status
	rm.lastCheck = time.Now()
	rm.mu.Unlock()

	return status
}

// CheckResourceAvailability 检查当前资源是否允许启动浏览器
// 返回canCreate(是否允许)和reason(不允许时的原因)
func (rm *ResourceMonitor) CheckResourceAvailability() (canCreate bool, reason string) {
	status := rm.GetMemoryStatus()
	if status.MemoryPressure == "critical" {
		availableMB := status.AvailableMemory / (1024 * 1024)
		log.Warn().Msgf("可用内存不足(当前%dMB),暂不启动浏览器", availableMB)
		return false, fmt.Sprintf("内存不足(当前%dMB)", availableMB)
	}
	if status.MemoryPressure == "warning" {
		log.Warn().Msgf("可用内存偏低(当前%dMB)", status.AvailableMemory/(1024*1024))
	}

	if rm.config.CPULoadThreshold < 200 {
		usage, err := rm.sampleCPU()
		if err != nil {
			log.Warn().Err(err).Msg("获取CPU使用率失败")
			return true, ""
		}
		if usage > float64(rm.config.CPULoadThreshold) {
			return false, fmt.Sprintf("CPU负载过高(当前%.1f%%)", usage)
		}
	}

	return true, ""
}

// LastStatus 最近一次采样的内存状态
func (rm *ResourceMonitor) LastStatus() (MemoryStatus, time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.lastStatus, rm.lastCheck
}
