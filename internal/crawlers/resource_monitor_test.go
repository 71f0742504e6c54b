package crawlers

import (
	"errors"
	"strings"
	"testing"
)

const mb = 1024 * 1024

func newTestMonitor(available uint64, cpuUsage float64) *ResourceMonitor {
	rm := NewResourceMonitor(ResourceMonitorConfig{
		SafetyReserveMemory: 512 * mb,
		BrowserMemoryUsage:  300 * mb,
		CPULoadThreshold:    90,
	})
	rm.sampleMemory = func() (uint64, uint64, error) { return 8192 * mb, available, nil }
	rm.sampleCPU = func() (float64, error) { return cpuUsage, nil }
	return rm
}

func TestResourceMonitor_CheckResourceAvailability(t *testing.T) {
	tests := []struct {
		name       string
		available  uint64
		cpu        float64
		wantOK     bool
		wantReason string
	}{
		{"资源充足", 4096 * mb, 10, true, ""},
		{"内存不足", 600 * mb, 10, false, "内存不足"},
		{"内存偏低但可启动", 1200 * mb, 10, true, ""},
		{"CPU过高", 4096 * mb, 99, false, "CPU负载过高"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rm := newTestMonitor(tt.available, tt.cpu)
			ok, reason := rm.CheckResourceAvailability()
			if ok != tt.wantOK {
				t.Errorf("期望 %v, 实际 %v (%s)", tt.wantOK, ok, reason)
			}
			if !strings.Contains(reason, tt.wantReason) {
				t.Errorf("原因不符: %s", reason)
			}
		})
	}
}

func TestResourceMonitor_SampleFailure(t *testing.T) {
	rm := newTestMonitor(0, 0)
	rm.sampleMemory = func() (uint64, uint64, error) { return 0, 0, errors.New("no procfs") }
	rm.sampleCPU = func() (float64, error) { return 0, errors.New("no cpu") }

	if ok, _ := rm.CheckResourceAvailability(); !ok {
		t.Error("采样失败时不应阻止启动")
	}
	if status, _ := rm.LastStatus(); status.MemoryPressure != "" {
		t.Errorf("采样失败时不应记录状态: %+v", status)
	}
}
