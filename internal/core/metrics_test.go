package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRunMetrics_Observe(t *testing.T) {
	stats := &models.RunStats{
		Status:    models.RunStatusFailed,
		Attempts:  2,
		LoginOK:   true,
		StartedAt: time.Unix(1700000000, 0),
		Duration:  90 * time.Second,
		Crawl: models.CrawlResult{
			Visited: 12, Reactions: 1, ReactionFailures: 2, VisitFailures: 3, Rebuilds: 1,
		},
	}

	m := NewRunMetrics()
	m.Observe(stats)

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"浏览数", testutil.ToFloat64(m.Visits), 12},
		{"点赞数", testutil.ToFloat64(m.Reactions), 1},
		{"点赞失败", testutil.ToFloat64(m.ReactionFailures), 2},
		{"访问失败", testutil.ToFloat64(m.VisitFailures), 3},
		{"重建次数", testutil.ToFloat64(m.Rebuilds), 1},
		{"尝试次数", testutil.ToFloat64(m.Attempts), 2},
		{"登录成功", testutil.ToFloat64(m.LoginSuccess), 1},
		{"未推送", testutil.ToFloat64(m.Notified), 0},
		{"耗时", testutil.ToFloat64(m.DurationSeconds), 90},
		{"结束时间", testutil.ToFloat64(m.LastRunTimestamp), 1700000090},
		{"状态 failed", testutil.ToFloat64(m.Status.WithLabelValues("failed")), 1},
		{"状态 completed", testutil.ToFloat64(m.Status.WithLabelValues("completed")), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("期望 %v, 实际 %v", tt.want, tt.got)
			}
		})
	}
}

func TestRunMetrics_WriteTextfile(t *testing.T) {
	m := NewRunMetrics()
	m.Observe(&models.RunStats{Status: models.RunStatusCompleted, StartedAt: time.Now(), Crawl: models.CrawlResult{Visited: 5}})

	path := filepath.Join(t.TempDir(), "textfile", "linuxdo_checkin.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("写入指标失败: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取指标文件失败: %v", err)
	}
	content := string(data)
	for _, want := range []string{
		"linuxdo_checkin_topics_visited 5",
		`linuxdo_checkin_run_status{status="completed"} 1`,
	} {
		if !strings.Contains(content, want) {
			t.Errorf("指标文件缺少 %q:\n%s", want, content)
		}
	}
}

func TestRunMetrics_WriteTextfileError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatalf("准备文件失败: %v", err)
	}

	err := NewRunMetrics().WriteTextfile(filepath.Join(blocker, "metrics.prom"))
	if err == nil {
		t.Fatal("父路径是文件时应返回错误")
	}
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Errorf("期望包装 PathError, 实际 %v", err)
	}
}
