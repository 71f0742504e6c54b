package core

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "linuxdo_checkin"

// RunMetrics 一次运行的指标,定时任务结束时写入 node-exporter textfile
type RunMetrics struct {
	registry *prometheus.Registry

	Visits           prometheus.Gauge
	Reactions        prometheus.Gauge
	ReactionFailures prometheus.Gauge
	VisitFailures    prometheus.Gauge
	Rebuilds         prometheus.Gauge
	Attempts         prometheus.Gauge
	LoginSuccess     prometheus.Gauge
	StatRows         prometheus.Gauge
	Notified         prometheus.Gauge
	DurationSeconds  prometheus.Gauge
	LastRunTimestamp prometheus.Gauge
	Status           *prometheus.GaugeVec
}

// NewRunMetrics 创建并注册运行指标,每个实例使用独立的 registry
func NewRunMetrics() *RunMetrics {
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      name,
			Help:      help,
		})
	}

	m := &RunMetrics{
		registry:         prometheus.NewRegistry(),
		Visits:           gauge("topics_visited", "Topics visited in the last run"),
		Reactions:        gauge("reactions", "Reactions submitted in the last run"),
		ReactionFailures: gauge("reaction_failures", "Reactions that failed in the last run"),
		VisitFailures:    gauge("visit_failures", "Topic visits that failed in the last run"),
		Rebuilds:         gauge("session_rebuilds", "Session rebuilds in the last run"),
		Attempts:         gauge("run_attempts", "Run attempts used by the last run"),
		LoginSuccess:     gauge("login_success", "1 if the last run logged in"),
		StatRows:         gauge("stat_rows", "Statistics rows collected in the last run"),
		Notified:         gauge("notified", "1 if the last run pushed a notification"),
		DurationSeconds:  gauge("run_duration_seconds", "Wall-clock duration of the last run"),
		LastRunTimestamp: gauge("last_run_timestamp_seconds", "Unix time the last run finished"),
		Status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "run_status",
			Help:      "1 for the final status of the last run",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.Visits, m.Reactions, m.ReactionFailures, m.VisitFailures, m.Rebuilds,
		m.Attempts, m.LoginSuccess, m.StatRows, m.Notified,
		m.DurationSeconds, m.LastRunTimestamp, m.Status,
	)
	return m
}

// Observe 记录一次运行的最终统计
func (m *RunMetrics) Observe(stats *models.RunStats) {
	m.Visits.Set(float64(stats.Crawl.Visited))
	m.Reactions.Set(float64(stats.Crawl.Reactions))
	m.ReactionFailures.Set(float64(stats.Crawl.ReactionFailures))
	m.VisitFailures.Set(float64(stats.Crawl.VisitFailures))
	m.Rebuilds.Set(float64(stats.Crawl.Rebuilds))
	m.Attempts.Set(float64(stats.Attempts))
	m.LoginSuccess.Set(boolGauge(stats.LoginOK))
	m.StatRows.Set(float64(stats.StatRows))
	m.Notified.Set(boolGauge(stats.Notified))
	m.DurationSeconds.Set(stats.Duration.Seconds())
	m.LastRunTimestamp.Set(float64(stats.StartedAt.Add(stats.Duration).Unix()))

	m.Status.Reset()
	for _, status := range []models.RunStatus{
		models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled,
	} {
		m.Status.WithLabelValues(string(status)).Set(boolGauge(stats.Status == status))
	}
}

// Registry 返回指标注册表
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile 以 textfile collector 格式写入指标
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("无法创建指标目录: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("写入指标文件失败 [%s]: %w", path, err)
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
