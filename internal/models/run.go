package models

import (
	"strings"
	"time"
)

// CrawlState 浏览循环状态
type CrawlState string

const (
	StateDiscovering       CrawlState = "discovering"
	StateVisiting          CrawlState = "visiting"
	StateReacting          CrawlState = "reacting"
	StatePacing            CrawlState = "pacing"
	StateDone              CrawlState = "done"
	StateFailedRecoverable CrawlState = "failed_recoverable"
)

// DoneReason 浏览循环结束原因
type DoneReason string

const (
	ReasonVisitLimit   DoneReason = "visit_limit"   // 达到访问上限
	ReasonNoContent    DoneReason = "no_content"    // 首次发现即为空
	ReasonExhausted    DoneReason = "exhausted"     // 没有新主题可发现
	ReasonCancelled    DoneReason = "cancelled"     // 上下文取消或超时
	ReasonRebuildLimit DoneReason = "rebuild_limit" // 会话重建次数用尽
)

// CrawlResult 一次浏览循环的结果
type CrawlResult struct {
	Visited          int        `json:"visited"`
	Reactions        int        `json:"reactions"`
	ReactionFailures int        `json:"reaction_failures"`
	VisitFailures    int        `json:"visit_failures"`
	Rebuilds         int        `json:"rebuilds"`
	Discoveries      int        `json:"discoveries"`
	Reason           DoneReason `json:"reason"`
	VisitedKeys      []string   `json:"visited_keys"`
}

// StatRow 统计页中的一行,保留原始文本
type StatRow struct {
	Project     string `json:"project"`
	Current     string `json:"current"`
	Requirement string `json:"requirement"`
}

// NewStatRow 由单元格文本构造统计行,不足三格时返回 false
func NewStatRow(cells []string) (StatRow, bool) {
	if len(cells) < 3 {
		return StatRow{}, false
	}
	return StatRow{
		Project:     strings.TrimSpace(cells[0]),
		Current:     strings.TrimSpace(cells[1]),
		Requirement: strings.TrimSpace(cells[2]),
	}, true
}

// RunStatus 运行状态
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunStats 一次完整运行的统计
type RunStats struct {
	RunID     string        `json:"run_id"`
	Status    RunStatus     `json:"status"`
	Attempts  int           `json:"attempts"`
	LoginOK   bool          `json:"login_ok"`
	Crawl     CrawlResult   `json:"crawl"`
	StatRows  int           `json:"stat_rows"`
	Notified  bool          `json:"notified"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	LastError string        `json:"last_error,omitempty"`
}

// NewRunStats 创建运行统计
func NewRunStats() *RunStats {
	return &RunStats{
		RunID:     generateID(),
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
}

// Finish 结束统计并记录耗时
func (s *RunStats) Finish(status RunStatus, err error) {
	s.Status = status
	s.Duration = time.Since(s.StartedAt)
	if err != nil {
		s.LastError = err.Error()
	}
}
