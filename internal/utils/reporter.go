package utils

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/schollz/progressbar/v3"
)

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return NewProgressBarTo(os.Stderr, max, description)
}

// NewProgressBarTo 创建输出到指定位置的进度条
func NewProgressBarTo(w io.Writer, max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

// NewTable 创建控制台表格
func NewTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	return t
}

// RenderStatRows 把统计行渲染为控制台表格
func RenderStatRows(caption string, rows []models.StatRow) string {
	t := NewTable()
	if caption != "" {
		t.SetTitle(caption)
	}
	t.AppendHeader(table.Row{"项目", "当前", "要求"})
	for _, row := range rows {
		t.AppendRow(table.Row{row.Project, row.Current, row.Requirement})
	}
	return t.Render()
}

// RenderRunSummary 把一次运行的统计渲染为控制台表格
func RenderRunSummary(stats *models.RunStats) string {
	t := NewTable()
	t.SetTitle("📊 运行统计")
	t.AppendRows([]table.Row{
		{"运行ID", stats.RunID},
		{"状态", stats.Status},
		{"尝试次数", stats.Attempts},
		{"登录成功", stats.LoginOK},
		{"浏览主题数", stats.Crawl.Visited},
		{"点赞次数", fmt.Sprintf("%d (失败 %d)", stats.Crawl.Reactions, stats.Crawl.ReactionFailures)},
		{"跳过主题数", stats.Crawl.VisitFailures},
		{"会话重建次数", stats.Crawl.Rebuilds},
		{"结束原因", stats.Crawl.Reason},
		{"统计行数", stats.StatRows},
		{"已推送", stats.Notified},
		{"总耗时", stats.Duration.Round(time.Millisecond).String()},
	})
	if stats.LastError != "" {
		t.AppendRow(table.Row{"最后错误", stats.LastError})
	}
	return t.Render()
}
