package core

import (
	"bytes"
	"context"
	"html/template"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/crawlers"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
)

// statsRowQuery 统计页中的表格行,每个单元格作为子节点
var statsRowQuery = models.Query{Selector: "table tr", ChildSelector: "td"}

// statsTableTemplate 推送用的HTML表格,样式内联以适配邮件和微信
var statsTableTemplate = template.Must(template.New("stats").Parse(
	`<table style="border-collapse: collapse; width: 100%; border: 1px solid black;">` +
		`<caption>{{.Caption}}</caption>` +
		`<tr>` +
		`<th style="border: 1px solid black; padding: 8px;">项目</th>` +
		`<th style="border: 1px solid black; padding: 8px;">当前</th>` +
		`<th style="border: 1px solid black; padding: 8px;">要求</th>` +
		`</tr>` +
		`{{range .Rows}}<tr>` +
		`<td style="border: 1px solid black; padding: 8px;">{{.Project}}</td>` +
		`<td style="border: 1px solid black; padding: 8px;">{{.Current}}</td>` +
		`<td style="border: 1px solid black; padding: 8px;">{{.Requirement}}</td>` +
		`</tr>{{end}}` +
		`</table>`))

// ExtractStatRows 保留至少三个单元格的行,不足的行直接跳过
func ExtractStatRows(nodes []models.Node) []models.StatRow {
	rows := make([]models.StatRow, 0, len(nodes))
	for _, node := range nodes {
		if row, ok := models.NewStatRow(node.Children); ok {
			rows = append(rows, row)
		}
	}
	return rows
}

// RenderStatsHTML 渲染推送用的HTML表格
func RenderStatsHTML(caption string, rows []models.StatRow) (string, error) {
	var buf bytes.Buffer
	err := statsTableTemplate.Execute(&buf, struct {
		Caption string
		Rows    []models.StatRow
	}{caption, rows})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

// StatsReporter 读取统计页并推送
type StatsReporter struct {
	cfg    models.StatsConfig
	title  string
	sender Sender
}

// NewStatsReporter 创建统计上报器,sender 为 nil 时只在控制台输出
func NewStatsReporter(cfg models.StatsConfig, title string, sender Sender) *StatsReporter {
	return &StatsReporter{cfg: cfg, title: title, sender: sender}
}

// Collect 在新页面中打开统计页并提取统计行
func (r *StatsReporter) Collect(ctx context.Context, session crawlers.Session) ([]models.StatRow, error) {
	page, err := session.NewPage(ctx)
	if err != nil {
		return nil, &models.ReportError{Stage: "open", Cause: err}
	}
	defer page.Close()

	if err := page.Navigate(ctx, r.cfg.URL); err != nil {
		return nil, &models.ReportError{Stage: "navigate", Cause: err}
	}

	nodes, err := page.Query(ctx, statsRowQuery)
	if err != nil {
		return nil, &models.ReportError{Stage: "query", Cause: err}
	}
	return ExtractStatRows(nodes), nil
}

// Report 收集、输出并推送统计
// 任何失败都只记录日志,返回收集到的行和是否已推送
func (r *StatsReporter) Report(ctx context.Context, session crawlers.Session) ([]models.StatRow, bool) {
	utils.Infof("📈 获取统计信息: %s", r.cfg.URL)

	rows, err := r.Collect(ctx, session)
	if err != nil {
		utils.Warnf("⚠️  %v", err)
		return nil, false
	}
	if len(rows) == 0 {
		utils.Warnf("⚠️  统计页没有可用的数据行")
		return rows, false
	}

	utils.Infof("统计信息:\n%s", utils.RenderStatRows(r.cfg.Caption, rows))

	if r.sender == nil {
		return rows, false
	}

	content, err := RenderStatsHTML(r.cfg.Caption, rows)
	if err != nil {
		utils.Warnf("⚠️  %v", &models.ReportError{Stage: "render", Cause: err})
		return rows, false
	}

	sent, err := r.sender.Send(ctx, r.title, content)
	if err != nil {
		utils.Warnf("⚠️  %v", err)
		return rows, false
	}
	return rows, sent
}
