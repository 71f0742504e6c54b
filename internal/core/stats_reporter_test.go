package core_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/core"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/crawlers/sessiontest"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/google/go-cmp/cmp"
)

const testStatsURL = "https://connect.linux.do/"

// recordingSender 记录收到的通知
type recordingSender struct {
	titles   []string
	contents []string
	err      error
}

func (s *recordingSender) Send(_ context.Context, title, content string) (bool, error) {
	s.titles = append(s.titles, title)
	s.contents = append(s.contents, content)
	if s.err != nil {
		return false, s.err
	}
	return true, nil
}

func statRowNodes(rows ...[]string) []models.Node {
	nodes := make([]models.Node, 0, len(rows))
	for _, cells := range rows {
		nodes = append(nodes, models.Node{Children: cells})
	}
	return nodes
}

func TestExtractStatRows(t *testing.T) {
	tests := []struct {
		name  string
		nodes []models.Node
		want  []models.StatRow
	}{
		{
			name:  "跳过不足三格的行",
			nodes: statRowNodes([]string{"A", "1", "2"}, []string{"B", "x"}),
			want:  []models.StatRow{{Project: "A", Current: "1", Requirement: "2"}},
		},
		{
			name:  "表头行没有td",
			nodes: statRowNodes(nil, []string{"访问次数", "50", "50"}),
			want:  []models.StatRow{{Project: "访问次数", Current: "50", Requirement: "50"}},
		},
		{
			name:  "多余的单元格被忽略",
			nodes: statRowNodes([]string{" 点赞 ", " 3 ", " 30% ", "额外"}),
			want:  []models.StatRow{{Project: "点赞", Current: "3", Requirement: "30%"}},
		},
		{
			name:  "没有行",
			nodes: nil,
			want:  []models.StatRow{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := core.ExtractStatRows(tt.nodes)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("统计行不符 (-期望 +实际):\n%s", diff)
			}
		})
	}
}

func TestRenderStatsHTML(t *testing.T) {
	html, err := core.RenderStatsHTML("在过去 100 天内：", []models.StatRow{
		{Project: "访问次数", Current: "50", Requirement: "50"},
		{Project: "<script>", Current: "1", Requirement: "2"},
	})
	if err != nil {
		t.Fatalf("渲染失败: %v", err)
	}

	for _, want := range []string{
		"<caption>在过去 100 天内：</caption>",
		">项目</th>", ">当前</th>", ">要求</th>",
		">访问次数</td>",
		"&lt;script&gt;",
	} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML中缺少 %q:\n%s", want, html)
		}
	}
	if strings.Count(html, "<tr>") != 3 {
		t.Errorf("期望1行表头和2行数据, 实际:\n%s", html)
	}
}

func newStatsSession(rows ...[]string) *sessiontest.FakeSession {
	return sessiontest.NewFakeSession(func(pageURL string, _ int, q models.Query) ([]models.Node, error) {
		if pageURL != testStatsURL || q.Selector != "table tr" || q.ChildSelector != "td" {
			return nil, nil
		}
		return statRowNodes(rows...), nil
	})
}

func TestStatsReporter_Report(t *testing.T) {
	cfg := models.StatsConfig{URL: testStatsURL, Caption: "在过去 100 天内："}

	t.Run("收集并推送", func(t *testing.T) {
		session := newStatsSession([]string{"A", "1", "2"}, []string{"B", "x"})
		sender := &recordingSender{}
		reporter := core.NewStatsReporter(cfg, "Linux.do 自动签到", sender)

		rows, notified := reporter.Report(context.Background(), session)
		if !notified {
			t.Error("期望已推送")
		}
		if diff := cmp.Diff([]models.StatRow{{Project: "A", Current: "1", Requirement: "2"}}, rows); diff != "" {
			t.Errorf("统计行不符 (-期望 +实际):\n%s", diff)
		}
		if len(sender.titles) != 1 || sender.titles[0] != "Linux.do 自动签到" {
			t.Errorf("推送标题不符: %v", sender.titles)
		}
		if !strings.Contains(sender.contents[0], ">A</td>") {
			t.Errorf("推送内容应为HTML表格: %s", sender.contents[0])
		}
		if session.OpenPages() != 0 {
			t.Errorf("统计页应被关闭, 仍有 %d 个页面", session.OpenPages())
		}
	})

	t.Run("没有数据行时不推送", func(t *testing.T) {
		session := newStatsSession([]string{"B", "x"})
		sender := &recordingSender{}
		rows, notified := core.NewStatsReporter(cfg, "t", sender).Report(context.Background(), session)
		if notified || len(rows) != 0 || len(sender.titles) != 0 {
			t.Errorf("期望不推送, 实际 rows=%v notified=%v sends=%d", rows, notified, len(sender.titles))
		}
	})

	t.Run("统计页无法打开", func(t *testing.T) {
		session := newStatsSession([]string{"A", "1", "2"})
		session.NavigateFunc = func(string) error { return errors.New("timeout") }
		sender := &recordingSender{}
		rows, notified := core.NewStatsReporter(cfg, "t", sender).Report(context.Background(), session)
		if notified || rows != nil || len(sender.titles) != 0 {
			t.Errorf("页面不可达时不应推送, 实际 rows=%v notified=%v", rows, notified)
		}
	})

	t.Run("推送失败不影响返回的行", func(t *testing.T) {
		session := newStatsSession([]string{"A", "1", "2"})
		sender := &recordingSender{err: errors.New("push down")}
		rows, notified := core.NewStatsReporter(cfg, "t", sender).Report(context.Background(), session)
		if notified || len(rows) != 1 {
			t.Errorf("期望1行且未推送, 实际 rows=%v notified=%v", rows, notified)
		}
	})

	t.Run("没有推送通道", func(t *testing.T) {
		session := newStatsSession([]string{"A", "1", "2"})
		rows, notified := core.NewStatsReporter(cfg, "t", nil).Report(context.Background(), session)
		if notified || len(rows) != 1 {
			t.Errorf("期望1行且未推送, 实际 rows=%v notified=%v", rows, notified)
		}
	})
}

func TestStatsReporter_CollectErrors(t *testing.T) {
	session := newStatsSession()
	session.Close()

	_, err := core.NewStatsReporter(models.StatsConfig{URL: testStatsURL}, "t", nil).Collect(context.Background(), session)
	var reportErr *models.ReportError
	if !errors.As(err, &reportErr) {
		t.Fatalf("期望 ReportError, 实际 %v", err)
	}
	if reportErr.Stage != "open" {
		t.Errorf("期望失败阶段 open, 实际 %s", reportErr.Stage)
	}
}
