package core_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/config"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/core"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/crawlers"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/crawlers/sessiontest"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const testTopicSelector = "#list-area .title"

func testRunConfig() *config.Config {
	return &config.Config{
		Site:    models.SiteConfig{HomeURL: testHome},
		Account: models.AccountConfig{Username: "alice", Password: "secret"},
		Session: models.SessionConfig{Engine: models.EngineHTTP},
		Browse: models.BrowseConfig{
			MaxVisits:          3,
			TopicSelector:      testTopicSelector,
			MaxRebuilds:        2,
			MaxIdleDiscoveries: 1,
		},
		Login:    testLoginConfig(),
		Reaction: models.ReactionConfig{Selector: ".discourse-reactions-reaction-button", Path: "/like"},
		Stats:    models.StatsConfig{URL: testStatsURL, Caption: "在过去 100 天内："},
		Notify:   models.NotifyConfig{Title: "Linux.do 自动签到"},
		Run:      models.RunConfig{MaxAttempts: 2},
	}
}

// forumResponder 首页返回主题列表,统计页返回统计表,其它查询按登录页处理
func forumResponder(hrefs ...string) sessiontest.Responder {
	login := loginPage(true, true)
	return func(pageURL string, _ int, q models.Query) ([]models.Node, error) {
		switch q.Selector {
		case testTopicSelector:
			if pageURL == testHome {
				return sessiontest.Links(hrefs...), nil
			}
			return nil, nil
		case "table tr":
			if pageURL == testStatsURL {
				return statRowNodes([]string{"访问次数", "3", "50"}), nil
			}
			return nil, nil
		default:
			return login[q.Selector], nil
		}
	}
}

func newForumSession() *sessiontest.FakeSession {
	return sessiontest.NewFakeSession(forumResponder("/t/a/1", "/t/b/2", "/t/c/3", "/t/d/4"))
}

// countingSource 依次调用给定的函数
type countingSource struct {
	mu    sync.Mutex
	calls int
	steps []func(ctx context.Context, homeURL string) (crawlers.Session, error)
}

func (s *countingSource) Open(ctx context.Context, homeURL string) (crawlers.Session, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if i >= len(s.steps) {
		return nil, errors.New("没有更多会话")
	}
	return s.steps[i](ctx, homeURL)
}

func (s *countingSource) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func openSession(session *sessiontest.FakeSession) func(context.Context, string) (crawlers.Session, error) {
	return func(ctx context.Context, homeURL string) (crawlers.Session, error) {
		if err := session.Open(ctx, homeURL); err != nil {
			return nil, err
		}
		return session, nil
	}
}

func failWith(err error) func(context.Context, string) (crawlers.Session, error) {
	return func(context.Context, string) (crawlers.Session, error) { return nil, err }
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestRunner(cfg *config.Config, source core.SessionSource, sender core.Sender) *core.Runner {
	return core.NewRunner(cfg, source,
		core.WithSender(sender),
		core.WithCrawlerOptions(crawlers.WithSleep(noSleep)),
	)
}

func TestRunner_FullRun(t *testing.T) {
	session := newForumSession()
	source := &countingSource{steps: []func(context.Context, string) (crawlers.Session, error){openSession(session)}}
	sender := &recordingSender{}

	runner := newTestRunner(testRunConfig(), source, sender)
	stats, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("运行不应返回错误: %v", err)
	}

	if stats.Status != models.RunStatusCompleted {
		t.Errorf("期望状态 completed, 实际 %s (%s)", stats.Status, stats.LastError)
	}
	if stats.Attempts != 1 || !stats.LoginOK {
		t.Errorf("期望1次尝试且登录成功, 实际 attempts=%d login=%v", stats.Attempts, stats.LoginOK)
	}
	if stats.Crawl.Visited != 3 || stats.Crawl.Reason != models.ReasonVisitLimit {
		t.Errorf("期望浏览3个主题后因上限结束, 实际 %d (%s)", stats.Crawl.Visited, stats.Crawl.Reason)
	}
	if stats.StatRows != 1 || !stats.Notified {
		t.Errorf("期望1行统计并已推送, 实际 rows=%d notified=%v", stats.StatRows, stats.Notified)
	}
	if len(sender.titles) != 1 {
		t.Errorf("期望推送1次, 实际 %d", len(sender.titles))
	}
	if session.CloseCalls() == 0 || !session.IsClosed() {
		t.Error("运行结束后会话应被释放")
	}
	if session.OpenPages() != 0 {
		t.Errorf("访问页应全部关闭, 仍有 %d 个", session.OpenPages())
	}
	if session.Info().Status != models.AuthAuthenticated {
		t.Errorf("期望会话状态 authenticated, 实际 %s", session.Info().Status)
	}

	m := runner.Metrics()
	if got := testutil.ToFloat64(m.Visits); got != 3 {
		t.Errorf("指标 topics_visited 期望3, 实际 %v", got)
	}
	if got := testutil.ToFloat64(m.Status.WithLabelValues(string(models.RunStatusCompleted))); got != 1 {
		t.Errorf("指标 run_status{completed} 期望1, 实际 %v", got)
	}
}

func TestRunner_FatalErrorsAreNotRetried(t *testing.T) {
	tests := []struct {
		name    string
		prepare func() *countingSource
		wantErr string
	}{
		{
			name: "登录失败",
			prepare: func() *countingSource {
				session := newForumSession()
				session.SubmitFunc = func(string, models.Action) bool { return false }
				return &countingSource{steps: []func(context.Context, string) (crawlers.Session, error){
					openSession(session), openSession(newForumSession()),
				}}
			},
			wantErr: "登录失败",
		},
		{
			name: "会话无法建立",
			prepare: func() *countingSource {
				return &countingSource{steps: []func(context.Context, string) (crawlers.Session, error){
					failWith(&models.ResourceInitError{Engine: models.EngineRod, Attempts: 3, Cause: errors.New("no chrome")}),
					openSession(newForumSession()),
				}}
			},
			wantErr: "no chrome",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := tt.prepare()
			stats, err := newTestRunner(testRunConfig(), source, &recordingSender{}).Run(context.Background())
			if err != nil {
				t.Fatalf("致命错误只记录在统计中, 不应返回: %v", err)
			}
			if stats.Status != models.RunStatusFailed {
				t.Errorf("期望状态 failed, 实际 %s", stats.Status)
			}
			if stats.Attempts != 1 || source.Calls() != 1 {
				t.Errorf("致命错误不应重试, 实际 attempts=%d calls=%d", stats.Attempts, source.Calls())
			}
			if stats.LoginOK {
				t.Error("不应记录为登录成功")
			}
			if !strings.Contains(stats.LastError, tt.wantErr) {
				t.Errorf("失败原因应包含 %q, 实际 %q", tt.wantErr, stats.LastError)
			}
		})
	}
}

func TestRunner_LoginFailureClosesSession(t *testing.T) {
	session := newForumSession()
	session.SubmitFunc = func(string, models.Action) bool { return false }
	source := &countingSource{steps: []func(context.Context, string) (crawlers.Session, error){openSession(session)}}

	stats, _ := newTestRunner(testRunConfig(), source, &recordingSender{}).Run(context.Background())

	if !strings.Contains(stats.LastError, "alice") {
		t.Errorf("失败原因应包含用户名, 实际 %q", stats.LastError)
	}
	if session.CloseCalls() != 1 {
		t.Errorf("登录失败后会话应关闭1次, 实际 %d", session.CloseCalls())
	}
	if session.Info().Status != models.AuthInvalid {
		t.Errorf("期望会话状态 invalid, 实际 %s", session.Info().Status)
	}
}

func TestRunner_RecoverableErrorsAreRetried(t *testing.T) {
	tests := []struct {
		name  string
		first func(context.Context, string) (crawlers.Session, error)
	}{
		{"意外错误", failWith(errors.New("boom"))},
		{"panic", func(context.Context, string) (crawlers.Session, error) { panic("unexpected") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := newForumSession()
			source := &countingSource{steps: []func(context.Context, string) (crawlers.Session, error){
				tt.first, openSession(session),
			}}

			stats, err := newTestRunner(testRunConfig(), source, &recordingSender{}).Run(context.Background())
			if err != nil {
				t.Fatalf("运行不应返回错误: %v", err)
			}
			if stats.Status != models.RunStatusCompleted || stats.Attempts != 2 {
				t.Errorf("期望第2次尝试成功, 实际 %s attempts=%d", stats.Status, stats.Attempts)
			}
			if stats.Crawl.Visited != 3 {
				t.Errorf("期望浏览3个主题, 实际 %d", stats.Crawl.Visited)
			}
		})
	}
}

func TestRunner_VisitPanicDoesNotRestartRun(t *testing.T) {
	session := newForumSession()
	session.NavigateFunc = func(rawURL string) error {
		if strings.HasSuffix(rawURL, "/t/b/2") {
			panic("renderer crashed")
		}
		return nil
	}
	second := newForumSession()
	source := &countingSource{steps: []func(context.Context, string) (crawlers.Session, error){
		openSession(session), openSession(second),
	}}

	stats, err := newTestRunner(testRunConfig(), source, &recordingSender{}).Run(context.Background())
	if err != nil {
		t.Fatalf("运行不应返回错误: %v", err)
	}
	if stats.Attempts != 1 || source.Calls() != 1 {
		t.Errorf("单个主题panic不应重启运行, 实际 attempts=%d opens=%d", stats.Attempts, source.Calls())
	}
	if stats.Crawl.VisitFailures != 1 {
		t.Errorf("期望失败1次, 实际 %d", stats.Crawl.VisitFailures)
	}

	seen := make(map[string]int)
	for _, visit := range session.Visits() {
		seen[visit]++
	}
	for visit, n := range seen {
		if n > 1 {
			t.Errorf("主题 %s 被重复访问 %d 次", visit, n)
		}
	}
}

func TestRunner_AttemptsAreBounded(t *testing.T) {
	source := &countingSource{steps: []func(context.Context, string) (crawlers.Session, error){
		failWith(errors.New("boom 1")), failWith(errors.New("boom 2")), openSession(newForumSession()),
	}}

	stats, err := newTestRunner(testRunConfig(), source, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("运行不应返回错误: %v", err)
	}
	if stats.Status != models.RunStatusFailed || stats.Attempts != 2 {
		t.Errorf("期望尝试2次后失败, 实际 %s attempts=%d", stats.Status, stats.Attempts)
	}
	if !strings.Contains(stats.LastError, "boom 2") {
		t.Errorf("期望记录最后一次失败, 实际 %q", stats.LastError)
	}
}

func TestRunner_ReauthenticatesAfterRebuild(t *testing.T) {
	first := newForumSession()
	first.ClosedAfterPages = 2
	second := newForumSession()
	opener := sessiontest.NewOpener(first, second)
	source := core.SessionSourceFunc(func(ctx context.Context, homeURL string) (crawlers.Session, error) {
		s, err := opener.Next(ctx, homeURL)
		if err != nil {
			return nil, err
		}
		return s, nil
	})

	stats, err := newTestRunner(testRunConfig(), source, &recordingSender{}).Run(context.Background())
	if err != nil {
		t.Fatalf("运行不应返回错误: %v", err)
	}

	if stats.Crawl.Rebuilds != 1 || stats.Crawl.Visited != 3 {
		t.Errorf("期望重建1次且浏览3个主题, 实际 rebuilds=%d visited=%d", stats.Crawl.Rebuilds, stats.Crawl.Visited)
	}
	if opener.Calls() != 2 {
		t.Errorf("期望建立2次会话, 实际 %d", opener.Calls())
	}
	for i, s := range []*sessiontest.FakeSession{first, second} {
		submits := s.Submits()
		if len(submits) == 0 || submits[0].Name != "login" {
			t.Errorf("第%d个会话应先登录, 实际提交 %v", i+1, submits)
		}
		if !s.IsClosed() {
			t.Errorf("第%d个会话应被关闭", i+1)
		}
	}
	if stats.StatRows != 1 {
		t.Errorf("统计应在重建后的会话上完成, 实际 %d 行", stats.StatRows)
	}
}

// failingCloseSession 关闭时返回错误的会话
type failingCloseSession struct {
	*sessiontest.FakeSession
}

func (s failingCloseSession) Close() error {
	s.FakeSession.Close()
	return errors.New("browser did not exit")
}

func TestRunner_TeardownFailureIsReturned(t *testing.T) {
	session := newForumSession()
	source := core.SessionSourceFunc(func(ctx context.Context, homeURL string) (crawlers.Session, error) {
		if err := session.Open(ctx, homeURL); err != nil {
			return nil, err
		}
		return failingCloseSession{session}, nil
	})

	stats, err := newTestRunner(testRunConfig(), source, nil).Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "browser did not exit") {
		t.Fatalf("期望返回释放失败的错误, 实际 %v", err)
	}
	if stats.Status != models.RunStatusCompleted {
		t.Errorf("释放失败不影响运行状态, 实际 %s", stats.Status)
	}
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := &countingSource{steps: []func(context.Context, string) (crawlers.Session, error){openSession(newForumSession())}}
	stats, err := newTestRunner(testRunConfig(), source, nil).Run(ctx)
	if err != nil {
		t.Fatalf("取消不应返回错误: %v", err)
	}
	if stats.Status != models.RunStatusCancelled {
		t.Errorf("期望状态 cancelled, 实际 %s", stats.Status)
	}
	if stats.Crawl.Visited != 0 {
		t.Errorf("取消后不应浏览, 实际 %d", stats.Crawl.Visited)
	}
}

func TestRunner_DeadlineStopsCrawl(t *testing.T) {
	cfg := testRunConfig()
	cfg.Run.Deadline = 50 * time.Millisecond
	cfg.Browse.MaxVisits = 100

	session := newForumSession()
	source := &countingSource{steps: []func(context.Context, string) (crawlers.Session, error){openSession(session)}}
	blockingSleep := func(ctx context.Context, _ time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	}

	runner := core.NewRunner(cfg, source, core.WithSender(nil), core.WithCrawlerOptions(crawlers.WithSleep(blockingSleep)))
	stats, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("超时不应返回错误: %v", err)
	}
	if stats.Status != models.RunStatusCancelled {
		t.Errorf("期望状态 cancelled, 实际 %s", stats.Status)
	}
	if stats.Crawl.Reason != models.ReasonCancelled {
		t.Errorf("期望浏览因取消结束, 实际 %s", stats.Crawl.Reason)
	}
	if !session.IsClosed() {
		t.Error("超时后会话仍应被释放")
	}
}
