package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/config"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/crawlers"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// SessionSource 建立已打开首页的会话, *crawlers.SessionFactory 满足该接口
type SessionSource interface {
	Open(ctx context.Context, homeURL string) (crawlers.Session, error)
}

// SessionSourceFunc 函数形式的 SessionSource
type SessionSourceFunc func(ctx context.Context, homeURL string) (crawlers.Session, error)

// Open 实现 SessionSource
func (f SessionSourceFunc) Open(ctx context.Context, homeURL string) (crawlers.Session, error) {
	return f(ctx, homeURL)
}

// RunnerOption 编排器选项
type RunnerOption func(*Runner)

// WithCrawlerOptions 传给浏览循环的选项
func WithCrawlerOptions(opts ...crawlers.CrawlerOption) RunnerOption {
	return func(r *Runner) { r.crawlerOpts = append(r.crawlerOpts, opts...) }
}

// WithSender 替换推送通道,传 nil 表示只在控制台输出
func WithSender(sender Sender) RunnerOption {
	return func(r *Runner) { r.sender = sender }
}

// WithMetrics 使用指定的指标集
func WithMetrics(m *RunMetrics) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// Runner 一次签到运行: 登录 → 浏览 → 统计 → 释放会话
type Runner struct {
	cfg         *config.Config
	source      SessionSource
	auth        *Authenticator
	reactor     *crawlers.Reactor
	reporter    *StatsReporter
	sender      Sender
	metrics     *RunMetrics
	crawlerOpts []crawlers.CrawlerOption

	teardownErr error
}

// NewRunner 创建编排器
func NewRunner(cfg *config.Config, source SessionSource, opts ...RunnerOption) *Runner {
	r := &Runner{
		cfg:     cfg,
		source:  source,
		auth:    NewAuthenticator(cfg.Login, cfg.Site.HomeURL),
		reactor: crawlers.NewReactor(cfg.Reaction),
		sender:  NewNotifier(cfg.Notify),
		metrics: NewRunMetrics(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.reporter = NewStatsReporter(cfg.Stats, cfg.Notify.Title, r.sender)
	return r
}

// Metrics 返回运行指标
func (r *Runner) Metrics() *RunMetrics {
	return r.metrics
}

// Run 执行完整的签到流程
// 登录失败、会话无法建立等结果只记录在 RunStats 中;
// 只有会话释放失败才返回 error
func (r *Runner) Run(ctx context.Context) (*models.RunStats, error) {
	stats := models.NewRunStats()
	r.teardownErr = nil
	log := utils.Logger.With().Str("run_id", stats.RunID).Logger()

	if r.cfg.Run.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Run.Deadline)
		defer cancel()
	}

	maxAttempts := r.cfg.Run.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	log.Info().
		Str("engine", string(r.cfg.Session.Engine)).
		Str("home", r.cfg.Site.HomeURL).
		Int("max_visits", r.cfg.Browse.MaxVisits).
		Msg("🚀 开始签到任务")

	policy := retrypolicy.NewBuilder[any]().
		WithMaxAttempts(maxAttempts).
		WithDelay(r.cfg.Run.RetryDelay).
		HandleIf(func(_ any, err error) bool {
			return err != nil && ctx.Err() == nil && !models.IsFatal(err)
		}).
		OnRetry(func(e failsafe.ExecutionEvent[any]) {
			log.Warn().Err(e.LastError()).Int("attempt", e.Attempts()).Msgf("🔁 本次运行失败,%v 后重试", r.cfg.Run.RetryDelay)
		}).
		ReturnLastFailure().
		Build()

	err := failsafe.With[any](policy).WithContext(ctx).Run(func() error {
		stats.Attempts++
		return r.attempt(ctx, stats)
	})

	switch {
	case err == nil:
		stats.Finish(models.RunStatusCompleted, nil)
	case ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		stats.Finish(models.RunStatusCancelled, err)
		log.Warn().Err(err).Msg("⏹️  运行被取消")
	default:
		stats.Finish(models.RunStatusFailed, err)
		log.Error().Err(err).Int("attempts", stats.Attempts).Msg("❌ 签到任务失败")
	}

	utils.Infof("运行结果:\n%s", utils.RenderRunSummary(stats))
	r.recordMetrics(stats)

	if r.teardownErr != nil {
		return stats, r.teardownErr
	}
	return stats, nil
}

// attempt 单次完整流程,会话总会被释放
func (r *Runner) attempt(ctx context.Context, stats *models.RunStats) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("运行panic: %v", rec)
		}
	}()

	utils.Infof("▶️  第 %d 次尝试", stats.Attempts)

	session, err := r.openAuthenticated(ctx)
	if err != nil {
		return err
	}
	stats.LoginOK = true

	current := session
	defer func() {
		r.teardown(current)
	}()

	crawler := crawlers.NewTopicCrawler(r.cfg.Browse, r.cfg.Site.HomeURL, r.reactor, r.openAuthenticated, r.crawlerOpts...)
	result, live, err := crawler.Run(ctx, session)
	if live != nil {
		current = live
	}
	if result != nil {
		stats.Crawl = *result
	}
	if err != nil {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	rows, notified := r.reporter.Report(ctx, current)
	stats.StatRows = len(rows)
	stats.Notified = notified
	return nil
}

// openAuthenticated 建立会话并登录,登录失败时关闭会话
// 也作为浏览循环的重建函数使用
func (r *Runner) openAuthenticated(ctx context.Context) (crawlers.Session, error) {
	session, err := r.source.Open(ctx, r.cfg.Site.HomeURL)
	if err != nil {
		return nil, err
	}

	if r.auth.Login(ctx, session, r.cfg.Account.Username, r.cfg.Account.Password) {
		return session, nil
	}

	r.teardown(session)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, &models.AuthError{Username: r.cfg.Account.Username, Reason: "登录未通过校验"}
}

// teardown 释放会话,失败记入 teardownErr
func (r *Runner) teardown(session crawlers.Session) {
	if session == nil {
		return
	}
	if err := session.Close(); err != nil {
		utils.Error(err, "❌ 释放会话失败")
		r.teardownErr = errors.Join(r.teardownErr, fmt.Errorf("释放会话 %s 失败: %w", session.Info().ID, err))
		return
	}
	utils.Debugf("会话已释放: %s", session.Info().ID)
}

func (r *Runner) recordMetrics(stats *models.RunStats) {
	if r.metrics == nil {
		return
	}
	r.metrics.Observe(stats)
	if r.cfg.Metrics.Textfile == "" {
		return
	}
	if err := r.metrics.WriteTextfile(r.cfg.Metrics.Textfile); err != nil {
		utils.Warnf("⚠️  %v", err)
		return
	}
	utils.Debugf("指标已写入: %s", r.cfg.Metrics.Textfile)
}
