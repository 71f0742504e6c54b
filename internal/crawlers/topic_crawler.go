package crawlers

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
)

// SessionOpener 重新建立并认证一个会话,用于传输故障后的重建
type SessionOpener func(ctx context.Context) (Session, error)

// Progress 进度回调,progressbar.ProgressBar 满足该接口
type Progress interface {
	Add(num int) error
}

// CrawlerOption 浏览循环选项
type CrawlerOption func(*TopicCrawler)

// WithProgress 每计入一次访问时推进进度
func WithProgress(p Progress) CrawlerOption {
	return func(c *TopicCrawler) { c.progress = p }
}

// WithSleep 替换节奏等待函数
func WithSleep(fn func(ctx context.Context, d time.Duration) error) CrawlerOption {
	return func(c *TopicCrawler) { c.sleep = fn }
}

// WithRandom 替换点赞概率使用的随机源,返回 [0,1)
func WithRandom(fn func() float64) CrawlerOption {
	return func(c *TopicCrawler) { c.random = fn }
}

// TopicCrawler 有上限、可从会话故障中恢复的主题浏览循环
type TopicCrawler struct {
	cfg      models.BrowseConfig
	homeURL  string
	reactor  *Reactor
	reopen   SessionOpener
	progress Progress
	sleep    func(ctx context.Context, d time.Duration) error
	random   func() float64
}

// NewTopicCrawler 创建浏览循环
// reactor 为 nil 时不点赞; reopen 为 nil 时不重建会话
func NewTopicCrawler(cfg models.BrowseConfig, homeURL string, reactor *Reactor, reopen SessionOpener, opts ...CrawlerOption) *TopicCrawler {
	c := &TopicCrawler{
		cfg:     cfg,
		homeURL: homeURL,
		reactor: reactor,
		reopen:  reopen,
		sleep:   utils.SleepContext,
		random:  rand.Float64,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// crawlRun 单次 Run 的可变状态
type crawlRun struct {
	session Session
	result  *models.CrawlResult
	visited *models.VisitedSet
	skipped *models.VisitedSet
	counter *models.VisitCounter
	idle    int
}

// Run 浏览主题直到达到上限、没有新内容、重建次数用尽或上下文取消
// 返回的会话可能是重建后的新会话,调用方负责关闭
// 只有重建会话时的致命错误才会返回 error
func (c *TopicCrawler) Run(ctx context.Context, session Session) (*models.CrawlResult, Session, error) {
	run := &crawlRun{
		session: session,
		result:  &models.CrawlResult{},
		visited: models.NewVisitedSet(),
		skipped: models.NewVisitedSet(),
		counter: models.NewVisitCounter(c.cfg.MaxVisits),
	}

	maxIdle := c.cfg.MaxIdleDiscoveries
	if maxIdle < 1 {
		maxIdle = 1
	}

	utils.Infof("📖 开始浏览主题,上限 %d 个", run.counter.Max())

	atHome := false
	for {
		if ctx.Err() != nil {
			return c.finish(run, models.ReasonCancelled)
		}
		if run.counter.Done() {
			return c.finish(run, models.ReasonVisitLimit)
		}

		if !atHome {
			if err := run.session.Navigate(ctx, c.homeURL); err != nil {
				if ctx.Err() != nil {
					return c.finish(run, models.ReasonCancelled)
				}
				utils.Warnf("⚠️  加载主题列表失败: %v", err)
				if done, err := c.rebuild(ctx, run); done || err != nil {
					return c.end(run, err)
				}
				continue
			}
			atHome = true
		}

		utils.Debugf("浏览状态: %s", models.StateDiscovering)
		topics, err := c.discover(ctx, run)
		if err != nil {
			if ctx.Err() != nil {
				return c.finish(run, models.ReasonCancelled)
			}
			utils.Warnf("⚠️  发现主题失败: %v", err)
			atHome = false
			if done, err := c.rebuild(ctx, run); done || err != nil {
				return c.end(run, err)
			}
			continue
		}
		run.result.Discoveries++

		if len(topics) == 0 && run.result.Discoveries == 1 {
			utils.Warnf("⚠️  未发现任何主题,请检查选择器或页面加载: %s", c.cfg.TopicSelector)
			return c.finish(run, models.ReasonNoContent)
		}

		fresh := run.skipped.Filter(run.visited.Filter(topics))
		if len(fresh) == 0 {
			run.idle++
			utils.Debugf("本轮没有新主题 (%d/%d)", run.idle, maxIdle)
			if run.idle >= maxIdle {
				return c.finish(run, models.ReasonExhausted)
			}
		} else {
			run.idle = 0
			utils.Debugf("发现 %d 个新主题", len(fresh))
		}

		rebuilt := false
		for _, topic := range fresh {
			if ctx.Err() != nil {
				return c.finish(run, models.ReasonCancelled)
			}
			if run.counter.Done() {
				break
			}

			if run.session.IsClosed() {
				utils.Warnf("⚠️  会话已断开,准备重建")
				if done, err := c.rebuild(ctx, run); done || err != nil {
					return c.end(run, err)
				}
				rebuilt = true
				break
			}

			if err := c.visit(ctx, run, topic); err != nil {
				if ctx.Err() != nil {
					return c.finish(run, models.ReasonCancelled)
				}
				if run.session.IsClosed() {
					utils.Warnf("⚠️  浏览中会话断开: %v", err)
					if done, err := c.rebuild(ctx, run); done || err != nil {
						return c.end(run, err)
					}
					rebuilt = true
					break
				}
				run.result.VisitFailures++
				run.skipped.Add(topic.Key)
				log := utils.WithTopic(topic.Key, topic.URL)
				log.Warn().Err(err).Msg("浏览主题失败,跳过")
				continue
			}

			run.counter.Inc()
			run.visited.Add(topic.Key)
			if c.progress != nil {
				c.progress.Add(1)
			}
			utils.Infof("✅ 已浏览 %d/%d: %s", run.counter.Count(), run.counter.Max(), utils.Truncate(topic.Title, 40))

			utils.Debugf("浏览状态: %s", models.StatePacing)
			if err := c.pace(ctx); err != nil {
				return c.finish(run, models.ReasonCancelled)
			}
		}

		if rebuilt {
			atHome = false
			continue
		}
		if run.counter.Done() {
			return c.finish(run, models.ReasonVisitLimit)
		}

		if err := run.session.Scroll(ctx); err != nil {
			if ctx.Err() != nil {
				return c.finish(run, models.ReasonCancelled)
			}
			utils.Warnf("⚠️  加载更多主题失败: %v", err)
			atHome = false
			if done, err := c.rebuild(ctx, run); done || err != nil {
				return c.end(run, err)
			}
		}
	}
}

// discover 读取列表页中的主题链接
// 首次发现为空时等待一个节奏间隔再查询一次,给动态页面留出渲染时间
func (c *TopicCrawler) discover(ctx context.Context, run *crawlRun) ([]models.TopicReference, error) {
	topics, err := c.queryTopics(ctx, run.session)
	if err != nil || len(topics) > 0 || run.result.Discoveries > 0 {
		return topics, err
	}
	if err := c.pace(ctx); err != nil {
		return nil, err
	}
	return c.queryTopics(ctx, run.session)
}

func (c *TopicCrawler) queryTopics(ctx context.Context, session Session) ([]models.TopicReference, error) {
	nodes, err := session.Query(ctx, models.Query{
		Selector: c.cfg.TopicSelector,
		Attrs:    []string{"href"},
	})
	if err != nil {
		return nil, err
	}

	base := session.URL()
	if base == "" {
		base = c.homeURL
	}

	topics := make([]models.TopicReference, 0, len(nodes))
	for _, node := range nodes {
		href := node.Attr("href")
		if href == "" {
			continue
		}
		topic, err := models.NewTopicReference(base, href, node.Text)
		if err != nil {
			utils.Debugf("忽略无效主题链接 %q: %v", href, err)
			continue
		}
		topics = append(topics, topic)
	}
	return topics, nil
}

// visit 在独立页面中打开主题,按概率点赞,页面总会被关闭
// 引擎内部的panic转换为 VisitError,只跳过当前主题
func (c *TopicCrawler) visit(ctx context.Context, run *crawlRun, topic models.TopicReference) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &models.VisitError{Topic: topic, Cause: fmt.Errorf("页面浏览panic: %v", r)}
			utils.Errorf("捕获panic: URL=%s, 错误=%v, 类型=panic恢复", topic.URL, r)
		}
	}()

	utils.Debugf("浏览状态: %s %s", models.StateVisiting, topic.URL)

	page, err := run.session.NewPage(ctx)
	if err != nil {
		return &models.VisitError{Topic: topic, Cause: err}
	}
	defer page.Close()

	if err := page.Navigate(ctx, topic.URL); err != nil {
		return &models.VisitError{Topic: topic, Cause: err}
	}
	if err := c.pace(ctx); err != nil {
		return err
	}

	if c.reactor != nil && c.random() < c.cfg.ReactionProbability {
		utils.Debugf("浏览状态: %s", models.StateReacting)
		if c.reactor.React(ctx, page, topic) {
			run.result.Reactions++
		} else {
			run.result.ReactionFailures++
		}
	}
	return nil
}

// rebuild 关闭故障会话并重建
// 返回 done=true 表示循环应结束(重建次数用尽或已取消)
func (c *TopicCrawler) rebuild(ctx context.Context, run *crawlRun) (bool, error) {
	utils.Debugf("浏览状态: %s", models.StateFailedRecoverable)

	if c.reopen == nil || (c.cfg.MaxRebuilds > 0 && run.result.Rebuilds >= c.cfg.MaxRebuilds) {
		utils.Warnf("⚠️  会话重建次数已用尽 (%d)", run.result.Rebuilds)
		run.result.Reason = models.ReasonRebuildLimit
		return true, nil
	}

	if err := run.session.Close(); err != nil {
		utils.Debugf("关闭故障会话失败: %v", err)
	}

	session, err := c.reopen(ctx)
	if err != nil {
		if ctx.Err() != nil {
			run.result.Reason = models.ReasonCancelled
			return true, nil
		}
		utils.Errorf("❌ 会话重建失败: %v", err)
		return true, err
	}

	run.session = session
	run.result.Rebuilds++
	utils.Infof("🔄 会话已重建 (第%d次)", run.result.Rebuilds)
	return false, nil
}

// end 在 rebuild 要求结束时收尾
func (c *TopicCrawler) end(run *crawlRun, err error) (*models.CrawlResult, Session, error) {
	if err != nil {
		c.fillResult(run, "")
		return run.result, run.session, err
	}
	return c.finish(run, run.result.Reason)
}

// finish 填充结果并结束
func (c *TopicCrawler) finish(run *crawlRun, reason models.DoneReason) (*models.CrawlResult, Session, error) {
	c.fillResult(run, reason)
	utils.Infof("📊 浏览结束: 访问 %d/%d, 点赞 %d, 跳过 %d, 重建 %d, 原因 %s",
		run.result.Visited, run.counter.Max(), run.result.Reactions,
		run.result.VisitFailures, run.result.Rebuilds, reason)
	return run.result, run.session, nil
}

func (c *TopicCrawler) fillResult(run *crawlRun, reason models.DoneReason) {
	run.result.Visited = run.counter.Count()
	run.result.VisitedKeys = run.visited.Keys()
	if reason != "" {
		run.result.Reason = reason
	}
}

// pace 节奏等待
func (c *TopicCrawler) pace(ctx context.Context) error {
	return c.sleep(ctx, utils.Jitter(c.cfg.VisitPacingDelay, c.cfg.PacingJitter))
}
