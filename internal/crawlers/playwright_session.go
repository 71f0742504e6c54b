package crawlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
	"github.com/playwright-community/playwright-go"
)

var (
	driverMu        sync.Mutex
	driverInstalled bool
	installDriver   = playwright.Install
)

// ensureDriver 每个进程只安装一次驱动,重建和重试直接复用
// 安装失败不记录,下次打开会话时重新尝试
func ensureDriver(opts *playwright.RunOptions) error {
	driverMu.Lock()
	defer driverMu.Unlock()
	if driverInstalled {
		return nil
	}
	if err := installDriver(opts); err != nil {
		return err
	}
	driverInstalled = true
	return nil
}

// PlaywrightSession 基于playwright-go的Chromium会话
type PlaywrightSession struct {
	*playwrightPage

	cfg     models.SessionConfig
	headers http.Header

	mu         sync.Mutex
	info       models.SessionInfo
	playwright *playwright.Playwright
	browser    playwright.Browser
	context    playwright.BrowserContext
	pages      []*playwrightPage
	closed     bool
}

// NewPlaywrightSession 创建playwright会话(尚未启动浏览器)
func NewPlaywrightSession(cfg models.SessionConfig, headers http.Header) *PlaywrightSession {
	s := &PlaywrightSession{
		cfg:     cfg,
		headers: headers,
		info:    models.NewSessionInfo(models.EnginePlaywright),
	}
	s.playwrightPage = &playwrightPage{session: s}
	return s
}

// Open 启动驱动和浏览器并打开首页
func (s *PlaywrightSession) Open(ctx context.Context, homeURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.launchBrowser(); err != nil {
		return err
	}

	page, err := s.createPage()
	if err != nil {
		return err
	}
	s.playwrightPage.page = page

	return s.playwrightPage.Navigate(ctx, homeURL)
}

// launchBrowser 启动playwright驱动、浏览器和上下文
func (s *PlaywrightSession) launchBrowser() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.ErrSessionClosed
	}
	if s.context != nil {
		return nil
	}

	// 驱动输出会干扰日志,全部丢弃
	opts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if s.cfg.BrowserBin != "" {
		opts.SkipInstallBrowsers = true
	}
	if err := ensureDriver(opts); err != nil {
		return fmt.Errorf("安装playwright驱动失败: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return fmt.Errorf("启动playwright失败: %w", err)
	}
	s.playwright = pw

	headless := s.cfg.Headless
	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: &headless,
		Args:     []string{"--ignore-certificate-errors"},
	}
	if s.cfg.BrowserBin != "" {
		launchOpts.ExecutablePath = playwright.String(s.cfg.BrowserBin)
	}
	browser, err := pw.Chromium.Launch(launchOpts)
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}
	s.browser = browser

	userAgent, extra := splitBrowserHeaders(s.headers)
	contextOpts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if userAgent != "" {
		contextOpts.UserAgent = playwright.String(userAgent)
	}
	if len(extra) > 0 {
		contextOpts.ExtraHttpHeaders = extra
	}
	browserContext, err := browser.NewContext(contextOpts)
	if err != nil {
		return fmt.Errorf("创建浏览器上下文失败: %w", err)
	}
	s.context = browserContext

	utils.Debugf("playwright浏览器已启动 (headless=%v)", headless)
	return nil
}

// createPage 在共享上下文中新建页面
func (s *PlaywrightSession) createPage() (playwright.Page, error) {
	s.mu.Lock()
	browserContext, closed := s.context, s.closed
	s.mu.Unlock()

	if closed {
		return nil, models.ErrSessionClosed
	}
	if browserContext == nil {
		return nil, fmt.Errorf("浏览器尚未启动")
	}

	page, err := browserContext.NewPage()
	if err != nil {
		return nil, fmt.Errorf("创建页面失败: %w", err)
	}

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	page.SetDefaultTimeout(float64(timeout.Milliseconds()))
	return page, nil
}

// NewPage 新建访问用的页面
func (s *PlaywrightSession) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := s.createPage()
	if err != nil {
		return nil, err
	}

	pp := &playwrightPage{session: s, page: page}
	s.mu.Lock()
	s.pages = append(s.pages, pp)
	s.mu.Unlock()
	return pp, nil
}

// IsClosed 会话已关闭、列表页被关闭或浏览器断开
func (s *PlaywrightSession) IsClosed() bool {
	s.mu.Lock()
	closed, browser := s.closed, s.browser
	s.mu.Unlock()
	if closed || browser == nil {
		return true
	}
	if !browser.IsConnected() {
		return true
	}
	page := s.playwrightPage.page
	return page == nil || page.IsClosed()
}

// Info 会话信息
func (s *PlaywrightSession) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// SetStatus 更新认证状态
func (s *PlaywrightSession) SetStatus(status models.AuthStatus) {
	s.mu.Lock()
	s.info.Status = status
	s.mu.Unlock()
}

// Close 依次关闭页面、上下文、浏览器和驱动,可重复调用
func (s *PlaywrightSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pages := s.pages
	s.pages = nil
	browserContext, browser, pw := s.context, s.browser, s.playwright
	s.mu.Unlock()

	for _, p := range pages {
		p.Close()
	}
	s.playwrightPage.Close()

	connected := browser != nil && browser.IsConnected()
	if browserContext != nil && connected {
		if err := browserContext.Close(); err != nil {
			utils.Debugf("关闭浏览器上下文失败: %v", err)
		}
	}

	var closeErr error
	if connected {
		if err := browser.Close(); err != nil {
			closeErr = fmt.Errorf("关闭浏览器失败: %w", err)
		}
	}
	if pw != nil {
		if err := pw.Stop(); err != nil && closeErr == nil {
			closeErr = fmt.Errorf("停止playwright失败: %w", err)
		}
	}

	utils.Debugf("playwright会话已关闭: %s", s.info.ID)
	return closeErr
}

// playwrightPage playwright的一个页面
// playwright-go 不接受 context,只在每次调用前检查取消
type playwrightPage struct {
	session *PlaywrightSession
	page    playwright.Page

	mu     sync.Mutex
	closed bool
}

// current 返回可用的页面
func (p *playwrightPage) current(ctx context.Context) (playwright.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.page == nil || p.page.IsClosed() {
		return nil, models.ErrSessionClosed
	}
	return p.page, nil
}

// Navigate 打开URL并等待load事件
func (p *playwrightPage) Navigate(ctx context.Context, rawURL string) error {
	page, err := p.current(ctx)
	if err != nil {
		return &models.NavigationError{URL: rawURL, Cause: err}
	}
	if _, err := page.Goto(rawURL, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateLoad,
	}); err != nil {
		return &models.NavigationError{URL: rawURL, Cause: err}
	}
	return nil
}

// Query 查询当前DOM,不等待元素出现
func (p *playwrightPage) Query(ctx context.Context, q models.Query) ([]models.Node, error) {
	page, err := p.current(ctx)
	if err != nil {
		return nil, err
	}

	elements, err := page.QuerySelectorAll(q.Selector)
	if err != nil {
		return nil, fmt.Errorf("查询元素失败 [%s]: %w", q.Selector, err)
	}

	nodes := make([]models.Node, 0, len(elements))
	for _, el := range elements {
		text, _ := el.TextContent()
		node := models.Node{Text: strings.TrimSpace(text)}

		if len(q.Attrs) > 0 {
			node.Attrs = make(map[string]string, len(q.Attrs))
			for _, name := range q.Attrs {
				if value, err := el.GetAttribute(name); err == nil && value != "" {
					node.Attrs[name] = value
				}
			}
		}

		if q.ChildSelector != "" {
			children, err := el.QuerySelectorAll(q.ChildSelector)
			if err == nil {
				for _, child := range children {
					childText, _ := child.TextContent()
					node.Children = append(node.Children, strings.TrimSpace(childText))
				}
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Submit 有选择器时在页面上填写并点击,否则在页面内以fetch POST到 a.URL
func (p *playwrightPage) Submit(ctx context.Context, a models.Action) bool {
	page, err := p.current(ctx)
	if err != nil {
		return false
	}

	if len(a.Inputs) == 0 && a.Selector == "" {
		return submitFetchPlaywright(page, a)
	}

	for selector, value := range a.Inputs {
		if err := page.Fill(selector, value); err != nil {
			utils.Debugf("填写输入框失败 [%s]: %v", selector, err)
			return false
		}
	}

	if a.Selector != "" {
		el, err := page.QuerySelector(a.Selector)
		if err != nil || el == nil {
			if a.URL != "" {
				return submitFetchPlaywright(page, a)
			}
			utils.Debugf("未找到可点击元素 [%s]", a.Selector)
			return false
		}
		if err := el.Click(); err != nil {
			utils.Debugf("点击失败 [%s]: %v", a.Selector, err)
			return false
		}
	}

	if a.WaitSelector != "" {
		if _, err := page.WaitForSelector(a.WaitSelector); err != nil {
			utils.Debugf("等待元素超时 [%s]: %v", a.WaitSelector, err)
			return false
		}
	}
	return true
}

// submitFetchPlaywright 在页面上下文中发送表单POST
func submitFetchPlaywright(page playwright.Page, a models.Action) bool {
	if a.URL == "" {
		return false
	}
	res, err := page.Evaluate(submitScript, submitRequest(a))
	if err != nil {
		utils.Debugf("页面内提交失败 [%s %s]: %v", a.Name, a.URL, err)
		return false
	}

	status := 0
	switch v := res.(type) {
	case int:
		status = v
	case int64:
		status = int(v)
	case float64:
		status = int(v)
	}
	if !isSuccessStatus(status) {
		utils.Debugf("提交被拒绝 [%s %s]: HTTP %d", a.Name, a.URL, status)
		return false
	}
	return true
}

// Scroll 滚动到底部并等待懒加载
func (p *playwrightPage) Scroll(ctx context.Context) error {
	page, err := p.current(ctx)
	if err != nil {
		return err
	}
	if _, err := page.Evaluate(scrollScript); err != nil {
		return fmt.Errorf("滚动失败: %w", err)
	}
	return utils.SleepContext(ctx, scrollSettleDelay)
}

// URL 当前页面地址
func (p *playwrightPage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.page == nil {
		return ""
	}
	return p.page.URL()
}

// Close 关闭页面,可重复调用
func (p *playwrightPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	page := p.page
	p.mu.Unlock()

	forgetPage(&p.session.mu, &p.session.pages, p)
	if page == nil || page.IsClosed() {
		return nil
	}
	if err := page.Close(); err != nil {
		utils.Debugf("关闭页面失败: %v", err)
	}
	return nil
}
