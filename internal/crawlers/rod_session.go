package crawlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// livenessProbeTimeout 探测浏览器是否存活的超时时间
const livenessProbeTimeout = 5 * time.Second

// RodSession 基于go-rod的Chromium会话
type RodSession struct {
	*rodPage

	cfg     models.SessionConfig
	headers http.Header

	mu       sync.Mutex
	info     models.SessionInfo
	launcher *launcher.Launcher
	browser  *rod.Browser
	pages    []*rodPage
	closed   bool
}

// NewRodSession 创建rod会话(尚未启动浏览器)
func NewRodSession(cfg models.SessionConfig, headers http.Header) *RodSession {
	s := &RodSession{
		cfg:     cfg,
		headers: headers,
		info:    models.NewSessionInfo(models.EngineRod),
	}
	s.rodPage = &rodPage{session: s}
	return s
}

// Open 启动浏览器并打开首页
func (s *RodSession) Open(ctx context.Context, homeURL string) error {
	if err := s.launchBrowser(ctx); err != nil {
		return err
	}

	page, err := s.createPage()
	if err != nil {
		return err
	}
	s.rodPage.page = page

	return s.rodPage.Navigate(ctx, homeURL)
}

// launchBrowser 启动浏览器
func (s *RodSession) launchBrowser(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return models.ErrSessionClosed
	}
	if s.browser != nil {
		return nil
	}

	l := launcher.New().Context(ctx).Headless(s.cfg.Headless)
	l = l.Set("ignore-certificate-errors")
	if s.cfg.BrowserBin != "" {
		l = l.Bin(s.cfg.BrowserBin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return fmt.Errorf("启动浏览器失败: %w", err)
	}
	s.launcher = l

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("连接浏览器失败: %w", err)
	}
	s.browser = browser

	utils.Debugf("浏览器已启动: %s (headless=%v)", controlURL, s.cfg.Headless)
	return nil
}

// createPage 新建标签页并应用头部
func (s *RodSession) createPage() (*rod.Page, error) {
	s.mu.Lock()
	browser, closed := s.browser, s.closed
	s.mu.Unlock()

	if closed {
		return nil, models.ErrSessionClosed
	}
	if browser == nil {
		return nil, fmt.Errorf("浏览器尚未启动")
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("创建标签页失败: %w", err)
	}

	userAgent, extra := splitBrowserHeaders(s.headers)
	if userAgent != "" {
		override := &proto.NetworkSetUserAgentOverride{UserAgent: userAgent}
		if lang, ok := extra["Accept-Language"]; ok {
			override.AcceptLanguage = lang
		}
		if err := page.SetUserAgent(override); err != nil {
			page.Close()
			return nil, fmt.Errorf("设置User-Agent失败: %w", err)
		}
	}
	if len(extra) > 0 {
		dict := make([]string, 0, len(extra)*2)
		for name, value := range extra {
			dict = append(dict, name, value)
		}
		if _, err := page.SetExtraHeaders(dict); err != nil {
			page.Close()
			return nil, fmt.Errorf("设置额外头部失败: %w", err)
		}
	}

	return page, nil
}

// NewPage 新建访问用的标签页
func (s *RodSession) NewPage(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := s.createPage()
	if err != nil {
		return nil, err
	}

	rp := &rodPage{session: s, page: page}
	s.mu.Lock()
	s.pages = append(s.pages, rp)
	s.mu.Unlock()
	return rp, nil
}

// IsClosed 会话已关闭或浏览器已断开
func (s *RodSession) IsClosed() bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return true
	}

	page := s.rodPage.page
	if page == nil {
		return true
	}
	if _, err := page.Timeout(livenessProbeTimeout).Info(); err != nil {
		utils.Debugf("浏览器连接探测失败: %v", err)
		return true
	}
	return false
}

// Info 会话信息
func (s *RodSession) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// SetStatus 更新认证状态
func (s *RodSession) SetStatus(status models.AuthStatus) {
	s.mu.Lock()
	s.info.Status = status
	s.mu.Unlock()
}

// Close 先关闭标签页再关闭浏览器,可重复调用
func (s *RodSession) Close() error {
	alive := !s.IsClosed()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pages := s.pages
	s.pages = nil
	browser, l := s.browser, s.launcher
	s.mu.Unlock()

	if alive {
		for _, p := range pages {
			p.Close()
		}
		s.rodPage.Close()
	}

	var closeErr error
	if browser != nil && alive {
		if err := browser.Close(); err != nil {
			closeErr = fmt.Errorf("关闭浏览器失败: %w", err)
		}
	}
	if l != nil {
		l.Kill()
		l.Cleanup()
	}

	utils.Debugf("浏览器会话已关闭: %s", s.info.ID)
	return closeErr
}

// rodPage rod的一个标签页
type rodPage struct {
	session *RodSession
	page    *rod.Page

	mu     sync.Mutex
	closed bool
}

// timeout 单次操作的超时时间
func (p *rodPage) timeout() time.Duration {
	if p.session.cfg.Timeout > 0 {
		return p.session.cfg.Timeout
	}
	return 30 * time.Second
}

// bound 返回绑定上下文和超时的页面
func (p *rodPage) bound(ctx context.Context) (*rod.Page, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.page == nil {
		return nil, models.ErrSessionClosed
	}
	return p.page.Context(ctx).Timeout(p.timeout()), nil
}

// Navigate 打开URL并等待load事件
func (p *rodPage) Navigate(ctx context.Context, rawURL string) error {
	page, err := p.bound(ctx)
	if err != nil {
		return &models.NavigationError{URL: rawURL, Cause: err}
	}
	defer page.CancelTimeout()

	if err := page.Navigate(rawURL); err != nil {
		return &models.NavigationError{URL: rawURL, Cause: err}
	}
	if err := page.WaitLoad(); err != nil {
		return &models.NavigationError{URL: rawURL, Cause: err}
	}
	return nil
}

// Query 查询当前DOM,不等待元素出现
func (p *rodPage) Query(ctx context.Context, q models.Query) ([]models.Node, error) {
	page, err := p.bound(ctx)
	if err != nil {
		return nil, err
	}
	defer page.CancelTimeout()

	elements, err := page.Elements(q.Selector)
	if err != nil {
		return nil, fmt.Errorf("查询元素失败 [%s]: %w", q.Selector, err)
	}

	nodes := make([]models.Node, 0, len(elements))
	for _, el := range elements {
		text, _ := el.Text()
		node := models.Node{Text: strings.TrimSpace(text)}

		if len(q.Attrs) > 0 {
			node.Attrs = make(map[string]string, len(q.Attrs))
			for _, name := range q.Attrs {
				if value, err := el.Attribute(name); err == nil && value != nil {
					node.Attrs[name] = *value
				}
			}
		}

		if q.ChildSelector != "" {
			children, err := el.Elements(q.ChildSelector)
			if err == nil {
				for _, child := range children {
					childText, _ := child.Text()
					node.Children = append(node.Children, strings.TrimSpace(childText))
				}
			}
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// Submit 有选择器时在页面上填写并点击,否则在页面内以fetch POST到 a.URL
func (p *rodPage) Submit(ctx context.Context, a models.Action) bool {
	page, err := p.bound(ctx)
	if err != nil {
		return false
	}
	defer page.CancelTimeout()

	if len(a.Inputs) == 0 && a.Selector == "" {
		return p.submitFetch(page, a)
	}

	for selector, value := range a.Inputs {
		el, err := page.Element(selector)
		if err != nil {
			utils.Debugf("未找到输入框 [%s]: %v", selector, err)
			return false
		}
		if err := el.Input(value); err != nil {
			utils.Debugf("填写输入框失败 [%s]: %v", selector, err)
			return false
		}
	}

	if a.Selector != "" {
		found, el, err := page.Has(a.Selector)
		if err != nil || !found {
			if a.URL != "" {
				return p.submitFetch(page, a)
			}
			utils.Debugf("未找到可点击元素 [%s]", a.Selector)
			return false
		}
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			utils.Debugf("点击失败 [%s]: %v", a.Selector, err)
			return false
		}
	}

	if a.WaitSelector != "" {
		if _, err := page.Element(a.WaitSelector); err != nil {
			utils.Debugf("等待元素超时 [%s]: %v", a.WaitSelector, err)
			return false
		}
	}
	return true
}

// submitFetch 在页面上下文中发送表单POST
func (p *rodPage) submitFetch(page *rod.Page, a models.Action) bool {
	if a.URL == "" {
		return false
	}
	res, err := page.Eval(submitScript, submitRequest(a))
	if err != nil {
		utils.Debugf("页面内提交失败 [%s %s]: %v", a.Name, a.URL, err)
		return false
	}
	status := res.Value.Int()
	if !isSuccessStatus(status) {
		utils.Debugf("提交被拒绝 [%s %s]: HTTP %d", a.Name, a.URL, status)
		return false
	}
	return true
}

// Scroll 滚动到底部并等待懒加载
func (p *rodPage) Scroll(ctx context.Context) error {
	page, err := p.bound(ctx)
	if err != nil {
		return err
	}
	defer page.CancelTimeout()

	if _, err := page.Eval(scrollScript); err != nil {
		return fmt.Errorf("滚动失败: %w", err)
	}
	return utils.SleepContext(ctx, scrollSettleDelay)
}

// URL 当前页面地址
func (p *rodPage) URL() string {
	p.mu.Lock()
	page, closed := p.page, p.closed
	p.mu.Unlock()
	if closed || page == nil {
		return ""
	}
	info, err := page.Timeout(livenessProbeTimeout).Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Close 关闭标签页,可重复调用
func (p *rodPage) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	page := p.page
	p.mu.Unlock()

	forgetPage(&p.session.mu, &p.session.pages, p)
	if page == nil {
		return nil
	}
	if err := page.Close(); err != nil {
		utils.Debugf("关闭标签页失败: %v", err)
	}
	return nil
}
