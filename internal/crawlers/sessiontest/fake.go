// Package sessiontest 提供内存中的会话实现,供浏览循环和编排器测试使用
// 只能在外部测试包(xxx_test)中引用
package sessiontest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/crawlers"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
)

var _ crawlers.Session = (*FakeSession)(nil)

// Responder 根据页面地址、滚动次数和查询返回节点
type Responder func(pageURL string, scrolls int, q models.Query) ([]models.Node, error)

// Links 构造主题链接节点
func Links(hrefs ...string) []models.Node {
	nodes := make([]models.Node, 0, len(hrefs))
	for _, href := range hrefs {
		nodes = append(nodes, models.Node{
			Text:  "主题 " + href,
			Attrs: map[string]string{"href": href},
		})
	}
	return nodes
}

// Listing 列表页按滚动次数依次返回各批主题,超出后重复最后一批
func Listing(selector string, batches ...[]string) Responder {
	return func(_ string, scrolls int, q models.Query) ([]models.Node, error) {
		if q.Selector != selector || len(batches) == 0 {
			return nil, nil
		}
		if scrolls >= len(batches) {
			scrolls = len(batches) - 1
		}
		return Links(batches[scrolls]...), nil
	}
}

// Static 按选择器返回固定节点
func Static(nodes map[string][]models.Node) Responder {
	return func(_ string, _ int, q models.Query) ([]models.Node, error) {
		return nodes[q.Selector], nil
	}
}

// FakeSession 可编程的内存会话
type FakeSession struct {
	*FakePage

	// Responder 处理所有页面的查询,为 nil 时返回空
	Responder Responder
	// SubmitFunc 决定提交结果,为 nil 时总是成功
	SubmitFunc func(pageURL string, a models.Action) bool
	// NavigateFunc 决定导航结果,为 nil 时总是成功
	NavigateFunc func(rawURL string) error
	// ScrollErr 非空时 Scroll 返回该错误
	ScrollErr error
	// OpenErr 非空时 Open 返回该错误
	OpenErr error
	// ClosedAfterPages 打开这么多访问页之后会话表现为已断开,0 表示不断开
	ClosedAfterPages int

	mu          sync.Mutex
	info        models.SessionInfo
	opened      bool
	closed      bool
	closeCalls  int
	pagesOpened int
	pagesClosed int
	visits      []string
	submits     []models.Action
	scrolls     int
}

// NewFakeSession 创建内存会话
func NewFakeSession(responder Responder) *FakeSession {
	s := &FakeSession{
		Responder: responder,
		info:      models.NewSessionInfo(models.EngineHTTP),
	}
	s.FakePage = &FakePage{session: s, listing: true}
	return s
}

// Open 打开首页
func (s *FakeSession) Open(ctx context.Context, homeURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.OpenErr != nil {
		return s.OpenErr
	}
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return s.FakePage.Navigate(ctx, homeURL)
}

// NewPage 创建访问页
func (s *FakeSession) NewPage(ctx context.Context) (crawlers.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, models.ErrSessionClosed
	}
	s.pagesOpened++
	return &FakePage{session: s}, nil
}

// IsClosed 会话是否已关闭或按设定断开
func (s *FakeSession) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true
	}
	return s.ClosedAfterPages > 0 && s.pagesOpened >= s.ClosedAfterPages
}

// Info 会话信息
func (s *FakeSession) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// SetStatus 更新认证状态
func (s *FakeSession) SetStatus(status models.AuthStatus) {
	s.mu.Lock()
	s.info.Status = status
	s.mu.Unlock()
}

// Close 关闭会话,可重复调用
func (s *FakeSession) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.closed = true
	s.mu.Unlock()
	s.FakePage.closed = true
	return nil
}

// CloseCalls Close 被调用的次数
func (s *FakeSession) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Opened 是否成功打开过
func (s *FakeSession) Opened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

// Visits 访问页导航过的地址
func (s *FakeSession) Visits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visits...)
}

// Submits 所有提交过的动作
func (s *FakeSession) Submits() []models.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Action(nil), s.submits...)
}

// Scrolls 列表页滚动次数
func (s *FakeSession) Scrolls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scrolls
}

// OpenPages 尚未关闭的访问页数量
func (s *FakeSession) OpenPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pagesOpened - s.pagesClosed
}

// FakePage 内存页面
type FakePage struct {
	session *FakeSession
	listing bool
	url     string
	scrolls int
	closed  bool
}

// Navigate 记录导航
func (p *FakePage) Navigate(ctx context.Context, rawURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed {
		return &models.NavigationError{URL: rawURL, Cause: models.ErrSessionClosed}
	}
	s := p.session
	if s.NavigateFunc != nil {
		if err := s.NavigateFunc(rawURL); err != nil {
			return &models.NavigationError{URL: rawURL, Cause: err}
		}
	}
	p.url = rawURL
	p.scrolls = 0
	if !p.listing {
		s.mu.Lock()
		s.visits = append(s.visits, rawURL)
		s.mu.Unlock()
	}
	return nil
}

// Query 交给 Responder
func (p *FakePage) Query(ctx context.Context, q models.Query) ([]models.Node, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.closed {
		return nil, models.ErrSessionClosed
	}
	if p.url == "" {
		return nil, models.ErrNoDocument
	}
	if p.session.Responder == nil {
		return nil, nil
	}
	return p.session.Responder(p.url, p.scrolls, q)
}

// Submit 记录动作并交给 SubmitFunc
func (p *FakePage) Submit(ctx context.Context, a models.Action) bool {
	if ctx.Err() != nil || p.closed {
		return false
	}
	s := p.session
	s.mu.Lock()
	s.submits = append(s.submits, a)
	s.mu.Unlock()
	if s.SubmitFunc == nil {
		return true
	}
	return s.SubmitFunc(p.url, a)
}

// Scroll 推进列表批次
func (p *FakePage) Scroll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.closed {
		return models.ErrSessionClosed
	}
	if p.session.ScrollErr != nil {
		return p.session.ScrollErr
	}
	p.scrolls++
	p.session.mu.Lock()
	p.session.scrolls++
	p.session.mu.Unlock()
	return nil
}

// URL 当前地址
func (p *FakePage) URL() string { return p.url }

// Close 关闭页面,可重复调用
func (p *FakePage) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if !p.listing {
		p.session.mu.Lock()
		p.session.pagesClosed++
		p.session.mu.Unlock()
	}
	return nil
}

// Opener 依次返回给定的会话,用完后返回错误
type Opener struct {
	mu       sync.Mutex
	sessions []*FakeSession
	calls    int
	// Err 非空时每次调用都返回该错误
	Err error
}

// NewOpener 创建按顺序返回会话的打开器
func NewOpener(sessions ...*FakeSession) *Opener {
	return &Opener{sessions: sessions}
}

// ErrNoMoreSessions 打开器中的会话已用完
var ErrNoMoreSessions = errors.New("没有可用的测试会话")

// Next 返回下一个会话并打开首页
func (o *Opener) Next(ctx context.Context, homeURL string) (*FakeSession, error) {
	o.mu.Lock()
	o.calls++
	if o.Err != nil {
		o.mu.Unlock()
		return nil, o.Err
	}
	if len(o.sessions) == 0 {
		o.mu.Unlock()
		return nil, ErrNoMoreSessions
	}
	s := o.sessions[0]
	o.sessions = o.sessions[1:]
	o.mu.Unlock()

	if err := s.Open(ctx, homeURL); err != nil {
		return nil, fmt.Errorf("打开测试会话失败: %w", err)
	}
	return s, nil
}

// Calls 调用次数
func (o *Opener) Calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls
}
