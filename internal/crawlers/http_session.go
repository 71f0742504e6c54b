package crawlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/publicsuffix"
)

// fetchResultKey colly上下文中保存单次请求结果的键
const fetchResultKey = "fetch_result"

// fetchResult 单次请求的响应快照
type fetchResult struct {
	status   int
	body     []byte
	finalURL string
	err      error
}

// HTTPSession 基于colly的纯HTTP会话
// 所有页面共享同一个collector和cookie jar,登录后的cookie对后续请求生效
type HTTPSession struct {
	*httpPage

	cfg     models.SessionConfig
	headers http.Header

	mu        sync.Mutex
	info      models.SessionInfo
	collector *colly.Collector
	pages     []*httpPage
	opened    bool
	closed    bool
}

// NewHTTPSession 创建HTTP会话(尚未打开)
func NewHTTPSession(cfg models.SessionConfig, headers http.Header) *HTTPSession {
	s := &HTTPSession{
		cfg:     cfg,
		headers: headers,
		info:    models.NewSessionInfo(models.EngineHTTP),
	}
	s.httpPage = &httpPage{session: s}
	return s
}

// Open 创建collector并加载首页
func (s *HTTPSession) Open(ctx context.Context, homeURL string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.ErrSessionClosed
	}
	if !s.opened {
		collector, err := s.newCollector()
		if err != nil {
			s.mu.Unlock()
			return err
		}
		s.collector = collector
		s.opened = true
	}
	s.mu.Unlock()

	return s.httpPage.Navigate(ctx, homeURL)
}

// newCollector 构造同步collector
func (s *HTTPSession) newCollector() (*colly.Collector, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("创建cookie jar失败: %w", err)
	}

	options := []colly.CollectorOption{
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	}
	if ua := s.headers.Get("User-Agent"); ua != "" {
		options = append(options, colly.UserAgent(ua))
	}
	c := colly.NewCollector(options...)

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	c.WithTransport(cloudflarebp.AddCloudFlareByPass(transport))
	c.SetCookieJar(jar)

	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)

	// 应用自定义HTTP头部,单次请求显式传入的头部优先
	c.OnRequest(func(r *colly.Request) {
		for name, values := range s.headers {
			if name == "User-Agent" || len(values) == 0 {
				continue
			}
			if r.Headers.Get(name) == "" {
				r.Headers.Set(name, values[0])
			}
		}
	})

	c.OnResponse(func(r *colly.Response) {
		res, ok := r.Ctx.GetAny(fetchResultKey).(*fetchResult)
		if !ok {
			return
		}
		res.status = r.StatusCode
		res.finalURL = r.Request.URL.String()

		body, err := decompressResponse(r.Headers.Get("Content-Encoding"), r.Body)
		if err != nil {
			res.err = err
			return
		}
		res.body = body
	})

	c.OnError(func(r *colly.Response, err error) {
		utils.Debugf("HTTP请求失败 [%s]: %v", r.Request.URL, err)
	})

	return c, nil
}

// fetch 同步发送一次请求
func (s *HTTPSession) fetch(ctx context.Context, method, rawURL string, body []byte, hdr http.Header) (*fetchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	collector, closed := s.collector, s.closed
	s.mu.Unlock()
	if closed {
		return nil, models.ErrSessionClosed
	}
	if collector == nil {
		return nil, fmt.Errorf("会话尚未打开")
	}

	res := &fetchResult{}
	cctx := colly.NewContext()
	cctx.Put(fetchResultKey, res)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	if err := collector.Request(method, rawURL, reader, cctx, hdr); err != nil {
		return nil, err
	}
	if res.err != nil {
		return nil, res.err
	}
	if res.finalURL == "" {
		res.finalURL = rawURL
	}
	return res, nil
}

// NewPage 创建共享cookie的独立页面
func (s *HTTPSession) NewPage(ctx context.Context) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, models.ErrSessionClosed
	}
	if !s.opened {
		return nil, fmt.Errorf("会话尚未打开")
	}
	page := &httpPage{session: s}
	s.pages = append(s.pages, page)
	return page, nil
}

// IsClosed 会话是否已关闭
func (s *HTTPSession) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Info 会话信息
func (s *HTTPSession) Info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

// SetStatus 更新认证状态
func (s *HTTPSession) SetStatus(status models.AuthStatus) {
	s.mu.Lock()
	s.info.Status = status
	s.mu.Unlock()
}

// Close 关闭所有页面并丢弃cookie,可重复调用
func (s *HTTPSession) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pages := s.pages
	s.pages = nil
	s.collector = nil
	s.mu.Unlock()

	for _, p := range pages {
		p.Close()
	}
	s.httpPage.Close()
	utils.Debugf("HTTP会话已关闭: %s", s.info.ID)
	return nil
}

// httpPage HTTP会话中的一个页面,保存最近一次加载的文档
type httpPage struct {
	session *HTTPSession

	url    string
	base   string // 最近一次 Navigate 的地址,Scroll 在其基础上翻页
	pageNo int
	doc    *goquery.Document
	closed bool
}

// Navigate 加载URL,非2xx视为失败
func (p *httpPage) Navigate(ctx context.Context, rawURL string) error {
	if err := p.load(ctx, rawURL); err != nil {
		return err
	}
	p.base = rawURL
	p.pageNo = 0
	return nil
}

func (p *httpPage) load(ctx context.Context, rawURL string) error {
	if p.closed {
		return &models.NavigationError{URL: rawURL, Cause: models.ErrSessionClosed}
	}

	res, err := p.session.fetch(ctx, http.MethodGet, rawURL, nil, nil)
	if err != nil {
		return &models.NavigationError{URL: rawURL, Cause: err}
	}
	if res.status < 200 || res.status >= 300 {
		return &models.NavigationError{URL: rawURL, Cause: fmt.Errorf("HTTP %d", res.status)}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.body))
	if err != nil {
		return &models.NavigationError{URL: rawURL, Cause: fmt.Errorf("解析HTML失败: %w", err)}
	}

	p.doc = doc
	p.url = res.finalURL
	return nil
}

// Query 在当前文档中查询
func (p *httpPage) Query(ctx context.Context, q models.Query) ([]models.Node, error) {
	if p.closed {
		return nil, models.ErrSessionClosed
	}
	if p.doc == nil {
		return nil, models.ErrNoDocument
	}
	return queryDocument(p.doc.Selection, q), nil
}

// queryDocument 把goquery选择结果转换为节点快照
func queryDocument(root *goquery.Selection, q models.Query) []models.Node {
	sel := root.Find(q.Selector)
	nodes := make([]models.Node, 0, sel.Length())

	sel.Each(func(_ int, s *goquery.Selection) {
		node := models.Node{Text: strings.TrimSpace(s.Text())}
		if len(q.Attrs) > 0 {
			node.Attrs = make(map[string]string, len(q.Attrs))
			for _, name := range q.Attrs {
				if value, ok := s.Attr(name); ok {
					node.Attrs[name] = value
				}
			}
		}
		if q.ChildSelector != "" {
			s.Find(q.ChildSelector).Each(func(_ int, child *goquery.Selection) {
				node.Children = append(node.Children, strings.TrimSpace(child.Text()))
			})
		}
		nodes = append(nodes, node)
	})

	return nodes
}

// Submit 以表单形式POST到 a.URL,2xx视为成功
// 成功时响应文档替换当前文档,便于后续校验
func (p *httpPage) Submit(ctx context.Context, a models.Action) bool {
	if p.closed || a.URL == "" {
		return false
	}

	form := url.Values{}
	for name, value := range a.Fields {
		form.Set(name, value)
	}

	hdr := http.Header{}
	hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.url != "" {
		hdr.Set("Referer", p.url)
	}
	for name, value := range a.Headers {
		hdr.Set(name, value)
	}

	res, err := p.session.fetch(ctx, http.MethodPost, a.URL, []byte(form.Encode()), hdr)
	if err != nil {
		utils.Debugf("提交失败 [%s %s]: %v", a.Name, a.URL, err)
		return false
	}
	if res.status < 200 || res.status >= 300 {
		utils.Debugf("提交被拒绝 [%s %s]: HTTP %d", a.Name, a.URL, res.status)
		return false
	}

	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.body)); err == nil {
		p.doc = doc
		p.url = res.finalURL
	}
	return true
}

// Scroll 纯HTTP无法滚动,改为加载列表的下一页
func (p *httpPage) Scroll(ctx context.Context) error {
	if p.base == "" {
		return models.ErrNoDocument
	}
	u, err := url.Parse(p.base)
	if err != nil {
		return &models.NavigationError{URL: p.base, Cause: err}
	}
	next := p.pageNo + 1
	q := u.Query()
	q.Set("page", strconv.Itoa(next))
	u.RawQuery = q.Encode()

	if err := p.load(ctx, u.String()); err != nil {
		return err
	}
	p.pageNo = next
	return nil
}

// URL 当前页面地址
func (p *httpPage) URL() string { return p.url }

// Close 丢弃文档,可重复调用
func (p *httpPage) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.doc = nil
	forgetPage(&p.session.mu, &p.session.pages, p)
	return nil
}
