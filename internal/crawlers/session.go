package crawlers

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// Page 一个可导航的页面(浏览器标签页或HTTP请求上下文)
type Page interface {
	// Navigate 加载URL,失败时返回 *models.NavigationError
	Navigate(ctx context.Context, rawURL string) error
	// Query 查询当前文档,没有匹配时返回空切片而不是错误
	Query(ctx context.Context, q models.Query) ([]models.Node, error)
	// Submit 执行表单提交或点击,被拒绝时返回 false,不返回错误
	Submit(ctx context.Context, a models.Action) bool
	// Scroll 请求加载更多内容(滚动或翻页)
	Scroll(ctx context.Context) error
	// URL 当前页面地址
	URL() string
	// Close 释放页面,可重复调用
	Close() error
}

// Session 一次运行中独占的会话资源
// 自身作为列表页使用,访问主题时通过 NewPage 获取独立页面
type Session interface {
	Page

	// Open 建立底层资源并打开首页
	Open(ctx context.Context, homeURL string) error
	// NewPage 创建访问用的独立页面,调用方负责关闭
	NewPage(ctx context.Context) (Page, error)
	// IsClosed 底层连接是否已被外部关闭
	IsClosed() bool
	// Info 会话信息
	Info() models.SessionInfo
	// SetStatus 更新认证状态
	SetStatus(status models.AuthStatus)
}

// NewSessionFunc 按配置构造一个尚未打开的会话
type NewSessionFunc func(cfg models.SessionConfig, headers http.Header) (Session, error)

// NewSession 按引擎类型构造会话
func NewSession(cfg models.SessionConfig, headers http.Header) (Session, error) {
	switch cfg.Engine {
	case models.EngineRod, "":
		return NewRodSession(cfg, headers), nil
	case models.EnginePlaywright:
		return NewPlaywrightSession(cfg, headers), nil
	case models.EngineHTTP:
		return NewHTTPSession(cfg, headers), nil
	default:
		return nil, fmt.Errorf("未知的会话引擎: %s", cfg.Engine)
	}
}

// SessionFactory 带有限次重试的会话工厂
type SessionFactory struct {
	cfg        models.SessionConfig
	headers    http.Header
	monitor    *ResourceMonitor
	newSession NewSessionFunc
}

// NewSessionFactory 创建会话工厂
// monitor 为 nil 时不做资源检查
func NewSessionFactory(cfg models.SessionConfig, headers http.Header, monitor *ResourceMonitor) *SessionFactory {
	return &SessionFactory{
		cfg:        cfg,
		headers:    headers,
		monitor:    monitor,
		newSession: NewSession,
	}
}

// WithConstructor 替换会话构造函数
func (f *SessionFactory) WithConstructor(fn NewSessionFunc) *SessionFactory {
	f.newSession = fn
	return f
}

// Open 建立会话并打开首页
// 最多尝试 init_retries 次,每次失败都会先关闭已构造的部分资源;
// 全部失败后返回 *models.ResourceInitError
func (f *SessionFactory) Open(ctx context.Context, homeURL string) (Session, error) {
	attempts := f.cfg.InitRetries
	if attempts < 1 {
		attempts = 1
	}

	policy := retrypolicy.NewBuilder[Session]().
		WithMaxAttempts(attempts).
		WithDelay(f.cfg.InitRetryDelay).
		HandleIf(func(_ Session, err error) bool {
			return err != nil && ctx.Err() == nil
		}).
		OnRetry(func(e failsafe.ExecutionEvent[Session]) {
			utils.Warnf("🔁 会话初始化失败,准备重试(%d/%d): %v", e.Attempts(), attempts, e.LastError())
		}).
		ReturnLastFailure().
		Build()

	tried := 0
	session, err := failsafe.With[Session](policy).WithContext(ctx).Get(func() (Session, error) {
		tried++
		return f.openOnce(ctx, homeURL)
	})
	if err != nil {
		return nil, &models.ResourceInitError{Engine: f.cfg.Engine, Attempts: tried, Cause: err}
	}

	info := session.Info()
	utils.Infof("✅ 会话已建立: %s (引擎=%s, 尝试%d次)", info.ID, info.Engine, tried)
	return session, nil
}

// openOnce 单次尝试,失败时释放部分构造的资源
func (f *SessionFactory) openOnce(ctx context.Context, homeURL string) (_ Session, err error) {
	if f.cfg.Engine.IsBrowser() && f.monitor != nil {
		if ok, reason := f.monitor.CheckResourceAvailability(); !ok {
			return nil, fmt.Errorf("%w: %s", models.ErrInsufficientResources, reason)
		}
	}

	session, err := f.newSession(f.cfg, f.headers)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("会话初始化panic: %v", r)
		}
		if err != nil {
			if closeErr := session.Close(); closeErr != nil {
				utils.Debugf("释放未完成的会话失败: %v", closeErr)
			}
		}
	}()

	start := time.Now()
	if err = session.Open(ctx, homeURL); err != nil {
		return nil, err
	}
	utils.Debugf("首页加载完成: %s (%s)", homeURL, time.Since(start).Round(time.Millisecond))
	return session, nil
}

// forgetPage 从会话的页面列表中移除已关闭的访问页
func forgetPage[P comparable](mu *sync.Mutex, pages *[]P, page P) {
	mu.Lock()
	*pages = slices.DeleteFunc(*pages, func(p P) bool { return p == page })
	mu.Unlock()
}

// splitBrowserHeaders 拆分出User-Agent和需要额外下发的头部
func splitBrowserHeaders(headers http.Header) (userAgent string, extra map[string]string) {
	extra = make(map[string]string)
	for name, values := range headers {
		if len(values) == 0 {
			continue
		}
		canonical := http.CanonicalHeaderKey(name)
		if canonical == "User-Agent" {
			userAgent = values[0]
			continue
		}
		if utils.IsBrowserManaged(canonical) {
			continue
		}
		extra[canonical] = values[0]
	}
	return userAgent, extra
}

// submitScript 浏览器内以表单形式POST,自动带上页面中的CSRF token
// 参数为 {url, fields, headers},返回HTTP状态码,网络错误时返回0
const submitScript = `(req) => {
	const meta = document.querySelector('meta[name="csrf-token"]');
	const h = Object.assign({
		'Content-Type': 'application/x-www-form-urlencoded; charset=UTF-8',
		'X-Requested-With': 'XMLHttpRequest',
	}, req.headers);
	if (meta && !h['X-CSRF-Token']) {
		h['X-CSRF-Token'] = meta.getAttribute('content');
	}
	return fetch(req.url, {
		method: 'POST',
		credentials: 'same-origin',
		headers: h,
		body: new URLSearchParams(req.fields).toString(),
	}).then(r => r.status).catch(() => 0);
}`

// submitRequest 下发给 submitScript 的参数
func submitRequest(a models.Action) map[string]interface{} {
	return map[string]interface{}{
		"url":     a.URL,
		"fields":  nonNil(a.Fields),
		"headers": nonNil(a.Headers),
	}
}

// scrollScript 滚动到底部触发懒加载
const scrollScript = `() => { window.scrollTo(0, document.body.scrollHeight); return document.body.scrollHeight; }`

// scrollSettleDelay 滚动后等待新内容渲染的时间
const scrollSettleDelay = 2 * time.Second

// nonNil 保证下发给页面脚本的map不为nil
func nonNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

// isSuccessStatus 是否为2xx
func isSuccessStatus(status int) bool {
	return status >= 200 && status < 300
}
