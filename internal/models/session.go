package models

import "time"

// Engine 会话引擎类型
type Engine string

const (
	EngineRod        Engine = "rod"        // go-rod 驱动的 Chromium
	EnginePlaywright Engine = "playwright" // playwright 驱动的 Chromium
	EngineHTTP       Engine = "http"       // 纯 HTTP 客户端(colly)
)

// IsBrowser 是否为浏览器引擎
func (e Engine) IsBrowser() bool {
	return e == EngineRod || e == EnginePlaywright
}

// Valid 是否为已知引擎
func (e Engine) Valid() bool {
	switch e {
	case EngineRod, EnginePlaywright, EngineHTTP:
		return true
	}
	return false
}

// AuthStatus 会话认证状态
type AuthStatus string

const (
	AuthUnauthenticated AuthStatus = "unauthenticated"
	AuthAuthenticated   AuthStatus = "authenticated"
	AuthInvalid         AuthStatus = "invalid"
)

// SessionInfo 会话描述信息
type SessionInfo struct {
	ID        string     `json:"id"`
	Engine    Engine     `json:"engine"`
	Status    AuthStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewSessionInfo 创建会话信息,状态为未认证
func NewSessionInfo(engine Engine) SessionInfo {
	return SessionInfo{
		ID:        generateID(),
		Engine:    engine,
		Status:    AuthUnauthenticated,
		CreatedAt: time.Now(),
	}
}

// Query 结构化内容查询
// Selector 为CSS选择器; Attrs 为需要读取的属性;
// ChildSelector 非空时会收集每个匹配节点下子元素的文本
type Query struct {
	Selector      string
	Attrs         []string
	ChildSelector string
}

// Node 查询结果快照,不持有任何页面句柄
type Node struct {
	Text     string
	Attrs    map[string]string
	Children []string
}

// Attr 读取属性值,不存在时返回空串
func (n Node) Attr(name string) string {
	if n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// Action 表单提交或点击动作
//
// 浏览器引擎优先使用 Inputs/Selector(填充输入框并点击),
// 仅设置 URL 时改为在页面内发起 POST;
// HTTP 引擎直接把 Fields 以表单形式 POST 到 URL。
type Action struct {
	Name         string
	URL          string
	Selector     string
	WaitSelector string
	Inputs       map[string]string // 选择器 -> 输入值
	Fields       map[string]string // 表单字段名 -> 值
	Headers      map[string]string
}
