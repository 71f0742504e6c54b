package models

import (
	"net/url"
	"regexp"
	"strings"
)

// topicIDPattern 匹配 /t/<slug>/<id> 或 /t/<id>,可带楼层号
var topicIDPattern = regexp.MustCompile(`^/t/(?:[^/]+/)?(\d+)(?:/\d+)?/?$`)

// TopicReference 列表页中发现的主题
// Key 在发现时计算一次,之后只按 Key 判断相等
type TopicReference struct {
	Key   string `json:"key"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// NewTopicReference 由列表页链接构造主题引用
// href 可以是相对路径,会基于 baseURL 解析为绝对地址
func NewTopicReference(baseURL, href, title string) (TopicReference, error) {
	abs, err := ResolveURL(baseURL, href)
	if err != nil {
		return TopicReference{}, err
	}
	return TopicReference{
		Key:   TopicKey(abs),
		URL:   abs,
		Title: strings.TrimSpace(title),
	}, nil
}

// TopicKey 计算主题的稳定键
// 能识别出主题编号时返回 "topic:<id>",否则返回规范化后的URL
func TopicKey(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return strings.TrimSpace(rawURL)
	}
	if m := topicIDPattern.FindStringSubmatch(parsed.Path); m != nil {
		return "topic:" + m[1]
	}
	parsed.Fragment = ""
	parsed.RawQuery = ""
	parsed.Host = strings.ToLower(parsed.Host)
	return strings.TrimRight(parsed.String(), "/")
}

// VisitedSet 已访问主题集合,只增不减
type VisitedSet struct {
	keys  map[string]struct{}
	order []string
}

// NewVisitedSet 创建空集合
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{keys: make(map[string]struct{})}
}

// Add 加入键,返回是否为新键
func (s *VisitedSet) Add(key string) bool {
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	s.order = append(s.order, key)
	return true
}

// Has 是否已包含
func (s *VisitedSet) Has(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// Len 集合大小
func (s *VisitedSet) Len() int {
	return len(s.order)
}

// Keys 按加入顺序返回所有键
func (s *VisitedSet) Keys() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Filter 过滤掉已包含的主题,同时去掉输入中重复的键
func (s *VisitedSet) Filter(topics []TopicReference) []TopicReference {
	seen := make(map[string]struct{}, len(topics))
	fresh := make([]TopicReference, 0, len(topics))
	for _, t := range topics {
		if s.Has(t.Key) {
			continue
		}
		if _, dup := seen[t.Key]; dup {
			continue
		}
		seen[t.Key] = struct{}{}
		fresh = append(fresh, t)
	}
	return fresh
}

// VisitCounter 有上限的访问计数器
type VisitCounter struct {
	count int
	max   int
}

// NewVisitCounter 创建计数器,max 小于 0 时按 0 处理
func NewVisitCounter(max int) *VisitCounter {
	if max < 0 {
		max = 0
	}
	return &VisitCounter{max: max}
}

// Inc 计数加一,已达上限时返回 false 且不变
func (c *VisitCounter) Inc() bool {
	if c.count >= c.max {
		return false
	}
	c.count++
	return true
}

// Count 当前计数
func (c *VisitCounter) Count() int { return c.count }

// Max 上限
func (c *VisitCounter) Max() int { return c.max }

// Remaining 剩余可访问次数
func (c *VisitCounter) Remaining() int { return c.max - c.count }

// Done 是否已达上限
func (c *VisitCounter) Done() bool { return c.count >= c.max }
