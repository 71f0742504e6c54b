package core

import (
	"context"
	"time"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
	"github.com/go-resty/resty/v2"
)

// Sender 发送统计通知
type Sender interface {
	// Send 发送一条通知,返回是否真正发出了请求
	Send(ctx context.Context, title, content string) (bool, error)
}

// Notifier PushPlus 推送
// 只发送一次,响应只记录日志不做判断
type Notifier struct {
	cfg    models.NotifyConfig
	client *resty.Client
}

// NewNotifier 创建推送器
func NewNotifier(cfg models.NotifyConfig) *Notifier {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Notifier{
		cfg:    cfg,
		client: resty.New().SetTimeout(timeout),
	}
}

// Enabled 是否配置了推送token
func (n *Notifier) Enabled() bool {
	return n.cfg.Token != ""
}

// Send 以表单形式POST {token, title, content, template}
func (n *Notifier) Send(ctx context.Context, title, content string) (bool, error) {
	if !n.Enabled() {
		utils.Warnf("⚠️  未配置推送token,跳过通知")
		return false, nil
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"token":    n.cfg.Token,
			"title":    title,
			"content":  content,
			"template": "html",
		}).
		Post(n.cfg.Endpoint)
	if err != nil {
		return false, &models.ReportError{Stage: "notify", Cause: err}
	}

	utils.Infof("📨 推送结果: HTTP %d %s", resp.StatusCode(), utils.Truncate(resp.String(), 200))
	return true, nil
}
