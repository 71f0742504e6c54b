package core

import (
	"context"
	"fmt"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/crawlers"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
)

// Authenticator 用账号密码登录会话
type Authenticator struct {
	cfg     models.LoginConfig
	homeURL string
}

// NewAuthenticator 创建登录器
func NewAuthenticator(cfg models.LoginConfig, homeURL string) *Authenticator {
	return &Authenticator{cfg: cfg, homeURL: homeURL}
}

// LoginURL 登录页地址
func (a *Authenticator) LoginURL() string {
	return models.JoinPath(a.homeURL, a.cfg.Path)
}

// Login 登录并校验,成功返回 true
// 不返回错误也不panic,失败原因写入日志,会话状态随结果更新
func (a *Authenticator) Login(ctx context.Context, session crawlers.Session, username, password string) (ok bool) {
	log := utils.WithSession(session.Info().ID)

	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("登录过程panic: %v", r)
			ok = false
		}
		if ok {
			session.SetStatus(models.AuthAuthenticated)
		} else {
			session.SetStatus(models.AuthInvalid)
		}
	}()

	log.Info().Str("username", username).Msg("🔐 尝试登录")

	reason, err := a.login(ctx, session, username, password)
	if err != nil {
		log.Error().Err(err).Str("username", username).Msgf("❌ 登录失败: %s", reason)
		return false
	}

	log.Info().Str("username", username).Msg("✅ 登录成功")
	return true
}

// login 返回失败阶段和原因
func (a *Authenticator) login(ctx context.Context, session crawlers.Session, username, password string) (string, error) {
	loginURL := a.LoginURL()
	if err := session.Navigate(ctx, loginURL); err != nil {
		return "打开登录页", err
	}

	token := ""
	if a.cfg.TokenSelector != "" {
		nodes, err := session.Query(ctx, models.Query{
			Selector: a.cfg.TokenSelector,
			Attrs:    []string{a.cfg.TokenAttr},
		})
		if err != nil {
			return "读取CSRF token", err
		}
		if len(nodes) > 0 {
			token = nodes[0].Attr(a.cfg.TokenAttr)
		}
		if token == "" {
			return "读取CSRF token", fmt.Errorf("页面中没有 %s", a.cfg.TokenSelector)
		}
		utils.Debugf("CSRF token: %s", utils.RedactSecret(token))
	}

	if !session.Submit(ctx, a.loginAction(loginURL, username, password, token)) {
		return "提交登录表单", fmt.Errorf("登录请求被拒绝")
	}

	if a.cfg.VerifySelector != "" {
		nodes, err := session.Query(ctx, models.Query{Selector: a.cfg.VerifySelector})
		if err != nil {
			return "校验登录状态", err
		}
		if len(nodes) == 0 {
			return "校验登录状态", fmt.Errorf("未找到 %s", a.cfg.VerifySelector)
		}
	}
	return "", nil
}

// loginAction 同时携带表单字段和页面输入框,由会话引擎决定使用哪种方式
func (a *Authenticator) loginAction(loginURL, username, password, token string) models.Action {
	action := models.Action{
		Name:         "login",
		URL:          loginURL,
		Selector:     a.cfg.SubmitSelector,
		WaitSelector: a.cfg.VerifySelector,
		Fields: map[string]string{
			a.cfg.UsernameField: username,
			a.cfg.PasswordField: password,
		},
		Inputs: map[string]string{},
	}
	if a.cfg.UsernameSelector != "" {
		action.Inputs[a.cfg.UsernameSelector] = username
	}
	if a.cfg.PasswordSelector != "" {
		action.Inputs[a.cfg.PasswordSelector] = password
	}
	if token != "" {
		if a.cfg.TokenField != "" {
			action.Fields[a.cfg.TokenField] = token
		}
		action.Headers = map[string]string{"X-CSRF-Token": token}
	}
	return action
}
