package core

import (
	"net/http"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
)

const (
	// DefaultUserAgent 默认User-Agent
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) " +
		"Chrome/120.0.0.0 Safari/537.36"
)

// HeaderManager 管理HTTP请求头部的生命周期
// 实现 HeaderProvider 接口
type HeaderManager struct {
	// defaults 系统默认头部 (硬编码)
	defaults http.Header

	// config 配置文件 headers 段中的头部
	config http.Header

	// cli 从命令行参数解析的头部
	cli http.Header

	// validator 按引擎验证头部
	validator *utils.HeaderValidator

	// redactor 头部脱敏器
	redactor *utils.HeaderRedactor
}

// NewHeaderManager 创建头部管理器
// 参数:
//   - configHeaders: 配置文件中的头部
//   - cliHeaders: 命令行传递的头部字符串列表
//   - engine: 会话引擎,决定哪些头部会被下发
//
// 命令行参数格式错误时返回错误
func NewHeaderManager(configHeaders models.HeaderMap, cliHeaders []string, engine models.Engine) (*HeaderManager, error) {
	hm := &HeaderManager{
		defaults:  getDefaultHeaders(),
		config:    configHeaders.ToHTTPHeader(),
		cli:       make(http.Header),
		validator: utils.NewHeaderValidator(engine),
		redactor:  utils.NewHeaderRedactor(),
	}

	// 解析命令行头部
	if len(cliHeaders) > 0 {
		parsed, err := models.CliHeaders(cliHeaders).Parse()
		if err != nil {
			return nil, err
		}
		hm.cli = parsed
	}

	if len(hm.config) > 0 {
		utils.Debugf("已加载%d个配置文件HTTP头部: %s", len(hm.config), hm.redactor.RedactToString(hm.config))
	}

	return hm, nil
}

// getDefaultHeaders 返回系统默认头部
// 浏览器引擎自行协商压缩,这里声明的编码只对HTTP引擎生效
func getDefaultHeaders() http.Header {
	return http.Header{
		"User-Agent":      []string{DefaultUserAgent},
		"Accept":          []string{"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
		"Accept-Language": []string{"zh-CN,zh;q=0.9,en;q=0.8"},
		"Accept-Encoding": []string{"gzip, deflate, br"},
	}
}

// Validate 验证所有头部的合法性
// 验证顺序: 默认 → 配置 → 命令行
func (hm *HeaderManager) Validate() error {
	if err := hm.validator.Validate(hm.defaults); err != nil {
		utils.Errorf("默认头部验证失败: %v", err)
		return err
	}

	if err := hm.validator.Validate(hm.config); err != nil {
		utils.Errorf("配置文件头部验证失败: %v", err)
		return err
	}

	if err := hm.validator.Validate(hm.cli); err != nil {
		utils.Errorf("命令行头部验证失败: %v", err)
		return err
	}

	utils.Debugf("所有HTTP头部验证通过")
	return nil
}

// Ignored 当前引擎不会下发的自定义头部
// 默认头部里的 Accept/Accept-Encoding 交给浏览器协商,不计入
func (hm *HeaderManager) Ignored() []string {
	custom := make(http.Header)
	for name, values := range hm.config {
		custom[name] = values
	}
	for name, values := range hm.cli {
		custom[name] = values
	}
	return hm.validator.Ignored(custom)
}

// GetMergedHeaders 按优先级合并头部 (default < config < cli)
func (hm *HeaderManager) GetMergedHeaders() http.Header {
	result := make(http.Header)

	for name, values := range hm.defaults {
		result[name] = values
	}
	for name, values := range hm.config {
		result[name] = values
	}
	for name, values := range hm.cli {
		result[name] = values
	}

	return result
}

// GetSafeHeaders 返回脱敏后的头部 (用于日志)
func (hm *HeaderManager) GetSafeHeaders() map[string]string {
	return hm.redactor.Redact(hm.GetMergedHeaders())
}

// GetHeaders 实现 HeaderProvider 接口
func (hm *HeaderManager) GetHeaders() (http.Header, error) {
	if err := hm.Validate(); err != nil {
		return nil, err
	}
	if ignored := hm.Ignored(); len(ignored) > 0 {
		utils.Warnf("⚠️  浏览器引擎会自行协商以下头部,自定义值不生效: %v", ignored)
	}
	return hm.GetMergedHeaders(), nil
}
