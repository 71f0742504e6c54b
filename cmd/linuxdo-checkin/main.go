package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/config"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/core"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/crawlers"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
	"github.com/RecoveryAshes/LinuxDoCheckin/internal/utils"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

// 命令行参数
var (
	// 全局参数
	configFile string
	verbose    bool
	logLevel   string

	// HTTP头部参数
	headers        []string
	validateConfig bool

	// 运行参数
	engine    string
	maxVisits int
	headless  bool
	progress  bool
)

// appConfig PersistentPreRunE 中加载的配置
var appConfig *config.Config

var rootCmd = &cobra.Command{
	Use:   "linuxdo-checkin",
	Short: "Linux.do 自动签到工具",
	Long: `linuxdo-checkin - Linux.do 论坛自动签到工具

登录账号后浏览一定数量的主题, 按概率点赞, 最后读取 connect.linux.do 的统计并推送:
  • 支持 rod / playwright 浏览器和纯HTTP三种会话引擎
  • 会话断开后自动重建并重新登录
  • 统计表格通过 PushPlus 推送
  • 自定义HTTP请求头

示例:
  # 账号密码来自环境变量或 .env
  LINUXDO_USERNAME=alice LINUXDO_PASSWORD=secret linuxdo-checkin

  # 使用纯HTTP引擎并限制浏览数量
  linuxdo-checkin --engine http --max-visits 20

  # 验证配置文件
  linuxdo-checkin --validate-config

版本: ` + Version + `
构建时间: ` + BuildTime,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(configFile)
		if err != nil {
			return fmt.Errorf("加载配置失败: %w", err)
		}

		overrides := config.CLIOverrides{
			LogLevel:  logLevel,
			Engine:    engine,
			MaxVisits: maxVisits,
		}
		if cmd.Flags().Changed("headless") {
			overrides.Headless = &headless
		}
		if verbose && logLevel == "" {
			overrides.LogLevel = "debug"
		}
		cfg.MergeCLIFlags(overrides)

		if err := utils.InitLogger(cfg.LogConfig()); err != nil {
			return fmt.Errorf("初始化日志系统失败: %w", err)
		}
		if verbose {
			utils.Info("详细模式已启用")
		}
		if cfg.Source() != "" {
			utils.Debugf("配置文件: %s", cfg.Source())
		}

		appConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ValidateFlags(engine, maxVisits); err != nil {
			return err
		}

		headerManager, err := core.NewHeaderManager(appConfig.Headers, headers, appConfig.Session.Engine)
		if err != nil {
			return fmt.Errorf("创建HTTP头部管理器失败: %w", err)
		}

		if validateConfig {
			return runValidateConfig(appConfig, headerManager)
		}

		// 缺少凭据时在建立任何会话之前退出
		if err := appConfig.Validate(); err != nil {
			return err
		}

		httpHeaders, err := headerManager.GetHeaders()
		if err != nil {
			return fmt.Errorf("HTTP头部验证失败: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		monitor := crawlers.NewResourceMonitor(crawlers.ResourceMonitorConfig{
			SafetyReserveMemory: int64(appConfig.Resource.SafetyReserveMemory) * 1024 * 1024,
		})
		factory := crawlers.NewSessionFactory(appConfig.Session, httpHeaders, monitor)

		var opts []core.RunnerOption
		if progress {
			bar := utils.NewProgressBar(appConfig.Browse.MaxVisits, "浏览主题")
			defer bar.Finish()
			opts = append(opts, core.WithCrawlerOptions(crawlers.WithProgress(bar)))
		}

		runner := core.NewRunner(appConfig, factory, opts...)
		stats, err := runner.Run(ctx)
		if err != nil {
			return err
		}

		switch stats.Status {
		case models.RunStatusCompleted:
			utils.Info("✨ 签到任务完成!")
		case models.RunStatusCancelled:
			utils.Warn("签到任务已取消")
		default:
			utils.Warnf("签到任务未完成: %s", stats.LastError)
		}
		return nil
	},
}

// runValidateConfig 验证配置和头部并输出脱敏后的结果
func runValidateConfig(cfg *config.Config, headerManager *core.HeaderManager) error {
	utils.Info("🔍 验证配置...")
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}
	if err := headerManager.Validate(); err != nil {
		return fmt.Errorf("HTTP头部验证失败: %w", err)
	}

	utils.Info("✅ 配置验证通过!")
	if cfg.Source() != "" {
		utils.Infof("配置文件: %s", cfg.Source())
	}
	utils.Infof("账号: %s (密码 %s)", cfg.Account.Username, utils.RedactSecret(cfg.Account.Password))
	utils.Infof("引擎: %s, 浏览上限: %d, 点赞概率: %.2f", cfg.Session.Engine, cfg.Browse.MaxVisits, cfg.Browse.ReactionProbability)
	if cfg.Notify.Token == "" {
		utils.Warn("未配置推送token,统计只输出到控制台")
	}

	safeHeaders := headerManager.GetSafeHeaders()
	names := make([]string, 0, len(safeHeaders))
	for name := range safeHeaders {
		names = append(names, name)
	}
	sort.Strings(names)
	utils.Infof("当前有效的HTTP头部 (%d个):", len(names))
	for _, name := range names {
		utils.Infof("  %s: %s", name, safeHeaders[name])
	}
	if ignored := headerManager.Ignored(); len(ignored) > 0 {
		utils.Warnf("⚠️  %s 引擎不会下发: %v", cfg.Session.Engine, ignored)
	}
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本信息",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("linuxdo-checkin %s\n", Version)
		fmt.Printf("构建时间: %s\n", BuildTime)
	},
}

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "生成配置文件模板",
	Args:  cobra.MaximumNArgs(1),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.DefaultConfigFile
		if len(args) == 1 {
			path = args[0]
		}
		if err := config.WriteTemplate(path); err != nil {
			return err
		}
		fmt.Printf("✅ 已生成配置文件: %s\n", path)
		return nil
	},
}

func init() {
	// 全局参数
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "配置文件路径")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "详细输出模式")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "日志级别 (trace|debug|info|warn|error)")

	// HTTP头部参数
	rootCmd.PersistentFlags().StringSliceVarP(&headers, "header", "H", []string{}, "自定义HTTP头部,格式: 'Name: Value',可多次指定")
	rootCmd.PersistentFlags().BoolVar(&validateConfig, "validate-config", false, "验证配置文件正确性")

	// 运行参数
	rootCmd.Flags().StringVarP(&engine, "engine", "e", "", "会话引擎 (rod|playwright|http)")
	rootCmd.Flags().IntVarP(&maxVisits, "max-visits", "n", 0, "最多浏览的主题数")
	rootCmd.Flags().BoolVar(&headless, "headless", true, "无头浏览器模式")
	rootCmd.Flags().BoolVar(&progress, "progress", false, "显示浏览进度条")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var cfgErr *models.ConfigError
		if errors.As(err, &cfgErr) {
			fmt.Fprintf(os.Stderr, "配置错误: %v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		}
		os.Exit(1)
	}
}
