package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/mem"
)

const homeURL = "https://linux.do/"

func main() {
	fmt.Println("==============================================")
	fmt.Println("  linuxdo-checkin 运行环境验证")
	fmt.Println("==============================================")
	fmt.Println()

	allOK := true

	fmt.Printf("✅ Go版本: %s\n", runtime.Version())
	fmt.Printf("✅ 操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)

	// 浏览器引擎
	if path, found := launcher.LookPath(); found {
		fmt.Printf("✅ 找到浏览器: %s\n", path)
	} else {
		fmt.Println("⚠️  未找到本地Chromium - rod 首次运行时会自动下载")
		fmt.Println("   也可以使用 --engine http 或在配置中指定 session.browser_bin")
	}

	// 内存
	if vm, err := mem.VirtualMemory(); err == nil {
		availableMB := vm.Available / 1024 / 1024
		if availableMB < 512 {
			fmt.Printf("⚠️  可用内存偏低: %d MB, 浏览器引擎可能无法启动\n", availableMB)
		} else {
			fmt.Printf("✅ 可用内存: %d MB\n", availableMB)
		}
	} else {
		fmt.Printf("⚠️  无法读取内存信息: %v\n", err)
	}

	// 凭据
	fmt.Println()
	fmt.Println("检查账号配置...")
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("❌ .env 解析失败: %v\n", err)
			allOK = false
		} else {
			fmt.Println("✅ 已读取 .env")
		}
	}
	for _, pair := range [][2]string{
		{"LINUXDO_USERNAME", "USERNAME"},
		{"LINUXDO_PASSWORD", "PASSWORD"},
	} {
		if os.Getenv(pair[0]) != "" || os.Getenv(pair[1]) != "" {
			fmt.Printf("✅ %s 已设置\n", pair[0])
		} else {
			fmt.Printf("❌ %s 未设置\n", pair[0])
			allOK = false
		}
	}
	if os.Getenv("LINUXDO_PUSHTOKEN") == "" && os.Getenv("PUSHTOKEN") == "" {
		fmt.Println("⚠️  LINUXDO_PUSHTOKEN 未设置, 统计不会推送")
	}

	// 网络
	fmt.Println()
	fmt.Println("检查网络连通性...")
	resp, err := resty.New().SetTimeout(10 * time.Second).R().Get(homeURL)
	switch {
	case err != nil:
		fmt.Printf("❌ 无法访问 %s: %v\n", homeURL, err)
		allOK = false
	case resp.StatusCode() == 403:
		fmt.Printf("⚠️  %s 返回 403, 纯HTTP引擎可能被 Cloudflare 拦截, 建议使用浏览器引擎\n", homeURL)
	default:
		fmt.Printf("✅ %s 可访问 (HTTP %d)\n", homeURL, resp.StatusCode())
	}

	fmt.Println()
	fmt.Println("==============================================")
	if allOK {
		fmt.Println("✅ 环境验证通过!")
		fmt.Println()
		fmt.Println("下一步:")
		fmt.Println("  1. 运行 'linuxdo-checkin init' 生成配置文件")
		fmt.Println("  2. 运行 'linuxdo-checkin --validate-config' 检查配置")
		fmt.Println("  3. 运行 'linuxdo-checkin' 开始签到")
		os.Exit(0)
	}
	fmt.Println("❌ 环境验证失败,请解决上述问题。")
	os.Exit(1)
}
