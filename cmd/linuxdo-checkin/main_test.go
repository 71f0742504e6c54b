package main

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/RecoveryAshes/LinuxDoCheckin/internal/models"
)

func TestRootCmd_MissingCredentials(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	for _, name := range []string{"LINUXDO_USERNAME", "USERNAME", "LINUXDO_PASSWORD", "PASSWORD"} {
		t.Setenv(name, "")
	}

	tests := []struct {
		name    string
		account string
		wantKey string
	}{
		{"未设置用户名", "  password: secret\n", "account.username"},
		{"未设置密码", "  username: alice\n", "account.password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			content := fmt.Sprintf(`site:
  home_url: %[1]s/
session:
  engine: http
stats:
  url: %[1]s/stats
notify:
  endpoint: %[1]s/send
  token: token-123
logging:
  log_dir: %[2]s
account:
%[3]s`, srv.URL, filepath.Join(dir, "logs"), tt.account)
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(content), 0600); err != nil {
				t.Fatalf("写入配置失败: %v", err)
			}

			rootCmd.SetArgs([]string{"-c", path})
			err := rootCmd.Execute()

			var cfgErr *models.ConfigError
			if !errors.As(err, &cfgErr) {
				t.Fatalf("期望 ConfigError, 实际 %v", err)
			}
			if cfgErr.Key != tt.wantKey {
				t.Errorf("期望配置项 %s, 实际 %s", tt.wantKey, cfgErr.Key)
			}
			if n := hits.Load(); n != 0 {
				t.Errorf("缺少凭据时不应发起网络请求, 实际 %d 次", n)
			}
		})
	}
}
