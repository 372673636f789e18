package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Anniext/hdsm/internal/bridge"
)

// TestManager_LoadConfig 测试配置加载
func TestManager_LoadConfig(t *testing.T) {
	manager := NewManager(&testLogger{})
	tempDir := t.TempDir()

	t.Run("LoadNonExistentConfig", func(t *testing.T) {
		cfg, err := manager.LoadConfig(filepath.Join(tempDir, "missing.yaml"))
		if err != nil {
			t.Fatalf("加载不存在的配置文件失败: %v", err)
		}
		if cfg.Transport.Type != TransportSocket {
			t.Errorf("期望默认传输 %s, 实际得到 %s", TransportSocket, cfg.Transport.Type)
		}
	})

	t.Run("LoadPartialYAML", func(t *testing.T) {
		path := filepath.Join(tempDir, "partial.yaml")
		content := "manager:\n  response_timeout: 750ms\ntransport:\n  type: sim\nbridge:\n  qos: 1\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("写入配置文件失败: %v", err)
		}

		cfg, err := manager.LoadConfig(path)
		if err != nil {
			t.Fatalf("加载配置文件失败: %v", err)
		}
		if cfg.Manager.ResponseTimeout != 750*time.Millisecond {
			t.Errorf("期望响应超时 750ms, 实际得到 %v", cfg.Manager.ResponseTimeout)
		}
		if cfg.Transport.Type != TransportSimulator {
			t.Errorf("期望传输 sim, 实际得到 %s", cfg.Transport.Type)
		}
		if cfg.Bridge.QoS != 1 {
			t.Errorf("期望 QoS 1, 实际得到 %d", cfg.Bridge.QoS)
		}
		// 未写出的键保留默认值
		if cfg.Manager.MailboxQueueHint != DefaultConfig().Manager.MailboxQueueHint {
			t.Errorf("派发队列容量提示应为默认值, 实际得到 %d", cfg.Manager.MailboxQueueHint)
		}
	})

	t.Run("LoadInvalidConfig", func(t *testing.T) {
		path := filepath.Join(tempDir, "invalid.yaml")
		if err := os.WriteFile(path, []byte("transport:\n  type: carrier-pigeon\n"), 0644); err != nil {
			t.Fatalf("写入配置文件失败: %v", err)
		}
		if _, err := manager.LoadConfig(path); err == nil {
			t.Fatal("期望未知传输类型返回错误")
		}
	})
}

// TestManager_SaveConfig 测试保存后再加载
func TestManager_SaveConfig(t *testing.T) {
	manager := NewManager(&testLogger{})
	tempDir := t.TempDir()

	for _, name := range []string{"config.yaml", "config.json", "config.toml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(tempDir, "nested", name)
			cfg := DefaultConfig()
			cfg.Transport.Type = TransportDBus
			cfg.Transport.DBus.SystemBus = false
			cfg.Bridge.Enabled = true
			cfg.Bridge.TopicPrefix = "lab/hdsm"

			if err := manager.SaveConfig(path, &cfg); err != nil {
				t.Fatalf("保存配置失败: %v", err)
			}
			loaded, err := manager.LoadConfig(path)
			if err != nil {
				t.Fatalf("重新加载配置失败: %v", err)
			}
			if loaded.Transport.Type != TransportDBus || loaded.Transport.DBus.SystemBus {
				t.Errorf("传输配置不一致: %+v", loaded.Transport)
			}
			if !loaded.Bridge.Enabled || loaded.Bridge.TopicPrefix != "lab/hdsm" {
				t.Errorf("事件桥配置不一致: %+v", loaded.Bridge)
			}
			if loaded.Manager.ResponseTimeout != cfg.Manager.ResponseTimeout {
				t.Errorf("响应超时不一致: %v", loaded.Manager.ResponseTimeout)
			}
		})
	}

	t.Run("SaveInvalidConfig", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Manager.ResponseTimeout = 0
		if err := manager.SaveConfig(filepath.Join(tempDir, "bad.yaml"), &cfg); err == nil {
			t.Fatal("期望保存无效配置时返回错误")
		}
	})
}

// TestAppConfig_Validate 测试配置验证
func TestAppConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*AppConfig)
		wantErr bool
	}{
		{"默认配置", func(*AppConfig) {}, false},
		{"未知网络", func(c *AppConfig) { c.Transport.Network = "udp" }, true},
		{"空地址", func(c *AppConfig) { c.Transport.Address = "" }, true},
		{"模拟传输忽略地址", func(c *AppConfig) { c.Transport.Type = TransportSimulator; c.Transport.Address = "" }, false},
		{"D-Bus 缺少接口", func(c *AppConfig) { c.Transport.Type = TransportDBus; c.Transport.DBus.Interface = "" }, true},
		{"未知日志级别", func(c *AppConfig) { c.Manager.LogLevel = "loud" }, true},
		{"事件桥无效 QoS", func(c *AppConfig) { c.Bridge.Enabled = true; c.Bridge.QoS = 5 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() 错误 = %v, 期望错误 %v", err, tt.wantErr)
			}
		})
	}
}

// TestManager_UpdateConfig 测试更新与回调
func TestManager_UpdateConfig(t *testing.T) {
	manager := NewManager(&testLogger{})
	defer manager.Close()

	var mu sync.Mutex
	var calls int
	manager.RegisterCallback(func(oldConfig, newConfig *AppConfig) error {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if oldConfig != nil {
			t.Errorf("首次更新旧配置应为空")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := manager.Notifier().Subscribe(ctx)

	cfg := DefaultConfig()
	cfg.Bridge = bridge.DefaultConfig()
	cfg.Manager.LogLevel = "debug"
	if err := manager.UpdateConfig(&cfg); err != nil {
		t.Fatalf("更新配置失败: %v", err)
	}

	if calls != 1 {
		t.Errorf("期望回调1次, 实际 %d", calls)
	}
	if got := manager.GetCurrentConfig(); got.Manager.LogLevel != "debug" {
		t.Errorf("当前配置未更新: %s", got.Manager.LogLevel)
	}

	select {
	case ev := <-events:
		if ev.Type != ChangeTypeUpdate || ev.NewConfig.Manager.LogLevel != "debug" {
			t.Errorf("通知内容不正确: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("未收到配置变更通知")
	}

	bad := DefaultConfig()
	bad.Transport.Type = ""
	if err := manager.UpdateConfig(&bad); err == nil {
		t.Error("期望无效配置更新失败")
	}
	if err := manager.UpdateConfig(nil); err == nil {
		t.Error("期望空配置更新失败")
	}
}

// TestNotifier_Close 测试关闭后行为
func TestNotifier_Close(t *testing.T) {
	n := NewNotifier(&testLogger{})
	ch := n.Subscribe(context.Background())

	if err := n.Close(); err != nil {
		t.Fatalf("关闭失败: %v", err)
	}
	if _, ok := <-ch; ok {
		t.Error("关闭后订阅通道应已关闭")
	}
	if err := n.Notify(ConfigChangeEvent{}); err != ErrNotifierClosed {
		t.Errorf("期望 ErrNotifierClosed, 实际 %v", err)
	}
	if _, ok := <-n.Subscribe(context.Background()); ok {
		t.Error("关闭后订阅应立即返回已关闭通道")
	}
}

// testLogger 测试用日志记录器
type testLogger struct {
	mu   sync.Mutex
	logs []string
}

func (l *testLogger) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, entry)
}

func (l *testLogger) Info(msg string, args ...interface{})  { l.add("INFO: " + msg) }
func (l *testLogger) Warn(msg string, args ...interface{})  { l.add("WARN: " + msg) }
func (l *testLogger) Error(msg string, args ...interface{}) { l.add("ERROR: " + msg) }
func (l *testLogger) Debug(msg string, args ...interface{}) { l.add("DEBUG: " + msg) }
