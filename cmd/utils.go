package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/godbus/dbus/v5"
	"github.com/spf13/viper"

	"github.com/Anniext/hdsm/internal/config"
	"github.com/Anniext/hdsm/internal/simulator"
	"github.com/Anniext/hdsm/internal/transport"
	"github.com/Anniext/hdsm/pkg/btpm"
	"github.com/Anniext/hdsm/pkg/hdsm"
)

// initLogger 按级别构建写到标准错误的 slog 日志
func initLogger(level string) (*btpm.LogManager, error) {
	lvl, err := hdsm.ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	logs := btpm.NewLogManager(slog.New(handler))
	logs.SetLogLevel(lvl)
	return logs, nil
}

// loadAppConfig 合并默认值、配置文件、环境变量与命令行标志
func loadAppConfig() (*config.AppConfig, error) {
	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法解析配置: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// session 一次命令执行期间的管理器与传输
type session struct {
	config  *config.AppConfig
	logs    *btpm.LogManager
	manager *hdsm.Manager
	sim     *simulator.Server
	closer  io.Closer
}

// openSession 按配置建立传输并初始化管理器
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadAppConfig()
	if err != nil {
		return nil, err
	}
	logs, err := initLogger(cfg.Manager.LogLevel)
	if err != nil {
		return nil, err
	}

	s := &session{config: cfg, logs: logs}
	channel, err := s.newChannel(ctx)
	if err != nil {
		return nil, err
	}

	opts := []hdsm.Option{hdsm.WithConfig(cfg.Manager), hdsm.WithLogManager(logs)}
	if s.sim != nil {
		opts = append(opts, hdsm.WithPowerStateQuerier(s.sim))
	}
	s.manager = hdsm.New(channel, opts...)
	if s.sim != nil {
		bindSimulatorPower(s.manager, s.sim)
	}
	if err := s.manager.Initialize(ctx); err != nil {
		s.closeChannel()
		return nil, err
	}
	return s, nil
}

// bindSimulatorPower 将模拟服务端的电源切换转为管理器电源事件
func bindSimulatorPower(m *hdsm.Manager, sim *simulator.Server) {
	sim.WatchPower(func(powered bool) {
		if powered {
			m.HandleDevicePowerEvent(hdsm.DevicePoweredOn)
			return
		}
		m.HandleDevicePowerEvent(hdsm.DevicePoweredOff)
	})
}

func (s *session) newChannel(ctx context.Context) (btpm.Channel, error) {
	tc := s.config.Transport
	switch tc.Type {
	case config.TransportSocket:
		dialCtx, cancel := context.WithTimeout(ctx, tc.DialTimeout)
		defer cancel()
		ch, err := transport.DialSocket(dialCtx, tc.Network, tc.Address, tc.AddressID, s.logs)
		if err != nil {
			return nil, err
		}
		s.closer = ch
		return ch, nil

	case config.TransportDBus:
		ch, err := transport.ConnectDBus(transport.DBusOptions{
			SystemBus:   tc.DBus.SystemBus,
			Destination: tc.DBus.Destination,
			Path:        dbus.ObjectPath(tc.DBus.Path),
			Interface:   tc.DBus.Interface,
			AddressID:   tc.AddressID,
		}, s.logs)
		if err != nil {
			return nil, err
		}
		s.closer = ch
		return ch, nil

	case config.TransportSimulator:
		server, ch := simulator.Pair(tc.AddressID, s.logs)
		s.sim = server
		return ch, nil
	}
	return nil, fmt.Errorf("未知的传输类型: %s", tc.Type)
}

func (s *session) closeChannel() {
	if s.closer != nil {
		if err := s.closer.Close(); err != nil {
			s.logs.LogWarn("cmd", "关闭传输失败", "error", err)
		}
	}
}

// Close 关闭管理器与传输
func (s *session) Close(ctx context.Context) {
	if err := s.manager.Shutdown(ctx); err != nil {
		s.logs.LogWarn("cmd", "关闭管理器失败", "error", err)
	}
	s.closeChannel()
}

// control 为角色注册控制回调，事件写入日志
func (s *session) control(ctx context.Context, ct hdsm.ConnectionType) (uint32, error) {
	return s.manager.RegisterEventCallback(ctx, ct, true, func(event *hdsm.Event) error {
		s.logs.LogInfo("cmd", "控制事件", "event", event.Type.String(), "address", event.RemoteAddress.String())
		return nil
	})
}

// withSession 在可被信号中断的上下文中执行 fn
func withSession(fn func(ctx context.Context, s *session) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close(context.Background())
	return fn(ctx, s)
}

// parseTarget 解析 <role> <address> 参数
func parseTarget(args []string) (hdsm.ConnectionType, hdsm.BDAddr, error) {
	ct, err := hdsm.ParseConnectionType(args[0])
	if err != nil {
		return 0, hdsm.BDAddr{}, err
	}
	addr, err := hdsm.ParseBDAddr(args[1])
	if err != nil {
		return 0, hdsm.BDAddr{}, err
	}
	return ct, addr, nil
}

// printJSON 以单行 JSON 输出
func printJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
