package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Anniext/hdsm/internal/bridge"
	"github.com/Anniext/hdsm/internal/config"
	"github.com/Anniext/hdsm/internal/protocol"
	"github.com/Anniext/hdsm/pkg/hdsm"
)

// monitorCmd 订阅事件并逐行输出
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "监控耳机管理器事件",
	Long: `订阅耳机管理器事件，每个事件输出一行 JSON。

--control 注册控制回调以接收增益、振铃与按键事件；
--accept 自动接受远端发起的连接；
启用事件桥时同时发布到 MQTT，--bridge-audio 额外转发音频数据；
--demo 在模拟传输下周期性产生事件并切换本地设备电源。`,
	RunE: runMonitor,
}

var (
	monitorRole    string
	monitorControl bool
	monitorAccept  bool
	monitorData    bool
	monitorDemo    bool
)

func init() {
	rootCmd.AddCommand(monitorCmd)

	monitorCmd.Flags().StringVar(&monitorRole, "role", "both", "监控的角色 (hs, ag, both)")
	monitorCmd.Flags().BoolVar(&monitorControl, "control", false, "注册控制回调")
	monitorCmd.Flags().BoolVar(&monitorAccept, "accept", false, "自动接受入站连接，需要 --control")
	monitorCmd.Flags().BoolVar(&monitorData, "data", false, "注册数据回调")
	monitorCmd.Flags().BoolVar(&monitorDemo, "demo", false, "模拟传输下周期性产生事件")
	monitorCmd.Flags().Bool("bridge", false, "通过 MQTT 发布事件")
	monitorCmd.Flags().String("broker", bridge.DefaultConfig().Broker, "MQTT 代理地址")
	monitorCmd.Flags().Bool("bridge-audio", false, "事件桥同时转发音频数据")

	viper.BindPFlag("bridge.enabled", monitorCmd.Flags().Lookup("bridge"))
	viper.BindPFlag("bridge.broker", monitorCmd.Flags().Lookup("broker"))
	viper.BindPFlag("bridge.include_audio", monitorCmd.Flags().Lookup("bridge-audio"))
}

func monitorRoles() ([]hdsm.ConnectionType, error) {
	if monitorRole == "both" {
		return []hdsm.ConnectionType{hdsm.ConnectionTypeAudioGateway, hdsm.ConnectionTypeHeadset}, nil
	}
	ct, err := hdsm.ParseConnectionType(monitorRole)
	if err != nil {
		return nil, err
	}
	return []hdsm.ConnectionType{ct}, nil
}

// eventPrinter 串行写出事件
type eventPrinter struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *eventPrinter) print(event *hdsm.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return printJSON(p.out, bridge.NewEventMessage(AppName, event, false))
}

func runMonitor(cmd *cobra.Command, args []string) error {
	roles, err := monitorRoles()
	if err != nil {
		return err
	}
	if monitorAccept && !monitorControl {
		return fmt.Errorf("--accept 需要同时指定 --control")
	}

	return withSession(func(ctx context.Context, s *session) error {
		printer := &eventPrinter{out: cmd.OutOrStdout()}

		var eb *bridge.EventBridge
		if s.config.Bridge.Enabled {
			client, err := bridge.Connect(s.config.Bridge, s.logs)
			if err != nil {
				return err
			}
			defer client.Disconnect(250)

			eb = bridge.NewEventBridge(client, s.config.Bridge, s.manager.ID(), s.logs)
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), s.config.Bridge.PublishTimeout)
				defer cancel()
				if err := eb.Close(closeCtx); err != nil {
					s.logs.LogWarn("cmd", "事件桥未能发布完剩余事件", "error", err)
				}
			}()
			if _, err := eb.Attach(ctx, s.manager, roles...); err != nil {
				return err
			}
			s.logs.LogInfo("cmd", "MQTT 事件桥已启用", "broker", s.config.Bridge.Broker,
				"include_audio", s.config.Bridge.IncludeAudio)
		}

		var dataPrinter hdsm.EventCallback
		if monitorData {
			dataPrinter = printer.print
		}
		for _, ct := range roles {
			if _, err := s.manager.RegisterEventCallback(ctx, ct, false, printer.print); err != nil {
				return err
			}
			if monitorControl {
				if err := registerMonitorControl(ctx, s, ct, printer); err != nil {
					return err
				}
			}
		}
		switch {
		case eb != nil && s.config.Bridge.IncludeAudio:
			if _, err := eb.AttachData(ctx, s.manager, dataPrinter, roles...); err != nil {
				return err
			}
		case monitorData:
			for _, ct := range roles {
				if _, err := s.manager.RegisterDataEventCallback(ctx, ct, dataPrinter); err != nil {
					return err
				}
			}
		}

		if cfgFile != "" {
			watchConfig(ctx, s)
		}
		if monitorDemo && s.sim != nil {
			go runDemo(ctx, s, roles)
		}

		s.logs.LogInfo("cmd", "开始监控事件", "roles", monitorRole)
		<-ctx.Done()
		s.logs.LogInfo("cmd", "收到退出信号，停止监控")
		return nil
	})
}

// registerMonitorControl 注册控制回调，按需自动接受入站连接
func registerMonitorControl(ctx context.Context, s *session, ct hdsm.ConnectionType, printer *eventPrinter) error {
	var controlID uint32
	var ready sync.WaitGroup
	ready.Add(1)

	id, err := s.manager.RegisterEventCallback(ctx, ct, true, func(event *hdsm.Event) error {
		if err := printer.print(event); err != nil {
			return err
		}
		if !monitorAccept || event.Type != hdsm.EventIncomingConnectionRequest {
			return nil
		}
		ready.Wait()
		return s.manager.ConnectionRequestResponse(ctx, controlID, event.ConnectionType, event.RemoteAddress, true)
	})
	controlID = id
	ready.Done()
	return err
}

// watchConfig 配置文件变化时更新日志级别
func watchConfig(ctx context.Context, s *session) {
	manager := config.NewManager(&logAdapter{s: s})
	if err := manager.WatchConfig(cfgFile); err != nil {
		s.logs.LogWarn("cmd", "无法监控配置文件", "error", err)
		return
	}
	events := manager.Notifier().Subscribe(ctx)
	go func() {
		for ev := range events {
			level, err := hdsm.ParseLogLevel(ev.NewConfig.Manager.LogLevel)
			if err != nil {
				continue
			}
			s.logs.SetLogLevel(level)
			s.logs.LogInfo("cmd", "日志级别已更新", "level", ev.NewConfig.Manager.LogLevel)
		}
	}()
}

// demoPowerCycle 演示模式下每隔多少个周期切换一次本地设备电源
const demoPowerCycle = 5

// runDemo 让模拟服务端周期性产生入站连接与增益事件，并定期断电再上电
func runDemo(ctx context.Context, s *session, roles []hdsm.ConnectionType) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	addr := protocol.Address{0x00, 0x1A, 0x7D, 0xDA, 0x71, 0x13}
	for tick := 1; ; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tick%demoPowerCycle == 0 {
				powered, _ := s.sim.QueryDevicePowerState(ctx)
				s.sim.SetPowered(!powered)
			}
			if !s.manager.IsPoweredOn() {
				continue
			}
			for _, ct := range roles {
				s.sim.RemoteConnectionRequest(uint32(ct), addr)
				s.sim.Notify(protocol.FunctionSpeakerGainIndication, &protocol.GainIndicationNotification{
					ConnectionType:      uint32(ct),
					RemoteDeviceAddress: addr,
					Gain:                uint32(time.Now().Second()) % (hdsm.MaximumGain + 1),
				}, nil)
			}
		}
	}
}

// logAdapter 将配置管理器日志转到 LogManager
type logAdapter struct {
	s *session
}

func (l *logAdapter) Info(msg string, args ...interface{}) {
	l.s.logs.LogInfo("config", fmt.Sprintf(msg, args...))
}

func (l *logAdapter) Warn(msg string, args ...interface{}) {
	l.s.logs.LogWarn("config", fmt.Sprintf(msg, args...))
}

func (l *logAdapter) Error(msg string, args ...interface{}) {
	l.s.logs.LogError("config", fmt.Sprintf(msg, args...), nil)
}

func (l *logAdapter) Debug(msg string, args ...interface{}) {
	l.s.logs.LogDebug("config", fmt.Sprintf(msg, args...))
}
