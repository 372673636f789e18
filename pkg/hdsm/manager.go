package hdsm

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/Anniext/hdsm/internal/protocol"
	"github.com/Anniext/hdsm/pkg/btpm"
)

// Manager 耳机管理器客户端。持有注册表、电源状态与服务端代理，
// 所有注册表读写都在 mu 保护下进行，用户回调始终在锁外执行。
type Manager struct {
	id      string
	config  Config
	channel btpm.Channel
	power   PowerStateQuerier
	logs    *btpm.LogManager
	proxy   *serverProxy

	externalMailbox *btpm.Mailbox
	mailbox         atomic.Pointer[btpm.Mailbox]

	lifecycleMu sync.Mutex // 串行化 Initialize 与 Shutdown
	state       atomic.Int32
	initialized atomic.Bool

	mu        sync.Mutex // 保护以下字段
	registry  *registry
	poweredOn bool
	// 初始化时为两个角色注册的服务端事件处理器ID，0 表示未注册
	serverEventsID [2]uint32
}

// New 创建管理器，需调用 Initialize 后才能使用
func New(channel btpm.Channel, opts ...Option) *Manager {
	m := &Manager{
		id:      uuid.NewString(),
		config:  DefaultConfig(),
		channel: channel,
		logs:    btpm.NewLogManager(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.proxy = newServerProxy(channel, m.config.ResponseTimeout, m.logs)
	return m
}

// ID 返回管理器实例ID
func (m *Manager) ID() string {
	return m.id
}

// State 返回当前生命周期状态
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsPoweredOn 返回记录的本地设备电源状态
func (m *Manager) IsPoweredOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poweredOn
}

// Logs 返回管理器使用的日志管理器
func (m *Manager) Logs() *btpm.LogManager {
	return m.logs
}

// Initialize 注册消息组处理器并向服务端注册两个角色的事件。
// 至少一个角色注册成功即进入运行状态，否则回滚已获取的资源。
func (m *Manager) Initialize(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.initialized.Load() {
		return nil
	}
	if err := m.config.Validate(); err != nil {
		return btpm.WrapError(err, btpm.ErrCodeInvalidParameter, "配置无效", "initialize")
	}
	m.state.Store(int32(StateInitializing))
	m.logs.LogInfo(componentManager, "开始初始化耳机管理器", "instance", m.id)

	m.mu.Lock()
	m.registry = newRegistry()
	m.serverEventsID = [2]uint32{}
	m.mu.Unlock()

	mailbox := m.externalMailbox
	if mailbox == nil {
		mailbox = btpm.NewMailbox(m.config.MailboxQueueHint, m.logs)
	}
	m.mailbox.Store(mailbox)

	if err := m.channel.RegisterGroupHandler(protocol.GroupHeadsetManager, m.handleGroupMessage); err != nil {
		m.releaseMailbox()
		m.state.Store(int32(StateUninitialized))
		return btpm.WrapError(err, btpm.ErrCodeUnableToRegisterHandler, "注册消息组处理器失败", "initialize")
	}
	m.proxy.initialize()

	powered := true
	if m.power != nil {
		var err error
		if powered, err = m.power.QueryDevicePowerState(ctx); err != nil {
			m.logs.LogWarn(componentManager, "查询电源状态失败，按未上电处理", "error", err)
			powered = false
		}
	}

	var lastErr error
	var eventsID [2]uint32
	for _, ct := range connectionTypes {
		id, err := m.proxy.registerEvents(ctx, ct, false)
		if err != nil {
			m.logs.LogWarn(componentManager, "注册角色事件失败", "connection_type", ct.String(), "error", err)
			lastErr = err
			continue
		}
		eventsID[ct] = id
	}
	if eventsID[ConnectionTypeHeadset] == 0 && eventsID[ConnectionTypeAudioGateway] == 0 {
		m.proxy.cleanup()
		m.channel.UnregisterGroupHandler(protocol.GroupHeadsetManager)
		m.releaseMailbox()
		m.state.Store(int32(StateUninitialized))
		m.logs.LogError(componentManager, "耳机管理器初始化失败", lastErr)
		return lastErr
	}

	m.mu.Lock()
	m.poweredOn = powered
	m.serverEventsID = eventsID
	m.mu.Unlock()

	m.initialized.Store(true)
	m.state.Store(int32(StateRunning))
	m.logs.LogInfo(componentManager, "耳机管理器初始化完成", "powered_on", powered,
		"audio_gateway", eventsID[ConnectionTypeAudioGateway] != 0, "headset", eventsID[ConnectionTypeHeadset] != 0)
	return nil
}

// Shutdown 注销全部服务端注册并释放注册表。重复调用是无操作
func (m *Manager) Shutdown(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if !m.initialized.Load() {
		return nil
	}
	m.state.Store(int32(StateShuttingDown))
	m.logs.LogInfo(componentManager, "开始关闭耳机管理器", "instance", m.id)

	m.channel.UnregisterGroupHandler(protocol.GroupHeadsetManager)

	m.mu.Lock()
	m.initialized.Store(false)

	for _, ct := range connectionTypes {
		if id := m.serverEventsID[ct]; id != 0 {
			m.logIfFailed("注销角色事件失败", m.proxy.unregisterEvents(ctx, id))
		}
		if entry := m.registry.control[ct].head(); entry != nil {
			m.logIfFailed("注销控制回调失败", m.proxy.unregisterEvents(ctx, entry.serverCallbackID))
		}
		if entry := m.registry.data[ct].head(); entry != nil {
			m.logIfFailed("注销数据回调失败", m.proxy.unregisterDataEvents(ctx, entry.serverCallbackID))
		}
	}
	m.proxy.cleanup()

	// 释放列表会唤醒仍在等待的同步连接
	m.registry.freeAll()
	m.serverEventsID = [2]uint32{}
	m.poweredOn = false
	m.mu.Unlock()

	m.releaseMailbox()
	m.state.Store(int32(StateUninitialized))
	m.logs.LogInfo(componentManager, "耳机管理器已关闭")
	return nil
}

func (m *Manager) releaseMailbox() {
	if mb := m.mailbox.Swap(nil); mb != nil && mb != m.externalMailbox {
		mb.Close()
	}
}

func (m *Manager) logIfFailed(message string, err error) {
	if err != nil {
		m.logs.LogWarn(componentManager, message, "error", err)
	}
}

// checkRole 校验管理器已运行且角色合法
func (m *Manager) checkRole(ct ConnectionType) error {
	if !m.initialized.Load() {
		return btpm.ErrNotInitialized
	}
	if !ct.Valid() {
		return btpm.ErrInvalidParameter
	}
	return nil
}

// checkDevice 在 checkRole 基础上校验地址非空且非广播
func (m *Manager) checkDevice(ct ConnectionType, addr BDAddr) error {
	if err := m.checkRole(ct); err != nil {
		return err
	}
	if addr.IsZero() || addr.IsBroadcast() {
		return btpm.ErrInvalidParameter
	}
	return nil
}
