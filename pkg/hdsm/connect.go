package hdsm

import (
	"context"

	"github.com/Anniext/hdsm/pkg/btpm"
)

// Connect 发起到远端设备的连接并阻塞到连接结果到达。
// 本地设备断电或服务端注销客户端时返回 ConnectionStatusFailureDevicePowerOff。
// ctx 取消时放弃等待并返回 ctx.Err()。
func (m *Manager) Connect(ctx context.Context, controlID uint32, ct ConnectionType, addr BDAddr,
	port uint32, flags ConnectFlags) (ConnectionStatus, error) {
	return m.connect(ctx, controlID, ct, addr, port, flags, nil, true)
}

// ConnectAsync 发起连接后立即返回，结果通过 callback 以 EventConnectionStatus 投递。
// callback 为空时不跟踪结果。
func (m *Manager) ConnectAsync(ctx context.Context, controlID uint32, ct ConnectionType, addr BDAddr,
	port uint32, flags ConnectFlags, callback EventCallback) error {
	_, err := m.connect(ctx, controlID, ct, addr, port, flags, callback, false)
	return err
}

func (m *Manager) connect(ctx context.Context, controlID uint32, ct ConnectionType, addr BDAddr,
	port uint32, flags ConnectFlags, callback EventCallback, blocking bool) (ConnectionStatus, error) {
	if err := m.checkDevice(ct, addr); err != nil {
		return 0, err
	}

	m.mu.Lock()
	if err := m.authorizeControlLocked(ct, controlID); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	if !m.poweredOn {
		m.mu.Unlock()
		return 0, btpm.ErrLocalDevicePoweredDown
	}

	candidate := entryInfo{
		callbackID:     m.registry.nextCallbackID(),
		flags:          roleFlags(ct),
		address:        addr,
		connectionType: ct,
		callback:       callback,
	}
	if blocking {
		candidate.connectionEvent = newConnectionEvent()
	}
	events := m.registry.events[ct]
	entry := events.add(candidate)
	if entry == nil {
		m.mu.Unlock()
		return 0, btpm.ErrUnableToAddEntry
	}

	if err := m.proxy.connectRemoteDevice(ctx, ct, addr, port, flags); err != nil {
		if removed := events.delete(entry.callbackID); removed != nil {
			removed.release()
		}
		m.mu.Unlock()
		return 0, err
	}

	if !blocking {
		if callback == nil {
			if removed := events.delete(entry.callbackID); removed != nil {
				removed.release()
			}
		}
		m.mu.Unlock()
		return 0, nil
	}

	id, event, reg := entry.callbackID, entry.connectionEvent, m.registry
	m.mu.Unlock()

	waitErr := event.wait(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized.Load() || m.registry != reg {
		return 0, btpm.ErrUnableToLockContext
	}
	entry = reg.events[ct].delete(id)
	if entry == nil {
		return 0, btpm.ErrUnableToConnectToDevice
	}
	entry.release()
	if waitErr != nil {
		return 0, waitErr
	}
	return ConnectionStatus(entry.connectionStatus), nil
}

// authorizeControlLocked 校验 controlID 为角色当前的控制回调
func (m *Manager) authorizeControlLocked(ct ConnectionType, controlID uint32) error {
	head := m.registry.control[ct].head()
	if head == nil || head.callbackID != controlID {
		return btpm.ErrInvalidOperation
	}
	return nil
}

// controlServerIDLocked 按控制回调ID查找服务端处理器ID
func (m *Manager) controlServerIDLocked(ct ConnectionType, controlID uint32) (uint32, error) {
	if controlID == 0 {
		return 0, btpm.ErrInvalidCallbackSpecified
	}
	entry := m.registry.control[ct].search(controlID)
	if entry == nil {
		return 0, btpm.ErrInvalidCallbackSpecified
	}
	return entry.serverCallbackID, nil
}

// processConnectionStatus 将连接结果交给等待该地址的第一个连接跟踪项。
// 同步项只写入结果并唤醒等待者，已被唤醒但尚未移除的项跳过；异步项被移除后在锁外回调。
func (m *Manager) processConnectionStatus(ct ConnectionType, addr BDAddr, status ConnectionStatus) {
	m.mu.Lock()

	var pending *entryInfo
	m.registry.events[ct].each(func(e *entryInfo) bool {
		if e.isEventCallback() || e.address != addr {
			return true
		}
		if e.connectionEvent != nil && e.connectionEvent.signaled {
			return true
		}
		pending = e
		return false
	})
	if pending == nil {
		m.mu.Unlock()
		m.logs.LogDebug(componentInbound, "没有等待该连接结果的请求", "address", addr.String(), "status", status.String())
		return
	}

	if pending.connectionEvent != nil {
		pending.signal(status)
		m.mu.Unlock()
		return
	}

	callback := pending.callback
	if removed := m.registry.events[ct].delete(pending.callbackID); removed != nil {
		removed.release()
	}
	m.mu.Unlock()

	if callback != nil {
		m.invokeCallback(callback, &Event{
			Type:             EventConnectionStatus,
			ConnectionType:   ct,
			RemoteAddress:    addr,
			ConnectionStatus: status,
		})
	}
}

// signalPendingConnectionsLocked 以 status 唤醒所有尚未唤醒的同步等待连接，注册项留给等待者移除
func (m *Manager) signalPendingConnectionsLocked(status ConnectionStatus) {
	for _, ct := range connectionTypes {
		m.registry.events[ct].each(func(e *entryInfo) bool {
			if !e.isEventCallback() {
				e.signal(status)
			}
			return true
		})
	}
}

// HandleDevicePowerEvent 处理本地设备电源事件
func (m *Manager) HandleDevicePowerEvent(event DevicePowerEvent) {
	if !m.initialized.Load() {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch event {
	case DevicePoweredOn:
		m.poweredOn = true
	case DevicePoweringOff, DevicePoweredOff:
		m.signalPendingConnectionsLocked(ConnectionStatusFailureDevicePowerOff)
		m.poweredOn = false
	}
	m.logs.LogInfo(componentManager, "本地设备电源状态变化", "event", event.String())
}

// processServerUnregistered 服务端注销客户端后唤醒所有同步等待的连接
func (m *Manager) processServerUnregistered() {
	if !m.initialized.Load() {
		return
	}
	m.mu.Lock()
	m.signalPendingConnectionsLocked(ConnectionStatusFailureDevicePowerOff)
	m.mu.Unlock()
	m.logs.LogWarn(componentInbound, "服务端已注销本客户端")
}
