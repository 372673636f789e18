package hdsm

import (
	"context"

	"github.com/Anniext/hdsm/pkg/btpm"
)

// RegisterEventCallback 为角色注册事件回调，返回本地回调ID。
// control 为 true 时注册该角色唯一的控制回调，并在服务端登记；
// 普通订阅者可以有多个，不需要服务端往返。
func (m *Manager) RegisterEventCallback(ctx context.Context, ct ConnectionType, control bool, callback EventCallback) (uint32, error) {
	if err := m.checkRole(ct); err != nil {
		return 0, err
	}
	if callback == nil {
		return 0, btpm.ErrInvalidCallbackSpecified
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.registry.events[ct]
	if control {
		target = m.registry.control[ct]
		if target.head() != nil {
			return 0, btpm.ErrEventHandlerAlreadyRegistered
		}
	}

	entry := target.add(entryInfo{
		callbackID:     m.registry.nextCallbackID(),
		flags:          entryFlagEventCallback | roleFlags(ct),
		connectionType: ct,
		callback:       callback,
	})
	if entry == nil {
		return 0, btpm.ErrUnableToAddEntry
	}

	if control {
		serverID, err := m.proxy.registerEvents(ctx, ct, true)
		if err != nil {
			if removed := target.delete(entry.callbackID); removed != nil {
				removed.release()
			}
			return 0, err
		}
		entry.serverCallbackID = serverID
	}

	m.logs.LogDebug(componentManager, "注册事件回调", "connection_type", ct.String(),
		"control", control, "callback_id", entry.callbackID)
	return entry.callbackID, nil
}

// UnregisterEventCallback 注销事件回调。依次查找网关事件、网关控制、耳机事件、耳机控制列表，
// 控制回调同时通知服务端。
func (m *Manager) UnregisterEventCallback(ctx context.Context, callbackID uint32) error {
	if !m.initialized.Load() {
		return btpm.ErrNotInitialized
	}
	if callbackID == 0 {
		return btpm.ErrInvalidParameter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := []struct {
		list    *entryList
		control bool
	}{
		{m.registry.events[ConnectionTypeAudioGateway], false},
		{m.registry.control[ConnectionTypeAudioGateway], true},
		{m.registry.events[ConnectionTypeHeadset], false},
		{m.registry.control[ConnectionTypeHeadset], true},
	}
	for _, c := range candidates {
		entry := c.list.delete(callbackID)
		if entry == nil {
			continue
		}

		var err error
		if c.control {
			err = m.proxy.unregisterEvents(ctx, entry.serverCallbackID)
		}
		entry.release()
		return err
	}
	return btpm.ErrInvalidCallbackSpecified
}

// RegisterDataEventCallback 注册角色唯一的数据回调，始终在服务端登记
func (m *Manager) RegisterDataEventCallback(ctx context.Context, ct ConnectionType, callback EventCallback) (uint32, error) {
	if err := m.checkRole(ct); err != nil {
		return 0, err
	}
	if callback == nil {
		return 0, btpm.ErrInvalidCallbackSpecified
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.registry.data[ct]
	if target.head() != nil {
		return 0, btpm.ErrDataHandlerAlreadyRegistered
	}

	entry := target.add(entryInfo{
		callbackID:     m.registry.nextCallbackID(),
		flags:          entryFlagEventCallback | roleFlags(ct),
		connectionType: ct,
		callback:       callback,
	})
	if entry == nil {
		return 0, btpm.ErrUnableToAddEntry
	}

	serverID, err := m.proxy.registerDataEvents(ctx, ct)
	if err != nil {
		if removed := target.delete(entry.callbackID); removed != nil {
			removed.release()
		}
		return 0, err
	}
	entry.serverCallbackID = serverID
	// 入站音频数据按服务端数据处理器ID路由到本项
	entry.connectionStatus = serverID

	m.logs.LogDebug(componentManager, "注册数据回调", "connection_type", ct.String(), "callback_id", entry.callbackID)
	return entry.callbackID, nil
}

// UnregisterDataEventCallback 注销数据回调并通知服务端
func (m *Manager) UnregisterDataEventCallback(ctx context.Context, dataCallbackID uint32) error {
	if !m.initialized.Load() {
		return btpm.ErrNotInitialized
	}
	if dataCallbackID == 0 {
		return btpm.ErrInvalidParameter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ct := range connectionTypes {
		entry := m.registry.data[ct].delete(dataCallbackID)
		if entry == nil {
			continue
		}
		err := m.proxy.unregisterDataEvents(ctx, entry.serverCallbackID)
		entry.release()
		return err
	}
	return btpm.ErrInvalidCallbackSpecified
}
