package hdsm

import (
	"context"

	"github.com/Anniext/hdsm/internal/protocol"
	"github.com/Anniext/hdsm/pkg/btpm"
)

// ConnectionRequestResponse 接受或拒绝远端发起的连接，需要角色的控制回调
func (m *Manager) ConnectionRequestResponse(ctx context.Context, controlID uint32, ct ConnectionType, addr BDAddr, accept bool) error {
	if err := m.authorizeDevice(ct, addr, controlID); err != nil {
		return err
	}
	return m.proxy.connectionRequestResponse(ctx, ct, addr, accept)
}

// Disconnect 断开与远端设备的连接，需要角色的控制回调
func (m *Manager) Disconnect(ctx context.Context, controlID uint32, ct ConnectionType, addr BDAddr) error {
	if err := m.authorizeDevice(ct, addr, controlID); err != nil {
		return err
	}
	return m.proxy.disconnectDevice(ctx, ct, addr)
}

func (m *Manager) authorizeDevice(ct ConnectionType, addr BDAddr, controlID uint32) error {
	if err := m.checkDevice(ct, addr); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authorizeControlLocked(ct, controlID)
}

// QueryConnectedDevices 查询角色当前已连接的设备
func (m *Manager) QueryConnectedDevices(ctx context.Context, ct ConnectionType) ([]BDAddr, error) {
	if err := m.checkRole(ct); err != nil {
		return nil, err
	}
	return m.proxy.queryConnectedDevices(ctx, ct)
}

// QueryCurrentConfiguration 查询角色当前配置
func (m *Manager) QueryCurrentConfiguration(ctx context.Context, ct ConnectionType) (*CurrentConfiguration, error) {
	if err := m.checkRole(ct); err != nil {
		return nil, err
	}
	return m.proxy.queryCurrentConfiguration(ctx, ct)
}

// ChangeIncomingConnectionFlags 修改角色的入站连接标志
func (m *Manager) ChangeIncomingConnectionFlags(ctx context.Context, ct ConnectionType, flags IncomingConnectionFlags) error {
	if err := m.checkRole(ct); err != nil {
		return err
	}
	const known = IncomingFlagRequireAuthorization | IncomingFlagRequireAuthentication | IncomingFlagRequireEncryption
	if flags&^known != 0 {
		return btpm.ErrInvalidParameter
	}
	return m.proxy.changeIncomingConnectionFlags(ctx, ct, flags)
}

// SetRemoteSpeakerGain 设置远端扬声器增益
func (m *Manager) SetRemoteSpeakerGain(ctx context.Context, controlID uint32, ct ConnectionType, addr BDAddr, gain uint32) error {
	return m.setGain(ctx, protocol.FunctionSetSpeakerGain, controlID, ct, addr, gain)
}

// SetRemoteMicrophoneGain 设置远端麦克风增益
func (m *Manager) SetRemoteMicrophoneGain(ctx context.Context, controlID uint32, ct ConnectionType, addr BDAddr, gain uint32) error {
	return m.setGain(ctx, protocol.FunctionSetMicrophoneGain, controlID, ct, addr, gain)
}

func (m *Manager) setGain(ctx context.Context, function, controlID uint32, ct ConnectionType, addr BDAddr, gain uint32) error {
	if gain < MinimumGain || gain > MaximumGain {
		return btpm.ErrInvalidParameter
	}
	serverID, err := m.resolveControl(ct, addr, controlID)
	if err != nil {
		return err
	}
	return m.proxy.setGain(ctx, function, serverID, ct, addr, gain)
}

// SendButtonPress 以耳机角色向音频网关发送按键
func (m *Manager) SendButtonPress(ctx context.Context, controlID uint32, addr BDAddr) error {
	serverID, err := m.resolveControl(ConnectionTypeHeadset, addr, controlID)
	if err != nil {
		return err
	}
	return m.proxy.controlDevice(ctx, protocol.FunctionSendButtonPress, serverID, ConnectionTypeHeadset, addr)
}

// RingIndication 以音频网关角色向耳机发送振铃
func (m *Manager) RingIndication(ctx context.Context, controlID uint32, addr BDAddr) error {
	serverID, err := m.resolveControl(ConnectionTypeAudioGateway, addr, controlID)
	if err != nil {
		return err
	}
	return m.proxy.controlDevice(ctx, protocol.FunctionRingIndication, serverID, ConnectionTypeAudioGateway, addr)
}

// SetupAudioConnection 建立 SCO 音频连接
func (m *Manager) SetupAudioConnection(ctx context.Context, controlID uint32, ct ConnectionType, addr BDAddr, inBandRinging bool) error {
	serverID, err := m.resolveControl(ct, addr, controlID)
	if err != nil {
		return err
	}
	return m.proxy.setupAudioConnection(ctx, serverID, ct, addr, inBandRinging)
}

// ReleaseAudioConnection 释放 SCO 音频连接
func (m *Manager) ReleaseAudioConnection(ctx context.Context, controlID uint32, ct ConnectionType, addr BDAddr) error {
	serverID, err := m.resolveControl(ct, addr, controlID)
	if err != nil {
		return err
	}
	return m.proxy.controlDevice(ctx, protocol.FunctionReleaseAudioConnection, serverID, ct, addr)
}

// QuerySCOConnectionHandle 查询 SCO 连接句柄
func (m *Manager) QuerySCOConnectionHandle(ctx context.Context, controlID uint32, ct ConnectionType, addr BDAddr) (uint16, error) {
	serverID, err := m.resolveControl(ct, addr, controlID)
	if err != nil {
		return 0, err
	}
	return m.proxy.querySCOConnectionHandle(ctx, serverID, ct, addr)
}

// SendAudioData 通过数据回调发送音频数据
func (m *Manager) SendAudioData(ctx context.Context, dataCallbackID uint32, ct ConnectionType, addr BDAddr, data []byte) error {
	if err := m.checkDevice(ct, addr); err != nil {
		return err
	}
	if len(data) == 0 {
		return btpm.ErrInvalidParameter
	}
	if dataCallbackID == 0 {
		return btpm.ErrInvalidCallbackSpecified
	}

	m.mu.Lock()
	entry := m.registry.data[ct].search(dataCallbackID)
	var serverID uint32
	if entry != nil {
		serverID = entry.serverCallbackID
	}
	m.mu.Unlock()
	if entry == nil {
		return btpm.ErrInvalidCallbackSpecified
	}
	return m.proxy.sendAudioData(ctx, serverID, ct, addr, data)
}

// resolveControl 校验参数并返回控制回调对应的服务端处理器ID
func (m *Manager) resolveControl(ct ConnectionType, addr BDAddr, controlID uint32) (uint32, error) {
	if err := m.checkDevice(ct, addr); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.controlServerIDLocked(ct, controlID)
}
