package hdsm

import (
	"github.com/Anniext/hdsm/internal/protocol"
	"github.com/Anniext/hdsm/pkg/btpm"
)

// handleGroupMessage 消息组处理器，在传输层线程上运行，只负责把消息交给派发队列
func (m *Manager) handleGroupMessage(msg *btpm.Message) {
	if msg == nil || msg.Header.MessageGroup != protocol.GroupHeadsetManager {
		return
	}
	if !m.initialized.Load() {
		return
	}

	function := msg.Header.MessageFunction
	switch {
	case function >= btpm.MessageFunctionMinimum:
		m.queue(func() { m.processMessage(msg) }, function)
	case function == btpm.MessageFunctionClientRegistration:
		reg, err := btpm.DecodeClientRegistration(msg)
		if err != nil {
			m.logs.LogWarn(componentInbound, "丢弃无效的客户端注册通知", "error", err)
			return
		}
		if !reg.Registered {
			m.queue(m.processServerUnregistered, function)
		}
	}
}

func (m *Manager) queue(fn func(), function uint32) {
	mailbox := m.mailbox.Load()
	if mailbox == nil || !mailbox.QueueCallback(fn) {
		m.logs.LogWarn(componentInbound, "派发队列不可用，丢弃消息", "function", protocol.FunctionName(function))
	}
}

// processMessage 在派发线程上解码并处理一条服务端通知
func (m *Manager) processMessage(msg *btpm.Message) {
	if !m.initialized.Load() || msg.IsResponse() {
		return
	}

	function := msg.Header.MessageFunction
	var err error
	switch function {
	case protocol.FunctionConnectionRequest:
		err = m.processDeviceNotification(msg, EventIncomingConnectionRequest)
	case protocol.FunctionDeviceConnected:
		err = m.processDeviceNotification(msg, EventConnected)
	case protocol.FunctionAudioConnected:
		err = m.processDeviceNotification(msg, EventAudioConnected)
	case protocol.FunctionAudioDisconnected:
		err = m.processDeviceNotification(msg, EventAudioDisconnected)

	case protocol.FunctionDeviceConnectionStatus:
		var n protocol.DeviceConnectionStatusNotification
		if _, err = protocol.Decode(msg.Payload, &n); err == nil && m.validRole(n.ConnectionType) {
			m.processConnectionStatus(ConnectionType(n.ConnectionType), BDAddr(n.RemoteDeviceAddress),
				ConnectionStatus(n.ConnectionStatus))
		}

	case protocol.FunctionDeviceDisconnected:
		var n protocol.DeviceDisconnectedNotification
		if _, err = protocol.Decode(msg.Payload, &n); err == nil && m.validRole(n.ConnectionType) {
			m.broadcast(false, &Event{
				Type:             EventDisconnected,
				ConnectionType:   ConnectionType(n.ConnectionType),
				RemoteAddress:    BDAddr(n.RemoteDeviceAddress),
				DisconnectReason: DisconnectReason(n.DisconnectReason),
			})
		}

	case protocol.FunctionAudioConnectionStatus:
		var n protocol.AudioConnectionStatusNotification
		if _, err = protocol.Decode(msg.Payload, &n); err == nil && m.validRole(n.ConnectionType) {
			m.broadcast(false, &Event{
				Type:           EventAudioConnectionStatus,
				ConnectionType: ConnectionType(n.ConnectionType),
				RemoteAddress:  BDAddr(n.RemoteDeviceAddress),
				Successful:     n.Successful,
			})
		}

	case protocol.FunctionAudioDataReceived:
		var n protocol.AudioDataReceivedNotification
		var data []byte
		if n, data, err = protocol.DecodeAudioData(msg.Payload); err == nil && m.validRole(n.ConnectionType) {
			m.processAudioData(n, data)
		}

	case protocol.FunctionSpeakerGainIndication:
		err = m.processGainIndication(msg, EventSpeakerGainIndication)
	case protocol.FunctionMicrophoneGainIndication:
		err = m.processGainIndication(msg, EventMicrophoneGainIndication)

	case protocol.FunctionRingIndicationIndication:
		// 振铃由网关发出，只有耳机角色的控制回调关心
		err = m.processAddressIndication(msg, EventRingIndication, ConnectionTypeHeadset)
	case protocol.FunctionButtonPressedIndication:
		err = m.processAddressIndication(msg, EventButtonPressedIndication, ConnectionTypeAudioGateway)

	default:
		m.logs.LogDebug(componentInbound, "忽略未知功能码", "function", function)
		return
	}

	if err != nil {
		m.logs.LogWarn(componentInbound, "丢弃长度无效的通知",
			"function", protocol.FunctionName(function), "length", len(msg.Payload), "error", err)
	}
}

func (m *Manager) validRole(ct uint32) bool {
	if ConnectionType(ct).Valid() {
		return true
	}
	m.logs.LogWarn(componentInbound, "通知携带未知角色", "connection_type", ct)
	return false
}

// broadcast 加锁后派发，由 dispatchEventLocked 释放锁
func (m *Manager) broadcast(controlOnly bool, event *Event) {
	m.mu.Lock()
	m.dispatchEventLocked(controlOnly, event.ConnectionType, event)
}

func (m *Manager) processDeviceNotification(msg *btpm.Message, eventType EventType) error {
	var n protocol.DeviceNotification
	if _, err := protocol.Decode(msg.Payload, &n); err != nil {
		return err
	}
	if m.validRole(n.ConnectionType) {
		m.broadcast(false, &Event{
			Type:           eventType,
			ConnectionType: ConnectionType(n.ConnectionType),
			RemoteAddress:  BDAddr(n.RemoteDeviceAddress),
		})
	}
	return nil
}

func (m *Manager) processGainIndication(msg *btpm.Message, eventType EventType) error {
	var n protocol.GainIndicationNotification
	if _, err := protocol.Decode(msg.Payload, &n); err != nil {
		return err
	}
	if m.validRole(n.ConnectionType) {
		m.broadcast(true, &Event{
			Type:           eventType,
			ConnectionType: ConnectionType(n.ConnectionType),
			RemoteAddress:  BDAddr(n.RemoteDeviceAddress),
			Gain:           n.Gain,
		})
	}
	return nil
}

func (m *Manager) processAddressIndication(msg *btpm.Message, eventType EventType, ct ConnectionType) error {
	var n protocol.AddressNotification
	if _, err := protocol.Decode(msg.Payload, &n); err != nil {
		return err
	}
	m.broadcast(true, &Event{
		Type:           eventType,
		ConnectionType: ct,
		RemoteAddress:  BDAddr(n.RemoteDeviceAddress),
	})
	return nil
}

// processAudioData 将音频数据投递给角色的数据回调，要求服务端数据处理器ID匹配
func (m *Manager) processAudioData(n protocol.AudioDataReceivedNotification, data []byte) {
	ct := ConnectionType(n.ConnectionType)

	m.mu.Lock()
	entry := m.registry.data[ct].head()
	if entry == nil || entry.callback == nil || entry.connectionStatus != n.DataEventsHandlerID {
		m.mu.Unlock()
		m.logs.LogDebug(componentInbound, "没有匹配的数据回调", "connection_type", ct.String(),
			"data_events_handler_id", n.DataEventsHandlerID)
		return
	}
	callback := entry.callback
	event := &Event{
		Type:                EventAudioData,
		ConnectionType:      ct,
		RemoteAddress:       BDAddr(n.RemoteDeviceAddress),
		DataEventsHandlerID: entry.callbackID,
		AudioDataFlags:      n.AudioDataFlags,
		AudioData:           data,
	}
	m.mu.Unlock()

	if m.initialized.Load() {
		m.invokeCallback(callback, event)
	}
}
