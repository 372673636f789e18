package hdsm

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Anniext/hdsm/pkg/btpm"
)

// ConnectionType 本地服务角色
type ConnectionType uint32

const (
	ConnectionTypeHeadset      ConnectionType = iota // 耳机
	ConnectionTypeAudioGateway                       // 音频网关
)

// connectionTypes 按固定顺序列出两个角色
var connectionTypes = [...]ConnectionType{ConnectionTypeAudioGateway, ConnectionTypeHeadset}

// String 返回角色的字符串表示
func (ct ConnectionType) String() string {
	switch ct {
	case ConnectionTypeHeadset:
		return "headset"
	case ConnectionTypeAudioGateway:
		return "audio_gateway"
	default:
		return "unknown"
	}
}

// Valid 判断角色是否合法
func (ct ConnectionType) Valid() bool {
	return ct == ConnectionTypeHeadset || ct == ConnectionTypeAudioGateway
}

// ParseConnectionType 解析 "hs"/"headset" 或 "ag"/"audio_gateway"
func ParseConnectionType(s string) (ConnectionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hs", "headset":
		return ConnectionTypeHeadset, nil
	case "ag", "audio_gateway", "audiogateway":
		return ConnectionTypeAudioGateway, nil
	default:
		return 0, btpm.NewPlatformError(btpm.ErrCodeInvalidParameter, "未知的连接角色: "+s)
	}
}

// BDAddr 蓝牙设备地址，下标 0 为最高字节
type BDAddr [6]byte

// ParseBDAddr 解析 "AA:BB:CC:DD:EE:FF" 形式的地址
func ParseBDAddr(s string) (BDAddr, error) {
	var addr BDAddr
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != len(addr) {
		return addr, btpm.NewPlatformError(btpm.ErrCodeInvalidParameter, "无效的设备地址: "+s)
	}
	for i, p := range parts {
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil || len(p) != 2 {
			return addr, btpm.NewPlatformError(btpm.ErrCodeInvalidParameter, "无效的设备地址: "+s)
		}
		addr[i] = byte(b)
	}
	return addr, nil
}

// String 返回地址的字符串表示
func (a BDAddr) String() string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[0], a[1], a[2], a[3], a[4], a[5])
}

// IsZero 判断是否为空地址
func (a BDAddr) IsZero() bool {
	return a == BDAddr{}
}

// IsBroadcast 判断是否为广播地址
func (a BDAddr) IsBroadcast() bool {
	return a == BDAddr{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
}

// EventType 事件类型
type EventType int

const (
	EventIncomingConnectionRequest EventType = iota // 远端发起连接请求
	EventConnected                                  // 已连接
	EventDisconnected                               // 已断开
	EventConnectionStatus                           // 主动连接的结果
	EventAudioConnected                             // 音频已连接
	EventAudioDisconnected                          // 音频已断开
	EventAudioConnectionStatus                      // 音频连接结果
	EventAudioData                                  // 收到音频数据
	EventSpeakerGainIndication                      // 扬声器增益指示
	EventMicrophoneGainIndication                   // 麦克风增益指示
	EventRingIndication                             // 振铃指示
	EventButtonPressedIndication                    // 按键指示
)

// String 返回事件类型的字符串表示
func (et EventType) String() string {
	switch et {
	case EventIncomingConnectionRequest:
		return "incoming_connection_request"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventConnectionStatus:
		return "connection_status"
	case EventAudioConnected:
		return "audio_connected"
	case EventAudioDisconnected:
		return "audio_disconnected"
	case EventAudioConnectionStatus:
		return "audio_connection_status"
	case EventAudioData:
		return "audio_data"
	case EventSpeakerGainIndication:
		return "speaker_gain_indication"
	case EventMicrophoneGainIndication:
		return "microphone_gain_indication"
	case EventRingIndication:
		return "ring_indication"
	case EventButtonPressedIndication:
		return "button_pressed_indication"
	default:
		return "unknown"
	}
}

// ConnectionStatus 主动连接的结果
type ConnectionStatus uint32

const (
	ConnectionStatusSuccess               ConnectionStatus = iota // 成功
	ConnectionStatusFailureTimeout                                // 超时
	ConnectionStatusFailureRefused                                // 被拒绝
	ConnectionStatusFailureSecurity                               // 安全校验失败
	ConnectionStatusFailureDevicePowerOff                         // 本地设备断电
	ConnectionStatusFailureUnknown                                // 未知错误
)

// String 返回连接结果的字符串表示
func (cs ConnectionStatus) String() string {
	switch cs {
	case ConnectionStatusSuccess:
		return "success"
	case ConnectionStatusFailureTimeout:
		return "failure_timeout"
	case ConnectionStatusFailureRefused:
		return "failure_refused"
	case ConnectionStatusFailureSecurity:
		return "failure_security"
	case ConnectionStatusFailureDevicePowerOff:
		return "failure_device_power_off"
	case ConnectionStatusFailureUnknown:
		return "failure_unknown"
	default:
		return "unknown"
	}
}

// DisconnectReason 断开原因
type DisconnectReason uint32

const (
	DisconnectReasonNormal            DisconnectReason = iota // 正常断开
	DisconnectReasonServiceLevelError                         // 服务级连接错误
)

// String 返回断开原因的字符串表示
func (dr DisconnectReason) String() string {
	switch dr {
	case DisconnectReasonNormal:
		return "normal"
	case DisconnectReasonServiceLevelError:
		return "service_level_error"
	default:
		return "unknown"
	}
}

// ConnectFlags 主动连接标志
type ConnectFlags uint32

const (
	ConnectFlagRequireAuthentication ConnectFlags = 0x00000001
	ConnectFlagRequireEncryption     ConnectFlags = 0x00000002
)

// IncomingConnectionFlags 入站连接标志
type IncomingConnectionFlags uint32

const (
	IncomingFlagRequireAuthorization  IncomingConnectionFlags = 0x00000001
	IncomingFlagRequireAuthentication IncomingConnectionFlags = 0x00000002
	IncomingFlagRequireEncryption     IncomingConnectionFlags = 0x00000004
)

// Event 投递给回调的事件，字段按 Type 取用
type Event struct {
	Type                EventType        `json:"type"`                             // 事件类型
	ConnectionType      ConnectionType   `json:"connection_type"`                  // 本地角色
	RemoteAddress       BDAddr           `json:"remote_address"`                   // 远端地址
	ConnectionStatus    ConnectionStatus `json:"connection_status,omitempty"`      // EventConnectionStatus
	DisconnectReason    DisconnectReason `json:"disconnect_reason,omitempty"`      // EventDisconnected
	Successful          bool             `json:"successful,omitempty"`             // EventAudioConnectionStatus
	Gain                uint32           `json:"gain,omitempty"`                   // 增益指示
	DataEventsHandlerID uint32           `json:"data_events_handler_id,omitempty"` // EventAudioData，本地数据回调ID
	AudioDataFlags      uint32           `json:"audio_data_flags,omitempty"`       // EventAudioData
	AudioData           []byte           `json:"audio_data,omitempty"`             // EventAudioData
}

// EventCallback 事件回调，返回的错误由派发器记录后继续派发
type EventCallback func(event *Event) error

// CurrentConfiguration 角色当前配置
type CurrentConfiguration struct {
	IncomingConnectionFlags IncomingConnectionFlags `json:"incoming_connection_flags"` // 入站连接标志
	SupportedFeaturesMask   uint32                  `json:"supported_features_mask"`   // 支持的特性
}

// DevicePowerEvent 本地设备电源事件
type DevicePowerEvent int

const (
	DevicePoweredOn   DevicePowerEvent = iota // 已上电
	DevicePoweringOff                         // 即将断电
	DevicePoweredOff                          // 已断电
)

// String 返回电源事件的字符串表示
func (pe DevicePowerEvent) String() string {
	switch pe {
	case DevicePoweredOn:
		return "powered_on"
	case DevicePoweringOff:
		return "powering_off"
	case DevicePoweredOff:
		return "powered_off"
	default:
		return "unknown"
	}
}

// PowerStateQuerier 查询本地设备电源状态
type PowerStateQuerier interface {
	QueryDevicePowerState(ctx context.Context) (bool, error)
}

// State 管理器生命周期状态
type State int32

const (
	StateUninitialized State = iota // 未初始化
	StateInitializing               // 初始化中
	StateRunning                    // 运行中
	StateShuttingDown               // 关闭中
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}
