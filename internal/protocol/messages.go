package protocol

// GroupHeadsetManager 耳机管理器消息组
const GroupHeadsetManager uint32 = 0x00001007

// 请求功能码（客户端 -> 服务端）
const (
	FunctionConnectionRequestResponse     uint32 = 0x00001001
	FunctionConnectRemoteDevice           uint32 = 0x00001002
	FunctionDisconnectDevice              uint32 = 0x00001003
	FunctionQueryConnectedDevices         uint32 = 0x00001004
	FunctionQueryCurrentConfiguration     uint32 = 0x00001101
	FunctionChangeIncomingConnectionFlags uint32 = 0x00001102
	FunctionSetSpeakerGain                uint32 = 0x00001201
	FunctionSetMicrophoneGain             uint32 = 0x00001202
	FunctionSendButtonPress               uint32 = 0x00001301
	FunctionRingIndication                uint32 = 0x00001401
	FunctionSetupAudioConnection          uint32 = 0x00001501
	FunctionReleaseAudioConnection        uint32 = 0x00001502
	FunctionSendAudioData                 uint32 = 0x00001503
	FunctionQuerySCOConnectionHandle      uint32 = 0x00001504
	FunctionRegisterHeadsetEvents         uint32 = 0x00002001
	FunctionUnregisterHeadsetEvents       uint32 = 0x00002002
	FunctionRegisterHeadsetData           uint32 = 0x00002101
	FunctionUnregisterHeadsetData         uint32 = 0x00002102
)

// 通知功能码（服务端 -> 客户端）
const (
	FunctionConnectionRequest        uint32 = 0x00010001
	FunctionDeviceConnected          uint32 = 0x00010002
	FunctionDeviceConnectionStatus   uint32 = 0x00010003
	FunctionDeviceDisconnected       uint32 = 0x00010004
	FunctionAudioConnected           uint32 = 0x00010005
	FunctionAudioConnectionStatus    uint32 = 0x00010006
	FunctionAudioDisconnected        uint32 = 0x00010007
	FunctionAudioDataReceived        uint32 = 0x00010008
	FunctionSpeakerGainIndication    uint32 = 0x00010009
	FunctionMicrophoneGainIndication uint32 = 0x0001000A
	FunctionRingIndicationIndication uint32 = 0x00011001
	FunctionButtonPressedIndication  uint32 = 0x00012001
)

var functionNames = map[uint32]string{
	FunctionConnectionRequestResponse:     "connection_request_response",
	FunctionConnectRemoteDevice:           "connect_remote_device",
	FunctionDisconnectDevice:              "disconnect_device",
	FunctionQueryConnectedDevices:         "query_connected_devices",
	FunctionQueryCurrentConfiguration:     "query_current_configuration",
	FunctionChangeIncomingConnectionFlags: "change_incoming_connection_flags",
	FunctionSetSpeakerGain:                "set_speaker_gain",
	FunctionSetMicrophoneGain:             "set_microphone_gain",
	FunctionSendButtonPress:               "send_button_press",
	FunctionRingIndication:                "ring_indication",
	FunctionSetupAudioConnection:          "setup_audio_connection",
	FunctionReleaseAudioConnection:        "release_audio_connection",
	FunctionSendAudioData:                 "send_audio_data",
	FunctionQuerySCOConnectionHandle:      "query_sco_connection_handle",
	FunctionRegisterHeadsetEvents:         "register_headset_events",
	FunctionUnregisterHeadsetEvents:       "unregister_headset_events",
	FunctionRegisterHeadsetData:           "register_headset_data",
	FunctionUnregisterHeadsetData:         "unregister_headset_data",

	FunctionConnectionRequest:        "connection_request",
	FunctionDeviceConnected:          "device_connected",
	FunctionDeviceConnectionStatus:   "device_connection_status",
	FunctionDeviceDisconnected:       "device_disconnected",
	FunctionAudioConnected:           "audio_connected",
	FunctionAudioConnectionStatus:    "audio_connection_status",
	FunctionAudioDisconnected:        "audio_disconnected",
	FunctionAudioDataReceived:        "audio_data_received",
	FunctionSpeakerGainIndication:    "speaker_gain_indication",
	FunctionMicrophoneGainIndication: "microphone_gain_indication",
	FunctionRingIndicationIndication: "ring_indication_indication",
	FunctionButtonPressedIndication:  "button_pressed_indication",
}

// FunctionName 返回功能码名称
func FunctionName(function uint32) string {
	if name, ok := functionNames[function]; ok {
		return name
	}
	return "unknown"
}

// IsNotification 判断功能码是否为服务端通知
func IsNotification(function uint32) bool {
	return function >= FunctionConnectionRequest
}

// Address 蓝牙设备地址的线上表示
type Address [6]byte

// 请求载荷

// ConnectionRequestResponseRequest 应答远端发起的连接
type ConnectionRequestResponseRequest struct {
	ConnectionType      uint32
	RemoteDeviceAddress Address
	Accept              bool
}

// ConnectRemoteDeviceRequest 发起到远端设备的连接
type ConnectRemoteDeviceRequest struct {
	ConnectionType      uint32
	RemoteServerPort    uint32
	RemoteDeviceAddress Address
	ConnectionFlags     uint32
}

// DeviceRequest 只携带角色与地址的请求
type DeviceRequest struct {
	ConnectionType      uint32
	RemoteDeviceAddress Address
}

// ConnectionTypeRequest 只携带角色的请求
type ConnectionTypeRequest struct {
	ConnectionType uint32
}

// ChangeIncomingConnectionFlagsRequest 修改入站连接标志
type ChangeIncomingConnectionFlagsRequest struct {
	ConnectionType  uint32
	ConnectionFlags uint32
}

// SetGainRequest 设置远端扬声器或麦克风增益
type SetGainRequest struct {
	ControlEventsHandlerID uint32
	ConnectionType         uint32
	RemoteDeviceAddress    Address
	Gain                   uint32
}

// ControlDeviceRequest 携带控制句柄、角色与地址的请求
type ControlDeviceRequest struct {
	ControlEventsHandlerID uint32
	ConnectionType         uint32
	RemoteDeviceAddress    Address
}

// SetupAudioConnectionRequest 建立音频连接
type SetupAudioConnectionRequest struct {
	ControlEventsHandlerID uint32
	ConnectionType         uint32
	RemoteDeviceAddress    Address
	InBandRinging          bool
}

// SendAudioDataRequest 发送音频数据，定长部分之后紧跟 AudioDataLength 字节数据
type SendAudioDataRequest struct {
	DataEventsHandlerID uint32
	ConnectionType      uint32
	RemoteDeviceAddress Address
	AudioDataLength     uint32
}

// RegisterEventsRequest 注册事件处理器
type RegisterEventsRequest struct {
	ConnectionType uint32
	ControlHandler bool
}

// HandlerRequest 携带服务端处理器ID的请求
type HandlerRequest struct {
	HandlerID uint32
}

// 响应载荷，均以 Status 开头

// StatusResponse 仅含状态的响应
type StatusResponse struct {
	Status int32
}

// QueryConnectedDevicesResponse 之后紧跟 NumberDevicesConnected 个地址
type QueryConnectedDevicesResponse struct {
	Status                 int32
	NumberDevicesConnected uint32
}

// QueryCurrentConfigurationResponse 当前配置
type QueryCurrentConfigurationResponse struct {
	Status                  int32
	IncomingConnectionFlags uint32
	SupportedFeaturesMask   uint32
}

// QuerySCOConnectionHandleResponse SCO 连接句柄
type QuerySCOConnectionHandleResponse struct {
	Status    int32
	SCOHandle uint16
}

// RegisterHandlerResponse 注册事件或数据处理器的响应
type RegisterHandlerResponse struct {
	Status    int32
	HandlerID uint32
}

// 通知载荷

// DeviceNotification 连接请求、已连接、音频已连接、音频已断开
type DeviceNotification struct {
	ConnectionType      uint32
	RemoteDeviceAddress Address
}

// DeviceConnectionStatusNotification 连接结果
type DeviceConnectionStatusNotification struct {
	ConnectionType      uint32
	RemoteDeviceAddress Address
	ConnectionStatus    uint32
}

// DeviceDisconnectedNotification 连接断开
type DeviceDisconnectedNotification struct {
	ConnectionType      uint32
	RemoteDeviceAddress Address
	DisconnectReason    uint32
}

// AudioConnectionStatusNotification 音频连接结果
type AudioConnectionStatusNotification struct {
	ConnectionType      uint32
	RemoteDeviceAddress Address
	Successful          bool
}

// AudioDataReceivedNotification 之后紧跟 AudioDataLength 字节音频数据
type AudioDataReceivedNotification struct {
	ConnectionType      uint32
	RemoteDeviceAddress Address
	DataEventsHandlerID uint32
	AudioDataFlags      uint32
	AudioDataLength     uint32
}

// GainIndicationNotification 扬声器或麦克风增益指示
type GainIndicationNotification struct {
	ConnectionType      uint32
	RemoteDeviceAddress Address
	Gain                uint32
}

// AddressNotification 振铃指示与按键指示，只携带地址
type AddressNotification struct {
	RemoteDeviceAddress Address
}
