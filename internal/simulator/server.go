package simulator

import (
	"bytes"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Anniext/hdsm/internal/protocol"
	"github.com/Anniext/hdsm/pkg/btpm"
)

const componentSimulator = "simulator"

// 角色取值与客户端一致
const (
	RoleHeadset      uint32 = 0
	RoleAudioGateway uint32 = 1
)

// Status 服务端返回的状态
const (
	StatusSuccess         int32 = 0
	StatusInvalidHandler  int32 = btpm.ErrCodeInvalidCallbackSpecified
	StatusInvalidRequest  int32 = btpm.ErrCodeInvalidParameter
	StatusNotConnected    int32 = btpm.ErrCodeInvalidOperation
	StatusUnknownFunction int32 = btpm.ErrCodeInternalError
)

type handlerInfo struct {
	role    uint32
	control bool
	data    bool
}

type fault struct {
	status   int32
	truncate bool
}

// Server 模拟的耳机管理器服务端，维护处理器注册、连接与音频状态
type Server struct {
	addressID uint32
	logs      *btpm.LogManager

	mu            sync.Mutex
	deliver       func(*btpm.Message)
	nextHandlerID uint32
	handlers      map[uint32]handlerInfo
	connected     [2]map[protocol.Address]bool
	audio         [2]map[protocol.Address]bool
	configs       [2]protocol.QueryCurrentConfigurationResponse
	connectStatus uint32
	connectDelay  time.Duration
	holdConnect   bool
	faults        map[uint32]fault
	requests      []uint32
	lastGain      uint32
	audioSent     [][]byte
	scoHandle     uint16
	powered       bool
	powerWatchers []func(bool)
}

// NewServer 创建模拟服务端
func NewServer(addressID uint32, logs *btpm.LogManager) *Server {
	if logs == nil {
		logs = btpm.NewLogManager(nil)
	}
	s := &Server{
		addressID:     addressID,
		logs:          logs,
		nextHandlerID: 100,
		handlers:      make(map[uint32]handlerInfo),
		faults:        make(map[uint32]fault),
		connectDelay:  10 * time.Millisecond,
		scoHandle:     0x0101,
		powered:       true,
	}
	for i := range s.connected {
		s.connected[i] = make(map[protocol.Address]bool)
		s.audio[i] = make(map[protocol.Address]bool)
		s.configs[i] = protocol.QueryCurrentConfigurationResponse{
			IncomingConnectionFlags: 0x02,
			SupportedFeaturesMask:   0x1F,
		}
	}
	return s
}

// Attach 设置通知的投递函数
func (s *Server) Attach(deliver func(*btpm.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = deliver
}

// SetConnectBehavior 设置主动连接的结果与延迟
func (s *Server) SetConnectBehavior(status uint32, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectStatus = status
	s.connectDelay = delay
	s.holdConnect = false
}

// QueryDevicePowerState 返回模拟的本地设备电源状态
func (s *Server) QueryDevicePowerState(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.powered, nil
}

// WatchPower 注册电源状态变化的观察者
func (s *Server) WatchPower(fn func(powered bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.powerWatchers = append(s.powerWatchers, fn)
}

// SetPowered 切换本地设备电源并通知观察者，状态不变时不通知。
// 断电时断开所有连接，断电期间拒绝主动连接
func (s *Server) SetPowered(on bool) {
	s.mu.Lock()
	if s.powered == on {
		s.mu.Unlock()
		return
	}
	s.powered = on
	if !on {
		for i := range s.connected {
			clear(s.connected[i])
			clear(s.audio[i])
		}
	}
	watchers := append(([]func(bool))(nil), s.powerWatchers...)
	s.mu.Unlock()

	s.logs.LogInfo(componentSimulator, "本地设备电源切换", "powered", on)
	for _, fn := range watchers {
		fn(on)
	}
}

// HoldConnections 连接请求只应答不完成，由 CompleteConnection 手动完成
func (s *Server) HoldConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holdConnect = true
}

// FailFunction 让指定功能码返回 status
func (s *Server) FailFunction(function uint32, status int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[function] = fault{status: status}
}

// TruncateResponse 让指定功能码返回空载荷响应
func (s *Server) TruncateResponse(function uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[function] = fault{truncate: true}
}

// ClearFaults 清除所有故障注入
func (s *Server) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.faults)
}

// Requests 返回收到的请求功能码
func (s *Server) Requests() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]uint32(nil), s.requests...)
}

// CountRequests 统计某个功能码的请求次数
func (s *Server) CountRequests(function uint32) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, f := range s.requests {
		if f == function {
			n++
		}
	}
	return n
}

// HandlerCount 返回当前登记的处理器数量
func (s *Server) HandlerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// LastGain 返回最近一次设置的增益
func (s *Server) LastGain() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastGain
}

// AudioSent 返回客户端发送的音频数据
func (s *Server) AudioSent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.audioSent...)
}

// HandleRequest 处理一条请求并返回响应，可作为 transport.RequestHandler 使用
func (s *Server) HandleRequest(req *btpm.Message) (*btpm.Message, error) {
	function := req.Header.MessageFunction

	s.mu.Lock()
	s.requests = append(s.requests, function)
	f, faulty := s.faults[function]
	s.mu.Unlock()

	if faulty {
		if f.truncate {
			return btpm.NewResponseMessage(req, nil), nil
		}
		return statusResponse(req, f.status)
	}

	var (
		body     any
		trailing []byte
		notify   []*btpm.Message
		err      error
	)
	switch function {
	case protocol.FunctionRegisterHeadsetEvents:
		var r protocol.RegisterEventsRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body = s.register(handlerInfo{role: r.ConnectionType, control: r.ControlHandler})
		}
	case protocol.FunctionRegisterHeadsetData:
		var r protocol.ConnectionTypeRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body = s.register(handlerInfo{role: r.ConnectionType, data: true})
		}
	case protocol.FunctionUnregisterHeadsetEvents, protocol.FunctionUnregisterHeadsetData:
		var r protocol.HandlerRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body = s.unregister(r.HandlerID)
		}
	case protocol.FunctionConnectRemoteDevice:
		var r protocol.ConnectRemoteDeviceRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body = s.connectRemote(r)
		}
	case protocol.FunctionConnectionRequestResponse:
		var r protocol.ConnectionRequestResponseRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body, notify = s.respondIncoming(r)
		}
	case protocol.FunctionDisconnectDevice:
		var r protocol.DeviceRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body, notify = s.disconnect(r)
		}
	case protocol.FunctionQueryConnectedDevices:
		var r protocol.ConnectionTypeRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body, trailing = s.connectedDevices(r.ConnectionType)
		}
	case protocol.FunctionQueryCurrentConfiguration:
		var r protocol.ConnectionTypeRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body = s.configuration(r.ConnectionType)
		}
	case protocol.FunctionChangeIncomingConnectionFlags:
		var r protocol.ChangeIncomingConnectionFlagsRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body = s.changeFlags(r)
		}
	case protocol.FunctionSetSpeakerGain, protocol.FunctionSetMicrophoneGain:
		var r protocol.SetGainRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body = s.setGain(r)
		}
	case protocol.FunctionSendButtonPress, protocol.FunctionRingIndication, protocol.FunctionReleaseAudioConnection:
		var r protocol.ControlDeviceRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body, notify = s.controlDevice(function, r)
		}
	case protocol.FunctionSetupAudioConnection:
		var r protocol.SetupAudioConnectionRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body, notify = s.setupAudio(r)
		}
	case protocol.FunctionSendAudioData:
		var r protocol.SendAudioDataRequest
		var rest []byte
		if rest, err = protocol.Decode(req.Payload, &r); err == nil {
			body = s.receiveAudio(r, rest)
		}
	case protocol.FunctionQuerySCOConnectionHandle:
		var r protocol.ControlDeviceRequest
		if _, err = protocol.Decode(req.Payload, &r); err == nil {
			body = s.scoConnectionHandle(r)
		}
	default:
		return statusResponse(req, StatusUnknownFunction)
	}
	if err != nil {
		s.logs.LogWarn(componentSimulator, "请求载荷无效", "function", protocol.FunctionName(function), "error", err)
		return statusResponse(req, StatusInvalidRequest)
	}

	for _, n := range notify {
		s.send(n)
	}
	return protocol.NewResponse(req, body, trailing)
}

func statusResponse(req *btpm.Message, status int32) (*btpm.Message, error) {
	// 补足尾部，使任何定长响应都能解码出状态
	return protocol.NewResponse(req, &protocol.StatusResponse{Status: status}, make([]byte, 16))
}

func (s *Server) send(msg *btpm.Message) {
	s.mu.Lock()
	deliver := s.deliver
	s.mu.Unlock()
	if deliver != nil && msg != nil {
		deliver(msg)
	}
}

func (s *Server) notification(function uint32, body any, trailing []byte) *btpm.Message {
	msg, err := protocol.NewNotification(s.addressID, function, body, trailing)
	if err != nil {
		s.logs.LogError(componentSimulator, "通知编码失败", err, "function", protocol.FunctionName(function))
		return nil
	}
	return msg
}

func validRole(role uint32) bool {
	return role == RoleHeadset || role == RoleAudioGateway
}

func (s *Server) register(info handlerInfo) *protocol.RegisterHandlerResponse {
	if !validRole(info.role) {
		return &protocol.RegisterHandlerResponse{Status: StatusInvalidRequest}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHandlerID++
	s.handlers[s.nextHandlerID] = info
	return &protocol.RegisterHandlerResponse{HandlerID: s.nextHandlerID}
}

func (s *Server) unregister(id uint32) *protocol.StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[id]; !ok {
		return &protocol.StatusResponse{Status: StatusInvalidHandler}
	}
	delete(s.handlers, id)
	return &protocol.StatusResponse{}
}

// handlerFor 查找指定角色的控制或数据处理器。调用时持有 s.mu
func (s *Server) handlerFor(id, role uint32, data bool) bool {
	info, ok := s.handlers[id]
	if !ok || info.role != role {
		return false
	}
	if data {
		return info.data
	}
	return info.control
}

func (s *Server) connectRemote(r protocol.ConnectRemoteDeviceRequest) *protocol.StatusResponse {
	if !validRole(r.ConnectionType) {
		return &protocol.StatusResponse{Status: StatusInvalidRequest}
	}
	s.mu.Lock()
	hold, status, delay, powered := s.holdConnect, s.connectStatus, s.connectDelay, s.powered
	s.mu.Unlock()
	if !powered {
		return &protocol.StatusResponse{Status: StatusNotConnected}
	}

	if !hold {
		time.AfterFunc(delay, func() {
			s.CompleteConnection(r.ConnectionType, r.RemoteDeviceAddress, status)
		})
	}
	return &protocol.StatusResponse{}
}

// CompleteConnection 发送连接结果，成功时同时发送已连接通知
func (s *Server) CompleteConnection(role uint32, addr protocol.Address, status uint32) {
	if !validRole(role) {
		return
	}
	if status == 0 {
		s.mu.Lock()
		s.connected[role][addr] = true
		s.mu.Unlock()
	}
	s.send(s.notification(protocol.FunctionDeviceConnectionStatus, &protocol.DeviceConnectionStatusNotification{
		ConnectionType:      role,
		RemoteDeviceAddress: addr,
		ConnectionStatus:    status,
	}, nil))
	if status == 0 {
		s.send(s.notification(protocol.FunctionDeviceConnected, &protocol.DeviceNotification{
			ConnectionType:      role,
			RemoteDeviceAddress: addr,
		}, nil))
	}
}

// RemoteConnectionRequest 模拟远端发起连接
func (s *Server) RemoteConnectionRequest(role uint32, addr protocol.Address) {
	s.send(s.notification(protocol.FunctionConnectionRequest, &protocol.DeviceNotification{
		ConnectionType:      role,
		RemoteDeviceAddress: addr,
	}, nil))
}

func (s *Server) respondIncoming(r protocol.ConnectionRequestResponseRequest) (*protocol.StatusResponse, []*btpm.Message) {
	if !validRole(r.ConnectionType) {
		return &protocol.StatusResponse{Status: StatusInvalidRequest}, nil
	}
	if !r.Accept {
		return &protocol.StatusResponse{}, nil
	}
	s.mu.Lock()
	s.connected[r.ConnectionType][r.RemoteDeviceAddress] = true
	s.mu.Unlock()
	return &protocol.StatusResponse{}, []*btpm.Message{
		s.notification(protocol.FunctionDeviceConnected, &protocol.DeviceNotification{
			ConnectionType:      r.ConnectionType,
			RemoteDeviceAddress: r.RemoteDeviceAddress,
		}, nil),
	}
}

func (s *Server) disconnect(r protocol.DeviceRequest) (*protocol.StatusResponse, []*btpm.Message) {
	if !validRole(r.ConnectionType) {
		return &protocol.StatusResponse{Status: StatusInvalidRequest}, nil
	}
	s.mu.Lock()
	connected := s.connected[r.ConnectionType][r.RemoteDeviceAddress]
	delete(s.connected[r.ConnectionType], r.RemoteDeviceAddress)
	delete(s.audio[r.ConnectionType], r.RemoteDeviceAddress)
	s.mu.Unlock()

	if !connected {
		return &protocol.StatusResponse{Status: StatusNotConnected}, nil
	}
	return &protocol.StatusResponse{}, []*btpm.Message{
		s.notification(protocol.FunctionDeviceDisconnected, &protocol.DeviceDisconnectedNotification{
			ConnectionType:      r.ConnectionType,
			RemoteDeviceAddress: r.RemoteDeviceAddress,
		}, nil),
	}
}

func (s *Server) connectedDevices(role uint32) (*protocol.QueryConnectedDevicesResponse, []byte) {
	if !validRole(role) {
		return &protocol.QueryConnectedDevicesResponse{Status: StatusInvalidRequest}, nil
	}
	s.mu.Lock()
	addrs := make([]protocol.Address, 0, len(s.connected[role]))
	for a := range s.connected[role] {
		addrs = append(addrs, a)
	}
	s.mu.Unlock()

	sort.Slice(addrs, func(i, j int) bool { return bytes.Compare(addrs[i][:], addrs[j][:]) < 0 })
	return &protocol.QueryConnectedDevicesResponse{NumberDevicesConnected: uint32(len(addrs))},
		protocol.EncodeAddresses(addrs)
}

func (s *Server) configuration(role uint32) *protocol.QueryCurrentConfigurationResponse {
	if !validRole(role) {
		return &protocol.QueryCurrentConfigurationResponse{Status: StatusInvalidRequest}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.configs[role]
	return &cfg
}

func (s *Server) changeFlags(r protocol.ChangeIncomingConnectionFlagsRequest) *protocol.StatusResponse {
	if !validRole(r.ConnectionType) {
		return &protocol.StatusResponse{Status: StatusInvalidRequest}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[r.ConnectionType].IncomingConnectionFlags = r.ConnectionFlags
	return &protocol.StatusResponse{}
}

func (s *Server) setGain(r protocol.SetGainRequest) *protocol.StatusResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handlerFor(r.ControlEventsHandlerID, r.ConnectionType, false) {
		return &protocol.StatusResponse{Status: StatusInvalidHandler}
	}
	s.lastGain = r.Gain
	return &protocol.StatusResponse{}
}

func (s *Server) controlDevice(function uint32, r protocol.ControlDeviceRequest) (*protocol.StatusResponse, []*btpm.Message) {
	s.mu.Lock()
	ok := s.handlerFor(r.ControlEventsHandlerID, r.ConnectionType, false)
	audioUp := s.audio[r.ConnectionType][r.RemoteDeviceAddress]
	if ok && function == protocol.FunctionReleaseAudioConnection {
		delete(s.audio[r.ConnectionType], r.RemoteDeviceAddress)
	}
	s.mu.Unlock()

	if !ok {
		return &protocol.StatusResponse{Status: StatusInvalidHandler}, nil
	}
	if function != protocol.FunctionReleaseAudioConnection {
		return &protocol.StatusResponse{}, nil
	}
	if !audioUp {
		return &protocol.StatusResponse{Status: StatusNotConnected}, nil
	}
	return &protocol.StatusResponse{}, []*btpm.Message{
		s.notification(protocol.FunctionAudioDisconnected, &protocol.DeviceNotification{
			ConnectionType:      r.ConnectionType,
			RemoteDeviceAddress: r.RemoteDeviceAddress,
		}, nil),
	}
}

func (s *Server) setupAudio(r protocol.SetupAudioConnectionRequest) (*protocol.StatusResponse, []*btpm.Message) {
	s.mu.Lock()
	ok := s.handlerFor(r.ControlEventsHandlerID, r.ConnectionType, false)
	connected := s.connected[r.ConnectionType][r.RemoteDeviceAddress]
	if ok && connected {
		s.audio[r.ConnectionType][r.RemoteDeviceAddress] = true
	}
	s.mu.Unlock()

	if !ok {
		return &protocol.StatusResponse{Status: StatusInvalidHandler}, nil
	}
	if !connected {
		return &protocol.StatusResponse{Status: StatusNotConnected}, nil
	}
	return &protocol.StatusResponse{}, []*btpm.Message{
		s.notification(protocol.FunctionAudioConnected, &protocol.DeviceNotification{
			ConnectionType:      r.ConnectionType,
			RemoteDeviceAddress: r.RemoteDeviceAddress,
		}, nil),
		s.notification(protocol.FunctionAudioConnectionStatus, &protocol.AudioConnectionStatusNotification{
			ConnectionType:      r.ConnectionType,
			RemoteDeviceAddress: r.RemoteDeviceAddress,
			Successful:          true,
		}, nil),
	}
}

func (s *Server) receiveAudio(r protocol.SendAudioDataRequest, data []byte) *protocol.StatusResponse {
	if r.AudioDataLength == 0 || uint32(len(data)) < r.AudioDataLength {
		return &protocol.StatusResponse{Status: StatusInvalidRequest}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handlerFor(r.DataEventsHandlerID, r.ConnectionType, true) {
		return &protocol.StatusResponse{Status: StatusInvalidHandler}
	}
	s.audioSent = append(s.audioSent, append([]byte(nil), data[:r.AudioDataLength]...))
	return &protocol.StatusResponse{}
}

func (s *Server) scoConnectionHandle(r protocol.ControlDeviceRequest) *protocol.QuerySCOConnectionHandleResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.handlerFor(r.ControlEventsHandlerID, r.ConnectionType, false) {
		return &protocol.QuerySCOConnectionHandleResponse{Status: StatusInvalidHandler}
	}
	if !s.audio[r.ConnectionType][r.RemoteDeviceAddress] {
		return &protocol.QuerySCOConnectionHandleResponse{Status: StatusNotConnected}
	}
	return &protocol.QuerySCOConnectionHandleResponse{SCOHandle: s.scoHandle}
}

// ReceiveAudioData 模拟远端发来音频数据，投递给该角色的数据处理器
func (s *Server) ReceiveAudioData(role uint32, addr protocol.Address, flags uint32, data []byte) bool {
	s.mu.Lock()
	var handlerID uint32
	for id, info := range s.handlers {
		if info.data && info.role == role {
			handlerID = id
			break
		}
	}
	s.mu.Unlock()
	if handlerID == 0 {
		return false
	}

	s.send(s.notification(protocol.FunctionAudioDataReceived, &protocol.AudioDataReceivedNotification{
		ConnectionType:      role,
		RemoteDeviceAddress: addr,
		DataEventsHandlerID: handlerID,
		AudioDataFlags:      flags,
		AudioDataLength:     uint32(len(data)),
	}, data))
	return true
}

// Notify 发送任意通知
func (s *Server) Notify(function uint32, body any, trailing []byte) {
	s.send(s.notification(function, body, trailing))
}
