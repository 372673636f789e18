package hdsm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Anniext/hdsm/internal/protocol"
	"github.com/Anniext/hdsm/pkg/btpm"
)

// serverProxy 将每个操作编码为请求，经消息通道发送并解码响应
type serverProxy struct {
	channel     btpm.Channel
	timeout     time.Duration
	logs        *btpm.LogManager
	initialized atomic.Bool
}

func newServerProxy(channel btpm.Channel, timeout time.Duration, logs *btpm.LogManager) *serverProxy {
	return &serverProxy{channel: channel, timeout: timeout, logs: logs}
}

func (p *serverProxy) initialize() {
	p.initialized.Store(true)
}

func (p *serverProxy) cleanup() {
	p.initialized.Store(false)
}

// call 发送请求并返回响应载荷
func (p *serverProxy) call(ctx context.Context, function uint32, body any, trailing []byte) ([]byte, error) {
	if !p.initialized.Load() {
		return nil, btpm.ErrNotInitialized
	}

	req, err := protocol.NewRequest(p.channel.ServerAddressID(), p.channel.NextMessageID(), function, body, trailing)
	if err != nil {
		return nil, err
	}
	resp, err := p.channel.SendMessageResponse(ctx, req, p.timeout)
	if err != nil {
		p.logs.LogDebug(componentProxy, "请求发送失败", "function", protocol.FunctionName(function), "error", err)
		return nil, err
	}
	return resp.Payload, nil
}

// decode 解码响应定长部分，长度不足时返回 ErrCodeResponseMessageInvalid
func (p *serverProxy) decode(function uint32, payload []byte, out any) ([]byte, error) {
	rest, err := protocol.Decode(payload, out)
	if err != nil {
		return nil, btpm.WrapError(err, btpm.ErrCodeResponseMessageInvalid, "响应消息无效", protocol.FunctionName(function))
	}
	return rest, nil
}

// callStatus 发送只需要状态响应的请求
func (p *serverProxy) callStatus(ctx context.Context, function uint32, body any, trailing []byte) error {
	payload, err := p.call(ctx, function, body, trailing)
	if err != nil {
		return err
	}
	var resp protocol.StatusResponse
	if _, err := p.decode(function, payload, &resp); err != nil {
		return err
	}
	return btpm.StatusError(resp.Status, protocol.FunctionName(function))
}

func (p *serverProxy) connectionRequestResponse(ctx context.Context, ct ConnectionType, addr BDAddr, accept bool) error {
	return p.callStatus(ctx, protocol.FunctionConnectionRequestResponse, &protocol.ConnectionRequestResponseRequest{
		ConnectionType:      uint32(ct),
		RemoteDeviceAddress: protocol.Address(addr),
		Accept:              accept,
	}, nil)
}

func (p *serverProxy) connectRemoteDevice(ctx context.Context, ct ConnectionType, addr BDAddr, port uint32, flags ConnectFlags) error {
	return p.callStatus(ctx, protocol.FunctionConnectRemoteDevice, &protocol.ConnectRemoteDeviceRequest{
		ConnectionType:      uint32(ct),
		RemoteServerPort:    port,
		RemoteDeviceAddress: protocol.Address(addr),
		ConnectionFlags:     uint32(flags),
	}, nil)
}

func (p *serverProxy) disconnectDevice(ctx context.Context, ct ConnectionType, addr BDAddr) error {
	return p.callStatus(ctx, protocol.FunctionDisconnectDevice, &protocol.DeviceRequest{
		ConnectionType:      uint32(ct),
		RemoteDeviceAddress: protocol.Address(addr),
	}, nil)
}

func (p *serverProxy) queryConnectedDevices(ctx context.Context, ct ConnectionType) ([]BDAddr, error) {
	const function = protocol.FunctionQueryConnectedDevices
	payload, err := p.call(ctx, function, &protocol.ConnectionTypeRequest{ConnectionType: uint32(ct)}, nil)
	if err != nil {
		return nil, err
	}
	resp, addrs, err := protocol.DecodeConnectedDevices(payload)
	if err != nil {
		return nil, btpm.WrapError(err, btpm.ErrCodeResponseMessageInvalid, "响应消息无效", protocol.FunctionName(function))
	}
	if err := btpm.StatusError(resp.Status, protocol.FunctionName(function)); err != nil {
		return nil, err
	}

	devices := make([]BDAddr, len(addrs))
	for i, a := range addrs {
		devices[i] = BDAddr(a)
	}
	return devices, nil
}

func (p *serverProxy) queryCurrentConfiguration(ctx context.Context, ct ConnectionType) (*CurrentConfiguration, error) {
	const function = protocol.FunctionQueryCurrentConfiguration
	payload, err := p.call(ctx, function, &protocol.ConnectionTypeRequest{ConnectionType: uint32(ct)}, nil)
	if err != nil {
		return nil, err
	}
	var resp protocol.QueryCurrentConfigurationResponse
	if _, err := p.decode(function, payload, &resp); err != nil {
		return nil, err
	}
	if err := btpm.StatusError(resp.Status, protocol.FunctionName(function)); err != nil {
		return nil, err
	}
	return &CurrentConfiguration{
		IncomingConnectionFlags: IncomingConnectionFlags(resp.IncomingConnectionFlags),
		SupportedFeaturesMask:   resp.SupportedFeaturesMask,
	}, nil
}

func (p *serverProxy) changeIncomingConnectionFlags(ctx context.Context, ct ConnectionType, flags IncomingConnectionFlags) error {
	return p.callStatus(ctx, protocol.FunctionChangeIncomingConnectionFlags, &protocol.ChangeIncomingConnectionFlagsRequest{
		ConnectionType:  uint32(ct),
		ConnectionFlags: uint32(flags),
	}, nil)
}

func (p *serverProxy) setGain(ctx context.Context, function, serverID uint32, ct ConnectionType, addr BDAddr, gain uint32) error {
	return p.callStatus(ctx, function, &protocol.SetGainRequest{
		ControlEventsHandlerID: serverID,
		ConnectionType:         uint32(ct),
		RemoteDeviceAddress:    protocol.Address(addr),
		Gain:                   gain,
	}, nil)
}

// controlDevice 发送按键、振铃、释放音频等只携带句柄与地址的请求
func (p *serverProxy) controlDevice(ctx context.Context, function, serverID uint32, ct ConnectionType, addr BDAddr) error {
	return p.callStatus(ctx, function, &protocol.ControlDeviceRequest{
		ControlEventsHandlerID: serverID,
		ConnectionType:         uint32(ct),
		RemoteDeviceAddress:    protocol.Address(addr),
	}, nil)
}

func (p *serverProxy) setupAudioConnection(ctx context.Context, serverID uint32, ct ConnectionType, addr BDAddr, inBandRinging bool) error {
	return p.callStatus(ctx, protocol.FunctionSetupAudioConnection, &protocol.SetupAudioConnectionRequest{
		ControlEventsHandlerID: serverID,
		ConnectionType:         uint32(ct),
		RemoteDeviceAddress:    protocol.Address(addr),
		InBandRinging:          inBandRinging,
	}, nil)
}

func (p *serverProxy) sendAudioData(ctx context.Context, serverID uint32, ct ConnectionType, addr BDAddr, data []byte) error {
	return p.callStatus(ctx, protocol.FunctionSendAudioData, &protocol.SendAudioDataRequest{
		DataEventsHandlerID: serverID,
		ConnectionType:      uint32(ct),
		RemoteDeviceAddress: protocol.Address(addr),
		AudioDataLength:     uint32(len(data)),
	}, data)
}

func (p *serverProxy) querySCOConnectionHandle(ctx context.Context, serverID uint32, ct ConnectionType, addr BDAddr) (uint16, error) {
	const function = protocol.FunctionQuerySCOConnectionHandle
	payload, err := p.call(ctx, function, &protocol.ControlDeviceRequest{
		ControlEventsHandlerID: serverID,
		ConnectionType:         uint32(ct),
		RemoteDeviceAddress:    protocol.Address(addr),
	}, nil)
	if err != nil {
		return 0, err
	}
	var resp protocol.QuerySCOConnectionHandleResponse
	if _, err := p.decode(function, payload, &resp); err != nil {
		return 0, err
	}
	if err := btpm.StatusError(resp.Status, protocol.FunctionName(function)); err != nil {
		return 0, err
	}
	return resp.SCOHandle, nil
}

// registerHandler 注册事件或数据处理器，返回服务端处理器ID
func (p *serverProxy) registerHandler(ctx context.Context, function uint32, body any) (uint32, error) {
	payload, err := p.call(ctx, function, body, nil)
	if err != nil {
		return 0, err
	}
	var resp protocol.RegisterHandlerResponse
	if _, err := p.decode(function, payload, &resp); err != nil {
		return 0, err
	}
	if err := btpm.StatusError(resp.Status, protocol.FunctionName(function)); err != nil {
		return 0, err
	}
	if resp.HandlerID == 0 {
		return 0, btpm.NewPlatformErrorWithDevice(btpm.ErrCodeResponseMessageInvalid,
			"服务端返回的处理器ID为0", "", protocol.FunctionName(function))
	}
	return resp.HandlerID, nil
}

func (p *serverProxy) registerEvents(ctx context.Context, ct ConnectionType, control bool) (uint32, error) {
	return p.registerHandler(ctx, protocol.FunctionRegisterHeadsetEvents, &protocol.RegisterEventsRequest{
		ConnectionType: uint32(ct),
		ControlHandler: control,
	})
}

func (p *serverProxy) unregisterEvents(ctx context.Context, serverID uint32) error {
	return p.callStatus(ctx, protocol.FunctionUnregisterHeadsetEvents, &protocol.HandlerRequest{HandlerID: serverID}, nil)
}

func (p *serverProxy) registerDataEvents(ctx context.Context, ct ConnectionType) (uint32, error) {
	return p.registerHandler(ctx, protocol.FunctionRegisterHeadsetData, &protocol.ConnectionTypeRequest{
		ConnectionType: uint32(ct),
	})
}

func (p *serverProxy) unregisterDataEvents(ctx context.Context, serverID uint32) error {
	return p.callStatus(ctx, protocol.FunctionUnregisterHeadsetData, &protocol.HandlerRequest{HandlerID: serverID}, nil)
}
