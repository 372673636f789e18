package simulator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Anniext/hdsm/internal/protocol"
	"github.com/Anniext/hdsm/pkg/btpm"
)

var testAddr = protocol.Address{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

type recorder struct {
	mu       sync.Mutex
	messages []*btpm.Message
}

func (r *recorder) deliver(msg *btpm.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, msg)
}

func (r *recorder) functions() []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint32, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.Header.MessageFunction)
	}
	return out
}

func call(t *testing.T, s *Server, function uint32, body any, trailing []byte) *btpm.Message {
	t.Helper()
	req, err := protocol.NewRequest(1, 7, function, body, trailing)
	if err != nil {
		t.Fatalf("构造请求失败: %v", err)
	}
	resp, err := s.HandleRequest(req)
	if err != nil {
		t.Fatalf("处理请求失败: %v", err)
	}
	if !resp.IsResponse() || resp.ID() != req.ID() {
		t.Fatalf("响应头不匹配: %+v", resp.Header)
	}
	return resp
}

func statusOf(t *testing.T, msg *btpm.Message) int32 {
	t.Helper()
	var r protocol.StatusResponse
	if _, err := protocol.Decode(msg.Payload, &r); err != nil {
		t.Fatalf("解码状态失败: %v", err)
	}
	return r.Status
}

func registerControl(t *testing.T, s *Server, role uint32) uint32 {
	t.Helper()
	resp := call(t, s, protocol.FunctionRegisterHeadsetEvents, &protocol.RegisterEventsRequest{ConnectionType: role, ControlHandler: true}, nil)
	var r protocol.RegisterHandlerResponse
	if _, err := protocol.Decode(resp.Payload, &r); err != nil || r.Status != 0 || r.HandlerID == 0 {
		t.Fatalf("注册控制处理器失败: %+v, %v", r, err)
	}
	return r.HandlerID
}

func TestServerRegistration(t *testing.T) {
	s := NewServer(1, nil)

	id := registerControl(t, s, RoleHeadset)
	if s.HandlerCount() != 1 {
		t.Errorf("期望1个处理器，实际 %d", s.HandlerCount())
	}

	resp := call(t, s, protocol.FunctionUnregisterHeadsetEvents, &protocol.HandlerRequest{HandlerID: id}, nil)
	if st := statusOf(t, resp); st != 0 {
		t.Errorf("注销应成功，状态 %d", st)
	}
	resp = call(t, s, protocol.FunctionUnregisterHeadsetEvents, &protocol.HandlerRequest{HandlerID: id}, nil)
	if st := statusOf(t, resp); st != StatusInvalidHandler {
		t.Errorf("重复注销应返回 %d，实际 %d", StatusInvalidHandler, st)
	}

	resp = call(t, s, protocol.FunctionRegisterHeadsetEvents, &protocol.RegisterEventsRequest{ConnectionType: 7}, nil)
	if st := statusOf(t, resp); st != StatusInvalidRequest {
		t.Errorf("未知角色应被拒绝，状态 %d", st)
	}
}

func TestServerConnectCompletes(t *testing.T) {
	s := NewServer(1, nil)
	rec := &recorder{}
	s.Attach(rec.deliver)
	s.SetConnectBehavior(0, time.Millisecond)

	resp := call(t, s, protocol.FunctionConnectRemoteDevice, &protocol.ConnectRemoteDeviceRequest{
		ConnectionType:      RoleAudioGateway,
		RemoteServerPort:    3,
		RemoteDeviceAddress: testAddr,
	}, nil)
	if st := statusOf(t, resp); st != 0 {
		t.Fatalf("连接请求应被接受，状态 %d", st)
	}

	deadline := time.Now().Add(time.Second)
	for len(rec.functions()) < 2 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	got := rec.functions()
	if len(got) != 2 || got[0] != protocol.FunctionDeviceConnectionStatus || got[1] != protocol.FunctionDeviceConnected {
		t.Fatalf("通知顺序不正确: %v", got)
	}

	resp = call(t, s, protocol.FunctionQueryConnectedDevices, &protocol.ConnectionTypeRequest{ConnectionType: RoleAudioGateway}, nil)
	_, addrs, err := protocol.DecodeConnectedDevices(resp.Payload)
	if err != nil {
		t.Fatalf("解码设备列表失败: %v", err)
	}
	if len(addrs) != 1 || addrs[0] != testAddr {
		t.Errorf("已连接设备不正确: %v", addrs)
	}
}

func TestServerHoldConnections(t *testing.T) {
	s := NewServer(1, nil)
	rec := &recorder{}
	s.Attach(rec.deliver)
	s.HoldConnections()

	call(t, s, protocol.FunctionConnectRemoteDevice, &protocol.ConnectRemoteDeviceRequest{
		ConnectionType:      RoleHeadset,
		RemoteDeviceAddress: testAddr,
	}, nil)
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.functions()); n != 0 {
		t.Fatalf("挂起模式下不应发送通知，实际 %d 条", n)
	}

	s.CompleteConnection(RoleHeadset, testAddr, 2)
	got := rec.functions()
	if len(got) != 1 || got[0] != protocol.FunctionDeviceConnectionStatus {
		t.Errorf("失败结果只应发送状态通知: %v", got)
	}
}

func TestServerPower(t *testing.T) {
	s := NewServer(1, nil)
	ctx := context.Background()

	if on, err := s.QueryDevicePowerState(ctx); err != nil || !on {
		t.Fatalf("默认应为上电: %v %v", on, err)
	}

	var changes []bool
	s.WatchPower(func(on bool) { changes = append(changes, on) })
	s.CompleteConnection(RoleHeadset, testAddr, 0)

	s.SetPowered(false)
	s.SetPowered(false)
	if len(changes) != 1 || changes[0] {
		t.Fatalf("断电应只通知一次: %v", changes)
	}
	if on, _ := s.QueryDevicePowerState(ctx); on {
		t.Error("断电后查询应返回未上电")
	}

	resp := call(t, s, protocol.FunctionConnectRemoteDevice, &protocol.ConnectRemoteDeviceRequest{
		ConnectionType:      RoleHeadset,
		RemoteDeviceAddress: testAddr,
	}, nil)
	if st := statusOf(t, resp); st != StatusNotConnected {
		t.Errorf("断电期间连接应被拒绝，状态 %d", st)
	}
	s.mu.Lock()
	connected := len(s.connected[RoleHeadset])
	s.mu.Unlock()
	if connected != 0 {
		t.Errorf("断电应断开所有连接，剩余 %d", connected)
	}

	s.SetPowered(true)
	if len(changes) != 2 || !changes[1] {
		t.Errorf("上电应通知观察者: %v", changes)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.QueryDevicePowerState(canceled); err == nil {
		t.Error("ctx 取消时应返回错误")
	}
}

func TestServerFaultInjection(t *testing.T) {
	s := NewServer(1, nil)

	s.FailFunction(protocol.FunctionQueryCurrentConfiguration, -42)
	resp := call(t, s, protocol.FunctionQueryCurrentConfiguration, &protocol.ConnectionTypeRequest{}, nil)
	var cfg protocol.QueryCurrentConfigurationResponse
	if _, err := protocol.Decode(resp.Payload, &cfg); err != nil {
		t.Fatalf("故障响应应能按原类型解码: %v", err)
	}
	if cfg.Status != -42 {
		t.Errorf("期望状态 -42，实际 %d", cfg.Status)
	}

	s.TruncateResponse(protocol.FunctionQueryCurrentConfiguration)
	resp = call(t, s, protocol.FunctionQueryCurrentConfiguration, &protocol.ConnectionTypeRequest{}, nil)
	if len(resp.Payload) != 0 {
		t.Errorf("截断响应载荷应为空，实际 %d 字节", len(resp.Payload))
	}

	s.ClearFaults()
	resp = call(t, s, protocol.FunctionQueryCurrentConfiguration, &protocol.ConnectionTypeRequest{}, nil)
	if st := statusOf(t, resp); st != 0 {
		t.Errorf("清除故障后应成功，状态 %d", st)
	}
	if n := s.CountRequests(protocol.FunctionQueryCurrentConfiguration); n != 3 {
		t.Errorf("期望记录3次请求，实际 %d", n)
	}
}

func TestServerAudio(t *testing.T) {
	s := NewServer(1, nil)
	rec := &recorder{}
	s.Attach(rec.deliver)

	control := registerControl(t, s, RoleAudioGateway)
	req := &protocol.SetupAudioConnectionRequest{
		ControlEventsHandlerID: control,
		ConnectionType:         RoleAudioGateway,
		RemoteDeviceAddress:    testAddr,
	}
	if st := statusOf(t, call(t, s, protocol.FunctionSetupAudioConnection, req, nil)); st != StatusNotConnected {
		t.Errorf("未连接时建立音频应失败，状态 %d", st)
	}

	s.CompleteConnection(RoleAudioGateway, testAddr, 0)
	if st := statusOf(t, call(t, s, protocol.FunctionSetupAudioConnection, req, nil)); st != 0 {
		t.Fatalf("建立音频应成功，状态 %d", st)
	}

	resp := call(t, s, protocol.FunctionQuerySCOConnectionHandle, &protocol.ControlDeviceRequest{
		ControlEventsHandlerID: control,
		ConnectionType:         RoleAudioGateway,
		RemoteDeviceAddress:    testAddr,
	}, nil)
	var sco protocol.QuerySCOConnectionHandleResponse
	if _, err := protocol.Decode(resp.Payload, &sco); err != nil || sco.Status != 0 || sco.SCOHandle == 0 {
		t.Errorf("SCO 句柄查询失败: %+v, %v", sco, err)
	}

	dataResp := call(t, s, protocol.FunctionRegisterHeadsetData, &protocol.ConnectionTypeRequest{ConnectionType: RoleAudioGateway}, nil)
	var data protocol.RegisterHandlerResponse
	if _, err := protocol.Decode(dataResp.Payload, &data); err != nil || data.HandlerID == 0 {
		t.Fatalf("注册数据处理器失败: %+v, %v", data, err)
	}
	samples := []byte{1, 2, 3, 4}
	st := statusOf(t, call(t, s, protocol.FunctionSendAudioData, &protocol.SendAudioDataRequest{
		DataEventsHandlerID: data.HandlerID,
		ConnectionType:      RoleAudioGateway,
		RemoteDeviceAddress: testAddr,
		AudioDataLength:     uint32(len(samples)),
	}, samples))
	if st != 0 {
		t.Fatalf("发送音频应成功，状态 %d", st)
	}
	if sent := s.AudioSent(); len(sent) != 1 || string(sent[0]) != string(samples) {
		t.Errorf("记录的音频数据不正确: %v", sent)
	}

	if !s.ReceiveAudioData(RoleAudioGateway, testAddr, 0, samples) {
		t.Fatal("存在数据处理器时应投递音频")
	}
	if s.ReceiveAudioData(RoleHeadset, testAddr, 0, samples) {
		t.Error("耳机角色没有数据处理器，不应投递")
	}
}

func TestPairDeliversToGroupHandler(t *testing.T) {
	s, channel := Pair(1, nil)

	received := make(chan uint32, 4)
	if err := channel.RegisterGroupHandler(protocol.GroupHeadsetManager, func(msg *btpm.Message) {
		received <- msg.Header.MessageFunction
	}); err != nil {
		t.Fatalf("注册消息组失败: %v", err)
	}

	s.RemoteConnectionRequest(RoleHeadset, testAddr)
	select {
	case f := <-received:
		if f != protocol.FunctionConnectionRequest {
			t.Errorf("期望连接请求通知，实际 %#x", f)
		}
	case <-time.After(time.Second):
		t.Fatal("未收到通知")
	}
}
