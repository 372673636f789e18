package protocol

import (
	"bytes"
	"errors"
	"testing"

	"github.com/Anniext/hdsm/pkg/btpm"
)

var addrA = Address{0x00, 0x1A, 0x7D, 0xDA, 0x71, 0x13}
var addrB = Address{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}

func TestEncodeLayout(t *testing.T) {
	payload, err := Encode(&DeviceConnectionStatusNotification{
		ConnectionType:      1,
		RemoteDeviceAddress: addrA,
		ConnectionStatus:    4,
	}, []byte{0x99})
	if err != nil {
		t.Fatalf("编码失败: %v", err)
	}

	want := []byte{
		0x01, 0x00, 0x00, 0x00,
		0x00, 0x1A, 0x7D, 0xDA, 0x71, 0x13,
		0x04, 0x00, 0x00, 0x00,
		0x99,
	}
	if !bytes.Equal(payload, want) {
		t.Errorf("载荷布局不正确:\n期望 %x\n实际 %x", want, payload)
	}

	if _, err := Encode(map[string]int{}, nil); !errors.Is(err, btpm.ErrMessageInvalid) {
		t.Errorf("非定长类型应返回消息格式无效，实际 %v", err)
	}
}

func TestDecodeMinimumLength(t *testing.T) {
	full, _ := Encode(&GainIndicationNotification{ConnectionType: 0, RemoteDeviceAddress: addrB, Gain: 7}, []byte{1, 2})

	var n GainIndicationNotification
	rest, err := Decode(full, &n)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if n.Gain != 7 || n.RemoteDeviceAddress != addrB {
		t.Errorf("解码内容不正确: %+v", n)
	}
	if !bytes.Equal(rest, []byte{1, 2}) {
		t.Errorf("尾部字节不正确: %x", rest)
	}

	for size := 0; size < len(full)-2; size++ {
		if _, err := Decode(full[:size], &n); !errors.Is(err, btpm.ErrMessageInvalid) {
			t.Fatalf("长度 %d 应被拒绝，实际 %v", size, err)
		}
	}
}

func TestDecodeConnectedDevices(t *testing.T) {
	t.Run("完整列表", func(t *testing.T) {
		payload, _ := Encode(&QueryConnectedDevicesResponse{NumberDevicesConnected: 2},
			EncodeAddresses([]Address{addrA, addrB}))
		_, addrs, err := DecodeConnectedDevices(payload)
		if err != nil {
			t.Fatalf("解码失败: %v", err)
		}
		if len(addrs) != 2 || addrs[0] != addrA || addrs[1] != addrB {
			t.Errorf("设备列表不正确: %v", addrs)
		}
	})

	t.Run("列表被截断", func(t *testing.T) {
		payload, _ := Encode(&QueryConnectedDevicesResponse{NumberDevicesConnected: 2},
			EncodeAddresses([]Address{addrA}))
		if _, _, err := DecodeConnectedDevices(payload); !errors.Is(err, btpm.ErrMessageInvalid) {
			t.Errorf("期望消息格式无效，实际 %v", err)
		}
	})

	t.Run("错误状态不解析列表", func(t *testing.T) {
		payload, _ := Encode(&QueryConnectedDevicesResponse{Status: -6, NumberDevicesConnected: 5}, nil)
		resp, addrs, err := DecodeConnectedDevices(payload)
		if err != nil || addrs != nil || resp.Status != -6 {
			t.Errorf("错误状态应原样返回: %+v %v %v", resp, addrs, err)
		}
	})
}

func TestDecodeAudioData(t *testing.T) {
	header := AudioDataReceivedNotification{
		ConnectionType:      1,
		RemoteDeviceAddress: addrA,
		DataEventsHandlerID: 3,
		AudioDataLength:     3,
	}

	t.Run("多余的尾部被忽略", func(t *testing.T) {
		payload, _ := Encode(&header, []byte{1, 2, 3, 4})
		n, data, err := DecodeAudioData(payload)
		if err != nil {
			t.Fatalf("解码失败: %v", err)
		}
		if n.DataEventsHandlerID != 3 || !bytes.Equal(data, []byte{1, 2, 3}) {
			t.Errorf("音频数据不正确: %+v %x", n, data)
		}
	})

	t.Run("数据不足", func(t *testing.T) {
		payload, _ := Encode(&header, []byte{1, 2})
		if _, _, err := DecodeAudioData(payload); !errors.Is(err, btpm.ErrMessageInvalid) {
			t.Errorf("期望消息格式无效，实际 %v", err)
		}
	})

	t.Run("零长度", func(t *testing.T) {
		empty := header
		empty.AudioDataLength = 0
		payload, _ := Encode(&empty, nil)
		if _, _, err := DecodeAudioData(payload); !errors.Is(err, btpm.ErrMessageInvalid) {
			t.Errorf("期望消息格式无效，实际 %v", err)
		}
	})
}

func TestMessageConstructors(t *testing.T) {
	req, err := NewRequest(1, 5, FunctionSetSpeakerGain, &SetGainRequest{Gain: 3}, nil)
	if err != nil {
		t.Fatalf("构造请求失败: %v", err)
	}
	if req.Header.MessageGroup != GroupHeadsetManager || req.IsResponse() {
		t.Errorf("请求消息头不正确: %+v", req.Header)
	}

	resp, err := NewResponse(req, &StatusResponse{}, nil)
	if err != nil {
		t.Fatalf("构造响应失败: %v", err)
	}
	if !resp.IsResponse() || resp.ID() != req.ID() {
		t.Errorf("响应消息头不正确: %+v", resp.Header)
	}

	n, _ := NewNotification(1, FunctionRingIndicationIndication, &AddressNotification{RemoteDeviceAddress: addrA}, nil)
	if !IsNotification(n.Header.MessageFunction) || IsNotification(FunctionConnectRemoteDevice) {
		t.Error("通知功能码判断不正确")
	}
	if FunctionName(FunctionAudioDataReceived) != "audio_data_received" || FunctionName(0xDEAD) != "unknown" {
		t.Error("功能码名称不正确")
	}
}
