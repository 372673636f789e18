package btpm

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestMessage_Framing(t *testing.T) {
	msg := NewMessage(3, 42, 0x1007, 0x1002, []byte{0xAA, 0xBB, 0xCC})

	data, err := msg.Marshal()
	if err != nil {
		t.Fatalf("编码失败: %v", err)
	}
	if len(data) != MessageHeaderSize+3 {
		t.Fatalf("期望 %d 字节，实际 %d", MessageHeaderSize+3, len(data))
	}

	// 消息头为小端序的五个 uint32
	want := []uint32{3, 42, 0x1007, 0x1002, 3}
	for i, v := range want {
		if got := binary.LittleEndian.Uint32(data[i*4:]); got != v {
			t.Errorf("消息头第 %d 个字段期望 %#x，实际 %#x", i, v, got)
		}
	}

	decoded, err := UnmarshalMessage(data)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if decoded.Header != msg.Header || !bytes.Equal(decoded.Payload, msg.Payload) {
		t.Errorf("解码结果不一致: %+v", decoded)
	}
}

func TestMessage_ResponseFlag(t *testing.T) {
	req := NewMessage(1, 0xFFFFFFFF, 0x1007, 0x1004, nil)
	if req.Header.MessageID != MessageIDMask {
		t.Errorf("请求ID应去除响应位: %#x", req.Header.MessageID)
	}
	if req.IsResponse() {
		t.Error("请求不应被识别为响应")
	}

	resp := NewResponseMessage(req, []byte{1})
	if !resp.IsResponse() {
		t.Error("响应应带响应位")
	}
	if resp.ID() != req.ID() {
		t.Errorf("响应ID应与请求一致: %#x != %#x", resp.ID(), req.ID())
	}
	if resp.Header.MessageFunction != req.Header.MessageFunction {
		t.Error("响应功能码应与请求一致")
	}
}

func TestMessage_InvalidInput(t *testing.T) {
	t.Run("短于消息头", func(t *testing.T) {
		_, err := UnmarshalMessage(make([]byte, MessageHeaderSize-1))
		if !errors.Is(err, ErrMessageInvalid) {
			t.Errorf("期望消息格式无效，实际 %v", err)
		}
	})

	t.Run("载荷不完整", func(t *testing.T) {
		data, _ := NewMessage(1, 1, 1, 0x1001, []byte{1, 2, 3, 4}).Marshal()
		_, err := ReadMessage(bytes.NewReader(data[:len(data)-1]))
		if !errors.Is(err, io.ErrUnexpectedEOF) {
			t.Errorf("期望 ErrUnexpectedEOF，实际 %v", err)
		}
	})

	t.Run("超过长度上限", func(t *testing.T) {
		msg := NewMessage(1, 1, 1, 0x1001, make([]byte, MaximumMessageLength+1))
		if _, err := msg.Marshal(); !errors.Is(err, ErrMessageInvalid) {
			t.Errorf("期望消息格式无效，实际 %v", err)
		}

		header := make([]byte, MessageHeaderSize)
		binary.LittleEndian.PutUint32(header[16:], MaximumMessageLength+1)
		if _, err := ReadMessage(bytes.NewReader(header)); !errors.Is(err, ErrMessageInvalid) {
			t.Errorf("期望消息格式无效，实际 %v", err)
		}
	})
}

func TestClientRegistration(t *testing.T) {
	msg := NewClientRegistrationMessage(0x1007, 9, false)
	if msg.Header.MessageFunction != MessageFunctionClientRegistration {
		t.Errorf("功能码不正确: %#x", msg.Header.MessageFunction)
	}

	reg, err := DecodeClientRegistration(msg)
	if err != nil {
		t.Fatalf("解码失败: %v", err)
	}
	if reg.AddressID != 9 || reg.Registered {
		t.Errorf("注册通知内容不正确: %+v", reg)
	}

	msg.Payload = msg.Payload[:2]
	if _, err := DecodeClientRegistration(msg); !errors.Is(err, ErrMessageInvalid) {
		t.Errorf("过短的通知应返回消息格式无效，实际 %v", err)
	}
}
