package btpm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MessageHeader 消息头，所有字段均以小端序编码
type MessageHeader struct {
	AddressID       uint32 `json:"address_id"`       // 目标地址ID
	MessageID       uint32 `json:"message_id"`       // 消息ID，响应时置位 MessageResponseMask
	MessageGroup    uint32 `json:"message_group"`    // 消息组
	MessageFunction uint32 `json:"message_function"` // 功能码
	MessageLength   uint32 `json:"message_length"`   // 载荷长度，不含消息头
}

// Message 平台消息：消息头加定长结构载荷
type Message struct {
	Header  MessageHeader `json:"header"`  // 消息头
	Payload []byte        `json:"payload"` // 载荷
}

// NewMessage 创建消息，MessageLength 由载荷长度决定
func NewMessage(addressID, messageID, group, function uint32, payload []byte) *Message {
	return &Message{
		Header: MessageHeader{
			AddressID:       addressID,
			MessageID:       messageID & MessageIDMask,
			MessageGroup:    group,
			MessageFunction: function,
			MessageLength:   uint32(len(payload)),
		},
		Payload: payload,
	}
}

// NewResponseMessage 为请求创建对应的响应消息
func NewResponseMessage(req *Message, payload []byte) *Message {
	resp := NewMessage(req.Header.AddressID, req.Header.MessageID, req.Header.MessageGroup,
		req.Header.MessageFunction, payload)
	resp.Header.MessageID |= MessageResponseMask
	return resp
}

// IsResponse 判断是否为响应消息
func (m *Message) IsResponse() bool {
	return m.Header.MessageID&MessageResponseMask != 0
}

// ID 返回去除响应标志后的消息ID
func (m *Message) ID() uint32 {
	return m.Header.MessageID & MessageIDMask
}

// Marshal 编码为字节流
func (m *Message) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo 将消息头和载荷写入 w
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	if len(m.Payload) > MaximumMessageLength {
		return 0, NewPlatformError(ErrCodeMessageInvalid,
			fmt.Sprintf("消息载荷大小 %d 超过上限 %d", len(m.Payload), MaximumMessageLength))
	}
	header := m.Header
	header.MessageLength = uint32(len(m.Payload))

	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return 0, WrapError(err, ErrCodeSendFailed, "写入消息头失败", "write")
	}
	n, err := w.Write(m.Payload)
	if err != nil {
		return int64(MessageHeaderSize + n), WrapError(err, ErrCodeSendFailed, "写入消息载荷失败", "write")
	}
	return int64(MessageHeaderSize + n), nil
}

// ReadMessage 从流中读取一条完整消息
func ReadMessage(r io.Reader) (*Message, error) {
	var header MessageHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, err
	}
	if header.MessageLength > MaximumMessageLength {
		return nil, NewPlatformError(ErrCodeMessageInvalid,
			fmt.Sprintf("消息长度 %d 超过上限 %d", header.MessageLength, MaximumMessageLength))
	}

	payload := make([]byte, header.MessageLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return &Message{Header: header, Payload: payload}, nil
}

// UnmarshalMessage 从完整字节缓冲解码消息
func UnmarshalMessage(data []byte) (*Message, error) {
	if len(data) < MessageHeaderSize {
		return nil, NewPlatformError(ErrCodeMessageInvalid,
			fmt.Sprintf("消息长度 %d 小于消息头长度", len(data)))
	}
	msg, err := ReadMessage(bytes.NewReader(data))
	if err != nil {
		return nil, WrapError(err, ErrCodeMessageInvalid, "消息解码失败", "unmarshal")
	}
	return msg, nil
}

// ClientRegistration 客户端注册状态通知载荷
type ClientRegistration struct {
	AddressID  uint32 // 客户端地址ID
	Registered bool   // false 表示服务端已注销该客户端
}

// ClientRegistrationSize 客户端注册通知载荷长度
var ClientRegistrationSize = binary.Size(ClientRegistration{})

// NewClientRegistrationMessage 创建发往指定消息组的客户端注册通知
func NewClientRegistrationMessage(group, addressID uint32, registered bool) *Message {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, ClientRegistration{AddressID: addressID, Registered: registered})
	return NewMessage(addressID, 0, group, MessageFunctionClientRegistration, buf.Bytes())
}

// DecodeClientRegistration 解码客户端注册通知
func DecodeClientRegistration(msg *Message) (ClientRegistration, error) {
	var reg ClientRegistration
	if len(msg.Payload) < ClientRegistrationSize {
		return reg, NewPlatformError(ErrCodeMessageInvalid,
			fmt.Sprintf("客户端注册通知长度 %d 小于 %d", len(msg.Payload), ClientRegistrationSize))
	}
	if err := binary.Read(bytes.NewReader(msg.Payload), binary.LittleEndian, &reg); err != nil {
		return reg, WrapError(err, ErrCodeMessageInvalid, "客户端注册通知解码失败", "decode")
	}
	return reg, nil
}
