package btpm

import (
	"context"
	"time"
)

// GroupHandler 消息组处理器，在传输层线程上被调用
type GroupHandler func(msg *Message)

// Channel 与平台管理器服务端之间的消息通道
type Channel interface {
	// SendMessageResponse 发送请求并等待 MessageID 相同的响应
	SendMessageResponse(ctx context.Context, req *Message, timeout time.Duration) (*Message, error)
	// RegisterGroupHandler 订阅某个消息组的入站消息
	RegisterGroupHandler(group uint32, handler GroupHandler) error
	// UnregisterGroupHandler 取消订阅
	UnregisterGroupHandler(group uint32)
	// ServerAddressID 服务端地址ID
	ServerAddressID() uint32
	// NextMessageID 分配下一个请求消息ID
	NextMessageID() uint32
}
