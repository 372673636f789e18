package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Anniext/hdsm/pkg/btpm"
)

// RequestHandler 进程内服务端的请求处理函数
type RequestHandler func(req *btpm.Message) (*btpm.Message, error)

// Loopback 进程内消息通道，请求直接交给 RequestHandler，通知通过 Deliver 注入
type Loopback struct {
	handler   RequestHandler
	addressID uint32
	messageID atomic.Uint32

	mu     sync.RWMutex
	groups map[uint32]btpm.GroupHandler
}

// NewLoopback 创建进程内通道
func NewLoopback(addressID uint32, handler RequestHandler) *Loopback {
	return &Loopback{
		handler:   handler,
		addressID: addressID,
		groups:    make(map[uint32]btpm.GroupHandler),
	}
}

// SendMessageResponse 调用请求处理函数并等待响应
func (l *Loopback) SendMessageResponse(ctx context.Context, req *btpm.Message, timeout time.Duration) (*btpm.Message, error) {
	if l.handler == nil {
		return nil, btpm.ErrChannelClosed
	}

	type result struct {
		resp *btpm.Message
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := l.handler(req)
		done <- result{resp, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, btpm.WrapError(r.err, btpm.ErrCodeSendFailed, "请求处理失败", "send")
		}
		if r.resp == nil || r.resp.ID() != req.ID() {
			return nil, btpm.ErrResponseMessageInvalid
		}
		return r.resp, nil
	case <-timer.C:
		return nil, btpm.ErrMessageResponseTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// RegisterGroupHandler 订阅消息组
func (l *Loopback) RegisterGroupHandler(group uint32, handler btpm.GroupHandler) error {
	if handler == nil {
		return btpm.ErrInvalidParameter
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.groups[group]; exists {
		return btpm.ErrUnableToRegisterHandler
	}
	l.groups[group] = handler
	return nil
}

// UnregisterGroupHandler 取消订阅
func (l *Loopback) UnregisterGroupHandler(group uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.groups, group)
}

// ServerAddressID 服务端地址ID
func (l *Loopback) ServerAddressID() uint32 {
	return l.addressID
}

// NextMessageID 分配下一个消息ID，跳过 0
func (l *Loopback) NextMessageID() uint32 {
	for {
		if id := l.messageID.Add(1) & btpm.MessageIDMask; id != 0 {
			return id
		}
	}
}

// Deliver 将通知交给对应消息组的处理器，在调用方协程上执行
func (l *Loopback) Deliver(msg *btpm.Message) {
	l.mu.RLock()
	handler, ok := l.groups[msg.Header.MessageGroup]
	l.mu.RUnlock()
	if ok {
		handler(msg)
	}
}

// DisconnectServer 模拟服务端断开，向每个消息组发送注销通知
func (l *Loopback) DisconnectServer() {
	l.mu.RLock()
	handlers := make(map[uint32]btpm.GroupHandler, len(l.groups))
	for group, h := range l.groups {
		handlers[group] = h
	}
	l.mu.RUnlock()

	for group, h := range handlers {
		h(btpm.NewClientRegistrationMessage(group, l.addressID, false))
	}
}

// HasGroupHandler 判断消息组是否已有处理器
func (l *Loopback) HasGroupHandler(group uint32) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.groups[group]
	return ok
}
