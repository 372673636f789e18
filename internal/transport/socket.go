package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Anniext/hdsm/pkg/btpm"
)

const componentSocket = "transport.socket"

// SocketChannel 基于流式连接的消息通道。消息以消息头中的长度分帧，
// 响应按 MessageID 与挂起的请求匹配，其余消息按消息组交给处理器。
type SocketChannel struct {
	conn      net.Conn
	addressID uint32
	messageID atomic.Uint32
	logs      *btpm.LogManager

	pending *xsync.MapOf[uint32, chan *btpm.Message]
	groups  *xsync.MapOf[uint32, btpm.GroupHandler]

	writeMu sync.Mutex
	closing atomic.Bool
	done    chan struct{}
}

// DialSocket 连接服务端，network 为 "unix" 或 "tcp"
func DialSocket(ctx context.Context, network, address string, addressID uint32, logs *btpm.LogManager) (*SocketChannel, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, btpm.WrapError(err, btpm.ErrCodeSendFailed, "无法连接服务端 "+address, "dial")
	}
	return NewSocketChannel(conn, addressID, logs), nil
}

// NewSocketChannel 在已建立的连接上创建通道并启动读协程
func NewSocketChannel(conn net.Conn, addressID uint32, logs *btpm.LogManager) *SocketChannel {
	if logs == nil {
		logs = btpm.NewLogManager(nil)
	}
	s := &SocketChannel{
		conn:      conn,
		addressID: addressID,
		logs:      logs,
		pending:   xsync.NewMapOf[uint32, chan *btpm.Message](),
		groups:    xsync.NewMapOf[uint32, btpm.GroupHandler](),
		done:      make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// SendMessageResponse 写出请求并等待匹配的响应
func (s *SocketChannel) SendMessageResponse(ctx context.Context, req *btpm.Message, timeout time.Duration) (*btpm.Message, error) {
	select {
	case <-s.done:
		return nil, btpm.ErrChannelClosed
	default:
	}

	id := req.ID()
	wait := make(chan *btpm.Message, 1)
	if _, loaded := s.pending.LoadOrStore(id, wait); loaded {
		return nil, btpm.NewPlatformError(btpm.ErrCodeSendFailed, "消息ID重复")
	}
	defer s.pending.Delete(id)

	s.writeMu.Lock()
	_, err := req.WriteTo(s.conn)
	s.writeMu.Unlock()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-wait:
		return resp, nil
	case <-timer.C:
		return nil, btpm.ErrMessageResponseTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, btpm.ErrChannelClosed
	}
}

// RegisterGroupHandler 订阅消息组
func (s *SocketChannel) RegisterGroupHandler(group uint32, handler btpm.GroupHandler) error {
	if handler == nil {
		return btpm.ErrInvalidParameter
	}
	if _, loaded := s.groups.LoadOrStore(group, handler); loaded {
		return btpm.ErrUnableToRegisterHandler
	}
	return nil
}

// UnregisterGroupHandler 取消订阅
func (s *SocketChannel) UnregisterGroupHandler(group uint32) {
	s.groups.Delete(group)
}

// ServerAddressID 服务端地址ID
func (s *SocketChannel) ServerAddressID() uint32 {
	return s.addressID
}

// NextMessageID 分配下一个消息ID，跳过 0
func (s *SocketChannel) NextMessageID() uint32 {
	for {
		if id := s.messageID.Add(1) & btpm.MessageIDMask; id != 0 {
			return id
		}
	}
}

// Close 关闭连接并等待读协程退出
func (s *SocketChannel) Close() error {
	s.closing.Store(true)
	err := s.conn.Close()
	<-s.done
	return err
}

// Done 连接断开后关闭
func (s *SocketChannel) Done() <-chan struct{} {
	return s.done
}

func (s *SocketChannel) readLoop() {
	defer s.serverDisconnected()

	for {
		msg, err := btpm.ReadMessage(s.conn)
		if err != nil {
			if !s.closing.Load() && !errors.Is(err, io.EOF) {
				s.logs.LogWarn(componentSocket, "读取消息失败，连接将关闭", "error", err)
			}
			return
		}

		if msg.IsResponse() {
			if wait, ok := s.pending.LoadAndDelete(msg.ID()); ok {
				wait <- msg
			} else {
				s.logs.LogDebug(componentSocket, "丢弃无人等待的响应", "message_id", msg.ID())
			}
			continue
		}

		if handler, ok := s.groups.Load(msg.Header.MessageGroup); ok {
			handler(msg)
		}
	}
}

// serverDisconnected 唤醒所有挂起请求，并向每个消息组投递注销通知
func (s *SocketChannel) serverDisconnected() {
	close(s.done)
	if s.closing.Load() {
		return
	}

	s.logs.LogWarn(componentSocket, "服务端连接已断开")
	s.groups.Range(func(group uint32, handler btpm.GroupHandler) bool {
		handler(btpm.NewClientRegistrationMessage(group, s.addressID, false))
		return true
	})
}
