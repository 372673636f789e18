package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/Anniext/hdsm/pkg/btpm"
)

func quietLogs() *btpm.LogManager {
	return btpm.NewLogManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// echoServer 对每个请求回以相同载荷的响应，收到 notifyFunction 时先推送一条通知
func echoServer(t *testing.T, conn net.Conn, notifyFunction uint32) {
	t.Helper()
	go func() {
		for {
			req, err := btpm.ReadMessage(conn)
			if err != nil {
				return
			}
			if req.Header.MessageFunction == notifyFunction {
				note := btpm.NewMessage(req.Header.AddressID, 0, req.Header.MessageGroup, 0x10002, []byte{7})
				if _, err := note.WriteTo(conn); err != nil {
					return
				}
			}
			if _, err := btpm.NewResponseMessage(req, req.Payload).WriteTo(conn); err != nil {
				return
			}
		}
	}()
}

func TestSocketChannel_RequestResponse(t *testing.T) {
	client, server := net.Pipe()
	echoServer(t, server, 0x1003)

	ch := NewSocketChannel(client, 5, quietLogs())
	defer ch.Close()

	notes := make(chan *btpm.Message, 1)
	if err := ch.RegisterGroupHandler(0x1007, func(msg *btpm.Message) { notes <- msg }); err != nil {
		t.Fatalf("注册消息组失败: %v", err)
	}
	if err := ch.RegisterGroupHandler(0x1007, func(*btpm.Message) {}); !errors.Is(err, btpm.ErrUnableToRegisterHandler) {
		t.Errorf("重复注册应失败，实际 %v", err)
	}

	ctx := context.Background()
	req := btpm.NewMessage(ch.ServerAddressID(), ch.NextMessageID(), 0x1007, 0x1003, []byte{1, 2, 3})
	resp, err := ch.SendMessageResponse(ctx, req, time.Second)
	if err != nil {
		t.Fatalf("请求失败: %v", err)
	}
	if !resp.IsResponse() || resp.ID() != req.ID() || len(resp.Payload) != 3 {
		t.Errorf("响应不正确: %+v", resp)
	}

	select {
	case msg := <-notes:
		if msg.Header.MessageFunction != 0x10002 {
			t.Errorf("通知功能码不正确: %#x", msg.Header.MessageFunction)
		}
	case <-time.After(time.Second):
		t.Fatal("未收到通知")
	}
}

func TestSocketChannel_Timeout(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	// 只读不回
	go io.Copy(io.Discard, server)

	ch := NewSocketChannel(client, 1, quietLogs())
	defer ch.Close()

	req := btpm.NewMessage(1, ch.NextMessageID(), 0x1007, 0x1004, nil)
	_, err := ch.SendMessageResponse(context.Background(), req, 20*time.Millisecond)
	if !errors.Is(err, btpm.ErrMessageResponseTimeout) {
		t.Errorf("期望等待响应超时，实际 %v", err)
	}
}

func TestSocketChannel_ServerDisconnect(t *testing.T) {
	client, server := net.Pipe()
	ch := NewSocketChannel(client, 9, quietLogs())
	defer ch.Close()

	regs := make(chan btpm.ClientRegistration, 1)
	ch.RegisterGroupHandler(0x1007, func(msg *btpm.Message) {
		if msg.Header.MessageFunction != btpm.MessageFunctionClientRegistration {
			return
		}
		reg, err := btpm.DecodeClientRegistration(msg)
		if err == nil {
			regs <- reg
		}
	})

	server.Close()

	select {
	case reg := <-regs:
		if reg.Registered || reg.AddressID != 9 {
			t.Errorf("注销通知内容不正确: %+v", reg)
		}
	case <-time.After(time.Second):
		t.Fatal("服务端断开后未收到注销通知")
	}

	<-ch.Done()
	req := btpm.NewMessage(9, ch.NextMessageID(), 0x1007, 0x1004, nil)
	if _, err := ch.SendMessageResponse(context.Background(), req, time.Second); !errors.Is(err, btpm.ErrChannelClosed) {
		t.Errorf("断开后发送应返回通道已关闭，实际 %v", err)
	}
}

func TestSocketChannel_NextMessageIDSkipsZero(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	ch := NewSocketChannel(client, 1, quietLogs())
	defer ch.Close()

	ch.messageID.Store(btpm.MessageIDMask)
	if id := ch.NextMessageID(); id == 0 || id&btpm.MessageResponseMask != 0 {
		t.Errorf("消息ID无效: %#x", id)
	}
}
