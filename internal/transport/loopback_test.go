package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Anniext/hdsm/pkg/btpm"
)

func TestLoopback(t *testing.T) {
	lb := NewLoopback(3, func(req *btpm.Message) (*btpm.Message, error) {
		switch req.Header.MessageFunction {
		case 0x1001:
			return btpm.NewResponseMessage(req, []byte{0}), nil
		case 0x1002:
			time.Sleep(100 * time.Millisecond)
			return btpm.NewResponseMessage(req, nil), nil
		case 0x1003:
			return btpm.NewMessage(3, 999, 0x1007, 0x1003, nil), nil
		default:
			return nil, errors.New("未知功能码")
		}
	})
	ctx := context.Background()

	send := func(function uint32, timeout time.Duration) error {
		req := btpm.NewMessage(lb.ServerAddressID(), lb.NextMessageID(), 0x1007, function, nil)
		_, err := lb.SendMessageResponse(ctx, req, timeout)
		return err
	}

	if err := send(0x1001, time.Second); err != nil {
		t.Errorf("请求失败: %v", err)
	}
	if err := send(0x1002, 10*time.Millisecond); !errors.Is(err, btpm.ErrMessageResponseTimeout) {
		t.Errorf("期望超时，实际 %v", err)
	}
	if err := send(0x1003, time.Second); !errors.Is(err, btpm.ErrResponseMessageInvalid) {
		t.Errorf("ID不匹配的响应应无效，实际 %v", err)
	}
	if err := send(0x1004, time.Second); !errors.Is(err, btpm.ErrSendFailed) {
		t.Errorf("处理失败应返回发送失败，实际 %v", err)
	}

	var got []uint32
	if err := lb.RegisterGroupHandler(0x1007, func(msg *btpm.Message) {
		got = append(got, msg.Header.MessageFunction)
	}); err != nil {
		t.Fatalf("注册消息组失败: %v", err)
	}
	if !lb.HasGroupHandler(0x1007) {
		t.Error("应已注册消息组")
	}

	lb.Deliver(btpm.NewMessage(3, 0, 0x1007, 0x10001, nil))
	lb.Deliver(btpm.NewMessage(3, 0, 0x2000, 0x10001, nil))
	lb.DisconnectServer()
	if len(got) != 2 || got[0] != 0x10001 || got[1] != btpm.MessageFunctionClientRegistration {
		t.Errorf("投递结果不正确: %#x", got)
	}

	lb.UnregisterGroupHandler(0x1007)
	if lb.HasGroupHandler(0x1007) {
		t.Error("注销后不应有处理器")
	}
}
