package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/Anniext/hdsm/pkg/btpm"
)

const componentDBus = "transport.dbus"

// D-Bus 接口约定
const (
	DefaultDBusDestination = "org.btpm.Server"
	DefaultDBusPath        = dbus.ObjectPath("/org/btpm/Server")
	DefaultDBusInterface   = "org.btpm.MessageChannel"

	dbusMethodSendMessage = "SendMessage"
	dbusSignalMessage     = "Message"
	dbusNameOwnerChanged  = "org.freedesktop.DBus.NameOwnerChanged"
)

// DBusOptions D-Bus 通道参数
type DBusOptions struct {
	SystemBus   bool            // 使用系统总线，否则使用会话总线
	Destination string          // 服务端总线名
	Path        dbus.ObjectPath // 服务端对象路径
	Interface   string          // 接口名
	AddressID   uint32          // 服务端地址ID
}

func (o *DBusOptions) applyDefaults() {
	if o.Destination == "" {
		o.Destination = DefaultDBusDestination
	}
	if o.Path == "" {
		o.Path = DefaultDBusPath
	}
	if o.Interface == "" {
		o.Interface = DefaultDBusInterface
	}
}

// DBusChannel 基于 D-Bus 的消息通道：请求走方法调用，通知走信号，
// 服务端总线名失去所有者时视为服务端断开。
type DBusChannel struct {
	conn      *dbus.Conn
	object    dbus.BusObject
	opts      DBusOptions
	messageID atomic.Uint32
	logs      *btpm.LogManager

	groups  *xsync.MapOf[uint32, btpm.GroupHandler]
	signals chan *dbus.Signal
	stop    chan struct{}
	done    chan struct{}
}

// ConnectDBus 连接总线并创建通道
func ConnectDBus(opts DBusOptions, logs *btpm.LogManager) (*DBusChannel, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if opts.SystemBus {
		conn, err = dbus.ConnectSystemBus()
	} else {
		conn, err = dbus.ConnectSessionBus()
	}
	if err != nil {
		return nil, btpm.WrapError(err, btpm.ErrCodeSendFailed, "无法连接 D-Bus", "dial")
	}

	ch, err := NewDBusChannel(conn, opts, logs)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return ch, nil
}

// NewDBusChannel 在已有总线连接上订阅服务端信号
func NewDBusChannel(conn *dbus.Conn, opts DBusOptions, logs *btpm.LogManager) (*DBusChannel, error) {
	opts.applyDefaults()
	if logs == nil {
		logs = btpm.NewLogManager(nil)
	}

	d := newDBusChannel(opts, logs)
	d.conn = conn
	d.object = conn.Object(opts.Destination, opts.Path)

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(opts.Path),
		dbus.WithMatchInterface(opts.Interface),
		dbus.WithMatchMember(dbusSignalMessage),
	); err != nil {
		return nil, btpm.WrapError(err, btpm.ErrCodeUnableToRegisterHandler, "订阅服务端信号失败", "subscribe")
	}
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
		dbus.WithMatchArg(0, opts.Destination),
	); err != nil {
		return nil, btpm.WrapError(err, btpm.ErrCodeUnableToRegisterHandler, "订阅总线名变化失败", "subscribe")
	}

	conn.Signal(d.signals)
	go d.signalLoop()
	return d, nil
}

func newDBusChannel(opts DBusOptions, logs *btpm.LogManager) *DBusChannel {
	return &DBusChannel{
		opts:    opts,
		logs:    logs,
		groups:  xsync.NewMapOf[uint32, btpm.GroupHandler](),
		signals: make(chan *dbus.Signal, 32),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// SendMessageResponse 以方法调用发送编码后的请求，返回值为编码后的响应
func (d *DBusChannel) SendMessageResponse(ctx context.Context, req *btpm.Message, timeout time.Duration) (*btpm.Message, error) {
	data, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reply []byte
	call := d.object.CallWithContext(callCtx, d.opts.Interface+"."+dbusMethodSendMessage, 0, data)
	if err := call.Store(&reply); err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, btpm.ErrMessageResponseTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, btpm.WrapError(err, btpm.ErrCodeSendFailed, "D-Bus 方法调用失败", "send")
	}

	resp, err := btpm.UnmarshalMessage(reply)
	if err != nil {
		return nil, err
	}
	if !resp.IsResponse() || resp.ID() != req.ID() {
		return nil, btpm.ErrResponseMessageInvalid
	}
	return resp, nil
}

// RegisterGroupHandler 订阅消息组
func (d *DBusChannel) RegisterGroupHandler(group uint32, handler btpm.GroupHandler) error {
	if handler == nil {
		return btpm.ErrInvalidParameter
	}
	if _, loaded := d.groups.LoadOrStore(group, handler); loaded {
		return btpm.ErrUnableToRegisterHandler
	}
	return nil
}

// UnregisterGroupHandler 取消订阅
func (d *DBusChannel) UnregisterGroupHandler(group uint32) {
	d.groups.Delete(group)
}

// ServerAddressID 服务端地址ID
func (d *DBusChannel) ServerAddressID() uint32 {
	return d.opts.AddressID
}

// NextMessageID 分配下一个消息ID，跳过 0
func (d *DBusChannel) NextMessageID() uint32 {
	for {
		if id := d.messageID.Add(1) & btpm.MessageIDMask; id != 0 {
			return id
		}
	}
}

// Close 停止接收信号并关闭总线连接
func (d *DBusChannel) Close() error {
	d.conn.RemoveSignal(d.signals)
	close(d.stop)
	<-d.done
	return d.conn.Close()
}

func (d *DBusChannel) signalLoop() {
	defer close(d.done)
	for {
		select {
		case sig := <-d.signals:
			d.handleSignal(sig)
		case <-d.stop:
			return
		}
	}
}

// handleSignal 处理一条总线信号
func (d *DBusChannel) handleSignal(sig *dbus.Signal) {
	if sig == nil {
		return
	}

	switch sig.Name {
	case d.opts.Interface + "." + dbusSignalMessage:
		if len(sig.Body) != 1 {
			d.logs.LogWarn(componentDBus, "信号参数个数无效", "count", len(sig.Body))
			return
		}
		data, ok := sig.Body[0].([]byte)
		if !ok {
			d.logs.LogWarn(componentDBus, "信号参数类型无效")
			return
		}
		msg, err := btpm.UnmarshalMessage(data)
		if err != nil {
			d.logs.LogWarn(componentDBus, "丢弃无法解码的信号", "error", err)
			return
		}
		if handler, ok := d.groups.Load(msg.Header.MessageGroup); ok {
			handler(msg)
		}

	case dbusNameOwnerChanged:
		if len(sig.Body) != 3 {
			return
		}
		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)
		if name != d.opts.Destination || newOwner != "" {
			return
		}
		d.logs.LogWarn(componentDBus, "服务端已离开总线", "destination", name)
		d.groups.Range(func(group uint32, handler btpm.GroupHandler) bool {
			handler(btpm.NewClientRegistrationMessage(group, d.opts.AddressID, false))
			return true
		})
	}
}
