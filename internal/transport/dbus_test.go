package transport

import (
	"testing"

	"github.com/godbus/dbus/v5"

	"github.com/Anniext/hdsm/pkg/btpm"
)

func testDBusChannel() *DBusChannel {
	opts := DBusOptions{AddressID: 4}
	opts.applyDefaults()
	return newDBusChannel(opts, quietLogs())
}

func TestDBusChannel_MessageSignal(t *testing.T) {
	d := testDBusChannel()

	var got []*btpm.Message
	d.RegisterGroupHandler(0x1007, func(msg *btpm.Message) { got = append(got, msg) })

	data, _ := btpm.NewMessage(4, 0, 0x1007, 0x10005, []byte{1, 2}).Marshal()
	name := DefaultDBusInterface + "." + dbusSignalMessage

	d.handleSignal(&dbus.Signal{Name: name, Body: []interface{}{data}})
	d.handleSignal(&dbus.Signal{Name: name, Body: []interface{}{"不是字节"}})
	d.handleSignal(&dbus.Signal{Name: name, Body: []interface{}{data[:5]}})
	d.handleSignal(&dbus.Signal{Name: name})
	d.handleSignal(nil)

	if len(got) != 1 || got[0].Header.MessageFunction != 0x10005 || len(got[0].Payload) != 2 {
		t.Fatalf("只应投递一条有效消息: %+v", got)
	}
	if warnings := len(d.logs.EntriesFor(componentDBus)); warnings != 3 {
		t.Errorf("三条无效信号应各记录一次警告，实际 %d", warnings)
	}
}

func TestDBusChannel_ServerLeftBus(t *testing.T) {
	d := testDBusChannel()

	var regs []btpm.ClientRegistration
	d.RegisterGroupHandler(0x1007, func(msg *btpm.Message) {
		if reg, err := btpm.DecodeClientRegistration(msg); err == nil {
			regs = append(regs, reg)
		}
	})

	// 其他名字或新所有者非空时忽略
	d.handleSignal(&dbus.Signal{Name: dbusNameOwnerChanged, Body: []interface{}{"org.other", ":1.2", ""}})
	d.handleSignal(&dbus.Signal{Name: dbusNameOwnerChanged, Body: []interface{}{DefaultDBusDestination, "", ":1.3"}})
	if len(regs) != 0 {
		t.Fatalf("不应投递注销通知: %+v", regs)
	}

	d.handleSignal(&dbus.Signal{Name: dbusNameOwnerChanged, Body: []interface{}{DefaultDBusDestination, ":1.3", ""}})
	if len(regs) != 1 || regs[0].Registered || regs[0].AddressID != 4 {
		t.Errorf("注销通知不正确: %+v", regs)
	}
}

func TestDBusOptionsDefaults(t *testing.T) {
	opts := DBusOptions{Destination: "org.custom"}
	opts.applyDefaults()
	if opts.Destination != "org.custom" || opts.Path != DefaultDBusPath || opts.Interface != DefaultDBusInterface {
		t.Errorf("默认值不正确: %+v", opts)
	}
}
