package cmd

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Anniext/hdsm/internal/protocol"
	"github.com/Anniext/hdsm/internal/simulator"
	"github.com/Anniext/hdsm/pkg/btpm"
	"github.com/Anniext/hdsm/pkg/hdsm"
)

func TestBindSimulatorPower(t *testing.T) {
	ctx := context.Background()
	logs := btpm.NewLogManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
	sim, channel := simulator.Pair(1, logs)
	sim.SetPowered(false)

	m := hdsm.New(channel, hdsm.WithLogManager(logs), hdsm.WithPowerStateQuerier(sim))
	bindSimulatorPower(m, sim)
	if err := m.Initialize(ctx); err != nil {
		t.Fatalf("初始化失败: %v", err)
	}
	defer m.Shutdown(ctx)

	if m.IsPoweredOn() {
		t.Fatal("初始化时应查询到未上电")
	}
	sim.SetPowered(true)
	if !m.IsPoweredOn() {
		t.Fatal("上电后管理器应记录为已上电")
	}

	controlID, err := m.RegisterEventCallback(ctx, hdsm.ConnectionTypeHeadset, true, func(*hdsm.Event) error { return nil })
	if err != nil {
		t.Fatalf("注册控制回调失败: %v", err)
	}
	sim.HoldConnections()

	addr := hdsm.BDAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	done := make(chan hdsm.ConnectionStatus, 1)
	go func() {
		status, _ := m.Connect(ctx, controlID, hdsm.ConnectionTypeHeadset, addr, 0, 0)
		done <- status
	}()

	deadline := time.Now().Add(2 * time.Second)
	for sim.CountRequests(protocol.FunctionConnectRemoteDevice) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("服务端未收到连接请求")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sim.SetPowered(false)

	select {
	case status := <-done:
		if status != hdsm.ConnectionStatusFailureDevicePowerOff {
			t.Errorf("期望断电状态，实际 %s", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("模拟断电后连接未返回")
	}
	if m.IsPoweredOn() {
		t.Error("断电后管理器应记录为未上电")
	}
}
