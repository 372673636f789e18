package btpm

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func quietLogs() *LogManager {
	return NewLogManager(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestMailbox_RunsInOrder(t *testing.T) {
	mb := NewMailbox(4, quietLogs())
	defer mb.Close()

	const n = 100
	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	for i := 0; i < n; i++ {
		i := i
		if !mb.QueueCallback(func() {
			mu.Lock()
			order = append(order, i)
			if len(order) == n {
				close(done)
			}
			mu.Unlock()
		}) {
			t.Fatalf("第 %d 个任务入队失败", i)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("任务未全部执行")
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("执行顺序与入队顺序不一致: %v", order)
		}
	}
}

func TestMailbox_RecoversPanic(t *testing.T) {
	logs := quietLogs()
	mb := NewMailbox(0, logs)
	defer mb.Close()

	ran := make(chan struct{})
	mb.QueueCallback(func() { panic("boom") })
	mb.QueueCallback(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("panic 后派发线程未继续执行")
	}
	if len(logs.EntriesFor(componentMailbox)) == 0 {
		t.Error("panic 应被记录")
	}
}

func TestMailbox_Close(t *testing.T) {
	mb := NewMailbox(1, quietLogs())

	// 在派发线程内关闭
	mb.QueueCallback(mb.Close)
	select {
	case <-mb.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("关闭后处理协程未退出")
	}

	mb.Close()
	if mb.QueueCallback(func() {}) {
		t.Error("关闭后入队应失败")
	}
	if mb.QueueCallback(nil) {
		t.Error("空任务应被拒绝")
	}
}
