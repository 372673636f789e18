package btpm

import (
	"fmt"
	"sync"

	"github.com/golang-collections/go-datastructures/queue"
)

const componentMailbox = "btpm.mailbox"

// Mailbox 单线程串行派发队列，保证入队的任务按顺序且不重入地执行
type Mailbox struct {
	queue  *queue.Queue
	logs   *LogManager
	done   chan struct{}
	closer sync.Once
}

// NewMailbox 创建派发队列并启动处理协程
func NewMailbox(hint int64, logs *LogManager) *Mailbox {
	if hint <= 0 {
		hint = DefaultMailboxQueueHint
	}
	if logs == nil {
		logs = NewLogManager(nil)
	}
	mb := &Mailbox{
		queue: queue.New(hint),
		logs:  logs,
		done:  make(chan struct{}),
	}
	go mb.run()
	return mb
}

// QueueCallback 将任务交给派发线程，队列已关闭时返回 false
func (mb *Mailbox) QueueCallback(fn func()) bool {
	if fn == nil {
		return false
	}
	if err := mb.queue.Put(fn); err != nil {
		mb.logs.LogWarn(componentMailbox, "派发队列拒绝任务", "error", err)
		return false
	}
	return true
}

// Pending 返回尚未执行的任务数
func (mb *Mailbox) Pending() int64 {
	return mb.queue.Len()
}

// Close 关闭队列，未执行的任务被丢弃。可在派发线程内调用
func (mb *Mailbox) Close() {
	mb.closer.Do(func() {
		mb.queue.Dispose()
	})
}

// Done 处理协程退出后关闭
func (mb *Mailbox) Done() <-chan struct{} {
	return mb.done
}

func (mb *Mailbox) run() {
	defer close(mb.done)

	for {
		items, err := mb.queue.Get(1)
		if err != nil {
			return
		}
		for _, item := range items {
			if fn, ok := item.(func()); ok {
				mb.invoke(fn)
			}
		}
	}
}

func (mb *Mailbox) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			mb.logs.LogError(componentMailbox, "派发任务发生 panic", fmt.Errorf("%v", r))
		}
	}()
	fn()
}
