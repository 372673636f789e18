package hdsm

import (
	"fmt"
	"runtime/debug"
)

// dispatchEventLocked 向角色的订阅者广播事件。
// 调用时必须持有 m.mu，返回前释放；回调在锁外按注册顺序执行。
// controlOnly 为 true 时只投递给控制回调。
func (m *Manager) dispatchEventLocked(controlOnly bool, ct ConnectionType, event *Event) {
	lists := make([]*entryList, 0, 3)
	if !controlOnly {
		lists = append(lists, m.registry.events[ct])
	}
	lists = append(lists, m.registry.control[ct])
	if !controlOnly {
		lists = append(lists, m.registry.data[ct])
	}

	count := 0
	for _, l := range lists {
		l.each(func(e *entryInfo) bool {
			if e.callback != nil && e.isEventCallback() {
				count++
			}
			return true
		})
	}
	if count == 0 {
		m.mu.Unlock()
		return
	}

	var stack [callbackSnapshotSize]EventCallback
	snapshot := stack[:0]
	if count > callbackSnapshotSize {
		snapshot = make([]EventCallback, 0, count)
	}
	for _, l := range lists {
		l.each(func(e *entryInfo) bool {
			if e.callback != nil && e.isEventCallback() {
				snapshot = append(snapshot, e.callback)
			}
			return true
		})
	}
	m.mu.Unlock()

	for _, cb := range snapshot {
		if !m.initialized.Load() {
			m.logs.LogDebug(componentDispatcher, "管理器已关闭，停止派发", "event", event.Type.String())
			break
		}
		ev := *event
		m.invokeCallback(cb, &ev)
	}
}

// invokeCallback 执行单个回调，错误与 panic 只记录日志
func (m *Manager) invokeCallback(cb EventCallback, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logs.LogError(componentDispatcher, "事件回调发生 panic", fmt.Errorf("%v", r),
				"event", event.Type.String(), "stack", string(debug.Stack()))
		}
	}()

	if err := cb(event); err != nil {
		m.logs.LogWarn(componentDispatcher, "事件回调返回错误",
			"event", event.Type.String(), "connection_type", event.ConnectionType.String(), "error", err)
	}
}
