package hdsm

import (
	"container/list"
	"context"
)

// entryFlags 注册项标志
type entryFlags uint32

const (
	entryFlagEventCallback entryFlags = 0x40000000 // 普通事件订阅者，接收广播事件
	entryFlagAudioGateway  entryFlags = 0x80000000 // 音频网关角色
)

// callbackIDReservedBit 回调ID的保留位，分配时不会用到
const callbackIDReservedBit uint32 = 0x80000000

// connectionEvent 同步连接使用的二值等待事件。set 与 close 必须在持有管理器锁时调用
type connectionEvent struct {
	ch       chan struct{}
	closed   bool
	signaled bool
}

func newConnectionEvent() *connectionEvent {
	return &connectionEvent{ch: make(chan struct{}, 1)}
}

func (e *connectionEvent) set() {
	if e.closed {
		return
	}
	e.signaled = true
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// close 唤醒所有等待者，只生效一次
func (e *connectionEvent) close() {
	if e.closed {
		return
	}
	e.closed = true
	close(e.ch)
}

func (e *connectionEvent) wait(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// entryInfo 注册项
type entryInfo struct {
	callbackID       uint32
	serverCallbackID uint32
	// 同步连接的结果，或数据回调用于匹配音频数据的服务端处理器ID
	connectionStatus uint32
	connectionEvent  *connectionEvent
	flags            entryFlags
	address          BDAddr
	connectionType   ConnectionType
	callback         EventCallback
}

func (e *entryInfo) isEventCallback() bool {
	return e.flags&entryFlagEventCallback != 0
}

// signal 写入同步连接结果并唤醒等待者。已被唤醒的项保留第一次的结果，返回 false
func (e *entryInfo) signal(status ConnectionStatus) bool {
	if e.connectionEvent == nil || e.connectionEvent.signaled {
		return false
	}
	e.connectionStatus = uint32(status)
	e.connectionEvent.set()
	return true
}

// release 关闭注册项持有的等待事件
func (e *entryInfo) release() {
	if e.connectionEvent != nil {
		e.connectionEvent.close()
	}
}

// entryList 按ID索引并保留插入顺序的注册项列表
type entryList struct {
	order *list.List
	index map[uint32]*list.Element
}

func newEntryList() *entryList {
	return &entryList{
		order: list.New(),
		index: make(map[uint32]*list.Element),
	}
}

// add 复制候选项并追加到末尾。ID 为零或重复时返回 nil，列表不变
func (l *entryList) add(candidate entryInfo) *entryInfo {
	if candidate.callbackID == 0 {
		return nil
	}
	if _, exists := l.index[candidate.callbackID]; exists {
		return nil
	}
	entry := candidate
	l.index[entry.callbackID] = l.order.PushBack(&entry)
	return &entry
}

func (l *entryList) search(id uint32) *entryInfo {
	if elem, ok := l.index[id]; ok {
		return elem.Value.(*entryInfo)
	}
	return nil
}

// delete 移除并返回注册项，由调用方负责 release
func (l *entryList) delete(id uint32) *entryInfo {
	elem, ok := l.index[id]
	if !ok {
		return nil
	}
	delete(l.index, id)
	return l.order.Remove(elem).(*entryInfo)
}

func (l *entryList) head() *entryInfo {
	if front := l.order.Front(); front != nil {
		return front.Value.(*entryInfo)
	}
	return nil
}

func (l *entryList) len() int {
	return l.order.Len()
}

// each 按插入顺序遍历，fn 返回 false 时停止。遍历中不得修改列表
func (l *entryList) each(fn func(*entryInfo) bool) {
	for elem := l.order.Front(); elem != nil; elem = elem.Next() {
		if !fn(elem.Value.(*entryInfo)) {
			return
		}
	}
}

// free 释放全部注册项并清空列表
func (l *entryList) free() {
	for elem := l.order.Front(); elem != nil; elem = elem.Next() {
		elem.Value.(*entryInfo).release()
	}
	l.order.Init()
	clear(l.index)
}

// registry 两个角色各三类列表：事件、控制、数据
type registry struct {
	events  [2]*entryList
	control [2]*entryList
	data    [2]*entryList
	nextID  uint32
}

func newRegistry() *registry {
	r := &registry{nextID: 1}
	for i := range r.events {
		r.events[i] = newEntryList()
		r.control[i] = newEntryList()
		r.data[i] = newEntryList()
	}
	return r
}

// nextCallbackID 分配回调ID，回绕时跳过 0 与保留位
func (r *registry) nextCallbackID() uint32 {
	id := r.nextID
	r.nextID++
	if r.nextID == 0 || r.nextID&callbackIDReservedBit != 0 {
		r.nextID = 1
	}
	return id
}

func (r *registry) freeAll() {
	for i := range r.events {
		r.events[i].free()
		r.control[i].free()
		r.data[i].free()
	}
}

// roleFlags 返回角色对应的标志位
func roleFlags(ct ConnectionType) entryFlags {
	if ct == ConnectionTypeAudioGateway {
		return entryFlagAudioGateway
	}
	return 0
}
