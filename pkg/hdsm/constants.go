package hdsm

// 增益范围
const (
	MinimumGain uint32 = 0
	MaximumGain uint32 = 15
)

// callbackSnapshotSize 派发时栈上快照的容量，超出后改用堆分配
const callbackSnapshotSize = 16

// 日志组件名
const (
	componentManager    = "hdsm.manager"
	componentDispatcher = "hdsm.dispatcher"
	componentInbound    = "hdsm.inbound"
	componentProxy      = "hdsm.proxy"
)
