package btpm

import "time"

// 消息头相关常量
const (
	MessageHeaderSize = 20 // 消息头固定字节数（5个 uint32）

	MessageResponseMask uint32 = 0x80000000 // MessageID 中的响应标志位
	MessageIDMask       uint32 = 0x7FFFFFFF // MessageID 的有效位

	// 平台保留功能码，位于各模块功能码范围之外
	MessageFunctionClientRegistration uint32 = 0x00000001
	// 各模块自身功能码的起始值
	MessageFunctionMinimum uint32 = 0x00001000

	MaximumMessageLength = 64 * 1024 // 单条消息载荷上限
)

// 默认值
const (
	DefaultMessageResponseTimeout = 5 * time.Second // 默认请求响应超时
	DefaultMailboxQueueHint       = 64              // 默认派发队列容量提示
	DefaultLogBufferSize          = 1000            // 默认日志缓冲条数
)

// 错误代码常量，全部为负数，0 表示成功
const (
	// 通用错误 -1 ~ -99
	ErrCodeInvalidParameter              = -1  // 无效参数
	ErrCodeNotInitialized                = -2  // 模块未初始化
	ErrCodeUnableToLockContext           = -3  // 无法获取模块上下文
	ErrCodeUnableToAddEntry              = -4  // 无法添加注册项
	ErrCodeInvalidCallbackSpecified      = -5  // 回调句柄无效
	ErrCodeInvalidOperation              = -6  // 操作不被允许
	ErrCodeEventHandlerAlreadyRegistered = -7  // 控制回调已注册
	ErrCodeDataHandlerAlreadyRegistered  = -8  // 数据回调已注册
	ErrCodeLocalDevicePoweredDown        = -9  // 本地设备未上电
	ErrCodeUnableToConnectToDevice       = -10 // 无法连接远端设备
	ErrCodeUnableToRegisterHandler       = -11 // 无法注册消息组处理器
	ErrCodeInternalError                 = -12 // 内部错误

	// 传输相关错误 -100 ~ -199
	ErrCodeResponseMessageInvalid = -100 // 响应消息无效
	ErrCodeMessageResponseTimeout = -101 // 等待响应超时
	ErrCodeSendFailed             = -102 // 消息发送失败
	ErrCodeChannelClosed          = -103 // 通道已关闭
	ErrCodeMessageInvalid         = -104 // 消息格式无效
)
