package btpm

import (
	"errors"
	"fmt"
	"time"
)

// PlatformError 平台管理器错误类型，Code 为负数错误码
type PlatformError struct {
	Code          int                    `json:"code"`           // 错误代码
	Message       string                 `json:"message"`        // 错误消息
	DeviceAddress string                 `json:"device_address"` // 远端设备地址
	Operation     string                 `json:"operation"`      // 操作类型
	Timestamp     time.Time              `json:"timestamp"`      // 错误时间戳
	Cause         error                  `json:"-"`              // 原始错误
	Context       map[string]interface{} `json:"context"`        // 错误上下文
}

// Error 实现 error 接口
func (e *PlatformError) Error() string {
	msg := fmt.Sprintf("btpm error [%d]: %s", e.Code, e.Message)
	if e.Operation != "" {
		msg += " (operation: " + e.Operation
		if e.DeviceAddress != "" {
			msg += ", device: " + e.DeviceAddress
		}
		msg += ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap 返回原始错误
func (e *PlatformError) Unwrap() error {
	return e.Cause
}

// Is 按错误码比较
func (e *PlatformError) Is(target error) bool {
	if t, ok := target.(*PlatformError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext 添加错误上下文
func (e *PlatformError) WithContext(key string, value interface{}) *PlatformError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewPlatformError 创建新的平台错误
func NewPlatformError(code int, message string) *PlatformError {
	return &PlatformError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewPlatformErrorWithDevice 创建带设备信息的平台错误
func NewPlatformErrorWithDevice(code int, message, deviceAddress, operation string) *PlatformError {
	return &PlatformError{
		Code:          code,
		Message:       message,
		DeviceAddress: deviceAddress,
		Operation:     operation,
		Timestamp:     time.Now(),
	}
}

// WrapError 包装现有错误
func WrapError(err error, code int, message, operation string) *PlatformError {
	return &PlatformError{
		Code:      code,
		Message:   message,
		Operation: operation,
		Timestamp: time.Now(),
		Cause:     err,
	}
}

// StatusError 将服务端返回的状态值转换为错误，0 返回 nil
func StatusError(status int32, operation string) error {
	if status == 0 {
		return nil
	}
	return &PlatformError{
		Code:      int(status),
		Message:   "服务端返回错误状态",
		Operation: operation,
		Timestamp: time.Now(),
	}
}

// StatusCode 将错误映射为数值状态码：nil 为 0，其余为负数
func StatusCode(err error) int {
	if err == nil {
		return 0
	}
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ErrCodeInternalError
}

// 预定义的错误变量
var (
	ErrInvalidParameter              = NewPlatformError(ErrCodeInvalidParameter, "无效参数")
	ErrNotInitialized                = NewPlatformError(ErrCodeNotInitialized, "模块未初始化")
	ErrUnableToLockContext           = NewPlatformError(ErrCodeUnableToLockContext, "无法获取模块上下文")
	ErrUnableToAddEntry              = NewPlatformError(ErrCodeUnableToAddEntry, "无法添加注册项")
	ErrInvalidCallbackSpecified      = NewPlatformError(ErrCodeInvalidCallbackSpecified, "回调句柄无效")
	ErrInvalidOperation              = NewPlatformError(ErrCodeInvalidOperation, "操作不被允许")
	ErrEventHandlerAlreadyRegistered = NewPlatformError(ErrCodeEventHandlerAlreadyRegistered, "控制回调已注册")
	ErrDataHandlerAlreadyRegistered  = NewPlatformError(ErrCodeDataHandlerAlreadyRegistered, "数据回调已注册")
	ErrLocalDevicePoweredDown        = NewPlatformError(ErrCodeLocalDevicePoweredDown, "本地设备未上电")
	ErrUnableToConnectToDevice       = NewPlatformError(ErrCodeUnableToConnectToDevice, "无法连接远端设备")
	ErrUnableToRegisterHandler       = NewPlatformError(ErrCodeUnableToRegisterHandler, "无法注册消息组处理器")

	ErrResponseMessageInvalid = NewPlatformError(ErrCodeResponseMessageInvalid, "响应消息无效")
	ErrMessageResponseTimeout = NewPlatformError(ErrCodeMessageResponseTimeout, "等待响应超时")
	ErrSendFailed             = NewPlatformError(ErrCodeSendFailed, "消息发送失败")
	ErrChannelClosed          = NewPlatformError(ErrCodeChannelClosed, "通道已关闭")
	ErrMessageInvalid         = NewPlatformError(ErrCodeMessageInvalid, "消息格式无效")
)

// IsTransportError 检查是否为传输相关错误
func IsTransportError(err error) bool {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Code <= -100 && pe.Code > -200
	}
	return false
}

// IsRegistrationError 检查是否为注册冲突或句柄错误
func IsRegistrationError(err error) bool {
	var pe *PlatformError
	if errors.As(err, &pe) {
		switch pe.Code {
		case ErrCodeInvalidCallbackSpecified, ErrCodeInvalidOperation,
			ErrCodeEventHandlerAlreadyRegistered, ErrCodeDataHandlerAlreadyRegistered:
			return true
		}
	}
	return false
}
