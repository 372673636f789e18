package btpm

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// LogEntry 日志条目
type LogEntry struct {
	Level     slog.Level             `json:"level"`     // 日志级别
	Message   string                 `json:"message"`   // 日志消息
	Component string                 `json:"component"` // 组件名称
	Timestamp time.Time              `json:"timestamp"` // 时间戳
	Fields    map[string]interface{} `json:"fields"`    // 字段
	Error     error                  `json:"-"`         // 错误信息
}

// LogHandler 日志处理器接口
type LogHandler interface {
	Handle(entry LogEntry) error
}

// LogManager 按组件记录结构化日志，并保留最近的日志条目
type LogManager struct {
	logger      *slog.Logger
	logLevel    slog.Level
	logHandlers []LogHandler
	logBuffer   []LogEntry
	bufferSize  int
	mu          sync.RWMutex
}

// NewLogManager 创建新的日志管理器，logger 为空时使用 slog.Default()
func NewLogManager(logger *slog.Logger) *LogManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogManager{
		logger:     logger,
		logLevel:   slog.LevelInfo,
		bufferSize: DefaultLogBufferSize,
	}
}

// SetLogLevel 设置日志级别
func (lm *LogManager) SetLogLevel(level slog.Level) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.logLevel = level
}

// AddHandler 添加日志处理器
func (lm *LogManager) AddHandler(handler LogHandler) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.logHandlers = append(lm.logHandlers, handler)
}

// LogInfo 记录信息日志，args 为键值对
func (lm *LogManager) LogInfo(component, message string, args ...any) {
	lm.log(slog.LevelInfo, component, message, nil, args)
}

// LogWarn 记录警告日志
func (lm *LogManager) LogWarn(component, message string, args ...any) {
	lm.log(slog.LevelWarn, component, message, nil, args)
}

// LogError 记录错误日志
func (lm *LogManager) LogError(component, message string, err error, args ...any) {
	lm.log(slog.LevelError, component, message, err, args)
}

// LogDebug 记录调试日志
func (lm *LogManager) LogDebug(component, message string, args ...any) {
	lm.log(slog.LevelDebug, component, message, nil, args)
}

func (lm *LogManager) log(level slog.Level, component, message string, err error, args []any) {
	lm.mu.Lock()
	if level < lm.logLevel {
		lm.mu.Unlock()
		return
	}

	entry := LogEntry{
		Level:     level,
		Message:   message,
		Component: component,
		Timestamp: time.Now(),
		Fields:    fieldsFromArgs(args),
		Error:     err,
	}
	if len(lm.logBuffer) >= lm.bufferSize {
		lm.logBuffer = lm.logBuffer[1:]
	}
	lm.logBuffer = append(lm.logBuffer, entry)
	handlers := lm.logHandlers
	lm.mu.Unlock()

	attrs := make([]slog.Attr, 0, len(entry.Fields)+2)
	attrs = append(attrs, slog.String("component", component))
	for key, value := range entry.Fields {
		attrs = append(attrs, slog.Any(key, value))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	lm.logger.LogAttrs(context.Background(), level, message, attrs...)

	for _, h := range handlers {
		if herr := h.Handle(entry); herr != nil {
			lm.logger.Error("日志处理器错误", "error", herr)
		}
	}
}

// fieldsFromArgs 将 slog 风格的键值对转换为字段表，落单的值记为 !BADKEY
func fieldsFromArgs(args []any) map[string]interface{} {
	if len(args) == 0 {
		return nil
	}
	fields := make(map[string]interface{}, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 >= len(args) {
			fields["!BADKEY"] = args[i]
			continue
		}
		fields[key] = args[i+1]
	}
	return fields
}

// GetLogBuffer 获取日志缓冲区副本
func (lm *LogManager) GetLogBuffer() []LogEntry {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	buffer := make([]LogEntry, len(lm.logBuffer))
	copy(buffer, lm.logBuffer)
	return buffer
}

// EntriesFor 返回指定组件的日志条目
func (lm *LogManager) EntriesFor(component string) []LogEntry {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	var entries []LogEntry
	for _, entry := range lm.logBuffer {
		if entry.Component == component {
			entries = append(entries, entry)
		}
	}
	return entries
}

// ClearBuffer 清空缓冲区
func (lm *LogManager) ClearBuffer() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.logBuffer = nil
}
