package config

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ConfigChangeEvent 配置变更事件
type ConfigChangeEvent struct {
	Type      ChangeType `json:"type"`       // 变更类型
	OldConfig *AppConfig `json:"old_config"` // 旧配置，首次加载时为空
	NewConfig *AppConfig `json:"new_config"` // 新配置
	Timestamp time.Time  `json:"timestamp"`  // 变更时间
	Source    string     `json:"source"`     // 变更源
}

// ChangeType 配置变更类型
type ChangeType int

const (
	ChangeTypeUpdate ChangeType = iota // 配置更新
	ChangeTypeReload                   // 配置重载
)

// String 返回变更类型的字符串表示
func (ct ChangeType) String() string {
	switch ct {
	case ChangeTypeUpdate:
		return "update"
	case ChangeTypeReload:
		return "reload"
	default:
		return "unknown"
	}
}

// Notifier 配置变更通知器，订阅者通过通道接收事件
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[string]chan ConfigChangeEvent
	closed      bool
	logger      Logger
}

// NewNotifier 创建配置变更通知器
func NewNotifier(logger Logger) *Notifier {
	if logger == nil {
		logger = &defaultLogger{}
	}
	return &Notifier{
		subscribers: make(map[string]chan ConfigChangeEvent),
		logger:      logger,
	}
}

// Subscribe 订阅配置变更，ctx 取消时通道关闭
func (n *Notifier) Subscribe(ctx context.Context) <-chan ConfigChangeEvent {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		ch := make(chan ConfigChangeEvent)
		close(ch)
		return ch
	}

	id := uuid.NewString()
	ch := make(chan ConfigChangeEvent, 10)
	n.subscribers[id] = ch
	n.logger.Debug("新增配置变更订阅者: %s", id)

	go func() {
		<-ctx.Done()
		n.unsubscribe(id)
	}()
	return ch
}

func (n *Notifier) unsubscribe(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ch, exists := n.subscribers[id]; exists {
		close(ch)
		delete(n.subscribers, id)
		n.logger.Debug("移除配置变更订阅者: %s", id)
	}
}

// Notify 向所有订阅者发送事件，通道已满的订阅者被跳过
func (n *Notifier) Notify(event ConfigChangeEvent) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return ErrNotifierClosed
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	for id, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
			n.logger.Warn("订阅者通道已满，跳过通知: %s", id)
		}
	}
	return nil
}

// Close 关闭通知器及所有订阅通道
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	for _, ch := range n.subscribers {
		close(ch)
	}
	n.subscribers = make(map[string]chan ConfigChangeEvent)
	return nil
}

// ErrNotifierClosed 通知器已关闭
var ErrNotifierClosed = &ConfigError{
	Code:    "NOTIFIER_CLOSED",
	Message: "配置变更通知器已关闭",
}

// ConfigError 配置相关错误
type ConfigError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return e.Code + ": " + e.Message
}
