package hdsm

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Anniext/hdsm/pkg/btpm"
)

// Config 管理器配置
type Config struct {
	ResponseTimeout  time.Duration `json:"response_timeout" mapstructure:"response_timeout"`     // 请求响应超时
	MailboxQueueHint int64         `json:"mailbox_queue_hint" mapstructure:"mailbox_queue_hint"` // 派发队列容量提示
	LogLevel         string        `json:"log_level" mapstructure:"log_level"`                   // 日志级别
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		ResponseTimeout:  btpm.DefaultMessageResponseTimeout,
		MailboxQueueHint: btpm.DefaultMailboxQueueHint,
		LogLevel:         "info",
	}
}

// Validate 验证配置
func (c Config) Validate() error {
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("响应超时必须大于0")
	}
	if c.MailboxQueueHint < 0 {
		return fmt.Errorf("派发队列容量提示不能为负数")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel 解析日志级别，空字符串视为 info
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("未知日志级别: %s", level)
	}
}

// Option 管理器构造选项
type Option func(*Manager)

// WithConfig 指定配置
func WithConfig(cfg Config) Option {
	return func(m *Manager) {
		m.config = cfg
	}
}

// WithLogManager 指定日志管理器
func WithLogManager(logs *btpm.LogManager) Option {
	return func(m *Manager) {
		if logs != nil {
			m.logs = logs
		}
	}
}

// WithMailbox 使用外部派发队列，管理器不会关闭它
func WithMailbox(mailbox *btpm.Mailbox) Option {
	return func(m *Manager) {
		m.externalMailbox = mailbox
	}
}

// WithPowerStateQuerier 指定初始化时查询电源状态的来源，未指定时视为已上电
func WithPowerStateQuerier(q PowerStateQuerier) Option {
	return func(m *Manager) {
		m.power = q
	}
}
