package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Callback 配置变更回调
type Callback func(oldConfig, newConfig *AppConfig) error

// Manager 基于 viper 的配置管理器，支持 yaml、json、toml
type Manager struct {
	mu        sync.RWMutex
	current   *AppConfig
	callbacks []Callback
	notifier  *Notifier
	logger    Logger
}

// Logger 日志接口
type Logger interface {
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// NewManager 创建配置管理器
func NewManager(logger Logger) *Manager {
	if logger == nil {
		logger = &defaultLogger{}
	}
	return &Manager{
		callbacks: make([]Callback, 0),
		notifier:  NewNotifier(logger),
		logger:    logger,
	}
}

// newViper 创建带默认值的 viper 实例
func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range Flatten(DefaultConfig()) {
		v.SetDefault(key, value)
	}
	return v
}

// decode 读取 viper 中的配置并验证
func decode(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("无法解析配置: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return &cfg, nil
}

// LoadConfig 从文件加载配置，文件不存在时返回默认配置
func (m *Manager) LoadConfig(path string) (*AppConfig, error) {
	m.logger.Info("开始加载配置文件: %s", path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		m.logger.Warn("配置文件不存在，使用默认配置: %s", path)
		cfg := DefaultConfig()
		return &cfg, nil
	}

	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件 %s: %w", path, err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}

	m.logger.Info("配置文件加载成功: %s", path)
	return cfg, nil
}

// SaveConfig 保存配置到文件，格式由扩展名决定
func (m *Manager) SaveConfig(path string, cfg *AppConfig) error {
	if err := m.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建配置目录 %s: %w", dir, err)
	}

	v := viper.New()
	for key, value := range Flatten(*cfg) {
		v.Set(key, value)
	}
	// 先写临时文件再替换
	tempPath := filepath.Join(dir, ".tmp-"+filepath.Base(path))
	v.SetConfigType(strings.TrimPrefix(filepath.Ext(path), "."))
	if err := v.WriteConfigAs(tempPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("无法写入配置文件 %s: %w", path, err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("无法替换配置文件 %s: %w", path, err)
	}

	m.logger.Info("配置文件保存成功: %s", path)
	return nil
}

// ValidateConfig 验证配置
func (m *Manager) ValidateConfig(cfg *AppConfig) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}
	return cfg.Validate()
}

// RegisterCallback 注册配置变更回调
func (m *Manager) RegisterCallback(callback Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, callback)
	m.logger.Debug("注册配置变更回调，当前回调数量: %d", len(m.callbacks))
}

// GetCurrentConfig 返回当前配置的副本
func (m *Manager) GetCurrentConfig() *AppConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		cfg := DefaultConfig()
		return &cfg
	}
	cfg := *m.current
	return &cfg
}

// UpdateConfig 更新当前配置并执行回调，回调失败不回滚
func (m *Manager) UpdateConfig(cfg *AppConfig) error {
	return m.update(cfg, ChangeTypeUpdate, "api")
}

func (m *Manager) update(cfg *AppConfig, changeType ChangeType, source string) error {
	if err := m.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("配置验证失败: %w", err)
	}

	m.mu.Lock()
	old := m.current
	m.current = cfg
	callbacks := make([]Callback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	for _, callback := range callbacks {
		if err := callback(old, cfg); err != nil {
			m.logger.Error("配置变更回调执行失败: %v", err)
		}
	}

	if err := m.notifier.Notify(ConfigChangeEvent{
		Type:      changeType,
		OldConfig: old,
		NewConfig: cfg,
		Source:    source,
	}); err != nil {
		m.logger.Warn("发送配置变更通知失败: %v", err)
	}

	m.logger.Info("配置更新成功")
	return nil
}

// Notifier 返回配置变更通知器
func (m *Manager) Notifier() *Notifier {
	return m.notifier
}

// WatchConfig 监控配置文件，文件变化时重新加载并更新当前配置
func (m *Manager) WatchConfig(path string) error {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("无法读取配置文件 %s: %w", path, err)
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		m.logger.Info("检测到配置文件变化: %s", e.Name)
		cfg, err := decode(v)
		if err != nil {
			m.logger.Error("重新加载配置失败: %v", err)
			return
		}
		if err := m.update(cfg, ChangeTypeReload, e.Name); err != nil {
			m.logger.Error("应用新配置失败: %v", err)
		}
	})
	v.WatchConfig()

	m.logger.Info("开始监控配置文件: %s", path)
	return nil
}

// Close 关闭通知器
func (m *Manager) Close() error {
	return m.notifier.Close()
}

// Flatten 将配置展开为 viper 键值，时长以字符串保存
func Flatten(cfg AppConfig) map[string]interface{} {
	return map[string]interface{}{
		"manager.response_timeout":   cfg.Manager.ResponseTimeout.String(),
		"manager.mailbox_queue_hint": cfg.Manager.MailboxQueueHint,
		"manager.log_level":          cfg.Manager.LogLevel,

		"transport.type":             cfg.Transport.Type,
		"transport.network":          cfg.Transport.Network,
		"transport.address":          cfg.Transport.Address,
		"transport.address_id":       cfg.Transport.AddressID,
		"transport.dial_timeout":     cfg.Transport.DialTimeout.String(),
		"transport.dbus.system_bus":  cfg.Transport.DBus.SystemBus,
		"transport.dbus.destination": cfg.Transport.DBus.Destination,
		"transport.dbus.path":        cfg.Transport.DBus.Path,
		"transport.dbus.interface":   cfg.Transport.DBus.Interface,

		"bridge.enabled":         cfg.Bridge.Enabled,
		"bridge.broker":          cfg.Bridge.Broker,
		"bridge.client_id":       cfg.Bridge.ClientID,
		"bridge.topic_prefix":    cfg.Bridge.TopicPrefix,
		"bridge.qos":             cfg.Bridge.QoS,
		"bridge.retained":        cfg.Bridge.Retained,
		"bridge.publish_timeout": cfg.Bridge.PublishTimeout.String(),
		"bridge.include_audio":   cfg.Bridge.IncludeAudio,
		"bridge.queue_size":      cfg.Bridge.QueueSize,
	}
}

// defaultLogger 默认日志实现
type defaultLogger struct{}

func (l *defaultLogger) Info(msg string, args ...interface{}) {
	fmt.Printf("[INFO] "+msg+"\n", args...)
}

func (l *defaultLogger) Warn(msg string, args ...interface{}) {
	fmt.Printf("[WARN] "+msg+"\n", args...)
}

func (l *defaultLogger) Error(msg string, args ...interface{}) {
	fmt.Printf("[ERROR] "+msg+"\n", args...)
}

func (l *defaultLogger) Debug(msg string, args ...interface{}) {
	fmt.Printf("[DEBUG] "+msg+"\n", args...)
}
