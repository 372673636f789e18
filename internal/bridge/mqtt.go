package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Anniext/hdsm/pkg/btpm"
	"github.com/Anniext/hdsm/pkg/hdsm"
)

const componentBridge = "bridge.mqtt"

// Config MQTT 事件桥配置
type Config struct {
	Enabled        bool          `json:"enabled" mapstructure:"enabled"`                 // 是否启用
	Broker         string        `json:"broker" mapstructure:"broker"`                   // 代理地址，如 tcp://localhost:1883
	ClientID       string        `json:"client_id" mapstructure:"client_id"`             // 为空时自动生成
	TopicPrefix    string        `json:"topic_prefix" mapstructure:"topic_prefix"`       // 主题前缀
	QoS            byte          `json:"qos" mapstructure:"qos"`                         // 0、1 或 2
	Retained       bool          `json:"retained" mapstructure:"retained"`               // 保留消息
	PublishTimeout time.Duration `json:"publish_timeout" mapstructure:"publish_timeout"` // 发布等待超时
	IncludeAudio   bool          `json:"include_audio" mapstructure:"include_audio"`     // 是否转发音频数据
	QueueSize      int           `json:"queue_size" mapstructure:"queue_size"`           // 待发布事件队列长度
}

// ErrQueueFull 待发布队列已满，事件被丢弃
var ErrQueueFull = errors.New("事件桥发布队列已满")

// ErrBridgeClosed 事件桥已关闭
var ErrBridgeClosed = errors.New("事件桥已关闭")

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Broker:         "tcp://localhost:1883",
		TopicPrefix:    "hdsm",
		QoS:            0,
		PublishTimeout: 2 * time.Second,
		QueueSize:      256,
	}
}

// Validate 验证配置，未启用时不检查
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Broker == "" {
		return fmt.Errorf("MQTT 代理地址不能为空")
	}
	if c.QoS > 2 {
		return fmt.Errorf("无效的 QoS: %d", c.QoS)
	}
	if strings.ContainsAny(c.TopicPrefix, "+#") {
		return fmt.Errorf("主题前缀不能包含通配符: %s", c.TopicPrefix)
	}
	if c.PublishTimeout <= 0 {
		return fmt.Errorf("发布超时必须大于0")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("发布队列长度必须大于0")
	}
	return nil
}

// Publisher 发布消息的最小接口，mqtt.Client 满足该接口
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// EventMessage 发布到 MQTT 的事件消息
type EventMessage struct {
	ID                  string    `json:"id"`
	Source              string    `json:"source"`
	Timestamp           time.Time `json:"timestamp"`
	Event               string    `json:"event"`
	ConnectionType      string    `json:"connection_type"`
	RemoteAddress       string    `json:"remote_address"`
	ConnectionStatus    string    `json:"connection_status,omitempty"`
	DisconnectReason    string    `json:"disconnect_reason,omitempty"`
	Successful          *bool     `json:"successful,omitempty"`
	Gain                *uint32   `json:"gain,omitempty"`
	DataEventsHandlerID uint32    `json:"data_events_handler_id,omitempty"`
	AudioDataFlags      uint32    `json:"audio_data_flags,omitempty"`
	AudioDataLength     int       `json:"audio_data_length,omitempty"`
	AudioData           []byte    `json:"audio_data,omitempty"`
}

// EventBridge 将耳机管理器事件转发到 MQTT。
// 回调只把事件放入队列，由单独的协程等待代理确认
type EventBridge struct {
	publisher Publisher
	config    Config
	source    string
	logs      *btpm.LogManager

	mu     sync.RWMutex
	closed bool
	queue  chan *hdsm.Event
	done   chan struct{}

	published atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewEventBridge 创建事件桥并启动发布协程，source 标识事件来源
func NewEventBridge(publisher Publisher, cfg Config, source string, logs *btpm.LogManager) *EventBridge {
	if logs == nil {
		logs = btpm.NewLogManager(nil)
	}
	defaults := DefaultConfig()
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = defaults.PublishTimeout
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	b := &EventBridge{
		publisher: publisher,
		config:    cfg,
		source:    source,
		logs:      logs,
		queue:     make(chan *hdsm.Event, cfg.QueueSize),
		done:      make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *EventBridge) run() {
	defer close(b.done)
	for event := range b.queue {
		_ = b.Publish(event)
	}
}

// Enqueue 复制事件放入发布队列，不等待代理。队列满时丢弃并返回 ErrQueueFull
func (b *EventBridge) Enqueue(event *hdsm.Event) error {
	if event == nil {
		return btpm.ErrInvalidParameter
	}
	if event.Type == hdsm.EventAudioData && !b.config.IncludeAudio {
		return nil
	}

	copied := *event
	copied.AudioData = append([]byte(nil), event.AudioData...)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBridgeClosed
	}
	select {
	case b.queue <- &copied:
		return nil
	default:
		b.dropped.Add(1)
		b.logs.LogWarn(componentBridge, "发布队列已满，丢弃事件", "event", event.Type.String())
		return ErrQueueFull
	}
}

// Close 停止接收事件，等待队列中的事件发布完毕或 ctx 结束
func (b *EventBridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.queue)
	}
	b.mu.Unlock()

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Topic 返回事件的发布主题：前缀/角色/事件
func Topic(prefix string, event *hdsm.Event) string {
	parts := make([]string, 0, 3)
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append(parts, p)
	}
	parts = append(parts, event.ConnectionType.String(), event.Type.String())
	return strings.Join(parts, "/")
}

// NewEventMessage 将事件转换为消息
func NewEventMessage(source string, event *hdsm.Event, includeAudio bool) *EventMessage {
	msg := &EventMessage{
		ID:             uuid.NewString(),
		Source:         source,
		Timestamp:      time.Now().UTC(),
		Event:          event.Type.String(),
		ConnectionType: event.ConnectionType.String(),
		RemoteAddress:  event.RemoteAddress.String(),
	}

	switch event.Type {
	case hdsm.EventConnectionStatus:
		msg.ConnectionStatus = event.ConnectionStatus.String()
	case hdsm.EventDisconnected:
		msg.DisconnectReason = event.DisconnectReason.String()
	case hdsm.EventAudioConnectionStatus:
		ok := event.Successful
		msg.Successful = &ok
	case hdsm.EventSpeakerGainIndication, hdsm.EventMicrophoneGainIndication:
		gain := event.Gain
		msg.Gain = &gain
	case hdsm.EventAudioData:
		msg.DataEventsHandlerID = event.DataEventsHandlerID
		msg.AudioDataFlags = event.AudioDataFlags
		msg.AudioDataLength = len(event.AudioData)
		if includeAudio {
			msg.AudioData = event.AudioData
		}
	}
	return msg
}

// Publish 同步发布一个事件并等待代理确认
func (b *EventBridge) Publish(event *hdsm.Event) error {
	if event == nil {
		return btpm.ErrInvalidParameter
	}
	if event.Type == hdsm.EventAudioData && !b.config.IncludeAudio {
		return nil
	}

	payload, err := json.Marshal(NewEventMessage(b.source, event, b.config.IncludeAudio))
	if err != nil {
		b.failed.Add(1)
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	topic := Topic(b.config.TopicPrefix, event)
	token := b.publisher.Publish(topic, b.config.QoS, b.config.Retained, payload)
	if !token.WaitTimeout(b.config.PublishTimeout) {
		b.failed.Add(1)
		b.logs.LogWarn(componentBridge, "等待发布确认超时", "topic", topic)
		return fmt.Errorf("发布到 %s 超时", topic)
	}
	if err := token.Error(); err != nil {
		b.failed.Add(1)
		b.logs.LogWarn(componentBridge, "发布事件失败", "topic", topic, "error", err)
		return fmt.Errorf("发布到 %s 失败: %w", topic, err)
	}

	b.published.Add(1)
	b.logs.LogDebug(componentBridge, "事件已发布", "topic", topic)
	return nil
}

// Callback 返回可注册到管理器的事件回调，事件经队列异步发布
func (b *EventBridge) Callback() hdsm.EventCallback {
	return b.Enqueue
}

// DataCallback 返回数据回调：先交给 next，启用音频转发时再放入发布队列
func (b *EventBridge) DataCallback(next hdsm.EventCallback) hdsm.EventCallback {
	return func(event *hdsm.Event) error {
		var err error
		if next != nil {
			err = next(event)
		}
		if b.config.IncludeAudio {
			if qerr := b.Enqueue(event); qerr != nil && err == nil {
				err = qerr
			}
		}
		return err
	}
}

// Stats 返回发布成功与失败次数
func (b *EventBridge) Stats() (published, failed uint64) {
	return b.published.Load(), b.failed.Load()
}

// Dropped 返回因队列已满被丢弃的事件数
func (b *EventBridge) Dropped() uint64 {
	return b.dropped.Load()
}

// Attach 以普通订阅者身份为每个角色注册事件回调，返回回调ID
func (b *EventBridge) Attach(ctx context.Context, m *hdsm.Manager, roles ...hdsm.ConnectionType) ([]uint32, error) {
	ids := make([]uint32, 0, len(roles))
	for _, ct := range roles {
		id, err := m.RegisterEventCallback(ctx, ct, false, b.Callback())
		if err != nil {
			for _, registered := range ids {
				_ = m.UnregisterEventCallback(ctx, registered)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// AttachData 为每个角色注册数据回调，音频数据交给 next 并按配置转发。
// 每个角色只能有一个数据回调，失败时撤销已注册的回调
func (b *EventBridge) AttachData(ctx context.Context, m *hdsm.Manager, next hdsm.EventCallback, roles ...hdsm.ConnectionType) ([]uint32, error) {
	ids := make([]uint32, 0, len(roles))
	for _, ct := range roles {
		id, err := m.RegisterDataEventCallback(ctx, ct, b.DataCallback(next))
		if err != nil {
			for _, registered := range ids {
				_ = m.UnregisterDataEventCallback(ctx, registered)
			}
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Connect 按配置连接 MQTT 代理
func Connect(cfg Config, logs *btpm.LogManager) (mqtt.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logs == nil {
		logs = btpm.NewLogManager(nil)
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "hdsm-" + uuid.NewString()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.PublishTimeout).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logs.LogWarn(componentBridge, "MQTT 连接断开", "error", err)
		}).
		SetOnConnectHandler(func(mqtt.Client) {
			logs.LogInfo(componentBridge, "MQTT 已连接", "broker", cfg.Broker, "client_id", clientID)
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.PublishTimeout) {
		return nil, fmt.Errorf("连接 MQTT 代理 %s 超时", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("连接 MQTT 代理 %s 失败: %w", cfg.Broker, err)
	}
	return client, nil
}
