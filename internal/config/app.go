package config

import (
	"fmt"
	"time"

	"github.com/Anniext/hdsm/internal/bridge"
	"github.com/Anniext/hdsm/internal/transport"
	"github.com/Anniext/hdsm/pkg/hdsm"
)

// 传输类型
const (
	TransportSocket    = "socket" // Unix 或 TCP 流
	TransportDBus      = "dbus"   // D-Bus 方法调用与信号
	TransportSimulator = "sim"    // 进程内模拟服务端
)

// TransportConfig 到平台管理器服务端的传输配置
type TransportConfig struct {
	Type        string        `json:"type" mapstructure:"type"`                 // socket、dbus 或 sim
	Network     string        `json:"network" mapstructure:"network"`           // unix 或 tcp
	Address     string        `json:"address" mapstructure:"address"`           // 套接字地址
	AddressID   uint32        `json:"address_id" mapstructure:"address_id"`     // 服务端地址ID
	DialTimeout time.Duration `json:"dial_timeout" mapstructure:"dial_timeout"` // 连接超时
	DBus        DBusConfig    `json:"dbus" mapstructure:"dbus"`                 // D-Bus 参数
}

// DBusConfig D-Bus 传输参数
type DBusConfig struct {
	SystemBus   bool   `json:"system_bus" mapstructure:"system_bus"`
	Destination string `json:"destination" mapstructure:"destination"`
	Path        string `json:"path" mapstructure:"path"`
	Interface   string `json:"interface" mapstructure:"interface"`
}

// AppConfig 应用配置
type AppConfig struct {
	Manager   hdsm.Config     `json:"manager" mapstructure:"manager"`     // 耳机管理器
	Transport TransportConfig `json:"transport" mapstructure:"transport"` // 传输
	Bridge    bridge.Config   `json:"bridge" mapstructure:"bridge"`       // MQTT 事件桥
}

// DefaultTransportConfig 返回默认传输配置
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Type:        TransportSocket,
		Network:     "unix",
		Address:     "/var/run/btpm.sock",
		AddressID:   1,
		DialTimeout: 5 * time.Second,
		DBus: DBusConfig{
			SystemBus:   true,
			Destination: transport.DefaultDBusDestination,
			Path:        string(transport.DefaultDBusPath),
			Interface:   transport.DefaultDBusInterface,
		},
	}
}

// DefaultConfig 返回默认应用配置
func DefaultConfig() AppConfig {
	return AppConfig{
		Manager:   hdsm.DefaultConfig(),
		Transport: DefaultTransportConfig(),
		Bridge:    bridge.DefaultConfig(),
	}
}

// Validate 验证传输配置
func (c TransportConfig) Validate() error {
	switch c.Type {
	case TransportSocket:
		if c.Network != "unix" && c.Network != "tcp" {
			return fmt.Errorf("无效的网络类型: %s", c.Network)
		}
		if c.Address == "" {
			return fmt.Errorf("套接字地址不能为空")
		}
		if c.DialTimeout <= 0 {
			return fmt.Errorf("连接超时必须大于0")
		}
	case TransportDBus:
		if c.DBus.Destination == "" || c.DBus.Path == "" || c.DBus.Interface == "" {
			return fmt.Errorf("D-Bus 目标、路径和接口不能为空")
		}
	case TransportSimulator:
	default:
		return fmt.Errorf("未知的传输类型: %s", c.Type)
	}
	return nil
}

// Validate 验证应用配置
func (c *AppConfig) Validate() error {
	if err := c.Manager.Validate(); err != nil {
		return fmt.Errorf("管理器配置无效: %w", err)
	}
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("传输配置无效: %w", err)
	}
	if err := c.Bridge.Validate(); err != nil {
		return fmt.Errorf("事件桥配置无效: %w", err)
	}
	return nil
}
