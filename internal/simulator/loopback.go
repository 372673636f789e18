package simulator

import (
	"github.com/Anniext/hdsm/internal/transport"
	"github.com/Anniext/hdsm/pkg/btpm"
)

// Pair 创建模拟服务端与连接到它的进程内通道
func Pair(addressID uint32, logs *btpm.LogManager) (*Server, *transport.Loopback) {
	server := NewServer(addressID, logs)
	channel := transport.NewLoopback(addressID, server.HandleRequest)
	server.Attach(channel.Deliver)
	return server, channel
}
