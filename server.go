package mtrpc

import (
	"net"

	"github.com/legamerdc/mtrpc/client"
	"github.com/legamerdc/mtrpc/internal/logger"
	"github.com/legamerdc/mtrpc/protocol"
	"github.com/legamerdc/mtrpc/server"
	"github.com/legamerdc/mtrpc/transport"
)

// Server 是按 Config 组装好的 server.Server，附带监听 socket。
type Server struct {
	*server.Server
	socket *transport.ServerSocket
	cfg    Config
}

// NewServer 按 cfg 构造未启动的 Server。
func NewServer(cfg Config, processor server.Processor) (*Server, error) {
	if processor == nil {
		return nil, ErrInvalidArgument
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Debug {
		logger.SetDebug(true)
	}

	socket := transport.NewServerSocket(cfg.Network, cfg.Address,
		transport.WithReusePort(cfg.ReusePort),
		transport.WithNoDelay(cfg.NoDelay),
		transport.WithSocketBuffers(cfg.RecvBufSize, cfg.SendBufSize),
		transport.WithSocketConfig(socketConfig(cfg)),
	)
	srv, err := server.NewServer(processor, socket,
		server.WithTransportFactory(transportFactory(cfg)),
		server.WithProtocolFactory(protocolFactory(cfg)),
		server.WithMaxConcurrency(cfg.MaxConcurrency),
	)
	if err != nil {
		return nil, err
	}
	logger.Debug("mtrpc: server created",
		"network", cfg.Network,
		"address", cfg.Address,
		"transport", cfg.Transport,
		"max_concurrency", cfg.MaxConcurrency)
	return &Server{Server: srv, socket: socket, cfg: cfg}, nil
}

// Addr 返回实际监听地址，Serve 之前为 nil。
func (s *Server) Addr() net.Addr { return s.socket.Addr() }

func (s *Server) Config() Config { return s.cfg }

// ClientOptions 返回与 cfg 匹配的客户端选项。
func ClientOptions(cfg Config) []client.Option {
	return []client.Option{
		client.WithTransportFactory(transportFactory(cfg)),
		client.WithProtocolFactory(protocolFactory(cfg)),
		client.WithSocketConfig(socketConfig(cfg)),
	}
}

func socketConfig(cfg Config) transport.SocketConfig {
	return transport.SocketConfig{ReadTimeout: cfg.ReadTimeout, WriteTimeout: cfg.WriteTimeout}
}

func transportFactory(cfg Config) transport.Factory {
	switch cfg.Transport {
	case TransportBuffered:
		return transport.NewBufferedTransportFactory(cfg.BufferSize)
	case TransportFramed:
		return transport.NewFramedTransportFactory(
			transport.WithMaxFrameSize(cfg.MaxFrameSize),
			transport.WithCompression(cfg.Compression, cfg.CompressMinSize),
		)
	default:
		return transport.NewFactory()
	}
}

func protocolFactory(cfg Config) protocol.Factory {
	return protocol.NewBinaryProtocolFactoryWithLimit(cfg.StrictRead, cfg.StrictWrite, cfg.MaxStringSize)
}
