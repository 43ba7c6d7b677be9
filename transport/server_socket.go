package transport

import (
	"context"
	"errors"
	"net"
	"sync"

	"github.com/legamerdc/mtrpc/internal/logger"
	"github.com/legamerdc/mtrpc/internal/netutil"
)

// ServerSocketOption 调整 ServerSocket 的行为。
type ServerSocketOption func(*ServerSocket)

// WithReusePort 启用 SO_REUSEPORT，便于多进程共享端口。
func WithReusePort(enable bool) ServerSocketOption {
	return func(s *ServerSocket) { s.listenOpts.ReusePort = enable }
}

// WithSocketBuffers 设置监听 socket 的 SO_RCVBUF/SO_SNDBUF，accept 的连接继承该值；0 表示系统默认。
func WithSocketBuffers(recv, send int) ServerSocketOption {
	return func(s *ServerSocket) {
		s.listenOpts.RecvBuf = recv
		s.listenOpts.SendBuf = send
	}
}

// WithNoDelay 对 accept 到的 TCP 连接设置 TCP_NODELAY。
func WithNoDelay(enable bool) ServerSocketOption {
	return func(s *ServerSocket) { s.noDelay = enable }
}

// WithSocketConfig 设置每个连接的读写超时。
func WithSocketConfig(cfg SocketConfig) ServerSocketOption {
	return func(s *ServerSocket) { s.sockCfg = cfg }
}

// WithListener 使用外部已创建的 listener，Listen 不再自行创建。
func WithListener(l net.Listener) ServerSocketOption {
	return func(s *ServerSocket) { s.listener = l }
}

// ServerSocket 是 TCP（或 unix）监听 transport。
type ServerSocket struct {
	network    string
	address    string
	listenOpts netutil.ListenOptions
	noDelay    bool
	sockCfg    SocketConfig

	mu          sync.Mutex
	listener    net.Listener
	interrupted bool
}

// NewServerSocket 创建未监听的 ServerSocket。
func NewServerSocket(network, address string, opts ...ServerSocketOption) *ServerSocket {
	s := &ServerSocket{
		network:    network,
		address:    address,
		listenOpts: netutil.ListenOptions{ReuseAddr: true},
		noDelay:    true,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen 创建监听；已监听时直接返回。
func (s *ServerSocket) Listen() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interrupted {
		return ErrNotOpen
	}
	if s.listener != nil {
		return nil
	}
	lc := net.ListenConfig{Control: netutil.ListenControl(s.listenOpts)}
	l, err := lc.Listen(context.Background(), s.network, s.address)
	if err != nil {
		return err
	}
	s.listener = l
	logger.Info("transport: listening", "network", s.network, "addr", l.Addr().String())
	return nil
}

// Addr 返回实际监听地址；未监听时为 nil。
func (s *ServerSocket) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *ServerSocket) Accept() (Transport, error) {
	s.mu.Lock()
	l, interrupted := s.listener, s.interrupted
	s.mu.Unlock()
	if interrupted || l == nil {
		return nil, ErrNotOpen
	}
	conn, err := l.Accept()
	if err != nil {
		return nil, err
	}
	if err := netutil.ConfigureConn(conn, s.noDelay); err != nil {
		logger.Debug("transport: set socket options failed", "remote_addr", conn.RemoteAddr(), "error", err)
	}
	return NewSocket(conn, s.sockCfg), nil
}

// Interrupt 标记中断并关闭 listener，阻塞中的 Accept 随即返回。
func (s *ServerSocket) Interrupt() error {
	s.mu.Lock()
	s.interrupted = true
	s.mu.Unlock()
	return s.Close()
}

// Close 可重复调用。
func (s *ServerSocket) Close() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		return nil
	}
	if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
