package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"
)

// SocketConfig 为单个连接的超时配置，0 表示不设 deadline。
type SocketConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Socket 是基于 net.Conn 的 Transport。
// 读侧带一个小缓冲，用于实现不消费数据的 Peek。
type Socket struct {
	conn net.Conn
	rd   *bufio.Reader
	cfg  SocketConfig

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

const socketReadBuf = 4 << 10

// NewSocket 包装一个已建立的连接。
func NewSocket(conn net.Conn, cfg SocketConfig) *Socket {
	return &Socket{
		conn: conn,
		rd:   bufio.NewReaderSize(conn, socketReadBuf),
		cfg:  cfg,
	}
}

// DialSocket 主动建立连接，供 client 使用。
func DialSocket(ctx context.Context, network, address string, cfg SocketConfig) (*Socket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, err
	}
	return NewSocket(conn, cfg), nil
}

// Conn 返回底层连接。
func (s *Socket) Conn() net.Conn { return s.conn }

func (s *Socket) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *Socket) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.closed
}

func (s *Socket) Read(p []byte) (int, error) {
	if !s.IsOpen() {
		return 0, ErrNotOpen
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	return s.rd.Read(p)
}

func (s *Socket) Write(p []byte) (int, error) {
	if !s.IsOpen() {
		return 0, ErrNotOpen
	}
	if s.cfg.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return s.conn.Write(p)
}

// Flush 无缓冲写，直接返回。
func (s *Socket) Flush(ctx context.Context) error {
	if !s.IsOpen() {
		return ErrNotOpen
	}
	return ctx.Err()
}

// Peek 阻塞到至少一个字节可读；对端关闭、超时或出错时返回 false。
func (s *Socket) Peek() bool {
	if !s.IsOpen() {
		return false
	}
	if s.rd.Buffered() > 0 {
		return true
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	}
	_, err := s.rd.Peek(1)
	return err == nil
}

// Close 可重复调用，只有第一次真正关闭连接。
func (s *Socket) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
