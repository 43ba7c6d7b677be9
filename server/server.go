package server

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/legamerdc/mtrpc/internal/logger"
	"github.com/legamerdc/mtrpc/pool"
	"github.com/legamerdc/mtrpc/protocol"
	"github.com/legamerdc/mtrpc/transport"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// WorkerPool 是 Server 对 worker pool 的最小需求，*pool.Pool 满足它。
type WorkerPool interface {
	Submit(t pool.Task) error
	Shutdown(wait, cancelQueued bool) []pool.Task
}

type Option func(*Server)

func WithInputTransportFactory(f transport.Factory) Option {
	return func(s *Server) { s.inTransFactory = f }
}

func WithOutputTransportFactory(f transport.Factory) Option {
	return func(s *Server) { s.outTransFactory = f }
}

// WithTransportFactory 同时设置输入和输出方向。
func WithTransportFactory(f transport.Factory) Option {
	return func(s *Server) {
		s.inTransFactory = f
		s.outTransFactory = f
	}
}

func WithInputProtocolFactory(f protocol.Factory) Option {
	return func(s *Server) { s.inProtFactory = f }
}

func WithOutputProtocolFactory(f protocol.Factory) Option {
	return func(s *Server) { s.outProtFactory = f }
}

// WithProtocolFactory 同时设置输入和输出方向。
func WithProtocolFactory(f protocol.Factory) Option {
	return func(s *Server) {
		s.inProtFactory = f
		s.outProtFactory = f
	}
}

// WithMaxConcurrency 设置同时处理的连接数上限，<= 0 时取 CPU 核数。
// 使用 WithWorkerPool 时忽略。
func WithMaxConcurrency(n int) Option {
	return func(s *Server) { s.maxConcurrency = n }
}

// WithWorkerPool 替换内置 pool。
func WithWorkerPool(p WorkerPool) Option {
	return func(s *Server) { s.workers = p }
}

// Server 在调用方 goroutine 上 accept，把每个连接交给 pool 中的 worker。
type Server struct {
	serverTransport transport.ServerTransport
	inTransFactory  transport.Factory
	outTransFactory transport.Factory
	inProtFactory   protocol.Factory
	outProtFactory  protocol.Factory
	processor       Processor

	maxConcurrency int
	workers        WorkerPool

	running atomic.Bool

	mu      sync.Mutex
	serving bool
	stopped bool
	done    chan struct{}
}

// NewServer 创建 Server；未设置的 factory 取透传 transport 和 binary protocol。
func NewServer(processor Processor, serverTransport transport.ServerTransport, opts ...Option) (*Server, error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}
	if serverTransport == nil {
		return nil, ErrNilTransport
	}
	s := &Server{
		serverTransport: serverTransport,
		processor:       processor,
		done:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.inTransFactory == nil {
		s.inTransFactory = transport.NewFactory()
	}
	if s.outTransFactory == nil {
		s.outTransFactory = transport.NewFactory()
	}
	if s.inProtFactory == nil {
		s.inProtFactory = protocol.NewBinaryProtocolFactoryDefault()
	}
	if s.outProtFactory == nil {
		s.outProtFactory = protocol.NewBinaryProtocolFactoryDefault()
	}
	if s.workers == nil {
		s.workers = pool.New(s.maxConcurrency)
	}
	return s, nil
}

// IsRunning 报告 accept 循环是否在运行。
func (s *Server) IsRunning() bool { return s.running.Load() }

// Serve 监听并循环 accept，直到 Stop。
// 监听失败返回 *ListenError；否则总是返回 ErrServerStopped。
func (s *Server) Serve() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrServerStopped
	}
	if s.serving {
		s.mu.Unlock()
		return ErrServerRunning
	}
	if err := s.serverTransport.Listen(); err != nil {
		s.mu.Unlock()
		logger.Error("server: listen failed", "error", err)
		return &ListenError{Err: err}
	}
	s.serving = true
	s.running.Store(true)
	s.mu.Unlock()

	logger.Info("server: serving")
	s.acceptLoop()

	if err := s.serverTransport.Close(); err != nil {
		logger.Debug("server: close listener failed", "error", err)
	}
	logger.Info("server: stopped")
	return ErrServerStopped
}

func (s *Server) acceptLoop() {
	var delay time.Duration
	for s.running.Load() {
		conn, err := s.serverTransport.Accept()
		if err != nil {
			if !s.running.Load() {
				return
			}
			delay = nextAcceptDelay(delay)
			logger.Error("server: accept failed", "error", err, "retry_in", delay)
			if !s.sleep(delay) {
				return
			}
			continue
		}
		delay = 0
		if !s.running.Load() {
			closeTransport(conn, "accepted")
			return
		}
		if err := s.workers.Submit(&connTask{server: s, conn: conn}); err != nil {
			logger.Error("server: submit connection failed", "remote_addr", remoteAddr(conn), "error", err)
			closeTransport(conn, "accepted")
		}
	}
}

// nextAcceptDelay 指数退避，避免 fd 耗尽等持续错误时空转。
func nextAcceptDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	d *= 2
	if d > maxAcceptDelay {
		d = maxAcceptDelay
	}
	return d
}

// sleep 等待 d，期间 Stop 则提前返回 false。
func (s *Server) sleep(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.done:
		return false
	}
}

// Stop 停止 accept，丢弃排队中的连接并等待正在处理的连接结束。
// 可重复调用，也可以在 Serve 之前调用。
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.running.Store(false)
	close(s.done)
	s.mu.Unlock()

	var err error
	if ierr := s.serverTransport.Interrupt(); ierr != nil {
		err = fmt.Errorf("server: interrupt: %w", ierr)
	}
	dropped := s.workers.Shutdown(true, true)
	for _, t := range dropped {
		if ct, ok := t.(*connTask); ok {
			closeTransport(ct.conn, "queued")
		}
	}
	if len(dropped) > 0 {
		logger.Info("server: dropped queued connections", "count", len(dropped))
	}
	return err
}
