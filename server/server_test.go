package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/legamerdc/mtrpc/internal/logger"
	"github.com/legamerdc/mtrpc/pool"
	"github.com/legamerdc/mtrpc/protocol"
	"github.com/legamerdc/mtrpc/transport"
)

// fakeConn 是不做 IO 的连接；Peek 返回 true 的次数由 peeks 决定。
type fakeConn struct {
	name   string
	peeks  atomic.Int32
	closes atomic.Int32
}

func newFakeConn(name string, peeks int) *fakeConn {
	c := &fakeConn{name: name}
	c.peeks.Store(int32(peeks))
	return c
}

func (c *fakeConn) Read(p []byte) (int, error) { return 0, io.EOF }
func (c *fakeConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *fakeConn) Flush(ctx context.Context) error { return nil }
func (c *fakeConn) Peek() bool { return c.peeks.Add(-1) >= 0 }
func (c *fakeConn) IsOpen() bool { return c.closes.Load() == 0 }

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	return nil
}

func (c *fakeConn) closed() bool { return c.closes.Load() > 0 }

type fakeServerTransport struct {
	listenErr error
	conns     chan transport.Transport

	mu         sync.Mutex
	acceptErrs []error
	listens    int
	closes     int

	accepted    atomic.Int32
	interrupted chan struct{}
	once        sync.Once
}

func newFakeServerTransport() *fakeServerTransport {
	return &fakeServerTransport{
		conns:       make(chan transport.Transport, 16),
		interrupted: make(chan struct{}),
	}
}

func (f *fakeServerTransport) Listen() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listens++
	return f.listenErr
}

func (f *fakeServerTransport) Accept() (transport.Transport, error) {
	f.mu.Lock()
	if len(f.acceptErrs) > 0 {
		err := f.acceptErrs[0]
		f.acceptErrs = f.acceptErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()
	select {
	case <-f.interrupted:
		return nil, transport.ErrNotOpen
	default:
	}
	select {
	case c := <-f.conns:
		f.accepted.Add(1)
		return c, nil
	case <-f.interrupted:
		return nil, transport.ErrNotOpen
	}
}

func (f *fakeServerTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeServerTransport) Interrupt() error {
	f.once.Do(func() { close(f.interrupted) })
	return nil
}

func (f *fakeServerTransport) listenCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens
}

// countingTransport 记录自己被 Close 的次数。
type countingTransport struct {
	transport.Transport
	closes atomic.Int32
}

func (c *countingTransport) Close() error {
	c.closes.Add(1)
	return c.Transport.Close()
}

type countingFactory struct {
	err  error
	mu   sync.Mutex
	made []*countingTransport
}

func (f *countingFactory) GetTransport(trans transport.Transport) (transport.Transport, error) {
	if f.err != nil {
		return nil, f.err
	}
	ct := &countingTransport{Transport: trans}
	f.mu.Lock()
	f.made = append(f.made, ct)
	f.mu.Unlock()
	return ct, nil
}

func (f *countingFactory) wrappers() []*countingTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*countingTransport(nil), f.made...)
}

type rejectingPool struct{}

func (rejectingPool) Submit(pool.Task) error { return pool.ErrClosed }
func (rejectingPool) Shutdown(wait, cancel bool) []pool.Task { return nil }

// connOf 取回 processor 所处理连接的 fakeConn。
func connOf(p protocol.Protocol) *fakeConn {
	t := p.Transport()
	if ct, ok := t.(*countingTransport); ok {
		t = ct.Transport
	}
	c, _ := t.(*fakeConn)
	return c
}

func startServer(t *testing.T, s *Server) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve() }()
	require.Eventually(t, s.IsRunning, time.Second, time.Millisecond)
	return errCh
}

func waitServe(t *testing.T, errCh <-chan error) {
	t.Helper()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrServerStopped)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Stop")
	}
}

func TestNewServerRejectsNil(t *testing.T) {
	_, err := NewServer(nil, newFakeServerTransport())
	assert.ErrorIs(t, err, ErrNilProcessor)

	proc := ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) { return false, nil })
	_, err = NewServer(proc, nil)
	assert.ErrorIs(t, err, ErrNilTransport)
}

func TestServerBoundedParallelism(t *testing.T) {
	var cur, peak atomic.Int32
	release := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		cur.Add(-1)
		return false, nil
	})

	st := newFakeServerTransport()
	s, err := NewServer(proc, st, WithMaxConcurrency(2))
	require.NoError(t, err)
	errCh := startServer(t, s)

	conns := make([]*fakeConn, 5)
	for i := range conns {
		conns[i] = newFakeConn("c", 0)
		st.conns <- conns[i]
	}

	require.Eventually(t, func() bool { return cur.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())

	close(release)
	require.Eventually(t, func() bool {
		for _, c := range conns {
			if !c.closed() {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())

	require.NoError(t, s.Stop())
	waitServe(t, errCh)
}

func TestServerPersistentConnectionLoop(t *testing.T) {
	var calls atomic.Int32
	proc := ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		calls.Add(1)
		return true, nil
	})

	st := newFakeServerTransport()
	s, err := NewServer(proc, st, WithMaxConcurrency(1))
	require.NoError(t, err)
	errCh := startServer(t, s)

	conn := newFakeConn("c", 3)
	st.conns <- conn
	require.Eventually(t, conn.closed, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	waitServe(t, errCh)

	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, int32(1), conn.closes.Load())
}

// syncBuffer 供多个 worker 并发写日志。
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestServerLogsPeekFailure(t *testing.T) {
	out := &syncBuffer{}
	logger.SetOutput(out)
	logger.SetLevel(slog.LevelDebug)
	t.Cleanup(func() {
		logger.SetLevel(slog.LevelInfo)
		logger.SetOutput(os.Stdout)
	})

	proc := ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		return true, nil
	})
	st := newFakeServerTransport()
	s, err := NewServer(proc, st, WithMaxConcurrency(1))
	require.NoError(t, err)
	errCh := startServer(t, s)

	// Peek 立即失败而连接仍打开，相当于读超时或连接被重置
	conn := newFakeConn("reset", 0)
	st.conns <- conn
	require.Eventually(t, conn.closed, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	waitServe(t, errCh)

	assert.Equal(t, int32(1), conn.closes.Load())
	assert.Contains(t, out.String(), "server: peek failed, closing connection")
}

func TestServerClosesEachWrapperOnce(t *testing.T) {
	in, out := &countingFactory{}, &countingFactory{}
	proc := ProcessorFunc(func(ctx context.Context, inp, outp protocol.Protocol) (bool, error) {
		if connOf(inp).name == "fail" {
			return false, errors.New("bad request")
		}
		return true, nil
	})

	st := newFakeServerTransport()
	s, err := NewServer(proc, st,
		WithInputTransportFactory(in),
		WithOutputTransportFactory(out),
		WithMaxConcurrency(2))
	require.NoError(t, err)
	errCh := startServer(t, s)

	a, b := newFakeConn("fail", 5), newFakeConn("ok", 2)
	st.conns <- a
	st.conns <- b
	require.Eventually(t, func() bool { return a.closed() && b.closed() }, time.Second, time.Millisecond)

	require.NoError(t, s.Stop())
	waitServe(t, errCh)

	require.Len(t, in.wrappers(), 2)
	require.Len(t, out.wrappers(), 2)
	for _, w := range append(in.wrappers(), out.wrappers()...) {
		assert.Equal(t, int32(1), w.closes.Load())
	}
}

func TestServerIsolatesConnectionFailures(t *testing.T) {
	var served atomic.Int32
	proc := ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		switch connOf(in).name {
		case "error":
			return false, errors.New("decode failed")
		case "eof":
			return false, io.EOF
		case "panic":
			panic("processor bug")
		}
		served.Add(1)
		return true, nil
	})

	st := newFakeServerTransport()
	s, err := NewServer(proc, st, WithMaxConcurrency(2))
	require.NoError(t, err)
	errCh := startServer(t, s)

	conns := []*fakeConn{
		newFakeConn("error", 1),
		newFakeConn("panic", 1),
		newFakeConn("eof", 1),
		newFakeConn("ok", 2),
	}
	for _, c := range conns {
		st.conns <- c
	}
	require.Eventually(t, func() bool {
		for _, c := range conns {
			if !c.closed() {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)

	assert.Equal(t, int32(3), served.Load())
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop())
	waitServe(t, errCh)
}

func TestServerStopBeforeServe(t *testing.T) {
	st := newFakeServerTransport()
	s, err := NewServer(ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		return false, nil
	}), st)
	require.NoError(t, err)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Serve(), ErrServerStopped)
	assert.Equal(t, 0, st.listenCount())
}

func TestServerStopTwiceWhileServing(t *testing.T) {
	st := newFakeServerTransport()
	s, err := NewServer(ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		return false, nil
	}), st)
	require.NoError(t, err)
	errCh := startServer(t, s)

	assert.ErrorIs(t, s.Serve(), ErrServerRunning)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	waitServe(t, errCh)
	assert.False(t, s.IsRunning())
	assert.ErrorIs(t, s.Serve(), ErrServerStopped)
}

func TestServerListenError(t *testing.T) {
	bindErr := errors.New("address in use")
	st := newFakeServerTransport()
	st.listenErr = bindErr
	s, err := NewServer(ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		return false, nil
	}), st)
	require.NoError(t, err)

	err = s.Serve()
	var le *ListenError
	require.ErrorAs(t, err, &le)
	assert.ErrorIs(t, err, bindErr)
	assert.False(t, s.IsRunning())
	assert.Equal(t, int32(0), st.accepted.Load())
	require.NoError(t, s.Stop())
}

func TestServerNoAcceptAfterStop(t *testing.T) {
	st := newFakeServerTransport()
	s, err := NewServer(ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		return false, nil
	}), st)
	require.NoError(t, err)
	errCh := startServer(t, s)

	require.NoError(t, s.Stop())
	waitServe(t, errCh)

	late := newFakeConn("late", 0)
	st.conns <- late
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), st.accepted.Load())
	assert.Len(t, st.conns, 1)
	assert.False(t, late.closed())
}

func TestServerGracefulDrain(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		if calls.Add(1) == 1 {
			close(started)
			<-release
		}
		return false, nil
	})

	st := newFakeServerTransport()
	s, err := NewServer(proc, st, WithMaxConcurrency(1))
	require.NoError(t, err)
	errCh := startServer(t, s)

	first := newFakeConn("first", 0)
	st.conns <- first
	<-started
	queued := []*fakeConn{newFakeConn("q1", 0), newFakeConn("q2", 0)}
	for _, c := range queued {
		st.conns <- c
	}
	require.Eventually(t, func() bool { return st.accepted.Load() == 3 }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- s.Stop() }()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a connection was still being processed")
	case <-time.After(50 * time.Millisecond):
	}
	assert.False(t, first.closed())

	close(release)
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	waitServe(t, errCh)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), first.closes.Load())
	for _, c := range queued {
		assert.Equal(t, int32(1), c.closes.Load())
	}
}

func TestServerAcceptErrorsAreTransient(t *testing.T) {
	var calls atomic.Int32
	st := newFakeServerTransport()
	st.acceptErrs = []error{errors.New("too many open files"), errors.New("too many open files")}
	s, err := NewServer(ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		calls.Add(1)
		return false, nil
	}), st)
	require.NoError(t, err)
	errCh := startServer(t, s)

	conn := newFakeConn("c", 0)
	st.conns <- conn
	require.Eventually(t, conn.closed, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, s.Stop())
	waitServe(t, errCh)
}

func TestServerSubmitFailureClosesConnection(t *testing.T) {
	st := newFakeServerTransport()
	s, err := NewServer(ProcessorFunc(func(ctx context.Context, in, out protocol.Protocol) (bool, error) {
		t.Error("processor must not run")
		return false, nil
	}), st, WithWorkerPool(rejectingPool{}))
	require.NoError(t, err)
	errCh := startServer(t, s)

	conn := newFakeConn("c", 0)
	st.conns <- conn
	require.Eventually(t, conn.closed, time.Second, time.Millisecond)
	assert.True(t, s.IsRunning())

	require.NoError(t, s.Stop())
	waitServe(t, errCh)
}

func TestServerWrapFailureClosesConnection(t *testing.T) {
	in := &countingFactory{}
	out := &countingFactory{err: errors.New("no buffer")}
	st := newFakeServerTransport()
	s, err := NewServer(ProcessorFunc(func(ctx context.Context, inp, outp protocol.Protocol) (bool, error) {
		t.Error("processor must not run")
		return false, nil
	}), st, WithInputTransportFactory(in), WithOutputTransportFactory(out))
	require.NoError(t, err)
	errCh := startServer(t, s)

	conn := newFakeConn("c", 0)
	st.conns <- conn
	require.Eventually(t, conn.closed, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return len(in.wrappers()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), in.wrappers()[0].closes.Load())

	require.NoError(t, s.Stop())
	waitServe(t, errCh)
}

func TestNextAcceptDelay(t *testing.T) {
	d := nextAcceptDelay(0)
	assert.Equal(t, minAcceptDelay, d)
	for i := 0; i < 20; i++ {
		d = nextAcceptDelay(d)
	}
	assert.Equal(t, maxAcceptDelay, d)
}
