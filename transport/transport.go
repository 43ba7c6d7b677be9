package transport

import (
	"context"
	"errors"
	"io"
	"net"
)

var (
	// ErrNotOpen 在已关闭的 transport 上读写时返回。
	ErrNotOpen = errors.New("transport: not open")

	// ErrFrameTooLarge 帧长度超过 MaxFrameSize。
	ErrFrameTooLarge = errors.New("transport: frame too large")
)

// Transport 是连接上的字节流抽象。
type Transport interface {
	io.ReadWriteCloser

	// Flush 把缓冲中的写数据推到底层连接。
	Flush(ctx context.Context) error

	// Peek 报告是否还有可读数据；可能阻塞到数据到达或对端关闭。
	Peek() bool

	IsOpen() bool
}

// ServerTransport 是监听端的抽象。
type ServerTransport interface {
	Listen() error
	Accept() (Transport, error)
	Close() error

	// Interrupt 打断阻塞中的 Accept，之后 Accept 返回错误。
	Interrupt() error
}

// Factory 为每个连接包装出 transport（缓冲、分帧等）。
// 输入与输出方向各自调用一次，可以返回同一个对象。
type Factory interface {
	GetTransport(trans Transport) (Transport, error)
}

type passthroughFactory struct{}

// NewFactory 返回原样透传的 Factory。
func NewFactory() Factory { return passthroughFactory{} }

func (passthroughFactory) GetTransport(trans Transport) (Transport, error) { return trans, nil }

// IsEOF 判断错误是否代表对端正常断开。
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, ErrNotOpen)
}
