package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/legamerdc/mtrpc/internal/logger"
	"github.com/legamerdc/mtrpc/protocol"
	"github.com/legamerdc/mtrpc/transport"
)

var ErrClosed = errors.New("client: closed")

type options struct {
	transFactory transport.Factory
	protFactory  protocol.Factory
	sockCfg      transport.SocketConfig
}

type Option func(*options)

// WithTransportFactory 需与服务端的 transport 一致（例如都用 framed）。
func WithTransportFactory(f transport.Factory) Option {
	return func(o *options) { o.transFactory = f }
}

func WithProtocolFactory(f protocol.Factory) Option {
	return func(o *options) { o.protFactory = f }
}

func WithSocketConfig(cfg transport.SocketConfig) Option {
	return func(o *options) { o.sockCfg = cfg }
}

// Client 是同步 RPC 客户端，同一时刻只有一个调用在途。
type Client struct {
	mu     sync.Mutex
	sock   *transport.Socket
	trans  transport.Transport
	prot   protocol.Protocol
	seqID  int32
	closed bool
}

func Dial(network, address string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), network, address, opts...)
}

func DialContext(ctx context.Context, network, address string, opts ...Option) (*Client, error) {
	o := options{
		transFactory: transport.NewFactory(),
		protFactory:  protocol.NewBinaryProtocolFactoryDefault(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	sock, err := transport.DialSocket(ctx, network, address, o.sockCfg)
	if err != nil {
		return nil, err
	}
	return newClient(sock, o)
}

func newClient(sock *transport.Socket, o options) (*Client, error) {
	trans, err := o.transFactory.GetTransport(sock)
	if err != nil {
		_ = sock.Close()
		return nil, err
	}
	return &Client{
		sock:  sock,
		trans: trans,
		prot:  o.protFactory.GetProtocol(trans),
	}, nil
}

// Call 发送 CALL 并等待 REPLY。
// 对端返回 EXCEPTION 时错误为 *protocol.ApplicationError。
func (c *Client) Call(ctx context.Context, method string, writeArgs, readResult func(protocol.Protocol) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	defer c.applyDeadline(ctx)()

	c.seqID++
	seqID := c.seqID
	if err := c.send(ctx, method, protocol.Call, seqID, writeArgs); err != nil {
		return err
	}

	name, typ, rseq, err := c.prot.ReadMessageBegin(ctx)
	if err != nil {
		return err
	}
	switch {
	case typ == protocol.Exception:
		appErr, err := protocol.ReadApplicationError(ctx, c.prot)
		if err != nil {
			return err
		}
		return appErr
	case typ != protocol.Reply:
		return protocol.NewApplicationError(protocol.InvalidMessageType,
			fmt.Sprintf("client: %s: unexpected message type %s", method, typ))
	case rseq != seqID:
		return protocol.NewApplicationError(protocol.BadSequenceID,
			fmt.Sprintf("client: %s: sequence id %d, want %d", method, rseq, seqID))
	case name != method:
		return protocol.NewApplicationError(protocol.WrongMethodName,
			fmt.Sprintf("client: reply for %q, want %q", name, method))
	}
	if readResult != nil {
		if err := readResult(c.prot); err != nil {
			return err
		}
	}
	return c.prot.ReadMessageEnd(ctx)
}

// Oneway 发送 ONEWAY 消息，不等待响应。
func (c *Client) Oneway(ctx context.Context, method string, writeArgs func(protocol.Protocol) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	defer c.applyDeadline(ctx)()

	c.seqID++
	return c.send(ctx, method, protocol.Oneway, c.seqID, writeArgs)
}

func (c *Client) send(ctx context.Context, method string, typ protocol.MessageType, seqID int32, writeArgs func(protocol.Protocol) error) error {
	if err := c.prot.WriteMessageBegin(ctx, method, typ, seqID); err != nil {
		return err
	}
	if writeArgs != nil {
		if err := writeArgs(c.prot); err != nil {
			return err
		}
	}
	if err := c.prot.WriteMessageEnd(ctx); err != nil {
		return err
	}
	return c.prot.Flush(ctx)
}

// applyDeadline 把 ctx 的 deadline 设到连接上，返回的函数负责清除。
func (c *Client) applyDeadline(ctx context.Context) func() {
	dl, ok := ctx.Deadline()
	if !ok {
		return func() {}
	}
	conn := c.sock.Conn()
	_ = conn.SetDeadline(dl)
	return func() { _ = conn.SetDeadline(time.Time{}) }
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	err := c.trans.Close()
	if cerr := c.sock.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Debug("client: close failed", "error", err)
	}
	return err
}
