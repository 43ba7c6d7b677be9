package transport

import (
	"bufio"
	"context"

	"github.com/legamerdc/mtrpc/internal/ring"
)

const defaultBufferSize = 4 << 10

// BufferedTransport 在底层 transport 之上加读写缓冲。
// 读侧使用环形缓冲，Peek 先看缓冲再退回底层。
type BufferedTransport struct {
	trans Transport
	rbuf  *ring.Buffer
	wbuf  *bufio.Writer
}

func NewBufferedTransport(trans Transport, size int) *BufferedTransport {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &BufferedTransport{
		trans: trans,
		rbuf:  ring.New(size),
		wbuf:  bufio.NewWriterSize(trans, size),
	}
}

func (t *BufferedTransport) IsOpen() bool { return t.trans.IsOpen() }

func (t *BufferedTransport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if t.rbuf.Len() == 0 {
		// 大块读取绕过缓冲
		if len(p) >= t.rbuf.Cap() {
			return t.trans.Read(p)
		}
		n, err := t.rbuf.Fill(t.trans)
		if n == 0 {
			return 0, err
		}
	}
	return t.rbuf.Read(p), nil
}

func (t *BufferedTransport) Write(p []byte) (int, error) {
	return t.wbuf.Write(p)
}

func (t *BufferedTransport) Flush(ctx context.Context) error {
	if err := t.wbuf.Flush(); err != nil {
		return err
	}
	return t.trans.Flush(ctx)
}

func (t *BufferedTransport) Peek() bool {
	if t.rbuf.Len() > 0 {
		return true
	}
	return t.trans.Peek()
}

// Close 先尽力刷出写缓冲，再关闭底层 transport。
func (t *BufferedTransport) Close() error {
	var ferr error
	if t.wbuf.Buffered() > 0 && t.trans.IsOpen() {
		ferr = t.wbuf.Flush()
	}
	t.rbuf.Reset()
	if err := t.trans.Close(); err != nil {
		return err
	}
	return ferr
}

type bufferedFactory struct{ size int }

// NewBufferedTransportFactory 返回为每个连接创建 BufferedTransport 的 Factory。
func NewBufferedTransportFactory(size int) Factory { return bufferedFactory{size: size} }

func (f bufferedFactory) GetTransport(trans Transport) (Transport, error) {
	return NewBufferedTransport(trans, f.size), nil
}
