package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
)

const (
	DefaultMaxFrameSize = 16 << 20 // 16 MiB
	// MaxFrameLimit 是帧头能表示的最大长度。
	MaxFrameLimit       = longHeadMaxLen
	defaultMinCompress  = 512
)

// FramedOption 调整 FramedTransport。
type FramedOption func(*framedConfig)

type framedConfig struct {
	maxFrame    int
	compress    bool
	minCompress int
}

// WithMaxFrameSize 限制单帧（压缩前后）负载长度。
func WithMaxFrameSize(n int) FramedOption {
	return func(c *framedConfig) {
		if n > 0 {
			c.maxFrame = n
		}
	}
}

// WithCompression 对不小于 minSize 字节的帧启用 zstd 压缩；minSize <= 0 时取默认值。
// 读侧总是按帧头标记解压，与此选项无关。
func WithCompression(enable bool, minSize int) FramedOption {
	return func(c *framedConfig) {
		c.compress = enable
		if minSize > 0 {
			c.minCompress = minSize
		}
	}
}

func newFramedConfig(opts []FramedOption) framedConfig {
	cfg := framedConfig{maxFrame: DefaultMaxFrameSize, minCompress: defaultMinCompress}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.maxFrame > MaxFrameLimit {
		cfg.maxFrame = MaxFrameLimit
	}
	return cfg
}

// FramedTransport 以 LenFlags 头分帧：一次 Flush 写出一帧，读侧按帧缓冲。
type FramedTransport struct {
	trans Transport
	cfg   framedConfig

	hdr    [maxHeaderLen]byte
	rframe []byte
	rpos   int
	raw    []byte // 压缩帧的原始字节

	wbuf    bytes.Buffer
	scratch []byte
}

func NewFramedTransport(trans Transport, opts ...FramedOption) *FramedTransport {
	return &FramedTransport{trans: trans, cfg: newFramedConfig(opts)}
}

func (t *FramedTransport) IsOpen() bool { return t.trans.IsOpen() }

func (t *FramedTransport) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if t.rpos == len(t.rframe) {
		if err := t.readFrame(); err != nil {
			return 0, err
		}
	}
	n := copy(p, t.rframe[t.rpos:])
	t.rpos += n
	return n, nil
}

func (t *FramedTransport) readFrame() error {
	for {
		if _, err := io.ReadFull(t.trans, t.hdr[:2]); err != nil {
			return err
		}
		hl, _ := HeaderLen(t.hdr[:2])
		if hl > 2 {
			if _, err := io.ReadFull(t.trans, t.hdr[2:hl]); err != nil {
				return err
			}
		}
		_, length, compressed, err := DecodeLenFlags(t.hdr[:hl])
		if err != nil {
			return err
		}
		if length > t.cfg.maxFrame {
			return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, t.cfg.maxFrame)
		}
		// 空帧直接跳过
		if length == 0 {
			continue
		}

		if !compressed {
			t.rframe = grow(t.rframe, length)
			if _, err := io.ReadFull(t.trans, t.rframe); err != nil {
				return err
			}
			t.rpos = 0
			return nil
		}

		t.raw = grow(t.raw, length)
		if _, err := io.ReadFull(t.trans, t.raw); err != nil {
			return err
		}
		out, err := decompress(t.rframe[:0], t.raw, t.cfg.maxFrame)
		if err != nil {
			return err
		}
		t.rframe = out
		t.rpos = 0
		if len(out) > 0 {
			return nil
		}
	}
}

func (t *FramedTransport) Write(p []byte) (int, error) {
	if size := t.wbuf.Len() + len(p); size > t.cfg.maxFrame {
		t.wbuf.Reset()
		return 0, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, t.cfg.maxFrame)
	}
	return t.wbuf.Write(p)
}

// Flush 将写缓冲封为一帧写出。
func (t *FramedTransport) Flush(ctx context.Context) error {
	if t.wbuf.Len() == 0 {
		return t.trans.Flush(ctx)
	}
	body := t.wbuf.Bytes()
	compressed := false
	if t.cfg.compress && len(body) >= t.cfg.minCompress {
		z := compress(t.scratch[:0], body)
		t.scratch = z
		// 压缩无收益时按原文发送
		if len(z) < len(body) {
			body = z
			compressed = true
		}
	}

	out := make([]byte, maxHeaderLen, maxHeaderLen+len(body))
	n, err := EncodeLenFlags(out, len(body), compressed)
	if err != nil {
		t.wbuf.Reset()
		return err
	}
	out = append(out[:n], body...)
	t.wbuf.Reset()

	if _, err := t.trans.Write(out); err != nil {
		return err
	}
	return t.trans.Flush(ctx)
}

func (t *FramedTransport) Peek() bool {
	if t.rpos < len(t.rframe) {
		return true
	}
	return t.trans.Peek()
}

func (t *FramedTransport) Close() error {
	t.wbuf.Reset()
	t.rframe, t.rpos = nil, 0
	return t.trans.Close()
}

func grow(b []byte, n int) []byte {
	if cap(b) >= n {
		return b[:n]
	}
	return make([]byte, n)
}

type framedFactory struct{ opts []FramedOption }

// NewFramedTransportFactory 返回为每个连接创建 FramedTransport 的 Factory。
func NewFramedTransportFactory(opts ...FramedOption) Factory { return framedFactory{opts: opts} }

func (f framedFactory) GetTransport(trans Transport) (Transport, error) {
	return NewFramedTransport(trans, f.opts...), nil
}
