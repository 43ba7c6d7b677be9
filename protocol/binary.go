package protocol

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/legamerdc/mtrpc/transport"
)

const (
	versionMask = 0xffff0000
	version1    = 0x80010000
	typeMask    = 0x000000ff

	// DefaultMaxSize 限制单个 string/binary 的长度。
	DefaultMaxSize = 16 << 20
)

// BinaryProtocol 以大端定长整数 + 长度前缀的方式编码。
// strictWrite 时消息头带版本号；strictRead 时拒绝不带版本号的旧格式。
type BinaryProtocol struct {
	trans       transport.Transport
	strictRead  bool
	strictWrite bool
	maxSize     int
	buf         [8]byte
}

func NewBinaryProtocol(trans transport.Transport, strictRead, strictWrite bool) *BinaryProtocol {
	return &BinaryProtocol{
		trans:       trans,
		strictRead:  strictRead,
		strictWrite: strictWrite,
		maxSize:     DefaultMaxSize,
	}
}

// SetMaxSize 调整 string/binary 的长度上限，n <= 0 时不变。
func (p *BinaryProtocol) SetMaxSize(n int) {
	if n > 0 {
		p.maxSize = n
	}
}

func (p *BinaryProtocol) Transport() transport.Transport { return p.trans }

func (p *BinaryProtocol) WriteMessageBegin(ctx context.Context, name string, typeID MessageType, seqID int32) error {
	if p.strictWrite {
		v := uint32(version1) | uint32(typeID)
		if err := p.WriteI32(ctx, int32(v)); err != nil {
			return err
		}
		if err := p.WriteString(ctx, name); err != nil {
			return err
		}
		return p.WriteI32(ctx, seqID)
	}
	if err := p.WriteString(ctx, name); err != nil {
		return err
	}
	if err := p.WriteI8(ctx, int8(typeID)); err != nil {
		return err
	}
	return p.WriteI32(ctx, seqID)
}

func (p *BinaryProtocol) WriteMessageEnd(ctx context.Context) error { return nil }

func (p *BinaryProtocol) WriteBool(ctx context.Context, v bool) error {
	if v {
		return p.WriteI8(ctx, 1)
	}
	return p.WriteI8(ctx, 0)
}

func (p *BinaryProtocol) WriteI8(ctx context.Context, v int8) error {
	p.buf[0] = byte(v)
	_, err := p.trans.Write(p.buf[:1])
	return err
}

func (p *BinaryProtocol) WriteI16(ctx context.Context, v int16) error {
	binary.BigEndian.PutUint16(p.buf[:2], uint16(v))
	_, err := p.trans.Write(p.buf[:2])
	return err
}

func (p *BinaryProtocol) WriteI32(ctx context.Context, v int32) error {
	binary.BigEndian.PutUint32(p.buf[:4], uint32(v))
	_, err := p.trans.Write(p.buf[:4])
	return err
}

func (p *BinaryProtocol) WriteI64(ctx context.Context, v int64) error {
	binary.BigEndian.PutUint64(p.buf[:8], uint64(v))
	_, err := p.trans.Write(p.buf[:8])
	return err
}

func (p *BinaryProtocol) WriteDouble(ctx context.Context, v float64) error {
	return p.WriteI64(ctx, int64(math.Float64bits(v)))
}

func (p *BinaryProtocol) WriteString(ctx context.Context, v string) error {
	if err := p.WriteI32(ctx, int32(len(v))); err != nil {
		return err
	}
	_, err := io.WriteString(p.trans, v)
	return err
}

func (p *BinaryProtocol) WriteBinary(ctx context.Context, v []byte) error {
	if err := p.WriteI32(ctx, int32(len(v))); err != nil {
		return err
	}
	_, err := p.trans.Write(v)
	return err
}

func (p *BinaryProtocol) ReadMessageBegin(ctx context.Context) (string, MessageType, int32, error) {
	size, err := p.ReadI32(ctx)
	if err != nil {
		return "", 0, 0, err
	}
	if size < 0 {
		v := uint32(size)
		if v&versionMask != version1 {
			return "", 0, 0, fmt.Errorf("%w: 0x%08x", ErrBadVersion, v)
		}
		typeID := MessageType(v & typeMask)
		name, err := p.ReadString(ctx)
		if err != nil {
			return "", typeID, 0, err
		}
		seqID, err := p.ReadI32(ctx)
		return name, typeID, seqID, err
	}
	if p.strictRead {
		return "", 0, 0, ErrMissingHeader
	}
	// 旧格式：首个 i32 即 name 长度
	name, err := p.readStringBody(int(size))
	if err != nil {
		return "", 0, 0, err
	}
	b, err := p.ReadI8(ctx)
	if err != nil {
		return name, 0, 0, err
	}
	seqID, err := p.ReadI32(ctx)
	return name, MessageType(b), seqID, err
}

func (p *BinaryProtocol) ReadMessageEnd(ctx context.Context) error { return nil }

func (p *BinaryProtocol) ReadBool(ctx context.Context) (bool, error) {
	b, err := p.ReadI8(ctx)
	return b != 0, err
}

func (p *BinaryProtocol) ReadI8(ctx context.Context) (int8, error) {
	if _, err := io.ReadFull(p.trans, p.buf[:1]); err != nil {
		return 0, err
	}
	return int8(p.buf[0]), nil
}

func (p *BinaryProtocol) ReadI16(ctx context.Context) (int16, error) {
	if _, err := io.ReadFull(p.trans, p.buf[:2]); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(p.buf[:2])), nil
}

func (p *BinaryProtocol) ReadI32(ctx context.Context) (int32, error) {
	if _, err := io.ReadFull(p.trans, p.buf[:4]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p.buf[:4])), nil
}

func (p *BinaryProtocol) ReadI64(ctx context.Context) (int64, error) {
	if _, err := io.ReadFull(p.trans, p.buf[:8]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p.buf[:8])), nil
}

func (p *BinaryProtocol) ReadDouble(ctx context.Context) (float64, error) {
	v, err := p.ReadI64(ctx)
	return math.Float64frombits(uint64(v)), err
}

func (p *BinaryProtocol) ReadString(ctx context.Context) (string, error) {
	size, err := p.ReadI32(ctx)
	if err != nil {
		return "", err
	}
	return p.readStringBody(int(size))
}

func (p *BinaryProtocol) ReadBinary(ctx context.Context) ([]byte, error) {
	size, err := p.ReadI32(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.checkSize(int(size)); err != nil {
		return nil, err
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(p.trans, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (p *BinaryProtocol) readStringBody(size int) (string, error) {
	if err := p.checkSize(size); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	b := make([]byte, size)
	if _, err := io.ReadFull(p.trans, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func (p *BinaryProtocol) checkSize(size int) error {
	if size < 0 {
		return ErrNegativeSize
	}
	if size > p.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrSizeLimit, size, p.maxSize)
	}
	return nil
}

func (p *BinaryProtocol) Flush(ctx context.Context) error { return p.trans.Flush(ctx) }

type binaryFactory struct {
	strictRead  bool
	strictWrite bool
	maxSize     int
}

// NewBinaryProtocolFactory 返回 BinaryProtocol 的 Factory。
func NewBinaryProtocolFactory(strictRead, strictWrite bool) Factory {
	return binaryFactory{strictRead: strictRead, strictWrite: strictWrite}
}

// NewBinaryProtocolFactoryDefault 等价于 strictRead=false, strictWrite=true。
func NewBinaryProtocolFactoryDefault() Factory { return NewBinaryProtocolFactory(false, true) }

// NewBinaryProtocolFactoryWithLimit 额外限制 string/binary 长度。
func NewBinaryProtocolFactoryWithLimit(strictRead, strictWrite bool, maxSize int) Factory {
	return binaryFactory{strictRead: strictRead, strictWrite: strictWrite, maxSize: maxSize}
}

func (f binaryFactory) GetProtocol(trans transport.Transport) Protocol {
	p := NewBinaryProtocol(trans, f.strictRead, f.strictWrite)
	p.SetMaxSize(f.maxSize)
	return p
}
