package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/legamerdc/mtrpc/transport"
)

// MessageType 为消息头中的类型字段。
type MessageType int32

const (
	Call      MessageType = 1
	Reply     MessageType = 2
	Exception MessageType = 3
	Oneway    MessageType = 4
)

func (t MessageType) String() string {
	switch t {
	case Call:
		return "CALL"
	case Reply:
		return "REPLY"
	case Exception:
		return "EXCEPTION"
	case Oneway:
		return "ONEWAY"
	default:
		return fmt.Sprintf("MessageType(%d)", int32(t))
	}
}

var (
	ErrBadVersion    = errors.New("protocol: bad version in message header")
	ErrNegativeSize  = errors.New("protocol: negative size")
	ErrSizeLimit     = errors.New("protocol: size exceeds limit")
	ErrMissingHeader = errors.New("protocol: missing version in message header")
)

// Protocol 是 transport 之上的结构化编解码接口，只由 Processor 使用。
type Protocol interface {
	WriteMessageBegin(ctx context.Context, name string, typeID MessageType, seqID int32) error
	WriteMessageEnd(ctx context.Context) error
	WriteBool(ctx context.Context, v bool) error
	WriteI8(ctx context.Context, v int8) error
	WriteI16(ctx context.Context, v int16) error
	WriteI32(ctx context.Context, v int32) error
	WriteI64(ctx context.Context, v int64) error
	WriteDouble(ctx context.Context, v float64) error
	WriteString(ctx context.Context, v string) error
	WriteBinary(ctx context.Context, v []byte) error

	ReadMessageBegin(ctx context.Context) (name string, typeID MessageType, seqID int32, err error)
	ReadMessageEnd(ctx context.Context) error
	ReadBool(ctx context.Context) (bool, error)
	ReadI8(ctx context.Context) (int8, error)
	ReadI16(ctx context.Context) (int16, error)
	ReadI32(ctx context.Context) (int32, error)
	ReadI64(ctx context.Context) (int64, error)
	ReadDouble(ctx context.Context) (float64, error)
	ReadString(ctx context.Context) (string, error)
	ReadBinary(ctx context.Context) ([]byte, error)

	Flush(ctx context.Context) error
	Transport() transport.Transport
}

// Factory 为 transport 创建 Protocol。
type Factory interface {
	GetProtocol(trans transport.Transport) Protocol
}
