package protocol

import (
	"context"
	"fmt"
)

// ApplicationError 的类型码。
const (
	UnknownApplicationError int32 = 0
	UnknownMethod           int32 = 1
	InvalidMessageType      int32 = 2
	WrongMethodName         int32 = 3
	BadSequenceID           int32 = 4
	MissingResult           int32 = 5
	InternalError           int32 = 6
	ProtocolError           int32 = 7
)

// ApplicationError 是通过 EXCEPTION 消息传回给调用方的错误。
type ApplicationError struct {
	Code    int32
	Message string
}

func NewApplicationError(code int32, msg string) *ApplicationError {
	return &ApplicationError{Code: code, Message: msg}
}

func (e *ApplicationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("protocol: application error %d", e.Code)
}

// WriteApplicationError 写出一条完整的 EXCEPTION 消息并 Flush。
func WriteApplicationError(ctx context.Context, p Protocol, name string, seqID int32, e *ApplicationError) error {
	if err := p.WriteMessageBegin(ctx, name, Exception, seqID); err != nil {
		return err
	}
	if err := p.WriteString(ctx, e.Message); err != nil {
		return err
	}
	if err := p.WriteI32(ctx, e.Code); err != nil {
		return err
	}
	if err := p.WriteMessageEnd(ctx); err != nil {
		return err
	}
	return p.Flush(ctx)
}

// ReadApplicationError 读取 EXCEPTION 消息体（消息头已由调用方读取）。
func ReadApplicationError(ctx context.Context, p Protocol) (*ApplicationError, error) {
	msg, err := p.ReadString(ctx)
	if err != nil {
		return nil, err
	}
	code, err := p.ReadI32(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.ReadMessageEnd(ctx); err != nil {
		return nil, err
	}
	return &ApplicationError{Code: code, Message: msg}, nil
}
