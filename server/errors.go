package server

import (
	"errors"
	"fmt"
)

var (
	// ErrServerStopped 由 Serve 在 Stop 之后返回，服务器不可重启。
	ErrServerStopped = errors.New("server: stopped")

	// ErrServerRunning 表示已有一个 Serve 在运行。
	ErrServerRunning = errors.New("server: already serving")

	ErrNilProcessor = errors.New("server: nil processor")
	ErrNilTransport = errors.New("server: nil server transport")
)

// ListenError 表示监听失败，accept 循环没有启动。
type ListenError struct {
	Err error
}

func (e *ListenError) Error() string {
	return fmt.Sprintf("server: listen: %v", e.Err)
}

func (e *ListenError) Unwrap() error { return e.Err }
