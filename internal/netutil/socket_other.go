//go:build !linux && !darwin

package netutil

import (
	"net"
	"syscall"
)

type ListenOptions struct {
	ReuseAddr bool
	ReusePort bool
	RecvBuf   int
	SendBuf   int
}

// 非 unix 平台不设置 socket 选项，交由 net 包默认行为。
func ListenControl(opts ListenOptions) func(network, address string, c syscall.RawConn) error {
	return nil
}

func ConfigureConn(c net.Conn, noDelay bool) error {
	if tc, ok := c.(*net.TCPConn); ok {
		return tc.SetNoDelay(noDelay)
	}
	return nil
}
