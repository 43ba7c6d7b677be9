//go:build linux || darwin

package netutil

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenOptions 描述监听 socket 在 bind 之前需要设置的选项。
type ListenOptions struct {
	ReuseAddr bool
	ReusePort bool
	RecvBuf   int
	SendBuf   int
}

// ListenControl 返回用于 net.ListenConfig.Control 的回调。
func ListenControl(opts ListenOptions) func(network, address string, c syscall.RawConn) error {
	return func(network, address string, c syscall.RawConn) error {
		var serr error
		err := c.Control(func(fd uintptr) {
			serr = applyListenOptions(int(fd), opts)
		})
		if err != nil {
			return err
		}
		return serr
	}
}

func applyListenOptions(fd int, opts ListenOptions) error {
	if opts.ReuseAddr {
		if err := SetReuseAddr(fd, true); err != nil {
			return err
		}
	}
	if opts.ReusePort {
		if err := SetReusePort(fd, true); err != nil {
			return err
		}
	}
	if opts.RecvBuf > 0 {
		if err := SetRecvBuf(fd, opts.RecvBuf); err != nil {
			return err
		}
	}
	if opts.SendBuf > 0 {
		if err := SetSendBuf(fd, opts.SendBuf); err != nil {
			return err
		}
	}
	return nil
}

func SetReusePort(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, boolInt(enable))
}

func SetReuseAddr(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, boolInt(enable))
}

func SetNoDelay(fd int, enable bool) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, boolInt(enable))
}

func SetRecvBuf(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, n)
}

func SetSendBuf(fd int, n int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, n)
}

// ConfigureConn 对已 accept 的 TCP 连接设置 TCP_NODELAY；其他连接（unix、net.Pipe）直接跳过。
func ConfigureConn(c net.Conn, noDelay bool) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return nil
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return err
	}
	var serr error
	err = rc.Control(func(fd uintptr) {
		serr = SetNoDelay(int(fd), noDelay)
	})
	if err != nil {
		return err
	}
	return serr
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
