package mtrpc

import (
	"fmt"
	"time"

	"github.com/legamerdc/mtrpc/transport"
)

// TransportKind 选择每个连接上的 transport 包装。
type TransportKind string

const (
	TransportRaw      TransportKind = "raw"
	TransportBuffered TransportKind = "buffered"
	TransportFramed   TransportKind = "framed"
)

// Config 为服务端配置，客户端需使用相同的 Transport/Compression 设置。
type Config struct {
	Network        string        // "tcp" / "tcp4" / "tcp6" / "unix"
	Address        string        // 监听地址，如 ":9090"
	MaxConcurrency int           // 同时处理的连接数，0 表示 CPU 核数
	ReusePort      bool          // SO_REUSEPORT
	NoDelay        bool          // TCP_NODELAY
	ReadTimeout    time.Duration // 每次读的超时，0 不限
	WriteTimeout   time.Duration // 每次写的超时，0 不限
	RecvBufSize    int           // SO_RCVBUF，0 为系统默认
	SendBufSize    int           // SO_SNDBUF，0 为系统默认

	Transport       TransportKind
	BufferSize      int  // buffered 模式的缓冲大小
	Compression     bool // framed 模式下启用 zstd
	CompressMinSize int  // 小于该长度的帧不压缩
	MaxFrameSize    int  // framed 模式单帧上限

	StrictRead    bool
	StrictWrite   bool
	MaxStringSize int // 单个 string/binary 上限

	Debug bool
}

// DefaultConfig 提供一组可工作的默认值。
func DefaultConfig() Config {
	return Config{
		Network:         "tcp",
		Address:         ":9090",
		MaxConcurrency:  0,
		NoDelay:         true,
		Transport:       TransportBuffered,
		BufferSize:      4 << 10,  // 4 KiB
		CompressMinSize: 512,      // 512 B
		MaxFrameSize:    16 << 20, // 16 MiB
		StrictWrite:     true,
		MaxStringSize:   16 << 20, // 16 MiB
	}
}

// Validate 检查配置是否可用。
func (c Config) Validate() error {
	switch c.Network {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("%w: network %q", ErrInvalidConfig, c.Network)
	}
	if c.Address == "" {
		return fmt.Errorf("%w: empty address", ErrInvalidConfig)
	}
	if c.MaxConcurrency < 0 {
		return fmt.Errorf("%w: max concurrency %d", ErrInvalidConfig, c.MaxConcurrency)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalidConfig)
	}
	if c.RecvBufSize < 0 || c.SendBufSize < 0 {
		return fmt.Errorf("%w: negative socket buffer", ErrInvalidConfig)
	}
	switch c.Transport {
	case TransportRaw, TransportBuffered, TransportFramed:
	default:
		return fmt.Errorf("%w: transport %q", ErrInvalidConfig, c.Transport)
	}
	if c.BufferSize < 0 {
		return fmt.Errorf("%w: buffer size %d", ErrInvalidConfig, c.BufferSize)
	}
	if c.MaxFrameSize < 0 || c.MaxFrameSize > transport.MaxFrameLimit {
		return fmt.Errorf("%w: max frame size %d", ErrInvalidConfig, c.MaxFrameSize)
	}
	if c.Compression && c.Transport != TransportFramed {
		return fmt.Errorf("%w: compression requires framed transport", ErrInvalidConfig)
	}
	if c.MaxStringSize < 0 {
		return fmt.Errorf("%w: max string size %d", ErrInvalidConfig, c.MaxStringSize)
	}
	return nil
}
