package transport

import (
	"bytes"
	"context"
)

// MemoryBuffer 是内存中的 Transport，写入的数据可以被随后读出。
type MemoryBuffer struct {
	bytes.Buffer
	closed bool
}

func NewMemoryBuffer() *MemoryBuffer { return &MemoryBuffer{} }

// NewMemoryBufferWith 以给定内容初始化，常用于构造待解码的输入。
func NewMemoryBufferWith(b []byte) *MemoryBuffer {
	m := &MemoryBuffer{}
	m.Buffer.Write(b)
	return m
}

func (m *MemoryBuffer) IsOpen() bool { return !m.closed }

func (m *MemoryBuffer) Read(p []byte) (int, error) {
	if m.closed {
		return 0, ErrNotOpen
	}
	return m.Buffer.Read(p)
}

func (m *MemoryBuffer) Write(p []byte) (int, error) {
	if m.closed {
		return 0, ErrNotOpen
	}
	return m.Buffer.Write(p)
}

func (m *MemoryBuffer) Flush(ctx context.Context) error { return nil }

func (m *MemoryBuffer) Peek() bool { return !m.closed && m.Len() > 0 }

func (m *MemoryBuffer) Close() error {
	m.closed = true
	return nil
}
