package ring

import (
	"errors"
	"io"
)

var ErrTooLarge = errors.New("ring: write too large")

// Buffer 是单生产者单消费者环形字节缓冲。
// 不做并发保护，由调用方（单个连接的 worker）串行使用。

type Buffer struct {
	buf      []byte
	mask     int
	readPos  int
	writePos int
}

// New 返回容量为 2 的幂次的环形缓冲。若 cap 非 2 的幂则向上取整。
func New(capacity int) *Buffer {
	capPow2 := 1
	for capPow2 < capacity {
		capPow2 <<= 1
	}
	return &Buffer{buf: make([]byte, capPow2), mask: capPow2 - 1}
}

func (b *Buffer) Cap() int { return len(b.buf) }

func (b *Buffer) Len() int { return b.writePos - b.readPos }

func (b *Buffer) Free() int { return b.Cap() - b.Len() }

// Reset 丢弃所有未读数据。
func (b *Buffer) Reset() {
	b.readPos = 0
	b.writePos = 0
}

// Write 将数据写入环形缓冲；当数据长度超过剩余空间时返回错误。
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) > b.Free() {
		return 0, ErrTooLarge
	}
	n := len(p)
	start := b.writePos & b.mask
	end := start + n
	if end <= len(b.buf) {
		copy(b.buf[start:end], p)
	} else {
		l := len(b.buf) - start
		copy(b.buf[start:], p[:l])
		copy(b.buf[:end-l], p[l:])
	}
	b.writePos += n
	return n, nil
}

// Read 取出最多 len(p) 字节并前进读指针；缓冲为空时返回 0, nil。
func (b *Buffer) Read(p []byte) int {
	n := len(p)
	if ln := b.Len(); n > ln {
		n = ln
	}
	if n == 0 {
		return 0
	}
	start := b.readPos & b.mask
	end := start + n
	if end <= len(b.buf) {
		copy(p, b.buf[start:end])
	} else {
		l := len(b.buf) - start
		copy(p[:l], b.buf[start:])
		copy(p[l:n], b.buf[:end-l])
	}
	b.readPos += n
	if b.readPos == b.writePos {
		b.Reset()
	}
	return n
}

// Fill 对 r 做一次 Read，数据直接落入空闲的连续区域。
// 缓冲已满时返回 0, nil。
func (b *Buffer) Fill(r io.Reader) (int, error) {
	if b.Free() == 0 {
		return 0, nil
	}
	start := b.writePos & b.mask
	end := len(b.buf)
	if rp := b.readPos & b.mask; b.Len() > 0 && rp > start {
		end = rp
	}
	n, err := r.Read(b.buf[start:end])
	if n > 0 {
		b.writePos += n
	}
	return n, err
}

// Peek 读取最多 n 字节但不前进读指针。
func (b *Buffer) Peek(n int) []byte {
	if n <= 0 {
		return nil
	}
	ln := b.Len()
	if n > ln {
		n = ln
	}
	start := b.readPos & b.mask
	end := start + n
	if end <= len(b.buf) {
		return b.buf[start:end]
	}
	// 分段视图需要拷贝为连续切片
	buf := make([]byte, n)
	l := len(b.buf) - start
	copy(buf[:l], b.buf[start:])
	copy(buf[l:], b.buf[:end-l])
	return buf
}

// Discard 前进读指针。
func (b *Buffer) Discard(n int) int {
	ln := b.Len()
	if n > ln {
		n = ln
	}
	b.readPos += n
	if b.readPos == b.writePos {
		b.Reset()
	}
	return n
}
