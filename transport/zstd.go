package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstdWindow 是编码端的窗口上限，非单段帧的窗口不会超过它。
const zstdWindow = 8 << 20

var errSkippableFrame = errors.New("transport: unexpected skippable zstd frame")

// zstd 编解码器创建成本较高，按连接复用。
var (
	encoderPool = sync.Pool{New: func() any {
		enc, _ := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedFastest),
			zstd.WithWindowSize(zstdWindow))
		return enc
	}}
	decoderPool = sync.Pool{New: func() any {
		dec, _ := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(uint64(MaxFrameLimit)))
		return dec
	}}
)

func compress(dst, src []byte) []byte {
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	return enc.EncodeAll(src, dst)
}

// decompress 把 src 解压追加到 dst，解压结果超过 limit 时返回 ErrFrameTooLarge。
// 先按帧头声明的长度和窗口拒绝，再流式解码限长；小帧可能不带长度，帧头也只描述第一个 zstd 帧。
func decompress(dst, src []byte, limit int) ([]byte, error) {
	var h zstd.Header
	if err := h.Decode(src); err != nil {
		return nil, fmt.Errorf("transport: decompress frame: %w", err)
	}
	if h.Skippable {
		return nil, errSkippableFrame
	}
	if h.HasFCS && h.FrameContentSize > uint64(limit) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, h.FrameContentSize, limit)
	}
	if !h.SingleSegment && h.WindowSize > uint64(max(limit, zstdWindow)) {
		return nil, fmt.Errorf("%w: window %d > %d", ErrFrameTooLarge, h.WindowSize, max(limit, zstdWindow))
	}

	dec := decoderPool.Get().(*zstd.Decoder)
	defer func() {
		_ = dec.Reset(nil)
		decoderPool.Put(dec)
	}()
	if err := dec.Reset(bytes.NewReader(src)); err != nil {
		return nil, fmt.Errorf("transport: decompress frame: %w", err)
	}
	buf := bytes.NewBuffer(dst[:0])
	n, err := buf.ReadFrom(io.LimitReader(dec, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("transport: decompress frame: %w", err)
	}
	if n > int64(limit) {
		return nil, fmt.Errorf("%w: more than %d after decompress", ErrFrameTooLarge, limit)
	}
	return buf.Bytes(), nil
}
