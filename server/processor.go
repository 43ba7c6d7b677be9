package server

import (
	"context"

	"github.com/legamerdc/mtrpc/protocol"
)

// Processor 从 in 读一个请求，处理后把响应写到 out。
// 返回 false 或 error 时连接结束。
type Processor interface {
	Process(ctx context.Context, in, out protocol.Protocol) (bool, error)
}

// ProcessorFunc 让普通函数满足 Processor。
type ProcessorFunc func(ctx context.Context, in, out protocol.Protocol) (bool, error)

func (f ProcessorFunc) Process(ctx context.Context, in, out protocol.Protocol) (bool, error) {
	return f(ctx, in, out)
}
