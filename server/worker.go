package server

import (
	"context"
	"log/slog"
	"net"

	"github.com/legamerdc/mtrpc/internal/logger"
	"github.com/legamerdc/mtrpc/transport"
)

// connTask 持有一个已 accept 的连接，直到 worker 处理完毕。
type connTask struct {
	server *Server
	conn   transport.Transport
}

func (t *connTask) Run() { t.server.handle(t.conn) }

// handle 包装连接后循环调用 processor，结束时关闭输入输出 transport。
// 所有错误都只影响本连接。
func (s *Server) handle(conn transport.Transport) {
	log := logger.With("remote_addr", remoteAddr(conn))

	in, err := s.inTransFactory.GetTransport(conn)
	if err != nil {
		log.Error("server: wrap input transport failed", "error", err)
		closeTransport(conn, "accepted")
		return
	}
	out, err := s.outTransFactory.GetTransport(conn)
	if err != nil {
		log.Error("server: wrap output transport failed", "error", err)
		closeTransport(in, "input")
		if in != conn {
			closeTransport(conn, "accepted")
		}
		return
	}
	defer func() {
		closeTransport(out, "output")
		// 透传 factory 时两个方向是同一个对象
		if in != out {
			closeTransport(in, "input")
		}
	}()

	inProt := s.inProtFactory.GetProtocol(in)
	outProt := s.outProtFactory.GetProtocol(out)

	ctx := context.Background()
	for {
		ok, err := s.processor.Process(ctx, inProt, outProt)
		if err != nil {
			logProcessError(log, err)
			return
		}
		if !ok {
			return
		}
		if !in.Peek() {
			// 对端正常关闭也会走到这里，读超时或连接被重置时 transport 仍是打开的
			if in.IsOpen() {
				log.Debug("server: peek failed, closing connection")
			}
			return
		}
	}
}

func logProcessError(log *slog.Logger, err error) {
	if transport.IsEOF(err) {
		log.Debug("server: connection closed", "error", err)
		return
	}
	log.Error("server: process failed", "error", err)
}

func closeTransport(t transport.Transport, which string) {
	if err := t.Close(); err != nil {
		logger.Debug("server: close transport failed", "which", which, "error", err)
	}
}

func remoteAddr(t transport.Transport) string {
	if ra, ok := t.(interface{ RemoteAddr() net.Addr }); ok && ra.RemoteAddr() != nil {
		return ra.RemoteAddr().String()
	}
	return "unknown"
}
