package pool

import (
	"errors"
	"runtime"
	"sync"

	"github.com/legamerdc/mtrpc/internal/logger"
)

// ErrClosed 表示 pool 已经 Shutdown，不再接收任务。
var ErrClosed = errors.New("pool: closed")

// Task 是提交给 pool 的工作单元。
type Task interface {
	Run()
}

// TaskFunc 让普通函数满足 Task。
type TaskFunc func()

func (f TaskFunc) Run() { f() }

// Pool 是固定 worker 数量的任务池。
// 队列无界：Submit 永不阻塞，过载时队列增长而不是反压调用方。
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	head    int
	closed  bool
	cancel  bool // Shutdown 时是否丢弃排队任务
	running int

	workers int
	wg      sync.WaitGroup

	panicHandler func(any)
}

// Option 调整 Pool 的行为。
type Option func(*Pool)

// WithPanicHandler 在任务 panic 时额外回调 h，worker 照常继续。
func WithPanicHandler(h func(any)) Option {
	return func(p *Pool) { p.panicHandler = h }
}

// New 创建并启动 workers 个 worker；workers <= 0 时取 CPU 核数。
func New(workers int, opts ...Option) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{workers: workers}
	for _, opt := range opts {
		opt(p)
	}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit 将任务排入队列，由空闲 worker 按 FIFO 执行。
func (p *Pool) Submit(t Task) error {
	if t == nil {
		return errors.New("pool: nil task")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, t)
	p.cond.Signal()
	return nil
}

// Shutdown 停止接收新任务。
// cancelQueued 为 true 时丢弃尚未开始的任务并返回给调用方处理；
// 否则 worker 会先把队列跑完。wait 为 true 时等待所有 worker 退出。
// 重复调用只会等待（wait 为 true 时），返回 nil。
func (p *Pool) Shutdown(wait, cancelQueued bool) []Task {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if wait {
			p.wg.Wait()
		}
		return nil
	}
	p.closed = true
	p.cancel = cancelQueued
	var dropped []Task
	if cancelQueued {
		dropped = append(dropped, p.queue[p.head:]...)
		p.queue = nil
		p.head = 0
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	if len(dropped) > 0 {
		logger.Debug("pool: dropped queued tasks", "count", len(dropped))
	}
	if wait {
		p.wg.Wait()
	}
	return dropped
}

// Workers 返回 worker 数量（即最大并发）。
func (p *Pool) Workers() int { return p.workers }

// Running 返回正在执行的任务数。
func (p *Pool) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Queued 返回排队中的任务数。
func (p *Pool) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) - p.head
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		t, ok := p.next()
		if !ok {
			return
		}
		p.run(t)
		p.mu.Lock()
		p.running--
		p.mu.Unlock()
	}
}

// next 阻塞直到取到任务；pool 关闭且无可执行任务时返回 false。
func (p *Pool) next() (Task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.head == len(p.queue) && !p.closed {
		p.cond.Wait()
	}
	if p.head == len(p.queue) || (p.closed && p.cancel) {
		return nil, false
	}
	t := p.queue[p.head]
	p.queue[p.head] = nil
	p.head++
	// 队列清空时复位，避免底层数组无限增长
	if p.head == len(p.queue) {
		p.queue = p.queue[:0]
		p.head = 0
	}
	p.running++
	return t, true
}

func (p *Pool) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("pool: task panic", "panic", r)
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
		}
	}()
	t.Run()
}
