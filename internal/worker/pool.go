package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var (
	ErrQueueFull  = errors.New("任务队列已满")
	ErrPoolClosed = errors.New("任务池已关闭")
)

// Job 后台任务
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool 固定数量 worker 的有界任务池（历史成绩回填）
type Pool struct {
	workerCount int
	jobs        chan Job
	wg          sync.WaitGroup
	mu          sync.RWMutex
	closed      bool
	logger      *zap.Logger
}

// NewPool 创建任务池；queueSize <= 0 时取 workerCount*2
func NewPool(workerCount, queueSize int, logger *zap.Logger) *Pool {
	if workerCount <= 0 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = workerCount * 2
	}
	return &Pool{
		workerCount: workerCount,
		jobs:        make(chan Job, queueSize),
		logger:      logger.Named("worker"),
	}
}

// Start 启动 worker；ctx 取消后 worker 不再领取新任务
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("启动任务池", zap.Int("worker_count", p.workerCount), zap.Int("queue_size", cap(p.jobs)))

	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop 关闭队列并等待进行中的任务结束
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.logger.Info("正在停止任务池")
	p.wg.Wait()
	p.logger.Info("任务池已停止")
}

// Submit 非阻塞提交；队列满时返回 ErrQueueFull
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		p.logger.Warn("任务队列已满，丢弃任务", zap.String("job", job.Name))
		return ErrQueueFull
	}
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	log := p.logger.With(zap.Int("worker_id", id))
	log.Debug("worker 已启动")

	for {
		select {
		case <-ctx.Done():
			log.Debug("上下文取消，worker 退出")
			return
		case job, ok := <-p.jobs:
			if !ok {
				log.Debug("任务队列关闭，worker 退出")
				return
			}
			if err := p.run(ctx, job); err != nil {
				log.Error("任务执行失败", zap.String("job", job.Name), zap.Error(err))
			}
		}
	}
}

func (p *Pool) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("任务 panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
