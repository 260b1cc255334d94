package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrPoolFull   = errors.New("worker pool is full")
)

// Config Worker Pool 配置
type Config struct {
	Workers int // worker 数量
	// MaxBlockingTasks 所有 worker 忙时允许阻塞等待的提交数，0 表示不限制
	MaxBlockingTasks int
	// NonBlocking 为 true 时 worker 全忙立即返回 ErrPoolFull
	NonBlocking bool
	// ReleaseTimeout 关闭时等待运行中任务的最长时间
	ReleaseTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Workers:        8,
		ReleaseTimeout: 30 * time.Second,
	}
}

// Statistics 统计信息
type Statistics struct {
	Submitted int64 // 已提交
	Completed int64 // 已完成
	Panicked  int64 // panic
}

// Pool 基于 ants 的 worker pool
type Pool struct {
	pool   *ants.Pool
	config *Config

	submitted atomic.Int64
	completed atomic.Int64
	panicked  atomic.Int64

	closeOnce sync.Once
	logger    *zap.Logger
}

// New 创建 Worker Pool
func New(config *Config, logger *zap.Logger) (*Pool, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Workers <= 0 {
		return nil, fmt.Errorf("invalid worker count: %d", config.Workers)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Pool{config: config, logger: logger}

	antsPool, err := ants.NewPool(config.Workers,
		ants.WithMaxBlockingTasks(config.MaxBlockingTasks),
		ants.WithNonblocking(config.NonBlocking),
		ants.WithPanicHandler(func(err any) {
			p.panicked.Add(1)
			logger.Error("worker panic", zap.Any("error", err))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ants pool: %w", err)
	}
	p.pool = antsPool
	return p, nil
}

// Submit 提交任务
func (p *Pool) Submit(task func()) error {
	err := p.pool.Submit(func() {
		defer p.completed.Add(1)
		task()
	})
	switch {
	case errors.Is(err, ants.ErrPoolClosed):
		return ErrPoolClosed
	case errors.Is(err, ants.ErrPoolOverload):
		return ErrPoolFull
	case err != nil:
		return err
	}
	p.submitted.Add(1)
	return nil
}

// Stats 获取统计信息
func (p *Pool) Stats() Statistics {
	return Statistics{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Panicked:  p.panicked.Load(),
	}
}

// Shutdown 关闭并等待运行中的任务结束
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		timeout := p.config.ReleaseTimeout
		if timeout <= 0 {
			p.pool.Release()
			return
		}
		if err := p.pool.ReleaseTimeout(timeout); err != nil {
			p.logger.Warn("worker pool released with running tasks", zap.Error(err))
		}
	})
}
