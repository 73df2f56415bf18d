package tasks

import (
	"context"
	"sync"
	"time"

	pkgdb "github.com/netvora/billing/pkg/db"
	"go.uber.org/zap"
)

type PoolConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	BaseBackoff time.Duration
	TaskTimeout time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Workers:     4,
		QueueSize:   256,
		MaxAttempts: 3,
		BaseBackoff: 200 * time.Millisecond,
		TaskTimeout: 30 * time.Second,
	}
}

func (c PoolConfig) withDefaults() PoolConfig {
	defaults := DefaultPoolConfig()
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaults.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaults.BaseBackoff
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaults.TaskTimeout
	}
	return c
}

// Pool is the in-process dispatcher: a bounded queue drained by a fixed set
// of workers. Lock-wait and deadlock failures are retried with exponential
// backoff; other errors are logged and the unit is dropped, to be picked up
// again by the next sweep run.
type Pool struct {
	cfg   PoolConfig
	log   *zap.Logger
	queue chan Task

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func NewPool(cfg PoolConfig, log *zap.Logger) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:   cfg,
		log:   log.Named("tasks"),
		queue: make(chan Task, cfg.QueueSize),
		done:  make(chan struct{}),
	}
}

func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.cfg.Workers; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

func (p *Pool) Dispatch(ctx context.Context, task Task) error {
	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case task := <-p.queue:
			p.runWithRetry(task)
		case <-p.done:
			// Drain what is already queued before exiting.
			for {
				select {
				case task := <-p.queue:
					p.runWithRetry(task)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) runWithRetry(task Task) {
	backoff := p.cfg.BaseBackoff
	for attempt := 1; ; attempt++ {
		err := p.runOnce(task)
		if err == nil {
			return
		}

		if !pkgdb.IsLockErr(err) || attempt >= p.cfg.MaxAttempts {
			p.log.Error("task failed",
				zap.String("task", task.Name),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return
		}

		p.log.Warn("task hit lock contention, retrying",
			zap.String("task", task.Name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
		)
		time.Sleep(backoff)
		backoff *= 2
	}
}

func (p *Pool) runOnce(task Task) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.TaskTimeout)
	defer cancel()
	return task.Run(ctx)
}
