// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package executor runs execution-plan steps on a bounded worker pool
// with per-step timeouts, retry with backoff and jitter, and
// required/optional step semantics.
package executor

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/CodeLens/services/codelens/datatypes"
)

// ErrPoolClosed is returned by Submit after Shutdown has begun.
var ErrPoolClosed = errors.New("tool pool is shut down")

var (
	poolActiveGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codelens_tool_pool_active",
		Help: "Tasks currently executing on the tool pool.",
	})
	poolQueueGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "codelens_tool_pool_queue_depth",
		Help: "Tasks waiting in the tool pool queue.",
	})
	poolCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codelens_tool_pool_completed_total",
		Help: "Tasks completed by the tool pool.",
	})
	poolCallerRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "codelens_tool_pool_caller_runs_total",
		Help: "Tasks executed inline on the submitter because the queue was full.",
	})
)

// shutdownGrace is applied twice: once waiting for graceful drain, once
// after forcing interruption.
const shutdownGrace = 30 * time.Second

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	// Workers is the worker count. Zero means max(NumCPU, 4).
	Workers int

	// QueueCapacity bounds the task queue. Zero means 2x workers.
	QueueCapacity int
}

// Pool is a bounded worker pool with caller-runs back-pressure: a task
// submitted while the queue is full executes synchronously on the
// submitting goroutine instead of being dropped.
//
// # Thread Safety
//
// Safe for concurrent use.
type Pool struct {
	tasks  chan func()
	logger *slog.Logger

	workers int
	wg      sync.WaitGroup

	// mu orders submissions against shutdown: Submit holds the read
	// lock across the channel send, Shutdown holds the write lock while
	// closing the channel, so a send can never hit a closed channel.
	mu     sync.RWMutex
	closed bool

	active    atomic.Int64
	completed atomic.Int64
	total     atomic.Int64
}

// NewPool starts the workers immediately.
func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = max(runtime.NumCPU(), 4)
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = cfg.Workers * 2
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		tasks:   make(chan func(), cfg.QueueCapacity),
		logger:  logger,
		workers: cfg.Workers,
	}
	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.tasks {
		poolQueueGauge.Set(float64(len(p.tasks)))
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	p.active.Add(1)
	poolActiveGauge.Inc()
	defer func() {
		p.active.Add(-1)
		poolActiveGauge.Dec()
		p.completed.Add(1)
		poolCompletedTotal.Inc()
	}()
	task()
}

// Submit enqueues a task, or runs it inline when the queue is full.
func (p *Pool) Submit(task func()) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return ErrPoolClosed
	}
	p.total.Add(1)
	select {
	case p.tasks <- task:
		p.mu.RUnlock()
		poolQueueGauge.Set(float64(len(p.tasks)))
		return nil
	default:
		p.mu.RUnlock()
		// Caller-runs back-pressure: the request still completes, the
		// submitter just pays for it.
		poolCallerRunsTotal.Inc()
		p.run(task)
		return nil
	}
}

// Metrics snapshots the pool counters.
func (p *Pool) Metrics() datatypes.PoolMetrics {
	return datatypes.PoolMetrics{
		ActiveCount:    int(p.active.Load()),
		PoolSize:       p.workers,
		QueueDepth:     len(p.tasks),
		CompletedCount: p.completed.Load(),
		TotalTasks:     p.total.Load(),
	}
}

// Shutdown quiesces the pool: stop accepting work, wait up to the grace
// period for running tasks, then wait the grace period again for the
// stragglers. Tasks observe interruption through their own contexts.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(shutdownGrace):
		p.logger.Warn("tool pool did not drain in time, waiting for forced stop",
			slog.Int64("active", p.active.Load()))
	}

	select {
	case <-done:
	case <-time.After(shutdownGrace):
		p.logger.Error("tool pool tasks still running after forced-stop grace period",
			slog.Int64("active", p.active.Load()))
	}
}
