/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package ingress

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue names.
const (
	APIServerQueue = "api_server_queue"
	AlertsQueue    = "alerts_queue"
)

// QueueMetrics are shared by every task queue, labelled by queue name.
type QueueMetrics struct {
	Rejected  *prometheus.CounterVec
	Processed *prometheus.CounterVec
	Size      *prometheus.GaugeVec
}

// NewQueueMetrics registers the queue collectors with reg.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	factory := promauto.With(reg)
	return &QueueMetrics{
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_rejected_total",
			Help: "Number of tasks rejected because the queue was full.",
		}, []string{"queue"}),
		Processed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "queue_processed_total",
			Help: "Number of tasks processed.",
		}, []string{"queue"}),
		Size: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "queue_size",
			Help: "Number of tasks waiting in the queue.",
		}, []string{"queue"}),
	}
}

// Task is a unit of queued work.
type Task func(ctx context.Context)

// TaskQueue is a bounded queue drained by a fixed pool of workers. A full
// queue rejects new tasks instead of blocking the producer.
type TaskQueue struct {
	name    string
	log     logr.Logger
	tasks   chan Task
	workers int
	metrics *QueueMetrics

	mu      sync.Mutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

// NewTaskQueue creates a queue holding at most size tasks.
func NewTaskQueue(name string, size, workers int, metrics *QueueMetrics, log logr.Logger) *TaskQueue {
	if size <= 0 {
		size = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &TaskQueue{
		name:    name,
		log:     log.WithName("queue").WithValues("queue", name),
		tasks:   make(chan Task, size),
		workers: workers,
		metrics: metrics,
	}
}

// Name returns the queue name.
func (q *TaskQueue) Name() string { return q.name }

// Start launches the workers. Tasks run with ctx.
func (q *TaskQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
}

// Add enqueues task. It returns false when the queue is full or closed.
func (q *TaskQueue) Add(task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.reject()
		return false
	}
	select {
	case q.tasks <- task:
		q.metrics.Size.WithLabelValues(q.name).Set(float64(len(q.tasks)))
		return true
	default:
		q.reject()
		return false
	}
}

func (q *TaskQueue) reject() {
	q.metrics.Rejected.WithLabelValues(q.name).Inc()
	q.log.Info("Queue full, dropping task", "size", cap(q.tasks))
}

// Len returns the number of waiting tasks.
func (q *TaskQueue) Len() int { return len(q.tasks) }

// Close stops accepting tasks and waits for the workers to drain the queue.
func (q *TaskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *TaskQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for task := range q.tasks {
		q.metrics.Size.WithLabelValues(q.name).Set(float64(len(q.tasks)))
		q.run(ctx, task)
		q.metrics.Processed.WithLabelValues(q.name).Inc()
	}
}

func (q *TaskQueue) run(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Info("Task panicked", "panic", r)
		}
	}()
	task(ctx)
}
