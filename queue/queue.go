// SPDX-License-Identifier: GPL-3.0-or-later

// Package queue implements a connection-bound work queue: a FIFO of tasks
// consumed by a pool of workers, each holding one lazily-dialed connection.
// A nil entry in the FIFO is the shutdown sentinel; any worker that
// dequeues it re-enqueues it so siblings observe shutdown too, meaning a
// single sentinel drains the whole pool.
package queue

import (
	"sync"
	"time"

	"github.com/driftmail/imapsync/domain"
	"github.com/driftmail/imapsync/log"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Task is one unit of queued work. Seed tasks are one-shot producers whose
// failure must cascade into orderly shutdown of the whole pool.
type Task interface {
	Seed() bool
}

// Conn is a live protocol connection owned by exactly one worker at a time.
type Conn interface {
	Alive() bool
	Logout() error
}

type Dialer interface {
	Dial() (Conn, error)
}

// Executor runs one task against a connection. Errors wrapped with
// domain.Transient are retried with backoff; anything else is treated as
// an unexpected error and isolated to the task (or escalated for seeds).
type Executor interface {
	Execute(conn Conn, task Task) error
}

type Config struct {
	// Name appears in log entries to tell pools of one account apart.
	Name     string
	Dialer   Dialer
	Executor Executor

	// ConnectRetries, ItemRetries, BaseDelay and MaxDelay default to the
	// package constants when zero.
	ConnectRetries int
	ItemRetries    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration

	// Status, when set, is invoked with nil after every successful
	// operation and with the error after every failure.
	Status func(err error)
}

type Queue struct {
	cfg Config
	l   *logrus.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	tasks []Task
}

func New(cfg Config) *Queue {
	if cfg.ConnectRetries == 0 {
		cfg.ConnectRetries = ConnectRetries
	}
	if cfg.ItemRetries == 0 {
		cfg.ItemRetries = ItemRetries
	}
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = RetryBackoff
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = MaxBackoff
	}

	q := &Queue{
		cfg: cfg,
		l:   log.Logger(log.LOG_QUEUE),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Enqueue(task Task) {
	if task == nil {
		panic("nil task enqueued")
	}
	q.push(task)
}

// Finish enqueues the shutdown sentinel. Tasks already queued ahead of it
// are still processed, and retried tasks are requeued ahead of it.
func (q *Queue) Finish() {
	q.push(nil)
}

// Len returns the number of queued tasks, not counting sentinels.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, t := range q.tasks {
		if t != nil {
			n++
		}
	}
	return n
}

func (q *Queue) push(task Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()
	q.cond.Signal()
}

// pushFront requeues a task ahead of everything else, in particular ahead
// of an already-pushed sentinel. Retried tasks would otherwise be lost
// behind the sentinel once the producer has called Finish.
func (q *Queue) pushFront(task Task) {
	q.mu.Lock()
	q.tasks = append([]Task{task}, q.tasks...)
	q.mu.Unlock()
	q.cond.Signal()
}

// pop blocks until a task or sentinel (nil) is available.
func (q *Queue) pop() Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.tasks) == 0 {
		q.cond.Wait()
	}
	task := q.tasks[0]
	q.tasks = q.tasks[1:]
	return task
}

func (q *Queue) report(err error) {
	if q.cfg.Status != nil {
		q.cfg.Status(err)
	}
}

// Run consumes the queue with the given number of workers and blocks until
// the pool has drained. It returns the first terminal worker error; nil
// means every worker exited via the sentinel.
func (q *Queue) Run(workers int) error {
	wg := &sync.WaitGroup{}
	wg.Add(workers)
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		w := &worker{
			q:           q,
			id:          i,
			retriesLeft: q.cfg.ItemRetries,
			delay:       q.cfg.BaseDelay,
		}
		go w.loop(wg, errs)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

type worker struct {
	q  *Queue
	id int

	conn Conn

	// retriesLeft and delay persist across the delayed re-invocations of
	// this worker slot, so consecutive failures keep doubling the delay.
	retriesLeft int
	delay       time.Duration
}

// loop is the worker entry point. After a transient failure it does not
// sleep in place; it schedules a timer that re-invokes loop and returns,
// so an idle sibling can pick up the re-enqueued task in the meantime.
// The WaitGroup slot is released only on terminal exit.
func (w *worker) loop(wg *sync.WaitGroup, errs chan<- error) {
	q := w.q
	baseLogger := q.l.WithFields(logrus.Fields{"queue": q.cfg.Name, "worker": w.id})

	for {
		task := q.pop()
		if task == nil {
			baseLogger.Debug("Queue worker stopping")
			q.push(nil)
			w.shutdown()
			wg.Done()
			return
		}

		if w.conn == nil || !w.conn.Alive() {
			if w.conn != nil {
				baseLogger.Warn("Unexpected connection failure, reconnecting")
			}
			conn, err := w.acquire()
			if err != nil {
				if task.Seed() {
					q.push(nil)
				} else {
					q.pushFront(task)
				}
				errs <- errors.Wrapf(err, "could not acquire connection for queue %s", q.cfg.Name)
				wg.Done()
				return
			}
			w.conn = conn
		}

		err := q.cfg.Executor.Execute(w.conn, task)
		if err == nil {
			q.report(nil)
			// The peer may drop the connection after sending its final
			// response; detect it here so the next dequeue redials.
			if !w.conn.Alive() {
				baseLogger.Warn("Connection dropped by peer after response, will reconnect")
				w.conn = nil
			}
			continue
		}

		if domain.IsTransient(err) {
			// Leave the task queued for this worker's resumption or for a
			// still-running sibling.
			q.pushFront(task)
			w.retriesLeft--
			if w.retriesLeft <= 0 {
				if task.Seed() {
					q.push(nil)
				}
				errs <- errors.Wrapf(err, "giving up on queue %s after repeated failures", q.cfg.Name)
				w.shutdown()
				wg.Done()
				return
			}
			q.report(err)
			delay := w.delay
			w.delay = NextDelay(w.delay)
			if w.delay > q.cfg.MaxDelay {
				w.delay = q.cfg.MaxDelay
			}
			baseLogger.WithFields(logrus.Fields{"delay": delay, "error": err}).Warn("Operation failed, will resume after backoff")
			time.AfterFunc(delay, func() {
				w.loop(wg, errs)
			})
			return
		}

		baseLogger.WithField("error", err).Error("Unexpected error processing work item")
		if task.Seed() {
			q.push(nil)
			errs <- err
			w.shutdown()
			wg.Done()
			return
		}
		// Skip just this work unit and keep consuming.
	}
}

// acquire dials with a bounded retry budget of its own. Unlike item
// retries this sleeps in place: the worker has nothing else to do without
// a connection.
func (w *worker) acquire() (Conn, error) {
	q := w.q
	retriesLeft := q.cfg.ConnectRetries
	delay := q.cfg.BaseDelay

	for {
		conn, err := q.cfg.Dialer.Dial()
		if err == nil {
			q.report(nil)
			return conn, nil
		}
		retriesLeft--
		if retriesLeft <= 0 {
			return nil, err
		}
		q.report(err)
		q.l.WithFields(logrus.Fields{"queue": q.cfg.Name, "delay": delay, "error": err}).Warn("Could not connect, retrying after backoff")
		time.Sleep(delay)
		delay = NextDelay(delay)
		if delay > q.cfg.MaxDelay {
			delay = q.cfg.MaxDelay
		}
	}
}

// shutdown attempts a graceful logout. Connection loss during logout is
// expected from some servers and swallowed.
func (w *worker) shutdown() {
	if w.conn == nil || !w.conn.Alive() {
		w.conn = nil
		return
	}
	if err := w.conn.Logout(); err != nil {
		w.q.l.WithFields(logrus.Fields{"queue": w.q.cfg.Name, "error": err}).Debug("Ignoring logout failure during shutdown")
	}
	w.conn = nil
}
