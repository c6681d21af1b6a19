package eventloop

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// defaultQueueSize is the buffer size of the task queue.
	defaultQueueSize = 100
)

// TimeoutID identifies a registered timer. The zero value is never issued.
type TimeoutID uint64

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// LoopOptions holds configuration for a Loop.
type LoopOptions struct {
	// QueueSize is the number of tasks that can wait before Execute blocks.
	// Default: 100.
	QueueSize int

	// Logger is optional.
	Logger Logger
}

// Loop runs posted tasks and timer callbacks one at a time on a single
// goroutine. Code that only ever runs inside the loop needs no locking.
//
// Thread Safety:
//   - Execute, RegisterRepeatingTimeout, RemoveTimeout and Stop are safe to
//     call from any goroutine.
type Loop struct {
	tasks  chan func()
	logger Logger

	timers  map[TimeoutID]*timer
	nextID  TimeoutID
	timerMu sync.Mutex

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	running  atomic.Bool

	tasksRun atomic.Uint64
	panics   atomic.Uint64
}

type timer struct {
	id        TimeoutID
	interval  time.Duration
	fn        func() bool
	stop      chan struct{}
	cancelled atomic.Bool
}

// Stats holds loop counters.
type Stats struct {
	TasksRun     uint64
	Panics       uint64
	ActiveTimers int
}

// New creates a loop. Call Run to start processing.
func New(opts LoopOptions) *Loop {
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Loop{
		tasks:  make(chan func(), size),
		logger: opts.Logger,
		timers: make(map[TimeoutID]*timer),
		done:   make(chan struct{}),
	}
}

// Run processes tasks until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer l.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.tasks:
			l.runTask(fn)
		}
	}
}

// runTask runs one task, recovering panics so a bad callback cannot kill
// the loop.
func (l *Loop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.panics.Add(1)
			if l.logger != nil {
				l.logger.Error("event loop task panic", "panic", fmt.Sprint(r))
			}
		}
	}()
	l.tasksRun.Add(1)
	fn()
}

// Execute posts fn to run on the loop. It blocks while the queue is full
// and returns ErrStopped once the loop has been stopped.
func (l *Loop) Execute(fn func()) error {
	select {
	case <-l.done:
		return ErrStopped
	default:
	}

	select {
	case l.tasks <- fn:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// RegisterRepeatingTimeout calls fn on the loop every interval until fn
// returns false or the timeout is removed.
func (l *Loop) RegisterRepeatingTimeout(interval time.Duration, fn func() bool) TimeoutID {
	t := &timer{
		interval: interval,
		fn:       fn,
		stop:     make(chan struct{}),
	}

	l.timerMu.Lock()
	l.nextID++
	t.id = l.nextID
	l.timers[t.id] = t
	l.timerMu.Unlock()

	l.wg.Add(1)
	go l.runTimer(t)

	return t.id
}

// RemoveTimeout cancels a timer. When called from the loop no further
// callback for id runs. Unknown ids are ignored.
func (l *Loop) RemoveTimeout(id TimeoutID) {
	l.timerMu.Lock()
	t, ok := l.timers[id]
	delete(l.timers, id)
	l.timerMu.Unlock()

	if !ok {
		return
	}
	t.cancelled.Store(true)
	close(t.stop)
}

// runTimer ticks a timer and posts its callback to the loop.
func (l *Loop) runTimer(t *timer) {
	defer l.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-t.stop:
			return
		case <-ticker.C:
			err := l.Execute(func() {
				if t.cancelled.Load() {
					return
				}
				if !t.fn() {
					l.RemoveTimeout(t.id)
				}
			})
			if err != nil {
				return
			}
		}
	}
}

// Stop ends Run and all timers. Tasks still queued are discarded.
// Safe to call multiple times.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)

		l.timerMu.Lock()
		for id, t := range l.timers {
			t.cancelled.Store(true)
			close(t.stop)
			delete(l.timers, id)
		}
		l.timerMu.Unlock()

		l.wg.Wait()
	})
}

// Stats returns loop counters.
func (l *Loop) Stats() Stats {
	l.timerMu.Lock()
	active := len(l.timers)
	l.timerMu.Unlock()

	return Stats{
		TasksRun:     l.tasksRun.Load(),
		Panics:       l.panics.Load(),
		ActiveTimers: active,
	}
}
