package runtime

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/calvinalkan/kvcore/internal/errs"
)

type suspendKind int

const (
	suspendNone suspendKind = iota
	suspendIO
	suspendTimer
	suspendYield
	suspendDone
)

type suspendMsg struct {
	kind     suspendKind
	fd       int
	events   IOEvents
	deadline time.Time
	err      error
}

// Task is one unit of cooperative work. Its body runs on its own
// goroutine but is only ever scheduled to run, by the owning Runtime, one
// task at a time — see the package doc comment.
type Task struct {
	id        uint64
	rt        *Runtime
	wake      chan struct{}
	result    chan suspendMsg
	cancelled atomic.Bool

	// resumeEvents is set by the scheduler immediately before waking a
	// task that was suspended on I/O; safe without its own lock because
	// the wake channel send/receive forms the happens-before edge.
	resumeEvents IOEvents
}

// Cancel marks the task cancelled. The cancellation is observed at the
// task's next suspension point, not mid-syscall, per spec.md §4.7.
func (t *Task) Cancel() { t.cancelled.Store(true) }

func (t *Task) checkCancelled() error {
	if t.cancelled.Load() {
		return errs.New(errs.Cancelled, "runtime.task", nil)
	}

	return nil
}

// Yield suspends the task, re-queuing it at the tail of the ready queue.
func (t *Task) Yield() error {
	t.result <- suspendMsg{kind: suspendYield}
	<-t.wake

	return t.checkCancelled()
}

// AwaitTimer suspends the task until d has elapsed.
func (t *Task) AwaitTimer(d time.Duration) error {
	t.result <- suspendMsg{kind: suspendTimer, deadline: time.Now().Add(d)}
	<-t.wake

	return t.checkCancelled()
}

// AwaitIO suspends the task until fd becomes ready for one of events.
func (t *Task) AwaitIO(fd int, events IOEvents) (IOEvents, error) {
	t.result <- suspendMsg{kind: suspendIO, fd: fd, events: events}
	<-t.wake

	if err := t.checkCancelled(); err != nil {
		return 0, err
	}

	return t.resumeEvents, nil
}

type timerEntry struct {
	deadline time.Time
	seq      uint64
	task     *Task
}

// timerHeap orders by deadline, breaking ties by insertion sequence —
// spec.md §4.7: "ties break by insertion order."
type timerHeap []timerEntry

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}

	return h[i].deadline.Before(h[j].deadline)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(timerEntry)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]

	return entry
}

// Runtime is one single-threaded cooperative async runtime instance: a
// FIFO ready queue, a deadline-ordered timer heap, and one platform
// poller. Per spec.md §5, a process may host multiple independent
// Runtime instances, each on its own goroutine/thread, all sharing the
// same Engine.
type Runtime struct {
	mu       sync.Mutex
	ready    []*Task
	timers   timerHeap
	timerSeq uint64
	ioParked int // tasks suspended on AwaitIO, guarded by mu
	nextID   atomic.Uint64

	poller poller
	closed atomic.Bool
}

// New constructs a Runtime and initializes its poller.
func New() (*Runtime, error) {
	p := newPoller()
	if err := p.Init(); err != nil {
		return nil, err
	}

	return &Runtime{poller: p}, nil
}

// Close sets the runtime's closed flag and releases the poller; Spawn and
// Run do not consult that flag. Tasks already parked on AwaitIO/AwaitTimer are abandoned, matching spec.md
// §9's shutdown-time sweep reclamation (no epoch-based reclamation).
func (rt *Runtime) Close() error {
	rt.closed.Store(true)
	return rt.poller.Close()
}

// Spawn starts a new task. fn runs on its own goroutine but does not
// begin executing until the Runtime's Run loop first schedules it.
func (rt *Runtime) Spawn(fn func(t *Task) error) *Task {
	t := &Task{
		id:     rt.nextID.Add(1),
		rt:     rt,
		wake:   make(chan struct{}),
		result: make(chan suspendMsg, 1),
	}

	go func() {
		<-t.wake

		err := fn(t)
		t.result <- suspendMsg{kind: suspendDone, err: err}
	}()

	rt.mu.Lock()
	rt.ready = append(rt.ready, t)
	rt.mu.Unlock()

	return t
}

// RegisterFD exposes the runtime's poller for callers that want raw
// readiness callbacks instead of a Task's AwaitIO suspension point.
func (rt *Runtime) RegisterFD(fd int, events IOEvents, cb func(IOEvents)) error {
	return rt.poller.RegisterFD(fd, events, cb)
}

// UnregisterFD releases a previously registered fd. Callers must
// unregister before closing the fd to avoid stale delivery on a recycled
// descriptor.
func (rt *Runtime) UnregisterFD(fd int) error {
	return rt.poller.UnregisterFD(fd)
}

// Run drives the scheduler loop until every spawned task has finished
// and no timers remain pending, or stop is closed.
func (rt *Runtime) Run(stop <-chan struct{}) error {
	for {
		select {
		case <-stop:
			return nil
		default:
		}

		rt.fireDueTimers()

		task, ok := rt.popReady()
		if !ok {
			if rt.idle() {
				return nil
			}

			if _, err := rt.poller.Poll(rt.pollTimeoutMs()); err != nil {
				return err
			}

			continue
		}

		task.wake <- struct{}{}
		msg := <-task.result

		switch msg.kind {
		case suspendDone:
			// Nothing to reschedule.
		case suspendYield:
			rt.mu.Lock()
			rt.ready = append(rt.ready, task)
			rt.mu.Unlock()
		case suspendTimer:
			rt.mu.Lock()
			rt.timerSeq++
			heap.Push(&rt.timers, timerEntry{deadline: msg.deadline, seq: rt.timerSeq, task: task})
			rt.mu.Unlock()
		case suspendIO:
			fd, events := msg.fd, msg.events
			t := task

			err := rt.poller.RegisterFD(fd, events, func(ev IOEvents) {
				_ = rt.poller.UnregisterFD(fd)
				t.resumeEvents = ev
				rt.mu.Lock()
				rt.ioParked--
				rt.ready = append(rt.ready, t)
				rt.mu.Unlock()
			})
			if err != nil {
				// Registration failure surfaces as an immediate
				// cancellation on the task's next suspension check.
				t.Cancel()
				rt.mu.Lock()
				rt.ready = append(rt.ready, t)
				rt.mu.Unlock()
			} else {
				rt.mu.Lock()
				rt.ioParked++
				rt.mu.Unlock()
			}
		}
	}
}

func (rt *Runtime) popReady() (*Task, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if len(rt.ready) == 0 {
		return nil, false
	}

	t := rt.ready[0]
	rt.ready = rt.ready[1:]

	return t, true
}

func (rt *Runtime) fireDueTimers() {
	now := time.Now()

	rt.mu.Lock()
	defer rt.mu.Unlock()

	for rt.timers.Len() > 0 && !rt.timers[0].deadline.After(now) {
		entry := heap.Pop(&rt.timers).(timerEntry)
		rt.ready = append(rt.ready, entry.task)
	}
}

func (rt *Runtime) idle() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	return len(rt.ready) == 0 && rt.timers.Len() == 0 && rt.ioParked == 0
}

func (rt *Runtime) pollTimeoutMs() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.timers.Len() == 0 {
		return 50
	}

	d := time.Until(rt.timers[0].deadline)
	if d <= 0 {
		return 0
	}

	ms := d.Milliseconds()
	if ms > 50 {
		return 50
	}

	return int(ms)
}
