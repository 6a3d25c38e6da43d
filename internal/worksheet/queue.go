package worksheet

import "sync"

// taskQueue is an unbounded multi-producer, single-consumer queue. Pushing
// never blocks, so document callbacks and readers can always hand off work.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []func()
	open   bool
	closed bool
	signal chan struct{}
}

func newTaskQueue() *taskQueue {
	return &taskQueue{signal: make(chan struct{}, 1)}
}

func (q *taskQueue) start() {
	q.mu.Lock()
	q.open = true
	q.mu.Unlock()
}

// push enqueues fn. It reports false when no consumer is running.
func (q *taskQueue) push(fn func()) bool {
	q.mu.Lock()
	if !q.open || q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()
	q.notify()
	return true
}

func (q *taskQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *taskQueue) drain() ([]func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	tasks := q.tasks
	q.tasks = nil
	return tasks, q.closed
}

func (q *taskQueue) notify() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
