package host

import (
	"container/heap"

	"github.com/sarchlab/scriptentry/attribution"
	"github.com/sarchlab/scriptentry/timing"
)

// TaskFunc is the body of a task or a microtask.
type TaskFunc func(l *Loop)

// A Task is a unit of work posted to the task queue.
type Task struct {
	// Name labels the task in logs and host entries.
	Name string

	// At is the earliest time the task may start.
	At timing.Timestamp

	// Invoker, when set, makes the loop report the time the task spends
	// outside of any bound entry as a host entry of that invoker type.
	Invoker attribution.InvokerType

	// Run is the body of the task.
	Run TaskFunc

	seq uint64
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].At != h[j].At {
		return h[i].At < h[j].At
	}

	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *taskHeap) Push(x any) {
	*h = append(*h, x.(*Task))
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]

	return t
}

// taskQueue orders tasks by start time, then by posting order.
type taskQueue struct {
	tasks taskHeap
	seq   uint64
}

func (q *taskQueue) push(t *Task) {
	q.seq++
	t.seq = q.seq
	heap.Push(&q.tasks, t)
}

func (q *taskQueue) pop() *Task {
	if len(q.tasks) == 0 {
		return nil
	}

	return heap.Pop(&q.tasks).(*Task)
}

func (q *taskQueue) len() int {
	return len(q.tasks)
}

type microtask struct {
	handle attribution.MicrotaskHandle
	run    TaskFunc
}
