package rsfec

import (
	"container/heap"
	"sync"
	"time"
)

// flushTimer schedules the optional send-side block-flush deadline
// (spec.md §6 "timeout" key). It is adapted from the teacher's
// heap-based Timer (timers.go): one worker goroutine drains a min-heap of
// pending deadlines, with a prepend queue so Schedule never blocks on the
// worker. Unlike the teacher's general-purpose multi-worker timer, it runs
// a single worker. Schedule never cancels an earlier deadline: every
// scheduled task fires, and a BlockAssembler ignores a firing whose
// generation no longer matches its current block.
//
// This is the only timer in rsfec: receive-side block TTL is checked
// opportunistically inside Receive, per spec.md §5, never via a
// background goroutine.
type flushTimer struct {
	prepend     []timedTask
	prependLock sync.Mutex
	notify      chan struct{}

	task  chan timedTask
	close chan struct{}
	once  sync.Once
}

type timedTask struct {
	execute func(generation uint64)
	at      time.Time
	gen     uint64
}

func newFlushTimer() *flushTimer {
	t := &flushTimer{
		task:   make(chan timedTask),
		close:  make(chan struct{}),
		notify: make(chan struct{}, 1),
	}
	go t.schedule()
	go t.drainPrepend()
	return t
}

// Schedule arranges for fn(generation) to run at deadline unless the timer
// is closed first. The generation is an opaque token the caller can use
// to detect a stale firing (e.g. the block already flushed and reset by
// the time the deadline elapses).
func (t *flushTimer) Schedule(deadline time.Time, generation uint64, fn func(generation uint64)) {
	t.prependLock.Lock()
	t.prepend = append(t.prepend, timedTask{execute: fn, at: deadline, gen: generation})
	t.prependLock.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *flushTimer) Close() {
	t.once.Do(func() { close(t.close) })
}

type taskHeap []timedTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)         { *h = append(*h, x.(timedTask)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

func (t *flushTimer) schedule() {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var pending taskHeap
	armed := false

	for {
		select {
		case task := <-t.task:
			now := time.Now()
			if !now.Before(task.at) {
				go task.execute(task.gen)
				continue
			}
			heap.Push(&pending, task)
			if !armed || pending[0].at == task.at {
				timer.Reset(time.Until(pending[0].at))
				armed = true
			}
		case now := <-timer.C:
			armed = false
			for pending.Len() > 0 && !now.Before(pending[0].at) {
				due := heap.Pop(&pending).(timedTask)
				go due.execute(due.gen)
			}
			if pending.Len() > 0 {
				timer.Reset(time.Until(pending[0].at))
				armed = true
			}
		case <-t.close:
			return
		}
	}
}

func (t *flushTimer) drainPrepend() {
	for {
		select {
		case <-t.notify:
			t.prependLock.Lock()
			batch := t.prepend
			t.prepend = nil
			t.prependLock.Unlock()

			for _, task := range batch {
				select {
				case t.task <- task:
				case <-t.close:
					return
				}
			}
		case <-t.close:
			return
		}
	}
}
