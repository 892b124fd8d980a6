package utils

import (
	"errors"
	"sync"
)

var (
	ErrClosed     = errors.New("[replay] queue is closed")
	ErrWouldBlock = errors.New("[replay] queue is over capacity")
)

// RecordQueue is a bounded FIFO of record batches. The unlocked form never
// blocks: Drain over capacity returns ErrWouldBlock, Feed on empty returns
// ErrWouldBlock. Blocking() wraps it with wait-on-full / wait-on-empty
// semantics for use as a per-connection outbound hose.
//
// The element type is generic so package protocol can use its own Records
// alias without an import cycle.
type RecordQueue[T ~[][]byte] struct {
	recs  T
	lock  sync.Mutex
	cond  sync.Cond
	limit int
}

func NewRecordQueue[T ~[][]byte](limit int) *RecordQueue[T] {
	return &RecordQueue[T]{limit: limit}
}

func (q *RecordQueue[T]) Drain(recs T) error {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.limit == 0 {
		return ErrClosed
	}
	if len(q.recs)+len(recs) > q.limit {
		return ErrWouldBlock
	}
	was0 := len(q.recs) == 0
	q.recs = append(q.recs, recs...)
	if was0 && q.cond.L != nil {
		q.cond.Broadcast()
	}
	return nil
}

func (q *RecordQueue[T]) Feed() (recs T, err error) {
	q.lock.Lock()
	defer q.lock.Unlock()
	if len(q.recs) == 0 {
		if q.limit == 0 {
			return nil, ErrClosed
		}
		return nil, ErrWouldBlock
	}
	wasfull := len(q.recs) >= q.limit
	recs = q.recs
	q.recs = q.recs[len(q.recs):]
	if wasfull && q.cond.L != nil {
		q.cond.Broadcast()
	}
	return
}

func (q *RecordQueue[T]) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.recs)
}

// Close wakes all blocked producers and consumers; they return ErrClosed.
func (q *RecordQueue[T]) Close() error {
	q.lock.Lock()
	q.limit = 0
	if q.cond.L != nil {
		q.cond.Broadcast()
	}
	q.lock.Unlock()
	return nil
}

// Blocking returns a view of the queue whose Drain waits for capacity and
// whose Feed waits for records.
func (q *RecordQueue[T]) Blocking() *BlockingRecordQueue[T] {
	q.lock.Lock()
	if q.cond.L == nil {
		q.cond.L = &q.lock
	}
	q.lock.Unlock()
	return &BlockingRecordQueue[T]{q}
}

type BlockingRecordQueue[T ~[][]byte] struct {
	queue *RecordQueue[T]
}

func (bq *BlockingRecordQueue[T]) Close() error { return bq.queue.Close() }

func (bq *BlockingRecordQueue[T]) Drain(recs T) error {
	q := bq.queue
	q.lock.Lock()
	defer q.lock.Unlock()
	for len(recs) > 0 {
		was0 := len(q.recs) == 0
		for q.limit <= len(q.recs) {
			if q.limit == 0 {
				return ErrClosed
			}
			q.cond.Wait()
		}
		n := min(q.limit-len(q.recs), len(recs))
		q.recs = append(q.recs, recs[:n]...)
		recs = recs[n:]
		if was0 {
			q.cond.Broadcast()
		}
	}
	return nil
}

func (bq *BlockingRecordQueue[T]) Feed() (recs T, err error) {
	q := bq.queue
	q.lock.Lock()
	defer q.lock.Unlock()
	wasfull := len(q.recs) >= q.limit
	for len(q.recs) == 0 {
		if q.limit == 0 {
			return nil, ErrClosed
		}
		q.cond.Wait()
	}
	recs = q.recs
	q.recs = q.recs[len(q.recs):]
	if wasfull {
		q.cond.Broadcast()
	}
	return
}
