package punishment

import (
	"fmt"
	"sync"
	"time"
)

// Record is one queued punishment.
type Record struct {
	ID           string
	Amount       int
	Reason       string
	SkipDemotion bool
	EnqueuedAt   time.Time
}

// Outcome is the result of processing one record.
type Outcome struct {
	Record        Record
	Applied       bool
	TransactionID string
	NewXP         int
	Demoted       bool
	FromLevel     int
	ToLevel       int
	Err           error
}

// Queue is a FIFO of punishments with a single drainer. Records enqueued
// while a drain is in progress (including from inside the processing
// function) are picked up by that drain, after the current record.
type Queue struct {
	mu       sync.Mutex
	items    []Record
	draining bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a record.
func (q *Queue) Push(r Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, r)
}

// Len is the number of records waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain processes records one at a time until the queue is empty. If
// another caller is already draining it returns nil immediately. A panic in
// process is converted into an Outcome error and draining continues.
func (q *Queue) Drain(process func(Record) Outcome) []Outcome {
	q.mu.Lock()
	if q.draining {
		q.mu.Unlock()
		return nil
	}
	q.draining = true

	var out []Outcome
	for len(q.items) > 0 {
		rec := q.items[0]
		q.items[0] = Record{}
		q.items = q.items[1:]
		q.mu.Unlock()

		out = append(out, safeProcess(process, rec))

		q.mu.Lock()
	}
	q.items = nil
	q.draining = false
	q.mu.Unlock()
	return out
}

func safeProcess(process func(Record) Outcome, rec Record) (o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			o = Outcome{Record: rec, Err: fmt.Errorf("punishment %q panicked: %v", rec.Reason, r)}
		}
	}()
	o = process(rec)
	o.Record = rec
	return o
}
