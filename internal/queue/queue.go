// Package queue implements the message queue: a per-output buffer pool
// with three lifecycle phases (in-flight, final, cleared) and stable
// buffer identifiers that survive reuse, grounded on xpc_msg_queue.c's
// inflight hashmap / final-marks bitmap / cleared free-list split.
//
// Unlike the original's hashmap-iteration-order dequeue (effectively
// unspecified), dequeue order here is ascending id, as the governing
// design mandates for deterministic tests.
package queue

import "sort"

// Buf is one message buffer. BufID is a stable identifier valid from
// allocation (Queue.GetBuf(-1)) until the buffer is cleared.
type Buf struct {
	BufID    int
	Size     int
	WrOffset int
	Bytes    []byte
}

// Queue is a per-output pool of Bufs moving through inflight -> final ->
// cleared -> (reused by a later GetBuf(-1)).
type Queue struct {
	inflight     map[int]*Buf
	finalMarks   map[int]struct{}
	cleared      []*Buf
	currentMinID int
}

// New returns an empty queue.
func New() *Queue {
	return &Queue{
		inflight:   make(map[int]*Buf),
		finalMarks: make(map[int]struct{}),
	}
}

// GetBuf returns the buffer for id, or allocates a new one if id < 0.
// Allocation reuses a cleared buffer when one exists, reassigning it the
// lowest free id. Returns nil only if id >= 0 names a buffer that is not
// currently inflight (never-allocated or already-cleared ids; a dequeued
// buffer stays inflight until Clear).
func (q *Queue) GetBuf(id int) *Buf {
	if id >= 0 {
		return q.inflight[id]
	}

	var b *Buf
	if n := len(q.cleared); n > 0 {
		b = q.cleared[n-1]
		q.cleared = q.cleared[:n-1]
	} else {
		b = &Buf{}
	}

	b.BufID = q.currentMinID
	q.inflight[b.BufID] = b
	for {
		q.currentMinID++
		if _, taken := q.inflight[q.currentMinID]; !taken {
			break
		}
	}
	return b
}

// Finalize marks id as complete and eligible for DequeueFinal. Returns false
// if id is not currently inflight.
func (q *Queue) Finalize(id int) bool {
	if _, ok := q.inflight[id]; !ok {
		return false
	}
	q.finalMarks[id] = struct{}{}
	return true
}

// DequeueFinal returns the lowest-id finalized buffer, or nil if none
// are finalized. The buffer stays in inflight (only its final mark is
// dropped, so it is not dequeued a second time) until the caller is
// done draining it and calls Clear; GetBuf(id) keeps resolving it in
// the meantime.
func (q *Queue) DequeueFinal() *Buf {
	if len(q.finalMarks) == 0 {
		return nil
	}
	ids := make([]int, 0, len(q.finalMarks))
	for id := range q.finalMarks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	id := ids[0]

	delete(q.finalMarks, id)
	return q.inflight[id]
}

// Clear returns a no-longer-needed inflight buffer to the free pool,
// dropping any final mark it carried and lowering currentMinID if id was
// below it. Returns false if id is not currently inflight.
func (q *Queue) Clear(id int) bool {
	b, ok := q.inflight[id]
	if !ok {
		return false
	}
	delete(q.inflight, id)
	delete(q.finalMarks, id)
	b.Size = 0
	b.WrOffset = 0
	b.BufID = 0
	b.Bytes = b.Bytes[:0]
	q.cleared = append(q.cleared, b)
	if id < q.currentMinID {
		q.currentMinID = id
	}
	return true
}

// Len reports the number of buffers currently inflight (filling or
// final).
func (q *Queue) Len() int {
	return len(q.inflight)
}
