package mouse

import "sync/atomic"

// QueueCapacity is the number of motion entries buffered between the
// interrupt handler and the poll loop.
const QueueCapacity = 16

// Motion is one queued report.
type Motion struct {
	DX, DY  int8
	Buttons uint8
}

func (m Motion) pack() uint32 {
	return uint32(uint8(m.DX)) | uint32(uint8(m.DY))<<8 | uint32(m.Buttons)<<16
}

func unpack(v uint32) Motion {
	return Motion{DX: int8(v), DY: int8(v >> 8), Buttons: uint8(v >> 16)}
}

// Queue is a single-producer single-consumer ring of Motion entries. Only
// the producer moves tail and only the consumer moves head. When the ring
// is full the producer overwrites the oldest entry and the consumer skips
// past whatever it was lapped on, so the producer never blocks.
//
// Each slot carries the index it was written for in its upper half, which
// lets the consumer tell a lapped slot from the entry it expected.
type Queue struct {
	head    atomic.Uint32
	tail    atomic.Uint32
	slots   [QueueCapacity]atomic.Uint64
	dropped atomic.Uint64
}

// Push appends m. Producer side only.
func (q *Queue) Push(m Motion) {
	t := q.tail.Load()
	if t-q.head.Load() >= QueueCapacity {
		q.dropped.Add(1)
	}
	q.slots[t%QueueCapacity].Store(uint64(t)<<32 | uint64(m.pack()))
	q.tail.Store(t + 1)
}

// Pop removes the oldest entry. Consumer side only.
func (q *Queue) Pop() (Motion, bool) {
	h := q.head.Load()
	for {
		t := q.tail.Load()
		if t == h {
			return Motion{}, false
		}
		if t-h > QueueCapacity {
			h = t - QueueCapacity
		}
		v := q.slots[h%QueueCapacity].Load()
		if uint32(v>>32) != h {
			// Overwritten by a later lap; tail has moved or is about to.
			continue
		}
		q.head.Store(h + 1)
		return unpack(uint32(v)), true
	}
}

// Len returns the number of unread entries. Head is read first so a
// concurrent Pop can only make the result stale, never negative.
func (q *Queue) Len() int {
	h := q.head.Load()
	return span(h, q.tail.Load())
}

// span is the number of entries between head and tail, clamped to the ring.
func span(head, tail uint32) int {
	n := int32(tail - head)
	switch {
	case n < 0:
		return 0
	case n > QueueCapacity:
		return QueueCapacity
	}
	return int(n)
}

// Empty reports whether there is nothing to read.
func (q *Queue) Empty() bool { return q.Len() == 0 }

// Dropped returns the number of entries lost to overflow.
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }
