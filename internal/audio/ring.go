package audio

import (
	"fmt"
	"sync/atomic"
)

// Ring is a fixed-capacity single-producer/single-consumer sample buffer.
// The producer is the capture callback and must never block, so Write always
// succeeds: when the consumer falls behind, the oldest unread samples are
// overwritten and reported as dropped. Cursors are monotonically increasing
// sample counts; their difference never exceeds capacity.
//
// One goroutine may write and one may read. A Ring is created per recording
// session and must not be reused across sessions.
type Ring struct {
	buf []float32
	cap int64
	w   atomic.Int64
	r   atomic.Int64
}

// NewRing creates a ring holding capacity samples. The buffer is allocated
// once here; Write and Read never allocate.
func NewRing(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring capacity must be positive, got %d", capacity)
	}
	return &Ring{
		buf: make([]float32, capacity),
		cap: int64(capacity),
	}, nil
}

// Write copies samples into the ring and returns the number of previously
// unread samples that were overwritten. It never blocks and never allocates.
// Only the producer goroutine may call Write.
func (q *Ring) Write(samples []float32) int {
	n := int64(len(samples))
	if n == 0 {
		return 0
	}
	var dropped int64
	if n > q.cap {
		// More than one full ring in a single burst: only the tail survives.
		dropped = n - q.cap
		samples = samples[dropped:]
		n = q.cap
	}

	w := q.w.Load()

	// Reclaim the region this write will cover before touching any cell.
	// A reader that loaded the old cursor and is still copying will then
	// fail its cursor CAS and retry, so overwritten cells never leak into
	// a committed read.
	for {
		r := q.r.Load()
		if w+n-r <= q.cap {
			break
		}
		target := w + n - q.cap
		if q.r.CompareAndSwap(r, target) {
			dropped += target - r
			break
		}
	}

	for i, s := range samples {
		q.buf[(w+int64(i))%q.cap] = s
	}
	q.w.Store(w + n)
	return int(dropped)
}

// Read copies up to len(dst) samples into dst and returns the count, zero if
// the ring is empty. It never blocks. Only the consumer goroutine may call
// Read. If the producer overwrites the region mid-copy the read is retried
// from the fresher cursor, so returned data is never torn across a wrap.
func (q *Ring) Read(dst []float32) int {
	if len(dst) == 0 {
		return 0
	}
	for {
		r := q.r.Load()
		w := q.w.Load()
		avail := w - r
		if avail <= 0 {
			return 0
		}
		n := int64(len(dst))
		if n > avail {
			n = avail
		}
		for i := int64(0); i < n; i++ {
			dst[i] = q.buf[(r+i)%q.cap]
		}
		if q.r.CompareAndSwap(r, r+n) {
			return int(n)
		}
	}
}

// Len reports the number of unread samples.
func (q *Ring) Len() int {
	n := q.w.Load() - q.r.Load()
	if n < 0 {
		n = 0
	}
	return int(n)
}

// Capacity reports the fixed capacity in samples.
func (q *Ring) Capacity() int {
	return int(q.cap)
}
