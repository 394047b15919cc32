package audio

import (
	"testing"
)

func seq(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func TestRingRejectsNonPositiveCapacity(t *testing.T) {
	if _, err := NewRing(0); err == nil {
		t.Fatalf("expected error for zero capacity")
	}
	if _, err := NewRing(-5); err == nil {
		t.Fatalf("expected error for negative capacity")
	}
}

func TestRingInOrderReadback(t *testing.T) {
	r, err := NewRing(64)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}
	if dropped := r.Write(seq(0, 48)); dropped != 0 {
		t.Fatalf("expected no drops, got %d", dropped)
	}
	if got := r.Len(); got != 48 {
		t.Fatalf("expected len 48, got %d", got)
	}

	dst := make([]float32, 48)
	n := r.Read(dst)
	if n != 48 {
		t.Fatalf("expected 48 samples, got %d", n)
	}
	for i := 0; i < n; i++ {
		if dst[i] != float32(i) {
			t.Fatalf("sample %d: expected %v, got %v", i, float32(i), dst[i])
		}
	}
	if r.Len() != 0 {
		t.Fatalf("expected empty ring after read, got %d", r.Len())
	}
}

func TestRingOverflowKeepsMostRecent(t *testing.T) {
	r, err := NewRing(16)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}

	var dropped int
	for i := 0; i < 10; i++ {
		dropped += r.Write(seq(i*8, 8))
	}
	// 80 written into 16 slots: 64 overwritten, 16 newest remain.
	if dropped != 64 {
		t.Fatalf("expected 64 dropped, got %d", dropped)
	}
	if r.Len() != 16 {
		t.Fatalf("expected full ring, got %d", r.Len())
	}

	dst := make([]float32, 16)
	n := r.Read(dst)
	if n != 16 {
		t.Fatalf("expected 16 samples, got %d", n)
	}
	for i := 0; i < n; i++ {
		want := float32(64 + i)
		if dst[i] != want {
			t.Fatalf("sample %d: expected %v, got %v", i, want, dst[i])
		}
	}
}

func TestRingBurstLargerThanCapacity(t *testing.T) {
	r, err := NewRing(8)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}
	dropped := r.Write(seq(0, 20))
	if dropped != 12 {
		t.Fatalf("expected 12 dropped, got %d", dropped)
	}
	dst := make([]float32, 8)
	n := r.Read(dst)
	if n != 8 {
		t.Fatalf("expected 8 samples, got %d", n)
	}
	for i := 0; i < n; i++ {
		want := float32(12 + i)
		if dst[i] != want {
			t.Fatalf("sample %d: expected %v, got %v", i, want, dst[i])
		}
	}
}

func TestRingConcurrentProducerConsumer(t *testing.T) {
	r, err := NewRing(1024)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}

	const total = 100000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i += 100 {
			r.Write(seq(i, 100))
		}
	}()

	// The consumer may lose overwritten spans, but everything it reads must
	// be strictly increasing: no duplicates, no reordering, no torn copies.
	var last float32 = -1
	producerDone := false
	buf := make([]float32, 256)
	for {
		n := r.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i] <= last {
				t.Fatalf("out-of-order sample: %v after %v", buf[i], last)
			}
			last = buf[i]
		}
		if n == 0 {
			if producerDone {
				break
			}
			select {
			case <-done:
				producerDone = true
			default:
			}
		}
	}
	if last != float32(total-1) {
		t.Fatalf("expected final sample %d, got %v", total-1, last)
	}
}

func TestRingConcurrentOverflowReadsNeverTorn(t *testing.T) {
	// Small ring with writes smaller than reads keeps the ring permanently
	// full, so nearly every read races an overwrite. A read committed while
	// the producer recycles its region would mix old and new samples and
	// break monotonicity.
	r, err := NewRing(256)
	if err != nil {
		t.Fatalf("new ring: %v", err)
	}

	const total = 200000
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i += 64 {
			r.Write(seq(i, 64))
		}
	}()

	var last float32 = -1
	producerDone := false
	buf := make([]float32, 256)
	for {
		n := r.Read(buf)
		for i := 0; i < n; i++ {
			if buf[i] <= last {
				t.Fatalf("out-of-order sample: %v after %v", buf[i], last)
			}
			last = buf[i]
		}
		if n == 0 {
			if producerDone {
				break
			}
			select {
			case <-done:
				producerDone = true
			default:
			}
		}
	}
	if last != float32(total-1) {
		t.Fatalf("expected final sample %d, got %v", total-1, last)
	}
}
