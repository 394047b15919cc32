package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const writerPollInterval = 10 * time.Millisecond

// Writer drains the session ring onto the WAV file from a dedicated
// goroutine, converting each chunk to the target PCM format. It may block on
// disk I/O; it never touches the real-time path. On stop it drains every
// remaining buffered sample before finalizing, so trailing audio survives a
// stop signal that lands mid-burst.
type Writer struct {
	ring   *Ring
	out    *FileWriter
	format func() Format
	logger *slog.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}

	mu  sync.Mutex
	err error
}

// StartWriter spawns the writer goroutine. format is consulted per chunk so
// a mid-session device switch (after a drain) takes effect transparently.
func StartWriter(ring *Ring, out *FileWriter, format func() Format, logger *slog.Logger) *Writer {
	w := &Writer{
		ring:   ring,
		out:    out,
		format: format,
		logger: logger.With(slog.String("component", "writer")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Writer) loop() {
	defer close(w.done)

	buf := make([]float32, 4096)
	for {
		select {
		case <-w.stop:
			w.drain(buf)
			if err := w.out.Finalize(); err != nil {
				w.setErr(err)
			}
			return
		default:
		}
		n := w.ring.Read(buf)
		if n == 0 {
			time.Sleep(writerPollInterval)
			continue
		}
		if err := w.append(buf[:n]); err != nil {
			w.setErr(err)
			// Leave the partial file in place; stop consuming.
			return
		}
	}
}

func (w *Writer) drain(buf []float32) {
	for {
		n := w.ring.Read(buf)
		if n == 0 {
			return
		}
		if err := w.append(buf[:n]); err != nil {
			w.setErr(err)
			return
		}
	}
}

func (w *Writer) append(samples []float32) error {
	f := w.format()
	pcm := ToPCM16(samples, f.SampleRate, f.Channels)
	if err := w.out.Append(pcm); err != nil {
		return fmt.Errorf("append audio: %w", err)
	}
	return nil
}

// Stop signals the writer, waits for the drain and finalize to complete, and
// returns any I/O error the writer hit. The file is complete and playable
// once Stop returns nil.
func (w *Writer) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stop) })
	select {
	case <-w.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.Err()
}

// Done closes when the writer goroutine has exited, normally or on error.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

// Err returns the first write/finalize error, nil if none.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

func (w *Writer) setErr(err error) {
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
	w.logger.Error("writer failed", slog.String("error", err.Error()))
}
