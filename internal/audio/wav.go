package audio

import (
	"fmt"
	"os"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// FileWriter appends mono 16 kHz 16-bit PCM to a WAV file incrementally.
// Finalize patches the RIFF sizes, syncs, and closes the file; until then the
// header carries placeholder lengths. Finalize is the durability boundary:
// after it returns nil the file on disk is a complete, playable WAV.
type FileWriter struct {
	path    string
	f       *os.File
	enc     *wav.Encoder
	samples int64
	closed  bool
}

// NewFileWriter creates (or truncates) the WAV file at path.
func NewFileWriter(path string) (*FileWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav file: %w", err)
	}
	enc := wav.NewEncoder(f, TargetSampleRate, 16, 1, 1)
	return &FileWriter{path: path, f: f, enc: enc}, nil
}

// Append writes samples to the data chunk. May block on disk I/O; must only
// be called off the real-time path.
func (w *FileWriter) Append(samples []int16) error {
	if w.closed {
		return fmt.Errorf("wav writer already finalized")
	}
	if len(samples) == 0 {
		return nil
	}
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: 1, SampleRate: TargetSampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("write wav data: %w", err)
	}
	w.samples += int64(len(samples))
	return nil
}

// Finalize patches the header, syncs to disk, and closes the file. Safe to
// call once; subsequent Append calls fail.
func (w *FileWriter) Finalize() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.enc.Close(); err != nil {
		w.f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return fmt.Errorf("sync wav: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}

// Path returns the destination file path.
func (w *FileWriter) Path() string {
	return w.path
}

// SampleCount returns the number of samples appended so far.
func (w *FileWriter) SampleCount() int64 {
	return w.samples
}

// Duration returns the audio duration written so far.
func (w *FileWriter) Duration() time.Duration {
	return time.Duration(w.samples) * time.Second / TargetSampleRate
}
