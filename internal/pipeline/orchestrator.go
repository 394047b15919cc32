package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/murmurlabs/murmurd/internal/audio"
	"github.com/murmurlabs/murmurd/internal/bus"
	"github.com/murmurlabs/murmurd/internal/config"
	"github.com/murmurlabs/murmurd/internal/enhance"
	"github.com/murmurlabs/murmurd/internal/history"
	"github.com/murmurlabs/murmurd/internal/output"
	"github.com/murmurlabs/murmurd/internal/protocol"
	"github.com/murmurlabs/murmurd/internal/stt"
	"github.com/murmurlabs/murmurd/internal/vad"
)

// Stage is the pipeline's lifecycle position. Within a run it moves forward
// through the stages, except that Cancel returns it to Idle from anywhere;
// Completed and Failed both return the orchestrator to accepting new runs.
type Stage int32

const (
	StageIdle Stage = iota
	StageRecording
	StageTranscribing
	StageFiltering
	StageEnhancing
	StageOutputting
	StageCompleted
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageRecording:
		return "recording"
	case StageTranscribing:
		return "transcribing"
	case StageFiltering:
		return "filtering"
	case StageEnhancing:
		return "enhancing"
	case StageOutputting:
		return "outputting"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrAlreadyRunning is returned by Start while a run is in progress.
var ErrAlreadyRunning = errors.New("a dictation run is already in progress")

// ErrNotRecording is returned by Stop and SwitchDevice when no run is
// capturing audio, and by Cancel when no run is active at all.
var ErrNotRecording = errors.New("no recording in progress")

// Result is the outcome of one completed run.
type Result struct {
	RunID     string        `json:"run_id"`
	RawText   string        `json:"raw_text"`
	FinalText string        `json:"final_text"`
	Enhanced  bool          `json:"enhanced"`
	AudioPath string        `json:"audio_path,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Status is a point-in-time snapshot for the status endpoint.
type Status struct {
	Stage          string `json:"stage"`
	RunID          string `json:"run_id,omitempty"`
	Device         string `json:"device,omitempty"`
	DroppedSamples int64  `json:"dropped_samples"`
	ElapsedMS      int64  `json:"elapsed_ms"`
	LastText       string `json:"last_text,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// Orchestrator drives the record, transcribe, filter, enhance, output
// pipeline. At most one run exists at a time; Start is the only entry point
// and enforces that with an atomic check-and-set.
type Orchestrator struct {
	cfg      config.Config
	log      *slog.Logger
	bus      bus.Publisher
	opener   audio.SourceOpener
	stt      stt.Transcriber
	enhancer enhance.Enhancer
	filter   *Filter
	sink     output.Sink
	history  *history.Store
	metrics  *metrics

	active atomic.Bool
	stage  atomic.Int32

	mu         sync.Mutex
	run        *run
	lastResult *Result
	lastErr    error
}

// run holds the per-session resources. They are built by Start and released
// exactly once, through finishOnce.
//
// Two cancellation scopes: ctx spans the whole run and is cancelled only by
// Cancel, aborting whatever stage is in flight. tapCtx is derived from it
// and is additionally cancelled when recording ends, stopping the tap
// consumers while the downstream stages keep running.
type run struct {
	id        string
	startedAt time.Time
	device    string
	audioPath string

	ctx      context.Context
	cancel   context.CancelFunc
	tapCtx   context.Context
	stopTaps context.CancelFunc

	capture *audio.Capture
	writer  *audio.Writer
	wav     *audio.FileWriter

	taps sync.WaitGroup

	finishOnce sync.Once
	done       chan struct{}
}

// New builds an orchestrator. opener may be a fake for tests; nil selects
// the host audio backend.
func New(cfg config.Config, log *slog.Logger, pub bus.Publisher, opener audio.SourceOpener,
	transcriber stt.Transcriber, enhancer enhance.Enhancer, sink output.Sink, store *history.Store) *Orchestrator {
	if opener == nil {
		opener = audio.OpenPortAudioSource
	}
	if pub == nil {
		pub = bus.Nop{}
	}
	return &Orchestrator{
		cfg:      cfg,
		log:      log.With(slog.String("component", "pipeline")),
		bus:      pub,
		opener:   opener,
		stt:      transcriber,
		enhancer: enhancer,
		filter:   NewFilter(cfg.Filter),
		sink:     sink,
		history:  store,
		metrics:  newMetrics(),
	}
}

// Stage returns the current pipeline stage.
func (o *Orchestrator) Stage() Stage {
	return Stage(o.stage.Load())
}

// Status reports a snapshot of the orchestrator.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	st := Status{Stage: o.Stage().String()}
	if o.run != nil {
		st.RunID = o.run.id
		st.Device = o.run.device
		st.DroppedSamples = o.run.capture.DroppedSamples()
		st.ElapsedMS = time.Since(o.run.startedAt).Milliseconds()
	}
	if o.lastResult != nil {
		st.LastText = o.lastResult.FinalText
	}
	if o.lastErr != nil {
		st.LastError = o.lastErr.Error()
	}
	return st
}

// Start begins a new recording run. It returns ErrAlreadyRunning if a run is
// active, and a typed *audio.DeviceError when the device cannot be opened.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	if !o.active.CompareAndSwap(false, true) {
		return "", ErrAlreadyRunning
	}
	runID, err := o.begin(ctx)
	if err != nil {
		o.active.Store(false)
		o.setStage(runID, StageIdle, "")
		o.mu.Lock()
		o.lastErr = err
		o.mu.Unlock()
		return "", err
	}
	return runID, nil
}

func (o *Orchestrator) begin(ctx context.Context) (string, error) {
	runID := uuid.NewString()

	if err := os.MkdirAll(o.cfg.Recording.DataDir, 0o755); err != nil {
		return runID, fmt.Errorf("create recording dir: %w", err)
	}
	name := fmt.Sprintf("rec-%s-%s.wav", time.Now().Format("20060102-150405"), runID[:8])
	path := filepath.Join(o.cfg.Recording.DataDir, name)

	capture := audio.NewCapture(o.opener, o.cfg.Audio.Device, o.cfg.Audio.FramesPerBuffer, o.log)
	format, err := capture.Open()
	if err != nil {
		return runID, err
	}

	// Rings sized from the negotiated format so the buffered window matches
	// the configured seconds at any native rate. A mid-session device switch
	// to a faster format shortens that window.
	sessionRing, err := audio.NewRing(o.cfg.Audio.RingSeconds * format.SampleRate * format.Channels)
	if err != nil {
		return runID, err
	}
	var vadTap, meterTap *audio.Ring
	if o.cfg.VAD.Enabled {
		if vadTap, err = audio.NewRing(2 * format.SampleRate * format.Channels); err != nil {
			return runID, err
		}
	}
	if o.cfg.Audio.MeterIntervalMS > 0 {
		if meterTap, err = audio.NewRing(2 * format.SampleRate * format.Channels); err != nil {
			return runID, err
		}
	}

	wavOut, err := audio.NewFileWriter(path)
	if err != nil {
		return runID, err
	}

	if err := capture.Start(sessionRing, vadTap, meterTap); err != nil {
		wavOut.Finalize()
		os.Remove(path)
		return runID, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	tapCtx, stopTaps := context.WithCancel(runCtx)
	r := &run{
		id:        runID,
		startedAt: time.Now(),
		device:    o.cfg.Audio.Device,
		audioPath: path,
		ctx:       runCtx,
		cancel:    cancel,
		tapCtx:    tapCtx,
		stopTaps:  stopTaps,
		capture:   capture,
		wav:       wavOut,
		done:      make(chan struct{}),
	}
	r.writer = audio.StartWriter(sessionRing, wavOut, capture.Format, o.log)

	o.mu.Lock()
	o.run = r
	o.lastErr = nil
	o.mu.Unlock()

	if vadTap != nil {
		r.taps.Add(1)
		go o.vadLoop(r, vadTap)
	}
	if meterTap != nil {
		r.taps.Add(1)
		go o.meterLoop(r, meterTap)
	}
	if o.cfg.Recording.MaxDurationMS > 0 {
		go o.maxDurationGuard(r)
	}
	go o.deviceGuard(r)

	o.setStage(runID, StageRecording, "")
	o.log.Info("recording started",
		slog.String("run_id", runID),
		slog.String("audio_path", path))
	return runID, nil
}

// Stop ends the recording and runs the rest of the pipeline synchronously,
// returning the final result.
func (o *Orchestrator) Stop(ctx context.Context) (Result, error) {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil || o.Stage() != StageRecording {
		return Result{}, ErrNotRecording
	}
	o.finish(r, "stop requested")
	select {
	case <-r.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastErr != nil {
		return Result{}, o.lastErr
	}
	if o.lastResult == nil {
		return Result{}, errors.New("run produced no result")
	}
	return *o.lastResult, nil
}

// Cancel abandons the current run from any stage. Recording is stopped, any
// in-flight transcription, enhancement, or delivery is abandoned through the
// run context, results are discarded, the partial audio file is removed, and
// the orchestrator returns to Idle.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil {
		return ErrNotRecording
	}
	r.cancel()
	// If a finish is already running, complete notices the cancelled context
	// between stages and discards the run; otherwise this starts the
	// teardown itself.
	o.finish(r, "cancelled")
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// SwitchDevice changes the input device mid-recording.
func (o *Orchestrator) SwitchDevice(device string) error {
	o.mu.Lock()
	r := o.run
	o.mu.Unlock()
	if r == nil || o.Stage() != StageRecording {
		return ErrNotRecording
	}
	if err := r.capture.SwitchDevice(device); err != nil {
		return err
	}
	o.mu.Lock()
	r.device = device
	o.mu.Unlock()
	return nil
}

// finish transitions the run out of Recording exactly once and executes the
// downstream stages. Safe to call from the stop endpoint, the auto-stop
// path, the max-duration guard, Cancel, and the device guard concurrently.
func (o *Orchestrator) finish(r *run, reason string) {
	o.finishWith(r, func() { o.complete(r, reason) })
}

// finishWith runs fn exactly once for the run on its own goroutine and
// releases the session slot afterwards.
func (o *Orchestrator) finishWith(r *run, fn func()) {
	r.finishOnce.Do(func() {
		go func() {
			defer close(r.done)
			defer o.active.Store(false)
			defer r.cancel()
			defer func() {
				o.mu.Lock()
				o.run = nil
				o.mu.Unlock()
			}()
			fn()
		}()
	})
}

// teardown stops capture, waits for the tap consumers, and drains the writer
// so the file is finalized. Every finish path goes through it: the
// transcriber must never see a file that is still being appended to.
func (o *Orchestrator) teardown(r *run) error {
	r.stopTaps()
	if err := r.capture.Stop(); err != nil {
		o.log.Warn("capture stop", slog.String("error", err.Error()))
	}
	r.taps.Wait()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.writer.Stop(stopCtx)
}

// discard ends a cancelled run: no result, no history, audio removed.
func (o *Orchestrator) discard(r *run) {
	os.Remove(r.audioPath)
	o.setStage(r.id, StageIdle, "cancelled")
	o.metrics.recordRun("cancelled")
	o.log.Info("run cancelled", slog.String("run_id", r.id))
}

func (o *Orchestrator) complete(r *run, reason string) {
	if err := o.teardown(r); err != nil {
		o.fail(r, fmt.Errorf("finalize recording: %w", err))
		return
	}
	if r.ctx.Err() != nil {
		o.discard(r)
		return
	}

	o.metrics.recordDropped(r.capture.DroppedSamples())
	o.metrics.recordStage("recording", time.Since(r.startedAt).Seconds())

	duration := r.wav.Duration()
	o.log.Info("recording stopped",
		slog.String("run_id", r.id),
		slog.String("reason", reason),
		slog.Duration("duration", duration),
		slog.Int64("dropped_samples", r.capture.DroppedSamples()))

	if r.wav.SampleCount() == 0 {
		o.keepOrRemove(r)
		o.finishResult(r, Result{RunID: r.id, Duration: duration}, 0, 0)
		return
	}

	// Transcribe.
	o.setStage(r.id, StageTranscribing, reason)
	sttStart := time.Now()
	sttCtx, cancelSTT := context.WithTimeout(r.ctx, time.Duration(o.cfg.STT.TimeoutMS)*time.Millisecond)
	recognized, err := o.stt.Transcribe(sttCtx, r.audioPath)
	cancelSTT()
	transcribeMS := time.Since(sttStart).Milliseconds()
	o.metrics.recordStage("transcribing", time.Since(sttStart).Seconds())
	if r.ctx.Err() != nil {
		o.discard(r)
		return
	}
	if err != nil {
		o.fail(r, fmt.Errorf("transcribe: %w", err))
		return
	}

	// Filter.
	o.setStage(r.id, StageFiltering, "")
	final := o.filter.Clean(recognized.Text)

	// Enhance, best effort. Timeout or failure falls back to the filtered
	// text and the run still completes.
	enhanced := false
	var enhanceMS int64
	if o.cfg.Enhance.Enabled && o.enhancer != nil && final != "" {
		o.setStage(r.id, StageEnhancing, "")
		enhStart := time.Now()
		enhCtx, cancelEnh := context.WithTimeout(r.ctx, time.Duration(o.cfg.Enhance.TimeoutMS)*time.Millisecond)
		improved, err := o.enhancer.Enhance(enhCtx, enhance.Request{
			Text:        final,
			Model:       o.cfg.Enhance.Model,
			Prompt:      o.cfg.Enhance.Prompt,
			Temperature: o.cfg.Enhance.Temperature,
			MaxTokens:   o.cfg.Enhance.MaxTokens,
		})
		cancelEnh()
		enhanceMS = time.Since(enhStart).Milliseconds()
		o.metrics.recordStage("enhancing", time.Since(enhStart).Seconds())
		if r.ctx.Err() != nil {
			o.discard(r)
			return
		}
		if err != nil {
			o.log.Warn("enhancement failed, using filtered text",
				slog.String("run_id", r.id),
				slog.String("error", err.Error()))
		} else if improved != "" {
			final = improved
			enhanced = true
		}
	}

	result := Result{
		RunID:     r.id,
		RawText:   recognized.Text,
		FinalText: final,
		Enhanced:  enhanced,
		AudioPath: r.audioPath,
		Duration:  duration,
	}

	// Output. Delivery failure fails the run but the text is preserved in
	// the result and history.
	if final != "" {
		o.setStage(r.id, StageOutputting, "")
		outCtx, cancelOut := context.WithTimeout(r.ctx, 10*time.Second)
		err := o.sink.Deliver(outCtx, final)
		cancelOut()
		if r.ctx.Err() != nil {
			o.discard(r)
			return
		}
		if err != nil {
			o.recordHistory(r, result, transcribeMS, enhanceMS)
			o.fail(r, fmt.Errorf("deliver text: %w", err))
			o.mu.Lock()
			o.lastResult = &result
			o.mu.Unlock()
			return
		}
	}

	o.keepOrRemove(r)
	if !o.cfg.Recording.KeepAudio {
		result.AudioPath = ""
	}
	o.finishResult(r, result, transcribeMS, enhanceMS)
}

func (o *Orchestrator) finishResult(r *run, result Result, transcribeMS, enhanceMS int64) {
	o.recordHistory(r, result, transcribeMS, enhanceMS)
	o.publish(protocol.SubjectTranscript, protocol.TranscriptEvent{
		RunID:     result.RunID,
		RawText:   result.RawText,
		FinalText: result.FinalText,
		Enhanced:  result.Enhanced,
		AudioPath: result.AudioPath,
		Timestamp: time.Now().UTC(),
	})
	o.mu.Lock()
	o.lastResult = &result
	o.lastErr = nil
	o.mu.Unlock()
	o.setStage(r.id, StageCompleted, "")
	o.metrics.recordRun("completed")
	o.log.Info("run completed",
		slog.String("run_id", r.id),
		slog.Bool("enhanced", result.Enhanced),
		slog.Int("chars", len(result.FinalText)))
}

func (o *Orchestrator) fail(r *run, err error) {
	o.mu.Lock()
	o.lastErr = err
	o.mu.Unlock()
	o.setStage(r.id, StageFailed, err.Error())
	o.metrics.recordRun("failed")
	o.log.Error("run failed",
		slog.String("run_id", r.id),
		slog.String("error", err.Error()))
}

func (o *Orchestrator) recordHistory(r *run, result Result, transcribeMS, enhanceMS int64) {
	if o.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := o.history.Append(ctx, history.Record{
		SessionID:   r.id,
		StartedAt:   r.startedAt,
		FinishedAt:  time.Now().UTC(),
		AudioPath:   result.AudioPath,
		DurationMS:  result.Duration.Milliseconds(),
		RawText:     result.RawText,
		FinalText:   result.FinalText,
		Enhanced:    result.Enhanced,
		TranscribMS: transcribeMS,
		EnhanceMS:   enhanceMS,
	})
	if err != nil {
		o.log.Warn("history append failed", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) keepOrRemove(r *run) {
	if o.cfg.Recording.KeepAudio {
		return
	}
	if err := os.Remove(r.audioPath); err != nil && !os.IsNotExist(err) {
		o.log.Warn("remove audio file", slog.String("error", err.Error()))
	}
}

func (o *Orchestrator) setStage(runID string, s Stage, message string) {
	o.stage.Store(int32(s))
	o.publish(protocol.SubjectProgress, protocol.Progress{
		RunID:     runID,
		Stage:     s.String(),
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// publish is fire and forget; a dead bus never affects the pipeline.
func (o *Orchestrator) publish(subject string, v any) {
	if err := o.bus.Publish(subject, v); err != nil {
		o.log.Debug("publish failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()))
	}
}

const tapPollInterval = 10 * time.Millisecond

// vadLoop consumes the VAD tap, frames it as mono 16 kHz PCM, and feeds the
// detector. Boundary events go to the bus; auto-stop ends the run when the
// recording mode allows it.
func (o *Orchestrator) vadLoop(r *run, tap *audio.Ring) {
	defer r.taps.Done()

	opts := vad.Options{
		Aggressiveness:       o.cfg.VAD.Aggressiveness,
		FrameDuration:        time.Duration(o.cfg.VAD.FrameDurationMS) * time.Millisecond,
		SpeechConfirmFrames:  o.cfg.VAD.SpeechConfirmFrames,
		SilenceConfirmFrames: o.cfg.VAD.SilenceConfirmFrames,
		AutoStopSilence:      time.Duration(o.cfg.VAD.AutoStopSilenceMS) * time.Millisecond,
	}
	det, err := vad.New(opts)
	if err != nil {
		o.log.Error("vad disabled for run", slog.String("error", err.Error()))
		return
	}

	frameLen := det.FrameLength()
	prePad := time.Duration(o.cfg.VAD.PreSpeechPaddingMS) * time.Millisecond
	postPad := time.Duration(o.cfg.VAD.PostSpeechPaddingMS) * time.Millisecond
	raw := make([]float32, 4096)
	pending := make([]int16, 0, frameLen*4)

	for {
		select {
		case <-r.tapCtx.Done():
			return
		default:
		}
		n := tap.Read(raw)
		if n == 0 {
			select {
			case <-r.tapCtx.Done():
				return
			case <-time.After(tapPollInterval):
			}
			continue
		}
		f := r.capture.Format()
		pending = append(pending, audio.ToPCM16(raw[:n], f.SampleRate, f.Channels)...)

		for len(pending) >= frameLen {
			events, err := det.Push(pending[:frameLen])
			pending = pending[frameLen:]
			if err != nil {
				o.log.Error("vad push", slog.String("error", err.Error()))
				return
			}
			for _, ev := range events {
				// Published offsets carry the configured padding so consumers
				// slicing the session audio keep utterance edges intact.
				offset := ev.Offset
				switch ev.Type {
				case vad.EventSpeechStart:
					offset -= prePad
					if offset < 0 {
						offset = 0
					}
				case vad.EventSpeechEnd:
					offset += postPad
				}
				o.publish(protocol.SubjectSpeech, protocol.SpeechEvent{
					RunID:      r.id,
					Type:       ev.Type.String(),
					FrameIndex: ev.FrameIndex,
					OffsetMS:   offset.Milliseconds(),
					Timestamp:  time.Now().UTC(),
				})
				if ev.Type == vad.EventAutoStop && o.cfg.Recording.Mode == "toggle" {
					o.log.Info("auto-stop after trailing silence", slog.String("run_id", r.id))
					o.finish(r, "auto_stop")
					return
				}
			}
		}
	}
}

// meterLoop consumes the meter tap and publishes level events at the
// configured interval.
func (o *Orchestrator) meterLoop(r *run, tap *audio.Ring) {
	defer r.taps.Done()

	f := r.capture.Format()
	window := f.SampleRate * f.Channels * o.cfg.Audio.MeterIntervalMS / 1000
	meter := audio.NewMeter(window)
	raw := make([]float32, 4096)

	for {
		select {
		case <-r.tapCtx.Done():
			return
		default:
		}
		n := tap.Read(raw)
		if n == 0 {
			select {
			case <-r.tapCtx.Done():
				return
			case <-time.After(tapPollInterval):
			}
			continue
		}
		for _, lv := range meter.Push(raw[:n]) {
			o.publish(protocol.SubjectLevel, protocol.LevelEvent{
				RunID:     r.id,
				RMS:       lv.RMS,
				Peak:      lv.Peak,
				Timestamp: time.Now().UTC(),
			})
		}
	}
}

// maxDurationGuard hard-stops a forgotten recording.
func (o *Orchestrator) maxDurationGuard(r *run) {
	select {
	case <-r.tapCtx.Done():
	case <-time.After(time.Duration(o.cfg.Recording.MaxDurationMS) * time.Millisecond):
		o.log.Warn("recording reached max duration", slog.String("run_id", r.id))
		o.finish(r, "max_duration")
	}
}

// deviceGuard fails the run when the capture stream dies mid-recording,
// typically because the device was unplugged. The partial audio file is
// finalized and kept for inspection; nothing is transcribed.
func (o *Orchestrator) deviceGuard(r *run) {
	select {
	case <-r.tapCtx.Done():
	case err := <-r.capture.Errors():
		if err == nil {
			return
		}
		o.finishWith(r, func() {
			if terr := o.teardown(r); terr != nil {
				o.log.Warn("teardown after device loss", slog.String("error", terr.Error()))
			}
			o.fail(r, fmt.Errorf("capture: %w", err))
		})
	}
}
