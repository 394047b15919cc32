package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/murmurlabs/murmurd/internal/audio"
	"github.com/murmurlabs/murmurd/internal/bus"
	"github.com/murmurlabs/murmurd/internal/config"
	"github.com/murmurlabs/murmurd/internal/enhance"
	"github.com/murmurlabs/murmurd/internal/history"
	"github.com/murmurlabs/murmurd/internal/natsserver"
	"github.com/murmurlabs/murmurd/internal/output"
	"github.com/murmurlabs/murmurd/internal/pipeline"
	"github.com/murmurlabs/murmurd/internal/stt"
)

// Runtime assembles the daemon: telemetry, the optional embedded NATS
// server, the transcript store, the pipeline, and the local HTTP control
// surface. Start blocks until the context is cancelled.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	pipe *pipeline.Orchestrator
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if err := audio.InitHost(); err != nil {
		return err
	}
	defer func() {
		if err := audio.TerminateHost(); err != nil {
			r.logger.Warn("audio host shutdown", slog.String("error", err.Error()))
		}
	}()

	embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return fmt.Errorf("start embedded bus: %w", err)
	}
	defer embedded.Shutdown()

	var publisher bus.Publisher = bus.Nop{}
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		busClient, err = bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("connect event bus: %w", err)
		}
		defer busClient.Close()
		publisher = busClient
	}

	store, err := history.Open(ctx, r.cfg.History, r.logger)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	transcriber, err := stt.New(r.cfg.STT)
	if err != nil {
		return fmt.Errorf("configure transcriber: %w", err)
	}
	enhancer, err := enhance.New(r.cfg.Enhance)
	if err != nil {
		return fmt.Errorf("configure enhancer: %w", err)
	}
	sink, err := output.New(r.cfg.Output, r.logger)
	if err != nil {
		return fmt.Errorf("configure output sink: %w", err)
	}

	r.pipe = pipeline.New(r.cfg, r.logger, publisher, nil, transcriber, enhancer, sink, store)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricHandler != nil {
		mux.Handle("/metrics", metricHandler)
	}
	mux.HandleFunc("POST /v1/record/start", r.handleStart)
	mux.HandleFunc("POST /v1/record/stop", r.handleStop)
	mux.HandleFunc("POST /v1/record/cancel", r.handleCancel)
	mux.HandleFunc("POST /v1/record/device", r.handleSwitchDevice)
	mux.HandleFunc("GET /v1/status", r.handleStatus)
	mux.HandleFunc("GET /v1/devices", r.handleDevices)
	mux.HandleFunc("GET /v1/history", r.handleHistory(store))

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	// A recording caught by shutdown is abandoned, not transcribed.
	if err := r.pipe.Cancel(context.Background()); err != nil && !errors.Is(err, pipeline.ErrNotRecording) {
		r.logger.Warn("cancel recording on shutdown", slog.String("error", err.Error()))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStart(w http.ResponseWriter, req *http.Request) {
	// The body is optional: hold-mode clients may announce how long the key
	// will be held so the daemon stops the run even if the release is lost.
	var body struct {
		HoldMS int `json:"hold_ms"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	runID, err := r.pipe.Start(req.Context())
	if err != nil {
		writeError(w, statusForPipelineError(err), err)
		return
	}
	if body.HoldMS > 0 {
		go func() {
			time.Sleep(time.Duration(body.HoldMS) * time.Millisecond)
			if _, err := r.pipe.Stop(context.Background()); err != nil && !errors.Is(err, pipeline.ErrNotRecording) {
				r.logger.Warn("hold-hint stop failed", slog.String("error", err.Error()))
			}
		}()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"run_id": runID})
}

func (r *Runtime) handleStop(w http.ResponseWriter, req *http.Request) {
	result, err := r.pipe.Stop(req.Context())
	if err != nil {
		writeError(w, statusForPipelineError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (r *Runtime) handleCancel(w http.ResponseWriter, req *http.Request) {
	if err := r.pipe.Cancel(req.Context()); err != nil {
		writeError(w, statusForPipelineError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (r *Runtime) handleSwitchDevice(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Device string `json:"device"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
		return
	}
	if err := r.pipe.SwitchDevice(body.Device); err != nil {
		writeError(w, statusForPipelineError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"device": body.Device})
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.pipe.Status())
}

func (r *Runtime) handleDevices(w http.ResponseWriter, _ *http.Request) {
	devices, err := audio.ListDevices()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if devices == nil {
		devices = []audio.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (r *Runtime) handleHistory(store *history.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		limit := 50
		if v := req.URL.Query().Get("limit"); v != "" {
			if _, err := fmt.Sscanf(v, "%d", &limit); err != nil || limit <= 0 {
				writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", v))
				return
			}
		}
		records, err := store.List(req.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		if records == nil {
			records = []history.Record{}
		}
		writeJSON(w, http.StatusOK, records)
	}
}

func statusForPipelineError(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrNotRecording):
		return http.StatusConflict
	case audio.IsDeviceError(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
