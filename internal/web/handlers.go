package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cjeanneret/MonoGo/internal/logic/motion"
	"github.com/cjeanneret/MonoGo/internal/logic/optics"
	"github.com/cjeanneret/MonoGo/internal/logic/scan"
)

// ScanDefaults fills scan requests that leave fields unset.
type ScanDefaults struct {
	PitchNm    float64
	Interval   time.Duration
	StartDelay time.Duration
}

// WavelengthRequest is the body of POST /api/wavelength.
type WavelengthRequest struct {
	WavelengthNm float64 `json:"wavelength_nm"`
	Filter       *int    `json:"filter,omitempty"`    // default 1
	Interlock    *bool   `json:"interlock,omitempty"` // default true
}

// ScanRequest is the body of POST /api/scan.
type ScanRequest struct {
	StartNm    float64 `json:"start_nm"`
	EndNm      float64 `json:"end_nm"`
	PitchNm    float64 `json:"pitch_nm"`
	IntervalMs int     `json:"interval_ms"`
	Filter     *int    `json:"filter,omitempty"`
	Interlock  *bool   `json:"interlock,omitempty"`
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Device optics.Status `json:"device"`
	State  motion.State  `json:"state"`
}

// Handlers holds dependencies for HTTP handlers.
//
// deviceMu is held for the whole of every engine call, including a
// background scan. Requests that cannot take it answer 409.
type Handlers struct {
	Engine      *motion.Engine
	Sequence    *scan.Sequence
	Broadcaster *Broadcaster
	Defaults    ScanDefaults
	Log         logrus.FieldLogger

	deviceMu sync.Mutex

	scanMu     sync.Mutex
	scanID     string
	cancelScan context.CancelFunc
	scanDone   chan struct{}
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(engine *motion.Engine, seq *scan.Sequence, b *Broadcaster, defaults ScanDefaults) *Handlers {
	if defaults.PitchNm <= 0 {
		defaults.PitchNm = 1
	}
	if defaults.Interval <= 0 {
		defaults.Interval = scan.MinInterval
	}
	return &Handlers{
		Engine:      engine,
		Sequence:    seq,
		Broadcaster: b,
		Defaults:    defaults,
		Log:         logrus.StandardLogger(),
	}
}

// maxBodyBytes caps request bodies.
const maxBodyBytes = 4096

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid JSON"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// errorStatus maps engine errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, motion.ErrUninitialized):
		return http.StatusConflict
	case errors.Is(err, optics.ErrInvalidWavelength),
		errors.Is(err, optics.ErrInvalidFilterIndex),
		errors.Is(err, scan.ErrInvalidInterval),
		errors.Is(err, scan.ErrInvalidPitch):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

var errBusy = errors.New("device busy")

func (h *Handlers) lockDevice(w http.ResponseWriter) bool {
	if !h.deviceMu.TryLock() {
		writeError(w, http.StatusConflict, errBusy)
		return false
	}
	return true
}

// HandleInitialize handles POST /api/initialize.
func (h *Handlers) HandleInitialize(w http.ResponseWriter, r *http.Request) {
	if !h.lockDevice(w) {
		return
	}
	defer h.deviceMu.Unlock()

	h.Broadcaster.Broadcast("info", "initializing")
	raw, err := h.Engine.Initialize()
	if err != nil {
		h.Log.WithError(err).Error("initialization failed")
		h.Broadcaster.Broadcast("error", "initialization failed: "+err.Error())
		writeError(w, errorStatus(err), err)
		return
	}
	h.Broadcaster.Broadcast("info", "initialized")
	writeJSON(w, http.StatusOK, map[string]string{"status": raw})
}

// HandleWavelength handles POST /api/wavelength.
func (h *Handlers) HandleWavelength(w http.ResponseWriter, r *http.Request) {
	var req WavelengthRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	filter, interlock := filterOrDefault(req.Filter), interlockOrDefault(req.Interlock)

	if !h.lockDevice(w) {
		return
	}
	defer h.deviceMu.Unlock()

	if err := h.Engine.ChangeWavelength(req.WavelengthNm, filter, interlock); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	state, _ := h.Engine.State()
	h.Broadcaster.Broadcast("info", optics.Status{WavelengthNm: state.WavelengthNm, Filter: state.FilterIndex}.String())
	writeJSON(w, http.StatusOK, state)
}

// HandleStatus handles GET /api/status.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !h.lockDevice(w) {
		return
	}
	defer h.deviceMu.Unlock()

	st, err := h.Engine.Status()
	if err != nil {
		writeError(w, errorStatus(err), err)
		return
	}
	state, _ := h.Engine.State()
	writeJSON(w, http.StatusOK, StatusResponse{Device: st, State: state})
}

// HandleScan handles POST /api/scan. The scan runs in the background and
// keeps the device locked until it ends.
func (h *Handlers) HandleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p := h.scanParams(req)
	if err := p.Validate(h.Engine.Spectrometer()); err != nil {
		writeError(w, errorStatus(err), err)
		return
	}

	if !h.lockDevice(w) {
		return
	}
	if !h.Engine.Initialized() {
		h.deviceMu.Unlock()
		writeError(w, http.StatusConflict, motion.ErrUninitialized)
		return
	}

	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	h.scanMu.Lock()
	h.scanID, h.cancelScan, h.scanDone = id, cancel, done
	h.scanMu.Unlock()

	p.OnStep = func(step int, nm float64) {
		h.Broadcaster.ScanStep(id, step, nm)
	}

	go func() {
		defer close(done)
		defer func() {
			h.scanMu.Lock()
			if h.scanID == id {
				h.scanID, h.cancelScan, h.scanDone = "", nil, nil
			}
			h.scanMu.Unlock()
			cancel()
		}()
		defer h.deviceMu.Unlock()

		log := h.Log.WithField("scan_id", id)
		log.Infof("scan %g to %g nm started", p.StartNm, p.EndNm)
		err := h.Sequence.Run(ctx, p)
		switch {
		case errors.Is(err, context.Canceled):
			log.Info("scan cancelled")
			h.Broadcaster.Publish(Event{Level: "info", Msg: "scan cancelled", ScanID: id})
		case err != nil:
			log.WithError(err).Error("scan failed")
			h.Broadcaster.Publish(Event{Level: "error", Msg: "scan failed: " + err.Error(), ScanID: id})
		default:
			log.Info("scan complete")
			h.Broadcaster.Publish(Event{Level: "info", Msg: "scan complete", ScanID: id})
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

// HandleCancelScan handles DELETE /api/scan. The running scan stops before
// its next step.
func (h *Handlers) HandleCancelScan(w http.ResponseWriter, r *http.Request) {
	h.scanMu.Lock()
	id, cancel := h.scanID, h.cancelScan
	h.scanMu.Unlock()
	if cancel == nil {
		writeError(w, http.StatusNotFound, errors.New("no scan running"))
		return
	}
	cancel()
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

// StopScan cancels the running scan, if any, and waits for it to end.
func (h *Handlers) StopScan() {
	h.scanMu.Lock()
	cancel, done := h.cancelScan, h.scanDone
	h.scanMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (h *Handlers) scanParams(req ScanRequest) scan.Params {
	p := scan.Params{
		StartNm:    req.StartNm,
		EndNm:      req.EndNm,
		PitchNm:    req.PitchNm,
		Interval:   time.Duration(req.IntervalMs) * time.Millisecond,
		StartDelay: h.Defaults.StartDelay,
		Filter:     filterOrDefault(req.Filter),
		Interlock:  interlockOrDefault(req.Interlock),
	}
	if p.PitchNm == 0 {
		p.PitchNm = h.Defaults.PitchNm
	}
	if req.IntervalMs == 0 {
		p.Interval = h.Defaults.Interval
	}
	return p
}

func filterOrDefault(f *int) int {
	if f == nil {
		return optics.MinFilter
	}
	return *f
}

func interlockOrDefault(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}

// HandleStatusStream handles GET /api/status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	// Send initial comment to establish connection
	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	// Heartbeat while idle
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
