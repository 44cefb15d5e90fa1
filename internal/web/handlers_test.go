package web

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/MonoGo/internal/hw/settle"
	"github.com/cjeanneret/MonoGo/internal/logic/motion"
	"github.com/cjeanneret/MonoGo/internal/logic/optics"
	"github.com/cjeanneret/MonoGo/internal/logic/scan"
)

// fakeController tracks both axes like the real controller. When gate is
// set, Execute blocks until it is closed.
type fakeController struct {
	mu              sync.Mutex
	grating, filter int
	pendingG, pendF int
	gate            chan struct{}
}

func (c *fakeController) MoveRelative(g, f int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingG, c.pendF = g, f
	return nil
}

func (c *fakeController) ReturnToOrigin(g, f bool) error {
	return c.LatchOrigin(g, f)
}

func (c *fakeController) LatchOrigin(g, f bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if g {
		c.grating = 0
	}
	if f {
		c.filter = 0
	}
	return nil
}

func (c *fakeController) Execute() error {
	c.mu.Lock()
	gate := c.gate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.grating += c.pendingG
	c.filter += c.pendF
	c.pendingG, c.pendF = 0, 0
	return nil
}

func (c *fakeController) ReadStatus() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("%10d,%10d,K,K,R", c.grating, c.filter), nil
}

func (c *fakeController) setGate(gate chan struct{}) {
	c.mu.Lock()
	c.gate = gate
	c.mu.Unlock()
}

func newTestHandlers(t *testing.T) (*Handlers, *fakeController, http.Handler) {
	t.Helper()
	ctrl := &fakeController{}
	engine := motion.NewEngine(ctrl, settle.Nop{}, motion.Config{
		Spectrometer: optics.VisibleUV,
		Calibration:  optics.DefaultCalibration(),
	})
	h := NewHandlers(engine, scan.NewSequence(engine, settle.Nop{}), NewBroadcaster(), ScanDefaults{})
	return h, ctrl, NewServer(":0", h).Router()
}

func do(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func initialize(t *testing.T, router http.Handler) {
	t.Helper()
	w := do(t, router, http.MethodPost, "/api/initialize", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

// waitFor returns the first event with the given message.
func waitFor(t *testing.T, ch <-chan string, msg string) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case raw := <-ch:
			var evt Event
			require.NoError(t, json.Unmarshal([]byte(raw), &evt))
			if evt.Msg == msg {
				return evt
			}
		case <-deadline:
			t.Fatalf("timeout waiting for %q", msg)
		}
	}
}

func TestHandleInitialize(t *testing.T) {
	_, _, router := newTestHandlers(t)

	w := do(t, router, http.MethodPost, "/api/initialize", "")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	decode(t, w, &body)
	assert.Equal(t, "         0,         0,K,K,R", body["status"])
}

func TestHandleWavelength_BeforeInitialize(t *testing.T) {
	_, _, router := newTestHandlers(t)

	w := do(t, router, http.MethodPost, "/api/wavelength", `{"wavelength_nm":500}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandleWavelength_Defaults(t *testing.T) {
	_, ctrl, router := newTestHandlers(t)
	initialize(t, router)

	w := do(t, router, http.MethodPost, "/api/wavelength", `{"wavelength_nm":500}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var state motion.State
	decode(t, w, &state)
	assert.Equal(t, motion.State{WavelengthNm: 500, GratingPulse: 10032, FilterIndex: 2}, state)

	st, _ := ctrl.ReadStatus()
	assert.Equal(t, "     10032,       167,K,K,R", st)
}

func TestHandleWavelength_InterlockOff(t *testing.T) {
	_, _, router := newTestHandlers(t)
	initialize(t, router)

	w := do(t, router, http.MethodPost, "/api/wavelength", `{"wavelength_nm":500,"filter":5,"interlock":false}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var state motion.State
	decode(t, w, &state)
	assert.Equal(t, 5, state.FilterIndex)
}

func TestHandleWavelength_BadRequests(t *testing.T) {
	_, _, router := newTestHandlers(t)
	initialize(t, router)

	cases := []struct {
		name string
		body string
	}{
		{"not_json", "not json"},
		{"above_range", `{"wavelength_nm":1400}`},
		{"negative", `{"wavelength_nm":-1}`},
		{"filter_zero", `{"wavelength_nm":500,"filter":0}`},
		{"filter_seven", `{"wavelength_nm":500,"filter":7,"interlock":false}`},
		{"oversized", `{"wavelength_nm":500,"pad":"` + strings.Repeat("x", maxBodyBytes) + `"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/api/wavelength", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestHandleStatus(t *testing.T) {
	_, _, router := newTestHandlers(t)

	w := do(t, router, http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	initialize(t, router)
	require.Equal(t, http.StatusOK, do(t, router, http.MethodPost, "/api/wavelength", `{"wavelength_nm":700}`).Code)

	w = do(t, router, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	decode(t, w, &resp)
	assert.Equal(t, 700.0, resp.Device.WavelengthNm)
	assert.Equal(t, 14289, resp.Device.GratingPulse)
	assert.True(t, resp.Device.Ready)
	assert.Equal(t, 3, resp.State.FilterIndex)
}

func TestHandleScan_RunsToCompletion(t *testing.T) {
	h, _, router := newTestHandlers(t)
	initialize(t, router)
	events, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w := do(t, router, http.MethodPost, "/api/scan", `{"start_nm":400,"end_nm":402,"pitch_nm":1,"interval_ms":1100}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var body map[string]string
	decode(t, w, &body)
	_, err := uuid.Parse(body["id"])
	require.NoError(t, err)

	for i, nm := range []float64{400, 401, 402} {
		evt := waitFor(t, events, "scan step")
		assert.Equal(t, body["id"], evt.ScanID)
		assert.Equal(t, i+1, evt.Step)
		assert.Equal(t, nm, evt.WavelengthNm)
	}
	done := waitFor(t, events, "scan complete")
	assert.Equal(t, body["id"], done.ScanID)

	h.StopScan()
	state, err := h.Engine.State()
	require.NoError(t, err)
	assert.Equal(t, 402.0, state.WavelengthNm)
}

func TestHandleScan_DeviceBusyUntilCancelled(t *testing.T) {
	h, ctrl, router := newTestHandlers(t)
	initialize(t, router)
	events, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	gate := make(chan struct{})
	ctrl.setGate(gate)

	w := do(t, router, http.MethodPost, "/api/scan", `{"start_nm":400,"end_nm":500,"pitch_nm":10}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/api/wavelength", `{"wavelength_nm":450}`).Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodGet, "/api/status", "").Code)
	assert.Equal(t, http.StatusConflict, do(t, router, http.MethodPost, "/api/scan", `{"start_nm":400,"end_nm":500}`).Code)

	w = do(t, router, http.MethodDelete, "/api/scan", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	ctrl.setGate(nil)
	close(gate)
	waitFor(t, events, "scan cancelled")
	h.StopScan()

	// only the move to the start wavelength was issued
	state, err := h.Engine.State()
	require.NoError(t, err)
	assert.Equal(t, 400.0, state.WavelengthNm)
	assert.Equal(t, http.StatusOK, do(t, router, http.MethodGet, "/api/status", "").Code)
}

func TestHandleScan_Rejected(t *testing.T) {
	_, _, router := newTestHandlers(t)

	w := do(t, router, http.MethodPost, "/api/scan", `{"start_nm":400,"end_nm":410}`)
	assert.Equal(t, http.StatusConflict, w.Code, "uninitialized")

	initialize(t, router)
	cases := []struct {
		name string
		body string
	}{
		{"short_interval", `{"start_nm":400,"end_nm":410,"interval_ms":500}`},
		{"negative_pitch", `{"start_nm":400,"end_nm":410,"pitch_nm":-1}`},
		{"end_out_of_range", `{"start_nm":1200,"end_nm":1400}`},
		{"end_huge", `{"start_nm":0,"end_nm":1e300,"pitch_nm":1,"interval_ms":1100}`},
		{"pitch_tiny", `{"start_nm":0,"end_nm":1300,"pitch_nm":1e-12,"interval_ms":1100}`},
		{"bad_filter", `{"start_nm":400,"end_nm":410,"filter":9}`},
		{"not_json", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, router, http.MethodPost, "/api/scan", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}
}

func TestHandleCancelScan_NothingRunning(t *testing.T) {
	_, _, router := newTestHandlers(t)
	w := do(t, router, http.MethodDelete, "/api/scan", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestScanParams_Defaults(t *testing.T) {
	h, _, _ := newTestHandlers(t)
	h.Defaults.StartDelay = 2 * time.Second

	p := h.scanParams(ScanRequest{StartNm: 400, EndNm: 410})
	assert.Equal(t, 1.0, p.PitchNm)
	assert.Equal(t, scan.MinInterval, p.Interval)
	assert.Equal(t, 2*time.Second, p.StartDelay)
	assert.Equal(t, optics.MinFilter, p.Filter)
	assert.True(t, p.Interlock)
}

func TestHandleStatusStream(t *testing.T) {
	h, _, router := newTestHandlers(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/status/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", line)

	require.Eventually(t, func() bool { return h.Broadcaster.Clients() == 1 }, time.Second, 10*time.Millisecond)
	h.Broadcaster.Broadcast("info", "streamed")

	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var evt Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt))
	assert.Equal(t, "streamed", evt.Msg)
}
