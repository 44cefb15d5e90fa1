package web

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// Event is one message pushed to SSE clients. Scan progress events carry
// the scan ID, step number and wavelength.
type Event struct {
	Time         string  `json:"t"`
	Level        string  `json:"l,omitempty"`
	Msg          string  `json:"msg"`
	ScanID       string  `json:"scan_id,omitempty"`
	Step         int     `json:"step,omitempty"`
	WavelengthNm float64 `json:"wavelength_nm,omitempty"`
}

// Broadcaster distributes events to multiple SSE clients.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[chan string]struct{}
	now     func() time.Time
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[chan string]struct{}),
		now:     time.Now,
	}
}

// Subscribe returns a channel that receives broadcast messages and a cleanup function.
// The caller must call the returned cleanup when done (e.g. on client disconnect).
func (b *Broadcaster) Subscribe() (<-chan string, func()) {
	ch := make(chan string, 64)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.clients, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Clients returns the number of subscribed clients.
func (b *Broadcaster) Clients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish stamps evt and sends it as JSON to every client.
// Slow clients may miss messages (non-blocking, buffered).
func (b *Broadcaster) Publish(evt Event) {
	if evt.Time == "" {
		evt.Time = b.now().Format(time.RFC3339)
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	payload := string(data)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			// channel full, skip
		}
	}
}

// Broadcast sends a plain message at the given level.
func (b *Broadcaster) Broadcast(level, msg string) {
	b.Publish(Event{Level: level, Msg: msg})
}

// ScanStep reports one completed scan step.
func (b *Broadcaster) ScanStep(id string, step int, nm float64) {
	b.Publish(Event{Level: "info", Msg: "scan step", ScanID: id, Step: step, WavelengthNm: nm})
}

// Writer returns an io.Writer whose writes are broadcast line by line, so
// debug output can be mirrored to SSE clients.
func (b *Broadcaster) Writer() io.Writer {
	return &broadcastWriter{b: b}
}

type broadcastWriter struct {
	b *Broadcaster
}

func (w *broadcastWriter) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(string(p), "\n") {
		if msg := strings.TrimSpace(line); msg != "" {
			w.b.Broadcast("debug", msg)
		}
	}
	return len(p), nil
}
