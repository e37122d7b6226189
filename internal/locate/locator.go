// Package locate reads the device position from an NMEA 0183 GPS receiver
// on a serial port.
package locate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/geocluster/internal/monitoring"
	"github.com/banshee-data/geocluster/internal/timeutil"
)

// ErrNoFix is returned while the receiver has not reported a valid position
// within MaxAge.
var ErrNoFix = errors.New("no GPS fix")

// DefaultMaxAge is how long a fix stays current without a new sentence.
const DefaultMaxAge = 10 * time.Second

// Locator tracks the latest fix reported on a serial port.
type Locator struct {
	MaxAge time.Duration

	mux   *LineMux[Porter]
	clock timeutil.Clock

	mu       sync.Mutex
	fix      Fix
	received time.Time
	lost     bool
}

// NewLocator returns a locator reading from port.
func NewLocator(port Porter, clock timeutil.Clock) *Locator {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Locator{
		MaxAge: DefaultMaxAge,
		mux:    NewLineMux[Porter](port),
		clock:  clock,
	}
}

// Run reads sentences until ctx ends or the port closes.
func (l *Locator) Run(ctx context.Context) error {
	id, lines := l.mux.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for line := range lines {
			l.Handle(line)
		}
	}()

	interval := l.MaxAge
	if interval <= 0 {
		interval = DefaultMaxAge
	}
	ticker := l.clock.NewTicker(interval)
	watchCtx, stopWatch := context.WithCancel(ctx)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C():
				l.checkLost()
			}
		}
	}()

	err := l.mux.Monitor(ctx)
	stopWatch()
	l.mux.Unsubscribe(id)
	<-done
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Handle applies one NMEA line to the current fix.
func (l *Locator) Handle(line string) {
	s, err := ParseSentence(line)
	switch {
	case errors.Is(err, ErrChecksum):
		monitoring.NMEASentences.WithLabelValues("checksum").Inc()
		return
	case err != nil:
		monitoring.NMEASentences.WithLabelValues("malformed").Inc()
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.fix
	switch s.Type {
	case "GGA":
		err = next.ApplyGGA(s, l.clock.Now())
	case "RMC":
		err = next.ApplyRMC(s)
	default:
		monitoring.NMEASentences.WithLabelValues("ignored").Inc()
		return
	}
	if err != nil {
		monitoring.NMEASentences.WithLabelValues("malformed").Inc()
		monitoring.Logf("gps: dropping %s: %v", s.Type, err)
		return
	}
	monitoring.NMEASentences.WithLabelValues("ok").Inc()
	l.fix = next
	if next.Valid {
		if l.lost {
			monitoring.Logf("gps: fix acquired at %s", next.LatLng)
		}
		l.received = l.clock.Now()
		l.lost = false
	}
}

func (l *Locator) checkLost() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.lost || l.received.IsZero() {
		return
	}
	if l.clock.Since(l.received) > l.MaxAge {
		l.lost = true
		monitoring.Logf("gps: fix lost, last at %s", l.fix.LatLng)
	}
}

// Fix returns the latest valid fix, or ErrNoFix.
func (l *Locator) Fix() (Fix, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.fix.Valid || l.received.IsZero() || l.clock.Since(l.received) > l.MaxAge {
		return Fix{}, ErrNoFix
	}
	return l.fix, nil
}

// SendSentence writes a configuration sentence to the receiver.
func (l *Locator) SendSentence(body string) error {
	return l.mux.SendSentence(body)
}

// Close closes the underlying port.
func (l *Locator) Close() error {
	return l.mux.Close()
}

// AttachAdminRoutes mounts the receiver status and a live sentence tail on
// the debug handler.
func (l *Locator) AttachAdminRoutes(debug *tsweb.DebugHandler) {
	debug.HandleFunc("gps", "current GPS fix", func(w http.ResponseWriter, r *http.Request) {
		fix, err := l.Fix()
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Fix   *Fix   `json:"fix,omitempty"`
			Error string `json:"error,omitempty"`
		}{}
		if err != nil {
			status.Error = err.Error()
		} else {
			status.Fix = &fix
		}
		json.NewEncoder(w).Encode(status)
	})

	// Server-Sent Events stream of raw sentences.
	debug.HandleSilentFunc("gps-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, c := l.mux.Subscribe()
		defer l.mux.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case line, ok := <-c:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", line); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
