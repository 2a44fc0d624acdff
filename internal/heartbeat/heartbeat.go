// Package heartbeat probes AnkiConnect on an interval so the console can
// tell the user Anki is closed before an export fails.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/vnminer/agent/internal/anki"
	"github.com/vnminer/agent/internal/health"
	"github.com/vnminer/agent/internal/logging"
)

var log = logging.L("heartbeat")

// MinAPIVersion is the oldest AnkiConnect API the exporter works with.
const MinAPIVersion = 6

// Pinger reports the AnkiConnect API version.
type Pinger interface {
	Version(ctx context.Context) (int, error)
}

// Heartbeat updates the anki health check on every tick.
type Heartbeat struct {
	pinger   Pinger
	health   *health.Monitor
	interval time.Duration
	timeout  time.Duration

	stopChan chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = 30 * time.Second

// New creates a heartbeat probing every interval.
func New(pinger Pinger, monitor *health.Monitor, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := interval / 2
	if timeout > 5*time.Second {
		timeout = 5 * time.Second
	}
	return &Heartbeat{
		pinger:   pinger,
		health:   monitor,
		interval: interval,
		timeout:  timeout,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start probes once right away, then on every tick until Stop. It blocks.
func (h *Heartbeat) Start() {
	defer close(h.done)

	h.Probe()

	// Spread the tick phase.
	jitter := time.Duration(rand.Int63n(int64(h.interval)/10 + 1))
	select {
	case <-time.After(jitter):
	case <-h.stopChan:
		return
	}

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Probe()
		case <-h.stopChan:
			return
		}
	}
}

// Stop ends the loop and waits for it. Safe to call more than once, and
// before Start has run.
func (h *Heartbeat) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopChan)
	})
}

// Wait blocks until Start has returned.
func (h *Heartbeat) Wait() {
	<-h.done
}

// Probe runs one check and records the result.
func (h *Heartbeat) Probe() health.Status {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	start := time.Now()
	v, err := h.pinger.Version(ctx)
	status, msg := classify(v, err)
	h.health.Update(health.Anki, status, msg)
	log.Debug("anki probe", "status", string(status), logging.KeyDurationMs, time.Since(start).Milliseconds())
	return status
}

func classify(version int, err error) (health.Status, string) {
	switch {
	case err == nil && version >= MinAPIVersion:
		return health.Healthy, fmt.Sprintf("AnkiConnect v%d", version)
	case err == nil:
		return health.Degraded, fmt.Sprintf("AnkiConnect v%d is older than v%d", version, MinAPIVersion)
	}
	msg := anki.Describe(err)
	var apiErr *anki.APIError
	if errors.As(err, &apiErr) || errors.Is(err, anki.ErrTimeout) {
		return health.Degraded, msg
	}
	return health.Unhealthy, msg
}
