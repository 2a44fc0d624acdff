package hook

import (
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	clipboardWarmup     = 500 * time.Millisecond
	readRetries         = 5
	readRetryDelay      = 50 * time.Millisecond
)

// Provider reads the system clipboard as text.
type Provider interface {
	ReadAll() (string, error)
}

type systemClipboard struct{}

func (systemClipboard) ReadAll() (string, error) {
	return clipboard.ReadAll()
}

// SystemClipboard returns the platform clipboard provider.
func SystemClipboard() Provider {
	if clipboard.Unsupported {
		log.Warn("clipboard access not supported on this system")
	}
	return systemClipboard{}
}

// ClipboardSource polls the clipboard and reports each new text. The first
// read after Start only records the current contents, and changes seen in
// the first half second are absorbed so a stale copy is never mined.
type ClipboardSource struct {
	provider Provider
	interval time.Duration
	warmup   time.Duration
	retry    time.Duration
	now      func() time.Time

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewClipboardSource creates a polling source. interval <= 0 uses 250ms.
func NewClipboardSource(provider Provider, interval time.Duration) *ClipboardSource {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &ClipboardSource{
		provider: provider,
		interval: interval,
		warmup:   clipboardWarmup,
		retry:    readRetryDelay,
		now:      time.Now,
	}
}

// Start begins polling. Calling Start on a running source is a no-op.
func (c *ClipboardSource) Start(handler Handler) error {
	if handler == nil {
		return ErrNoHandler
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return nil
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.watch(handler, c.stop, c.done)
	log.Info("clipboard hook started", "interval", c.interval)
	return nil
}

// Stop ends polling and waits for the poll goroutine.
func (c *ClipboardSource) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	log.Info("clipboard hook stopped")
}

func (c *ClipboardSource) watch(handler Handler, stop, done chan struct{}) {
	defer close(done)

	started := c.now()
	last, ok := c.read(stop)
	if !ok {
		last = ""
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		text, ok := c.read(stop)
		if !ok || text == last {
			continue
		}
		at := c.now()
		if at.Sub(started) < c.warmup {
			last = text
			continue
		}
		if text == "" {
			// Cleared or non-text content; remember it so re-copying the
			// previous line is seen as a change.
			last = text
			continue
		}
		last = text
		handler(Event{Text: text, Timestamp: at})
	}
}

// read fetches trimmed clipboard text, retrying while another process holds
// the clipboard.
func (c *ClipboardSource) read(stop <-chan struct{}) (string, bool) {
	var err error
	for i := 0; i < readRetries; i++ {
		var text string
		text, err = c.provider.ReadAll()
		if err == nil {
			return strings.TrimSpace(text), true
		}
		select {
		case <-stop:
			return "", false
		case <-time.After(c.retry):
		}
	}
	log.Debug("clipboard read failed", "error", err)
	return "", false
}
