package hook

import (
	"fmt"
	"strings"
	"sync"
)

// Source types accepted by Manager.
const (
	TypeClipboard = "clipboard"
	TypeWebsocket = "websocket"
)

// Manager routes the configured source to a single handler. It implements
// Source so callers never care which hook is active.
type Manager struct {
	sources  map[string]Source
	debounce *Debouncer

	mu      sync.Mutex
	active  string
	running bool
}

// NewManager creates a manager over the clipboard and websocket sources.
// Either may be nil when unavailable.
func NewManager(clipboard, websocket Source, active string) *Manager {
	m := &Manager{
		sources:  map[string]Source{},
		debounce: NewDebouncer(DuplicateWindow),
		active:   TypeClipboard,
	}
	if clipboard != nil {
		m.sources[TypeClipboard] = clipboard
	}
	if websocket != nil {
		m.sources[TypeWebsocket] = websocket
	}
	if active != "" {
		m.active = strings.ToLower(active)
	}
	return m
}

// Active returns the selected source type.
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SetActive selects the source used by the next Start.
func (m *Manager) SetActive(kind string) error {
	kind = strings.ToLower(kind)
	if kind != TypeClipboard && kind != TypeWebsocket {
		return fmt.Errorf("hook: unknown source type %q", kind)
	}
	m.mu.Lock()
	m.active = kind
	m.mu.Unlock()
	return nil
}

// Running reports whether a source is started.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Start stops every source and starts the active one.
func (m *Manager) Start(handler Handler) error {
	if handler == nil {
		return ErrNoHandler
	}
	m.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[m.active]
	if !ok {
		return fmt.Errorf("hook: %s source not available", m.active)
	}
	m.debounce.Reset()
	if err := src.Start(m.debounce.Wrap(handler)); err != nil {
		return fmt.Errorf("hook: start %s: %w", m.active, err)
	}
	m.running = true
	return nil
}

// Stop stops all sources.
func (m *Manager) Stop() {
	m.mu.Lock()
	sources := make([]Source, 0, len(m.sources))
	for _, s := range m.sources {
		sources = append(sources, s)
	}
	m.running = false
	m.mu.Unlock()

	for _, s := range sources {
		s.Stop()
	}
}
