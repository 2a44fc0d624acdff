package hook

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 256 * 1024
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFactor   = 0.3
)

// WebsocketSource connects to a texthooker websocket server and reports
// every text frame as a line. The connection is retried with jittered
// exponential backoff until Stop.
type WebsocketSource struct {
	url     string
	backoff time.Duration
	now     func() time.Time

	mu   sync.Mutex
	conn *websocket.Conn
	done chan struct{}
	exit chan struct{}
}

// NewWebsocketSource creates a source for serverURL (ws:// or wss://; http
// schemes are rewritten).
func NewWebsocketSource(serverURL string) *WebsocketSource {
	return &WebsocketSource{
		url:     serverURL,
		backoff: initialBackoff,
		now:     time.Now,
	}
}

// Start launches the connect loop. Calling Start on a running source is a
// no-op.
func (w *WebsocketSource) Start(handler Handler) error {
	if handler == nil {
		return ErrNoHandler
	}
	wsURL, err := normalizeURL(w.url)
	if err != nil {
		return fmt.Errorf("hook: websocket url: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done != nil {
		return nil
	}
	w.done = make(chan struct{})
	w.exit = make(chan struct{})
	go w.reconnectLoop(wsURL, handler, w.done, w.exit)
	log.Info("websocket hook started", "url", wsURL)
	return nil
}

// Stop closes the connection and waits for the connect loop to exit.
func (w *WebsocketSource) Stop() {
	w.mu.Lock()
	if w.done == nil {
		w.mu.Unlock()
		return
	}
	// Closed under the lock so connect cannot publish a conn after this.
	close(w.done)
	exit := w.exit
	conn := w.conn
	w.done, w.exit, w.conn = nil, nil, nil
	w.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stopped"),
			time.Now().Add(writeWait),
		)
		conn.Close()
	}
	<-exit
	log.Info("websocket hook stopped")
}

func normalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", raw)
	}
	return u.String(), nil
}

func (w *WebsocketSource) connect(wsURL string, done <-chan struct{}) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	w.mu.Lock()
	select {
	case <-done:
		w.mu.Unlock()
		conn.Close()
		return nil, fmt.Errorf("stopped")
	default:
	}
	w.conn = conn
	w.mu.Unlock()

	conn.SetReadLimit(maxMessageSize)
	log.Info("connected to texthooker", "url", wsURL)
	return conn, nil
}

func (w *WebsocketSource) reconnectLoop(wsURL string, handler Handler, done, exit chan struct{}) {
	defer close(exit)
	backoff := w.backoff

	for {
		select {
		case <-done:
			return
		default:
		}

		conn, err := w.connect(wsURL, done)
		if err != nil {
			log.Warn("texthooker connection failed", "error", err)

			jitter := time.Duration(float64(backoff) * jitterFactor * (rand.Float64()*2 - 1))
			sleep := backoff + jitter
			if sleep < 0 {
				sleep = backoff
			}

			log.Debug("retrying", "delay", sleep)
			select {
			case <-done:
				return
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * backoffFactor)
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		backoff = w.backoff

		pumpDone := make(chan struct{})
		go w.pingPump(conn, pumpDone, done)
		w.readPump(conn, handler)
		close(pumpDone)
		conn.Close()

		w.mu.Lock()
		if w.conn == conn {
			w.conn = nil
		}
		w.mu.Unlock()
	}
}

func (w *WebsocketSource) readPump(conn *websocket.Conn, handler Handler) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("texthooker read error", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind != websocket.TextMessage {
			continue
		}
		text := extractText(message)
		if text == "" {
			continue
		}
		handler(Event{Text: text, Timestamp: w.now()})
	}
}

func (w *WebsocketSource) pingPump(conn *websocket.Conn, pumpDone, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-pumpDone:
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// extractText unwraps the JSON envelopes some texthookers send
// ({"sentence": ...} or {"text": ...}); anything else is used verbatim.
func extractText(message []byte) string {
	raw := strings.TrimSpace(string(message))
	if strings.HasPrefix(raw, "{") {
		var payload struct {
			Sentence *string `json:"sentence"`
			Text     *string `json:"text"`
		}
		if err := json.Unmarshal(message, &payload); err == nil {
			switch {
			case payload.Sentence != nil:
				return strings.TrimSpace(*payload.Sentence)
			case payload.Text != nil:
				return strings.TrimSpace(*payload.Text)
			}
		}
	}
	return raw
}
