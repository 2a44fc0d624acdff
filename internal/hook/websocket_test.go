package hook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestExtractText(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain line", "plain line"},
		{`{"sentence": " 彼は言った。 "}`, "彼は言った。"},
		{`{"text": "hello"}`, "hello"},
		{`{"other": 1}`, `{"other": 1}`},
		{`{broken`, `{broken`},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := extractText([]byte(tt.in)); got != tt.want {
			t.Errorf("extractText(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestWebsocketSourceDeliversTextFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("最初の行"))
		conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"sentence":"二行目"}`))
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	src := NewWebsocketSource(wsURL(srv))
	h, wait := collect()
	if err := src.Start(h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := wait(300 * time.Millisecond)
	src.Stop()

	if len(got) != 2 || got[0] != "最初の行" || got[1] != "二行目" {
		t.Fatalf("events = %q", got)
	}
}

func TestWebsocketSourceReconnects(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		n := conns.Add(1)
		if n == 1 {
			conn.WriteMessage(websocket.TextMessage, []byte("one"))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "restart"))
			conn.Close()
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte("two"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	src := NewWebsocketSource(wsURL(srv))
	src.backoff = 10 * time.Millisecond
	h, wait := collect()
	if err := src.Start(h); err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := wait(500 * time.Millisecond)
	src.Stop()

	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("events = %q, want [one two]", got)
	}
	if conns.Load() < 2 {
		t.Fatalf("connections = %d, want a reconnect", conns.Load())
	}
}

func TestWebsocketSourceRetriesUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	src := NewWebsocketSource(url)
	src.backoff = 5 * time.Millisecond
	if err := src.Start(func(Event) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(30 * time.Millisecond)

	stopped := make(chan struct{})
	go func() {
		src.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while retrying")
	}
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"ws://127.0.0.1:6677", "ws://127.0.0.1:6677", false},
		{"http://localhost:9001/ws", "ws://localhost:9001/ws", false},
		{"https://example.com", "wss://example.com", false},
		{"ftp://example.com", "", true},
		{"ws://", "", true},
	}
	for _, tt := range tests {
		got, err := normalizeURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("normalizeURL(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("normalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
