// Package anki talks to the AnkiConnect add-on to attach mined media to the
// most recently added card.
package anki

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vnminer/agent/internal/logging"
)

var log = logging.L("anki")

const (
	// DefaultURL is where AnkiConnect listens out of the box.
	DefaultURL     = "http://127.0.0.1:8765"
	defaultTimeout = 10 * time.Second
	apiVersion     = 6
)

var (
	// ErrTimeout means Anki accepted the connection but did not answer in
	// time (usually syncing or backing up).
	ErrTimeout = errors.New("anki did not respond in time")
	// ErrConnection means AnkiConnect could not be reached.
	ErrConnection = errors.New("cannot reach ankiconnect")
)

// APIError is an error string returned by AnkiConnect itself.
type APIError struct {
	Action  string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ankiconnect %s: %s", e.Action, e.Message)
}

// Client is an AnkiConnect JSON-RPC client. It is safe for concurrent use.
type Client struct {
	mu    sync.RWMutex
	url   string
	http  *http.Client
	retry RetryConfig
}

// New creates a client. An empty url uses DefaultURL; timeout <= 0 uses 10s.
func New(url string, timeout time.Duration) *Client {
	c := &Client{retry: DefaultRetryConfig()}
	c.SetEndpoint(url, timeout)
	return c
}

// SetEndpoint changes the AnkiConnect URL and per-request timeout.
func (c *Client) SetEndpoint(url string, timeout time.Duration) {
	if url == "" {
		url = DefaultURL
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	// AnkiConnect is local; never route it through a proxy.
	transport := &http.Transport{Proxy: nil}
	c.mu.Lock()
	c.url = url
	c.http = &http.Client{Timeout: timeout, Transport: transport}
	c.mu.Unlock()
}

// URL returns the configured endpoint.
func (c *Client) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

func (c *Client) invoke(ctx context.Context, action string, params, result any) error {
	body, err := json.Marshal(request{Action: action, Version: apiVersion, Params: params})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", action, err)
	}

	c.mu.RLock()
	url, client, retry := c.url, c.http, c.retry
	c.mu.RUnlock()

	start := time.Now()
	data, err := post(ctx, client, url, body, retry)
	if err != nil {
		return err
	}

	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("decode %s response: %w", action, err)
	}
	if resp.Error != nil && *resp.Error != "" {
		return &APIError{Action: action, Message: *resp.Error}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("decode %s result: %w", action, err)
		}
	}
	log.Debug("ankiconnect call", "action", action, logging.KeyDurationMs, time.Since(start).Milliseconds())
	return nil
}

// Version returns the AnkiConnect API version.
func (c *Client) Version(ctx context.Context) (int, error) {
	var v int
	err := c.invoke(ctx, "version", nil, &v)
	return v, err
}

// Connected reports whether AnkiConnect answers.
func (c *Client) Connected(ctx context.Context) bool {
	v, err := c.Version(ctx)
	return err == nil && v > 0
}

// DeckNames lists all decks.
func (c *Client) DeckNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.invoke(ctx, "deckNames", nil, &names)
	return names, err
}

// ModelNames lists all note types.
func (c *Client) ModelNames(ctx context.Context) ([]string, error) {
	var names []string
	err := c.invoke(ctx, "modelNames", nil, &names)
	return names, err
}

// ModelFieldNames lists the fields of a note type.
func (c *Client) ModelFieldNames(ctx context.Context, model string) ([]string, error) {
	var names []string
	err := c.invoke(ctx, "modelFieldNames", map[string]any{"modelName": model}, &names)
	return names, err
}

// StoreMedia uploads a file to the collection's media folder. It reports
// false without error when data is empty.
func (c *Client) StoreMedia(ctx context.Context, filename string, data []byte) (bool, error) {
	if len(data) == 0 {
		return false, nil
	}
	var stored string
	err := c.invoke(ctx, "storeMediaFile", map[string]any{
		"filename": filename,
		"data":     base64.StdEncoding.EncodeToString(data),
	}, &stored)
	if err != nil {
		return false, err
	}
	return stored == filename, nil
}

// Result messages from UpdateLastCard.
const (
	MsgCardUpdated  = "card updated"
	MsgNoCardToday  = "no card added today in this deck"
	MsgNoFields     = "no fields to update"
	msgTimeout      = "timed out: is Anki syncing or running a backup?"
	msgNotConnected = "connection failed: are Anki and AnkiConnect running?"
)

// UpdateLastCard finds the newest note added today to deck and sets the
// audio and image fields to reference the stored files. Empty field names
// or filenames are skipped. The message explains any failure.
func (c *Client) UpdateLastCard(ctx context.Context, deck, audioField, imageField, audioFile, imageFile string) (bool, string) {
	var ids []int64
	query := fmt.Sprintf(`"deck:%s" added:1`, deck)
	if err := c.invoke(ctx, "findNotes", map[string]any{"query": query}, &ids); err != nil {
		return false, Describe(err)
	}
	if len(ids) == 0 {
		return false, MsgNoCardToday
	}
	newest := ids[0]
	for _, id := range ids[1:] {
		if id > newest {
			newest = id
		}
	}

	fields := map[string]string{}
	if audioField != "" && audioFile != "" {
		fields[audioField] = fmt.Sprintf("[sound:%s]", audioFile)
	}
	if imageField != "" && imageFile != "" {
		fields[imageField] = fmt.Sprintf(`<img src="%s">`, imageFile)
	}
	if len(fields) == 0 {
		return false, MsgNoFields
	}

	params := map[string]any{"note": map[string]any{"id": newest, "fields": fields}}
	if err := c.invoke(ctx, "updateNoteFields", params, nil); err != nil {
		return false, Describe(err)
	}
	log.Info("card updated", "noteId", newest, "deck", deck)
	return true, MsgCardUpdated
}

// Describe turns a client error into the message shown to the user.
func Describe(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return msgTimeout
	case errors.Is(err, ErrConnection):
		return msgNotConnected
	case errors.As(err, &apiErr):
		return apiErr.Message
	default:
		return err.Error()
	}
}
