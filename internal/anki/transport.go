package anki

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// RetryConfig controls how often a request is replayed when AnkiConnect
// cannot be reached.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFrac    float64 // ±fraction of delay to randomize (e.g. 0.3 = ±30%)
}

// DefaultRetryConfig retries connection failures twice; Anki restarting its
// add-on server usually takes well under a second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    2,
		InitialDelay:  250 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
		JitterFrac:    0.3,
	}
}

// post sends body to url, replaying it only on connection-level failures.
// A timeout is never retried: AnkiConnect blocks while Anki syncs or backs
// up, and repeating the call would only stack more work behind it.
func post(ctx context.Context, client *http.Client, url string, body []byte, cfg RetryConfig) ([]byte, error) {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			jittered := applyJitter(delay, cfg.JitterFrac)
			log.Debug("retrying ankiconnect request", "attempt", attempt, "delay", jittered)
			select {
			case <-ctx.Done():
				return nil, classify(ctx.Err())
			case <-time.After(jittered):
			}
			delay = time.Duration(float64(delay) * cfg.BackoffFactor)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			lastErr = classify(err)
			if errors.Is(lastErr, ErrConnection) {
				continue
			}
			return nil, lastErr
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		resp.Body.Close()
		if err != nil {
			return nil, classify(err)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("ankiconnect: unexpected status %s", resp.Status)
		}
		return data, nil
	}

	log.Warn("ankiconnect unreachable", "url", url, "attempts", cfg.MaxRetries+1, "error", lastErr)
	return nil, lastErr
}

const maxResponseSize = 32 << 20

// classify maps transport errors onto ErrTimeout and ErrConnection.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrConnection, err)
	}
	return err
}

func applyJitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	jitter := float64(d) * frac * (2*rand.Float64() - 1)
	result := time.Duration(float64(d) + jitter)
	if result < 0 {
		return 0
	}
	return result
}
