package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode"
)

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

var validHookTypes = map[string]bool{
	HookClipboard: true,
	HookWebsocket: true,
}

// ValidationResult separates problems that make the config unusable from
// values that were clamped into range.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether startup should be refused.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// All returns fatals followed by warnings.
func (r ValidationResult) All() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	return append(all, r.Warnings...)
}

// Validate checks the config and returns all errors found, logging each as a
// warning. Out-of-range numbers are clamped in place.
func (c *Config) Validate() []error {
	result := c.ValidateTiered()
	for _, err := range result.All() {
		slog.Warn("config validation", "error", err)
	}
	return result.All()
}

// ValidateTiered clamps unsafe values and classifies every problem.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if c.Anki.URL != "" {
		u, err := url.Parse(c.Anki.URL)
		if err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("anki.url %q is not a valid URL: %w", c.Anki.URL, err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			r.Fatals = append(r.Fatals, fmt.Errorf("anki.url scheme must be http or https, got %q", u.Scheme))
		}
	}

	hookType := strings.ToLower(strings.TrimSpace(c.Hook.Type))
	if hookType == "" {
		hookType = HookClipboard
	}
	if !validHookTypes[hookType] {
		r.Fatals = append(r.Fatals, fmt.Errorf("hook.type %q is not valid (use clipboard or websocket)", c.Hook.Type))
	}
	c.Hook.Type = hookType

	if hookType == HookWebsocket {
		u, err := url.Parse(c.Hook.WebsocketURL)
		if err != nil {
			r.Fatals = append(r.Fatals, fmt.Errorf("hook.websocket_url %q is not a valid URL: %w", c.Hook.WebsocketURL, err))
		} else if u.Scheme != "ws" && u.Scheme != "wss" {
			r.Fatals = append(r.Fatals, fmt.Errorf("hook.websocket_url scheme must be ws or wss, got %q", u.Scheme))
		}
	}

	for name, value := range map[string]string{
		"anki.deck":        c.Anki.Deck,
		"anki.audio_field": c.Anki.AudioField,
		"anki.image_field": c.Anki.ImageField,
	} {
		if strings.ContainsFunc(value, unicode.IsControl) {
			r.Fatals = append(r.Fatals, fmt.Errorf("%s contains control characters", name))
		}
	}

	c.BufferSeconds = clampInt(&r, "buffer_seconds", c.BufferSeconds, 10, 600)
	c.MaxSlots = clampInt(&r, "max_slots", c.MaxSlots, 1, 500)
	c.IdleTimeout = clampFloat(&r, "idle_timeout_seconds", c.IdleTimeout, 1, 600)
	c.Anki.TimeoutSeconds = clampInt(&r, "anki.timeout_seconds", c.Anki.TimeoutSeconds, 1, 120)
	c.Hook.PollIntervalMs = clampInt(&r, "hook.poll_interval_ms", c.Hook.PollIntervalMs, 50, 5000)
	c.Export.Workers = clampInt(&r, "export.workers", c.Export.Workers, 1, 8)
	c.Export.QueueSize = clampInt(&r, "export.queue_size", c.Export.QueueSize, 1, 256)

	// 0 disables resizing / mp3 conversion / the anki probe.
	if c.Anki.ProbeIntervalSeconds != 0 {
		c.Anki.ProbeIntervalSeconds = clampInt(&r, "anki.probe_interval_seconds", c.Anki.ProbeIntervalSeconds, 5, 3600)
	}
	if c.MaxImageWidth != 0 {
		c.MaxImageWidth = clampInt(&r, "max_image_width", c.MaxImageWidth, 64, 7680)
	}
	if c.AudioBitrate != 0 {
		c.AudioBitrate = clampInt(&r, "audio_bitrate", c.AudioBitrate, 32, 320)
	}

	def := Default().Timeout
	c.Timeout.BaseSeconds = nonNegative(&r, "timeout.base_seconds", c.Timeout.BaseSeconds, def.BaseSeconds)
	c.Timeout.PerCharSeconds = nonNegative(&r, "timeout.per_char_seconds", c.Timeout.PerCharSeconds, def.PerCharSeconds)
	c.Timeout.PerPauseSeconds = nonNegative(&r, "timeout.per_pause_seconds", c.Timeout.PerPauseSeconds, def.PerPauseSeconds)
	c.Timeout.MinSeconds = nonNegative(&r, "timeout.min_seconds", c.Timeout.MinSeconds, def.MinSeconds)

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error)", c.LogLevel))
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json)", c.LogFormat))
	}

	return r
}

func clampInt(r *ValidationResult, key string, v, lo, hi int) int {
	if v < lo {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d is below minimum %d, clamping", key, v, lo))
		return lo
	}
	if v > hi {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %d exceeds maximum %d, clamping", key, v, hi))
		return hi
	}
	return v
}

func clampFloat(r *ValidationResult, key string, v, lo, hi float64) float64 {
	if v < lo {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %.2f is below minimum %.2f, clamping", key, v, lo))
		return lo
	}
	if v > hi {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %.2f exceeds maximum %.2f, clamping", key, v, hi))
		return hi
	}
	return v
}

func nonNegative(r *ValidationResult, key string, v, fallback float64) float64 {
	if v < 0 {
		r.Warnings = append(r.Warnings, fmt.Errorf("%s %.2f is negative, using %.2f", key, v, fallback))
		return fallback
	}
	return v
}
