package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds every persisted setting the agent reads. The capture core only
// sees primitive values copied out of it.
type Config struct {
	AudioDevice       string  `mapstructure:"audio_device" yaml:"audio_device"`
	BufferSeconds     int     `mapstructure:"buffer_seconds" yaml:"buffer_seconds"`
	TargetWindow      string  `mapstructure:"target_window" yaml:"target_window"`
	MaxSlots          int     `mapstructure:"max_slots" yaml:"max_slots"`
	IdleTimeout       float64 `mapstructure:"idle_timeout_seconds" yaml:"idle_timeout_seconds"`
	UseDynamicTimeout bool    `mapstructure:"use_dynamic_timeout" yaml:"use_dynamic_timeout"`
	MaxImageWidth     int     `mapstructure:"max_image_width" yaml:"max_image_width"`
	AudioBitrate      int     `mapstructure:"audio_bitrate" yaml:"audio_bitrate"`

	Timeout       TimeoutConfig       `mapstructure:"timeout" yaml:"timeout"`
	Anki          AnkiConfig          `mapstructure:"anki" yaml:"anki"`
	Hook          HookConfig          `mapstructure:"hook" yaml:"hook"`
	Export        ExportConfig        `mapstructure:"export" yaml:"export"`
	Journal       JournalConfig       `mapstructure:"journal" yaml:"journal"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`
	LogFile   string `mapstructure:"log_file" yaml:"log_file"`
}

// TimeoutConfig tunes the dynamic idle-seal heuristic.
type TimeoutConfig struct {
	BaseSeconds     float64 `mapstructure:"base_seconds" yaml:"base_seconds"`
	PerCharSeconds  float64 `mapstructure:"per_char_seconds" yaml:"per_char_seconds"`
	PerPauseSeconds float64 `mapstructure:"per_pause_seconds" yaml:"per_pause_seconds"`
	MinSeconds      float64 `mapstructure:"min_seconds" yaml:"min_seconds"`
}

// AnkiConfig locates AnkiConnect and the note fields media is written to.
type AnkiConfig struct {
	URL                  string `mapstructure:"url" yaml:"url"`
	TimeoutSeconds       int    `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	ProbeIntervalSeconds int    `mapstructure:"probe_interval_seconds" yaml:"probe_interval_seconds"` // 0 disables
	Deck                 string `mapstructure:"deck" yaml:"deck"`
	Model                string `mapstructure:"model" yaml:"model"`
	AudioField           string `mapstructure:"audio_field" yaml:"audio_field"`
	ImageField           string `mapstructure:"image_field" yaml:"image_field"`
}

// HookConfig selects the text hook.
type HookConfig struct {
	Type           string `mapstructure:"type" yaml:"type"`
	WebsocketURL   string `mapstructure:"websocket_url" yaml:"websocket_url"`
	PollIntervalMs int    `mapstructure:"poll_interval_ms" yaml:"poll_interval_ms"`
}

// ExportConfig sizes the background export pool.
type ExportConfig struct {
	Workers   int `mapstructure:"workers" yaml:"workers"`
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// JournalConfig controls the on-disk session journal.
type JournalConfig struct {
	Enabled    bool `mapstructure:"enabled" yaml:"enabled"`
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
}

// NotificationsConfig toggles desktop notifications.
type NotificationsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Hook types.
const (
	HookClipboard = "clipboard"
	HookWebsocket = "websocket"
)

func Default() *Config {
	return &Config{
		BufferSeconds:     120,
		MaxSlots:          50,
		IdleTimeout:       30,
		UseDynamicTimeout: true,
		MaxImageWidth:     1280,
		AudioBitrate:      128,
		Timeout: TimeoutConfig{
			BaseSeconds:     0.75,
			PerCharSeconds:  0.25,
			PerPauseSeconds: 0.50,
			MinSeconds:      2.0,
		},
		Anki: AnkiConfig{
			URL:                  "http://127.0.0.1:8765",
			TimeoutSeconds:       15,
			ProbeIntervalSeconds: 30,
		},
		Hook: HookConfig{
			Type:           HookClipboard,
			WebsocketURL:   "ws://127.0.0.1:6677",
			PollIntervalMs: 250,
		},
		Export: ExportConfig{
			Workers:   2,
			QueueSize: 16,
		},
		Journal: JournalConfig{
			Enabled:    true,
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Notifications: NotificationsConfig{Enabled: true},
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load reads cfgFile (or vnminer.yaml from the config dir / working dir) on
// top of the defaults. A missing file is not an error.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := newViper(cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("vnminer")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	v := newViper(cfg)

	cfgPath := cfgFile
	if cfgPath == "" {
		cfgPath = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0700); err != nil {
		return err
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}
	return os.Chmod(cfgPath, 0600)
}

// newViper returns an isolated viper instance seeded with every key of cfg,
// so env overrides (VNMINER_ANKI_DECK, ...) apply to nested keys as well.
func newViper(cfg *Config) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("VNMINER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("audio_device", cfg.AudioDevice)
	v.SetDefault("buffer_seconds", cfg.BufferSeconds)
	v.SetDefault("target_window", cfg.TargetWindow)
	v.SetDefault("max_slots", cfg.MaxSlots)
	v.SetDefault("idle_timeout_seconds", cfg.IdleTimeout)
	v.SetDefault("use_dynamic_timeout", cfg.UseDynamicTimeout)
	v.SetDefault("max_image_width", cfg.MaxImageWidth)
	v.SetDefault("audio_bitrate", cfg.AudioBitrate)

	v.SetDefault("timeout.base_seconds", cfg.Timeout.BaseSeconds)
	v.SetDefault("timeout.per_char_seconds", cfg.Timeout.PerCharSeconds)
	v.SetDefault("timeout.per_pause_seconds", cfg.Timeout.PerPauseSeconds)
	v.SetDefault("timeout.min_seconds", cfg.Timeout.MinSeconds)

	v.SetDefault("anki.url", cfg.Anki.URL)
	v.SetDefault("anki.timeout_seconds", cfg.Anki.TimeoutSeconds)
	v.SetDefault("anki.probe_interval_seconds", cfg.Anki.ProbeIntervalSeconds)
	v.SetDefault("anki.deck", cfg.Anki.Deck)
	v.SetDefault("anki.model", cfg.Anki.Model)
	v.SetDefault("anki.audio_field", cfg.Anki.AudioField)
	v.SetDefault("anki.image_field", cfg.Anki.ImageField)

	v.SetDefault("hook.type", cfg.Hook.Type)
	v.SetDefault("hook.websocket_url", cfg.Hook.WebsocketURL)
	v.SetDefault("hook.poll_interval_ms", cfg.Hook.PollIntervalMs)

	v.SetDefault("export.workers", cfg.Export.Workers)
	v.SetDefault("export.queue_size", cfg.Export.QueueSize)

	v.SetDefault("journal.enabled", cfg.Journal.Enabled)
	v.SetDefault("journal.max_size_mb", cfg.Journal.MaxSizeMB)
	v.SetDefault("journal.max_backups", cfg.Journal.MaxBackups)

	v.SetDefault("notifications.enabled", cfg.Notifications.Enabled)

	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	return v
}

// ConfigDir is the per-user directory holding vnminer.yaml.
func ConfigDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "vnminer")
	}
	return "."
}

// DefaultPath is the config file used when --config is not given.
func DefaultPath() string {
	return filepath.Join(ConfigDir(), "vnminer.yaml")
}

// DataDir holds the session journal and log files.
func DataDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "vnminer")
	}
	return filepath.Join(ConfigDir(), "data")
}
