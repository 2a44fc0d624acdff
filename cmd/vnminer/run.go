package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/vnminer/agent/internal/anki"
	"github.com/vnminer/agent/internal/audio"
	"github.com/vnminer/agent/internal/config"
	"github.com/vnminer/agent/internal/health"
	"github.com/vnminer/agent/internal/heartbeat"
	"github.com/vnminer/agent/internal/hook"
	"github.com/vnminer/agent/internal/journal"
	"github.com/vnminer/agent/internal/logging"
	"github.com/vnminer/agent/internal/media"
	"github.com/vnminer/agent/internal/mining"
	"github.com/vnminer/agent/internal/notify"
	"github.com/vnminer/agent/internal/video"
	"github.com/vnminer/agent/internal/workerpool"
)

var log = logging.L("main")

// app owns every long-lived component of a `run` session.
type app struct {
	cfg      *config.Config
	logFile  io.Closer
	capturer audio.Capturer
	hooks    *hook.Manager
	cards    *anki.Client
	probe    *heartbeat.Heartbeat
	health   *health.Monitor
	pool     *workerpool.Pool
	journal  *journal.Journal
	orch     *mining.Orchestrator
}

func settingsFromConfig(cfg *config.Config) mining.Settings {
	return mining.Settings{
		DeviceID:       cfg.AudioDevice,
		TargetWindow:   cfg.TargetWindow,
		BufferSeconds:  cfg.BufferSeconds,
		MaxSlots:       cfg.MaxSlots,
		FixedTimeout:   cfg.IdleTimeout,
		DynamicTimeout: cfg.UseDynamicTimeout,
		MaxImageWidth:  cfg.MaxImageWidth,
		Timeout: mining.TimeoutParams{
			Base:     cfg.Timeout.BaseSeconds,
			PerChar:  cfg.Timeout.PerCharSeconds,
			PerPause: cfg.Timeout.PerPauseSeconds,
			Min:      cfg.Timeout.MinSeconds,
		},
	}
}

func exportConfig(cfg *config.Config) mining.ExportConfig {
	return mining.ExportConfig{
		Deck:         cfg.Anki.Deck,
		Model:        cfg.Anki.Model,
		AudioField:   cfg.Anki.AudioField,
		ImageField:   cfg.Anki.ImageField,
		AudioBitrate: cfg.AudioBitrate,
	}
}

// redirectLogs moves logging off the terminal, which belongs to the console.
func redirectLogs(cfg *config.Config) (io.Closer, error) {
	path := cfg.LogFile
	if path == "" {
		path = filepath.Join(config.DataDir(), "vnminer.log")
	}
	w, err := logging.NewRotatingWriter(path, 10, 3)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogFormat, cfg.LogLevel, w)
	return w, nil
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, health: health.NewMonitor()}

	logFile, err := redirectLogs(cfg)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	a.logFile = logFile

	if cfg.Journal.Enabled {
		j, err := journal.Open(config.DataDir(), cfg.Journal.MaxSizeMB, cfg.Journal.MaxBackups)
		if err != nil {
			log.Warn("session journal disabled", logging.KeyError, err)
		} else {
			a.journal = j
		}
	}

	a.capturer = audio.NewCapturer()
	recorder := audio.NewRecorder(a.capturer)

	clip := hook.NewClipboardSource(hook.SystemClipboard(), time.Duration(cfg.Hook.PollIntervalMs)*time.Millisecond)
	ws := hook.NewWebsocketSource(cfg.Hook.WebsocketURL)
	a.hooks = hook.NewManager(clip, ws, cfg.Hook.Type)

	a.cards = anki.New(cfg.Anki.URL, time.Duration(cfg.Anki.TimeoutSeconds)*time.Second)
	if cfg.Anki.ProbeIntervalSeconds > 0 {
		a.probe = heartbeat.New(a.cards, a.health, time.Duration(cfg.Anki.ProbeIntervalSeconds)*time.Second)
	}

	var converter media.Converter = media.Passthrough{}
	if ff := media.NewFFmpegConverter(""); ff.Available() {
		converter = ff
	} else if cfg.AudioBitrate > 0 {
		log.Warn("ffmpeg not found, exporting WAV")
	}

	a.pool = workerpool.New("export", cfg.Export.Workers, cfg.Export.QueueSize)
	a.orch = mining.New(mining.Options{
		Audio:    recorder,
		Text:     a.hooks,
		Screens:  video.NewDisplayCapturer(),
		Exporter: mining.NewExporter(a.cards, converter, a.health),
		Pool:     a.pool,
		Health:   a.health,
		Settings: settingsFromConfig(cfg),
	})
	a.orch.Subscribe(a.journal.Record)
	if cfg.Notifications.Enabled {
		a.orch.Subscribe(notify.New("").Hook)
	}
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.pool.Shutdown(ctx)
	if err := a.journal.Close(); err != nil {
		log.Warn("closing journal", logging.KeyError, err)
	}
	if err := a.capturer.Close(); err != nil {
		log.Warn("closing audio backend", logging.KeyError, err)
	}
	log.Info("vnminer stopped")
	a.logFile.Close()
}

func runMiner() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.probe != nil {
		go a.probe.Start()
		defer func() {
			a.probe.Stop()
			a.probe.Wait()
		}()
	}

	loopCtx, cancelLoop := context.WithCancel(ctx)
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.orch.Run(loopCtx)
	}()
	defer func() {
		cancelLoop()
		<-loopDone
	}()

	con := newConsole(a.orch, a.cards, a.hooks, a.health, exportConfig(cfg), os.Stdout)
	a.orch.Subscribe(con.printNotice)

	log.Info("vnminer started", "version", version, "anki", cfg.Anki.URL, "hook", a.hooks.Active())
	con.printf("vnminer v%s. Type 'help' for commands.\n", version)
	if cfg.Anki.Deck == "" {
		con.printf("No deck configured; use 'deck <name>' before exporting.\n")
	}
	if err := a.orch.Start(cfg.AudioDevice); err != nil {
		con.printf("Buffer not started. Pick a device with 'vnminer devices' and set audio_device, or type 'start <device id>'.\n")
	}

	return con.run(ctx, os.Stdin)
}
