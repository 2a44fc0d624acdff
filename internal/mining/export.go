package mining

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vnminer/agent/internal/anki"
	"github.com/vnminer/agent/internal/health"
	"github.com/vnminer/agent/internal/logging"
	"github.com/vnminer/agent/internal/media"
)

// CardService is the flashcard side of an export.
type CardService interface {
	StoreMedia(ctx context.Context, filename string, data []byte) (bool, error)
	UpdateLastCard(ctx context.Context, deck, audioField, imageField, audioFile, imageFile string) (bool, string)
}

// ExportConfig says where mined media goes.
type ExportConfig struct {
	Deck         string
	Model        string
	AudioField   string
	ImageField   string
	AudioBitrate int // kbps; 0 keeps WAV
}

// ExportResult is the outcome shown to the user. Export never returns an
// error past this boundary.
type ExportResult struct {
	Success bool
	Message string
}

func failed(format string, args ...any) ExportResult {
	return ExportResult{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Exporter uploads a sealed slot's media and attaches it to the newest card.
type Exporter struct {
	cards     CardService
	converter media.Converter
	health    *health.Monitor
	newToken  func() string
}

// NewExporter creates an exporter. converter may be nil to always keep WAV.
func NewExporter(cards CardService, converter media.Converter, monitor *health.Monitor) *Exporter {
	if converter == nil {
		converter = media.Passthrough{}
	}
	return &Exporter{
		cards:     cards,
		converter: converter,
		health:    monitor,
		newToken: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
		},
	}
}

// MediaFilenames returns the names used for a token's audio and image.
func MediaFilenames(token string, mp3 bool) (audioFile, imageFile string) {
	ext := "wav"
	if mp3 {
		ext = "mp3"
	}
	return fmt.Sprintf("miner_%s.%s", token, ext), fmt.Sprintf("miner_%s.jpg", token)
}

// Export sends slot to the card service. Concurrent exports of the same
// slot are refused.
func (e *Exporter) Export(ctx context.Context, slot *Slot, cfg ExportConfig) ExportResult {
	if strings.TrimSpace(cfg.Deck) == "" {
		return failed("%v: no deck selected", ErrConfigurationIncomplete)
	}
	if slot == nil {
		return failed("%v: %v", ErrExportFailure, ErrSlotNotFound)
	}
	if !slot.tryBeginExport() {
		return failed("export already in progress")
	}
	defer slot.endExport()

	if slot.Disposed() {
		return failed("%v: slot was deleted", ErrExportFailure)
	}

	logger := logging.WithSlot(log, slot.ID)
	start := time.Now()
	token := e.newToken()

	clip := slot.Audio()
	shot := slot.Screenshot()

	var audioFile, imageFile string
	if len(clip) > 0 {
		data := clip
		if cfg.AudioBitrate > 0 {
			data = e.converter.ToCompressed(clip, cfg.AudioBitrate)
		}
		audioFile, _ = MediaFilenames(token, media.IsMP3(data))
		if res, ok := e.store(ctx, audioFile, data); !ok {
			return res
		}
	}
	if len(shot) > 0 {
		_, imageFile = MediaFilenames(token, false)
		if res, ok := e.store(ctx, imageFile, shot); !ok {
			return res
		}
	}

	ok, msg := e.cards.UpdateLastCard(ctx, cfg.Deck, cfg.AudioField, cfg.ImageField, audioFile, imageFile)
	if !ok {
		logger.Warn("export failed", "deck", cfg.Deck, "reason", msg)
		e.reportHealth(msg)
		return ExportResult{Success: false, Message: msg}
	}

	e.health.Update(health.Anki, health.Healthy, "")
	logger.Info("slot exported",
		"deck", cfg.Deck,
		"audio", audioFile,
		"image", imageFile,
		logging.KeyDurationMs, time.Since(start).Milliseconds(),
	)
	return ExportResult{Success: true, Message: msg}
}

func (e *Exporter) store(ctx context.Context, filename string, data []byte) (ExportResult, bool) {
	stored, err := e.cards.StoreMedia(ctx, filename, data)
	if err != nil {
		msg := anki.Describe(err)
		e.reportHealth(msg)
		return ExportResult{Success: false, Message: msg}, false
	}
	if !stored {
		return failed("%v: anki did not store %s", ErrExportFailure, filename), false
	}
	return ExportResult{}, true
}

// reportHealth marks Anki unhealthy only when it could not be reached; a
// refused update (no card today) says nothing about connectivity.
func (e *Exporter) reportHealth(msg string) {
	switch msg {
	case anki.Describe(anki.ErrConnection):
		e.health.Update(health.Anki, health.Unhealthy, msg)
	case anki.Describe(anki.ErrTimeout):
		e.health.Update(health.Anki, health.Degraded, msg)
	}
}
