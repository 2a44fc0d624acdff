package mining

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vnminer/agent/internal/anki"
	"github.com/vnminer/agent/internal/health"
)

func sealedSlot(audio, shot []byte) *Slot {
	s := NewSlot("テスト", time.Now(), shot)
	s.seal(audio)
	return s
}

func newTestExporter(cards CardService, conv fakeConverter, mon *health.Monitor) *Exporter {
	e := NewExporter(cards, conv, mon)
	e.newToken = func() string { return "tok12345" }
	return e
}

var testCfg = ExportConfig{Deck: "Mining", AudioField: "Audio", ImageField: "Picture"}

func TestExportSuccess(t *testing.T) {
	cards := &fakeCards{updateOK: true, updateMsg: anki.MsgCardUpdated}
	mon := health.NewMonitor()
	e := newTestExporter(cards, fakeConverter{}, mon)

	res := e.Export(context.Background(), sealedSlot([]byte("RIFFwav"), []byte("jpeg")), testCfg)
	if !res.Success || res.Message != anki.MsgCardUpdated {
		t.Fatalf("result = %+v", res)
	}

	stored, updates := cards.snapshot()
	if len(stored) != 2 || stored[0].name != "miner_tok12345.wav" || stored[1].name != "miner_tok12345.jpg" {
		t.Fatalf("stored = %+v", stored)
	}
	want := []string{"Mining", "Audio", "Picture", "miner_tok12345.wav", "miner_tok12345.jpg"}
	if len(updates) != 1 || strings.Join(updates[0], ",") != strings.Join(want, ",") {
		t.Fatalf("update = %v, want %v", updates, want)
	}
	if c, _ := mon.Get(health.Anki); c.Status != health.Healthy {
		t.Fatalf("anki health = %s", c.Status)
	}
}

func TestExportAudioExtension(t *testing.T) {
	tests := []struct {
		name    string
		bitrate int
		out     []byte
		want    string
	}{
		{"wav kept without bitrate", 0, []byte("ID3mp3"), "miner_tok12345.wav"},
		{"converted to mp3", 128, []byte("ID3mp3"), "miner_tok12345.mp3"},
		{"conversion fell back to wav", 128, nil, "miner_tok12345.wav"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cards := &fakeCards{updateOK: true}
			e := newTestExporter(cards, fakeConverter{out: tt.out}, nil)
			cfg := testCfg
			cfg.AudioBitrate = tt.bitrate
			e.Export(context.Background(), sealedSlot([]byte("RIFFwav"), nil), cfg)

			stored, _ := cards.snapshot()
			if len(stored) != 1 || stored[0].name != tt.want {
				t.Fatalf("stored = %+v, want %s", stored, tt.want)
			}
		})
	}
}

func TestExportWithoutMedia(t *testing.T) {
	cards := &fakeCards{updateOK: true}
	e := newTestExporter(cards, fakeConverter{}, nil)

	res := e.Export(context.Background(), sealedSlot(nil, nil), testCfg)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	stored, updates := cards.snapshot()
	if len(stored) != 0 {
		t.Fatalf("stored empty media: %+v", stored)
	}
	if updates[0][3] != "" || updates[0][4] != "" {
		t.Fatalf("update named files: %v", updates[0])
	}
}

func TestExportFailures(t *testing.T) {
	tests := []struct {
		name       string
		cards      *fakeCards
		cfg        ExportConfig
		prepare    func(*Slot)
		wantMsg    string
		wantHealth health.Status
		noCalls    bool
	}{
		{
			name:    "missing deck",
			cards:   &fakeCards{updateOK: true},
			cfg:     ExportConfig{},
			wantMsg: "configuration incomplete: no deck selected",
			noCalls: true,
		},
		{
			name:    "deleted slot",
			cards:   &fakeCards{updateOK: true},
			cfg:     testCfg,
			prepare: func(s *Slot) { s.Dispose() },
			wantMsg: "slot was deleted",
			noCalls: true,
		},
		{
			name:       "anki unreachable",
			cards:      &fakeCards{storeErr: anki.ErrConnection},
			cfg:        testCfg,
			wantMsg:    anki.Describe(anki.ErrConnection),
			wantHealth: health.Unhealthy,
		},
		{
			name:       "anki slow",
			cards:      &fakeCards{storeErr: anki.ErrTimeout},
			cfg:        testCfg,
			wantMsg:    anki.Describe(anki.ErrTimeout),
			wantHealth: health.Degraded,
		},
		{
			name:    "media refused",
			cards:   &fakeCards{refuse: true},
			cfg:     testCfg,
			wantMsg: "did not store",
		},
		{
			name:    "no card today",
			cards:   &fakeCards{updateOK: false, updateMsg: anki.MsgNoCardToday},
			cfg:     testCfg,
			wantMsg: anki.MsgNoCardToday,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mon := health.NewMonitor()
			e := newTestExporter(tt.cards, fakeConverter{}, mon)
			slot := sealedSlot([]byte("RIFFwav"), []byte("jpeg"))
			if tt.prepare != nil {
				tt.prepare(slot)
			}

			res := e.Export(context.Background(), slot, tt.cfg)
			if res.Success {
				t.Fatal("export succeeded")
			}
			if !strings.Contains(res.Message, tt.wantMsg) {
				t.Fatalf("message %q does not contain %q", res.Message, tt.wantMsg)
			}
			stored, updates := tt.cards.snapshot()
			if tt.noCalls && (len(stored) > 0 || len(updates) > 0) {
				t.Fatal("card service called")
			}
			c, ok := mon.Get(health.Anki)
			if tt.wantHealth == "" {
				if ok {
					t.Fatalf("anki health set to %s", c.Status)
				}
			} else if c.Status != tt.wantHealth {
				t.Fatalf("anki health = %s, want %s", c.Status, tt.wantHealth)
			}
			if slot.Exporting() {
				t.Fatal("export guard not released")
			}
		})
	}
}

func TestExportRefusesConcurrentExportOfSameSlot(t *testing.T) {
	cards := &fakeCards{updateOK: true, block: make(chan struct{})}
	e := newTestExporter(cards, fakeConverter{}, nil)
	slot := sealedSlot([]byte("RIFFwav"), nil)

	var wg sync.WaitGroup
	wg.Add(1)
	var first ExportResult
	go func() {
		defer wg.Done()
		first = e.Export(context.Background(), slot, testCfg)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !slot.Exporting() {
		if time.Now().After(deadline) {
			t.Fatal("first export never started")
		}
		time.Sleep(time.Millisecond)
	}

	second := e.Export(context.Background(), slot, testCfg)
	if second.Success || second.Message != "export already in progress" {
		t.Fatalf("second export = %+v", second)
	}

	close(cards.block)
	wg.Wait()
	if !first.Success {
		t.Fatalf("first export = %+v", first)
	}
}

func TestMediaFilenames(t *testing.T) {
	a, i := MediaFilenames("abc", true)
	if a != "miner_abc.mp3" || i != "miner_abc.jpg" {
		t.Fatalf("got %s %s", a, i)
	}
	if a, _ := MediaFilenames("abc", false); a != "miner_abc.wav" {
		t.Fatalf("got %s", a)
	}
}
