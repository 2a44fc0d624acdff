package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/vnminer/agent/internal/mining"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		notice mining.Notice
		want   string
		ok     bool
	}{
		{mining.Notice{Kind: mining.NoticeExported, SlotID: "ab12cd34"}, "Card updated with slot ab12cd34", true},
		{mining.Notice{Kind: mining.NoticeExportFailed, Message: "no card added today in this deck"}, "Export failed: no card added today in this deck", true},
		{mining.Notice{Kind: mining.NoticeBufferStoppedUnexpectedly, Message: "device unplugged"}, "Audio buffer stopped: device unplugged", true},
		{mining.Notice{Kind: mining.NoticeSlotCaptured}, "", false},
		{mining.Notice{Kind: mining.NoticeStatus, Message: "Buffer running..."}, "", false},
	}
	for _, tt := range tests {
		got, ok := message(tt.notice)
		if got != tt.want || ok != tt.ok {
			t.Errorf("message(%s) = %q, %v; want %q, %v", tt.notice.Kind, got, ok, tt.want, tt.ok)
		}
	}
}

func TestHookDelivers(t *testing.T) {
	type sent struct{ title, msg string }
	ch := make(chan sent, 4)
	n := New("")
	n.send = func(title, message string) error {
		ch <- sent{title, message}
		return errors.New("no notification daemon")
	}

	n.Hook(mining.Notice{Kind: mining.NoticeSlotSealed})
	n.Hook(mining.Notice{Kind: mining.NoticeExported, SlotID: "x"})

	select {
	case s := <-ch:
		if s.title != defaultTitle || s.msg != "Card updated with slot x" {
			t.Fatalf("sent %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nothing delivered")
	}
	select {
	case s := <-ch:
		t.Fatalf("unexpected delivery %+v", s)
	case <-time.After(50 * time.Millisecond):
	}
}
