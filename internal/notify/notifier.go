// Package notify shows desktop notifications for mining events the user
// should see while the game window has focus.
package notify

import (
	"github.com/gen2brain/beeep"

	"github.com/vnminer/agent/internal/logging"
	"github.com/vnminer/agent/internal/mining"
)

var log = logging.L("notify")

const defaultTitle = "VN Miner"

// Notifier posts a desktop notification for exports and capture failures.
type Notifier struct {
	title string
	send  func(title, message string) error
}

// New creates a notifier using the platform notification service.
func New(title string) *Notifier {
	if title == "" {
		title = defaultTitle
	}
	return &Notifier{
		title: title,
		send: func(title, message string) error {
			return beeep.Notify(title, message, "")
		},
	}
}

// Hook is a mining subscriber. Delivery happens on its own goroutine so a
// slow notification daemon never holds up the run loop.
func (n *Notifier) Hook(ev mining.Notice) {
	msg, ok := message(ev)
	if !ok {
		return
	}
	go n.deliver(msg)
}

func message(ev mining.Notice) (string, bool) {
	switch ev.Kind {
	case mining.NoticeExported:
		return "Card updated with slot " + ev.SlotID, true
	case mining.NoticeExportFailed:
		return "Export failed: " + ev.Message, true
	case mining.NoticeBufferStoppedUnexpectedly:
		return "Audio buffer stopped: " + ev.Message, true
	}
	return "", false
}

func (n *Notifier) deliver(msg string) {
	if err := n.send(n.title, msg); err != nil {
		log.Debug("desktop notification failed", logging.KeyError, err)
	}
}
