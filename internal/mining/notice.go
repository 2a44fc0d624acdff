package mining

import (
	"fmt"
	"time"
)

// NoticeKind classifies what happened.
type NoticeKind int

const (
	// NoticeStatus is a free-form status line.
	NoticeStatus NoticeKind = iota
	// NoticeSlotCaptured follows a new slot opening; Timeout holds the
	// armed idle delay.
	NoticeSlotCaptured
	// NoticeSlotSealed follows a slot receiving its audio.
	NoticeSlotSealed
	// NoticeSealedByInactivity follows an idle-timer seal.
	NoticeSealedByInactivity
	// NoticeBufferStoppedUnexpectedly tells UIs to flip their on/off state.
	NoticeBufferStoppedUnexpectedly
	// NoticeExported follows a successful export.
	NoticeExported
	// NoticeExportFailed follows a failed export; Message holds the reason.
	NoticeExportFailed
)

var noticeNames = map[NoticeKind]string{
	NoticeStatus:                    "status",
	NoticeSlotCaptured:              "slot_captured",
	NoticeSlotSealed:                "slot_sealed",
	NoticeSealedByInactivity:        "sealed_by_inactivity",
	NoticeBufferStoppedUnexpectedly: "buffer_stopped_unexpectedly",
	NoticeExported:                  "exported",
	NoticeExportFailed:              "export_failed",
}

func (k NoticeKind) String() string {
	if s, ok := noticeNames[k]; ok {
		return s
	}
	return fmt.Sprintf("notice(%d)", int(k))
}

// Notice is delivered to every subscriber.
type Notice struct {
	Kind    NoticeKind
	At      time.Time
	SlotID  string
	Message string
	Err     error
	Timeout time.Duration
	Bytes   int // audio bytes for NoticeSlotSealed
}
