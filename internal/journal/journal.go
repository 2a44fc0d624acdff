// Package journal appends the session's mining events to a JSONL file so a
// session can be reviewed after the console is closed.
package journal

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnminer/agent/internal/logging"
	"github.com/vnminer/agent/internal/mining"
)

var log = logging.L("journal")

// FileName is the journal file inside the data directory.
const FileName = "session.jsonl"

// queueSize bounds the entries waiting for the writer goroutine.
const queueSize = 256

// Event types not produced by the orchestrator.
const (
	EventSessionOpened = "session_opened"
	EventSessionClosed = "session_closed"
	EventRotated       = "journal_rotated"
)

// durable events are fsynced after writing.
var durable = map[string]bool{
	mining.NoticeExported.String():                  true,
	mining.NoticeBufferStoppedUnexpectedly.String(): true,
	EventSessionClosed:                              true,
}

// Entry is one journal record.
type Entry struct {
	Seq       int64  `json:"seq"`
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	SlotID    string `json:"slotId,omitempty"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	AudioSize int    `json:"audioBytes,omitempty"`
}

// Journal writes entries through a rotating file. Record hands entries to a
// writer goroutine so subscribers never wait on the disk. All methods are
// safe on a nil receiver so a disabled journal needs no checks at call sites.
type Journal struct {
	mu      sync.Mutex
	w       *logging.RotatingWriter
	seq     int64
	now     func() time.Time
	rotated atomic.Bool
	dropped atomic.Int64

	sendMu     sync.RWMutex
	closed     bool
	queue      chan Entry
	writerDone chan struct{}
	closeOnce  sync.Once
}

// Open creates or appends to {dir}/session.jsonl.
func Open(dir string, maxSizeMB, maxBackups int) (*Journal, error) {
	w, err := logging.NewRotatingWriter(filepath.Join(dir, FileName), maxSizeMB, maxBackups)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{
		w:          w,
		now:        time.Now,
		queue:      make(chan Entry, queueSize),
		writerDone: make(chan struct{}),
	}
	// Called under the writer lock; the marker is written by the next Log.
	w.OnRotate(func() { j.rotated.Store(true) })

	log.Info("session journal opened", "path", w.Path())
	j.Log(Entry{Event: EventSessionOpened})
	go j.writer()
	return j, nil
}

func (j *Journal) writer() {
	defer close(j.writerDone)
	for e := range j.queue {
		j.Log(e)
	}
}

// Path returns the active journal file.
func (j *Journal) Path() string {
	if j == nil {
		return ""
	}
	return j.w.Path()
}

// Record is a mining subscriber: it journals every notice except plain
// status lines, which only mirror other events. It never blocks; when the
// writer falls behind by more than queueSize entries the notice is dropped
// and counted.
func (j *Journal) Record(n mining.Notice) {
	if j == nil || n.Kind == mining.NoticeStatus {
		return
	}
	e := Entry{
		Event:     n.Kind.String(),
		SlotID:    n.SlotID,
		Message:   n.Message,
		AudioSize: n.Bytes,
	}
	if n.Err != nil {
		e.Error = n.Err.Error()
	}
	if !n.At.IsZero() {
		e.Timestamp = n.At.UTC().Format(time.RFC3339Nano)
	}
	j.enqueue(e)
}

func (j *Journal) enqueue(e Entry) {
	j.sendMu.RLock()
	defer j.sendMu.RUnlock()
	if j.closed {
		j.dropped.Add(1)
		return
	}
	select {
	case j.queue <- e:
	default:
		j.dropped.Add(1)
		log.Warn("journal writer behind, entry dropped", "event", e.Event)
	}
}

// Log appends e synchronously, filling in Seq and a missing Timestamp. The
// sequence only advances after a successful write.
func (j *Journal) Log(e Entry) {
	if j == nil {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.rotated.Swap(false) {
		j.write(Entry{Event: EventRotated})
	}
	j.write(e)
}

func (j *Journal) write(e Entry) {
	e.Seq = j.seq + 1
	if e.Timestamp == "" {
		e.Timestamp = j.now().UTC().Format(time.RFC3339Nano)
	}
	data, err := json.Marshal(e)
	if err != nil {
		log.Error("failed to marshal journal entry", logging.KeyError, err, "event", e.Event)
		j.dropped.Add(1)
		return
	}
	data = append(data, '\n')

	if _, err := j.w.Write(data); err != nil {
		log.Error("failed to write journal entry", logging.KeyError, err, "event", e.Event)
		j.dropped.Add(1)
		return
	}
	j.seq = e.Seq

	if durable[e.Event] {
		if err := j.w.Sync(); err != nil {
			log.Warn("failed to fsync journal", logging.KeyError, err)
		}
	}
}

// Close flushes queued entries, writes the closing entry and closes the
// file. Later calls return nil.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var err error
	j.closeOnce.Do(func() {
		j.sendMu.Lock()
		j.closed = true
		close(j.queue)
		j.sendMu.Unlock()
		<-j.writerDone

		j.Log(Entry{Event: EventSessionClosed})
		err = j.w.Close()
	})
	return err
}

// DroppedCount returns the number of entries that were dropped or failed to
// write, or -1 for a nil journal.
func (j *Journal) DroppedCount() int64 {
	if j == nil {
		return -1
	}
	return j.dropped.Load()
}
