package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"

	"github.com/vnminer/agent/internal/anki"
	"github.com/vnminer/agent/internal/health"
	"github.com/vnminer/agent/internal/logging"
	"github.com/vnminer/agent/internal/mining"
)

// miner is the part of the orchestrator the console drives.
type miner interface {
	Start(deviceID string) error
	Stop() error
	DeleteSlot(id string) error
	EndSession() error
	Slots() []*mining.Slot
	Snapshot() mining.Snapshot
	ExportAsync(id string, cfg mining.ExportConfig) error
}

type deckLister interface {
	DeckNames(ctx context.Context) ([]string, error)
}

type hookSwitch interface {
	Active() string
	SetActive(kind string) error
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5FD787"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFAF00"))
	errStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5F5F"))
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
)

const previewRunes = 40

var helpText = `Commands:
  list                 show captured slots, newest first
  export <id|latest>   attach a slot's audio and screenshot to the newest card
  delete <id>          discard a slot
  start [device]       start buffering
  stop                 stop buffering
  stats                reading time and speed
  status               buffer, hook and Anki health
  end                  stop and discard the whole session
  decks                list Anki decks
  deck <name>          choose the export deck for this session
  hook <type>          switch text hook (clipboard, websocket); applies on next start
  log <level>          change the log file level (debug, info, warn, error)
  help                 this text
  quit                 exit
`

type console struct {
	miner  miner
	decks  deckLister
	hooks  hookSwitch
	health *health.Monitor

	mu     sync.Mutex // serializes output and guards export
	out    io.Writer
	export mining.ExportConfig
}

func newConsole(m miner, decks deckLister, hooks hookSwitch, mon *health.Monitor, export mining.ExportConfig, out io.Writer) *console {
	return &console{miner: m, decks: decks, hooks: hooks, health: mon, export: export, out: out}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// printNotice is a mining subscriber.
func (c *console) printNotice(n mining.Notice) {
	var line string
	switch n.Kind {
	case mining.NoticeSlotSealed:
		return
	case mining.NoticeSlotCaptured:
		line = okStyle.Render(fmt.Sprintf("[%s] %s", n.SlotID, n.Message))
	case mining.NoticeExported:
		line = okStyle.Render(fmt.Sprintf("[%s] %s", n.SlotID, n.Message))
	case mining.NoticeExportFailed:
		line = errStyle.Render(fmt.Sprintf("[%s] export failed: %s", n.SlotID, n.Message))
	case mining.NoticeBufferStoppedUnexpectedly:
		line = errStyle.Render("Buffer stopped unexpectedly. Type 'start' to resume.")
	case mining.NoticeSealedByInactivity:
		line = dimStyle.Render(n.Message)
	default:
		if n.Err != nil {
			line = warnStyle.Render(n.Message)
		} else {
			line = n.Message
		}
	}
	c.printf("%s %s\n", dimStyle.Render(n.At.Format("15:04:05")), line)
}

// run reads commands until quit, EOF or ctx is cancelled.
func (c *console) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := c.exec(ctx, line); quit {
				return nil
			}
		}
	}
}

// exec runs one command line and reports whether the console should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	arg := strings.Join(args, " ")

	switch cmd {
	case "quit", "exit", "q":
		return true
	case "help", "?":
		c.printf("%s", helpText)
	case "list", "ls":
		c.list()
	case "export", "x":
		id := arg
		if id == "" {
			id = "latest"
		}
		c.mu.Lock()
		cfg := c.export
		c.mu.Unlock()
		if err := c.miner.ExportAsync(id, cfg); err != nil {
			c.printf("%s\n", errStyle.Render(err.Error()))
		} else {
			c.printf("Exporting %s...\n", id)
		}
	case "delete", "rm":
		if arg == "" {
			c.printf("usage: delete <id>\n")
			return false
		}
		if err := c.miner.DeleteSlot(arg); err != nil {
			c.printf("%s\n", errStyle.Render(err.Error()))
		}
	case "start":
		// Failures are reported through the status notice.
		c.miner.Start(arg)
	case "stop":
		c.miner.Stop()
	case "stats":
		c.stats()
	case "status":
		c.status()
	case "end":
		c.miner.EndSession()
	case "decks":
		c.listDecks(ctx)
	case "deck":
		if arg == "" {
			c.mu.Lock()
			deck := c.export.Deck
			c.mu.Unlock()
			c.printf("deck: %q\n", deck)
			return false
		}
		c.mu.Lock()
		c.export.Deck = arg
		c.mu.Unlock()
		c.printf("Exporting to deck %q.\n", arg)
	case "hook":
		if arg == "" {
			c.printf("hook: %s\n", c.hooks.Active())
			return false
		}
		if err := c.hooks.SetActive(arg); err != nil {
			c.printf("%s\n", errStyle.Render(err.Error()))
			return false
		}
		c.printf("Text hook set to %s; restart the buffer to apply.\n", arg)
	case "log":
		if arg != "" {
			logging.SetLevel(arg)
		}
		c.printf("log level: %s\n", logging.Level())
	default:
		c.printf("unknown command %q, type 'help'\n", cmd)
	}
	return false
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	return string([]rune(text)[:previewRunes]) + "…"
}

func slotState(s *mining.Slot) string {
	switch {
	case s.IsOpen():
		return "open"
	case s.Exporting():
		return "exporting"
	case len(s.Audio()) == 0:
		return "no audio"
	default:
		return fmt.Sprintf("%.0f KB", float64(len(s.Audio()))/1024)
	}
}

func (c *console) list() {
	slots := c.miner.Slots()
	if len(slots) == 0 {
		c.printf("No slots yet.\n")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTIME\tAUDIO\tSHOT\tTEXT")
	for _, s := range slots {
		shot := "-"
		if len(s.Screenshot()) > 0 {
			shot = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.DisplayTime(), slotState(s), shot, preview(s.Text))
	}
	tw.Flush()
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func (c *console) stats() {
	st := c.miner.Snapshot().Tracker
	state := "paused"
	if st.Tracking {
		state = "tracking"
	}
	c.printf("Time %s (%s)  Chars %d  Speed %.1f/min  %.0f/h\n",
		formatElapsed(st.Elapsed), state, st.Characters, st.CharsPerMinute, st.CharsPerHour)
}

func renderStatus(s health.Status) string {
	switch s {
	case health.Healthy:
		return okStyle.Render(string(s))
	case health.Degraded:
		return warnStyle.Render(string(s))
	case health.Unhealthy:
		return errStyle.Render(string(s))
	}
	return dimStyle.Render(string(s))
}

func (c *console) status() {
	snap := c.miner.Snapshot()
	buffer := "stopped"
	if snap.Running {
		buffer = fmt.Sprintf("running (%ds window)", snap.Settings.BufferSeconds)
	}
	c.printf("Buffer: %s  State: %s  Slots: %d/%d  Hook: %s\n",
		buffer, snap.State, snap.Slots, snap.Settings.MaxSlots, c.hooks.Active())
	if snap.OpenSlot != "" {
		c.printf("Open slot: %s\n", snap.OpenSlot)
	}

	c.printf("Health: %s\n", renderStatus(c.health.Overall()))
	for _, check := range c.health.All() {
		msg := check.Message
		if msg == "" {
			msg = "-"
		}
		c.printf("  %-6s %s  %s\n", check.Name, renderStatus(check.Status), msg)
	}
}

func (c *console) listDecks(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	decks, err := c.decks.DeckNames(ctx)
	if err != nil {
		c.printf("%s\n", errStyle.Render(anki.Describe(err)))
		return
	}
	sort.Strings(decks)
	for _, d := range decks {
		c.printf("  %s\n", d)
	}
}
