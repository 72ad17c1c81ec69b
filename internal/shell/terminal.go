// Package shell presents a capture session in the terminal and relays
// stop and cancel intents to it.
package shell

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/sorosurance/soro/internal/fsm"
	"github.com/sorosurance/soro/internal/session"
)

const meterCells = 10

type styles struct {
	listening lipgloss.Style
	working   lipgloss.Style
	done      lipgloss.Style
	failed    lipgloss.Style
	label     lipgloss.Style
	dim       lipgloss.Style
	meterLow  lipgloss.Style
	meterHigh lipgloss.Style
	meterOff  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		listening: r.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
		working:   r.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		done:      r.NewStyle().Foreground(lipgloss.Color("#00FF00")).Bold(true),
		failed:    r.NewStyle().Foreground(lipgloss.Color("#FF0000")).Bold(true),
		label:     r.NewStyle().Foreground(lipgloss.Color("#00FFFF")),
		dim:       r.NewStyle().Foreground(lipgloss.Color("#666666")),
		meterLow:  r.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		meterHigh: r.NewStyle().Foreground(lipgloss.Color("#FFFF00")),
		meterOff:  r.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}

// Terminal renders session notifications as one styled line each.
// Repeated notifications with the same state and elapsed second are skipped.
type Terminal struct {
	out    io.Writer
	styles styles

	mu      sync.Mutex
	state   fsm.State
	elapsed int
}

// NewTerminal writes to out; colors are dropped when out is not a TTY.
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{
		out:     out,
		styles:  newStyles(lipgloss.NewRenderer(out)),
		elapsed: -1,
	}
}

func (t *Terminal) Notify(n session.Notification) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n.State == t.state && n.ElapsedSeconds == t.elapsed {
		return
	}
	t.state = n.State
	t.elapsed = n.ElapsedSeconds

	var line string
	switch n.State {
	case fsm.StateListening:
		line = t.styles.listening.Render("● listening") + " " +
			Clock(n.ElapsedSeconds) + "  " + t.meter(n.LevelDBFS)
	case fsm.StateProcessing:
		line = t.styles.working.Render("⟳ processing") + " " +
			t.styles.dim.Render(Clock(n.ElapsedSeconds)+" recorded")
	case fsm.StateCompleted:
		line = t.completed(n.Result)
	case fsm.StateFailed:
		line = t.styles.failed.Render("✕ failed") + " " + Reason(n.Err)
	default:
		return
	}
	_, _ = fmt.Fprintln(t.out, line)
}

func (t *Terminal) completed(result *session.Result) string {
	var b strings.Builder
	b.WriteString(t.styles.done.Render("✓ completed"))
	if result == nil {
		return b.String()
	}
	transcript := result.Transcript
	if transcript == "" {
		transcript = t.styles.dim.Render("(empty transcript)")
	}
	fmt.Fprintf(&b, "\n  %s %s", t.styles.label.Render("transcript:"), transcript)
	if len(result.Keywords) > 0 {
		fmt.Fprintf(&b, "\n  %s %s", t.styles.label.Render("keywords:"), strings.Join(result.Keywords, ", "))
	}
	fmt.Fprintf(&b, "\n  %s %s (%+.2f)", t.styles.label.Render("sentiment:"), result.Sentiment, result.SentimentScore)
	return b.String()
}

func (t *Terminal) meter(dbfs float64) string {
	filled := MeterCells(dbfs)
	var b strings.Builder
	for i := 0; i < meterCells; i++ {
		switch {
		case i >= filled:
			b.WriteString(t.styles.meterOff.Render("░"))
		case i >= meterCells*7/10:
			b.WriteString(t.styles.meterHigh.Render("█"))
		default:
			b.WriteString(t.styles.meterLow.Render("█"))
		}
	}
	return b.String()
}

// MeterCells maps a level between -60 and 0 dBFS onto the meter width.
func MeterCells(dbfs float64) int {
	const floor = -60.0
	if math.IsNaN(dbfs) || dbfs <= floor {
		return 0
	}
	if dbfs >= 0 {
		return meterCells
	}
	return int(math.Round((dbfs - floor) / -floor * meterCells))
}

// Clock renders whole seconds as mm:ss.
func Clock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// Reason renders a session failure for people rather than logs.
func Reason(err *session.Error) string {
	if err == nil {
		return "unknown error"
	}
	cause := "unknown error"
	if err.Err != nil {
		cause = err.Err.Error()
	}
	switch err.Kind {
	case session.KindDeviceUnavailable:
		return "microphone unavailable: " + cause
	case session.KindUploadFailed:
		return "could not process the recording: " + cause
	default:
		return cause
	}
}
