package shell

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sorosurance/soro/internal/fsm"
	"github.com/sorosurance/soro/internal/session"
)

func TestClock(t *testing.T) {
	require.Equal(t, "00:00", Clock(0))
	require.Equal(t, "00:12", Clock(12))
	require.Equal(t, "02:05", Clock(125))
	require.Equal(t, "00:00", Clock(-3))
}

func TestMeterCells(t *testing.T) {
	require.Equal(t, 0, MeterCells(-96))
	require.Equal(t, 0, MeterCells(-60))
	require.Equal(t, 5, MeterCells(-30))
	require.Equal(t, 10, MeterCells(0))
	require.Equal(t, 10, MeterCells(math.Inf(1)))
	require.Equal(t, 0, MeterCells(math.NaN()))
}

func TestReason(t *testing.T) {
	require.Equal(t, "unknown error", Reason(nil))
	require.Equal(t,
		"microphone unavailable: no such device",
		Reason(&session.Error{Kind: session.KindDeviceUnavailable, Err: errors.New("no such device")}),
	)
	require.Equal(t,
		"could not process the recording: HTTP 500: boom",
		Reason(&session.Error{Kind: session.KindUploadFailed, Err: errors.New("HTTP 500: boom")}),
	)
	require.Equal(t,
		"cannot stop from state idle",
		Reason(&session.Error{Kind: session.KindInvalidState, Err: errors.New("cannot stop from state idle")}),
	)
}

func TestTerminalSkipsRepeatedTicks(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out)

	term.Notify(session.Notification{State: fsm.StateListening, ElapsedSeconds: 0, LevelDBFS: -96})
	term.Notify(session.Notification{State: fsm.StateListening, ElapsedSeconds: 0, LevelDBFS: -20})
	term.Notify(session.Notification{State: fsm.StateListening, ElapsedSeconds: 1, LevelDBFS: -30})
	term.Notify(session.Notification{State: fsm.StateProcessing, ElapsedSeconds: 1})

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "● listening 00:00  ░░░░░░░░░░", lines[0])
	require.Equal(t, "● listening 00:01  █████░░░░░", lines[1])
	require.Equal(t, "⟳ processing 00:01 recorded", lines[2])
}

func TestTerminalRendersOutcome(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out)

	term.Notify(session.Notification{State: fsm.StateCompleted, ElapsedSeconds: 12, Result: &session.Result{
		Transcript:     "this is a test claim",
		Keywords:       []string{"claim"},
		Sentiment:      session.SentimentNeutral,
		SentimentScore: 0,
	}})
	require.Equal(t,
		"✓ completed\n  transcript: this is a test claim\n  keywords: claim\n  sentiment: neutral (+0.00)\n",
		out.String(),
	)

	out.Reset()
	failed := NewTerminal(&out)
	failed.Notify(session.Notification{State: fsm.StateFailed, Err: &session.Error{
		Kind: session.KindUploadFailed,
		Err:  errors.New("HTTP 503: unavailable"),
	}})
	require.Equal(t, "✕ failed could not process the recording: HTTP 503: unavailable\n", out.String())
}

func TestTerminalIgnoresIdle(t *testing.T) {
	var out bytes.Buffer
	NewTerminal(&out).Notify(session.Notification{State: fsm.StateIdle, ElapsedSeconds: 3})
	require.Empty(t, out.String())
}
