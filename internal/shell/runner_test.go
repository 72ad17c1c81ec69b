package shell

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sorosurance/soro/internal/audio"
	"github.com/sorosurance/soro/internal/fsm"
	"github.com/sorosurance/soro/internal/ipc"
	"github.com/sorosurance/soro/internal/session"
	"github.com/sorosurance/soro/internal/store"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type memJournal struct {
	mu      sync.Mutex
	entries []store.Entry
	err     error
}

func (j *memJournal) Record(_ context.Context, e store.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return j.err
}

func (j *memJournal) all() []store.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]store.Entry(nil), j.entries...)
}

func claimUploader(transcript string) session.Uploader {
	return session.UploaderFunc(func(context.Context, session.Upload) (session.Result, error) {
		return session.Result{
			Transcript:     transcript,
			Keywords:       []string{"claim"},
			Sentiment:      session.SentimentNeutral,
			SentimentScore: 0,
		}, nil
	})
}

type runResult struct {
	out Outcome
	err error
}

func runAsync(ctx context.Context, r *Runner) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		out, err := r.Run(ctx)
		done <- runResult{out: out, err: err}
	}()
	return done
}

func waitForState(t *testing.T, r *Runner, want fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return ipc.Dispatch(context.Background(), r, ipc.Request{Command: ipc.CommandStatus}).State == string(want)
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunnerStopViaIPCCompletes(t *testing.T) {
	out := &syncBuffer{}
	journal := &memJournal{}
	r := &Runner{
		Gateway:  audio.SimulatedGateway{Interval: 5 * time.Millisecond},
		Uploader: claimUploader("this is a test claim"),
		Listener: NewTerminal(out),
		Journal:  journal,
	}

	done := runAsync(context.Background(), r)
	waitForState(t, r, fsm.StateListening)

	status := ipc.Dispatch(context.Background(), r, ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.OK)
	require.NotEmpty(t, status.SessionID)

	resp := ipc.Dispatch(context.Background(), r, ipc.Request{Command: ipc.CommandStop})
	require.True(t, resp.OK)
	require.Equal(t, "stop requested", resp.Message)

	res := <-done
	require.NoError(t, res.err)
	require.False(t, res.out.Cancelled)
	require.Equal(t, "ipc", res.out.StopSource)
	require.Equal(t, fsm.StateCompleted, res.out.Snapshot.State)
	require.Equal(t, "this is a test claim", res.out.Snapshot.Result.Transcript)

	entries := journal.all()
	require.Len(t, entries, 1)
	require.Equal(t, "completed", entries[0].State)
	require.Equal(t, status.SessionID, entries[0].ID)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "✓ completed")
	}, time.Second, 5*time.Millisecond)
	rendered := out.String()
	require.Contains(t, rendered, "● listening 00:00")
	require.Contains(t, rendered, "⟳ processing")
	require.Contains(t, rendered, "transcript: this is a test claim")
	require.Contains(t, rendered, "keywords: claim")
}

func TestRunnerStopFromIdleRejectedThenCancel(t *testing.T) {
	journal := &memJournal{}
	r := &Runner{
		Gateway:  audio.SimulatedGateway{GrantDelay: time.Hour},
		Uploader: claimUploader("unused"),
		Journal:  journal,
	}

	done := runAsync(context.Background(), r)
	require.Eventually(t, func() bool {
		return ipc.Dispatch(context.Background(), r, ipc.Request{Command: ipc.CommandStatus}).SessionID != ""
	}, time.Second, 5*time.Millisecond)

	stop := ipc.Dispatch(context.Background(), r, ipc.Request{Command: ipc.CommandStop})
	require.False(t, stop.OK)
	require.Equal(t, "cannot stop from state idle", stop.Error)

	cancel := ipc.Dispatch(context.Background(), r, ipc.Request{Command: ipc.CommandCancel})
	require.True(t, cancel.OK)
	again := ipc.Dispatch(context.Background(), r, ipc.Request{Command: ipc.CommandCancel})
	require.Equal(t, "cancel already requested", again.Message)

	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.out.Cancelled)
	require.True(t, res.out.Snapshot.Disposed)
	require.Equal(t, fsm.StateIdle, res.out.Snapshot.State)

	entries := journal.all()
	require.Len(t, entries, 1)
	require.Equal(t, "cancelled", entries[0].State)
}

func TestRunnerMaxDurationStops(t *testing.T) {
	r := &Runner{
		Gateway:     audio.SimulatedGateway{Interval: 5 * time.Millisecond},
		Uploader:    claimUploader("flood damage in Lekki"),
		MaxDuration: 40 * time.Millisecond,
	}

	res := <-runAsync(context.Background(), r)
	require.NoError(t, res.err)
	require.Equal(t, "max_duration", res.out.StopSource)
	require.Equal(t, fsm.StateCompleted, res.out.Snapshot.State)
}

func TestRunnerStdinLineStops(t *testing.T) {
	r := &Runner{
		Gateway:  audio.SimulatedGateway{Interval: 5 * time.Millisecond},
		Uploader: claimUploader("my okada was stolen"),
		Stdin:    strings.NewReader("\n"),
	}

	res := <-runAsync(context.Background(), r)
	require.NoError(t, res.err)
	require.Equal(t, "stdin", res.out.StopSource)
	require.Equal(t, fsm.StateCompleted, res.out.Snapshot.State)
}

func TestRunnerDeviceDenied(t *testing.T) {
	out := &syncBuffer{}
	journal := &memJournal{}
	r := &Runner{
		Gateway:  audio.SimulatedGateway{Deny: true},
		Uploader: claimUploader("unused"),
		Listener: NewTerminal(out),
		Journal:  journal,
	}

	res := <-runAsync(context.Background(), r)
	require.NoError(t, res.err)
	require.False(t, res.out.Cancelled)
	require.Equal(t, fsm.StateFailed, res.out.Snapshot.State)
	require.ErrorIs(t, res.out.Snapshot.Err, session.ErrDeviceUnavailable)
	require.ErrorIs(t, res.out.Snapshot.Err, audio.ErrPermissionDenied)

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "microphone unavailable: microphone permission denied")
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "DeviceUnavailable", journal.all()[0].ErrorKind)
}

func TestRunnerUploadFailure(t *testing.T) {
	r := &Runner{
		Gateway: audio.SimulatedGateway{Interval: 5 * time.Millisecond},
		Uploader: session.UploaderFunc(func(context.Context, session.Upload) (session.Result, error) {
			return session.Result{}, errors.New("HTTP 502: bad gateway")
		}),
		MaxDuration: 20 * time.Millisecond,
	}

	res := <-runAsync(context.Background(), r)
	require.NoError(t, res.err)
	require.Equal(t, fsm.StateFailed, res.out.Snapshot.State)
	require.Equal(t, session.KindUploadFailed, res.out.Snapshot.Err.Kind)
	require.Nil(t, res.out.Snapshot.Result)
}

func TestRunnerContextCancelDisposes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		Gateway:  audio.SimulatedGateway{Interval: 5 * time.Millisecond},
		Uploader: claimUploader("unused"),
	}

	done := runAsync(ctx, r)
	waitForState(t, r, fsm.StateListening)
	cancel()

	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.out.Cancelled)
	require.True(t, res.out.Snapshot.Disposed)
	require.Equal(t, fsm.StateListening, res.out.Snapshot.State)
}

func TestRunnerRunsOnce(t *testing.T) {
	r := &Runner{
		Gateway:     audio.SimulatedGateway{Interval: 5 * time.Millisecond},
		Uploader:    claimUploader("once"),
		MaxDuration: 10 * time.Millisecond,
	}

	res := <-runAsync(context.Background(), r)
	require.NoError(t, res.err)

	_, err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrRunnerUsed)
}

func TestDispatchWithoutSession(t *testing.T) {
	r := &Runner{}

	status := ipc.Dispatch(context.Background(), r, ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.OK)
	require.Equal(t, "idle", status.State)

	stop := ipc.Dispatch(context.Background(), r, ipc.Request{Command: ipc.CommandStop})
	require.False(t, stop.OK)
	require.Equal(t, "cannot stop from state idle", stop.Error)

	cancel := ipc.Dispatch(context.Background(), r, ipc.Request{Command: ipc.CommandCancel})
	require.False(t, cancel.OK)

	unknown := ipc.Dispatch(context.Background(), r, ipc.Request{Command: "toggle"})
	require.False(t, unknown.OK)
	require.Equal(t, "unknown command: toggle", unknown.Error)
}

func TestRunnerAnswersOverSessionSocket(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), ipc.SocketName)
	owner, err := ipc.Acquire(context.Background(), socketPath, 50*time.Millisecond, 0)
	require.NoError(t, err)

	r := &Runner{
		Gateway:  audio.SimulatedGateway{Interval: 5 * time.Millisecond},
		Uploader: claimUploader("water damage in the kitchen"),
	}
	serveCtx, stopServe := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() { serveDone <- ipc.Serve(serveCtx, owner, r) }()

	done := runAsync(context.Background(), r)
	waitForState(t, r, fsm.StateListening)

	status, alive, err := ipc.QueryStatus(context.Background(), socketPath, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, alive)
	require.Equal(t, "listening", status.State)
	require.NotEmpty(t, status.SessionID)

	_, err = ipc.Acquire(context.Background(), socketPath, 50*time.Millisecond, 0)
	require.ErrorContains(t, err, status.SessionID)

	resp, err := ipc.Send(context.Background(), socketPath, ipc.CommandStop, 200*time.Millisecond)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, status.SessionID, resp.SessionID)

	res := <-done
	require.NoError(t, res.err)
	require.Equal(t, fsm.StateCompleted, res.out.Snapshot.State)
	require.Equal(t, "ipc", res.out.StopSource)

	stopServe()
	require.NoError(t, <-serveDone)
	_, alive, err = ipc.QueryStatus(context.Background(), socketPath, 100*time.Millisecond)
	require.NoError(t, err)
	require.False(t, alive)
}
