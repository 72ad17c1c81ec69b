package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/sorosurance/soro/internal/fsm"
	"github.com/sorosurance/soro/internal/ipc"
	"github.com/sorosurance/soro/internal/session"
	"github.com/sorosurance/soro/internal/store"
)

const (
	journalTimeout = 2 * time.Second
	drainTimeout   = time.Second
)

// ErrRunnerUsed is returned when Run is called a second time.
var ErrRunnerUsed = errors.New("runner already ran a session")

type action int

const (
	actionStop action = iota + 1
	actionCancel
)

// Recorder persists finished sessions.
type Recorder interface {
	Record(context.Context, store.Entry) error
}

// Outcome is what one Run produced.
type Outcome struct {
	Snapshot session.Snapshot
	// Cancelled is set when the session was disposed before settling.
	Cancelled bool
	// StopSource names what ended listening: ipc, stdin, or max_duration.
	StopSource string
}

// Runner drives one capture session from start to a terminal state.
type Runner struct {
	Gateway  session.Gateway
	Uploader session.Uploader
	Listener session.Listener
	Journal  Recorder
	Logger   *slog.Logger
	Options  []session.Option

	// MaxDuration stops listening automatically; zero disables the limit.
	MaxDuration time.Duration
	// Stdin, when set, stops listening on the first line read.
	Stdin io.Reader

	mu              sync.Mutex
	current         *session.Session
	stopRequested   bool
	cancelRequested bool
	stopSource      string
	actions         chan action
	now             func() time.Time
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.Logger
}

// Run starts a session and blocks until it completes, fails, or is cancelled.
// Cancelling ctx disposes the session.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	listening := make(chan struct{})
	var listeningOnce sync.Once
	observer := session.ListenerFunc(func(n session.Notification) {
		if n.State == fsm.StateListening {
			listeningOnce.Do(func() { close(listening) })
		}
	})

	opts := slices.Clone(r.Options)
	opts = append(opts, session.WithListener(session.Listeners(r.Listener, observer)))
	if r.Logger != nil {
		opts = append(opts, session.WithLogger(r.Logger))
	}

	r.mu.Lock()
	if r.current != nil {
		r.mu.Unlock()
		return Outcome{}, ErrRunnerUsed
	}
	s := session.New(r.Gateway, r.Uploader, opts...)
	r.current = s
	// One slot each for a stop and a cancel; both are sent at most once.
	r.actions = make(chan action, 2)
	if r.now == nil {
		r.now = time.Now
	}
	actions := r.actions
	r.mu.Unlock()
	defer s.Dispose()

	if err := s.Start(ctx); err != nil {
		return Outcome{Snapshot: s.Snapshot()}, err
	}
	var limit <-chan time.Time
	listeningCh := (<-chan struct{})(listening)
	for {
		select {
		case <-listeningCh:
			listeningCh = nil
			if r.Stdin != nil {
				go r.watchStdin(r.Stdin)
			}
			if r.MaxDuration > 0 {
				timer := time.NewTimer(r.MaxDuration)
				defer timer.Stop()
				limit = timer.C
			}
		case <-limit:
			limit = nil
			r.logger().Info("recording limit reached", "max_duration", r.MaxDuration.String())
			r.requestStop("max_duration")
		case a := <-actions:
			switch a {
			case actionStop:
				if err := s.Stop(); err != nil {
					r.logger().Warn("stop rejected", "error", err.Error())
				}
			case actionCancel:
				s.Dispose()
				return r.finish(ctx, s, true), nil
			}
		case <-s.Done():
			return r.finish(ctx, s, false), nil
		case <-ctx.Done():
			s.Dispose()
			return r.finish(ctx, s, true), nil
		}
	}
}

func (r *Runner) finish(ctx context.Context, s *session.Session, cancelled bool) Outcome {
	snap := s.Snapshot()
	select {
	case <-s.Drained():
	case <-time.After(drainTimeout):
		r.logger().Warn("listener still busy after session end", "session_id", snap.ID)
	}

	r.mu.Lock()
	out := Outcome{Snapshot: snap, Cancelled: cancelled && !snap.State.Terminal(), StopSource: r.stopSource}
	now := r.now
	r.mu.Unlock()

	if r.Journal != nil {
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
		defer cancel()
		if err := r.Journal.Record(jctx, store.EntryFromSnapshot(snap, now())); err != nil {
			r.logger().Warn("journal record failed", "session_id", snap.ID, "error", err.Error())
		}
	}
	return out
}

func (r *Runner) watchStdin(in io.Reader) {
	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		r.requestStop("stdin")
	}
}

var _ ipc.Controller = (*Runner)(nil)

// Status reports the running session, or idle before Run.
func (r *Runner) Status(context.Context) ipc.Status {
	r.mu.Lock()
	s := r.current
	r.mu.Unlock()
	if s == nil {
		return ipc.Status{State: string(fsm.StateIdle)}
	}
	snap := s.Snapshot()
	return ipc.Status{
		State:          string(snap.State),
		SessionID:      snap.ID,
		ElapsedSeconds: float64(snap.ElapsedSeconds),
	}
}

// Stop asks the session to stop listening and submit the recording.
func (r *Runner) Stop(context.Context) (string, error) {
	return r.requestStop("ipc")
}

// Cancel discards the session unless it already settled.
func (r *Runner) Cancel(context.Context) (string, error) {
	return r.requestCancel()
}

// requestStop enqueues a stop when the session is listening.
func (r *Runner) requestStop(source string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := fsm.StateIdle
	if r.current != nil {
		state = r.current.State()
	}
	if state != fsm.StateListening {
		return "", fmt.Errorf("cannot stop from state %s", state)
	}
	if r.stopRequested {
		return "stop already requested", nil
	}

	r.stopRequested = true
	r.stopSource = source
	r.actions <- actionStop
	return "stop requested", nil
}

// requestCancel enqueues a cancel for any non-terminal session.
func (r *Runner) requestCancel() (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current == nil {
		return "", errors.New("no session to cancel")
	}
	state := r.current.State()
	if state.Terminal() {
		return "", fmt.Errorf("cannot cancel from state %s", state)
	}

	if r.cancelRequested {
		return "cancel already requested", nil
	}
	r.cancelRequested = true
	r.actions <- actionCancel
	return "cancel requested", nil
}
