package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sorosurance/soro/internal/fsm"
)

type fakeStream struct {
	chunks     chan []byte
	closeCalls atomic.Int32
	once       sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{chunks: make(chan []byte, 64)}
}

func (f *fakeStream) Chunks() <-chan []byte { return f.chunks }
func (f *fakeStream) Device() string        { return "test mic" }

func (f *fakeStream) Close() error {
	f.closeCalls.Add(1)
	f.once.Do(func() { close(f.chunks) })
	return nil
}

type fakeGateway struct {
	stream   *fakeStream
	err      error
	gate     chan struct{}
	requests atomic.Int32
}

func (g *fakeGateway) RequestStream(ctx context.Context, _ Constraints) (Stream, error) {
	g.requests.Add(1)
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return g.stream, nil
}

type fakeUploader struct {
	result Result
	err    error
	gate   chan struct{}

	mu       sync.Mutex
	uploads  []Upload
	returned chan struct{}
}

func newFakeUploader(result Result, err error) *fakeUploader {
	return &fakeUploader{result: result, err: err, returned: make(chan struct{}, 4)}
}

func (u *fakeUploader) Transcribe(_ context.Context, upload Upload) (Result, error) {
	u.mu.Lock()
	u.uploads = append(u.uploads, upload)
	u.mu.Unlock()
	if u.gate != nil {
		<-u.gate
	}
	defer func() { u.returned <- struct{}{} }()
	return u.result, u.err
}

func (u *fakeUploader) calls() []Upload {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Upload(nil), u.uploads...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu     sync.Mutex
	events []Notification
}

func (r *recorder) Notify(n Notification) {
	r.mu.Lock()
	r.events = append(r.events, n)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.events...)
}

func (r *recorder) states() []fsm.State {
	var out []fsm.State
	for _, ev := range r.snapshot() {
		if len(out) > 0 && out[len(out)-1] == ev.State {
			continue
		}
		out = append(out, ev.State)
	}
	return out
}

var errDenied = errors.New("permission denied")

func waitForState(t *testing.T, s *Session, desired fsm.State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == desired {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s (current=%s)", desired, s.State())
}

func waitDone(t *testing.T, s *Session) Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	snap, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("session did not finish: %v (state=%s)", err, snap.State)
	}
	return snap
}

func waitDrained(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Drained():
	case <-time.After(2 * time.Second):
		t.Fatalf("notifications were not drained")
	}
}
