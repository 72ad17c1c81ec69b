// Package session drives one voice capture attempt from start to a transcript or a failure.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sorosurance/soro/internal/fsm"
	"github.com/sorosurance/soro/internal/pcm"
)

const (
	defaultTickInterval  = time.Second
	defaultUploadTimeout = 30 * time.Second
)

// Option customizes a Session at construction time.
type Option func(*Session)

// WithLogger sets the logger; nil keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithListener registers the receiver of every state notification.
func WithListener(listener Listener) Option {
	return func(s *Session) { s.listener = listener }
}

// WithConstraints sets the microphone request.
func WithConstraints(c Constraints) Option {
	return func(s *Session) { s.constraints = c }
}

// WithLanguageHint sets the language hint sent with the upload.
func WithLanguageHint(hint string) Option {
	return func(s *Session) { s.language = hint }
}

// WithClock replaces time.Now for elapsed-time tracking.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickInterval sets how often a listening session re-notifies.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithUploadTimeout bounds the upload request.
func WithUploadTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.uploadTimeout = d
		}
	}
}

// WithID overrides the generated session ID.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// Snapshot is a consistent read of session state.
type Snapshot struct {
	ID             string
	State          fsm.State
	StartedAt      time.Time
	ElapsedSeconds int
	ChunkCount     int
	Device         string
	Artifact       *Artifact
	Result         *Result
	Err            *Error
	Disposed       bool
}

// Session owns one recording-to-result attempt. It is not reusable.
type Session struct {
	id            string
	logger        *slog.Logger
	listener      Listener
	gateway       Gateway
	uploader      Uploader
	constraints   Constraints
	language      string
	now           func() time.Time
	tick          time.Duration
	uploadTimeout time.Duration

	notify *notifier

	mu        sync.Mutex
	state     fsm.State
	requested bool
	stopping  bool
	disposed  bool
	seq       int64
	stream    Stream
	device    string
	startedAt time.Time
	frozen    int
	chunks    [][]byte
	level     float64
	artifact  *Artifact
	result    *Result
	err       *Error

	tickerStop chan struct{}
	pumpDone   chan struct{}

	done     chan struct{}
	doneOnce sync.Once
}

// New constructs an idle session bound to one gateway and one uploader.
func New(gateway Gateway, uploader Uploader, opts ...Option) *Session {
	s := &Session{
		id:            uuid.NewString(),
		logger:        slog.New(slog.DiscardHandler),
		gateway:       gateway,
		uploader:      uploader,
		constraints:   DefaultConstraints(),
		now:           time.Now,
		tick:          defaultTickInterval,
		uploadTimeout: defaultUploadTimeout,
		state:         fsm.StateIdle,
		level:         pcm.SilenceDBFS,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.notify = newNotifier(s.listener)
	s.logger = s.logger.With("session_id", s.id)
	return s
}

func (s *Session) ID() string {
	return s.id
}

// State returns the current FSM state.
func (s *Session) State() fsm.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Elapsed returns whole seconds since listening began, frozen once Stop is called.
func (s *Session) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedLocked()
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ID:             s.id,
		State:          s.state,
		StartedAt:      s.startedAt,
		ElapsedSeconds: s.elapsedLocked(),
		ChunkCount:     len(s.chunks),
		Device:         s.device,
		Artifact:       s.artifact,
		Err:            s.err,
		Disposed:       s.disposed,
	}
	if s.result != nil {
		r := *s.result
		r.Keywords = append([]string(nil), s.result.Keywords...)
		snap.Result = &r
	}
	return snap
}

// Done is closed once the session reaches a terminal state or is disposed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Drained is closed once every notification has reached the listener.
// It can only close after Done.
func (s *Session) Drained() <-chan struct{} {
	return s.notify.drained
}

// Wait blocks until Done or ctx ends and returns the final snapshot.
func (s *Session) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-s.done:
		return s.Snapshot(), nil
	case <-ctx.Done():
		return s.Snapshot(), ctx.Err()
	}
}

// Start requests a microphone stream without blocking the caller.
//
// The grant (or denial) is applied later from a background goroutine.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return invalidState("start", "session disposed")
	}
	if s.requested || s.state != fsm.StateIdle {
		state := s.state
		s.mu.Unlock()
		return invalidState("start", "cannot start from state %s", state)
	}
	s.requested = true
	s.mu.Unlock()

	s.logger.Debug("requesting audio stream",
		"input", s.constraints.Input,
		"sample_rate", s.constraints.SampleRate,
	)
	go s.acquire(ctx)
	return nil
}

// acquire is the continuation of Start.
func (s *Session) acquire(ctx context.Context) {
	stream, err := s.gateway.RequestStream(ctx, s.constraints)

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		if stream != nil {
			s.discard(stream)
		}
		return
	}
	if err != nil {
		s.logger.Warn("audio stream denied", "error", err.Error())
		s.failLocked(fsm.EventDenied, newError(KindDeviceUnavailable, "start", err))
		s.mu.Unlock()
		return
	}
	if terr := s.transitionLocked(fsm.EventGranted); terr != nil {
		s.mu.Unlock()
		s.discard(stream)
		return
	}

	s.stream = stream
	s.device = stream.Device()
	s.startedAt = s.now()
	s.tickerStop = make(chan struct{})
	s.pumpDone = make(chan struct{})
	tickerStop := s.tickerStop
	pumpDone := s.pumpDone
	s.emitLocked()
	s.mu.Unlock()

	s.logger.Info("listening", "device", s.device)
	go s.pump(stream.Chunks(), pumpDone)
	go s.runTicker(tickerStop)
}

// pump appends chunks in receipt order while listening.
func (s *Session) pump(chunks <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for chunk := range chunks {
		if len(chunk) == 0 {
			continue
		}
		s.mu.Lock()
		if s.state == fsm.StateListening && !s.disposed {
			s.chunks = append(s.chunks, append([]byte(nil), chunk...))
			s.level = pcm.LevelDBFS(chunk)
		}
		s.mu.Unlock()
	}
}

func (s *Session) runTicker(stop <-chan struct{}) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.state == fsm.StateListening && !s.stopping && !s.disposed {
				s.emitLocked()
			}
			s.mu.Unlock()
		}
	}
}

// Stop ends listening, finalizes the artifact, and submits it for upload.
//
// Stop returns once the artifact exists; the upload settles asynchronously.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return invalidState("stop", "session disposed")
	}
	if s.state != fsm.StateListening {
		state := s.state
		s.mu.Unlock()
		return invalidState("stop", "cannot stop from state %s", state)
	}
	if s.stopping {
		s.mu.Unlock()
		return invalidState("stop", "stop already in progress")
	}
	s.frozen = s.elapsedLocked()
	s.stopping = true
	s.stopTickerLocked()
	stream := s.stream
	s.stream = nil
	pumpDone := s.pumpDone
	s.mu.Unlock()

	// Releasing the stream flushes buffered audio and closes Chunks, so the
	// pump finishes with everything captured before this call.
	s.release(stream)
	<-pumpDone

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil
	}
	s.artifact = newArtifact(s.chunks, s.frozen)
	if err := s.transitionLocked(fsm.EventStop); err != nil {
		s.mu.Unlock()
		return invalidState("stop", "%v", err)
	}
	upload := Upload{
		SessionID:       s.id,
		Audio:           s.artifact.Bytes(),
		DurationSeconds: s.frozen,
		LanguageHint:    s.language,
		SampleRate:      s.constraints.SampleRate,
		Channels:        s.constraints.Channels,
	}
	s.emitLocked()
	s.mu.Unlock()

	s.logger.Info("recording finalized",
		"duration_seconds", upload.DurationSeconds,
		"bytes", len(upload.Audio),
		"chunks", s.artifact.ChunkCount(),
	)
	go s.upload(upload)
	return nil
}

func (s *Session) upload(req Upload) {
	ctx, cancel := context.WithTimeout(context.Background(), s.uploadTimeout)
	defer cancel()

	started := time.Now()
	result, err := s.uploader.Transcribe(ctx, req)
	s.settle(result, err, time.Since(started))
}

// settle is the upload continuation; it is ignored after Dispose.
func (s *Session) settle(result Result, err error, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		s.logger.Debug("discarding upload settlement after dispose", "latency_ms", latency.Milliseconds())
		return
	}
	if err != nil {
		s.logger.Error("upload failed", "error", err.Error(), "latency_ms", latency.Milliseconds())
		s.failLocked(fsm.EventRejected, newError(KindUploadFailed, "upload", err))
		return
	}
	if terr := s.transitionLocked(fsm.EventUploaded); terr != nil {
		s.logger.Error("unexpected settlement", "error", terr.Error())
		return
	}

	normalized := result.normalized()
	s.result = &normalized
	s.logger.Info("session completed",
		"transcript_length", len(normalized.Transcript),
		"keywords", len(normalized.Keywords),
		"sentiment", normalized.Sentiment,
		"latency_ms", latency.Milliseconds(),
	)
	s.emitLocked()
	s.finishLocked()
}

// Dispose releases every held resource. It is safe to call repeatedly and
// from any state; later callbacks no longer mutate the session.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	if !s.stopping {
		s.frozen = s.elapsedLocked()
	}
	s.disposed = true
	s.stopTickerLocked()
	stream := s.stream
	s.stream = nil
	state := s.state
	s.finishLocked()
	s.mu.Unlock()

	if stream != nil {
		s.release(stream)
	}
	s.logger.Debug("session disposed", "state", state)
}

// discard releases a stream no pump is reading, draining its chunks so Close
// can flush.
func (s *Session) discard(stream Stream) {
	go func() {
		for range stream.Chunks() {
		}
	}()
	s.release(stream)
}

func (s *Session) release(stream Stream) {
	if stream == nil {
		return
	}
	if err := stream.Close(); err != nil {
		s.logger.Warn("release audio stream", "error", err.Error())
	}
}

func (s *Session) transitionLocked(event fsm.Event) error {
	next, err := fsm.Transition(s.state, event)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

func (s *Session) failLocked(event fsm.Event, failure *Error) {
	if err := s.transitionLocked(event); err != nil {
		s.logger.Error("unexpected failure transition", "error", err.Error(), "cause", failure.Error())
		return
	}
	s.err = failure
	s.emitLocked()
	s.finishLocked()
}

func (s *Session) stopTickerLocked() {
	if s.tickerStop != nil {
		close(s.tickerStop)
		s.tickerStop = nil
	}
}

func (s *Session) finishLocked() {
	s.doneOnce.Do(func() { close(s.done) })
	s.notify.close()
}

func (s *Session) elapsedLocked() int {
	switch {
	case s.startedAt.IsZero():
		return 0
	case s.state == fsm.StateListening && !s.stopping && !s.disposed:
		d := s.now().Sub(s.startedAt)
		if d < 0 {
			return 0
		}
		return int(d / time.Second)
	default:
		return s.frozen
	}
}

func (s *Session) emitLocked() {
	s.seq++
	n := Notification{
		Seq:            s.seq,
		SessionID:      s.id,
		State:          s.state,
		ElapsedSeconds: s.elapsedLocked(),
		Err:            s.err,
		At:             s.now(),
	}
	if s.state == fsm.StateListening {
		n.LevelDBFS = s.level
	}
	if s.result != nil {
		r := *s.result
		r.Keywords = append([]string(nil), s.result.Keywords...)
		n.Result = &r
	}
	s.notify.push(n)
}

// String renders a short identifier for logs.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s)", s.id)
}
