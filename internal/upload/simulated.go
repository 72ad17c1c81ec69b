package upload

import (
	"context"
	"time"

	"github.com/sorosurance/soro/internal/server"
	"github.com/sorosurance/soro/internal/session"
)

// Simulated runs the transcription service in-process after a fixed delay.
type Simulated struct {
	Service *server.Service
	Delay   time.Duration
}

// NewSimulated wraps svc; a nil svc uses the scripted engine.
func NewSimulated(svc *server.Service, delay time.Duration) *Simulated {
	if svc == nil {
		svc = server.NewService(nil, nil)
	}
	return &Simulated{Service: svc, Delay: delay}
}

func (s *Simulated) Transcribe(ctx context.Context, up session.Upload) (session.Result, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return session.Result{}, ctx.Err()
		case <-timer.C:
		}
	}

	resp, err := s.Service.Transcribe(ctx, server.Request{
		SessionID:       up.SessionID,
		Audio:           up.Audio,
		SampleRate:      up.SampleRate,
		Channels:        up.Channels,
		DurationSeconds: float64(up.DurationSeconds),
		LanguageHint:    up.LanguageHint,
	})
	if err != nil {
		return session.Result{}, err
	}
	return toResult(resp)
}
