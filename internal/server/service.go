// Package server hosts the mock claim transcription service over HTTP and gRPC.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sorosurance/soro/internal/analysis"
	"github.com/sorosurance/soro/internal/api"
	"github.com/sorosurance/soro/internal/pcm"
)

// ErrNoSpeech is reported in the response body when the engine hears nothing.
var ErrNoSpeech = errors.New("no speech detected")

// Service transcribes requests with an Engine and attaches analysis signals.
type Service struct {
	engine Engine
	scorer analysis.Scorer
	logger *slog.Logger
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithScorer replaces the lexicon sentiment scorer.
func WithScorer(scorer analysis.Scorer) ServiceOption {
	return func(s *Service) {
		if scorer != nil {
			s.scorer = scorer
		}
	}
}

// NewService wraps engine; a nil engine uses ScriptedEngine defaults.
func NewService(engine Engine, logger *slog.Logger, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = ScriptedEngine{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{engine: engine, scorer: analysis.KeywordScorer, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Transcribe returns a success=false response for silence; err is reserved
// for engine and context failures.
func (s *Service) Transcribe(ctx context.Context, req Request) (api.Response, error) {
	if req.SampleRate <= 0 {
		req.SampleRate = 16000
	}
	if req.Channels <= 0 {
		req.Channels = 1
	}
	if req.DurationSeconds <= 0 {
		req.DurationSeconds = pcm.Duration(req.Audio, req.SampleRate, req.Channels)
	}

	started := time.Now()
	out, err := s.engine.Transcribe(ctx, req)
	if err != nil {
		s.logger.Error("transcription engine failed", "session_id", req.SessionID, "error", err.Error())
		return api.Response{}, fmt.Errorf("transcribe: %w", err)
	}

	report := analysis.AnalyzeWith(s.scorer, out.Text, req.Audio, req.DurationSeconds)
	resp := api.Response{
		SessionID:        req.SessionID,
		Duration:         req.DurationSeconds,
		RecordingQuality: string(report.Quality),
	}
	if strings.TrimSpace(out.Text) == "" {
		resp.Error = ErrNoSpeech.Error()
		s.logger.Info("no speech detected",
			"session_id", req.SessionID,
			"bytes", len(req.Audio),
			"duration_seconds", req.DurationSeconds,
		)
		return resp, nil
	}

	resp.Success = true
	resp.Transcript = report.Transcript
	resp.Confidence = out.Confidence
	resp.Keywords = report.Keywords
	resp.Sentiment = string(report.Sentiment.Label)
	resp.SentimentScore = report.Sentiment.Score
	resp.Emotions = report.Emotions
	resp.WordCount = report.WordCount
	resp.SpeakingRate = report.SpeakingRate

	s.logger.Info("transcription complete",
		"session_id", req.SessionID,
		"language", req.LanguageHint,
		"words", resp.WordCount,
		"keywords", len(resp.Keywords),
		"sentiment", resp.Sentiment,
		"latency_ms", time.Since(started).Milliseconds(),
	)
	return resp, nil
}
