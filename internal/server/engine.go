package server

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/sorosurance/soro/internal/pcm"
)

// Request is one decoded transcription request.
type Request struct {
	SessionID       string
	Audio           []byte
	SampleRate      int
	Channels        int
	DurationSeconds float64
	LanguageHint    string
}

// Transcription is raw engine output before analysis.
type Transcription struct {
	Text       string
	Confidence float64
}

// Engine turns PCM into text.
type Engine interface {
	Transcribe(ctx context.Context, req Request) (Transcription, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(context.Context, Request) (Transcription, error)

func (f EngineFunc) Transcribe(ctx context.Context, req Request) (Transcription, error) {
	return f(ctx, req)
}

// DefaultClaims are the narratives ScriptedEngine answers with.
var DefaultClaims = []string{
	"My car was hit by a danfo on the Lagos expressway this morning. The bumper is broken and I need a repair estimate.",
	"Thieves broke into my shop in Abuja last night. Stock was stolen and the police have taken a report.",
	"I was injured in an okada accident in Kano and spent two days in hospital. The doctor said the injury is serious.",
	"Flood water entered my house in Port Harcourt after the heavy rain. The damage to the furniture is expensive.",
	"Thank you, the agent was quick and helpful when my phone was stolen. I am satisfied with the process so far.",
}

// ScriptedEngine picks a canned claim deterministically from the audio bytes.
// Silent or empty audio yields no text.
type ScriptedEngine struct {
	Claims []string
	// SilenceFloor is the dBFS level at or below which audio counts as silent.
	SilenceFloor float64
}

func (e ScriptedEngine) Transcribe(ctx context.Context, req Request) (Transcription, error) {
	if err := ctx.Err(); err != nil {
		return Transcription{}, err
	}
	floor := e.SilenceFloor
	if floor == 0 {
		floor = pcm.SilenceDBFS
	}
	if len(req.Audio) == 0 || pcm.LevelDBFS(req.Audio) <= floor {
		return Transcription{}, nil
	}

	claims := e.Claims
	if len(claims) == 0 {
		claims = DefaultClaims
	}
	h := fnv.New32a()
	_, _ = h.Write(req.Audio)
	text := claims[int(h.Sum32()%uint32(len(claims)))]
	return Transcription{Text: strings.Join(strings.Fields(text), " "), Confidence: 0.9}, nil
}
