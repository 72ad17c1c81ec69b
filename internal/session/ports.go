package session

import (
	"context"
	"slices"
	"strings"
)

// Constraints describes the capture format requested from a Gateway.
type Constraints struct {
	Input      string
	Fallback   string
	SampleRate int
	Channels   int
}

// DefaultConstraints is 16 kHz mono from the default source.
func DefaultConstraints() Constraints {
	return Constraints{Input: "default", Fallback: "default", SampleRate: 16000, Channels: 1}
}

// Stream is one granted microphone stream.
//
// Close must be idempotent. It flushes audio still buffered by the device and
// then closes Chunks.
type Stream interface {
	Chunks() <-chan []byte
	Close() error
	Device() string
}

// Gateway grants exclusive microphone streams.
type Gateway interface {
	RequestStream(context.Context, Constraints) (Stream, error)
}

// Upload is the single request an Uploader receives per session.
type Upload struct {
	SessionID       string
	Audio           []byte
	DurationSeconds int
	LanguageHint    string
	SampleRate      int
	Channels        int
}

// Uploader submits a finalized recording and returns its analysis.
type Uploader interface {
	Transcribe(context.Context, Upload) (Result, error)
}

// UploaderFunc adapts a function to the Uploader interface.
type UploaderFunc func(context.Context, Upload) (Result, error)

func (f UploaderFunc) Transcribe(ctx context.Context, upload Upload) (Result, error) {
	return f(ctx, upload)
}

// Sentiment is the coarse label attached to a transcript.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment maps a label to a Sentiment; ok is false for unknown labels.
func ParseSentiment(label string) (Sentiment, bool) {
	switch s := Sentiment(strings.ToLower(strings.TrimSpace(label))); s {
	case SentimentPositive, SentimentNeutral, SentimentNegative:
		return s, true
	default:
		return SentimentNeutral, false
	}
}

// Result is the structured outcome of a completed session.
type Result struct {
	Transcript     string
	Keywords       []string
	Sentiment      Sentiment
	SentimentScore float64
}

// normalized dedupes and sorts keywords and fills an empty sentiment.
func (r Result) normalized() Result {
	seen := make(map[string]struct{}, len(r.Keywords))
	keywords := make([]string, 0, len(r.Keywords))
	for _, kw := range r.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		keywords = append(keywords, kw)
	}
	slices.Sort(keywords)
	r.Keywords = keywords
	if r.Sentiment == "" {
		r.Sentiment = SentimentNeutral
	}
	return r
}
