// Package api defines the transcription wire contract shared by the upload
// clients and the mock transcription service.
package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// HTTP routes and multipart field names.
const (
	TranscribePath = "/api/transcribe"
	HealthPath     = "/api/health"

	FieldAudio     = "audio"
	FieldLanguage  = "language"
	FieldDuration  = "duration"
	FieldSessionID = "session_id"
)

// gRPC metadata keys carried next to the raw PCM payload.
const (
	MetaDurationSeconds = "x-duration-seconds"
	MetaLanguageHint    = "x-language-hint"
	MetaSessionID       = "x-session-id"
	MetaSampleRate      = "x-sample-rate"
	MetaChannels        = "x-channels"
)

// Response is the structured outcome of one transcription request.
type Response struct {
	Success          bool           `json:"success"`
	SessionID        string         `json:"session_id,omitempty"`
	Transcript       string         `json:"transcript" validate:"required_if=Success true"`
	Confidence       float64        `json:"confidence" validate:"gte=0,lte=1"`
	Keywords         []string       `json:"keywords" validate:"dive,required"`
	Sentiment        string         `json:"sentiment" validate:"omitempty,oneof=positive neutral negative"`
	SentimentScore   float64        `json:"sentiment_score" validate:"gte=-1,lte=1"`
	Emotions         map[string]int `json:"emotion_scores,omitempty"`
	RecordingQuality string         `json:"recording_quality,omitempty" validate:"omitempty,oneof=good fair poor unknown"`
	WordCount        int            `json:"word_count" validate:"gte=0"`
	SpeakingRate     float64        `json:"speaking_rate" validate:"gte=0"`
	Duration         float64        `json:"duration" validate:"gte=0"`
	Error            string         `json:"error,omitempty"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports the first structural problem with a decoded response.
func (r Response) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("malformed transcription response: %w", err)
	}
	return nil
}

// ToStruct converts a response into its gRPC payload.
func ToStruct(r Response) (*structpb.Struct, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("encode response struct: %w", err)
	}
	return out, nil
}

// FromStruct decodes a gRPC payload into a response.
func FromStruct(s *structpb.Struct) (Response, error) {
	if s == nil {
		return Response{}, fmt.Errorf("decode response: empty payload")
	}
	raw, err := protojson.Marshal(s)
	if err != nil {
		return Response{}, fmt.Errorf("decode response struct: %w", err)
	}
	var r Response
	if err := json.Unmarshal(raw, &r); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return r, nil
}

// Meta is the request metadata sent alongside audio.
type Meta struct {
	SessionID       string
	LanguageHint    string
	DurationSeconds int
	SampleRate      int
	Channels        int
}

// Outgoing renders m as gRPC metadata.
func (m Meta) Outgoing() metadata.MD {
	return metadata.Pairs(
		MetaSessionID, m.SessionID,
		MetaLanguageHint, m.LanguageHint,
		MetaDurationSeconds, strconv.Itoa(m.DurationSeconds),
		MetaSampleRate, strconv.Itoa(m.SampleRate),
		MetaChannels, strconv.Itoa(m.Channels),
	)
}

// MetaFromIncoming parses request metadata; missing numbers read as zero.
func MetaFromIncoming(md metadata.MD) (Meta, error) {
	m := Meta{
		SessionID:    first(md, MetaSessionID),
		LanguageHint: first(md, MetaLanguageHint),
	}
	var err error
	if m.DurationSeconds, err = atoi(md, MetaDurationSeconds); err != nil {
		return m, err
	}
	if m.SampleRate, err = atoi(md, MetaSampleRate); err != nil {
		return m, err
	}
	if m.Channels, err = atoi(md, MetaChannels); err != nil {
		return m, err
	}
	return m, nil
}

func first(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

func atoi(md metadata.MD, key string) (int, error) {
	raw := first(md, key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, raw)
	}
	return n, nil
}
