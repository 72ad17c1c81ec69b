// Package config resolves, parses, validates, and defaults soro configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by soro.
type Config struct {
	LanguageHint string
	Audio        AudioConfig
	Upload       UploadConfig
	Session      SessionConfig
	Server       ServerConfig
	Journal      JournalConfig
	Log          LogConfig
}

// Audio modes.
const (
	AudioModeDevice    = "device"
	AudioModeSimulated = "simulated"
)

// AudioConfig controls the capture backend and requested stream format.
type AudioConfig struct {
	Mode       string
	Input      string
	Fallback   string
	SampleRate int
	Channels   int
}

// Upload transports.
const (
	TransportHTTP      = "http"
	TransportGRPC      = "grpc"
	TransportSimulated = "simulated"
)

// UploadConfig selects and addresses the transcription service.
type UploadConfig struct {
	Transport      string
	Endpoint       string
	GRPCEndpoint   string
	HealthPath     string
	Timeout        time.Duration
	SimulatedDelay time.Duration
}

// SessionConfig bounds one recording. A zero MaxDuration means no limit.
type SessionConfig struct {
	MaxDuration  time.Duration
	TickInterval time.Duration
}

// ServerConfig controls the mock transcription service started by `soro serve`.
type ServerConfig struct {
	HTTPAddr    string
	GRPCAddr    string
	BodyLimitMB int
}

// BodyLimitBytes is the largest upload the service accepts.
func (c ServerConfig) BodyLimitBytes() int {
	return c.BodyLimitMB << 20
}

// uploadOverheadBytes covers the WAV header, multipart framing, and gRPC
// message framing around the PCM payload.
const uploadOverheadBytes = 64 << 10

// RecordingBytes is the PCM size of a recording of length d.
func RecordingBytes(d time.Duration, sampleRate int, channels int) int64 {
	return int64(d/time.Millisecond) * int64(sampleRate) * int64(channels) * 2 / 1000
}

// JournalConfig controls the local session history. An empty Path uses the
// state directory default.
type JournalConfig struct {
	Enable bool
	Path   string
}

// LogConfig controls the JSON log level.
type LogConfig struct {
	Level string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
