package config

import (
	"fmt"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.LanguageHint) == "" {
		return nil, fmt.Errorf("language_hint must not be empty")
	}

	switch cfg.Audio.Mode {
	case AudioModeDevice, AudioModeSimulated:
	default:
		return nil, fmt.Errorf("audio.mode must be one of: device, simulated")
	}
	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 48000 {
		return nil, fmt.Errorf("audio.sample_rate must be between 8000 and 48000")
	}
	if cfg.Audio.Channels != 1 && cfg.Audio.Channels != 2 {
		return nil, fmt.Errorf("audio.channels must be 1 or 2")
	}

	switch cfg.Upload.Transport {
	case TransportHTTP:
		endpoint := strings.TrimSpace(cfg.Upload.Endpoint)
		if endpoint == "" {
			return nil, fmt.Errorf("upload.endpoint must not be empty when upload.transport=http")
		}
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			return nil, fmt.Errorf("upload.endpoint must be an http(s) URL")
		}
	case TransportGRPC:
		if strings.TrimSpace(cfg.Upload.GRPCEndpoint) == "" {
			return nil, fmt.Errorf("upload.grpc_endpoint must not be empty when upload.transport=grpc")
		}
	case TransportSimulated:
	default:
		return nil, fmt.Errorf("upload.transport must be one of: http, grpc, simulated")
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Upload.HealthPath), "/") {
		return nil, fmt.Errorf("upload.health_path must start with '/'")
	}
	if cfg.Upload.Timeout <= 0 {
		return nil, fmt.Errorf("upload.timeout must be > 0")
	}
	if cfg.Upload.SimulatedDelay < 0 {
		return nil, fmt.Errorf("upload.simulated_delay must be >= 0")
	}

	if cfg.Session.TickInterval <= 0 {
		return nil, fmt.Errorf("session.tick_interval must be > 0")
	}
	if cfg.Session.MaxDuration < 0 {
		return nil, fmt.Errorf("session.max_duration must be >= 0")
	}
	if cfg.Session.MaxDuration == 0 {
		warnings = append(warnings, Warning{Message: "session.max_duration=0 disables the recording limit; long recordings can exceed server.body_limit_mb"})
	}

	if strings.TrimSpace(cfg.Server.HTTPAddr) == "" {
		return nil, fmt.Errorf("server.http_addr must not be empty")
	}
	if strings.TrimSpace(cfg.Server.GRPCAddr) == "" {
		return nil, fmt.Errorf("server.grpc_addr must not be empty")
	}
	if cfg.Server.BodyLimitMB <= 0 {
		return nil, fmt.Errorf("server.body_limit_mb must be > 0")
	}
	if cfg.Upload.Transport != TransportSimulated && cfg.Session.MaxDuration > 0 {
		need := RecordingBytes(cfg.Session.MaxDuration, cfg.Audio.SampleRate, cfg.Audio.Channels) + uploadOverheadBytes
		if need > int64(cfg.Server.BodyLimitBytes()) {
			return nil, fmt.Errorf(
				"session.max_duration=%s at %d Hz x %d channels uploads up to %.1f MB, over server.body_limit_mb=%d",
				cfg.Session.MaxDuration, cfg.Audio.SampleRate, cfg.Audio.Channels,
				float64(need)/(1<<20), cfg.Server.BodyLimitMB,
			)
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}

	if cfg.Audio.Mode == AudioModeSimulated && cfg.Upload.Transport != TransportSimulated {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("audio.mode=simulated sends synthetic audio to the %s transport", cfg.Upload.Transport)})
	}

	return warnings, nil
}
