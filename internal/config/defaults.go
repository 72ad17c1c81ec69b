package config

import "time"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	return Config{
		LanguageHint: "en-NG",
		Audio: AudioConfig{
			Mode:       AudioModeDevice,
			Input:      "default",
			Fallback:   "default",
			SampleRate: 16000,
			Channels:   1,
		},
		Upload: UploadConfig{
			Transport:      TransportHTTP,
			Endpoint:       "http://127.0.0.1:8080/api/transcribe",
			GRPCEndpoint:   "127.0.0.1:50061",
			HealthPath:     "/api/health",
			Timeout:        30 * time.Second,
			SimulatedDelay: 800 * time.Millisecond,
		},
		Session: SessionConfig{
			MaxDuration:  5 * time.Minute,
			TickInterval: time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:    "127.0.0.1:8080",
			GRPCAddr:    "127.0.0.1:50061",
			BodyLimitMB: 10,
		},
		Journal: JournalConfig{Enable: true},
		Log:     LogConfig{Level: "info"},
	}
}
