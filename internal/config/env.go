package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const dotenvFile = ".env"

// Environment variables that override file values.
const (
	EnvLanguageHint       = "SORO_LANGUAGE_HINT"
	EnvAudioMode          = "SORO_AUDIO_MODE"
	EnvUploadTransport    = "SORO_UPLOAD_TRANSPORT"
	EnvUploadEndpoint     = "SORO_UPLOAD_ENDPOINT"
	EnvUploadGRPCEndpoint = "SORO_UPLOAD_GRPC_ENDPOINT"
	EnvLogLevel           = "SORO_LOG_LEVEL"
)

// lookupFunc resolves one environment variable.
type lookupFunc func(string) (string, bool)

// loadEnv layers the process environment over an optional dotenv file.
// The process environment wins.
func loadEnv(path string) (lookupFunc, []Warning) {
	var warnings []Warning
	fileVars, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("ignoring %s: %v", path, err)})
		fileVars = nil
	}
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileVars[key]
		return v, ok
	}, warnings
}

func applyEnv(cfg *Config, lookup lookupFunc) error {
	overrides := []struct {
		key string
		dst *string
	}{
		{EnvLanguageHint, &cfg.LanguageHint},
		{EnvAudioMode, &cfg.Audio.Mode},
		{EnvUploadTransport, &cfg.Upload.Transport},
		{EnvUploadEndpoint, &cfg.Upload.Endpoint},
		{EnvUploadGRPCEndpoint, &cfg.Upload.GRPCEndpoint},
		{EnvLogLevel, &cfg.Log.Level},
	}
	for _, o := range overrides {
		v, ok := lookup(o.key)
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if v == "" {
			return fmt.Errorf("%s is set but empty", o.key)
		}
		*o.dst = v
	}
	return nil
}
