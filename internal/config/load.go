package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Loaded captures resolved config path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses, applies environment overrides, and validates
// the runtime configuration.
func Load(explicitPath string) (Loaded, error) {
	resolvedPath, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}

	loaded := Loaded{Path: resolvedPath, Config: Default()}

	content, err := os.ReadFile(resolvedPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", resolvedPath),
		})
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", resolvedPath, err)
	default:
		cfg, warnings, perr := Parse(string(content), loaded.Config)
		if perr != nil {
			return Loaded{}, fmt.Errorf("parse config %q: %w", resolvedPath, perr)
		}
		loaded.Config = cfg
		loaded.Warnings = append(loaded.Warnings, warnings...)
		loaded.Exists = true
	}

	env, envWarnings := loadEnv(dotenvFile)
	loaded.Warnings = append(loaded.Warnings, envWarnings...)
	if err := applyEnv(&loaded.Config, env); err != nil {
		return Loaded{}, err
	}

	validated, err := Validate(loaded.Config)
	if err != nil {
		return Loaded{}, err
	}
	loaded.Warnings = append(loaded.Warnings, validated...)
	return loaded, nil
}

type fileConfig struct {
	LanguageHint *string      `toml:"language_hint"`
	Audio        *fileAudio   `toml:"audio"`
	Upload       *fileUpload  `toml:"upload"`
	Session      *fileSession `toml:"session"`
	Server       *fileServer  `toml:"server"`
	Journal      *fileJournal `toml:"journal"`
	Log          *fileLog     `toml:"log"`
}

type fileAudio struct {
	Mode       *string `toml:"mode"`
	Input      *string `toml:"input"`
	Fallback   *string `toml:"fallback"`
	SampleRate *int    `toml:"sample_rate"`
	Channels   *int    `toml:"channels"`
}

type fileUpload struct {
	Transport      *string `toml:"transport"`
	Endpoint       *string `toml:"endpoint"`
	GRPCEndpoint   *string `toml:"grpc_endpoint"`
	HealthPath     *string `toml:"health_path"`
	Timeout        *string `toml:"timeout"`
	SimulatedDelay *string `toml:"simulated_delay"`
}

type fileSession struct {
	MaxDuration  *string `toml:"max_duration"`
	TickInterval *string `toml:"tick_interval"`
}

type fileServer struct {
	HTTPAddr    *string `toml:"http_addr"`
	GRPCAddr    *string `toml:"grpc_addr"`
	BodyLimitMB *int    `toml:"body_limit_mb"`
}

type fileJournal struct {
	Enable *bool   `toml:"enable"`
	Path   *string `toml:"path"`
}

type fileLog struct {
	Level *string `toml:"level"`
}

// Parse decodes TOML content over base. Unknown keys become warnings.
// The result is not validated; Load validates after environment overrides.
func Parse(content string, base Config) (Config, []Warning, error) {
	var payload fileConfig
	md, err := toml.Decode(content, &payload)
	if err != nil {
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return Config{}, nil, fmt.Errorf("line %d: %s", perr.Position.Line, perr.Message)
		}
		return Config{}, nil, err
	}

	warnings := make([]Warning, 0)
	for _, key := range md.Undecoded() {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("unknown config key %q", key.String())})
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload fileConfig) applyTo(cfg *Config) error {
	setString(&cfg.LanguageHint, payload.LanguageHint)

	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Mode, a.Mode)
		setString(&cfg.Audio.Input, a.Input)
		setString(&cfg.Audio.Fallback, a.Fallback)
		setInt(&cfg.Audio.SampleRate, a.SampleRate)
		setInt(&cfg.Audio.Channels, a.Channels)
	}

	if u := payload.Upload; u != nil {
		setString(&cfg.Upload.Transport, u.Transport)
		setString(&cfg.Upload.Endpoint, u.Endpoint)
		setString(&cfg.Upload.GRPCEndpoint, u.GRPCEndpoint)
		setString(&cfg.Upload.HealthPath, u.HealthPath)
		if err := setDuration(&cfg.Upload.Timeout, u.Timeout, "upload.timeout"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Upload.SimulatedDelay, u.SimulatedDelay, "upload.simulated_delay"); err != nil {
			return err
		}
	}

	if s := payload.Session; s != nil {
		if err := setDuration(&cfg.Session.MaxDuration, s.MaxDuration, "session.max_duration"); err != nil {
			return err
		}
		if err := setDuration(&cfg.Session.TickInterval, s.TickInterval, "session.tick_interval"); err != nil {
			return err
		}
	}

	if s := payload.Server; s != nil {
		setString(&cfg.Server.HTTPAddr, s.HTTPAddr)
		setString(&cfg.Server.GRPCAddr, s.GRPCAddr)
		setInt(&cfg.Server.BodyLimitMB, s.BodyLimitMB)
	}

	if j := payload.Journal; j != nil {
		if j.Enable != nil {
			cfg.Journal.Enable = *j.Enable
		}
		setString(&cfg.Journal.Path, j.Path)
	}

	if l := payload.Log; l != nil {
		setString(&cfg.Log.Level, l.Level)
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *string, key string) error {
	if v == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*v))
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, *v)
	}
	*dst = d
	return nil
}
