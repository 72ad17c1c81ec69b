package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.toml"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "soro", "config.toml"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "soro", "config.toml"), resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "missing.toml")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingTOMLParsesAndValidates(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `
language_hint = "yo-NG"

[audio]
mode = "simulated"
sample_rate = 48000

[upload]
transport = "grpc"
grpc_endpoint = "10.0.0.5:50061"
timeout = "5s"

[session]
max_duration = "90s"

[journal]
enable = false
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, "yo-NG", loaded.Config.LanguageHint)
	require.Equal(t, AudioModeSimulated, loaded.Config.Audio.Mode)
	require.Equal(t, 48000, loaded.Config.Audio.SampleRate)
	require.Equal(t, 1, loaded.Config.Audio.Channels)
	require.Equal(t, TransportGRPC, loaded.Config.Upload.Transport)
	require.Equal(t, "10.0.0.5:50061", loaded.Config.Upload.GRPCEndpoint)
	require.Equal(t, 5*time.Second, loaded.Config.Upload.Timeout)
	require.Equal(t, 90*time.Second, loaded.Config.Session.MaxDuration)
	require.False(t, loaded.Config.Journal.Enable)
}

func TestLoadUnknownKeysWarn(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[audio]\nmicrophone = \"usb\"\n"), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Len(t, loaded.Warnings, 1)
	require.Contains(t, loaded.Warnings[0].Message, "audio.microphone")
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.toml")
	require.NoError(t, os.WriteFile(path, []byte("[audio\nmode = 1"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[upload]\ntimeout = \"soon\"\n"), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "upload.timeout")
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvUploadTransport, "simulated")
	t.Setenv(EnvAudioMode, "simulated")

	loaded, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, TransportSimulated, loaded.Config.Upload.Transport)
	require.Equal(t, AudioModeSimulated, loaded.Config.Audio.Mode)
}

func TestLoadDotenvFileBelowProcessEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(
		"SORO_LANGUAGE_HINT=ha-NG\nSORO_UPLOAD_ENDPOINT=http://claims.local/api/transcribe\n",
	), 0o600))
	t.Setenv(EnvLanguageHint, "ig-NG")

	loaded, err := Load(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	require.Equal(t, "ig-NG", loaded.Config.LanguageHint)
	require.Equal(t, "http://claims.local/api/transcribe", loaded.Config.Upload.Endpoint)
}

func TestLoadRejectsEmptyOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv(EnvUploadEndpoint, "  ")

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorContains(t, err, EnvUploadEndpoint)
}
