// Package doctor runs readiness diagnostics for config, audio, the transcription endpoint, and the journal.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/sorosurance/soro/internal/api"
	"github.com/sorosurance/soro/internal/audio"
	"github.com/sorosurance/soro/internal/config"
	"github.com/sorosurance/soro/internal/store"
)

const checkTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes every check for a loaded config.
func Run(ctx context.Context, loaded config.Loaded) Report {
	cfg := loaded.Config
	checks := []Check{checkConfig(loaded)}

	checks = append(checks, checkEnv("XDG_RUNTIME_DIR", func(v string) bool {
		return strings.TrimSpace(v) != ""
	}, "session socket directory is set", "XDG_RUNTIME_DIR is empty; stop/cancel/status cannot reach a recording"))

	if cfg.Audio.Mode == config.AudioModeSimulated {
		checks = append(checks, Check{Name: "audio.device", Pass: true, Message: "simulated microphone"})
	} else {
		checks = append(checks, checkAudioSelection(ctx, cfg))
	}

	switch cfg.Upload.Transport {
	case config.TransportHTTP:
		checks = append(checks, checkHTTPHealth(ctx, cfg.Upload.Endpoint, cfg.Upload.HealthPath))
	case config.TransportGRPC:
		checks = append(checks, checkGRPCHealth(ctx, cfg.Upload.GRPCEndpoint))
	default:
		checks = append(checks, Check{Name: "upload", Pass: true, Message: "simulated transport"})
	}

	if cfg.Journal.Enable {
		checks = append(checks, checkJournal(cfg.Journal.Path))
	}
	return Report{Checks: checks}
}

func checkConfig(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("%q not found; using defaults", loaded.Path)
	}
	if n := len(loaded.Warnings); n > 0 {
		message = fmt.Sprintf("%s (%d warnings)", message, n)
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// healthURL swaps the path of the transcribe endpoint for the health path.
func healthURL(endpoint, healthPath string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint %q is not an absolute URL", endpoint)
	}
	u.Path = healthPath
	u.RawQuery = ""
	return u.String(), nil
}

// checkHTTPHealth checks the transcription service's HTTP health endpoint.
func checkHTTPHealth(ctx context.Context, endpoint, healthPath string) Check {
	const name = "upload.http"
	target, err := healthURL(endpoint, healthPath)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 256))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, target)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("healthy at %s", target)}
}

// checkGRPCHealth asks the standard gRPC health service about the transcription service.
func checkGRPCHealth(ctx context.Context, endpoint string) Check {
	const name = "upload.grpc"
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return Check{Name: name, Pass: false, Message: "grpc_endpoint is empty"}
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error()}
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName}, grpc.WaitForReady(true))
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("health check failed: %v", err)}
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s reports %s", endpoint, resp.GetStatus())}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("serving at %s", endpoint)}
}

// checkJournal opens (and creates if needed) the session journal.
func checkJournal(path string) Check {
	if strings.TrimSpace(path) == "" {
		path = store.DefaultPath()
	}
	journal, err := store.Open(path)
	if err != nil {
		return Check{Name: "journal", Pass: false, Message: err.Error()}
	}
	_ = journal.Close()
	return Check{Name: "journal", Pass: true, Message: fmt.Sprintf("writable at %s", path)}
}
