// Package app wires configuration, logging, and the session components into CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sorosurance/soro/internal/api"
	"github.com/sorosurance/soro/internal/audio"
	"github.com/sorosurance/soro/internal/cli"
	"github.com/sorosurance/soro/internal/config"
	"github.com/sorosurance/soro/internal/doctor"
	"github.com/sorosurance/soro/internal/fsm"
	"github.com/sorosurance/soro/internal/ipc"
	"github.com/sorosurance/soro/internal/logging"
	"github.com/sorosurance/soro/internal/server"
	"github.com/sorosurance/soro/internal/session"
	"github.com/sorosurance/soro/internal/shell"
	"github.com/sorosurance/soro/internal/store"
	"github.com/sorosurance/soro/internal/upload"
)

const forwardTimeout = 220 * time.Millisecond

// Runner executes one CLI invocation against real process streams.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Logger replaces the rotating file logger when set.
	Logger *slog.Logger
}

// Execute runs args and returns the process exit code.
func Execute(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	r := &Runner{Stdin: stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r *Runner) Execute(ctx context.Context, args []string) int {
	root := cli.NewRootCmd(r)
	root.SetArgs(args)
	root.SetIn(r.Stdin)
	root.SetOut(r.Stdout)
	root.SetErr(r.Stderr)

	err := root.ExecuteContext(ctx)
	code := cli.ExitCode(err)
	if err != nil && err.Error() != "" {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
	}
	if code == cli.ExitUsage {
		fmt.Fprintln(r.Stderr, "Run 'soro --help' for usage.")
	}
	return code
}

// env is the per-command runtime: loaded config and a logger.
type env struct {
	loaded config.Loaded
	logger *slog.Logger
	close  func()
}

func (r *Runner) setup(g cli.Globals, command string) (env, error) {
	loaded, err := config.Load(g.ConfigPath)
	if err != nil {
		return env{}, err
	}
	for _, w := range loaded.Warnings {
		fmt.Fprintf(r.Stderr, "warning: %s\n", w.Message)
	}

	e := env{loaded: loaded, logger: r.Logger, close: func() {}}
	logPath := ""
	if e.logger == nil {
		logRuntime, err := logging.New(loaded.Config.Log.Level)
		if err != nil {
			return env{}, fmt.Errorf("setup logging: %w", err)
		}
		e.logger = logRuntime.Logger
		e.close = func() { _ = logRuntime.Close() }
		logPath = logRuntime.Path
	}
	for _, w := range loaded.Warnings {
		e.logger.Warn("config warning", "message", w.Message)
	}
	e.logger.Info("command start", "command", command, "config", loaded.Path, "log", logPath)
	return e, nil
}

func (r *Runner) Record(ctx context.Context, g cli.Globals, opts cli.RecordOptions) error {
	e, err := r.setup(g, "record")
	if err != nil {
		return err
	}
	defer e.close()
	cfg := e.loaded.Config

	uploader, closeUploader := newUploader(cfg, e.logger)
	defer closeUploader()

	var journal shell.Recorder
	if cfg.Journal.Enable && !opts.NoJournal {
		j, err := store.Open(journalPath(cfg))
		if err != nil {
			fmt.Fprintf(r.Stderr, "warning: journal disabled: %v\n", err)
			e.logger.Warn("open journal failed", "error", err.Error())
		} else {
			defer j.Close()
			journal = j
		}
	}

	maxDuration := cfg.Session.MaxDuration
	if opts.MaxDurationSet {
		maxDuration = opts.MaxDuration
	}

	runner := &shell.Runner{
		Gateway:     newGateway(cfg, e.logger),
		Uploader:    uploader,
		Listener:    shell.NewTerminal(r.Stdout),
		Journal:     journal,
		Logger:      e.logger,
		MaxDuration: maxDuration,
		Stdin:       r.Stdin,
		Options: []session.Option{
			session.WithConstraints(session.Constraints{
				Input:      cfg.Audio.Input,
				Fallback:   cfg.Audio.Fallback,
				SampleRate: cfg.Audio.SampleRate,
				Channels:   cfg.Audio.Channels,
			}),
			session.WithLanguageHint(cfg.LanguageHint),
			session.WithTickInterval(cfg.Session.TickInterval),
			session.WithUploadTimeout(cfg.Upload.Timeout),
		},
	}

	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "warning: %v; stop and cancel only work from this terminal\n", err)
	} else {
		owner, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8)
		if err != nil {
			var running *ipc.RunningError
			if errors.As(err, &running) {
				return fmt.Errorf("%w; use `soro stop` or `soro cancel`", err)
			}
			return err
		}
		defer owner.Close()

		serverCtx, serverCancel := context.WithCancel(ctx)
		serverErrCh := make(chan error, 1)
		go func() {
			serverErrCh <- ipc.Serve(serverCtx, owner, runner)
		}()
		defer func() {
			serverCancel()
			if serverErr := <-serverErrCh; serverErr != nil {
				e.logger.Error("ipc server failed", "error", serverErr.Error())
			}
		}()
	}

	fmt.Fprintln(r.Stderr, "Recording. Press Enter or run `soro stop` to finish; Ctrl+C or `soro cancel` discards.")
	outcome, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	logOutcome(e.logger, outcome)

	switch {
	case outcome.Cancelled:
		fmt.Fprintln(r.Stdout, "cancelled")
		return nil
	case outcome.Snapshot.State == fsm.StateFailed:
		return &cli.ExitError{Code: cli.ExitFailure}
	default:
		return nil
	}
}

func newGateway(cfg config.Config, logger *slog.Logger) session.Gateway {
	if cfg.Audio.Mode == config.AudioModeSimulated {
		return audio.SimulatedGateway{}
	}
	return audio.NewPulseGateway(logger)
}

func newUploader(cfg config.Config, logger *slog.Logger) (session.Uploader, func()) {
	switch cfg.Upload.Transport {
	case config.TransportGRPC:
		client := upload.NewGRPCClient(cfg.Upload.GRPCEndpoint, cfg.Upload.Timeout,
			upload.WithMaxMessageBytes(cfg.Server.BodyLimitBytes()))
		return client, func() { _ = client.Close() }
	case config.TransportSimulated:
		return upload.NewSimulated(server.NewService(nil, logger), cfg.Upload.SimulatedDelay), func() {}
	default:
		return upload.NewHTTPClient(cfg.Upload.Endpoint, &http.Client{Timeout: cfg.Upload.Timeout}), func() {}
	}
}

func journalPath(cfg config.Config) string {
	if p := strings.TrimSpace(cfg.Journal.Path); p != "" {
		return p
	}
	return store.DefaultPath()
}

func logOutcome(logger *slog.Logger, outcome shell.Outcome) {
	if logger == nil {
		return
	}
	snap := outcome.Snapshot
	fields := []any{
		"session_id", snap.ID,
		"state", snap.State,
		"cancelled", outcome.Cancelled,
		"stop_source", outcome.StopSource,
		"device", snap.Device,
		"duration_seconds", snap.ElapsedSeconds,
		"bytes_captured", snap.Artifact.Len(),
	}
	if snap.Result != nil {
		fields = append(fields, "transcript_length", len(snap.Result.Transcript), "sentiment", snap.Result.Sentiment)
	}
	if snap.Err != nil {
		logger.Error("session failed", append(fields, "error", snap.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

func (r *Runner) Stop(ctx context.Context, _ cli.Globals) error {
	return r.forwardOrFail(ctx, ipc.CommandStop)
}

func (r *Runner) Cancel(ctx context.Context, _ cli.Globals) error {
	return r.forwardOrFail(ctx, ipc.CommandCancel)
}

func (r *Runner) Status(ctx context.Context, _ cli.Globals) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, fsm.StateIdle)
		return nil
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, fsm.StateIdle)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(r.Stdout, resp.Status)
	return nil
}

func (r *Runner) forwardOrFail(ctx context.Context, command ipc.Command) error {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		return err
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		return errors.New("no active soro session")
	}
	if err != nil {
		return err
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return nil
}

// tryForward sends command to the recording that owns socketPath. handled is
// false when no recording answers.
func tryForward(ctx context.Context, socketPath string, command ipc.Command) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, command, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.Unreachable(err) {
		return ipc.Response{}, false, nil
	}
	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func (r *Runner) Devices(ctx context.Context, g cli.Globals) error {
	e, err := r.setup(g, "devices")
	if err != nil {
		return err
	}
	defer e.close()

	devices, err := audio.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return &cli.ExitError{Code: cli.ExitFailure}
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r *Runner) Doctor(ctx context.Context, g cli.Globals) error {
	e, err := r.setup(g, "doctor")
	if err != nil {
		return err
	}
	defer e.close()

	report := doctor.Run(ctx, e.loaded)
	fmt.Fprintln(r.Stdout, report.String())
	if !report.OK() {
		return &cli.ExitError{Code: cli.ExitFailure}
	}
	return nil
}

func (r *Runner) Serve(ctx context.Context, g cli.Globals, opts cli.ServeOptions) error {
	e, err := r.setup(g, "serve")
	if err != nil {
		return err
	}
	defer e.close()
	cfg := e.loaded.Config

	host := &server.Host{
		HTTPAddr:    firstNonEmpty(opts.HTTPAddr, cfg.Server.HTTPAddr),
		GRPCAddr:    firstNonEmpty(opts.GRPCAddr, cfg.Server.GRPCAddr),
		BodyLimitMB: cfg.Server.BodyLimitMB,
		Logger:      e.logger,
	}
	if err := host.Listen(server.NewService(nil, e.logger)); err != nil {
		return err
	}
	fmt.Fprintf(r.Stdout, "serving transcription on http://%s%s and grpc %s\n", host.HTTPAddress(), api.TranscribePath, host.GRPCAddress())
	return host.Serve(ctx)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func (r *Runner) History(ctx context.Context, g cli.Globals, limit int) error {
	e, err := r.setup(g, "history")
	if err != nil {
		return err
	}
	defer e.close()

	journal, err := store.Open(journalPath(e.loaded.Config))
	if err != nil {
		return err
	}
	defer journal.Close()

	entries, err := journal.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.Stdout, "no sessions recorded")
		return nil
	}
	for _, entry := range entries {
		fmt.Fprintln(r.Stdout, formatEntry(entry))
	}
	return nil
}

func formatEntry(e store.Entry) string {
	detail := e.Transcript
	if e.ErrorKind != "" {
		detail = e.ErrorKind
		if e.ErrorMessage != "" {
			detail += ": " + e.ErrorMessage
		}
	}
	if r := []rune(detail); len(r) > 60 {
		detail = string(r[:57]) + "..."
	}
	sentiment := e.Sentiment
	if sentiment == "" {
		sentiment = "-"
	}
	return fmt.Sprintf("%s  %-10s %s  %-8s %s",
		e.FinishedAt.Local().Format("2006-01-02 15:04:05"),
		e.State,
		shell.Clock(e.DurationSeconds),
		sentiment,
		detail,
	)
}
