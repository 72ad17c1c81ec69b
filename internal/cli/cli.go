// Package cli defines the soro command tree.
package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sorosurance/soro/internal/version"
)

// Exit codes returned by the process.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// ExitError carries a process exit code through cobra. A nil Err exits
// silently with Code.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an Execute error to a process exit code. Errors raised by
// cobra itself (unknown commands, bad flags) are usage errors.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitUsage
}

// Globals holds persistent flags shared by every command.
type Globals struct {
	ConfigPath string
}

// RecordOptions are the flags of `soro record`.
type RecordOptions struct {
	// MaxDuration overrides session.max_duration when the flag is set.
	MaxDuration    time.Duration
	MaxDurationSet bool
	NoJournal      bool
}

// ServeOptions are the flags of `soro serve`.
type ServeOptions struct {
	HTTPAddr string
	GRPCAddr string
}

// Handlers implements each command.
type Handlers interface {
	Record(context.Context, Globals, RecordOptions) error
	Stop(context.Context, Globals) error
	Cancel(context.Context, Globals) error
	Status(context.Context, Globals) error
	Devices(context.Context, Globals) error
	Doctor(context.Context, Globals) error
	Serve(context.Context, Globals, ServeOptions) error
	History(ctx context.Context, g Globals, limit int) error
}

// NewRootCmd builds the command tree around h.
func NewRootCmd(h Handlers) *cobra.Command {
	globals := &Globals{}

	rootCmd := &cobra.Command{
		Use:           "soro",
		Short:         "Speak an insurance claim and get back a transcript",
		Long:          "soro records a spoken claim from the microphone, uploads it for transcription, and reports the transcript with keywords and sentiment.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version.Version
	rootCmd.SetVersionTemplate(version.String() + "\n")
	rootCmd.PersistentFlags().StringVar(&globals.ConfigPath, "config", "", "config file path (default $XDG_CONFIG_HOME/soro/config.toml)")

	rootCmd.AddCommand(
		newRecordCmd(h, globals),
		simpleCmd("stop", "Stop the active recording and submit it", globals, h.Stop),
		simpleCmd("cancel", "Discard the active recording", globals, h.Cancel),
		simpleCmd("status", "Print the active session state", globals, h.Status),
		simpleCmd("devices", "List audio input devices", globals, h.Devices),
		simpleCmd("doctor", "Run configuration and environment checks", globals, h.Doctor),
		newServeCmd(h, globals),
		newHistoryCmd(h, globals),
		newVersionCmd(),
	)
	return rootCmd
}

func runtimeErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return err
	}
	return &ExitError{Code: ExitFailure, Err: err}
}

func simpleCmd(use, short string, globals *Globals, run func(context.Context, Globals) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runtimeErr(run(cmd.Context(), *globals))
		},
	}
}

func newRecordCmd(h Handlers, globals *Globals) *cobra.Command {
	var opts RecordOptions

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a claim until Enter, `soro stop`, or the time limit",
		Long:  "Record from the configured microphone. Press Enter or run `soro stop` from another terminal to finish; `soro cancel` or Ctrl+C discards the recording.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			opts.MaxDurationSet = cmd.Flags().Changed("max-duration")
			return runtimeErr(h.Record(cmd.Context(), *globals, opts))
		},
	}
	cmd.Flags().DurationVar(&opts.MaxDuration, "max-duration", 0, "stop automatically after this long (0 disables)")
	cmd.Flags().BoolVar(&opts.NoJournal, "no-journal", false, "do not record this session in the journal")
	return cmd
}

func newServeCmd(h Handlers, globals *Globals) *cobra.Command {
	var opts ServeOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the mock transcription service over HTTP and gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runtimeErr(h.Serve(cmd.Context(), *globals, opts))
		},
	}
	cmd.Flags().StringVar(&opts.HTTPAddr, "http-addr", "", "HTTP listen address (overrides server.http_addr)")
	cmd.Flags().StringVar(&opts.GRPCAddr, "grpc-addr", "", "gRPC listen address (overrides server.grpc_addr)")
	return cmd
}

func newHistoryCmd(h Handlers, globals *Globals) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent sessions from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return errors.New("--limit must be > 0")
			}
			return runtimeErr(h.History(cmd.Context(), *globals, limit))
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of sessions to show")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
