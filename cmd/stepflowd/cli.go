package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ExitError carries the process exit code of a failed invocation.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) *ExitError {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// invocation is a parsed command line.
type invocation struct {
	ConfigPath string
	LogFormat  string
	LogLevel   slog.Level
	Command    string
	Args       []string
}

var commands = map[string]bool{
	"migrate":     true,
	"status":      true,
	"tasks":       true,
	"pause":       true,
	"maintenance": true,
	"signal":      true,
	"terminate":   true,
}

// parseArgs processes the global options. It returns a nil invocation
// when the program should exit cleanly after printing usage.
func parseArgs(args []string, output io.Writer) (*invocation, error) {
	flagSet := flag.NewFlagSet("stepflowd", flag.ContinueOnError)
	flagSet.SetOutput(output)
	flagSet.Usage = func() {
		fmt.Fprint(output, `
stepflowd - administer a stepflow cluster.

Usage:
  stepflowd [options] COMMAND [ARGS]

Commands:
  migrate                      Create or upgrade the store schema.
  status                       Show pause flags, servers and the leader.
  tasks [-type T] [-group G] [-phase P] [-limit N]
                               List tasks.
  pause [-group G] off|soft|hard
                               Set the global or a group pause level.
  maintenance on|off           Switch maintenance mode.
  signal TOKEN                 Resolve a signal callback and wake its task.
  terminate TASK_ID            Request termination of a task.

Options:
`)
		flagSet.PrintDefaults()
	}

	configFlag := flagSet.String("config", os.Getenv("STEPFLOW_CONFIG"), "Path to the .hcl, .yaml or .yml config file. Defaults to $STEPFLOW_CONFIG.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, nil
		}
		return nil, usageError("%s", err.Error())
	}

	if flagSet.NArg() == 0 {
		flagSet.Usage()
		return nil, nil
	}
	cmd := flagSet.Arg(0)
	if !commands[cmd] {
		return nil, usageError("unknown command %q", cmd)
	}
	if *configFlag == "" {
		return nil, usageError("no config file: pass -config or set STEPFLOW_CONFIG")
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, usageError("invalid log-format: must be 'text' or 'json'")
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevelFlag)); err != nil {
		return nil, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}

	return &invocation{
		ConfigPath: *configFlag,
		LogFormat:  logFormat,
		LogLevel:   level,
		Command:    cmd,
		Args:       flagSet.Args()[1:],
	}, nil
}

// newLogger builds the process logger writing to w.
func newLogger(w io.Writer, format string, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
