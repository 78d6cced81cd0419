// Copyright 2026 The Enclave Authors
// SPDX-License-Identifier: Apache-2.0

// enclave-sandbox confines shell commands with OS-level sandboxing.
//
// Usage:
//
//	enclave-sandbox run --policy=policy.json -- <command>
//	enclave-sandbox wrap --policy=policy.json -- <command>
//	enclave-sandbox check [--policy=policy.json]
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/enclave-foundation/enclave/lib/config"
	"github.com/enclave-foundation/enclave/lib/version"
	"github.com/enclave-foundation/enclave/policy"
	"github.com/enclave-foundation/enclave/sandbox"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	if os.Getenv("ENCLAVE_DEBUG") != "" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "run":
		err = runCmd(args, logger)
	case "wrap":
		err = wrapCmd(args, logger)
	case "check":
		err = checkCmd(args, logger)
	case "version", "--version", "-v":
		fmt.Printf("enclave-sandbox %s\n", version.Info())
		return
	case "help", "--help", "-h":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		var exit *exitCodeError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`enclave-sandbox - Confine shell commands with OS-level sandboxing

USAGE
    enclave-sandbox <command> [flags] [-- <command string>]

COMMANDS
    run      Run a command under a sandbox policy
    wrap     Print the confined command without executing it
    check    Verify the external tools the sandbox depends on
    version  Show version

EXAMPLES
    # Run a command confined by a policy
    enclave-sandbox run --policy=policy.json -- 'npm install'

    # Inspect the generated confinement command
    enclave-sandbox wrap --policy=policy.json -- 'curl https://example.com'

    # Verify bwrap/socat/ripgrep are available
    enclave-sandbox check

ENVIRONMENT
    ENCLAVE_CONFIG  Path to the runtime configuration file
    ENCLAVE_DEBUG   Enable debug logging
`)
}

// exitCodeError carries the confined command's exit status to main.
type exitCodeError struct {
	code int
}

func (e *exitCodeError) Error() string {
	return fmt.Sprintf("command exited with code %d", e.code)
}

// sessionFlags are the flags shared by run and wrap.
type sessionFlags struct {
	policyPath string
	configPath string
	shell      string
}

func (f *sessionFlags) register(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.policyPath, "policy", "", "path to the sandbox policy (JSON with comments)")
	flagSet.StringVar(&f.configPath, "config", "", "path to the runtime configuration (default: $ENCLAVE_CONFIG)")
	flagSet.StringVar(&f.shell, "shell", "", "shell for the confined command (default from config)")
}

// newSession loads configuration, builds a manager, and initializes it
// with the policy. The caller owns the returned manager's Reset.
func newSession(ctx context.Context, flags sessionFlags, logger *slog.Logger) (*sandbox.Manager, config.Runtime, error) {
	runtime, err := config.Load(flags.configPath)
	if err != nil {
		return nil, config.Runtime{}, err
	}
	if flags.shell != "" {
		runtime.Shell = flags.shell
	}

	if flags.policyPath == "" {
		return nil, config.Runtime{}, fmt.Errorf("--policy is required")
	}
	p, err := policy.ReadFile(flags.policyPath)
	if err != nil {
		return nil, config.Runtime{}, err
	}

	manager := sandbox.NewManager(sandbox.ManagerConfig{
		Runtime: runtime,
		Logger:  logger,
	})

	for _, warning := range manager.GlobPatternWarnings(p) {
		logger.Warn(warning)
	}

	if err := manager.Initialize(ctx, p); err != nil {
		return nil, config.Runtime{}, err
	}
	return manager, runtime, nil
}

func commandArgument(flagSet *pflag.FlagSet) (string, error) {
	rest := flagSet.Args()
	if len(rest) == 0 {
		return "", fmt.Errorf("a command is required after --")
	}
	return strings.Join(rest, " "), nil
}

// wrapCmd implements "wrap": print the confined command.
func wrapCmd(args []string, logger *slog.Logger) error {
	var flags sessionFlags
	flagSet := pflag.NewFlagSet("wrap", pflag.ContinueOnError)
	flags.register(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	command, err := commandArgument(flagSet)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager, _, err := newSession(ctx, flags, logger)
	if err != nil {
		return err
	}
	defer manager.Reset()

	wrapped, err := manager.WrapWithSandbox(ctx, command, sandbox.WrapOptions{})
	if err != nil {
		return err
	}
	fmt.Println(wrapped)
	return nil
}

// runCmd implements "run": confine the command, execute it, relay its
// exit code, and append any recorded violations to stderr.
func runCmd(args []string, logger *slog.Logger) error {
	var flags sessionFlags
	flagSet := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.register(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return err
	}
	command, err := commandArgument(flagSet)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	manager, runtime, err := newSession(ctx, flags, logger)
	if err != nil {
		return err
	}
	defer manager.Reset()

	wrapped, err := manager.WrapWithSandbox(ctx, command, sandbox.WrapOptions{})
	if err != nil {
		return err
	}
	logger.Debug("executing confined command", "command", wrapped)

	child := exec.CommandContext(ctx, runtime.Shell, "-c", wrapped)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr

	runErr := child.Run()

	// Violations recorded for this command are appended after the
	// command's own output, so callers relaying stderr see what the
	// sandbox blocked.
	if annotation := manager.AnnotateStderr(command, ""); annotation != "" {
		fmt.Fprintln(os.Stderr, strings.TrimPrefix(annotation, "\n"))
	}

	if runErr != nil {
		var exitError *exec.ExitError
		if errors.As(runErr, &exitError) {
			return &exitCodeError{code: exitError.ExitCode()}
		}
		return runErr
	}
	return nil
}

// checkCmd implements "check": report on the external dependencies.
func checkCmd(args []string, logger *slog.Logger) error {
	var configPath, policyPath string
	flagSet := pflag.NewFlagSet("check", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the runtime configuration (default: $ENCLAVE_CONFIG)")
	flagSet.StringVar(&policyPath, "policy", "", "also validate this policy and report unenforceable patterns")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	runtime, err := config.Load(configPath)
	if err != nil {
		return err
	}
	manager := sandbox.NewManager(sandbox.ManagerConfig{
		Runtime: runtime,
		Logger:  logger,
	})

	if err := manager.CheckDependencies(); err != nil {
		fmt.Fprintf(os.Stderr, "Missing dependencies:\n%v\n", err)
		return fmt.Errorf("dependency check failed")
	}
	fmt.Println("All sandbox dependencies are available.")

	if policyPath != "" {
		p, err := policy.ReadFile(policyPath)
		if err != nil {
			return err
		}
		warnings := manager.GlobPatternWarnings(p)
		for _, warning := range warnings {
			fmt.Printf("Warning: %s\n", warning)
		}
		if len(warnings) == 0 {
			fmt.Println("Policy is valid and fully enforceable.")
		}
	}
	return nil
}
