package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime/debug"
	"slices"
	"strings"
	"time"

	"scribe/beep"
	"scribe/config"
	"scribe/history"
	"scribe/log"
	"scribe/shutdown"
	"scribe/transcriber"
)

var version = "dev"

const usage = `scribe - speech to text against a Whisper-compatible server

Usage:
  scribe [-logpath dir] [-quiet] <command> [flags] [args]

Commands:
  probe        check that the server answers
  models       list the models the server offers
  transcribe   transcribe or translate an audio file
  record       record the microphone, then transcribe it
  live         stream the microphone and print the running transcript
  config       show or change the connection settings
  history      list, show, delete or clear past transcriptions
  doctor       run environment diagnostics

Run 'scribe <command> -h' for command flags.
`

// exitCode ends the process with the given status without printing an error.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"probe":      cmdProbe,
	"models":     cmdModels,
	"transcribe": cmdTranscribe,
	"record":     cmdRecord,
	"live":       cmdLive,
	"config":     cmdConfig,
	"history":    cmdHistory,
	"doctor":     cmdDoctor,
}

// app carries what every command shares.
type app struct {
	stdin          io.Reader
	stdout, stderr io.Writer

	dir    string
	conf   *config.Holder
	client *transcriber.Client
	hist   *history.History
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) (*app, error) {
	dir, err := config.DefaultDir()
	if err != nil {
		return nil, fmt.Errorf("resolve config directory: %w", err)
	}
	conf, err := config.Open(config.NewFileStore(dir))
	if err != nil {
		fmt.Fprintf(stderr, "Warning: %v (using defaults)\n", err)
		log.Warnf("config load: %v", err)
	}
	return &app{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
		dir:    dir,
		conf:   conf,
		client: transcriber.New(conf.Get),
		hist:   history.Open(history.NewFileStore(dir)),
	}, nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scribe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stderr, usage) }
	logPathFlag := fs.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	versionFlag := fs.Bool("version", false, "Print version and exit")
	quietFlag := fs.Bool("quiet", false, "Disable start/stop beeps")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *versionFlag {
		fmt.Fprintf(stdout, "scribe %s\n", version)
		return 0
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2
	}
	name, cmdArgs := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", name)
		fs.Usage()
		return 2
	}

	if *quietFlag {
		beep.Disable()
	}
	defer beep.Wait()

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to resolve log directory: %v\n", err)
		return 1
	}
	log.SetDir(logPath)
	if err := log.Init(); err != nil {
		fmt.Fprintf(stderr, "Warning: could not init logging: %v\n", err)
	}
	defer log.Close()
	initCrashLog()

	a, err := newApp(stdin, stdout, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, again, cancel := shutdown.Context(context.Background())
	defer cancel()
	go func() {
		<-again
		fmt.Fprintln(stderr, "\nInterrupted")
		os.Exit(130)
	}()

	log.Infof("command: %s %s", name, strings.Join(cmdArgs, " "))
	err = cmd(ctx, a, cmdArgs)
	var code exitCode
	switch {
	case err == nil:
		return 0
	case errors.As(err, &code):
		return int(code)
	case errors.Is(err, flag.ErrHelp):
		return 0
	case isUsageError(err):
		if msg := err.Error(); msg != "" {
			fmt.Fprintf(stderr, "Error: %s\n", msg)
		}
		return 2
	}
	log.Errorf("%s: %v", name, err)
	fmt.Fprintf(stderr, "Error: %s\n", describe(err))
	return 1
}

func initCrashLog() {
	if log.Dir() == "" {
		return
	}
	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return
	}
	fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
	debug.SetCrashOutput(crashFile, debug.CrashOptions{})
}

// usageError marks bad command-line input. An empty message means the flag
// set has already printed the details.
type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func isUsageError(err error) bool {
	var u usageError
	return errors.As(err, &u)
}

// describe renders err as one line for the terminal.
func describe(err error) string {
	var (
		connErr   *transcriber.ConnectionError
		transErr  *transcriber.TransmissionError
		remoteErr *transcriber.RemoteError
	)
	switch {
	case errors.Is(err, transcriber.ErrUploadTimeout):
		return "upload timed out; try a shorter file"
	case errors.As(err, &connErr):
		return fmt.Sprintf("cannot reach %s: %v", connErr.URL, connErr.Err)
	case errors.As(err, &transErr):
		return fmt.Sprintf("server rejected the request (%d): %s", transErr.StatusCode, transErr.Message)
	case errors.As(err, &remoteErr):
		return "server error: " + remoteErr.Message
	}
	return err.Error()
}

func newFlagSet(a *app, name, args string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.stderr, "Usage: scribe %s [flags] %s\n", name, args)
		fs.PrintDefaults()
	}
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, nargs ...int) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{}
	}
	if len(nargs) > 0 && !slices.Contains(nargs, fs.NArg()) {
		fs.Usage()
		return usageError{}
	}
	return nil
}
