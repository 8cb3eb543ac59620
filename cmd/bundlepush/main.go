// bundlepush - push an exported server archive to another environment
//
// The archive is first sent to the remote as a dry-run. If the remote holds
// edits or deletions that would be overwritten, the push stops and lists
// them; the operator must explicitly force the push to continue.
//
// Sub-commands:
//
//	bundlepush push [flags] <archive>   Dry-run, then commit if nothing blocks
//	bundlepush check [flags] <archive>  Dry-run only, print every change
//
// Archives are local paths or s3://bucket/key references.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/bundlepush/bundlepush/internal/archive"
	"github.com/bundlepush/bundlepush/internal/changes"
	"github.com/bundlepush/bundlepush/internal/config"
	"github.com/bundlepush/bundlepush/internal/events"
	"github.com/bundlepush/bundlepush/internal/logging"
	"github.com/bundlepush/bundlepush/internal/metrics"
	"github.com/bundlepush/bundlepush/internal/workflow"
	"github.com/bundlepush/bundlepush/pkg/client"
)

const (
	exitOK       = 0
	exitError    = 1
	exitConflict = 2
)

const conflictWarning = `Remote has changes that are not synced to your environment. Backup your
changes and use "pull" to get those changes on your file system. If you
still want to overwrite remote changes, force push your changes.`

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitError)
	}

	var code int
	switch os.Args[1] {
	case "push":
		code = cmdPush(os.Args[2:])
	case "check":
		code = cmdCheck(os.Args[2:])
	case "-h", "--help", "help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", os.Args[1])
		usage()
		code = exitError
	}

	logging.Sync()
	os.Exit(code)
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n")
	fmt.Fprintf(os.Stderr, "  bundlepush push [flags] <archive>\n")
	fmt.Fprintf(os.Stderr, "  bundlepush check [flags] <archive>\n")
}

// commonFlags are shared by every sub-command; defaults come from the environment.
type commonFlags struct {
	server      *string
	token       *string
	timeout     *time.Duration
	verbosity   *int
	metricsFile *string
}

func registerCommon(fs *flag.FlagSet, cfg *config.Config) commonFlags {
	return commonFlags{
		server:      fs.String("server", cfg.ServerURL, "Admin API base URL"),
		token:       fs.String("token", cfg.Token, "Bearer token for the admin API"),
		timeout:     fs.Duration("timeout", cfg.Timeout, "Timeout for each remote call"),
		verbosity:   fs.Int("v", 1, "Verbosity level: 0=quiet, 1=info, 2=debug"),
		metricsFile: fs.String("metrics-file", cfg.MetricsTextfile, "Write Prometheus metrics to this file on exit"),
	}
}

// setup applies flags over the environment config and initializes logging.
func (f commonFlags) setup(cfg *config.Config) error {
	cfg.ServerURL = *f.server
	cfg.Token = *f.token
	cfg.Timeout = *f.timeout
	cfg.MetricsTextfile = *f.metricsFile

	switch *f.verbosity {
	case 0:
		cfg.LogLevel = "error"
	case 1:
	default:
		cfg.LogLevel = "debug"
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	return cfg.Validate()
}

func loadConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
	return cfg
}

func newLoader(cfg *config.Config) *archive.Loader {
	return archive.NewLoader(
		archive.WithMaxSize(cfg.MaxArchiveSize),
		archive.WithS3Config(archive.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}),
	)
}

func writeMetrics(cfg *config.Config) {
	if cfg.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
		logging.Warn("failed to write metrics textfile", logging.String("path", cfg.MetricsTextfile), logging.Err(err))
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func cmdPush(args []string) int {
	cfg := loadConfig()
	fs := flag.NewFlagSet("push", flag.ExitOnError)
	common := registerCommon(fs, cfg)
	force := fs.Bool("force", false, "Skip the conflict check and overwrite remote changes")
	yes := fs.Bool("yes", false, "Answer yes when asked to force push after a conflict")
	fs.Parse(args)

	if err := common.setup(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	defer writeMetrics(cfg)

	ctx, cancel := signalContext()
	defer cancel()
	ctx = logging.WithSession(ctx, logging.NewSessionID())

	a, err := newLoader(cfg).Load(ctx, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	if a == nil {
		fmt.Fprintf(os.Stderr, "Error: no archive selected\n")
		fs.Usage()
		return exitError
	}

	broadcaster := events.NewBroadcaster()
	notifications := broadcaster.Subscribe()
	defer broadcaster.Unsubscribe(notifications)

	c := client.New(client.Config{BaseURL: cfg.ServerURL, Timeout: cfg.Timeout, AuthToken: cfg.Token})
	wf := workflow.New(c, broadcaster)
	defer wf.Close()

	if err := wf.Load(a); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	if *force {
		if err := wf.SetForce(true); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return exitError
		}
	}

	fmt.Printf("Pushing %s (%d bytes) to %s\n", a.Name, a.Size(), cfg.ServerURL)
	out, err := wf.Push(ctx)
	drain(os.Stdout, notifications)
	if err != nil {
		return exitError
	}
	if out.Committed {
		return exitOK
	}

	fmt.Printf("\nConflict warning\n\n%s\n\n%s\n\n", conflictWarning, out.Rendered)

	if !*yes {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			fmt.Fprintf(os.Stderr, "Refusing to overwrite %d remote change(s). Re-run with -force to push anyway.\n", len(out.Blocking))
			return exitConflict
		}
		if !confirm(os.Stdin, os.Stdout, "Force push my changes? [y/N] ") {
			fmt.Println("Push cancelled; remote left unchanged.")
			return exitConflict
		}
	}

	if err := wf.SetForce(true); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	out, err = wf.Push(ctx)
	drain(os.Stdout, notifications)
	if err != nil {
		return exitError
	}
	if !out.Committed {
		return exitConflict
	}
	return exitOK
}

func cmdCheck(args []string) int {
	cfg := loadConfig()
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	common := registerCommon(fs, cfg)
	fs.Parse(args)

	if err := common.setup(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	defer writeMetrics(cfg)

	ctx, cancel := signalContext()
	defer cancel()
	ctx = logging.WithSession(ctx, logging.NewSessionID())

	a, err := newLoader(cfg).Load(ctx, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}
	if a == nil {
		fmt.Fprintf(os.Stderr, "Error: no archive selected\n")
		fs.Usage()
		return exitError
	}

	c := client.New(client.Config{BaseURL: cfg.ServerURL, Timeout: cfg.Timeout, AuthToken: cfg.Token})
	result, err := c.DryRun(ctx, a.Bytes())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return exitError
	}

	classified := changes.Classify(result)
	metrics.SetBlockingChanges(len(classified.Blocking))
	if len(classified.All) == 0 {
		fmt.Println("No changes.")
		return exitOK
	}

	fmt.Printf("%d change(s), %d blocking:\n", len(classified.All), len(classified.Blocking))
	for _, rec := range classified.All {
		if line := changes.RenderLine(rec); line != "" {
			fmt.Println(line)
		}
	}
	if len(classified.Unknown) > 0 {
		fmt.Printf("(%d change(s) with unrecognized actions not shown)\n", len(classified.Unknown))
	}
	if classified.HasBlocking() {
		return exitConflict
	}
	return exitOK
}

// drain prints the notifications published by the last push. Publish is
// synchronous, so they are already buffered when Push returns.
func drain(w io.Writer, ch <-chan events.Event) {
	for {
		select {
		case ev := <-ch:
			printNotification(w, ev)
		default:
			return
		}
	}
}

func printNotification(w io.Writer, ev events.Event) {
	switch ev.Type {
	case events.EventPushed:
		fmt.Fprintf(w, "%s\n", ev.Message)
	case events.EventFailed:
		fmt.Fprintf(w, "%s: %s\n", ev.Message, ev.Error)
	case events.EventConflict:
		fmt.Fprintf(w, "%s (%d blocking change(s))\n", ev.Message, ev.Blocking)
	}
}

// confirm asks a yes/no question; anything but y/yes is no.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
