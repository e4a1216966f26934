// Command syncall runs the listings sync for one or both feeds in the
// foreground and prints a summary.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"listings_sync/app"
	"listings_sync/config"
	"listings_sync/logging"
	"listings_sync/syncer"
)

// The stop channel is checked between batches.
const interruptNotice = "stopping after the current batch, interrupt again to abort"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	args, err := parseArgs(argv)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	if args.Help {
		fmt.Println(usage)
		return 0
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("load config: "+err.Error()))
		return 1
	}

	level := "warn"
	if args.Verbose {
		level = cfg.LogLevel
	}
	logFile, err := logging.Setup(logging.Options{Path: cfg.LogFile, Level: level, Format: "console"})
	if err != nil {
		log.Warn().Err(err).Msg("Could not set up file logging")
	} else if logFile != nil {
		defer logFile.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First interrupt asks the run to stop at the next batch boundary; the
	// second cancels everything.
	stop := make(chan struct{})
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, warningStyle.Render("\n"+interruptNotice))
		close(stop)
		<-sigCh
		cancel()
	}()

	a, err := app.New(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		return 1
	}
	defer a.Close()

	bar := newProgressBar(os.Stderr)
	results, runErr := a.Runner.RunAll(ctx, args.Types, syncer.RunOptions{
		Limit:      args.Limit,
		Reset:      args.Reset,
		Stop:       stop,
		OnProgress: bar.Update,
	})
	bar.Done()

	fmt.Fprintln(os.Stderr, renderSummary(results, runErr))
	if runErr != nil {
		return 1
	}
	return 0
}
