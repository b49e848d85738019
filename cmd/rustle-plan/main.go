package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rustlehq/rustle-plan/cmd/rustle-plan/commands"
	"github.com/rustlehq/rustle-plan/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	telemetry.ConfigureLogging(os.Getenv("RUSTLE_LOG_LEVEL"), verbosityFromArgs())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	os.Exit(commands.Execute(ctx, Version, Commit, BuildDate))
}

// verbosityFromArgs does a lightweight pre-scan of -v/-vv before cobra
// parses flags, since log configuration needs to happen before any
// command output is produced.
func verbosityFromArgs() int {
	n := 0
	for _, a := range os.Args[1:] {
		switch a {
		case "-v":
			n++
		case "-vv":
			n += 2
		}
	}
	return n
}
