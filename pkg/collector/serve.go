package collector

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
)

// Serve is the entry point for a collector plugin binary: it builds a
// dispatcher over the process stdio streams, installs signal handling, and
// runs until stdin closes or a termination signal arrives. The logger is
// pinned to stderr so the wire on stdout stays clean.
func Serve(cfg Config) error {
	cfg.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return New(cfg).Run(ctx)
}
