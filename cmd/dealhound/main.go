// cmd/dealhound/main.go
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/dealhound/crawler/internal/cli"
)

func main() {
	// First interrupt cancels the run context so cursor and catalog
	// state is flushed; a second one kills the process.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		stop()
		log.Warn().Msg("Interrupt received, finishing in-flight work...")
	}()

	cli.Execute(ctx)
}
