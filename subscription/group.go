package subscription

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GabrielCarpr/eventcore/log"
)

// ShutdownTimeout is how long Run waits for runners once it starts stopping.
var ShutdownTimeout = 10 * time.Second

// Runner blocks until its context ends. It only returns an error when it
// cannot continue, which stops the whole group.
type Runner interface {
	Run(context.Context) error
}

// Group is a set of runners, usually workers, run together.
type Group []Runner

// Run runs every runner concurrently until ctx ends, an interrupt or
// termination signal arrives, or a runner fails. Then it cancels the rest
// and waits for them up to ShutdownTimeout. The first runner error is
// returned.
func (g Group) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	eg, ctx := errgroup.WithContext(ctx)

	for _, r := range g {
		r := r
		eg.Go(func() error {
			return r.Run(ctx)
		})
	}

	<-ctx.Done()
	log.Info(ctx, "stopping, waiting for runners to exit", log.F{"runners": len(g)})

	ended := make(chan error, 1)
	go func() {
		ended <- eg.Wait()
	}()

	select {
	case err := <-ended:
		return err
	case <-time.After(ShutdownTimeout):
		return fmt.Errorf("eventcore.subscription: runners did not exit after %s", ShutdownTimeout)
	}
}
