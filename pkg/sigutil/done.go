package sigutil

import (
	"os"
	"os/signal"
	"syscall"
)

// Done closes the returned channel on SIGINT or SIGTERM.
func Done() <-chan struct{} {
	done := make(chan struct{})
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		select {
		case <-c:
			close(done)
		}
	}()

	return done
}
