package orchestrator

import (
	"os"
	"os/signal"
	"time"
)

// installSignalHandler implements spec.md §4.6 Shutdown / §5 Cancellation:
// the first SIGINT/SIGTERM flips running to false and starts the grace
// window; a second signal within that window escalates to an immediate
// force-close of the arena and downloader pool.
func (o *Orchestrator) installSignalHandler() {
	o.sigCh = make(chan os.Signal, 2)
	notifySignals(o.sigCh)

	go func() {
		select {
		case sig, ok := <-o.sigCh:
			if !ok {
				return
			}
			if o.logger != nil {
				o.logger.Warnw("received shutdown signal, draining", "signal", sig.String())
			}
		case <-o.doneCh:
			return
		}

		o.cancelled.Store(true)
		o.running.Store(false)

		timer := time.NewTimer(o.cfg.WorkerJoinGrace)
		defer timer.Stop()
		select {
		case sig2, ok := <-o.sigCh:
			if ok && o.logger != nil {
				o.logger.Warnw("second signal received, forcing shutdown", "signal", sig2.String())
			}
		case <-timer.C:
			if o.logger != nil {
				o.logger.Warnw("grace period elapsed, forcing shutdown")
			}
		case <-o.doneCh:
			return
		}

		o.stopOnce.Do(func() { close(o.stopCh) })
		o.arena.Close()
		o.pool.Close()
	}()
}

func signalStop(ch chan os.Signal) {
	signal.Stop(ch)
}
