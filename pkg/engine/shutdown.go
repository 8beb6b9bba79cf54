package engine

import (
	"os"
	"os/signal"
	"syscall"
	"time"
)

// placementDrainDeadline is the external 30s contract from spec §5's
// graceful-shutdown sequence.
const placementDrainDeadline = 30 * time.Second

// WaitForShutdownSignal blocks until SIGINT or SIGTERM arrives, then runs
// the graceful shutdown sequence (spec §5): stop accepting new signals,
// wait up to 30s for in-flight placements to settle, optionally flatten
// every open position, then return. cancel stops the engine's own context
// so its candle-draining goroutine can exit after this returns.
func (e *Engine) WaitForShutdownSignal(cancel func(), closeAllOnExit bool) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	e.log.Info("shutdown signal received, draining order controller")
	e.Shutdown(closeAllOnExit)
	cancel()
}

// Shutdown runs the graceful sequence synchronously, independent of signal
// handling — used directly by the backtest/CLI paths and by tests.
func (e *Engine) Shutdown(closeAllOnExit bool) {
	e.controller.StopAccepting()

	if !e.controller.WaitInFlight(placementDrainDeadline) {
		e.log.Warnf("shutdown: %s elapsed with placements still in flight, proceeding anyway", placementDrainDeadline)
	}

	if closeAllOnExit {
		orders, err := e.controller.CloseAllPositions()
		if err != nil {
			e.log.WithError(err).Error("shutdown: close all positions")
		} else if len(orders) > 0 {
			e.log.Infof("shutdown: flattened %d position(s)", len(orders))
		}
	}
}
