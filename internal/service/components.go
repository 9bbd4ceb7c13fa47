// File: internal/service/components.go
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/xkilldash9x/noticescan/api/schemas"
	"github.com/xkilldash9x/noticescan/internal/engine"
	"github.com/xkilldash9x/noticescan/internal/observability"
	"github.com/xkilldash9x/noticescan/internal/store"
)

// Runner runs a scan over a list of targets. engine.Engine implements it.
type Runner interface {
	Run(ctx context.Context, targets []schemas.Target) (engine.Summary, error)
}

// Browser is the shared browser process. session.Allocator implements it.
type Browser interface {
	Close()
}

// Components holds all the initialized services required for a scan.
// This struct centralizes the lifecycle management of scan-related dependencies.
type Components struct {
	Engine  Runner
	Sink    store.Sink
	Browser Browser
}

// Shutdown releases the components. The browser goes first, then the sinks,
// which closes the database pool.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	if c.Browser != nil {
		c.Browser.Close()
		logger.Debug("Browser shut down.")
	}
	if c.Sink != nil {
		if err := c.Sink.Close(); err != nil {
			logger.Warn("Error while closing result sinks.", zap.Error(err))
		} else {
			logger.Debug("Result sinks closed.")
		}
	}

	logger.Info("All scan components shut down.")
}
