// -----------------------------------------------------------------------
// Last Modified: Tuesday, 21st July 2026 3:22:47 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaesitor/internal/interfaces"
)

// sweepTimeout bounds one full pool sweep. Probes run sequentially, so
// the bound covers the whole pass, not one probe.
const sweepTimeout = 2 * time.Minute

// Sweeper runs the periodic proxy pool health sweep on a cron
// schedule. Without a configured expression it stays inert, which is
// the default: the sweep is an operator opt-in, not fleet policy.
type Sweeper struct {
	service interfaces.CoordinatorService
	cron    *cron.Cron
	expr    string
	logger  arbor.ILogger
	running bool
}

// NewSweeper creates a sweeper driving the given coordination service
func NewSweeper(cronExpr string, service interfaces.CoordinatorService, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		service: service,
		cron:    cron.New(),
		expr:    cronExpr,
		logger:  logger,
	}
}

// Start schedules the sweep. A missing cron expression disables it.
func (w *Sweeper) Start() error {
	if w.running {
		return fmt.Errorf("sweeper already running")
	}
	if w.expr == "" {
		w.logger.Info().Msg("Proxy health sweep disabled (no cron expression configured)")
		return nil
	}

	if _, err := w.cron.AddFunc(w.expr, w.runSweep); err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	w.cron.Start()
	w.running = true
	w.logger.Info().Str("cron_expr", w.expr).Msg("Proxy health sweep scheduled")
	return nil
}

// Stop halts the sweep schedule
func (w *Sweeper) Stop() {
	if !w.running {
		return
	}
	w.cron.Stop()
	w.running = false
	w.logger.Info().Msg("Proxy health sweep stopped")
}

func (w *Sweeper) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, _, err := w.service.Sweep(ctx); err != nil {
		w.logger.Warn().Err(err).Msg("Proxy pool sweep failed")
	}
}
