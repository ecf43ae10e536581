package eventhandler

import (
	"context"
	"time"

	"github.com/rulesmaster/progress-sync/internal/domain/shared"
	"github.com/rulesmaster/progress-sync/pkg/logger"
)

// ═══════════════════════════════════════════════════════════════════════════
// ON USER SIGNED OUT HANDLER
// Lets in-flight background writes finish before the session goes away.
// ═══════════════════════════════════════════════════════════════════════════

// Drainer waits for scheduled background work.
type Drainer interface {
	Wait(ctx context.Context) error
}

// OnUserSignedOutHandler handles identity.user_signed_out.
type OnUserSignedOutHandler struct {
	drainers []Drainer
	timeout  time.Duration
	logger   *logger.Logger
}

// NewOnUserSignedOutHandler creates the handler. A zero timeout waits as
// long as the event context allows.
func NewOnUserSignedOutHandler(timeout time.Duration, log *logger.Logger, drainers ...Drainer) *OnUserSignedOutHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &OnUserSignedOutHandler{
		drainers: drainers,
		timeout:  timeout,
		logger:   log.With(logger.String("handler", "on_user_signed_out")),
	}
}

// Handle implements shared.EventHandler.
func (h *OnUserSignedOutHandler) Handle(ctx context.Context, event shared.Event) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	for _, d := range h.drainers {
		if err := d.Wait(ctx); err != nil {
			h.logger.Warn("background work still running at sign-out",
				logger.UserID(event.AggregateID()),
				logger.Err(err),
			)
			return nil
		}
	}
	h.logger.Debug("background work drained",
		logger.UserID(event.AggregateID()),
		logger.Latency(time.Since(start)),
	)
	return nil
}
