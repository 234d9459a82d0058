package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/askthestars/askthestars/app/models"
	"github.com/askthestars/askthestars/internal/pkg/entitlements"
)

const (
	pendingMessage = "Confirming your subscription..."
	timeoutMessage = "We could not confirm your subscription yet. Please refresh the page in a moment or contact support if this persists."
)

// Poller waits for the webhook path to activate a user after checkout. It
// only reads entitlement state, apart from the account-creation default.
type Poller struct {
	store    Store
	interval time.Duration
	timeout  time.Duration
}

// NewPoller creates a poller with the given interval and overall timeout.
func NewPoller(store Store, interval, timeout time.Duration) *Poller {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Poller{store: store, interval: interval, timeout: timeout}
}

// Await polls until the user's status confirms the subscription or the
// timeout elapses. Cancelling ctx returns the pending state.
func (p *Poller) Await(ctx context.Context, userID string) PollResult {
	if err := p.store.EnsureDefault(ctx, userID); err != nil {
		log.Warnf("[Poller] Could not ensure entitlement for user %s: %v", userID, err)
	}

	deadline := time.NewTimer(p.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last *models.Entitlement
	for {
		rec, err := p.store.Get(ctx, userID)
		switch {
		case err == nil:
			last = rec
			if confirmed(rec.Status) {
				return PollResult{State: PollConfirmed, Entitlement: rec}
			}
		case !errors.Is(err, ErrNotFound):
			log.Warnf("[Poller] Read failed for user %s: %v", userID, err)
		}

		select {
		case <-ctx.Done():
			return PollResult{State: PollPending, Message: pendingMessage, Entitlement: last}
		case <-deadline.C:
			return PollResult{State: PollTimeout, Message: timeoutMessage, Entitlement: last}
		case <-ticker.C:
		}
	}
}

func confirmed(s entitlements.Status) bool {
	return s == entitlements.StatusActive || s == entitlements.StatusTrialing
}
