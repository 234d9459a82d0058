package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askthestars/askthestars/internal/pkg/billing"
	"github.com/askthestars/askthestars/internal/pkg/entitlements"
)

func TestPollerConfirmsWhenActivated(t *testing.T) {
	store := billing.NewMemoryStore()
	p := billing.NewPoller(store, 5*time.Millisecond, time.Second)

	go func() {
		time.Sleep(20 * time.Millisecond)
		active := entitlements.StatusActive
		_, _ = store.UpsertMerge(context.Background(), "u1", billing.Patch{
			EventID:   "evt_1",
			EventTime: time.Now(),
			Status:    &active,
		})
	}()

	res := p.Await(context.Background(), "u1")
	assert.Equal(t, billing.PollConfirmed, res.State)
	require.NotNil(t, res.Entitlement)
	assert.Equal(t, entitlements.StatusActive, res.Entitlement.Status)
}

func TestPollerTimesOut(t *testing.T) {
	store := billing.NewMemoryStore()
	p := billing.NewPoller(store, 5*time.Millisecond, 30*time.Millisecond)

	res := p.Await(context.Background(), "u1")

	assert.Equal(t, billing.PollTimeout, res.State)
	assert.Contains(t, res.Message, "refresh")
	require.NotNil(t, res.Entitlement)
	assert.Equal(t, entitlements.StatusNone, res.Entitlement.Status)
	// Only the account-creation default was written.
	assert.Equal(t, 0, store.Writes())
}

func TestPollerPendingWhenCallerGivesUp(t *testing.T) {
	p := billing.NewPoller(billing.NewMemoryStore(), 5*time.Millisecond, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res := p.Await(ctx, "u1")

	assert.Equal(t, billing.PollPending, res.State)
}
