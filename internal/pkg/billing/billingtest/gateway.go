// Package billingtest provides an in-memory payment gateway and signed event
// builders for tests of billing consumers.
package billingtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/askthestars/askthestars/internal/pkg/billing"
)

// Gateway is a scriptable billing.Gateway.
type Gateway struct {
	mu sync.Mutex

	Sessions      map[string]*billing.CheckoutSessionObject
	Subscriptions map[string]*billing.SubscriptionObject

	// Err, when set, is returned by every call.
	Err error
	// Delay blocks every call until it elapses or the context is done.
	Delay time.Duration

	Created     []billing.CheckoutSessionInput
	Calls       map[string]int
	CancelNowAt time.Time
}

// NewGateway creates an empty fake gateway.
func NewGateway() *Gateway {
	return &Gateway{
		Sessions:      make(map[string]*billing.CheckoutSessionObject),
		Subscriptions: make(map[string]*billing.SubscriptionObject),
		Calls:         make(map[string]int),
		CancelNowAt:   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// AddSubscription registers a subscription returned by GetSubscription.
func (g *Gateway) AddSubscription(sub billing.SubscriptionObject) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Subscriptions[sub.ID] = &sub
}

// AddSession registers a session returned by GetCheckoutSession.
func (g *Gateway) AddSession(s billing.CheckoutSessionObject) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Sessions[s.ID] = &s
}

// CallCount returns how often the named method was called.
func (g *Gateway) CallCount(method string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.Calls[method]
}

func (g *Gateway) enter(ctx context.Context, method string) error {
	g.mu.Lock()
	g.Calls[method]++
	delay, err := g.Delay, g.Err
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, in billing.CheckoutSessionInput) (*billing.CreatedSession, error) {
	if err := g.enter(ctx, "CreateCheckoutSession"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Created = append(g.Created, in)
	id := fmt.Sprintf("cs_test_%d", len(g.Created))
	return &billing.CreatedSession{ID: id, URL: "https://checkout.example/" + id}, nil
}

func (g *Gateway) GetCheckoutSession(ctx context.Context, sessionID string) (*billing.CheckoutSessionObject, error) {
	if err := g.enter(ctx, "GetCheckoutSession"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.Sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("get checkout session: %w", billing.ErrInvalidRequest)
	}
	cp := *s
	return &cp, nil
}

func (g *Gateway) GetSubscription(ctx context.Context, subscriptionID string) (*billing.SubscriptionObject, error) {
	if err := g.enter(ctx, "GetSubscription"); err != nil {
		return nil, err
	}
	return g.subscription(subscriptionID)
}

func (g *Gateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*billing.SubscriptionObject, error) {
	if err := g.enter(ctx, "CancelAtPeriodEnd"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	if s, ok := g.Subscriptions[subscriptionID]; ok {
		s.CancelAtPeriodEnd = true
	}
	g.mu.Unlock()
	return g.subscription(subscriptionID)
}

func (g *Gateway) CancelNow(ctx context.Context, subscriptionID string) (*billing.SubscriptionObject, error) {
	if err := g.enter(ctx, "CancelNow"); err != nil {
		return nil, err
	}
	g.mu.Lock()
	if s, ok := g.Subscriptions[subscriptionID]; ok {
		at := g.CancelNowAt
		s.Status = "canceled"
		s.CanceledAt = &at
	}
	g.mu.Unlock()
	return g.subscription(subscriptionID)
}

func (g *Gateway) subscription(id string) (*billing.SubscriptionObject, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.Subscriptions[id]
	if !ok {
		return nil, fmt.Errorf("get subscription %s: %w", id, billing.ErrSubscriptionNotFound)
	}
	cp := *s
	return &cp, nil
}
