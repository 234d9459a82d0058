package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stripe/stripe-go/v82"
)

func TestClassifyStripeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "deadline", err: fmt.Errorf("wrapped: %w", context.DeadlineExceeded), want: ErrGatewayUnavailable},
		{name: "connection", err: errors.New("dial tcp: connection refused"), want: ErrGatewayUnavailable},
		{name: "rate limited", err: &stripe.Error{HTTPStatusCode: http.StatusTooManyRequests, Type: stripe.ErrorTypeInvalidRequest}, want: ErrGatewayUnavailable},
		{name: "server error", err: &stripe.Error{HTTPStatusCode: http.StatusBadGateway, Type: stripe.ErrorTypeAPI}, want: ErrGatewayUnavailable},
		{name: "missing resource", err: &stripe.Error{HTTPStatusCode: http.StatusNotFound, Code: stripe.ErrorCodeResourceMissing, Type: stripe.ErrorTypeInvalidRequest}, want: ErrSubscriptionNotFound},
		{name: "invalid request", err: &stripe.Error{HTTPStatusCode: http.StatusBadRequest, Type: stripe.ErrorTypeInvalidRequest}, want: ErrPlanUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyStripeError("op", tt.err, ErrPlanUnavailable, ErrSubscriptionNotFound)
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestLineItemFor(t *testing.T) {
	c := DefaultCatalog("price_weekly", "")

	withID := lineItemFor(c["weekly"])
	assert.Equal(t, "price_weekly", *withID.Price)
	assert.Nil(t, withID.PriceData)

	inline := lineItemFor(c["annual"])
	assert.Nil(t, inline.Price)
	if assert.NotNil(t, inline.PriceData) {
		assert.Equal(t, int64(4999), *inline.PriceData.UnitAmount)
		assert.Equal(t, "year", *inline.PriceData.Recurring.Interval)
	}
}

func TestNewStripeGatewayRequiresKey(t *testing.T) {
	_, err := NewStripeGateway(" ")
	assert.Error(t, err)

	g, err := NewStripeGateway("sk_test_123")
	assert.NoError(t, err)
	assert.NotNil(t, g)
}
