package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "sk_test_123")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:4000", cfg.Addr())
	assert.Equal(t, StoreMySQL, cfg.EntitlementStore)
	assert.Equal(t, 5*time.Minute, cfg.Stripe.WebhookTolerance)
	assert.Equal(t, 10*time.Second, cfg.CheckoutTimeout)
	assert.Equal(t, 15*time.Second, cfg.WebhookTimeout)
	assert.Equal(t, 30*time.Second, cfg.EventLockTTL)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 30*time.Second, cfg.PollTimeout)
	assert.Equal(t, "users", cfg.Firestore.Collection)
	assert.False(t, cfg.CacheEnabled())
	assert.False(t, cfg.ArchiveEnabled)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing stripe key",
			env:  map[string]string{},
			want: "STRIPE_SECRET_KEY",
		},
		{
			name: "bad duration",
			env:  map[string]string{"STRIPE_SECRET_KEY": "sk", "CHECKOUT_TIMEOUT": "soon"},
			want: "CHECKOUT_TIMEOUT",
		},
		{
			name: "unknown store",
			env:  map[string]string{"STRIPE_SECRET_KEY": "sk", "ENTITLEMENT_STORE": "postgres"},
			want: "ENTITLEMENT_STORE",
		},
		{
			name: "firestore without project",
			env:  map[string]string{"STRIPE_SECRET_KEY": "sk", "ENTITLEMENT_STORE": "firestore"},
			want: "FIRESTORE_PROJECT_ID",
		},
		{
			name: "memory store in prod",
			env:  map[string]string{"STRIPE_SECRET_KEY": "sk", "ENTITLEMENT_STORE": "memory", "APP_ENV": "prod"},
			want: "not allowed in prod",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STRIPE_SECRET_KEY", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
