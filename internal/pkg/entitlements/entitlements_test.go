package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParsePlan(t *testing.T) {
	tests := []struct {
		in     string
		want   Plan
		wantOK bool
	}{
		{in: "weekly", want: PlanWeekly, wantOK: true},
		{in: " ANNUAL ", want: PlanAnnual, wantOK: true},
		{in: "monthly", want: PlanNone, wantOK: false},
		{in: "", want: PlanNone, wantOK: false},
	}

	for _, tt := range tests {
		got, ok := ParsePlan(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.wantOK, ok, tt.in)
	}
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusPastDue, ParseStatus("PAST_DUE"))
	assert.Equal(t, StatusPaymentFailed, ParseStatus("payment_failed"))
	assert.Equal(t, StatusNone, ParseStatus("cancelled"))
	assert.Equal(t, StatusNone, ParseStatus(""))
}

func TestIsEntitling(t *testing.T) {
	for _, s := range []Status{StatusActive, StatusTrialing, StatusPastDue} {
		assert.True(t, IsEntitling(s), s)
	}
	for _, s := range []Status{StatusNone, StatusIncomplete, StatusPaymentFailed, StatusCanceled} {
		assert.False(t, IsEntitling(s), s)
	}
}

func TestHasPremium(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	assert.True(t, HasPremium(StatusActive, &past, now))
	assert.True(t, HasPremium(StatusPastDue, &future, now))
	assert.False(t, HasPremium(StatusPastDue, &past, now))
	assert.False(t, HasPremium(StatusCanceled, &future, now))
	assert.True(t, HasPremium(StatusTrialing, nil, now))
}
