package verification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/config"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
)

func TestSendLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewSendLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }

	assert.True(t, limiter.Allow("+15551230001"))
	assert.True(t, limiter.Allow("+15551230001"))
	assert.False(t, limiter.Allow("+15551230001"))

	// a different identifier is unaffected
	assert.True(t, limiter.Allow("+15551230002"))

	// one token comes back after the refill interval
	now = now.Add(time.Minute)
	assert.True(t, limiter.Allow("+15551230001"))
	assert.False(t, limiter.Allow("+15551230001"))
}

func TestSendLimiterCapsAtBurst(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewSendLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.Allow("key"))

	// a long idle period refills to the burst cap, not beyond
	now = now.Add(time.Hour)
	assert.True(t, limiter.Allow("key"))
	assert.True(t, limiter.Allow("key"))
	assert.False(t, limiter.Allow("key"))
}

func TestSendLimiterSweep(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	limiter := NewSendLimiter(1, time.Minute)
	limiter.now = func() time.Time { return now }

	require.True(t, limiter.Allow("stale"))

	now = now.Add(2 * time.Hour)
	limiter.Sweep(time.Hour)

	// the swept identifier starts over with a full bucket
	assert.True(t, limiter.Allow("stale"))
}

func TestSendCodeIsRateLimited(t *testing.T) {
	sender := &MockSender{}
	svc := NewService(sender, config.VerificationConfig{
		CodeLength:  6,
		CodeTTL:     5 * time.Minute,
		MaxAttempts: 3,
		SendBurst:   2,
		SendRefill:  time.Hour,
	})
	ctx := context.Background()

	require.NoError(t, svc.SendCode(ctx, "+15551230001"))
	require.NoError(t, svc.SendCode(ctx, "+15551230001"))

	err := svc.SendCode(ctx, "+15551230001")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeTooManyAttempts))
	assert.Len(t, sender.Sent(), 2)
}
