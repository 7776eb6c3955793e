package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantRateLimiter_AllowsWithinBurst(t *testing.T) {
	rl := NewTenantRateLimiter(1, 2, time.Minute)
	defer rl.Close()

	require.NoError(t, rl.Allow("tenant-a"))
	require.NoError(t, rl.Allow("tenant-a"))
}

func TestTenantRateLimiter_RejectsOverBurst(t *testing.T) {
	rl := NewTenantRateLimiter(1, 1, time.Minute)
	defer rl.Close()

	require.NoError(t, rl.Allow("tenant-a"))
	err := rl.Allow("tenant-a")
	require.Error(t, err)

	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	assert.Equal(t, "tenant-a", rlErr.TenantID)
}

func TestTenantRateLimiter_TracksTenantsIndependently(t *testing.T) {
	rl := NewTenantRateLimiter(1, 1, time.Minute)
	defer rl.Close()

	require.NoError(t, rl.Allow("tenant-a"))
	require.NoError(t, rl.Allow("tenant-b"))
}

func TestRouter_RouteValidation_RateLimited(t *testing.T) {
	worker := &fakeWorker{}
	rl := NewTenantRateLimiter(1, 1, time.Minute)
	defer rl.Close()
	r := New(poolWithWorker(worker), &fakeValidator{}, nil).WithRateLimiter(rl)

	_, err := r.RouteValidation(context.Background(), Request{Domain: "gtas", Mode: ModeStatic, TenantID: "t1"})
	require.NoError(t, err)

	_, err = r.RouteValidation(context.Background(), Request{Domain: "gtas", Mode: ModeStatic, TenantID: "t1"})
	require.Error(t, err)
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
}
