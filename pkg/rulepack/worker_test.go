package rulepack

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	domain    string
	initCount int32
	health    HealthStatus
	healthErr error
}

func (f *fakeWorker) Initialize(ctx context.Context) error {
	atomic.AddInt32(&f.initCount, 1)
	return nil
}
func (f *fakeWorker) Validate(ctx context.Context, domain string, payload json.RawMessage) (*ValidateResult, error) {
	return &ValidateResult{Findings: []Finding{{RuleID: "r1", Passed: true}}}, nil
}
func (f *fakeWorker) Explain(ctx context.Context, domain string, payload json.RawMessage) (string, error) {
	return "explanation", nil
}
func (f *fakeWorker) GetInfo(ctx context.Context, domain string) (*Info, error) {
	return &Info{Domain: domain}, nil
}
func (f *fakeWorker) GetMetadata(ctx context.Context, domain string) (*Metadata, error) {
	return &Metadata{RuleCount: 1}, nil
}
func (f *fakeWorker) HealthCheck(ctx context.Context) (*Health, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &Health{Status: f.health}, nil
}
func (f *fakeWorker) Shutdown(ctx context.Context) error { return nil }

func TestPool_Get_ConstructsOncePerDomain(t *testing.T) {
	var built int32
	pool := NewPool(func(domain string) (Worker, error) {
		atomic.AddInt32(&built, 1)
		return &fakeWorker{domain: domain, health: HealthHealthy}, nil
	})

	done := make(chan struct{}, 10)
	for i := 0; i < 10; i++ {
		go func() {
			_, err := pool.Get(context.Background(), "tax")
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, int32(1), built, "factory must be called exactly once per domain")
}

func TestPool_HealthSummary_Aggregates(t *testing.T) {
	pool := NewPool(func(domain string) (Worker, error) {
		status := HealthHealthy
		if domain == "degraded-domain" {
			status = HealthDegraded
		}
		return &fakeWorker{domain: domain, health: status}, nil
	})

	_, err := pool.Get(context.Background(), "tax")
	require.NoError(t, err)
	_, err = pool.Get(context.Background(), "degraded-domain")
	require.NoError(t, err)

	status, details := pool.HealthSummary(context.Background())
	assert.Equal(t, HealthDegraded, status)
	assert.Len(t, details, 2)
}

func TestPool_HealthSummary_EmptyIsHealthy(t *testing.T) {
	pool := NewPool(func(domain string) (Worker, error) { return nil, nil })
	status, details := pool.HealthSummary(context.Background())
	assert.Equal(t, HealthHealthy, status)
	assert.Empty(t, details)
}

func TestPool_HealthSummary_WorkerHealthCheckErrorIsDegradedNeverUnhealthy(t *testing.T) {
	pool := NewPool(func(domain string) (Worker, error) {
		return &fakeWorker{domain: domain, healthErr: errors.New("connection refused")}, nil
	})

	_, err := pool.Get(context.Background(), "tax")
	require.NoError(t, err)
	_, err = pool.Get(context.Background(), "hr")
	require.NoError(t, err)

	status, details := pool.HealthSummary(context.Background())
	assert.Equal(t, HealthDegraded, status, "a health_check exception must never surface as unhealthy")
	assert.Len(t, details, 2)
	for _, h := range details {
		assert.Equal(t, HealthDegraded, h.Status)
	}
}
