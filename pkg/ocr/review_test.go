package ocr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewQueue_SubmitCompletesJob(t *testing.T) {
	store := NewMemoryJobStore()
	q := NewReviewQueue(store)
	ctx := context.Background()

	job := Job{ID: "job-1", TenantID: "tenant-a", Status: StatusAwaitingReview, Confidence: 62}
	require.NoError(t, q.Enqueue(ctx, job))

	reviewed, err := q.Submit(ctx, Review{
		JobID:         "job-1",
		Reviewer:      "reviewer@example.com",
		CorrectedText: "corrected text",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, reviewed.Status)
	assert.Equal(t, TierHumanReview, reviewed.TierUsed)
	assert.Equal(t, 100.0, reviewed.Confidence)
	assert.Equal(t, "corrected text", reviewed.ExtractedText)
}

func TestReviewQueue_SubmitRejectsWrongStatus(t *testing.T) {
	store := NewMemoryJobStore()
	q := NewReviewQueue(store)
	ctx := context.Background()

	job := Job{ID: "job-2", Status: StatusCompleted}
	require.NoError(t, store.Put(ctx, job))

	_, err := q.Submit(ctx, Review{JobID: "job-2"})
	assert.ErrorIs(t, err, ErrJobNotAwaitingReview)
}

func TestReviewQueue_SubmitUnknownJob(t *testing.T) {
	store := NewMemoryJobStore()
	q := NewReviewQueue(store)

	_, err := q.Submit(context.Background(), Review{JobID: "missing"})
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestReviewQueue_EnqueueRejectsNonAwaitingJob(t *testing.T) {
	store := NewMemoryJobStore()
	q := NewReviewQueue(store)

	err := q.Enqueue(context.Background(), Job{ID: "job-3", Status: StatusCompleted})
	assert.Error(t, err)
}
