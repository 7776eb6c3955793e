package ocr

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFastOCR struct {
	confidence float64
	text       string
}

func (s stubFastOCR) Extract(_ context.Context, _ RawImage) (string, float64, PageMetadata, error) {
	return s.text, s.confidence, PageMetadata{}, nil
}

type stubErrFastOCR struct{ err error }

func (s stubErrFastOCR) Extract(_ context.Context, _ RawImage) (string, float64, PageMetadata, error) {
	return "", 0, PageMetadata{}, s.err
}

type stubErrVisionOCR struct{ err error }

func (s stubErrVisionOCR) Extract(_ context.Context, _ RawImage, _ []string) (string, float64, map[string]string, error) {
	return "", 0, nil, s.err
}

type stubVisionOCR struct {
	confidence float64
	text       string
	fields     map[string]string
}

func (s stubVisionOCR) Extract(_ context.Context, _ RawImage, _ []string) (string, float64, map[string]string, error) {
	return s.text, s.confidence, s.fields, nil
}

type stubImageDecoder struct{}

func (stubImageDecoder) Decode(_ context.Context, data []byte) (RawImage, error) {
	return RawImage{Bytes: data}, nil
}

type stubPDFRenderer struct {
	pages int
}

func (s stubPDFRenderer) RenderPages(_ context.Context, _ []byte, _ int) ([]RawImage, error) {
	out := make([]RawImage, s.pages)
	for i := range out {
		out[i] = RawImage{Bytes: []byte("page")}
	}
	return out, nil
}

func TestPipeline_FastTierAccepted(t *testing.T) {
	p := NewPipeline(stubFastOCR{confidence: 92, text: "hello"}, nil, nil, nil, stubImageDecoder{}, nil, nil)
	res, err := p.Process(context.Background(), PipelineInput{Data: []byte("some bytes")})
	require.NoError(t, err)
	assert.Equal(t, TierTesseract, res.TierUsed)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, 92.0, res.Confidence)
}

func TestPipeline_EscalatesToVisionBelowTesseractThreshold(t *testing.T) {
	fast := stubFastOCR{confidence: 60, text: "blurry"}
	vision := stubVisionOCR{confidence: 90, text: "clear", fields: map[string]string{"amount": "500"}}
	p := NewPipeline(fast, vision, nil, nil, stubImageDecoder{}, nil, nil)
	res, err := p.Process(context.Background(), PipelineInput{Data: []byte("some bytes")})
	require.NoError(t, err)
	assert.Equal(t, TierAIVision, res.TierUsed)
	assert.Equal(t, 90.0, res.Confidence)
	assert.Equal(t, "500", res.ExtractedFields["amount"])
}

func TestPipeline_FastTierErrorFallsThroughToVision(t *testing.T) {
	fast := stubErrFastOCR{err: errors.New("tesseract binary crashed")}
	vision := stubVisionOCR{confidence: 91, text: "recovered", fields: map[string]string{"amount": "42"}}
	p := NewPipeline(fast, vision, nil, nil, stubImageDecoder{}, nil, nil)
	res, err := p.Process(context.Background(), PipelineInput{Data: []byte("some bytes")})
	require.NoError(t, err)
	assert.Equal(t, TierAIVision, res.TierUsed)
	assert.Equal(t, 91.0, res.Confidence)
	assert.Equal(t, "42", res.ExtractedFields["amount"])
}

func TestPipeline_FastTierErrorAndNoVisionFails(t *testing.T) {
	fast := stubErrFastOCR{err: errors.New("tesseract binary crashed")}
	p := NewPipeline(fast, nil, nil, nil, stubImageDecoder{}, nil, nil)
	_, err := p.Process(context.Background(), PipelineInput{Data: []byte("some bytes")})
	require.Error(t, err)
}

func TestPipeline_FastTierErrorAndVisionErrorFails(t *testing.T) {
	fast := stubErrFastOCR{err: errors.New("tesseract binary crashed")}
	vision := stubErrVisionOCR{err: errors.New("vision api down")}
	p := NewPipeline(fast, vision, nil, nil, stubImageDecoder{}, nil, nil)
	_, err := p.Process(context.Background(), PipelineInput{Data: []byte("some bytes")})
	require.Error(t, err)
}

func TestPipeline_AwaitingReviewBelowAIThreshold(t *testing.T) {
	fast := stubFastOCR{confidence: 60, text: "blurry"}
	vision := stubVisionOCR{confidence: 70, text: "still unclear"}
	p := NewPipeline(fast, vision, nil, nil, stubImageDecoder{}, nil, nil)
	res, err := p.Process(context.Background(), PipelineInput{Data: []byte("some bytes")})
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingReview, res.Status)
}

func TestPipeline_MultiPageTakesMaxConfidence(t *testing.T) {
	fast := stubFastOCR{confidence: 92, text: "page text"}
	p := NewPipeline(fast, nil, nil, stubPDFRenderer{pages: 3}, nil, nil, nil)
	res, err := p.Process(context.Background(), PipelineInput{Data: []byte("%PDF-1.4 fake")})
	require.NoError(t, err)
	assert.Len(t, res.PageConfidences, 3)
	assert.Equal(t, 92.0, res.Confidence)
}

func TestPipeline_CacheHitSkipsReprocessing(t *testing.T) {
	cache := NewMemoryCache()
	fast := stubFastOCR{confidence: 92, text: "hello"}
	p := NewPipeline(fast, nil, nil, nil, stubImageDecoder{}, cache, nil)
	data := []byte("identical document")

	first, err := p.Process(context.Background(), PipelineInput{Data: data})
	require.NoError(t, err)

	second, err := p.Process(context.Background(), PipelineInput{Data: data})
	require.NoError(t, err)
	assert.Equal(t, first.ExtractedText, second.ExtractedText)

	entry, hit, err := cache.Get(context.Background(), DocumentHash(data))
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, int64(2), entry.HitCount)
}

func TestDocumentHash_Deterministic(t *testing.T) {
	a := DocumentHash([]byte("same content"))
	b := DocumentHash([]byte("same content"))
	c := DocumentHash([]byte("different content"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestIsPDF(t *testing.T) {
	assert.True(t, isPDF([]byte("%PDF-1.7 rest")))
	assert.False(t, isPDF([]byte("not a pdf")))
	assert.False(t, isPDF([]byte("%P")))
}
