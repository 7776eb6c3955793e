package ocr

import (
	"context"
	"fmt"
	"log/slog"
)

// Result is one document's (or one page's, for multi-page aggregation) OCR
// outcome, independent of any Job bookkeeping — what gets cached and what
// a Job's terminal fields are populated from.
type Result struct {
	Status          Status
	TierUsed        Tier
	Confidence      float64
	ExtractedText   string
	ExtractedFields map[string]string
	Warnings        map[string]string
	PageConfidences []float64
}

// PipelineInput is the raw document plus the caller's intent.
type PipelineInput struct {
	TenantID      string
	Data          []byte
	ExtractFields []string
}

// Pipeline wires the fast/vision tiers, preprocessing, PDF rasterization,
// and the result cache into the full auto-tiering algorithm of spec.md
// §4.5. Grounded on original_source/services/ocr/app/processor.py's
// `OCRProcessor.process_document` / `_auto_tier_process`.
type Pipeline struct {
	fast         FastOCR
	vision       VisionOCR
	preprocessor Preprocessor
	pdfRenderer  PDFRenderer
	imageDecoder ImageDecoder
	cache        Cache
	logger       *slog.Logger

	tesseractThreshold float64
	aiThreshold        float64
}

// NewPipeline constructs a Pipeline with the spec's default thresholds.
// cache may be nil to disable the content-hash cache.
func NewPipeline(fast FastOCR, vision VisionOCR, preprocessor Preprocessor, pdfRenderer PDFRenderer, imageDecoder ImageDecoder, cache Cache, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		fast:               fast,
		vision:             vision,
		preprocessor:       preprocessor,
		pdfRenderer:        pdfRenderer,
		imageDecoder:       imageDecoder,
		cache:              cache,
		logger:             logger,
		tesseractThreshold: DefaultTesseractThreshold,
		aiThreshold:        DefaultAIThreshold,
	}
}

// Process runs the full tiering pipeline over a document, which may be a
// single image or a multi-page PDF. It is the entry point for `POST
// /ocr/process` (spec.md §6).
func (p *Pipeline) Process(ctx context.Context, in PipelineInput) (*Result, error) {
	hash := DocumentHash(in.Data)

	if p.cache != nil {
		if entry, hit, err := p.cache.Get(ctx, hash); err != nil {
			p.logger.Warn("ocr: cache lookup failed, proceeding without it", "error", err)
		} else if hit {
			p.logger.Info("ocr: cache hit", "document_hash", hash, "hit_count", entry.HitCount)
			res := entry.Result
			return &res, nil
		}
	}

	pages, err := p.rasterize(ctx, in.Data)
	if err != nil {
		return nil, fmt.Errorf("ocr: rasterize document: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("ocr: document produced no pages")
	}

	result, err := p.processPages(ctx, pages, in.ExtractFields)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if err := p.cache.Put(ctx, hash, *result); err != nil {
			p.logger.Warn("ocr: cache write failed", "error", err)
		}
	}
	return result, nil
}

// rasterize turns the raw document bytes into one RawImage per page: a PDF
// is rendered at RenderDPI, anything else is decoded as a single image.
func (p *Pipeline) rasterize(ctx context.Context, data []byte) ([]RawImage, error) {
	if isPDF(data) {
		if p.pdfRenderer == nil {
			return nil, fmt.Errorf("ocr: document is a PDF but no PDFRenderer is configured")
		}
		return p.pdfRenderer.RenderPages(ctx, data, RenderDPI)
	}
	if p.imageDecoder == nil {
		return nil, fmt.Errorf("ocr: no ImageDecoder configured for non-PDF input")
	}
	img, err := p.imageDecoder.Decode(ctx, data)
	if err != nil {
		return nil, err
	}
	return []RawImage{img}, nil
}

// processPages runs the per-page tier escalation and aggregates the
// multi-page result by taking the max confidence across pages (spec.md
// §4.5's "Multi-page" rule) while concatenating extracted text in page
// order and merging extracted fields (later pages' empty values never
// overwrite an earlier page's nonempty ones).
func (p *Pipeline) processPages(ctx context.Context, pages []RawImage, extractFields []string) (*Result, error) {
	agg := &Result{
		ExtractedFields: make(map[string]string),
		Warnings:        make(map[string]string),
	}

	for i, page := range pages {
		pageResult, err := p.processPage(ctx, page, extractFields)
		if err != nil {
			return nil, fmt.Errorf("ocr: page %d: %w", i+1, err)
		}

		agg.PageConfidences = append(agg.PageConfidences, pageResult.Confidence)
		if pageResult.Confidence > agg.Confidence {
			agg.Confidence = pageResult.Confidence
			agg.TierUsed = pageResult.TierUsed
		}
		if agg.ExtractedText != "" {
			agg.ExtractedText += "\n\n"
		}
		agg.ExtractedText += pageResult.ExtractedText
		for k, v := range pageResult.ExtractedFields {
			if existing, ok := agg.ExtractedFields[k]; !ok || existing == "" {
				agg.ExtractedFields[k] = v
			}
		}
		for k, v := range pageResult.Warnings {
			agg.Warnings[fmt.Sprintf("page_%d_%s", i+1, k)] = v
		}
	}

	switch {
	case agg.Confidence < p.aiThreshold:
		agg.Status = StatusAwaitingReview
	default:
		agg.Status = StatusCompleted
	}
	return agg, nil
}

// processPage runs one page through the fast tier, escalating to the
// vision tier either when the fast tier's confidence falls below
// tesseractThreshold or when the fast tier itself raises an exception, per
// spec.md §4.5 step 3 and its failure semantics ("Fast-tier exception ->
// try vision"). The page only fails outright if vision has no result to
// fall back on either.
func (p *Pipeline) processPage(ctx context.Context, img RawImage, extractFields []string) (*Result, error) {
	prepped := img
	if p.preprocessor != nil {
		prepped = Preprocess(p.preprocessor, img)
	}

	var res *Result
	text, confidence, meta, err := p.fast.Extract(ctx, prepped)
	if err != nil {
		p.logger.Warn("ocr: fast tier failed, escalating to vision tier", "error", err)
		res = &Result{
			Status:   StatusProcessingFast,
			TierUsed: TierTesseract,
			Warnings: map[string]string{"fast_tier_error": err.Error()},
		}
	} else {
		res = &Result{
			Status:        StatusProcessingFast,
			TierUsed:      TierTesseract,
			Confidence:    confidence,
			ExtractedText: text,
			Warnings:      make(map[string]string),
		}
		if meta.LowConfidenceWords > 0 {
			res.Warnings["low_confidence_words"] = fmt.Sprintf("%d", meta.LowConfidenceWords)
		}
		if confidence >= p.tesseractThreshold {
			return res, nil
		}
	}

	if p.vision == nil {
		if err != nil {
			return nil, fmt.Errorf("fast tier: %w", err)
		}
		res.Warnings["vision_escalation_unavailable"] = "no VisionOCR tier configured"
		return res, nil
	}

	visionText, visionConfidence, fields, visionErr := p.vision.Extract(ctx, prepped, extractFields)
	if visionErr != nil {
		if err != nil {
			return nil, fmt.Errorf("fast tier: %w; vision tier: %v", err, visionErr)
		}
		res.Warnings["vision_tier_error"] = visionErr.Error()
		return res, nil
	}
	return &Result{
		Status:          StatusProcessingVision,
		TierUsed:        TierAIVision,
		Confidence:      visionConfidence,
		ExtractedText:   visionText,
		ExtractedFields: fields,
		Warnings:        res.Warnings,
	}, nil
}

// CompleteReview applies a human correction to an awaiting_review result,
// fixing confidence at 100.0 per spec.md §4.5.
func CompleteReview(result Result, review Review) Result {
	result.Status = StatusCompleted
	result.TierUsed = TierHumanReview
	result.Confidence = 100.0
	if review.CorrectedText != "" {
		result.ExtractedText = review.CorrectedText
	}
	if review.CorrectedFields != nil {
		if result.ExtractedFields == nil {
			result.ExtractedFields = make(map[string]string)
		}
		for k, v := range review.CorrectedFields {
			result.ExtractedFields[k] = v
		}
	}
	return result
}
