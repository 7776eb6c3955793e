// Package ocr implements the tiered OCR pipeline of spec.md §4.5: confidence
// -driven escalation from a fast tier to a vision tier to queued human
// review, with a content-hash-keyed result cache. Grounded on
// original_source/services/ocr/app/processor.py's `OCRProcessor`.
package ocr

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Tier identifies which pipeline stage produced a result.
type Tier string

const (
	TierTesseract   Tier = "tesseract"
	TierAIVision    Tier = "ai_vision"
	TierHumanReview Tier = "human_review"
)

// Status is a Job's lifecycle state.
type Status string

const (
	StatusPending          Status = "pending"
	StatusProcessingFast   Status = "processing_fast"
	StatusProcessingVision Status = "processing_vision"
	StatusAwaitingReview   Status = "awaiting_review"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Default confidence thresholds on a 0-100 scale (spec.md §4.5).
const (
	DefaultTesseractThreshold = 80.0
	DefaultAIThreshold        = 85.0
)

// DeskewThresholdDegrees is the minimum |angle| that triggers a deskew pass.
const DeskewThresholdDegrees = 0.5

// Job is one document's OCR processing record (spec.md §3).
type Job struct {
	ID              string
	TenantID        string
	DocumentHash    string
	Status          Status
	TierUsed        Tier
	Confidence      float64
	ExtractedText   string
	ExtractedFields map[string]string
	Warnings        map[string]string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DocumentHash returns the spec's content-addressable cache key: the
// SHA-256 hex digest of the raw document bytes.
func DocumentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// isPDF sniffs the 4-byte `%PDF` magic header (spec.md §8 boundary
// behavior), independent of any declared MIME/extension.
func isPDF(data []byte) bool {
	return len(data) >= 4 && string(data[:4]) == "%PDF"
}

// Review is the record produced when a human corrects an awaiting_review
// job. confidence_after_review is fixed at 100.0 per spec.md §4.5.
type Review struct {
	JobID                 string
	Reviewer              string
	CorrectedText         string
	CorrectedFields       map[string]string
	ConfidenceAfterReview float64
	ReviewedAt            time.Time
}
