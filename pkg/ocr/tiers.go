package ocr

import "context"

// RawImage is an opaque page image handed between preprocessing stages and
// OCR engines. The concrete image representation (cgo-backed OpenCV bitmap
// in the original distillation) is intentionally not modeled here — CORE
// only sequences stages over it, per spec.md's Non-goal on building the
// vision model/CV pipeline.
type RawImage struct {
	Bytes  []byte
	Width  int
	Height int
}

// PageMetadata is per-page diagnostic data a tier can report alongside its
// extracted text and confidence.
type PageMetadata struct {
	WordCount          int
	LowConfidenceWords int
}

// FastOCR is the cheap, fast tier (the original's `pytesseract` engine).
// The concrete OCR engine is an out-of-scope collaborator; CORE only
// depends on this contract.
type FastOCR interface {
	Extract(ctx context.Context, img RawImage) (text string, confidence float64, meta PageMetadata, err error)
}

// VisionOCR is the accurate, expensive tier (the original's vision-model
// call). Also an out-of-scope collaborator.
type VisionOCR interface {
	Extract(ctx context.Context, img RawImage, extractFields []string) (text string, confidence float64, fields map[string]string, err error)
}

// Preprocessor applies the grayscale -> adaptive-threshold -> denoise ->
// conditional-deskew pipeline of spec.md §4.5 to improve OCR accuracy.
// Concrete image-processing primitives are out of scope; this interface is
// the pluggable seam an actual CV library implements.
type Preprocessor interface {
	Grayscale(img RawImage) (RawImage, error)
	AdaptiveThreshold(img RawImage) (RawImage, error)
	Denoise(img RawImage) (RawImage, error)
	// DetectSkewAngle returns the image's skew angle in degrees.
	DetectSkewAngle(img RawImage) (float64, error)
	Deskew(img RawImage, angleDegrees float64) (RawImage, error)
}

// Preprocess runs the full pipeline, deskewing only when |angle| exceeds
// DeskewThresholdDegrees, per spec.md §4.5 step 2. A grayscale, threshold
// or denoise error falls back to the original image (matching the
// original's "Preprocessing failed... Using original image" behavior); a
// skew-detection or deskew error keeps the denoised image. No stage error
// fails the job.
func Preprocess(p Preprocessor, img RawImage) RawImage {
	out := img
	if g, err := p.Grayscale(out); err == nil {
		out = g
	} else {
		return img
	}
	if t, err := p.AdaptiveThreshold(out); err == nil {
		out = t
	} else {
		return img
	}
	if d, err := p.Denoise(out); err == nil {
		out = d
	} else {
		return img
	}

	angle, err := p.DetectSkewAngle(out)
	if err != nil {
		return out
	}
	if angle < 0 {
		angle = -angle
	}
	if angle > DeskewThresholdDegrees {
		if dsk, err := p.Deskew(out, angle); err == nil {
			out = dsk
		}
	}
	return out
}

// PDFRenderer splits a PDF document's bytes into per-page images at a fixed
// DPI (300 per spec.md §4.5). The concrete PDF rasterizer is an out-of-scope
// collaborator (the original's `pdf2image`).
type PDFRenderer interface {
	RenderPages(ctx context.Context, pdfBytes []byte, dpi int) ([]RawImage, error)
}

// RenderDPI is the fixed rasterization resolution spec.md §4.5 specifies.
const RenderDPI = 300

// ImageDecoder decodes a non-PDF document into a single-page RawImage.
// A concrete implementation (stdlib image.Decode, or a dedicated codec) is
// supplied by the caller; this type exists so Pipeline has one seam for
// "already an image" vs "needs rasterizing from PDF".
type ImageDecoder interface {
	Decode(ctx context.Context, data []byte) (RawImage, error)
}
