// Package collaborator holds the contracts of the external OCR and text structuring
// services together with their sentinel fallbacks.
package collaborator

import (
	"context"
	"errors"
	"fmt"
	"github.com/rs/zerolog"
	"strings"
)

var (
	ErrExtraction  = errors.New("text extraction failed")
	ErrStructuring = errors.New("text structuring failed")
)

const (
	// ExtractionErrorText replaces the fragment of an upload whose OCR call failed.
	ExtractionErrorText = "(Error extracting text)"
	// NoTextFoundText replaces the fragment of an upload whose OCR call returned nothing.
	NoTextFoundText = "(No text found)"
)

type Extractor interface {
	Extract(ctx context.Context, image []byte, mimeType string) (string, error)
}

type Structurer interface {
	Structure(ctx context.Context, text string) (string, error)
}

// ExtractOrPlaceholder never fails: errors become ExtractionErrorText and blank
// results become NoTextFoundText.
func ExtractOrPlaceholder(ctx context.Context, extractor Extractor, image []byte, mimeType string) string {
	text, err := extractor.Extract(ctx, image, mimeType)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("text extraction failed, using placeholder")
		return ExtractionErrorText
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return NoTextFoundText
	}
	return text
}

// Disabled stands in for both collaborators when no API key is configured, so
// every call takes the documented fallback.
type Disabled struct{}

func (Disabled) Extract(context.Context, []byte, string) (string, error) {
	return "", fmt.Errorf("%w: collaborator disabled", ErrExtraction)
}

func (Disabled) Structure(context.Context, string) (string, error) {
	return "", fmt.Errorf("%w: collaborator disabled", ErrStructuring)
}
