package collaborator

import (
	"context"
	"errors"
	"fmt"
	"google.golang.org/genai"
	"strings"
	"time"
)

const extractPrompt = "Transcribe the handwritten text on this page exactly as written. " +
	"Return plain text only."

const structurePrompt = `The text below was produced by OCR of handwritten lecture notes and contains recognition mistakes, broken spacing and lost structure.
Rebuild it as clean Markdown without changing its meaning:
- use # for main headings and ## for subheadings
- use "- " for every bullet point
- wrap code in fenced blocks
- keep every piece of information, do not summarize
- fix obvious recognition errors and note each fix in parentheses on the next line
- start a new heading whenever the topic changes
- do not use emphasis markers or emojis

INPUT:
%s

OUTPUT (Markdown only):`

type GeminiConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// Gemini implements Extractor and Structurer on the Gemini API. Every call is
// bounded by the configured timeout.
type Gemini struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

func (g *Gemini) Extract(ctx context.Context, image []byte, mimeType string) (string, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(extractPrompt),
		genai.NewPartFromBytes(image, mimeType),
	}
	text, err := g.generate(ctx, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)})
	if err != nil {
		return "", errors.Join(ErrExtraction, err)
	}
	return text, nil
}

func (g *Gemini) Structure(ctx context.Context, text string) (string, error) {
	out, err := g.generate(ctx, genai.Text(fmt.Sprintf(structurePrompt, text)))
	if err != nil {
		return "", errors.Join(ErrStructuring, err)
	}
	if out == "" {
		return "", fmt.Errorf("%w: empty response", ErrStructuring)
	}
	return out, nil
}

func (g *Gemini) generate(ctx context.Context, contents []*genai.Content) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Text()), nil
}
