// Package ai provides the Speech and LLM adapter interfaces (spec §4.5,
// GLOSSARY "Adapter") plus resty-backed implementations for Gemini
// (speech + fast summarization) and OpenRouter (higher-capacity article
// generation).
package ai

import (
	"context"
	"fmt"
	"time"

	"cobblepod/internal/herr"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
)

// SpeechAdapter transcribes one base64-encoded audio chunk to text.
type SpeechAdapter interface {
	Transcribe(ctx context.Context, audioBase64 string) (string, error)
}

// CompleteOptions customizes an LLM call.
type CompleteOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// LLMAdapter turns a prompt into generated text.
type LLMAdapter interface {
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error)
}

const (
	requestTimeout = 2 * time.Minute
	maxRetries     = 3
)

// retryBackoff mirrors this codebase's constant-backoff retry shape: one
// initial attempt plus at most maxRetries retries.
func retryBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), maxRetries)
}

// withRetry runs fn under retryBackoff, classifying a persistent failure as
// TransientDownstream per spec §7.
func withRetry(ctx context.Context, op string, fn func() error) error {
	err := backoff.Retry(func() error {
		if err := fn(); err != nil {
			return err
		}
		return nil
	}, backoff.WithContext(retryBackoff(), ctx))
	if err != nil {
		return herr.Wrap(herr.KindTransientDownstream, op, err)
	}
	return nil
}

// GeminiAdapter implements SpeechAdapter and LLMAdapter against the Gemini
// generateContent API.
type GeminiAdapter struct {
	client *resty.Client
	apiKey string
	model  string
}

// NewGeminiAdapter constructs a resty-backed Gemini client.
func NewGeminiAdapter(apiKey, model string) *GeminiAdapter {
	client := resty.New().
		SetBaseURL("https://generativelanguage.googleapis.com/v1beta").
		SetTimeout(requestTimeout)
	return &GeminiAdapter{client: client, apiKey: apiKey, model: model}
}

type geminiInlinePart struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlinePart `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

func (g *geminiResponse) text() string {
	if len(g.Candidates) == 0 || len(g.Candidates[0].Content.Parts) == 0 {
		return ""
	}
	return g.Candidates[0].Content.Parts[0].Text
}

// transcribePrompt demands honest refusal on silence and forbids
// confabulation, per spec §4.5 step 5.
const transcribePrompt = `Transcribe the attached audio verbatim. If the audio ` +
	`is silent or contains no intelligible speech, respond with exactly ` +
	`"[no speech detected]". Never invent words, names, or content that is not ` +
	`clearly audible.`

// Transcribe sends one audio chunk (base64-encoded by the caller) to Gemini
// as inline audio data and returns the raw transcript text.
func (g *GeminiAdapter) Transcribe(ctx context.Context, audioBase64 string) (string, error) {
	var result geminiResponse
	err := withRetry(ctx, "gemini transcribe", func() error {
		resp, err := g.client.R().
			SetContext(ctx).
			SetQueryParam("key", g.apiKey).
			SetBody(geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{
				{Text: transcribePrompt},
				{InlineData: &geminiInlinePart{MimeType: "audio/wav", Data: audioBase64}},
			}}}}).
			SetResult(&result).
			Post(fmt.Sprintf("/models/%s:generateContent", g.model))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("gemini returned %d: %s", resp.StatusCode(), resp.String())
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result.text(), nil
}

// Complete implements LLMAdapter against Gemini's text-only generateContent.
func (g *GeminiAdapter) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	model := g.model
	if opts.Model != "" {
		model = opts.Model
	}
	var result geminiResponse
	err := withRetry(ctx, "gemini complete", func() error {
		resp, err := g.client.R().
			SetContext(ctx).
			SetQueryParam("key", g.apiKey).
			SetBody(geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: prompt}}}}}).
			SetResult(&result).
			Post(fmt.Sprintf("/models/%s:generateContent", model))
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("gemini returned %d: %s", resp.StatusCode(), resp.String())
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result.text(), nil
}

// OpenRouterAdapter implements LLMAdapter for higher-capacity article
// generation (spec §4.5's Article handler).
type OpenRouterAdapter struct {
	client *resty.Client
	apiKey string
	model  string
}

// NewOpenRouterAdapter constructs a resty-backed OpenRouter client.
func NewOpenRouterAdapter(apiKey, model string) *OpenRouterAdapter {
	client := resty.New().
		SetBaseURL("https://openrouter.ai/api/v1").
		SetTimeout(requestTimeout).
		SetAuthToken(apiKey)
	return &OpenRouterAdapter{client: client, apiKey: apiKey, model: model}
}

type openRouterMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openRouterRequest struct {
	Model    string              `json:"model"`
	Messages []openRouterMessage `json:"messages"`
}

type openRouterChoice struct {
	Message openRouterMessage `json:"message"`
}

type openRouterResponse struct {
	Choices []openRouterChoice `json:"choices"`
}

// Complete implements LLMAdapter against OpenRouter's chat-completions API.
func (o *OpenRouterAdapter) Complete(ctx context.Context, prompt string, opts CompleteOptions) (string, error) {
	model := o.model
	if opts.Model != "" {
		model = opts.Model
	}
	var result openRouterResponse
	err := withRetry(ctx, "openrouter complete", func() error {
		resp, err := o.client.R().
			SetContext(ctx).
			SetBody(openRouterRequest{Model: model, Messages: []openRouterMessage{{Role: "user", Content: prompt}}}).
			SetResult(&result).
			Post("/chat/completions")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("openrouter returned %d: %s", resp.StatusCode(), resp.String())
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(result.Choices) == 0 {
		return "", herr.New(herr.KindPoisonInput, "openrouter returned no choices")
	}
	return result.Choices[0].Message.Content, nil
}
