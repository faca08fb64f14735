package nlp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TinoSegatti/REFORMA-2.0-sub001/internal/reforma/interaction"
)

const (
	defaultNLPBase  = "https://api.openai.com/v1"
	defaultNLPModel = "gpt-4o-mini"
	defaultTimeout  = 30 * time.Second
)

// Config configures the OpenAI-compatible provider.
type Config struct {
	// APIKey is the bearer token used to authenticate against the API.
	APIKey string

	// BaseURL overrides the API endpoint. Useful for local models (Ollama),
	// Azure OpenAI, or any other OpenAI-compatible endpoint.
	// Defaults to https://api.openai.com/v1 when empty.
	BaseURL string

	// Model is the chat model to use. Defaults to gpt-4o-mini when empty.
	Model string

	// Timeout is the HTTP request timeout. Defaults to 30 s.
	Timeout time.Duration
}

// openAIProvider implements Provider using the OpenAI chat completions API
// with JSON-mode output so every response is a parseable JSON object.
type openAIProvider struct {
	cfg    Config
	client *http.Client
}

// New returns a Provider backed by the OpenAI (or compatible) chat API.
// The returned provider is safe for concurrent use.
func New(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultNLPBase
	}
	if cfg.Model == "" {
		cfg.Model = defaultNLPModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &openAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// --- minimal OpenAI wire types ---

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model          string       `json:"model"`
	Messages       []oaiMessage `json:"messages"`
	MaxTokens      int          `json:"max_tokens,omitempty"`
	ResponseFormat *oaiFormat   `json:"response_format,omitempty"`
}

type oaiFormat struct {
	Type string `json:"type"` // "json_object"
}

type oaiResponse struct {
	Choices []oaiChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type oaiChoice struct {
	Message      oaiMessage `json:"message"`
	FinishReason string     `json:"finish_reason"`
}

// ClassifyIntent sends the message with the taxonomy prompt and returns a
// sanitised IntentResult.
func (p *openAIProvider) ClassifyIntent(ctx context.Context, text string) (*IntentResult, error) {
	content, err := p.complete(ctx, classifySystemPrompt, text)
	if err != nil {
		return nil, err
	}

	var result IntentResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("%w: decode classification JSON: %v (raw content: %.200s)", ErrMalformedOutput, err, content)
	}

	return sanitiseIntent(&result), nil
}

// ExtractFields sends the message with the kind's extraction prompt, checks
// the reply against the kind's JSON schema, and scores confidence as the
// fraction of required fields present.
func (p *openAIProvider) ExtractFields(ctx context.Context, text string, kind interaction.Kind) (*Extraction, error) {
	system, err := extractionSystemPrompt(kind)
	if err != nil {
		return nil, err
	}

	content, err := p.complete(ctx, system, text)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, fmt.Errorf("%w: decode extraction JSON: %v (raw content: %.200s)", ErrMalformedOutput, err, content)
	}
	if err := validateExtraction(kind, fields); err != nil {
		return nil, err
	}

	return &Extraction{
		Fields:     pruneNulls(fields),
		Confidence: ScoreExtraction(kind, fields),
	}, nil
}

// complete performs one JSON-mode chat completion and returns the raw
// assistant content.
func (p *openAIProvider) complete(ctx context.Context, system, user string) (string, error) {
	body := oaiRequest{
		Model: p.cfg.Model,
		Messages: []oaiMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:      512,
		ResponseFormat: &oaiFormat{Type: "json_object"},
	}

	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("nlp: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.cfg.BaseURL+"/chat/completions",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", fmt.Errorf("nlp: create http request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response body: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimit
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: HTTP %d (check API key)", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return "", fmt.Errorf("%w: decode API response: %v", ErrMalformedOutput, err)
	}

	if oaiResp.Error != nil {
		// Quota exhaustion arrives as an error object, not an HTTP status.
		if strings.Contains(oaiResp.Error.Type, "quota") || strings.Contains(oaiResp.Error.Message, "quota") {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, oaiResp.Error.Message)
		}
		return "", fmt.Errorf("%w: API error (%s): %s", ErrUnavailable, oaiResp.Error.Type, oaiResp.Error.Message)
	}

	if len(oaiResp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices returned (HTTP %d)", ErrUnavailable, resp.StatusCode)
	}

	return oaiResp.Choices[0].Message.Content, nil
}

// sanitiseIntent enforces the closed taxonomy on model output: unknown kinds
// become KindUnknown and confidence is clamped to [0, 1].
func sanitiseIntent(r *IntentResult) *IntentResult {
	if !knownKind(r.Kind) {
		r.Kind = interaction.KindUnknown
		r.Confidence = 0
	}
	if r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}
	return r
}

func knownKind(k interaction.Kind) bool {
	if k.IsCreation() || k.IsQuery() {
		return true
	}
	return k == interaction.KindUnknown
}

// ScoreExtraction computes the fraction of the kind's required fields that
// are non-null in the extracted fields. Exported so stub providers in tests
// score the same way the real one does.
func ScoreExtraction(kind interaction.Kind, fields map[string]any) float64 {
	tmpl, ok := TemplateFor(kind)
	if !ok || len(tmpl.Required) == 0 {
		return 0
	}
	present := 0
	for _, name := range tmpl.Required {
		if fieldPresent(fields[name]) {
			present++
		}
	}
	return float64(present) / float64(len(tmpl.Required))
}

func fieldPresent(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

// pruneNulls drops explicit nulls so "not supplied" is always an absent key
// downstream.
func pruneNulls(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}
