package llm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"google.golang.org/genai"
)

// Gemini is a Client backed by Google's Gemini API.
type Gemini struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, apiKey string, logger *slog.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Gemini{client: client, logger: logger}, nil
}

// Generate implements Client.
func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: &req.Temperature,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if len(req.Fields) > 0 {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = schemaFor(req.Fields)
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate (%s): %w", req.Model, err)
	}

	text := resp.Text()
	out := &Response{Text: text, Model: req.Model}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if md := resp.UsageMetadata; md != nil && md.TotalTokenCount > 0 {
		out.Usage = Usage{
			InputTokens:  int(md.PromptTokenCount),
			OutputTokens: int(md.CandidatesTokenCount),
		}
	} else {
		out.Usage = EstimateUsage(req.System+req.Prompt, text)
	}

	g.logger.Debug("gemini call completed",
		"model", out.Model,
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
		"estimated", out.Usage.Estimated,
	)
	return out, nil
}

func schemaFor(fields []Field) *genai.Schema {
	s := &genai.Schema{
		Type:       genai.TypeObject,
		Properties: make(map[string]*genai.Schema, len(fields)),
	}
	for _, f := range fields {
		prop := &genai.Schema{Type: genai.TypeString, Description: f.Description}
		if f.Type == FieldStringList {
			prop = &genai.Schema{
				Type:        genai.TypeArray,
				Description: f.Description,
				Items:       &genai.Schema{Type: genai.TypeString},
			}
		}
		s.Properties[f.Name] = prop
		s.Required = append(s.Required, f.Name)
		s.PropertyOrdering = append(s.PropertyOrdering, f.Name)
	}
	return s
}

// Lazy constructs its underlying client on first use and shares it for the
// rest of the process. Construction failures are remembered.
type Lazy struct {
	once   sync.Once
	build  func() (Client, error)
	client Client
	err    error
}

// NewLazy wraps a client constructor.
func NewLazy(build func() (Client, error)) *Lazy {
	return &Lazy{build: build}
}

// Generate implements Client.
func (l *Lazy) Generate(ctx context.Context, req Request) (*Response, error) {
	l.once.Do(func() {
		l.client, l.err = l.build()
	})
	if l.err != nil {
		return nil, l.err
	}
	return l.client.Generate(ctx, req)
}
