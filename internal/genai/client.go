// Package genai calls hosted and local LLM backends to draft reply
// text for the auto-reply pipeline and the message composer API.
package genai

import (
	"context"
	"fmt"
	"strings"

	"github.com/guonaihong/gout"
	"github.com/pkg/errors"

	"github.com/talkincode/wagate/config"
)

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"

	geminiEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent"
)

// Turn is one prior exchange in a conversation, role "user" or
// "model".
type Turn struct {
	Role    string
	Content string
}

// Request carries everything one generation needs. Provider and
// model fall back to configured defaults when empty.
type Request struct {
	Provider     string
	Model        string
	SystemPrompt string
	History      []Turn
	Message      string
	GeminiApiKey string
}

type Client struct {
	cfg *config.AppConfig
}

func NewClient(cfg *config.AppConfig) *Client {
	return &Client{cfg: cfg}
}

// Generate produces a single completion for the request, routed by
// provider.
func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	switch strings.ToLower(req.Provider) {
	case ProviderOllama:
		return c.generateOllama(ctx, req)
	case ProviderGemini, "":
		return c.generateGemini(ctx, req)
	default:
		return "", errors.Errorf("unknown ai provider %s", req.Provider)
	}
}

type geminiPart struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) generateGemini(ctx context.Context, req Request) (string, error) {
	apiKey := req.GeminiApiKey
	if apiKey == "" {
		apiKey = c.cfg.Genai.GeminiApiKey
	}
	if apiKey == "" {
		return "", errors.New("gemini api key not configured")
	}
	model := req.Model
	if model == "" {
		model = c.cfg.Genai.GeminiModel
	}

	body := geminiRequest{}
	if req.SystemPrompt != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.SystemPrompt}}}
	}
	for _, turn := range req.History {
		body.Contents = append(body.Contents, geminiContent{
			Role:  turn.Role,
			Parts: []geminiPart{{Text: turn.Content}},
		})
	}
	body.Contents = append(body.Contents, geminiContent{
		Role:  "user",
		Parts: []geminiPart{{Text: req.Message}},
	})

	var resp geminiResponse
	err := gout.POST(fmt.Sprintf(geminiEndpoint, model)).
		WithContext(ctx).
		SetQuery(gout.H{"key": apiKey}).
		SetJSON(body).
		BindJSON(&resp).
		Do()
	if err != nil {
		return "", errors.Wrap(err, "gemini request")
	}
	if resp.Error != nil {
		return "", errors.Errorf("gemini error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.Thought {
			continue
		}
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errors.New("gemini returned empty text")
	}
	return text, nil
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaResponse struct {
	Message ollamaMessage `json:"message"`
	Error   string        `json:"error"`
}

func (c *Client) generateOllama(ctx context.Context, req Request) (string, error) {
	baseURL := c.cfg.Genai.OllamaUrl
	if baseURL == "" {
		return "", errors.New("ollama url not configured")
	}
	model := req.Model
	if model == "" {
		model = c.cfg.Genai.OllamaModel
	}

	body := ollamaRequest{Model: model, Stream: false}
	if req.SystemPrompt != "" {
		body.Messages = append(body.Messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, turn := range req.History {
		role := turn.Role
		// Ollama uses the openai role names.
		if role == "model" {
			role = "assistant"
		}
		body.Messages = append(body.Messages, ollamaMessage{Role: role, Content: turn.Content})
	}
	body.Messages = append(body.Messages, ollamaMessage{Role: "user", Content: req.Message})

	var resp ollamaResponse
	err := gout.POST(strings.TrimRight(baseURL, "/") + "/api/chat").
		WithContext(ctx).
		SetJSON(body).
		BindJSON(&resp).
		Do()
	if err != nil {
		return "", errors.Wrap(err, "ollama request")
	}
	if resp.Error != "" {
		return "", errors.Errorf("ollama error: %s", resp.Error)
	}
	text := strings.TrimSpace(resp.Message.Content)
	if text == "" {
		return "", errors.New("ollama returned empty text")
	}
	return text, nil
}
