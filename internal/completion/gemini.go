package completion

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/KlutzyFella/Papyrus/internal/config"
)

const (
	// GeminiEndpoint Google Generative Language API 地址
	GeminiEndpoint = "https://generativelanguage.googleapis.com/v1beta"
	// GeminiModel 默认模型
	GeminiModel = "gemini-2.0-flash"
)

type gemini struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func newGemini(cfg config.AIConfig, client *http.Client) *gemini {
	g := &gemini{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   client,
	}
	if g.endpoint == "" {
		g.endpoint = GeminiEndpoint
	}
	if g.model == "" {
		g.model = GeminiModel
	}
	return g
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *gemini) complete(ctx context.Context, prompt string) (string, error) {
	req := geminiRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: prompt}},
		}},
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.endpoint, g.model)
	var resp geminiResponse
	if err := postJSON(ctx, g.client, url, map[string]string{"x-goog-api-key": g.apiKey}, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%w: %s %s", ErrServiceUnavailable, resp.Error.Status, resp.Error.Message)
	}
	if len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	// 回复可能被拆成多个 part，按顺序拼接
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}
