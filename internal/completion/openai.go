package completion

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/KlutzyFella/Papyrus/internal/config"
)

const (
	// OpenAIEndpoint 兼容 OpenAI 的接口根地址
	OpenAIEndpoint = "https://api.openai.com/v1"
	// OpenAIModel 默认模型
	OpenAIModel = "gpt-4o-mini"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAI struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func newOpenAI(cfg config.AIConfig, client *http.Client) *openAI {
	o := &openAI{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   client,
	}
	if o.endpoint == "" {
		o.endpoint = OpenAIEndpoint
	}
	if o.model == "" {
		o.model = OpenAIModel
	}
	return o
}

type openAIRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (o *openAI) complete(ctx context.Context, prompt string) (string, error) {
	req := openAIRequest{
		Model:    o.model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
	}

	var resp openAIResponse
	if err := postJSON(ctx, o.client, o.endpoint+"/chat/completions", map[string]string{"Authorization": "Bearer " + o.apiKey}, req, &resp); err != nil {
		return "", err
	}
	if resp.Error != nil {
		return "", fmt.Errorf("%w: %s: %s", ErrServiceUnavailable, resp.Error.Type, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
