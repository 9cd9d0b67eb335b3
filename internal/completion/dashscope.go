package completion

import (
	"context"
	"fmt"
	"net/http"

	"github.com/KlutzyFella/Papyrus/internal/config"
)

const (
	// DashScopeEndpoint 阿里云 DashScope 文本生成接口
	DashScopeEndpoint = "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"
	// QwenModel 默认模型
	QwenModel = "qwen-turbo"
)

type dashScope struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func newDashScope(cfg config.AIConfig, client *http.Client) *dashScope {
	d := &dashScope{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		model:    cfg.Model,
		client:   client,
	}
	if d.endpoint == "" {
		d.endpoint = DashScopeEndpoint
	}
	if d.model == "" {
		d.model = QwenModel
	}
	return d
}

// dashScopeRequest 阿里云 API 请求结构
type dashScopeRequest struct {
	Model string `json:"model"`
	Input struct {
		Messages []chatMessage `json:"messages"`
	} `json:"input"`
	Parameters struct {
		ResultFormat string `json:"result_format"` // "message"
	} `json:"parameters"`
}

// dashScopeResponse 阿里云 API 响应结构
type dashScopeResponse struct {
	Output struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (d *dashScope) complete(ctx context.Context, prompt string) (string, error) {
	req := dashScopeRequest{Model: d.model}
	req.Input.Messages = []chatMessage{{Role: "user", Content: prompt}}
	req.Parameters.ResultFormat = "message"

	var resp dashScopeResponse
	if err := postJSON(ctx, d.client, d.endpoint, map[string]string{"Authorization": "Bearer " + d.apiKey}, req, &resp); err != nil {
		return "", err
	}
	if resp.Code != "" {
		return "", fmt.Errorf("%w: %s - %s", ErrServiceUnavailable, resp.Code, resp.Message)
	}
	if len(resp.Output.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return resp.Output.Choices[0].Message.Content, nil
}
