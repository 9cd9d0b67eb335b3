// Package completion 封装大模型文本补全服务
// 一次调用对应一个 prompt 和一段回复，不做重试
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KlutzyFella/Papyrus/internal/config"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/observability"
)

// 补全服务错误
var (
	ErrServiceUnavailable = errors.New("completion service unavailable") // 网络错误、非 200、服务返回错误体
	ErrEmptyResponse      = errors.New("completion returned no text")    // 去除空白后没有内容
)

// maxErrorBody 错误日志中最多保留的响应体长度
const maxErrorBody = 512

// Gateway 补全服务接口
type Gateway interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// provider 具体服务商的实现
type provider interface {
	complete(ctx context.Context, prompt string) (string, error)
}

// Client 补全服务客户端
// 在具体服务商之外统一记录指标、链路和日志
type Client struct {
	name    string
	model   string
	backend provider
	log     *logger.Logger
}

// New 根据配置创建补全客户端
// 参数:
//   - cfg: 大模型配置，provider 为 gemini / dashscope / openai
//   - log: 日志
//
// 返回:
//   - *Client: 客户端实例
//   - error: 不支持的服务商
func New(cfg config.AIConfig, log *logger.Logger) (*Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	httpClient := &http.Client{Timeout: timeout}

	var (
		backend provider
		model   string
	)
	switch cfg.Provider {
	case "", "gemini":
		g := newGemini(cfg, httpClient)
		backend, model = g, g.model
	case "dashscope":
		d := newDashScope(cfg, httpClient)
		backend, model = d, d.model
	case "openai":
		o := newOpenAI(cfg, httpClient)
		backend, model = o, o.model
	default:
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}
	if cfg.APIKey == "" {
		log.Warn("ai.api_key is empty, completion calls will fail", "provider", cfg.Provider)
	}

	name := cfg.Provider
	if name == "" {
		name = "gemini"
	}
	return &Client{
		name:    name,
		model:   model,
		backend: backend,
		log:     log.With("component", "completion", "provider", name, "model", model),
	}, nil
}

// Provider 返回服务商名称
func (c *Client) Provider() string {
	return c.name
}

// Complete 发送 prompt 并返回回复文本
// 参数:
//   - ctx: 上下文，取消时立即返回
//   - prompt: 完整的提示词
//
// 返回:
//   - string: 去除首尾空白后的回复
//   - error: ErrServiceUnavailable 或 ErrEmptyResponse
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, span := observability.Tracer().Start(ctx, "completion.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("completion.provider", c.name),
		attribute.String("completion.model", c.model),
		attribute.Int("completion.prompt_chars", len(prompt)),
	)

	start := time.Now()
	text, err := c.backend.complete(ctx, prompt)
	if err == nil {
		text = strings.TrimSpace(text)
		if text == "" {
			err = ErrEmptyResponse
		}
	}
	dur := time.Since(start)

	if err != nil {
		status := "unavailable"
		if errors.Is(err, ErrEmptyResponse) {
			status = "empty"
		}
		observability.Current().ObserveCompletion(c.name, c.model, status, dur)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		c.log.Warn("completion failed", "duration_ms", dur.Milliseconds(), "error", err)
		return "", err
	}

	observability.Current().ObserveCompletion(c.name, c.model, "ok", dur)
	c.log.Debug("completion done", "duration_ms", dur.Milliseconds(), "reply_chars", len(text))
	return text, nil
}

// postJSON 发送 JSON 请求并解析 JSON 响应
// 网络错误和非 200 都归为 ErrServiceUnavailable
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrServiceUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrServiceUnavailable, resp.StatusCode, truncate(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: parse response: %v", ErrServiceUnavailable, err)
	}
	return nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}
	return string(b)
}
