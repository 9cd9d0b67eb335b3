// Package extractor 负责把上传的 PDF 转成纯文本
// 逐页解析，页内文本片段以空格连接，页与页之间以换行连接
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/KlutzyFella/Papyrus/internal/config"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/observability"
)

// 文档解析错误
var (
	ErrUnsupportedFormat = errors.New("unsupported document format") // 不是 PDF
	ErrExtractionFailed  = errors.New("document extraction failed")  // 解码失败或没有页面
)

// MediaTypePDF 唯一接受的媒体类型
const MediaTypePDF = "application/pdf"

// Extractor 文档解析接口
type Extractor interface {
	Extract(ctx context.Context, data []byte, mediaType string) (string, error)
}

// PageSource 把文档解码为按物理顺序排列的页面
// 每个页面是按编码顺序排列的文本片段
type PageSource interface {
	Pages(ctx context.Context, data []byte) ([][]string, error)
}

// Service 文档解析服务
type Service struct {
	backend string
	source  PageSource
	timeout time.Duration
	log     *logger.Logger
}

// New 根据配置创建解析服务
// 参数:
//   - ctx: 初始化云端客户端使用的上下文
//   - cfg: 解析配置，backend 为 local 或 documentai
//   - log: 日志
func New(ctx context.Context, cfg config.ExtractorConfig, log *logger.Logger) (*Service, error) {
	switch cfg.Backend {
	case "", "local":
		return NewWithSource("local", LocalSource{}, cfg.Timeout, log), nil
	case "documentai":
		src, err := NewDocumentAISource(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewWithSource("documentai", src, cfg.Timeout, log), nil
	default:
		return nil, fmt.Errorf("unsupported extractor backend: %s", cfg.Backend)
	}
}

// NewWithSource 使用指定的页面来源创建解析服务
// timeout 小于等于 0 时不限制时长
func NewWithSource(backend string, source PageSource, timeout time.Duration, log *logger.Logger) *Service {
	return &Service{
		backend: backend,
		source:  source,
		timeout: timeout,
		log:     log.With("component", "extractor", "backend", backend),
	}
}

// Backend 返回后端名称
func (s *Service) Backend() string {
	return s.backend
}

// Extract 解析文档文本
// 参数:
//   - ctx: 上下文
//   - data: 文档原始字节
//   - mediaType: 客户端声明的媒体类型，参数部分（如 charset）忽略
//
// 返回:
//   - string: 页面文本以 "\n" 连接，可以为空串
//   - error: ErrUnsupportedFormat（不会尝试解码）或 ErrExtractionFailed（不返回部分文本）
func (s *Service) Extract(ctx context.Context, data []byte, mediaType string) (string, error) {
	if !IsPDF(mediaType) {
		return "", ErrUnsupportedFormat
	}

	ctx, span := observability.Tracer().Start(ctx, "extractor.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("extractor.backend", s.backend),
		attribute.Int("extractor.bytes", len(data)),
	)

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	pages, err := s.decode(ctx, data)
	if err == nil && len(pages) == 0 {
		err = errors.New("document has no pages")
	}
	if err != nil {
		observability.Current().ObserveExtraction(s.backend, "error", time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		s.log.Warn("extract document failed", "bytes", len(data), "error", err)
		return "", fmt.Errorf("%w: %v", ErrExtractionFailed, err)
	}

	text := JoinPages(pages)
	observability.Current().ObserveExtraction(s.backend, "ok", time.Since(start))
	span.SetAttributes(attribute.Int("extractor.pages", len(pages)))
	s.log.Debug("document extracted", "pages", len(pages), "chars", len(text))
	return text, nil
}

type decodeResult struct {
	pages [][]string
	err   error
}

// decode 在独立 goroutine 中解码，超时后立即返回
// 解码器的 panic 转换为错误
func (s *Service) decode(ctx context.Context, data []byte) ([][]string, error) {
	done := make(chan decodeResult, 1)
	go func() {
		var res decodeResult
		defer func() {
			if r := recover(); r != nil {
				res = decodeResult{err: fmt.Errorf("decoder panic: %v", r)}
			}
			done <- res
		}()
		res.pages, res.err = s.source.Pages(ctx, data)
	}()

	select {
	case res := <-done:
		return res.pages, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close 释放后端资源
func (s *Service) Close() error {
	if c, ok := s.source.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// IsPDF 判断媒体类型是否为 PDF
func IsPDF(mediaType string) bool {
	mt, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mt, MediaTypePDF)
}

// JoinPages 页内片段以空格连接，页之间以换行连接（最后一页后面没有换行）
func JoinPages(pages [][]string) string {
	lines := make([]string, len(pages))
	for i, fragments := range pages {
		lines[i] = strings.Join(fragments, " ")
	}
	return strings.Join(lines, "\n")
}
