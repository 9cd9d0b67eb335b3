package extractor

import (
	"context"
	"fmt"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/api/option"

	"github.com/KlutzyFella/Papyrus/internal/config"
)

// DocumentAISource 使用 Google Cloud Document AI 解析
// 每个段落作为一个文本片段，顺序与服务返回的版面顺序一致
type DocumentAISource struct {
	client *documentai.DocumentProcessorClient
	name   string
}

// NewDocumentAISource 创建 Document AI 客户端
func NewDocumentAISource(ctx context.Context, cfg config.ExtractorConfig) (*DocumentAISource, error) {
	location := strings.TrimSpace(cfg.Location)
	if location == "" {
		location = "us"
	}
	name := processorName(cfg.ProjectID, location, cfg.ProcessorID)
	if name == "" {
		return nil, fmt.Errorf("documentai: project_id and processor_id are required")
	}

	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	opts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, credentialOptions(cfg.Credentials)...)
	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}
	return &DocumentAISource{client: client, name: name}, nil
}

// Pages 调用 ProcessDocument 并按页返回段落文本
func (s *DocumentAISource) Pages(ctx context.Context, data []byte) ([][]string, error) {
	resp, err := s.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: s.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  data,
				MimeType: MediaTypePDF,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	return pagesFromDocument(resp.GetDocument()), nil
}

// Close 关闭客户端连接
func (s *DocumentAISource) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func pagesFromDocument(doc *documentaipb.Document) [][]string {
	if doc == nil {
		return nil
	}
	pages := make([][]string, 0, len(doc.GetPages()))
	for _, p := range doc.GetPages() {
		fragments := make([]string, 0, len(p.GetParagraphs()))
		for _, para := range p.GetParagraphs() {
			t := strings.TrimSpace(textFromAnchor(doc.GetText(), para.GetLayout().GetTextAnchor()))
			if t == "" {
				continue
			}
			fragments = append(fragments, t)
		}
		pages = append(pages, fragments)
	}
	return pages
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || len(anchor.GetTextSegments()) == 0 || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.GetTextSegments() {
		start := int(seg.GetStartIndex())
		end := int(seg.GetEndIndex())
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func processorName(project, location, processorID string) string {
	project = strings.TrimSpace(project)
	location = strings.TrimSpace(location)
	processorID = strings.TrimSpace(processorID)
	if project == "" || location == "" || processorID == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
}

// credentialOptions 支持直接传入 JSON 内容或文件路径
func credentialOptions(creds string) []option.ClientOption {
	creds = strings.TrimSpace(creds)
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}
