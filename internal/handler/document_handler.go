package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/KlutzyFella/Papyrus/internal/extractor"
	"github.com/KlutzyFella/Papyrus/internal/logger"
	"github.com/KlutzyFella/Papyrus/internal/middleware"
	"github.com/KlutzyFella/Papyrus/pkg/response"
)

// DocumentHandler 文档解析请求处理器
type DocumentHandler struct {
	extractor extractor.Extractor
	maxBytes  int64
	log       *logger.Logger
}

// NewDocumentHandler 创建 DocumentHandler 实例
// 参数:
//   - ext: 文档解析服务
//   - maxBytes: 请求体大小上限，<= 0 时不限制
//   - log: 日志
func NewDocumentHandler(ext extractor.Extractor, maxBytes int64, log *logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		extractor: ext,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// ExtractText 解析上传的 PDF
// POST /documents (multipart/form-data, 字段 file)
// 成功返回 {"text": "..."}
func (h *DocumentHandler) ExtractText(c *gin.Context) {
	if h.maxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes)
	}

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			response.ErrorWithCode(c, http.StatusBadRequest, response.CodeFileTooLarge, "File too large")
			return
		}
		response.BadRequest(c, "No file uploaded")
		return
	}

	// 声明类型不对时不读取文件内容
	mediaType := header.Header.Get("Content-Type")
	if !extractor.IsPDF(mediaType) {
		response.ErrorWithCode(c, http.StatusBadRequest, response.CodeUnsupportedFormat, "Only PDF files are supported")
		return
	}

	file, err := header.Open()
	if err != nil {
		response.BadRequest(c, "Failed to read file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		response.BadRequest(c, "Failed to read file")
		return
	}

	text, err := h.extractor.Extract(c.Request.Context(), data, mediaType)
	if err != nil {
		if errors.Is(err, extractor.ErrUnsupportedFormat) {
			response.ErrorWithCode(c, http.StatusBadRequest, response.CodeUnsupportedFormat, "Only PDF files are supported")
			return
		}
		h.log.Warn("extract document failed",
			"user_id", middleware.GetUserID(c),
			"file", header.Filename,
			"size", header.Size,
			"error", err,
		)
		response.ErrorWithCode(c, http.StatusInternalServerError, response.CodeExtractionFailed, "Failed to process PDF")
		return
	}

	response.OK(c, gin.H{"text": text})
}
