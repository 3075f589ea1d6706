// Package handler provides HTTP handlers for the docuseek service.
package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"
	"github.com/oklog/ulid/v2"

	"github.com/docuseek/docuseek/internal/docuseek/biz"
	"github.com/docuseek/docuseek/internal/model"
	"github.com/docuseek/docuseek/internal/pkg/docutil"
	"github.com/docuseek/docuseek/internal/pkg/parser"
	"github.com/docuseek/docuseek/pkg/infra/pool"
)

// queryTimeout bounds a single question end to end, including generation.
const queryTimeout = 60 * time.Second

// Handler handles knowledge base HTTP requests.
type Handler struct {
	engine        *biz.Engine
	parsers       *parser.Registry
	pool          *pool.Pool
	uploadDir     string
	maxUploadSize int64
}

// NewHandler creates a new Handler.
func NewHandler(engine *biz.Engine, parsers *parser.Registry, workers *pool.Pool, uploadDir string, maxUploadSize int64) *Handler {
	return &Handler{
		engine:        engine,
		parsers:       parsers,
		pool:          workers,
		uploadDir:     uploadDir,
		maxUploadSize: maxUploadSize,
	}
}

// SuccessResponse is a standard success response.
type SuccessResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func fail(c *gin.Context, status int, err error) {
	c.JSON(status, ErrorResponse{Code: status, Message: err.Error()})
}

// Upload ingests one or more uploaded documents.
//
// Each file is parsed and indexed independently; a failure in one file
// does not abort the others. Per-file outcomes are reported in the
// response body.
func (h *Handler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadSize)

	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("upload exceeds %d bytes", h.maxUploadSize))
			return
		}
		fail(c, http.StatusBadRequest, err)
		return
	}

	files := form.File["files"]
	if len(files) == 0 {
		fail(c, http.StatusBadRequest, fmt.Errorf("no files provided, use multipart field 'files'"))
		return
	}

	result := &model.UploadResult{
		FileCount:      len(files),
		ProcessedFiles: []string{},
		FailedFiles:    []string{},
	}

	var savedPaths []string
	unsupported := 0
	for _, fh := range files {
		filename := docutil.SanitizeFilename(fh.Filename)
		ext := filepath.Ext(filename)

		if !h.parsers.Supported(ext) {
			logger.Warnw("unsupported file type skipped", "filename", filename, "ext", ext)
			result.FailedFiles = append(result.FailedFiles, filename)
			unsupported++
			continue
		}

		src, err := fh.Open()
		if err != nil {
			result.FailedFiles = append(result.FailedFiles, filename)
			continue
		}
		data, err := io.ReadAll(src)
		_ = src.Close()
		if err != nil {
			result.FailedFiles = append(result.FailedFiles, filename)
			continue
		}

		path, err := docutil.SaveUpload(h.uploadDir, filename, data)
		if err != nil {
			logger.Errorw("failed to save upload", "filename", filename, "error", err.Error())
			result.FailedFiles = append(result.FailedFiles, filename)
			continue
		}
		savedPaths = append(savedPaths, path)

		text, err := h.parsers.Parse(data, filename)
		if err != nil {
			logger.Warnw("failed to parse document", "filename", filename, "error", err.Error())
			result.FailedFiles = append(result.FailedFiles, filename)
			continue
		}

		doc := &model.Document{
			ID:        ulid.Make().String(),
			SourceURI: path,
			RawText:   text,
			Metadata: model.DocumentMetadata{
				Filename:   filename,
				FileType:   ext,
				FileSize:   fh.Size,
				UploadTime: time.Now().UTC(),
			},
		}

		ingest, err := h.engine.Ingest(c.Request.Context(), doc)
		if err != nil {
			logger.Errorw("failed to ingest document", "filename", filename, "error", err.Error())
			result.FailedFiles = append(result.FailedFiles, filename)
			continue
		}

		result.ProcessedFiles = append(result.ProcessedFiles, filename)
		result.TotalChunks += ingest.ChunksAdded
	}

	// 上传文件只在解析与索引期间保留，索引完成后异步清理
	h.scheduleCleanup(savedPaths)

	switch {
	case unsupported == len(files):
		result.Status = "failed"
		result.Message = "no supported file types in upload"
		c.JSON(http.StatusUnsupportedMediaType, SuccessResponse{Code: 415, Message: result.Message, Data: result})
	case len(result.ProcessedFiles) == 0:
		result.Status = "failed"
		result.Message = "no files could be processed"
		c.JSON(http.StatusUnprocessableEntity, SuccessResponse{Code: 422, Message: result.Message, Data: result})
	case len(result.FailedFiles) > 0:
		result.Status = "partial"
		result.Message = fmt.Sprintf("processed %d of %d files", len(result.ProcessedFiles), result.FileCount)
		c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: result.Message, Data: result})
	default:
		result.Status = "success"
		result.Message = fmt.Sprintf("processed %d files", result.FileCount)
		c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: result.Message, Data: result})
	}
}

func (h *Handler) scheduleCleanup(paths []string) {
	if len(paths) == 0 {
		return
	}
	err := h.pool.Submit(func() {
		if err := docutil.RemoveFiles(paths); err != nil {
			logger.Warnw("failed to clean up uploaded files", "error", err.Error())
		}
	})
	if err != nil {
		// 工作池不可用时同步清理
		_ = docutil.RemoveFiles(paths)
	}
}

// Query answers a question against the knowledge base.
func (h *Handler) Query(c *gin.Context) {
	var req model.QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	result, err := h.engine.Query(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, biz.ErrInvalidConfig):
			fail(c, http.StatusBadRequest, err)
		case ctx.Err() == context.DeadlineExceeded:
			fail(c, http.StatusRequestTimeout, fmt.Errorf("query timeout: the request took too long to process"))
		default:
			fail(c, http.StatusInternalServerError, err)
		}
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// QueryConversation answers a question with prior conversation turns as
// additional context for the generation step.
func (h *Handler) QueryConversation(c *gin.Context) {
	var req model.ConversationQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), queryTimeout)
	defer cancel()

	result, err := h.engine.QueryConversation(ctx, &req)
	if err != nil {
		switch {
		case errors.Is(err, biz.ErrInvalidConfig):
			fail(c, http.StatusBadRequest, err)
		case ctx.Err() == context.DeadlineExceeded:
			fail(c, http.StatusRequestTimeout, fmt.Errorf("query timeout: the request took too long to process"))
		default:
			fail(c, http.StatusInternalServerError, err)
		}
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: result})
}

// DeleteDocument removes all chunks of a document from the index.
func (h *Handler) DeleteDocument(c *gin.Context) {
	documentID := c.Param("id")

	if err := h.engine.DeleteDocument(c.Request.Context(), documentID); err != nil {
		if errors.Is(err, biz.ErrInvalidConfig) {
			fail(c, http.StatusBadRequest, err)
			return
		}
		fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{
		Code:    0,
		Message: fmt.Sprintf("document %s deleted", documentID),
	})
}

// Stats returns knowledge base statistics.
func (h *Handler) Stats(c *gin.Context) {
	stats, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, SuccessResponse{Code: 0, Message: "success", Data: stats})
}

// Healthz reports service liveness.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SupportedFormats lists the file extensions accepted for upload.
func (h *Handler) SupportedFormats(c *gin.Context) {
	c.JSON(http.StatusOK, SuccessResponse{
		Code:    0,
		Message: "success",
		Data:    gin.H{"extensions": h.parsers.Extensions()},
	})
}
