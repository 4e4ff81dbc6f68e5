package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/instalite-chat/internal/upload"
)

// multipartOverhead leaves room for boundaries and headers around the file.
const multipartOverhead = 64 << 10

// UploadHandlers accepts chat attachments.
type UploadHandlers struct {
	uploads  *upload.Store
	maxBytes int64
	log      *zerolog.Logger
}

// NewUploadHandlers creates a new upload handlers instance.
func NewUploadHandlers(uploads *upload.Store, maxBytes int64, logger *zerolog.Logger) *UploadHandlers {
	return &UploadHandlers{uploads: uploads, maxBytes: maxBytes, log: logger}
}

// Upload stores the multipart "file" field and returns its reference.
// POST /api/upload
func (h *UploadHandlers) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
			return
		}
		h.log.Debug().Err(err).Msg("upload without file")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is required"})
		return
	}
	if header.Size > h.maxBytes {
		c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
		return
	}

	src, err := header.Open()
	if err != nil {
		h.log.Error().Err(err).Str("file", header.Filename).Msg("failed to open upload")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	defer src.Close()

	file, err := h.uploads.Save(src, header.Filename)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrTooLarge):
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "file too large"})
		case errors.Is(err, upload.ErrEmptyFile):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is empty"})
		default:
			h.log.Error().Err(err).Str("file", header.Filename).Msg("failed to store upload")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("url", file.URL).Str("content_type", file.ContentType).Int64("size", file.Size).Msg("file uploaded")
	c.JSON(http.StatusOK, file)
}
