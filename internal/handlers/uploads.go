package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"

	"github.com/shivam349/codex1/internal/blob"
	"github.com/shivam349/codex1/internal/logging"
)

// multipart framing allowance on top of the file limit
const multipartOverhead = 64 << 10

// POST /api/uploads/image (admin). Multipart field "image"; the type is
// sniffed from the content, not trusted from the client.
func (s *Server) uploadImage(c *gin.Context) {
	if s.Images == nil {
		s.failMsg(c, http.StatusServiceUnavailable, "Image uploads are not configured")
		return
	}
	limit := s.Options.MaxUploadBytes
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit+multipartOverhead)

	file, header, err := c.Request.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			s.failMsg(c, http.StatusRequestEntityTooLarge, tooLargeMessage(limit))
			return
		}
		s.failMsg(c, http.StatusBadRequest, "Image file is required")
		return
	}
	defer file.Close()
	if header.Size > limit {
		s.failMsg(c, http.StatusRequestEntityTooLarge, tooLargeMessage(limit))
		return
	}

	mt, err := mimetype.DetectReader(file)
	if err != nil {
		s.fail(c, fmt.Errorf("sniff upload: %w", err))
		return
	}
	if !strings.HasPrefix(mt.String(), "image/") {
		s.failMsg(c, http.StatusBadRequest, "Only image files are allowed")
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		s.fail(c, fmt.Errorf("rewind upload: %w", err))
		return
	}

	key := blob.ProductImageKey(mt.Extension())
	contentType := strings.SplitN(mt.String(), ";", 2)[0]
	url, err := s.Images.Put(c.Request.Context(), key, contentType, file)
	if err != nil {
		logging.FromGin(s.Log, c).WithError(err).Error("image upload failed")
		s.failMsg(c, http.StatusInternalServerError, "Failed to upload image")
		return
	}
	ok(c, http.StatusOK, gin.H{"url": url, "key": key})
}

func tooLargeMessage(limit int64) string {
	return fmt.Sprintf("Image must be %dMB or smaller", limit>>20)
}
