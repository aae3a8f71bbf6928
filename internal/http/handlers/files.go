// Public object HTTP handler.
//
// GET /files/{bucket}/{key...} serves objects of the configured bucket so the
// URLs handed to the messaging platform can be fetched without credentials.
// The content type is sniffed from the bytes, since processed images are PNG
// regardless of their file name.
package handlers

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-person-blocker/internal/storage"
)

// GetFile godoc
// @ID          getFile
// @Summary     Fetch a stored image
// @Description Serves a raw or processed image by bucket and object key.
// @Tags        Files
// @Produce     octet-stream
//
// @Param       bucket  path  string  true  "Bucket name"
// @Param       key     path  string  true  "Object key"  example(fb/processed/42/photo.jpg)
//
// @Success     200  {file}    file
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid key"
// @Failure     404  {object}  handlers.ErrorResponse  "Not found"
// @Router      /files/{bucket}/{key} [get]
func (h *Handlers) GetFile(c *gin.Context) {
	if c.Param("bucket") != h.bucket {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "object not found")
		return
	}
	key := strings.TrimPrefix(c.Param("key"), "/")

	rc, err := h.files.Get(c.Request.Context(), key)
	switch {
	case errors.Is(err, storage.ErrInvalidKey):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid object key")
		return
	case errors.Is(err, storage.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "object not found")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}
