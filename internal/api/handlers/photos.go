package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/your-org/absens/internal/storage"
	"github.com/your-org/absens/pkg/apperr"
)

type PhotoReader interface {
	GetObject(ctx context.Context, key string) ([]byte, string, error)
}

// PhotoHandler serves uploaded record photos by object key.
type PhotoHandler struct {
	photos PhotoReader
}

func NewPhotoHandler(photos PhotoReader) *PhotoHandler {
	return &PhotoHandler{photos: photos}
}

func (h *PhotoHandler) Get(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" || strings.Contains(key, "..") {
		badRequest(c, "invalid photo key")
		return
	}

	data, contentType, err := h.photos.GetObject(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(c, apperr.New(apperr.CodeNotFound, "photo not found"))
			return
		}
		respondError(c, apperr.Wrap(err, apperr.CodeStoreUnavailable, "photo store unavailable"))
		return
	}
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, contentType, data)
}
