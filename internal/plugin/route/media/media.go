package media

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ichat/chat-service/internal/config"
	registryattach "github.com/ichat/chat-service/internal/registry/attach"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
)

// MountRoutes mounts media upload and download routes.
func MountRoutes(r *gin.Engine, blobs registryattach.BlobStore, cfg *config.Config, auth gin.HandlerFunc) {
	g := r.Group("/v1", auth)

	g.POST("/uploads", func(c *gin.Context) {
		createUpload(c, blobs)
	})
	g.PUT("/uploads/:blobRef", func(c *gin.Context) {
		upload(c, blobs, cfg)
	})

	// Downloads are unauthenticated: resolved media URLs are embedded in
	// message content and fetched by image/video tags without a bearer token.
	r.GET("/v1/blobs/:blobRef", func(c *gin.Context) {
		download(c, blobs)
	})
}

// createUpload issues a single-use upload target. Depending on the blob
// backend the URL points back at this service or at presigned object storage.
func createUpload(c *gin.Context, blobs registryattach.BlobStore) {
	var req struct {
		ContentType string `json:"contentType"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ContentType == "" {
		req.ContentType = "application/octet-stream"
	}

	handle, err := blobs.CreateUploadHandle(c.Request.Context(), req.ContentType)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, handle)
}

func upload(c *gin.Context, blobs registryattach.BlobStore, cfg *config.Config) {
	result, err := blobs.Store(c.Request.Context(), c.Param("blobRef"), c.Request.Body, cfg.MediaMaxSize, c.ContentType())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ref": result.Ref, "size": result.Size})
}

func download(c *gin.Context, blobs registryattach.BlobStore) {
	body, contentType, err := blobs.Retrieve(c.Request.Context(), c.Param("blobRef"))
	if err != nil {
		handleError(c, err)
		return
	}
	defer body.Close()
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, body)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var forbidden *registrystore.ForbiddenError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error(), "field": validation.Field})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"code": "forbidden", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
