// Package dbstore stores media blobs as database rows. Uploads and downloads
// are served by this service, so it needs no external object storage.
package dbstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ichat/chat-service/internal/config"
	"github.com/ichat/chat-service/internal/model"
	registryattach "github.com/ichat/chat-service/internal/registry/attach"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
)

func init() {
	registryattach.Register(registryattach.Plugin{
		Name: "db",
		Loader: func(ctx context.Context) (registryattach.BlobStore, error) {
			return New(ctx, config.FromContext(ctx))
		},
	})
}

type DBStore struct {
	db          *gorm.DB
	externalURL string
	uploadTTL   time.Duration
}

var _ registryattach.BlobStore = (*DBStore)(nil)

func New(ctx context.Context, cfg *config.Config) (*DBStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("dbstore: missing config in context")
	}
	var dialector gorm.Dialector
	switch cfg.DatastoreType {
	case "sqlite":
		dialector = sqlite.Open(cfg.DBURL)
	default:
		dialector = postgres.Open(cfg.DBURL)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Discard})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to blob database: %w", err)
	}
	return &DBStore{
		db:          db,
		externalURL: strings.TrimRight(cfg.MediaExternalURL, "/"),
		uploadTTL:   cfg.MediaUploadExpiresIn,
	}, nil
}

// CreateUploadHandle reserves a pending blob row and points the client at
// this service's upload endpoint.
func (s *DBStore) CreateUploadHandle(ctx context.Context, contentType string) (*registryattach.UploadHandle, error) {
	blob := model.Blob{
		Ref:         uuid.New(),
		ContentType: contentType,
		Status:      model.BlobStatusPending,
	}
	if err := s.db.WithContext(ctx).Create(&blob).Error; err != nil {
		return nil, fmt.Errorf("failed to create blob record: %w", err)
	}
	return &registryattach.UploadHandle{
		Ref:       blob.Ref.String(),
		URL:       fmt.Sprintf("%s/v1/uploads/%s", s.externalURL, blob.Ref),
		Method:    "PUT",
		ExpiresAt: time.Now().Add(s.uploadTTL),
	}, nil
}

// parseRef maps a ref path parameter to a blob key. Malformed refs are
// reported the same way as unknown ones.
func parseRef(ref string) (uuid.UUID, error) {
	id, err := uuid.Parse(ref)
	if err != nil {
		return uuid.Nil, &registrystore.NotFoundError{Resource: "blob", ID: ref}
	}
	return id, nil
}

// Store writes the uploaded bytes and flips the blob to ready.
func (s *DBStore) Store(ctx context.Context, ref string, data io.Reader, maxSize int64, contentType string) (*registryattach.StoreResult, error) {
	id, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	var blob model.Blob
	if err := s.db.WithContext(ctx).Where("ref = ?", id).First(&blob).Error; err != nil {
		return nil, &registrystore.NotFoundError{Resource: "blob", ID: ref}
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(data, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if n > maxSize {
		return nil, &registrystore.ValidationError{Field: "body", Message: fmt.Sprintf("upload exceeds %d bytes", maxSize)}
	}

	updates := map[string]any{
		"data":   buf.Bytes(),
		"size":   n,
		"status": model.BlobStatusReady,
	}
	if contentType != "" {
		updates["content_type"] = contentType
	}
	if err := s.db.WithContext(ctx).Model(&blob).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}
	return &registryattach.StoreResult{Ref: ref, Size: n}, nil
}

func (s *DBStore) Retrieve(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	id, err := parseRef(ref)
	if err != nil {
		return nil, "", err
	}
	var blob model.Blob
	err = s.db.WithContext(ctx).Where("ref = ? AND status = ?", id, model.BlobStatusReady).First(&blob).Error
	if err != nil {
		return nil, "", &registrystore.NotFoundError{Resource: "blob", ID: ref}
	}
	return io.NopCloser(bytes.NewReader(blob.Data)), blob.ContentType, nil
}

// ResolveURL returns the download endpoint for a completed upload. Pending or
// unknown references resolve to a not found error.
func (s *DBStore) ResolveURL(ctx context.Context, ref string, expiry time.Duration) (*url.URL, error) {
	id, err := parseRef(ref)
	if err != nil {
		return nil, err
	}
	var blob model.Blob
	err = s.db.WithContext(ctx).Where("ref = ? AND status = ?", id, model.BlobStatusReady).First(&blob).Error
	if err != nil {
		return nil, &registrystore.NotFoundError{Resource: "blob", ID: ref}
	}
	return url.Parse(fmt.Sprintf("%s/v1/blobs/%s", s.externalURL, blob.Ref))
}

func (s *DBStore) Delete(ctx context.Context, ref string) error {
	id, err := parseRef(ref)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Where("ref = ?", id).Delete(&model.Blob{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete blob: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &registrystore.NotFoundError{Resource: "blob", ID: ref}
	}
	return nil
}
