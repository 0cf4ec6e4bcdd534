// Package s3store stores media blobs in S3-compatible object storage. Clients
// upload and download through presigned URLs, so blob bytes never pass
// through this service.
package s3store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/ichat/chat-service/internal/config"
	registryattach "github.com/ichat/chat-service/internal/registry/attach"
	registrystore "github.com/ichat/chat-service/internal/registry/store"
)

func init() {
	registryattach.Register(registryattach.Plugin{
		Name: "s3",
		Loader: func(ctx context.Context) (registryattach.BlobStore, error) {
			return New(ctx, config.FromContext(ctx))
		},
	})
}

type S3Store struct {
	client           *s3.Client
	presigner        *s3.PresignClient
	bucket           string
	prefix           string
	externalEndpoint string
	uploadTTL        time.Duration
}

var _ registryattach.BlobStore = (*S3Store)(nil)

func New(ctx context.Context, cfg *config.Config) (*S3Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("s3store: missing config in context")
	}
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("s3store: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
	})
	return &S3Store{
		client:           client,
		presigner:        s3.NewPresignClient(client),
		bucket:           cfg.S3Bucket,
		prefix:           strings.Trim(cfg.S3Prefix, "/"),
		externalEndpoint: cfg.S3ExternalEndpoint,
		uploadTTL:        cfg.MediaUploadExpiresIn,
	}, nil
}

func (s *S3Store) key(ref string) string {
	if s.prefix == "" {
		return ref
	}
	return s.prefix + "/" + ref
}

// CreateUploadHandle presigns a PUT against a fresh object key.
func (s *S3Store) CreateUploadHandle(ctx context.Context, contentType string) (*registryattach.UploadHandle, error) {
	ref := uuid.NewString()
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(ref)),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.uploadTTL))
	if err != nil {
		return nil, fmt.Errorf("failed to presign upload: %w", err)
	}
	signed, err := s.rewriteExternal(req.URL)
	if err != nil {
		return nil, err
	}
	return &registryattach.UploadHandle{
		Ref:       ref,
		URL:       signed,
		Method:    req.Method,
		ExpiresAt: time.Now().Add(s.uploadTTL),
	}, nil
}

// Store is not supported; clients upload directly via the presigned URL.
func (s *S3Store) Store(ctx context.Context, ref string, data io.Reader, maxSize int64, contentType string) (*registryattach.StoreResult, error) {
	return nil, fmt.Errorf("s3 blob store does not accept direct uploads, use the presigned URL")
}

func (s *S3Store) Retrieve(ctx context.Context, ref string) (io.ReadCloser, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, "", &registrystore.NotFoundError{Resource: "blob", ID: ref}
		}
		return nil, "", fmt.Errorf("failed to get object: %w", err)
	}
	return out.Body, aws.ToString(out.ContentType), nil
}

// ResolveURL presigns a GET for the object. The object must exist, otherwise
// the reference is treated as unknown.
func (s *S3Store) ResolveURL(ctx context.Context, ref string, expiry time.Duration) (*url.URL, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		return nil, &registrystore.NotFoundError{Resource: "blob", ID: ref}
	}
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	}, s3.WithPresignExpires(expiry))
	if err != nil {
		return nil, fmt.Errorf("failed to presign download: %w", err)
	}
	signed, err := s.rewriteExternal(req.URL)
	if err != nil {
		return nil, err
	}
	return url.Parse(signed)
}

func (s *S3Store) Delete(ctx context.Context, ref string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(ref)),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// rewriteExternal swaps the internal S3 endpoint for the one clients can
// reach, keeping the signed path and query intact.
func (s *S3Store) rewriteExternal(signed string) (string, error) {
	if s.externalEndpoint == "" {
		return signed, nil
	}
	u, err := url.Parse(signed)
	if err != nil {
		return "", fmt.Errorf("failed to parse presigned URL: %w", err)
	}
	ext, err := url.Parse(s.externalEndpoint)
	if err != nil {
		return "", fmt.Errorf("failed to parse external endpoint: %w", err)
	}
	u.Scheme = ext.Scheme
	u.Host = ext.Host
	return u.String(), nil
}

func isNoSuchKey(err error) bool {
	var noKey *types.NoSuchKey
	return errors.As(err, &noKey)
}
