// Package objectstore implements the object-store side of C5: a
// streaming multi-part S3 upload with an explicit
// create/upload-part/complete/abort lifecycle, and presigned GET URLs
// for redirecting artifact requests.
//
// Grounded on boring-registry's pkg/storage/s3.go (the functional-options
// constructor, the MinIO-compatible endpoint resolver, the presign
// helper) but built on the raw aws-sdk-go-v2/service/s3 client rather
// than s3manager.Uploader, since s3manager hides the part-boundary and
// ETag bookkeeping the pipeline's streaming contract (spec.md §4.5)
// needs to control directly.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	signer "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tfproviders/provider-mirror/pkg/core"
)

// MinPartSize is the minimum size of every multi-part upload part except
// the last (spec.md §4.5): S3 itself enforces this floor.
const MinPartSize = 10 * 1024 * 1024

// PresignExpiry is the lifetime of a presigned GET URL (spec.md §5).
const PresignExpiry = 120 * time.Second

// clientAPI is the slice of the S3 client the store needs, narrowed so
// tests can supply a fake (boring-registry's s3ClientAPI pattern).
type clientAPI interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// presignAPI is the slice needed to mint presigned GET URLs.
type presignAPI interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*signer.PresignedHTTPRequest, error)
}

// Store is the S3-compatible object store backing C5.
type Store struct {
	client         clientAPI
	presignClient  presignAPI
	bucket         string
	keyPrefix      string
	forcePathStyle bool
}

// Option configures a Store.
type Option func(*Store)

// WithKeyPrefix namespaces every object key under prefix.
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// WithPathStyle forces path-style addressing, required for MinIO and
// other S3-compatible test doubles.
func WithPathStyle(enabled bool) Option {
	return func(s *Store) { s.forcePathStyle = enabled }
}

// New constructs a Store. endpoint, when non-empty, overrides service
// discovery the way boring-registry's WithS3StorageBucketEndpoint does,
// so the store can address a local MinIO instead of AWS S3.
func New(ctx context.Context, bucket, region, endpoint string, opts ...Option) (*Store, error) {
	s := &Store{bucket: bucket}
	for _, opt := range opts {
		opt(s)
	}

	customResolver := aws.EndpointResolverWithOptionsFunc(func(service, r string, options ...interface{}) (aws.Endpoint, error) {
		if endpoint != "" {
			return aws.Endpoint{
				PartitionID:       "aws",
				URL:               endpoint,
				HostnameImmutable: true,
			}, nil
		}
		return aws.Endpoint{}, &aws.EndpointNotFoundError{}
	})

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region), config.WithEndpointResolverWithOptions(customResolver))
	if err != nil {
		return nil, core.NewError(core.KindInternal, "load aws config", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = s.forcePathStyle
	})
	s.client = client
	s.presignClient = s3.NewPresignClient(client)
	return s, nil
}

// ArtifactKey is the object key an artifact id is stored under (spec.md
// §3: "artifacts/<artifact id>").
func (s *Store) ArtifactKey(artifactID int64) string {
	if s.keyPrefix == "" {
		return fmt.Sprintf("artifacts/%d", artifactID)
	}
	return fmt.Sprintf("%s/artifacts/%d", s.keyPrefix, artifactID)
}

// PresignedURL mints a GET URL for key, valid for PresignExpiry.
func (s *Store) PresignedURL(ctx context.Context, key string) (string, error) {
	out, err := s.presignClient.PresignGetObject(ctx,
		&s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)},
		s3.WithPresignExpires(PresignExpiry),
	)
	if err != nil {
		return "", core.NewError(core.KindInternal, "presign get object", err)
	}
	return out.URL, nil
}

// Upload is a handle to an in-progress multi-part upload.
type Upload struct {
	store     *Store
	key       string
	uploadID  string
	nextPart  int32
	completed []types.CompletedPart
}

// BeginUpload starts a multi-part upload for key.
func (s *Store) BeginUpload(ctx context.Context, key string) (*Upload, error) {
	out, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, core.NewError(core.KindInternal, "create multipart upload", err)
	}
	return &Upload{store: s, key: key, uploadID: aws.ToString(out.UploadId)}, nil
}

// FlushPart uploads buf as the next part, in order, starting at part
// number 0 as spec.md §4.5 requires (S3 itself numbers parts from 1, so
// the translation happens here, at the edge). buf's ownership transfers
// to this call; the caller must allocate a fresh buffer afterward.
func (u *Upload) FlushPart(ctx context.Context, buf []byte) error {
	partNumber := u.nextPart + 1 // S3 part numbers are 1-based.
	out, err := u.store.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:     aws.String(u.store.bucket),
		Key:        aws.String(u.key),
		UploadId:   aws.String(u.uploadID),
		PartNumber: aws.Int32(partNumber),
		Body:       bytes.NewReader(buf),
	})
	if err != nil {
		return core.NewError(core.KindInternal, fmt.Sprintf("upload part %d", u.nextPart), err)
	}
	u.completed = append(u.completed, types.CompletedPart{
		ETag:       out.ETag,
		PartNumber: aws.Int32(partNumber),
	})
	u.nextPart++
	return nil
}

// Complete finalizes the upload with the ordered parts uploaded so far.
func (u *Upload) Complete(ctx context.Context) error {
	_, err := u.store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(u.store.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: u.completed,
		},
	})
	if err != nil {
		return core.NewError(core.KindInternal, "complete multipart upload", err)
	}
	return nil
}

// Abort cancels the upload. If streamErr is non-nil it is treated as the
// root cause and any abort failure is combined as context, matching the
// pipeline's error-combination contract (spec.md §4.5).
func (u *Upload) Abort(ctx context.Context, streamErr error) error {
	_, abortErr := u.store.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(u.store.bucket),
		Key:      aws.String(u.key),
		UploadId: aws.String(u.uploadID),
	})

	switch {
	case streamErr != nil && abortErr != nil:
		return core.NewError(core.KindInternal, "stream failed and abort also failed", errors.Join(streamErr, abortErr))
	case streamErr != nil:
		return streamErr
	case abortErr != nil:
		return core.NewError(core.KindInternal, "abort multipart upload", abortErr)
	default:
		return nil
	}
}

// Exists reports whether key is already present in the bucket.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, core.NewError(core.KindInternal, "head object", err)
	}
	return true, nil
}
