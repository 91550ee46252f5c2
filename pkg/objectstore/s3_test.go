package objectstore

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3Client struct {
	uploadID      string
	partsUploaded []int32
	completed     bool
	aborted       bool
	uploadPartErr error
	completeErr   error
	abortErr      error
}

func (f *fakeS3Client) CreateMultipartUpload(_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(f.uploadID)}, nil
}

func (f *fakeS3Client) UploadPart(_ context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if f.uploadPartErr != nil {
		return nil, f.uploadPartErr
	}
	f.partsUploaded = append(f.partsUploaded, aws.ToInt32(params.PartNumber))
	etag := "etag"
	return &s3.UploadPartOutput{ETag: &etag}, nil
}

func (f *fakeS3Client) CompleteMultipartUpload(_ context.Context, _ *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	f.completed = true
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3Client) AbortMultipartUpload(_ context.Context, _ *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.aborted = true
	if f.abortErr != nil {
		return nil, f.abortErr
	}
	return &s3.AbortMultipartUploadOutput{}, nil
}

func (f *fakeS3Client) HeadObject(_ context.Context, _ *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return nil, &types.NotFound{}
}

func TestUpload_FlushPartsAreOneIndexedAndOrdered(t *testing.T) {
	fake := &fakeS3Client{uploadID: "upload-1"}
	store := &Store{client: fake, bucket: "test-bucket"}

	upload, err := store.BeginUpload(context.Background(), "artifacts/1")
	require.NoError(t, err)

	require.NoError(t, upload.FlushPart(context.Background(), []byte("part-zero")))
	require.NoError(t, upload.FlushPart(context.Background(), []byte("part-one")))
	require.NoError(t, upload.Complete(context.Background()))

	assert.Equal(t, []int32{1, 2}, fake.partsUploaded)
	assert.True(t, fake.completed)
}

func TestUpload_AbortCombinesStreamAndAbortErrors(t *testing.T) {
	fake := &fakeS3Client{uploadID: "upload-2", abortErr: errors.New("abort failed")}
	store := &Store{client: fake, bucket: "test-bucket"}

	upload, err := store.BeginUpload(context.Background(), "artifacts/2")
	require.NoError(t, err)

	streamErr := errors.New("stream failed")
	combined := upload.Abort(context.Background(), streamErr)
	require.Error(t, combined)
	assert.ErrorIs(t, combined, streamErr)
	assert.True(t, fake.aborted)
}

func TestUpload_AbortWithNoStreamError(t *testing.T) {
	fake := &fakeS3Client{uploadID: "upload-3"}
	store := &Store{client: fake, bucket: "test-bucket"}

	upload, err := store.BeginUpload(context.Background(), "artifacts/3")
	require.NoError(t, err)

	assert.NoError(t, upload.Abort(context.Background(), nil))
	assert.True(t, fake.aborted)
}

func TestStore_ArtifactKey(t *testing.T) {
	store := &Store{}
	assert.Equal(t, "artifacts/42", store.ArtifactKey(42))

	prefixed := &Store{keyPrefix: "mirror"}
	assert.Equal(t, "mirror/artifacts/42", prefixed.ArtifactKey(42))
}
