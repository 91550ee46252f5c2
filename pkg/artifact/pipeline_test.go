package artifact

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfproviders/provider-mirror/pkg/core"
	"github.com/tfproviders/provider-mirror/pkg/objectstore"
)

type fakeMetadata struct {
	details      *core.ArtifactDetails
	resolveErr   error
	nextID       int64
	allocErr     error
	bindErr      error
	boundVersion int64
	boundID      int64
}

func (f *fakeMetadata) ResolveVersion(_ context.Context, _ int64) (*core.ArtifactDetails, error) {
	return f.details, f.resolveErr
}

func (f *fakeMetadata) AllocateArtifactID(_ context.Context) (int64, error) {
	if f.allocErr != nil {
		return 0, f.allocErr
	}
	f.nextID++
	return f.nextID, nil
}

func (f *fakeMetadata) BindArtifact(_ context.Context, versionID, artifactID int64) error {
	if f.bindErr != nil {
		return f.bindErr
	}
	f.boundVersion = versionID
	f.boundID = artifactID
	return nil
}

type fakeUpstream struct {
	body io.ReadCloser
	err  error
}

func (f *fakeUpstream) OpenArchive(_ context.Context, _ core.ProviderKey, _ string, _ core.Platform) (io.ReadCloser, error) {
	return f.body, f.err
}

type fakeObjectStore struct {
	presign string
}

func (f *fakeObjectStore) ArtifactKey(artifactID int64) string {
	return "artifacts/test"
}

func (f *fakeObjectStore) BeginUpload(_ context.Context, key string) (*objectstore.Upload, error) {
	return nil, errNotImplemented
}

func (f *fakeObjectStore) PresignedURL(_ context.Context, _ string) (string, error) {
	return f.presign, nil
}

var errNotImplemented = errors.New("not implemented in fake")

func TestPipeline_WarmHitSkipsUpload(t *testing.T) {
	existing := int64(7)
	meta := &fakeMetadata{details: &core.ArtifactDetails{VersionID: 1, ArtifactID: &existing}}
	store := &fakeObjectStore{presign: "https://example.com/presigned"}
	p := New(meta, &fakeUpstream{}, store, nil)

	res, err := p.Retrieve(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "https://example.com/presigned", res.PresignedURL)
}

func TestPipeline_UnknownVersionReturnsNil(t *testing.T) {
	meta := &fakeMetadata{details: nil}
	p := New(meta, &fakeUpstream{}, &fakeObjectStore{}, nil)

	res, err := p.Retrieve(context.Background(), 99)
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestPipeline_ResolveError(t *testing.T) {
	meta := &fakeMetadata{resolveErr: core.NewError(core.KindDatabaseError, "boom", nil)}
	p := New(meta, &fakeUpstream{}, &fakeObjectStore{}, nil)

	_, err := p.Retrieve(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, core.KindDatabaseError, core.KindOf(err))
}
