package mirror

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfproviders/provider-mirror/pkg/artifact"
)

func TestArtifactEndpoint_FoundYieldsResponse(t *testing.T) {
	svc := New(Config{
		Metadata: &fakeMetadataStore{},
		Refresh:  &fakeRefreshCoordinator{},
		Pipeline: &fakeArtifactPipeline{result: &artifact.Result{PresignedURL: "https://example.com/blob"}},
	})

	resp, err := artifactEndpoint(svc)(context.Background(), artifactRequest{VersionID: 1})
	require.NoError(t, err)
	res := resp.(artifactResponse)
	assert.True(t, res.found)
	assert.Equal(t, "https://example.com/blob", res.presignedURL)
}

func TestArtifactEndpoint_NotFoundReturnsError(t *testing.T) {
	svc := New(Config{
		Metadata: &fakeMetadataStore{},
		Refresh:  &fakeRefreshCoordinator{},
		Pipeline: &fakeArtifactPipeline{result: nil},
	})

	_, err := artifactEndpoint(svc)(context.Background(), artifactRequest{VersionID: 1})
	require.Error(t, err)
}

func TestIndexEndpoint_WrongRequestTypeFails(t *testing.T) {
	svc := New(Config{Metadata: &fakeMetadataStore{}, Refresh: &fakeRefreshCoordinator{}, Pipeline: &fakeArtifactPipeline{}})

	_, err := indexEndpoint(svc)(context.Background(), "not-a-request")
	require.Error(t, err)
}

func TestVersionsEndpoint_DelegatesToService(t *testing.T) {
	svc := New(Config{
		Metadata: &fakeMetadataStore{downloads: nil},
		Refresh:  &fakeRefreshCoordinator{},
		Pipeline: &fakeArtifactPipeline{},
	})

	resp, err := versionsEndpoint(svc)(context.Background(), versionsRequest{Key: testKey, Version: "1.0.0"})
	require.NoError(t, err)
	vr := resp.(VersionsResponse)
	assert.Empty(t, vr.Archives)
}
