//go:build integration

package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tfproviders/provider-mirror/pkg/core"
	"github.com/tfproviders/provider-mirror/pkg/metadata"
)

func startPostgres(ctx context.Context, t *testing.T) string {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "mirror",
			"POSTGRES_PASSWORD": "mirror",
			"POSTGRES_DB":       "mirror",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		termCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = c.Terminate(termCtx)
	})

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://mirror:mirror@%s:%s/mirror?sslmode=disable", host, port.Port())
}

func newMetadataStore(ctx context.Context, t *testing.T) *metadata.Store {
	dsn := startPostgres(ctx, t)
	require.NoError(t, metadata.Migrate(dsn))

	store, err := metadata.New(metadata.Config{DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestMetadataStore_UnknownProviderThenUpsertThenKnown(t *testing.T) {
	ctx := context.Background()
	store := newMetadataStore(ctx, t)

	key := core.ProviderKey{Hostname: "registry.terraform.io", Namespace: "hashicorp", Kind: "aws"}

	result, err := store.GetVersions(ctx, key)
	require.NoError(t, err)
	require.False(t, result.Known)

	_, err = store.UpsertProviderAndVersions(ctx, key, []core.UpstreamVersion{
		{Version: "1.9.0", Platforms: []core.Platform{{OS: "linux", Arch: "amd64"}}},
		{Version: "1.10.0", Platforms: []core.Platform{{OS: "linux", Arch: "amd64"}}},
	})
	require.NoError(t, err)

	result, err = store.GetVersions(ctx, key)
	require.NoError(t, err)
	require.True(t, result.Known)
	require.Equal(t, []string{"1.9.0", "1.10.0"}, result.Versions)
}

func TestMetadataStore_AllocateBindResolveArtifactLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMetadataStore(ctx, t)

	key := core.ProviderKey{Hostname: "registry.terraform.io", Namespace: "hashicorp", Kind: "azurerm"}
	records, err := store.UpsertProviderAndVersions(ctx, key, []core.UpstreamVersion{
		{Version: "3.0.0", Platforms: []core.Platform{{OS: "darwin", Arch: "arm64"}}},
	})
	require.NoError(t, err)
	require.Len(t, records, 1)

	details, err := store.ResolveVersion(ctx, records[0].ID)
	require.NoError(t, err)
	require.NotNil(t, details)
	require.Nil(t, details.ArtifactID)

	artifactID, err := store.AllocateArtifactID(ctx)
	require.NoError(t, err)

	require.NoError(t, store.BindArtifact(ctx, records[0].ID, artifactID))

	details, err = store.ResolveVersion(ctx, records[0].ID)
	require.NoError(t, err)
	require.NotNil(t, details.ArtifactID)
	require.Equal(t, artifactID, *details.ArtifactID)

	// Binding again with a different id is a no-op (spec invariant: never rebind).
	require.NoError(t, store.BindArtifact(ctx, records[0].ID, artifactID+1))
	details, err = store.ResolveVersion(ctx, records[0].ID)
	require.NoError(t, err)
	require.Equal(t, artifactID, *details.ArtifactID)
}

func TestMetadataStore_CredentialLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newMetadataStore(ctx, t)

	found, token, err := store.GetCredential(ctx, "registry.terraform.io")
	require.NoError(t, err)
	require.False(t, found)
	require.Nil(t, token)

	require.NoError(t, store.StoreCredential(ctx, "registry.terraform.io", "s3cr3t"))

	found, token, err = store.GetCredential(ctx, "registry.terraform.io")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "s3cr3t", *token)

	require.NoError(t, store.ForgetCredential(ctx, "registry.terraform.io"))
	found, _, err = store.GetCredential(ctx, "registry.terraform.io")
	require.NoError(t, err)
	require.False(t, found)
}
