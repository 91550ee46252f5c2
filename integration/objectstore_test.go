//go:build integration

package integration

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tfproviders/provider-mirror/pkg/objectstore"
)

func createBucket(ctx context.Context, t *testing.T, endpoint, bucket string) {
	resolver := aws.EndpointResolverWithOptionsFunc(func(_, _ string, _ ...interface{}) (aws.Endpoint, error) {
		return aws.Endpoint{URL: endpoint, HostnameImmutable: true}, nil
	})
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion("us-east-1"), config.WithEndpointResolverWithOptions(resolver))
	require.NoError(t, err)

	client := s3.NewFromConfig(cfg, func(o *s3.Options) { o.UsePathStyle = true })
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)
}

func startMinio(ctx context.Context, t *testing.T) string {
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:RELEASE.2024-01-16T16-07-38Z",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "mirroradmin",
			"MINIO_ROOT_PASSWORD": "mirrorsecret",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForListeningPort("9000/tcp").WithStartupTimeout(60 * time.Second),
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
	port, err := c.MappedPort(ctx, "9000/tcp")
	require.NoError(t, err)

	return fmt.Sprintf("http://%s:%s", host, port.Port())
}

func TestObjectStore_MultipartUploadRoundTrip(t *testing.T) {
	ctx := context.Background()
	endpoint := startMinio(ctx, t)

	t.Setenv("AWS_ACCESS_KEY_ID", "mirroradmin")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "mirrorsecret")
	t.Setenv("AWS_REGION", "us-east-1")

	const bucket = "provider-mirror-artifacts"
	createBucket(ctx, t, endpoint, bucket)

	store, err := objectstore.New(ctx, bucket, "us-east-1", endpoint, objectstore.WithPathStyle(true))
	require.NoError(t, err)

	key := store.ArtifactKey(101)
	upload, err := store.BeginUpload(ctx, key)
	require.NoError(t, err)

	partOne := bytes.Repeat([]byte("a"), objectstore.MinPartSize)
	partTwo := []byte("trailing bytes")
	require.NoError(t, upload.FlushPart(ctx, partOne))
	require.NoError(t, upload.FlushPart(ctx, partTwo))
	require.NoError(t, upload.Complete(ctx))

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	require.True(t, exists)

	url, err := store.PresignedURL(ctx, key)
	require.NoError(t, err)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, len(partOne)+len(partTwo), len(body))
}
