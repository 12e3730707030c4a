//go:build long_s3_tests

package s3meta

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

// startMinIO brings up a real S3-compatible MinIO container, the same
// GenericContainer pattern the teacher uses for its Postgres/Kafka
// integration suite, so s3meta's ETag-conflict handling is exercised
// against actual S3 ETag semantics rather than the in-memory fake.
func startMinIO(t *testing.T) (endpoint string, accessKey, secretKey string) {
	t.Helper()
	ctx := context.Background()

	accessKey, secretKey = "minioadmin", "minioadmin"
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     accessKey,
			"MINIO_ROOT_PASSWORD": secretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForListeningPort("9000/tcp"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)
	return fmt.Sprintf("http://%s:%s", host, port.Port()), accessKey, secretKey
}

func TestMinIOETagConflictIsReal(t *testing.T) {
	endpoint, accessKey, secretKey := startMinIO(t)
	ctx := context.Background()

	client, err := NewS3Client(ctx, ClientConfig{
		Region:    "us-east-1",
		AccessID:  accessKey,
		AccessKey: secretKey,
		Endpoint:  endpoint,
		PathStyle: true,
	})
	require.NoError(t, err)

	bucket := "s3meta-integration"
	_, err = client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	require.NoError(t, err)

	cfg := Config{Bucket: bucket, Key: "meta.db", Table: "resources"}

	dir1 := t.TempDir()
	cfg1 := cfg
	cfg1.LocalPath = filepath.Join(dir1, "meta.db")
	s1, err := Open(ctx, client, cfg1)
	require.NoError(t, err)
	defer s1.Close(ctx)

	require.NoError(t, s1.Put(resource.ResourceMeta{ResourceID: "r1", CurrentRevisionID: "r1:1"}))

	dir2 := t.TempDir()
	cfg2 := cfg
	cfg2.LocalPath = filepath.Join(dir2, "meta.db")
	s2, err := Open(ctx, client, cfg2)
	require.NoError(t, err)
	defer s2.Close(ctx)

	require.NoError(t, s1.Put(resource.ResourceMeta{ResourceID: "r2", CurrentRevisionID: "r2:1"}))

	err = s2.Put(resource.ResourceMeta{ResourceID: "r3", CurrentRevisionID: "r3:1"})
	require.Error(t, err)
	require.Equal(t, resource.KindS3Conflict, resource.KindOf(err))
}
