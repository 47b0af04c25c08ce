//go:build integration

// Package testutils provides shared test infrastructure for integration tests.
package testutils

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob"
)

const (
	minioUser     = "minioadmin"
	minioPassword = "minioadmin"
)

// WriteTestFile writes size bytes of test data to a file in a temporary
// directory and returns its path and contents. Files up to 10MiB use a
// deterministic pattern, larger ones random data.
func WriteTestFile(t *testing.T, size int64) (string, []byte) {
	t.Helper()
	data := make([]byte, size)
	if size <= 10*1024*1024 {
		for i := range data {
			data[i] = byte(i % 251)
		}
	} else if _, err := rand.Read(data); err != nil {
		t.Fatalf("generate random data: %v", err)
	}

	path := filepath.Join(t.TempDir(), fmt.Sprintf("upload-%d.bin", size))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	return path, data
}

// Minio is a running Minio server with one bucket.
type Minio struct {
	BucketURL string
	Endpoint  string
}

// StartMinio starts a Minio container with a pre-created bucket. The
// container is terminated when the test ends. AWS credentials for the
// container are exported to the test's environment.
func StartMinio(t *testing.T, ctx context.Context, bucketName string) *Minio {
	t.Helper()

	// mc reaches minio over a private network.
	networkName := fmt.Sprintf("stitch-test-net-%d", time.Now().UnixNano())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{Name: networkName},
	})
	if err != nil {
		t.Fatalf("create network: %v", err)
	}
	t.Cleanup(func() { network.Remove(context.Background()) })

	minio, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:          "minio/minio:latest",
			ExposedPorts:   []string{"9000/tcp"},
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"minio"}},
			Env: map[string]string{
				"MINIO_ROOT_USER":     minioUser,
				"MINIO_ROOT_PASSWORD": minioPassword,
			},
			Cmd:        []string{"server", "/data"},
			WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start minio container: %v", err)
	}
	t.Cleanup(func() { minio.Terminate(context.Background()) })

	mc, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:      "minio/mc:latest",
			Networks:   []string{networkName},
			Entrypoint: []string{"/bin/sh", "-c"},
			Cmd: []string{fmt.Sprintf(
				"/usr/bin/mc alias set local http://minio:9000 %s %s && /usr/bin/mc mb local/%s",
				minioUser, minioPassword, bucketName,
			)},
			WaitingFor: wait.ForExit(),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("create bucket: %v", err)
	}
	mc.Terminate(ctx)

	host, err := minio.Host(ctx)
	if err != nil {
		t.Fatalf("get container host: %v", err)
	}
	port, err := minio.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("get container port: %v", err)
	}
	endpoint := fmt.Sprintf("%s:%s", host, port.Port())

	// gocloud reads the credentials from the environment.
	t.Setenv("AWS_ACCESS_KEY_ID", minioUser)
	t.Setenv("AWS_SECRET_ACCESS_KEY", minioPassword)

	return &Minio{
		BucketURL: fmt.Sprintf("s3://%s?endpoint=http://%s&use_path_style=true&disable_https=true&region=us-east-1",
			bucketName, endpoint),
		Endpoint: endpoint,
	}
}

// OpenBucket opens the Minio bucket. It is closed when the test ends.
func (m *Minio) OpenBucket(t *testing.T, ctx context.Context) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(ctx, m.BucketURL)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

// RequireObject fails the test unless name in bucket holds exactly want.
func RequireObject(t *testing.T, ctx context.Context, bucket *blob.Bucket, name string, want []byte) {
	t.Helper()
	got, err := bucket.ReadAll(ctx, name)
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	if len(got) != len(want) {
		t.Fatalf("%s has %d bytes, want %d", name, len(got), len(want))
	}
	if i := firstDiff(got, want); i >= 0 {
		t.Fatalf("%s differs at offset %d", name, i)
	}
}

func firstDiff(a, b []byte) int {
	if bytes.Equal(a, b) {
		return -1
	}
	for i := range a {
		if a[i] != b[i] {
			return i
		}
	}
	return len(a)
}
