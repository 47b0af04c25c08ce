package sharded

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
)

func TestPlanShards(t *testing.T) {
	tests := []struct {
		name         string
		size         int64
		maxStreams   int
		minShardSize int64
		wantLengths  []int64
	}{
		{"empty", 0, 4, 10, []int64{0}},
		{"smaller than min", 5, 4, 10, []int64{5}},
		{"exact", 30, 4, 10, []int64{10, 10, 10}},
		{"remainder", 25, 4, 10, []int64{13, 12}},
		{"below twice min", 19, 4, 10, []int64{19}},
		{"capped by streams", 100, 2, 10, []int64{50, 50}},
		{"short last shard", 10, 4, 2, []int64{3, 3, 3, 1}},
		{"no empty tail", 9, 4, 2, []int64{3, 3, 3}},
		{"one stream", 1000, 1, 1, []int64{1000}},
		{"s3 part minimum", 6 << 20, 32, 5 << 20, []int64{6 << 20}},
		{"default sizes", 100 << 20, DefaultMaxStreams, DefaultMinShardSize, []int64{100 << 20}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs := PlanShards(tt.size, tt.maxStreams, tt.minShardSize)
			if len(specs) != len(tt.wantLengths) {
				t.Fatalf("got %d shards, want %d: %+v", len(specs), len(tt.wantLengths), specs)
			}
			var offset int64
			for i, s := range specs {
				if s.Index != i || s.Offset != offset || s.Length != tt.wantLengths[i] {
					t.Errorf("shard %d = %+v, want offset %d length %d", i, s, offset, tt.wantLengths[i])
				}
				offset += s.Length
			}
			if offset != tt.size {
				t.Errorf("shards cover %d bytes, want %d", offset, tt.size)
			}
		})
	}
}

func TestPlanShardsMinShardSize(t *testing.T) {
	const minShardSize = 5 << 20
	for _, size := range []int64{minShardSize, 6 << 20, 10<<20 - 1, 10 << 20, 12<<20 + 3, 1 << 30} {
		specs := PlanShards(size, 32, minShardSize)
		for _, s := range specs[:len(specs)-1] {
			if s.Length < minShardSize {
				t.Errorf("size %d: shard %d has %d bytes, below %d", size, s.Index, s.Length, minShardSize)
			}
		}
	}
}

func TestShardName(t *testing.T) {
	prefix := ShardPrefix("dir/file.bin", "abc")
	if prefix != "dir/file.bin.shards/abc/" {
		t.Errorf("ShardPrefix = %q", prefix)
	}
	if got := ShardName(prefix, 12); got != "dir/file.bin.shards/abc/shard-000012" {
		t.Errorf("ShardName = %q", got)
	}
}

func openMemBucket(t *testing.T) *blob.Bucket {
	t.Helper()
	bucket, err := blob.OpenBucket(context.Background(), "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	t.Cleanup(func() { bucket.Close() })
	return bucket
}

func TestUploadFile(t *testing.T) {
	ctx := context.Background()
	bucket := openMemBucket(t)
	data := testData(1000)
	path := writeTempFile(t, data)

	progress := &countingProgress{}
	obj, err := UploadFile(ctx,
		NewBucket(bucket),
		NewConcatComposer(bucket, "out/file.bin", nil),
		NewBucketDeleter(bucket),
		path, "out/file.bin",
		WithMinShardSize(100),
		WithMaxStreams(8),
		WithBufferSize(64),
		WithWorkers(3),
		WithProgress(progress),
		WithContentType("application/octet-stream"),
	)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if obj.Name != "out/file.bin" || obj.Size != 1000 {
		t.Errorf("got %+v", obj)
	}

	got, err := bucket.ReadAll(ctx, "out/file.bin")
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(data) {
		t.Error("uploaded data does not match")
	}
	if n := countObjects(t, ctx, bucket, "out/file.bin.shards/"); n != 0 {
		t.Errorf("%d shard objects left after upload", n)
	}
	if progress.started != 8 || progress.completed != 8 || progress.bytes != 1000 {
		t.Errorf("progress = started %d completed %d bytes %d", progress.started, progress.completed, progress.bytes)
	}
}

func TestUploadFileKeepShards(t *testing.T) {
	ctx := context.Background()
	bucket := openMemBucket(t)
	path := writeTempFile(t, testData(300))

	_, err := UploadFile(ctx,
		NewBucket(bucket),
		NewConcatComposer(bucket, "kept.bin", nil),
		NewBucketDeleter(bucket),
		path, "kept.bin",
		WithMinShardSize(100),
		WithKeepShards(true),
	)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if n := countObjects(t, ctx, bucket, "kept.bin.shards/"); n != 3 {
		t.Errorf("%d shard objects kept, want 3", n)
	}

	deleted, err := DeleteShards(ctx, bucket, "kept.bin")
	if err != nil {
		t.Fatalf("DeleteShards: %v", err)
	}
	if deleted != 3 {
		t.Errorf("deleted %d shards, want 3", deleted)
	}
}

func TestUploadFileEmpty(t *testing.T) {
	ctx := context.Background()
	bucket := openMemBucket(t)
	path := writeTempFile(t, nil)

	obj, err := UploadFile(ctx,
		NewBucket(bucket),
		NewConcatComposer(bucket, "empty.bin", nil),
		NewBucketDeleter(bucket),
		path, "empty.bin",
	)
	if err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if obj.Size != 0 {
		t.Errorf("size = %d, want 0", obj.Size)
	}
}

func TestUploadFileMissing(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	_, err := UploadFile(ctx, store, store, store, "/does/not/exist", "dest")
	if Code(err) != gcerrors.NotFound {
		t.Errorf("UploadFile = %v, want NotFound", err)
	}
	if store.opened != 0 {
		t.Errorf("opened %d sessions", store.opened)
	}
}

func TestUploadFileOpenFailure(t *testing.T) {
	ctx := context.Background()
	path := writeTempFile(t, testData(30))
	errOpen := errors.New("quota exceeded")

	store := newFakeStore()
	opener := &nameMatchingOpener{fakeStore: store, suffix: "shard-000001", err: errOpen}
	_, err := UploadFile(ctx, opener, store, store, path, "dest",
		WithMinShardSize(10),
	)
	if err != errOpen {
		t.Fatalf("UploadFile = %v, want %v", err, errOpen)
	}
	if n := len(store.composeCalls()); n != 0 {
		t.Errorf("compose called %d times", n)
	}
	// Shard 0 was opened and aborted, shard 2 never opened.
	if store.opened != 1 || len(store.aborted) != 1 {
		t.Errorf("opened %d, aborted %v", store.opened, store.aborted)
	}
}

func TestUploadFileComposeFailure(t *testing.T) {
	ctx := context.Background()
	path := writeTempFile(t, testData(30))
	store := newFakeStore()
	errCompose := errors.New("too many sources")
	store.composeFn = func([]ComposeSource) (*Object, error) { return nil, errCompose }

	_, err := UploadFile(ctx, store, store, store, path, "dest", WithMinShardSize(10))
	if err != errCompose {
		t.Fatalf("UploadFile = %v, want %v", err, errCompose)
	}
	if store.deletes != 1 || len(store.added) != 3 {
		t.Errorf("deletes %d, added %d; want 1, 3", store.deletes, len(store.added))
	}
}

func TestUploadFileSizeMismatch(t *testing.T) {
	ctx := context.Background()
	path := writeTempFile(t, testData(30))
	store := newFakeStore()
	store.composeFn = func([]ComposeSource) (*Object, error) {
		return &Object{Name: "final", Size: 29}, nil
	}

	_, err := UploadFile(ctx, store, store, store, path, "dest", WithMinShardSize(10))
	if Code(err) != gcerrors.Internal {
		t.Errorf("UploadFile = %v, want Internal", err)
	}
}

func TestUploadFileCleanupFailure(t *testing.T) {
	ctx := context.Background()
	path := writeTempFile(t, testData(30))
	store := newFakeStore()
	store.deleteErr = errors.New("permission denied")

	obj, err := UploadFile(ctx, store, store, store, path, "dest", WithMinShardSize(10))
	if !IsCleanupError(err) || !errors.Is(err, store.deleteErr) {
		t.Fatalf("UploadFile = %v, want cleanup error", err)
	}
	if obj == nil || obj.Size != 30 {
		t.Errorf("object = %+v, want 30 bytes", obj)
	}

	obj, err = UploadFile(ctx, store, store, store, path, "dest",
		WithMinShardSize(10),
		WithIgnoreCleanupFailures(true),
	)
	if err != nil || obj == nil {
		t.Errorf("UploadFile with ignored cleanup = %+v, %v", obj, err)
	}
}

func TestUploadFileLogs(t *testing.T) {
	ctx := context.Background()
	path := writeTempFile(t, testData(30))
	store := newFakeStore()

	var buf strings.Builder
	log := logrus.New()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)

	if _, err := UploadFile(ctx, store, store, store, path, "dest",
		WithMinShardSize(10),
		WithLogger(log),
	); err != nil {
		t.Fatalf("UploadFile: %v", err)
	}
	if !strings.Contains(buf.String(), "parallel upload complete") {
		t.Errorf("missing completion log line:\n%s", buf.String())
	}
}

// nameMatchingOpener fails to open sessions whose name ends with suffix.
type nameMatchingOpener struct {
	*fakeStore
	suffix string
	err    error
}

func (o *nameMatchingOpener) OpenSession(ctx context.Context, req SessionRequest) (Session, error) {
	if strings.HasSuffix(req.Name, o.suffix) {
		return nil, o.err
	}
	return o.fakeStore.OpenSession(ctx, req)
}
