package sharded_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"

	"github.com/ligustah/stitch/pkg/sharded"
)

func Example_uploadFile() {
	ctx := context.Background()
	bucket, _ := blob.OpenBucket(ctx, "mem://")
	defer bucket.Close()

	dir, _ := os.MkdirTemp("", "example")
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "file.txt")
	os.WriteFile(path, []byte(strings.Repeat("0123456789", 10)), 0o644)

	obj, err := sharded.UploadFile(ctx,
		sharded.NewBucket(bucket),
		sharded.NewConcatComposer(bucket, "path/to/file.txt", nil),
		sharded.NewBucketDeleter(bucket),
		path, "path/to/file.txt",
		sharded.WithMinShardSize(25), // 4 shards
	)
	if err != nil {
		panic(err)
	}
	fmt.Printf("%s: %d bytes\n", obj.Name, obj.Size)

	// Output: path/to/file.txt: 100 bytes
}

func Example_coordinator() {
	ctx := context.Background()
	bucket, _ := blob.OpenBucket(ctx, "mem://")
	defer bucket.Close()

	coord := sharded.New(ctx,
		sharded.NewBucket(bucket),
		sharded.NewConcatComposer(bucket, "greeting.txt", nil),
		sharded.NewBucketDeleter(bucket),
	)

	// Create every shard before writing any of them.
	parts := []string{"hello, ", "sharded ", "world"}
	writers := make([]*sharded.ShardWriter, len(parts))
	for i := range parts {
		w, err := coord.CreateShardWriter(ctx, sharded.SessionRequest{
			Name: sharded.ShardName("greeting.txt.shards/example/", i),
		})
		if err != nil {
			panic(err)
		}
		writers[i] = w
	}
	coord.Seal()

	for i, w := range writers {
		fmt.Fprint(w, parts[i])
		if _, err := w.Close(); err != nil {
			panic(err)
		}
	}

	obj, err := coord.Wait(ctx)
	if err != nil {
		panic(err)
	}
	if err := coord.EagerCleanup(ctx); err != nil {
		panic(err)
	}

	data, _ := bucket.ReadAll(ctx, obj.Name)
	fmt.Println(string(data))

	// Output: hello, sharded world
}

func ExamplePlanShards() {
	for _, s := range sharded.PlanShards(10, 4, 3) {
		fmt.Printf("shard %d: offset=%d length=%d\n", s.Index, s.Offset, s.Length)
	}

	// Output:
	// shard 0: offset=0 length=4
	// shard 1: offset=4 length=4
	// shard 2: offset=8 length=2
}
