package sharded

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// DeleteShards removes every shard object left under dest's shard prefix,
// from any upload of dest. It returns the number of objects deleted.
//
// Shards are normally deleted by UploadFile. Use DeleteShards to clean up
// after uploads that were interrupted, or that ran with WithKeepShards.
//
// Returns an error if:
//   - Listing the prefix fails (permission denied, network error)
//   - A shard cannot be deleted (objects already gone are skipped)
//   - The context is cancelled (context.Canceled or context.DeadlineExceeded)
func DeleteShards(ctx context.Context, bucket *blob.Bucket, dest string) (int, error) {
	prefix := dest + ".shards/"
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})

	deleted := 0
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("sharded: list shards: %w", err)
		}
		if obj.IsDir {
			continue
		}
		if err := bucket.Delete(ctx, obj.Key); err != nil {
			if isNotExist(err) {
				continue
			}
			return deleted, fmt.Errorf("sharded: delete shard %s: %w", obj.Key, err)
		}
		deleted++
	}
	return deleted, nil
}
