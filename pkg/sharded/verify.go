package sharded

import (
	"context"
	"fmt"
	"io"

	"gocloud.dev/blob"
)

// VerifyResult contains the results of verifying an uploaded object.
type VerifyResult struct {
	Valid          bool     // true if the object exists with the expected size
	Object         *Object  // the object as found in the store, nil if missing
	ExpectedSize   int64    // size the object should have, -1 if unchecked
	LeftoverShards int      // shard objects still stored under the object's shard prefix
	Errors         []string // detailed error messages
}

// Verify checks that name exists in bucket and, if size is not negative, that
// it has size bytes. It also counts shard objects left behind by earlier
// uploads of name; leftovers do not make the result invalid.
//
// Returns an error if:
//   - Cannot access the object store (network/permission error)
//   - The context is cancelled (context.Canceled or context.DeadlineExceeded)
//
// Note: A missing object or a size mismatch is NOT returned as an error.
// Instead, it is reported in the VerifyResult with Valid=false.
func Verify(ctx context.Context, bucket *blob.Bucket, name string, size int64) (*VerifyResult, error) {
	result := &VerifyResult{
		Valid:        true,
		ExpectedSize: size,
		Errors:       make([]string, 0),
	}

	obj, err := attributesOf(ctx, bucket, name)
	switch {
	case isNotExist(err):
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("object missing: %s", name))
	case err != nil:
		return nil, fmt.Errorf("sharded: check object: %w", err)
	default:
		result.Object = obj
		if size >= 0 && obj.Size != size {
			result.Valid = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("size mismatch: expected %d, got %d", size, obj.Size))
		}
	}

	iter := bucket.List(&blob.ListOptions{Prefix: name + ".shards/"})
	for {
		lo, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("sharded: list shards: %w", err)
		}
		if !lo.IsDir {
			result.LeftoverShards++
		}
	}

	return result, nil
}
