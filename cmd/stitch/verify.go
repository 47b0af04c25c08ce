package main

import (
	"flag"
	"fmt"
	"os"

	"gocloud.dev/blob"

	"github.com/ligustah/stitch/pkg/sharded"
)

// runVerify checks that an uploaded object exists and optionally that it has
// the size of a local file.
func runVerify(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	object := fs.String("object", "", "Object path (required)")
	file := fs.String("file", "", "Local file whose size the object must match")
	size := fs.Int64("size", -1, "Expected object size in bytes")
	verbose := fs.Bool("v", false, "Verbose logging")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: stitch verify [options]

Check that an uploaded object exists with the expected size, and report shard
objects left behind by earlier uploads. Does not download any data.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if *bucket == "" || *object == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and -object are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	expected := *size
	if *file != "" {
		info, err := os.Stat(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error accessing source file: %v\n", err)
			return ExitSourceNotAccess
		}
		expected = info.Size()
	}

	log := newLogger(*verbose)
	ctx, cancel := signalContext(log)
	defer cancel()

	bkt, err := blob.OpenBucket(ctx, *bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	result, err := sharded.Verify(ctx, bkt, *object, expected)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitStorageError
	}

	fmt.Printf("Object: %s\n", *object)
	if result.Object != nil {
		fmt.Printf("Size: %d bytes\n", result.Object.Size)
		if result.Object.ETag != "" {
			fmt.Printf("ETag: %s\n", result.Object.ETag)
		}
	}
	if result.LeftoverShards > 0 {
		fmt.Printf("Leftover shards: %d (run 'stitch cleanup' to remove them)\n", result.LeftoverShards)
	}

	if result.Valid {
		fmt.Println("Status: VALID")
		return ExitSuccess
	}

	fmt.Println("Status: INVALID")
	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return ExitValidationFailed
}
