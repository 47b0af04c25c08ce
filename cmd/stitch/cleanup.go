package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"gocloud.dev/blob"

	"github.com/ligustah/stitch/pkg/sharded"
)

// runCleanup removes the shard objects of an object from object storage. The
// composed object itself is left alone.
func runCleanup(args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)

	bucket := fs.String("bucket", "", "Bucket URL (required)")
	object := fs.String("object", "", "Object path whose shards to remove (required)")
	force := fs.Bool("force", false, "Skip confirmation prompt")
	verbose := fs.Bool("v", false, "Verbose logging")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: stitch cleanup [options]

Remove shard objects stored under <object>.shards/, as left behind by
interrupted uploads or uploads run with -keep-shards.

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

	if !*force {
		fmt.Printf("Delete all shards of %s from %s? [y/N]: ", *object, *bucket)
		response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if response != "y" && response != "yes" {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return ExitSuccess
		}
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

	n, err := sharded.DeleteShards(ctx, bkt, *object)
	if err != nil {
		log.WithError(err).WithField("deleted", n).Error("cleanup failed")
		return ExitCleanupFailed
	}

	fmt.Fprintf(os.Stderr, "[stitch] Deleted %d shard objects of %s/%s\n", n, *bucket, *object)
	return ExitSuccess
}
