package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/ligustah/stitch/internal/config"
	"github.com/ligustah/stitch/internal/progress"
	"github.com/ligustah/stitch/pkg/compose"
	"github.com/ligustah/stitch/pkg/sharded"
)

// runUpload uploads a local file as parallel shards and composes them into a
// single object.
func runUpload(args []string) int {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)

	configPath := fs.String("config", "", "YAML configuration file")
	file := fs.String("file", "", "Local file to upload (required)")
	bucket := fs.String("bucket", "", "Destination bucket URL (required)")
	object := fs.String("object", "", "Destination object path (required)")
	streams := fs.Int("streams", 0, "Maximum number of shards (default 32)")
	minShardSize := fs.String("min-shard-size", "", "Smallest shard size (default 64MiB)")
	bufferSize := fs.String("buffer-size", "", "Copy buffer size per shard (default 8MiB)")
	workers := fs.Int("workers", 0, "Concurrent shard uploads (default: all shards at once)")
	composeKind := fs.String("compose", "", "Compose implementation: auto, concat, gcs or s3 (default auto)")
	contentType := fs.String("content-type", "", "Content type of the uploaded object")
	keepShards := fs.Bool("keep-shards", false, "Do not delete shard objects after the upload")
	ignoreCleanup := fs.Bool("ignore-cleanup-failures", false, "Succeed even if shard objects could not be deleted")
	skipChecksum := fs.Bool("skip-checksum", false, "Do not validate shard checksums reported by the store")
	showProgress := fs.Bool("progress", false, "Show progress output")
	timeout := fs.Duration("timeout", 0, "Abort the upload after this long")
	verbose := fs.Bool("v", false, "Verbose logging")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: stitch upload [options]

Upload a local file to object storage as parallel shards, then compose the
shards into a single object.

Settings are read from the -config file, then STITCH_* environment variables,
then flags.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	log := newLogger(*verbose)

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadFromFile(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	override := config.Config{
		File:                  *file,
		Bucket:                *bucket,
		Object:                *object,
		Streams:               *streams,
		Workers:               *workers,
		Compose:               *composeKind,
		ContentType:           *contentType,
		KeepShards:            *keepShards,
		IgnoreCleanupFailures: *ignoreCleanup,
		SkipChecksum:          *skipChecksum,
		Progress:              *showProgress,
		Timeout:               *timeout,
	}
	for _, size := range []struct {
		flag string
		in   string
		out  *int64
	}{
		{"min-shard-size", *minShardSize, &override.MinShardSize},
		{"buffer-size", *bufferSize, &override.BufferSize},
	} {
		if size.in == "" {
			continue
		}
		n, err := progress.ParseBytes(size.in)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid -%s: %v\n", size.flag, err)
			return ExitInvalidArgs
		}
		*size.out = n
	}
	cfg = cfg.Merge(override)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fs.Usage()
		return ExitInvalidArgs
	}
	kind, _ := compose.ParseKind(cfg.Compose)

	info, err := os.Stat(cfg.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error accessing source file: %v\n", err)
		return ExitSourceNotAccess
	}

	ctx, cancel := signalContext(log)
	defer cancel()
	if cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	bkt, err := blob.OpenBucket(ctx, cfg.Bucket)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bkt.Close()

	composer, deleter, err := compose.ForBucket(bkt, cfg.Bucket, cfg.Object, kind,
		compose.WithContentType(cfg.ContentType),
		compose.WithLogger(log),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	opts := append(cfg.Options(), sharded.WithLogger(log))
	if cfg.Progress {
		specs := sharded.PlanShards(info.Size(), cfg.Streams, cfg.MinShardSize)
		concurrency := cfg.Workers
		if concurrency == 0 {
			concurrency = len(specs)
		}
		reporter := progress.NewReporter(progress.Options{
			TotalSize:      info.Size(),
			TotalShards:    len(specs),
			Workers:        concurrency,
			Output:         os.Stderr,
			UpdateInterval: 5 * time.Second,
			Source:         cfg.File,
			Destination:    cfg.Bucket + "/" + cfg.Object,
			ShardSize:      specs[0].Length,
		})
		reporter.Start()
		defer reporter.Stop()
		opts = append(opts, sharded.WithProgress(reporter))
	}

	start := time.Now()
	obj, err := sharded.UploadFile(ctx, sharded.NewBucket(bkt), composer, deleter, cfg.File, cfg.Object, opts...)
	switch {
	case err == nil:
	case sharded.IsCleanupError(err):
		log.WithError(err).Error("upload succeeded but shard objects were left behind; run 'stitch cleanup'")
		return ExitCleanupFailed
	case ctx.Err() != nil:
		log.WithError(err).Error("upload interrupted")
		return ExitGeneralError
	default:
		log.WithError(err).WithField("code", sharded.Code(err)).Error("upload failed")
		if errors.Is(err, os.ErrNotExist) {
			return ExitSourceNotAccess
		}
		return ExitStorageError
	}

	log.WithFields(logrus.Fields{
		"object":   obj.Name,
		"size":     progress.FormatBytes(obj.Size),
		"duration": time.Since(start).Round(time.Millisecond),
	}).Info("upload complete")
	return ExitSuccess
}
