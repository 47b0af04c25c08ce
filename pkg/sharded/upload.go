package sharded

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/gcerrors"
	"golang.org/x/sync/errgroup"
)

// ShardSpec is the byte range of the source file uploaded as one shard.
type ShardSpec struct {
	Index  int
	Offset int64
	Length int64
}

// PlanShards splits size bytes into at most maxStreams shards of at least
// minShardSize bytes each (except the last one). Every shard but the last has
// the same length. A file smaller than twice minShardSize, including an
// empty one, yields a single shard.
func PlanShards(size int64, maxStreams int, minShardSize int64) []ShardSpec {
	if maxStreams <= 0 {
		maxStreams = DefaultMaxStreams
	}
	if minShardSize <= 0 {
		minShardSize = DefaultMinShardSize
	}
	if size <= 0 {
		return []ShardSpec{{Index: 0}}
	}

	n := max(1, min(int64(maxStreams), size/minShardSize))
	length := ceilDiv(size, n)
	n = ceilDiv(size, length)

	specs := make([]ShardSpec, n)
	for i := range specs {
		offset := int64(i) * length
		specs[i] = ShardSpec{
			Index:  i,
			Offset: offset,
			Length: min(length, size-offset),
		}
	}
	return specs
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}

// ShardPrefix returns the prefix under which the shard objects of one upload
// of dest are stored.
func ShardPrefix(dest, uploadID string) string {
	return dest + ".shards/" + uploadID + "/"
}

// ShardName returns the name of shard index under prefix.
func ShardName(prefix string, index int) string {
	return fmt.Sprintf("%sshard-%06d", prefix, index)
}

// UploadFile uploads the file at path as several shards in parallel and
// composes them into dest.
//
// Shard objects are deleted once the upload has finished, unless
// WithKeepShards is given. If the upload succeeded but the shards could not
// be deleted, UploadFile returns the composed object together with a
// *CleanupError (suppressed by WithIgnoreCleanupFailures). Upload failures
// are returned as is.
func UploadFile(ctx context.Context, opener Opener, composer Composer, deleter Deleter, path, dest string, options ...Option) (obj *Object, err error) {
	opts := applyOptions(options)

	info, err := os.Stat(path)
	if err != nil {
		return nil, wrapErr(gcerrors.NotFound, err, "cannot open upload file source %q", path)
	}
	size := info.Size()
	specs := PlanShards(size, opts.MaxStreams, opts.MinShardSize)
	prefix := ShardPrefix(dest, uuid.NewString())

	ctx, span := opts.Tracer.Start(ctx, "sharded.UploadFile", trace.WithAttributes(
		attribute.String("file", path),
		attribute.String("object", dest),
		attribute.Int64("size", size),
		attribute.Int("shards", len(specs)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "upload failed")
		}
		span.End()
	}()

	log := opts.Logger.WithFields(logrus.Fields{
		"file":   path,
		"object": dest,
		"prefix": prefix,
	})
	log.WithFields(logrus.Fields{
		"size":   size,
		"shards": len(specs),
	}).Debug("starting parallel upload")

	coord := New(ctx, opener, composer, deleter, options...)
	metrics := newInstruments(opts.Meter)

	// Every shard must exist before any of them can finish, otherwise the
	// coordinator could compose a prefix of the file.
	sources := make([]*ShardSource, 0, len(specs))
	for _, spec := range specs {
		w, err := coord.CreateShardWriter(ctx, SessionRequest{
			Name:        ShardName(prefix, spec.Index),
			ContentType: opts.ContentType,
			Metadata:    opts.Metadata,
		})
		if err != nil {
			break
		}
		src := NewShardSource(w, path, spec.Offset, spec.Length, opts.BufferSize)
		src.progress = opts.Progress
		src.metrics = metrics
		sources = append(sources, src)
	}
	coord.Seal()

	if len(sources) < len(specs) {
		for _, src := range sources {
			_ = src.Close()
		}
	} else {
		// A failing shard does not cancel the others.
		var g errgroup.Group
		if opts.Workers > 0 {
			g.SetLimit(opts.Workers)
		}
		for _, src := range sources {
			g.Go(func() error {
				return uploadShard(ctx, opts.Tracer, src)
			})
		}
		// Shard errors are collected by the coordinator.
		_ = g.Wait()
	}

	obj, err = coord.Wait(ctx)
	if err == nil && obj.Size != size {
		err = Errorf(gcerrors.Internal, "composed object %q has %d bytes, expected %d", obj.Name, obj.Size, size)
		obj = nil
	}

	if opts.KeepShards {
		log.Debug("keeping shard objects")
		return obj, err
	}

	cleanupErr := coord.EagerCleanup(context.WithoutCancel(ctx))
	if err != nil {
		if cleanupErr != nil {
			log.WithError(cleanupErr).Warn("failed to delete shard objects of failed upload")
		}
		return nil, err
	}
	if cleanupErr != nil && !opts.IgnoreCleanupFailures {
		return obj, &CleanupError{Err: cleanupErr}
	}
	log.WithField("size", obj.Size).Info("parallel upload complete")
	return obj, nil
}

func uploadShard(ctx context.Context, tracer trace.Tracer, src *ShardSource) error {
	ctx, span := tracer.Start(ctx, "sharded.UploadShard", trace.WithAttributes(
		attribute.Int("shard", src.writer.Index()),
		attribute.Int64("offset", src.offset),
		attribute.Int64("length", src.length),
	))
	defer span.End()

	err := src.Upload(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "shard upload failed")
	}
	return err
}

// IsCleanupError reports whether err only signals a failed shard cleanup
// after a successful upload.
func IsCleanupError(err error) bool {
	var ce *CleanupError
	return errors.As(err, &ce)
}
