package compose

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/stitch/pkg/sharded"
)

// MaxGCSComposeSources is the most sources a single GCS compose request
// accepts.
const MaxGCSComposeSources = 32

// gcsObjects is the part of a GCS bucket the composer needs.
type gcsObjects interface {
	compose(ctx context.Context, dest, contentType string, sources []sharded.ComposeSource) (*sharded.Object, error)
	delete(ctx context.Context, name string, generation int64) error
}

// GCS composes objects with the native GCS compose operation. Source sets
// larger than MaxGCSComposeSources are composed in several rounds through
// temporary objects, which are deleted afterwards.
type GCS struct {
	objects gcsObjects
	dest    string
	opts    Options
}

// NewGCS returns a Composer that writes dest in bucket.
func NewGCS(client *storage.Client, bucket, dest string, options ...Option) *GCS {
	return newGCS(gcsBucket{client.Bucket(bucket)}, dest, options...)
}

func newGCS(objects gcsObjects, dest string, options ...Option) *GCS {
	return &GCS{objects: objects, dest: dest, opts: applyOptions(options)}
}

// Compose implements sharded.Composer.
func (g *GCS) Compose(ctx context.Context, sources []sharded.ComposeSource) (*sharded.Object, error) {
	if len(sources) == 0 {
		return nil, sharded.Errorf(gcerrors.InvalidArgument, "compose %q: no sources", g.dest)
	}
	for _, src := range sources {
		if src.Range != nil {
			return nil, sharded.Errorf(gcerrors.InvalidArgument, "compose %q: GCS cannot compose a byte range of %q", g.dest, src.Name)
		}
	}

	log := g.opts.Logger.WithField("object", g.dest)
	tmpPrefix := fmt.Sprintf("%s.compose/%s/", g.dest, uuid.NewString())
	var temps []sharded.Object
	defer func() {
		if len(temps) == 0 {
			return
		}
		// The final object is already written, a leftover temp object only
		// costs storage.
		if err := g.deleteAll(context.WithoutCancel(ctx), temps); err != nil {
			log.WithError(err).Warn("failed to delete temporary compose objects")
		}
	}()

	round := 0
	for len(sources) > MaxGCSComposeSources {
		next := make([]sharded.ComposeSource, 0, (len(sources)+MaxGCSComposeSources-1)/MaxGCSComposeSources)
		for i, batch := range batches(sources, MaxGCSComposeSources) {
			name := fmt.Sprintf("%sround-%d-%06d", tmpPrefix, round, i)
			obj, err := g.objects.compose(ctx, name, g.opts.ContentType, batch)
			if err != nil {
				return nil, err
			}
			temps = append(temps, *obj)
			next = append(next, sharded.ComposeSource{Name: obj.Name, Generation: obj.Generation})
		}
		log.WithFields(logrus.Fields{
			"round":   round,
			"sources": len(sources),
			"objects": len(next),
		}).Debug("composed intermediate objects")
		sources = next
		round++
	}

	return g.objects.compose(ctx, g.dest, g.opts.ContentType, sources)
}

func (g *GCS) deleteAll(ctx context.Context, objects []sharded.Object) error {
	var errs error
	for _, obj := range objects {
		errs = multierr.Append(errs, g.objects.delete(ctx, obj.Name, obj.Generation))
	}
	return errs
}

// batches splits sources into consecutive groups of at most size.
func batches(sources []sharded.ComposeSource, size int) [][]sharded.ComposeSource {
	var out [][]sharded.ComposeSource
	for len(sources) > size {
		out = append(out, sources[:size])
		sources = sources[size:]
	}
	return append(out, sources)
}

// GCSDeleter deletes objects from a GCS bucket, each at the generation it was
// recorded with, so a newer object of the same name is left alone.
type GCSDeleter struct {
	objects gcsObjects

	mu   sync.Mutex
	objs []sharded.Object
}

// NewGCSDeleter returns a sharded.Deleter for objects in bucket.
func NewGCSDeleter(client *storage.Client, bucket string) *GCSDeleter {
	return &GCSDeleter{objects: gcsBucket{client.Bucket(bucket)}}
}

// Add implements sharded.Deleter.
func (d *GCSDeleter) Add(obj sharded.Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objs = append(d.objs, obj)
}

// Delete implements sharded.Deleter.
func (d *GCSDeleter) Delete(ctx context.Context) error {
	d.mu.Lock()
	objs := d.objs
	d.objs = nil
	d.mu.Unlock()

	var errs error
	for _, obj := range objs {
		errs = multierr.Append(errs, d.objects.delete(ctx, obj.Name, obj.Generation))
	}
	return errs
}

type gcsBucket struct {
	bucket *storage.BucketHandle
}

func (b gcsBucket) compose(ctx context.Context, dest, contentType string, sources []sharded.ComposeSource) (*sharded.Object, error) {
	srcs := make([]*storage.ObjectHandle, len(sources))
	for i, src := range sources {
		h := b.bucket.Object(src.Name)
		if src.Generation != 0 {
			h = h.Generation(src.Generation)
		}
		srcs[i] = h
	}

	c := b.bucket.Object(dest).ComposerFrom(srcs...)
	if contentType != "" {
		c.ContentType = contentType
	}
	attrs, err := c.Run(ctx)
	if err != nil {
		return nil, gcsError(err, "compose %d objects into %q", len(sources), dest)
	}
	return &sharded.Object{
		Name:       attrs.Name,
		Generation: attrs.Generation,
		ETag:       attrs.Etag,
		Size:       attrs.Size,
	}, nil
}

func (b gcsBucket) delete(ctx context.Context, name string, generation int64) error {
	h := b.bucket.Object(name)
	if generation != 0 {
		h = h.If(storage.Conditions{GenerationMatch: generation})
	}
	if err := h.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return gcsError(err, "delete %q", name)
	}
	return nil
}

func gcsError(err error, format string, args ...any) error {
	code := gcerrors.Unknown
	switch {
	case errors.Is(err, storage.ErrObjectNotExist), errors.Is(err, storage.ErrBucketNotExist):
		code = gcerrors.NotFound
	case errors.Is(err, context.Canceled):
		code = gcerrors.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = gcerrors.DeadlineExceeded
	}
	return &sharded.Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}
