package sharded

import (
	"context"
	"io"
	"sync"

	"cloud.google.com/go/storage"
	"go.uber.org/multierr"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Bucket opens shard upload sessions on a gocloud bucket.
type Bucket struct {
	bucket *blob.Bucket
}

// NewBucket returns an Opener that writes shard objects to bucket.
func NewBucket(bucket *blob.Bucket) *Bucket {
	return &Bucket{bucket: bucket}
}

// OpenSession implements Opener.
func (b *Bucket) OpenSession(ctx context.Context, req SessionRequest) (Session, error) {
	// The writer context outlives OpenSession; cancelling it aborts the write.
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	w, err := b.bucket.NewWriter(wctx, req.Name, &blob.WriterOptions{
		ContentType: req.ContentType,
		Metadata:    req.Metadata,
	})
	if err != nil {
		cancel()
		return nil, wrapErr(gcerrors.Code(err), err, "open shard %q", req.Name)
	}
	return &bucketSession{
		bucket: b.bucket,
		name:   req.Name,
		w:      w,
		cancel: cancel,
	}, nil
}

type bucketSession struct {
	bucket *blob.Bucket
	name   string
	w      *blob.Writer
	cancel context.CancelFunc
}

func (s *bucketSession) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *bucketSession) Close() (*Object, error) {
	defer s.cancel()
	if err := s.w.Close(); err != nil {
		return nil, wrapErr(gcerrors.Code(err), err, "close shard %q", s.name)
	}
	return attributesOf(context.Background(), s.bucket, s.name)
}

func (s *bucketSession) Abort() error {
	s.cancel()
	// Must still close writer to release resources.
	_ = s.w.Close()

	// Some drivers may have committed partial data before the cancellation.
	err := s.bucket.Delete(context.Background(), s.name)
	if err != nil && !isNotExist(err) {
		return err
	}
	return nil
}

// attributesOf describes the object name as it exists in bucket.
func attributesOf(ctx context.Context, bucket *blob.Bucket, name string) (*Object, error) {
	attrs, err := bucket.Attributes(ctx, name)
	if err != nil {
		return nil, wrapErr(gcerrors.Code(err), err, "read attributes of %q", name)
	}
	obj := &Object{
		Name: name,
		ETag: attrs.ETag,
		Size: attrs.Size,
		MD5:  attrs.MD5,
	}
	var oa storage.ObjectAttrs
	if attrs.As(&oa) {
		obj.Generation = oa.Generation
		crc := oa.CRC32C
		obj.CRC32C = &crc
	}
	return obj, nil
}

// BucketDeleter deletes shard objects from a gocloud bucket. Objects that are
// already gone are not an error.
type BucketDeleter struct {
	bucket *blob.Bucket

	mu      sync.Mutex
	objects []Object
}

// NewBucketDeleter returns a Deleter for objects in bucket.
func NewBucketDeleter(bucket *blob.Bucket) *BucketDeleter {
	return &BucketDeleter{bucket: bucket}
}

// Add implements Deleter.
func (d *BucketDeleter) Add(obj Object) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.objects = append(d.objects, obj)
}

// Delete implements Deleter. Every recorded object is attempted; the failures
// are combined.
func (d *BucketDeleter) Delete(ctx context.Context) error {
	d.mu.Lock()
	objects := d.objects
	d.objects = nil
	d.mu.Unlock()

	var errs error
	for _, obj := range objects {
		if err := d.bucket.Delete(ctx, obj.Name); err != nil && !isNotExist(err) {
			errs = multierr.Append(errs, wrapErr(gcerrors.Code(err), err, "delete shard %q", obj.Name))
		}
	}
	return errs
}

// ConcatComposer composes by streaming every source, in order, into the
// destination object. It works with any bucket, at the cost of reading all
// the data back.
type ConcatComposer struct {
	bucket *blob.Bucket
	dest   string
	opts   *blob.WriterOptions
}

// NewConcatComposer returns a Composer that writes dest in bucket. opts may
// be nil.
func NewConcatComposer(bucket *blob.Bucket, dest string, opts *blob.WriterOptions) *ConcatComposer {
	return &ConcatComposer{bucket: bucket, dest: dest, opts: opts}
}

// Compose implements Composer.
func (c *ConcatComposer) Compose(ctx context.Context, sources []ComposeSource) (*Object, error) {
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := c.bucket.NewWriter(wctx, c.dest, c.opts)
	if err != nil {
		return nil, wrapErr(gcerrors.Code(err), err, "open %q for compose", c.dest)
	}
	for _, src := range sources {
		if err := c.copySource(ctx, w, src); err != nil {
			cancel()
			_ = w.Close()
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, wrapErr(gcerrors.Code(err), err, "close %q after compose", c.dest)
	}
	return attributesOf(ctx, c.bucket, c.dest)
}

func (c *ConcatComposer) copySource(ctx context.Context, w io.Writer, src ComposeSource) error {
	var offset, length int64 = 0, -1
	if src.Range != nil {
		offset, length = src.Range.Offset, src.Range.Length
	}
	r, err := c.bucket.NewRangeReader(ctx, src.Name, offset, length, nil)
	if err != nil {
		return wrapErr(gcerrors.Code(err), err, "read compose source %q", src.Name)
	}
	defer r.Close()
	if _, err := io.Copy(w, r); err != nil {
		return wrapErr(gcerrors.Internal, err, "copy compose source %q", src.Name)
	}
	return nil
}
