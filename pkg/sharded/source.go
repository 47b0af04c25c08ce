package sharded

import (
	"context"
	"errors"
	"io"
	"os"
	"runtime"
	"sync"

	"gocloud.dev/gcerrors"
)

// ShardSource copies a byte range of a local file into one shard.
//
// A source must either be uploaded or closed. A source that is dropped
// without either still fails the upload when it is garbage collected, but
// that may be arbitrarily late.
type ShardSource struct {
	writer  *ShardWriter
	path    string
	offset  int64
	length  int64
	bufSize int

	progress Progress
	metrics  *instruments

	mu        sync.Mutex
	started   bool
	remaining int64
}

// NewShardSource returns a source that uploads length bytes of the file at
// path, starting at offset, to w.
func NewShardSource(w *ShardWriter, path string, offset, length int64, bufSize int) *ShardSource {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	s := &ShardSource{
		writer:    w,
		path:      path,
		offset:    offset,
		length:    length,
		bufSize:   bufSize,
		remaining: length,
	}
	runtime.SetFinalizer(s, (*ShardSource).finalize)
	return s
}

// Writer returns the shard writer the source uploads to.
func (s *ShardSource) Writer() *ShardWriter {
	return s.writer
}

// Upload copies the file range into the shard and closes the shard writer.
// On failure the shard is aborted and the error is recorded on the
// coordinator. Upload may only be called once.
func (s *ShardSource) Upload(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return Errorf(gcerrors.FailedPrecondition, "shard %d: Upload called twice", s.writer.Index())
	}
	s.started = true
	s.mu.Unlock()
	runtime.SetFinalizer(s, nil)

	s.shardStarted()
	err := s.upload(ctx)
	s.shardDone(ctx, err)
	return err
}

func (s *ShardSource) upload(ctx context.Context) error {
	fail := func(err error) error {
		s.writer.Abort(err)
		return err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return fail(wrapErr(gcerrors.NotFound, err, "cannot open upload file source %q", s.path))
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fail(wrapErr(gcerrors.Internal, err, "cannot stat upload file source %q", s.path))
	}
	if info.Size() < s.offset+s.length {
		return fail(Errorf(gcerrors.Internal, "file changed size during upload? %q is %d bytes, shard %d needs %d",
			s.path, info.Size(), s.writer.Index(), s.offset+s.length))
	}
	if _, err := f.Seek(s.offset, io.SeekStart); err != nil {
		return fail(wrapErr(gcerrors.Internal, err, "file changed size during upload? cannot seek to %d in %q", s.offset, s.path))
	}

	buf := make([]byte, min(int64(s.bufSize), max(s.length, 1)))
	for s.remainingBytes() > 0 {
		if err := ctx.Err(); err != nil {
			code := gcerrors.Canceled
			if errors.Is(err, context.DeadlineExceeded) {
				code = gcerrors.DeadlineExceeded
			}
			return fail(wrapErr(code, err, "shard %d upload interrupted", s.writer.Index()))
		}

		chunk := buf[:min(int64(len(buf)), s.remainingBytes())]
		if _, err := io.ReadFull(f, chunk); err != nil {
			return fail(wrapErr(gcerrors.Internal, err, "cannot read from file source %q", s.path))
		}
		if _, err := s.writer.Write(chunk); err != nil {
			return fail(wrapErr(gcerrors.Internal, err,
				"writing to output stream failed, look into whole parallel upload status for more information"))
		}

		s.mu.Lock()
		s.remaining -= int64(len(chunk))
		s.mu.Unlock()
		s.bytesWritten(ctx, int64(len(chunk)))
	}

	_, err = s.writer.Close()
	return err
}

func (s *ShardSource) remainingBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Close releases a source whose Upload was never called. If bytes were still
// due, the shard is aborted and the upload fails with Canceled; an empty
// range is uploaded as an empty shard. Close after Upload does nothing.
func (s *ShardSource) Close() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	remaining := s.remaining
	s.mu.Unlock()
	runtime.SetFinalizer(s, nil)

	if remaining == 0 {
		_, err := s.writer.Close()
		return err
	}
	err := Errorf(gcerrors.Canceled, "shard %d destroyed before calling ShardSource.Upload", s.writer.Index())
	s.writer.Abort(err)
	return err
}

func (s *ShardSource) finalize() {
	_ = s.Close()
}

func (s *ShardSource) shardStarted() {
	if s.progress != nil {
		s.progress.ShardStarted()
	}
}

func (s *ShardSource) bytesWritten(ctx context.Context, n int64) {
	if s.progress != nil {
		s.progress.BytesWritten(n)
	}
	if s.metrics != nil {
		s.metrics.bytesWritten(ctx, n)
	}
}

func (s *ShardSource) shardDone(ctx context.Context, err error) {
	if s.progress != nil {
		if err != nil {
			s.progress.ShardFailed()
		} else {
			s.progress.ShardCompleted()
		}
	}
	if s.metrics != nil {
		s.metrics.shardDone(ctx, err)
	}
}
