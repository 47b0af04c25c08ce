package sharded

import (
	"context"
	"io"
)

// Object describes an object that exists in the store.
type Object struct {
	Name string `json:"name"`
	// Generation is the store's version token (GCS generation). Zero when
	// the store has no notion of generations.
	Generation int64  `json:"generation,omitempty"`
	ETag       string `json:"etag,omitempty"`
	Size       int64  `json:"size"`

	// Checksums reported by the store, nil when it reports none.
	MD5    []byte  `json:"md5,omitempty"`
	CRC32C *uint32 `json:"crc32c,omitempty"`
}

// ByteRange selects Length bytes of a source object starting at Offset.
type ByteRange struct {
	Offset int64
	Length int64
}

// ComposeSource is one input of a compose operation.
type ComposeSource struct {
	Name       string
	Generation int64
	ETag       string
	Range      *ByteRange // nil means the whole object
}

// SessionRequest describes the shard object a session should create.
type SessionRequest struct {
	Name        string
	ContentType string
	Metadata    map[string]string
}

// Opener starts upload sessions, one per shard.
type Opener interface {
	OpenSession(ctx context.Context, req SessionRequest) (Session, error)
}

// Session is an upload in progress. Close finalizes the object and returns
// its descriptor; Abort discards whatever was written and creates nothing.
// Exactly one of Close or Abort is called.
type Session interface {
	io.Writer
	Close() (*Object, error)
	Abort() error
}

// Composer merges an ordered list of objects into the final object.
type Composer interface {
	Compose(ctx context.Context, sources []ComposeSource) (*Object, error)
}

// ComposerFunc adapts a function to the Composer interface.
type ComposerFunc func(ctx context.Context, sources []ComposeSource) (*Object, error)

func (f ComposerFunc) Compose(ctx context.Context, sources []ComposeSource) (*Object, error) {
	return f(ctx, sources)
}

// Deleter records created objects and deletes them on request. Delete is
// best effort: it tries every recorded object and reports the combined
// failure.
type Deleter interface {
	Add(Object)
	Delete(ctx context.Context) error
}

// Progress receives shard lifecycle events from UploadFile.
type Progress interface {
	ShardStarted()
	BytesWritten(n int64)
	ShardCompleted()
	ShardFailed()
}
