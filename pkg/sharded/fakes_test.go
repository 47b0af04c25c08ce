package sharded

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"hash/crc32"
	"sync"

	"gocloud.dev/gcerrors"
)

// fakeStore is an in-memory Opener, Composer and Deleter that records calls.
type fakeStore struct {
	mu        sync.Mutex
	objects   map[string][]byte
	openErr   map[string]error // by object name
	closeErr  map[string]error
	corrupt   map[string]bool // stored data differs from the written data
	checksums bool            // sessions report MD5 and CRC32C
	aborted   []string
	opened    int
	composes  [][]ComposeSource
	composeFn func([]ComposeSource) (*Object, error)
	added     []Object
	deletes   int
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		objects:  make(map[string][]byte),
		openErr:  make(map[string]error),
		closeErr: make(map[string]error),
		corrupt:  make(map[string]bool),
	}
}

func (s *fakeStore) OpenSession(ctx context.Context, req SessionRequest) (Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openErr[req.Name]; err != nil {
		return nil, err
	}
	s.opened++
	return &fakeSession{store: s, name: req.Name}, nil
}

func (s *fakeStore) Compose(ctx context.Context, sources []ComposeSource) (*Object, error) {
	s.mu.Lock()
	s.composes = append(s.composes, sources)
	fn := s.composeFn
	s.mu.Unlock()
	if fn != nil {
		return fn(sources)
	}

	var buf bytes.Buffer
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range sources {
		data, ok := s.objects[src.Name]
		if !ok {
			return nil, Errorf(gcerrors.NotFound, "no object %q", src.Name)
		}
		buf.Write(data)
	}
	s.objects["final"] = buf.Bytes()
	return &Object{Name: "final", Size: int64(buf.Len())}, nil
}

func (s *fakeStore) Add(obj Object) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.added = append(s.added, obj)
}

func (s *fakeStore) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	for _, obj := range s.added {
		delete(s.objects, obj.Name)
	}
	return s.deleteErr
}

func (s *fakeStore) composeCalls() [][]ComposeSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.composes
}

func (s *fakeStore) has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[name]
	return ok
}

type fakeSession struct {
	store *fakeStore
	name  string
	buf   bytes.Buffer
}

func (f *fakeSession) Write(p []byte) (int, error) {
	return f.buf.Write(p)
}

func (f *fakeSession) Close() (*Object, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if err := f.store.closeErr[f.name]; err != nil {
		return nil, err
	}
	data := bytes.Clone(f.buf.Bytes())
	if f.store.corrupt[f.name] && len(data) > 0 {
		data[0] ^= 0xff
	}
	f.store.objects[f.name] = data

	obj := &Object{Name: f.name, Size: int64(len(data))}
	if f.store.checksums {
		sum := md5.Sum(data)
		crc := crc32.Checksum(data, castagnoli)
		obj.MD5, obj.CRC32C = sum[:], &crc
	}
	return obj, nil
}

func (f *fakeSession) Abort() error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.aborted = append(f.store.aborted, f.name)
	return nil
}

// failingSession fails every write.
type failingSession struct {
	fakeSession
}

func (f *failingSession) Write(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

type failingOpener struct {
	*fakeStore
}

func (o failingOpener) OpenSession(ctx context.Context, req SessionRequest) (Session, error) {
	return &failingSession{fakeSession{store: o.fakeStore, name: req.Name}}, nil
}

type countingProgress struct {
	mu        sync.Mutex
	started   int
	completed int
	failed    int
	bytes     int64
}

func (p *countingProgress) ShardStarted()        { p.mu.Lock(); p.started++; p.mu.Unlock() }
func (p *countingProgress) BytesWritten(n int64) { p.mu.Lock(); p.bytes += n; p.mu.Unlock() }
func (p *countingProgress) ShardCompleted()      { p.mu.Lock(); p.completed++; p.mu.Unlock() }
func (p *countingProgress) ShardFailed()         { p.mu.Lock(); p.failed++; p.mu.Unlock() }
