package sharded

import (
	"sync"

	"gocloud.dev/gcerrors"
)

// ShardWriter writes one shard. It is created by Coordinator.CreateShardWriter
// and reports its outcome to the coordinator exactly once, on Close or Abort.
type ShardWriter struct {
	coord   *Coordinator
	index   int
	name    string
	session Session
	hash    *shardHash // nil when checksums are disabled

	mu   sync.Mutex
	done bool
	obj  *Object
	err  error
}

// Index returns the shard index (0, 1, 2, ...).
func (w *ShardWriter) Index() int {
	return w.index
}

// Name returns the name of the shard object.
func (w *ShardWriter) Name() string {
	return w.name
}

// Write writes data to the shard.
func (w *ShardWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return 0, Errorf(gcerrors.FailedPrecondition, "write to closed shard %d", w.index)
	}
	n, err := w.session.Write(p)
	if w.hash != nil {
		w.hash.Write(p[:n])
	}
	return n, err
}

// Close finalizes the shard object, validates its checksums and reports the
// result to the coordinator. The same result is returned to the caller.
// Calling Close again returns the first result.
func (w *ShardWriter) Close() (*Object, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return w.obj, w.err
	}
	w.done = true

	obj, err := w.session.Close()
	if err == nil && obj == nil {
		err = Errorf(gcerrors.Internal, "shard %d: session closed without an object", w.index)
	}
	if err == nil && w.hash != nil {
		err = w.hash.verify(obj)
	}
	if err != nil {
		w.err = err
	} else {
		w.obj = obj
	}
	// obj is reported even on failure so a stored object gets cleaned up.
	w.coord.reportOutcome(w.index, obj, err)
	return w.obj, w.err
}

// Abort discards the shard without creating an object. cause is recorded on
// the coordinator (first error wins) and reported as this shard's outcome, so
// the upload can still finish. Abort after Close does nothing.
func (w *ShardWriter) Abort(cause error) {
	if cause == nil {
		cause = Errorf(gcerrors.Canceled, "shard %d aborted", w.index)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return
	}
	w.done = true
	w.err = cause

	w.coord.Fail(cause)
	if err := w.session.Abort(); err != nil {
		w.coord.log.WithError(err).WithField("shard", w.index).Debug("abort shard session")
	}
	w.coord.reportOutcome(w.index, nil, cause)
}
