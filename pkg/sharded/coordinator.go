package sharded

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/gcerrors"
)

// Coordinator tracks a set of shard uploads that together make up one
// object. When the last shard reports, it composes the shards into the final
// object if every shard succeeded, or keeps the first error otherwise.
//
// Shard writers are created with CreateShardWriter and report to the
// coordinator when they are closed or aborted. The coordinator finalizes
// once it is sealed and no shard is outstanding, so shards may finish before
// the last one is created.
type Coordinator struct {
	ctx      context.Context
	opener   Opener
	composer Composer
	log      logrus.FieldLogger
	tracer   trace.Tracer
	checksum bool

	mu         sync.Mutex
	next       int  // next shard index
	unfinished int  // opened shards that have not reported yet
	sealed     bool // no more shards may be created
	closing    bool // the barrier reached zero, the outcome is being decided
	finished   bool
	done       chan struct{}
	firstErr   error
	result     *Object
	sources    []ComposeSource
	deleter    Deleter

	cleanupMu  sync.Mutex
	cleaned    bool
	cleanupErr error
}

// New creates a coordinator. The context bounds the compose call, which runs
// on the goroutine of whichever shard reports last. The deleter receives
// every successfully uploaded shard object and is only used by EagerCleanup.
func New(ctx context.Context, opener Opener, composer Composer, deleter Deleter, options ...Option) *Coordinator {
	opts := applyOptions(options)
	if deleter == nil {
		deleter = nopDeleter{}
	}
	return &Coordinator{
		ctx:      ctx,
		opener:   opener,
		composer: composer,
		deleter:  deleter,
		log:      opts.Logger,
		tracer:   opts.Tracer,
		checksum: opts.Checksum,
		done:     make(chan struct{}),
	}
}

// CreateShardWriter opens an upload session for the next shard and returns a
// writer bound to it. A session that fails to open is recorded as the
// upload's error (if it is the first) but is not counted as a shard.
func (c *Coordinator) CreateShardWriter(ctx context.Context, req SessionRequest) (*ShardWriter, error) {
	c.mu.Lock()
	if c.sealed || c.closing || c.finished {
		c.mu.Unlock()
		return nil, Errorf(gcerrors.FailedPrecondition, "cannot create shard %q: upload no longer accepts shards", req.Name)
	}
	c.mu.Unlock()

	session, err := c.opener.OpenSession(ctx, req)

	c.mu.Lock()
	if err != nil {
		c.log.WithError(err).WithField("object", req.Name).Debug("shard session failed to open")
		if c.firstErr == nil && !c.closing && !c.finished {
			c.firstErr = err
		}
		c.mu.Unlock()
		return nil, err
	}
	if c.sealed || c.closing || c.finished {
		c.mu.Unlock()
		// Sealed while the session was opening.
		if aerr := session.Abort(); aerr != nil {
			c.log.WithError(aerr).WithField("object", req.Name).Debug("abort late shard session")
		}
		return nil, Errorf(gcerrors.FailedPrecondition, "cannot create shard %q: upload no longer accepts shards", req.Name)
	}
	defer c.mu.Unlock()

	w := &ShardWriter{
		coord:   c,
		index:   c.next,
		name:    req.Name,
		session: session,
	}
	if c.checksum {
		w.hash = newShardHash()
	}
	c.next++
	c.unfinished++
	return w, nil
}

// Fail records err as the upload's error unless an error was already
// recorded. It does not count as a shard report. Failures arriving after the
// last shard reported are ignored.
func (c *Coordinator) Fail(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing || c.finished {
		c.log.WithError(err).Debug("ignoring failure reported after all shards finished")
		return
	}
	if c.firstErr == nil {
		c.firstErr = err
	}
}

// Seal declares that no more shards will be created. Until then the
// coordinator does not finish, even if every created shard has reported. If
// no shard is outstanding it finishes immediately, with the recorded error
// or, when no shard was ever created, a FailedPrecondition error.
func (c *Coordinator) Seal() {
	c.mu.Lock()
	if c.sealed || c.closing || c.finished {
		c.sealed = true
		c.mu.Unlock()
		return
	}
	c.sealed = true
	if c.unfinished > 0 {
		c.mu.Unlock()
		return
	}
	if c.firstErr == nil && c.next == 0 {
		c.firstErr = Errorf(gcerrors.FailedPrecondition, "no shards were created")
	}
	c.closing = true
	c.finishLocked()
}

// reportOutcome is called exactly once per shard writer.
func (c *Coordinator) reportOutcome(index int, obj *Object, err error) {
	c.mu.Lock()

	c.unfinished--
	log := c.log.WithField("shard", index)
	if err != nil {
		log.WithError(err).Debug("shard failed")
		if c.firstErr == nil {
			c.firstErr = err
		}
		// Set when the object was stored but failed validation.
		if obj != nil {
			c.deleter.Add(*obj)
		}
	} else {
		log.WithField("object", obj.Name).Debug("shard uploaded")
		for len(c.sources) <= index {
			c.sources = append(c.sources, ComposeSource{})
		}
		c.sources[index] = ComposeSource{
			Name:       obj.Name,
			Generation: obj.Generation,
			ETag:       obj.ETag,
		}
		c.deleter.Add(*obj)
	}

	if c.unfinished > 0 || !c.sealed {
		c.mu.Unlock()
		return
	}
	c.closing = true
	c.finishLocked()
}

// finishLocked composes the shards if no error was recorded, then wakes every
// waiter. It must be called with c.mu held and releases it.
func (c *Coordinator) finishLocked() {
	if c.firstErr == nil {
		sources := make([]ComposeSource, len(c.sources))
		copy(sources, c.sources)
		c.mu.Unlock()

		obj, err := c.compose(sources)

		c.mu.Lock()
		if err != nil {
			c.firstErr = err
		} else {
			c.result = obj
		}
	}

	c.finished = true
	close(c.done)
	if c.firstErr != nil {
		c.log.WithError(c.firstErr).Info("parallel upload failed")
	}
	c.mu.Unlock()
}

func (c *Coordinator) compose(sources []ComposeSource) (*Object, error) {
	ctx, span := c.tracer.Start(c.ctx, "sharded.Compose",
		trace.WithAttributes(attribute.Int("sources", len(sources))))
	defer span.End()

	obj, err := c.composer.Compose(ctx, sources)
	if err == nil && obj == nil {
		err = Errorf(gcerrors.Internal, "compose returned no object")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "compose failed")
		c.log.WithError(err).WithField("sources", len(sources)).Warn("compose failed")
		return nil, err
	}
	c.log.WithFields(logrus.Fields{
		"object":  obj.Name,
		"sources": len(sources),
	}).Info("composed shards")
	return obj, nil
}

// Done returns a channel that is closed once the upload has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the upload finishes and returns the composed object or
// the first error. Every caller gets the same outcome. If ctx is done first,
// Wait returns the context's error and the upload carries on.
func (c *Coordinator) Wait(ctx context.Context) (*Object, error) {
	select {
	case <-c.done:
		return c.outcome()
	default:
	}

	select {
	case <-c.done:
		return c.outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Coordinator) outcome() (*Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firstErr != nil {
		return nil, c.firstErr
	}
	obj := *c.result
	return &obj, nil
}

// EagerCleanup deletes the shard objects recorded so far. It fails with
// FailedPrecondition while shards are still in flight. The deletion runs at
// most once; later calls return the first call's result.
func (c *Coordinator) EagerCleanup(ctx context.Context) error {
	c.mu.Lock()
	finished := c.finished
	c.mu.Unlock()
	if !finished {
		return Errorf(gcerrors.FailedPrecondition, "attempted to clean up parallel upload state while it is still in progress")
	}

	// Only one goroutine interacts with the deleter.
	c.cleanupMu.Lock()
	defer c.cleanupMu.Unlock()
	if !c.cleaned {
		c.cleaned = true
		c.cleanupErr = c.deleter.Delete(ctx)
		if c.cleanupErr != nil {
			c.log.WithError(c.cleanupErr).Warn("shard cleanup failed")
		}
	}
	return c.cleanupErr
}

// Close seals the coordinator and blocks until every shard has reported. It
// returns the upload's error, if any.
func (c *Coordinator) Close() error {
	c.Seal()
	<-c.done
	_, err := c.outcome()
	return err
}

type nopDeleter struct{}

func (nopDeleter) Add(Object)                   {}
func (nopDeleter) Delete(context.Context) error { return nil }
