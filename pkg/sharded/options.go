package sharded

import (
	"io"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ligustah/stitch/pkg/sharded"

// Defaults used by UploadFile.
const (
	DefaultMaxStreams   = 32
	DefaultMinShardSize = 64 * 1024 * 1024
	DefaultBufferSize   = 8 * 1024 * 1024
)

// Options configures the coordinator and UploadFile.
type Options struct {
	MaxStreams            int   // Upper bound on the number of shards
	MinShardSize          int64 // Files are not split below this shard size
	BufferSize            int   // Size of each read/write chunk
	Workers               int   // Concurrent shard uploads (default: one per shard)
	KeepShards            bool  // Skip deleting shard objects after the upload
	IgnoreCleanupFailures bool  // Don't report cleanup failures after a successful upload
	Checksum              bool  // Validate shard checksums against the store (default: true)
	ContentType           string
	Metadata              map[string]string
	Progress              Progress
	Logger                logrus.FieldLogger
	Tracer                trace.Tracer
	Meter                 metric.Meter
}

// Option is a functional option for configuring sharded operations.
type Option func(*Options)

// WithMaxStreams sets the maximum number of shards a file is split into.
func WithMaxStreams(n int) Option {
	return func(o *Options) {
		o.MaxStreams = n
	}
}

// WithMinShardSize sets the smallest shard size worth uploading separately.
// Files smaller than twice this size are uploaded as a single shard.
func WithMinShardSize(size int64) Option {
	return func(o *Options) {
		o.MinShardSize = size
	}
}

// WithBufferSize sets the size of the buffer used to copy file data into a
// shard.
func WithBufferSize(size int) Option {
	return func(o *Options) {
		o.BufferSize = size
	}
}

// WithWorkers limits how many shards upload at the same time.
// Zero means every shard uploads concurrently.
func WithWorkers(n int) Option {
	return func(o *Options) {
		o.Workers = n
	}
}

// WithKeepShards leaves the shard objects in place after the upload finishes.
// They can be removed later with DeleteShards.
func WithKeepShards(keep bool) Option {
	return func(o *Options) {
		o.KeepShards = keep
	}
}

// WithIgnoreCleanupFailures makes UploadFile succeed even if the shard
// objects could not be deleted after a successful compose.
func WithIgnoreCleanupFailures(ignore bool) Option {
	return func(o *Options) {
		o.IgnoreCleanupFailures = ignore
	}
}

// WithChecksum enables or disables checksum validation of shards. Each shard
// writer computes the MD5 and CRC32C of the bytes written and compares them
// with the checksums the store reports for the finished object; a mismatch
// fails the shard. Checksums the store does not report are not checked.
// Default is true.
func WithChecksum(verify bool) Option {
	return func(o *Options) {
		o.Checksum = verify
	}
}

// WithContentType sets the content type of the shard objects.
func WithContentType(contentType string) Option {
	return func(o *Options) {
		o.ContentType = contentType
	}
}

// WithMetadata sets metadata stored on every shard object.
func WithMetadata(metadata map[string]string) Option {
	return func(o *Options) {
		o.Metadata = metadata
	}
}

// WithProgress sets a receiver for shard progress events.
func WithProgress(p Progress) Option {
	return func(o *Options) {
		o.Progress = p
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Options) {
		o.Logger = log
	}
}

// WithTracer sets the OpenTelemetry tracer. Defaults to the global tracer
// provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Options) {
		o.Tracer = tracer
	}
}

// WithMeter sets the OpenTelemetry meter used for shard counters. Defaults to
// the global meter provider.
func WithMeter(meter metric.Meter) Option {
	return func(o *Options) {
		o.Meter = meter
	}
}

func applyOptions(options []Option) Options {
	opts := Options{
		MaxStreams:   DefaultMaxStreams,
		MinShardSize: DefaultMinShardSize,
		BufferSize:   DefaultBufferSize,
		Checksum:     true,
	}
	for _, opt := range options {
		opt(&opts)
	}

	if opts.MaxStreams <= 0 {
		opts.MaxStreams = DefaultMaxStreams
	}
	if opts.MinShardSize <= 0 {
		opts.MinShardSize = DefaultMinShardSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if opts.Logger == nil {
		opts.Logger = discardLogger()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(instrumentationName)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(instrumentationName)
	}
	return opts
}

func discardLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
