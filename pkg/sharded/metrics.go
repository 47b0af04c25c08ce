package sharded

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// instruments are the counters recorded by UploadFile.
type instruments struct {
	shards metric.Int64Counter
	bytes  metric.Int64Counter
}

func newInstruments(meter metric.Meter) *instruments {
	shards, err := meter.Int64Counter("stitch.shards",
		metric.WithDescription("Shard uploads by outcome"),
		metric.WithUnit("{shard}"),
	)
	if err != nil {
		shards, _ = noop.Meter{}.Int64Counter("stitch.shards")
	}
	bytes, err := meter.Int64Counter("stitch.shard.bytes",
		metric.WithDescription("Bytes copied into shard objects"),
		metric.WithUnit("By"),
	)
	if err != nil {
		bytes, _ = noop.Meter{}.Int64Counter("stitch.shard.bytes")
	}
	return &instruments{shards: shards, bytes: bytes}
}

func (i *instruments) shardDone(ctx context.Context, err error) {
	outcome := "ok"
	if err != nil {
		outcome = Code(err).String()
	}
	i.shards.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (i *instruments) bytesWritten(ctx context.Context, n int64) {
	i.bytes.Add(ctx, n)
}
