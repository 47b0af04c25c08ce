// Package sharded uploads one object as several shard objects in parallel and
// composes them into the final object.
//
// The package is storage-agnostic: shards are written through an [Opener] and
// joined by a [Composer]. [Bucket] and [ConcatComposer] implement these on
// top of gocloud.dev/blob; package compose provides native GCS and S3
// composers.
//
// # Uploading a file
//
// [UploadFile] does the whole job: it plans the shards, uploads them
// concurrently, waits for the compose and deletes the shard objects.
//
// Options:
//   - [WithMaxStreams]: Upper bound on the number of shards (default 32)
//   - [WithMinShardSize]: Smallest shard worth uploading on its own (default 64 MiB)
//   - [WithWorkers]: Concurrent shard uploads (default: all at once)
//   - [WithKeepShards]: Leave the shard objects in place
//   - [WithProgress], [WithLogger], [WithTracer], [WithMeter]: Observability
//
// # Coordinator
//
// [Coordinator] is the building block underneath. Create every shard with
// [Coordinator.CreateShardWriter], call [Coordinator.Seal], then write and
// close the shards from any goroutine. When the last shard reports, the
// coordinator composes the shards if all of them succeeded; otherwise it keeps
// the first error. [Coordinator.Wait] returns that outcome to every caller.
//
// A shard that is abandoned must be aborted with [ShardWriter.Abort] so the
// coordinator does not wait for it forever. [ShardSource] does this on every
// failure path.
//
// Shard objects are never deleted implicitly: call
// [Coordinator.EagerCleanup] once the upload is finished.
//
// # Storage Layout
//
//	{bucket}/{dest}.shards/{upload-id}/shard-000000
//	{bucket}/{dest}.shards/{upload-id}/shard-000001
//	{bucket}/{dest}                                  (after compose)
//
// Shards left behind by interrupted uploads can be removed with
// [DeleteShards].
//
// See example_test.go for usage examples.
package sharded
