// Package progress prints upload progress for the stitch CLI.
//
// A Reporter counts shards and bytes as a sharded upload runs (it implements
// sharded.Progress) and redraws a two-line status at a fixed interval:
//
//	[stitch] Uploading: ./disk.img -> gs://bucket/images/disk.img
//	[stitch] Total size: 2.5TiB | Shards: 32 x 80GiB | Workers: 32
//	[stitch] Progress: 45.2% | 1.131TiB / 2.5TiB | Speed: 1.2GiB/s | ETA: 18m 32s
//	[stitch] Shards: 14 completed | 0 failed | 18 in-progress | 0 pending
//
// Start prints the header, Stop prints a summary. ParseBytes and FormatBytes
// convert between byte counts and sizes like "64MiB".
package progress
