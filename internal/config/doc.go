// Package config defines configuration structures for the stitch CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (STITCH_ prefix)
//   - YAML configuration file
//
// Flags override the environment, which overrides the file.
//
// # Example
//
//	file: ./disk.img
//	bucket: gs://my-bucket
//	object: images/disk.img
//	streams: 32
//	min_shard_size: 64MiB
//	buffer_size: 8MiB
//	workers: 8
//	compose: auto
//	progress: true
//	timeout: 2h
package config
