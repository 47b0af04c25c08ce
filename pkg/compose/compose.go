// Package compose provides sharded.Composer implementations that use the
// native compose operations of cloud object stores.
//
// ForBucket picks the right one for a gocloud bucket:
//
//	gs://   GCS compose (GCS)
//	s3://   multipart upload with UploadPartCopy (S3)
//	other   streaming concatenation (sharded.ConcatComposer)
package compose

import (
	"fmt"
	"net/url"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/stitch/pkg/sharded"
)

// Kind selects a compose implementation.
type Kind string

const (
	KindAuto   Kind = "auto"
	KindConcat Kind = "concat"
	KindGCS    Kind = "gcs"
	KindS3     Kind = "s3"
)

// ParseKind parses a compose kind as used in configuration. An empty string
// is KindAuto.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case "":
		return KindAuto, nil
	case KindAuto, KindConcat, KindGCS, KindS3:
		return k, nil
	}
	return "", sharded.Errorf(gcerrors.InvalidArgument, "unknown compose kind %q (want auto, concat, gcs or s3)", s)
}

// ForBucket returns a composer writing dest and a deleter for shard objects,
// both for the bucket opened from bucketURL. With KindAuto the kind is chosen
// from the driver behind bucket.
func ForBucket(bucket *blob.Bucket, bucketURL, dest string, kind Kind, options ...Option) (sharded.Composer, sharded.Deleter, error) {
	u, err := url.Parse(bucketURL)
	if err != nil {
		return nil, nil, fmt.Errorf("compose: parse bucket URL: %w", err)
	}
	opts := applyOptions(options)

	var gcsClient *storage.Client
	var s3Client *s3.Client
	if kind == KindAuto || kind == "" {
		switch {
		case bucket.As(&gcsClient):
			kind = KindGCS
		case bucket.As(&s3Client):
			kind = KindS3
		default:
			kind = KindConcat
		}
	}
	opts.Logger.WithField("compose", kind).Debug("selected composer")

	switch kind {
	case KindGCS:
		if gcsClient == nil && !bucket.As(&gcsClient) {
			return nil, nil, sharded.Errorf(gcerrors.InvalidArgument, "compose: %s is not a GCS bucket", bucketURL)
		}
		return NewGCS(gcsClient, u.Host, dest, options...), NewGCSDeleter(gcsClient, u.Host), nil
	case KindS3:
		if s3Client == nil && !bucket.As(&s3Client) {
			return nil, nil, sharded.Errorf(gcerrors.InvalidArgument, "compose: %s is not an S3 bucket", bucketURL)
		}
		return NewS3(s3Client, u.Host, dest, options...), sharded.NewBucketDeleter(bucket), nil
	case KindConcat:
		var wopts *blob.WriterOptions
		if opts.ContentType != "" {
			wopts = &blob.WriterOptions{ContentType: opts.ContentType}
		}
		return sharded.NewConcatComposer(bucket, dest, wopts), sharded.NewBucketDeleter(bucket), nil
	}
	return nil, nil, sharded.Errorf(gcerrors.InvalidArgument, "unknown compose kind %q", kind)
}
