package compose

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/sirupsen/logrus"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/stitch/pkg/sharded"
)

// MaxS3Parts is the most parts a multipart upload may have.
const MaxS3Parts = 10000

// S3API is the part of the S3 client used by the S3 composer.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPartCopy(ctx context.Context, in *s3.UploadPartCopyInput, opts ...func(*s3.Options)) (*s3.UploadPartCopyOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3 composes objects server side by copying each source into one part of a
// multipart upload. S3 requires every part but the last to be at least 5 MiB.
type S3 struct {
	client S3API
	bucket string
	dest   string
	opts   Options
}

// NewS3 returns a Composer that writes dest in bucket.
func NewS3(client S3API, bucket, dest string, options ...Option) *S3 {
	return &S3{client: client, bucket: bucket, dest: dest, opts: applyOptions(options)}
}

// Compose implements sharded.Composer.
func (c *S3) Compose(ctx context.Context, sources []sharded.ComposeSource) (*sharded.Object, error) {
	if len(sources) == 0 {
		return nil, sharded.Errorf(gcerrors.InvalidArgument, "compose %q: no sources", c.dest)
	}
	if len(sources) > MaxS3Parts {
		return nil, sharded.Errorf(gcerrors.InvalidArgument, "compose %q: %d sources exceed the S3 limit of %d parts", c.dest, len(sources), MaxS3Parts)
	}

	in := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.dest),
	}
	if c.opts.ContentType != "" {
		in.ContentType = aws.String(c.opts.ContentType)
	}
	created, err := c.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		return nil, s3Error(err, "start multipart upload of %q", c.dest)
	}
	uploadID := created.UploadId

	log := c.opts.Logger.WithFields(logrus.Fields{
		"object":    c.dest,
		"upload_id": aws.ToString(uploadID),
	})

	parts := make([]s3types.CompletedPart, len(sources))
	for i, src := range sources {
		part := int32(i + 1)
		copyIn := &s3.UploadPartCopyInput{
			Bucket:     aws.String(c.bucket),
			Key:        aws.String(c.dest),
			UploadId:   uploadID,
			PartNumber: aws.Int32(part),
			CopySource: aws.String(c.bucket + "/" + url.PathEscape(src.Name)),
		}
		if src.Range != nil {
			copyIn.CopySourceRange = aws.String(fmt.Sprintf("bytes=%d-%d", src.Range.Offset, src.Range.Offset+src.Range.Length-1))
		}
		if src.ETag != "" {
			copyIn.CopySourceIfMatch = aws.String(src.ETag)
		}

		out, err := c.client.UploadPartCopy(ctx, copyIn)
		if err != nil {
			c.abort(ctx, uploadID, log)
			return nil, s3Error(err, "copy %q into part %d of %q", src.Name, part, c.dest)
		}
		var etag *string
		if out.CopyPartResult != nil {
			etag = out.CopyPartResult.ETag
		}
		parts[i] = s3types.CompletedPart{
			ETag:       etag,
			PartNumber: aws.Int32(part),
		}
	}

	if _, err := c.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(c.bucket),
		Key:             aws.String(c.dest),
		UploadId:        uploadID,
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	}); err != nil {
		c.abort(ctx, uploadID, log)
		return nil, s3Error(err, "complete multipart upload of %q", c.dest)
	}

	head, err := c.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(c.dest),
	})
	if err != nil {
		return nil, s3Error(err, "read attributes of %q", c.dest)
	}
	log.WithField("parts", len(parts)).Debug("completed multipart compose")
	return &sharded.Object{
		Name: c.dest,
		ETag: aws.ToString(head.ETag),
		Size: aws.ToInt64(head.ContentLength),
	}, nil
}

func (c *S3) abort(ctx context.Context, uploadID *string, log logrus.FieldLogger) {
	_, err := c.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(c.dest),
		UploadId: uploadID,
	})
	if err != nil {
		log.WithError(err).Warn("failed to abort multipart upload")
	}
}

func s3Error(err error, format string, args ...any) error {
	code := gcerrors.Unknown
	var notFound *s3types.NotFound
	var noKey *s3types.NoSuchKey
	var noUpload *s3types.NoSuchUpload
	switch {
	case errors.As(err, &notFound), errors.As(err, &noKey), errors.As(err, &noUpload):
		code = gcerrors.NotFound
	case errors.Is(err, context.Canceled):
		code = gcerrors.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = gcerrors.DeadlineExceeded
	}
	return &sharded.Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}
