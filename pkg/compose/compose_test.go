package compose

import (
	"context"
	"testing"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"

	"github.com/ligustah/stitch/pkg/sharded"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": KindAuto, "auto": KindAuto, "concat": KindConcat, "gcs": KindGCS, "s3": KindS3} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseKind("azure"); sharded.Code(err) != gcerrors.InvalidArgument {
		t.Errorf("ParseKind(azure) = %v, want InvalidArgument", err)
	}
}

func TestForBucketMem(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	composer, deleter, err := ForBucket(bucket, "mem://", "out.txt", KindAuto, WithContentType("text/plain"))
	if err != nil {
		t.Fatalf("ForBucket: %v", err)
	}
	if _, ok := composer.(*sharded.ConcatComposer); !ok {
		t.Fatalf("composer = %T, want *sharded.ConcatComposer", composer)
	}

	bucket.WriteAll(ctx, "a", []byte("foo"), nil)
	bucket.WriteAll(ctx, "b", []byte("bar"), nil)
	obj, err := composer.Compose(ctx, []sharded.ComposeSource{{Name: "a"}, {Name: "b"}})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if obj.Size != 6 {
		t.Errorf("size = %d, want 6", obj.Size)
	}
	attrs, err := bucket.Attributes(ctx, "out.txt")
	if err != nil {
		t.Fatalf("Attributes: %v", err)
	}
	if attrs.ContentType != "text/plain" {
		t.Errorf("content type = %q", attrs.ContentType)
	}

	deleter.Add(sharded.Object{Name: "a"})
	deleter.Add(sharded.Object{Name: "b"})
	if err := deleter.Delete(ctx); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := bucket.Exists(ctx, "a"); ok {
		t.Error("object a still exists")
	}
}

func TestForBucketWrongKind(t *testing.T) {
	ctx := context.Background()
	bucket, err := blob.OpenBucket(ctx, "mem://")
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	for _, kind := range []Kind{KindGCS, KindS3, "bogus"} {
		if _, _, err := ForBucket(bucket, "mem://", "out", kind); sharded.Code(err) != gcerrors.InvalidArgument {
			t.Errorf("ForBucket(%s) = %v, want InvalidArgument", kind, err)
		}
	}
}
