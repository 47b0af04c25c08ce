package sharded

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gocloud.dev/gcerrors"
)

func TestCode(t *testing.T) {
	ctx := context.Background()
	bucket := openMemBucket(t)
	_, driverErr := bucket.ReadAll(ctx, "missing")

	tests := []struct {
		name string
		err  error
		want gcerrors.ErrorCode
	}{
		{"nil", nil, gcerrors.OK},
		{"sharded", Errorf(gcerrors.FailedPrecondition, "nope"), gcerrors.FailedPrecondition},
		{"wrapped sharded", fmt.Errorf("outer: %w", Errorf(gcerrors.Internal, "inner")), gcerrors.Internal},
		{"driver", driverErr, gcerrors.NotFound},
		{"context", context.Canceled, gcerrors.Canceled},
		{"plain", errors.New("boom"), gcerrors.Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("disk on fire")
	err := wrapErr(gcerrors.Internal, inner, "cannot read from file source %q", "a.bin")
	if !errors.Is(err, inner) {
		t.Error("errors.Is does not find the wrapped error")
	}
	if want := `sharded: cannot read from file source "a.bin": disk on fire`; err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}

	cleanup := &CleanupError{Err: err}
	if !IsCleanupError(fmt.Errorf("upload: %w", cleanup)) {
		t.Error("IsCleanupError does not see a wrapped CleanupError")
	}
	if Code(cleanup) != gcerrors.Internal {
		t.Errorf("Code(CleanupError) = %v, want Internal", Code(cleanup))
	}
}
