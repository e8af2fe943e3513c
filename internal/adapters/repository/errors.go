package repository

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel kinds for store errors.
var (
	ErrNotFound     = errors.New("record not found")
	ErrUnavailable  = errors.New("store unavailable")
	ErrClosed       = fmt.Errorf("%w: store closed", ErrUnavailable)
	ErrInvalidLimit = errors.New("invalid prune limit")
)

// Unavailable wraps err as ErrUnavailable, tagged with the failing op.
// nil stays nil and errors that already carry ErrUnavailable or ErrNotFound
// are returned as they are.
func Unavailable(op string, err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// CtxErr reports a cancelled or expired context as ErrUnavailable.
func CtxErr(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return Unavailable(op, err)
	}
	return nil
}

// ErrConflict reports an optimistic write that kept losing races until its
// retry budget ran out. It is a kind of ErrUnavailable.
var ErrConflict = fmt.Errorf("%w: write conflict retries exhausted", ErrUnavailable)
