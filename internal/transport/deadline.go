package transport

import (
	"context"
	"errors"
	"os"
	"time"
)

// aLongTimeAgo is a non-zero time in the past; setting it as a deadline
// aborts pending I/O immediately.
var aLongTimeAgo = time.Unix(1, 0)

// BindDeadline applies the earlier of ctx's deadline and now+timeout through set,
// and forces the deadline into the past if ctx is cancelled before release is
// called. A zero timeout means no per-operation bound.
func BindDeadline(ctx context.Context, timeout time.Duration, set func(time.Time) error) (release func(), err error) {
	var dl time.Time
	if timeout > 0 {
		dl = time.Now().Add(timeout)
	}
	if d, ok := ctx.Deadline(); ok && (dl.IsZero() || d.Before(dl)) {
		dl = d
	}
	if err := set(dl); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = set(aLongTimeAgo)
	})
	return func() { stop() }, nil
}

// ContextError prefers ctx's error over an I/O error caused by cancellation or
// by ctx's own deadline, which the socket may observe first.
func ContextError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
			return context.DeadlineExceeded
		}
	}
	return err
}
