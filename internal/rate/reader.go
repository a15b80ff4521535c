package rate

import (
	"context"
	"io"
)

// chargeWindow is how many bytes a limited reader passes through per
// bucket charge. Small enough that pacing stays smooth, large enough
// that the per-charge overhead is negligible.
const chargeWindow = 32 * 1024

// LimitedReader paces reads from r through the owner's bucket for the
// given direction. Each read is charged after the bytes are produced,
// so a short read is only charged for what it returned.
func (l *Limiter) LimitedReader(ctx context.Context, owner string, dir Direction, r io.Reader) io.Reader {
	if l.bucket(owner, dir) == nil {
		return r
	}

	return &limitedReader{ctx: ctx, limiter: l, owner: owner, dir: dir, r: r}
}

type limitedReader struct {
	ctx     context.Context
	limiter *Limiter
	owner   string
	dir     Direction
	r       io.Reader
}

// Close closes the wrapped reader if it is closeable, so a limited
// file stream releases its descriptor when the consumer finishes.
func (lr *limitedReader) Close() error {
	if c, ok := lr.r.(io.Closer); ok {
		return c.Close()
	}

	return nil
}

func (lr *limitedReader) Read(p []byte) (int, error) {
	if len(p) > chargeWindow {
		p = p[:chargeWindow]
	}

	n, err := lr.r.Read(p)
	if n > 0 {
		if werr := lr.limiter.Wait(lr.ctx, lr.owner, lr.dir, int64(n)); werr != nil {
			return n, werr
		}
	}

	return n, err
}
