package rate

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilBucketIsUnlimited(t *testing.T) {
	var b *Bucket
	require.NoError(t, b.Wait(context.Background(), 1<<30))
}

func TestBucketAdmitsBurstImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBucket(1000, clock)

	// A full second's worth passes without any clock movement.
	require.NoError(t, b.Wait(context.Background(), 1000))
}

func TestBucketPacesDebt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx := context.Background()
	b := NewBucket(1000, clock)

	require.NoError(t, b.Wait(ctx, 1000)) // drains the burst

	done := make(chan error, 1)
	go func() { done <- b.Wait(ctx, 500) }()

	clock.BlockUntilContext(ctx, 1)

	// Half the debt paid: still waiting.
	clock.Advance(250 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Wait returned before the debt was paid")
	case <-time.After(10 * time.Millisecond):
	}

	clock.Advance(250 * time.Millisecond)
	require.NoError(t, <-done)
}

func TestBucketCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := NewBucket(10, clock)

	require.NoError(t, b.Wait(context.Background(), 10))

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- b.Wait(ctx, 1000) }()

	clock.BlockUntilContext(context.Background(), 1)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}

// Effective throughput over a simulated window converges on the
// configured rate.
func TestBucketThroughput(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx := context.Background()
	b := NewBucket(1 << 20, clock) // 1 MiB/s

	const chunk = 256 * 1024

	var transferred int64

	start := clock.Now()

	for i := 0; i < 40; i++ {
		done := make(chan error, 1)
		go func() { done <- b.Wait(ctx, chunk) }()

		// Drive the fake clock forward until the wait completes.
		for {
			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(time.Millisecond):
				clock.Advance(50 * time.Millisecond)
				continue
			}

			break
		}

		transferred += chunk
	}

	elapsed := clock.Now().Sub(start).Seconds()
	require.Greater(t, elapsed, 0.0)

	rate := float64(transferred) / elapsed
	// One burst of slack is expected at the start of the window.
	assert.InDelta(t, float64(1<<20), rate, float64(1<<20)*0.25)
}

func TestLimiterUnsetOwnerPassesThrough(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiter(clock)

	require.NoError(t, l.Wait(context.Background(), "alice", Upload, 1<<30))
}

func TestLimiterDirectionsIndependent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx := context.Background()
	l := NewLimiter(clock)

	l.SetLimit("alice", Upload, 100)

	// Downloads remain unlimited.
	require.NoError(t, l.Wait(ctx, "alice", Download, 1<<30))

	// Uploads are capped: the second full-burst charge must block.
	require.NoError(t, l.Wait(ctx, "alice", Upload, 100))

	done := make(chan error, 1)
	go func() { done <- l.Wait(ctx, "alice", Upload, 100) }()

	clock.BlockUntilContext(ctx, 1)
	clock.Advance(time.Second)
	require.NoError(t, <-done)
}

func TestLimiterClearLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiter(clock)

	l.SetLimit("alice", Upload, 100)
	l.SetLimit("alice", Upload, 0)

	require.NoError(t, l.Wait(context.Background(), "alice", Upload, 1<<30))
}

func TestLimitedReaderPassthroughWhenUnlimited(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewLimiter(clock)

	src := bytes.NewReader(bytes.Repeat([]byte("x"), 1<<16))
	r := l.LimitedReader(context.Background(), "alice", Download, src)

	// No limit set: the reader is returned unwrapped.
	assert.Equal(t, io.Reader(src), r)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Len(t, data, 1<<16)
}

func TestLimitedReaderPacesReads(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx := context.Background()
	l := NewLimiter(clock)
	l.SetLimit("alice", Download, 64*1024)

	payload := bytes.Repeat([]byte("y"), 128*1024)
	r := l.LimitedReader(ctx, "alice", Download, bytes.NewReader(payload))

	start := clock.Now()

	done := make(chan struct{})

	var (
		data    []byte
		readErr error
	)

	go func() {
		data, readErr = io.ReadAll(r)
		close(done)
	}()

	// 128 KiB at 64 KiB/s with a 64 KiB burst needs one second of refill.
	for {
		select {
		case <-done:
		case <-time.After(time.Millisecond):
			clock.Advance(100 * time.Millisecond)
			continue
		}

		break
	}

	require.NoError(t, readErr)
	assert.Equal(t, payload, data)

	// The second 64 KiB had to be slept off at 64 KiB/s.
	assert.GreaterOrEqual(t, clock.Now().Sub(start), 900*time.Millisecond)
}
