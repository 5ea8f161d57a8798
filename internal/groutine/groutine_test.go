package groutine

import (
	"context"
	"runtime/pprof"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoNamesGoroutine(t *testing.T) {
	type result struct {
		name  string
		label string
		gid   uint64
	}
	done := make(chan result, 1)

	Go(nil, "worker-1", func(ctx context.Context) {
		label, _ := pprof.Label(ctx, "goroutine_name")
		done <- result{name: GetName(ctx), label: label, gid: GetGID()}
	})

	r := <-done
	assert.Equal(t, "worker-1", r.name)
	assert.Equal(t, "worker-1", r.label, "pprof label MUST carry the goroutine name")
	assert.NotZero(t, r.gid)
	assert.NotEqual(t, GetGID(), r.gid, "fn MUST run on a different goroutine")
}

func TestGoInheritsParentContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	Go(ctx, "waiter", func(ctx context.Context) {
		<-ctx.Done()
		done <- ctx.Err()
	})
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestGetNameWithoutName(t *testing.T) {
	assert.Equal(t, "", GetName(context.Background()))
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck // nil context is accepted
}

func TestGroupWait(t *testing.T) {
	var g Group
	var count atomic.Int32

	for i := 0; i < 5; i++ {
		g.Go(context.Background(), "counter", func(context.Context) {
			count.Add(1)
		})
	}
	g.Wait()

	assert.Equal(t, int32(5), count.Load(), "Wait MUST return after every goroutine finished")
}
