//go:build integration

package integration

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andreasstove999/order-fulfillment/internal/payment"
	"github.com/andreasstove999/order-fulfillment/internal/testutil"
)

func TestRedisLocker_MutualExclusion(t *testing.T) {
	locker := payment.NewRedisLocker(testutil.StartRedis(t), 5*time.Second)
	ctx := context.Background()

	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(ctx, "order-1")
			require.NoError(t, err)
			n := inside.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(20 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen.Load())

	// a held lock times out for a caller whose context ends first
	release, err := locker.Acquire(ctx, "order-2")
	require.NoError(t, err)
	defer release()
	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(short, "order-2")
	require.Error(t, err)
}
