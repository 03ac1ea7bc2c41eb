package consumer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"search-sync/domain"
	"search-sync/driver"
	"search-sync/gateway"
)

// untouchedSource drops keep-alive touches.
type untouchedSource struct {
	*gateway.JobQueueGateway
}

func (untouchedSource) Touch(ctx context.Context, queue, consumer, messageID string) error {
	return nil
}

func newReindexQueue(t *testing.T) *gateway.JobQueueGateway {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	q := gateway.NewJobQueueGateway(driver.NewRedisStreamDriver(client), "search-sync")
	require.NoError(t, q.EnsureGroups(context.Background(), domain.QueueReindex))
	return q
}

func TestWorker_LongJobIsNotClaimedTwice(t *testing.T) {
	tests := []struct {
		name    string
		source  func(q *gateway.JobQueueGateway) DeliverySource
		wantRun int32
	}{
		{
			name:    "touched delivery stays with its worker",
			source:  func(q *gateway.JobQueueGateway) DeliverySource { return q },
			wantRun: 1,
		},
		{
			name:    "untouched delivery is taken over",
			source:  func(q *gateway.JobQueueGateway) DeliverySource { return untouchedSource{q} },
			wantRun: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newReindexQueue(t)
			ctx := context.Background()

			var runs atomic.Int32
			d := NewDispatcher(q, nil, nil)
			d.Register(domain.JobFinalizeReindex, HandlerFunc(func(ctx context.Context, job domain.Job) error {
				runs.Add(1)
				time.Sleep(500 * time.Millisecond)
				return nil
			}))

			cfg := DefaultConfig()
			cfg.BlockTimeout = -1
			cfg.ClaimIdleTime = 150 * time.Millisecond
			cfgA, cfgB := cfg, cfg
			cfgA.ConsumerName = "worker-a"
			cfgB.ConsumerName = "worker-b"
			source := tt.source(q)
			a := NewWorker(domain.QueueReindex, source, d, cfgA, nil)
			b := NewWorker(domain.QueueReindex, source, d, cfgB, nil)

			job, err := domain.NewJob(domain.JobFinalizeReindex, domain.FinalizeReindexPayload{LogicalIndex: "widgets", TempIndex: "widgets_temp_1"})
			require.NoError(t, err)
			require.NoError(t, q.Enqueue(ctx, job))

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := a.Poll(ctx)
				assert.NoError(t, err)
				assert.Equal(t, 1, n)
			}()

			time.Sleep(300 * time.Millisecond)
			_, err = b.Poll(ctx)
			require.NoError(t, err)
			wg.Wait()

			assert.Equal(t, tt.wantRun, runs.Load())

			n, err := b.Poll(ctx)
			require.NoError(t, err)
			assert.Zero(t, n, "the delivery was acknowledged")
		})
	}
}
