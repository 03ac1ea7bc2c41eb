package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStreamDriver_ReadAck(t *testing.T) {
	_, client := newTestRedis(t)
	d := NewRedisStreamDriver(client)
	ctx := context.Background()
	stream := "search-sync:queue:documents"

	require.NoError(t, d.EnsureGroup(ctx, stream, "workers"))
	require.NoError(t, d.EnsureGroup(ctx, stream, "workers"), "existing group is not an error")

	id, err := d.Add(ctx, stream, map[string]any{"envelope": `{"job":{}}`})
	require.NoError(t, err)

	msgs, err := d.Read(ctx, stream, "workers", "w1", 10, -1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, `{"job":{}}`, msgs[0].Values["envelope"])

	msgs, err = d.Read(ctx, stream, "workers", "w1", 10, -1)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, d.Ack(ctx, stream, "workers", id))
	n, err := d.Len(ctx, stream)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisStreamDriver_ClaimIdle(t *testing.T) {
	_, client := newTestRedis(t)
	d := NewRedisStreamDriver(client)
	ctx := context.Background()
	stream := "search-sync:queue:bulk"

	require.NoError(t, d.EnsureGroup(ctx, stream, "workers"))
	id, err := d.Add(ctx, stream, map[string]any{"envelope": "x"})
	require.NoError(t, err)

	_, err = d.Read(ctx, stream, "workers", "crashed", 1, -1)
	require.NoError(t, err)

	claimed, err := d.ClaimIdle(ctx, stream, "workers", "w2", 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)

	require.NoError(t, d.Ack(ctx, stream, "workers", id))
	claimed, err = d.ClaimIdle(ctx, stream, "workers", "w2", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)
}

func TestRedisStreamDriver_ScheduleAndPopDue(t *testing.T) {
	mr, client := newTestRedis(t)
	d := NewRedisStreamDriver(client)
	ctx := context.Background()
	set := "search-sync:queue:delayed"
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, d.Schedule(ctx, set, "early", now.Add(-time.Second)))
	require.NoError(t, d.Schedule(ctx, set, "now", now))
	require.NoError(t, d.Schedule(ctx, set, "later", now.Add(30*time.Second)))

	due, err := d.PopDue(ctx, set, now, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "now"}, due)

	members, err := mr.ZMembers(set)
	require.NoError(t, err)
	assert.Equal(t, []string{"later"}, members)

	due, err = d.PopDue(ctx, set, now.Add(time.Minute), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"later"}, due)
}
