package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"search-sync/domain"
	"search-sync/utils/breaker"
	"search-sync/utils/ratelimit"
)

type scheduled struct {
	env domain.Envelope
	at  time.Time
}

type deadLetter struct {
	queue  string
	env    domain.Envelope
	reason string
}

// mockRequeuer records what the dispatcher does with envelopes.
type mockRequeuer struct {
	mu         sync.Mutex
	published  []domain.Envelope
	scheduled  []scheduled
	dead       []deadLetter
	publishErr error
}

func (m *mockRequeuer) Publish(ctx context.Context, env domain.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, env)
	return nil
}

func (m *mockRequeuer) Schedule(ctx context.Context, env domain.Envelope, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheduled = append(m.scheduled, scheduled{env: env, at: at})
	return nil
}

func (m *mockRequeuer) DeadLetter(ctx context.Context, queue string, env domain.Envelope, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = append(m.dead, deadLetter{queue: queue, env: env, reason: reason})
	return nil
}

type mockThrottle struct {
	decision ratelimit.Decision
	err      error
	calls    int
}

func (m *mockThrottle) Allow(ctx context.Context, queue string) (ratelimit.Decision, error) {
	m.calls++
	return m.decision, m.err
}

func mustJob(t *testing.T, jt domain.JobType, payload any) domain.Job {
	t.Helper()
	job, err := domain.NewJob(jt, payload)
	require.NoError(t, err)
	return job
}

func indexJob(t *testing.T) domain.Job {
	return mustJob(t, domain.JobIndexDocument, domain.IndexDocumentPayload{RecordType: "widget", RecordID: "w1"})
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDispatcher(q *mockRequeuer, brk *breaker.ExceptionBreaker, th Throttle) *Dispatcher {
	return NewDispatcher(q, brk, th).WithClock(func() time.Time { return fixedNow })
}

func TestDispatcher_Dispatch_Success(t *testing.T) {
	q := &mockRequeuer{}
	d := newTestDispatcher(q, nil, nil)
	var got domain.Job
	d.Register(domain.JobIndexDocument, HandlerFunc(func(ctx context.Context, job domain.Job) error {
		got = job
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(30*time.Second), deadline, 5*time.Second)
		return nil
	}))

	job := indexJob(t)
	outcome, err := d.Dispatch(context.Background(), domain.Envelope{Job: &job})

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Equal(t, job.ID, got.ID)
	assert.Empty(t, q.published)
	assert.Empty(t, q.dead)
}

func TestDispatcher_Dispatch_ChainAdvances(t *testing.T) {
	q := &mockRequeuer{}
	d := newTestDispatcher(q, nil, nil)
	var ran []domain.JobType
	record := HandlerFunc(func(ctx context.Context, job domain.Job) error {
		ran = append(ran, job.Type)
		return nil
	})
	d.Register(domain.JobBulkIndex, record)
	d.Register(domain.JobFinalizeReindex, record)

	abort := mustJob(t, domain.JobAbortReindex, domain.AbortReindexPayload{LogicalIndex: "widgets"})
	chain := &domain.Chain{
		ID: "c1",
		Steps: []domain.Job{
			mustJob(t, domain.JobBulkIndex, domain.BulkIndexPayload{RecordType: "widget"}),
			mustJob(t, domain.JobFinalizeReindex, domain.FinalizeReindexPayload{LogicalIndex: "widgets"}),
		},
		OnFailure: &abort,
	}

	outcome, err := d.Dispatch(context.Background(), domain.Envelope{Chain: chain})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAdvanced, outcome)
	require.Len(t, q.published, 1)
	next := q.published[0]
	assert.Equal(t, 1, next.Chain.Position)
	assert.Equal(t, domain.QueueReindex, next.Queue())
	assert.Equal(t, 0, chain.Position, "input chain not mutated")

	outcome, err = d.Dispatch(context.Background(), next)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Len(t, q.published, 1)
	assert.Equal(t, []domain.JobType{domain.JobBulkIndex, domain.JobFinalizeReindex}, ran)
}

func TestDispatcher_Dispatch_RetriesWithBackoff(t *testing.T) {
	q := &mockRequeuer{}
	d := newTestDispatcher(q, nil, nil)
	calls := 0
	d.Register(domain.JobIndexDocument, HandlerFunc(func(ctx context.Context, job domain.Job) error {
		calls++
		return &domain.SearchEngineError{Op: "Upsert", Err: "503", Kind: domain.ErrorKindTransient}
	}))

	job := indexJob(t)
	env := domain.Envelope{Job: &job}
	wantDelays := []time.Duration{30 * time.Second, 60 * time.Second}

	for i, want := range wantDelays {
		outcome, err := d.Dispatch(context.Background(), env)
		require.NoError(t, err)
		assert.Equal(t, OutcomeRetrying, outcome)
		require.Len(t, q.scheduled, i+1)
		s := q.scheduled[i]
		assert.Equal(t, fixedNow.Add(want), s.at)
		assert.Equal(t, i+1, s.env.Job.Attempt)
		env = s.env
	}

	outcome, err := d.Dispatch(context.Background(), env)
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Equal(t, 3, calls)
	require.Len(t, q.dead, 1)
	assert.Equal(t, domain.QueueDocuments, q.dead[0].queue)
	assert.Contains(t, q.dead[0].reason, "503")
}

func TestDispatcher_Dispatch_PermanentFailureIsNotRetried(t *testing.T) {
	q := &mockRequeuer{}
	d := newTestDispatcher(q, nil, nil)
	d.Register(domain.JobIndexDocument, HandlerFunc(func(ctx context.Context, job domain.Job) error {
		return domain.Permanent(errors.New("bad payload"))
	}))

	job := indexJob(t)
	outcome, err := d.Dispatch(context.Background(), domain.Envelope{Job: &job})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Empty(t, q.scheduled)
	assert.Len(t, q.dead, 1)
}

func TestDispatcher_Dispatch_ChainFailureRunsOnFailure(t *testing.T) {
	q := &mockRequeuer{}
	d := newTestDispatcher(q, nil, nil)
	d.Register(domain.JobFinalizeReindex, HandlerFunc(func(ctx context.Context, job domain.Job) error {
		return domain.ErrCutoverUnverified
	}))

	abort := mustJob(t, domain.JobAbortReindex, domain.AbortReindexPayload{LogicalIndex: "widgets", TempIndex: "widgets_temp_1"})
	chain := &domain.Chain{
		ID:        "c1",
		Steps:     []domain.Job{mustJob(t, domain.JobFinalizeReindex, domain.FinalizeReindexPayload{LogicalIndex: "widgets"})},
		OnFailure: &abort,
	}

	outcome, err := d.Dispatch(context.Background(), domain.Envelope{Chain: chain})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	require.Len(t, q.dead, 1)
	assert.Equal(t, domain.QueueReindex, q.dead[0].queue)
	require.Len(t, q.published, 1)
	require.NotNil(t, q.published[0].Job)
	assert.Equal(t, abort.ID, q.published[0].Job.ID)
}

func TestDispatcher_Dispatch_ReindexInFlightIsRejected(t *testing.T) {
	q := &mockRequeuer{}
	d := newTestDispatcher(q, nil, nil)
	d.Register(domain.JobReindex, HandlerFunc(func(ctx context.Context, job domain.Job) error {
		return domain.ErrReindexInFlight
	}))

	job := mustJob(t, domain.JobReindex, domain.ReindexPayload{RecordType: "widget"})
	outcome, err := d.Dispatch(context.Background(), domain.Envelope{Job: &job})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Empty(t, q.dead)
	assert.Empty(t, q.scheduled)
}

func TestDispatcher_Dispatch_BreakerPausesQueue(t *testing.T) {
	q := &mockRequeuer{}
	clock := fixedNow
	brk := breaker.NewExceptionBreaker(10, time.Minute, time.Minute).WithClock(func() time.Time { return clock })
	d := newTestDispatcher(q, brk, nil)
	calls := 0
	d.Register(domain.JobIndexDocument, HandlerFunc(func(ctx context.Context, job domain.Job) error {
		calls++
		return errors.New("boom")
	}))

	for i := 0; i < 11; i++ {
		job := indexJob(t)
		_, err := d.Dispatch(context.Background(), domain.Envelope{Job: &job})
		require.NoError(t, err)
	}
	assert.Equal(t, 11, calls)

	paused, wait := d.Paused(domain.QueueDocuments)
	assert.True(t, paused)
	assert.Equal(t, time.Minute, wait)

	before := len(q.scheduled)
	job := indexJob(t)
	outcome, err := d.Dispatch(context.Background(), domain.Envelope{Job: &job})
	require.NoError(t, err)
	assert.Equal(t, OutcomeThrottled, outcome)
	assert.Equal(t, 11, calls, "handler not run while paused")
	require.Len(t, q.scheduled, before+1)
	assert.Equal(t, 0, q.scheduled[before].env.Job.Attempt, "release does not count as an attempt")

	paused, _ = d.Paused(domain.QueueBulk)
	assert.False(t, paused, "other queues unaffected")

	clock = clock.Add(time.Minute)
	paused, _ = d.Paused(domain.QueueDocuments)
	assert.False(t, paused)
}

func TestDispatcher_Dispatch_RateLimited(t *testing.T) {
	q := &mockRequeuer{}
	th := &mockThrottle{decision: ratelimit.Decision{RetryAfter: 20 * time.Second, Scope: "aggregate"}}
	d := newTestDispatcher(q, nil, th)
	calls := 0
	d.Register(domain.JobIndexDocument, HandlerFunc(func(ctx context.Context, job domain.Job) error {
		calls++
		return nil
	}))

	job := indexJob(t)
	outcome, err := d.Dispatch(context.Background(), domain.Envelope{Job: &job})
	require.NoError(t, err)
	assert.Equal(t, OutcomeThrottled, outcome)
	assert.Zero(t, calls)
	require.Len(t, q.scheduled, 1)
	assert.Equal(t, fixedNow.Add(20*time.Second), q.scheduled[0].at)
}

func TestDispatcher_Dispatch_RateLimiterDownFailsOpen(t *testing.T) {
	q := &mockRequeuer{}
	th := &mockThrottle{decision: ratelimit.Decision{Allowed: true}, err: errors.New("redis down")}
	d := newTestDispatcher(q, nil, th)
	calls := 0
	d.Register(domain.JobIndexDocument, HandlerFunc(func(ctx context.Context, job domain.Job) error {
		calls++
		return nil
	}))

	job := indexJob(t)
	outcome, err := d.Dispatch(context.Background(), domain.Envelope{Job: &job})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)
	assert.Equal(t, 1, calls)
}

func TestDispatcher_Dispatch_Undeliverable(t *testing.T) {
	q := &mockRequeuer{}
	d := newTestDispatcher(q, nil, nil)

	outcome, err := d.Dispatch(context.Background(), domain.Envelope{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUndeliverable, outcome)

	job := indexJob(t)
	outcome, err = d.Dispatch(context.Background(), domain.Envelope{Job: &job})
	require.NoError(t, err)
	assert.Equal(t, OutcomeUndeliverable, outcome)
	require.Len(t, q.dead, 2)
	assert.Contains(t, q.dead[1].reason, "no handler")
}

func TestDispatcher_Dispatch_PanicIsPermanent(t *testing.T) {
	q := &mockRequeuer{}
	d := newTestDispatcher(q, nil, nil)
	d.Register(domain.JobIndexDocument, HandlerFunc(func(ctx context.Context, job domain.Job) error {
		panic("nil map")
	}))

	job := indexJob(t)
	outcome, err := d.Dispatch(context.Background(), domain.Envelope{Job: &job})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
	assert.Empty(t, q.scheduled)
	require.Len(t, q.dead, 1)
	assert.Contains(t, q.dead[0].reason, "panicked")
}

func TestDispatcher_Dispatch_PublishFailureKeepsDelivery(t *testing.T) {
	q := &mockRequeuer{publishErr: errors.New("stream unavailable")}
	d := newTestDispatcher(q, nil, nil)
	d.Register(domain.JobBulkIndex, HandlerFunc(func(ctx context.Context, job domain.Job) error { return nil }))

	chain := &domain.Chain{ID: "c1", Steps: []domain.Job{
		mustJob(t, domain.JobBulkIndex, domain.BulkIndexPayload{}),
		mustJob(t, domain.JobFinalizeReindex, domain.FinalizeReindexPayload{}),
	}}
	_, err := d.Dispatch(context.Background(), domain.Envelope{Chain: chain})
	require.Error(t, err)
}
