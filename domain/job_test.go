package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyFor(t *testing.T) {
	assert.Equal(t, 3, PolicyFor(JobIndexDocument).Tries)
	assert.Equal(t, 3, PolicyFor(JobBulkIndex).Tries)
	assert.Equal(t, 1, PolicyFor(JobReindex).Tries)
	assert.Equal(t, 1, PolicyFor(JobFinalizeReindex).Tries)
	assert.Equal(t, QueueBulk, PolicyFor(JobBulkIndex).Queue)
	assert.Equal(t, QueueReindex, PolicyFor(JobFinalizeReindex).Queue)
	assert.Equal(t, 1, PolicyFor(JobType("unknown")).Tries)
}

func TestPolicy_Delay(t *testing.T) {
	p := PolicyFor(JobIndexDocument)
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 30*time.Second, p.Delay(1))
	assert.Equal(t, 60*time.Second, p.Delay(2))
	assert.Equal(t, 120*time.Second, p.Delay(3))
	assert.Equal(t, 120*time.Second, p.Delay(7))
	assert.Equal(t, time.Duration(0), PolicyFor(JobReindex).Delay(1))
}

func TestJob_Decode(t *testing.T) {
	job, err := NewJob(JobIndexDocument, IndexDocumentPayload{RecordType: "article", RecordID: "7"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)

	var p IndexDocumentPayload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, "7", p.RecordID)

	job.Payload = []byte("{")
	err = job.Decode(&p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPermanent))
}

func TestChain_AdvanceAndEnvelope(t *testing.T) {
	bulk, _ := NewJob(JobBulkIndex, BulkIndexPayload{TargetIndex: "w_temp_1"})
	fin, _ := NewJob(JobFinalizeReindex, FinalizeReindexPayload{LogicalIndex: "w"})
	chain := &Chain{ID: "c", Steps: []Job{bulk, fin}}

	env := Envelope{Chain: chain}
	unit, ok := env.Unit()
	require.True(t, ok)
	assert.Equal(t, JobBulkIndex, unit.Type)
	assert.Equal(t, QueueBulk, env.Queue())

	retried := env.WithAttempt(2)
	unit, _ = retried.Unit()
	assert.Equal(t, 2, unit.Attempt)
	original, _ := env.Unit()
	assert.Equal(t, 0, original.Attempt, "WithAttempt must not mutate the original chain")

	assert.True(t, chain.Advance())
	assert.Equal(t, QueueReindex, env.Queue())
	assert.False(t, chain.Advance())
	_, ok = chain.Current()
	assert.False(t, ok)
}
