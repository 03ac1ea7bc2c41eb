package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobType names a unit of work.
type JobType string

const (
	JobIndexDocument   JobType = "index_document"
	JobDeleteDocument  JobType = "delete_document"
	JobBulkIndex       JobType = "bulk_index"
	JobReindex         JobType = "reindex"
	JobFinalizeReindex JobType = "finalize_reindex"
	JobAbortReindex    JobType = "abort_reindex"
)

// Queue names.
const (
	QueueDocuments = "documents"
	QueueBulk      = "bulk"
	QueueReindex   = "reindex"
)

// Policy is the retry and timeout schedule applied to a job type.
type Policy struct {
	Queue   string
	Tries   int
	Timeout time.Duration
	Backoff []time.Duration
}

// Delay returns the wait before the given retry (1-based).
func (p Policy) Delay(retry int) time.Duration {
	if len(p.Backoff) == 0 || retry < 1 {
		return 0
	}
	if retry > len(p.Backoff) {
		return p.Backoff[len(p.Backoff)-1]
	}
	return p.Backoff[retry-1]
}

var documentBackoff = []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}

var policies = map[JobType]Policy{
	JobIndexDocument:   {Queue: QueueDocuments, Tries: 3, Timeout: 30 * time.Second, Backoff: documentBackoff},
	JobDeleteDocument:  {Queue: QueueDocuments, Tries: 3, Timeout: 30 * time.Second, Backoff: documentBackoff},
	JobBulkIndex:       {Queue: QueueBulk, Tries: 3, Timeout: 10 * time.Minute, Backoff: documentBackoff},
	JobReindex:         {Queue: QueueReindex, Tries: 1, Timeout: 30 * time.Minute},
	JobFinalizeReindex: {Queue: QueueReindex, Tries: 1, Timeout: 5 * time.Minute},
	JobAbortReindex:    {Queue: QueueReindex, Tries: 1, Timeout: 5 * time.Minute},
}

// PolicyFor returns the policy of t. Unknown types get a single try on the documents queue.
func PolicyFor(t JobType) Policy {
	if p, ok := policies[t]; ok {
		return p
	}
	return Policy{Queue: QueueDocuments, Tries: 1, Timeout: 30 * time.Second}
}

// Job is a serializable unit of work.
type Job struct {
	ID         string          `json:"id"`
	Type       JobType         `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// NewJob marshals payload into a fresh job.
func NewJob(t JobType, payload any) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	return Job{
		ID:         uuid.NewString(),
		Type:       t,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the payload into v.
func (j Job) Decode(v any) error {
	if err := json.Unmarshal(j.Payload, v); err != nil {
		return Permanent(fmt.Errorf("decode %s payload: %w", j.Type, err))
	}
	return nil
}

// Chain is an ordered list of jobs run one at a time. OnFailure runs once
// if any step fails terminally; the remaining steps are dropped.
type Chain struct {
	ID        string `json:"id"`
	Steps     []Job  `json:"steps"`
	Position  int    `json:"position"`
	OnFailure *Job   `json:"on_failure,omitempty"`
}

// Current returns the step at Position.
func (c *Chain) Current() (Job, bool) {
	if c == nil || c.Position < 0 || c.Position >= len(c.Steps) {
		return Job{}, false
	}
	return c.Steps[c.Position], true
}

// Advance moves to the next step and reports whether one remains.
func (c *Chain) Advance() bool {
	c.Position++
	return c.Position < len(c.Steps)
}

// Envelope is what travels over a queue: a job or a chain positioned at its current step.
type Envelope struct {
	Job   *Job   `json:"job,omitempty"`
	Chain *Chain `json:"chain,omitempty"`
}

// Unit returns the job to execute now.
func (e Envelope) Unit() (Job, bool) {
	if e.Chain != nil {
		return e.Chain.Current()
	}
	if e.Job != nil {
		return *e.Job, true
	}
	return Job{}, false
}

// Queue is the queue the current unit belongs on.
func (e Envelope) Queue() string {
	j, ok := e.Unit()
	if !ok {
		return QueueDocuments
	}
	return PolicyFor(j.Type).Queue
}

// WithAttempt returns a copy whose current unit carries attempt.
func (e Envelope) WithAttempt(attempt int) Envelope {
	if e.Chain != nil {
		c := *e.Chain
		c.Steps = append([]Job(nil), e.Chain.Steps...)
		if c.Position >= 0 && c.Position < len(c.Steps) {
			c.Steps[c.Position].Attempt = attempt
		}
		return Envelope{Chain: &c}
	}
	if e.Job != nil {
		j := *e.Job
		j.Attempt = attempt
		return Envelope{Job: &j}
	}
	return e
}

// Payloads.

type IndexDocumentPayload struct {
	RecordType string `json:"record_type"`
	RecordID   string `json:"record_id"`
}

type DeleteDocumentPayload struct {
	Index      string `json:"index"`
	DocumentID string `json:"document_id"`
}

type BulkIndexPayload struct {
	RecordType  string    `json:"record_type"`
	TargetIndex string    `json:"target_index"`
	Cutoff      time.Time `json:"cutoff"`
	Page        PageRef   `json:"page"`
}

type ReindexPayload struct {
	RecordType string `json:"record_type"`
	Reason     string `json:"reason,omitempty"`
}

// FinalizeReindexPayload and AbortReindexPayload carry the epoch start so
// they only ever clear the epoch of their own rebuild.
type FinalizeReindexPayload struct {
	LogicalIndex   string    `json:"logical_index"`
	TempIndex      string    `json:"temp_index"`
	EpochKey       string    `json:"epoch_key"`
	EpochStartedAt time.Time `json:"epoch_started_at"`
	LockToken      string    `json:"lock_token,omitempty"`
}

type AbortReindexPayload struct {
	LogicalIndex   string    `json:"logical_index"`
	TempIndex      string    `json:"temp_index"`
	EpochStartedAt time.Time `json:"epoch_started_at"`
	// PreviousIndex served the logical name when the rebuild started.
	PreviousIndex string `json:"previous_index,omitempty"`
	LockToken     string `json:"lock_token,omitempty"`
}
