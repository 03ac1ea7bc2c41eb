package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"search-sync/domain"
	"search-sync/port"
)

const (
	EventRecordSaved   = "RecordSaved"
	EventRecordDeleted = "RecordDeleted"
	// Article events published by the article service.
	EventArticleCreated = "ArticleCreated"
	EventIndexArticle   = "IndexArticle"
	EventArticleDeleted = "ArticleDeleted"
)

// RecordEventPayload identifies the changed record.
type RecordEventPayload struct {
	RecordType string `json:"record_type"`
	RecordID   string `json:"record_id"`
}

// ArticleEventPayload is the payload of the article service's events.
type ArticleEventPayload struct {
	ArticleID string `json:"article_id"`
	UserID    string `json:"user_id"`
}

// RecordEventHandler enqueues an index or delete job for every change event.
// Jobs load the record fresh, so events carry only identity.
type RecordEventHandler struct {
	registry *domain.Registry
	queue    port.JobQueue
	logger   *slog.Logger
}

func NewRecordEventHandler(registry *domain.Registry, queue port.JobQueue, logger *slog.Logger) *RecordEventHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordEventHandler{registry: registry, queue: queue, logger: logger}
}

func (h *RecordEventHandler) HandleEvent(ctx context.Context, event Event) error {
	var (
		ref     RecordEventPayload
		deleted bool
	)

	switch event.EventType {
	case EventRecordSaved, EventRecordDeleted:
		if err := json.Unmarshal(event.Payload, &ref); err != nil {
			return h.malformed(event, err)
		}
		deleted = event.EventType == EventRecordDeleted
	case EventArticleCreated, EventIndexArticle, EventArticleDeleted:
		var p ArticleEventPayload
		if err := json.Unmarshal(event.Payload, &p); err != nil {
			return h.malformed(event, err)
		}
		ref = RecordEventPayload{RecordType: domain.ArticleRecordType, RecordID: p.ArticleID}
		deleted = event.EventType == EventArticleDeleted
	default:
		h.logger.Warn("unknown event type, skipping",
			"event_type", event.EventType,
			"event_id", event.EventID,
		)
		return nil
	}

	if ref.RecordID == "" {
		return h.malformed(event, fmt.Errorf("missing record id"))
	}
	rt, err := h.registry.Lookup(ref.RecordType)
	if err != nil {
		return domain.Permanent(err)
	}

	var job domain.Job
	if deleted {
		job, err = domain.NewJob(domain.JobDeleteDocument, domain.DeleteDocumentPayload{Index: rt.Index, DocumentID: ref.RecordID})
	} else {
		job, err = domain.NewJob(domain.JobIndexDocument, domain.IndexDocumentPayload{RecordType: rt.Name, RecordID: ref.RecordID})
	}
	if err != nil {
		return domain.Permanent(err)
	}
	if err := h.queue.Enqueue(ctx, job); err != nil {
		return err
	}

	h.logger.Debug("event enqueued",
		"event_type", event.EventType,
		"record_type", rt.Name,
		"record_id", ref.RecordID,
		"job_type", job.Type,
	)
	return nil
}

func (h *RecordEventHandler) malformed(event Event, err error) error {
	h.logger.Error("failed to unmarshal event payload",
		"event_type", event.EventType,
		"event_id", event.EventID,
		"error", err,
	)
	return domain.Permanent(fmt.Errorf("event %s: %w", event.EventID, err))
}
