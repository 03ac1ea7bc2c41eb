package domain

import (
	"errors"
	"time"
)

// ArticleRecordType is the record type name articles are registered under.
const ArticleRecordType = "article"

type Article struct {
	id        string
	title     string
	content   string
	tags      []string
	tagTokens []string
	createdAt time.Time
	updatedAt time.Time
	userID    string
	deleted   bool
}

func NewArticle(id, title, content string, tags []string, createdAt time.Time, userID string) (*Article, error) {
	if id == "" {
		return nil, errors.New("article ID cannot be empty")
	}
	if title == "" {
		return nil, errors.New("article title cannot be empty")
	}

	return &Article{
		id:        id,
		title:     title,
		content:   content,
		tags:      tags,
		createdAt: createdAt,
		updatedAt: createdAt,
		userID:    userID,
	}, nil
}

func (a *Article) ID() string {
	return a.id
}

func (a *Article) Title() string {
	return a.title
}

func (a *Article) Content() string {
	return a.content
}

func (a *Article) Tags() []string {
	return a.tags
}

func (a *Article) CreatedAt() time.Time {
	return a.createdAt
}

func (a *Article) UpdatedAt() time.Time {
	return a.updatedAt
}

func (a *Article) UserID() string {
	return a.userID
}

// WithUpdatedAt sets the last-modified time, which defaults to CreatedAt.
func (a *Article) WithUpdatedAt(t time.Time) *Article {
	a.updatedAt = t
	return a
}

// WithTagTokens attaches tokenized tag readings used for matching.
func (a *Article) WithTagTokens(tokens []string) *Article {
	a.tagTokens = tokens
	return a
}

// MarkDeleted flags a soft-deleted article so it leaves the index.
func (a *Article) MarkDeleted() *Article {
	a.deleted = true
	return a
}

func (a *Article) HasTag(tag string) bool {
	if tag == "" {
		return false
	}

	for _, t := range a.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func (a *Article) SearchableID() string {
	return a.id
}

func (a *Article) LastModified() time.Time {
	return a.updatedAt
}

func (a *Article) ShouldBeSearchable() bool {
	return !a.deleted
}

func (a *Article) ToDocument() Document {
	tags := a.tags
	if tags == nil {
		tags = []string{}
	}
	fields := map[string]any{
		"title":      a.title,
		"content":    a.content,
		"tags":       tags,
		"user_id":    a.userID,
		"created_at": a.createdAt.UTC().Format(time.RFC3339Nano),
	}
	if len(a.tagTokens) > 0 {
		fields["tag_tokens"] = a.tagTokens
	}
	return Document{
		ID:        a.id,
		UpdatedAt: a.updatedAt,
		Fields:    fields,
	}
}

// ArticleMapping is the declared schema of the articles index.
func ArticleMapping() Mapping {
	return Mapping{Fields: []FieldMapping{
		{Name: "title", Type: FieldText, Searchable: true},
		{Name: "content", Type: FieldText, Searchable: true},
		{Name: "tags", Type: FieldKeyword, Searchable: true, Filterable: true},
		{Name: "tag_tokens", Type: FieldText, Searchable: true},
		{Name: "user_id", Type: FieldKeyword, Filterable: true},
		{Name: "created_at", Type: FieldDate, Sortable: true},
	}}
}

// NewArticleRecordType returns the registration for articles stored in index.
func NewArticleRecordType(index, connection string) RecordType {
	return RecordType{
		Name:       ArticleRecordType,
		Index:      index,
		Connection: connection,
		Mapping:    ArticleMapping(),
	}
}
