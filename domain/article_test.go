package domain

import (
	"testing"
	"time"
)

func TestArticle_NewArticle(t *testing.T) {
	tests := []struct {
		name      string
		id        string
		title     string
		content   string
		tags      []string
		createdAt time.Time
		userID    string
		wantErr   bool
	}{
		{
			name:      "valid article",
			id:        "article-1",
			title:     "Test Article",
			content:   "This is test content",
			tags:      []string{"tag1", "tag2"},
			createdAt: time.Now(),
			userID:    "user-123",
			wantErr:   false,
		},
		{
			name:      "valid article with empty userID",
			id:        "article-2",
			title:     "Test Article",
			content:   "This is test content",
			tags:      []string{"tag1"},
			createdAt: time.Now(),
			userID:    "",
			wantErr:   false,
		},
		{
			name:      "empty id should fail",
			id:        "",
			title:     "Test Article",
			content:   "This is test content",
			tags:      []string{"tag1"},
			createdAt: time.Now(),
			userID:    "user-123",
			wantErr:   true,
		},
		{
			name:      "empty title should fail",
			id:        "article-1",
			title:     "",
			content:   "This is test content",
			tags:      []string{"tag1"},
			createdAt: time.Now(),
			userID:    "user-123",
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			article, err := NewArticle(tt.id, tt.title, tt.content, tt.tags, tt.createdAt, tt.userID)

			if tt.wantErr {
				if err == nil {
					t.Errorf("NewArticle() error = %v, wantErr %v", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Errorf("NewArticle() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if article.ID() != tt.id {
				t.Errorf("Article.ID() = %v, want %v", article.ID(), tt.id)
			}
			if article.Title() != tt.title {
				t.Errorf("Article.Title() = %v, want %v", article.Title(), tt.title)
			}
			if article.Content() != tt.content {
				t.Errorf("Article.Content() = %v, want %v", article.Content(), tt.content)
			}
			if article.UserID() != tt.userID {
				t.Errorf("Article.UserID() = %v, want %v", article.UserID(), tt.userID)
			}
		})
	}
}

func TestArticle_HasTag(t *testing.T) {
	article, err := NewArticle("1", "Test", "Content", []string{"tag1", "tag2"}, time.Now(), "user-123")
	if err != nil {
		t.Fatalf("NewArticle() error = %v", err)
	}

	tests := []struct {
		name string
		tag  string
		want bool
	}{
		{"existing tag", "tag1", true},
		{"non-existing tag", "tag3", false},
		{"empty tag", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := article.HasTag(tt.tag); got != tt.want {
				t.Errorf("Article.HasTag() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestArticle_Searchable(t *testing.T) {
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	updated := created.Add(2 * time.Hour)

	article, err := NewArticle("a-1", "Title", "Body", []string{"go", "検索"}, created, "user-1")
	if err != nil {
		t.Fatalf("NewArticle() error = %v", err)
	}
	article.WithUpdatedAt(updated).WithTagTokens([]string{"検索"})

	var s Searchable = article
	if s.SearchableID() != "a-1" {
		t.Errorf("SearchableID() = %v, want a-1", s.SearchableID())
	}
	if !s.LastModified().Equal(updated) {
		t.Errorf("LastModified() = %v, want %v", s.LastModified(), updated)
	}
	if !s.ShouldBeSearchable() {
		t.Errorf("ShouldBeSearchable() = false for a live article")
	}

	doc := s.ToDocument()
	if doc.ID != "a-1" || doc.Fields["title"] != "Title" {
		t.Errorf("ToDocument() = %+v", doc)
	}
	if err := ArticleMapping().Validate(doc.Body()); err != nil {
		t.Errorf("article document does not satisfy its own mapping: %v", err)
	}

	article.MarkDeleted()
	if article.ShouldBeSearchable() {
		t.Errorf("ShouldBeSearchable() = true after MarkDeleted")
	}
}
