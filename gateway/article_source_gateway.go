package gateway

import (
	"context"
	"time"

	"search-sync/domain"
	"search-sync/driver"
	"search-sync/tokenize"

	"github.com/ikawaha/kagome/v2/tokenizer"
)

type ArticleDriver interface {
	FindArticle(ctx context.Context, id string) (*driver.ArticleWithTags, error)
	ArticlePageStarts(ctx context.Context, cutoff time.Time, pageSize int) ([]driver.RowCursor, error)
	FetchArticlePage(ctx context.Context, cutoff time.Time, start driver.RowCursor, limit int) ([]*driver.ArticleWithTags, error)
}

// ArticleSourceGateway reads articles from PostgreSQL. When a tokenizer is
// set, Japanese tags are segmented into tag_tokens.
type ArticleSourceGateway struct {
	driver    ArticleDriver
	tokenizer *tokenizer.Tokenizer
}

func NewArticleSourceGateway(driver ArticleDriver, tok *tokenizer.Tokenizer) *ArticleSourceGateway {
	return &ArticleSourceGateway{
		driver:    driver,
		tokenizer: tok,
	}
}

func (g *ArticleSourceGateway) Find(ctx context.Context, id string) (domain.Searchable, error) {
	row, err := g.driver.FindArticle(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, domain.ErrRecordNotFound
	}
	return g.convertToDomain(row)
}

func (g *ArticleSourceGateway) PageStarts(ctx context.Context, cutoff time.Time, pageSize int) ([]domain.Cursor, error) {
	rows, err := g.driver.ArticlePageStarts(ctx, cutoff, pageSize)
	if err != nil {
		return nil, err
	}

	starts := make([]domain.Cursor, len(rows))
	for i, r := range rows {
		starts[i] = domain.Cursor{UpdatedAt: r.UpdatedAt, ID: r.ID}
	}
	return starts, nil
}

func (g *ArticleSourceGateway) FetchPage(ctx context.Context, cutoff time.Time, start domain.Cursor, limit int) ([]domain.Searchable, error) {
	rows, err := g.driver.FetchArticlePage(ctx, cutoff, driver.RowCursor{UpdatedAt: start.UpdatedAt, ID: start.ID}, limit)
	if err != nil {
		return nil, err
	}

	records := make([]domain.Searchable, 0, len(rows))
	for _, row := range rows {
		article, err := g.convertToDomain(row)
		if err != nil {
			return nil, err
		}
		records = append(records, article)
	}
	return records, nil
}

func (g *ArticleSourceGateway) convertToDomain(row *driver.ArticleWithTags) (*domain.Article, error) {
	tags := make([]string, len(row.Tags))
	for i, tag := range row.Tags {
		tags[i] = tag.Name
	}

	article, err := domain.NewArticle(row.ID, row.Title, row.Content, tags, row.CreatedAt, row.UserID)
	if err != nil {
		return nil, &domain.RepositoryError{Op: "convertToDomain", Err: "id=" + row.ID + ": " + err.Error()}
	}

	if !row.UpdatedAt.IsZero() {
		article.WithUpdatedAt(row.UpdatedAt)
	}
	if row.Deleted {
		article.MarkDeleted()
	}
	if g.tokenizer != nil {
		article.WithTagTokens(tokenize.TagTokens(g.tokenizer, tags))
	}
	return article, nil
}
