package driver

import (
	"context"
	"time"

	"search-sync/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxIface is the subset of *pgxpool.Pool the driver uses.
type PgxIface interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

const articleColumns = `
	a.id::text, a.title, a.content, COALESCE(a.user_id::text, ''),
	a.created_at, a.updated_at, a.deleted_at IS NOT NULL,
	COALESCE(
		array_agg(t.name ORDER BY t.name) FILTER (WHERE t.name IS NOT NULL),
		'{}'
	) AS tag_names`

const articleJoins = `
	FROM articles a
	LEFT JOIN article_tags at ON a.id = at.article_id
	LEFT JOIN tags t ON at.tag_id = t.id`

type DatabaseDriver struct {
	pool PgxIface
}

func NewDatabaseDriver(pool PgxIface) *DatabaseDriver {
	return &DatabaseDriver{
		pool: pool,
	}
}

// NewDatabaseDriverFromURL connects to dbURL and verifies the connection.
func NewDatabaseDriverFromURL(ctx context.Context, dbURL string) (*DatabaseDriver, error) {
	pool, err := initDatabasePool(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	return &DatabaseDriver{
		pool: pool,
	}, nil
}

func initDatabasePool(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	if dbURL == "" {
		return nil, &DriverError{
			Op:  "initDatabasePool",
			Err: "database URL is empty",
		}
	}

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, &DriverError{
			Op:  "initDatabasePool",
			Err: "failed to parse database URL: " + err.Error(),
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, &DriverError{
			Op:  "initDatabasePool",
			Err: "failed to create database pool: " + err.Error(),
		}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &DriverError{
			Op:  "initDatabasePool",
			Err: "failed to ping database: " + err.Error(),
		}
	}

	logger.FromContext(ctx).Info("Database connected successfully")
	return pool, nil
}

// Close closes the database connection pool
func (d *DatabaseDriver) Close() {
	if d.pool != nil {
		d.pool.Close()
	}
}

func (d *DatabaseDriver) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// FindArticle returns the article with id, or nil when it does not exist.
func (d *DatabaseDriver) FindArticle(ctx context.Context, id string) (*ArticleWithTags, error) {
	query := `SELECT` + articleColumns + articleJoins + `
		WHERE a.id::text = $1
		GROUP BY a.id`

	rows, err := d.pool.Query(ctx, query, id)
	if err != nil {
		return nil, err
	}
	articles, err := scanArticles(rows)
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return nil, nil
	}
	return articles[0], nil
}

// ArticlePageStarts returns the first (updated_at, id) key of every page of
// pageSize live articles last modified before cutoff, in key order.
func (d *DatabaseDriver) ArticlePageStarts(ctx context.Context, cutoff time.Time, pageSize int) ([]RowCursor, error) {
	if pageSize <= 0 {
		return nil, &DriverError{Op: "ArticlePageStarts", Err: "page size must be positive"}
	}

	query := `
		SELECT id, updated_at FROM (
			SELECT a.id::text AS id, a.updated_at,
				   row_number() OVER (ORDER BY a.updated_at, a.id::text) AS rn
			FROM articles a
			WHERE a.updated_at < $1 AND a.deleted_at IS NULL
		) numbered
		WHERE (rn - 1) % $2 = 0
		ORDER BY rn`

	rows, err := d.pool.Query(ctx, query, cutoff, pageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var starts []RowCursor
	for rows.Next() {
		var c RowCursor
		if err := rows.Scan(&c.ID, &c.UpdatedAt); err != nil {
			return nil, err
		}
		starts = append(starts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return starts, nil
}

// FetchArticlePage returns up to limit live articles last modified before
// cutoff whose key is at or after start.
func (d *DatabaseDriver) FetchArticlePage(ctx context.Context, cutoff time.Time, start RowCursor, limit int) ([]*ArticleWithTags, error) {
	query := `SELECT` + articleColumns + articleJoins + `
		WHERE a.updated_at < $1 AND a.deleted_at IS NULL
		  AND (a.updated_at, a.id::text) >= ($2, $3)
		GROUP BY a.id
		ORDER BY a.updated_at, a.id::text
		LIMIT $4`

	rows, err := d.pool.Query(ctx, query, cutoff, start.UpdatedAt, start.ID, limit)
	if err != nil {
		return nil, err
	}
	return scanArticles(rows)
}

func scanArticles(rows pgx.Rows) ([]*ArticleWithTags, error) {
	defer rows.Close()

	var articles []*ArticleWithTags
	for rows.Next() {
		var article ArticleWithTags
		var tagNames []string

		err := rows.Scan(
			&article.ID, &article.Title, &article.Content, &article.UserID,
			&article.CreatedAt, &article.UpdatedAt, &article.Deleted, &tagNames,
		)
		if err != nil {
			return nil, err
		}

		for _, tagName := range tagNames {
			if tagName != "" {
				article.Tags = append(article.Tags, TagModel{Name: tagName})
			}
		}
		articles = append(articles, &article)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return articles, nil
}
