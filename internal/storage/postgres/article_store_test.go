package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scraperhose/internal/ingest"
)

const insertSQL = "INSERT INTO research.raw_articles (url,title,article_text,publish_date,top_image) " +
	"VALUES ($1,$2,$3,$4,$5) ON CONFLICT (url) DO NOTHING"

func newMockStore(t *testing.T) (*ArticleStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)
	return store, mock
}

var testArticles = []ingest.Article{
	{URL: "https://n.example/a", Title: "A", Content: "alpha", PublishDate: "2024-01-01T00:00:00Z"},
	{URL: "https://n.example/b", Title: "B", Content: "beta", PublishDate: "1970-01-01T00:00:00Z", TopImage: "https://img/b"},
}

func TestNewWithPoolValidatesNames(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(nil, "", "")
	require.ErrorContains(t, err, "pool is required")
	_, err = NewWithPool(mock, "research; DROP", "")
	require.ErrorContains(t, err, "invalid schema name")
	_, err = NewWithPool(mock, "", "raw-articles")
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewWithPool(mock, "", "")
	require.NoError(t, err)
	require.Equal(t, "research.raw_articles", store.qualified())
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "database.dsn")
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE SCHEMA IF NOT EXISTS research")).
		WillReturnResult(pgxmock.NewResult("CREATE SCHEMA", 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS research.raw_articles")).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE SCHEMA").WillReturnError(errors.New("permission denied"))

	err := store.EnsureSchema(context.Background())
	require.ErrorContains(t, err, "create schema")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadExistingKeys(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT url FROM research.raw_articles")).
		WillReturnRows(pgxmock.NewRows([]string{"url"}).
			AddRow("https://n.example/a").
			AddRow("https://n.example/b"))

	keys, err := store.LoadExistingKeys(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"https://n.example/a", "https://n.example/b"}, keys)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadExistingKeysQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT url").WillReturnError(errors.New("relation does not exist"))

	_, err := store.LoadExistingKeys(context.Background())
	require.ErrorContains(t, err, "query keys")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertSingleTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs("https://n.example/a", "A", "alpha", "2024-01-01T00:00:00Z", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs("https://n.example/b", "B", "beta", "1970-01-01T00:00:00Z", "https://img/b").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectCommit()

	inserted, err := store.BulkInsert(context.Background(), testArticles)
	require.NoError(t, err)
	require.Equal(t, int64(1), inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertRollsBackOnError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs("https://n.example/a", "A", "alpha", "2024-01-01T00:00:00Z", "").
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	_, err := store.BulkInsert(context.Background(), testArticles)
	require.ErrorContains(t, err, "insert article https://n.example/a")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertBeginAndCommitErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))
	_, err := store.BulkInsert(context.Background(), testArticles[:1])
	require.ErrorContains(t, err, "begin batch")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(insertSQL)).
		WithArgs("https://n.example/a", "A", "alpha", "2024-01-01T00:00:00Z", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
	_, err = store.BulkInsert(context.Background(), testArticles[:1])
	require.ErrorContains(t, err, "commit batch")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertEmptyBatch(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	inserted, err := store.BulkInsert(context.Background(), nil)
	require.NoError(t, err)
	require.Zero(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}
