package database

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	ddl := `
-- leading comment
CREATE TABLE IF NOT EXISTS a (id TEXT);

CREATE TABLE IF NOT EXISTS b (
    id TEXT
);
-- trailing comment
`
	stmts := SplitStatements(ddl)
	require.Len(t, stmts, 2)
	require.Contains(t, stmts[0], "CREATE TABLE IF NOT EXISTS a")
	require.Contains(t, stmts[1], "CREATE TABLE IF NOT EXISTS b")
}

func TestSplitStatementsEmpty(t *testing.T) {
	require.Empty(t, SplitStatements(""))
	require.Empty(t, SplitStatements("-- only a comment\n"))
}

func TestSchemaStatementsAreIdempotent(t *testing.T) {
	for _, stmt := range SplitStatements(Schema) {
		require.Contains(t, stmt, "IF NOT EXISTS", "statement must be idempotent: %s", stmt)
	}
}

func TestBootstrapExecutesEachStatement(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	ddl := "CREATE TABLE IF NOT EXISTS a (id TEXT);\nCREATE TABLE IF NOT EXISTS b (id TEXT);"
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS a").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS b").WillReturnResult(sqlmock.NewResult(0, 0))

	p := NewFromDB(db, "postgres")
	require.NoError(t, p.Bootstrap(context.Background(), ddl))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLeaseReleaseRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"one"}).AddRow(1))

	p := NewFromDB(db, "postgres")
	h, err := p.Lease(context.Background())
	require.NoError(t, err)

	rows, err := h.Query(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.True(t, rows.Next())
	require.NoError(t, rows.Close())

	p.Release(h)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDBErrorMessageIsSanitized(t *testing.T) {
	err := wrapDB("query", context.DeadlineExceeded)
	var dbErr *DBError
	require.ErrorAs(t, err, &dbErr)
	require.Contains(t, dbErr.Message, "query failed")
}
