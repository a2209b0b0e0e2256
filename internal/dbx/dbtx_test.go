package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(2)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS documents (id INTEGER PRIMARY KEY, fields TEXT);`)
	require.NoError(t, err)
	return db
}

func countDocuments(t *testing.T, db *sql.DB) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n))
	return n
}

func TestWithTxCommits(t *testing.T) {
	db := openTestDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO documents(fields) VALUES ('{"title":"a"}')`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO documents(fields) VALUES ('{"title":"b"}')`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 2, countDocuments(t, db))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO documents(fields) VALUES ('{}')`)
		require.NoError(t, e)
		return errors.New("unique index violated")
	})
	require.Error(t, err)
	require.Equal(t, 0, countDocuments(t, db), "error must discard the partial write")
}

func TestWithTxRollsBackOnPanic(t *testing.T) {
	db := openTestDB(t)

	defer func() {
		require.NotNil(t, recover(), "panic must propagate to the caller")
		require.Equal(t, 0, countDocuments(t, db))
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO documents(fields) VALUES ('{}')`)
		require.NoError(t, e)
		panic("handler blew up")
	})
}

func TestWithTxSurfacesBeginError(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Close())

	called := false
	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		called = true
		return nil
	})
	require.Error(t, err)
	require.False(t, called, "fn must not run without a transaction")
}
