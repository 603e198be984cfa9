package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubCommitsBucketsOnCommitOnly(t *testing.T) {
	ctx := context.Background()
	db, conn := NewStubDB()
	require.NoError(t, db.PingContext(ctx))

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO state(bucket,payload) VALUES($1,$2)", "sets", []byte(`[]`))
	require.NoError(t, err)
	assert.Empty(t, conn.Buckets)
	require.NoError(t, tx.Commit())
	assert.Equal(t, []byte(`[]`), conn.Buckets["sets"])

	tx, err = db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO state(bucket,payload) VALUES($1,$2)", "rei", []byte(`[1]`))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.NotContains(t, conn.Buckets, "rei")

	rows, err := db.QueryContext(ctx, "SELECT bucket, payload FROM state")
	require.NoError(t, err)
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var name string
		var payload []byte
		require.NoError(t, rows.Scan(&name, &payload))
		names = append(names, name)
	}
	assert.Equal(t, []string{"sets"}, names)
	assert.Len(t, conn.Statements(), 2)
}
