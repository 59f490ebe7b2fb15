package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/mohitkumar/mediaflow/persistence/storetest"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	db, err := Open(filepath.Join(t.TempDir(), "mediaflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestSqliteStores(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Stores {
		db := openTestDB(t)
		return storetest.Stores{
			Definitions: NewDefinitionStore(db, 10),
			Executions:  NewExecutionStore(db, nil),
			Assets:      NewAssetStore(db),
		}
	})
}

func TestSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaflow.db")
	db, err := Open(path)
	require.NoError(t, err)
	_, err = db.db.ExecContext(context.Background(), "UPDATE schema_version SET version = 99")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = Open(path)
	require.True(t, errors.Is(err, ErrSchemaMismatch))
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mediaflow.db")
	db, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	_, err = NewAssetStore(db).Put(ctx, "a1", "e1", map[string]any{"Media": map[string]any{"Video": "v.mov"}})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer db.Close()
	asset, err := NewAssetStore(db).Get(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"Video": "v.mov"}, asset.Fields["Media"])
}
