package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mohitkumar/mediaflow/model"
	"github.com/mohitkumar/mediaflow/persistence"
	"github.com/mohitkumar/mediaflow/util"
)

const entityAsset = "asset"

type assetStore struct {
	*DB
	encDec       util.EncoderDecoder[model.Asset]
	fieldsEncDec util.EncoderDecoder[map[string]any]
}

var _ persistence.AssetStore = new(assetStore)

func NewAssetStore(db *DB) *assetStore {
	return &assetStore{
		DB:           db,
		encDec:       util.NewJsonEncoderDecoder[model.Asset](),
		fieldsEncDec: util.NewJsonEncoderDecoder[map[string]any](),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const assetColumns = `asset_id, fields, locked, locked_at, locked_by, version, created_at, updated_at`

func (s *assetStore) scanAsset(row rowScanner) (*model.Asset, error) {
	var (
		asset     model.Asset
		fields    string
		locked    int
		lockedAt  sql.NullInt64
		lockedBy  sql.NullString
		createdAt int64
		updatedAt int64
	)
	if err := row.Scan(&asset.AssetId, &fields, &locked, &lockedAt, &lockedBy, &asset.Version, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	decoded, err := s.fieldsEncDec.DecodeString(fields)
	if err != nil {
		return nil, err
	}
	asset.Fields = *decoded
	if asset.Fields == nil {
		asset.Fields = make(map[string]any)
	}
	asset.Locked = locked == 1
	if lockedAt.Valid {
		asset.LockedAt = fromMicros(lockedAt.Int64)
	}
	asset.LockedBy = lockedBy.String
	asset.CreatedAt = fromMicros(createdAt)
	asset.UpdatedAt = fromMicros(updatedAt)
	return &asset, nil
}

func (s *assetStore) Get(ctx context.Context, assetId string) (*model.Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE asset_id = ?`, assetId)
	asset, err := s.scanAsset(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NotFoundError{Kind: persistence.KIND_ASSET, Name: assetId}
		}
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return asset, nil
}

// mutate loads the asset inside a write transaction, applies fn and stores the result with a
// history snapshot. A missing asset is passed to fn as an empty one when createIfMissing is set.
func (s *assetStore) mutate(ctx context.Context, assetId string, now time.Time, createIfMissing bool,
	fn func(asset *model.Asset) error) (*model.Asset, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE asset_id = ?`, assetId)
	asset, err := s.scanAsset(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !createIfMissing {
			return nil, persistence.NotFoundError{Kind: persistence.KIND_ASSET, Name: assetId}
		}
		asset = &model.Asset{AssetId: assetId, Fields: make(map[string]any), Version: -1, CreatedAt: now}
	case err != nil:
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if err := fn(asset); err != nil {
		return nil, err
	}
	asset.Version++
	asset.UpdatedAt = now

	fields, err := s.fieldsEncDec.Encode(asset.Fields)
	if err != nil {
		return nil, err
	}
	var (
		lockedAt any
		lockedBy any
		locked   int
	)
	if asset.Locked {
		locked = 1
		lockedAt = toMicros(asset.LockedAt)
		lockedBy = asset.LockedBy
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO assets (`+assetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset_id) DO UPDATE SET
			fields = excluded.fields,
			locked = excluded.locked,
			locked_at = excluded.locked_at,
			locked_by = excluded.locked_by,
			version = excluded.version,
			updated_at = excluded.updated_at`,
		assetId, string(fields), locked, lockedAt, lockedBy, asset.Version, toMicros(asset.CreatedAt), toMicros(now))
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	snapshot, err := s.encDec.Encode(*asset)
	if err != nil {
		return nil, err
	}
	if err := insertHistory(ctx, tx, entityAsset, assetId, asset.Version, snapshot, now); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	if err := tx.Commit(); err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	return s.encDec.Decode(snapshot)
}

func (s *assetStore) Put(ctx context.Context, assetId string, executionId string, fields map[string]any) (*model.Asset, error) {
	return s.mutate(ctx, assetId, time.Now().UTC(), true, func(asset *model.Asset) error {
		if asset.IsHeldByOther(executionId) {
			return persistence.LockUnavailableError{AssetId: assetId, LockedBy: asset.LockedBy}
		}
		for k, v := range fields {
			asset.Fields[k] = v
		}
		return nil
	})
}

func (s *assetStore) TryLock(ctx context.Context, assetId string, executionId string, now time.Time) (bool, error) {
	now = now.UTC()
	_, err := s.mutate(ctx, assetId, now, true, func(asset *model.Asset) error {
		if asset.Locked {
			return persistence.LockUnavailableError{AssetId: assetId, LockedBy: asset.LockedBy}
		}
		asset.Locked = true
		asset.LockedAt = now
		asset.LockedBy = executionId
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *assetStore) Unlock(ctx context.Context, assetId string, executionId string) (bool, error) {
	_, err := s.mutate(ctx, assetId, time.Now().UTC(), false, func(asset *model.Asset) error {
		if !asset.Locked || asset.LockedBy != executionId {
			return persistence.LockMismatchError{AssetId: assetId, ExecutionId: executionId, LockedBy: asset.LockedBy}
		}
		asset.Locked = false
		asset.LockedAt = time.Time{}
		asset.LockedBy = ""
		return nil
	})
	if err != nil {
		if persistence.IsNotFound(err) {
			return false, persistence.LockMismatchError{AssetId: assetId, ExecutionId: executionId}
		}
		return false, err
	}
	return true, nil
}

func (s *assetStore) ListLocked(ctx context.Context, lockedBefore time.Time) ([]*model.Asset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE locked = 1 AND locked_at < ? ORDER BY locked_at`,
		toMicros(lockedBefore))
	if err != nil {
		return nil, persistence.StorageLayerError{Message: err.Error()}
	}
	defer rows.Close()
	res := make([]*model.Asset, 0)
	for rows.Next() {
		asset, err := s.scanAsset(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, asset)
	}
	return res, rows.Err()
}

func (s *assetStore) History(ctx context.Context, assetId string) ([]*model.HistoryRecord, error) {
	return loadHistory(ctx, s.db, entityAsset, persistence.KIND_ASSET, assetId)
}
